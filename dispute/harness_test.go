package dispute

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"disputeflow/bond"
	"disputeflow/chain"
	"disputeflow/event"
	"disputeflow/juror"
	"disputeflow/kv"
	"disputeflow/ledger"
	"disputeflow/observability"
	"disputeflow/policy"
	"disputeflow/project"
	"disputeflow/reputation"
)

var (
	alice  = policy.Caller{ID: "alice", Role: "member"}
	bob    = policy.Caller{ID: "bob", Role: "member"}
	oracle = policy.Caller{ID: "oracle-1", Role: "oracle"}
	anyone = policy.Caller{ID: "keeper", Role: "member"}
)

type harness struct {
	ctx      context.Context
	store    *kv.MemoryStore
	clock    *chain.ManualClock
	ledger   *ledger.Ledger
	rep      *reputation.Store
	reg      *juror.Registry
	projects *project.Service
	metrics  *sdkmetric.ManualReader
	svc      *Service
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Schedule = bond.Schedule{Floors: [bond.LastRound]ledger.Balance{100, 100, 100}}
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		ctx:     context.Background(),
		store:   kv.NewMemoryStore(),
		clock:   chain.NewManualClock(1),
		ledger:  ledger.New(),
		rep:     reputation.NewStore(reputation.DefaultClassifier()),
		metrics: sdkmetric.NewManualReader(),
	}
	h.reg = juror.NewRegistry(h.ledger, h.rep, juror.Config{
		Stake:         1_000,
		SlashRatioPct: 10,
		Caps:          juror.PoolCaps{Gold: 10, Silver: 10, Bronze: 10},
	})
	mgr := project.NewManager(h.ledger, h.rep)
	h.projects = project.NewService(h.store, mgr, h.clock, nil)

	eval, err := policy.NewEvaluator()
	require.NoError(t, err)
	rule, err := policy.NewRule(eval, policy.DefaultOracleRule)
	require.NoError(t, err)
	obs, err := observability.NewWithReader(h.metrics)
	require.NoError(t, err)

	h.svc = NewService(h.store, cfg, Deps{
		Ledger:     h.ledger,
		Reputation: h.rep,
		Registry:   h.reg,
		Projects:   mgr,
		Clock:      h.clock,
		Oracle:     rule,
		Obs:        obs,
	})
	return h
}

func (h *harness) tx(t *testing.T, fn func(tx kv.Tx, log *event.Log)) {
	t.Helper()
	tx, err := h.store.Begin(h.ctx)
	require.NoError(t, err)
	defer tx.Rollback(h.ctx)
	fn(tx, event.NewLog(h.clock.Now()))
	require.NoError(t, tx.Commit(h.ctx))
}

// user registers account and funds it.
func (h *harness) user(t *testing.T, account string, funds ledger.Balance) {
	t.Helper()
	h.tx(t, func(tx kv.Tx, log *event.Log) {
		_, err := h.rep.Register(h.ctx, tx, log, account)
		require.NoError(t, err)
		if funds > 0 {
			require.NoError(t, h.ledger.Mint(h.ctx, tx, account, funds))
		}
	})
}

// jurors registers n jurors of tier named prefix-1 .. prefix-n.
func (h *harness) jurors(t *testing.T, prefix string, tier reputation.Tier, n int) []string {
	t.Helper()
	completed := map[reputation.Tier]int{reputation.Bronze: 5, reputation.Silver: 20}[tier]
	var out []string
	for i := 1; i <= n; i++ {
		account := fmt.Sprintf("%s-%d", prefix, i)
		h.user(t, account, 10_000)
		h.tx(t, func(tx kv.Tx, log *event.Log) {
			for p := 0; p < completed; p++ {
				require.NoError(t, h.rep.OnProjectCompleted(h.ctx, tx, log, account, 1_000, 4000, "seed"))
			}
			require.NoError(t, h.reg.Register(h.ctx, tx, log, account))
		})
		out = append(out, account)
	}
	return out
}

// rejected creates a project between alice and bob with the given budget and
// drives it to a rejected submission.
func (h *harness) rejected(t *testing.T, budget ledger.Balance) string {
	t.Helper()
	p, _, err := h.projects.Create(h.ctx, alice, project.CreateRequest{Budget: budget, URI: "ipfs://req", Duration: 1_000})
	require.NoError(t, err)
	_, err = h.projects.Apply(h.ctx, bob, p.ID)
	require.NoError(t, err)
	_, err = h.projects.StartWork(h.ctx, alice, p.ID, bob.ID)
	require.NoError(t, err)
	_, err = h.projects.SubmitWork(h.ctx, bob, p.ID, project.SubmitRequest{ContentHash: "0x01", URI: "ipfs://work"})
	require.NoError(t, err)
	_, err = h.projects.RejectWork(h.ctx, alice, p.ID, "ipfs://why")
	require.NoError(t, err)
	return p.ID
}

func (h *harness) account(t *testing.T, who string) ledger.Account {
	t.Helper()
	var acct ledger.Account
	h.tx(t, func(tx kv.Tx, _ *event.Log) {
		var err error
		acct, err = h.ledger.Account(h.ctx, tx, who)
		require.NoError(t, err)
	})
	return acct
}

func (h *harness) issuance(t *testing.T) ledger.Balance {
	t.Helper()
	var total ledger.Balance
	h.tx(t, func(tx kv.Tx, _ *event.Log) {
		var err error
		total, err = h.ledger.Issuance(h.ctx, tx)
		require.NoError(t, err)
	})
	return total
}

func (h *harness) record(t *testing.T, who string) reputation.Record {
	t.Helper()
	var rec reputation.Record
	h.tx(t, func(tx kv.Tx, _ *event.Log) {
		var err error
		rec, err = h.rep.Get(h.ctx, tx, who)
		require.NoError(t, err)
	})
	return rec
}

// vote casts one ballot per juror.
func (h *harness) vote(t *testing.T, id string, ballots map[string]Vote) {
	t.Helper()
	for j, v := range ballots {
		_, err := h.svc.CastVote(h.ctx, policy.Caller{ID: j, Role: "member"}, id, v)
		require.NoError(t, err)
	}
}

func (h *harness) seated(t *testing.T, id string) []string {
	t.Helper()
	v, err := h.svc.Get(h.ctx, id)
	require.NoError(t, err)
	out := make([]string, 0, len(v.Jurors))
	for _, s := range v.Jurors {
		out = append(out, s.Account)
	}
	return out
}
