package reputation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow/chain"
	"disputeflow/errs"
	"disputeflow/event"
	"disputeflow/kv"
)

type recordingObserver struct {
	accounts []string
}

func (o *recordingObserver) Refresh(_ context.Context, _ kv.Tx, _ *event.Log, account string) error {
	o.accounts = append(o.accounts, account)
	return nil
}

func newTx(t *testing.T) (context.Context, kv.Tx) {
	t.Helper()
	ctx := context.Background()
	tx, err := kv.NewMemoryStore().Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { tx.Rollback(ctx) })
	return ctx, tx
}

func TestRegister(t *testing.T) {
	ctx, tx := newTx(t)
	s := NewStore(DefaultClassifier())
	log := event.NewLog(12)

	rec, err := s.Register(ctx, tx, log, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), rec.RegisteredAt)
	assert.Equal(t, []event.Topic{event.UserRegistered}, log.Topics())

	_, err = s.Register(ctx, tx, log, "alice")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.ErrorIs(t, err, errs.ErrAlreadyActed)
}

func TestHooksRequireRegistration(t *testing.T) {
	ctx, tx := newTx(t)
	s := NewStore(DefaultClassifier())
	log := event.NewLog(1)

	err := s.OnProjectCreated(ctx, tx, log, "ghost", 100)
	assert.ErrorIs(t, err, ErrUserNotRegistered)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, s.OnJuryVote(ctx, tx, log, "ghost", "p", true), ErrUserNotRegistered)
}

func TestProjectCompletedUpdatesStatsAndNotifies(t *testing.T) {
	ctx, tx := newTx(t)
	obs := &recordingObserver{}
	s := NewStore(DefaultClassifier())
	s.SetObserver(obs)

	_, err := s.Register(ctx, tx, event.NewLog(1), "bob")
	require.NoError(t, err)

	log := event.NewLog(50)
	require.NoError(t, s.OnProjectCompleted(ctx, tx, log, "bob", 400, 5000, "p1"))
	require.NoError(t, s.OnProjectCompleted(ctx, tx, log, "bob", 600, 3000, "p2"))
	assert.ErrorIs(t, s.OnProjectCompleted(ctx, tx, log, "bob", 1, 5001, "p3"), ErrInvalidRating)

	rec, err := s.Get(ctx, tx, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rec.ProjectsCompleted)
	assert.EqualValues(t, 1000, rec.TotalEarned)
	assert.Equal(t, uint32(4000), rec.AverageRating())
	assert.Equal(t, uint64(50), rec.LastActivity)
	assert.Equal(t, []string{"bob", "bob"}, obs.accounts)
}

func TestDisputeOutcomeMarksLoserFailed(t *testing.T) {
	ctx, tx := newTx(t)
	obs := &recordingObserver{}
	s := NewStore(DefaultClassifier())
	s.SetObserver(obs)
	log := event.NewLog(1)
	for _, who := range []string{"client", "freelancer"} {
		_, err := s.Register(ctx, tx, log, who)
		require.NoError(t, err)
	}

	require.NoError(t, s.OnDisputeOutcome(ctx, tx, log, "freelancer", "client", "p1", 100))

	winner, err := s.Get(ctx, tx, "freelancer")
	require.NoError(t, err)
	loser, err := s.Get(ctx, tx, "client")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), winner.DisputesWon)
	assert.Equal(t, uint32(0), winner.ProjectsFailed)
	assert.Equal(t, uint32(1), loser.DisputesLost)
	assert.Equal(t, uint32(1), loser.ProjectsFailed)
	assert.Equal(t, []string{"freelancer", "client"}, obs.accounts)
}

func TestJuryAccuracyRunningAverage(t *testing.T) {
	ctx, tx := newTx(t)
	s := NewStore(DefaultClassifier())
	log := event.NewLog(1)
	_, err := s.Register(ctx, tx, log, "juror")
	require.NoError(t, err)

	for _, majority := range []bool{true, true, false, true} {
		require.NoError(t, s.OnJuryVote(ctx, tx, log, "juror", "p1", majority))
	}
	rec, err := s.Get(ctx, tx, "juror")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), rec.JuryParticipation)
	// 666_666 after three votes, then truncated again
	assert.Equal(t, uint32(749_999), rec.JuryAccuracyPPM)
}

func TestClientHooks(t *testing.T) {
	ctx, tx := newTx(t)
	s := NewStore(DefaultClassifier())
	log := event.NewLog(1)
	_, err := s.Register(ctx, tx, log, "client")
	require.NoError(t, err)

	require.NoError(t, s.OnProjectCreated(ctx, tx, log, "client", 700))
	require.NoError(t, s.OnProjectCreated(ctx, tx, log, "client", 300))
	require.NoError(t, s.OnProjectCancelled(ctx, tx, log, "client"))
	require.NoError(t, s.OnWorkAccepted(ctx, tx, log, "client", "p2"))
	require.NoError(t, s.OnDisputeInitiated(ctx, tx, log, "client"))

	rec, err := s.Get(ctx, tx, "client")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rec.ProjectsPosted)
	assert.EqualValues(t, 1000, rec.TotalSpent)
	assert.Equal(t, uint32(1), rec.ProjectsFailed)
	assert.Equal(t, uint32(1), rec.ProjectsCompleted)
	assert.Equal(t, uint32(1), rec.DisputesInitiated)
}

func TestServiceRegisterAndProfile(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := NewService(store, NewStore(DefaultClassifier()), chain.NewManualClock(9))

	_, evs, err := svc.RegisterUser(ctx, "dora")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, event.UserRegistered, evs[0].Topic)

	p, err := svc.Get(ctx, "dora")
	require.NoError(t, err)
	assert.Equal(t, Ineligible, p.Tier)
	assert.Equal(t, uint64(9), p.RegisteredAt)

	_, err = svc.Get(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotRegistered)
}

func TestHooksRecordAttestations(t *testing.T) {
	ctx, tx := newTx(t)
	s := NewStore(DefaultClassifier())
	for _, who := range []string{"client", "freelancer", "juror", "other"} {
		_, err := s.Register(ctx, tx, event.NewLog(1), who)
		require.NoError(t, err)
	}

	require.NoError(t, s.OnProjectCompleted(ctx, tx, event.NewLog(10), "freelancer", 400, 4000, "p1"))
	require.NoError(t, s.OnJuryVote(ctx, tx, event.NewLog(20), "juror", "p2", false))
	require.NoError(t, s.OnJuryVote(ctx, tx, event.NewLog(21), "juror", "p3", true))
	require.NoError(t, s.OnDisputeOutcome(ctx, tx, event.NewLog(30), "freelancer", "client", "p2", 900))

	got, err := s.Attestations(ctx, tx, "freelancer")
	require.NoError(t, err)
	assert.Equal(t, []Attestation{
		{Account: "freelancer", Project: "p1", Attestor: ClientApproval, Outcome: Positive, Value: 400, Block: 10, Rating: 4000},
		{Account: "freelancer", Project: "p2", Attestor: ArbitrationWin, Outcome: Positive, Value: 900, Block: 30},
	}, got)

	got, err = s.Attestations(ctx, tx, "client")
	require.NoError(t, err)
	assert.Equal(t, []Attestation{
		{Account: "client", Project: "p2", Attestor: ArbitrationLoss, Outcome: Negative, Value: 900, Block: 30},
	}, got)

	got, err = s.Attestations(ctx, tx, "juror")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Attestation{Account: "juror", Project: "p2", Attestor: JuryParticipation, Outcome: Neutral, Block: 20}, got[0])
	assert.Equal(t, Positive, got[1].Outcome)

	got, err = s.Attestations(ctx, tx, "other")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLaterHookReplacesAttestation(t *testing.T) {
	ctx, tx := newTx(t)
	s := NewStore(DefaultClassifier())
	for _, who := range []string{"client", "freelancer"} {
		_, err := s.Register(ctx, tx, event.NewLog(1), who)
		require.NoError(t, err)
	}

	// a freelancer win completes the project before the outcome is recorded
	require.NoError(t, s.OnProjectCompleted(ctx, tx, event.NewLog(5), "freelancer", 100, 3000, "p1"))
	require.NoError(t, s.OnDisputeOutcome(ctx, tx, event.NewLog(5), "freelancer", "client", "p1", 100))

	got, err := s.Attestations(ctx, tx, "freelancer")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ArbitrationWin, got[0].Attestor)
}

func TestServiceAttestations(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	rep := NewStore(DefaultClassifier())
	svc := NewService(store, rep, chain.NewManualClock(3))

	_, _, err := svc.RegisterUser(ctx, "erin")
	require.NoError(t, err)
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, rep.OnProjectCompleted(ctx, tx, event.NewLog(4), "erin", 50, 5000, "p9"))
	require.NoError(t, tx.Commit(ctx))

	got, err := svc.Attestations(ctx, "erin")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p9", got[0].Project)
	assert.Equal(t, uint64(4), got[0].Block)

	_, err = svc.Attestations(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotRegistered)
}
