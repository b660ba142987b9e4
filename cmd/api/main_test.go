package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"disputeflow/auth"
	"disputeflow/config"
	"disputeflow/dispute"
	"disputeflow/juror"
	"disputeflow/ledger"
	"disputeflow/project"
	"disputeflow/reputation"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret-0123456789"
	cfg.HTTP.Burst = 1000
	cfg.HTTP.RatePerSecond = 1000
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("assemble app: %v", err)
	}
	t.Cleanup(func() { _ = a.close(context.Background()) })
	return a
}

// seedUser creates a user with any role and returns its id and a token.
func seedUser(t *testing.T, a *app, email string, role auth.Role) (string, string) {
	t.Helper()
	ctx := context.Background()
	user, err := a.server.authService.Register(ctx, auth.RegisterRequest{
		Email:    email,
		Password: "correct-horse",
		FullName: email,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	if _, _, err := a.server.reputationService.RegisterUser(ctx, user.ID); err != nil {
		t.Fatalf("reputation for %s: %v", email, err)
	}
	res, err := a.server.authService.Login(ctx, auth.LoginRequest{Email: email, Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return user.ID, res.Token
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func TestRegister_ForcesMemberRole(t *testing.T) {
	a := newTestApp(t)
	h := a.handler()

	rec := do(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":     "Mallory@Example.com",
		"password":  "long-enough",
		"full_name": "Mallory",
		"role":      "admin",
	})
	expect(t, rec, http.StatusCreated)

	var resp userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Role != auth.RoleMember {
		t.Fatalf("expected member role, got %q", resp.Role)
	}
	if resp.Email != "mallory@example.com" {
		t.Fatalf("expected normalized email, got %q", resp.Email)
	}

	profile, err := a.server.reputationService.Get(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("registered user has no reputation record: %v", err)
	}
	if profile.Account != resp.ID {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	a := newTestApp(t)
	h := a.handler()
	body := map[string]string{"email": "dup@example.com", "password": "long-enough", "full_name": "Dup"}

	expect(t, do(t, h, http.MethodPost, "/api/auth/register", "", body), http.StatusCreated)
	expect(t, do(t, h, http.MethodPost, "/api/auth/register", "", body), http.StatusConflict)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	a := newTestApp(t)
	seedUser(t, a, "carol@example.com", auth.RoleMember)

	rec := do(t, a.handler(), http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "carol@example.com",
		"password": "wrong-password",
	})
	expect(t, rec, http.StatusUnauthorized)
}

func TestAuthed_RejectsMissingAndBadTokens(t *testing.T) {
	a := newTestApp(t)
	h := a.handler()

	expect(t, do(t, h, http.MethodGet, "/api/me", "", nil), http.StatusUnauthorized)
	expect(t, do(t, h, http.MethodGet, "/api/me", "not-a-jwt", nil), http.StatusUnauthorized)
}

func TestHandleMe(t *testing.T) {
	a := newTestApp(t)
	id, token := seedUser(t, a, "dave@example.com", auth.RoleMember)

	rec := do(t, a.handler(), http.MethodGet, "/api/me", token, nil)
	expect(t, rec, http.StatusOK)

	var resp struct {
		User    userResponse   `json:"user"`
		Account ledger.Account `json:"account"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.User.ID != id || resp.Account != (ledger.Account{}) {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestMint_AdminOnly(t *testing.T) {
	a := newTestApp(t)
	h := a.handler()
	_, admin := seedUser(t, a, "root@example.com", auth.RoleAdmin)
	member, memberToken := seedUser(t, a, "erin@example.com", auth.RoleMember)

	expect(t, do(t, h, http.MethodPost, "/api/admin/mint", memberToken, mintRequest{Account: member, Amount: 5}), http.StatusForbidden)
	expect(t, do(t, h, http.MethodPost, "/api/admin/mint", admin, mintRequest{Account: member, Amount: 0}), http.StatusBadRequest)
	expect(t, do(t, h, http.MethodPost, "/api/admin/mint", admin, mintRequest{Amount: 5}), http.StatusBadRequest)

	rec := do(t, h, http.MethodPost, "/api/admin/mint", admin, mintRequest{Account: member, Amount: 5})
	expect(t, rec, http.StatusOK)

	rec = do(t, h, http.MethodGet, "/api/accounts/"+member, memberToken, nil)
	expect(t, rec, http.StatusOK)
	var acct ledger.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acct.Free != 5 {
		t.Fatalf("expected 5 free, got %+v", acct)
	}
}

func TestCreateUser_AdminProvisionsOracle(t *testing.T) {
	a := newTestApp(t)
	h := a.handler()
	_, admin := seedUser(t, a, "root@example.com", auth.RoleAdmin)
	_, member := seedUser(t, a, "frank@example.com", auth.RoleMember)

	body := map[string]string{"email": "oracle@example.com", "password": "long-enough", "full_name": "Oracle", "role": "oracle"}
	expect(t, do(t, h, http.MethodPost, "/api/admin/users", member, body), http.StatusForbidden)

	rec := do(t, h, http.MethodPost, "/api/admin/users", admin, body)
	expect(t, rec, http.StatusCreated)
	var resp userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Role != auth.RoleOracle {
		t.Fatalf("expected oracle, got %q", resp.Role)
	}
}

func TestDisputeFlowOverHTTP(t *testing.T) {
	a := newTestApp(t)
	h := a.handler()
	_, admin := seedUser(t, a, "root@example.com", auth.RoleAdmin)
	_, oracle := seedUser(t, a, "oracle@example.com", auth.RoleOracle)
	client, clientToken := seedUser(t, a, "client@example.com", auth.RoleMember)
	freelancer, freelancerToken := seedUser(t, a, "freelancer@example.com", auth.RoleMember)

	for _, who := range []string{client, freelancer} {
		expect(t, do(t, h, http.MethodPost, "/api/admin/mint", admin, mintRequest{Account: who, Amount: 100 * ledger.Unit}), http.StatusOK)
	}

	rec := do(t, h, http.MethodPost, "/api/projects", clientToken, project.CreateRequest{
		Budget:   10 * ledger.Unit,
		URI:      "ipfs://requirements",
		Duration: 10_000,
	})
	expect(t, rec, http.StatusCreated)
	var created struct {
		Project project.Project `json:"project"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	base := "/api/projects/" + created.Project.ID

	expect(t, do(t, h, http.MethodPost, base+"/apply", freelancerToken, nil), http.StatusOK)
	expect(t, do(t, h, http.MethodPost, base+"/start", clientToken, map[string]string{"freelancer": freelancer}), http.StatusOK)
	expect(t, do(t, h, http.MethodPost, base+"/submit", freelancerToken, map[string]string{"content_hash": "abc", "uri": "ipfs://work"}), http.StatusOK)
	expect(t, do(t, h, http.MethodPost, base+"/reject", clientToken, map[string]string{"reason_uri": "ipfs://why"}), http.StatusOK)

	disputes := "/api/disputes/" + created.Project.ID
	expect(t, do(t, h, http.MethodPost, disputes, clientToken, map[string]string{"evidence": "not mine to open"}), http.StatusForbidden)
	expect(t, do(t, h, http.MethodPost, disputes, freelancerToken, map[string]string{"evidence": "work matches brief"}), http.StatusCreated)
	expect(t, do(t, h, http.MethodPost, disputes, freelancerToken, map[string]string{"evidence": "again"}), http.StatusConflict)

	expect(t, do(t, h, http.MethodPost, disputes+"/ruling", freelancerToken, map[string]string{"ruling": "freelancer_wins"}), http.StatusForbidden)
	expect(t, do(t, h, http.MethodPost, disputes+"/ruling", oracle, map[string]string{"ruling": "sideways"}), http.StatusBadRequest)
	expect(t, do(t, h, http.MethodPost, disputes+"/ruling", oracle, map[string]string{"ruling": "client_wins"}), http.StatusOK)

	// the appeal window is still open
	expect(t, do(t, h, http.MethodPost, disputes+"/enforce", clientToken, nil), http.StatusConflict)

	rec = do(t, h, http.MethodGet, disputes, clientToken, nil)
	expect(t, rec, http.StatusOK)
	var view dispute.View
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode dispute: %v", err)
	}
	if view.Status != dispute.StatusAppealable || view.Ruling == nil || *view.Ruling != project.ClientWins {
		t.Fatalf("unexpected dispute: %+v", view)
	}
	if view.SubmissionURI != "ipfs://work" || view.ProjectStatus != project.StatusInDispute {
		t.Fatalf("unexpected dispute view: %+v", view)
	}

	rec = do(t, h, http.MethodGet, disputes+"/finances", freelancerToken, nil)
	expect(t, rec, http.StatusOK)
	var fin financesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &fin); err != nil {
		t.Fatalf("decode finances: %v", err)
	}
	if len(fin.Bonds) != 1 || fin.Bonds[0].Appellant != freelancer || fin.Bonds[0].Amount != ledger.Unit/2 {
		t.Fatalf("unexpected bonds: %+v", fin.Bonds)
	}
	if fin.Cost != ledger.Unit/5 {
		t.Fatalf("expected first-round cost, got %s", fin.Cost)
	}

	// no juror has registered, so an appeal cannot seat a jury
	expect(t, do(t, h, http.MethodPost, disputes+"/appeal", freelancerToken, map[string]string{"evidence": "second look"}), http.StatusUnprocessableEntity)
}

func TestJurorEndpoints(t *testing.T) {
	a := newTestApp(t)
	h := a.handler()
	_, admin := seedUser(t, a, "root@example.com", auth.RoleAdmin)
	id, token := seedUser(t, a, "newbie@example.com", auth.RoleMember)

	// a fresh account has no tier yet
	expect(t, do(t, h, http.MethodPost, "/api/jurors", token, nil), http.StatusUnprocessableEntity)
	expect(t, do(t, h, http.MethodGet, "/api/jurors/"+id, token, nil), http.StatusNotFound)
	expect(t, do(t, h, http.MethodPost, "/api/jurors/"+id+"/slash", token, nil), http.StatusForbidden)
	expect(t, do(t, h, http.MethodPost, "/api/jurors/"+id+"/slash", admin, nil), http.StatusNotFound)

	rec := do(t, h, http.MethodGet, "/api/jurors", token, nil)
	expect(t, rec, http.StatusOK)
	var pools map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &pools); err != nil {
		t.Fatalf("decode pools: %v", err)
	}
	if len(pools) != 3 {
		t.Fatalf("expected three tier pools, got %v", pools)
	}
}

func TestProjectAction_Unknown(t *testing.T) {
	a := newTestApp(t)
	_, token := seedUser(t, a, "gina@example.com", auth.RoleMember)

	expect(t, do(t, a.handler(), http.MethodPost, "/api/projects/0/teleport", token, nil), http.StatusNotFound)
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	a := newTestApp(t)
	_, token := seedUser(t, a, "hank@example.com", auth.RoleMember)

	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(`{"budget":1,"bogus":true}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.handler().ServeHTTP(rec, req)

	expect(t, rec, http.StatusBadRequest)
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(1, 1)
	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send("203.0.113.7:4000"); code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", code)
	}
	if code := send("203.0.113.7:4001"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for same IP, got %d", code)
	}
	if code := send("198.51.100.1:4000"); code != http.StatusNoContent {
		t.Fatalf("expected other IP through, got %d", code)
	}

	rl.sweep(time.Now().Add(time.Hour), time.Minute)
	if len(rl.visitors) != 0 {
		t.Fatalf("expected idle visitors swept, got %d", len(rl.visitors))
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{project.ErrNotFound, http.StatusNotFound},
		{project.ErrInvalidInput, http.StatusBadRequest},
		{dispute.ErrNotFreelancer, http.StatusForbidden},
		{dispute.ErrAppealClosed, http.StatusConflict},
		{juror.ErrAlreadyRegistered, http.StatusConflict},
		{dispute.ErrVotesFull, http.StatusUnprocessableEntity},
		{dispute.ErrNotEnoughJurors, http.StatusUnprocessableEntity},
		{ledger.ErrInsufficientBalance, http.StatusPaymentRequired},
		{fmt.Errorf("wrapped: %w", auth.ErrInvalidToken), http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestAttestationsEndpoint(t *testing.T) {
	a := newTestApp(t)
	h := a.handler()
	_, admin := seedUser(t, a, "root@example.com", auth.RoleAdmin)
	client, clientToken := seedUser(t, a, "client@example.com", auth.RoleMember)
	freelancer, freelancerToken := seedUser(t, a, "freelancer@example.com", auth.RoleMember)
	expect(t, do(t, h, http.MethodPost, "/api/admin/mint", admin, mintRequest{Account: client, Amount: 10 * ledger.Unit}), http.StatusOK)

	rec := do(t, h, http.MethodPost, "/api/projects", clientToken, project.CreateRequest{
		Budget:   ledger.Unit,
		URI:      "ipfs://requirements",
		Duration: 10_000,
	})
	expect(t, rec, http.StatusCreated)
	var created struct {
		Project project.Project `json:"project"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	base := "/api/projects/" + created.Project.ID
	expect(t, do(t, h, http.MethodPost, base+"/apply", freelancerToken, nil), http.StatusOK)
	expect(t, do(t, h, http.MethodPost, base+"/start", clientToken, map[string]string{"freelancer": freelancer}), http.StatusOK)
	expect(t, do(t, h, http.MethodPost, base+"/submit", freelancerToken, map[string]string{"content_hash": "abc", "uri": "ipfs://work"}), http.StatusOK)
	expect(t, do(t, h, http.MethodPost, base+"/accept", clientToken, map[string]int{"rating": 5}), http.StatusOK)

	rec = do(t, h, http.MethodGet, "/api/reputation/"+freelancer+"/attestations", clientToken, nil)
	expect(t, rec, http.StatusOK)
	var body struct {
		Attestations []reputation.Attestation `json:"attestations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode attestations: %v", err)
	}
	if len(body.Attestations) != 1 {
		t.Fatalf("expected one attestation, got %+v", body.Attestations)
	}
	got := body.Attestations[0]
	if got.Project != created.Project.ID || got.Attestor != reputation.ClientApproval || got.Rating != 5000 {
		t.Fatalf("unexpected attestation %+v", got)
	}

	rec = do(t, h, http.MethodGet, "/api/reputation/"+client+"/attestations", clientToken, nil)
	expect(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"attestations":[]`) {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}

	expect(t, do(t, h, http.MethodGet, "/api/reputation/nobody/attestations", clientToken, nil), http.StatusNotFound)
}
