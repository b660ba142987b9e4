package main

import (
	"net/http"
	"strings"

	"disputeflow/auth"
	"disputeflow/dispute"
	"disputeflow/event"
	"disputeflow/juror"
	"disputeflow/ledger"
	"disputeflow/policy"
	"disputeflow/project"
	"disputeflow/reputation"
)

// Server exposes the marketplace commands over HTTP.
type Server struct {
	authService       *auth.Service
	ledgerService     *ledger.Service
	reputationService *reputation.Service
	projectService    *project.Service
	disputeService    *dispute.Service
	jurorService      *juror.Service
	// admin gates user provisioning and minting.
	admin *policy.Rule
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/me", s.authed(s.handleMe))

	mux.HandleFunc("POST /api/admin/users", s.authed(s.handleCreateUser))
	mux.HandleFunc("POST /api/admin/mint", s.authed(s.handleMint))
	mux.HandleFunc("GET /api/accounts/{account}", s.authed(s.handleAccount))
	mux.HandleFunc("GET /api/reputation/{account}", s.authed(s.handleReputation))
	mux.HandleFunc("GET /api/reputation/{account}/attestations", s.authed(s.handleAttestations))

	mux.HandleFunc("POST /api/projects", s.authed(s.handleCreateProject))
	mux.HandleFunc("GET /api/projects/{id}", s.authed(s.handleProject))
	mux.HandleFunc("POST /api/projects/{id}/{action}", s.authed(s.handleProjectAction))

	mux.HandleFunc("POST /api/disputes/{id}", s.authed(s.handleCreateDispute))
	mux.HandleFunc("GET /api/disputes/{id}", s.authed(s.handleDispute))
	mux.HandleFunc("GET /api/disputes/{id}/finances", s.authed(s.handleDisputeFinances))
	mux.HandleFunc("POST /api/disputes/{id}/{action}", s.authed(s.handleDisputeAction))

	mux.HandleFunc("GET /api/jurors", s.authed(s.handlePools))
	mux.HandleFunc("POST /api/jurors", s.authed(s.handleRegisterJuror))
	mux.HandleFunc("DELETE /api/jurors/me", s.authed(s.handleDeregisterJuror))
	mux.HandleFunc("GET /api/jurors/{account}", s.authed(s.handleJuror))
	mux.HandleFunc("POST /api/jurors/{account}/slash", s.authed(s.handleSlashJuror))
	return mux
}

type eventsResponse struct {
	Events []event.Event `json:"events"`
}

type userResponse struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"fullName"`
	Role     auth.Role `json:"role"`
}

func newUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// register creates the login and the reputation record every marketplace
// participant needs.
func (s *Server) register(r *http.Request, req auth.RegisterRequest) (*auth.User, error) {
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.reputationService.RegisterUser(r.Context(), user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	// self-service accounts are always members
	req.Role = auth.RoleMember
	user, err := s.register(r, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(*user))
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	if err := s.admin.Check(r.Context(), caller); err != nil {
		writeError(w, r, err)
		return
	}
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.register(r, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Token string       `json:"token"`
		User  userResponse `json:"user"`
	}{res.Token, newUserResponse(res.User)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	user, err := s.authService.GetUserByID(r.Context(), caller.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := s.reputationService.Get(r.Context(), caller.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := s.ledgerService.Account(r.Context(), caller.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		User       userResponse       `json:"user"`
		Reputation reputation.Profile `json:"reputation"`
		Account    ledger.Account     `json:"account"`
	}{newUserResponse(*user), profile, acct})
}

type mintRequest struct {
	Account string         `json:"account"`
	Amount  ledger.Balance `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	if err := s.admin.Check(r.Context(), caller); err != nil {
		writeError(w, r, err)
		return
	}
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Account) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "account is required"})
		return
	}
	acct, err := s.ledgerService.Mint(r.Context(), req.Account, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledgerService.Account(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	profile, err := s.reputationService.Get(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleAttestations(w http.ResponseWriter, r *http.Request) {
	list, err := s.reputationService.Attestations(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []reputation.Attestation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attestations": list})
}
