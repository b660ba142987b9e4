package main

import (
	"net/http"

	"disputeflow/event"
	"disputeflow/ledger"
)

func (s *Server) handleRegisterJuror(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	evs, err := s.jurorService.RegisterJuror(r.Context(), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventsResponse{Events: evs})
}

func (s *Server) handleDeregisterJuror(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	evs, err := s.jurorService.DeregisterJuror(r.Context(), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: evs})
}

func (s *Server) handleJuror(w http.ResponseWriter, r *http.Request) {
	info, err := s.jurorService.Get(r.Context(), r.PathValue("account"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.jurorService.Pools(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pools)
}

func (s *Server) handleSlashJuror(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	slashed, evs, err := s.jurorService.SlashJuror(r.Context(), caller, r.PathValue("account"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Slashed ledger.Balance `json:"slashed"`
		Events  []event.Event  `json:"events"`
	}{slashed, evs})
}
