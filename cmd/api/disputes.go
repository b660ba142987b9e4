package main

import (
	"net/http"

	"disputeflow/dispute"
	"disputeflow/event"
	"disputeflow/ledger"
	"disputeflow/project"
)

type disputeRequest struct {
	Evidence string         `json:"evidence"`
	Ruling   project.Ruling `json:"ruling"`
	Vote     dispute.Vote   `json:"vote"`
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	var req disputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, evs, err := s.disputeService.CreateDispute(r.Context(), caller, r.PathValue("id"), []byte(req.Evidence))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Dispute dispute.Dispute `json:"dispute"`
		Events  []event.Event   `json:"events"`
	}{d, evs})
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	view, err := s.disputeService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type financesResponse struct {
	Bonds   []dispute.AppealBond `json:"bonds"`
	Cost    ledger.Balance       `json:"cost"`
	Rewards []dispute.Reward     `json:"rewards"`
}

func (s *Server) handleDisputeFinances(w http.ResponseWriter, r *http.Request) {
	ctx, id := r.Context(), r.PathValue("id")
	bonds, err := s.disputeService.Bonds(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cost, err := s.disputeService.Cost(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rewards, err := s.disputeService.Rewards(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, financesResponse{Bonds: bonds, Cost: cost, Rewards: rewards})
}

func (s *Server) handleDisputeAction(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	id := r.PathValue("id")

	var req disputeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	var (
		evs []event.Event
		err error
	)
	ctx := r.Context()
	switch r.PathValue("action") {
	case "ruling":
		evs, err = s.disputeService.SubmitRuling(ctx, caller, id, req.Ruling)
	case "appeal":
		evs, err = s.disputeService.AppealRuling(ctx, caller, id, []byte(req.Evidence))
	case "votes":
		evs, err = s.disputeService.CastVote(ctx, caller, id, req.Vote)
	case "finalize":
		evs, err = s.disputeService.FinalizeRound(ctx, caller, id)
	case "enforce":
		evs, err = s.disputeService.EnforceFinalRuling(ctx, caller, id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: evs})
}
