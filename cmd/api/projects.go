package main

import (
	"net/http"

	"disputeflow/event"
	"disputeflow/project"
)

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	var req project.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, evs, err := s.projectService.Create(r.Context(), caller, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Project project.Project `json:"project"`
		Events  []event.Event   `json:"events"`
	}{p, evs})
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	view, err := s.projectService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type projectActionRequest struct {
	Freelancer  string `json:"freelancer"`
	ContentHash string `json:"content_hash"`
	URI         string `json:"uri"`
	Metadata    string `json:"metadata"`
	Rating      uint8  `json:"rating"`
	ReasonURI   string `json:"reason_uri"`
}

// handleProjectAction dispatches the lifecycle commands that share the
// /api/projects/{id}/{action} shape.
func (s *Server) handleProjectAction(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	id := r.PathValue("id")

	var req projectActionRequest
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
	case "apply":
		evs, err = s.projectService.Apply(ctx, caller, id)
	case "start":
		evs, err = s.projectService.StartWork(ctx, caller, id, req.Freelancer)
	case "submit":
		evs, err = s.projectService.SubmitWork(ctx, caller, id, project.SubmitRequest{
			ContentHash: req.ContentHash,
			URI:         req.URI,
			Metadata:    req.Metadata,
		})
	case "accept":
		evs, err = s.projectService.AcceptWork(ctx, caller, id, req.Rating)
	case "reject":
		evs, err = s.projectService.RejectWork(ctx, caller, id, req.ReasonURI)
	case "cancel":
		evs, err = s.projectService.Cancel(ctx, caller, id)
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
