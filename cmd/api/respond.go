package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"disputeflow/auth"
	"disputeflow/errs"
	"disputeflow/logging"
)

const maxBody = 64 << 10

var errBadJSON = errs.New(errs.ErrInvalidArgument, "invalid JSON body")

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.HTTP.Warn().Err(err).Msg("encode response")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadJSON)
		}
		return fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return nil
}

// statusFor maps an error kind to the HTTP status the API answers with.
func statusFor(err error) int {
	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized
	}
	switch errs.Kind(err) {
	case errs.ErrNotFound:
		return http.StatusNotFound
	case errs.ErrInvalidArgument:
		return http.StatusBadRequest
	case errs.ErrUnauthorized:
		return http.StatusForbidden
	case errs.ErrInvalidState, errs.ErrAlreadyActed, errs.ErrTiming:
		return http.StatusConflict
	case errs.ErrCapacity, errs.ErrInsufficientEligibility:
		return http.StatusUnprocessableEntity
	case errs.ErrPaymentFailed:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.HTTP.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, status, errorResponse{Error: "internal server error"})
		return
	}
	resp := errorResponse{Error: err.Error()}
	if kind := errs.Kind(err); kind != nil {
		resp.Kind = kind.Error()
	}
	writeJSON(w, status, resp)
}
