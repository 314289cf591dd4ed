// Package api provides HTTP handlers for the Goalpath API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/goalpath/internal/oracle"
	"github.com/ashureev/goalpath/internal/planning"
	"github.com/ashureev/goalpath/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo    store.Repository
	planner *planning.Planner
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, planner *planning.Planner) *Handler {
	return &Handler{
		repo:    repo,
		planner: planner,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ErrorBody is the payload of every failed planning request.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Classify maps a planning or oracle error to an HTTP status and a stable
// machine-readable code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, planning.ErrMalformedOracleOutput):
		return http.StatusBadGateway, "malformed_oracle_output"
	case errors.Is(err, planning.ErrInvalidTransition):
		return http.StatusBadRequest, "invalid_transition"
	case errors.Is(err, planning.ErrOwnershipMismatch):
		return http.StatusForbidden, "ownership_mismatch"
	case errors.Is(err, planning.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, planning.ErrPersistenceConflict):
		return http.StatusConflict, "persistence_conflict"
	case errors.Is(err, planning.ErrConcurrentUpdate):
		return http.StatusConflict, "concurrent_update"
	case errors.Is(err, oracle.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "oracle_timeout"
	case errors.Is(err, oracle.ErrUnavailable):
		return http.StatusServiceUnavailable, "oracle_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writePlanningError logs err and writes its classified response. Internal
// errors do not leak their message.
func writePlanningError(w http.ResponseWriter, userID string, err error) {
	status, code := Classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Planning request failed", "user_id", userID, "error", err)
		msg = "internal error"
	} else {
		slog.Warn("Planning request rejected", "user_id", userID, "code", code, "error", err)
	}
	JSON(w, status, ErrorBody{Error: code, Message: msg})
}
