package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/goalpath/internal/domain"
	"github.com/ashureev/goalpath/internal/identity"
	"github.com/ashureev/goalpath/internal/planning"
)

const maxBodyBytes = 1 << 20

// PlanningHandler serves the goal-creation conversation.
type PlanningHandler struct {
	*Handler
	limiter *RateLimiter
	conns   *Connections
}

// NewPlanningHandler creates a planning handler. A nil limiter disables
// per-user rate limiting. When conns is set, every state change made over
// HTTP is also pushed to the user's open planning socket.
func NewPlanningHandler(base *Handler, limiter *RateLimiter, conns *Connections) *PlanningHandler {
	return &PlanningHandler{Handler: base, limiter: limiter, conns: conns}
}

func (h *PlanningHandler) respond(w http.ResponseWriter, userID string, d planning.Displayable, changed bool) {
	if changed && h.conns != nil {
		h.conns.Publish(userID, resultMessage(d))
	}
	JSON(w, http.StatusOK, toResponse(d))
}

// PlanningResponse is what every /api/create endpoint returns.
type PlanningResponse struct {
	PhaseTag  domain.PhaseTag `json:"phase_tag"`
	RetObj    domain.Result   `json:"ret_obj"`
	SessionID string          `json:"session_id"`
}

type queryRequest struct {
	UserInput string `json:"user_input"`
	SessionID string `json:"session_id"`
}

type confirmRequest struct {
	ConfirmObj json.RawMessage `json:"confirm_obj"`
	SessionID  string          `json:"session_id"`
}

func toResponse(d planning.Displayable) PlanningResponse {
	return PlanningResponse{PhaseTag: d.Phase, RetObj: d.Payload, SessionID: d.SessionID}
}

// RegisterRoutes registers planning routes.
func (h *PlanningHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/goals", h.ListGoals)
		r.Route("/create", func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}
			r.Post("/load", h.Load)
			r.Post("/query", h.Query)
			r.Post("/confirm", h.Confirm)
			r.Post("/reset", h.Reset)
		})
	})
}

// GetMe returns the current user and the session they are attached to.
func (h *PlanningHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":            user.UserID,
		"username":           user.Username,
		"current_session_id": user.CurrentSessionID,
	})
}

// ListGoals returns the user's finalized goals with phases and tasks.
func (h *PlanningHandler) ListGoals(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	goals, err := h.repo.ListGoals(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list goals", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list goals")
		return
	}
	if goals == nil {
		goals = []domain.Goal{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"goals": goals})
}

// Load returns the current phase and result, creating a session on first use.
func (h *PlanningHandler) Load(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	d, err := h.planner.LoadCurrent(r.Context(), userID)
	if err != nil {
		writePlanningError(w, userID, err)
		return
	}
	h.respond(w, userID, d, false)
}

// Query forwards free text to the oracle for the current phase.
func (h *PlanningHandler) Query(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorBody{Error: "bad_request", Message: err.Error()})
		return
	}

	d, err := h.planner.SubmitQuery(r.Context(), userID, planning.Query{
		SessionID: sessionOrHeader(r, req.SessionID),
		Text:      req.UserInput,
	})
	if err != nil {
		writePlanningError(w, userID, err)
		return
	}
	h.respond(w, userID, d, true)
}

// Confirm accepts the structured result shown to the user, possibly edited.
func (h *PlanningHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorBody{Error: "bad_request", Message: err.Error()})
		return
	}
	res, err := decodeConfirmation(req.ConfirmObj)
	if err != nil {
		writePlanningError(w, userID, err)
		return
	}

	d, err := h.planner.SubmitConfirmation(r.Context(), userID, planning.Confirmation{
		SessionID: sessionOrHeader(r, req.SessionID),
		Result:    res,
	})
	if err != nil {
		writePlanningError(w, userID, err)
		return
	}
	h.respond(w, userID, d, true)
}

// Reset abandons the current session and starts over.
func (h *PlanningHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	d, err := h.planner.Reset(r.Context(), userID)
	if err != nil {
		writePlanningError(w, userID, err)
		return
	}
	slog.Info("Planning session reset", "user_id", userID, "session_id", d.SessionID)
	h.respond(w, userID, d, true)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// decodeConfirmation turns the client's confirm_obj into a result. An absent
// or malformed object is an invalid transition, not a server error.
func decodeConfirmation(raw json.RawMessage) (domain.Result, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: confirm_obj is required", planning.ErrInvalidTransition)
	}
	res, err := domain.DecodeResult(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", planning.ErrInvalidTransition, err)
	}
	return res, nil
}

func sessionOrHeader(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return identity.SessionIDFromContext(r.Context())
}
