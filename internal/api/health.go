package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/goalpath/internal/store"
)

const healthPingTimeout = 5 * time.Second

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Oracle      string `json:"oracle,omitempty"`
	OpenSockets int    `json:"open_sockets"`
}

// HealthHandler reports whether the planner can reach its store.
type HealthHandler struct {
	repo     store.Repository
	conns    *Connections
	provider string
}

// NewHealthHandler returns a handler that pings repo. conns may be nil.
func NewHealthHandler(repo store.Repository, conns *Connections, provider string) *HealthHandler {
	return &HealthHandler{repo: repo, conns: conns, provider: provider}
}

func (h *HealthHandler) report(ctx context.Context) (HealthReport, bool) {
	rep := HealthReport{Status: "healthy", Database: "ok", Oracle: h.provider}
	if h.conns != nil {
		rep.OpenSockets = h.conns.Len()
	}

	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		rep.Status, rep.Database = "degraded", "unreachable"
		return rep, false
	}
	return rep, true
}

// Health writes the current HealthReport, 503 when the store is unreachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.report(r.Context())
	if !ok {
		JSON(w, http.StatusServiceUnavailable, rep)
		return
	}
	JSON(w, http.StatusOK, rep)
}

// RegisterHealth mounts GET /health.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
