package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/goalpath/internal/domain"
	"github.com/ashureev/goalpath/internal/identity"
	"github.com/ashureev/goalpath/internal/planning"
	"github.com/ashureev/goalpath/internal/store"
)

// wsInbound is a client message on the planning socket.
type wsInbound struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	UserInput  string          `json:"user_input,omitempty"`
	ConfirmObj json.RawMessage `json:"confirm_obj,omitempty"`
}

// wsOutbound is a server message on the planning socket.
type wsOutbound struct {
	Type      string             `json:"type"`
	PhaseTag  domain.PhaseTag    `json:"phase_tag,omitempty"`
	RetObj    domain.Result      `json:"ret_obj,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Progress  *planning.Progress `json:"progress,omitempty"`
	Error     string             `json:"error,omitempty"`
	Message   string             `json:"message,omitempty"`
}

func resultMessage(d planning.Displayable) wsOutbound {
	return wsOutbound{Type: "result", PhaseTag: d.Phase, RetObj: d.Payload, SessionID: d.SessionID}
}

// PlanSocket serves the planning conversation over a WebSocket and streams
// daily-task progress while the oracle works.
type PlanSocket struct {
	repo          store.Repository
	planner       *planning.Planner
	conns         *Connections
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewPlanSocket creates a planning socket handler.
func NewPlanSocket(base *Handler, conns *Connections, limiter *RateLimiter, allowedOrigin string, isDev bool) *PlanSocket {
	return &PlanSocket{
		repo:          base.repo,
		planner:       base.planner,
		conns:         conns,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *PlanSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("Planning socket request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(maxBodyBytes)

	h.conns.Register(userID, ws)
	defer h.conns.Unregister(userID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.readLoop(ctx, ws, userID)
	slog.Info("Planning socket closed", "user_id", userID)
}

func (h *PlanSocket) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop handles one message at a time; the planner serializes per user
// anyway, and progress must reach the client before the final result.
func (h *PlanSocket) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(message, &msg); err != nil {
			h.send(ctx, ws, userID, wsOutbound{Type: "error", Error: "bad_request", Message: "message is not valid JSON"})
			continue
		}

		if msg.Type == "ping" {
			h.send(ctx, ws, userID, wsOutbound{Type: "pong"})
			continue
		}

		h.send(ctx, ws, userID, h.handle(ctx, ws, userID, msg))
		h.touch(userID)
	}
}

func (h *PlanSocket) handle(ctx context.Context, ws *websocket.Conn, userID string, msg wsInbound) wsOutbound {
	switch msg.Type {
	case "load", "reset", "query", "confirm":
	default:
		return wsOutbound{Type: "error", Error: "bad_request", Message: "unknown message type " + msg.Type}
	}
	if h.limiter != nil {
		if ok, _ := h.limiter.Allow(userID); !ok {
			return wsOutbound{Type: "error", Error: "rate_limited", Message: "too many planning requests, retry later"}
		}
	}

	ctx = planning.WithProgress(ctx, func(p planning.Progress) {
		h.send(ctx, ws, userID, wsOutbound{Type: "progress", Progress: &p})
	})

	var (
		d   planning.Displayable
		err error
	)
	switch msg.Type {
	case "load":
		d, err = h.planner.LoadCurrent(ctx, userID)
	case "reset":
		d, err = h.planner.Reset(ctx, userID)
	case "query":
		d, err = h.planner.SubmitQuery(ctx, userID, planning.Query{SessionID: msg.SessionID, Text: msg.UserInput})
	case "confirm":
		var res domain.Result
		if res, err = decodeConfirmation(msg.ConfirmObj); err == nil {
			d, err = h.planner.SubmitConfirmation(ctx, userID, planning.Confirmation{SessionID: msg.SessionID, Result: res})
		}
	}
	if err != nil {
		_, code := Classify(err)
		slog.Warn("Planning socket request failed", "user_id", userID, "type", msg.Type, "code", code, "error", err)
		return wsOutbound{Type: "error", Error: code, Message: err.Error()}
	}
	return resultMessage(d)
}

func (h *PlanSocket) send(ctx context.Context, ws *websocket.Conn, userID string, v wsOutbound) {
	if err := writeJSON(ctx, ws, v); err != nil {
		slog.Debug("Failed to write planning socket message", "type", v.Type, "error", err, "user_id", userID)
	}
}

func (h *PlanSocket) touch(userID string) {
	go func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err)
		}
	}()
}
