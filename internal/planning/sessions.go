package planning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/goalpath/internal/domain"
)

// Sessions resolves and replaces the per-user planning session.
type Sessions struct {
	store Store
	now   func() time.Time
}

// NewSessions creates a session manager backed by store.
func NewSessions(store Store, now func() time.Time) *Sessions {
	if now == nil {
		now = time.Now
	}
	return &Sessions{store: store, now: now}
}

// GetOrCreate returns the user's current session, creating an empty
// define_goal session when the user has none or it has gone missing.
func (s *Sessions) GetOrCreate(ctx context.Context, userID string) (*domain.PlanningSession, error) {
	user, err := s.store.EnsureUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	if user.HasActiveSession() {
		sess, err := s.store.GetSession(ctx, user.CurrentSessionID)
		switch {
		case err == nil:
			return sess, nil
		case errors.Is(err, ErrSessionNotFound):
			slog.Warn("Current session missing, starting a new one",
				"user_id", userID, "session_id", user.CurrentSessionID)
		default:
			return nil, fmt.Errorf("load session: %w", err)
		}
	}

	return s.attachFresh(ctx, userID)
}

// Reset replaces the user's session with a fresh define_goal session. On
// failure the previous session stays current.
func (s *Sessions) Reset(ctx context.Context, userID string) (*domain.PlanningSession, error) {
	if _, err := s.store.EnsureUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return s.attachFresh(ctx, userID)
}

func (s *Sessions) attachFresh(ctx context.Context, userID string) (*domain.PlanningSession, error) {
	fresh := domain.NewPlanningSession(userID, s.now().UTC())
	if err := s.store.AttachSession(ctx, userID, fresh); err != nil {
		return nil, fmt.Errorf("attach session: %w", err)
	}
	slog.Info("Planning session started", "user_id", userID, "session_id", fresh.ID)
	return fresh, nil
}

// Authorize checks a client-supplied session id against the user's current
// session. An empty expectedSessionID always passes.
func (s *Sessions) Authorize(ctx context.Context, current *domain.PlanningSession, userID, expectedSessionID string) error {
	if current.OwnerID != userID {
		return ErrOwnershipMismatch
	}
	if expectedSessionID == "" || expectedSessionID == current.ID {
		return nil
	}

	other, err := s.store.GetSession(ctx, expectedSessionID)
	if err != nil {
		return err
	}
	if other.OwnerID != userID {
		return ErrOwnershipMismatch
	}
	return fmt.Errorf("%w: session %s is no longer current", ErrInvalidTransition, expectedSessionID)
}
