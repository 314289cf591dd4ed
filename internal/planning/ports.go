package planning

import (
	"context"

	"github.com/ashureev/goalpath/internal/domain"
	"github.com/ashureev/goalpath/internal/oracle"
)

// Oracle produces raw model text for a planning request.
type Oracle interface {
	Generate(ctx context.Context, req oracle.Request) (string, error)
}

// Store is the durable home of users and planning sessions.
type Store interface {
	// EnsureUser returns the user, creating the row on first sight.
	EnsureUser(ctx context.Context, userID string) (*domain.User, error)

	// GetSession returns ErrSessionNotFound when no row matches.
	GetSession(ctx context.Context, sessionID string) (*domain.PlanningSession, error)

	// AttachSession inserts s and points the user at it in one transaction.
	AttachSession(ctx context.Context, userID string, s *domain.PlanningSession) error

	// SaveSession writes s if its Revision still matches the stored row and
	// bumps Revision. Returns ErrConcurrentUpdate otherwise.
	SaveSession(ctx context.Context, s *domain.PlanningSession) error

	// FinalizePlan runs write against a transactional PlanWriter, then saves
	// done (tagged goal_completed) and attaches fresh to the owner. Everything
	// commits together or not at all.
	FinalizePlan(ctx context.Context, done, fresh *domain.PlanningSession, write func(PlanWriter) error) error

	// ListGoals returns the owner's persisted goals with phases and tasks.
	ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error)
}

// PlanWriter persists a finalized plan. Calls happen in declaration order.
type PlanWriter interface {
	PersistGoal(ctx context.Context, goal domain.GoalDefinition, prereqs domain.PrerequisiteSet, ownerID, sessionID string) (string, error)
	PersistPhases(ctx context.Context, plan domain.PhasePlan, goalID string) ([]domain.Phase, error)
	// PersistDailyTasks drops tasks whose phase title has no entry in phaseIDByTitle.
	PersistDailyTasks(ctx context.Context, tasks []domain.DailyTask, phaseIDByTitle map[string]string) ([]string, error)
}

// TurnRecorder receives every transcript turn once its request commits.
type TurnRecorder interface {
	RecordTurn(userID, sessionID string, phase domain.PhaseTag, turn domain.Turn)
}
