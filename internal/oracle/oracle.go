// Package oracle adapts external language models into the planning
// conversation. Providers return raw text; decoding into structured results
// happens in the planning package.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/goalpath/internal/domain"
)

var (
	// ErrUnavailable indicates the provider could not be reached or refused the call.
	ErrUnavailable = errors.New("oracle unavailable")

	// ErrTimeout indicates the provider did not answer before the deadline.
	ErrTimeout = errors.New("oracle request timed out")

	// ErrEmptyResponse indicates the provider answered with no text.
	ErrEmptyResponse = errors.New("oracle returned empty response")

	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown oracle provider")
)

// Oracle turns a planning request into raw model text.
type Oracle interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is everything a provider needs to answer one turn.
type Request struct {
	Phase      domain.PhaseTag `json:"phase"`
	Context    Context         `json:"context"`
	Transcript []domain.Turn   `json:"transcript,omitempty"`
	UserInput  string          `json:"user_input,omitempty"`
}

// Context carries the structured state a prompt is rendered from.
// Fields irrelevant to the phase are left empty.
type Context struct {
	Today         domain.Date             `json:"today"`
	Goal          *domain.GoalDefinition  `json:"goal,omitempty"`
	Prerequisites *domain.PrerequisiteSet `json:"prerequisites,omitempty"`
	// Plan is the draft during refine_phases and the confirmed plan afterwards.
	Plan        *domain.PhasePlan  `json:"plan,omitempty"`
	TargetPhase *domain.PlanPhase  `json:"target_phase,omitempty"`
	PriorTasks  []domain.DailyTask `json:"prior_tasks,omitempty"`
	WindowStart domain.Date        `json:"window_start"`
	WindowDays  int                `json:"window_days,omitempty"`
}

// classify maps context errors onto the package sentinels.
func classify(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, provider, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, provider, err)
}
