package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ashureev/goalpath/internal/domain"
)

// ErrScriptExhausted is returned when a Script has no replies left.
var ErrScriptExhausted = errors.New("script has no replies left")

// Reply produces one scripted answer.
type Reply func(req Request) (string, error)

// Text replies with s verbatim.
func Text(s string) Reply {
	return func(Request) (string, error) { return s, nil }
}

// JSON replies with v encoded as JSON.
func JSON(v any) Reply {
	return func(Request) (string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// Fail replies with err.
func Fail(err error) Reply {
	return func(Request) (string, error) { return "", err }
}

// Script is a deterministic oracle that plays back replies in order and
// records every request. Once the queue is empty it uses the fallback, if any.
type Script struct {
	mu       sync.Mutex
	replies  []Reply
	fallback Reply
	calls    []Request
}

// NewScript creates a Script that answers with replies in order.
func NewScript(replies ...Reply) *Script {
	return &Script{replies: replies}
}

// Then appends replies.
func (s *Script) Then(replies ...Reply) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
	return s
}

// Otherwise sets the reply used once the queue is empty.
func (s *Script) Otherwise(r Reply) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = r
	return s
}

// Generate implements Oracle.
func (s *Script) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	var next Reply
	switch {
	case len(s.replies) > 0:
		next = s.replies[0]
		s.replies = s.replies[1:]
	case s.fallback != nil:
		next = s.fallback
	}
	s.mu.Unlock()

	if next == nil {
		return "", ErrScriptExhausted
	}
	return next(req)
}

// Calls returns a copy of the requests seen so far.
func (s *Script) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// Dry answers every phase with a plausible result derived from the request,
// so the whole conversation can be walked without a model.
func Dry(req Request) (string, error) {
	var res domain.Result
	today := req.Context.Today
	if today.IsZero() {
		today = domain.NewDate(2025, 1, 1)
	}

	switch req.Phase {
	case domain.PhaseDefineGoal:
		title := strings.TrimSpace(req.UserInput)
		if title == "" {
			res = domain.FollowUp{Question: "What would you like to achieve?"}
			break
		}
		res = domain.GoalDefinition{
			Title:    title,
			Metric:   "Complete every planned phase",
			Purpose:  "Personal growth",
			Deadline: today.AddDays(90),
		}
	case domain.PhaseGetPrerequisites:
		res = domain.PrerequisiteSet{
			CurrentState:   domain.CurrentState{SkillLevel: "Beginner"},
			FixedResources: domain.FixedResources{TimeCommitmentPerWeekHours: 5},
			Constraints:    domain.Constraints{AvailableTimeBlocks: []string{"Weekdays 6pm-7pm"}},
		}
	case domain.PhaseRefinePhases:
		res = domain.PhasePlan{Phases: []domain.PlanPhase{
			{Title: "Foundation", Description: "Learn the basics", StartDate: today, EndDate: today.AddDays(13)},
			{Title: "Practice", Description: "Apply them daily", StartDate: today.AddDays(14), EndDate: today.AddDays(27)},
		}}
	case domain.PhaseGenerateDailies:
		batch := domain.DailyTaskBatch{}
		if req.Context.TargetPhase != nil {
			batch.CurrPhase = req.Context.TargetPhase.Title
			start := req.Context.WindowStart
			days := req.Context.WindowDays
			if days <= 0 {
				days = 7
			}
			for i := 0; i < days; i++ {
				d := start.AddDays(i)
				if d.After(req.Context.TargetPhase.EndDate) {
					break
				}
				batch.Dailies = append(batch.Dailies, domain.DailyTask{
					Description:      fmt.Sprintf("%s: session %d", batch.CurrPhase, i+1),
					Date:             d,
					StartTime:        "18:00",
					EstimatedMinutes: 45,
					PhaseTitle:       batch.CurrPhase,
				})
			}
		}
		res = batch
	default:
		return "", fmt.Errorf("dry oracle: unsupported phase %s", req.Phase)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
