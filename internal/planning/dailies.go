package planning

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/goalpath/internal/domain"
	"github.com/ashureev/goalpath/internal/oracle"
)

const (
	// windowDays is how many days each daily-task call is asked to cover.
	windowDays = 7
	// emptyWindowAdvance moves the cursor when a call yields no usable task.
	emptyWindowAdvance = 14
)

// Progress describes one completed daily-task window.
type Progress struct {
	PlanPhase   string      `json:"plan_phase"`
	PhaseIndex  int         `json:"phase_index"`
	Call        int         `json:"call"`
	WindowStart domain.Date `json:"window_start"`
	Accepted    int         `json:"accepted"`
	Total       int         `json:"total"`
	Next        domain.Date `json:"next"`
}

type progressKey struct{}

// WithProgress attaches an observer that receives one event per window.
// The observer runs on the request goroutine and must not block.
func WithProgress(ctx context.Context, fn func(Progress)) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func reportProgress(ctx context.Context, p Progress) {
	if fn, ok := ctx.Value(progressKey{}).(func(Progress)); ok && fn != nil {
		fn(p)
	}
}

// generateWindowedDailies fills one plan phase with daily tasks by calling
// the oracle for successive windows until the cursor passes the phase end.
// Only tasks dated inside [cursor, end] are kept and each is stamped with
// the target phase title. Calls are sequential; the session transcript
// records each window. Non-empty feedback from the user is passed along
// with every window.
func (p *Planner) generateWindowedDailies(ctx context.Context, st *step, index int, feedback string) (domain.DailyTaskBatch, error) {
	sess := st.sess
	target := sess.Plan.Phases[index]

	var kept []domain.DailyTask
	cursor := target.StartDate
	for call := 1; !cursor.After(target.EndDate); call++ {
		if err := ctx.Err(); err != nil {
			return domain.DailyTaskBatch{}, err
		}

		prior := make([]domain.DailyTask, 0, len(sess.Dailies)+len(kept))
		prior = append(prior, sess.Dailies...)
		prior = append(prior, kept...)

		input := fmt.Sprintf("Generate daily tasks for phase %q starting %s for the next %d days.",
			target.Title, cursor, windowDays)
		if feedback = strings.TrimSpace(feedback); feedback != "" {
			input += " User feedback on the previous schedule: " + feedback
		}
		req := oracle.Request{
			Phase: domain.PhaseGenerateDailies,
			Context: oracle.Context{
				Today:         domain.DateOf(p.now()),
				Goal:          sess.Goal,
				Prerequisites: sess.Prerequisites,
				Plan:          sess.Plan,
				TargetPhase:   &target,
				PriorTasks:    prior,
				WindowStart:   cursor,
				WindowDays:    windowDays,
			},
			Transcript: sess.Transcript.All(),
			UserInput:  input,
		}

		res, raw, err := p.ask(ctx, req)
		if err != nil {
			return domain.DailyTaskBatch{}, err
		}
		batch, ok := res.(domain.DailyTaskBatch)
		if !ok {
			return domain.DailyTaskBatch{}, fmt.Errorf("%w: expected %s, got %s",
				ErrMalformedOracleOutput, domain.KindDailyBatch, res.Kind())
		}
		st.record(domain.RoleUser, input)
		st.record(domain.RoleModel, raw)

		accepted := 0
		var latest domain.Date
		for _, t := range batch.Dailies {
			if t.Date.Before(cursor) || t.Date.After(target.EndDate) {
				continue
			}
			t.PhaseTitle = target.Title
			kept = append(kept, t)
			accepted++
			if t.Date.After(latest) {
				latest = t.Date
			}
		}

		windowStart := cursor
		if accepted > 0 {
			cursor = latest.AddDays(1)
		} else {
			cursor = cursor.AddDays(emptyWindowAdvance)
		}

		reportProgress(ctx, Progress{
			PlanPhase:   target.Title,
			PhaseIndex:  index,
			Call:        call,
			WindowStart: windowStart,
			Accepted:    accepted,
			Total:       len(kept),
			Next:        cursor,
		})
	}

	return domain.DailyTaskBatch{
		Dailies:    kept,
		CurrPhase:  target.Title,
		GoalPhases: sess.Plan.Titles(),
	}, nil
}
