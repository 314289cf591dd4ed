// Package planning drives the goal planning conversation: it owns the phase
// state machine, the daily-task sub-loop and the per-user session lifecycle.
package planning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/goalpath/internal/domain"
	"github.com/ashureev/goalpath/internal/oracle"
)

const (
	// OpenerQuestion is shown for a session that has no result yet.
	OpenerQuestion = "What would you like to achieve?"

	prerequisitesQuestion = "Great, your goal is set. To build a realistic plan I need to know where you are starting from: " +
		"your current experience, how many hours per week you can commit, your budget, the equipment or support you have, " +
		"and when you are usually available."

	generatePhasesInput = "Generate the plan phases for my goal using these prerequisites."
)

// Opener is the result displayed for a fresh session.
func Opener() domain.FollowUp {
	return domain.FollowUp{Question: OpenerQuestion}
}

// Displayable is what every entry point hands back to the caller: the phase
// after processing, the structured result to show and the session the next
// request should name.
type Displayable struct {
	SessionID string
	Phase     domain.PhaseTag
	Payload   domain.Result
}

// Query is free text from the user.
type Query struct {
	SessionID string
	Text      string
}

// Confirmation accepts a structured result, possibly edited by the user.
type Confirmation struct {
	SessionID string
	Result    domain.Result
}

// Planner is the phase state machine.
type Planner struct {
	store    Store
	sessions *Sessions
	oracle   Oracle
	recorder TurnRecorder
	now      func() time.Time

	// userLocks serializes requests of the same user.
	userLocks sync.Map
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// WithRecorder sends committed turns to r.
func WithRecorder(r TurnRecorder) Option {
	return func(p *Planner) { p.recorder = r }
}

// NewPlanner creates a Planner.
func NewPlanner(store Store, o Oracle, opts ...Option) *Planner {
	p := &Planner{
		store:  store,
		oracle: o,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sessions = NewSessions(store, p.now)
	return p
}

// Sessions exposes the session manager.
func (p *Planner) Sessions() *Sessions {
	return p.sessions
}

func (p *Planner) lock(userID string) func() {
	m, _ := p.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// step is the working copy of a session for one request.
type step struct {
	sess  *domain.PlanningSession
	turns []domain.Turn
}

func (st *step) record(role domain.Role, content string) {
	st.sess.Transcript.Append(role, content)
	if t, ok := st.sess.Transcript.Last(); ok {
		st.turns = append(st.turns, t)
	}
}

// advance moves to phase and starts a fresh transcript.
func (st *step) advance(phase domain.PhaseTag) {
	st.sess.Phase = phase
	st.sess.Transcript.Clear()
}

// LoadCurrent returns the user's current phase and result without changing
// anything beyond creating a session on first use.
func (p *Planner) LoadCurrent(ctx context.Context, userID string) (Displayable, error) {
	defer p.lock(userID)()

	sess, err := p.sessions.GetOrCreate(ctx, userID)
	if err != nil {
		return Displayable{}, err
	}
	return display(sess), nil
}

// Reset abandons the current session and starts over in define_goal.
func (p *Planner) Reset(ctx context.Context, userID string) (Displayable, error) {
	defer p.lock(userID)()

	sess, err := p.sessions.Reset(ctx, userID)
	if err != nil {
		return Displayable{}, err
	}
	return display(sess), nil
}

func display(sess *domain.PlanningSession) Displayable {
	if sess.Current == nil {
		return Displayable{SessionID: sess.ID, Phase: sess.Phase, Payload: Opener()}
	}
	return Displayable{SessionID: sess.ID, Phase: sess.Phase, Payload: sess.Current}
}

// SubmitQuery sends free text to the oracle in the context of the current phase.
func (p *Planner) SubmitQuery(ctx context.Context, userID string, q Query) (Displayable, error) {
	defer p.lock(userID)()

	st, err := p.begin(ctx, userID, q.SessionID)
	if err != nil {
		return Displayable{}, err
	}
	sess := st.sess

	if sess.Phase == domain.PhaseGoalCompleted {
		return Displayable{}, fmt.Errorf("%w: session is completed", ErrInvalidTransition)
	}

	if sess.Phase == domain.PhaseGenerateDailies {
		// Feedback reschedules the whole current plan phase, window by window.
		batch, err := p.generateWindowedDailies(ctx, st, sess.PlanPhaseIndex, q.Text)
		if err != nil {
			return Displayable{}, err
		}
		sess.Current = batch
		return p.commit(ctx, userID, st)
	}

	res, raw, err := p.ask(ctx, p.request(sess, q.Text))
	if err != nil {
		return Displayable{}, err
	}
	st.record(domain.RoleUser, q.Text)
	st.record(domain.RoleModel, raw)

	switch r := res.(type) {
	case domain.FollowUp:
		sess.Current = r
	case domain.GoalDefinition:
		sess.Current = r
	case domain.PrerequisiteSet:
		if err := p.acceptPrerequisites(ctx, st, r); err != nil {
			return Displayable{}, err
		}
	case domain.PhasePlan:
		sess.Current = r
	default:
		// Daily batches only come from the windowed loop above.
		return Displayable{}, fmt.Errorf("%w: unexpected %s", ErrMalformedOracleOutput, res.Kind())
	}

	return p.commit(ctx, userID, st)
}

// acceptPrerequisites snapshots the prerequisites, moves to refine_phases and
// asks the oracle for the first phase plan.
func (p *Planner) acceptPrerequisites(ctx context.Context, st *step, prereqs domain.PrerequisiteSet) error {
	sess := st.sess
	sess.Prerequisites = &prereqs
	st.advance(domain.PhaseRefinePhases)

	res, raw, err := p.ask(ctx, p.request(sess, generatePhasesInput))
	if err != nil {
		return err
	}
	st.record(domain.RoleUser, generatePhasesInput)
	st.record(domain.RoleModel, raw)
	sess.Current = res
	return nil
}

// SubmitConfirmation accepts a structured result for the current phase.
func (p *Planner) SubmitConfirmation(ctx context.Context, userID string, c Confirmation) (Displayable, error) {
	defer p.lock(userID)()

	if c.Result == nil {
		return Displayable{}, fmt.Errorf("%w: nothing to confirm", ErrInvalidTransition)
	}
	if err := c.Result.Validate(); err != nil {
		return Displayable{}, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	st, err := p.begin(ctx, userID, c.SessionID)
	if err != nil {
		return Displayable{}, err
	}
	sess := st.sess

	switch sess.Phase {
	case domain.PhaseDefineGoal:
		goal, ok := c.Result.(domain.GoalDefinition)
		if !ok {
			return Displayable{}, invalidConfirmation(sess.Phase, c.Result)
		}
		sess.Goal = &goal
		st.advance(domain.PhaseGetPrerequisites)
		sess.Current = domain.FollowUp{Question: prerequisitesQuestion}

	case domain.PhaseRefinePhases:
		plan, ok := c.Result.(domain.PhasePlan)
		if !ok {
			return Displayable{}, invalidConfirmation(sess.Phase, c.Result)
		}
		if len(plan.Phases) == 0 {
			return Displayable{}, fmt.Errorf("%w: phase plan has no phases", ErrInvalidTransition)
		}
		sess.Plan = &plan
		sess.Dailies = nil
		sess.PlanPhaseIndex = 0
		st.advance(domain.PhaseGenerateDailies)

		batch, err := p.generateWindowedDailies(ctx, st, 0, "")
		if err != nil {
			return Displayable{}, err
		}
		sess.Current = batch

	case domain.PhaseGenerateDailies:
		batch, ok := c.Result.(domain.DailyTaskBatch)
		if !ok {
			return Displayable{}, invalidConfirmation(sess.Phase, c.Result)
		}
		next, err := confirmedThrough(sess, batch)
		if err != nil {
			return Displayable{}, err
		}
		sess.Dailies = append(sess.Dailies, batch.Dailies...)
		if next >= len(sess.Plan.Phases)-1 {
			return p.finalize(ctx, userID, st)
		}

		sess.PlanPhaseIndex = next + 1
		sess.Transcript.Clear()
		batch, err = p.generateWindowedDailies(ctx, st, sess.PlanPhaseIndex, "")
		if err != nil {
			return Displayable{}, err
		}
		sess.Current = batch

	default:
		return Displayable{}, invalidConfirmation(sess.Phase, c.Result)
	}

	return p.commit(ctx, userID, st)
}

// confirmedThrough returns the index of the last plan phase a confirmed
// batch completes: the current phase, or a later one when the batch's last
// task belongs to it. A batch for a phase that is already behind the pointer
// is a stale resubmission and is rejected.
func confirmedThrough(sess *domain.PlanningSession, batch domain.DailyTaskBatch) (int, error) {
	current, ok := sess.CurrentPlanPhase()
	if !ok {
		return 0, fmt.Errorf("%w: no plan phase to confirm", ErrInvalidTransition)
	}
	if batch.CurrPhase != "" && batch.CurrPhase != current.Title {
		return 0, fmt.Errorf("%w: batch is for phase %q, current phase is %q",
			ErrInvalidTransition, batch.CurrPhase, current.Title)
	}

	next := sess.PlanPhaseIndex
	n := len(batch.Dailies)
	if n == 0 {
		return next, nil
	}
	last := batch.Dailies[n-1].PhaseTitle
	switch idx := sess.Plan.IndexOf(last); {
	case idx < 0:
		return next, nil
	case idx < next:
		return 0, fmt.Errorf("%w: batch ends in phase %q, already past it",
			ErrInvalidTransition, last)
	default:
		return idx, nil
	}
}

func invalidConfirmation(phase domain.PhaseTag, res domain.Result) error {
	return fmt.Errorf("%w: cannot confirm %s during %s", ErrInvalidTransition, res.Kind(), phase)
}

// finalize persists goal, phases and tasks, retires the session and
// attaches a fresh one, all in one store transaction.
func (p *Planner) finalize(ctx context.Context, userID string, st *step) (Displayable, error) {
	done := st.sess
	done.Phase = domain.PhaseGoalCompleted
	done.UpdatedAt = p.now().UTC()
	fresh := domain.NewPlanningSession(userID, p.now().UTC())

	var completion domain.Completion
	err := p.store.FinalizePlan(ctx, done, fresh, func(w PlanWriter) error {
		goalID, err := w.PersistGoal(ctx, *done.Goal, prerequisitesOf(done), userID, done.ID)
		if err != nil {
			return fmt.Errorf("persist goal: %w", err)
		}
		phases, err := w.PersistPhases(ctx, *done.Plan, goalID)
		if err != nil {
			return fmt.Errorf("persist phases: %w", err)
		}
		byTitle := make(map[string]string, len(phases))
		for _, ph := range phases {
			if _, dup := byTitle[ph.Title]; dup {
				slog.Warn("Repeated phase title, tasks attach to the first", "session_id", done.ID, "title", ph.Title)
				continue
			}
			byTitle[ph.Title] = ph.ID
		}
		taskIDs, err := w.PersistDailyTasks(ctx, done.Dailies, byTitle)
		if err != nil {
			return fmt.Errorf("persist daily tasks: %w", err)
		}
		completion = domain.Completion{GoalID: goalID, PhaseCount: len(phases), TaskCount: len(taskIDs)}
		done.Current = completion
		return nil
	})
	if err != nil {
		slog.Error("Failed to finalize plan", "error", err, "user_id", userID, "session_id", done.ID)
		if errors.Is(err, ErrConcurrentUpdate) {
			return Displayable{}, err
		}
		return Displayable{}, fmt.Errorf("%w: %v", ErrPersistenceConflict, err)
	}

	p.flush(userID, done.ID, domain.PhaseGenerateDailies, st.turns)
	slog.Info("Plan finalized",
		"user_id", userID,
		"session_id", done.ID,
		"goal_id", completion.GoalID,
		"phases", completion.PhaseCount,
		"tasks", completion.TaskCount,
	)
	// The completed session is retired; follow-up requests go to fresh.
	return Displayable{SessionID: fresh.ID, Phase: domain.PhaseGoalCompleted, Payload: completion}, nil
}

func prerequisitesOf(sess *domain.PlanningSession) domain.PrerequisiteSet {
	if sess.Prerequisites == nil {
		return domain.PrerequisiteSet{}
	}
	return *sess.Prerequisites
}

// begin loads the current session and returns a private working copy.
func (p *Planner) begin(ctx context.Context, userID, expectedSessionID string) (*step, error) {
	sess, err := p.sessions.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := p.sessions.Authorize(ctx, sess, userID, expectedSessionID); err != nil {
		return nil, err
	}
	return &step{sess: sess.Clone()}, nil
}

// commit writes the working copy back. Nothing reaches the store before this.
func (p *Planner) commit(ctx context.Context, userID string, st *step) (Displayable, error) {
	st.sess.UpdatedAt = p.now().UTC()
	if err := p.store.SaveSession(ctx, st.sess); err != nil {
		return Displayable{}, fmt.Errorf("save session: %w", err)
	}
	p.flush(userID, st.sess.ID, st.sess.Phase, st.turns)
	slog.Debug("Session updated",
		"user_id", userID,
		"session_id", st.sess.ID,
		"phase", st.sess.Phase,
		"revision", st.sess.Revision,
	)
	return display(st.sess), nil
}

func (p *Planner) flush(userID, sessionID string, phase domain.PhaseTag, turns []domain.Turn) {
	if p.recorder == nil {
		return
	}
	for _, t := range turns {
		p.recorder.RecordTurn(userID, sessionID, phase, t)
	}
}

// request builds the oracle request for a user turn in the session's phase.
func (p *Planner) request(sess *domain.PlanningSession, input string) oracle.Request {
	octx := oracle.Context{
		Today:         domain.DateOf(p.now()),
		Goal:          sess.Goal,
		Prerequisites: sess.Prerequisites,
		Plan:          sess.Plan,
	}
	if sess.Phase == domain.PhaseRefinePhases {
		if draft, ok := sess.Current.(domain.PhasePlan); ok {
			octx.Plan = &draft
		}
	}
	return oracle.Request{
		Phase:      sess.Phase,
		Context:    octx,
		Transcript: sess.Transcript.All(),
		UserInput:  input,
	}
}

// ask calls the oracle and decodes its answer for req.Phase. The returned
// string is the canonical JSON of the result, which is what transcripts keep.
func (p *Planner) ask(ctx context.Context, req oracle.Request) (domain.Result, string, error) {
	raw, err := p.oracle.Generate(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("oracle %s: %w", req.Phase, err)
	}
	res, err := ParseResult(raw, req.Phase)
	if err != nil {
		slog.Warn("Discarding oracle output", "phase", req.Phase, "error", err)
		return nil, "", err
	}
	canonical, err := json.Marshal(res)
	if err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", res.Kind(), err)
	}
	return res, string(canonical), nil
}
