package planning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/goalpath/internal/domain"
	"github.com/ashureev/goalpath/internal/oracle"
)

var fixedNow = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestPlanner(store *memStore, o Oracle, opts ...Option) *Planner {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewPlanner(store, o, opts...)
}

func marathonGoal() domain.GoalDefinition {
	return domain.GoalDefinition{
		Title:    "Run a marathon",
		Metric:   "Finish 26.2mi under 5h",
		Purpose:  "fitness",
		Deadline: domain.NewDate(2026, 6, 1),
	}
}

func marathonPrereqs() domain.PrerequisiteSet {
	return domain.PrerequisiteSet{
		CurrentState:   domain.CurrentState{SkillLevel: "Beginner"},
		FixedResources: domain.FixedResources{TimeCommitmentPerWeekHours: 5},
	}
}

func marathonPlan() domain.PhasePlan {
	return domain.PhasePlan{Phases: []domain.PlanPhase{
		{Title: "Foundation", Description: "Base mileage", StartDate: domain.NewDate(2025, 1, 1), EndDate: domain.NewDate(2025, 3, 1)},
		{Title: "Build", Description: "Long runs", StartDate: domain.NewDate(2025, 3, 1), EndDate: domain.NewDate(2025, 6, 1)},
	}}
}

func inGenerateDailies(s *domain.PlanningSession) {
	goal, prereqs, plan := marathonGoal(), marathonPrereqs(), marathonPlan()
	s.Phase = domain.PhaseGenerateDailies
	s.Goal = &goal
	s.Prerequisites = &prereqs
	s.Plan = &plan
}

func TestSubmitQuery_FollowUpStaysInDefineGoal(t *testing.T) {
	store := newMemStore()
	script := oracle.NewScript(oracle.Text(`{"status":"follow_up_required","question_to_user":"By when?"}`))
	p := newTestPlanner(store, script)

	got, err := p.SubmitQuery(context.Background(), "u1", Query{Text: "I want to run a marathon"})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseDefineGoal, got.Phase)
	assert.Equal(t, domain.FollowUp{Question: "By when?"}, got.Payload)

	sess := store.current(t, "u1")
	assert.Equal(t, 2, sess.Transcript.Len())
	turns := sess.Transcript.All()
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "I want to run a marathon", turns[0].Content)
	assert.Equal(t, domain.RoleModel, turns[1].Role)

	calls := script.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.PhaseDefineGoal, calls[0].Phase)
	assert.Empty(t, calls[0].Transcript)
}

func TestConfirmGoal_AdvancesAndClearsTranscript(t *testing.T) {
	store := newMemStore()
	store.seed("u1", func(s *domain.PlanningSession) {
		s.Transcript.Append(domain.RoleUser, "I want to run a marathon")
		s.Transcript.Append(domain.RoleModel, `{"status":"definitions_extracted"}`)
	})
	script := oracle.NewScript()
	p := newTestPlanner(store, script)

	got, err := p.SubmitConfirmation(context.Background(), "u1", Confirmation{Result: marathonGoal()})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseGetPrerequisites, got.Phase)
	assert.Equal(t, domain.KindFollowUp, got.Payload.Kind())

	sess := store.current(t, "u1")
	assert.Equal(t, domain.PhaseGetPrerequisites, sess.Phase)
	assert.Equal(t, 0, sess.Transcript.Len())
	require.NotNil(t, sess.Goal)
	assert.Equal(t, "Run a marathon", sess.Goal.Title)
	assert.Empty(t, script.Calls())
}

func TestSubmitQuery_PrerequisitesAutoAdvanceToPlan(t *testing.T) {
	store := newMemStore()
	goal := marathonGoal()
	store.seed("u1", func(s *domain.PlanningSession) {
		s.Phase = domain.PhaseGetPrerequisites
		s.Goal = &goal
	})
	script := oracle.NewScript(
		oracle.JSON(marathonPrereqs()),
		oracle.JSON(marathonPlan()),
	)
	p := newTestPlanner(store, script)

	got, err := p.SubmitQuery(context.Background(), "u1", Query{Text: "I can run 5 hours a week"})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseRefinePhases, got.Phase)
	plan, ok := got.Payload.(domain.PhasePlan)
	require.True(t, ok, "payload is %T", got.Payload)
	assert.Len(t, plan.Phases, 2)

	sess := store.current(t, "u1")
	require.NotNil(t, sess.Prerequisites)
	assert.Equal(t, "Beginner", sess.Prerequisites.CurrentState.SkillLevel)
	assert.Nil(t, sess.Plan, "draft plans are not snapshots")
	assert.Equal(t, 2, sess.Transcript.Len(), "only the chained plan request is in the new phase")

	calls := script.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, domain.PhaseGetPrerequisites, calls[0].Phase)
	assert.Equal(t, domain.PhaseRefinePhases, calls[1].Phase)
	require.NotNil(t, calls[1].Context.Prerequisites)
	assert.Empty(t, calls[1].Transcript)
}

func TestConfirmPlan_GeneratesFirstPhaseDailies(t *testing.T) {
	store := newMemStore()
	goal, prereqs := marathonGoal(), marathonPrereqs()
	store.seed("u1", func(s *domain.PlanningSession) {
		s.Phase = domain.PhaseRefinePhases
		s.Goal = &goal
		s.Prerequisites = &prereqs
	})
	script := oracle.NewScript().Otherwise(oracle.Dry)
	p := newTestPlanner(store, script)

	plan := marathonPlan()
	got, err := p.SubmitConfirmation(context.Background(), "u1", Confirmation{Result: plan})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseGenerateDailies, got.Phase)
	batch, ok := got.Payload.(domain.DailyTaskBatch)
	require.True(t, ok, "payload is %T", got.Payload)
	assert.Equal(t, "Foundation", batch.CurrPhase)
	assert.Equal(t, []string{"Foundation", "Build"}, batch.GoalPhases)
	require.NotEmpty(t, batch.Dailies)

	titles := map[string]bool{"Foundation": true, "Build": true}
	for _, task := range batch.Dailies {
		assert.True(t, plan.Phases[0].Contains(task.Date), "task dated %s outside Foundation", task.Date)
		assert.True(t, titles[task.PhaseTitle], "unknown phase title %q", task.PhaseTitle)
	}

	sess := store.current(t, "u1")
	assert.Equal(t, 0, sess.PlanPhaseIndex)
	require.NotNil(t, sess.Plan)
	assert.Len(t, sess.Plan.Phases, 2)
}

func TestConfirmDailies_FinalPhasePersistsAndResets(t *testing.T) {
	store := newMemStore()
	old := store.seed("u1", func(s *domain.PlanningSession) {
		inGenerateDailies(s)
		s.PlanPhaseIndex = 1
		s.Dailies = []domain.DailyTask{
			{Description: "Easy run", Date: domain.NewDate(2025, 1, 2), PhaseTitle: "Foundation"},
		}
	})
	recorder := &memRecorder{}
	p := newTestPlanner(store, oracle.NewScript(), WithRecorder(recorder))

	batch := domain.DailyTaskBatch{Dailies: []domain.DailyTask{
		{Description: "Long run", Date: domain.NewDate(2025, 3, 2), PhaseTitle: "Build"},
		{Description: "Tempo run", Date: domain.NewDate(2025, 3, 4), PhaseTitle: "Build"},
	}}
	got, err := p.SubmitConfirmation(context.Background(), "u1", Confirmation{Result: batch})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseGoalCompleted, got.Phase)
	completion, ok := got.Payload.(domain.Completion)
	require.True(t, ok, "payload is %T", got.Payload)
	assert.Equal(t, 2, completion.PhaseCount)
	assert.Equal(t, 3, completion.TaskCount)

	goals, err := store.ListGoals(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, old.ID, goals[0].SessionID)

	fresh := store.current(t, "u1")
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, fresh.ID, got.SessionID)
	assert.Equal(t, domain.PhaseDefineGoal, fresh.Phase)
	assert.Nil(t, fresh.Goal)

	retired, err := store.GetSession(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseGoalCompleted, retired.Phase)

	loaded, err := p.LoadCurrent(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDefineGoal, loaded.Phase)
	assert.Equal(t, Opener(), loaded.Payload)
}

func TestConfirmDailies_AdvancesToNextPlanPhase(t *testing.T) {
	store := newMemStore()
	store.seed("u1", inGenerateDailies)
	script := oracle.NewScript().Otherwise(oracle.Dry)
	p := newTestPlanner(store, script)

	batch := domain.DailyTaskBatch{Dailies: []domain.DailyTask{
		{Description: "Easy run", Date: domain.NewDate(2025, 1, 2), PhaseTitle: "Foundation"},
	}}
	got, err := p.SubmitConfirmation(context.Background(), "u1", Confirmation{Result: batch})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseGenerateDailies, got.Phase)
	next := got.Payload.(domain.DailyTaskBatch)
	assert.Equal(t, "Build", next.CurrPhase)
	for _, task := range next.Dailies {
		assert.Equal(t, "Build", task.PhaseTitle)
	}

	sess := store.current(t, "u1")
	assert.Equal(t, 1, sess.PlanPhaseIndex)
	assert.Len(t, sess.Dailies, 1)
	for _, call := range script.Calls() {
		require.NotNil(t, call.Context.TargetPhase)
		assert.Equal(t, "Build", call.Context.TargetPhase.Title)
	}
}

func TestSubLoop_FiltersAndStampsTasks(t *testing.T) {
	store := newMemStore()
	store.seed("u1", func(s *domain.PlanningSession) {
		goal := marathonGoal()
		s.Phase = domain.PhaseRefinePhases
		s.Goal = &goal
	})
	plan := domain.PhasePlan{Phases: []domain.PlanPhase{
		{Title: "Foundation", StartDate: domain.NewDate(2025, 1, 1), EndDate: domain.NewDate(2025, 1, 5)},
		{Title: "Build", StartDate: domain.NewDate(2025, 1, 6), EndDate: domain.NewDate(2025, 2, 1)},
	}}
	script := oracle.NewScript(oracle.JSON(domain.DailyTaskBatch{Dailies: []domain.DailyTask{
		{Description: "too early", Date: domain.NewDate(2024, 12, 31), PhaseTitle: "Foundation"},
		{Description: "mislabeled", Date: domain.NewDate(2025, 1, 2), PhaseTitle: "Build"},
		{Description: "last day", Date: domain.NewDate(2025, 1, 5), PhaseTitle: "Foundation"},
		{Description: "too late", Date: domain.NewDate(2025, 1, 6), PhaseTitle: "Build"},
	}}))
	p := newTestPlanner(store, script)

	got, err := p.SubmitConfirmation(context.Background(), "u1", Confirmation{Result: plan})
	require.NoError(t, err)

	batch := got.Payload.(domain.DailyTaskBatch)
	require.Len(t, batch.Dailies, 2)
	assert.Equal(t, "mislabeled", batch.Dailies[0].Description)
	assert.Equal(t, "Foundation", batch.Dailies[0].PhaseTitle)
	assert.Equal(t, "last day", batch.Dailies[1].Description)
	assert.Len(t, script.Calls(), 1, "cursor passed the phase end after one call")
}

func TestSubLoop_CallBounds(t *testing.T) {
	start := domain.NewDate(2025, 1, 1)

	tests := []struct {
		name  string
		end   domain.Date
		reply oracle.Reply
		want  int
	}{
		{
			name:  "no usable tasks",
			end:   domain.NewDate(2025, 3, 1), // 60 days
			reply: oracle.Text(`{"status":"dailies_generated","dailies":[]}`),
			want:  5, // ceil(60/14)
		},
		{
			name: "one task per call",
			end:  domain.NewDate(2025, 1, 10),
			reply: func(req oracle.Request) (string, error) {
				return oracle.JSON(domain.DailyTaskBatch{Dailies: []domain.DailyTask{
					{Description: "step", Date: req.Context.WindowStart},
				}})(req)
			},
			want: 10,
		},
		{
			name:  "full windows",
			end:   domain.NewDate(2025, 1, 28),
			reply: oracle.Dry,
			want:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.seed("u1", func(s *domain.PlanningSession) {
				goal := marathonGoal()
				s.Phase = domain.PhaseRefinePhases
				s.Goal = &goal
			})
			script := oracle.NewScript().Otherwise(tt.reply)
			p := newTestPlanner(store, script)

			var events []Progress
			ctx := WithProgress(context.Background(), func(pr Progress) { events = append(events, pr) })
			plan := domain.PhasePlan{Phases: []domain.PlanPhase{{Title: "Only", StartDate: start, EndDate: tt.end}}}

			_, err := p.SubmitConfirmation(ctx, "u1", Confirmation{Result: plan})
			require.NoError(t, err)
			assert.Len(t, script.Calls(), tt.want)
			assert.Len(t, events, tt.want)

			days := start.DaysUntil(tt.end) + 1
			assert.LessOrEqual(t, len(script.Calls()), days)
		})
	}
}

func TestSubLoop_CancellationLeavesSessionUntouched(t *testing.T) {
	store := newMemStore()
	before := store.seed("u1", func(s *domain.PlanningSession) {
		goal := marathonGoal()
		s.Phase = domain.PhaseRefinePhases
		s.Goal = &goal
	})
	script := oracle.NewScript().Otherwise(oracle.Text(`{"status":"dailies_generated","dailies":[]}`))
	p := newTestPlanner(store, script)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = WithProgress(ctx, func(Progress) { cancel() })

	_, err := p.SubmitConfirmation(ctx, "u1", Confirmation{Result: marathonPlan()})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, script.Calls(), 1)

	after := store.current(t, "u1")
	assert.Equal(t, domain.PhaseRefinePhases, after.Phase)
	assert.Nil(t, after.Plan)
	assert.Equal(t, before.Revision, after.Revision)
}

func TestSubmitQuery_MalformedOutputDoesNotMutate(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"prose", "Sure! Here is your plan."},
		{"wrong kind for phase", `{"status":"phases_generated","phases":[]}`},
		{"invalid definition", `{"status":"definitions_extracted","title":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			before := store.seed("u1", func(s *domain.PlanningSession) {
				s.Transcript.Append(domain.RoleUser, "earlier")
			})
			p := newTestPlanner(store, oracle.NewScript(oracle.Text(tt.reply)))

			_, err := p.SubmitQuery(context.Background(), "u1", Query{Text: "I want to learn piano"})
			require.ErrorIs(t, err, ErrMalformedOracleOutput)

			after := store.current(t, "u1")
			assert.Equal(t, before.Revision, after.Revision)
			assert.Equal(t, 1, after.Transcript.Len())
		})
	}
}

func TestSubmitQuery_OracleErrorPropagates(t *testing.T) {
	store := newMemStore()
	store.seed("u1", nil)
	p := newTestPlanner(store, oracle.NewScript(oracle.Fail(oracle.ErrUnavailable)))

	_, err := p.SubmitQuery(context.Background(), "u1", Query{Text: "hi"})
	assert.ErrorIs(t, err, oracle.ErrUnavailable)
}

func TestSubmitQuery_ChainedPlanFailureKeepsPrerequisitePhase(t *testing.T) {
	store := newMemStore()
	goal := marathonGoal()
	store.seed("u1", func(s *domain.PlanningSession) {
		s.Phase = domain.PhaseGetPrerequisites
		s.Goal = &goal
	})
	p := newTestPlanner(store, oracle.NewScript(
		oracle.JSON(marathonPrereqs()),
		oracle.Text("not json"),
	))

	_, err := p.SubmitQuery(context.Background(), "u1", Query{Text: "5 hours a week"})
	require.ErrorIs(t, err, ErrMalformedOracleOutput)

	sess := store.current(t, "u1")
	assert.Equal(t, domain.PhaseGetPrerequisites, sess.Phase)
	assert.Nil(t, sess.Prerequisites)
}

func TestSubmitQuery_RefinesDraftPlan(t *testing.T) {
	store := newMemStore()
	draft := marathonPlan()
	store.seed("u1", func(s *domain.PlanningSession) {
		goal := marathonGoal()
		s.Phase = domain.PhaseRefinePhases
		s.Goal = &goal
		s.Current = draft
	})
	refined := domain.PhasePlan{Phases: draft.Phases[:1]}
	script := oracle.NewScript(oracle.JSON(refined))
	p := newTestPlanner(store, script)

	got, err := p.SubmitQuery(context.Background(), "u1", Query{Text: "Make it one phase"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseRefinePhases, got.Phase)
	assert.Len(t, got.Payload.(domain.PhasePlan).Phases, 1)

	calls := script.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Context.Plan)
	assert.Len(t, calls[0].Context.Plan.Phases, 2, "oracle sees the current draft")
}

func TestSubmitQuery_FeedbackReschedulesWholePhase(t *testing.T) {
	store := newMemStore()
	store.seed("u1", func(s *domain.PlanningSession) {
		inGenerateDailies(s)
		s.Current = domain.DailyTaskBatch{CurrPhase: "Foundation", Dailies: []domain.DailyTask{
			{Description: "old", Date: domain.NewDate(2025, 1, 1), PhaseTitle: "Foundation"},
		}}
	})
	script := oracle.NewScript().Otherwise(oracle.Dry)
	p := newTestPlanner(store, script)

	got, err := p.SubmitQuery(context.Background(), "u1", Query{Text: "make the runs shorter"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseGenerateDailies, got.Phase)

	batch := got.Payload.(domain.DailyTaskBatch)
	assert.Equal(t, "Foundation", batch.CurrPhase)
	require.Len(t, batch.Dailies, 60, "every day of Foundation is scheduled again")
	assert.Equal(t, domain.NewDate(2025, 1, 1), batch.Dailies[0].Date)
	assert.Equal(t, domain.NewDate(2025, 3, 1), batch.Dailies[len(batch.Dailies)-1].Date)
	for _, task := range batch.Dailies {
		assert.Equal(t, "Foundation", task.PhaseTitle)
	}

	calls := script.Calls()
	require.Len(t, calls, 9)
	for _, call := range calls {
		assert.Contains(t, call.UserInput, "make the runs shorter")
		require.NotNil(t, call.Context.TargetPhase)
		assert.Equal(t, "Foundation", call.Context.TargetPhase.Title)
	}

	sess := store.current(t, "u1")
	assert.Equal(t, 0, sess.PlanPhaseIndex)
	assert.Empty(t, sess.Dailies, "nothing is accepted until confirmed")
}

func TestConfirmDailies_RepeatedConfirmationIsRejected(t *testing.T) {
	for _, currPhase := range []string{"Foundation", ""} {
		t.Run("curr_phase="+currPhase, func(t *testing.T) {
			store := newMemStore()
			store.seed("u1", inGenerateDailies)
			p := newTestPlanner(store, oracle.NewScript().Otherwise(oracle.Dry))
			ctx := context.Background()

			foundation := domain.DailyTaskBatch{CurrPhase: currPhase, Dailies: []domain.DailyTask{
				{Description: "Easy run", Date: domain.NewDate(2025, 1, 2), PhaseTitle: "Foundation"},
				{Description: "Strides", Date: domain.NewDate(2025, 1, 3), PhaseTitle: "Foundation"},
			}}
			first, err := p.SubmitConfirmation(ctx, "u1", Confirmation{Result: foundation})
			require.NoError(t, err)
			assert.Equal(t, "Build", first.Payload.(domain.DailyTaskBatch).CurrPhase)
			before := store.current(t, "u1")

			_, err = p.SubmitConfirmation(ctx, "u1", Confirmation{Result: foundation})
			require.ErrorIs(t, err, ErrInvalidTransition)

			after := store.current(t, "u1")
			assert.Equal(t, before.ID, after.ID)
			assert.Equal(t, domain.PhaseGenerateDailies, after.Phase)
			assert.Equal(t, 1, after.PlanPhaseIndex)
			assert.Len(t, after.Dailies, 2)
			assert.Equal(t, before.Revision, after.Revision)

			goals, err := store.ListGoals(ctx, "u1")
			require.NoError(t, err)
			assert.Empty(t, goals)
		})
	}
}

func TestConfirmDailies_BatchForAnotherPhaseIsRejected(t *testing.T) {
	store := newMemStore()
	before := store.seed("u1", inGenerateDailies)
	script := oracle.NewScript()
	p := newTestPlanner(store, script)

	batch := domain.DailyTaskBatch{CurrPhase: "Build", Dailies: []domain.DailyTask{
		{Description: "Long run", Date: domain.NewDate(2025, 3, 2), PhaseTitle: "Build"},
	}}
	_, err := p.SubmitConfirmation(context.Background(), "u1", Confirmation{Result: batch})
	require.ErrorIs(t, err, ErrInvalidTransition)

	after := store.current(t, "u1")
	assert.Equal(t, before.Revision, after.Revision)
	assert.Empty(t, after.Dailies)
	assert.Empty(t, script.Calls())
}

func TestConfirmDailies_LastTaskInLaterPhaseSkipsAhead(t *testing.T) {
	threePhases := domain.PhasePlan{Phases: []domain.PlanPhase{
		{Title: "Foundation", StartDate: domain.NewDate(2025, 1, 1), EndDate: domain.NewDate(2025, 1, 31)},
		{Title: "Build", StartDate: domain.NewDate(2025, 2, 1), EndDate: domain.NewDate(2025, 2, 28)},
		{Title: "Taper", StartDate: domain.NewDate(2025, 3, 1), EndDate: domain.NewDate(2025, 3, 14)},
	}}
	store := newMemStore()
	store.seed("u1", func(s *domain.PlanningSession) {
		inGenerateDailies(s)
		plan := threePhases
		s.Plan = &plan
	})
	script := oracle.NewScript().Otherwise(oracle.Dry)
	p := newTestPlanner(store, script)

	batch := domain.DailyTaskBatch{Dailies: []domain.DailyTask{
		{Description: "Easy run", Date: domain.NewDate(2025, 1, 30), PhaseTitle: "Foundation"},
		{Description: "Hill repeats", Date: domain.NewDate(2025, 2, 2), PhaseTitle: "Build"},
	}}
	got, err := p.SubmitConfirmation(context.Background(), "u1", Confirmation{Result: batch})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseGenerateDailies, got.Phase)
	assert.Equal(t, "Taper", got.Payload.(domain.DailyTaskBatch).CurrPhase)

	sess := store.current(t, "u1")
	assert.Equal(t, 2, sess.PlanPhaseIndex)
	assert.Len(t, sess.Dailies, 2)
	for _, call := range script.Calls() {
		require.NotNil(t, call.Context.TargetPhase)
		assert.Equal(t, "Taper", call.Context.TargetPhase.Title)
	}
}

func TestConfirmDailies_LastTaskInFinalPhaseFinalizes(t *testing.T) {
	store := newMemStore()
	old := store.seed("u1", inGenerateDailies)
	script := oracle.NewScript()
	p := newTestPlanner(store, script)

	batch := domain.DailyTaskBatch{Dailies: []domain.DailyTask{
		{Description: "Easy run", Date: domain.NewDate(2025, 1, 2), PhaseTitle: "Foundation"},
		{Description: "Long run", Date: domain.NewDate(2025, 3, 2), PhaseTitle: "Build"},
	}}
	got, err := p.SubmitConfirmation(context.Background(), "u1", Confirmation{Result: batch})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseGoalCompleted, got.Phase)
	assert.Equal(t, 2, got.Payload.(domain.Completion).TaskCount)
	assert.NotEqual(t, old.ID, store.current(t, "u1").ID)
	assert.Empty(t, script.Calls())
}

func TestSubmitConfirmation_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.PlanningSession)
		result domain.Result
	}{
		{"plan during define_goal", nil, marathonPlan()},
		{"goal during get_prerequisites", func(s *domain.PlanningSession) { s.Phase = domain.PhaseGetPrerequisites }, marathonGoal()},
		{"prerequisites are never confirmed", func(s *domain.PlanningSession) { s.Phase = domain.PhaseGetPrerequisites }, marathonPrereqs()},
		{"empty plan", func(s *domain.PlanningSession) { s.Phase = domain.PhaseRefinePhases }, domain.PhasePlan{}},
		{"repeated phase title", func(s *domain.PlanningSession) { s.Phase = domain.PhaseRefinePhases }, domain.PhasePlan{Phases: []domain.PlanPhase{
			{Title: "Base", StartDate: domain.NewDate(2025, 1, 1), EndDate: domain.NewDate(2025, 1, 31)},
			{Title: "Base", StartDate: domain.NewDate(2025, 2, 1), EndDate: domain.NewDate(2025, 2, 28)},
		}}},
		{"follow-up", nil, domain.FollowUp{Question: "?"}},
		{"invalid goal", nil, domain.GoalDefinition{Title: "x"}},
		{"completed session", func(s *domain.PlanningSession) { s.Phase = domain.PhaseGoalCompleted }, marathonGoal()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			before := store.seed("u1", tt.mutate)
			script := oracle.NewScript()
			p := newTestPlanner(store, script)

			_, err := p.SubmitConfirmation(context.Background(), "u1", Confirmation{Result: tt.result})
			require.ErrorIs(t, err, ErrInvalidTransition)

			after := store.current(t, "u1")
			assert.Equal(t, before.Phase, after.Phase)
			assert.Equal(t, before.Revision, after.Revision)
			assert.Empty(t, script.Calls())
		})
	}
}

func TestFinalizeFailure_IsPersistenceConflict(t *testing.T) {
	store := newMemStore()
	before := store.seed("u1", inGenerateDailies)
	store.finalizeErr = errors.New("disk full")
	p := newTestPlanner(store, oracle.NewScript())

	batch := domain.DailyTaskBatch{Dailies: []domain.DailyTask{
		{Description: "Long run", Date: domain.NewDate(2025, 3, 2), PhaseTitle: "Build"},
	}}
	_, err := p.SubmitConfirmation(context.Background(), "u1", Confirmation{Result: batch})
	require.ErrorIs(t, err, ErrPersistenceConflict)

	after := store.current(t, "u1")
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, domain.PhaseGenerateDailies, after.Phase)
	assert.Empty(t, after.Dailies)
}

func TestOwnership(t *testing.T) {
	store := newMemStore()
	other := store.seed("u2", nil)
	mine := store.seed("u1", nil)
	p := newTestPlanner(store, oracle.NewScript(oracle.Text(`{"status":"follow_up_required","question_to_user":"?"}`)))
	ctx := context.Background()

	_, err := p.SubmitQuery(ctx, "u1", Query{SessionID: other.ID, Text: "hi"})
	assert.ErrorIs(t, err, ErrOwnershipMismatch)

	_, err = p.Reset(ctx, "u1")
	require.NoError(t, err)

	_, err = p.SubmitQuery(ctx, "u1", Query{SessionID: mine.ID, Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidTransition, "stale own session")

	_, err = p.SubmitQuery(ctx, "u1", Query{SessionID: "does-not-exist", Text: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLoadCurrent_IsIdempotent(t *testing.T) {
	store := newMemStore()
	script := oracle.NewScript()
	p := newTestPlanner(store, script)
	ctx := context.Background()

	first, err := p.LoadCurrent(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDefineGoal, first.Phase)
	assert.Equal(t, Opener(), first.Payload)
	sess := store.current(t, "u1")

	second, err := p.LoadCurrent(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, sess.ID, store.current(t, "u1").ID)
	assert.Equal(t, sess.Revision, store.current(t, "u1").Revision)
	assert.Empty(t, script.Calls())
}

func TestLoadCurrent_ReturnsStoredResult(t *testing.T) {
	store := newMemStore()
	store.seed("u1", func(s *domain.PlanningSession) {
		s.Current = domain.FollowUp{Question: "By when?"}
	})
	p := newTestPlanner(store, oracle.NewScript())

	got, err := p.LoadCurrent(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.FollowUp{Question: "By when?"}, got.Payload)
}

func TestReset_StartsEmptyDefineGoal(t *testing.T) {
	store := newMemStore()
	old := store.seed("u1", inGenerateDailies)
	p := newTestPlanner(store, oracle.NewScript())

	got, err := p.Reset(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseDefineGoal, got.Phase)
	assert.Equal(t, Opener(), got.Payload)

	sess := store.current(t, "u1")
	assert.NotEqual(t, old.ID, sess.ID)
	assert.Nil(t, sess.Goal)
	assert.Nil(t, sess.Prerequisites)
	assert.Nil(t, sess.Plan)
	assert.Empty(t, sess.Dailies)
	assert.Equal(t, 0, sess.Transcript.Len())
}

func TestReset_FailureKeepsPreviousSession(t *testing.T) {
	store := newMemStore()
	old := store.seed("u1", inGenerateDailies)
	store.attachErr = errors.New("locked")
	p := newTestPlanner(store, oracle.NewScript())

	_, err := p.Reset(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, old.ID, store.current(t, "u1").ID)
}

func TestRecorder_ReceivesCommittedTurns(t *testing.T) {
	store := newMemStore()
	recorder := &memRecorder{}
	p := newTestPlanner(store,
		oracle.NewScript(
			oracle.Text(`{"status":"follow_up_required","question_to_user":"By when?"}`),
			oracle.Text("garbage"),
		),
		WithRecorder(recorder),
	)
	ctx := context.Background()

	_, err := p.SubmitQuery(ctx, "u1", Query{Text: "marathon"})
	require.NoError(t, err)
	assert.Equal(t, 2, recorder.count())

	_, err = p.SubmitQuery(ctx, "u1", Query{Text: "June"})
	require.Error(t, err)
	assert.Equal(t, 2, recorder.count(), "failed requests record nothing")
}

func TestSameUserRequestsAreSerialized(t *testing.T) {
	store := newMemStore()
	script := oracle.NewScript().Otherwise(oracle.Text(`{"status":"follow_up_required","question_to_user":"?"}`))
	p := newTestPlanner(store, script)
	ctx := context.Background()

	_, err := p.LoadCurrent(ctx, "u1")
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.SubmitQuery(ctx, "u1", Query{Text: "hello"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	sess := store.current(t, "u1")
	assert.Equal(t, int64(n), sess.Revision)
	assert.Equal(t, 2*n, sess.Transcript.Len())
}
