package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlanningSession is the durable per-user conversation state.
//
// Phase is the single source of truth for where the conversation stands;
// snapshot presence is derived from it, never the other way around.
type PlanningSession struct {
	ID            string
	OwnerID       string
	Phase         PhaseTag
	Transcript    Transcript
	Goal          *GoalDefinition
	Prerequisites *PrerequisiteSet
	Plan          *PhasePlan
	// Dailies accumulates every confirmed daily task across plan phases.
	Dailies []DailyTask
	// PlanPhaseIndex points at the plan phase whose tasks are being generated.
	PlanPhaseIndex int
	// Current is the last displayable result. Nil for a fresh session.
	Current   Result
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPlanningSession returns an empty define_goal session owned by ownerID.
func NewPlanningSession(ownerID string, now time.Time) *PlanningSession {
	return &PlanningSession{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Phase:     PhaseDefineGoal,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep enough copy for the state machine to mutate freely
// without touching the original.
func (s *PlanningSession) Clone() *PlanningSession {
	c := *s
	c.Transcript = s.Transcript.Clone()
	if s.Goal != nil {
		g := *s.Goal
		c.Goal = &g
	}
	if s.Prerequisites != nil {
		p := *s.Prerequisites
		c.Prerequisites = &p
	}
	if s.Plan != nil {
		p := PhasePlan{Phases: append([]PlanPhase(nil), s.Plan.Phases...)}
		c.Plan = &p
	}
	c.Dailies = append([]DailyTask(nil), s.Dailies...)
	return &c
}

// CurrentPlanPhase returns the plan phase PlanPhaseIndex points at.
func (s *PlanningSession) CurrentPlanPhase() (PlanPhase, bool) {
	if s.Plan == nil || s.PlanPhaseIndex < 0 || s.PlanPhaseIndex >= len(s.Plan.Phases) {
		return PlanPhase{}, false
	}
	return s.Plan.Phases[s.PlanPhaseIndex], true
}
