package domain

import "fmt"

// PhaseTag identifies the conversation phase a planning session is in.
// The string values are part of the wire contract with the UI.
type PhaseTag string

const (
	PhaseDefineGoal       PhaseTag = "define_goal"
	PhaseGetPrerequisites PhaseTag = "get_prerequisites"
	// PhaseRefinePhases covers both first-time plan generation and later
	// refinement; they share the same transition logic.
	PhaseRefinePhases    PhaseTag = "refine_phases"
	PhaseGenerateDailies PhaseTag = "generate_dailies"
	PhaseGoalCompleted   PhaseTag = "goal_completed"
)

var phaseOrder = map[PhaseTag]int{
	PhaseDefineGoal:       0,
	PhaseGetPrerequisites: 1,
	PhaseRefinePhases:     2,
	PhaseGenerateDailies:  3,
	PhaseGoalCompleted:    4,
}

// AllPhases lists every phase tag in conversation order.
func AllPhases() []PhaseTag {
	return []PhaseTag{
		PhaseDefineGoal,
		PhaseGetPrerequisites,
		PhaseRefinePhases,
		PhaseGenerateDailies,
		PhaseGoalCompleted,
	}
}

// ParsePhaseTag validates a stored or wire phase value.
func ParsePhaseTag(s string) (PhaseTag, error) {
	p := PhaseTag(s)
	if _, ok := phaseOrder[p]; !ok {
		return "", fmt.Errorf("unknown phase tag %q", s)
	}
	return p, nil
}

// Valid reports whether p is one of the defined phase tags.
func (p PhaseTag) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Before reports whether p comes strictly earlier in the conversation than other.
func (p PhaseTag) Before(other PhaseTag) bool {
	return phaseOrder[p] < phaseOrder[other]
}

func (p PhaseTag) String() string {
	return string(p)
}
