package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ResultKind discriminates structured results. The values travel on the wire
// in the "status" field.
type ResultKind string

const (
	KindFollowUp      ResultKind = "follow_up_required"
	KindDefinition    ResultKind = "definitions_extracted"
	KindPrerequisites ResultKind = "prerequisites_extracted"
	KindPhasePlan     ResultKind = "phases_generated"
	KindDailyBatch    ResultKind = "dailies_generated"
	KindCompletion    ResultKind = "goal_completed"
)

// ErrUnknownKind is returned when a payload carries a status no variant handles.
var ErrUnknownKind = errors.New("unknown result status")

// Result is a structured result: what the oracle returns and what the UI shows.
type Result interface {
	Kind() ResultKind
	Validate() error
}

// FollowUp asks the user a single clarifying question.
type FollowUp struct {
	Question string `json:"question_to_user"`
}

// GoalDefinition is the extracted goal.
type GoalDefinition struct {
	Title    string `json:"title"`
	Metric   string `json:"metric"`
	Purpose  string `json:"purpose"`
	Deadline Date   `json:"deadline"`
}

// CurrentState describes where the user starts from.
type CurrentState struct {
	SkillLevel            string   `json:"skill_level"`
	RelatedExperience     []string `json:"related_experience"`
	ResourcesAvailable    []string `json:"resources_available"`
	UserGapAssessment     []string `json:"user_gap_assessment"`
	PossibleGapAssessment []string `json:"possible_gap_assessment"`
}

// FixedResources describes what the user can invest.
type FixedResources struct {
	TimeCommitmentPerWeekHours float64  `json:"time_commitment_per_week_hours"`
	Budget                     float64  `json:"budget"`
	RequiredEquipment          []string `json:"required_equipment"`
	SupportSystem              []string `json:"support_system"`
}

// Constraints describes when the user can and cannot work.
type Constraints struct {
	BlockedTimeBlocks   []string `json:"blocked_time_blocks"`
	AvailableTimeBlocks []string `json:"available_time_blocks"`
	Dependencies        []string `json:"dependencies"`
}

// PrerequisiteSet is the extracted user context for a goal.
type PrerequisiteSet struct {
	CurrentState   CurrentState   `json:"current_state"`
	FixedResources FixedResources `json:"fixed_resources"`
	Constraints    Constraints    `json:"constraints"`
}

// PlanPhase is one segment of the goal plan.
type PlanPhase struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StartDate   Date   `json:"start_date"`
	EndDate     Date   `json:"end_date"`
}

// Contains reports whether d falls within [StartDate, EndDate].
func (p PlanPhase) Contains(d Date) bool {
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// PhasePlan is an ordered list of plan phases.
type PhasePlan struct {
	Phases []PlanPhase `json:"phases"`
}

// Titles returns the phase titles in order.
func (p PhasePlan) Titles() []string {
	titles := make([]string, len(p.Phases))
	for i, ph := range p.Phases {
		titles[i] = ph.Title
	}
	return titles
}

// IndexOf returns the position of the phase with the given title, or -1.
func (p PhasePlan) IndexOf(title string) int {
	for i, ph := range p.Phases {
		if ph.Title == title {
			return i
		}
	}
	return -1
}

// DailyTask is a single scheduled task.
type DailyTask struct {
	Description      string   `json:"task_description"`
	Date             Date     `json:"dailies_date"`
	StartTime        string   `json:"start_time"`
	EstimatedMinutes int      `json:"estimated_time_minutes"`
	PhaseTitle       string   `json:"phase_title"`
	Resources        []string `json:"suggested_resource"`
}

// DailyTaskBatch is a window of daily tasks for one plan phase.
type DailyTaskBatch struct {
	Dailies    []DailyTask `json:"dailies"`
	CurrPhase  string      `json:"curr_phase"`
	GoalPhases []string    `json:"goal_phases"`
}

// Completion reports a finalized, persisted plan.
type Completion struct {
	GoalID     string `json:"goal_id"`
	PhaseCount int    `json:"phase_count"`
	TaskCount  int    `json:"task_count"`
}

func (FollowUp) Kind() ResultKind        { return KindFollowUp }
func (GoalDefinition) Kind() ResultKind  { return KindDefinition }
func (PrerequisiteSet) Kind() ResultKind { return KindPrerequisites }
func (PhasePlan) Kind() ResultKind       { return KindPhasePlan }
func (DailyTaskBatch) Kind() ResultKind  { return KindDailyBatch }
func (Completion) Kind() ResultKind      { return KindCompletion }

func (f FollowUp) Validate() error {
	if strings.TrimSpace(f.Question) == "" {
		return errors.New("follow-up question is empty")
	}
	return nil
}

func (g GoalDefinition) Validate() error {
	var missing []string
	if strings.TrimSpace(g.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(g.Metric) == "" {
		missing = append(missing, "metric")
	}
	if strings.TrimSpace(g.Purpose) == "" {
		missing = append(missing, "purpose")
	}
	if g.Deadline.IsZero() {
		missing = append(missing, "deadline")
	}
	if len(missing) > 0 {
		return fmt.Errorf("goal definition missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (p PrerequisiteSet) Validate() error {
	if p.FixedResources.TimeCommitmentPerWeekHours < 0 {
		return errors.New("time commitment must not be negative")
	}
	if p.FixedResources.Budget < 0 {
		return errors.New("budget must not be negative")
	}
	return nil
}

// Validate checks each phase individually and that titles are unique, since
// daily tasks refer to their phase by title. Contiguity between phases is not
// enforced.
func (p PhasePlan) Validate() error {
	seen := make(map[string]int, len(p.Phases))
	for i, ph := range p.Phases {
		if strings.TrimSpace(ph.Title) == "" {
			return fmt.Errorf("phase %d: title is empty", i)
		}
		if j, dup := seen[ph.Title]; dup {
			return fmt.Errorf("phase %d: title %q already used by phase %d", i, ph.Title, j)
		}
		seen[ph.Title] = i
		if ph.StartDate.IsZero() || ph.EndDate.IsZero() {
			return fmt.Errorf("phase %d: start_date and end_date are required", i)
		}
		if ph.EndDate.Before(ph.StartDate) {
			return fmt.Errorf("phase %d: end_date %s is before start_date %s", i, ph.EndDate, ph.StartDate)
		}
	}
	return nil
}

func (b DailyTaskBatch) Validate() error {
	for i, t := range b.Dailies {
		if t.Date.IsZero() {
			return fmt.Errorf("task %d: dailies_date is required", i)
		}
		if t.StartTime != "" {
			if _, err := time.Parse("15:04", t.StartTime); err != nil {
				return fmt.Errorf("task %d: start_time %q is not HH:MM", i, t.StartTime)
			}
		}
		if t.EstimatedMinutes < 0 {
			return fmt.Errorf("task %d: estimated_time_minutes must not be negative", i)
		}
	}
	return nil
}

func (c Completion) Validate() error {
	if c.GoalID == "" {
		return errors.New("completion has no goal id")
	}
	return nil
}

func marshalTagged(kind ResultKind, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	if len(body) == 2 { // "{}"
		return []byte(`{"status":` + string(tag) + `}`), nil
	}
	out := make([]byte, 0, len(body)+len(tag)+12)
	out = append(out, `{"status":`...)
	out = append(out, tag...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

func (f FollowUp) MarshalJSON() ([]byte, error) {
	type plain FollowUp
	return marshalTagged(f.Kind(), plain(f))
}

func (g GoalDefinition) MarshalJSON() ([]byte, error) {
	type plain GoalDefinition
	return marshalTagged(g.Kind(), plain(g))
}

func (p PrerequisiteSet) MarshalJSON() ([]byte, error) {
	type plain PrerequisiteSet
	return marshalTagged(p.Kind(), plain(p))
}

func (p PhasePlan) MarshalJSON() ([]byte, error) {
	type plain PhasePlan
	if p.Phases == nil {
		p.Phases = []PlanPhase{}
	}
	return marshalTagged(p.Kind(), plain(p))
}

func (b DailyTaskBatch) MarshalJSON() ([]byte, error) {
	type plain DailyTaskBatch
	if b.Dailies == nil {
		b.Dailies = []DailyTask{}
	}
	return marshalTagged(b.Kind(), plain(b))
}

func (c Completion) MarshalJSON() ([]byte, error) {
	type plain Completion
	return marshalTagged(c.Kind(), plain(c))
}

// PeekKind reads only the status discriminator of a JSON object.
func PeekKind(data []byte) (ResultKind, error) {
	var head struct {
		Status ResultKind `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("decode status: %w", err)
	}
	if head.Status == "" {
		return "", errors.New("result has no status")
	}
	return head.Status, nil
}

// DecodeResult decodes a JSON object into the variant named by its status
// and validates it.
func DecodeResult(data []byte) (Result, error) {
	kind, err := PeekKind(data)
	if err != nil {
		return nil, err
	}

	var res Result
	switch kind {
	case KindFollowUp:
		var v FollowUp
		err = json.Unmarshal(data, &v)
		res = v
	case KindDefinition:
		var v GoalDefinition
		err = json.Unmarshal(data, &v)
		res = v
	case KindPrerequisites:
		v, perr := decodePrerequisites(data)
		err = perr
		res = v
	case KindPhasePlan:
		var v PhasePlan
		err = json.Unmarshal(data, &v)
		res = v
	case KindDailyBatch:
		var v DailyTaskBatch
		err = json.Unmarshal(data, &v)
		res = v
	case KindCompletion:
		var v Completion
		err = json.Unmarshal(data, &v)
		res = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", kind, err)
	}
	return res, nil
}

// decodePrerequisites accepts both the grouped layout and the flat layout
// where every field sits at the top level next to status.
func decodePrerequisites(data []byte) (PrerequisiteSet, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return PrerequisiteSet{}, err
	}
	_, grouped := probe["current_state"]
	if !grouped {
		_, grouped = probe["fixed_resources"]
	}

	var v PrerequisiteSet
	if grouped {
		err := json.Unmarshal(data, &v)
		return v, err
	}
	if err := json.Unmarshal(data, &v.CurrentState); err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v.FixedResources); err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v.Constraints); err != nil {
		return v, err
	}
	return v, nil
}
