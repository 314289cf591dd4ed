package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeResult_Variants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Result
	}{
		{
			name: "follow up",
			in:   `{"status":"follow_up_required","question_to_user":"By when?"}`,
			want: FollowUp{Question: "By when?"},
		},
		{
			name: "definition",
			in:   `{"status":"definitions_extracted","title":"Run a marathon","metric":"Finish 26.2mi under 5h","purpose":"fitness","deadline":"2026-06-01"}`,
			want: GoalDefinition{
				Title:    "Run a marathon",
				Metric:   "Finish 26.2mi under 5h",
				Purpose:  "fitness",
				Deadline: NewDate(2026, 6, 1),
			},
		},
		{
			name: "flat prerequisites",
			in:   `{"status":"prerequisites_extracted","skill_level":"Beginner","time_commitment_per_week_hours":12,"budget":0,"available_time_blocks":["Sat 9am-12pm"]}`,
			want: PrerequisiteSet{
				CurrentState:   CurrentState{SkillLevel: "Beginner"},
				FixedResources: FixedResources{TimeCommitmentPerWeekHours: 12},
				Constraints:    Constraints{AvailableTimeBlocks: []string{"Sat 9am-12pm"}},
			},
		},
		{
			name: "grouped prerequisites",
			in:   `{"status":"prerequisites_extracted","current_state":{"skill_level":"Advanced"},"fixed_resources":{"budget":150.5}}`,
			want: PrerequisiteSet{
				CurrentState:   CurrentState{SkillLevel: "Advanced"},
				FixedResources: FixedResources{Budget: 150.5},
			},
		},
		{
			name: "phase plan",
			in:   `{"status":"phases_generated","phases":[{"title":"Foundation","description":"base","start_date":"2025-01-01","end_date":"2025-03-01"}]}`,
			want: PhasePlan{Phases: []PlanPhase{{
				Title:       "Foundation",
				Description: "base",
				StartDate:   NewDate(2025, 1, 1),
				EndDate:     NewDate(2025, 3, 1),
			}}},
		},
		{
			name: "daily batch",
			in:   `{"status":"dailies_generated","dailies":[{"task_description":"Run 3k","dailies_date":"2025-01-02","start_time":"07:30","estimated_time_minutes":30,"phase_title":"Foundation","suggested_resource":["Couch to 5k"]}],"curr_phase":"Foundation","goal_phases":["Foundation","Build"]}`,
			want: DailyTaskBatch{
				Dailies: []DailyTask{{
					Description:      "Run 3k",
					Date:             NewDate(2025, 1, 2),
					StartTime:        "07:30",
					EstimatedMinutes: 30,
					PhaseTitle:       "Foundation",
					Resources:        []string{"Couch to 5k"},
				}},
				CurrPhase:  "Foundation",
				GoalPhases: []string{"Foundation", "Build"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResult([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeResult() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got, cmp.Comparer(func(a, b Date) bool { return a.Equal(b) })); diff != "" {
				t.Errorf("DecodeResult() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeResult_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no status", `{"question_to_user":"hi"}`},
		{"empty question", `{"status":"follow_up_required","question_to_user":"  "}`},
		{"definition missing metric", `{"status":"definitions_extracted","title":"x","purpose":"y","deadline":"2026-01-01"}`},
		{"bad date", `{"status":"definitions_extracted","title":"x","metric":"m","purpose":"y","deadline":"next year"}`},
		{"inverted phase", `{"status":"phases_generated","phases":[{"title":"A","start_date":"2025-03-01","end_date":"2025-01-01"}]}`},
		{"untitled phase", `{"status":"phases_generated","phases":[{"title":"","start_date":"2025-01-01","end_date":"2025-01-02"}]}`},
		{"repeated phase title", `{"status":"phases_generated","phases":[{"title":"Base","start_date":"2025-01-01","end_date":"2025-01-31"},{"title":"Base","start_date":"2025-02-01","end_date":"2025-02-28"}]}`},
		{"bad start time", `{"status":"dailies_generated","dailies":[{"dailies_date":"2025-01-01","start_time":"7am"}]}`},
		{"not json", `status: follow_up_required`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeResult([]byte(tt.in)); err == nil {
				t.Fatalf("DecodeResult(%s) expected error", tt.in)
			}
		})
	}
}

func TestDecodeResult_UnknownStatus(t *testing.T) {
	_, err := DecodeResult([]byte(`{"status":"dance"}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestResultMarshal_CarriesStatus(t *testing.T) {
	results := []Result{
		FollowUp{Question: "What would you like to achieve?"},
		PhasePlan{},
		DailyTaskBatch{CurrPhase: "Foundation"},
		Completion{GoalID: "g1", PhaseCount: 2, TaskCount: 9},
	}

	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("Marshal(%T) error = %v", r, err)
		}
		if !strings.HasPrefix(string(data), `{"status":"`+string(r.Kind())+`"`) {
			t.Errorf("Marshal(%T) = %s, missing status prefix", r, data)
		}
		kind, err := PeekKind(data)
		if err != nil || kind != r.Kind() {
			t.Errorf("PeekKind(%s) = %q, %v", data, kind, err)
		}
	}
}

func TestParsePhaseTag(t *testing.T) {
	for _, p := range AllPhases() {
		got, err := ParsePhaseTag(string(p))
		if err != nil || got != p {
			t.Errorf("ParsePhaseTag(%q) = %q, %v", p, got, err)
		}
	}
	for _, bad := range []string{"", "generate_phases", "DEFINE_GOAL"} {
		if _, err := ParsePhaseTag(bad); err == nil {
			t.Errorf("ParsePhaseTag(%q) expected error", bad)
		}
	}
	if !PhaseDefineGoal.Before(PhaseGoalCompleted) || PhaseGenerateDailies.Before(PhaseRefinePhases) {
		t.Error("phase ordering is wrong")
	}
}
