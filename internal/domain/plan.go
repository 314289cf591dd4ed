package domain

import "time"

// Goal is a persisted, finalized goal.
type Goal struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	SessionID     string          `json:"session_id"`
	Title         string          `json:"title"`
	Metric        string          `json:"metric"`
	Purpose       string          `json:"purpose"`
	Deadline      Date            `json:"deadline"`
	Prerequisites PrerequisiteSet `json:"prerequisites"`
	Phases        []Phase         `json:"phases,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Phase is a persisted plan phase.
type Phase struct {
	ID          string `json:"id"`
	GoalID      string `json:"goal_id"`
	Position    int    `json:"position"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StartDate   Date   `json:"start_date"`
	EndDate     Date   `json:"end_date"`
	Completed   bool   `json:"completed"`
	Tasks       []Task `json:"tasks,omitempty"`
}

// Task is a persisted daily task.
type Task struct {
	ID              string   `json:"id"`
	PhaseID         string   `json:"phase_id"`
	Description     string   `json:"description"`
	Date            Date     `json:"date"`
	StartTime       string   `json:"start_time"`
	DurationMinutes int      `json:"duration_minutes"`
	Resources       []string `json:"resources"`
	Completed       bool     `json:"completed"`
}
