package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/goalpath/internal/domain"
	"github.com/ashureev/goalpath/internal/planning"
)

// planWriter persists a finalized plan through a single transaction.
type planWriter struct {
	q   DBTX
	now int64
}

var _ planning.PlanWriter = (*planWriter)(nil)

// PersistGoal inserts the goal row. session_id is unique, so a retried
// finalize of the same session cannot create a second goal.
func (w *planWriter) PersistGoal(ctx context.Context, goal domain.GoalDefinition, prereqs domain.PrerequisiteSet, ownerID, sessionID string) (string, error) {
	prereqJSON, err := json.Marshal(prereqs)
	if err != nil {
		return "", fmt.Errorf("encode prerequisites: %w", err)
	}

	goalID := uuid.NewString()
	_, err = w.q.ExecContext(ctx, `
		INSERT INTO goals (
			goal_id, owner_id, session_id, title, metric, purpose, deadline,
			skill_level, time_commitment_hours, budget, prerequisites_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		goalID, ownerID, sessionID, goal.Title, goal.Metric, goal.Purpose, goal.Deadline.String(),
		prereqs.CurrentState.SkillLevel, prereqs.FixedResources.TimeCommitmentPerWeekHours,
		prereqs.FixedResources.Budget, string(prereqJSON), w.now,
	)
	if err != nil {
		return "", fmt.Errorf("insert goal: %w", err)
	}
	return goalID, nil
}

// PersistPhases inserts the plan phases in order.
func (w *planWriter) PersistPhases(ctx context.Context, plan domain.PhasePlan, goalID string) ([]domain.Phase, error) {
	phases := make([]domain.Phase, 0, len(plan.Phases))
	for i, p := range plan.Phases {
		ph := domain.Phase{
			ID:          uuid.NewString(),
			GoalID:      goalID,
			Position:    i,
			Title:       p.Title,
			Description: p.Description,
			StartDate:   p.StartDate,
			EndDate:     p.EndDate,
		}
		_, err := w.q.ExecContext(ctx, `
			INSERT INTO plan_phases (phase_id, goal_id, position, title, description, start_date, end_date)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ph.ID, ph.GoalID, ph.Position, ph.Title, ph.Description,
			ph.StartDate.String(), ph.EndDate.String(),
		)
		if err != nil {
			return nil, fmt.Errorf("insert phase %q: %w", p.Title, err)
		}
		phases = append(phases, ph)
	}
	return phases, nil
}

// PersistDailyTasks inserts tasks under the phase matching their title.
// Tasks with an unknown phase title are skipped.
func (w *planWriter) PersistDailyTasks(ctx context.Context, tasks []domain.DailyTask, phaseIDByTitle map[string]string) ([]string, error) {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		phaseID, ok := phaseIDByTitle[t.PhaseTitle]
		if !ok {
			slog.Warn("Dropping daily task with unknown phase", "phase_title", t.PhaseTitle, "date", t.Date.String())
			continue
		}

		resources := t.Resources
		if resources == nil {
			resources = []string{}
		}
		resourcesJSON, err := json.Marshal(resources)
		if err != nil {
			return nil, fmt.Errorf("encode resources: %w", err)
		}

		id := uuid.NewString()
		_, err = w.q.ExecContext(ctx, `
			INSERT INTO daily_tasks (task_id, phase_id, description, task_date, start_time, duration_minutes, resources_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, phaseID, t.Description, t.Date.String(), t.StartTime, t.EstimatedMinutes, string(resourcesJSON),
		)
		if err != nil {
			return nil, fmt.Errorf("insert daily task: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FinalizePlan persists the plan through write, retires done and attaches
// fresh to done's owner in one transaction.
func (s *SQLiteStore) FinalizePlan(ctx context.Context, done, fresh *domain.PlanningSession, write func(planning.PlanWriter) error) error {
	err := s.withRetry(ctx, "finalize plan", func() error {
		return s.withinTx(ctx, func(tx *sql.Tx) error {
			now := s.now().Unix()
			if err := write(&planWriter{q: tx, now: now}); err != nil {
				return err
			}
			if err := updateSession(ctx, tx, done); err != nil {
				return err
			}
			if err := insertSession(ctx, tx, fresh); err != nil {
				return err
			}
			return setCurrentSession(ctx, tx, done.OwnerID, fresh.ID, now)
		})
	})
	if err != nil {
		return err
	}
	done.Revision++
	return nil
}

// ListGoals returns the owner's goals, newest first, with phases and tasks.
func (s *SQLiteStore) ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT goal_id, owner_id, session_id, title, metric, purpose, deadline,
		       prerequisites_json, created_at
		FROM goals WHERE owner_id = ? ORDER BY created_at DESC, goal_id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close goal rows", "error", closeErr)
		}
	}()

	var goals []domain.Goal
	for rows.Next() {
		var g domain.Goal
		var deadline, prereqJSON string
		var createdAt int64
		if err := rows.Scan(&g.ID, &g.OwnerID, &g.SessionID, &g.Title, &g.Metric, &g.Purpose,
			&deadline, &prereqJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan goal row: %w", err)
		}
		if g.Deadline, err = domain.ParseDate(deadline); err != nil {
			return nil, fmt.Errorf("goal %s: %w", g.ID, err)
		}
		if err := json.Unmarshal([]byte(prereqJSON), &g.Prerequisites); err != nil {
			return nil, fmt.Errorf("goal %s prerequisites: %w", g.ID, err)
		}
		g.CreatedAt = time.Unix(createdAt, 0)
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}

	for i := range goals {
		phases, err := s.listPhases(ctx, goals[i].ID)
		if err != nil {
			return nil, err
		}
		goals[i].Phases = phases
	}
	return goals, nil
}

func (s *SQLiteStore) listPhases(ctx context.Context, goalID string) ([]domain.Phase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phase_id, goal_id, position, title, description, start_date, end_date, completed
		FROM plan_phases WHERE goal_id = ? ORDER BY position`,
		goalID,
	)
	if err != nil {
		return nil, fmt.Errorf("query phases: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close phase rows", "error", closeErr)
		}
	}()

	var phases []domain.Phase
	for rows.Next() {
		var p domain.Phase
		var start, end string
		if err := rows.Scan(&p.ID, &p.GoalID, &p.Position, &p.Title, &p.Description,
			&start, &end, &p.Completed); err != nil {
			return nil, fmt.Errorf("scan phase row: %w", err)
		}
		if p.StartDate, err = domain.ParseDate(start); err != nil {
			return nil, err
		}
		if p.EndDate, err = domain.ParseDate(end); err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phases: %w", err)
	}

	for i := range phases {
		tasks, err := s.listTasks(ctx, phases[i].ID)
		if err != nil {
			return nil, err
		}
		phases[i].Tasks = tasks
	}
	return phases, nil
}

func (s *SQLiteStore) listTasks(ctx context.Context, phaseID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, phase_id, description, task_date, start_time, duration_minutes, resources_json, completed
		FROM daily_tasks WHERE phase_id = ? ORDER BY task_date, start_time`,
		phaseID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close task rows", "error", closeErr)
		}
	}()

	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		var date, resourcesJSON string
		if err := rows.Scan(&t.ID, &t.PhaseID, &t.Description, &date, &t.StartTime,
			&t.DurationMinutes, &resourcesJSON, &t.Completed); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		if t.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(resourcesJSON), &t.Resources); err != nil {
			return nil, fmt.Errorf("task %s resources: %w", t.ID, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}
