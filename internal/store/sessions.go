package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/goalpath/internal/domain"
	"github.com/ashureev/goalpath/internal/planning"
)

// GetSession loads a planning session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.PlanningSession, error) {
	return getSession(ctx, s.db, sessionID)
}

func getSession(ctx context.Context, q DBTX, sessionID string) (*domain.PlanningSession, error) {
	query := `
		SELECT session_id, owner_id, phase, transcript_json,
		       goal_json, prerequisites_json, plan_json, dailies_json,
		       plan_phase_index, current_json, revision, created_at, updated_at
		FROM planning_sessions WHERE session_id = ?`

	var sess domain.PlanningSession
	var phase, transcriptJSON string
	var goalJSON, prereqJSON, planJSON, dailiesJSON, currentJSON sql.NullString
	var createdAt, updatedAt int64

	err := q.QueryRowContext(ctx, query, sessionID).Scan(
		&sess.ID, &sess.OwnerID, &phase, &transcriptJSON,
		&goalJSON, &prereqJSON, &planJSON, &dailiesJSON,
		&sess.PlanPhaseIndex, &currentJSON, &sess.Revision, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", planning.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan planning session: %w", err)
	}

	if sess.Phase, err = domain.ParsePhaseTag(phase); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(transcriptJSON), &sess.Transcript); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	if sess.Goal, err = decodeOptional[domain.GoalDefinition](goalJSON); err != nil {
		return nil, fmt.Errorf("session %s goal: %w", sessionID, err)
	}
	if sess.Prerequisites, err = decodeOptional[domain.PrerequisiteSet](prereqJSON); err != nil {
		return nil, fmt.Errorf("session %s prerequisites: %w", sessionID, err)
	}
	if sess.Plan, err = decodeOptional[domain.PhasePlan](planJSON); err != nil {
		return nil, fmt.Errorf("session %s plan: %w", sessionID, err)
	}
	if dailiesJSON.Valid && dailiesJSON.String != "" {
		if err := json.Unmarshal([]byte(dailiesJSON.String), &sess.Dailies); err != nil {
			return nil, fmt.Errorf("session %s dailies: %w", sessionID, err)
		}
	}
	if currentJSON.Valid && currentJSON.String != "" {
		if sess.Current, err = domain.DecodeResult([]byte(currentJSON.String)); err != nil {
			return nil, fmt.Errorf("session %s current result: %w", sessionID, err)
		}
	}

	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// decodeOptional reads a nullable JSON column. The tagged results carry a
// "status" field that plain struct decoding ignores.
func decodeOptional[T any](col sql.NullString) (*T, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func encodeOptional(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// sessionColumns encodes the mutable columns of s in update order.
func sessionColumns(s *domain.PlanningSession) ([]any, error) {
	transcript, err := json.Marshal(s.Transcript)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}

	var goal, prereqs, plan, current any
	if s.Goal != nil {
		if goal, err = encodeOptional(*s.Goal); err != nil {
			return nil, fmt.Errorf("encode goal: %w", err)
		}
	}
	if s.Prerequisites != nil {
		if prereqs, err = encodeOptional(*s.Prerequisites); err != nil {
			return nil, fmt.Errorf("encode prerequisites: %w", err)
		}
	}
	if s.Plan != nil {
		if plan, err = encodeOptional(*s.Plan); err != nil {
			return nil, fmt.Errorf("encode plan: %w", err)
		}
	}
	if s.Current != nil {
		if current, err = encodeOptional(s.Current); err != nil {
			return nil, fmt.Errorf("encode current result: %w", err)
		}
	}
	dailies := s.Dailies
	if dailies == nil {
		dailies = []domain.DailyTask{}
	}
	dailiesJSON, err := json.Marshal(dailies)
	if err != nil {
		return nil, fmt.Errorf("encode dailies: %w", err)
	}

	return []any{
		string(s.Phase), string(transcript), goal, prereqs, plan,
		string(dailiesJSON), s.PlanPhaseIndex, current, s.UpdatedAt.Unix(),
	}, nil
}

func insertSession(ctx context.Context, q DBTX, s *domain.PlanningSession) error {
	cols, err := sessionColumns(s)
	if err != nil {
		return err
	}
	args := append([]any{s.ID, s.OwnerID}, cols...)
	args = append(args, s.Revision, s.CreatedAt.Unix())

	_, err = q.ExecContext(ctx, `
		INSERT INTO planning_sessions (
			session_id, owner_id, phase, transcript_json, goal_json,
			prerequisites_json, plan_json, dailies_json, plan_phase_index,
			current_json, updated_at, revision, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("insert planning session: %w", err)
	}
	return nil
}

// updateSession writes s if the stored revision equals s.Revision. It does
// not touch s.Revision; callers bump it after commit.
func updateSession(ctx context.Context, q DBTX, s *domain.PlanningSession) error {
	cols, err := sessionColumns(s)
	if err != nil {
		return err
	}
	args := append(cols, s.ID, s.Revision)

	result, err := q.ExecContext(ctx, `
		UPDATE planning_sessions SET
			phase = ?, transcript_json = ?, goal_json = ?,
			prerequisites_json = ?, plan_json = ?, dailies_json = ?,
			plan_phase_index = ?, current_json = ?, updated_at = ?,
			revision = revision + 1
		WHERE session_id = ? AND revision = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update planning session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM planning_sessions WHERE session_id = ?`, s.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", planning.ErrSessionNotFound, s.ID)
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	return fmt.Errorf("%w: session %s revision %d", planning.ErrConcurrentUpdate, s.ID, s.Revision)
}

// SaveSession persists s with an optimistic revision check.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *domain.PlanningSession) error {
	err := s.withRetry(ctx, "save session", func() error {
		return updateSession(ctx, s.db, sess)
	})
	if err != nil {
		return err
	}
	sess.Revision++
	return nil
}

// AttachSession inserts sess and makes it the user's current session.
func (s *SQLiteStore) AttachSession(ctx context.Context, userID string, sess *domain.PlanningSession) error {
	return s.withRetry(ctx, "attach session", func() error {
		return s.withinTx(ctx, func(tx *sql.Tx) error {
			if err := insertSession(ctx, tx, sess); err != nil {
				return err
			}
			return setCurrentSession(ctx, tx, userID, sess.ID, s.now().Unix())
		})
	})
}

// PruneSessions deletes planning sessions that are nobody's current session
// and were last updated before now minus olderThan.
func (s *SQLiteStore) PruneSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).Unix()
	var deleted int64
	err := s.withRetry(ctx, "prune sessions", func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM planning_sessions
			WHERE updated_at < ?
			  AND session_id NOT IN (
				SELECT current_session_id FROM users WHERE current_session_id IS NOT NULL
			  )`, cutoff)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return deleted, nil
}
