package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/goalpath/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository. dbPath may be ":memory:".
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	memory := dbPath == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if memory {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		current_session_id TEXT,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS planning_sessions (
		session_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(user_id),
		phase TEXT NOT NULL,
		transcript_json TEXT NOT NULL,
		goal_json TEXT,
		prerequisites_json TEXT,
		plan_json TEXT,
		dailies_json TEXT,
		plan_phase_index INTEGER NOT NULL DEFAULT 0,
		current_json TEXT,
		revision INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_planning_sessions_owner ON planning_sessions(owner_id);

	CREATE TABLE IF NOT EXISTS goals (
		goal_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(user_id),
		session_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		metric TEXT NOT NULL,
		purpose TEXT NOT NULL,
		deadline TEXT NOT NULL,
		skill_level TEXT,
		time_commitment_hours REAL,
		budget REAL,
		prerequisites_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_goals_owner ON goals(owner_id);

	CREATE TABLE IF NOT EXISTS plan_phases (
		phase_id TEXT PRIMARY KEY,
		goal_id TEXT NOT NULL REFERENCES goals(goal_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		UNIQUE (goal_id, position)
	);

	CREATE TABLE IF NOT EXISTS daily_tasks (
		task_id TEXT PRIMARY KEY,
		phase_id TEXT NOT NULL REFERENCES plan_phases(phase_id) ON DELETE CASCADE,
		description TEXT NOT NULL,
		task_date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		resources_json TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_daily_tasks_phase ON daily_tasks(phase_id, task_date);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying SQLite busy/locked failures with exponential
// backoff: 100ms, 200ms.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = fn()
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt == retryAttempts-1 {
			break
		}

		delay := retryBaseDelay * time.Duration(1<<attempt)
		slog.Debug("Database locked, retrying", "op", op, "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, retryAttempts, err)
}

// withinTx runs fn inside a transaction, rolling back on error or panic.
func (s *SQLiteStore) withinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return getUser(ctx, s.db, userID)
}

func getUser(ctx context.Context, q DBTX, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, current_session_id,
		       last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var currentSession sql.NullString
	var lastSeen, createdAt, updatedAt int64

	err := q.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &currentSession,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CurrentSessionID = currentSession.String
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// EnsureUser returns the user, inserting a row the first time the id is seen.
func (s *SQLiteStore) EnsureUser(ctx context.Context, userID string) (*domain.User, error) {
	now := s.now().Unix()
	err := s.withRetry(ctx, "ensure user", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			userID, userID, now, now, now,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s vanished after insert", userID)
	}
	return user, nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), s.now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

func setCurrentSession(ctx context.Context, q DBTX, userID, sessionID string, now int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE users SET current_session_id = ?, updated_at = ? WHERE user_id = ?`,
		sessionID, now, userID,
	)
	if err != nil {
		return fmt.Errorf("update current session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s not found", userID)
	}
	return nil
}
