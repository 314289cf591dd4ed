// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ashureev/goalpath/internal/domain"
	"github.com/ashureev/goalpath/internal/planning"
)

// Repository is the planning store plus the operational surface the
// server and CLI need.
type Repository interface {
	planning.Store

	// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// PruneSessions deletes non-current planning sessions idle for longer
	// than olderThan and reports how many were removed.
	PruneSessions(ctx context.Context, olderThan time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// DBTX is satisfied by both *sql.DB and *sql.Tx so queries can run inside
// or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ DBTX       = (*sql.DB)(nil)
	_ DBTX       = (*sql.Tx)(nil)
	_ Repository = (*SQLiteStore)(nil)
)
