// Package janitor removes planning sessions nobody can reach anymore.
package janitor

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often Start sweeps.
const DefaultInterval = 30 * time.Minute

// Pruner deletes abandoned sessions older than a retention window.
type Pruner interface {
	PruneSessions(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Start runs a background goroutine that sweeps every interval until ctx is
// done. The returned channel is closed once the goroutine exits. A
// non-positive retention disables the worker.
func Start(ctx context.Context, p Pruner, retention, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if retention <= 0 {
		slog.Info("Session janitor disabled")
		close(done)
		return done
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session janitor started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, p, retention)
			case <-ctx.Done():
				slog.Info("Session janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

// Sweep runs one pruning pass and returns the number of deleted sessions.
func Sweep(ctx context.Context, p Pruner, retention time.Duration) int64 {
	deleted, err := p.PruneSessions(ctx, retention)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Session janitor interrupted", "error", err)
			return 0
		}
		slog.Error("Session janitor failed to prune sessions", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Session janitor pruned abandoned sessions", "count", deleted)
	}
	return deleted
}
