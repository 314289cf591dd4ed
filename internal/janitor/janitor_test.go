package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingPruner struct {
	calls     atomic.Int32
	retention atomic.Int64
	err       error
}

func (p *countingPruner) PruneSessions(_ context.Context, olderThan time.Duration) (int64, error) {
	p.calls.Add(1)
	p.retention.Store(int64(olderThan))
	if p.err != nil {
		return 0, p.err
	}
	return 2, nil
}

func TestStartSweepsUntilCanceled(t *testing.T) {
	p := &countingPruner{}
	ctx, cancel := context.WithCancel(context.Background())

	done := Start(ctx, p, time.Hour, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for p.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := p.calls.Load(); got < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", got)
	}
	if got := time.Duration(p.retention.Load()); got != time.Hour {
		t.Fatalf("retention = %v, want 1h", got)
	}
}

func TestStartDisabledWithoutRetention(t *testing.T) {
	p := &countingPruner{}
	done := Start(context.Background(), p, 0, time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected disabled janitor to return a closed channel")
	}
	if p.calls.Load() != 0 {
		t.Fatal("disabled janitor must not prune")
	}
}

func TestSweepSwallowsErrors(t *testing.T) {
	p := &countingPruner{err: errors.New("database is locked")}
	if got := Sweep(context.Background(), p, time.Hour); got != 0 {
		t.Fatalf("Sweep = %d, want 0 on error", got)
	}

	p.err = nil
	if got := Sweep(context.Background(), p, time.Hour); got != 2 {
		t.Fatalf("Sweep = %d, want 2", got)
	}
}
