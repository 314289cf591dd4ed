// Package audit writes planning conversations to NDJSON files off the
// request path.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/goalpath/internal/domain"
)

// Config controls conversation logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one line in a conversation log.
type Event struct {
	Timestamp  string `json:"ts"`
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	Phase      string `json:"phase"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	ContentRaw string `json:"content_raw,omitempty"`
}

// Logger queues events and appends them to one file per planning session,
// plus an optional global file. When the queue is full the oldest event is
// dropped.
type Logger struct {
	cfg   Config
	queue chan Event
	done  chan struct{}

	sendMu  sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// Noop discards every turn.
type Noop struct{}

// RecordTurn implements planning.TurnRecorder.
func (Noop) RecordTurn(string, string, domain.PhaseTag, domain.Turn) {}

// Close implements io.Closer.
func (Noop) Close() error { return nil }

// NewLogger starts the background writer.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &Logger{
		cfg:   cfg,
		queue: make(chan Event, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go l.run()
	slog.Info("Conversation logger started", "dir", cfg.Dir, "global", cfg.GlobalEnabled, "queue_size", cfg.QueueSize)
	return l, nil
}

// RecordTurn implements planning.TurnRecorder. It never blocks.
func (l *Logger) RecordTurn(userID, sessionID string, phase domain.PhaseTag, turn domain.Turn) {
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ev := Event{
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		UserID:    userID,
		SessionID: sessionID,
		Phase:     string(phase),
		Role:      string(turn.Role),
		Content:   cleanForReadability(turn.Content),
	}
	if ev.Content != turn.Content {
		ev.ContentRaw = turn.Content
	}
	l.enqueue(ev)
}

func (l *Logger) enqueue(ev Event) {
	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.queue <- ev:
		return
	default:
	}

	// Full: drop the oldest queued event to make room.
	select {
	case <-l.queue:
		l.dropped.Add(1)
	default:
	}
	select {
	case l.queue <- ev:
	default:
		l.dropped.Add(1)
		slog.Warn("Conversation log queue full, dropping event", "user_id", ev.UserID, "session_id", ev.SessionID)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			slog.Warn("Failed to write conversation log", "error", err, "user_id", ev.UserID, "session_id", ev.SessionID)
		}
	}
}

func (l *Logger) write(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	path := filepath.Join(l.cfg.Dir, safeName(ev.UserID), safeName(ev.SessionID)+".ndjson")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	if err := appendFile(path, line); err != nil {
		return err
	}
	if l.cfg.GlobalEnabled {
		return appendFile(l.cfg.GlobalPath, line)
	}
	return nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Close stops accepting events and waits for queued ones to be written.
func (l *Logger) Close() error {
	l.sendMu.Lock()
	if l.closed {
		l.sendMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.sendMu.Unlock()

	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		slog.Warn("Conversation logger shutdown timeout", "remaining", len(l.queue))
	}
	return nil
}

var (
	ansiPattern   = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	unsafeInNames = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// cleanForReadability strips terminal escapes and control characters and
// collapses runs of whitespace.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func safeName(s string) string {
	s = unsafeInNames.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
