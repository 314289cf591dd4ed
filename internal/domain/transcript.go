package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a transcript turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// TranscriptVersion is the current envelope version written by MarshalJSON.
const TranscriptVersion = 1

// Turn is a single entry in a phase transcript.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts,omitempty"`
}

// Transcript is the ordered conversation history of the current phase.
// It is append-only until the phase advances, at which point it is cleared.
type Transcript struct {
	turns []Turn
}

// NewTranscript builds a transcript from existing turns.
func NewTranscript(turns ...Turn) Transcript {
	t := Transcript{}
	t.turns = append(t.turns, turns...)
	return t
}

// Append records a turn at the end of the transcript.
func (t *Transcript) Append(role Role, content string) {
	t.turns = append(t.turns, Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// Len returns the number of turns.
func (t Transcript) Len() int {
	return len(t.turns)
}

// Last returns the final turn, if any.
func (t Transcript) Last() (Turn, bool) {
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// Recent returns the last n turns.
func (t Transcript) Recent(n int) []Turn {
	if n >= len(t.turns) {
		return t.All()
	}
	out := make([]Turn, n)
	copy(out, t.turns[len(t.turns)-n:])
	return out
}

// All returns a copy of every turn in order.
func (t Transcript) All() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Clear drops every turn.
func (t *Transcript) Clear() {
	t.turns = nil
}

// Clone returns an independent copy.
func (t Transcript) Clone() Transcript {
	return NewTranscript(t.turns...)
}

type transcriptEnvelope struct {
	Version int    `json:"version"`
	Turns   []Turn `json:"turns"`
}

// MarshalJSON writes the versioned envelope {"version":1,"turns":[...]}.
func (t Transcript) MarshalJSON() ([]byte, error) {
	turns := t.turns
	if turns == nil {
		turns = []Turn{}
	}
	return json.Marshal(transcriptEnvelope{Version: TranscriptVersion, Turns: turns})
}

// UnmarshalJSON reads the versioned envelope, rejecting unknown versions and roles.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	var env transcriptEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode transcript: %w", err)
	}
	if env.Version != TranscriptVersion {
		return fmt.Errorf("unsupported transcript version %d", env.Version)
	}
	for i, turn := range env.Turns {
		if turn.Role != RoleUser && turn.Role != RoleModel {
			return fmt.Errorf("transcript turn %d: unknown role %q", i, turn.Role)
		}
	}
	t.turns = env.Turns
	return nil
}
