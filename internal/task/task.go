// Package task defines the task record shared by the launcher, the
// execution unit and the tracker.
package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRecord marks a stored metadata record that failed validation.
var ErrInvalidRecord = errors.New("invalid task record")

// Status represents the lifecycle state of a task. Transitions are
// one-directional: running → completed | failed | cancelled.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is the metadata record for one remote execution request.
// The launcher writes it once with status "running"; the execution unit
// is the sole writer afterwards and transitions it exactly once into a
// terminal status.
type Task struct {
	ID          string     `json:"taskId"`
	Status      Status     `json:"status"`
	Prompt      string     `json:"prompt"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ExitCode    *int       `json:"exitCode,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Validate rejects malformed records read back from the store.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty task id", ErrInvalidRecord)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, t.Status)
	}
	return nil
}

// IDLength is the length of a canonical task identifier.
const IDLength = 36

// NewID returns a fresh canonical task identifier.
func NewID() string {
	return uuid.New().String()
}

// ShortID returns the first 8 characters of an id for display and for
// naming the compute unit.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// Preview truncates a prompt to at most max runes for display and for
// the stored metadata record.
func Preview(prompt string, max int) string {
	runes := []rune(prompt)
	if len(runes) <= max {
		return prompt
	}
	return string(runes[:max]) + "..."
}
