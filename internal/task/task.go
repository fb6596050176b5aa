package task

import (
	"fmt"
	"time"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending   Status = "pending"   // Stored, waiting for execution
	StatusRunning   Status = "running"   // External tool is executing
	StatusCompleted Status = "completed" // Finished with a result
	StatusFailed    Status = "failed"    // Finished with an error message
)

// IsTerminal reports whether no further transitions can happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the state machine.
// pending -> running -> {completed | failed}; nothing else.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Mode records how a task was submitted. Informational only.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// DefaultMinForRecursive matches amass' own default.
const DefaultMinForRecursive = 2

// Options are the enumeration flags passed to the external tool.
type Options struct {
	Brute           bool `json:"brute" bson:"brute"`
	MinForRecursive int  `json:"min_for_recursive" bson:"min_for_recursive"`
}

// DefaultOptions returns the options used when a request omits them.
func DefaultOptions() Options {
	return Options{MinForRecursive: DefaultMinForRecursive}
}

// Validate checks option bounds.
func (o Options) Validate() error {
	if o.MinForRecursive < 0 {
		return fmt.Errorf("min_for_recursive must be >= 0, got %d", o.MinForRecursive)
	}
	return nil
}

// Task is one enumeration job and the only persisted entity.
type Task struct {
	ID           string     `json:"id"`
	Domain       string     `json:"domain"`
	Options      Options    `json:"options"`
	Mode         Mode       `json:"mode"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Result       []string   `json:"result,omitempty"`        // Only when completed
	ErrorMessage string     `json:"error_message,omitempty"` // Only when failed
}

// New builds a pending task.
func New(id, domain string, opts Options, mode Mode, createdAt time.Time) *Task {
	return &Task{
		ID:        id,
		Domain:    domain,
		Options:   opts,
		Mode:      mode,
		Status:    StatusPending,
		CreatedAt: createdAt.UTC(),
	}
}

// Duration returns the execution time, or zero if the task has not finished.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}
