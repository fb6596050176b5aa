package orchestrator

import "errors"

// ErrShuttingDown is returned for async submissions after Stop.
var ErrShuttingDown = errors.New("service is shutting down")

// ValidationError marks a request the client must fix.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a client error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// TaskError is a failure after the task record was stored. The caller
// still owns a task id and can report it.
type TaskError struct {
	TaskID string
	Domain string
	Err    error
}

func (e *TaskError) Error() string { return e.Err.Error() }

func (e *TaskError) Unwrap() error { return e.Err }
