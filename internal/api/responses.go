package api

import (
	"time"

	"github.com/aristath/amassd/internal/task"
)

// Response messages shared with the original Flask service.
const (
	MessageRunning   = "Amass enumeration service is running."
	MessageCompleted = "Amass enumeration completed."
	MessageFailed    = "Amass enumeration failed."
	MessageReset     = "Queue and task records cleared."
)

// EnumRequest is the body of POST /task.
type EnumRequest struct {
	Domain          string `json:"domain"`
	Brute           bool   `json:"brute"`
	MinForRecursive int    `json:"min_for_recursive"`
	Async           bool   `json:"async"`
}

// defaultEnumRequest is decoded over so absent fields keep their defaults.
func defaultEnumRequest() EnumRequest {
	return EnumRequest{MinForRecursive: task.DefaultMinForRecursive}
}

// ErrorResponse is returned for client and server errors.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CompletedResponse is a successful synchronous run.
type CompletedResponse struct {
	Status  string   `json:"status"`
	TaskID  string   `json:"task_id"`
	Domain  string   `json:"domain"`
	Output  []string `json:"output"`
	Message string   `json:"message"`
}

// FailedResponse is a synchronous run that ended in failed.
type FailedResponse struct {
	Status       string `json:"status"`
	TaskID       string `json:"task_id"`
	Domain       string `json:"domain"`
	Message      string `json:"message"`
	ErrorMessage string `json:"error_message"`
}

// AcceptedResponse is an async submission.
type AcceptedResponse struct {
	Status     string `json:"status"`
	TaskID     string `json:"task_id"`
	Domain     string `json:"domain"`
	TaskStatus string `json:"task_status"`
}

// TaskView is the public projection of a task record.
type TaskView struct {
	ID              string     `json:"id"`
	Domain          string     `json:"domain"`
	Brute           bool       `json:"brute"`
	MinForRecursive int        `json:"min_for_recursive"`
	Mode            string     `json:"mode"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	Output          *[]string  `json:"output,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// TaskResponse is GET /task/:id.
type TaskResponse struct {
	Status string   `json:"status"`
	TaskID string   `json:"task_id"`
	Task   TaskView `json:"task"`
}

// QueueResponse is GET /queue.
type QueueResponse struct {
	Status      string  `json:"status"`
	QueueSize   int     `json:"queue_size"`
	CurrentTask *string `json:"current_task"`
	WorkerAlive bool    `json:"worker_alive"`
}

// TasksResponse is GET /tasks.
type TasksResponse struct {
	Status string     `json:"status"`
	Count  int        `json:"count"`
	Tasks  []TaskView `json:"tasks"`
}

// ResetResponse is POST /reset.
type ResetResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Drained int    `json:"drained"`
}

// IndexResponse is GET /.
type IndexResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewTaskView projects t. Output appears only once the task completed
// and error_message only once it failed.
func NewTaskView(t *task.Task, withOutput bool) TaskView {
	v := TaskView{
		ID:              t.ID,
		Domain:          t.Domain,
		Brute:           t.Options.Brute,
		MinForRecursive: t.Options.MinForRecursive,
		Mode:            string(t.Mode),
		Status:          string(t.Status),
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
	}

	switch t.Status {
	case task.StatusCompleted:
		if withOutput {
			out := t.Result
			if out == nil {
				out = []string{}
			}
			v.Output = &out
		}
	case task.StatusFailed:
		v.ErrorMessage = t.ErrorMessage
	}
	return v
}
