package events

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Event is the base interface for all events.
type Event interface {
	Topic() string
	EventType() string
	TaskID() string
	Fields() logrus.Fields
}

// Topic constants
const (
	TopicTask  = "task"
	TopicQueue = "queue"
)

// Event type constants
const (
	EventTypeTaskQueued    = "task.queued"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeQueueReset    = "queue.reset"
)

// TaskQueuedEvent is published when an async task is pushed onto the queue.
type TaskQueuedEvent struct {
	ID        string
	Domain    string
	Depth     int
	Timestamp time.Time
}

func (e TaskQueuedEvent) Topic() string     { return TopicTask }
func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) TaskID() string    { return e.ID }
func (e TaskQueuedEvent) Fields() logrus.Fields {
	return logrus.Fields{"task_id": e.ID, "domain": e.Domain, "queue_size": e.Depth}
}

// TaskStartedEvent is published when a task moves to running.
type TaskStartedEvent struct {
	ID        string
	Domain    string
	Mode      string
	Timestamp time.Time
}

func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }
func (e TaskStartedEvent) Fields() logrus.Fields {
	return logrus.Fields{"task_id": e.ID, "domain": e.Domain, "mode": e.Mode}
}

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	Domain    string
	Count     int // Hostnames found
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) Topic() string     { return TopicTask }
func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }
func (e TaskCompletedEvent) Fields() logrus.Fields {
	return logrus.Fields{"task_id": e.ID, "domain": e.Domain, "count": e.Count, "duration": e.Duration.String()}
}

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ID        string
	Domain    string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) Topic() string     { return TopicTask }
func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }
func (e TaskFailedEvent) Fields() logrus.Fields {
	f := logrus.Fields{"task_id": e.ID, "domain": e.Domain, "duration": e.Duration.String()}
	if e.Err != nil {
		f["error"] = e.Err.Error()
	}
	return f
}

// QueueResetEvent is published after the queue and store are cleared.
type QueueResetEvent struct {
	Drained   int
	Timestamp time.Time
}

func (e QueueResetEvent) Topic() string     { return TopicQueue }
func (e QueueResetEvent) EventType() string { return EventTypeQueueReset }
func (e QueueResetEvent) TaskID() string    { return "" }
func (e QueueResetEvent) Fields() logrus.Fields {
	return logrus.Fields{"drained": e.Drained}
}
