// Package worker owns task execution: the state transitions around one run
// of the external tool, and the single background loop that feeds it.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/amassd/internal/events"
	"github.com/aristath/amassd/internal/persistence"
	"github.com/aristath/amassd/internal/queue"
	"github.com/aristath/amassd/internal/runner"
	"github.com/aristath/amassd/internal/task"
	"github.com/sirupsen/logrus"
)

// Executor runs one task through pending -> running -> completed|failed.
// The worker loop and the synchronous request path share it.
type Executor struct {
	store  persistence.Store
	runner runner.Runner
	bus    *events.EventBus
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewExecutor creates an executor. bus may be nil.
func NewExecutor(store persistence.Store, r runner.Runner, bus *events.EventBus, logger logrus.FieldLogger) *Executor {
	return &Executor{
		store:  store,
		runner: r,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Execute runs the task described by e and returns its terminal record.
//
// A tool failure is not an error here: it is recorded on the task. The
// returned error is non-nil only when the store rejects a transition or
// fails, for example when the task was already started or cleared.
func (x *Executor) Execute(ctx context.Context, e queue.Entry) (*task.Task, error) {
	log := x.logger.WithFields(logrus.Fields{
		"task_id": e.TaskID,
		"domain":  e.Domain,
		"mode":    e.Mode,
	})

	startedAt := x.now().UTC()
	if err := x.store.MarkRunning(ctx, e.TaskID, startedAt); err != nil {
		return nil, fmt.Errorf("failed to start task: %w", err)
	}
	x.bus.Publish(events.TaskStartedEvent{ID: e.TaskID, Domain: e.Domain, Mode: string(e.Mode), Timestamp: startedAt})
	log.Debug("task running")

	result, runErr := x.run(ctx, e)
	completedAt := x.now().UTC()
	duration := completedAt.Sub(startedAt)

	if runErr != nil {
		if err := x.store.MarkFailed(ctx, e.TaskID, completedAt, runErr.Error()); err != nil {
			return nil, fmt.Errorf("failed to record task failure: %w", err)
		}
		x.bus.Publish(events.TaskFailedEvent{ID: e.TaskID, Domain: e.Domain, Err: runErr, Duration: duration, Timestamp: completedAt})
	} else {
		if err := x.store.MarkCompleted(ctx, e.TaskID, completedAt, result); err != nil {
			return nil, fmt.Errorf("failed to record task result: %w", err)
		}
		x.bus.Publish(events.TaskCompletedEvent{ID: e.TaskID, Domain: e.Domain, Count: len(result), Duration: duration, Timestamp: completedAt})
	}

	t, err := x.store.GetTask(ctx, e.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload task: %w", err)
	}
	return t, nil
}

// run calls the runner, converting a panic into an error.
func (x *Executor) run(ctx context.Context, e queue.Entry) (result []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("runner panic: %v", r)
		}
	}()

	return x.runner.Run(ctx, runner.Request{
		TaskID:  e.TaskID,
		Domain:  e.Domain,
		Options: e.Options,
	})
}
