package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/amassd/internal/persistence"
	"github.com/aristath/amassd/internal/queue"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval bounds how long the loop waits on an empty queue
// before rechecking for shutdown.
const DefaultPollInterval = time.Second

// Worker is the single background consumer of the queue.
type Worker struct {
	queue        *queue.Queue
	exec         *Executor
	pollInterval time.Duration
	logger       logrus.FieldLogger

	mu      sync.Mutex
	current string

	alive atomic.Bool
	done  chan struct{}
}

// New creates a worker. Call Run exactly once.
func New(q *queue.Queue, exec *Executor, pollInterval time.Duration, logger logrus.FieldLogger) *Worker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Worker{
		queue:        q,
		exec:         exec,
		pollInterval: pollInterval,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// Run processes entries one at a time until ctx ends or the queue is
// closed and empty. A task in flight always runs to completion; cancelling
// ctx only stops the loop from taking another.
func (w *Worker) Run(ctx context.Context) {
	w.alive.Store(true)
	defer func() {
		w.alive.Store(false)
		close(w.done)
	}()

	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")

	taskCtx := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		e, ok := w.queue.Pop(ctx, w.pollInterval)
		if !ok {
			if w.queue.Closed() && w.queue.Len() == 0 {
				return
			}
			continue
		}
		w.process(taskCtx, e)
	}
}

func (w *Worker) process(ctx context.Context, e queue.Entry) {
	log := w.logger.WithFields(logrus.Fields{"task_id": e.TaskID, "domain": e.Domain})

	w.setCurrent(e.TaskID)
	defer w.clearCurrent(e.TaskID)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("worker recovered from panic")
		}
	}()

	t, err := w.exec.Execute(ctx, e)
	switch {
	case errors.Is(err, persistence.ErrInvalidTransition), errors.Is(err, persistence.ErrTaskNotFound):
		log.WithError(err).Warn("skipping task")
	case err != nil:
		log.WithError(err).Error("task execution failed")
	default:
		log.WithFields(logrus.Fields{"status": t.Status, "duration": t.Duration()}).Info("task finished")
	}
}

// Alive reports whether Run is executing.
func (w *Worker) Alive() bool {
	return w.alive.Load()
}

// Current returns the id of the task being executed, or "".
func (w *Worker) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Detach forgets the in-flight task id. The run itself continues, but its
// record has been cleared, so the worker no longer reports it.
func (w *Worker) Detach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = ""
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) setCurrent(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = id
}

// clearCurrent resets current only if it still names id, so a Detach
// followed by the next task is not undone.
func (w *Worker) clearCurrent(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == id {
		w.current = ""
	}
}
