// Package orchestrator ties the store, queue and worker together behind the
// operations the HTTP layer exposes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/amassd/internal/domain"
	"github.com/aristath/amassd/internal/events"
	"github.com/aristath/amassd/internal/persistence"
	"github.com/aristath/amassd/internal/queue"
	"github.com/aristath/amassd/internal/task"
	"github.com/aristath/amassd/internal/worker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// InterruptedMessage is recorded on tasks found running at startup.
const InterruptedMessage = "interrupted: service restarted before the task finished"

// Deps are the collaborators a Service coordinates.
type Deps struct {
	Store    persistence.Store
	Queue    *queue.Queue
	Executor *worker.Executor
	Worker   *worker.Worker
	Bus      *events.EventBus // Optional
	Logger   logrus.FieldLogger
}

// CreateRequest is a submission before validation.
type CreateRequest struct {
	Domain  string
	Options task.Options
	Async   bool
}

// QueueStatus is a point-in-time view of the queue and worker.
type QueueStatus struct {
	Depth         int
	CurrentTaskID string
	WorkerAlive   bool
}

// RecoveryReport says what Start found from a previous run.
type RecoveryReport struct {
	Interrupted int // running -> failed
	Requeued    int // pending -> queue
}

// Service implements task submission, inspection and reset.
type Service struct {
	store  persistence.Store
	queue  *queue.Queue
	exec   *worker.Executor
	worker *worker.Worker
	bus    *events.EventBus
	logger logrus.FieldLogger

	newID func() string
	now   func() time.Time

	// admit orders insert+push against drain+clear.
	admit sync.Mutex

	startOnce sync.Once
	started   chan struct{}
}

// New creates a Service. Call Start before serving requests.
func New(d Deps) *Service {
	return &Service{
		store:   d.Store,
		queue:   d.Queue,
		exec:    d.Executor,
		worker:  d.Worker,
		bus:     d.Bus,
		logger:  d.Logger,
		newID:   uuid.NewString,
		now:     time.Now,
		started: make(chan struct{}),
	}
}

// Start reconciles tasks left over from a previous process and launches
// the worker. The worker stops taking new tasks when ctx ends.
func (s *Service) Start(ctx context.Context) (RecoveryReport, error) {
	var (
		report RecoveryReport
		err    error
	)
	s.startOnce.Do(func() {
		report, err = s.recover(ctx)
		if err != nil {
			return
		}
		close(s.started)
		go s.worker.Run(ctx)
	})
	return report, err
}

// recover fails tasks whose process died with the previous instance and
// re-enqueues tasks that never started.
func (s *Service) recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	running, err := s.store.ListTasksByStatus(ctx, task.StatusRunning)
	if err != nil {
		return report, fmt.Errorf("failed to list running tasks: %w", err)
	}
	for _, t := range running {
		err := s.store.MarkFailed(ctx, t.ID, s.now().UTC(), InterruptedMessage)
		if err != nil && !errors.Is(err, persistence.ErrInvalidTransition) {
			return report, fmt.Errorf("failed to mark task %s interrupted: %w", t.ID, err)
		}
		report.Interrupted++
	}

	pending, err := s.store.ListTasksByStatus(ctx, task.StatusPending)
	if err != nil {
		return report, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	for _, t := range pending {
		if err := s.queue.Push(entryFor(t)); err != nil {
			return report, fmt.Errorf("failed to requeue task %s: %w", t.ID, err)
		}
		report.Requeued++
	}

	if report.Interrupted > 0 || report.Requeued > 0 {
		s.logger.WithFields(logrus.Fields{
			"interrupted": report.Interrupted,
			"requeued":    report.Requeued,
		}).Info("recovered tasks from previous run")
	}
	return report, nil
}

// Stop closes the queue and waits for the worker to finish the queued
// backlog, or for ctx to end.
func (s *Service) Stop(ctx context.Context) error {
	s.queue.Close()

	select {
	case <-s.started:
	default:
		return nil
	}

	select {
	case <-s.worker.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker did not stop: %w", ctx.Err())
	}
}

// CreateTask validates and stores a task. Async tasks are queued and
// returned pending; sync tasks run inline and are returned terminal.
//
// A sync run is detached from ctx: a client that disconnects does not
// leave the record in running.
func (s *Service) CreateTask(ctx context.Context, req CreateRequest) (*task.Task, error) {
	if strings.TrimSpace(req.Domain) == "" {
		return nil, &ValidationError{Message: "Domain is required", Err: domain.ErrEmptyDomain}
	}

	host, err := domain.Normalize(req.Domain)
	if err != nil {
		msg := "Invalid domain"
		if errors.Is(err, domain.ErrEmptyDomain) {
			msg = "Domain is required"
		}
		return nil, &ValidationError{Message: msg, Err: err}
	}

	if err := req.Options.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error(), Err: err}
	}

	mode := task.ModeSync
	if req.Async {
		mode = task.ModeAsync
		if s.queue.Closed() {
			return nil, ErrShuttingDown
		}
	}

	t := task.New(s.newID(), host, req.Options, mode, s.now())
	log := s.logger.WithFields(logrus.Fields{"task_id": t.ID, "domain": t.Domain, "mode": t.Mode})

	if req.Async {
		return s.enqueue(ctx, t, log)
	}

	if err := s.store.InsertTask(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to store task: %w", err)
	}

	log.Info("running task synchronously")
	done, err := s.exec.Execute(context.WithoutCancel(ctx), entryFor(t))
	if err != nil {
		return nil, &TaskError{TaskID: t.ID, Domain: t.Domain, Err: err}
	}
	return done, nil
}

// enqueue stores t and hands it to the worker. It holds admit so a
// concurrent Reset sees either both steps or neither.
func (s *Service) enqueue(ctx context.Context, t *task.Task, log logrus.FieldLogger) (*task.Task, error) {
	s.admit.Lock()
	defer s.admit.Unlock()

	if err := s.store.InsertTask(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to store task: %w", err)
	}

	if err := s.queue.Push(entryFor(t)); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			// The record stays pending and is requeued on next start.
			return nil, ErrShuttingDown
		}
		return nil, &TaskError{TaskID: t.ID, Domain: t.Domain, Err: fmt.Errorf("failed to enqueue task: %w", err)}
	}
	depth := s.queue.Len()
	s.bus.Publish(events.TaskQueuedEvent{ID: t.ID, Domain: t.Domain, Depth: depth, Timestamp: t.CreatedAt})
	log.WithField("queue_size", depth).Info("task queued")
	return t, nil
}

// GetTask returns one task or persistence.ErrTaskNotFound.
func (s *Service) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListTasks returns every task, newest first.
func (s *Service) ListTasks(ctx context.Context) ([]*task.Task, error) {
	return s.store.ListTasks(ctx)
}

// QueueStatus reports queue depth and what the worker is doing.
func (s *Service) QueueStatus() QueueStatus {
	return QueueStatus{
		Depth:         s.queue.Len(),
		CurrentTaskID: s.worker.Current(),
		WorkerAlive:   s.worker.Alive(),
	}
}

// Reset drops queued work and every stored record. A tool already running
// is left to finish; its result is discarded because its record is gone.
func (s *Service) Reset(ctx context.Context) (int, error) {
	s.admit.Lock()
	defer s.admit.Unlock()

	drained := s.queue.Drain()
	s.worker.Detach()

	if err := s.store.ClearTasks(ctx); err != nil {
		return len(drained), fmt.Errorf("failed to clear tasks: %w", err)
	}

	m := s.queue.Metrics()
	s.bus.Publish(events.QueueResetEvent{Drained: len(drained), Timestamp: s.now().UTC()})
	s.logger.WithFields(logrus.Fields{
		"drained":       len(drained),
		"total_pushed":  m.PushCount.Load(),
		"total_popped":  m.PopCount.Load(),
		"total_drained": m.DrainedCount.Load(),
	}).Info("queue reset")
	return len(drained), nil
}

func entryFor(t *task.Task) queue.Entry {
	return queue.Entry{TaskID: t.ID, Domain: t.Domain, Options: t.Options, Mode: t.Mode}
}
