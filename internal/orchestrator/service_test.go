package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/amassd/internal/domain"
	"github.com/aristath/amassd/internal/events"
	"github.com/aristath/amassd/internal/persistence"
	"github.com/aristath/amassd/internal/queue"
	"github.com/aristath/amassd/internal/runner"
	"github.com/aristath/amassd/internal/task"
	"github.com/aristath/amassd/internal/worker"
	"github.com/sirupsen/logrus/hooks/test"
)

// fakeRunner returns canned results and can be held open.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	results map[string][]string
	gate    chan struct{} // when non-nil, Run waits on it
}

func (f *fakeRunner) Run(ctx context.Context, req runner.Request) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Domain)
	gate := f.gate
	err := f.fail[req.Domain]
	res, ok := f.results[req.Domain]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		res = []string{"www." + req.Domain}
	}
	return res, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixture struct {
	svc    *Service
	store  *persistence.SQLiteStore
	queue  *queue.Queue
	worker *worker.Worker
	runner *fakeRunner
	bus    *events.EventBus
}

func newFixture(t *testing.T, r *fakeRunner) *fixture {
	t.Helper()
	store, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if r == nil {
		r = &fakeRunner{}
	}
	logger, _ := test.NewNullLogger()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)

	q := queue.New()
	exec := worker.NewExecutor(store, r, bus, logger)
	w := worker.New(q, exec, 10*time.Millisecond, logger)

	svc := New(Deps{Store: store, Queue: q, Executor: exec, Worker: w, Bus: bus, Logger: logger})
	return &fixture{svc: svc, store: store, queue: q, worker: w, runner: r, bus: bus}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := f.svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		f.svc.Stop(stopCtx)
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateTask_SyncCompleted(t *testing.T) {
	r := &fakeRunner{results: map[string][]string{"example.com": {"a.example.com", "b.example.com"}}}
	f := newFixture(t, r)
	f.start(t)

	got, err := f.svc.CreateTask(context.Background(), CreateRequest{
		Domain:  "https://example.com:8080/x",
		Options: task.DefaultOptions(),
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if got.Domain != "example.com" {
		t.Errorf("expected normalized domain, got %q", got.Domain)
	}
	if got.Status != task.StatusCompleted || got.Mode != task.ModeSync {
		t.Errorf("expected completed sync task, got %s %s", got.Status, got.Mode)
	}
	if len(got.Result) != 2 || got.Result[0] != "a.example.com" || got.Result[1] != "b.example.com" {
		t.Errorf("unexpected result: %v", got.Result)
	}

	stored, _ := f.svc.GetTask(context.Background(), got.ID)
	if stored.Status != task.StatusCompleted {
		t.Errorf("store disagrees with response: %s", stored.Status)
	}
}

func TestCreateTask_SyncFailed(t *testing.T) {
	r := &fakeRunner{fail: map[string]error{"broken.com": errors.New("command 'amass enum -d broken.com' failed: boom")}}
	f := newFixture(t, r)

	got, err := f.svc.CreateTask(context.Background(), CreateRequest{Domain: "broken.com", Options: task.DefaultOptions()})
	if err != nil {
		t.Fatalf("execution failure should be on the task, got error %v", err)
	}
	if got.Status != task.StatusFailed || got.ErrorMessage == "" || got.Result != nil {
		t.Errorf("expected failed task with message only, got %+v", got)
	}
}

func TestCreateTask_SyncIgnoresCallerCancellation(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{})}
	f := newFixture(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *task.Task, 1)
	go func() {
		got, _ := f.svc.CreateTask(ctx, CreateRequest{Domain: "example.com", Options: task.DefaultOptions()})
		done <- got
	}()

	waitFor(t, "runner call", func() bool { return len(r.Calls()) == 1 })
	cancel()
	close(r.gate)

	got := <-done
	if got == nil || got.Status != task.StatusCompleted {
		t.Errorf("expected the sync task to complete despite cancellation, got %+v", got)
	}
}

func TestCreateTask_AsyncQueued(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.bus.Subscribe(events.TopicTask, 10)

	got, err := f.svc.CreateTask(context.Background(), CreateRequest{Domain: "example.com", Options: task.DefaultOptions(), Async: true})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if got.Status != task.StatusPending || got.Mode != task.ModeAsync {
		t.Errorf("expected pending async task, got %s %s", got.Status, got.Mode)
	}

	stored, err := f.svc.GetTask(context.Background(), got.ID)
	if err != nil || stored.Status != task.StatusPending {
		t.Errorf("expected stored pending task, got %+v %v", stored, err)
	}
	if f.svc.QueueStatus().Depth != 1 {
		t.Errorf("expected queue depth 1, got %d", f.svc.QueueStatus().Depth)
	}

	select {
	case ev := <-sub:
		if ev.EventType() != events.EventTypeTaskQueued || ev.TaskID() != got.ID {
			t.Errorf("unexpected event %s for %s", ev.EventType(), ev.TaskID())
		}
	case <-time.After(time.Second):
		t.Fatal("expected a queued event")
	}
}

func TestCreateTask_AsyncProcessedInOrder(t *testing.T) {
	r := &fakeRunner{}
	f := newFixture(t, r)
	f.start(t)

	domains := []string{"a.com", "b.com", "c.com"}
	var ids []string
	for _, d := range domains {
		tk, err := f.svc.CreateTask(context.Background(), CreateRequest{Domain: d, Options: task.DefaultOptions(), Async: true})
		if err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
		ids = append(ids, tk.ID)
	}

	waitFor(t, "all tasks terminal", func() bool {
		for _, id := range ids {
			tk, err := f.svc.GetTask(context.Background(), id)
			if err != nil || !tk.Status.IsTerminal() {
				return false
			}
		}
		return true
	})

	calls := r.Calls()
	for i, d := range domains {
		if calls[i] != d {
			t.Errorf("position %d: expected %s, got %s", i, d, calls[i])
		}
	}
}

func TestCreateTask_UniqueIDs(t *testing.T) {
	f := newFixture(t, nil)
	seen := make(map[string]bool)

	for i := 0; i < 20; i++ {
		tk, err := f.svc.CreateTask(context.Background(), CreateRequest{Domain: "example.com", Options: task.DefaultOptions(), Async: true})
		if err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
		if seen[tk.ID] {
			t.Fatalf("duplicate id %s", tk.ID)
		}
		seen[tk.ID] = true
	}
}

func TestCreateTask_Validation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		req    CreateRequest
		wantIs error
	}{
		{"empty", CreateRequest{Domain: "", Async: true}, domain.ErrEmptyDomain},
		{"blank", CreateRequest{Domain: "   "}, domain.ErrEmptyDomain},
		{"malformed", CreateRequest{Domain: "http://"}, domain.ErrInvalidDomain},
		{"port only", CreateRequest{Domain: "http://:8080"}, domain.ErrEmptyDomain},
		{"negative recursion", CreateRequest{Domain: "example.com", Options: task.Options{MinForRecursive: -1}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateTask(context.Background(), tt.req)
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("expected %v in chain, got %v", tt.wantIs, err)
			}
		})
	}

	tasks, _ := f.svc.ListTasks(context.Background())
	if len(tasks) != 0 {
		t.Errorf("validation failures must not create tasks, found %d", len(tasks))
	}
	if len(f.runner.Calls()) != 0 {
		t.Errorf("runner must not be called on validation failure")
	}
}

func TestCreateTask_AsyncAfterStop(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.Stop(context.Background())

	_, err := f.svc.CreateTask(context.Background(), CreateRequest{Domain: "example.com", Async: true, Options: task.DefaultOptions()})
	if !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.GetTask(context.Background(), "unknown")
	if !errors.Is(err, persistence.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestListTasks_NewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f.svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	var ids []string
	for _, d := range []string{"a.com", "b.com", "c.com"} {
		tk, _ := f.svc.CreateTask(context.Background(), CreateRequest{Domain: d, Options: task.DefaultOptions(), Async: true})
		ids = append(ids, tk.ID)
	}

	tasks, err := f.svc.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 3 || tasks[0].ID != ids[2] || tasks[2].ID != ids[0] {
		t.Errorf("expected newest first, got %v", tasks)
	}
}

func TestQueueStatus(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{})}
	f := newFixture(t, r)

	status := f.svc.QueueStatus()
	if status.WorkerAlive || status.Depth != 0 || status.CurrentTaskID != "" {
		t.Errorf("unexpected status before start: %+v", status)
	}

	f.start(t)
	first, _ := f.svc.CreateTask(context.Background(), CreateRequest{Domain: "a.com", Options: task.DefaultOptions(), Async: true})
	f.svc.CreateTask(context.Background(), CreateRequest{Domain: "b.com", Options: task.DefaultOptions(), Async: true})

	waitFor(t, "first task to run", func() bool {
		return f.svc.QueueStatus().CurrentTaskID == first.ID && len(r.Calls()) == 1
	})

	status = f.svc.QueueStatus()
	if !status.WorkerAlive || status.Depth != 1 {
		t.Errorf("expected alive worker with one waiting task, got %+v", status)
	}

	running, _ := f.store.ListTasksByStatus(context.Background(), task.StatusRunning)
	if len(running) != 1 {
		t.Errorf("expected exactly one running task, got %d", len(running))
	}

	close(r.gate)
}

func TestReset(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{})}
	f := newFixture(t, r)
	f.start(t)

	sub := f.bus.Subscribe(events.TopicQueue, 1)

	first, _ := f.svc.CreateTask(context.Background(), CreateRequest{Domain: "a.com", Options: task.DefaultOptions(), Async: true})
	f.svc.CreateTask(context.Background(), CreateRequest{Domain: "b.com", Options: task.DefaultOptions(), Async: true})
	f.svc.CreateTask(context.Background(), CreateRequest{Domain: "c.com", Options: task.DefaultOptions(), Async: true})

	waitFor(t, "first task to run", func() bool {
		return f.svc.QueueStatus().CurrentTaskID == first.ID && len(r.Calls()) == 1
	})

	drained, err := f.svc.Reset(context.Background())
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if drained != 2 {
		t.Errorf("expected 2 drained entries, got %d", drained)
	}

	tasks, _ := f.svc.ListTasks(context.Background())
	if len(tasks) != 0 {
		t.Errorf("expected no tasks after reset, got %d", len(tasks))
	}
	status := f.svc.QueueStatus()
	if status.Depth != 0 || status.CurrentTaskID != "" {
		t.Errorf("expected empty queue and no current task, got %+v", status)
	}

	if ev := <-sub; ev.(events.QueueResetEvent).Drained != 2 {
		t.Errorf("unexpected reset event: %#v", ev)
	}

	// The detached run finishes without resurrecting its record.
	close(r.gate)
	time.Sleep(50 * time.Millisecond)
	tasks, _ = f.svc.ListTasks(context.Background())
	if len(tasks) != 0 {
		t.Errorf("detached task came back: %v", tasks)
	}
	if calls := r.Calls(); len(calls) != 1 {
		t.Errorf("drained tasks must not run, runner calls: %v", calls)
	}
}

func TestStart_RecoversPreviousRun(t *testing.T) {
	r := &fakeRunner{}
	f := newFixture(t, r)
	ctx := context.Background()
	base := time.Now().UTC()

	interrupted := task.New("was-running", "old.com", task.DefaultOptions(), task.ModeAsync, base.Add(-3*time.Minute))
	f.store.InsertTask(ctx, interrupted)
	f.store.MarkRunning(ctx, interrupted.ID, base.Add(-2*time.Minute))

	for i, id := range []string{"pending-1", "pending-2"} {
		f.store.InsertTask(ctx, task.New(id, id+".com", task.DefaultOptions(), task.ModeAsync, base.Add(time.Duration(i)*time.Second)))
	}

	done := task.New("done", "done.com", task.DefaultOptions(), task.ModeSync, base)
	f.store.InsertTask(ctx, done)
	f.store.MarkRunning(ctx, done.ID, base)
	f.store.MarkCompleted(ctx, done.ID, base, []string{"x"})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	report, err := f.svc.Start(runCtx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if report.Interrupted != 1 || report.Requeued != 2 {
		t.Errorf("unexpected recovery report: %+v", report)
	}

	got, _ := f.store.GetTask(ctx, "was-running")
	if got.Status != task.StatusFailed || got.ErrorMessage != InterruptedMessage {
		t.Errorf("expected interrupted failure, got %s %q", got.Status, got.ErrorMessage)
	}

	waitFor(t, "requeued tasks", func() bool { return len(r.Calls()) == 2 })
	calls := r.Calls()
	if calls[0] != "pending-1.com" || calls[1] != "pending-2.com" {
		t.Errorf("expected oldest pending first, got %v", calls)
	}

	unchanged, _ := f.store.GetTask(ctx, "done")
	if unchanged.Status != task.StatusCompleted {
		t.Errorf("terminal tasks must be left alone, got %s", unchanged.Status)
	}

	stopCtx, stop := context.WithTimeout(ctx, 2*time.Second)
	defer stop()
	if err := f.svc.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestStop_WaitsForWorker(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{})}
	f := newFixture(t, r)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.Start(ctx)

	tk, _ := f.svc.CreateTask(context.Background(), CreateRequest{Domain: "a.com", Options: task.DefaultOptions(), Async: true})
	waitFor(t, "task to run", func() bool { return f.svc.QueueStatus().CurrentTaskID == tk.ID })

	short, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	if err := f.svc.Stop(short); err == nil {
		t.Error("expected Stop to time out while a task is running")
	}

	close(r.gate)
	long, stop2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop2()
	if err := f.svc.Stop(long); err != nil {
		t.Errorf("expected Stop to succeed once the task finished: %v", err)
	}

	got, _ := f.svc.GetTask(context.Background(), tk.ID)
	if got.Status != task.StatusCompleted {
		t.Errorf("in-flight task should finish during graceful stop, got %s", got.Status)
	}
}

func TestCreateTask_SyncClearedMidRunReturnsTaskError(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{})}
	f := newFixture(t, r)
	f.start(t)

	type outcome struct {
		t   *task.Task
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		got, err := f.svc.CreateTask(context.Background(), CreateRequest{Domain: "x.com", Options: task.DefaultOptions()})
		done <- outcome{got, err}
	}()

	waitFor(t, "sync run to start", func() bool { return len(r.Calls()) == 1 })
	if _, err := f.svc.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	close(r.gate)

	res := <-done
	var taskErr *TaskError
	if !errors.As(res.err, &taskErr) {
		t.Fatalf("expected TaskError, got %v", res.err)
	}
	if taskErr.TaskID == "" || taskErr.Domain != "x.com" {
		t.Errorf("unexpected TaskError: %+v", taskErr)
	}
	if !errors.Is(res.err, persistence.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound in chain, got %v", res.err)
	}
}

func TestReset_ConcurrentAsyncLeavesNoOrphanEntries(t *testing.T) {
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				f.svc.CreateTask(context.Background(), CreateRequest{Domain: "example.com", Options: task.DefaultOptions(), Async: true})
			}
		}()
	}
	for i := 0; i < 25; i++ {
		if _, err := f.svc.Reset(context.Background()); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
	}
	wg.Wait()

	pending, err := f.store.ListTasksByStatus(context.Background(), task.StatusPending)
	if err != nil {
		t.Fatalf("ListTasksByStatus failed: %v", err)
	}
	if depth := f.queue.Len(); depth != len(pending) {
		t.Errorf("queue depth %d does not match %d pending records", depth, len(pending))
	}
}
