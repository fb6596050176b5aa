package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aristath/amassd/internal/orchestrator"
	"github.com/aristath/amassd/internal/persistence"
	"github.com/aristath/amassd/internal/queue"
	"github.com/aristath/amassd/internal/runner"
	"github.com/aristath/amassd/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRunner struct {
	mu      sync.Mutex
	results map[string][]string
	fail    map[string]error
	gate    chan struct{}
	seen    []runner.Request
}

func (s *stubRunner) Run(ctx context.Context, req runner.Request) ([]string, error) {
	s.mu.Lock()
	s.seen = append(s.seen, req)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err := s.fail[req.Domain]; err != nil {
		return nil, err
	}
	return s.results[req.Domain], nil
}

func (s *stubRunner) requests() []runner.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runner.Request(nil), s.seen...)
}

type testServer struct {
	router *gin.Engine
	svc    *orchestrator.Service
	store  *persistence.SQLiteStore
	hook   *test.Hook
}

func newTestServer(t *testing.T, r *stubRunner, start bool) *testServer {
	t.Helper()

	store, err := persistence.NewMemoryStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	q := queue.New()
	exec := worker.NewExecutor(store, r, nil, logger)
	w := worker.New(q, exec, 10*time.Millisecond, logger)
	svc := orchestrator.New(orchestrator.Deps{Store: store, Queue: q, Executor: exec, Worker: w, Logger: logger})

	if start {
		ctx, cancel := context.WithCancel(context.Background())
		_, err := svc.Start(ctx)
		require.NoError(t, err)
		t.Cleanup(func() {
			cancel()
			stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			svc.Stop(stopCtx)
		})
	}

	return &testServer{
		router: SetupRoutes(NewHandlers(svc, logger), logger),
		svc:    svc,
		store:  store,
		hook:   hook,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestIndex(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, false)

	rec := s.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, MessageRunning, body["message"])
}

func TestCreateTask_SyncCompleted(t *testing.T) {
	r := &stubRunner{results: map[string][]string{"example.com": {"a.example.com", "b.example.com"}}}
	s := newTestServer(t, r, true)

	rec := s.do(t, http.MethodPost, "/task", map[string]any{"domain": "https://example.com:8080/x"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CompletedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "example.com", resp.Domain)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, resp.Output)
	assert.Equal(t, MessageCompleted, resp.Message)
	assert.NotEmpty(t, resp.TaskID)

	reqs := r.requests()
	require.Len(t, reqs, 1)
	assert.False(t, reqs[0].Options.Brute)
	assert.Equal(t, 2, reqs[0].Options.MinForRecursive)
}

func TestCreateTask_SyncEmptyOutputIsArray(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, true)

	rec := s.do(t, http.MethodPost, "/task", map[string]any{"domain": "example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, []any{}, body["output"])
}

func TestCreateTask_OptionsPassedThrough(t *testing.T) {
	r := &stubRunner{}
	s := newTestServer(t, r, true)

	rec := s.do(t, http.MethodPost, "/task", map[string]any{
		"domain":            "example.com",
		"brute":             true,
		"min_for_recursive": 0,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	reqs := r.requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Options.Brute)
	assert.Equal(t, 0, reqs[0].Options.MinForRecursive)
}

func TestCreateTask_SyncFailed(t *testing.T) {
	r := &stubRunner{fail: map[string]error{
		"example.com": errors.New("command 'amass enum -d example.com' failed: boom"),
	}}
	s := newTestServer(t, r, true)

	rec := s.do(t, http.MethodPost, "/task", map[string]any{"domain": "example.com"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp FailedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, "example.com", resp.Domain)
	assert.Equal(t, "command 'amass enum -d example.com' failed: boom", resp.ErrorMessage)

	rec = s.do(t, http.MethodGet, "/task/"+resp.TaskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	task := decode(t, rec)["task"].(map[string]any)
	assert.Equal(t, "failed", task["status"])
	assert.NotContains(t, task, "output")
}

func TestCreateTask_SyncClearedMidRunKeepsTaskID(t *testing.T) {
	r := &stubRunner{
		results: map[string][]string{"x.com": {"a.x.com"}},
		gate:    make(chan struct{}),
	}
	s := newTestServer(t, r, true)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- s.do(t, http.MethodPost, "/task", map[string]any{"domain": "x.com"})
	}()

	require.Eventually(t, func() bool { return len(r.requests()) == 1 }, 2*time.Second, 5*time.Millisecond)
	_, err := s.svc.Reset(context.Background())
	require.NoError(t, err)
	close(r.gate)

	var rec *httptest.ResponseRecorder
	select {
	case rec = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync request did not return")
	}

	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	var resp FailedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, "x.com", resp.Domain)
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, MessageFailed, resp.Message)
	assert.Contains(t, resp.ErrorMessage, "task not found")
}

func TestCreateTask_LegacyPath(t *testing.T) {
	r := &stubRunner{results: map[string][]string{"example.com": {"www.example.com"}}}
	s := newTestServer(t, r, true)

	rec := s.do(t, http.MethodPost, "/api/amass/enum", map[string]any{"domain": "example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"www.example.com"}, decode(t, rec)["output"])
}

func TestCreateTask_Validation(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, true)

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"missing domain", map[string]any{}, "Domain is required"},
		{"blank domain", map[string]any{"domain": "   "}, "Domain is required"},
		{"malformed url", map[string]any{"domain": "http://"}, ""},
		{"negative recursion", map[string]any{"domain": "example.com", "min_for_recursive": -1}, ""},
		{"malformed json", `{"domain":`, ""},
		{"wrong type", map[string]any{"domain": 42}, ""},
		{"empty body", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/task", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			body := decode(t, rec)
			assert.Equal(t, "error", body["status"])
			if tt.message != "" {
				assert.Equal(t, tt.message, body["message"])
			}
		})
	}

	tasks, err := s.store.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks, "rejected requests must not create records")
}

func TestCreateTask_AsyncAccepted(t *testing.T) {
	r := &stubRunner{
		results: map[string][]string{"example.com": {"a.example.com"}},
		gate:    make(chan struct{}),
	}
	s := newTestServer(t, r, true)

	rec := s.do(t, http.MethodPost, "/task", map[string]any{"domain": "example.com", "async": true})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp AcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "pending", resp.TaskStatus)

	require.Eventually(t, func() bool {
		return s.svc.QueueStatus().CurrentTaskID == resp.TaskID && len(r.requests()) == 1
	}, 3*time.Second, 5*time.Millisecond)

	rec = s.do(t, http.MethodGet, "/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	qs := decode(t, rec)
	assert.Equal(t, resp.TaskID, qs["current_task"])
	assert.Equal(t, true, qs["worker_alive"])
	assert.Equal(t, float64(0), qs["queue_size"])

	close(r.gate)

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/task/"+resp.TaskID, nil)
		task := decode(t, rec)["task"].(map[string]any)
		return task["status"] == "completed"
	}, 3*time.Second, 5*time.Millisecond)

	rec = s.do(t, http.MethodGet, "/task/"+resp.TaskID, nil)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, resp.TaskID, body["task_id"])
	task := body["task"].(map[string]any)
	assert.Equal(t, []any{"a.example.com"}, task["output"])
	assert.Equal(t, "async", task["mode"])
	assert.NotContains(t, task, "error_message")
	assert.NotNil(t, task["started_at"])
	assert.NotNil(t, task["completed_at"])
}

func TestCreateTask_AsyncWhileShuttingDown(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, false)
	require.NoError(t, s.svc.Stop(context.Background()))

	rec := s.do(t, http.MethodPost, "/task", map[string]any{"domain": "example.com", "async": true})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, false)

	rec := s.do(t, http.MethodGet, "/task/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestGetTask_PendingHasNoTerminalFields(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, false)

	rec := s.do(t, http.MethodPost, "/task", map[string]any{"domain": "example.com", "async": true})
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode(t, rec)["task_id"].(string)

	rec = s.do(t, http.MethodGet, "/task/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	task := decode(t, rec)["task"].(map[string]any)
	assert.Equal(t, "pending", task["status"])
	assert.NotContains(t, task, "output")
	assert.NotContains(t, task, "error_message")
	assert.Nil(t, task["started_at"])
}

func TestQueue_Idle(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, false)

	rec := s.do(t, http.MethodGet, "/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Nil(t, body["current_task"])
	assert.Equal(t, false, body["worker_alive"])
}

func TestListTasks_OmitsOutput(t *testing.T) {
	r := &stubRunner{results: map[string][]string{"a.com": {"www.a.com"}}}
	s := newTestServer(t, r, true)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/task", map[string]any{"domain": "a.com"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/task", map[string]any{"domain": "b.com"}).Code)

	rec := s.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TasksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, "b.com", resp.Tasks[0].Domain)
	assert.Equal(t, "a.com", resp.Tasks[1].Domain)
	for _, v := range resp.Tasks {
		assert.Nil(t, v.Output)
	}
}

func TestListTasks_EmptyIsArray(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, false)

	rec := s.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []any{}, body["tasks"])
}

func TestListTasks_StoreError(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, false)
	require.NoError(t, s.store.Close())

	rec := s.do(t, http.MethodGet, "/tasks", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestReset(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, false)

	for _, d := range []string{"a.com", "b.com"} {
		rec := s.do(t, http.MethodPost, "/task", map[string]any{"domain": d, "async": true})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ResetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 2, resp.Drained)

	body := decode(t, s.do(t, http.MethodGet, "/tasks", nil))
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, float64(0), decode(t, s.do(t, http.MethodGet, "/queue", nil))["queue_size"])

	var logged map[string]any
	for _, e := range s.hook.AllEntries() {
		if e.Message == "queue reset" {
			logged = e.Data
		}
	}
	require.NotNil(t, logged, "reset should be logged")
	assert.Equal(t, int64(2), logged["total_pushed"])
	assert.Equal(t, int64(2), logged["total_drained"])
}

func TestAccessLogger(t *testing.T) {
	s := newTestServer(t, &stubRunner{}, false)
	s.hook.Reset()

	s.do(t, http.MethodGet, "/queue", nil)

	var found bool
	for _, e := range s.hook.AllEntries() {
		if e.Message == "HTTP request" {
			found = true
			assert.Equal(t, "/queue", e.Data["path"])
			assert.Equal(t, http.StatusOK, e.Data["status"])
			assert.Equal(t, http.MethodGet, e.Data["method"])
		}
	}
	assert.True(t, found, "expected an access log entry")
}
