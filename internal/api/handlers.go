package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/aristath/amassd/internal/orchestrator"
	"github.com/aristath/amassd/internal/persistence"
	"github.com/aristath/amassd/internal/task"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Service is what the handlers need from the orchestrator.
type Service interface {
	CreateTask(ctx context.Context, req orchestrator.CreateRequest) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context) ([]*task.Task, error)
	QueueStatus() orchestrator.QueueStatus
	Reset(ctx context.Context) (int, error)
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	svc    Service
	logger logrus.FieldLogger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(svc Service, logger logrus.FieldLogger) *Handlers {
	return &Handlers{svc: svc, logger: logger}
}

// IndexHandler handles GET /
func (h *Handlers) IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, IndexResponse{Status: "ok", Message: MessageRunning})
}

// CreateTaskHandler handles POST /task and POST /api/amass/enum
func (h *Handlers) CreateTaskHandler(c *gin.Context) {
	req := defaultEnumRequest()
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "Invalid request body: " + err.Error()})
		return
	}

	t, err := h.svc.CreateTask(c.Request.Context(), orchestrator.CreateRequest{
		Domain: req.Domain,
		Options: task.Options{
			Brute:           req.Brute,
			MinForRecursive: req.MinForRecursive,
		},
		Async: req.Async,
	})
	if err != nil {
		var taskErr *orchestrator.TaskError
		switch {
		case errors.As(err, &taskErr):
			h.logger.WithError(err).WithField("task_id", taskErr.TaskID).Error("task failed after it was stored")
			c.JSON(http.StatusInternalServerError, FailedResponse{
				Status:       "failed",
				TaskID:       taskErr.TaskID,
				Domain:       taskErr.Domain,
				Message:      MessageFailed,
				ErrorMessage: taskErr.Error(),
			})
		case orchestrator.IsValidation(err):
			h.logger.WithError(err).Debug("submission rejected")
			h.writeError(c, err)
		default:
			h.writeError(c, err)
		}
		return
	}

	switch {
	case req.Async:
		c.JSON(http.StatusAccepted, AcceptedResponse{
			Status:     "accepted",
			TaskID:     t.ID,
			Domain:     t.Domain,
			TaskStatus: string(t.Status),
		})
	case t.Status == task.StatusCompleted:
		out := t.Result
		if out == nil {
			out = []string{}
		}
		c.JSON(http.StatusOK, CompletedResponse{
			Status:  "completed",
			TaskID:  t.ID,
			Domain:  t.Domain,
			Output:  out,
			Message: MessageCompleted,
		})
	default:
		c.JSON(http.StatusInternalServerError, FailedResponse{
			Status:       "failed",
			TaskID:       t.ID,
			Domain:       t.Domain,
			Message:      MessageFailed,
			ErrorMessage: t.ErrorMessage,
		})
	}
}

// GetTaskHandler handles GET /task/:id
func (h *Handlers) GetTaskHandler(c *gin.Context) {
	id := c.Param("id")

	t, err := h.svc.GetTask(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, TaskResponse{Status: "success", TaskID: t.ID, Task: NewTaskView(t, true)})
}

// QueueHandler handles GET /queue
func (h *Handlers) QueueHandler(c *gin.Context) {
	qs := h.svc.QueueStatus()

	resp := QueueResponse{Status: "success", QueueSize: qs.Depth, WorkerAlive: qs.WorkerAlive}
	if qs.CurrentTaskID != "" {
		current := qs.CurrentTaskID
		resp.CurrentTask = &current
	}
	c.JSON(http.StatusOK, resp)
}

// ListTasksHandler handles GET /tasks
func (h *Handlers) ListTasksHandler(c *gin.Context) {
	tasks, err := h.svc.ListTasks(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, NewTaskView(t, false))
	}
	c.JSON(http.StatusOK, TasksResponse{Status: "success", Count: len(views), Tasks: views})
}

// ResetHandler handles POST /reset
func (h *Handlers) ResetHandler(c *gin.Context) {
	drained, err := h.svc.Reset(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ResetResponse{Status: "success", Message: MessageReset, Drained: drained})
}

// writeError maps service errors onto status codes.
func (h *Handlers) writeError(c *gin.Context, err error) {
	var validation *orchestrator.ValidationError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: validation.Message})
	case errors.Is(err, persistence.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Status: "error", Message: "Task not found"})
	case errors.Is(err, orchestrator.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Status: "error", Message: err.Error()})
	default:
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Status: "error", Message: err.Error()})
	}
}
