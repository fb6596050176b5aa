package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/amassd/internal/task"
)

// timeLayout is RFC 3339 with fixed nanosecond width.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `
	SELECT id, domain, brute, min_for_recursive, mode, status,
	       created_at, started_at, completed_at, result, error_message
	FROM tasks`

// InsertTask stores a new pending task. Terminal fields are ignored.
func (s *SQLiteStore) InsertTask(ctx context.Context, t *task.Task) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, domain, brute, min_for_recursive, mode, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, t.ID, t.Domain, t.Options.Brute, t.Options.MinForRecursive, string(t.Mode),
		string(task.StatusPending), formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrTaskExists, t.ID)
	}
	return nil
}

// MarkRunning moves a pending task to running.
func (s *SQLiteStore) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	return s.transition(ctx, id, task.StatusPending, task.StatusRunning, `
		UPDATE tasks SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
	`, string(task.StatusRunning), formatTime(startedAt), id, string(task.StatusPending))
}

// MarkCompleted moves a running task to completed with its result.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, id string, completedAt time.Time, result []string) error {
	if result == nil {
		result = []string{}
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	return s.transition(ctx, id, task.StatusRunning, task.StatusCompleted, `
		UPDATE tasks SET status = ?, completed_at = ?, result = ?
		WHERE id = ? AND status = ?
	`, string(task.StatusCompleted), formatTime(completedAt), string(encoded), id, string(task.StatusRunning))
}

// MarkFailed moves a running task to failed with an error message.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, completedAt time.Time, message string) error {
	return s.transition(ctx, id, task.StatusRunning, task.StatusFailed, `
		UPDATE tasks SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND status = ?
	`, string(task.StatusFailed), formatTime(completedAt), message, id, string(task.StatusRunning))
}

// transition runs one guarded UPDATE and explains a miss.
func (s *SQLiteStore) transition(ctx context.Context, id string, from, to task.Status, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to query task status: %w", err)
	}
	return fmt.Errorf("%w: task %s is %s, cannot move %s -> %s", ErrInvalidTransition, id, current, from, to)
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return t, nil
}

// ListTasks returns all tasks, newest first. Ties keep reverse insertion order.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*task.Task, error) {
	return s.queryTasks(ctx, selectColumns+` ORDER BY created_at DESC, rowid DESC`)
}

// ListTasksByStatus returns tasks in one state, oldest first.
func (s *SQLiteStore) ListTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	return s.queryTasks(ctx, selectColumns+` WHERE status = ? ORDER BY created_at ASC, rowid ASC`, string(status))
}

// ClearTasks deletes every task record.
func (s *SQLiteStore) ClearTasks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*task.Task, error) {
	var (
		t                       task.Task
		mode, status, createdAt string
		startedAt, completedAt  sql.NullString
		result, errorMessage    sql.NullString
	)

	err := r.Scan(&t.ID, &t.Domain, &t.Options.Brute, &t.Options.MinForRecursive, &mode, &status,
		&createdAt, &startedAt, &completedAt, &result, &errorMessage)
	if err != nil {
		return nil, err
	}

	t.Mode = task.Mode(mode)
	t.Status = task.Status(status)
	if !t.Status.Valid() {
		return nil, fmt.Errorf("task %s has unknown status %q", t.ID, status)
	}

	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}

	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &t.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result for %s: %w", t.ID, err)
		}
	}
	if errorMessage.Valid {
		t.ErrorMessage = errorMessage.String
	}

	return &t, nil
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	ts, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return ts.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	ts, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}
