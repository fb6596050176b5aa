package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/amassd/internal/task"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrTaskNotFound is returned when no record exists for the id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists is returned by InsertTask for a duplicate id.
	ErrTaskExists = errors.New("task already exists")

	// ErrInvalidTransition is returned when a Mark* call does not match the
	// record's current status.
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Store is the authoritative record of every task.
//
// Status changes go through the typed Mark* operations only. Each one
// succeeds only from its source state, so a record can never move backwards.
type Store interface {
	InsertTask(ctx context.Context, t *task.Task) error
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, completedAt time.Time, result []string) error
	MarkFailed(ctx context.Context, id string, completedAt time.Time, message string) error

	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context) ([]*task.Task, error)
	ListTasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error)

	ClearTasks(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite takes pragmas as _pragma=name(value) pairs
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return openStore(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Every call gets its own named database so parallel tests stay isolated.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:amassd-%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	return openStore(ctx, connStr)
}

func openStore(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers. No query in this package nests
	// another query inside an open result set.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
