package persistence

import (
	"context"
)

// initSchema creates the tasks table if it doesn't exist.
// Timestamps are fixed-width UTC text so they sort lexically.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		brute INTEGER NOT NULL DEFAULT 0,
		min_for_recursive INTEGER NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		result TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
