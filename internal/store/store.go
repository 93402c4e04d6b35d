// Package store is the concrete SQLite-backed implementation of the opaque
// task-store handle the coordinator threads through to the sync engine
// (spec §6's taskStore). It owns three tables: tasks (the local source of
// truth), threads (the per-task forum thread mirror), and thread_tags (the
// many-to-many link the engine reconciles against the tag map).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "threadsync-v1-task-thread-tag"
)

// TaskStatus mirrors the lifecycle a local task moves through. Closed is a
// terminal state; the engine treats it as a signal to archive or delete the
// mirrored thread depending on ArchiveOnClose.
type TaskStatus string

const (
	TaskStatusOpen     TaskStatus = "open"
	TaskStatusClosed   TaskStatus = "closed"
	TaskStatusArchived TaskStatus = "archived"
)

// Task is one row of the local task database the engine mirrors into
// per-task threads.
type Task struct {
	ID        string
	Title     string
	Status    TaskStatus
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// Thread is the forum-side mirror of a Task: one starter message in a
// per-task thread, created and kept in sync by the engine.
type Thread struct {
	TaskID           string
	ThreadID         string
	StarterMessageID string
	Name             string
	Archived         bool
	LastSyncedAt     time.Time
}

// Store is the concrete task/thread store. All methods are safe for
// concurrent use; the driver is configured with a single connection, so
// writes serialize through database/sql's connection pool rather than
// through an in-process mutex.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default sqlite file location under the user's
// home directory.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".threadsync", "threadsync.db")
}

// Open opens (creating if necessary) the sqlite database at path and
// migrates it to the current schema.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, q := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersion {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersion)
	}
	if maxVersion == schemaVersion {
		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersion).Scan(&existing); err != nil {
			return fmt.Errorf("read schema checksum: %w", err)
		}
		if existing != schemaChecksum {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersion, existing, schemaChecksum)
		}
		return tx.Commit()
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			closed_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS task_tags (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			tag_name TEXT NOT NULL,
			PRIMARY KEY (task_id, tag_name)
		);`,
		`CREATE TABLE IF NOT EXISTS threads (
			task_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL UNIQUE,
			starter_message_id TEXT NOT NULL,
			name TEXT NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0,
			last_synced_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);`,
		schemaVersion, schemaChecksum,
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// CreateTask inserts a new open task with the given title and tags,
// returning the generated id.
func (s *Store) CreateTask(ctx context.Context, title string, tags []string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin create task tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?);`,
		id, title, TaskStatusOpen, now, now,
	); err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	if err := insertTagsTx(ctx, tx, id, tags); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create task tx: %w", err)
	}
	return id, nil
}

func insertTagsTx(ctx context.Context, tx *sql.Tx, taskID string, tags []string) error {
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_tags (task_id, tag_name) VALUES (?, ?);`,
			taskID, tag,
		); err != nil {
			return fmt.Errorf("insert task tag %q: %w", tag, err)
		}
	}
	return nil
}

// CloseTask transitions a task to closed, stamping closed_at.
func (s *Store) CloseTask(ctx context.Context, taskID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, closed_at = ?, updated_at = ? WHERE id = ? AND status = ?;`,
		TaskStatusClosed, now, now, taskID, TaskStatusOpen,
	)
	if err != nil {
		return fmt.Errorf("close task %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close task %s: %w", taskID, err)
	}
	if n == 0 {
		return fmt.Errorf("close task %s: not found or not open", taskID)
	}
	return nil
}

// DeleteTask removes a task row entirely (as opposed to CloseTask, which
// only changes its status). Any existing thread row is left behind,
// becoming an orphan ListOrphanedThreads will report.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, taskID); err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

// ListOpenTasks returns every task the engine should reconcile: anything
// not yet archived.
func (s *Store) ListOpenTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, status, created_at, updated_at, closed_at FROM tasks WHERE status != ? ORDER BY created_at;`,
		TaskStatusArchived,
	)
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var closedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &t.CreatedAt, &t.UpdatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if closedAt.Valid {
			ct := closedAt.Time
			t.ClosedAt = &ct
		}
		tags, err := s.tagsForTask(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		t.Tags = tags
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) tagsForTask(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag_name FROM task_tags WHERE task_id = ? ORDER BY tag_name;`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list tags for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// GetThread returns the thread mirroring taskID, or nil if none exists yet.
func (s *Store) GetThread(ctx context.Context, taskID string) (*Thread, error) {
	var th Thread
	var archived int
	err := s.db.QueryRowContext(ctx,
		`SELECT task_id, thread_id, starter_message_id, name, archived, last_synced_at FROM threads WHERE task_id = ?;`,
		taskID,
	).Scan(&th.TaskID, &th.ThreadID, &th.StarterMessageID, &th.Name, &archived, &th.LastSyncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread for task %s: %w", taskID, err)
	}
	th.Archived = archived != 0
	return &th, nil
}

// ListOrphanedThreads returns threads whose task row no longer exists —
// the engine reports these via SyncResult.OrphanedThreads.
func (s *Store) ListOrphanedThreads(ctx context.Context) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT threads.task_id, threads.thread_id, threads.starter_message_id, threads.name, threads.archived, threads.last_synced_at
		FROM threads LEFT JOIN tasks ON tasks.id = threads.task_id
		WHERE tasks.id IS NULL;
	`)
	if err != nil {
		return nil, fmt.Errorf("list orphaned threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		var th Thread
		var archived int
		if err := rows.Scan(&th.TaskID, &th.ThreadID, &th.StarterMessageID, &th.Name, &archived, &th.LastSyncedAt); err != nil {
			return nil, fmt.Errorf("scan orphaned thread: %w", err)
		}
		th.Archived = archived != 0
		out = append(out, th)
	}
	return out, rows.Err()
}

// UpsertThread records (or updates) the thread mirroring a task, stamping
// LastSyncedAt to now.
func (s *Store) UpsertThread(ctx context.Context, th Thread) error {
	now := time.Now().UTC()
	archived := 0
	if th.Archived {
		archived = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (task_id, thread_id, starter_message_id, name, archived, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			starter_message_id = excluded.starter_message_id,
			name = excluded.name,
			archived = excluded.archived,
			last_synced_at = excluded.last_synced_at;
	`, th.TaskID, th.ThreadID, th.StarterMessageID, th.Name, archived, now)
	if err != nil {
		return fmt.Errorf("upsert thread for task %s: %w", th.TaskID, err)
	}
	return nil
}

// DeleteThread removes the thread row for taskID, used once an orphaned
// thread has been archived/deleted on the platform side.
func (s *Store) DeleteThread(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE task_id = ?;`, taskID); err != nil {
		return fmt.Errorf("delete thread for task %s: %w", taskID, err)
	}
	return nil
}

// ThreadName derives the forum thread name for a task, trimming to a
// platform-friendly length. Exported so the reference engine and tests
// agree on the exact naming rule.
func ThreadName(t Task) string {
	title := strings.TrimSpace(t.Title)
	if len(title) > 90 {
		title = title[:90]
	}
	return fmt.Sprintf("[%s] %s", t.ID[:8], title)
}
