// Package journal keeps a local history of launched tasks in a sqlite
// database. The object store is the source of truth while a task is
// alive; the journal is what survives store retention and powers the
// history command offline.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dohr-michael/outpost/internal/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at   TEXT,
	exit_code  INTEGER,
	error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS tasks_started_at ON tasks (started_at);
`

// Entry is one journaled task.
type Entry struct {
	TaskID    string
	Status    task.Status
	Prompt    string
	StartedAt time.Time
	EndedAt   *time.Time
	ExitCode  *int
	Error     string
}

// Journal wraps the sqlite database.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record upserts the journal row for a task. Called once at launch and
// again when a terminal status is observed, so the same statement
// serves both.
func (j *Journal) Record(ctx context.Context, t *task.Task) error {
	var ended any
	if t.CompletedAt != nil {
		ended = t.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	var code any
	if t.ExitCode != nil {
		code = *t.ExitCode
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO tasks (task_id, status, prompt, started_at, ended_at, exit_code, error)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (task_id) DO UPDATE SET
	status = excluded.status,
	ended_at = excluded.ended_at,
	exit_code = excluded.exit_code,
	error = excluded.error`,
		t.ID, string(t.Status), t.Prompt,
		t.StartedAt.UTC().Format(time.RFC3339Nano), ended, code, t.Error)
	if err != nil {
		return fmt.Errorf("record task %s: %w", task.ShortID(t.ID), err)
	}
	return nil
}

// Get returns the journaled entry for a task id, nil when absent.
func (j *Journal) Get(ctx context.Context, taskID string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT task_id, status, prompt, started_at, ended_at, exit_code, error
FROM tasks WHERE task_id = ?`, taskID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", task.ShortID(taskID), err)
	}
	return e, nil
}

// Recent returns the most recently started tasks, newest first.
// limit <= 0 returns all.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	q := `
SELECT task_id, status, prompt, started_at, ended_at, exit_code, error
FROM tasks ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var (
		e       Entry
		status  string
		started string
		ended   sql.NullString
		code    sql.NullInt64
	)
	if err := r.Scan(&e.TaskID, &status, &e.Prompt, &started, &ended, &code, &e.Error); err != nil {
		return nil, err
	}
	e.Status = task.Status(status)
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	e.StartedAt = t
	if ended.Valid {
		t, err := time.Parse(time.RFC3339Nano, ended.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		e.EndedAt = &t
	}
	if code.Valid {
		c := int(code.Int64)
		e.ExitCode = &c
	}
	return &e, nil
}
