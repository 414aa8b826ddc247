package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noteindex/noteindex/internal/host"
	"github.com/noteindex/noteindex/internal/metrics"
	"github.com/noteindex/noteindex/internal/storage"
	"github.com/noteindex/noteindex/pkg/types"
)

const (
	// TableName is the only table a query may read
	TableName = "tasks"

	// MaxRows caps the rows returned by one query
	MaxRows = 500

	// timeLayout matches SQLite's own date text, so columns compare
	// directly against datetime('now')
	timeLayout = "2006-01-02 15:04:05"
)

const createTasks = `
CREATE TABLE tasks (
	uuid TEXT PRIMARY KEY,
	note_uuid TEXT,
	domain_uuid TEXT NOT NULL,
	domain_name TEXT NOT NULL,
	content TEXT NOT NULL,
	important INTEGER NOT NULL DEFAULT 0,
	urgent INTEGER NOT NULL DEFAULT 0,
	score REAL NOT NULL DEFAULT 0,
	start_at TEXT,
	end_at TEXT,
	completed_at TEXT,
	dismissed_at TEXT,
	hide_until TEXT,
	created_at TEXT
);
CREATE INDEX idx_tasks_note ON tasks(note_uuid);
`

// Result holds the rows of one accepted query
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

// Sandbox runs caller-written read-only SQL over an in-memory snapshot of
// the host's tasks
type Sandbox struct {
	db      *sql.DB
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	rebuiltAt time.Time
}

// Option configures a Sandbox
type Option func(*Sandbox)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sandbox) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records rejected queries
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sandbox) {
		s.metrics = m
	}
}

// New creates a sandbox with an empty tasks table
func New(opts ...Option) (*Sandbox, error) {
	db, err := sql.Open(storage.DriverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInitialization, err)
	}
	// The in-memory database lives exactly as long as its one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.Exec(createTasks); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to create tasks table: %v", types.ErrInitialization, err)
	}

	s := &Sandbox{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "sandbox"))

	if err := s.setQueryOnly(context.Background(), true); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the snapshot
func (s *Sandbox) Close() error {
	return s.db.Close()
}

// RebuiltAt reports when the snapshot was last rebuilt
func (s *Sandbox) RebuiltAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuiltAt
}

func (s *Sandbox) setQueryOnly(ctx context.Context, on bool) error {
	value := "OFF"
	if on {
		value = "ON"
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA query_only = "+value); err != nil {
		return fmt.Errorf("failed to set query_only: %w", err)
	}
	return nil
}

// Rebuild replaces the snapshot with the host's current tasks. A task
// listed under several domains is kept once, under the first.
func (s *Sandbox) Rebuild(ctx context.Context, src host.TaskSource) (int, error) {
	domains, err := src.ListTaskDomains(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list task domains: %w", err)
	}

	type row struct {
		task   host.Task
		domain host.TaskDomain
	}
	var rows []row
	seen := make(map[string]bool)
	for _, d := range domains {
		tasks, err := src.ListTasks(ctx, d.UUID)
		if err != nil {
			return 0, fmt.Errorf("failed to list tasks for domain %s: %w", d.UUID, err)
		}
		for _, t := range tasks {
			if t.UUID == "" || seen[t.UUID] {
				continue
			}
			seen[t.UUID] = true
			rows = append(rows, row{task: t, domain: d})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setQueryOnly(ctx, false); err != nil {
		return 0, err
	}
	defer func() {
		if err := s.setQueryOnly(context.Background(), true); err != nil {
			s.logger.Error("failed to restore query_only", zap.Error(err))
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
		return 0, fmt.Errorf("failed to clear tasks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (uuid, note_uuid, domain_uuid, domain_name, content, important, urgent, score,
			start_at, end_at, completed_at, dismissed_at, hide_until, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		t := r.task
		_, err := stmt.ExecContext(ctx,
			t.UUID, nullString(t.NoteUUID), r.domain.UUID, r.domain.Name, t.Content,
			t.Important, t.Urgent, t.Score,
			timestamp(t.StartAt), timestamp(t.EndAt), timestamp(t.CompletedAt),
			timestamp(t.DismissedAt), timestamp(t.HideUntil), timestamp(t.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to insert task %s: %w", t.UUID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit tasks: %w", err)
	}
	s.rebuiltAt = time.Now()

	s.logger.Debug("task snapshot rebuilt",
		zap.Int("domains", len(domains)),
		zap.Int("tasks", len(rows)))
	return len(rows), nil
}

// Query validates query and, if it only reads the tasks table, runs it.
// Rejections are *types.QueryRejectedError and never reach the table.
func (s *Sandbox) Query(ctx context.Context, query string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.validate(ctx, query)
	if err != nil {
		var rejected *types.QueryRejectedError
		if errors.As(err, &rejected) {
			s.metrics.ObserveRejectedQuery(rejected.Rule)
			s.logger.Info("query rejected",
				zap.String("rule", rejected.Rule),
				zap.String("detail", rejected.Detail))
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := &Result{Columns: cols, Rows: [][]any{}}

	for rows.Next() {
		if len(result.Rows) == MaxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return result, nil
}

func timestamp(v int64) any {
	t, ok := host.NormalizeTimestamp(v)
	if !ok {
		return nil
	}
	return t.Format(timeLayout)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
