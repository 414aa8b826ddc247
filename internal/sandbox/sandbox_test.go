package sandbox

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteindex/noteindex/internal/host"
	"github.com/noteindex/noteindex/internal/metrics"
	"github.com/noteindex/noteindex/pkg/types"
)

type fakeTasks struct {
	domains []host.TaskDomain
	tasks   map[string][]host.Task
	err     error
}

func (f *fakeTasks) ListTaskDomains(ctx context.Context) ([]host.TaskDomain, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.domains, nil
}

func (f *fakeTasks) ListTasks(ctx context.Context, domainUUID string) ([]host.Task, error) {
	return f.tasks[domainUUID], nil
}

func sampleTasks() *fakeTasks {
	return &fakeTasks{
		domains: []host.TaskDomain{
			{UUID: "home", Name: "Home"},
			{UUID: "work", Name: "Work"},
		},
		tasks: map[string][]host.Task{
			"home": {
				{UUID: "t1", NoteUUID: "garden", Content: "water the beds", Important: true, StartAt: 1700000000},
				{UUID: "t2", NoteUUID: "garden", Content: "buy seeds; compost", CreatedAt: 1700000000000},
			},
			"work": {
				{UUID: "t3", NoteUUID: "review", Content: "weekly review", Urgent: true, Score: 2.5, CompletedAt: 1700003600},
				{UUID: "t1", NoteUUID: "garden", Content: "water the beds", Important: true, StartAt: 1700000000},
			},
		},
	}
}

func setupSandbox(t *testing.T, opts ...Option) *Sandbox {
	t.Helper()
	s, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	n, err := s.Rebuild(context.Background(), sampleTasks())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	return s
}

func TestSandbox_Rebuild(t *testing.T) {
	s := setupSandbox(t)
	ctx := context.Background()
	assert.False(t, s.RebuiltAt().IsZero())

	res, err := s.Query(ctx, "SELECT uuid, domain_uuid, important, start_at, created_at FROM tasks ORDER BY uuid")
	require.NoError(t, err)
	assert.Equal(t, []string{"uuid", "domain_uuid", "important", "start_at", "created_at"}, res.Columns)
	require.Len(t, res.Rows, 3)

	// t1 appears in both domains and is kept once, under the first
	assert.Equal(t, "t1", res.Rows[0][0])
	assert.Equal(t, "home", res.Rows[0][1])
	assert.EqualValues(t, 1, res.Rows[0][2])

	// Seconds and milliseconds normalize to the same instant
	assert.Equal(t, "2023-11-14 22:13:20", res.Rows[0][3])
	assert.Equal(t, "2023-11-14 22:13:20", res.Rows[1][4])
	assert.Nil(t, res.Rows[0][4])

	// Rebuilding replaces the snapshot
	_, err = s.Rebuild(ctx, &fakeTasks{domains: []host.TaskDomain{{UUID: "all", Name: "All"}}})
	require.NoError(t, err)
	res, err = s.Query(ctx, "SELECT COUNT(*) FROM tasks")
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Rows[0][0])
}

func TestSandbox_RebuildError(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Rebuild(context.Background(), &fakeTasks{err: errors.New("host offline")})
	assert.ErrorContains(t, err, "host offline")
}

func TestSandbox_AcceptsReads(t *testing.T) {
	s := setupSandbox(t)
	ctx := context.Background()

	queries := []struct {
		name string
		sql  string
		rows int
	}{
		{"plain select", "SELECT * FROM tasks", 3},
		{"trailing terminator", "SELECT * FROM tasks;  -- done", 3},
		{"semicolon in literal", "SELECT uuid FROM tasks WHERE content = 'buy seeds; compost'", 1},
		{"index lookup", "SELECT uuid FROM tasks WHERE note_uuid = 'garden'", 2},
		{"primary key lookup", "SELECT content FROM tasks WHERE uuid = 't3'", 1},
		{"distinct", "SELECT DISTINCT note_uuid FROM tasks", 2},
		{"union", "SELECT uuid FROM tasks WHERE important UNION SELECT uuid FROM tasks WHERE urgent", 2},
		{"cte", "WITH open AS (SELECT * FROM tasks WHERE completed_at IS NULL) SELECT uuid FROM open", 2},
		{"recursive cte", "WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 4) SELECT i FROM n", 4},
		{"subquery", "SELECT uuid FROM tasks WHERE note_uuid IN (SELECT note_uuid FROM tasks WHERE urgent)", 1},
		{"values", "VALUES (1), (2)", 2},
		{"date comparison", "SELECT uuid FROM tasks WHERE completed_at < datetime('now')", 1},
		{"lowercase", "select count(*) from tasks", 1},
	}
	for _, q := range queries {
		t.Run(q.name, func(t *testing.T) {
			res, err := s.Query(ctx, q.sql)
			require.NoError(t, err)
			assert.Len(t, res.Rows, q.rows)
			assert.False(t, res.Truncated)
		})
	}
}

func TestSandbox_Rejections(t *testing.T) {
	m := metrics.New()
	s := setupSandbox(t, WithMetrics(m))
	ctx := context.Background()

	// A second real table that queries must not reach
	require.NoError(t, s.setQueryOnly(ctx, false))
	_, err := s.db.Exec("CREATE TABLE secrets (value TEXT); INSERT INTO secrets VALUES ('token')")
	require.NoError(t, err)
	require.NoError(t, s.setQueryOnly(ctx, true))

	cases := []struct {
		name   string
		sql    string
		rule   string
		detail string
	}{
		{"empty", "   -- nothing\n", RuleEmpty, ""},
		{"insert", "INSERT INTO tasks (uuid, domain_uuid, domain_name, content) VALUES ('x', 'd', 'D', 'c')", RuleStatement, "INSERT"},
		{"delete", "DELETE FROM tasks", RuleStatement, "DELETE"},
		{"drop", "DROP TABLE tasks", RuleStatement, "DROP"},
		{"pragma", "PRAGMA query_only = OFF", RuleStatement, "PRAGMA"},
		{"attach", "ATTACH DATABASE 'x.db' AS x", RuleStatement, "ATTACH"},
		{"stacked", "SELECT 1; DROP TABLE tasks", RuleMultiple, ""},
		{"stacked after comment", "SELECT 1; /* x */ DELETE FROM tasks", RuleMultiple, ""},
		{"cte wrapping delete", "WITH doomed AS (SELECT uuid FROM tasks) DELETE FROM tasks WHERE uuid IN (SELECT uuid FROM doomed)", RuleWrite, ""},
		{"other table", "SELECT * FROM secrets", RuleTable, "secrets"},
		{"other table in cte", "WITH s AS (SELECT value FROM secrets) SELECT * FROM s", RuleTable, "secrets"},
		{"other table in subquery", "SELECT uuid FROM tasks WHERE content IN (SELECT value FROM secrets)", RuleTable, "secrets"},
		{"other table in union", "SELECT uuid FROM tasks UNION SELECT value FROM secrets", RuleTable, "secrets"},
		{"schema table", "SELECT name FROM sqlite_schema", RuleTable, "sqlite_schema"},
		{"temp schema", "SELECT name FROM temp.sqlite_master", RuleTable, ""},
		{"table-valued pragma", "SELECT * FROM pragma_table_info('tasks')", RuleVirtual, ""},
		{"unknown table", "SELECT * FROM nope", RuleParse, "nope"},
		{"syntax error", "SELECT FROM WHERE", RuleParse, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res, err := s.Query(ctx, c.sql)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, types.ErrQueryRejected)

			var rejected *types.QueryRejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, c.rule, rejected.Rule)
			if c.detail != "" {
				assert.Contains(t, rejected.Detail, c.detail)
			}
		})
	}

	// Nothing rejected reached the tables
	res, err := s.Query(ctx, "SELECT COUNT(*) FROM tasks")
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Rows[0][0])

	var secrets int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM secrets").Scan(&secrets))
	assert.Equal(t, 1, secrets)

	series, err := testutil.GatherAndCount(m.Registry(), "noteindex_sandbox_queries_rejected_total")
	require.NoError(t, err)
	assert.Equal(t, 7, series)
}

func TestSandbox_RowCap(t *testing.T) {
	tasks := make([]host.Task, 0, MaxRows+20)
	for i := 0; i < MaxRows+20; i++ {
		tasks = append(tasks, host.Task{UUID: fmt.Sprintf("t%04d", i), Content: "task"})
	}
	s, err := New()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Rebuild(context.Background(), &fakeTasks{
		domains: []host.TaskDomain{{UUID: "all", Name: "All"}},
		tasks:   map[string][]host.Task{"all": tasks},
	})
	require.NoError(t, err)

	res, err := s.Query(context.Background(), "SELECT uuid FROM tasks")
	require.NoError(t, err)
	assert.Len(t, res.Rows, MaxRows)
	assert.True(t, res.Truncated)
}

func TestFirstStatement(t *testing.T) {
	tests := []struct {
		in       string
		stmt     string
		keyword  string
		multiple bool
	}{
		{"SELECT 1", "SELECT 1", "SELECT", false},
		{"  with x as (select 1) select * from x;", "  with x as (select 1) select * from x", "WITH", false},
		{"/* lead */ VALUES (1)", "/* lead */ VALUES (1)", "VALUES", false},
		{"-- c\nSELECT ';'", "-- c\nSELECT ';'", "SELECT", false},
		{`SELECT "a;b" FROM [t;x]`, `SELECT "a;b" FROM [t;x]`, "SELECT", false},
		{"SELECT 1;;", "SELECT 1", "SELECT", false},
		{"SELECT 1; SELECT 2", "SELECT 1", "SELECT", true},
		{"(SELECT 1)", "(SELECT 1)", "(", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		stmt, keyword, multiple := firstStatement(tt.in)
		assert.Equal(t, tt.stmt, stmt, tt.in)
		assert.Equal(t, tt.keyword, keyword, tt.in)
		assert.Equal(t, tt.multiple, multiple, tt.in)
	}
}
