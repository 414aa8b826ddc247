// Package sandbox answers ad-hoc SQL over a throwaway snapshot of the
// host's tasks.
//
// The snapshot is a single in-memory table, tasks, rebuilt from a
// host.TaskSource before each query session. Timestamps from the host are
// normalized to UTC "YYYY-MM-DD HH:MM:SS" text whatever unit they arrived
// in, so they compare directly with datetime('now').
//
// Queries are checked before they run. The text must be exactly one
// SELECT, WITH or VALUES statement. It is then compiled with EXPLAIN and
// the resulting program is inspected. Instructions that write to a real
// table or the schema are refused. Every table read must land on the tasks
// table or one of its indexes; a read of another table hidden inside a CTE
// or subquery compiles to the same OpenRead and is caught the same way.
// Virtual tables, including the pragma_* functions, are refused outright.
//
// Accepted queries additionally run with query_only set.
package sandbox
