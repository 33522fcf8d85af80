package profiler

import (
	"fmt"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const counterSchema = `
CREATE TABLE IF NOT EXISTS stmt_counters (
    routine    TEXT NOT NULL,
    stmt_id    INTEGER NOT NULL,
    exec_count INTEGER NOT NULL DEFAULT 0,
    total_ns   INTEGER NOT NULL DEFAULT 0,
    max_ns     INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (routine, stmt_id)
);
`

// SQLiteStore persists counters in a SQLite database so coverage survives
// process restarts. One connection guarded by a mutex; counter writes are
// short upserts, not a throughput concern.
type SQLiteStore struct {
	mu   sync.Mutex
	conn *sqlite.Conn
}

// OpenSQLite opens or creates the counter database at path. Use ":memory:"
// for a throwaway store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate, sqlite.OpenReadWrite)
	if err != nil {
		return nil, fmt.Errorf("open counter db: %w", err)
	}

	if err := sqlitex.ExecuteScript(conn, counterSchema, nil); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("create counter schema: %w", err)
	}

	return &SQLiteStore{conn: conn}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.Close()
}

// Record implements Store.
func (s *SQLiteStore) Record(routine string, stmtID int, elapsed time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sqlitex.ExecuteTransient(s.conn, `
INSERT INTO stmt_counters (routine, stmt_id, exec_count, total_ns, max_ns)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT (routine, stmt_id) DO UPDATE SET
    exec_count = exec_count + 1,
    total_ns   = total_ns + excluded.total_ns,
    max_ns     = MAX(max_ns, excluded.max_ns)`,
		&sqlitex.ExecOptions{
			Args: []any{routine, stmtID, int64(elapsed), int64(elapsed)},
		})
}

// Snapshot implements Store.
func (s *SQLiteStore) Snapshot(routine string) (map[int]StmtStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[int]StmtStats{}

	err := sqlitex.ExecuteTransient(s.conn,
		`SELECT stmt_id, exec_count, total_ns, max_ns FROM stmt_counters WHERE routine = ?`,
		&sqlitex.ExecOptions{
			Args: []any{routine},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out[int(stmt.ColumnInt64(0))] = StmtStats{
					ExecCount: stmt.ColumnInt64(1),
					TotalTime: time.Duration(stmt.ColumnInt64(2)),
					MaxTime:   time.Duration(stmt.ColumnInt64(3)),
				}

				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", routine, err)
	}

	return out, nil
}

// Routines lists the routines with recorded counters.
func (s *SQLiteStore) Routines() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string

	err := sqlitex.ExecuteTransient(s.conn,
		`SELECT DISTINCT routine FROM stmt_counters ORDER BY routine`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				names = append(names, stmt.ColumnText(0))

				return nil
			},
		})
	if err != nil {
		return nil, err
	}

	return names, nil
}

// Reset implements Store.
func (s *SQLiteStore) Reset(routine string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sqlitex.ExecuteTransient(s.conn,
		`DELETE FROM stmt_counters WHERE routine = ?`,
		&sqlitex.ExecOptions{Args: []any{routine}})
}

// ResetAll implements Store.
func (s *SQLiteStore) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sqlitex.ExecuteTransient(s.conn, `DELETE FROM stmt_counters`, nil)
}
