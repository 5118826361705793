package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink mirrors audit entries into a SQLite database so the trail
// survives process restarts. The ring buffer stays authoritative for
// in-process queries; the sink is append-only.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the audit database at the given path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		ts DATETIME NOT NULL,
		session_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		args_fingerprint TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_entries(session_id);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_entries(ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Append inserts one entry.
func (s *SQLiteSink) Append(e Entry) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO audit_entries
		 (id, ts, session_id, tool_name, args_fingerprint, status, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.SessionID, e.ToolName, e.ArgsFingerprint,
		string(e.Status), e.Duration.Milliseconds(),
	)
	return err
}

// QuerySession loads a session's persisted entries, oldest first.
func (s *SQLiteSink) QuerySession(sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	rows, err := s.db.Query(
		`SELECT id, ts, session_id, tool_name, args_fingerprint, status, duration_ms
		 FROM audit_entries WHERE session_id = ? ORDER BY ts ASC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var durationMs int64
		var status string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.SessionID, &e.ToolName,
			&e.ArgsFingerprint, &status, &durationMs); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
