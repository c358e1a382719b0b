package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS alert_state (
	key         TEXT PRIMARY KEY,
	alert_level REAL,
	alert_date  TEXT
)`

// SQLiteStore keeps the mapping in an SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("state: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite %q: %w", path, err)
	}
	// One writer; modernc.org/sqlite does not share a page cache across connections.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads every row into a Map.
func (s *SQLiteStore) Load(ctx context.Context) (Map, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, alert_level, alert_date FROM alert_state`)
	if err != nil {
		return nil, fmt.Errorf("state: query: %w", err)
	}
	defer rows.Close()

	m := Map{}
	for rows.Next() {
		var (
			key   string
			level sql.NullFloat64
			date  sql.NullString
		)
		if err := rows.Scan(&key, &level, &date); err != nil {
			return nil, fmt.Errorf("state: scan: %w", err)
		}
		var e Entry
		if level.Valid {
			v := level.Float64
			e.AlertLevel = &v
		}
		if date.Valid {
			d := date.String
			e.AlertDate = &d
		}
		m[key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: rows: %w", err)
	}
	return m, nil
}

// Save upserts every entry of m in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, m Map) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO alert_state (key, alert_level, alert_date) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET alert_level = excluded.alert_level, alert_date = excluded.alert_date`)
	if err != nil {
		return fmt.Errorf("state: prepare: %w", err)
	}
	defer stmt.Close()

	for key, e := range m {
		var (
			level sql.NullFloat64
			date  sql.NullString
		)
		if e.AlertLevel != nil {
			level = sql.NullFloat64{Float64: *e.AlertLevel, Valid: true}
		}
		if e.AlertDate != nil {
			date = sql.NullString{String: *e.AlertDate, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, key, level, date); err != nil {
			return fmt.Errorf("state: upsert %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
