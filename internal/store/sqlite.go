package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open db", err)
	}

	s := &SQLiteStore{
		sqlStore: newSQLStore(db, "sqlite", nil),
		path:     dbPath,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id              TEXT PRIMARY KEY,
		input_hash      TEXT NOT NULL UNIQUE,
		input_text      TEXT NOT NULL,
		norm_hash       TEXT NOT NULL,
		normalized_text TEXT NOT NULL,
		result          TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		hit_count       INTEGER NOT NULL DEFAULT 0,
		last_used_at    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_records_norm ON records(norm_hash);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release. Errors mean the column exists.
	s.db.Exec(`ALTER TABLE records ADD COLUMN golden INTEGER NOT NULL DEFAULT 0`)
	s.db.Exec(`ALTER TABLE records ADD COLUMN score INTEGER NOT NULL DEFAULT -1`)

	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Stats returns aggregate counters plus the database file size.
func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	st, err := s.stats(ctx)
	if err != nil {
		return nil, err
	}
	st.Path = s.path
	if info, err := os.Stat(s.path); err == nil {
		st.SizeBytes = info.Size()
	}
	return st, nil
}

var _ Store = (*SQLiteStore)(nil)
