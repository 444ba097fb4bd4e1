package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var sqliteDialect = dialect{
	mode: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS cart_sessions (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cart_sessions_updated ON cart_sessions (updated_at)`,
	},
	rebind: questionMarks,
}

// OpenSQLite opens (creating if needed) a single-file session mirror.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = "cart-sessions.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection keeps CAS updates ordered.
	db.SetMaxOpenConns(1)
	s, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
