package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"erp/ecommerce/cart-service/internal/config"
)

var postgresDialect = dialect{
	mode: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS cart_sessions (
			id TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			payload TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cart_sessions_updated ON cart_sessions (updated_at)`,
	},
}

// OpenPostgres connects with DATABASE_URL or the DB_* settings, tunes the
// pool and ensures the table exists.
func OpenPostgres(ctx context.Context, cfg config.StoreConfig) (*SQLStore, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLife)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := newSQLStore(ctx, db, postgresDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
