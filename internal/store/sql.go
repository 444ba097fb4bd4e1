package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var _ Store = (*SQLStore)(nil)

// dialect captures what differs between the SQL backends.
type dialect struct {
	mode   string
	schema []string
	// rebind rewrites $N placeholders for drivers that want ?.
	rebind func(string) string
}

// SQLStore mirrors sessions into a cart_sessions table. Postgres and SQLite
// share it.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	if s.d.rebind == nil {
		return query
	}
	return s.d.rebind(query)
}

// ---------------------------------------------------------------------------
// Read
// ---------------------------------------------------------------------------

func (s *SQLStore) Get(ctx context.Context, id string) (Record, bool, error) {
	var (
		rec     Record
		version int64
		payload string
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT version, payload, updated_at FROM cart_sessions WHERE id = $1`), id,
	).Scan(&version, &payload, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("select cart session: %w", err)
	}
	rec.Version = uint64(version)
	rec.Payload = []byte(payload)
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, true, nil
}

// ---------------------------------------------------------------------------
// Write
// ---------------------------------------------------------------------------

func (s *SQLStore) CompareAndSwap(ctx context.Context, id string, expected uint64, next Record) error {
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE cart_sessions SET version = $1, payload = $2, updated_at = $3 WHERE id = $4 AND version = $5`),
		int64(next.Version), string(next.Payload), next.UpdatedAt.UnixNano(), id, int64(expected),
	)
	if err != nil {
		return fmt.Errorf("update cart session: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update cart session: %w", err)
	} else if affected == 1 {
		return nil
	}

	res, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO cart_sessions (id, version, payload, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`),
		id, int64(next.Version), string(next.Payload), next.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert cart session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert cart session: %w", err)
	}
	if affected == 0 {
		return ErrVersionMismatch
	}
	return nil
}

func (s *SQLStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM cart_sessions WHERE updated_at < $1`), olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune cart sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune cart sessions: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) Mode() string { return s.d.mode }

func (s *SQLStore) Close() error { return s.db.Close() }

// questionMarks turns $1..$N into ? in order of appearance. Every query here
// uses each placeholder once and in ascending order.
func questionMarks(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
