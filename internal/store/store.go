// Package store keeps a server-side mirror of each session's latest cart
// version. The cookie stays the primary carrier; the mirror lets concurrent
// requests of one browser see each other's writes and detects lost updates
// across processes through compare-and-swap.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"erp/ecommerce/cart-service/internal/config"
	"erp/ecommerce/cart-service/internal/logging"
)

// ErrVersionMismatch is returned by CompareAndSwap when another writer got
// there first.
var ErrVersionMismatch = errors.New("store: version mismatch")

// Record is the mirrored state of one session.
type Record struct {
	Version   uint64
	Payload   []byte
	UpdatedAt time.Time
}

type Store interface {
	Get(ctx context.Context, id string) (Record, bool, error)
	// CompareAndSwap writes next if the stored version equals expected. A
	// missing record accepts any expected version, so a pruned or lost
	// mirror never blocks the cookie's own history.
	CompareAndSwap(ctx context.Context, id string, expected uint64, next Record) error
	Prune(ctx context.Context, olderThan time.Time) (int, error)
	Mode() string
	Close() error
}

// Open returns the configured backend. When that backend cannot be reached
// the service keeps running on the memory store and logs a warning.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) Store {
	logger = logging.OrNop(logger)
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case "postgres":
		s, err = OpenPostgres(ctx, cfg)
	case "sqlite":
		s, err = OpenSQLite(ctx, cfg.SQLitePath)
	case "", "memory":
		return NewMemory()
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		logger.Warn("session store unavailable, running in memory mode",
			zap.String("backend", cfg.Backend), zap.Error(err))
		return NewMemory()
	}
	logger.Info("session store ready", zap.String("mode", s.Mode()))
	return s
}

// RunPruner deletes records idle for longer than maxAge every interval until
// ctx is done.
func RunPruner(ctx context.Context, s Store, interval, maxAge time.Duration, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	if interval <= 0 || maxAge <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := s.Prune(ctx, now.Add(-maxAge))
			if err != nil {
				logger.Warn("prune session mirror failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("pruned session mirror", zap.Int("removed", n))
			}
		}
	}
}
