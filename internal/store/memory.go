package store

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

// Memory is the in-process backend. It is also the fallback when no
// database is reachable.
type Memory struct {
	mu   sync.RWMutex
	byID map[string]Record
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]Record)}
}

func (m *Memory) Get(_ context.Context, id string) (Record, bool, error) {
	m.mu.RLock()
	rec, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	return rec, true, nil
}

func (m *Memory) CompareAndSwap(_ context.Context, id string, expected uint64, next Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byID[id]; ok && cur.Version != expected {
		return ErrVersionMismatch
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	next.Payload = append([]byte(nil), next.Payload...)
	m.byID[id] = next
	return nil
}

func (m *Memory) Prune(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.byID {
		if rec.UpdatedAt.Before(olderThan) {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Mode() string { return "memory" }

func (m *Memory) Close() error { return nil }
