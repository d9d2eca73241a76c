package breaker

import (
	"context"
	"sync"
	"time"
)

// StateStore persists breaker snapshots. Every method must apply its transition
// atomically with respect to other callers of the same name.
type StateStore interface {
	Load(ctx context.Context, name string) (Snapshot, error)
	Acquire(ctx context.Context, name string, cfg Config, now time.Time) (Admission, error)
	RecordSuccess(ctx context.Context, name string, cfg Config, now time.Time) (Snapshot, error)
	RecordFailure(ctx context.Context, name string, cfg Config, now time.Time) (Snapshot, error)
	Reset(ctx context.Context, name string) error
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	state map[string]*Snapshot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[string]*Snapshot)}
}

func (m *MemoryStore) get(name string) *Snapshot {
	s, ok := m.state[name]
	if !ok {
		s = &Snapshot{State: StateClosed}
		m.state[name] = s
	}
	return s
}

func (m *MemoryStore) Load(_ context.Context, name string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.get(name), nil
}

func (m *MemoryStore) Acquire(_ context.Context, name string, cfg Config, now time.Time) (Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(name).acquire(cfg, now), nil
}

func (m *MemoryStore) RecordSuccess(_ context.Context, name string, cfg Config, now time.Time) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(name)
	s.recordSuccess(cfg, now)
	return *s, nil
}

func (m *MemoryStore) RecordFailure(_ context.Context, name string, cfg Config, now time.Time) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(name)
	s.recordFailure(cfg, now)
	return *s, nil
}

func (m *MemoryStore) Reset(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, name)
	return nil
}
