package breaker

import (
	"context"
	"sync/atomic"
	"time"
)

// TieredStore prefers a shared store and falls back to a local one while the shared
// store errors. The first successful shared write after a fallback period clears the
// local tier.
type TieredStore struct {
	shared   StateStore
	local    StateStore
	degraded atomic.Bool
}

// NewTieredStore combines shared and local. A nil local uses a fresh MemoryStore.
func NewTieredStore(shared, local StateStore) *TieredStore {
	if local == nil {
		local = NewMemoryStore()
	}
	return &TieredStore{shared: shared, local: local}
}

// Degraded reports whether the local tier is in charge.
func (t *TieredStore) Degraded() bool { return t.degraded.Load() }

func (t *TieredStore) Load(ctx context.Context, name string) (Snapshot, error) {
	if !t.degraded.Load() {
		if s, err := t.shared.Load(ctx, name); err == nil {
			return s, nil
		}
	}
	return t.local.Load(ctx, name)
}

func (t *TieredStore) Acquire(ctx context.Context, name string, cfg Config, now time.Time) (Admission, error) {
	if !t.degraded.Load() {
		adm, err := t.shared.Acquire(ctx, name, cfg, now)
		if err == nil {
			return adm, nil
		}
		t.degraded.Store(true)
	}
	return t.local.Acquire(ctx, name, cfg, now)
}

func (t *TieredStore) RecordSuccess(ctx context.Context, name string, cfg Config, now time.Time) (Snapshot, error) {
	if t.degraded.Load() {
		local, err := t.local.RecordSuccess(ctx, name, cfg, now)
		if err != nil {
			return local, err
		}
		shared, serr := t.shared.RecordSuccess(ctx, name, cfg, now)
		if serr != nil {
			return local, nil
		}
		t.degraded.Store(false)
		_ = t.local.Reset(ctx, name)
		return shared, nil
	}
	s, err := t.shared.RecordSuccess(ctx, name, cfg, now)
	if err == nil {
		return s, nil
	}
	t.degraded.Store(true)
	return t.local.RecordSuccess(ctx, name, cfg, now)
}

func (t *TieredStore) RecordFailure(ctx context.Context, name string, cfg Config, now time.Time) (Snapshot, error) {
	if !t.degraded.Load() {
		s, err := t.shared.RecordFailure(ctx, name, cfg, now)
		if err == nil {
			return s, nil
		}
		t.degraded.Store(true)
	}
	return t.local.RecordFailure(ctx, name, cfg, now)
}

func (t *TieredStore) Reset(ctx context.Context, name string) error {
	_ = t.local.Reset(ctx, name)
	return t.shared.Reset(ctx, name)
}
