package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/stayAuth/breaker"
	"github.com/MrEthical07/stayAuth/cryptoutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memDurable is an in-memory Durable used to observe mirror writes.
type memDurable struct {
	mu       sync.Mutex
	sessions map[string]*DurableSession
	refresh  map[string]*RefreshRecord
	fail     bool
}

func newMemDurable() *memDurable {
	return &memDurable{sessions: map[string]*DurableSession{}, refresh: map[string]*RefreshRecord{}}
}

var errDurableDown = errors.New("durable down")

func (m *memDurable) SaveSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errDurableDown
	}
	m.sessions[s.SessionID] = &DurableSession{
		SessionID: s.SessionID, UserID: s.UserID, TenantID: s.TenantID, Role: s.Role,
		AdminLevel: s.AdminLevel, CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt,
	}
	return nil
}

func (m *memDurable) GetSession(_ context.Context, id string) (*DurableSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errDurableDown
	}
	d, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDurable) MarkLoggedOut(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.sessions[id]; ok && d.LoggedOutAt.IsZero() {
		d.LoggedOutAt = at
	}
	return nil
}

func (m *memDurable) MarkUserLoggedOut(_ context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.sessions {
		if d.UserID == userID && d.LoggedOutAt.IsZero() {
			d.LoggedOutAt = at
			n++
		}
	}
	return n, nil
}

func (m *memDurable) SaveRefresh(_ context.Context, r *RefreshRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.refresh[r.TokenID] = &cp
	return nil
}

func (m *memDurable) MarkRefreshRotated(_ context.Context, id, replacedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.refresh[id]; ok {
		r.IsRevoked, r.RevokedAt, r.ReplacedBy = true, at, replacedBy
	}
	return nil
}

func (m *memDurable) revokeWhere(match func(*RefreshRecord) bool, at time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.refresh {
		if match(r) && !r.IsRevoked {
			r.IsRevoked, r.RevokedAt = true, at
			n++
		}
	}
	return n
}

func (m *memDurable) RevokeRefreshForSession(_ context.Context, sid string, at time.Time) (int64, error) {
	return m.revokeWhere(func(r *RefreshRecord) bool { return r.SessionID == sid }, at), nil
}

func (m *memDurable) RevokeRefreshForUser(_ context.Context, uid string, at time.Time) (int64, error) {
	return m.revokeWhere(func(r *RefreshRecord) bool { return r.UserID == uid }, at), nil
}

type storeFixture struct {
	store   *Store
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	clock   *testClock
	durable *memDurable
	sealer  *cryptoutil.Sealer
}

func newStoreFixture(t *testing.T, opts ...Option) *storeFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sealer, err := cryptoutil.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	durable := newMemDurable()
	base := []Option{WithClock(clock.Now), WithDurable(durable)}
	store, err := NewStore(rdb, sealer, Config{TTL: 30 * time.Minute, AbsoluteLifetime: 2 * time.Hour}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return &storeFixture{store: store, mr: mr, rdb: rdb, clock: clock, durable: durable, sealer: sealer}
}

func testSession() *Session {
	return &Session{
		UserID:            "u-1",
		TenantID:          "hotel-7",
		Role:              "frontdesk",
		AdminLevel:        1,
		IPAddress:         "203.0.113.9",
		UserAgent:         "Mozilla/5.0",
		DeviceFingerprint: "fp-1",
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	id, err := f.store.Create(ctx, testSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated session id")
	}

	got, err := f.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "u-1" || got.Role != "frontdesk" || got.TenantID != "hotel-7" || got.AdminLevel != 1 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Source != SourcePrimary {
		t.Fatal("expected primary source")
	}
	if want := f.clock.Now().Add(30 * time.Minute); !got.ExpiresAt.Equal(want) {
		t.Fatalf("expires = %v, want %v", got.ExpiresAt, want)
	}
	if ttl := f.mr.TTL("ss:" + id); ttl != 30*time.Minute {
		t.Fatalf("redis ttl = %v", ttl)
	}
	if ok, _ := f.mr.SIsMember("su:u-1", id); !ok {
		t.Fatal("session not indexed for user")
	}
	if _, ok := f.durable.sessions[id]; !ok {
		t.Fatal("durable mirror not written")
	}
}

func TestBlobIsSealed(t *testing.T) {
	f := newStoreFixture(t)
	id, err := f.store.Create(context.Background(), testSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	raw, err := f.mr.Get("ss:" + id)
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if _, err := Decode([]byte(raw)); err == nil {
		t.Fatal("blob decoded without opening; not encrypted")
	}

	other, _ := cryptoutil.NewSealer([]byte("fedcba9876543210fedcba9876543210"))
	wrong, _ := NewStore(f.rdb, other, Config{TTL: time.Minute}, WithClock(f.clock.Now))
	if _, err := wrong.Get(context.Background(), id); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt with another key, got %v", err)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	f := newStoreFixture(t)
	if _, err := f.store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetExpiredDeletes(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	id, _ := f.store.Create(ctx, testSession())

	// Clock passes expiry before Redis evicts the key.
	f.clock.Advance(31 * time.Minute)
	if _, err := f.store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}
	if f.mr.Exists("ss:" + id) {
		t.Fatal("expired session should be deleted")
	}
	if ok, _ := f.mr.SIsMember("su:u-1", id); ok {
		t.Fatal("expired session should leave the user index")
	}
}

func TestTouchSlidesExpiryWithinAbsoluteCap(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	id, _ := f.store.Create(ctx, testSession())
	created := f.clock.Now()

	f.clock.Advance(20 * time.Minute)
	if err := f.store.Touch(ctx, id); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ := f.store.Get(ctx, id)
	if !got.LastActivity.Equal(f.clock.Now()) {
		t.Fatalf("last activity = %v, want %v", got.LastActivity, f.clock.Now())
	}
	if want := f.clock.Now().Add(30 * time.Minute); !got.ExpiresAt.Equal(want) {
		t.Fatalf("expires = %v, want %v", got.ExpiresAt, want)
	}

	for i := 0; i < 4; i++ {
		f.clock.Advance(20 * time.Minute)
		if err := f.store.Touch(ctx, id); err != nil {
			t.Fatalf("touch %d: %v", i, err)
		}
	}
	got, err := f.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get after touches: %v", err)
	}
	if want := created.Add(2 * time.Hour); !got.ExpiresAt.Equal(want) {
		t.Fatalf("expires = %v, want absolute cap %v", got.ExpiresAt, want)
	}
	if got.ExpiresAt.Before(got.CreatedAt) {
		t.Fatal("expires before created")
	}
}

func TestTouchNeverCreates(t *testing.T) {
	f := newStoreFixture(t)
	if err := f.store.Touch(context.Background(), "ghost"); err != nil {
		t.Fatalf("touch missing: %v", err)
	}
	if keys := f.mr.Keys(); len(keys) != 0 {
		t.Fatalf("touch created keys: %v", keys)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	id, _ := f.store.Create(ctx, testSession())

	removed, err := f.store.Delete(ctx, id)
	if err != nil || !removed {
		t.Fatalf("first delete: removed=%v err=%v", removed, err)
	}
	removed, err = f.store.Delete(ctx, id)
	if err != nil || removed {
		t.Fatalf("second delete: removed=%v err=%v", removed, err)
	}
	if f.durable.sessions[id].LoggedOutAt.IsZero() {
		t.Fatal("durable logout not recorded")
	}
}

func TestDeleteAllCountsThenZero(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.store.Create(ctx, testSession()); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	other := testSession()
	other.UserID = "u-2"
	otherID, _ := f.store.Create(ctx, other)

	n, err := f.store.DeleteAll(ctx, "u-1")
	if err != nil || n != 3 {
		t.Fatalf("first delete all: n=%d err=%v", n, err)
	}
	n, err = f.store.DeleteAll(ctx, "u-1")
	if err != nil || n != 0 {
		t.Fatalf("second delete all: n=%d err=%v", n, err)
	}
	if _, err := f.store.Get(ctx, otherID); err != nil {
		t.Fatalf("other user's session removed: %v", err)
	}
}

func TestGetFallsBackToDurableWhenPrimaryDown(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	id, _ := f.store.Create(ctx, testSession())

	f.mr.SetError("ERR simulated outage")
	got, err := f.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("fallback get: %v", err)
	}
	if got.Source != SourceDurable || got.Role != "frontdesk" || got.UserID != "u-1" {
		t.Fatalf("unexpected fallback session: %+v", got)
	}

	f.durable.fail = true
	if _, err := f.store.Get(ctx, id); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable when both backends fail, got %v", err)
	}
}

func TestDurableFallbackHonorsLogout(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	id, _ := f.store.Create(ctx, testSession())
	if _, err := f.store.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f.mr.SetError("ERR simulated outage")
	if _, err := f.store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("logged-out session revived by fallback: %v", err)
	}
}

func TestBreakerOpenSkipsPrimary(t *testing.T) {
	cfg := breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute, CallTimeout: time.Second}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	br, err := breaker.New("redis", cfg, breaker.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("breaker: %v", err)
	}
	f := newStoreFixture(t, WithBreaker(br))
	ctx := context.Background()
	id, _ := f.store.Create(ctx, testSession())

	f.mr.SetError("ERR simulated outage")
	_, _ = f.store.Get(ctx, id)
	if s := br.Snapshot(ctx); s.State != breaker.StateOpen {
		t.Fatalf("expected breaker open, got %s", s.State)
	}

	f.mr.SetError("")
	got, err := f.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get while open: %v", err)
	}
	if got.Source != SourceDurable {
		t.Fatal("open breaker should route reads to the durable mirror")
	}
	if s := br.Snapshot(ctx); s.TotalRejected != 1 {
		t.Fatalf("durable read should go through the breaker's open path, rejected=%d", s.TotalRejected)
	}

	f.durable.fail = true
	if _, err := f.store.Get(ctx, id); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable with the breaker open and mirror down, got %v", err)
	}
}

func TestDeleteCorruptBlobCleansUserIndex(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	id, _ := f.store.Create(ctx, testSession())
	if err := f.rdb.Set(ctx, f.store.key(id), "not-a-sealed-blob", time.Hour).Err(); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	removed, err := f.store.Delete(ctx, id)
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	member, err := f.rdb.SIsMember(ctx, f.store.userKey("u-1"), id).Result()
	if err != nil {
		t.Fatalf("sismember: %v", err)
	}
	if member {
		t.Fatal("stale entry left in the user index")
	}
	if n, _ := f.rdb.Exists(ctx, f.store.userKey("")).Result(); n != 0 {
		t.Fatal("index written under an empty user id")
	}
}

func TestMirrorFailureIsNotFatal(t *testing.T) {
	var failed []string
	f := newStoreFixture(t, WithMirrorFailureHook(func(op string) { failed = append(failed, op) }))
	f.durable.fail = true
	if _, err := f.store.Create(context.Background(), testSession()); err != nil {
		t.Fatalf("create should succeed when mirror fails: %v", err)
	}
	if len(failed) != 1 || failed[0] != "session.create" {
		t.Fatalf("mirror failure hook = %v", failed)
	}
}

func TestCreatePrimaryFailureSurfaces(t *testing.T) {
	f := newStoreFixture(t)
	f.mr.SetError("ERR simulated outage")
	if _, err := f.store.Create(context.Background(), testSession()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestKeyPrefix(t *testing.T) {
	f := newStoreFixture(t, WithKeyPrefix("stay:"))
	id, _ := f.store.Create(context.Background(), testSession())
	if !f.mr.Exists("stay:ss:" + id) {
		t.Fatal("prefixed key not written")
	}
	if n, _ := f.store.DeleteAll(context.Background(), "u-1"); n != 1 {
		t.Fatalf("prefixed delete all = %d", n)
	}
}
