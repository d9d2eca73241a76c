package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/stayAuth/jwt"
	"github.com/MrEthical07/stayAuth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc       *Service
	blacklist *Blacklist
	refresh   *session.RefreshStore
	mr        *miniredis.Miniredis
	clock     *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := &clock{now: time.Unix(1_700_000_000, 0)}
	mr.SetTime(c.Now())

	manager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "stayauth",
		Audience:      "hotel-api",
		Now:           c.Now,
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	refresh, err := session.NewRefreshStore(rdb, session.WithClock(c.Now))
	if err != nil {
		t.Fatalf("refresh store: %v", err)
	}
	bl := NewBlacklist(rdb, 15*time.Minute, WithBlacklistClock(c.Now))
	svc, err := NewService(manager, refresh, bl)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return &fixture{svc: svc, blacklist: bl, refresh: refresh, mr: mr, clock: c}
}

var subject = jwt.Subject{UserID: "u-1", Role: "frontdesk", AdminLevel: 0, TenantID: "hotel-1", SessionID: "s-1"}

func TestIssueAndValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, subject, "device-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.CSRFToken == "" || pair.SessionID != "s-1" {
		t.Fatalf("incomplete pair: %+v", pair)
	}
	claims, err := f.svc.ValidateAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if claims.Identity() != subject {
		t.Fatalf("identity = %+v", claims.Identity())
	}
	rc, rec, err := f.svc.ValidateRefresh(ctx, pair.RefreshToken, pair.CSRFToken)
	if err != nil {
		t.Fatalf("validate refresh: %v", err)
	}
	if rc.DeviceID != "device-1" || rec.TokenID != pair.RefreshID {
		t.Fatalf("refresh claims/record mismatch: %+v %+v", rc, rec)
	}
}

func TestValidateAccessRejectsRefreshToken(t *testing.T) {
	f := newFixture(t)
	pair, _ := f.svc.Issue(context.Background(), subject, "")
	if _, err := f.svc.ValidateAccess(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateAccessExpired(t *testing.T) {
	f := newFixture(t)
	pair, _ := f.svc.Issue(context.Background(), subject, "")
	f.clock.Advance(16 * time.Minute)
	if _, err := f.svc.ValidateAccess(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestRevokeBlacklistsForRemainingLifetime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, _ := f.svc.Issue(ctx, subject, "")

	f.clock.Advance(5 * time.Minute)
	if err := f.svc.Revoke(ctx, pair.AccessToken, "logout"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := f.svc.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	ttl := f.mr.TTL("bl:" + pair.AccessID)
	if ttl <= 0 || ttl > 10*time.Minute {
		t.Fatalf("blacklist ttl = %v, want remaining lifetime", ttl)
	}
	entry, err := f.blacklist.Get(ctx, pair.AccessID)
	if err != nil || entry == nil || entry.Reason != "logout" {
		t.Fatalf("entry = %+v err=%v", entry, err)
	}
}

func TestBlacklistUnavailableFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, _ := f.svc.Issue(ctx, subject, "")
	f.mr.SetError("ERR simulated outage")
	if _, err := f.svc.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRevokeExpiredIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, _ := f.svc.Issue(ctx, subject, "")
	f.clock.Advance(time.Hour)
	if err := f.svc.Revoke(ctx, pair.AccessToken, "logout"); err != nil {
		t.Fatalf("revoke expired: %v", err)
	}
	if f.mr.Exists("bl:" + pair.AccessID) {
		t.Fatal("expired token should not be blacklisted")
	}
}

func TestCSRFMismatch(t *testing.T) {
	f := newFixture(t)
	pair, _ := f.svc.Issue(context.Background(), subject, "")
	if _, _, err := f.svc.ValidateRefresh(context.Background(), pair.RefreshToken, "wrong"); !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected ErrCSRFMismatch, got %v", err)
	}
}

func TestRotateAndReuse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, _ := f.svc.Issue(ctx, subject, "device-1")

	next, claims, err := f.svc.Rotate(ctx, pair.RefreshToken, pair.CSRFToken)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if claims.ID != pair.RefreshID || next.RefreshID == pair.RefreshID {
		t.Fatal("rotation did not mint a new refresh id")
	}
	if next.SessionID != pair.SessionID {
		t.Fatal("rotation changed session")
	}
	nc, _, err := f.svc.ValidateRefresh(ctx, next.RefreshToken, next.CSRFToken)
	if err != nil || nc.DeviceID != "device-1" {
		t.Fatalf("rotated token invalid: %v", err)
	}

	_, _, err = f.svc.Rotate(ctx, pair.RefreshToken, pair.CSRFToken)
	var reuse *ReuseError
	if !errors.As(err, &reuse) || !errors.Is(err, ErrReused) {
		t.Fatalf("expected reuse error, got %v", err)
	}
	if reuse.SessionID != "s-1" || reuse.UserID != "u-1" {
		t.Fatalf("reuse error lacks chain identity: %+v", reuse)
	}
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, _ := f.svc.Issue(ctx, subject, "")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.Rotate(ctx, pair.RefreshToken, pair.CSRFToken)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrReused) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}
}

func TestRevokeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.svc.Issue(ctx, subject, "")
	other := subject
	other.SessionID = "s-2"
	b, _ := f.svc.Issue(ctx, other, "")

	n, err := f.svc.RevokeAll(ctx, "u-1", a.AccessToken)
	if err != nil || n != 2 {
		t.Fatalf("revoke all: n=%d err=%v", n, err)
	}
	if _, err := f.svc.ValidateAccess(ctx, a.AccessToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("current access should be blacklisted: %v", err)
	}
	if _, _, err := f.svc.ValidateRefresh(ctx, b.RefreshToken, ""); !errors.Is(err, ErrRevoked) {
		t.Fatalf("revoked refresh should be rejected: %v", err)
	}
	n, err = f.svc.RevokeAll(ctx, "u-1", "")
	if err != nil || n != 0 {
		t.Fatalf("second revoke all: n=%d err=%v", n, err)
	}
}

func TestBlacklistSingleflight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.blacklist.Add(ctx, "jti-1", f.clock.Now().Add(time.Minute), "test"); err != nil {
		t.Fatalf("add: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.blacklist.Contains(ctx, "jti-1")
			if err != nil || !ok {
				t.Errorf("contains: %v %v", ok, err)
			}
		}()
	}
	wg.Wait()
}

func TestBlacklistTTLCapped(t *testing.T) {
	f := newFixture(t)
	if err := f.blacklist.Add(context.Background(), "long", f.clock.Now().Add(24*time.Hour), "test"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if ttl := f.mr.TTL("bl:long"); ttl != 15*time.Minute {
		t.Fatalf("ttl = %v, want cap", ttl)
	}
}
