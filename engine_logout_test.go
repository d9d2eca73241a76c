package stayAuth

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/stayAuth/internal/audit"
)

func TestLogoutRevokesEverythingImmediately(t *testing.T) {
	f := newFixture(t, nil)
	res := f.login(t, testDevice)
	ctx := context.Background()

	if err := f.engine.Logout(ctx, Tokens{AccessToken: res.Tokens.AccessToken}); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := f.engine.Authenticate(ctx, Request{BearerToken: res.Tokens.AccessToken}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("access token must stop working at once, got %v", err)
	}
	if _, err := f.engine.Authenticate(ctx, Request{SessionID: res.Tokens.SessionID}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("session must be gone, got %v", err)
	}
	if _, err := f.engine.Refresh(ctx, res.Tokens.RefreshToken, res.Tokens.CSRFToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("refresh chain must be revoked, got %v", err)
	}
	if f.engine.metrics.Value(MetricRefreshReuseDetected) != 0 {
		t.Fatal("a logged-out refresh token is not reuse")
	}
	if f.engine.metrics.Value(MetricBlacklistHit) != 1 {
		t.Fatal("expected blacklist hit")
	}
}

func TestLogoutIsRepeatable(t *testing.T) {
	f := newFixture(t, nil)
	res := f.login(t, testDevice)
	ctx := context.Background()
	tokens := Tokens{AccessToken: res.Tokens.AccessToken}

	for i := 0; i < 2; i++ {
		if err := f.engine.Logout(ctx, tokens); err != nil {
			t.Fatalf("logout %d: %v", i, err)
		}
	}
	f.engine.Close()
	if f.sink.count(audit.Logout, true) != 2 {
		t.Fatal("expected both logouts audited")
	}
}

func TestLogoutBySessionID(t *testing.T) {
	f := newFixture(t, nil)
	res := f.login(t, testDevice)
	ctx := context.Background()

	if err := f.engine.Logout(ctx, Tokens{SessionID: res.Tokens.SessionID}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.engine.sessions.Get(ctx, res.Tokens.SessionID); err == nil {
		t.Fatal("expected session deleted")
	}
	if err := f.engine.Logout(ctx, Tokens{SessionID: res.Tokens.SessionID}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("unknown session should be unauthenticated, got %v", err)
	}
}

func TestLogoutWithoutCredentials(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.engine.Logout(context.Background(), Tokens{AccessToken: "junk"}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestLogoutAllIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	first := f.login(t, testDevice)
	second := f.login(t, Device{IP: "203.0.113.9", UserAgent: "kiosk"})
	ctx := context.Background()
	tokens := Tokens{AccessToken: first.Tokens.AccessToken}

	out, err := f.engine.LogoutAll(ctx, tokens)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if out.Sessions != 2 || out.RefreshTokens != 2 {
		t.Fatalf("unexpected counts %+v", out)
	}

	again, err := f.engine.LogoutAll(ctx, tokens)
	if err != nil {
		t.Fatalf("second LogoutAll: %v", err)
	}
	if again.Sessions != 0 || again.RefreshTokens != 0 {
		t.Fatalf("expected zero counts, got %+v", again)
	}

	if _, err := f.engine.Authenticate(ctx, Request{BearerToken: first.Tokens.AccessToken}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("presented access token must be blacklisted, got %v", err)
	}
	if _, err := f.engine.Authenticate(ctx, Request{SessionID: second.Tokens.SessionID}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("other sessions must be gone, got %v", err)
	}
}

func TestRevokeUser(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t, testDevice)

	out, err := f.engine.RevokeUser(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}
	if out.Sessions != 1 || out.RefreshTokens != 1 {
		t.Fatalf("unexpected counts %+v", out)
	}
	if _, err := f.engine.RevokeUser(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty user")
	}
}
