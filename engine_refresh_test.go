package stayAuth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/stayAuth/internal/audit"
)

func TestRefreshRotates(t *testing.T) {
	f := newFixture(t, nil)
	res := f.login(t, testDevice)
	ctx := context.Background()
	f.advance(time.Minute)

	next, err := f.engine.Refresh(ctx, res.Tokens.RefreshToken, res.Tokens.CSRFToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.SessionID != res.Tokens.SessionID {
		t.Fatal("rotation must keep the session")
	}
	if next.RefreshToken == res.Tokens.RefreshToken || next.AccessToken == res.Tokens.AccessToken {
		t.Fatal("expected fresh tokens")
	}
	if _, err := f.engine.Authenticate(ctx, Request{BearerToken: next.AccessToken}); err != nil {
		t.Fatalf("new access token: %v", err)
	}
	if _, err := f.engine.Refresh(ctx, next.RefreshToken, next.CSRFToken); err != nil {
		t.Fatalf("second rotation: %v", err)
	}
}

func TestRefreshCSRFMismatch(t *testing.T) {
	f := newFixture(t, nil)
	res := f.login(t, testDevice)

	if _, err := f.engine.Refresh(context.Background(), res.Tokens.RefreshToken, "forged"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	// The token is still usable with the right value.
	if _, err := f.engine.Refresh(context.Background(), res.Tokens.RefreshToken, res.Tokens.CSRFToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}

func TestRefreshReuseKillsSession(t *testing.T) {
	f := newFixture(t, nil)
	res := f.login(t, testDevice)
	ctx := context.Background()

	next, err := f.engine.Refresh(ctx, res.Tokens.RefreshToken, res.Tokens.CSRFToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Replaying the rotated token is theft.
	if _, err := f.engine.Refresh(ctx, res.Tokens.RefreshToken, res.Tokens.CSRFToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected reuse rejection, got %v", err)
	}
	if _, err := f.engine.Refresh(ctx, next.RefreshToken, next.CSRFToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("legitimate successor must be revoked too, got %v", err)
	}
	if _, err := f.engine.sessions.Get(ctx, res.Tokens.SessionID); err == nil {
		t.Fatal("session must be deleted")
	}
	if f.engine.metrics.Value(MetricRefreshReuseDetected) != 1 {
		t.Fatal("expected one reuse detection")
	}

	f.engine.Close()
	if f.sink.count(audit.RefreshReuse, false) != 1 {
		t.Fatal("expected reuse audit")
	}
}

func TestRefreshConcurrentRotationHasOneWinner(t *testing.T) {
	f := newFixture(t, nil)
	res := f.login(t, testDevice)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.Refresh(context.Background(), res.Tokens.RefreshToken, res.Tokens.CSRFToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t, nil)
	res := f.login(t, testDevice)
	if _, err := f.engine.Refresh(context.Background(), res.Tokens.AccessToken, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected type check to reject, got %v", err)
	}
	if _, err := f.engine.Refresh(context.Background(), "", ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected empty token rejection, got %v", err)
	}
}
