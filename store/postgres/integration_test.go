//go:build integration

package postgres_test

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	stayAuth "github.com/MrEthical07/stayAuth"
	"github.com/MrEthical07/stayAuth/lockout"
	"github.com/MrEthical07/stayAuth/session"
	"github.com/MrEthical07/stayAuth/store/postgres"
	"github.com/MrEthical07/stayAuth/totp"
)

var dsn string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "stayauth_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		panic(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		panic(err)
	}
	dsn = fmt.Sprintf("postgres://postgres:password@%s:%s/stayauth_test?sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func openStore(t *testing.T) *postgres.Store {
	t.Helper()
	store, err := postgres.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func TestMigrateRoundTrip(t *testing.T) {
	store := openStore(t)

	v, err := store.MigrationVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)

	require.NoError(t, store.MigrateDown())
	v, err = store.MigrationVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)

	require.NoError(t, store.Migrate())
}

func TestAccountStore(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	require.NoError(t, store.CreateAccount(ctx, stayAuth.Account{
		UserID:       userID,
		TenantID:     "hotel-a",
		Identifier:   "Night.Audit@harbor.example",
		PasswordHash: "$argon2id$placeholder",
		Role:         "night_audit",
	}))

	acct, err := store.GetByIdentifier(ctx, "hotel-a", "night.audit@HARBOR.example")
	require.NoError(t, err)
	assert.Equal(t, userID, acct.UserID)

	_, err = store.GetByIdentifier(ctx, "hotel-b", "night.audit@harbor.example")
	assert.ErrorIs(t, err, stayAuth.ErrAccountNotFound)

	until := time.Now().Add(time.Minute).UTC().Truncate(time.Microsecond)
	require.NoError(t, store.UpdateLockout(ctx, userID, lockout.Record{FailedAttempts: 5, LastFailedAt: until, LockoutUntil: until}))

	hashes := []string{totp.HashBackupCode("AAAAA-BBBBB"), totp.HashBackupCode("CCCCC-DDDDD")}
	require.NoError(t, store.SaveTwoFactor(ctx, userID, stayAuth.TwoFactorCredential{
		Secret:           "sealed",
		BackupCodeHashes: hashes,
		Enabled:          true,
	}))

	acct, err = store.GetByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 5, acct.Lockout.FailedAttempts)
	assert.True(t, acct.Lockout.LockoutUntil.Equal(until))
	assert.ElementsMatch(t, hashes, acct.TwoFactor.BackupCodeHashes)

	ok, err := store.AdvanceTOTPCounter(ctx, userID, 100)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.AdvanceTOTPCounter(ctx, userID, 100)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ConsumeBackupCode(ctx, userID, hashes[0])
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.ConsumeBackupCode(ctx, userID, hashes[0])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentLockoutFailuresStack(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	userID := uuid.NewString()
	require.NoError(t, store.CreateAccount(ctx, stayAuth.Account{
		UserID:       userID,
		TenantID:     "hotel-a",
		Identifier:   userID + "@harbor.example",
		PasswordHash: "$argon2id$placeholder",
		Role:         "front_desk",
	}))

	tr := lockout.Tracker{MaxAttempts: 5, ResetWindow: time.Hour, LockDuration: time.Hour}
	now := time.Now().UTC().Truncate(time.Microsecond)

	var (
		wg       sync.WaitGroup
		crossed  atomic.Int32
		failures = 20
	)
	for i := 0; i < failures; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := store.RecordLockoutFailure(ctx, userID, tr, now)
			if !assert.NoError(t, err) {
				return
			}
			if tr.LockedBy(rec) {
				crossed.Add(1)
			}
		}()
	}
	wg.Wait()

	acct, err := store.GetByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, failures, acct.Lockout.FailedAttempts)
	assert.True(t, acct.Lockout.Locked(now))
	assert.EqualValues(t, 1, crossed.Load())
}

func TestDurableSessionMirror(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	userID, sessionID := uuid.NewString(), uuid.NewString()

	require.NoError(t, store.SaveSession(ctx, &session.Session{
		SessionID: sessionID, UserID: userID, Role: "front_desk",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.SaveRefresh(ctx, &session.RefreshRecord{
		TokenID: uuid.NewString(), UserID: userID, SessionID: sessionID,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	d, err := store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, d.ExpiresAt.Equal(now.Add(time.Hour)))
	assert.True(t, d.LoggedOutAt.IsZero())

	n, err := store.RevokeRefreshForUser(ctx, userID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = store.MarkUserLoggedOut(ctx, userID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = store.MarkUserLoggedOut(ctx, userID, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	d, err = store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.False(t, d.LoggedOutAt.IsZero())

	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

// TestEngineFallsBackToPostgres logs in with Redis healthy, takes Redis down and
// checks that the session is still answered from Postgres.
func TestEngineFallsBackToPostgres(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	cfg := stayAuth.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Security.EncryptionKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := stayAuth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccounts(store).
		WithDurable(store).
		WithAuditSink(store).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	hash, err := engine.HashPassword("correct-horse-battery")
	require.NoError(t, err)
	userID := uuid.NewString()
	require.NoError(t, store.CreateAccount(ctx, stayAuth.Account{
		UserID: userID, TenantID: "hotel-a", Identifier: "ana@harbor.example",
		PasswordHash: hash, Role: "front_desk",
	}))

	res, err := engine.Login(ctx, stayAuth.Credentials{
		TenantID:   "hotel-a",
		Identifier: "ana@harbor.example",
		Password:   "correct-horse-battery",
	}, stayAuth.Device{IP: "198.51.100.4", UserAgent: "front-desk-terminal"})
	require.NoError(t, err)
	require.NotNil(t, res.Tokens)

	mr.SetError("ERR simulated outage")
	id, err := engine.Authenticate(ctx, stayAuth.Request{SessionID: res.Tokens.SessionID})
	require.NoError(t, err)
	assert.Equal(t, userID, id.UserID)
	assert.Equal(t, stayAuth.SourceSessionDurable, id.Source)

	_, err = engine.Authenticate(ctx, stayAuth.Request{BearerToken: res.Tokens.AccessToken})
	assert.ErrorIs(t, err, stayAuth.ErrUnauthenticated)
}
