package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/stayAuth/cryptoutil"
	"github.com/MrEthical07/stayAuth/internal"
	"github.com/redis/go-redis/v9"
)

const touchRetries = 3

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

const deleteAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  removed = removed + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return removed
`

var deleteAllLua = redis.NewScript(deleteAllScript)

// Config controls session lifetimes.
type Config struct {
	// TTL is the idle timeout; each touch extends expiry to now+TTL.
	TTL time.Duration
	// AbsoluteLifetime caps expiry at CreatedAt+AbsoluteLifetime regardless of activity.
	AbsoluteLifetime time.Duration
}

// Store keeps sessions in Redis with a durable mirror.
type Store struct {
	deps
	redis  redis.UniversalClient
	sealer *cryptoutil.Sealer
	cfg    Config
}

// NewStore creates a session Store. sealer encrypts every blob at rest.
func NewStore(client redis.UniversalClient, sealer *cryptoutil.Sealer, cfg Config, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("session: redis client is required")
	}
	if sealer == nil {
		return nil, errors.New("session: sealer is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("session: ttl must be > 0")
	}
	if cfg.AbsoluteLifetime < cfg.TTL {
		cfg.AbsoluteLifetime = cfg.TTL
	}
	return &Store{deps: newDeps(opts), redis: client, sealer: sealer, cfg: cfg}, nil
}

func (s *Store) key(sessionID string) string {
	return s.prefix + "ss:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "su:" + userID
}

// expiry returns min(now+TTL, created+AbsoluteLifetime).
func (s *Store) expiry(created, now time.Time) time.Time {
	idle := now.Add(s.cfg.TTL)
	hard := created.Add(s.cfg.AbsoluteLifetime)
	if hard.Before(idle) {
		return hard
	}
	return idle
}

func (s *Store) seal(key string, sess *Session) ([]byte, error) {
	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}
	return s.sealer.Seal(data, []byte(key))
}

func (s *Store) open(key string, blob []byte) (*Session, error) {
	plain, err := s.sealer.Open(blob, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	sess, err := Decode(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return sess, nil
}

// Create writes sess to the primary and mirrors it durably. A missing SessionID is
// generated; timestamps are filled from the clock. Returns the session ID.
func (s *Store) Create(ctx context.Context, sess *Session) (string, error) {
	if sess == nil || sess.UserID == "" {
		return "", errors.New("session: user id is required")
	}
	now := s.now()
	if sess.SessionID == "" {
		id, err := internal.NewSessionIDString()
		if err != nil {
			return "", err
		}
		sess.SessionID = id
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.LastActivity = now
	sess.ExpiresAt = s.expiry(sess.CreatedAt, now)
	ttl := sess.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return "", errors.New("session: already expired")
	}

	key := s.key(sess.SessionID)
	blob, err := s.seal(key, sess)
	if err != nil {
		return "", err
	}
	userKey := s.userKey(sess.UserID)

	err = s.primary(ctx, func(ctx context.Context) error {
		_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, blob, ttl)
			pipe.SAdd(ctx, userKey, sess.SessionID)
			pipe.Expire(ctx, userKey, s.cfg.AbsoluteLifetime)
			return nil
		})
		return err
	})
	if err != nil {
		return "", err
	}

	s.mirror(ctx, "session.create", func(ctx context.Context, d Durable) error {
		return d.SaveSession(ctx, sess)
	})
	return sess.SessionID, nil
}

// Get returns the live session. An expired primary record is deleted and reported as
// ErrNotFound. When the primary is unavailable the durable view is consulted and the
// result carries SourceDurable.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := s.key(sessionID)
	res, err := primaryOr(ctx, &s.deps, func(ctx context.Context) (sessionRead, error) {
		data, err := s.redis.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sessionRead{}, nil
		}
		return sessionRead{blob: data}, err
	}, func(ctx context.Context, cause error) (sessionRead, error) {
		sess, err := s.getDurable(ctx, sessionID, cause)
		return sessionRead{durable: sess}, err
	})
	if err != nil {
		return nil, err
	}
	if res.durable != nil {
		return res.durable, nil
	}
	if res.blob == nil {
		return nil, ErrNotFound
	}

	sess, err := s.open(key, res.blob)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID
	sess.Source = SourcePrimary

	if sess.Expired(s.now()) {
		if _, err := s.deleteOne(ctx, sessionID, sess.UserID); err != nil {
			s.warn.Warn("expired session cleanup failed", "error", err)
		}
		return nil, ErrNotFound
	}
	return sess, nil
}

// sessionRead is either a sealed primary blob or a session rebuilt from the durable
// mirror.
type sessionRead struct {
	blob    []byte
	durable *Session
}

func (s *Store) getDurable(ctx context.Context, sessionID string, cause error) (*Session, error) {
	if s.durable == nil {
		return nil, cause
	}
	s.warn.Warn("session primary unavailable, reading durable mirror", "error", cause)
	d, err := s.durable.GetSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: durable: %v", cause, err)
	}
	if !d.LoggedOutAt.IsZero() || !s.now().Before(d.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &Session{
		SessionID:  d.SessionID,
		UserID:     d.UserID,
		TenantID:   d.TenantID,
		Role:       d.Role,
		AdminLevel: d.AdminLevel,
		CreatedAt:  d.CreatedAt,
		ExpiresAt:  d.ExpiresAt,
		Source:     SourceDurable,
	}, nil
}

// Touch refreshes LastActivity and slides ExpiresAt. It never creates a record: an
// absent or expired session is left alone and nil is returned.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	key := s.key(sessionID)
	return s.primary(ctx, func(ctx context.Context) error {
		var err error
		for i := 0; i < touchRetries; i++ {
			err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
				return s.touchTx(ctx, tx, key)
			}, key)
			if !errors.Is(err, redis.TxFailedErr) {
				break
			}
		}
		if errors.Is(err, redis.TxFailedErr) {
			// A concurrent writer already moved the record forward.
			return nil
		}
		return err
	})
}

func (s *Store) touchTx(ctx context.Context, tx *redis.Tx, key string) error {
	blob, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	sess, err := s.open(key, blob)
	if err != nil {
		s.warn.Warn("touch skipped corrupt session", "error", err)
		return nil
	}
	now := s.now()
	if sess.Expired(now) {
		return nil
	}
	sess.LastActivity = now
	sess.ExpiresAt = s.expiry(sess.CreatedAt, now)
	ttl := sess.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	next, err := s.seal(key, sess)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetXX(ctx, key, next, ttl)
		return nil
	})
	return err
}

// Delete removes one session and records the durable logout. Returns whether a
// primary record was removed.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	key := s.key(sessionID)
	var (
		userID  string
		corrupt bool
	)
	err := s.primary(ctx, func(ctx context.Context) error {
		data, err := s.redis.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		sess, err := s.open(key, data)
		if err != nil {
			corrupt = true
			return nil
		}
		userID = sess.UserID
		return nil
	})
	if corrupt {
		userID = s.durableOwner(ctx, sessionID)
	}

	s.mirror(ctx, "session.logout", func(ctx context.Context, d Durable) error {
		return d.MarkLoggedOut(ctx, sessionID, s.now())
	})
	if err != nil {
		return false, err
	}
	return s.deleteOne(ctx, sessionID, userID)
}

// durableOwner recovers the user of a session whose primary blob cannot be opened.
func (s *Store) durableOwner(ctx context.Context, sessionID string) string {
	if s.durable == nil {
		return ""
	}
	d, err := s.durable.GetSession(ctx, sessionID)
	if err != nil {
		return ""
	}
	return d.UserID
}

// deleteOne removes the blob and its user index entry. Without a userID only the blob
// is removed; the stale index entry is dropped by the next DeleteAll.
func (s *Store) deleteOne(ctx context.Context, sessionID, userID string) (bool, error) {
	var removed int64
	if userID == "" {
		s.warn.Warn("session owner unknown, user index not updated")
		err := s.primary(ctx, func(ctx context.Context) error {
			n, err := s.redis.Del(ctx, s.key(sessionID)).Result()
			removed = n
			return err
		})
		return removed > 0, err
	}
	err := s.primary(ctx, func(ctx context.Context) error {
		n, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(sessionID), s.userKey(userID)}, sessionID).Int64()
		removed = n
		return err
	})
	return removed > 0, err
}

// DeleteAll removes every session indexed for userID and marks the durable records
// logged out. Returns the number of primary records removed; a second call returns 0.
func (s *Store) DeleteAll(ctx context.Context, userID string) (int, error) {
	var removed int64
	err := s.primary(ctx, func(ctx context.Context) error {
		n, err := deleteAllLua.Run(ctx, s.redis, []string{s.userKey(userID)}, s.prefix+"ss:").Int64()
		removed = n
		return err
	})

	s.mirror(ctx, "session.logout_all", func(ctx context.Context, d Durable) error {
		_, err := d.MarkUserLoggedOut(ctx, userID, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// Ping measures a primary round trip.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
