package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRefreshReused is returned when a revoked refresh token is presented again.
	ErrRefreshReused = errors.New("refresh token reused")
	// ErrRefreshExpired is returned when the record is past its expiry.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshMismatch is returned when the record belongs to another session.
	ErrRefreshMismatch = errors.New("refresh token session mismatch")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusReused   int64 = 1
	rotateStatusExpired  int64 = 2
	rotateStatusMismatch int64 = 3
	rotateStatusRotated  int64 = 4
)

// KEYS: old record, new record, user index, session index.
// ARGV: now_ms, new_id, uid, sid, created_ms, expires_ms.
const rotateRefreshScript = `
local old = KEYS[1]
if redis.call("EXISTS", old) == 0 then
  return 0
end
if redis.call("HGET", old, "revoked") == "1" then
  return 1
end
local now = tonumber(ARGV[1])
local exp = tonumber(redis.call("HGET", old, "expires") or "0")
if exp <= now then
  return 2
end
if redis.call("HGET", old, "sid") ~= ARGV[4] or redis.call("HGET", old, "uid") ~= ARGV[3] then
  return 3
end
redis.call("HSET", old, "revoked", "1", "revoked_at", ARGV[1], "replaced_by", ARGV[2])
redis.call("HSET", KEYS[2], "uid", ARGV[3], "sid", ARGV[4], "created", ARGV[5], "expires", ARGV[6], "revoked", "0")
redis.call("PEXPIREAT", KEYS[2], ARGV[6])
redis.call("SADD", KEYS[3], ARGV[2])
redis.call("SADD", KEYS[4], ARGV[2])
redis.call("PEXPIREAT", KEYS[3], ARGV[6])
redis.call("PEXPIREAT", KEYS[4], ARGV[6])
return 4
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// KEYS: index. ARGV: record key prefix, now_ms. Returns the number newly revoked.
const revokeIndexScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call("EXISTS", key) == 1 and redis.call("HGET", key, "revoked") ~= "1" then
    redis.call("HSET", key, "revoked", "1", "revoked_at", ARGV[2])
    revoked = revoked + 1
  end
end
return revoked
`

var revokeIndexLua = redis.NewScript(revokeIndexScript)

// RefreshStore keeps refresh-token records. Records are never deleted before their
// natural expiry so a replayed token can always be recognized as reused.
type RefreshStore struct {
	deps
	redis redis.UniversalClient
}

// NewRefreshStore creates a RefreshStore sharing the session store's options.
func NewRefreshStore(client redis.UniversalClient, opts ...Option) (*RefreshStore, error) {
	if client == nil {
		return nil, errors.New("session: redis client is required")
	}
	return &RefreshStore{deps: newDeps(opts), redis: client}, nil
}

func (r *RefreshStore) key(tokenID string) string {
	return r.prefix + "rt:" + tokenID
}

func (r *RefreshStore) userKey(userID string) string {
	return r.prefix + "rtu:" + userID
}

func (r *RefreshStore) sessionKey(sessionID string) string {
	return r.prefix + "rts:" + sessionID
}

// Put stores a fresh record.
func (r *RefreshStore) Put(ctx context.Context, rec *RefreshRecord) error {
	if rec == nil || rec.TokenID == "" || rec.UserID == "" || rec.SessionID == "" {
		return errors.New("session: incomplete refresh record")
	}
	if !rec.ExpiresAt.After(r.now()) {
		return ErrRefreshExpired
	}
	key := r.key(rec.TokenID)
	err := r.primary(ctx, func(ctx context.Context) error {
		_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"uid", rec.UserID,
				"sid", rec.SessionID,
				"created", rec.CreatedAt.UnixMilli(),
				"expires", rec.ExpiresAt.UnixMilli(),
				"revoked", "0",
			)
			pipe.PExpireAt(ctx, key, rec.ExpiresAt)
			pipe.SAdd(ctx, r.userKey(rec.UserID), rec.TokenID)
			pipe.PExpireAt(ctx, r.userKey(rec.UserID), rec.ExpiresAt)
			pipe.SAdd(ctx, r.sessionKey(rec.SessionID), rec.TokenID)
			pipe.PExpireAt(ctx, r.sessionKey(rec.SessionID), rec.ExpiresAt)
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	r.mirror(ctx, "refresh.put", func(ctx context.Context, d Durable) error {
		return d.SaveRefresh(ctx, rec)
	})
	return nil
}

// Get loads a record. Unknown or naturally expired IDs return ErrNotFound.
func (r *RefreshStore) Get(ctx context.Context, tokenID string) (*RefreshRecord, error) {
	var h map[string]string
	err := r.primary(ctx, func(ctx context.Context) error {
		out, err := r.redis.HGetAll(ctx, r.key(tokenID)).Result()
		h = out
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return recordFromHash(tokenID, h), nil
}

// Rotate atomically revokes oldID, pointing it at next, and stores next. Exactly one
// of several concurrent rotations of the same oldID succeeds; the others see
// ErrRefreshReused.
func (r *RefreshStore) Rotate(ctx context.Context, oldID string, next *RefreshRecord) error {
	if next == nil || next.TokenID == "" {
		return errors.New("session: incomplete refresh record")
	}
	now := r.now()
	var status int64
	err := r.primary(ctx, func(ctx context.Context) error {
		n, err := rotateRefreshLua.Run(ctx, r.redis,
			[]string{r.key(oldID), r.key(next.TokenID), r.userKey(next.UserID), r.sessionKey(next.SessionID)},
			now.UnixMilli(), next.TokenID, next.UserID, next.SessionID,
			next.CreatedAt.UnixMilli(), next.ExpiresAt.UnixMilli(),
		).Int64()
		status = n
		return err
	})
	if err != nil {
		return err
	}

	switch status {
	case rotateStatusRotated:
		r.mirror(ctx, "refresh.rotate", func(ctx context.Context, d Durable) error {
			if err := d.SaveRefresh(ctx, next); err != nil {
				return err
			}
			return d.MarkRefreshRotated(ctx, oldID, next.TokenID, now)
		})
		return nil
	case rotateStatusNotFound:
		return ErrNotFound
	case rotateStatusReused:
		return ErrRefreshReused
	case rotateStatusExpired:
		return ErrRefreshExpired
	case rotateStatusMismatch:
		return ErrRefreshMismatch
	default:
		return fmt.Errorf("%w: unknown rotate status %d", ErrUnavailable, status)
	}
}

// RevokeSession revokes every record of one session's chain.
func (r *RefreshStore) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	n, err := r.revokeIndex(ctx, r.sessionKey(sessionID))
	r.mirror(ctx, "refresh.revoke_session", func(ctx context.Context, d Durable) error {
		_, err := d.RevokeRefreshForSession(ctx, sessionID, r.now())
		return err
	})
	return n, err
}

// RevokeAllForUser revokes every record of the user. Returns the number newly revoked,
// so a repeated call returns 0.
func (r *RefreshStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := r.revokeIndex(ctx, r.userKey(userID))
	r.mirror(ctx, "refresh.revoke_user", func(ctx context.Context, d Durable) error {
		_, err := d.RevokeRefreshForUser(ctx, userID, r.now())
		return err
	})
	return n, err
}

func (r *RefreshStore) revokeIndex(ctx context.Context, indexKey string) (int, error) {
	var revoked int64
	err := r.primary(ctx, func(ctx context.Context) error {
		n, err := revokeIndexLua.Run(ctx, r.redis, []string{indexKey}, r.prefix+"rt:", r.now().UnixMilli()).Int64()
		revoked = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(revoked), nil
}

func recordFromHash(tokenID string, h map[string]string) *RefreshRecord {
	ms := func(k string) time.Time {
		n, err := strconv.ParseInt(h[k], 10, 64)
		if err != nil || n <= 0 {
			return time.Time{}
		}
		return time.UnixMilli(n)
	}
	return &RefreshRecord{
		TokenID:    tokenID,
		UserID:     h["uid"],
		SessionID:  h["sid"],
		CreatedAt:  ms("created"),
		ExpiresAt:  ms("expires"),
		IsRevoked:  h["revoked"] == "1",
		RevokedAt:  ms("revoked_at"),
		ReplacedBy: h["replaced_by"],
	}
}
