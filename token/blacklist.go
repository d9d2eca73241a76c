package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/stayAuth/breaker"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Entry is one blacklisted access token.
type Entry struct {
	TokenID   string
	RevokedAt time.Time
	Reason    string
}

// Blacklist records revoked access-token IDs in Redis with a TTL bounded by the
// token's remaining lifetime. Concurrent lookups of one ID share a single round trip;
// nothing is cached beyond that.
type Blacklist struct {
	redis   redis.UniversalClient
	breaker *breaker.Breaker
	prefix  string
	maxTTL  time.Duration
	now     func() time.Time
	group   singleflight.Group
}

// BlacklistOption configures a Blacklist.
type BlacklistOption func(*Blacklist)

// WithBlacklistBreaker routes lookups and writes through b.
func WithBlacklistBreaker(b *breaker.Breaker) BlacklistOption {
	return func(bl *Blacklist) { bl.breaker = b }
}

// WithBlacklistPrefix namespaces keys.
func WithBlacklistPrefix(prefix string) BlacklistOption {
	return func(bl *Blacklist) { bl.prefix = prefix }
}

// WithBlacklistClock overrides time.Now.
func WithBlacklistClock(now func() time.Time) BlacklistOption {
	return func(bl *Blacklist) { bl.now = now }
}

// NewBlacklist builds a Blacklist. maxTTL caps entry lifetime and should equal the
// access-token TTL.
func NewBlacklist(client redis.UniversalClient, maxTTL time.Duration, opts ...BlacklistOption) *Blacklist {
	bl := &Blacklist{redis: client, maxTTL: maxTTL, now: time.Now}
	for _, opt := range opts {
		opt(bl)
	}
	return bl
}

func (b *Blacklist) key(jti string) string {
	return b.prefix + "bl:" + jti
}

func (b *Blacklist) run(ctx context.Context, fn func(context.Context) error) error {
	var err error
	if b.breaker == nil {
		err = fn(ctx)
	} else {
		err = b.breaker.Execute(ctx, fn, nil)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Add blacklists jti until expiresAt, capped at maxTTL. Tokens already past expiry
// are skipped.
func (b *Blacklist) Add(ctx context.Context, jti string, expiresAt time.Time, reason string) error {
	if jti == "" {
		return ErrInvalidToken
	}
	now := b.now()
	ttl := expiresAt.Sub(now)
	if b.maxTTL > 0 && ttl > b.maxTTL {
		ttl = b.maxTTL
	}
	if ttl <= 0 {
		return nil
	}
	key := b.key(jti)
	return b.run(ctx, func(ctx context.Context) error {
		_, err := b.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "reason", reason, "revoked_at", now.UnixMilli())
			pipe.PExpire(ctx, key, ttl)
			return nil
		})
		return err
	})
}

// Contains reports whether jti is blacklisted. Callers must treat an error as
// "revoked".
func (b *Blacklist) Contains(ctx context.Context, jti string) (bool, error) {
	v, err, _ := b.group.Do(jti, func() (interface{}, error) {
		var n int64
		err := b.run(ctx, func(ctx context.Context) error {
			var err error
			n, err = b.redis.Exists(ctx, b.key(jti)).Result()
			return err
		})
		return n > 0, err
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Get returns the entry for jti, or nil when it is not blacklisted.
func (b *Blacklist) Get(ctx context.Context, jti string) (*Entry, error) {
	var h map[string]string
	err := b.run(ctx, func(ctx context.Context) error {
		var err error
		h, err = b.redis.HGetAll(ctx, b.key(jti)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	ms, _ := strconv.ParseInt(h["revoked_at"], 10, 64)
	return &Entry{TokenID: jti, RevokedAt: time.UnixMilli(ms), Reason: h["reason"]}, nil
}
