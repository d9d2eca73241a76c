package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateUnavailable wraps Redis failures while reading or writing breaker state.
var ErrStateUnavailable = errors.New("breaker state store unavailable")

const defaultStateTTL = 24 * time.Hour

// Shared Lua helpers. Numbers are formatted with %d before they reach redis.call so
// millisecond timestamps never leave Lua in exponent form.
const luaPrelude = `
local function s(n) return string.format("%d", n) end
local function num(v) if not v then return 0 end return tonumber(v) or 0 end
`

var acquireScript = redis.NewScript(luaPrelude + `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local lease = tonumber(ARGV[4])
local state = redis.call("HGET", key, "state") or "closed"
local prev = state
local admitted = 1
if state == "open" then
  if now < num(redis.call("HGET", key, "next_retry")) then
    admitted = 0
  else
    state = "half_open"
    redis.call("HSET", key, "state", state, "successes", "0", "probes", "0")
  end
end
if admitted == 1 and state == "half_open" then
  local probes = num(redis.call("HGET", key, "probes"))
  if probes < limit then
    redis.call("HSET", key, "probes", s(probes + 1), "next_retry", s(now + lease))
  elseif now >= num(redis.call("HGET", key, "next_retry")) then
    redis.call("HSET", key, "probes", "1", "next_retry", s(now + lease))
  else
    admitted = 0
  end
end
if admitted == 1 then
  redis.call("HINCRBY", key, "total_calls", 1)
else
  redis.call("HINCRBY", key, "total_rejected", 1)
end
redis.call("HSETNX", key, "state", state)
redis.call("PEXPIRE", key, ttl)
local out = {prev, admitted}
local all = redis.call("HGETALL", key)
for i = 1, #all do out[#out + 1] = all[i] end
return out
`)

var successScript = redis.NewScript(luaPrelude + `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local success_threshold = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local state = redis.call("HGET", key, "state") or "closed"
redis.call("HINCRBY", key, "total_successes", 1)
redis.call("HSET", key, "last_success", s(now))
if state == "half_open" then
  local probes = num(redis.call("HGET", key, "probes"))
  if probes > 0 then
    redis.call("HSET", key, "probes", s(probes - 1))
  end
  local n = redis.call("HINCRBY", key, "successes", 1)
  if n >= success_threshold then
    redis.call("HSET", key, "state", "closed", "failures", "0", "successes", "0", "probes", "0", "next_retry", "0")
  end
elseif state == "closed" then
  redis.call("HSET", key, "state", "closed", "failures", "0")
end
redis.call("PEXPIRE", key, ttl)
return redis.call("HGETALL", key)
`)

var failureScript = redis.NewScript(luaPrelude + `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local open_timeout = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])
local state = redis.call("HGET", key, "state") or "closed"
redis.call("HINCRBY", key, "total_failures", 1)
if state == "half_open" then
  redis.call("HINCRBY", key, "failures", 1)
  redis.call("HSET", key, "state", "open", "successes", "0", "probes", "0", "next_retry", s(now + open_timeout), "last_failure", s(now))
elseif state == "closed" then
  local failures = num(redis.call("HGET", key, "failures"))
  local last = num(redis.call("HGET", key, "last_failure"))
  if window > 0 and last > 0 and now - last > window then
    failures = 0
  end
  failures = failures + 1
  redis.call("HSET", key, "state", "closed", "failures", s(failures), "successes", "0", "last_failure", s(now))
  if failures >= threshold then
    redis.call("HSET", key, "state", "open", "next_retry", s(now + open_timeout))
  end
else
  redis.call("HINCRBY", key, "failures", 1)
  redis.call("HSET", key, "last_failure", s(now))
end
redis.call("PEXPIRE", key, ttl)
return redis.call("HGETALL", key)
`)

// RedisStore shares breaker state between instances in a Redis hash per name.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a RedisStore. Keys are "<prefix>:<name>"; an empty prefix uses "cb".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cb"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: defaultStateTTL}
}

func (r *RedisStore) key(name string) string {
	return r.prefix + ":" + name
}

func (r *RedisStore) Load(ctx context.Context, name string) (Snapshot, error) {
	h, err := r.client.HGetAll(ctx, r.key(name)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	return snapshotFromHash(h), nil
}

func (r *RedisStore) Acquire(ctx context.Context, name string, cfg Config, now time.Time) (Admission, error) {
	res, err := acquireScript.Run(ctx, r.client, []string{r.key(name)},
		now.UnixMilli(), r.ttl.Milliseconds(), cfg.probeLimit(), cfg.OpenTimeout.Milliseconds()).Slice()
	if err != nil {
		return Admission{}, fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	if len(res) < 2 {
		return Admission{}, fmt.Errorf("%w: short acquire reply", ErrStateUnavailable)
	}
	prev, _ := res[0].(string)
	admitted, _ := res[1].(int64)
	return Admission{
		Previous: State(prev),
		Snapshot: snapshotFromHash(pairs(res[2:])),
		Admitted: admitted == 1,
	}, nil
}

func (r *RedisStore) RecordSuccess(ctx context.Context, name string, cfg Config, now time.Time) (Snapshot, error) {
	res, err := successScript.Run(ctx, r.client, []string{r.key(name)},
		now.UnixMilli(), cfg.SuccessThreshold, r.ttl.Milliseconds()).Slice()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	return snapshotFromHash(pairs(res)), nil
}

func (r *RedisStore) RecordFailure(ctx context.Context, name string, cfg Config, now time.Time) (Snapshot, error) {
	res, err := failureScript.Run(ctx, r.client, []string{r.key(name)},
		now.UnixMilli(), cfg.FailureThreshold, cfg.MonitoringWindow.Milliseconds(),
		cfg.OpenTimeout.Milliseconds(), r.ttl.Milliseconds()).Slice()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	return snapshotFromHash(pairs(res)), nil
}

func (r *RedisStore) Reset(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, r.key(name)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	return nil
}

func pairs(flat []interface{}) map[string]string {
	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		out[k] = fmt.Sprint(flat[i+1])
	}
	return out
}
