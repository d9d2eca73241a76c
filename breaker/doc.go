// Package breaker implements a per-dependency circuit breaker with CLOSED, OPEN and
// HALF_OPEN states.
//
// # State storage
//
// Breaker counters are shared between processes through a [StateStore]. [RedisStore]
// performs every transition inside a single Lua script so concurrent instances never
// race on read-then-write. [MemoryStore] applies the same transition table under a
// mutex. [TieredStore] uses the shared store while it answers and falls back to a local
// memory tier when it does not; an unreadable shared state is treated as CLOSED.
//
// # What this package must NOT do
//
//   - Know what the guarded call does.
//   - Suppress an error unless the caller supplied a fallback.
package breaker
