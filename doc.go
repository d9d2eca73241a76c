// Package stayAuth is the authentication and session-security core of the stay
// platform: guests, front-desk staff and property administrators log in through it,
// and every API request asks it who the caller is.
//
// Engine methods are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// stayAuth is the public surface. It exposes [Engine], [Builder], [Config] and value
// types (Identity, TokenPair, MetricsSnapshot). Redis sessions and refresh records live
// in package session, token signing in jwt and token, the circuit breaker in breaker.
// Audit dispatch and metric counters live under internal/.
//
// # Degraded mode
//
// Redis is the primary session store and sits behind one circuit breaker. With a
// durable mirror configured ([Builder.WithDurable]), a session-id request can still be
// answered while Redis is down; the Identity then carries [SourceSessionDurable].
// Bearer tokens fail closed when the blacklist cannot be read.
//
// # What this package must NOT do
//
//   - Tell callers why a credential was rejected. Every rejection is
//     [ErrUnauthenticated]; the reason goes to the audit stream.
//   - Own the lifecycle of injected clients. [Engine.Close] only drains the audit queue.
//   - Import any sub-package that re-imports stayAuth (no import cycles).
package stayAuth
