// Package session provides the dual-backend session and refresh-token stores.
//
// # Primary and durable backends
//
// Redis is the primary: session records live under "ss:{sid}" as a versioned binary
// blob sealed with AES-GCM, indexed per user under "su:{uid}". Refresh-token records
// are hashes under "rt:{jti}" with per-user and per-session indexes. Every primary
// call goes through a circuit breaker. The [Durable] backend mirrors what the
// primary holds for audit and answers degraded reads when the primary cannot.
//
// # Liveness
//
// The primary's TTL is the source of truth for whether a session is valid. A durable
// record never revives a session the primary reports as absent.
//
// # What this package must NOT do
//
//   - Interpret JWT tokens or evaluate permissions.
//   - Store plaintext session blobs.
package session
