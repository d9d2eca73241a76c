// Package token issues, validates, rotates and revokes the bearer credentials of a
// session: a short-lived access JWT and a long-lived refresh JWT bound to a CSRF value.
//
// Access tokens are checked against a Redis blacklist before their signature. A
// blacklist that cannot be read fails closed. Refresh tokens are single use: rotation
// revokes the presented record atomically with storing its successor, and presenting a
// revoked record again is reported as reuse so the caller can kill the whole chain.
package token
