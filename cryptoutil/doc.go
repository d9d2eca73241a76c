// Package cryptoutil holds the cryptographic primitives shared by every other package:
// keyed hashing, digests, secure randomness, constant-time comparison and authenticated
// encryption of values stored at rest.
//
// # Architecture boundaries
//
// [Provider] is the only hashing/randomness surface the rest of the module uses. [Std] is
// its single production implementation. [Sealer] wraps AES-GCM for session blobs and TOTP
// secrets.
//
// # What this package must NOT do
//
//   - Hold business logic or know about tokens, sessions or accounts.
//   - Panic on malformed input; comparisons return false instead.
package cryptoutil
