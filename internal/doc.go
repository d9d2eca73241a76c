// Package internal contains helpers that are private to stayAuth: session identifier
// generation, CSRF tokens and device fingerprint hashing.
//
// # Sub-packages
//
//   - audit: async security-event dispatch (Dispatcher + Sink implementations)
//   - config: environment configuration for the stayauthctl binary
//   - logger: slog construction and sampled warnings
//   - metrics: lock-free counters and latency histograms
//
// # What this package must NOT do
//
//   - Export types that appear in the public stayAuth API.
package internal
