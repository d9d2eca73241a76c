package stayAuth

import "errors"

var (
	// ErrUnauthenticated is the only failure a caller sees for a rejected credential,
	// whatever the cause. The cause goes to the audit stream.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrUnavailable means a dependency failed and the engine failed closed.
	ErrUnavailable = errors.New("authentication backend unavailable")

	// ErrAccountNotFound is returned by AccountStore implementations for unknown accounts.
	ErrAccountNotFound = errors.New("account not found")

	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	ErrTwoFactorNotConfigured  = errors.New("two-factor not configured")
	ErrTwoFactorInvalid        = errors.New("invalid two-factor code")

	ErrEngineNotReady = errors.New("engine not initialized")
	ErrBuilderUsed    = errors.New("builder already used")
)
