// Package jwt signs and verifies the two bearer credentials issued by the engine: short
// lived access tokens and long lived refresh tokens. Each has its own claims struct and a
// mandatory `typ` claim so one can never be accepted in place of the other.
//
// This package does not consult any store. Blacklists, refresh-token records and CSRF
// policy live in package token.
package jwt
