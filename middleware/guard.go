package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	stayAuth "github.com/MrEthical07/stayAuth"
)

// DefaultSessionCookie is the cookie Guard reads the session ID from.
const DefaultSessionCookie = "stay_session"

// Authenticator is the part of stayAuth.Engine the adapters need.
type Authenticator interface {
	Authenticate(ctx context.Context, req stayAuth.Request) (*stayAuth.Identity, error)
}

type options struct {
	cookie   string
	clientIP func(*http.Request) string
}

// Option configures Guard.
type Option func(*options)

// WithSessionCookie changes the session cookie name. An empty name disables the
// cookie fallback.
func WithSessionCookie(name string) Option {
	return func(o *options) { o.cookie = name }
}

// WithClientIP replaces the client address lookup, e.g. to trust a proxy header.
func WithClientIP(fn func(*http.Request) string) Option {
	return func(o *options) {
		if fn != nil {
			o.clientIP = fn
		}
	}
}

// Guard authenticates every request. Rejected requests get 401; 503 is returned only
// when the engine itself is not usable.
func Guard(engine Authenticator, opts ...Option) func(http.Handler) http.Handler {
	o := options{cookie: DefaultSessionCookie, clientIP: remoteIP}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			req := stayAuth.Request{
				IP:        o.clientIP(r),
				UserAgent: r.UserAgent(),
			}
			req.BearerToken, _ = bearerToken(r.Header.Get("Authorization"))
			if o.cookie != "" {
				if c, err := r.Cookie(o.cookie); err == nil {
					req.SessionID = c.Value
				}
			}
			if req.BearerToken == "" && req.SessionID == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			id, err := engine.Authenticate(r.Context(), req)
			if err != nil {
				if errors.Is(err, stayAuth.ErrEngineNotReady) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(stayAuth.WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
