package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stayAuth "github.com/MrEthical07/stayAuth"
)

func TestGuard(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		cookie     *http.Cookie
		engineErr  error
		wantStatus int
	}{
		{name: "missing credentials", wantStatus: http.StatusUnauthorized},
		{name: "valid bearer", header: "Bearer good", wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer good", wantStatus: http.StatusOK},
		{name: "wrong scheme", header: "Basic good", wantStatus: http.StatusUnauthorized},
		{name: "bad bearer", header: "Bearer forged", wantStatus: http.StatusUnauthorized},
		{name: "session cookie", cookie: &http.Cookie{Name: DefaultSessionCookie, Value: "s-1"}, wantStatus: http.StatusOK},
		{name: "bad bearer falls back to cookie", header: "Bearer forged", cookie: &http.Cookie{Name: DefaultSessionCookie, Value: "s-1"}, wantStatus: http.StatusOK},
		{name: "engine not ready", header: "Bearer good", engineErr: stayAuth.ErrEngineNotReady, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{token: "good", session: "s-1", err: tt.engineErr}
			h := Guard(engine)(echoIdentity())

			r := httptest.NewRequest(http.MethodGet, "/reservations", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != nil {
				r.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "u-1", w.Body.String())
			}
		})
	}
}

func TestGuardPassesDeviceSignals(t *testing.T) {
	engine := &fakeEngine{token: "good"}
	h := Guard(engine)(echoIdentity())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.7:51234"
	r.Header.Set("Authorization", "Bearer good")
	r.Header.Set("User-Agent", "front-desk-terminal")
	h.ServeHTTP(httptest.NewRecorder(), r)

	require.Len(t, engine.seen, 1)
	assert.Equal(t, "198.51.100.7", engine.seen[0].IP)
	assert.Equal(t, "front-desk-terminal", engine.seen[0].UserAgent)
}

func TestGuardOptions(t *testing.T) {
	engine := &fakeEngine{session: "s-1"}
	h := Guard(engine,
		WithSessionCookie("sid"),
		WithClientIP(func(r *http.Request) string { return r.Header.Get("X-Real-IP") }),
	)(echoIdentity())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "203.0.113.5")
	r.AddCookie(&http.Cookie{Name: "sid", Value: "s-1"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "203.0.113.5", engine.seen[0].IP)

	// The default cookie name is no longer read.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "s-1"})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGuardNilEngine(t *testing.T) {
	h := Guard(nil)(echoIdentity())
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
