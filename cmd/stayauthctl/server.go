package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	stayAuth "github.com/MrEthical07/stayAuth"
	"github.com/MrEthical07/stayAuth/metrics/export/prometheus"
	"github.com/MrEthical07/stayAuth/middleware"
)

const (
	refreshCookie = "stay_refresh"
	csrfHeader    = "X-CSRF-Token"
)

type server struct {
	engine *stayAuth.Engine
	log    *slog.Logger
	secure bool
}

// newHandler wires the HTTP API:
//
//	POST /v1/login            JSON credentials; sets the refresh and session cookies
//	POST /v1/refresh          refresh cookie + X-CSRF-Token header
//	POST /v1/logout           bearer token or session cookie
//	POST /v1/logout-all       bearer token or session cookie
//	GET  /v1/me               guarded
//	POST /v1/2fa/setup        guarded
//	POST /v1/2fa/verify       guarded, JSON {"code"}
//	POST /v1/2fa/disable      guarded, JSON {"code"}
//	POST /v1/2fa/backup-codes guarded, JSON {"code"}
//	GET  /metrics             Prometheus text format
//	GET  /healthz
func newHandler(engine *stayAuth.Engine, log *slog.Logger, secureCookies bool) http.Handler {
	s := &server{engine: engine, log: log, secure: secureCookies}
	guard := middleware.Guard(engine)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/login", s.login)
	mux.HandleFunc("POST /v1/refresh", s.refresh)
	mux.HandleFunc("POST /v1/logout", s.logout)
	mux.HandleFunc("POST /v1/logout-all", s.logoutAll)
	mux.Handle("GET /v1/me", guard(http.HandlerFunc(s.me)))
	mux.Handle("POST /v1/2fa/setup", guard(http.HandlerFunc(s.setup2FA)))
	mux.Handle("POST /v1/2fa/verify", guard(http.HandlerFunc(s.verify2FA)))
	mux.Handle("POST /v1/2fa/disable", guard(http.HandlerFunc(s.disable2FA)))
	mux.Handle("POST /v1/2fa/backup-codes", guard(http.HandlerFunc(s.regenerateBackupCodes)))
	mux.Handle("GET /metrics", prometheus.NewExporter(engine).Handler())
	mux.HandleFunc("GET /healthz", s.healthz)
	return mux
}

// healthz stays 200 while degraded: the durable mirror still answers session
// requests, so the process must not be restarted for a Redis outage.
func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	h, err := s.engine.Health(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := map[string]any{
		"status":          "ok",
		"breaker":         string(h.Breaker.State),
		"breaker_rejects": h.Breaker.TotalRejected,
	}
	if h.Degraded() {
		body["status"] = "degraded"
	}
	if h.RedisErr != nil {
		body["redis_error"] = h.RedisErr.Error()
	} else {
		body["redis_latency_ms"] = float64(h.RedisLatency.Microseconds()) / 1000
	}
	writeJSON(w, http.StatusOK, body)
}

type loginRequest struct {
	TenantID   string `json:"tenant_id"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	TOTPCode   string `json:"totp_code,omitempty"`
	BackupCode string `json:"backup_code,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	CSRFToken        string    `json:"csrf_token"`
	SessionID        string    `json:"session_id"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type codeRequest struct {
	Code string `json:"code"`
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Login(r.Context(), stayAuth.Credentials{
		TenantID:   body.TenantID,
		Identifier: body.Identifier,
		Password:   body.Password,
		TOTPCode:   body.TOTPCode,
		BackupCode: body.BackupCode,
	}, stayAuth.Device{IP: clientIP(r), UserAgent: r.UserAgent(), DeviceID: body.DeviceID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.TwoFactorRequired {
		writeJSON(w, http.StatusOK, map[string]bool{"two_factor_required": true})
		return
	}
	s.writeTokens(w, res.Tokens)
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookie)
	if err != nil || cookie.Value == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	pair, err := s.engine.Refresh(r.Context(), cookie.Value, r.Header.Get(csrfHeader))
	if err != nil {
		s.clearCookies(w)
		s.writeError(w, r, err)
		return
	}
	s.writeTokens(w, pair)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Logout(r.Context(), callerTokens(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) logoutAll(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.LogoutAll(r.Context(), callerTokens(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearCookies(w)
	writeJSON(w, http.StatusOK, map[string]int{
		"sessions":       out.Sessions,
		"refresh_tokens": out.RefreshTokens,
	})
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	id, _ := stayAuth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     id.UserID,
		"tenant_id":   id.TenantID,
		"role":        id.Role,
		"admin_level": id.AdminLevel,
		"session_id":  id.SessionID,
		"source":      id.Source.String(),
	})
}

func (s *server) setup2FA(w http.ResponseWriter, r *http.Request) {
	id, _ := stayAuth.IdentityFromContext(r.Context())
	setup, err := s.engine.Setup2FA(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":       setup.Secret,
		"qr_url":       setup.QRURL,
		"backup_codes": setup.BackupCodes,
	})
}

func (s *server) verify2FA(w http.ResponseWriter, r *http.Request) {
	s.withCode(w, r, func(id *stayAuth.Identity, code string) (any, error) {
		return nil, s.engine.Verify2FA(r.Context(), id, code)
	})
}

func (s *server) disable2FA(w http.ResponseWriter, r *http.Request) {
	s.withCode(w, r, func(id *stayAuth.Identity, code string) (any, error) {
		return nil, s.engine.Disable2FA(r.Context(), id, code)
	})
}

func (s *server) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	s.withCode(w, r, func(id *stayAuth.Identity, code string) (any, error) {
		codes, err := s.engine.RegenerateBackupCodes(r.Context(), id, code)
		if err != nil {
			return nil, err
		}
		return map[string][]string{"backup_codes": codes}, nil
	})
}

func (s *server) withCode(w http.ResponseWriter, r *http.Request, fn func(*stayAuth.Identity, string) (any, error)) {
	var body codeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id, _ := stayAuth.IdentityFromContext(r.Context())
	out, err := fn(id, body.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) writeTokens(w http.ResponseWriter, pair *stayAuth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    pair.RefreshToken,
		Path:     "/v1",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.DefaultSessionCookie,
		Value:    pair.SessionID,
		Path:     "/",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		CSRFToken:        pair.CSRFToken,
		SessionID:        pair.SessionID,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

func (s *server) clearCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{refreshCookie, "/v1"},
		{middleware.DefaultSessionCookie, "/"},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.secure,
		})
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, stayAuth.ErrUnavailable), errors.Is(err, stayAuth.ErrEngineNotReady):
		s.log.WarnContext(r.Context(), "request failed on dependency", "path", r.URL.Path, "error", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, stayAuth.ErrTwoFactorAlreadyEnabled), errors.Is(err, stayAuth.ErrTwoFactorNotConfigured):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, stayAuth.ErrTwoFactorInvalid):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, stayAuth.ErrUnauthenticated):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func callerTokens(r *http.Request) stayAuth.Tokens {
	var t stayAuth.Tokens
	const bearer = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(bearer) && h[:len(bearer)] == bearer {
		t.AccessToken = h[len(bearer):]
	}
	if c, err := r.Cookie(middleware.DefaultSessionCookie); err == nil {
		t.SessionID = c.Value
	}
	return t
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
