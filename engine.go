package stayAuth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/stayAuth/breaker"
	"github.com/MrEthical07/stayAuth/cryptoutil"
	"github.com/MrEthical07/stayAuth/internal"
	"github.com/MrEthical07/stayAuth/internal/audit"
	"github.com/MrEthical07/stayAuth/internal/logger"
	"github.com/MrEthical07/stayAuth/jwt"
	"github.com/MrEthical07/stayAuth/lockout"
	"github.com/MrEthical07/stayAuth/password"
	"github.com/MrEthical07/stayAuth/permission"
	"github.com/MrEthical07/stayAuth/session"
	"github.com/MrEthical07/stayAuth/token"
	"github.com/MrEthical07/stayAuth/totp"
)

var (
	errDeviceMismatch  = errors.New(reasonDeviceMismatch)
	errSessionMismatch = errors.New(reasonSessionMismatch)
)

// Engine is the authentication façade. It is safe for concurrent use.
type Engine struct {
	config Config
	log    *slog.Logger
	warn   *logger.Sampler
	now    func() time.Time

	accounts  AccountStore
	sessions  *session.Store
	tokens    *token.Service
	totp      *totp.Engine
	passwords *password.Hasher
	lockout   lockout.Tracker
	policy    *permission.Policy
	secrets   *cryptoutil.Sealer
	crypto    cryptoutil.Provider
	breaker   *breaker.Breaker

	audit   *audit.Dispatcher
	metrics *Metrics
}

// Authenticate answers "who is making this request". The bearer token is tried first;
// when it is absent or rejected, the session ID must name a live session. Every
// failure is reported as ErrUnauthenticated.
func (e *Engine) Authenticate(ctx context.Context, req Request) (*Identity, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer func() { e.metrics.Observe(MetricAuthenticateLatency, e.now().Sub(start)) }()

	var cause error
	if req.BearerToken != "" {
		id, err := e.authenticateBearer(ctx, req)
		if err == nil {
			e.metrics.Inc(MetricAuthenticateSuccess)
			return id, nil
		}
		cause = err
	}
	if req.SessionID != "" && e.config.ValidationMode != ModeJWTOnly {
		id, err := e.authenticateSession(ctx, req)
		if err == nil {
			e.metrics.Inc(MetricAuthenticateSuccess)
			return id, nil
		}
		cause = errors.Join(cause, err)
	}
	if cause == nil {
		cause = errors.New(reasonTokenInvalid)
	}

	e.metrics.Inc(MetricAuthenticateFailure)
	e.log.DebugContext(ctx, "authenticate rejected", "error", cause)
	e.emitAudit(ctx, audit.AuthenticateFailure, false, auditFields{
		sessionID: req.SessionID,
		ip:        req.IP,
		userAgent: req.UserAgent,
		reason:    failureReason(cause),
	})
	return nil, ErrUnauthenticated
}

func (e *Engine) authenticateBearer(ctx context.Context, req Request) (*Identity, error) {
	claims, err := e.tokens.ValidateAccess(ctx, req.BearerToken)
	if err != nil {
		if errors.Is(err, token.ErrRevoked) {
			e.metrics.Inc(MetricBlacklistHit)
		}
		return nil, err
	}
	id := identityFromClaims(claims.Claims, SourceBearer)

	switch e.config.ValidationMode {
	case ModeStrict:
		sess, err := e.sessions.Get(ctx, claims.SessionID)
		if err != nil {
			return nil, err
		}
		if sess.UserID != claims.UserID {
			return nil, errSessionMismatch
		}
		if err := e.checkDevice(ctx, sess, req); err != nil {
			return nil, err
		}
		e.touch(ctx, sess)
	case ModeHybrid:
		if err := e.sessions.Touch(ctx, claims.SessionID); err != nil {
			e.warn.Warn("session touch failed", "error", err)
		}
	}
	return id, nil
}

func (e *Engine) authenticateSession(ctx context.Context, req Request) (*Identity, error) {
	sess, err := e.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := e.checkDevice(ctx, sess, req); err != nil {
		return nil, err
	}
	e.touch(ctx, sess)

	src := SourceSession
	if sess.Source == session.SourceDurable {
		src = SourceSessionDurable
	}
	return &Identity{
		UserID:     sess.UserID,
		Role:       sess.Role,
		AdminLevel: sess.AdminLevel,
		TenantID:   sess.TenantID,
		SessionID:  sess.SessionID,
		Source:     src,
	}, nil
}

// touch slides a primary session. Durable reads carry no state worth sliding.
func (e *Engine) touch(ctx context.Context, sess *session.Session) {
	if sess.Source == session.SourceDurable {
		e.metrics.Inc(MetricSessionFallbackRead)
		return
	}
	if err := e.sessions.Touch(ctx, sess.SessionID); err != nil {
		e.warn.Warn("session touch failed", "error", err)
	}
}

// checkDevice compares the request fingerprint against the one bound at login.
func (e *Engine) checkDevice(ctx context.Context, sess *session.Session, req Request) error {
	if !e.config.DeviceBinding.Enabled || sess.DeviceFingerprint == "" {
		return nil
	}
	if e.crypto.ConstantTimeEqual(e.fingerprint(req.IP, req.UserAgent), sess.DeviceFingerprint) {
		return nil
	}
	e.metrics.Inc(MetricDeviceMismatch)
	e.emitAudit(ctx, audit.DeviceMismatch, false, auditFields{
		userID:    sess.UserID,
		tenantID:  sess.TenantID,
		sessionID: sess.SessionID,
		ip:        req.IP,
		userAgent: req.UserAgent,
		reason:    reasonDeviceMismatch,
		details:   AuditDetails{DeviceMismatch: true},
	})
	if e.config.DeviceBinding.Enforce {
		e.metrics.Inc(MetricDeviceRejected)
		return errDeviceMismatch
	}
	return nil
}

func (e *Engine) fingerprint(ip, userAgent string) string {
	if !e.config.DeviceBinding.Enabled {
		return ""
	}
	if e.config.DeviceBinding.BindIP {
		return internal.DeviceFingerprint(userAgent, ip)
	}
	return internal.DeviceFingerprint(userAgent)
}

// Authorize reports whether id holds perm. With a scope, the first element is the
// tenant the action targets; under tenant isolation it must match the identity's
// tenant unless the identity holds the policy's bypass admin level. No I/O.
func (e *Engine) Authorize(id *Identity, perm permission.Permission, scope ...string) bool {
	if e == nil || e.policy == nil || id == nil || id.UserID == "" {
		return false
	}
	if len(scope) > 0 && e.config.MultiTenant.Enabled && e.config.MultiTenant.EnforceIsolation {
		bypass := e.policy.BypassLevel()
		crossTenantAllowed := bypass > 0 && id.AdminLevel >= bypass
		if scope[0] != id.TenantID && !crossTenantAllowed {
			return false
		}
	}
	return e.policy.Allows(id.Role, id.AdminLevel, perm)
}

// MetricsSnapshot copies the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// Health is a point-in-time view of the primary session store.
type Health struct {
	Breaker      breaker.Snapshot
	RedisLatency time.Duration
	RedisErr     error
}

// Degraded reports whether requests are being answered without Redis.
func (h Health) Degraded() bool {
	return h.RedisErr != nil || h.Breaker.State != breaker.StateClosed
}

// Health pings Redis directly, bypassing the breaker, and reports the breaker state.
func (e *Engine) Health(ctx context.Context) (Health, error) {
	if e == nil || e.sessions == nil {
		return Health{}, ErrEngineNotReady
	}
	var h Health
	h.RedisLatency, h.RedisErr = e.sessions.Ping(ctx)
	h.Breaker = e.breaker.Snapshot(ctx)
	return h, nil
}

// Close drains the audit dispatcher. Injected clients are left open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) onBreakerStateChange(name string, from, to breaker.State) {
	switch to {
	case breaker.StateOpen:
		e.metrics.Inc(MetricBreakerOpened)
		e.log.Warn("circuit breaker opened", "dependency", name, "from", string(from))
	case breaker.StateClosed:
		e.metrics.Inc(MetricBreakerClosed)
		e.log.Info("circuit breaker closed", "dependency", name)
	default:
		e.log.Info("circuit breaker probing", "dependency", name)
	}
	e.emitAudit(context.Background(), audit.BreakerStateChange, to != breaker.StateOpen, auditFields{
		details: AuditDetails{Dependency: name, FromState: string(from), ToState: string(to)},
	})
}

func identityFromClaims(c jwt.Claims, src AuthSource) *Identity {
	return &Identity{
		UserID:     c.UserID,
		Role:       c.Role,
		AdminLevel: c.AdminLevel,
		TenantID:   c.TenantID,
		SessionID:  c.SessionID,
		Source:     src,
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, token.ErrRevoked):
		return reasonTokenRevoked
	case errors.Is(err, session.ErrNotFound):
		return reasonSessionMissing
	case errors.Is(err, session.ErrUnavailable), errors.Is(err, token.ErrUnavailable):
		return reasonBackendDown
	case errors.Is(err, errDeviceMismatch):
		return reasonDeviceMismatch
	case errors.Is(err, errSessionMismatch):
		return reasonSessionMismatch
	default:
		return reasonTokenInvalid
	}
}
