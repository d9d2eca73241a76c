package internaldefs

import (
	stayAuth "github.com/MrEthical07/stayAuth"
	"github.com/MrEthical07/stayAuth/internal/metrics"
)

// Namespace prefixes every exported metric name.
const Namespace = "stayauth"

// CounterDef names one engine counter.
type CounterDef struct {
	ID   stayAuth.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram.
type HistogramDef struct {
	ID   stayAuth.MetricID
	Name string
	Help string
}

func counter(id stayAuth.MetricID, name, help string) CounterDef {
	return CounterDef{ID: id, Name: Namespace + "_" + name + "_total", Help: help}
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs = []CounterDef{
	counter(stayAuth.MetricLoginSuccess, "login_success", "Completed logins."),
	counter(stayAuth.MetricLoginFailure, "login_failure", "Rejected login attempts."),
	counter(stayAuth.MetricLoginLocked, "login_locked", "Logins refused or accounts locked by the failed-attempt tracker."),
	counter(stayAuth.MetricTwoFactorRequired, "two_factor_required", "Password checks answered with a second-factor challenge."),
	counter(stayAuth.MetricTOTPSuccess, "totp_success", "Accepted TOTP codes."),
	counter(stayAuth.MetricTOTPFailure, "totp_failure", "Rejected TOTP codes."),
	counter(stayAuth.MetricTOTPReplay, "totp_replay", "TOTP codes rejected as replays."),
	counter(stayAuth.MetricBackupCodeUsed, "backup_code_used", "Backup codes consumed."),
	counter(stayAuth.MetricBackupCodeFailed, "backup_code_failed", "Rejected backup codes."),
	counter(stayAuth.MetricBackupCodeRegenerated, "backup_code_regenerated", "Backup code set regenerations."),
	counter(stayAuth.MetricRefreshSuccess, "refresh_success", "Refresh token rotations."),
	counter(stayAuth.MetricRefreshFailure, "refresh_failure", "Rejected refresh attempts."),
	counter(stayAuth.MetricRefreshReuseDetected, "refresh_reuse_detected", "Rotated refresh tokens presented again."),
	counter(stayAuth.MetricAuthenticateSuccess, "authenticate_success", "Requests resolved to an identity."),
	counter(stayAuth.MetricAuthenticateFailure, "authenticate_failure", "Requests rejected as unauthenticated."),
	counter(stayAuth.MetricBlacklistHit, "blacklist_hit", "Access tokens rejected by the blacklist."),
	counter(stayAuth.MetricSessionCreated, "session_created", "Sessions created."),
	counter(stayAuth.MetricSessionFallbackRead, "session_fallback_read", "Sessions confirmed by the durable mirror."),
	counter(stayAuth.MetricMirrorFailure, "mirror_failure", "Failed durable mirror writes."),
	counter(stayAuth.MetricDeviceMismatch, "device_mismatch", "Requests whose device fingerprint differs from the session."),
	counter(stayAuth.MetricDeviceRejected, "device_rejected", "Requests rejected by device binding."),
	counter(stayAuth.MetricLogout, "logout", "Single-session logouts."),
	counter(stayAuth.MetricLogoutAll, "logout_all", "Logout-everywhere operations."),
	counter(stayAuth.MetricBreakerOpened, "breaker_opened", "Redis circuit breaker trips."),
	counter(stayAuth.MetricBreakerClosed, "breaker_closed", "Redis circuit breaker recoveries."),
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: stayAuth.MetricAuthenticateLatency, Name: Namespace + "_authenticate_latency_seconds", Help: "Authenticate latency."},
}

// AuditDropped is the counter for events the audit dispatcher discarded.
var AuditDropped = CounterDef{Name: Namespace + "_audit_dropped_total", Help: "Audit events dropped under backpressure."}

// HistogramBounds are the upper bounds, in seconds, of internal/metrics buckets.
var HistogramBounds = [metrics.BucketCount]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// HistogramBoundSuffix renders HistogramBounds for instrument names.
var HistogramBoundSuffix = [metrics.BucketCount]string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// CumulativeBuckets converts raw bucket counts to cumulative ones. Short or nil input is
// zero-padded.
func CumulativeBuckets(raw []uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
