package stayAuth

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/stayAuth/internal/audit"
)

// Public names for the audit stream so applications can supply and consume sinks.
type (
	AuditEvent   = audit.Event
	AuditDetails = audit.Details
	AuditType    = audit.Type
	AuditSink    = audit.Sink
)

// AuditSchemaVersion is stamped on every event.
const AuditSchemaVersion = audit.SchemaVersion

func NewJSONAuditSink(w io.Writer) AuditSink { return audit.NewJSONWriterSink(w) }

func NewSlogAuditSink(log *slog.Logger) AuditSink { return audit.NewSlogSink(log) }

func NewChannelAuditSink(buffer int) *audit.ChannelSink { return audit.NewChannelSink(buffer) }

// NewKafkaAuditSink publishes events to topic. It returns nil when brokers is empty.
func NewKafkaAuditSink(brokers []string, topic string, log *slog.Logger) *audit.KafkaSink {
	return audit.NewKafkaSink(brokers, topic, log)
}

// MultiAuditSink fans each event out to every sink.
func MultiAuditSink(sinks ...AuditSink) AuditSink { return audit.MultiSink(sinks) }

// Internal failure causes. They appear in AuditEvent.Reason and debug logs only.
const (
	reasonUnknownIdentifier = "unknown_identifier"
	reasonBadPassword       = "bad_password"
	reasonLocked            = "account_locked"
	reasonDisabled          = "account_disabled"
	reasonTOTPInvalid       = "totp_invalid"
	reasonTOTPReplay        = "totp_replay"
	reasonSecretUnreadable  = "totp_secret_unreadable"
	reasonBackupInvalid     = "backup_code_invalid"
	reasonTokenInvalid      = "token_invalid"
	reasonTokenRevoked      = "token_revoked"
	reasonSessionMissing    = "session_missing"
	reasonSessionMismatch   = "session_mismatch"
	reasonDeviceMismatch    = "device_mismatch"
	reasonBackendDown       = "backend_unavailable"
	reasonRefreshReuse      = "refresh_reuse"
)

type auditFields struct {
	userID, tenantID, sessionID string
	ip, userAgent               string
	reason                      string
	details                     AuditDetails
}

func (e *Engine) emitAudit(ctx context.Context, t AuditType, success bool, f auditFields) {
	if e.audit == nil {
		return
	}
	ev := audit.New(t, success, e.now())
	ev.UserID = f.userID
	ev.TenantID = f.tenantID
	ev.SessionID = f.sessionID
	ev.IP = f.ip
	ev.UserAgent = f.userAgent
	ev.Reason = f.reason
	ev.Details = f.details
	e.audit.Emit(ctx, ev)
}

// AuditDropped returns the number of audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}
