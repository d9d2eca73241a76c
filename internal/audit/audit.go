package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is bumped whenever Event or Details change shape.
const SchemaVersion = 1

// Type names an audited operation.
type Type string

const (
	LoginSuccess        Type = "login.success"
	LoginFailure        Type = "login.failure"
	LoginLocked         Type = "login.locked"
	LoginTwoFactor      Type = "login.2fa_required"
	Logout              Type = "logout"
	LogoutAll           Type = "logout_all"
	TwoFactorSetup      Type = "2fa.setup"
	TwoFactorVerify     Type = "2fa.verify"
	TwoFactorDisable    Type = "2fa.disable"
	BackupRegenerated   Type = "2fa.backup_regenerated"
	BackupCodeUsed      Type = "2fa.backup_used"
	RefreshRotated      Type = "refresh.rotate"
	RefreshReuse        Type = "refresh.reuse"
	AuthenticateFailure Type = "authenticate.failure"
	DeviceMismatch      Type = "session.device_mismatch"
	SessionFallback     Type = "session.fallback"
	BreakerStateChange  Type = "breaker.state_change"
)

// Details holds the typed, optional fields an event may carry.
type Details struct {
	Method         string `json:"method,omitempty"`
	Count          int    `json:"count,omitempty"`
	Remaining      int    `json:"remaining,omitempty"`
	Dependency     string `json:"dependency,omitempty"`
	FromState      string `json:"from_state,omitempty"`
	ToState        string `json:"to_state,omitempty"`
	DeviceMismatch bool   `json:"device_mismatch,omitempty"`
}

// Event is one audit record.
type Event struct {
	Version   int       `json:"v"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`
	Success   bool      `json:"success"`
	UserID    string    `json:"user_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	// Reason is the internal failure cause. It never reaches the client.
	Reason  string  `json:"reason,omitempty"`
	Details Details `json:"details"`
}

// New stamps version, ID and timestamp.
func New(t Type, success bool, now time.Time) Event {
	return Event{
		Version:   SchemaVersion,
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
		Type:      t,
		Success:   success,
	}
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
}

// SlogSink logs each event at info (success) or warn (failure).
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log}
}

func (s *SlogSink) Emit(ctx context.Context, e Event) {
	level := slog.LevelInfo
	if !e.Success {
		level = slog.LevelWarn
	}
	s.log.LogAttrs(ctx, level, "audit",
		slog.String("type", string(e.Type)),
		slog.Bool("success", e.Success),
		slog.String("event_id", e.ID),
		slog.String("user_id", e.UserID),
		slog.String("session_id", e.SessionID),
		slog.String("ip", e.IP),
		slog.String("reason", e.Reason),
	)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}
