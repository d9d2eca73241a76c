package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MrEthical07/stayAuth/internal/audit"
)

const auditWriteTimeout = 3 * time.Second

// Emit appends the event to audit_events. The dispatcher does not retry, so a failed
// insert is logged and the event is lost.
func (s *Store) Emit(ctx context.Context, e audit.Event) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		s.log.Warn("audit details encode failed", "event_id", e.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	const query = `
		INSERT INTO audit_events
			(id, version, type, success, user_id, tenant_id, session_id, ip, user_agent, reason, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Version, string(e.Type), e.Success, e.UserID, e.TenantID, e.SessionID,
		e.IP, e.UserAgent, e.Reason, string(details), e.Timestamp.UTC())
	if err != nil {
		s.log.Warn("audit insert failed", "event_id", e.ID, "type", string(e.Type), "error", err)
	}
}
