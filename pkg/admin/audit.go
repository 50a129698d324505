package admin

import (
	"context"
	"strconv"
	"time"

	"github.com/latticevpn/sessiond/internal/apierr"
)

// AuditEntry is a row of the audit_logs table as surfaced to operators.
type AuditEntry struct {
	ID         int64     `json:"id"`
	UserID     *string   `json:"user_id,omitempty"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID *string   `json:"resource_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	IPAddress  *string   `json:"ip_address,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

const auditListLimit = 200

// ListAudit returns the most recent audit entries, optionally filtered to a
// single session's resource_id.
func (s *Service) ListAudit(ctx context.Context, sessionID string) ([]AuditEntry, error) {
	query := `SELECT id, user_id, action, resource, resource_id, detail, ip_address, occurred_at FROM audit_logs`
	var args []any
	if sessionID != "" {
		query += ` WHERE resource_id = $1`
		args = append(args, sessionID)
	}
	query += ` ORDER BY occurred_at DESC LIMIT ` + strconv.Itoa(auditListLimit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "listing audit entries", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Resource, &e.ResourceID, &e.Detail, &e.IPAddress, &e.OccurredAt); err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "scanning audit entry", err)
		}
		out = append(out, e)
	}
	return out, nil
}
