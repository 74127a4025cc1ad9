package postgres

import (
	"context"
	"fmt"

	"github.com/floworc/floworc/audit"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// AppendAudit persists one audit entry.
func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	metadata, err := encodeJSON(e.Metadata, "{}")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO floworc_audit_entries
		(id, flow_id, client_account_id, engagement_id, action, actor, reason, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.AuditID.String(), e.FlowID.String(),
		e.Tenant.ClientAccountID, e.Tenant.EngagementID,
		string(e.Action), e.Actor, e.Reason, metadata,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("floworc/postgres: append audit: %w", err)
	}
	return nil
}

// ListAudit returns a flow's audit trail, oldest-first.
func (s *Store) ListAudit(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) ([]*audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, flow_id, client_account_id, engagement_id,
		action, actor, reason, metadata, created_at, updated_at
		FROM floworc_audit_entries
		WHERE flow_id = $1 AND client_account_id = $2 AND engagement_id = $3
		ORDER BY created_at ASC, id ASC`,
		flowID.String(), tenant.ClientAccountID, tenant.EngagementID,
	)
	if err != nil {
		return nil, fmt.Errorf("floworc/postgres: list audit: %w", err)
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		var (
			e        audit.Entry
			action   string
			metadata []byte
		)
		err := rows.Scan(
			&e.AuditID, &e.FlowID,
			&e.Tenant.ClientAccountID, &e.Tenant.EngagementID,
			&action, &e.Actor, &e.Reason, &metadata,
			&e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("floworc/postgres: scan audit entry: %w", err)
		}
		e.Action = audit.Action(action)
		if err := decodeJSON(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("floworc/postgres: decode audit metadata: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
