package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
)

// rowScanner is the shared shape of pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMaster(row rowScanner) (*flow.MasterRecord, error) {
	var (
		master      flow.MasterRecord
		flowType    string
		status      string
		transitions []byte
		timings     []byte
		metadata    []byte
	)
	err := row.Scan(
		&master.FlowID, &flowType,
		&master.Tenant.ClientAccountID, &master.Tenant.EngagementID,
		&status, &transitions, &timings, &metadata,
		&master.CreatedAt, &master.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	master.FlowType = flowtype.Type(flowType)
	master.Status = flow.MasterStatus(status)
	if err := decodeJSON(transitions, &master.PhaseTransitions); err != nil {
		return nil, fmt.Errorf("decode phase transitions: %w", err)
	}
	if err := decodeJSON(timings, &master.PhaseExecutionTimes); err != nil {
		return nil, fmt.Errorf("decode phase execution times: %w", err)
	}
	if err := decodeJSON(metadata, &master.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &master, nil
}

func scanChild(row rowScanner) (*flow.ChildRecord, error) {
	var (
		child     flow.ChildRecord
		flowType  string
		status    string
		completed []byte
	)
	err := row.Scan(
		&child.FlowID, &flowType,
		&child.Tenant.ClientAccountID, &child.Tenant.EngagementID,
		&status, &child.CurrentPhase, &child.ProgressPercentage,
		&completed, &child.CreatedAt, &child.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	child.FlowType = flowtype.Type(flowType)
	child.Status = flow.ChildStatus(status)
	if err := decodeJSON(completed, &child.PhasesCompleted); err != nil {
		return nil, fmt.Errorf("decode phases completed: %w", err)
	}
	return &child, nil
}

func collectMasters(rows pgx.Rows) ([]*flow.MasterRecord, error) {
	var out []*flow.MasterRecord
	for rows.Next() {
		master, err := scanMaster(rows)
		if err != nil {
			return nil, fmt.Errorf("floworc/postgres: scan master: %w", err)
		}
		out = append(out, master)
	}
	return out, rows.Err()
}

func updateMaster(ctx context.Context, db execer, master *flow.MasterRecord) error {
	transitions, err := encodeJSON(master.PhaseTransitions, "[]")
	if err != nil {
		return err
	}
	timings, err := encodeJSON(master.PhaseExecutionTimes, "{}")
	if err != nil {
		return err
	}
	metadata, err := encodeJSON(master.Metadata, "{}")
	if err != nil {
		return err
	}

	tag, err := db.Exec(ctx, `UPDATE floworc_master_flows
		SET status = $1, phase_transitions = $2, phase_execution_times = $3,
		    metadata = $4, updated_at = $5
		WHERE id = $6 AND client_account_id = $7 AND engagement_id = $8`,
		string(master.Status), transitions, timings, metadata, master.UpdatedAt,
		master.FlowID.String(), master.Tenant.ClientAccountID, master.Tenant.EngagementID,
	)
	if err != nil {
		return fmt.Errorf("floworc/postgres: update master: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return floworc.ErrFlowNotFound
	}
	return nil
}

func updateChild(ctx context.Context, db execer, child *flow.ChildRecord) error {
	completed, err := encodeJSON(child.PhasesCompleted, "[]")
	if err != nil {
		return err
	}

	tag, err := db.Exec(ctx, `UPDATE floworc_child_flows
		SET status = $1, current_phase = $2, progress_percentage = $3,
		    phases_completed = $4, updated_at = $5
		WHERE id = $6 AND client_account_id = $7 AND engagement_id = $8`,
		string(child.Status), child.CurrentPhase, child.ProgressPercentage,
		completed, child.UpdatedAt,
		child.FlowID.String(), child.Tenant.ClientAccountID, child.Tenant.EngagementID,
	)
	if err != nil {
		return fmt.Errorf("floworc/postgres: update child: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return floworc.ErrFlowNotFound
	}
	return nil
}
