package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

const masterColumns = `id, flow_type, client_account_id, engagement_id, status,
	phase_transitions, phase_execution_times, metadata, created_at, updated_at`

const childColumns = `id, flow_type, client_account_id, engagement_id, status,
	current_phase, progress_percentage, phases_completed, created_at, updated_at`

// CreateFlow inserts the master and child records in one transaction.
func (s *Store) CreateFlow(ctx context.Context, master *flow.MasterRecord, child *flow.ChildRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("floworc/sqlite: begin create flow: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := insertMaster(ctx, tx, master); err != nil {
		if isDuplicateKey(err) {
			return floworc.ErrFlowExists
		}
		return fmt.Errorf("floworc/sqlite: create master: %w", err)
	}
	if err := insertChild(ctx, tx, child); err != nil {
		return fmt.Errorf("floworc/sqlite: create child: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("floworc/sqlite: commit create flow: %w", err)
	}
	return nil
}

// GetMaster retrieves a tenant's master record.
func (s *Store) GetMaster(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) (*flow.MasterRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+masterColumns+`
		FROM floworc_master_flows
		WHERE id = ? AND client_account_id = ? AND engagement_id = ?`,
		flowID.String(), tenant.ClientAccountID, tenant.EngagementID,
	)
	master, err := scanMaster(row)
	if err != nil {
		if isNoRows(err) {
			return nil, floworc.ErrFlowNotFound
		}
		return nil, fmt.Errorf("floworc/sqlite: get master: %w", err)
	}
	return master, nil
}

// GetChild retrieves a tenant's child record.
func (s *Store) GetChild(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) (*flow.ChildRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+childColumns+`
		FROM floworc_child_flows
		WHERE id = ? AND client_account_id = ? AND engagement_id = ?`,
		flowID.String(), tenant.ClientAccountID, tenant.EngagementID,
	)
	child, err := scanChild(row)
	if err != nil {
		if isNoRows(err) {
			return nil, floworc.ErrFlowNotFound
		}
		return nil, fmt.Errorf("floworc/sqlite: get child: %w", err)
	}
	return child, nil
}

// UpdateMaster persists changes to an existing master record.
func (s *Store) UpdateMaster(ctx context.Context, master *flow.MasterRecord) error {
	return updateMaster(ctx, s.db, master)
}

// UpdateChild persists changes to an existing child record.
func (s *Store) UpdateChild(ctx context.Context, child *flow.ChildRecord) error {
	return updateChild(ctx, s.db, child)
}

// CompletePhase applies a phase commit atomically: master transition
// log, child progress, and the optional checkpoint land together or not
// at all.
func (s *Store) CompletePhase(ctx context.Context, pc *flow.PhaseCompletion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("floworc/sqlite: begin complete phase: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := updateMaster(ctx, tx, pc.Master); err != nil {
		return err
	}
	if err := updateChild(ctx, tx, pc.Child); err != nil {
		return err
	}
	if pc.Checkpoint != nil {
		if err := insertCheckpoint(ctx, tx, pc.Checkpoint); err != nil {
			return fmt.Errorf("floworc/sqlite: complete phase checkpoint: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("floworc/sqlite: commit complete phase: %w", err)
	}
	return nil
}

// ListInFlight returns non-terminal master records for a tenant,
// oldest-first.
func (s *Store) ListInFlight(ctx context.Context, tenant scope.Tenant) ([]*flow.MasterRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+masterColumns+`
		FROM floworc_master_flows
		WHERE client_account_id = ? AND engagement_id = ?
		  AND status IN ('initialized', 'running', 'paused')
		ORDER BY created_at ASC, id ASC`,
		tenant.ClientAccountID, tenant.EngagementID,
	)
	if err != nil {
		return nil, fmt.Errorf("floworc/sqlite: list in-flight: %w", err)
	}
	defer rows.Close()
	return collectMasters(rows)
}

// ListMasters returns all master records for a tenant, oldest-first.
func (s *Store) ListMasters(ctx context.Context, tenant scope.Tenant) ([]*flow.MasterRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+masterColumns+`
		FROM floworc_master_flows
		WHERE client_account_id = ? AND engagement_id = ?
		ORDER BY created_at ASC, id ASC`,
		tenant.ClientAccountID, tenant.EngagementID,
	)
	if err != nil {
		return nil, fmt.Errorf("floworc/sqlite: list masters: %w", err)
	}
	defer rows.Close()
	return collectMasters(rows)
}

// ListActiveTenants returns tenants with at least one in-flight flow.
func (s *Store) ListActiveTenants(ctx context.Context) ([]scope.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT client_account_id, engagement_id
		FROM floworc_master_flows
		WHERE status IN ('initialized', 'running', 'paused')
		ORDER BY client_account_id, engagement_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("floworc/sqlite: list active tenants: %w", err)
	}
	defer rows.Close()

	var out []scope.Tenant
	for rows.Next() {
		var t scope.Tenant
		if err := rows.Scan(&t.ClientAccountID, &t.EngagementID); err != nil {
			return nil, fmt.Errorf("floworc/sqlite: scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PhaseDurations averages recorded execution times per phase across all
// flows of the given type. SQLite has no convenient JSON aggregation
// for this shape, so rows are decoded and averaged here.
func (s *Store) PhaseDurations(ctx context.Context, t flowtype.Type) (map[string]time.Duration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phase_execution_times
		FROM floworc_master_flows
		WHERE flow_type = ?`,
		string(t),
	)
	if err != nil {
		return nil, fmt.Errorf("floworc/sqlite: phase durations: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	counts := make(map[string]int64)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("floworc/sqlite: scan phase timings: %w", err)
		}
		var timings map[string]flow.PhaseTiming
		if err := decodeJSON(raw, &timings); err != nil {
			return nil, fmt.Errorf("floworc/sqlite: decode phase timings: %w", err)
		}
		for phase, timing := range timings {
			totals[phase] += timing.ExecutionTimeMS
			counts[phase]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("floworc/sqlite: phase durations: %w", err)
	}

	out := make(map[string]time.Duration, len(totals))
	for phase, total := range totals {
		out[phase] = time.Duration(total/counts[phase]) * time.Millisecond
	}
	return out, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting the shared
// statements run standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMaster(ctx context.Context, db execer, master *flow.MasterRecord) error {
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
	_, err = db.ExecContext(ctx, `INSERT INTO floworc_master_flows
		(id, flow_type, client_account_id, engagement_id, status,
		 phase_transitions, phase_execution_times, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		master.FlowID.String(), string(master.FlowType),
		master.Tenant.ClientAccountID, master.Tenant.EngagementID,
		string(master.Status), transitions, timings, metadata,
		master.CreatedAt, master.UpdatedAt,
	)
	return err
}

func insertChild(ctx context.Context, db execer, child *flow.ChildRecord) error {
	completed, err := encodeJSON(child.PhasesCompleted, "[]")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO floworc_child_flows
		(id, flow_type, client_account_id, engagement_id, status,
		 current_phase, progress_percentage, phases_completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		child.FlowID.String(), string(child.FlowType),
		child.Tenant.ClientAccountID, child.Tenant.EngagementID,
		string(child.Status), child.CurrentPhase, child.ProgressPercentage,
		completed, child.CreatedAt, child.UpdatedAt,
	)
	return err
}
