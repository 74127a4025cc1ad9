package sqlite

import (
	"context"
	"fmt"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/checkpoint"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

const checkpointColumns = `id, flow_id, client_account_id, engagement_id,
	phase, snapshot, created_at, updated_at`

// SaveCheckpoint persists a checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := insertCheckpoint(ctx, s.db, cp); err != nil {
		return fmt.Errorf("floworc/sqlite: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves a checkpoint by ID.
func (s *Store) GetCheckpoint(ctx context.Context, tenant scope.Tenant, checkpointID id.CheckpointID) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkpointColumns+`
		FROM floworc_checkpoints
		WHERE id = ? AND client_account_id = ? AND engagement_id = ?`,
		checkpointID.String(), tenant.ClientAccountID, tenant.EngagementID,
	)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, floworc.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("floworc/sqlite: get checkpoint: %w", err)
	}
	return cp, nil
}

// GetLatestCheckpoint retrieves the most recent checkpoint for a flow.
func (s *Store) GetLatestCheckpoint(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkpointColumns+`
		FROM floworc_checkpoints
		WHERE flow_id = ? AND client_account_id = ? AND engagement_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		flowID.String(), tenant.ClientAccountID, tenant.EngagementID,
	)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, floworc.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("floworc/sqlite: get latest checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns a flow's checkpoints, newest-first.
func (s *Store) ListCheckpoints(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) ([]*checkpoint.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+checkpointColumns+`
		FROM floworc_checkpoints
		WHERE flow_id = ? AND client_account_id = ? AND engagement_id = ?
		ORDER BY created_at DESC, id DESC`,
		flowID.String(), tenant.ClientAccountID, tenant.EngagementID,
	)
	if err != nil {
		return nil, fmt.Errorf("floworc/sqlite: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*checkpoint.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("floworc/sqlite: scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// PruneCheckpoints deletes all but the newest `keep` checkpoints for a
// flow. The latest checkpoint is never removed.
func (s *Store) PruneCheckpoints(ctx context.Context, tenant scope.Tenant, flowID id.FlowID, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM floworc_checkpoints
		WHERE flow_id = ? AND client_account_id = ? AND engagement_id = ?
		  AND id NOT IN (
			SELECT id FROM floworc_checkpoints
			WHERE flow_id = ? AND client_account_id = ? AND engagement_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		  )`,
		flowID.String(), tenant.ClientAccountID, tenant.EngagementID,
		flowID.String(), tenant.ClientAccountID, tenant.EngagementID, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("floworc/sqlite: prune checkpoints: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("floworc/sqlite: prune rows affected: %w", err)
	}
	return int(affected), nil
}

func insertCheckpoint(ctx context.Context, db execer, cp *checkpoint.Checkpoint) error {
	_, err := db.ExecContext(ctx, `INSERT INTO floworc_checkpoints
		(id, flow_id, client_account_id, engagement_id, phase, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.CheckpointID.String(), cp.FlowID.String(),
		cp.Tenant.ClientAccountID, cp.Tenant.EngagementID,
		cp.Phase, cp.Snapshot, cp.CreatedAt, cp.UpdatedAt,
	)
	return err
}

func scanCheckpoint(row rowScanner) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	err := row.Scan(
		&cp.CheckpointID, &cp.FlowID,
		&cp.Tenant.ClientAccountID, &cp.Tenant.EngagementID,
		&cp.Phase, &cp.Snapshot, &cp.CreatedAt, &cp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}
