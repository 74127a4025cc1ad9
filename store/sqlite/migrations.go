package sqlite

import (
	"context"
	"fmt"
)

// migration is one named, ordered schema change.
type migration struct {
	name string
	stmt string
}

// migrations run in slice order; applied names are tracked in
// floworc_migrations so re-running Migrate is safe.
var migrations = []migration{
	{
		name: "001_create_master_flows",
		stmt: `CREATE TABLE IF NOT EXISTS floworc_master_flows (
			id                    TEXT PRIMARY KEY,
			flow_type             TEXT NOT NULL,
			client_account_id     TEXT NOT NULL,
			engagement_id         TEXT NOT NULL,
			status                TEXT NOT NULL DEFAULT 'initialized',
			phase_transitions     TEXT NOT NULL DEFAULT '[]',
			phase_execution_times TEXT NOT NULL DEFAULT '{}',
			metadata              TEXT NOT NULL DEFAULT '{}',
			created_at            TIMESTAMP NOT NULL,
			updated_at            TIMESTAMP NOT NULL
		)`,
	},
	{
		name: "002_create_child_flows",
		stmt: `CREATE TABLE IF NOT EXISTS floworc_child_flows (
			id                  TEXT PRIMARY KEY REFERENCES floworc_master_flows(id) ON DELETE CASCADE,
			flow_type           TEXT NOT NULL,
			client_account_id   TEXT NOT NULL,
			engagement_id       TEXT NOT NULL,
			status              TEXT NOT NULL DEFAULT 'active',
			current_phase       TEXT NOT NULL DEFAULT '',
			progress_percentage REAL NOT NULL DEFAULT 0,
			phases_completed    TEXT NOT NULL DEFAULT '[]',
			created_at          TIMESTAMP NOT NULL,
			updated_at          TIMESTAMP NOT NULL
		)`,
	},
	{
		name: "003_create_checkpoints",
		stmt: `CREATE TABLE IF NOT EXISTS floworc_checkpoints (
			id                TEXT PRIMARY KEY,
			flow_id           TEXT NOT NULL REFERENCES floworc_master_flows(id) ON DELETE CASCADE,
			client_account_id TEXT NOT NULL,
			engagement_id     TEXT NOT NULL,
			phase             TEXT NOT NULL,
			snapshot          BLOB NOT NULL,
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL
		)`,
	},
	{
		name: "004_create_audit_entries",
		stmt: `CREATE TABLE IF NOT EXISTS floworc_audit_entries (
			id                TEXT PRIMARY KEY,
			flow_id           TEXT NOT NULL,
			client_account_id TEXT NOT NULL,
			engagement_id     TEXT NOT NULL,
			action            TEXT NOT NULL,
			actor             TEXT NOT NULL,
			reason            TEXT NOT NULL DEFAULT '',
			metadata          TEXT NOT NULL DEFAULT '{}',
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL
		)`,
	},
	{
		name: "005_create_indexes",
		stmt: `CREATE INDEX IF NOT EXISTS idx_floworc_master_flows_tenant
			ON floworc_master_flows (client_account_id, engagement_id)`,
	},
	{
		name: "006_create_checkpoint_index",
		stmt: `CREATE INDEX IF NOT EXISTS idx_floworc_checkpoints_flow
			ON floworc_checkpoints (flow_id, created_at DESC, id DESC)`,
	},
	{
		name: "007_create_audit_index",
		stmt: `CREATE INDEX IF NOT EXISTS idx_floworc_audit_entries_flow
			ON floworc_audit_entries (flow_id, created_at, id)`,
	},
}

// Migrate applies all pending migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS floworc_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("floworc/sqlite: create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM floworc_migrations WHERE name = ?)`,
			m.name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("floworc/sqlite: check migration %s: %w", m.name, err)
		}
		if applied {
			continue
		}

		if _, err := s.db.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("floworc/sqlite: execute migration %s: %w", m.name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO floworc_migrations (name) VALUES (?)`,
			m.name,
		); err != nil {
			return fmt.Errorf("floworc/sqlite: record migration %s: %w", m.name, err)
		}

		s.logger.Info("applied migration", "name", m.name)
	}
	return nil
}
