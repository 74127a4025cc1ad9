// Package store defines the aggregate persistence interface. Each
// subsystem (flow, checkpoint, audit) defines its own store interface;
// the composite Store composes them all. Backends: Postgres, SQLite,
// and Memory.
package store

import (
	"context"

	"github.com/floworc/floworc/audit"
	"github.com/floworc/floworc/checkpoint"
	"github.com/floworc/floworc/flow"
)

// Store is the aggregate persistence interface. Each subsystem store is
// a composable interface; a single backend implements all of them.
type Store interface {
	flow.Store
	checkpoint.Store
	audit.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
