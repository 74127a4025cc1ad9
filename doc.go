// Package floworc coordinates long-running, multi-phase business flows
// across a two-tier record model: a master flow record tracking high-level
// status, and a child flow record tracking phase-by-phase execution detail.
// Both records share one identity and are kept consistent by the
// orchestrator, a reconciliation service, and a background health monitor.
//
// Floworc is designed as a library, not a service. Import it, configure a
// store, and drive flows through the engine:
//
//	c, err := floworc.New(
//	    floworc.WithStore(pgStore),
//	    floworc.WithSyncConcurrency(8),
//	)
//
// # Architecture
//
// Floworc follows a composable store pattern where each subsystem (flow,
// checkpoint, audit) defines its own store interface. A single backend
// (Postgres, SQLite, or memory) implements all of them.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers. The master and child records for one flow
// share the same FlowID; that shared identity is a structural invariant,
// not a foreign key.
//
// Phase handlers are external collaborators invoked through a middleware
// chain (recover, tracing, metrics, logging, scope, timeout). They must be
// idempotent under at-least-once re-invocation: the engine never promises
// exactly-once execution across process crashes.
package floworc
