// Package engine wires all floworc subsystems together: the flow-type
// registry, orchestrator, checkpoint manager, audit recorder,
// reconciliation service, and health monitor.
//
// The engine package exists to break a fundamental import cycle: the root
// floworc package defines Entity and Config (imported by flow, checkpoint,
// audit, etc.) and therefore cannot import those packages back. Engine sits
// above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	c, err := floworc.New(
//	    floworc.WithStore(pgStore),
//	    floworc.WithRetryCeiling(5),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithCache(redisCache),
//	    engine.WithBackoff(backoff.NewExponentialWithJitter(time.Second, time.Minute)),
//	)
//
// # Registering Phase Handlers
//
//	eng.RegisterHandler("import_handler", myImportHandler)
//	eng.RegisterValidator("schema_validator", mySchemaValidator)
//
// # Running
//
//	err := eng.Start(ctx)   // begins periodic health sweeps
//	...
//	err  = eng.Stop()       // stops the monitor and waits for it
//
// # Options
//
//   - [WithCache]: shared cache for sync summaries and health overviews
//   - [WithBackoff]: retry delay strategy for transient phase failures
//   - [WithMiddleware]: replace the phase-execution middleware chain
//   - [WithFlowType]: register an additional flow type beyond the built-ins
package engine
