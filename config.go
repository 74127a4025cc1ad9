package floworc

import "time"

// Config holds tuning knobs for the Coordinator and its subsystems.
type Config struct {
	// RetryCeiling is the maximum number of retries per (flow, phase)
	// before the phase attempt is considered critical.
	RetryCeiling int

	// HandlerTimeout is the ceiling on a single phase-handler invocation.
	// A handler that exceeds it is cancelled and the attempt is recorded
	// as a transient, retryable failure.
	HandlerTimeout time.Duration

	// SyncConcurrency bounds the number of flows reconciled in parallel
	// by SynchronizeAll.
	SyncConcurrency int

	// MonitorInterval is how often the health monitor sweeps in-flight
	// flows.
	MonitorInterval time.Duration

	// HangingMultiplier is the factor over a phase's historical average
	// duration after which a flow is classified as hanging.
	HangingMultiplier float64

	// RecoveryPerMinute caps how many forced recovery actions the monitor
	// accepts per minute. Zero disables the limit.
	RecoveryPerMinute int

	// TransitionLogLimit bounds the master record's phase-transition log;
	// older entries are trimmed first. Zero means unbounded.
	TransitionLogLimit int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryCeiling:       3,
		HandlerTimeout:     5 * time.Minute,
		SyncConcurrency:    8,
		MonitorInterval:    30 * time.Second,
		HangingMultiplier:  3.0,
		RecoveryPerMinute:  10,
		TransitionLogLimit: 50,
		ShutdownTimeout:    30 * time.Second,
	}
}
