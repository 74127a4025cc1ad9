// Package retry tracks retry counts per (flow, phase) key.
//
// The counters are in-process: a single logical owner advances a flow,
// and a process restart resets the count. A stall caused by the reset is
// still detected by the health monitor's elapsed-time heuristics.
package retry

import (
	"sync"
	"time"

	"github.com/floworc/floworc/id"
)

// Key identifies one retry counter.
type Key struct {
	FlowID string
	Phase  string
}

// Count is a point-in-time view of one counter.
type Count struct {
	Key       Key
	Attempts  int
	LastTried time.Time
}

// Metrics tracks retry attempts per (flow, phase). Safe for concurrent
// use. Consumed by the orchestrator (ceiling checks) and the health
// monitor (critical classification); the monitor only reads.
type Metrics struct {
	mu     sync.RWMutex
	counts map[Key]*Count
}

// NewMetrics creates an empty retry tracker.
func NewMetrics() *Metrics {
	return &Metrics{counts: make(map[Key]*Count)}
}

// Record increments the counter for (flowID, phase) and returns the new
// attempt count.
func (m *Metrics) Record(flowID id.FlowID, phase string) int {
	k := Key{FlowID: flowID.String(), Phase: phase}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[k]
	if !ok {
		c = &Count{Key: k}
		m.counts[k] = c
	}
	c.Attempts++
	c.LastTried = time.Now()
	return c.Attempts
}

// Attempts returns the current count for (flowID, phase).
func (m *Metrics) Attempts(flowID id.FlowID, phase string) int {
	k := Key{FlowID: flowID.String(), Phase: phase}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.counts[k]; ok {
		return c.Attempts
	}
	return 0
}

// Reset clears the counter for (flowID, phase). Used by restart_phase
// recovery and after a phase finally succeeds.
func (m *Metrics) Reset(flowID id.FlowID, phase string) {
	k := Key{FlowID: flowID.String(), Phase: phase}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, k)
}

// ResetFlow clears every counter belonging to the flow.
func (m *Metrics) ResetFlow(flowID id.FlowID) {
	fid := flowID.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.counts {
		if k.FlowID == fid {
			delete(m.counts, k)
		}
	}
}

// Snapshot returns a copy of all non-zero counters.
func (m *Metrics) Snapshot() []Count {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Count, 0, len(m.counts))
	for _, c := range m.counts {
		out = append(out, *c)
	}
	return out
}
