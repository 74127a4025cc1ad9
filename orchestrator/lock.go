package orchestrator

import "sync"

// flowLocks serializes operations per flow ID. Concurrent advances for
// different flows proceed in parallel; two advances racing on the same
// flow is the hazard this guards against.
type flowLocks struct {
	mu    sync.Mutex
	locks map[string]*flowLock
}

type flowLock struct {
	mu   sync.Mutex
	refs int
}

func newFlowLocks() *flowLocks {
	return &flowLocks{locks: make(map[string]*flowLock)}
}

// acquire blocks until the flow's lock is held and returns the release
// function. Locks are reference-counted and removed when unused so the
// map does not grow with flow history.
func (f *flowLocks) acquire(flowID string) func() {
	f.mu.Lock()
	l, ok := f.locks[flowID]
	if !ok {
		l = &flowLock{}
		f.locks[flowID] = l
	}
	l.refs++
	f.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		f.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(f.locks, flowID)
		}
		f.mu.Unlock()
	}
}
