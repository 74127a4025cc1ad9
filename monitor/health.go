package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// State classifies one in-flight flow's health.
type State string

const (
	StateHealthy  State = "healthy"
	StateWarning  State = "warning"
	StateCritical State = "critical"
	StateHanging  State = "hanging"
	StateFailed   State = "failed"
)

// FlowHealth is the monitor's assessment of one flow.
type FlowHealth struct {
	FlowID   string        `json:"flow_id"`
	FlowType flowtype.Type `json:"flow_type"`
	Tenant   scope.Tenant  `json:"tenant"`

	State          State         `json:"state"`
	Phase          string        `json:"phase,omitempty"`
	ElapsedInPhase time.Duration `json:"elapsed_in_phase"`
	Baseline       time.Duration `json:"baseline,omitempty"`
	RetryCount     int           `json:"retry_count"`
	Detail         string        `json:"detail,omitempty"`
	CheckedAt      time.Time     `json:"checked_at"`
}

// Overview aggregates per-state counts over a tenant's in-flight flows.
type Overview struct {
	Counts    map[State]int `json:"counts"`
	Flows     []FlowHealth  `json:"flows"`
	CheckedAt time.Time     `json:"checked_at"`
}

// CheckFlow classifies a single flow.
func (m *Monitor) CheckFlow(ctx context.Context, tenant scope.Tenant, flowID id.FlowID) (*FlowHealth, error) {
	master, err := m.store.GetMaster(ctx, tenant, flowID)
	if err != nil {
		return nil, err
	}
	child, err := m.store.GetChild(ctx, tenant, flowID)
	if err != nil {
		return nil, err
	}
	baselines, err := m.store.PhaseDurations(ctx, child.FlowType)
	if err != nil {
		return nil, err
	}
	health := m.classify(master, child, baselines)
	return &health, nil
}

// Overview classifies every in-flight flow for a tenant. The result is
// cached briefly when a cache is configured; the periodic sweep refreshes
// it.
func (m *Monitor) Overview(ctx context.Context, tenant scope.Tenant) (*Overview, error) {
	if cached, ok := m.cachedOverview(ctx, tenant); ok {
		return cached, nil
	}

	masters, err := m.store.ListInFlight(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("list in-flight flows: %w", err)
	}

	overview := &Overview{
		Counts:    make(map[State]int),
		CheckedAt: m.now(),
	}
	baselines := make(map[flowtype.Type]map[string]time.Duration)
	for _, master := range masters {
		child, err := m.store.GetChild(ctx, tenant, master.FlowID)
		if err != nil {
			return nil, err
		}
		if _, ok := baselines[child.FlowType]; !ok {
			durations, err := m.store.PhaseDurations(ctx, child.FlowType)
			if err != nil {
				return nil, err
			}
			baselines[child.FlowType] = durations
		}
		health := m.classify(master, child, baselines[child.FlowType])
		overview.Counts[health.State]++
		overview.Flows = append(overview.Flows, health)
	}

	m.storeOverview(ctx, tenant, overview)
	return overview, nil
}

// classify applies the ordered ladder: failed, hanging, critical,
// warning, healthy. Paused flows are reported healthy with a detail so a
// long pause never shows up as a hang.
func (m *Monitor) classify(master *flow.MasterRecord, child *flow.ChildRecord, baselines map[string]time.Duration) FlowHealth {
	now := m.now()
	health := FlowHealth{
		FlowID:     master.FlowID.String(),
		FlowType:   master.FlowType,
		Tenant:     master.Tenant,
		State:      StateHealthy,
		Phase:      child.CurrentPhase,
		RetryCount: m.retries.Attempts(master.FlowID, child.CurrentPhase),
		CheckedAt:  now,
	}
	health.ElapsedInPhase = now.Sub(lastActivity(master))
	if baseline, ok := baselines[child.CurrentPhase]; ok {
		health.Baseline = baseline
	}

	switch {
	case master.Status == flow.MasterFailed:
		health.State = StateFailed
		if details, ok := master.Metadata["error_details"].(map[string]any); ok {
			if msg, ok := details["error"].(string); ok {
				health.Detail = msg
			}
		}
	case master.Status == flow.MasterPaused:
		health.Detail = "paused"
	case master.Status == flow.MasterCompleted:
		// Terminal success; nothing to classify.
	case child.CurrentPhase == "":
		// Not yet advanced.
	case health.Baseline > 0 && health.ElapsedInPhase > hangingThreshold(health.Baseline, m.config.HangingMultiplier):
		health.State = StateHanging
		health.Detail = fmt.Sprintf("phase %q running %s against a %s baseline",
			child.CurrentPhase, health.ElapsedInPhase.Round(time.Millisecond), health.Baseline)
	case health.RetryCount >= m.config.RetryCeiling && m.config.RetryCeiling > 0:
		health.State = StateCritical
		health.Detail = fmt.Sprintf("phase %q at %d retries", child.CurrentPhase, health.RetryCount)
	case health.Baseline > 0 && health.ElapsedInPhase > health.Baseline:
		health.State = StateWarning
	}
	return health
}

func hangingThreshold(baseline time.Duration, multiplier float64) time.Duration {
	if multiplier <= 0 {
		multiplier = 1
	}
	return time.Duration(float64(baseline) * multiplier)
}

// lastActivity is the timestamp of the most recent transition, falling
// back to record creation for flows that never advanced.
func lastActivity(master *flow.MasterRecord) time.Time {
	if t, ok := master.LastTransition(); ok {
		return t.Timestamp
	}
	return master.CreatedAt
}
