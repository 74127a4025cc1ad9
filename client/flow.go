package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/floworc/floworc/api"
	"github.com/floworc/floworc/audit"
	"github.com/floworc/floworc/checkpoint"
	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/monitor"
	"github.com/floworc/floworc/orchestrator"
	"github.com/floworc/floworc/reconcile"
)

// CreateFlow starts a new flow of the given type and returns its ID.
func (c *Client) CreateFlow(ctx context.Context, flowType string) (id.FlowID, error) {
	var resp api.CreateFlowResponse
	err := c.do(ctx, http.MethodPost, "/v1/flows", api.CreateFlowRequest{FlowType: flowType}, &resp)
	if err != nil {
		return id.Nil, err
	}
	return id.ParseFlowID(resp.FlowID)
}

// Flows lists the tenant's master records.
func (c *Client) Flows(ctx context.Context) ([]*flow.MasterRecord, error) {
	var resp []*flow.MasterRecord
	if err := c.do(ctx, http.MethodGet, "/v1/flows", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Status returns the composite master+child view of a flow.
func (c *Client) Status(ctx context.Context, flowID id.FlowID) (*api.FlowStatusResponse, error) {
	var resp api.FlowStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/flows/"+escape(flowID.String())+"/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Advance runs the flow's next pending phase. state optionally carries
// accumulated flow state for validators and the handler.
func (c *Client) Advance(ctx context.Context, flowID id.FlowID, state json.RawMessage) (*orchestrator.PhaseResult, error) {
	var resp orchestrator.PhaseResult
	err := c.do(ctx, http.MethodPost, "/v1/flows/"+escape(flowID.String())+"/advance",
		api.AdvanceRequest{State: state}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pause suspends a flow.
func (c *Client) Pause(ctx context.Context, flowID id.FlowID) error {
	return c.do(ctx, http.MethodPost, "/v1/flows/"+escape(flowID.String())+"/pause", nil, nil)
}

// Resume reactivates a paused flow.
func (c *Client) Resume(ctx context.Context, flowID id.FlowID) error {
	return c.do(ctx, http.MethodPost, "/v1/flows/"+escape(flowID.String())+"/resume", nil, nil)
}

// Checkpoints lists a flow's checkpoint summaries, newest-first.
func (c *Client) Checkpoints(ctx context.Context, flowID id.FlowID) ([]checkpoint.Summary, error) {
	var resp []checkpoint.Summary
	if err := c.do(ctx, http.MethodGet, "/v1/flows/"+escape(flowID.String())+"/checkpoints", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Recover applies a forced recovery action to a flow. checkpointID is
// only consulted for checkpoint_restore; pass id.Nil to use the latest.
func (c *Client) Recover(ctx context.Context, flowID id.FlowID, action monitor.RecoveryAction, reason string, checkpointID id.CheckpointID) (*monitor.RecoveryResult, error) {
	req := api.RecoverRequest{
		Action: string(action),
		Reason: reason,
	}
	if !checkpointID.IsNil() {
		req.CheckpointID = checkpointID.String()
	}
	var resp monitor.RecoveryResult
	err := c.do(ctx, http.MethodPost, "/v1/flows/"+escape(flowID.String())+"/recover", req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health classifies one flow's health.
func (c *Client) Health(ctx context.Context, flowID id.FlowID) (*monitor.FlowHealth, error) {
	var resp monitor.FlowHealth
	if err := c.do(ctx, http.MethodGet, "/v1/flows/"+escape(flowID.String())+"/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthOverview summarizes health across the tenant's in-flight flows.
func (c *Client) HealthOverview(ctx context.Context) (*monitor.Overview, error) {
	var resp monitor.Overview
	if err := c.do(ctx, http.MethodGet, "/v1/health/overview", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Audit returns a flow's audit trail, oldest-first.
func (c *Client) Audit(ctx context.Context, flowID id.FlowID) ([]*audit.Entry, error) {
	var resp []*audit.Entry
	if err := c.do(ctx, http.MethodGet, "/v1/flows/"+escape(flowID.String())+"/audit", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SyncStatus compares a flow's records without repairing them.
func (c *Client) SyncStatus(ctx context.Context, flowID id.FlowID) (*reconcile.SyncStatus, error) {
	var resp reconcile.SyncStatus
	if err := c.do(ctx, http.MethodGet, "/v1/sync/"+escape(flowID.String()), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sync repairs any master/child divergence for one flow.
func (c *Client) Sync(ctx context.Context, flowID id.FlowID) (*reconcile.SyncStatus, error) {
	var resp reconcile.SyncStatus
	if err := c.do(ctx, http.MethodPost, "/v1/sync/"+escape(flowID.String()), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncAll synchronizes every in-flight flow for the tenant.
func (c *Client) SyncAll(ctx context.Context) (*reconcile.SyncResult, error) {
	var resp reconcile.SyncResult
	if err := c.do(ctx, http.MethodPost, "/v1/sync/all", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncSummary returns the tenant's read-only sync dashboard view.
func (c *Client) SyncSummary(ctx context.Context) (*reconcile.TenantSummary, error) {
	var resp reconcile.TenantSummary
	if err := c.do(ctx, http.MethodGet, "/v1/sync/summary", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartMonitoring begins the server's background health sweeps.
// Requires the admin token.
func (c *Client) StartMonitoring(ctx context.Context) (bool, error) {
	var resp api.MonitoringStatusResponse
	if err := c.do(ctx, http.MethodPost, "/v1/monitoring/start", nil, &resp); err != nil {
		return false, err
	}
	return resp.Running, nil
}

// StopMonitoring halts the server's background health sweeps.
// Requires the admin token.
func (c *Client) StopMonitoring(ctx context.Context) (bool, error) {
	var resp api.MonitoringStatusResponse
	if err := c.do(ctx, http.MethodPost, "/v1/monitoring/stop", nil, &resp); err != nil {
		return false, err
	}
	return resp.Running, nil
}
