package client_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/api"
	"github.com/floworc/floworc/client"
	"github.com/floworc/floworc/engine"
	"github.com/floworc/floworc/flowtype"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/monitor"
	"github.com/floworc/floworc/orchestrator"
	"github.com/floworc/floworc/scope"
	"github.com/floworc/floworc/store/memory"
)

const adminToken = "sekrit"

var testTenant = scope.Tenant{ClientAccountID: "acct_123", EngagementID: "eng_456"}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	c, err := floworc.New(floworc.WithStore(memory.New()))
	require.NoError(t, err)

	pipeline := &flowtype.Config{
		Type: "pipeline",
		Phases: []flowtype.Phase{
			{Name: "ingest", Handler: "pipeline.ingest"},
			{Name: "transform", Handler: "pipeline.transform"},
			{Name: "publish", Handler: "pipeline.publish"},
		},
		Capabilities: flowtype.Capabilities{PauseResume: true, Checkpointing: true},
	}
	eng, err := engine.Build(c, engine.WithFlowType(pipeline))
	require.NoError(t, err)

	handler := orchestrator.HandlerFunc(func(_ context.Context, _ id.FlowID, _ string, _ scope.Tenant, state []byte) ([]byte, error) {
		return state, nil
	})
	for _, name := range []string{"pipeline.ingest", "pipeline.transform", "pipeline.publish"} {
		eng.RegisterHandler(name, handler)
	}

	e := echo.New()
	api.New(eng, api.WithAdminToken(adminToken)).Register(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, opts ...client.Option) *client.Client {
	t.Helper()
	srv := newServer(t)
	opts = append([]client.Option{client.WithTenant(testTenant)}, opts...)
	return client.New(srv.URL, opts...)
}

func TestCreateAndStatus(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	flowID, err := c.CreateFlow(ctx, "pipeline")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(flowID.String(), "flow_"))

	status, err := c.Status(ctx, flowID)
	require.NoError(t, err)
	require.NotNil(t, status.Master)
	require.NotNil(t, status.Child)
	assert.Equal(t, flowID, status.Master.FlowID)
	assert.Equal(t, flowID, status.Child.FlowID)

	masters, err := c.Flows(ctx)
	require.NoError(t, err)
	require.Len(t, masters, 1)
	assert.Equal(t, flowID, masters[0].FlowID)
}

func TestCreateFlowUnknownType(t *testing.T) {
	c := newClient(t)

	_, err := c.CreateFlow(context.Background(), "nonsense")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestAdvanceToCompletion(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	flowID, err := c.CreateFlow(ctx, "pipeline")
	require.NoError(t, err)

	var last *orchestrator.PhaseResult
	for i := 0; i < 3; i++ {
		last, err = c.Advance(ctx, flowID, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, "publish", last.Phase)
	assert.True(t, last.FlowCompleted)
}

func TestPauseResume(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	flowID, err := c.CreateFlow(ctx, "pipeline")
	require.NoError(t, err)

	require.NoError(t, c.Pause(ctx, flowID))

	_, err = c.Advance(ctx, flowID, nil)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.StatusCode)

	require.NoError(t, c.Resume(ctx, flowID))
	_, err = c.Advance(ctx, flowID, nil)
	require.NoError(t, err)
}

func TestCheckpointsAfterAdvance(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	flowID, err := c.CreateFlow(ctx, "pipeline")
	require.NoError(t, err)
	_, err = c.Advance(ctx, flowID, nil)
	require.NoError(t, err)

	summaries, err := c.Checkpoints(ctx, flowID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "ingest", summaries[0].Phase)
}

func TestRecoverComplete(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	flowID, err := c.CreateFlow(ctx, "pipeline")
	require.NoError(t, err)

	result, err := c.Recover(ctx, flowID, monitor.RecoverComplete, "operator override", id.Nil)
	require.NoError(t, err)
	assert.Equal(t, monitor.RecoverComplete, result.Action)

	status, err := c.Status(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, "completed", string(status.Master.Status))
}

func TestHealthAndOverview(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	flowID, err := c.CreateFlow(ctx, "pipeline")
	require.NoError(t, err)
	_, err = c.CreateFlow(ctx, "pipeline")
	require.NoError(t, err)

	health, err := c.Health(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StateHealthy, health.State)

	overview, err := c.HealthOverview(ctx)
	require.NoError(t, err)
	assert.Len(t, overview.Flows, 2)
}

func TestAuditTrail(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	flowID, err := c.CreateFlow(ctx, "pipeline")
	require.NoError(t, err)
	_, err = c.Advance(ctx, flowID, nil)
	require.NoError(t, err)

	entries, err := c.Audit(ctx, flowID)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestSyncRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	flowID, err := c.CreateFlow(ctx, "pipeline")
	require.NoError(t, err)

	status, err := c.SyncStatus(ctx, flowID)
	require.NoError(t, err)
	assert.True(t, status.IsSynchronized)

	repaired, err := c.Sync(ctx, flowID)
	require.NoError(t, err)
	assert.True(t, repaired.IsSynchronized)

	result, err := c.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FlowsProcessed)

	summary, err := c.SyncSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FlowsChecked)
	assert.Equal(t, 1, summary.Synchronized)
}

func TestMonitoringAdminGate(t *testing.T) {
	ctx := context.Background()

	// No admin token configured on the client.
	denied := newClient(t)
	_, err := denied.StartMonitoring(ctx)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.StatusCode)

	allowed := newClient(t, client.WithAdminToken(adminToken))
	running, err := allowed.StartMonitoring(ctx)
	require.NoError(t, err)
	assert.True(t, running)

	running, err = allowed.StopMonitoring(ctx)
	require.NoError(t, err)
	assert.False(t, running)
}

func TestMissingTenantRejected(t *testing.T) {
	srv := newServer(t)
	c := client.New(srv.URL)

	_, err := c.CreateFlow(context.Background(), "pipeline")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
}
