package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/floworc/floworc/flow"
	"github.com/floworc/floworc/flowtype"
)

// CreateFlowRequest is the body for POST /flows.
type CreateFlowRequest struct {
	FlowType string `json:"flow_type"`
}

// CreateFlowResponse carries the shared flow ID of the new pair.
type CreateFlowResponse struct {
	FlowID string `json:"flow_id"`
}

// FlowStatusResponse is the composite master+child view.
type FlowStatusResponse struct {
	Master *flow.MasterRecord `json:"master"`
	Child  *flow.ChildRecord  `json:"child"`
}

// AdvanceRequest optionally carries accumulated state for the next
// phase's validators and handler.
type AdvanceRequest struct {
	State json.RawMessage `json:"state,omitempty"`
}

// createFlow handles POST /v1/flows.
func (s *Server) createFlow(c echo.Context) error {
	var req CreateFlowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.FlowType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "flow_type is required")
	}

	flowID, err := s.eng.Orchestrator().StartFlow(c.Request().Context(), tenantOf(c), flowtype.Type(req.FlowType))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, CreateFlowResponse{FlowID: flowID.String()})
}

// listFlows handles GET /v1/flows.
func (s *Server) listFlows(c echo.Context) error {
	masters, err := s.eng.Flows().ListMasters(c.Request().Context(), tenantOf(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, masters)
}

// flowStatus handles GET /v1/flows/:flowId/status.
func (s *Server) flowStatus(c echo.Context) error {
	flowID, err := flowIDParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	tenant := tenantOf(c)

	master, err := s.eng.Flows().GetMaster(ctx, tenant, flowID)
	if err != nil {
		return httpError(err)
	}
	child, err := s.eng.Flows().GetChild(ctx, tenant, flowID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, FlowStatusResponse{Master: master, Child: child})
}

// advanceFlow handles POST /v1/flows/:flowId/advance.
func (s *Server) advanceFlow(c echo.Context) error {
	flowID, err := flowIDParam(c)
	if err != nil {
		return err
	}
	var req AdvanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	result, err := s.eng.Orchestrator().AdvancePhase(c.Request().Context(), tenantOf(c), flowID, req.State)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// pauseFlow handles POST /v1/flows/:flowId/pause.
func (s *Server) pauseFlow(c echo.Context) error {
	flowID, err := flowIDParam(c)
	if err != nil {
		return err
	}
	if err := s.eng.Orchestrator().Pause(c.Request().Context(), tenantOf(c), flowID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// resumeFlow handles POST /v1/flows/:flowId/resume.
func (s *Server) resumeFlow(c echo.Context) error {
	flowID, err := flowIDParam(c)
	if err != nil {
		return err
	}
	if err := s.eng.Orchestrator().Resume(c.Request().Context(), tenantOf(c), flowID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// flowAudit handles GET /v1/flows/:flowId/audit.
func (s *Server) flowAudit(c echo.Context) error {
	flowID, err := flowIDParam(c)
	if err != nil {
		return err
	}
	entries, err := s.eng.Audits().List(c.Request().Context(), tenantOf(c), flowID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}
