package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/monitor"
)

// RecoverRequest is the optional body for POST /flows/:flowId/recover.
// Action and checkpoint ID may come from query parameters instead.
type RecoverRequest struct {
	Action       string `json:"action,omitempty"`
	Reason       string `json:"reason,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// MonitoringStatusResponse reports whether the background sweep is
// running.
type MonitoringStatusResponse struct {
	Running bool `json:"running"`
}

// listCheckpoints handles GET /v1/flows/:flowId/checkpoints.
func (s *Server) listCheckpoints(c echo.Context) error {
	flowID, err := flowIDParam(c)
	if err != nil {
		return err
	}
	summaries, err := s.eng.Checkpoints().List(c.Request().Context(), tenantOf(c), flowID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summaries)
}

// recoverFlow handles POST /v1/flows/:flowId/recover.
func (s *Server) recoverFlow(c echo.Context) error {
	flowID, err := flowIDParam(c)
	if err != nil {
		return err
	}

	var req RecoverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if v := c.QueryParam("action"); v != "" {
		req.Action = v
	}
	if v := c.QueryParam("checkpoint_id"); v != "" {
		req.CheckpointID = v
	}
	if v := c.QueryParam("reason"); v != "" {
		req.Reason = v
	}

	action, err := monitor.ParseRecoveryAction(req.Action)
	if err != nil {
		return httpError(err)
	}
	checkpointID := id.Nil
	if req.CheckpointID != "" {
		checkpointID, err = id.ParseCheckpointID(req.CheckpointID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid checkpoint id: "+err.Error())
		}
	}

	result, err := s.eng.Monitor().ForceRecover(c.Request().Context(), tenantOf(c), flowID, action, req.Reason, checkpointID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// flowHealth handles GET /v1/flows/:flowId/health.
func (s *Server) flowHealth(c echo.Context) error {
	flowID, err := flowIDParam(c)
	if err != nil {
		return err
	}
	health, err := s.eng.Monitor().CheckFlow(c.Request().Context(), tenantOf(c), flowID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, health)
}

// healthOverview handles GET /v1/health/overview.
func (s *Server) healthOverview(c echo.Context) error {
	overview, err := s.eng.Monitor().Overview(c.Request().Context(), tenantOf(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, overview)
}

// startMonitoring handles POST /v1/monitoring/start.
func (s *Server) startMonitoring(c echo.Context) error {
	// The sweep loop outlives the request.
	if err := s.eng.Monitor().Start(context.WithoutCancel(c.Request().Context())); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, MonitoringStatusResponse{Running: s.eng.Monitor().Running()})
}

// stopMonitoring handles POST /v1/monitoring/stop.
func (s *Server) stopMonitoring(c echo.Context) error {
	if err := s.eng.Monitor().Stop(); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, MonitoringStatusResponse{Running: s.eng.Monitor().Running()})
}
