package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// syncStatus handles GET /v1/sync/:flowId. Read-only.
func (s *Server) syncStatus(c echo.Context) error {
	flowID, err := flowIDParam(c)
	if err != nil {
		return err
	}
	status, err := s.eng.Reconciler().Status(c.Request().Context(), tenantOf(c), flowID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

// syncFlow handles POST /v1/sync/:flowId. Repairs any divergence.
func (s *Server) syncFlow(c echo.Context) error {
	flowID, err := flowIDParam(c)
	if err != nil {
		return err
	}
	status, err := s.eng.Reconciler().Synchronize(c.Request().Context(), tenantOf(c), flowID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

// syncAll handles POST /v1/sync/all.
func (s *Server) syncAll(c echo.Context) error {
	result, err := s.eng.Reconciler().SynchronizeAll(c.Request().Context(), tenantOf(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// syncSummary handles GET /v1/sync/summary.
func (s *Server) syncSummary(c echo.Context) error {
	summary, err := s.eng.Reconciler().Summary(c.Request().Context(), tenantOf(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}
