// Package api exposes the flow control surface over HTTP. Handlers are
// thin adapters: they extract the tenant, parse identifiers, delegate to
// the engine's subsystems, and map the error taxonomy onto status codes.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	floworc "github.com/floworc/floworc"
	"github.com/floworc/floworc/engine"
	"github.com/floworc/floworc/id"
	"github.com/floworc/floworc/scope"
)

// Tenant identity headers. Every flow-scoped route requires both.
const (
	HeaderClientAccount = "X-Client-Account-ID"
	HeaderEngagement    = "X-Engagement-ID"
	HeaderAdminToken    = "X-Admin-Token"
)

// Server wires the flow API handlers onto an engine.
type Server struct {
	eng        *engine.Engine
	logger     *slog.Logger
	adminToken string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAdminToken gates the monitoring start/stop routes behind a shared
// token passed in the X-Admin-Token header. Empty leaves them
// admin-gated but unsatisfiable, which is the safe default.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// New creates a Server over the given engine.
func New(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		eng:    eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts all routes under /v1 on the given echo instance.
func (s *Server) Register(e *echo.Echo) {
	v1 := e.Group("/v1")

	flows := v1.Group("/flows", s.requireTenant)
	flows.POST("", s.createFlow)
	flows.GET("", s.listFlows)
	flows.GET("/:flowId/status", s.flowStatus)
	flows.POST("/:flowId/advance", s.advanceFlow)
	flows.POST("/:flowId/pause", s.pauseFlow)
	flows.POST("/:flowId/resume", s.resumeFlow)
	flows.GET("/:flowId/checkpoints", s.listCheckpoints)
	flows.POST("/:flowId/recover", s.recoverFlow)
	flows.GET("/:flowId/health", s.flowHealth)
	flows.GET("/:flowId/audit", s.flowAudit)

	health := v1.Group("/health", s.requireTenant)
	health.GET("/overview", s.healthOverview)

	monitoring := v1.Group("/monitoring", s.requireAdmin)
	monitoring.POST("/start", s.startMonitoring)
	monitoring.POST("/stop", s.stopMonitoring)

	sync := v1.Group("/sync", s.requireTenant)
	sync.GET("/summary", s.syncSummary)
	sync.POST("/all", s.syncAll)
	sync.GET("/:flowId", s.syncStatus)
	sync.POST("/:flowId", s.syncFlow)
}

// requireTenant extracts the tenant identity headers and attaches the
// scope to the request context.
func (s *Server) requireTenant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant := scope.Tenant{
			ClientAccountID: c.Request().Header.Get(HeaderClientAccount),
			EngagementID:    c.Request().Header.Get(HeaderEngagement),
		}
		if tenant.ClientAccountID == "" || tenant.EngagementID == "" {
			return echo.NewHTTPError(http.StatusBadRequest,
				"missing tenant headers "+HeaderClientAccount+" and "+HeaderEngagement)
		}
		req := c.Request()
		c.SetRequest(req.WithContext(scope.Restore(req.Context(), tenant)))
		return next(c)
	}
}

// requireAdmin gates a route behind the configured admin token.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.adminToken == "" || c.Request().Header.Get(HeaderAdminToken) != s.adminToken {
			return echo.NewHTTPError(http.StatusForbidden, "admin token required")
		}
		return next(c)
	}
}

func tenantOf(c echo.Context) scope.Tenant {
	return scope.Capture(c.Request().Context())
}

func flowIDParam(c echo.Context) (id.FlowID, error) {
	flowID, err := id.ParseFlowID(c.Param("flowId"))
	if err != nil {
		return id.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid flow id: "+err.Error())
	}
	return flowID, nil
}

// httpError maps the error taxonomy and sentinel errors to HTTP status
// codes. Classified errors keep their kind and phase in the response
// body so callers never have to infer the failure cause from logs.
func httpError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, floworc.ErrFlowNotFound),
		errors.Is(err, floworc.ErrCheckpointNotFound),
		errors.Is(err, floworc.ErrFlowTypeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, floworc.ErrFlowExists),
		errors.Is(err, floworc.ErrFlowTerminal),
		errors.Is(err, floworc.ErrFlowPaused),
		errors.Is(err, floworc.ErrInvalidTransition),
		errors.Is(err, floworc.ErrMonitorRunning),
		errors.Is(err, floworc.ErrMonitorStopped):
		status = http.StatusConflict
	}

	var fe *floworc.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case floworc.KindValidation:
			status = http.StatusBadRequest
		case floworc.KindRecovery, floworc.KindConsistency:
			status = http.StatusConflict
		}
		return echo.NewHTTPError(status, map[string]any{
			"error": fe.Err.Error(),
			"kind":  string(fe.Kind),
			"phase": fe.Phase,
		})
	}
	return echo.NewHTTPError(status, err.Error())
}
