// Package v1 exposes the conversation service over HTTP.
package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/evahq/eva/plugin/ai/agent"
	"github.com/evahq/eva/server/auth"
	"github.com/evahq/eva/server/middleware"
	"github.com/evahq/eva/server/service/session"
	"github.com/evahq/eva/store"
)

// APIV1Service wires the v1 routes to the conversation service.
type APIV1Service struct {
	store        *store.Store
	gate         *auth.Gate
	sessions     *session.Router
	orchestrator *agent.Orchestrator
	limiter      *middleware.RateLimiter
}

// NewAPIV1Service creates the v1 API service.
func NewAPIV1Service(st *store.Store, gate *auth.Gate, sessions *session.Router, orchestrator *agent.Orchestrator, limiter *middleware.RateLimiter) *APIV1Service {
	return &APIV1Service{
		store:        st,
		gate:         gate,
		sessions:     sessions,
		orchestrator: orchestrator,
		limiter:      limiter,
	}
}

// Register mounts the v1 routes on e.
func (s *APIV1Service) Register(e *echo.Echo) {
	group := e.Group("/api/v1")
	if s.limiter != nil {
		group.Use(middleware.RateLimit(s.limiter))
	}

	group.POST("/turn", s.Turn)
	group.GET("/users/:id/sessions", s.UserSessions)
	group.GET("/users/:id/export", s.ExportUser)
	group.POST("/users/:id/password", s.SetPassword)
	group.DELETE("/users/:id/password", s.RemovePassword)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
