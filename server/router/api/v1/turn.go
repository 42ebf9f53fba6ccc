package v1

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/evahq/eva/plugin/ai/agent"
	"github.com/evahq/eva/server/service/session"
	"github.com/evahq/eva/store"
)

type turnRequest struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	Context      string `json:"context"`
	Mode         string `json:"mode"`
	Message      string `json:"message"`
	VoiceEnabled *bool  `json:"voice_enabled,omitempty"`
	Password     string `json:"password,omitempty"`
	AuthTicketID string `json:"auth_ticket_id,omitempty"`
}

type turnResponse struct {
	AssistantMessage string        `json:"assistant_message"`
	SessionID        string        `json:"session_id"`
	AuthTicketID     string        `json:"auth_ticket_id,omitempty"`
	Events           []agent.Event `json:"events,omitempty"`
}

// Turn runs one conversation turn.
func (s *APIV1Service) Turn(c echo.Context) error {
	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed_request"})
	}

	if req.SessionID != "" {
		userID, contextName, mode, ok := store.ParseSessionID(req.SessionID)
		if !ok {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown_session"})
		}
		req.UserID, req.Context, req.Mode = userID, contextName, mode
	}
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed_request",
			Message: "user_id and message are required"})
	}
	if req.Context == "" {
		req.Context = store.ContextGeneral
	}
	if req.Mode == "" {
		req.Mode = store.ModeAssistant
	}

	ticket, err := s.sessions.Authorize(req.UserID, req.Context, req.Password, req.AuthTicketID)
	switch {
	case errors.Is(err, session.ErrAuthRequired):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "auth_required"})
	case errors.Is(err, session.ErrAuthInvalid):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "auth_invalid"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal"})
	}

	// Lock before resolving so overlapping turns for the same session
	// each see the previous turn's messages.
	unlock := s.sessions.Lock(store.SessionID(req.UserID, req.Context, req.Mode))
	defer unlock()

	ctx := c.Request().Context()
	conversation, err := s.sessions.Resolve(ctx, req.UserID, req.Context, req.Mode)
	switch {
	case errors.Is(err, session.ErrUnknownContext), errors.Is(err, session.ErrUnknownMode):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown_context_or_mode"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal"})
	}

	if req.VoiceEnabled != nil {
		conversation.VoiceEnabled = *req.VoiceEnabled
	}

	reply, events, err := s.orchestrator.Run(ctx, conversation, req.Message)
	if err != nil {
		slog.Error("turn failed",
			slog.String("session_id", conversation.SessionID), slog.Any("error", err))
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:   "provider_unavailable",
			Message: agent.ErrorPrefix + err.Error(),
		})
	}

	return c.JSON(http.StatusOK, turnResponse{
		AssistantMessage: reply,
		SessionID:        conversation.SessionID,
		AuthTicketID:     ticket,
		Events:           events,
	})
}
