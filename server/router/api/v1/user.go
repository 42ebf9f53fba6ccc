package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/evahq/eva/store"
)

// UserSessions lists a user's sessions, newest first, with inline
// message tails only.
func (s *APIV1Service) UserSessions(c echo.Context) error {
	userID := c.Param("id")
	sessions, err := s.store.UserSessions(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user_id":  userID,
		"sessions": sessions,
	})
}

// ExportUser writes the user's full conversation history to disk and
// returns the export path.
func (s *APIV1Service) ExportUser(c echo.Context) error {
	userID := c.Param("id")
	path, err := s.store.ExportUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal"})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"user_id": userID,
		"path":    path,
	})
}

type passwordRequest struct {
	Context  string `json:"context"`
	Password string `json:"password"`
}

// SetPassword enables password protection for one of the user's
// protected contexts.
func (s *APIV1Service) SetPassword(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed_request"})
	}
	if !store.IsProtectedContext(req.Context) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "context_not_protectable"})
	}
	if req.Password == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed_request",
			Message: "password is required"})
	}
	if err := s.gate.SetPassword(c.Param("id"), req.Context, req.Password); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal"})
	}
	return c.NoContent(http.StatusNoContent)
}

// RemovePassword disables protection and revokes outstanding tickets.
func (s *APIV1Service) RemovePassword(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed_request"})
	}
	if err := s.gate.RemovePassword(c.Param("id"), req.Context); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal"})
	}
	return c.NoContent(http.StatusNoContent)
}
