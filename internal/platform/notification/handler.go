package notification

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/labbox/labbox/pkg/apperror"
	"github.com/labbox/labbox/pkg/response"
)

// Handler exposes the notification log over HTTP.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes registers the notification routes on an admin group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.HandleList)
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

// HandleList handles GET /notifications?recipient=&limit=
func (h *Handler) HandleList(c echo.Context) error {
	limit := 100
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	list := h.manager.List(c.Request().Context(), c.QueryParam("recipient"), limit)
	return response.OK(c, "Notifications retrieved successfully", list)
}

func (h *Handler) HandleStats(c echo.Context) error {
	return response.OK(c, "Notification stats retrieved successfully", h.manager.Stats(c.Request().Context()))
}

func (h *Handler) HandleGet(c echo.Context) error {
	n, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.NotFound("Notification not found")
	}
	return response.OK(c, "Notification retrieved successfully", n)
}

func (h *Handler) HandleRetry(c echo.Context) error {
	n, err := h.manager.Retry(c.Request().Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		return apperror.NotFound("Notification not found")
	case errors.Is(err, ErrNotRetryable):
		return apperror.InvalidState("Notification was already delivered")
	case err != nil:
		return apperror.Internal("Notification retry failed", err)
	}
	return response.OK(c, "Notification sent successfully", n)
}
