package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/openpress/reviewforms/internal/api/auth"
	"github.com/openpress/reviewforms/internal/notify"
)

// NotificationsHandler serves the acting user's trivial notifications.
type NotificationsHandler struct {
	manager *notify.Manager
}

// NewNotificationsHandler creates a new notifications handler
func NewNotificationsHandler(manager *notify.Manager) *NotificationsHandler {
	return &NotificationsHandler{manager: manager}
}

// List handles GET /api/v1/notifications
func (h *NotificationsHandler) List(c echo.Context) error {
	userID := auth.GetUserID(c)
	if userID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "user not found in context")
	}

	limit := 20
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	notifications, err := h.manager.List(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve notifications")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"meta": map[string]interface{}{
			"count": len(notifications),
			"limit": limit,
		},
	})
}
