package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LilT0ny/BlindCheckSystem/internal/service"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
	"github.com/LilT0ny/BlindCheckSystem/pkg/response"
)

// NotificationHandler wires HTTP endpoints to the notification service.
type NotificationHandler struct {
	service *service.NotificationService
}

// NewNotificationHandler creates a new handler.
func NewNotificationHandler(svc *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: svc}
}

// List godoc
// @Summary List the caller's notifications
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	notifications, err := h.service.List(c.Request.Context(), auth)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notifications, nil)
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags Notifications
// @Param id path string true "Notification id"
// @Success 204 {object} response.Envelope
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.MarkRead(c.Request.Context(), auth, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
