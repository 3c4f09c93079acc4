package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/service"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
	"github.com/LilT0ny/BlindCheckSystem/pkg/response"
)

// ResetHandler wires HTTP endpoints to the password-reset service.
type ResetHandler struct {
	service *service.ResetService
}

// NewResetHandler creates a new handler.
func NewResetHandler(svc *service.ResetService) *ResetHandler {
	return &ResetHandler{service: svc}
}

// Request godoc
// @Summary File a password-reset petition
// @Description Always responds 202; never reveals whether the email exists
// @Tags Password resets
// @Accept json
// @Produce json
// @Param payload body service.RequestResetRequest true "Reset payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /password-resets [post]
func (h *ResetHandler) Request(c *gin.Context) {
	var req service.RequestResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reset payload"))
		return
	}

	if err := h.service.Request(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"message": "your petition was filed"}, nil)
}

// List godoc
// @Summary List reset tickets
// @Tags Password resets
// @Produce json
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Router /password-resets [get]
func (h *ResetHandler) List(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var status *models.ResetStatus
	if raw := c.Query("status"); raw != "" {
		parsed := models.ResetStatus(raw)
		status = &parsed
	}

	views, err := h.service.List(c.Request.Context(), auth, status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// Complete godoc
// @Summary Complete a reset ticket
// @Description Issues a temporary password for the matched account
// @Tags Password resets
// @Produce json
// @Param id path string true "Ticket id"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /password-resets/{id}/complete [post]
func (h *ResetHandler) Complete(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	view, err := h.service.Complete(c.Request.Context(), auth, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}
