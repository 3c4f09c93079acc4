package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/service"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
	"github.com/LilT0ny/BlindCheckSystem/pkg/response"
)

// ExportHandler wires HTTP endpoints to the export service.
type ExportHandler struct {
	service *service.ExportService
}

// NewExportHandler creates a new handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Requests godoc
// @Summary Export regrade requests
// @Description Renders the ledger as CSV or PDF with pseudonymized parties
// @Tags Exports
// @Produce octet-stream
// @Param format query string true "csv or pdf"
// @Param status query string false "Filter by status"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /exports/requests [get]
func (h *ExportHandler) Requests(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var status *models.RequestStatus
	if raw := c.Query("status"); raw != "" {
		parsed := models.RequestStatus(raw)
		status = &parsed
	}

	file, err := h.service.Requests(c.Request.Context(), auth, c.DefaultQuery("format", "csv"), status)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+file.FileName)
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
