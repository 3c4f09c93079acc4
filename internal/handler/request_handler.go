package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/service"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
	"github.com/LilT0ny/BlindCheckSystem/pkg/response"
)

// RequestHandler wires HTTP endpoints to the workflow service.
type RequestHandler struct {
	service *service.WorkflowService
}

// NewRequestHandler creates a new handler.
func NewRequestHandler(svc *service.WorkflowService) *RequestHandler {
	return &RequestHandler{service: svc}
}

// Submit godoc
// @Summary File a regrade request
// @Description Students file a regrade request for one grade component
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body service.SubmitRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SubmitRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}

	view, err := h.service.Submit(c.Request.Context(), auth, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// List godoc
// @Summary List regrade requests
// @Description Lists the requests visible to the caller
// @Tags Requests
// @Produce json
// @Param status query string false "Filter by status"
// @Param subject query string false "Filter by subject code"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.RequestFilter{SubjectCode: c.Query("subject")}
	if raw := c.Query("status"); raw != "" {
		status := models.RequestStatus(raw)
		filter.Status = &status
	}

	views, err := h.service.ListForViewer(c.Request.Context(), auth, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// Get godoc
// @Summary Get one regrade request
// @Description Returns a request if the caller is a party to it or a dean
// @Tags Requests
// @Produce json
// @Param id path string true "Request id"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	view, err := h.service.GetForViewer(c.Request.Context(), auth, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Decide godoc
// @Summary Decide a pending request
// @Description Deans approve or reject a pending request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request id"
// @Param payload body service.DecideRequestRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/decision [post]
func (h *RequestHandler) Decide(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.DecideRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}

	view, err := h.service.Decide(c.Request.Context(), auth, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Assign godoc
// @Summary Assign a reviewer
// @Description Deans bind a reviewer to an approved request awaiting one
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request id"
// @Param payload body service.AssignReviewerRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/assignment [post]
func (h *RequestHandler) Assign(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.AssignReviewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}

	view, err := h.service.Assign(c.Request.Context(), auth, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Grade godoc
// @Summary Grade a request
// @Description The assigned reviewer records the resolution grade
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request id"
// @Param payload body service.GradeRequestRequest true "Grading payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/grade [post]
func (h *RequestHandler) Grade(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.GradeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grading payload"))
		return
	}

	view, err := h.service.Grade(c.Request.Context(), auth, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}
