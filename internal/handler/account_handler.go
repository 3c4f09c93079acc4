package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/service"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
	"github.com/LilT0ny/BlindCheckSystem/pkg/response"
)

// AccountHandler wires HTTP endpoints to the account service.
type AccountHandler struct {
	service *service.AccountService
}

// NewAccountHandler creates a new handler.
func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{service: svc}
}

// Create godoc
// @Summary Provision an account
// @Description Deans create accounts; a temporary password is returned once
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body service.CreateAccountRequest true "Account payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /accounts [post]
func (h *AccountHandler) Create(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid account payload"))
		return
	}

	created, err := h.service.Create(c.Request.Context(), auth, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List accounts
// @Tags Accounts
// @Produce json
// @Param role query string false "Filter by role"
// @Param active query bool false "Filter by active flag"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /accounts [get]
func (h *AccountHandler) List(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.AccountFilter{}
	if raw := c.Query("role"); raw != "" {
		role := models.Role(raw)
		filter.Role = &role
	}
	if raw := c.Query("active"); raw != "" {
		active := raw == "true"
		filter.Active = &active
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	views, pagination, err := h.service.List(c.Request.Context(), auth, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, pagination)
}

// Get godoc
// @Summary Get an account
// @Tags Accounts
// @Produce json
// @Param id path string true "Account id"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /accounts/{id} [get]
func (h *AccountHandler) Get(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	view, err := h.service.Get(c.Request.Context(), auth, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Update godoc
// @Summary Update an account
// @Tags Accounts
// @Accept json
// @Produce json
// @Param id path string true "Account id"
// @Param payload body service.UpdateAccountRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Router /accounts/{id} [patch]
func (h *AccountHandler) Update(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid update payload"))
		return
	}

	view, err := h.service.Update(c.Request.Context(), auth, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Delete godoc
// @Summary Deactivate or purge an account
// @Description Deactivates by default; purge=true removes an inactive account
// @Tags Accounts
// @Param id path string true "Account id"
// @Param purge query bool false "Remove the row entirely"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /accounts/{id} [delete]
func (h *AccountHandler) Delete(c *gin.Context) {
	auth, ok := authFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	purge := c.Query("purge") == "true"
	if err := h.service.Delete(c.Request.Context(), auth, c.Param("id"), purge); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
