package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/prodforms/formcap-api/internal/dto"
	"github.com/prodforms/formcap-api/internal/models"
	"github.com/prodforms/formcap-api/internal/service"
	"github.com/prodforms/formcap-api/pkg/response"
)

// EntryHandler handles form entry endpoints.
type EntryHandler struct {
	service *service.EntryService
}

// NewEntryHandler creates a new entry handler.
func NewEntryHandler(svc *service.EntryService) *EntryHandler {
	return &EntryHandler{service: svc}
}

// List godoc
// @Summary List form entries
// @Description List entries filtered by template, status, creator or lot number
// @Tags Entries
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param template_id query string false "Template filter"
// @Param status query string false "Comma-separated status filter"
// @Param created_by query string false "Creator filter"
// @Param lot_number query string false "Lot number filter"
// @Success 200 {object} response.Envelope
// @Router /entries [get]
func (h *EntryHandler) List(c *gin.Context) {
	filter := models.EntryFilter{
		TemplateID: c.Query("template_id"),
		CreatedBy:  c.Query("created_by"),
		LotNumber:  c.Query("lot_number"),
	}
	filter.Page, filter.PageSize = pageParams(c)
	if statuses := c.Query("status"); statuses != "" {
		for _, raw := range strings.Split(statuses, ",") {
			status := models.EntryStatus(strings.TrimSpace(raw))
			if models.ValidStatus(status) {
				filter.Status = append(filter.Status, status)
			}
		}
	}

	entries, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, entries, pagination)
}

// Get godoc
// @Summary Get form entry
// @Description Get an entry with its rendered fields and available transitions
// @Tags Entries
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /entries/{id} [get]
func (h *EntryHandler) Get(c *gin.Context) {
	claims, ok := mustClaims(c)
	if !ok {
		return
	}

	detail, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, detail, nil)
}

// Create godoc
// @Summary Create form entry
// @Description Start a new draft entry for a template
// @Tags Entries
// @Accept json
// @Produce json
// @Param payload body dto.CreateEntryRequest true "Entry payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /entries [post]
func (h *EntryHandler) Create(c *gin.Context) {
	claims, ok := mustClaims(c)
	if !ok {
		return
	}

	var req dto.CreateEntryRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}

	entry, err := h.service.Create(c.Request.Context(), req, claims, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, entry)
}

// SaveData godoc
// @Summary Save entry data
// @Description Save captured field values. Values outside the caller's permissions are dropped.
// @Tags Entries
// @Accept json
// @Produce json
// @Param id path string true "Entry ID"
// @Param payload body dto.SaveEntryDataRequest true "Field values"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /entries/{id}/data [put]
func (h *EntryHandler) SaveData(c *gin.Context) {
	claims, ok := mustClaims(c)
	if !ok {
		return
	}

	var req dto.SaveEntryDataRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}

	entry, err := h.service.SaveData(c.Request.Context(), c.Param("id"), req, claims, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, entry, nil)
}

// Transitions godoc
// @Summary List available transitions
// @Description List the status changes the caller may apply to the entry
// @Tags Entries
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /entries/{id}/transitions [get]
func (h *EntryHandler) Transitions(c *gin.Context) {
	claims, ok := mustClaims(c)
	if !ok {
		return
	}

	options, err := h.service.Transitions(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, options, nil)
}

// Transition godoc
// @Summary Change entry status
// @Description Apply a workflow status change to the entry
// @Tags Entries
// @Accept json
// @Produce json
// @Param id path string true "Entry ID"
// @Param payload body dto.TransitionRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /entries/{id}/status [post]
func (h *EntryHandler) Transition(c *gin.Context) {
	claims, ok := mustClaims(c)
	if !ok {
		return
	}

	var req dto.TransitionRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}

	entry, err := h.service.Transition(c.Request.Context(), c.Param("id"), req, claims, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, entry, nil)
}

// Sign godoc
// @Summary Sign entry
// @Description Attach a signature image and move the entry to SIGNED
// @Tags Entries
// @Accept json
// @Produce json
// @Param id path string true "Entry ID"
// @Param payload body dto.SignRequest true "Signature payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /entries/{id}/sign [post]
func (h *EntryHandler) Sign(c *gin.Context) {
	claims, ok := mustClaims(c)
	if !ok {
		return
	}

	var req dto.SignRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}

	entry, err := h.service.Sign(c.Request.Context(), c.Param("id"), req, claims, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, entry, nil)
}
