package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/payops/recon/internal/application/recon"
)

// RecordHandler handles reconciliation record API endpoints
type RecordHandler struct {
	BaseHandler
	recordService *recon.RecordService
}

// NewRecordHandler creates a new RecordHandler
func NewRecordHandler(recordService *recon.RecordService) *RecordHandler {
	return &RecordHandler{
		recordService: recordService,
	}
}

// List godoc
// @ID           listReconRecords
// @Summary      List reconciliation records
// @Description  Lists reconciliation rows filtered by match status, tenant, date window and free text
// @Tags         recon
// @Produce      json
// @Param        status query string false "Match status filter"
// @Param        tenant query string false "Tenant filter"
// @Param        search query string false "Free-text search over NVC code, payer and references"
// @Param        date_from query string false "Inclusive lower bound (YYYY-MM-DD)"
// @Param        date_to query string false "Inclusive upper bound (YYYY-MM-DD)"
// @Param        sort_by query string false "Sort column"
// @Param        sort_dir query string false "asc or desc"
// @Param        limit query int false "Page size"
// @Param        offset query int false "Page offset"
// @Success      200 {object} APIResponse[[]recon.RecordResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /recon/records [get]
func (h *RecordHandler) List(c *gin.Context) {
	var filter recon.RecordListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	records, total, err := h.recordService.ListRecords(c.Request.Context(), filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, records, total, filter.Limit, filter.Offset)
}

// Queue godoc
// @ID           getReconQueue
// @Summary      Get the manual work queue
// @Description  Lists the records needing attention, most actionable first
// @Tags         recon
// @Produce      json
// @Param        flag query string false "Review flag filter"
// @Param        invoice_status query string false "Invoice status filter"
// @Param        status query string false "Match status filter"
// @Param        tenant query string false "Tenant filter"
// @Param        limit query int false "Page size"
// @Param        offset query int false "Page offset"
// @Success      200 {object} APIResponse[[]recon.RecordResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /recon/queue [get]
func (h *RecordHandler) Queue(c *gin.Context) {
	var filter recon.QueueListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	records, total, err := h.recordService.GetQueue(c.Request.Context(), filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, records, total, filter.Limit, filter.Offset)
}

// Get godoc
// @ID           getReconRecord
// @Summary      Get one reconciliation record
// @Description  Returns the full row for one NVC code with all four legs
// @Tags         recon
// @Produce      json
// @Param        nvc path string true "NVC code"
// @Success      200 {object} APIResponse[recon.RecordResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /recon/records/{nvc} [get]
func (h *RecordHandler) Get(c *gin.Context) {
	record, err := h.recordService.GetRecord(c.Request.Context(), c.Param("nvc"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, record)
}

// Summary godoc
// @ID           getReconSummary
// @Summary      Get reconciliation status counts
// @Description  Returns counts per match status plus the status issue total
// @Tags         recon
// @Produce      json
// @Success      200 {object} APIResponse[recon.StatusSummary]
// @Failure      500 {object} ErrorResponse
// @Router       /recon/summary [get]
func (h *RecordHandler) Summary(c *gin.Context) {
	summary, err := h.recordService.Summary(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, summary)
}

// Tenants godoc
// @ID           listTenants
// @Summary      List distinct tenants
// @Description  Returns every tenant seen on cached invoices with per-tenant counts
// @Tags         recon
// @Produce      json
// @Success      200 {object} APIResponse[[]recon.TenantSummary]
// @Failure      500 {object} ErrorResponse
// @Router       /tenants [get]
func (h *RecordHandler) Tenants(c *gin.Context) {
	tenants, err := h.recordService.Tenants(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, tenants)
}

// Suggestions godoc
// @ID           getReconSuggestions
// @Summary      Suggest partner records for missing legs
// @Description  Ranks donor records whose legs could complete the given record
// @Tags         recon
// @Produce      json
// @Param        nvc path string true "NVC code"
// @Success      200 {object} APIResponse[recon.RecordSuggestionsResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /recon/suggestions/{nvc} [get]
func (h *RecordHandler) Suggestions(c *gin.Context) {
	suggestions, err := h.recordService.Suggestions(c.Request.Context(), c.Param("nvc"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, suggestions)
}

// Associate godoc
// @ID           associateReconRecord
// @Summary      Manually associate a leg from another record
// @Description  Copies one leg from a donor record onto the target and reclassifies it
// @Tags         recon
// @Accept       json
// @Produce      json
// @Param        request body recon.AssociateRequest true "Association request"
// @Success      200 {object} APIResponse[recon.RecordResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Router       /recon/associate [post]
func (h *RecordHandler) Associate(c *gin.Context) {
	var req recon.AssociateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	record, err := h.recordService.Associate(c.Request.Context(), req)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, record)
}

// Flag godoc
// @ID           flagReconRecord
// @Summary      Set or clear the review flag on a record
// @Description  Applies an allow-listed flag; resolved is sticky, an empty flag clears
// @Tags         recon
// @Accept       json
// @Produce      json
// @Param        request body recon.FlagRequest true "Flag request"
// @Success      200 {object} APIResponse[recon.RecordResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /recon/flag [post]
func (h *RecordHandler) Flag(c *gin.Context) {
	var req recon.FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	record, err := h.recordService.SetFlag(c.Request.Context(), req)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, record)
}
