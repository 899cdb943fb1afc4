package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/payops/recon/internal/application/recon"
)

// OverviewHandler handles the dashboard, search and config endpoints
type OverviewHandler struct {
	BaseHandler
	overviewService *recon.OverviewService
}

// NewOverviewHandler creates a new OverviewHandler
func NewOverviewHandler(overviewService *recon.OverviewService) *OverviewHandler {
	return &OverviewHandler{
		overviewService: overviewService,
	}
}

// Overview godoc
// @ID           getOverview
// @Summary      Get the dashboard aggregate
// @Description  Returns per-status counts, match rates, tenant roll-ups and sync errors for a recent window
// @Tags         overview
// @Produce      json
// @Param        days query int false "Window size in days (1-365, default 7)"
// @Success      200 {object} APIResponse[recon.OverviewResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /overview [get]
func (h *OverviewHandler) Overview(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil {
		h.BadRequest(c, "days must be an integer")
		return
	}

	overview, err := h.overviewService.Overview(c.Request.Context(), days)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, overview)
}

// CrossSearch godoc
// @ID           crossSearch
// @Summary      Search one source's cache
// @Description  Searches emails, invoices or payments by free text and amount range
// @Tags         overview
// @Produce      json
// @Param        q query string false "Free-text query"
// @Param        source query string true "Source to search (emails, invoices, payments)"
// @Param        amount_min query number false "Minimum amount"
// @Param        amount_max query number false "Maximum amount"
// @Param        tenant query string false "Tenant filter"
// @Param        limit query int false "Result cap (max 200)"
// @Success      200 {object} APIResponse[recon.CrossSearchResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /search/cross [get]
func (h *OverviewHandler) CrossSearch(c *gin.Context) {
	var filter recon.CrossSearchFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	result, err := h.overviewService.CrossSearch(c.Request.Context(), filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, result)
}

// Config godoc
// @ID           getConfig
// @Summary      Get the effective non-secret configuration
// @Description  Echoes tolerances, thresholds, sync interval and enabled sources
// @Tags         overview
// @Produce      json
// @Success      200 {object} APIResponse[recon.RuntimeSettings]
// @Router       /config [get]
func (h *OverviewHandler) Config(c *gin.Context) {
	h.Success(c, h.overviewService.Config())
}
