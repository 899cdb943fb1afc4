package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/payops/recon/internal/application/recon"
)

// PayrunHandler handles the cached ops-DB read endpoints
type PayrunHandler struct {
	BaseHandler
	payrunService *recon.PayrunService
}

// NewPayrunHandler creates a new PayrunHandler
func NewPayrunHandler(payrunService *recon.PayrunService) *PayrunHandler {
	return &PayrunHandler{
		payrunService: payrunService,
	}
}

// ListPayruns godoc
// @ID           listPayruns
// @Summary      List cached pay runs
// @Tags         cache
// @Produce      json
// @Param        tenant query string false "Tenant filter"
// @Param        status query int false "Numeric pay run status"
// @Param        search query string false "Free-text search over reference and tenant"
// @Param        date_from query string false "Inclusive lower bound (YYYY-MM-DD)"
// @Param        date_to query string false "Inclusive upper bound (YYYY-MM-DD)"
// @Param        limit query int false "Page size"
// @Param        offset query int false "Page offset"
// @Success      200 {object} APIResponse[[]recon.CachedPayrun]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /payruns [get]
func (h *PayrunHandler) ListPayruns(c *gin.Context) {
	var filter recon.PayrunListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	payruns, total, err := h.payrunService.ListPayruns(c.Request.Context(), filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, payruns, total, filter.Limit, filter.Offset)
}

// ListInvoices godoc
// @ID           listCachedInvoices
// @Summary      List cached invoices
// @Description  Lists the invoice cache as fetched from the ops database
// @Tags         cache
// @Produce      json
// @Param        tenant query string false "Tenant filter"
// @Param        status query string false "Invoice status label"
// @Param        search query string false "Free-text search over NVC code and payrun reference"
// @Param        date_from query string false "Inclusive lower bound (YYYY-MM-DD)"
// @Param        date_to query string false "Inclusive upper bound (YYYY-MM-DD)"
// @Param        limit query int false "Page size"
// @Param        offset query int false "Page offset"
// @Success      200 {object} APIResponse[[]recon.CachedInvoice]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /invoices/cached [get]
func (h *PayrunHandler) ListInvoices(c *gin.Context) {
	var filter recon.InvoiceListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	invoices, total, err := h.payrunService.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, invoices, total, filter.Limit, filter.Offset)
}

// ListPayments godoc
// @ID           listPayments
// @Summary      List cached outbound payments
// @Tags         cache
// @Produce      json
// @Param        account_id query string false "Processor account filter"
// @Param        tenant query string false "Tenant filter"
// @Param        currency query string false "Currency filter"
// @Param        status query string false "Payment status filter"
// @Param        with_nvc query bool false "Only payments with (or without) an extracted NVC code"
// @Param        search query string false "Free-text search over reference and payee"
// @Param        date_from query string false "Inclusive lower bound (YYYY-MM-DD)"
// @Param        date_to query string false "Inclusive upper bound (YYYY-MM-DD)"
// @Param        limit query int false "Page size"
// @Param        offset query int false "Page offset"
// @Success      200 {object} APIResponse[[]recon.CachedPayment]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /payments [get]
func (h *PayrunHandler) ListPayments(c *gin.Context) {
	var filter recon.PaymentListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	payments, total, err := h.payrunService.ListPayments(c.Request.Context(), filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, payments, total, filter.Limit, filter.Offset)
}

// LookupPayments godoc
// @ID           lookupPayments
// @Summary      Look up cached payments by NVC codes
// @Description  Groups cached payments by the requested codes and reports which had none
// @Tags         cache
// @Produce      json
// @Param        nvc query string true "Comma-separated NVC codes"
// @Success      200 {object} APIResponse[recon.PaymentLookupResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /payments/lookup [get]
func (h *PayrunHandler) LookupPayments(c *gin.Context) {
	result, err := h.payrunService.LookupPayments(c.Request.Context(), c.Query("nvc"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, result)
}
