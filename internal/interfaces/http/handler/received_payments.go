package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/payops/recon/internal/application/recon"
)

// ReceivedPaymentHandler handles inbound receipt API endpoints
type ReceivedPaymentHandler struct {
	BaseHandler
	receivedPaymentService *recon.ReceivedPaymentService
}

// NewReceivedPaymentHandler creates a new ReceivedPaymentHandler
func NewReceivedPaymentHandler(receivedPaymentService *recon.ReceivedPaymentService) *ReceivedPaymentHandler {
	return &ReceivedPaymentHandler{
		receivedPaymentService: receivedPaymentService,
	}
}

// List godoc
// @ID           listReceivedPayments
// @Summary      List inbound receipts
// @Description  Lists lump-sum receipts filtered by account, match state, payer and date window
// @Tags         received-payments
// @Produce      json
// @Param        account_id query string false "Processor account filter"
// @Param        match_status query string false "Match state filter (unmatched, auto_matched, manually_matched, suggested)"
// @Param        payer query string false "Payer name filter"
// @Param        date_from query string false "Inclusive lower bound (YYYY-MM-DD)"
// @Param        date_to query string false "Inclusive upper bound (YYYY-MM-DD)"
// @Param        limit query int false "Page size"
// @Param        offset query int false "Page offset"
// @Success      200 {object} APIResponse[[]recon.ReceivedPaymentResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /received-payments [get]
func (h *ReceivedPaymentHandler) List(c *gin.Context) {
	var filter recon.ReceivedPaymentListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	payments, total, err := h.receivedPaymentService.ListReceivedPayments(c.Request.Context(), filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, payments, total, filter.Limit, filter.Offset)
}

// Summary godoc
// @ID           getReceivedPaymentSummary
// @Summary      Get receipt match-state counts
// @Description  Returns counts and totals per match state
// @Tags         received-payments
// @Produce      json
// @Success      200 {object} APIResponse[recon.ReceivedPaymentSummary]
// @Failure      500 {object} ErrorResponse
// @Router       /received-payments/summary [get]
func (h *ReceivedPaymentHandler) Summary(c *gin.Context) {
	summary, err := h.receivedPaymentService.Summary(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, summary)
}

// Get godoc
// @ID           getReceivedPayment
// @Summary      Get one inbound receipt
// @Tags         received-payments
// @Produce      json
// @Param        id path string true "Receipt ID"
// @Success      200 {object} APIResponse[recon.ReceivedPaymentResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /received-payments/{id} [get]
func (h *ReceivedPaymentHandler) Get(c *gin.Context) {
	payment, err := h.receivedPaymentService.GetReceivedPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, payment)
}

// Suggestions godoc
// @ID           getReceivedPaymentSuggestions
// @Summary      Suggest candidate emails for a receipt
// @Description  Scores unlinked advice emails against the receipt by amount, date and payer
// @Tags         received-payments
// @Produce      json
// @Param        id path string true "Receipt ID"
// @Success      200 {object} APIResponse[recon.RPSuggestionsResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /received-payments/{id}/suggestions [get]
func (h *ReceivedPaymentHandler) Suggestions(c *gin.Context) {
	suggestions, err := h.receivedPaymentService.Suggestions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, suggestions)
}

// Match godoc
// @ID           matchReceivedPayment
// @Summary      Manually link a receipt to an advice email
// @Description  Links the receipt to the email and fans the funding out to the email's NVC rows
// @Tags         received-payments
// @Accept       json
// @Produce      json
// @Param        id path string true "Receipt ID"
// @Param        request body recon.MatchRequest true "Match request"
// @Success      200 {object} APIResponse[recon.MatchResultResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /received-payments/{id}/match [post]
func (h *ReceivedPaymentHandler) Match(c *gin.Context) {
	var req recon.MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	result, err := h.receivedPaymentService.Match(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, result)
}

// Unmatch godoc
// @ID           unmatchReceivedPayment
// @Summary      Unlink a receipt from its advice email
// @Description  Clears the link on both sides and detaches the funding from the NVC rows
// @Tags         received-payments
// @Produce      json
// @Param        id path string true "Receipt ID"
// @Success      200 {object} APIResponse[recon.ReceivedPaymentResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Router       /received-payments/{id}/unmatch [post]
func (h *ReceivedPaymentHandler) Unmatch(c *gin.Context) {
	payment, err := h.receivedPaymentService.Unmatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, payment)
}
