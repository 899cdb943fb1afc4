package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/payops/recon/internal/application/recon"
)

// EmailHandler handles remittance email API endpoints
type EmailHandler struct {
	BaseHandler
	emailService *recon.EmailService
}

// NewEmailHandler creates a new EmailHandler
func NewEmailHandler(emailService *recon.EmailService) *EmailHandler {
	return &EmailHandler{
		emailService: emailService,
	}
}

// List godoc
// @ID           listEmails
// @Summary      List cached remittance emails
// @Description  Lists advice emails filtered by source, link state and date window
// @Tags         emails
// @Produce      json
// @Param        source query string false "Mailbox source filter"
// @Param        manual_review query bool false "Only emails flagged for manual review"
// @Param        linked query bool false "Only emails linked (or not) to a receipt"
// @Param        search query string false "Free-text search over subject, payer and references"
// @Param        date_from query string false "Inclusive lower bound (YYYY-MM-DD)"
// @Param        date_to query string false "Inclusive upper bound (YYYY-MM-DD)"
// @Param        limit query int false "Page size"
// @Param        offset query int false "Page offset"
// @Success      200 {object} APIResponse[[]recon.EmailResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /emails [get]
func (h *EmailHandler) List(c *gin.Context) {
	var filter recon.EmailListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	emails, total, err := h.emailService.ListEmails(c.Request.Context(), filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, emails, total, filter.Limit, filter.Offset)
}

// Get godoc
// @ID           getEmail
// @Summary      Get one remittance email
// @Description  Returns the email with its remittance lines and the NVC rows it fed
// @Tags         emails
// @Produce      json
// @Param        id path string true "Email ID"
// @Success      200 {object} APIResponse[recon.EmailDetailResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /emails/{id} [get]
func (h *EmailHandler) Get(c *gin.Context) {
	email, err := h.emailService.GetEmail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, email)
}

// Stats godoc
// @ID           getEmailStats
// @Summary      Get email cache statistics
// @Description  Summarizes the cached email population per source and link state
// @Tags         emails
// @Produce      json
// @Success      200 {object} APIResponse[recon.EmailStats]
// @Failure      500 {object} ErrorResponse
// @Router       /emails/stats [get]
func (h *EmailHandler) Stats(c *gin.Context) {
	stats, err := h.emailService.Stats(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, stats)
}

// AttachmentURL godoc
// @ID           getEmailAttachmentURL
// @Summary      Get a download URL for an archived attachment
// @Description  Returns a short-lived presigned URL for one archived attachment of an email
// @Tags         emails
// @Produce      json
// @Param        id path string true "Email ID"
// @Param        filename path string true "Attachment filename"
// @Success      200 {object} APIResponse[recon.AttachmentURLResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /emails/{id}/attachments/{filename}/url [get]
func (h *EmailHandler) AttachmentURL(c *gin.Context) {
	url, err := h.emailService.AttachmentURL(c.Request.Context(), c.Param("id"), c.Param("filename"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, url)
}
