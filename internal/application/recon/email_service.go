package recon

import (
	"context"
	"time"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
)

// AttachmentStorage resolves archived attachment payloads to presigned
// download URLs. Implementations live in infrastructure/storage.
type AttachmentStorage interface {
	// GenerateDownloadURL generates a presigned URL for downloading an
	// archived object. expiresIn <= 0 uses the configured default.
	GenerateDownloadURL(ctx context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error)

	// ObjectExists checks if an archived object is still present in storage
	ObjectExists(ctx context.Context, storageKey string) (bool, error)
}

// EmailService serves the cached remittance email read model.
type EmailService struct {
	emails  recon.EmailRepository
	records recon.ReconciliationRepository
	storage AttachmentStorage
}

// NewEmailService creates a new email service
func NewEmailService(
	emails recon.EmailRepository,
	records recon.ReconciliationRepository,
	storage AttachmentStorage,
) *EmailService {
	return &EmailService{
		emails:  emails,
		records: records,
		storage: storage,
	}
}

// ===================== Email Operations =====================

// EmailListFilter carries the query parameters for email listing
type EmailListFilter struct {
	Source       string     `form:"source"`
	ManualReview *bool      `form:"manual_review"`
	Linked       *bool      `form:"linked"`
	Search       string     `form:"search"`
	DateFrom     *time.Time `form:"date_from" time_format:"2006-01-02"`
	DateTo       *time.Time `form:"date_to" time_format:"2006-01-02"`
	SortBy       string     `form:"sort_by"`
	SortDir      string     `form:"sort_dir"`
	Limit        int        `form:"limit"`
	Offset       int        `form:"offset"`
}

// ListEmails lists cached emails, newest first by default.
func (s *EmailService) ListEmails(ctx context.Context, filter EmailListFilter) ([]EmailResponse, int64, error) {
	emails, total, err := s.emails.FindAll(ctx, recon.EmailFilter{
		Filter: shared.Filter{
			Limit:    filter.Limit,
			Offset:   filter.Offset,
			OrderBy:  filter.SortBy,
			OrderDir: filter.SortDir,
			Search:   filter.Search,
		},
		Source:       filter.Source,
		ManualReview: filter.ManualReview,
		Linked:       filter.Linked,
		DateFrom:     filter.DateFrom,
		DateTo:       filter.DateTo,
	})
	if err != nil {
		return nil, 0, err
	}

	out := make([]EmailResponse, len(emails))
	for i := range emails {
		out[i] = toEmailResponse(&emails[i])
	}
	return out, total, nil
}

// EmailDetailResponse represents one email plus the reconciliation rows
// its remittance lines fed
type EmailDetailResponse struct {
	EmailResponse
	Records []RecordResponse `json:"records"`
}

// GetEmail returns one email with the NVC rows it fed.
func (s *EmailService) GetEmail(ctx context.Context, id string) (*EmailDetailResponse, error) {
	email, err := s.emails.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "Email not found")
	}

	records, err := s.records.FindByEmailID(ctx, email.ID)
	if err != nil {
		return nil, err
	}
	return &EmailDetailResponse{
		EmailResponse: toEmailResponse(email),
		Records:       toRecordResponses(records),
	}, nil
}

// Stats summarizes the cached email population.
func (s *EmailService) Stats(ctx context.Context) (recon.EmailStats, error) {
	return s.emails.Stats(ctx)
}

// AttachmentURLResponse carries a short-lived download URL for one
// archived attachment
type AttachmentURLResponse struct {
	Filename   string    `json:"filename"`
	StorageKey string    `json:"storage_key"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AttachmentURL resolves a presigned download URL for one archived
// attachment of a cached email, for the manual review flow. Attachments
// that were never archived (archiving disabled, or the upload failed at
// fetch time) have no storage key and cannot be served.
func (s *EmailService) AttachmentURL(ctx context.Context, emailID, filename string) (*AttachmentURLResponse, error) {
	email, err := s.emails.FindByID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "Email not found")
	}

	var att *recon.EmailAttachment
	for i := range email.Attachments {
		if email.Attachments[i].Filename == filename {
			att = &email.Attachments[i]
			break
		}
	}
	if att == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "Attachment not found")
	}
	if att.StorageKey == "" {
		return nil, shared.NewDomainError("NOT_FOUND", "Attachment has not been archived")
	}

	// The archive is retained independently of the email cache, so the
	// object may have been expired by a retention policy since fetch.
	exists, err := s.storage.ObjectExists(ctx, att.StorageKey)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, shared.NewDomainError("NOT_FOUND", "Archived attachment is no longer available")
	}

	url, expiresAt, err := s.storage.GenerateDownloadURL(ctx, att.StorageKey, 0)
	if err != nil {
		return nil, err
	}
	return &AttachmentURLResponse{
		Filename:   att.Filename,
		StorageKey: att.StorageKey,
		URL:        url,
		ExpiresAt:  expiresAt,
	}, nil
}

// ===================== Helper Functions =====================

func toEmailResponse(e *recon.CachedEmail) EmailResponse {
	attachments := e.Attachments
	if attachments == nil {
		attachments = recon.AttachmentList{}
	}
	return EmailResponse{
		ID:                e.ID,
		Source:            e.Source,
		Subject:           e.Subject,
		Sender:            e.Sender,
		EmailDate:         e.EmailDate,
		FetchedAt:         e.FetchedAt,
		Attachments:       attachments,
		RemittanceTotal:   e.RemittanceTotal,
		AgencyName:        e.AgencyName,
		LineCount:         e.LineCount,
		ManualReview:      e.ManualReview,
		ReceivedPaymentID: e.ReceivedPaymentID,
		MatchStatus:       e.MatchStatus,
		MatchConfidence:   e.MatchConfidence,
		MatchMethod:       e.MatchMethod,
		MatchedAt:         e.MatchedAt,
	}
}
