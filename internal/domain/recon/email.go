package recon

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/payops/recon/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Remittance source identifiers. Each corresponds to one upstream mailbox
// search and one attachment format. LDN GSS advices arrive as PDFs the
// parser cannot decode, so that source always lands in manual review.
const (
	RemittanceSourceOASYS    = "oasys"
	RemittanceSourceD365     = "d365_ach"
	RemittanceSourceLDNGSS   = "ldn_gss"
	RemittanceSourceFlywheel = "flywheel"
)

// EmailAttachment describes one attachment of a cached email. StorageKey
// is set when the attachment has been archived to object storage.
type EmailAttachment struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	Size       int64  `json:"size"`
	StorageKey string `json:"storage_key,omitempty"`
}

// AttachmentList is stored as a JSON array on the email row.
type AttachmentList []EmailAttachment

// Value implements driver.Valuer for JSON storage
func (l AttachmentList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *AttachmentList) Scan(value interface{}) error {
	if value == nil {
		*l = AttachmentList{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan AttachmentList: unsupported type")
	}

	if len(bytes) == 0 {
		*l = AttachmentList{}
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// CachedEmail fingerprints a remittance email observed at the source.
// Created on first observation, updated idempotently on re-observation,
// never deleted by the engine.
type CachedEmail struct {
	ID              string           `json:"id"`
	Source          string           `json:"source"`
	Subject         string           `json:"subject"`
	Sender          string           `json:"sender"`
	EmailDate       *time.Time       `json:"email_date"`
	FetchedAt       time.Time        `json:"fetched_at"`
	Attachments     AttachmentList   `json:"attachments"`
	RemittanceTotal *decimal.Decimal `json:"remittance_total"`
	AgencyName      string           `json:"agency_name"`
	LineCount       int              `json:"line_count"`
	// ManualReview marks emails whose attachments could not be decoded.
	// They carry no line items and are skipped by the lump-sum matcher.
	ManualReview bool `json:"manual_review"`

	// Funding linkage, mirrored from the received payment side.
	ReceivedPaymentID string     `json:"received_payment_id"`
	MatchStatus       string     `json:"match_status"`
	MatchConfidence   *float64   `json:"match_confidence"`
	MatchMethod       string     `json:"match_method"`
	MatchedAt         *time.Time `json:"matched_at"`
}

// NewCachedEmail fingerprints a newly observed email.
func NewCachedEmail(id, source, subject, sender string, emailDate *time.Time) (*CachedEmail, error) {
	if id == "" {
		return nil, shared.NewDomainError("INVALID_EMAIL_ID", "Email id cannot be empty")
	}
	return &CachedEmail{
		ID:          id,
		Source:      source,
		Subject:     subject,
		Sender:      sender,
		EmailDate:   emailDate,
		FetchedAt:   time.Now().UTC(),
		Attachments: AttachmentList{},
		AgencyName:  ExtractAgencyFromSubject(subject),
	}, nil
}

// IsLinked reports whether a received payment has been linked to this email.
func (e *CachedEmail) IsLinked() bool {
	return e.ReceivedPaymentID != ""
}

// LinkReceivedPayment records the funding linkage on the email side.
func (e *CachedEmail) LinkReceivedPayment(rpID string, confidence float64, method string) error {
	if rpID == "" {
		return shared.NewDomainError("INVALID_RECEIVED_PAYMENT", "Received payment id cannot be empty")
	}
	if e.ReceivedPaymentID != "" && e.ReceivedPaymentID != rpID {
		return shared.NewDomainError("ALREADY_LINKED", "Email is already linked to a different received payment")
	}
	now := time.Now().UTC()
	e.ReceivedPaymentID = rpID
	e.MatchStatus = RPStatusMatched.String()
	e.MatchConfidence = &confidence
	e.MatchMethod = method
	e.MatchedAt = &now
	return nil
}

// UnlinkReceivedPayment clears the funding linkage on the email side.
func (e *CachedEmail) UnlinkReceivedPayment() {
	e.ReceivedPaymentID = ""
	e.MatchStatus = ""
	e.MatchConfidence = nil
	e.MatchMethod = ""
	e.MatchedAt = nil
}

// agencySubjectPattern extracts the agency from subjects like
// "Payment Remittance On behalf of BBDO USA LLC".
var agencySubjectPattern = regexp.MustCompile(`On behalf of (.+)`)

// ExtractAgencyFromSubject pulls the agency name out of a remittance email
// subject. Returns "" when the subject does not carry one.
func ExtractAgencyFromSubject(subject string) string {
	m := agencySubjectPattern.FindStringSubmatch(subject)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
