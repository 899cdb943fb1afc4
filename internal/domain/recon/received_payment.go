package recon

import (
	"fmt"
	"time"

	"github.com/payops/recon/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// RPStatus is the match state of a received payment against remittance
// emails.
type RPStatus string

const (
	// RPStatusUnmatched means no email link and no standing suggestion.
	RPStatusUnmatched RPStatus = "unmatched"
	// RPStatusSuggested means the matcher found a candidate in the suggest
	// band; the link is proposed, not applied.
	RPStatusSuggested RPStatus = "suggested"
	// RPStatusMatched means the payment is linked to exactly one email.
	RPStatusMatched RPStatus = "matched"
)

// IsValid checks if the status is a known RPStatus.
func (s RPStatus) IsValid() bool {
	switch s {
	case RPStatusUnmatched, RPStatusSuggested, RPStatusMatched:
		return true
	}
	return false
}

// String returns the string representation of the status.
func (s RPStatus) String() string {
	return string(s)
}

// Link methods recorded when a received payment is matched to an email.
const (
	MatchMethodAuto   = "auto_amount_date_payer"
	MatchMethodManual = "manual"
)

// ReceivedPayment is an inbound funding receipt at the processor (leg 3):
// a lump sum covering one remittance email's worth of NVC lines, carrying
// no NVC codes itself.
type ReceivedPayment struct {
	shared.BaseAggregateRoot

	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	AccountName   string          `json:"account_name"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentDate   *time.Time      `json:"payment_date"`
	PaymentStatus string          `json:"payment_status"`
	PayerName     string          `json:"payer_name"`
	RawInfo       string          `json:"raw_info"`
	MSLReference  string          `json:"msl_reference"`
	CreatedOn     *time.Time      `json:"created_on"`
	FetchedAt     time.Time       `json:"fetched_at"`

	MatchStatus     RPStatus   `json:"match_status"`
	MatchedEmailID  string     `json:"matched_email_id"`
	MatchConfidence *float64   `json:"match_confidence"`
	MatchMethod     string     `json:"match_method"`
	MatchedAt       *time.Time `json:"matched_at"`
	Notes           string     `json:"notes"`
}

// NewReceivedPayment creates a received payment from a source record.
func NewReceivedPayment(id string, amount decimal.Decimal) (*ReceivedPayment, error) {
	if id == "" {
		return nil, shared.NewDomainError("INVALID_RECEIVED_PAYMENT", "Received payment id cannot be empty")
	}
	return &ReceivedPayment{
		ID:          id,
		Amount:      amount,
		Currency:    reportingCurrency,
		FetchedAt:   time.Now().UTC(),
		MatchStatus: RPStatusUnmatched,
	}, nil
}

// IsLinked reports whether the payment is linked to an email.
func (rp *ReceivedPayment) IsLinked() bool {
	return rp.MatchStatus == RPStatusMatched && rp.MatchedEmailID != ""
}

// LinkToEmail links the payment to a remittance email. Linking is 1:1:
// relinking to the same email is idempotent, relinking to a different one
// requires an unlink first.
func (rp *ReceivedPayment) LinkToEmail(emailID string, confidence float64, method string) error {
	if emailID == "" {
		return shared.NewDomainError("INVALID_EMAIL_ID", "Email id cannot be empty")
	}
	if rp.IsLinked() {
		if rp.MatchedEmailID == emailID {
			return nil
		}
		return shared.ErrAlreadyLinked
	}
	now := time.Now().UTC()
	rp.MatchStatus = RPStatusMatched
	rp.MatchedEmailID = emailID
	rp.MatchConfidence = &confidence
	rp.MatchMethod = method
	rp.MatchedAt = &now
	rp.Notes = ""
	rp.AddDomainEvent(NewReceivedPaymentMatchedEvent(rp))
	return nil
}

// Suggest records a candidate in the suggest band without applying it.
// A linked payment keeps its link; suggestions only apply to unmatched.
func (rp *ReceivedPayment) Suggest(emailID string, score float64) {
	if rp.IsLinked() {
		return
	}
	rp.MatchStatus = RPStatusSuggested
	rp.Notes = fmt.Sprintf("Suggested: email %s (score: %.2f)", emailID, score)
}

// Unlink reverts the payment to unmatched. The caller is responsible for
// nullifying the funding leg on downstream NVC rows.
func (rp *ReceivedPayment) Unlink() {
	if rp.MatchedEmailID == "" && rp.MatchStatus == RPStatusUnmatched {
		return
	}
	previous := rp.MatchedEmailID
	rp.MatchStatus = RPStatusUnmatched
	rp.MatchedEmailID = ""
	rp.MatchConfidence = nil
	rp.MatchMethod = ""
	rp.MatchedAt = nil
	rp.Notes = ""
	if previous != "" {
		rp.AddDomainEvent(NewReceivedPaymentUnmatchedEvent(rp, previous))
	}
}
