package recon

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payops/recon/internal/domain/recon"
)

// RecordResponse represents a reconciliation record in API responses
type RecordResponse struct {
	NVCCode string `json:"nvc_code"`

	RemittanceAmount  *decimal.Decimal `json:"remittance_amount"`
	RemittanceDate    *time.Time       `json:"remittance_date"`
	RemittanceSource  string           `json:"remittance_source"`
	RemittanceEmailID string           `json:"remittance_email_id"`

	InvoiceAmount    *decimal.Decimal `json:"invoice_amount"`
	InvoiceStatus    string           `json:"invoice_status"`
	InvoiceTenant    string           `json:"invoice_tenant"`
	InvoicePayrunRef string           `json:"invoice_payrun_ref"`
	InvoiceCurrency  string           `json:"invoice_currency"`

	ReceivedPaymentID     string           `json:"received_payment_id"`
	ReceivedPaymentAmount *decimal.Decimal `json:"received_payment_amount"`
	ReceivedPaymentDate   *time.Time       `json:"received_payment_date"`

	PaymentAmount           *decimal.Decimal `json:"payment_amount"`
	PaymentAccountID        string           `json:"payment_account_id"`
	PaymentDate             *time.Time       `json:"payment_date"`
	PaymentCurrency         string           `json:"payment_currency"`
	PaymentStatus           string           `json:"payment_status"`
	PaymentRecipient        string           `json:"payment_recipient"`
	PaymentRecipientCountry string           `json:"payment_recipient_country"`

	MatchStatus string   `json:"match_status"`
	MatchFlags  []string `json:"match_flags"`
	Notes       string   `json:"notes"`

	Flag       string     `json:"flag"`
	FlagNotes  string     `json:"flag_notes"`
	ResolvedAt *time.Time `json:"resolved_at"`
	ResolvedBy string     `json:"resolved_by"`

	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// EmailResponse represents a cached remittance email in API responses
type EmailResponse struct {
	ID              string                  `json:"id"`
	Source          string                  `json:"source"`
	Subject         string                  `json:"subject"`
	Sender          string                  `json:"sender"`
	EmailDate       *time.Time              `json:"email_date"`
	FetchedAt       time.Time               `json:"fetched_at"`
	Attachments     []recon.EmailAttachment `json:"attachments"`
	RemittanceTotal *decimal.Decimal        `json:"remittance_total"`
	AgencyName      string                  `json:"agency_name"`
	LineCount       int                     `json:"line_count"`
	ManualReview    bool                    `json:"manual_review"`

	ReceivedPaymentID string     `json:"received_payment_id"`
	MatchStatus       string     `json:"match_status"`
	MatchConfidence   *float64   `json:"match_confidence"`
	MatchMethod       string     `json:"match_method"`
	MatchedAt         *time.Time `json:"matched_at"`
}

// ReceivedPaymentResponse represents an inbound funding receipt in API
// responses
type ReceivedPaymentResponse struct {
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

	MatchStatus     string     `json:"match_status"`
	MatchedEmailID  string     `json:"matched_email_id"`
	MatchConfidence *float64   `json:"match_confidence"`
	MatchMethod     string     `json:"match_method"`
	MatchedAt       *time.Time `json:"matched_at"`
	Notes           string     `json:"notes"`
}

// ===================== Shared Helpers =====================

// amountCloseness scores how near two amounts are, tiered by relative
// difference over the larger amount. Bands match the suggestion scoring
// used throughout the API.
func amountCloseness(a, b decimal.Decimal) float64 {
	larger := decimal.Max(a.Abs(), b.Abs())
	if larger.IsZero() {
		return 0
	}
	diff, _ := a.Sub(b).Abs().Div(larger).Float64()
	switch {
	case diff <= 0.001:
		return 0.5
	case diff <= 0.01:
		return 0.35
	case diff <= 0.05:
		return 0.15
	case diff <= 0.1:
		return 0.05
	}
	return 0
}

// round3 rounds a score to three decimals for presentation.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
