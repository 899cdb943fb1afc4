package recon

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/payops/recon/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// FlagList is the classifier's qualifier list, stored as a JSON array.
type FlagList []string

// Value implements driver.Valuer so the list is stored as JSON text
func (f FlagList) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner to read the JSON array back
func (f *FlagList) Scan(value interface{}) error {
	if value == nil {
		*f = FlagList{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan FlagList: unsupported type")
	}

	if len(bytes) == 0 {
		*f = FlagList{}
		return nil
	}

	return json.Unmarshal(bytes, f)
}

// Contains reports whether the list carries the given flag.
func (f FlagList) Contains(flag string) bool {
	for _, v := range f {
		if v == flag {
			return true
		}
	}
	return false
}

// Equal compares two flag lists element-wise.
func (f FlagList) Equal(other FlagList) bool {
	if len(f) != len(other) {
		return false
	}
	for i := range f {
		if f[i] != other[i] {
			return false
		}
	}
	return true
}

// Leg identifies one of the four reconciliation legs for targeted
// nullification.
type Leg string

const (
	LegRemittance Leg = "remittance"
	LegInvoice    Leg = "invoice"
	LegFunding    Leg = "funding"
	LegPayment    Leg = "payment"
)

// IsValid checks if the leg identifier is known.
func (l Leg) IsValid() bool {
	switch l {
	case LegRemittance, LegInvoice, LegFunding, LegPayment:
		return true
	}
	return false
}

// RemittanceLeg carries the fields written by a remittance advice upsert.
type RemittanceLeg struct {
	Amount  decimal.Decimal
	Date    *time.Time
	Source  string
	EmailID string
}

// InvoiceLeg carries the fields written by an invoice upsert.
type InvoiceLeg struct {
	Amount    decimal.Decimal
	Status    string
	Tenant    string
	PayrunRef string
	Currency  string
}

// FundingLeg carries the inbound-funding fields copied from a linked
// received payment.
type FundingLeg struct {
	ReceivedPaymentID string
	Amount            decimal.Decimal
	Date              *time.Time
}

// PaymentLeg carries the fields written by an outbound payment upsert.
type PaymentLeg struct {
	Amount           decimal.Decimal
	AccountID        string
	Date             *time.Time
	Currency         string
	Status           string
	Recipient        string
	RecipientCountry string
}

// ReconciliationRecord is the aggregate root of the reconciliation domain:
// one row per NVC code, carrying up to four legs of evidence about the same
// underlying invoice. The engine only ever upserts legs and reclassifies;
// rows are never deleted.
type ReconciliationRecord struct {
	shared.BaseAggregateRoot

	NVCCode string `json:"nvc_code"`

	// Leg 1 — remittance advice parsed from an agency email
	RemittanceAmount  *decimal.Decimal `json:"remittance_amount"`
	RemittanceDate    *time.Time       `json:"remittance_date"`
	RemittanceSource  string           `json:"remittance_source"`
	RemittanceEmailID string           `json:"remittance_email_id"`

	// Leg 2 — invoice from the operations database
	InvoiceAmount    *decimal.Decimal `json:"invoice_amount"`
	InvoiceStatus    string           `json:"invoice_status"`
	InvoiceTenant    string           `json:"invoice_tenant"`
	InvoicePayrunRef string           `json:"invoice_payrun_ref"`
	InvoiceCurrency  string           `json:"invoice_currency"`

	// Leg 3 — inbound funding, copied from the linked received payment.
	// An NVC inherits funding only through its remittance email's link.
	ReceivedPaymentID     string           `json:"received_payment_id"`
	ReceivedPaymentAmount *decimal.Decimal `json:"received_payment_amount"`
	ReceivedPaymentDate   *time.Time       `json:"received_payment_date"`

	// Leg 4 — outbound payment at the processor
	PaymentAmount           *decimal.Decimal `json:"payment_amount"`
	PaymentAccountID        string           `json:"payment_account_id"`
	PaymentDate             *time.Time       `json:"payment_date"`
	PaymentCurrency         string           `json:"payment_currency"`
	PaymentStatus           string           `json:"payment_status"`
	PaymentRecipient        string           `json:"payment_recipient"`
	PaymentRecipientCountry string           `json:"payment_recipient_country"`

	MatchStatus MatchStatus `json:"match_status"`
	MatchFlags  FlagList    `json:"match_flags"`

	// Notes is a free-text audit trail; manual associations append here.
	Notes string `json:"notes"`

	Flag       ReviewFlag `json:"flag"`
	FlagNotes  string     `json:"flag_notes"`
	ResolvedAt *time.Time `json:"resolved_at"`
	ResolvedBy string     `json:"resolved_by"`

	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// NewReconciliationRecord creates a fresh record for an NVC code seen for
// the first time. The caller applies legs and reclassifies afterwards.
func NewReconciliationRecord(nvcCode string) (*ReconciliationRecord, error) {
	if nvcCode == "" {
		return nil, shared.NewDomainError("INVALID_NVC_CODE", "NVC code cannot be empty")
	}
	now := time.Now().UTC()
	return &ReconciliationRecord{
		NVCCode:       nvcCode,
		MatchStatus:   StatusUnmatched,
		MatchFlags:    FlagList{},
		FirstSeenAt:   now,
		LastUpdatedAt: now,
	}, nil
}

func (r *ReconciliationRecord) touch() {
	r.LastUpdatedAt = time.Now().UTC()
}

// HasRemittance reports whether leg 1 is present.
func (r *ReconciliationRecord) HasRemittance() bool {
	return r.RemittanceAmount != nil
}

// HasInvoice reports whether leg 2 is present.
func (r *ReconciliationRecord) HasInvoice() bool {
	return r.InvoiceAmount != nil
}

// HasFunding reports whether leg 3 is present.
func (r *ReconciliationRecord) HasFunding() bool {
	return r.ReceivedPaymentID != "" && r.ReceivedPaymentAmount != nil
}

// HasPayment reports whether leg 4 is present.
func (r *ReconciliationRecord) HasPayment() bool {
	return r.PaymentAmount != nil
}

// ApplyRemittance writes leg 1. Re-applying the same advice is a no-op
// apart from the last_updated_at bump.
func (r *ReconciliationRecord) ApplyRemittance(leg RemittanceLeg) {
	amount := leg.Amount
	r.RemittanceAmount = &amount
	r.RemittanceDate = leg.Date
	r.RemittanceSource = leg.Source
	r.RemittanceEmailID = leg.EmailID
	r.touch()
}

// ApplyInvoice writes leg 2.
func (r *ReconciliationRecord) ApplyInvoice(leg InvoiceLeg) {
	amount := leg.Amount
	r.InvoiceAmount = &amount
	r.InvoiceStatus = leg.Status
	r.InvoiceTenant = leg.Tenant
	r.InvoicePayrunRef = leg.PayrunRef
	r.InvoiceCurrency = leg.Currency
	r.touch()
}

// ApplyFunding writes leg 3 from a linked received payment. A funding-link
// event is raised when the linked payment changes.
func (r *ReconciliationRecord) ApplyFunding(leg FundingLeg) {
	linked := r.ReceivedPaymentID != leg.ReceivedPaymentID
	amount := leg.Amount
	r.ReceivedPaymentID = leg.ReceivedPaymentID
	r.ReceivedPaymentAmount = &amount
	r.ReceivedPaymentDate = leg.Date
	r.touch()
	if linked {
		r.AddDomainEvent(NewFundingLinkedEvent(r))
	}
}

// ApplyPayment writes leg 4.
func (r *ReconciliationRecord) ApplyPayment(leg PaymentLeg) {
	amount := leg.Amount
	r.PaymentAmount = &amount
	r.PaymentAccountID = leg.AccountID
	r.PaymentDate = leg.Date
	r.PaymentCurrency = leg.Currency
	r.PaymentStatus = leg.Status
	r.PaymentRecipient = leg.Recipient
	r.PaymentRecipientCountry = leg.RecipientCountry
	r.touch()
}

// NullifyLeg clears a single leg's fields. This is the only way to forget
// source data; the caller must reclassify afterwards.
func (r *ReconciliationRecord) NullifyLeg(leg Leg) error {
	switch leg {
	case LegRemittance:
		r.RemittanceAmount = nil
		r.RemittanceDate = nil
		r.RemittanceSource = ""
		r.RemittanceEmailID = ""
	case LegInvoice:
		r.InvoiceAmount = nil
		r.InvoiceStatus = ""
		r.InvoiceTenant = ""
		r.InvoicePayrunRef = ""
		r.InvoiceCurrency = ""
	case LegFunding:
		if r.ReceivedPaymentID != "" {
			r.AddDomainEvent(NewFundingClearedEvent(r))
		}
		r.ReceivedPaymentID = ""
		r.ReceivedPaymentAmount = nil
		r.ReceivedPaymentDate = nil
	case LegPayment:
		r.PaymentAmount = nil
		r.PaymentAccountID = ""
		r.PaymentDate = nil
		r.PaymentCurrency = ""
		r.PaymentStatus = ""
		r.PaymentRecipient = ""
		r.PaymentRecipientCountry = ""
	default:
		return shared.NewDomainError("INVALID_LEG", "Unknown reconciliation leg")
	}
	r.touch()
	return nil
}

// SetReviewFlag applies a manual review flag. FlagResolved stamps
// resolved_at and resolved_by and moves the record to StatusResolved on
// the next reclassification; any other value clears a previous resolution.
// Notes accumulate; setting a flag never erases earlier flag notes.
func (r *ReconciliationRecord) SetReviewFlag(flag ReviewFlag, notes, resolvedBy string, rules ClassificationRules) error {
	if !flag.IsValid() {
		return shared.NewDomainError("INVALID_FLAG", "Flag must be one of needs_outreach, investigating, escalated, resolved or empty")
	}
	r.Flag = flag
	if notes != "" {
		if r.FlagNotes != "" {
			r.FlagNotes += "\n"
		}
		r.FlagNotes += notes
	}
	if flag == FlagResolved {
		now := time.Now().UTC()
		r.ResolvedAt = &now
		r.ResolvedBy = resolvedBy
		r.AddDomainEvent(NewRecordResolvedEvent(r))
	} else {
		r.ResolvedAt = nil
		r.ResolvedBy = ""
	}
	r.AddDomainEvent(NewRecordFlaggedEvent(r))
	r.Reclassify(rules)
	return nil
}

// AppendNote appends one line to the record's free-text audit trail.
func (r *ReconciliationRecord) AppendNote(note string) {
	if note == "" {
		return
	}
	if r.Notes != "" {
		r.Notes += "\n"
	}
	r.Notes += note
	r.touch()
}

// Reclassify recomputes match_status and match_flags from the current leg
// fields. A manually resolved record keeps StatusResolved unless the
// reclassification finds an amount mismatch, which takes precedence.
// Returns true when the status changed.
func (r *ReconciliationRecord) Reclassify(rules ClassificationRules) bool {
	status, flags := Classify(r, rules)
	if r.ResolvedAt != nil {
		if status == StatusAmountMismatch {
			flags = append(flags, MatchFlagResolvedOverridden)
		} else {
			status = StatusResolved
		}
	}

	changed := status != r.MatchStatus
	if !changed && r.MatchFlags.Equal(flags) {
		return false
	}

	previous := r.MatchStatus
	r.MatchStatus = status
	r.MatchFlags = flags
	r.touch()
	if changed {
		r.AddDomainEvent(NewReconciliationStatusChangedEvent(r, previous))
	}
	return changed
}
