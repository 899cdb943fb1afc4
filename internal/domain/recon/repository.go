package recon

import (
	"context"
	"time"

	"github.com/payops/recon/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// RecordFilter defines filtering options for reconciliation record queries
type RecordFilter struct {
	shared.Filter
	Status   *MatchStatus // Filter by match status
	Tenant   string       // Substring match on invoice tenant
	DateFrom *time.Time   // first_seen_at range start
	DateTo   *time.Time   // first_seen_at range end
}

// QueueFilter defines filtering options for the work queue. The queue
// excludes terminal records and defaults to priority ordering.
type QueueFilter struct {
	RecordFilter
	Flag          *ReviewFlag // Filter by review flag
	InvoiceStatus string      // Exact match on invoice status label
}

// EmailFilter defines filtering options for cached email queries
type EmailFilter struct {
	shared.Filter
	Source       string           // oasys | d365_ach
	ManualReview *bool            // Only (or only not) manual-review emails
	Linked       *bool            // Only (or only not) funding-linked emails
	DateFrom     *time.Time       // email_date range start
	DateTo       *time.Time       // email_date range end
	AmountMin    *decimal.Decimal // remittance_total range start
	AmountMax    *decimal.Decimal // remittance_total range end
}

// AmountLegField selects which leg's amount an AmountSearch ranges over.
// The values are column names; AmountSearch interpolates them, so the set
// is closed.
type AmountLegField string

const (
	AmountFieldRemittance AmountLegField = "remittance_amount"
	AmountFieldInvoice    AmountLegField = "invoice_amount"
	AmountFieldPayment    AmountLegField = "payment_amount"
)

// IsValid reports whether the field names a searchable amount column.
func (f AmountLegField) IsValid() bool {
	switch f {
	case AmountFieldRemittance, AmountFieldInvoice, AmountFieldPayment:
		return true
	}
	return false
}

// AmountSearchQuery narrows reconciliation records by one leg's amount
// range, used by cross-search and by donor suggestions.
type AmountSearchQuery struct {
	Field     AmountLegField
	NVCSearch string // Substring match on NVC code
	Tenant    string // Substring match on invoice tenant
	AmountMin *decimal.Decimal
	AmountMax *decimal.Decimal
	Limit     int
}

// InvoiceFilter defines filtering options for cached invoice queries
type InvoiceFilter struct {
	shared.Filter
	Tenant      string // Substring match on tenant
	Status      *int   // Invoice status code
	StatusLabel string // Exact match on the human status label
	DateFrom    *time.Time
	DateTo      *time.Time
}

// PayrunFilter defines filtering options for cached pay run queries
type PayrunFilter struct {
	shared.Filter
	Tenant   string
	Status   *int
	DateFrom *time.Time
	DateTo   *time.Time
}

// PaymentFilter defines filtering options for outbound payment queries
type PaymentFilter struct {
	shared.Filter
	AccountID string
	Tenant    string
	Currency  string
	Status    string
	WithNVC   *bool // Only payments whose reference carried an NVC code
	DateFrom  *time.Time
	DateTo    *time.Time
}

// ReceivedPaymentFilter defines filtering options for received payments
type ReceivedPaymentFilter struct {
	shared.Filter
	AccountID   string
	MatchStatus *RPStatus
	Payer       string // Substring match on payer name
	DateFrom    *time.Time
	DateTo      *time.Time
}

// StatusSummary counts reconciliation records per match status.
type StatusSummary struct {
	Total    int64                 `json:"total"`
	ByStatus map[MatchStatus]int64 `json:"by_status"`
}

// Count returns the count for one status.
func (s StatusSummary) Count(status MatchStatus) int64 {
	return s.ByStatus[status]
}

// TenantSummary is the per-tenant rollup behind the tenants endpoint.
type TenantSummary struct {
	Tenant       string          `json:"tenant"`
	Records      int64           `json:"records"`
	InvoiceTotal decimal.Decimal `json:"invoice_total"`
	Matched      int64           `json:"matched"`
	Mismatched   int64           `json:"mismatched"`
	StatusIssues int64           `json:"status_issues"`
}

// EmailStats summarizes the cached email population.
type EmailStats struct {
	Total        int64            `json:"total"`
	BySource     map[string]int64 `json:"by_source"`
	ManualReview int64            `json:"manual_review"`
	Linked       int64            `json:"linked"`
}

// ReceivedPaymentSummary summarizes received payments by match state.
type ReceivedPaymentSummary struct {
	Total           int64           `json:"total"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Matched         int64           `json:"matched"`
	MatchedAmount   decimal.Decimal `json:"matched_amount"`
	Suggested       int64           `json:"suggested"`
	Unmatched       int64           `json:"unmatched"`
	UnmatchedAmount decimal.Decimal `json:"unmatched_amount"`
}

// ReconciliationRepository persists the per-NVC reconciliation rows.
// Find methods return (nil, nil) when no row exists.
type ReconciliationRepository interface {
	// FindByNVC finds one record by its NVC code
	FindByNVC(ctx context.Context, nvcCode string) (*ReconciliationRecord, error)

	// FindByEmailID finds all records fed by one remittance email
	FindByEmailID(ctx context.Context, emailID string) ([]ReconciliationRecord, error)

	// FindByReceivedPaymentID finds all records carrying one funding link
	FindByReceivedPaymentID(ctx context.Context, rpID string) ([]ReconciliationRecord, error)

	// FindAll lists records with filtering, newest update first
	FindAll(ctx context.Context, filter RecordFilter) ([]ReconciliationRecord, int64, error)

	// FindQueue lists non-terminal records in priority order
	FindQueue(ctx context.Context, filter QueueFilter) ([]ReconciliationRecord, int64, error)

	// Save creates or updates a record keyed by NVC code
	Save(ctx context.Context, record *ReconciliationRecord) error

	// Summary counts records per match status
	Summary(ctx context.Context) (StatusSummary, error)

	// TenantBreakdown aggregates records per invoice tenant
	TenantBreakdown(ctx context.Context) ([]TenantSummary, error)

	// UnlinkedEmailCandidates aggregates remittance totals per email for
	// every email not yet linked to a received payment, skipping
	// manual-review emails
	UnlinkedEmailCandidates(ctx context.Context) ([]EmailCandidate, error)

	// AmountSearch finds records whose chosen leg amount falls in a range,
	// newest update first
	AmountSearch(ctx context.Context, query AmountSearchQuery) ([]ReconciliationRecord, error)
}

// EmailRepository persists cached remittance emails.
type EmailRepository interface {
	// Upsert fingerprints an observed email. Re-observation refreshes the
	// fingerprint fields but never touches the funding linkage.
	Upsert(ctx context.Context, email *CachedEmail) error

	// Save writes the full row including the funding linkage
	Save(ctx context.Context, email *CachedEmail) error

	// FindByID finds one email; (nil, nil) when absent
	FindByID(ctx context.Context, id string) (*CachedEmail, error)

	// FindAll lists emails with filtering, newest first
	FindAll(ctx context.Context, filter EmailFilter) ([]CachedEmail, int64, error)

	// Stats summarizes the email population
	Stats(ctx context.Context) (EmailStats, error)
}

// InvoiceRepository persists the invoice cache.
type InvoiceRepository interface {
	// UpsertBatch refreshes the cache for a fetched batch
	UpsertBatch(ctx context.Context, invoices []CachedInvoice) error

	// FindByNVC finds one cached invoice; (nil, nil) when absent
	FindByNVC(ctx context.Context, nvcCode string) (*CachedInvoice, error)

	// FindAll lists cached invoices with filtering
	FindAll(ctx context.Context, filter InvoiceFilter) ([]CachedInvoice, int64, error)
}

// PayrunRepository persists the pay run cache.
type PayrunRepository interface {
	// UpsertBatch refreshes the cache for a fetched batch
	UpsertBatch(ctx context.Context, payruns []CachedPayrun) error

	// FindAll lists cached pay runs with filtering
	FindAll(ctx context.Context, filter PayrunFilter) ([]CachedPayrun, int64, error)
}

// PaymentRepository persists the outbound payment cache.
type PaymentRepository interface {
	// UpsertBatch refreshes the cache for a fetched batch
	UpsertBatch(ctx context.Context, payments []CachedPayment) error

	// FindByID finds one cached payment; (nil, nil) when absent
	FindByID(ctx context.Context, id string) (*CachedPayment, error)

	// FindByNVC finds cached payments for one NVC code
	FindByNVC(ctx context.Context, nvcCode string) ([]CachedPayment, error)

	// LookupByNVCs finds cached payments for a set of NVC codes
	LookupByNVCs(ctx context.Context, nvcCodes []string) ([]CachedPayment, error)

	// FindAll lists cached payments with filtering
	FindAll(ctx context.Context, filter PaymentFilter) ([]CachedPayment, int64, error)
}

// ReceivedPaymentRepository persists inbound funding receipts.
type ReceivedPaymentRepository interface {
	// Upsert refreshes a fetched receipt. Re-observation never touches the
	// match fields.
	Upsert(ctx context.Context, rp *ReceivedPayment) error

	// Save writes the full row including the match fields
	Save(ctx context.Context, rp *ReceivedPayment) error

	// FindByID finds one receipt; (nil, nil) when absent
	FindByID(ctx context.Context, id string) (*ReceivedPayment, error)

	// FindAll lists receipts with filtering, newest first
	FindAll(ctx context.Context, filter ReceivedPaymentFilter) ([]ReceivedPayment, int64, error)

	// FindUnmatched lists receipts with no link and no standing suggestion
	FindUnmatched(ctx context.Context) ([]ReceivedPayment, error)

	// Summary aggregates receipts by match state
	Summary(ctx context.Context) (ReceivedPaymentSummary, error)
}

// SyncStateRepository records per-source sync outcomes.
type SyncStateRepository interface {
	// Record upserts the outcome of one source's sync pass
	Record(ctx context.Context, source string, count int, status string) error

	// FindAll lists the state of every source
	FindAll(ctx context.Context) ([]SyncState, error)
}

// RepositorySet bundles the repositories bound to one store transaction.
type RepositorySet struct {
	Records          ReconciliationRepository
	Emails           EmailRepository
	Invoices         InvoiceRepository
	Payruns          PayrunRepository
	Payments         PaymentRepository
	ReceivedPayments ReceivedPaymentRepository
	SyncState        SyncStateRepository
}

// UnitOfWork executes fn atomically against the local store. The
// repositories passed to fn are bound to the transaction and must not
// escape it. The engine uses one transaction per NVC or per email fanout.
type UnitOfWork interface {
	Execute(ctx context.Context, fn func(tx RepositorySet) error) error
}
