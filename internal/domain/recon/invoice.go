package recon

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice status codes as stored by the operations database.
const (
	InvoiceStatusDraft      = 0
	InvoiceStatusApproved   = 1
	InvoiceStatusProcessing = 2
	InvoiceStatusInFlight   = 3
	InvoiceStatusPaid       = 4
	InvoiceStatusRejected   = 5
	InvoiceStatusCancelled  = 6
)

var invoiceStatusNames = map[int]string{
	InvoiceStatusDraft:      "Draft",
	InvoiceStatusApproved:   "Approved",
	InvoiceStatusProcessing: "Processing",
	InvoiceStatusInFlight:   "In Flight",
	InvoiceStatusPaid:       "Paid",
	InvoiceStatusRejected:   "Rejected",
	InvoiceStatusCancelled:  "Cancelled",
}

// InvoiceStatusName maps a status code to its display label. Unknown codes
// are rendered rather than dropped so new upstream codes stay visible.
func InvoiceStatusName(code int) string {
	if name, ok := invoiceStatusNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", code)
}

// InvoiceStatusCode resolves a display label back to its status code,
// case-insensitively. ok is false for labels no code maps to.
func InvoiceStatusCode(label string) (int, bool) {
	for code, name := range invoiceStatusNames {
		if strings.EqualFold(name, label) {
			return code, true
		}
	}
	return 0, false
}

// CachedInvoice is the local copy of one operations-database invoice line.
// Its only roles are to feed leg 2 upserts and to serve read queries.
type CachedInvoice struct {
	NVCCode        string          `json:"nvc_code"`
	InvoiceNumber  string          `json:"invoice_number"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	Status         int             `json:"status"`
	StatusLabel    string          `json:"status_label"`
	PaidDate       *time.Time      `json:"paid_date"`
	ProcessingDate *time.Time      `json:"processing_date"`
	InFlightDate   *time.Time      `json:"in_flight_date"`
	Tenant         string          `json:"tenant"`
	PayrunID       string          `json:"payrun_id"`
	CreatedAt      *time.Time      `json:"created_at"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// CachedPayrun is the local copy of one operations-database pay run, with
// its payment count and total aggregated at fetch time.
type CachedPayrun struct {
	ID             string          `json:"id"`
	Reference      string          `json:"reference"`
	BatchReference string          `json:"batch_reference"`
	Tenant         string          `json:"tenant"`
	Status         int             `json:"status"`
	PaymentCount   int             `json:"payment_count"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	CreatedAt      *time.Time      `json:"created_at"`
	FetchedAt      time.Time       `json:"fetched_at"`
}
