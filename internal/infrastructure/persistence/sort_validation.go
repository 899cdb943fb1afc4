package persistence

import (
	"strings"
)

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns "DESC" as the default if the input is invalid or empty.
func ValidateSortOrder(orderDir string) string {
	normalized := strings.ToUpper(strings.TrimSpace(orderDir))
	if normalized == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// ReconciliationSortFields contains allowed sort fields for reconciliation records
var ReconciliationSortFields = map[string]bool{
	"nvc_code":          true,
	"match_status":      true,
	"flag":              true,
	"invoice_tenant":    true,
	"remittance_amount": true,
	"invoice_amount":    true,
	"payment_amount":    true,
	"remittance_date":   true,
	"payment_date":      true,
	"first_seen_at":     true,
	"last_updated_at":   true,
}

// EmailSortFields contains allowed sort fields for cached emails
var EmailSortFields = map[string]bool{
	"id":               true,
	"source":           true,
	"subject":          true,
	"sender":           true,
	"email_date":       true,
	"fetched_at":       true,
	"remittance_total": true,
	"agency_name":      true,
	"line_count":       true,
}

// InvoiceSortFields contains allowed sort fields for cached invoices
var InvoiceSortFields = map[string]bool{
	"nvc_code":       true,
	"invoice_number": true,
	"total_amount":   true,
	"status":         true,
	"tenant":         true,
	"paid_date":      true,
	"created_date":   true,
	"fetched_at":     true,
}

// PayrunSortFields contains allowed sort fields for cached pay runs
var PayrunSortFields = map[string]bool{
	"id":            true,
	"reference":     true,
	"tenant":        true,
	"status":        true,
	"payment_count": true,
	"total_amount":  true,
	"created_date":  true,
}

// PaymentSortFields contains allowed sort fields for cached outbound payments
var PaymentSortFields = map[string]bool{
	"id":             true,
	"account_id":     true,
	"nvc_code":       true,
	"tenant":         true,
	"amount":         true,
	"currency":       true,
	"status":         true,
	"payment_date":   true,
	"value_date":     true,
	"recipient_name": true,
	"created_date":   true,
}

// ReceivedPaymentSortFields contains allowed sort fields for received payments
var ReceivedPaymentSortFields = map[string]bool{
	"id":           true,
	"account_id":   true,
	"amount":       true,
	"payment_date": true,
	"payer_name":   true,
	"match_status": true,
	"matched_at":   true,
	"fetched_at":   true,
}
