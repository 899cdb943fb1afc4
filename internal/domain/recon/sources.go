package recon

import "context"

// EmailBatch pairs one observed remittance email with its parsed advice.
// Advice is nil when no attachment could be decoded; such emails are
// cached for manual review and feed no line items.
type EmailBatch struct {
	Email  *CachedEmail
	Advice *RemittanceAdvice
}

// EmailSource is the port interface for the remittance mailbox transport.
// It is defined in the domain layer; the concrete mail-store adapter lives
// in infrastructure. A fetch covers all configured mailbox sources and
// returns one batch per email observed inside the look-back window.
type EmailSource interface {
	// FetchEmails lists remittance emails received in the last daysBack
	// days and parses their attachments into advice line items.
	FetchEmails(ctx context.Context, daysBack int) ([]EmailBatch, error)
}

// InvoiceSource is the port interface for the operations database that
// owns invoices and payruns. Implementations read replicas only; the
// reconciliation store never writes back.
type InvoiceSource interface {
	// FetchInvoices lists NVC-coded invoices updated in the last
	// daysBack days.
	FetchInvoices(ctx context.Context, daysBack int) ([]CachedInvoice, error)

	// FetchPayruns lists payment runs updated in the last daysBack days.
	FetchPayruns(ctx context.Context, daysBack int) ([]CachedPayrun, error)
}

// PaymentSource is the port interface for the payment processor API. It
// covers both directions of money movement: inbound lump-sum receipts on
// the funding accounts and outbound payments executed against invoices.
type PaymentSource interface {
	// FetchReceivedPayments lists inbound receipts across the configured
	// processor accounts.
	FetchReceivedPayments(ctx context.Context) ([]ReceivedPayment, error)

	// FetchPayments lists outbound payments across the configured
	// processor accounts.
	FetchPayments(ctx context.Context) ([]CachedPayment, error)
}
