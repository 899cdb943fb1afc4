package recon

// MatchStatus classifies how many legs of a reconciliation record agree.
//
// The four legs are: (1) remittance advice parsed from an agency email,
// (2) the invoice from the operations database, (3) the inbound funding
// receipt linked through the lump-sum matcher, and (4) the outbound
// payment at the processor.
type MatchStatus string

const (
	// StatusFull4Way means all four legs are present and their amounts agree.
	StatusFull4Way MatchStatus = "full_4way"
	// StatusAwaitingPayment means legs 1+2+3 agree but no outbound payment
	// has been observed yet (or its amount cannot be compared).
	StatusAwaitingPayment MatchStatus = "3way_awaiting_payment"
	// StatusNoFunding means legs 1+2+4 are present but no inbound funding
	// receipt has been linked.
	StatusNoFunding MatchStatus = "3way_no_funding"
	// Status2WayMatched means remittance and invoice agree within tolerance.
	Status2WayMatched MatchStatus = "2way_matched"
	// StatusAmountMismatch means remittance and invoice amounts diverge
	// beyond tolerance. It overrides any higher classification.
	StatusAmountMismatch MatchStatus = "amount_mismatch"
	// StatusInvoicePaymentOnly means invoice and outbound payment exist with
	// no remittance advice.
	StatusInvoicePaymentOnly MatchStatus = "invoice_payment_only"
	// StatusRemittanceOnly means only the remittance leg has been seen.
	StatusRemittanceOnly MatchStatus = "remittance_only"
	// StatusInvoiceOnly means only the invoice leg has been seen.
	StatusInvoiceOnly MatchStatus = "invoice_only"
	// StatusPaymentOnly means only the outbound payment leg has been seen.
	StatusPaymentOnly MatchStatus = "payment_only"
	// StatusUnmatched means no leg data or an unrecognized combination.
	StatusUnmatched MatchStatus = "unmatched"
	// StatusIssue means remittance and invoice amounts agree but the invoice
	// is Rejected or Cancelled, so the agreement cannot be trusted.
	StatusIssue MatchStatus = "status_issue"
	// StatusResolved records a human judgement that follow-up is complete.
	// It is only ever set through the manual flag path.
	StatusResolved MatchStatus = "resolved"
)

// AllMatchStatuses lists every valid status, in queue-priority order.
var AllMatchStatuses = []MatchStatus{
	StatusAmountMismatch,
	StatusIssue,
	StatusNoFunding,
	StatusAwaitingPayment,
	Status2WayMatched,
	StatusInvoicePaymentOnly,
	StatusRemittanceOnly,
	StatusInvoiceOnly,
	StatusPaymentOnly,
	StatusUnmatched,
	StatusFull4Way,
	StatusResolved,
}

// IsValid checks if the status is a member of the closed enumeration.
func (s MatchStatus) IsValid() bool {
	switch s {
	case StatusFull4Way, StatusAwaitingPayment, StatusNoFunding, Status2WayMatched,
		StatusAmountMismatch, StatusInvoicePaymentOnly, StatusRemittanceOnly,
		StatusInvoiceOnly, StatusPaymentOnly, StatusUnmatched, StatusIssue,
		StatusResolved:
		return true
	}
	return false
}

// String returns the string representation of the status.
func (s MatchStatus) String() string {
	return string(s)
}

// IsTerminal returns true for statuses that need no further attention.
func (s MatchStatus) IsTerminal() bool {
	return s == StatusFull4Way || s == StatusResolved
}

// QueuePriority orders the work queue: the smaller the number, the more
// urgent the record. Terminal statuses sort last.
func (s MatchStatus) QueuePriority() int {
	switch s {
	case StatusAmountMismatch:
		return 1
	case StatusIssue:
		return 2
	case StatusNoFunding:
		return 3
	case StatusAwaitingPayment:
		return 4
	case Status2WayMatched:
		return 5
	case StatusInvoicePaymentOnly:
		return 6
	case StatusRemittanceOnly:
		return 7
	case StatusInvoiceOnly:
		return 8
	case StatusPaymentOnly:
		return 9
	case StatusUnmatched:
		return 10
	case StatusFull4Way:
		return 11
	case StatusResolved:
		return 12
	}
	return 13
}

// ParseMatchStatus maps a stored string to a MatchStatus. Unknown values
// collapse to StatusUnmatched so that a schema from an older release never
// produces an out-of-enum value at the API surface.
func ParseMatchStatus(raw string) MatchStatus {
	s := MatchStatus(raw)
	if s.IsValid() {
		return s
	}
	return StatusUnmatched
}

// ReviewFlag marks a record for human follow-up in the work queue.
type ReviewFlag string

const (
	FlagNone          ReviewFlag = ""
	FlagNeedsOutreach ReviewFlag = "needs_outreach"
	FlagInvestigating ReviewFlag = "investigating"
	FlagEscalated     ReviewFlag = "escalated"
	// FlagResolved additionally moves the record's match status to
	// StatusResolved and stamps resolved_at.
	FlagResolved ReviewFlag = "resolved"
)

// IsValid checks if the flag is in the allow-list. The empty flag is valid
// and clears any previous flag.
func (f ReviewFlag) IsValid() bool {
	switch f {
	case FlagNone, FlagNeedsOutreach, FlagInvestigating, FlagEscalated, FlagResolved:
		return true
	}
	return false
}

// String returns the string representation of the flag.
func (f ReviewFlag) String() string {
	return string(f)
}

// Match flag vocabulary accumulated by the classifier. Flags qualify the
// match status, they never replace it.
const (
	MatchFlagAmountMismatch     = "amount_mismatch"
	MatchFlagPaymentMismatch    = "remittance_payment_mismatch"
	MatchFlagCurrencySkip       = "ccy_skip"
	MatchFlagInvoiceRejected    = "invoice_rejected"
	MatchFlagInvoiceCancelled   = "invoice_cancelled"
	MatchFlagMissingRemittance  = "missing_remittance"
	MatchFlagMissingInvoice     = "missing_invoice"
	MatchFlagMissingFunding     = "missing_funding"
	MatchFlagMissingPayment     = "missing_payment"
	MatchFlagResolvedOverridden = "resolved_overridden"
)
