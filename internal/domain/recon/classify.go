package recon

import (
	"strings"

	"github.com/shopspring/decimal"
)

// reportingCurrency is the single currency legs 1-3 are assumed to carry.
// Leg 4 may be in any currency; cross-currency comparisons are skipped.
const reportingCurrency = "USD"

// ClassificationRules carries the tolerances the classifier compares with.
// All values come from configuration, never from constants in call sites.
type ClassificationRules struct {
	AmountTolerance decimal.Decimal
}

// DefaultClassificationRules returns the rules with the stock tolerance.
func DefaultClassificationRules() ClassificationRules {
	return ClassificationRules{AmountTolerance: decimal.NewFromFloat(0.01)}
}

// AmountsMatch reports whether two amounts agree within tolerance. A nil
// amount never matches anything.
func (c ClassificationRules) AmountsMatch(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Sub(*b).Abs().LessThanOrEqual(c.AmountTolerance)
}

// Classify derives the match status and qualifier flags from the four leg
// fields. It is a pure function of the record and the rules: the engine
// calls it after every leg write, and replaying the same legs always yields
// the same classification.
//
// The manual StatusResolved override is handled by Reclassify, not here.
func Classify(r *ReconciliationRecord, rules ClassificationRules) (MatchStatus, FlagList) {
	flags := FlagList{}
	hasRem := r.HasRemittance()
	hasInv := r.HasInvoice()
	hasFund := r.HasFunding()
	hasPay := r.HasPayment()

	switch {
	case hasRem && hasInv:
		if !rules.AmountsMatch(r.RemittanceAmount, r.InvoiceAmount) {
			flags = append(flags, MatchFlagAmountMismatch)
			return StatusAmountMismatch, flags
		}
		if flag, issue := invoiceStatusIssue(r.InvoiceStatus); issue {
			flags = append(flags, flag)
			return StatusIssue, flags
		}
		switch {
		case hasFund && hasPay:
			if !paymentCurrencyComparable(r) {
				flags = append(flags, MatchFlagCurrencySkip)
				return StatusAwaitingPayment, flags
			}
			if rules.AmountsMatch(r.RemittanceAmount, r.PaymentAmount) {
				return StatusFull4Way, flags
			}
			flags = append(flags, MatchFlagPaymentMismatch)
			return StatusAwaitingPayment, flags
		case hasFund:
			flags = append(flags, MatchFlagMissingPayment)
			return StatusAwaitingPayment, flags
		case hasPay:
			flags = append(flags, MatchFlagMissingFunding)
			return StatusNoFunding, flags
		default:
			flags = append(flags, MatchFlagMissingFunding, MatchFlagMissingPayment)
			return Status2WayMatched, flags
		}
	case hasInv && hasPay:
		flags = append(flags, MatchFlagMissingRemittance)
		return StatusInvoicePaymentOnly, flags
	case hasRem:
		flags = append(flags, MatchFlagMissingInvoice)
		return StatusRemittanceOnly, flags
	case hasInv:
		flags = append(flags, MatchFlagMissingRemittance)
		return StatusInvoiceOnly, flags
	case hasPay:
		flags = append(flags, MatchFlagMissingRemittance, MatchFlagMissingInvoice)
		return StatusPaymentOnly, flags
	default:
		return StatusUnmatched, flags
	}
}

// invoiceStatusIssue reports whether the invoice status makes the amount
// agreement untrustworthy, and which qualifier flag to record.
func invoiceStatusIssue(status string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "rejected":
		return MatchFlagInvoiceRejected, true
	case "cancelled":
		return MatchFlagInvoiceCancelled, true
	}
	return "", false
}

// paymentCurrencyComparable gates the leg 1 vs leg 4 amount comparison.
// Outbound payments can be in the recipient's currency; comparing those
// against the reporting-currency remittance would be meaningless.
func paymentCurrencyComparable(r *ReconciliationRecord) bool {
	if r.PaymentCurrency == "" {
		return true
	}
	ref := r.InvoiceCurrency
	if ref == "" {
		ref = reportingCurrency
	}
	return strings.EqualFold(r.PaymentCurrency, ref)
}
