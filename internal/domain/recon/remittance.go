package recon

import (
	"time"

	"github.com/shopspring/decimal"
)

// RemittanceLine is one line item of a parsed remittance advice: one NVC
// code with the amount the agency paid against it.
type RemittanceLine struct {
	PayrunRef      string          `json:"payrun_ref"`
	NVCCode        string          `json:"nvc_code"`
	ContractorName string          `json:"contractor_name"`
	Company        string          `json:"company"`
	InvoiceDate    string          `json:"invoice_date"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	Discount       decimal.Decimal `json:"discount"`
}

// RemittanceAdvice is the parsed content of one remittance attachment:
// header metadata plus the line items. The header PaymentAmount is the
// lump sum the agency wired; LinesTotal should agree with it but line
// parsing tolerates rows the header does not cover.
type RemittanceAdvice struct {
	Source        string           `json:"source"`
	AccountNumber string           `json:"account_number"`
	PaymentDate   *time.Time       `json:"payment_date"`
	PaymentAmount *decimal.Decimal `json:"payment_amount"`
	AgencyName    string           `json:"agency_name"`
	EmailID       string           `json:"email_id"`
	Lines         []RemittanceLine `json:"lines"`
}

// LinesTotal sums the paid amounts over all line items.
func (a *RemittanceAdvice) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range a.Lines {
		total = total.Add(line.AmountPaid)
	}
	return total
}

// NVCCodes returns the distinct NVC codes on the advice, in line order.
func (a *RemittanceAdvice) NVCCodes() []string {
	seen := make(map[string]struct{}, len(a.Lines))
	codes := make([]string, 0, len(a.Lines))
	for _, line := range a.Lines {
		if line.NVCCode == "" {
			continue
		}
		if _, dup := seen[line.NVCCode]; dup {
			continue
		}
		seen[line.NVCCode] = struct{}{}
		codes = append(codes, line.NVCCode)
	}
	return codes
}
