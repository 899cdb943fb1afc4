package recon

import (
	"time"

	"github.com/shopspring/decimal"
)

// CachedPayment is the local copy of one outbound payment at the processor
// (leg 4). NVCCode is empty when the payment reference does not carry one;
// such payments are cached for lookups but never upserted into a
// reconciliation row.
type CachedPayment struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	AccountName      string          `json:"account_name"`
	NVCCode          string          `json:"nvc_code"`
	Tenant           string          `json:"tenant"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	PaymentDate      *time.Time      `json:"payment_date"`
	ValueDate        *time.Time      `json:"value_date"`
	RecipientName    string          `json:"recipient_name"`
	RecipientCountry string          `json:"recipient_country"`
	PaymentReference string          `json:"payment_reference"`
	ClientReference  string          `json:"client_reference"`
	BatchReference   string          `json:"batch_reference"`
	CreatedAt        *time.Time      `json:"created_at"`
	FetchedAt        time.Time       `json:"fetched_at"`
}

// HasNVC reports whether the payment reference carried an NVC code.
func (p *CachedPayment) HasNVC() bool {
	return p.NVCCode != ""
}
