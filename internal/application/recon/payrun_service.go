package recon

import (
	"context"
	"strings"
	"time"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
)

// PayrunService serves the cached operations-database views: pay runs,
// invoices and outbound payments. Rows are returned as cached, without
// enrichment; the reconciliation view of the same data lives on the
// records.
type PayrunService struct {
	payruns  recon.PayrunRepository
	invoices recon.InvoiceRepository
	payments recon.PaymentRepository
}

// NewPayrunService creates a new payrun service
func NewPayrunService(
	payruns recon.PayrunRepository,
	invoices recon.InvoiceRepository,
	payments recon.PaymentRepository,
) *PayrunService {
	return &PayrunService{
		payruns:  payruns,
		invoices: invoices,
		payments: payments,
	}
}

// ===================== Pay Run Operations =====================

// PayrunListFilter carries the query parameters for pay run listing
type PayrunListFilter struct {
	Tenant   string     `form:"tenant"`
	Status   *int       `form:"status"`
	Search   string     `form:"search"`
	DateFrom *time.Time `form:"date_from" time_format:"2006-01-02"`
	DateTo   *time.Time `form:"date_to" time_format:"2006-01-02"`
	SortBy   string     `form:"sort_by"`
	SortDir  string     `form:"sort_dir"`
	Limit    int        `form:"limit"`
	Offset   int        `form:"offset"`
}

// ListPayruns lists cached pay runs.
func (s *PayrunService) ListPayruns(ctx context.Context, filter PayrunListFilter) ([]recon.CachedPayrun, int64, error) {
	return s.payruns.FindAll(ctx, recon.PayrunFilter{
		Filter: shared.Filter{
			Limit:    filter.Limit,
			Offset:   filter.Offset,
			OrderBy:  filter.SortBy,
			OrderDir: filter.SortDir,
			Search:   filter.Search,
		},
		Tenant:   filter.Tenant,
		Status:   filter.Status,
		DateFrom: filter.DateFrom,
		DateTo:   filter.DateTo,
	})
}

// ===================== Invoice Operations =====================

// InvoiceListFilter carries the query parameters for cached invoice
// listing. Status accepts the human label, matching the upstream UI.
type InvoiceListFilter struct {
	Tenant   string     `form:"tenant"`
	Status   string     `form:"status"`
	Search   string     `form:"search"`
	DateFrom *time.Time `form:"date_from" time_format:"2006-01-02"`
	DateTo   *time.Time `form:"date_to" time_format:"2006-01-02"`
	SortBy   string     `form:"sort_by"`
	SortDir  string     `form:"sort_dir"`
	Limit    int        `form:"limit"`
	Offset   int        `form:"offset"`
}

// ListInvoices lists cached invoices.
func (s *PayrunService) ListInvoices(ctx context.Context, filter InvoiceListFilter) ([]recon.CachedInvoice, int64, error) {
	return s.invoices.FindAll(ctx, recon.InvoiceFilter{
		Filter: shared.Filter{
			Limit:    filter.Limit,
			Offset:   filter.Offset,
			OrderBy:  filter.SortBy,
			OrderDir: filter.SortDir,
			Search:   filter.Search,
		},
		Tenant:      filter.Tenant,
		StatusLabel: filter.Status,
		DateFrom:    filter.DateFrom,
		DateTo:      filter.DateTo,
	})
}

// ===================== Outbound Payment Operations =====================

// PaymentListFilter carries the query parameters for outbound payment
// listing
type PaymentListFilter struct {
	AccountID string     `form:"account_id"`
	Tenant    string     `form:"tenant"`
	Currency  string     `form:"currency"`
	Status    string     `form:"status"`
	WithNVC   *bool      `form:"with_nvc"`
	Search    string     `form:"search"`
	DateFrom  *time.Time `form:"date_from" time_format:"2006-01-02"`
	DateTo    *time.Time `form:"date_to" time_format:"2006-01-02"`
	SortBy    string     `form:"sort_by"`
	SortDir   string     `form:"sort_dir"`
	Limit     int        `form:"limit"`
	Offset    int        `form:"offset"`
}

// ListPayments lists cached outbound payments.
func (s *PayrunService) ListPayments(ctx context.Context, filter PaymentListFilter) ([]recon.CachedPayment, int64, error) {
	return s.payments.FindAll(ctx, recon.PaymentFilter{
		Filter: shared.Filter{
			Limit:    filter.Limit,
			Offset:   filter.Offset,
			OrderBy:  filter.SortBy,
			OrderDir: filter.SortDir,
			Search:   filter.Search,
		},
		AccountID: filter.AccountID,
		Tenant:    filter.Tenant,
		Currency:  filter.Currency,
		Status:    filter.Status,
		WithNVC:   filter.WithNVC,
		DateFrom:  filter.DateFrom,
		DateTo:    filter.DateTo,
	})
}

// PaymentLookupResponse groups cached payments by the NVC codes a lookup
// asked for
type PaymentLookupResponse struct {
	Results map[string][]recon.CachedPayment `json:"results"`
	Found   []string                         `json:"found"`
	Missing []string                         `json:"missing"`
}

// LookupPayments finds cached payments for a set of NVC codes and reports
// which codes had none.
func (s *PayrunService) LookupPayments(ctx context.Context, rawCodes string) (*PaymentLookupResponse, error) {
	var codes []string
	for _, code := range strings.Split(rawCodes, ",") {
		if code = normalizeNVC(code); code != "" {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return nil, shared.NewDomainError("INVALID_INPUT", "No NVC codes provided")
	}

	payments, err := s.payments.LookupByNVCs(ctx, codes)
	if err != nil {
		return nil, err
	}

	resp := &PaymentLookupResponse{
		Results: make(map[string][]recon.CachedPayment, len(codes)),
		Found:   []string{},
		Missing: []string{},
	}
	for _, p := range payments {
		resp.Results[p.NVCCode] = append(resp.Results[p.NVCCode], p)
	}
	for _, code := range codes {
		if _, ok := resp.Results[code]; ok {
			resp.Found = append(resp.Found, code)
		} else {
			resp.Missing = append(resp.Missing, code)
		}
	}
	return resp, nil
}
