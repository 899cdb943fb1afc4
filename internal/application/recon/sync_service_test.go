package recon

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
)

// mockReconStore is an in-memory store backing the repository fakes below.
// Engine tests replay whole sync cycles against it, so the fakes keep real
// read-back semantics instead of canned expectations.
type mockReconStore struct {
	records  map[string]recon.ReconciliationRecord
	emails   map[string]recon.CachedEmail
	invoices map[string]recon.CachedInvoice
	payruns  map[string]recon.CachedPayrun
	payments map[string]recon.CachedPayment
	receipts map[string]recon.ReceivedPayment
	syncLog  map[string]recon.SyncState

	recordRepo  *mockRecordRepo
	emailRepo   *mockEmailRepo
	invoiceRepo *mockInvoiceRepo
	payrunRepo  *mockPayrunRepo
	paymentRepo *mockPaymentRepo
	receiptRepo *mockReceivedPaymentRepo
	syncRepo    *mockSyncStateRepo

	// recordSaveErr makes every record save fail, simulating a broken
	// local store.
	recordSaveErr error
}

func newMockReconStore() *mockReconStore {
	s := &mockReconStore{
		records:  make(map[string]recon.ReconciliationRecord),
		emails:   make(map[string]recon.CachedEmail),
		invoices: make(map[string]recon.CachedInvoice),
		payruns:  make(map[string]recon.CachedPayrun),
		payments: make(map[string]recon.CachedPayment),
		receipts: make(map[string]recon.ReceivedPayment),
		syncLog:  make(map[string]recon.SyncState),
	}
	s.recordRepo = &mockRecordRepo{store: s}
	s.emailRepo = &mockEmailRepo{store: s}
	s.invoiceRepo = &mockInvoiceRepo{store: s}
	s.payrunRepo = &mockPayrunRepo{store: s}
	s.paymentRepo = &mockPaymentRepo{store: s}
	s.receiptRepo = &mockReceivedPaymentRepo{store: s}
	s.syncRepo = &mockSyncStateRepo{store: s}
	return s
}

func (s *mockReconStore) repos() recon.RepositorySet {
	return recon.RepositorySet{
		Records:          s.recordRepo,
		Emails:           s.emailRepo,
		Invoices:         s.invoiceRepo,
		Payruns:          s.payrunRepo,
		Payments:         s.paymentRepo,
		ReceivedPayments: s.receiptRepo,
		SyncState:        s.syncRepo,
	}
}

// putRecord stores a value copy with drained events, the way a real row
// round-trip would.
func (s *mockReconStore) putRecord(record *recon.ReconciliationRecord) {
	cp := *record
	cp.BaseAggregateRoot = shared.BaseAggregateRoot{}
	s.records[cp.NVCCode] = cp
}

func (s *mockReconStore) putReceipt(rp *recon.ReceivedPayment) {
	cp := *rp
	cp.BaseAggregateRoot = shared.BaseAggregateRoot{}
	s.receipts[cp.ID] = cp
}

// mockRecordRepo is a fake ReconciliationRepository over the shared store.
type mockRecordRepo struct {
	store      *mockReconStore
	lastFilter recon.RecordFilter
	lastQueue  recon.QueueFilter
	lastSearch recon.AmountSearchQuery
}

func (r *mockRecordRepo) FindByNVC(ctx context.Context, nvcCode string) (*recon.ReconciliationRecord, error) {
	record, ok := r.store.records[nvcCode]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (r *mockRecordRepo) FindByEmailID(ctx context.Context, emailID string) ([]recon.ReconciliationRecord, error) {
	var result []recon.ReconciliationRecord
	for _, record := range r.store.records {
		if record.RemittanceEmailID == emailID {
			result = append(result, record)
		}
	}
	sortRecordsByNVC(result)
	return result, nil
}

func (r *mockRecordRepo) FindByReceivedPaymentID(ctx context.Context, rpID string) ([]recon.ReconciliationRecord, error) {
	var result []recon.ReconciliationRecord
	for _, record := range r.store.records {
		if record.ReceivedPaymentID == rpID {
			result = append(result, record)
		}
	}
	sortRecordsByNVC(result)
	return result, nil
}

func (r *mockRecordRepo) FindAll(ctx context.Context, filter recon.RecordFilter) ([]recon.ReconciliationRecord, int64, error) {
	r.lastFilter = filter
	var result []recon.ReconciliationRecord
	for _, record := range r.store.records {
		if filter.Status != nil && record.MatchStatus != *filter.Status {
			continue
		}
		if filter.Tenant != "" && !strings.Contains(record.InvoiceTenant, filter.Tenant) {
			continue
		}
		result = append(result, record)
	}
	sortRecordsByNVC(result)
	return result, int64(len(result)), nil
}

func (r *mockRecordRepo) FindQueue(ctx context.Context, filter recon.QueueFilter) ([]recon.ReconciliationRecord, int64, error) {
	r.lastQueue = filter
	var result []recon.ReconciliationRecord
	for _, record := range r.store.records {
		if record.MatchStatus.IsTerminal() {
			continue
		}
		if filter.Flag != nil && record.Flag != *filter.Flag {
			continue
		}
		if filter.InvoiceStatus != "" && record.InvoiceStatus != filter.InvoiceStatus {
			continue
		}
		result = append(result, record)
	}
	sort.Slice(result, func(i, j int) bool {
		pi, pj := result[i].MatchStatus.QueuePriority(), result[j].MatchStatus.QueuePriority()
		if pi != pj {
			return pi < pj
		}
		return result[i].NVCCode < result[j].NVCCode
	})
	return result, int64(len(result)), nil
}

func (r *mockRecordRepo) Save(ctx context.Context, record *recon.ReconciliationRecord) error {
	if r.store.recordSaveErr != nil {
		return r.store.recordSaveErr
	}
	r.store.putRecord(record)
	return nil
}

func (r *mockRecordRepo) Summary(ctx context.Context) (recon.StatusSummary, error) {
	summary := recon.StatusSummary{ByStatus: make(map[recon.MatchStatus]int64, len(recon.AllMatchStatuses))}
	for _, status := range recon.AllMatchStatuses {
		summary.ByStatus[status] = 0
	}
	for _, record := range r.store.records {
		summary.Total++
		summary.ByStatus[record.MatchStatus]++
	}
	return summary, nil
}

func (r *mockRecordRepo) TenantBreakdown(ctx context.Context) ([]recon.TenantSummary, error) {
	byTenant := make(map[string]*recon.TenantSummary)
	for _, record := range r.store.records {
		if record.InvoiceTenant == "" {
			continue
		}
		row, ok := byTenant[record.InvoiceTenant]
		if !ok {
			row = &recon.TenantSummary{Tenant: record.InvoiceTenant}
			byTenant[record.InvoiceTenant] = row
		}
		row.Records++
		if record.InvoiceAmount != nil {
			row.InvoiceTotal = row.InvoiceTotal.Add(*record.InvoiceAmount)
		}
		switch record.MatchStatus {
		case recon.StatusFull4Way, recon.Status2WayMatched:
			row.Matched++
		case recon.StatusAmountMismatch:
			row.Mismatched++
		case recon.StatusIssue:
			row.StatusIssues++
		}
	}
	result := make([]recon.TenantSummary, 0, len(byTenant))
	for _, row := range byTenant {
		result = append(result, *row)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Records > result[j].Records })
	return result, nil
}

func (r *mockRecordRepo) UnlinkedEmailCandidates(ctx context.Context) ([]recon.EmailCandidate, error) {
	byEmail := make(map[string]*recon.EmailCandidate)
	for _, record := range r.store.records {
		if record.RemittanceEmailID == "" {
			continue
		}
		email, ok := r.store.emails[record.RemittanceEmailID]
		if !ok || email.ManualReview || email.ReceivedPaymentID != "" {
			continue
		}
		cand, ok := byEmail[email.ID]
		if !ok {
			cand = &recon.EmailCandidate{
				EmailID:    email.ID,
				AgencyName: email.AgencyName,
				Source:     email.Source,
			}
			byEmail[email.ID] = cand
		}
		cand.NVCCount++
		if record.RemittanceAmount != nil {
			cand.TotalAmount = cand.TotalAmount.Add(*record.RemittanceAmount)
		}
		if record.RemittanceDate != nil && (cand.EarliestDate == nil || record.RemittanceDate.Before(*cand.EarliestDate)) {
			date := *record.RemittanceDate
			cand.EarliestDate = &date
		}
	}
	result := make([]recon.EmailCandidate, 0, len(byEmail))
	for _, cand := range byEmail {
		result = append(result, *cand)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EmailID < result[j].EmailID })
	return result, nil
}

func (r *mockRecordRepo) AmountSearch(ctx context.Context, query recon.AmountSearchQuery) ([]recon.ReconciliationRecord, error) {
	r.lastSearch = query
	legAmount := func(record *recon.ReconciliationRecord) *decimal.Decimal {
		switch query.Field {
		case recon.AmountFieldRemittance:
			return record.RemittanceAmount
		case recon.AmountFieldInvoice:
			return record.InvoiceAmount
		case recon.AmountFieldPayment:
			return record.PaymentAmount
		}
		return nil
	}
	var result []recon.ReconciliationRecord
	for _, record := range r.store.records {
		amount := legAmount(&record)
		if amount == nil {
			continue
		}
		if query.AmountMin != nil && amount.LessThan(*query.AmountMin) {
			continue
		}
		if query.AmountMax != nil && amount.GreaterThan(*query.AmountMax) {
			continue
		}
		if query.NVCSearch != "" && !strings.Contains(record.NVCCode, query.NVCSearch) {
			continue
		}
		if query.Tenant != "" && !strings.Contains(record.InvoiceTenant, query.Tenant) {
			continue
		}
		result = append(result, record)
	}
	sortRecordsByNVC(result)
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

func sortRecordsByNVC(records []recon.ReconciliationRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].NVCCode < records[j].NVCCode })
}

// mockEmailRepo is a fake EmailRepository over the shared store.
type mockEmailRepo struct {
	store      *mockReconStore
	lastFilter recon.EmailFilter
}

func (r *mockEmailRepo) Upsert(ctx context.Context, email *recon.CachedEmail) error {
	existing, ok := r.store.emails[email.ID]
	if !ok {
		r.store.emails[email.ID] = *email
		return nil
	}
	// Fingerprint fields only; the funding linkage survives re-observation.
	existing.Source = email.Source
	existing.Subject = email.Subject
	existing.Sender = email.Sender
	existing.EmailDate = email.EmailDate
	existing.FetchedAt = email.FetchedAt
	existing.Attachments = email.Attachments
	existing.RemittanceTotal = email.RemittanceTotal
	existing.AgencyName = email.AgencyName
	existing.LineCount = email.LineCount
	existing.ManualReview = email.ManualReview
	r.store.emails[email.ID] = existing
	return nil
}

func (r *mockEmailRepo) Save(ctx context.Context, email *recon.CachedEmail) error {
	r.store.emails[email.ID] = *email
	return nil
}

func (r *mockEmailRepo) FindByID(ctx context.Context, id string) (*recon.CachedEmail, error) {
	email, ok := r.store.emails[id]
	if !ok {
		return nil, nil
	}
	return &email, nil
}

func (r *mockEmailRepo) FindAll(ctx context.Context, filter recon.EmailFilter) ([]recon.CachedEmail, int64, error) {
	r.lastFilter = filter
	var result []recon.CachedEmail
	for _, email := range r.store.emails {
		if filter.Source != "" && email.Source != filter.Source {
			continue
		}
		if filter.ManualReview != nil && email.ManualReview != *filter.ManualReview {
			continue
		}
		if filter.Linked != nil && email.IsLinked() != *filter.Linked {
			continue
		}
		result = append(result, email)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, int64(len(result)), nil
}

func (r *mockEmailRepo) Stats(ctx context.Context) (recon.EmailStats, error) {
	stats := recon.EmailStats{BySource: make(map[string]int64)}
	for _, email := range r.store.emails {
		stats.Total++
		stats.BySource[email.Source]++
		if email.ManualReview {
			stats.ManualReview++
		}
		if email.ReceivedPaymentID != "" {
			stats.Linked++
		}
	}
	return stats, nil
}

// mockInvoiceRepo is a fake InvoiceRepository over the shared store.
type mockInvoiceRepo struct {
	store      *mockReconStore
	lastFilter recon.InvoiceFilter
}

func (r *mockInvoiceRepo) UpsertBatch(ctx context.Context, invoices []recon.CachedInvoice) error {
	for _, inv := range invoices {
		r.store.invoices[inv.NVCCode] = inv
	}
	return nil
}

func (r *mockInvoiceRepo) FindByNVC(ctx context.Context, nvcCode string) (*recon.CachedInvoice, error) {
	inv, ok := r.store.invoices[nvcCode]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (r *mockInvoiceRepo) FindAll(ctx context.Context, filter recon.InvoiceFilter) ([]recon.CachedInvoice, int64, error) {
	r.lastFilter = filter
	var result []recon.CachedInvoice
	for _, inv := range r.store.invoices {
		if filter.Tenant != "" && !strings.Contains(inv.Tenant, filter.Tenant) {
			continue
		}
		if filter.StatusLabel != "" && inv.StatusLabel != filter.StatusLabel {
			continue
		}
		result = append(result, inv)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].NVCCode < result[j].NVCCode })
	return result, int64(len(result)), nil
}

// mockPayrunRepo is a fake PayrunRepository over the shared store.
type mockPayrunRepo struct {
	store      *mockReconStore
	lastFilter recon.PayrunFilter
}

func (r *mockPayrunRepo) UpsertBatch(ctx context.Context, payruns []recon.CachedPayrun) error {
	for _, payrun := range payruns {
		r.store.payruns[payrun.ID] = payrun
	}
	return nil
}

func (r *mockPayrunRepo) FindAll(ctx context.Context, filter recon.PayrunFilter) ([]recon.CachedPayrun, int64, error) {
	r.lastFilter = filter
	var result []recon.CachedPayrun
	for _, payrun := range r.store.payruns {
		if filter.Tenant != "" && !strings.Contains(payrun.Tenant, filter.Tenant) {
			continue
		}
		result = append(result, payrun)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, int64(len(result)), nil
}

// mockPaymentRepo is a fake PaymentRepository over the shared store.
type mockPaymentRepo struct {
	store      *mockReconStore
	lastFilter recon.PaymentFilter
}

func (r *mockPaymentRepo) UpsertBatch(ctx context.Context, payments []recon.CachedPayment) error {
	for _, payment := range payments {
		r.store.payments[payment.ID] = payment
	}
	return nil
}

func (r *mockPaymentRepo) FindByID(ctx context.Context, id string) (*recon.CachedPayment, error) {
	payment, ok := r.store.payments[id]
	if !ok {
		return nil, nil
	}
	return &payment, nil
}

func (r *mockPaymentRepo) FindByNVC(ctx context.Context, nvcCode string) ([]recon.CachedPayment, error) {
	var result []recon.CachedPayment
	for _, payment := range r.store.payments {
		if payment.NVCCode == nvcCode {
			result = append(result, payment)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *mockPaymentRepo) LookupByNVCs(ctx context.Context, nvcCodes []string) ([]recon.CachedPayment, error) {
	wanted := make(map[string]struct{}, len(nvcCodes))
	for _, code := range nvcCodes {
		wanted[code] = struct{}{}
	}
	var result []recon.CachedPayment
	for _, payment := range r.store.payments {
		if _, ok := wanted[payment.NVCCode]; ok {
			result = append(result, payment)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *mockPaymentRepo) FindAll(ctx context.Context, filter recon.PaymentFilter) ([]recon.CachedPayment, int64, error) {
	r.lastFilter = filter
	var result []recon.CachedPayment
	for _, payment := range r.store.payments {
		if filter.AccountID != "" && payment.AccountID != filter.AccountID {
			continue
		}
		if filter.WithNVC != nil && payment.HasNVC() != *filter.WithNVC {
			continue
		}
		result = append(result, payment)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, int64(len(result)), nil
}

// mockReceivedPaymentRepo is a fake ReceivedPaymentRepository over the
// shared store.
type mockReceivedPaymentRepo struct {
	store      *mockReconStore
	lastFilter recon.ReceivedPaymentFilter
}

func (r *mockReceivedPaymentRepo) Upsert(ctx context.Context, rp *recon.ReceivedPayment) error {
	existing, ok := r.store.receipts[rp.ID]
	if !ok {
		r.store.putReceipt(rp)
		return nil
	}
	// Source fields only; match state survives re-observation.
	existing.AccountID = rp.AccountID
	existing.AccountName = rp.AccountName
	existing.Amount = rp.Amount
	existing.Currency = rp.Currency
	existing.PaymentDate = rp.PaymentDate
	existing.PaymentStatus = rp.PaymentStatus
	existing.PayerName = rp.PayerName
	existing.RawInfo = rp.RawInfo
	existing.MSLReference = rp.MSLReference
	existing.CreatedOn = rp.CreatedOn
	existing.FetchedAt = rp.FetchedAt
	r.store.receipts[rp.ID] = existing
	return nil
}

func (r *mockReceivedPaymentRepo) Save(ctx context.Context, rp *recon.ReceivedPayment) error {
	r.store.putReceipt(rp)
	return nil
}

func (r *mockReceivedPaymentRepo) FindByID(ctx context.Context, id string) (*recon.ReceivedPayment, error) {
	rp, ok := r.store.receipts[id]
	if !ok {
		return nil, nil
	}
	return &rp, nil
}

func (r *mockReceivedPaymentRepo) FindAll(ctx context.Context, filter recon.ReceivedPaymentFilter) ([]recon.ReceivedPayment, int64, error) {
	r.lastFilter = filter
	var result []recon.ReceivedPayment
	for _, rp := range r.store.receipts {
		if filter.AccountID != "" && rp.AccountID != filter.AccountID {
			continue
		}
		if filter.MatchStatus != nil && rp.MatchStatus != *filter.MatchStatus {
			continue
		}
		result = append(result, rp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, int64(len(result)), nil
}

func (r *mockReceivedPaymentRepo) FindUnmatched(ctx context.Context) ([]recon.ReceivedPayment, error) {
	var result []recon.ReceivedPayment
	for _, rp := range r.store.receipts {
		if rp.MatchStatus == recon.RPStatusUnmatched {
			result = append(result, rp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		di, dj := result[i].PaymentDate, result[j].PaymentDate
		switch {
		case di == nil && dj == nil:
			return result[i].ID < result[j].ID
		case di == nil:
			return true
		case dj == nil:
			return false
		case di.Equal(*dj):
			return result[i].ID < result[j].ID
		}
		return di.Before(*dj)
	})
	return result, nil
}

func (r *mockReceivedPaymentRepo) Summary(ctx context.Context) (recon.ReceivedPaymentSummary, error) {
	var summary recon.ReceivedPaymentSummary
	for _, rp := range r.store.receipts {
		summary.Total++
		summary.TotalAmount = summary.TotalAmount.Add(rp.Amount)
		switch rp.MatchStatus {
		case recon.RPStatusMatched:
			summary.Matched++
			summary.MatchedAmount = summary.MatchedAmount.Add(rp.Amount)
		case recon.RPStatusSuggested:
			summary.Suggested++
		default:
			summary.Unmatched++
			summary.UnmatchedAmount = summary.UnmatchedAmount.Add(rp.Amount)
		}
	}
	return summary, nil
}

// mockSyncStateRepo is a fake SyncStateRepository over the shared store.
type mockSyncStateRepo struct {
	store *mockReconStore
}

func (r *mockSyncStateRepo) Record(ctx context.Context, source string, count int, status string) error {
	now := time.Now().UTC()
	r.store.syncLog[source] = recon.SyncState{
		Source:     source,
		LastSyncAt: &now,
		LastCount:  count,
		Status:     status,
	}
	return nil
}

func (r *mockSyncStateRepo) FindAll(ctx context.Context) ([]recon.SyncState, error) {
	result := make([]recon.SyncState, 0, len(r.store.syncLog))
	known := make(map[string]struct{}, len(recon.SyncSources))
	for _, source := range recon.SyncSources {
		known[source] = struct{}{}
		if state, ok := r.store.syncLog[source]; ok {
			result = append(result, state)
		}
	}
	extras := make([]string, 0, 1)
	for source := range r.store.syncLog {
		if _, ok := known[source]; !ok {
			extras = append(extras, source)
		}
	}
	sort.Strings(extras)
	for _, source := range extras {
		result = append(result, r.store.syncLog[source])
	}
	return result, nil
}

// mockUnitOfWork runs units straight against the shared store; rollback is
// not simulated.
type mockUnitOfWork struct {
	store *mockReconStore
}

func (u *mockUnitOfWork) Execute(ctx context.Context, fn func(tx recon.RepositorySet) error) error {
	return fn(u.store.repos())
}

// mockEmailSource returns a fixed set of email batches.
type mockEmailSource struct {
	batches []recon.EmailBatch
	err     error
	// release, when set, blocks FetchEmails until closed.
	release chan struct{}
}

func (m *mockEmailSource) FetchEmails(ctx context.Context, daysBack int) ([]recon.EmailBatch, error) {
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.batches, nil
}

// mockInvoiceSource returns fixed invoice and payrun batches.
type mockInvoiceSource struct {
	invoices   []recon.CachedInvoice
	payruns    []recon.CachedPayrun
	invoiceErr error
	payrunErr  error
}

func (m *mockInvoiceSource) FetchInvoices(ctx context.Context, daysBack int) ([]recon.CachedInvoice, error) {
	if m.invoiceErr != nil {
		return nil, m.invoiceErr
	}
	return m.invoices, nil
}

func (m *mockInvoiceSource) FetchPayruns(ctx context.Context, daysBack int) ([]recon.CachedPayrun, error) {
	if m.payrunErr != nil {
		return nil, m.payrunErr
	}
	return m.payruns, nil
}

// mockPaymentSource returns fixed receipt and payment batches.
type mockPaymentSource struct {
	receipts   []recon.ReceivedPayment
	payments   []recon.CachedPayment
	receiptErr error
	paymentErr error
}

func (m *mockPaymentSource) FetchReceivedPayments(ctx context.Context) ([]recon.ReceivedPayment, error) {
	if m.receiptErr != nil {
		return nil, m.receiptErr
	}
	return m.receipts, nil
}

func (m *mockPaymentSource) FetchPayments(ctx context.Context) ([]recon.CachedPayment, error) {
	if m.paymentErr != nil {
		return nil, m.paymentErr
	}
	return m.payments, nil
}

// mockReadCache is an in-memory ReadCache recording invalidations.
type mockReadCache struct {
	data        map[string][]byte
	invalidated int
}

func newMockReadCache() *mockReadCache {
	return &mockReadCache{data: make(map[string][]byte)}
}

func (c *mockReadCache) Get(ctx context.Context, key string) ([]byte, bool) {
	payload, ok := c.data[key]
	return payload, ok
}

func (c *mockReadCache) Set(ctx context.Context, key string, payload []byte) {
	c.data[key] = payload
}

func (c *mockReadCache) InvalidateAll(ctx context.Context) {
	c.data = make(map[string][]byte)
	c.invalidated++
}

func testDate(t *testing.T, value string) *time.Time {
	t.Helper()
	date, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)
	return &date
}

func remLine(nvcCode string, amount float64) recon.RemittanceLine {
	return recon.RemittanceLine{NVCCode: nvcCode, AmountPaid: decimal.NewFromFloat(amount)}
}

func createTestEmailBatch(t *testing.T, id, agency string, date *time.Time, lines ...recon.RemittanceLine) recon.EmailBatch {
	t.Helper()
	email, err := recon.NewCachedEmail(id, recon.RemittanceSourceOASYS,
		"Payment Remittance On behalf of "+agency, "remit@agency.example", date)
	require.NoError(t, err)
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.AmountPaid)
	}
	email.RemittanceTotal = &total
	email.LineCount = len(lines)
	return recon.EmailBatch{
		Email: email,
		Advice: &recon.RemittanceAdvice{
			Source:      email.Source,
			PaymentDate: date,
			AgencyName:  agency,
			EmailID:     id,
			Lines:       lines,
		},
	}
}

func createTestInvoice(nvcCode string, amount float64, status int, tenant string) recon.CachedInvoice {
	return recon.CachedInvoice{
		NVCCode:       nvcCode,
		InvoiceNumber: "INV-" + nvcCode,
		TotalAmount:   decimal.NewFromFloat(amount),
		Currency:      "USD",
		Status:        status,
		StatusLabel:   recon.InvoiceStatusName(status),
		Tenant:        tenant,
		PayrunID:      "payrun-1",
		FetchedAt:     time.Now().UTC(),
	}
}

func createTestReceipt(t *testing.T, id string, amount float64, date *time.Time, payer string) recon.ReceivedPayment {
	t.Helper()
	rp, err := recon.NewReceivedPayment(id, decimal.NewFromFloat(amount))
	require.NoError(t, err)
	rp.AccountID = "acct-main"
	rp.PaymentDate = date
	rp.PaymentStatus = "completed"
	rp.PayerName = payer
	return *rp
}

func createTestPayment(id, nvcCode string, amount float64, date *time.Time) recon.CachedPayment {
	return recon.CachedPayment{
		ID:          id,
		AccountID:   "acct-main",
		NVCCode:     nvcCode,
		Tenant:      "omnicomtbwa",
		Amount:      decimal.NewFromFloat(amount),
		Currency:    "USD",
		Status:      "completed",
		PaymentDate: date,
		FetchedAt:   time.Now().UTC(),
	}
}

func newTestSyncService(store *mockReconStore, opts ...SyncServiceOption) *SyncService {
	return NewSyncService(
		&mockUnitOfWork{store: store},
		store.repos(),
		recon.DefaultMatcherConfig(),
		recon.DefaultClassificationRules(),
		zap.NewNop(),
		opts...,
	)
}

func TestSyncService_RunCycle_FourWayMatch(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	svc := newTestSyncService(store,
		WithEmailSource(&mockEmailSource{batches: []recon.EmailBatch{
			createTestEmailBatch(t, "email-1", "BBDO USA LLC", day, remLine("NVC7KAAA", 4500)),
		}}, 14),
		WithInvoiceSource(&mockInvoiceSource{invoices: []recon.CachedInvoice{
			createTestInvoice("NVC7KAAA", 4500, recon.InvoiceStatusApproved, "omnicomtbwa"),
		}}, 30),
		WithPaymentSource(&mockPaymentSource{
			receipts: []recon.ReceivedPayment{
				createTestReceipt(t, "rp-1", 4500, day, "BBDO USA LLC DES:ACH PMTS ID:12345"),
			},
			payments: []recon.CachedPayment{
				createTestPayment("pay-1", "NVC7KAAA", 4500, day),
			},
		}),
	)

	result, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	assert.False(t, result.Aborted)
	require.Len(t, result.Steps, 5)
	for i, source := range recon.SyncSources {
		assert.Equal(t, source, result.Steps[i].Source)
		assert.Equal(t, recon.SyncStatusOK, result.Steps[i].Status)
		assert.Equal(t, 1, result.Steps[i].Count)
	}

	record := store.records["NVC7KAAA"]
	assert.Equal(t, recon.StatusFull4Way, record.MatchStatus)
	assert.Empty(t, record.MatchFlags)
	assert.Equal(t, "rp-1", record.ReceivedPaymentID)
	require.NotNil(t, record.ReceivedPaymentAmount)
	assert.Equal(t, "4500", record.ReceivedPaymentAmount.String())

	rp := store.receipts["rp-1"]
	assert.Equal(t, recon.RPStatusMatched, rp.MatchStatus)
	assert.Equal(t, "email-1", rp.MatchedEmailID)
	assert.Equal(t, recon.MatchMethodAuto, rp.MatchMethod)
	require.NotNil(t, rp.MatchConfidence)
	assert.InDelta(t, 1.0, *rp.MatchConfidence, 0.0001)

	assert.Equal(t, "rp-1", store.emails["email-1"].ReceivedPaymentID)

	state := store.syncLog[recon.SourceFundingMatcher]
	assert.Equal(t, recon.SyncStatusOK, state.Status)
	assert.Equal(t, 1, state.LastCount)
}

func TestSyncService_RunCycle_MismatchAndStatusIssue(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	svc := newTestSyncService(store,
		WithEmailSource(&mockEmailSource{batches: []recon.EmailBatch{
			createTestEmailBatch(t, "email-1", "BBDO USA LLC", day,
				remLine("NVC7KBBB", 1000),
				remLine("NVC7KCCC", 2000)),
		}}, 14),
		WithInvoiceSource(&mockInvoiceSource{invoices: []recon.CachedInvoice{
			createTestInvoice("NVC7KBBB", 900, recon.InvoiceStatusApproved, "omnicomtbwa"),
			createTestInvoice("NVC7KCCC", 2000, recon.InvoiceStatusRejected, "omnicomtbwa"),
		}}, 30),
	)

	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	mismatch := store.records["NVC7KBBB"]
	assert.Equal(t, recon.StatusAmountMismatch, mismatch.MatchStatus)
	assert.Contains(t, mismatch.MatchFlags, recon.MatchFlagAmountMismatch)

	issue := store.records["NVC7KCCC"]
	assert.Equal(t, recon.StatusIssue, issue.MatchStatus)
	assert.Contains(t, issue.MatchFlags, recon.MatchFlagInvoiceRejected)

	// The summary buckets both rows outside the matched counts.
	summary, err := store.repos().Records.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Total)
	assert.Equal(t, int64(1), summary.Count(recon.StatusAmountMismatch))
	assert.Equal(t, int64(1), summary.Count(recon.StatusIssue))
	assert.Zero(t, summary.Count(recon.StatusFull4Way))
	assert.Zero(t, summary.Count(recon.Status2WayMatched))
}

func TestSyncService_RunCycle_DisabledSourcesSkip(t *testing.T) {
	store := newMockReconStore()
	svc := newTestSyncService(store)

	result, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	require.Len(t, result.Steps, 5)
	for i, source := range recon.SyncSources {
		assert.Equal(t, source, result.Steps[i].Source)
	}
	for _, step := range result.Steps[:4] {
		assert.Equal(t, recon.SyncStatusSkipped, step.Status)
	}
	// The matcher pass runs on stored rows and needs no source.
	assert.Equal(t, recon.SyncStatusOK, result.Steps[4].Status)
}

func TestSyncService_RunCycle_SourceFailureDegradesOneStep(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	emails := &mockEmailSource{batches: []recon.EmailBatch{
		createTestEmailBatch(t, "email-1", "BBDO USA LLC", day, remLine("NVC7KAAA", 4500)),
	}}

	first := newTestSyncService(store,
		WithEmailSource(emails, 14),
		WithInvoiceSource(&mockInvoiceSource{invoices: []recon.CachedInvoice{
			createTestInvoice("NVC7KAAA", 4500, recon.InvoiceStatusApproved, "omnicomtbwa"),
		}}, 30),
	)
	_, err := first.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, recon.Status2WayMatched, store.records["NVC7KAAA"].MatchStatus)

	second := newTestSyncService(store,
		WithEmailSource(emails, 14),
		WithInvoiceSource(&mockInvoiceSource{invoiceErr: shared.ErrSourceUnavailable}, 30),
	)
	result, err := second.RunCycle(context.Background())

	// A source failure degrades its own step and nothing else.
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	require.Len(t, result.Steps, 5)
	assert.Equal(t, recon.SyncStatusOK, result.Steps[0].Status)
	assert.Equal(t, "error: "+shared.ErrSourceUnavailable.Error(), result.Steps[1].Status)
	assert.Equal(t, recon.SyncStatusOK, result.Steps[4].Status)

	// Rows keep their classification through the outage.
	assert.Equal(t, recon.Status2WayMatched, store.records["NVC7KAAA"].MatchStatus)
	assert.True(t, strings.HasPrefix(store.syncLog[recon.SourceInvoices].Status, "error:"))
	assert.Equal(t, recon.SyncStatusOK, store.syncLog[recon.SourceEmails].Status)
	// A degraded source does not fail the cycle as a whole.
	assert.Equal(t, recon.SyncStatusOK, store.syncLog[recon.SourceCycle].Status)
}

func TestSyncService_RunCycle_StoreFailureAborts(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	store.recordSaveErr = errors.New("database is locked")

	svc := newTestSyncService(store,
		WithEmailSource(&mockEmailSource{batches: []recon.EmailBatch{
			createTestEmailBatch(t, "email-1", "BBDO USA LLC", day, remLine("NVC7KAAA", 4500)),
		}}, 14),
		WithInvoiceSource(&mockInvoiceSource{invoices: []recon.CachedInvoice{
			createTestInvoice("NVC7KAAA", 4500, recon.InvoiceStatusApproved, "omnicomtbwa"),
		}}, 30),
	)

	result, err := svc.RunCycle(context.Background())

	require.Error(t, err)
	assert.True(t, result.Aborted)
	// Remaining steps never ran.
	require.Len(t, result.Steps, 1)
	assert.Equal(t, recon.SourceEmails, result.Steps[0].Source)
	assert.True(t, strings.HasPrefix(result.Steps[0].Status, "error:"))
	assert.True(t, strings.HasPrefix(store.syncLog[recon.SourceCycle].Status, "error:"))
}

func TestSyncService_RunCycle_RejectsOverlappingRun(t *testing.T) {
	store := newMockReconStore()
	release := make(chan struct{})
	svc := newTestSyncService(store,
		WithEmailSource(&mockEmailSource{release: release}, 14),
	)

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunCycle(context.Background())
		done <- err
	}()
	require.Eventually(t, svc.Running, time.Second, time.Millisecond)

	_, err := svc.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrSyncRunning)
	assert.Equal(t, recon.SyncStatusSkipped, store.syncLog[recon.SourceCycle].Status)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, svc.Running())
	assert.NotNil(t, svc.LastResult())
	// The completed pass replaces the skip marker.
	assert.Equal(t, recon.SyncStatusOK, store.syncLog[recon.SourceCycle].Status)
}

func TestSyncService_RunCycle_ReplayIsIdempotent(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	svc := newTestSyncService(store,
		WithEmailSource(&mockEmailSource{batches: []recon.EmailBatch{
			createTestEmailBatch(t, "email-1", "BBDO USA LLC", day, remLine("NVC7KAAA", 4500)),
		}}, 14),
		WithInvoiceSource(&mockInvoiceSource{invoices: []recon.CachedInvoice{
			createTestInvoice("NVC7KAAA", 4500, recon.InvoiceStatusApproved, "omnicomtbwa"),
		}}, 30),
		WithPaymentSource(&mockPaymentSource{
			receipts: []recon.ReceivedPayment{
				createTestReceipt(t, "rp-1", 4500, day, "BBDO USA LLC"),
			},
			payments: []recon.CachedPayment{
				createTestPayment("pay-1", "NVC7KAAA", 4500, day),
			},
		}),
	)

	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	first := store.records["NVC7KAAA"]

	_, err = svc.RunCycle(context.Background())
	require.NoError(t, err)
	second := store.records["NVC7KAAA"]

	assert.Len(t, store.records, 1)
	assert.Equal(t, first.MatchStatus, second.MatchStatus)
	assert.True(t, first.MatchFlags.Equal(second.MatchFlags))
	assert.Equal(t, first.ReceivedPaymentID, second.ReceivedPaymentID)
	assert.Equal(t, first.RemittanceAmount.String(), second.RemittanceAmount.String())
	assert.Equal(t, first.InvoiceAmount.String(), second.InvoiceAmount.String())
	assert.Equal(t, first.FirstSeenAt, second.FirstSeenAt)
	assert.False(t, second.LastUpdatedAt.Before(second.FirstSeenAt))

	// The receipt and email keep their link; nothing was left to match.
	assert.Equal(t, recon.RPStatusMatched, store.receipts["rp-1"].MatchStatus)
	assert.Equal(t, "rp-1", store.emails["email-1"].ReceivedPaymentID)
	assert.Equal(t, 0, svc.LastResult().Steps[4].Count)
}

func TestSyncService_RunCycle_LumpSumBands(t *testing.T) {
	day := testDate(t, "2025-07-21")

	seed := func(t *testing.T, receiptAmount float64) (*mockReconStore, *SyncService) {
		t.Helper()
		store := newMockReconStore()
		matcher := recon.DefaultMatcherConfig()
		matcher.Aliases = recon.AliasTable{"Omnicom Media": {"Omnicom Media Group"}}
		svc := NewSyncService(
			&mockUnitOfWork{store: store},
			store.repos(),
			matcher,
			recon.DefaultClassificationRules(),
			zap.NewNop(),
			WithEmailSource(&mockEmailSource{batches: []recon.EmailBatch{
				createTestEmailBatch(t, "email-2", "Omnicom Media", day,
					remLine("NVC7KDDD", 6000),
					remLine("NVC7KEEE", 4000)),
			}}, 14),
			WithPaymentSource(&mockPaymentSource{receipts: []recon.ReceivedPayment{
				createTestReceipt(t, "rp-2", receiptAmount, day, "OMNICOM MEDIA GROUP"),
			}}),
		)
		return store, svc
	}

	t.Run("amount within five percent auto links", func(t *testing.T) {
		store, svc := seed(t, 10500)
		result, err := svc.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Steps[4].Count)

		rp := store.receipts["rp-2"]
		assert.Equal(t, recon.RPStatusMatched, rp.MatchStatus)
		assert.Equal(t, "email-2", rp.MatchedEmailID)
		require.NotNil(t, rp.MatchConfidence)
		assert.InDelta(t, 0.85, *rp.MatchConfidence, 0.0001)

		// The funding leg fans out to every NVC row of the email.
		for _, nvcCode := range []string{"NVC7KDDD", "NVC7KEEE"} {
			record := store.records[nvcCode]
			assert.Equal(t, "rp-2", record.ReceivedPaymentID)
			require.NotNil(t, record.ReceivedPaymentAmount)
			assert.Equal(t, "10500", record.ReceivedPaymentAmount.String())
		}
	})

	t.Run("amount past five percent only suggests", func(t *testing.T) {
		store, svc := seed(t, 10600)
		result, err := svc.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, result.Steps[4].Count)

		rp := store.receipts["rp-2"]
		assert.Equal(t, recon.RPStatusSuggested, rp.MatchStatus)
		assert.Empty(t, rp.MatchedEmailID)
		assert.Equal(t, "Suggested: email email-2 (score: 0.65)", rp.Notes)

		// A suggestion never touches the rows or the email.
		assert.Empty(t, store.records["NVC7KDDD"].ReceivedPaymentID)
		assert.Empty(t, store.emails["email-2"].ReceivedPaymentID)
	})
}

func TestSyncService_RunCycle_ManualReviewEmailLeavesCandidateSet(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()

	first := newTestSyncService(store,
		WithEmailSource(&mockEmailSource{batches: []recon.EmailBatch{
			createTestEmailBatch(t, "email-1", "BBDO USA LLC", day, remLine("NVC7KAAA", 4500)),
		}}, 14),
	)
	_, err := first.RunCycle(context.Background())
	require.NoError(t, err)

	// The same email comes back unparseable, so the receipt that would
	// have auto-linked must stay unmatched.
	degraded := createTestEmailBatch(t, "email-1", "BBDO USA LLC", day)
	degraded.Email.ManualReview = true
	degraded.Advice = nil

	second := newTestSyncService(store,
		WithEmailSource(&mockEmailSource{batches: []recon.EmailBatch{degraded}}, 14),
		WithPaymentSource(&mockPaymentSource{receipts: []recon.ReceivedPayment{
			createTestReceipt(t, "rp-1", 4500, day, "BBDO USA LLC"),
		}}),
	)
	result, err := second.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Steps[4].Count)
	assert.True(t, store.emails["email-1"].ManualReview)
	rp := store.receipts["rp-1"]
	assert.Equal(t, recon.RPStatusUnmatched, rp.MatchStatus)
	assert.Empty(t, rp.MatchedEmailID)
	assert.Empty(t, rp.Notes)
}

func TestSyncService_RunCycle_LateLinesInheritFunding(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()

	first := newTestSyncService(store,
		WithEmailSource(&mockEmailSource{batches: []recon.EmailBatch{
			createTestEmailBatch(t, "email-1", "BBDO USA LLC", day, remLine("NVC7KAAA", 4500)),
		}}, 14),
		WithPaymentSource(&mockPaymentSource{receipts: []recon.ReceivedPayment{
			createTestReceipt(t, "rp-1", 4500, day, "BBDO USA LLC"),
		}}),
	)
	_, err := first.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, "rp-1", store.records["NVC7KAAA"].ReceivedPaymentID)

	// A reparse surfaces a second line on the already linked email.
	second := newTestSyncService(store,
		WithEmailSource(&mockEmailSource{batches: []recon.EmailBatch{
			createTestEmailBatch(t, "email-1", "BBDO USA LLC", day,
				remLine("NVC7KAAA", 4000),
				remLine("NVC7KAAB", 500)),
		}}, 14),
	)
	_, err = second.RunCycle(context.Background())
	require.NoError(t, err)

	late := store.records["NVC7KAAB"]
	assert.Equal(t, "rp-1", late.ReceivedPaymentID)
	require.NotNil(t, late.ReceivedPaymentAmount)
	assert.Equal(t, "4500", late.ReceivedPaymentAmount.String())
}

func TestSyncService_RunCycle_SkipsRowsWithoutNVCCodes(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	svc := newTestSyncService(store,
		WithEmailSource(&mockEmailSource{batches: []recon.EmailBatch{
			createTestEmailBatch(t, "email-1", "BBDO USA LLC", day,
				remLine("NVC7KAAA", 4500),
				remLine("INV-2041", 100),
				remLine("", 50)),
		}}, 14),
		WithPaymentSource(&mockPaymentSource{payments: []recon.CachedPayment{
			createTestPayment("pay-1", "NVC7KAAA", 4500, day),
			createTestPayment("pay-2", "", 1200, day),
		}}),
	)

	result, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Steps[0].Count)
	assert.Equal(t, 1, result.Steps[3].Count)
	assert.Len(t, store.records, 1)
	assert.Contains(t, store.records, "NVC7KAAA")
	// Payments without an NVC reference stay cached for lookups.
	assert.Len(t, store.payments, 2)
}

func TestSyncService_RunCycle_LegArrivalOrderIrrelevant(t *testing.T) {
	day := testDate(t, "2025-07-14")

	emails := func() *mockEmailSource {
		return &mockEmailSource{batches: []recon.EmailBatch{
			createTestEmailBatch(t, "email-1", "BBDO USA LLC", day, remLine("NVC7KAAA", 4500)),
		}}
	}
	invoices := func() *mockInvoiceSource {
		return &mockInvoiceSource{invoices: []recon.CachedInvoice{
			createTestInvoice("NVC7KAAA", 4500, recon.InvoiceStatusApproved, "omnicomtbwa"),
		}}
	}

	emailsFirst := newMockReconStore()
	_, err := newTestSyncService(emailsFirst, WithEmailSource(emails(), 14)).RunCycle(context.Background())
	require.NoError(t, err)
	_, err = newTestSyncService(emailsFirst, WithInvoiceSource(invoices(), 30)).RunCycle(context.Background())
	require.NoError(t, err)

	invoicesFirst := newMockReconStore()
	_, err = newTestSyncService(invoicesFirst, WithInvoiceSource(invoices(), 30)).RunCycle(context.Background())
	require.NoError(t, err)
	_, err = newTestSyncService(invoicesFirst, WithEmailSource(emails(), 14)).RunCycle(context.Background())
	require.NoError(t, err)

	a := emailsFirst.records["NVC7KAAA"]
	b := invoicesFirst.records["NVC7KAAA"]
	assert.Equal(t, recon.Status2WayMatched, a.MatchStatus)
	assert.Equal(t, a.MatchStatus, b.MatchStatus)
	assert.True(t, a.MatchFlags.Equal(b.MatchFlags))
	assert.Equal(t, a.RemittanceAmount.String(), b.RemittanceAmount.String())
	assert.Equal(t, a.InvoiceAmount.String(), b.InvoiceAmount.String())
}

func TestSyncService_RunCycle_LinkedEmailLeavesCandidateSet(t *testing.T) {
	early := testDate(t, "2025-07-14")
	late := testDate(t, "2025-07-15")
	store := newMockReconStore()
	svc := newTestSyncService(store,
		WithEmailSource(&mockEmailSource{batches: []recon.EmailBatch{
			createTestEmailBatch(t, "email-1", "BBDO USA LLC", early, remLine("NVC7KAAA", 4500)),
		}}, 14),
		WithPaymentSource(&mockPaymentSource{receipts: []recon.ReceivedPayment{
			createTestReceipt(t, "rp-1", 4500, early, "BBDO USA LLC"),
			createTestReceipt(t, "rp-2", 4500, late, "BBDO USA LLC"),
		}}),
	)

	result, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	// The earlier receipt wins; the second finds no candidate left.
	assert.Equal(t, 1, result.Steps[4].Count)
	assert.Equal(t, recon.RPStatusMatched, store.receipts["rp-1"].MatchStatus)
	assert.Equal(t, recon.RPStatusUnmatched, store.receipts["rp-2"].MatchStatus)
	assert.Equal(t, "rp-1", store.records["NVC7KAAA"].ReceivedPaymentID)
}

func TestSyncService_RunCycle_InvalidatesReadCache(t *testing.T) {
	store := newMockReconStore()
	cache := newMockReadCache()
	cache.Set(context.Background(), "overview:7", []byte(`{}`))

	svc := newTestSyncService(store, WithReadCache(cache))
	_, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	_, ok := cache.Get(context.Background(), "overview:7")
	assert.False(t, ok)
	assert.Equal(t, 1, cache.invalidated)
}
