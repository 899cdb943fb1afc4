package recon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
	"github.com/payops/recon/internal/infrastructure/telemetry"
)

// ErrSyncRunning is returned when a cycle is requested while another one
// is still in flight. Cycles never overlap.
var ErrSyncRunning = shared.NewDomainError("SYNC_RUNNING", "A sync cycle is already running")

// ReadCache caches rendered read-model payloads between sync cycles. A
// cycle that changed rows invalidates everything; readers repopulate
// lazily. Implementations absorb their own transport errors.
type ReadCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte)
	InvalidateAll(ctx context.Context)
}

// eventCarrier is the slice of aggregate behaviour event publication
// needs.
type eventCarrier interface {
	GetDomainEvents() []shared.DomainEvent
	ClearDomainEvents()
}

// StepResult is the outcome of one source step within a sync cycle.
type StepResult struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
	Status string `json:"status"`
}

// CycleResult aggregates the per-step outcomes of one sync cycle.
type CycleResult struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Steps      []StepResult `json:"steps"`
	// Aborted is set when the local store failed mid-cycle. Source
	// failures never abort; they degrade the single step.
	Aborted bool `json:"aborted"`
}

// SyncService drives the sync cycle: it pulls all enabled sources,
// upserts their rows into the reconciliation store leg by leg, and runs
// the lump-sum matcher pass over the fresh data. Sources are optional;
// a disabled source records a skipped step.
type SyncService struct {
	uow     recon.UnitOfWork
	repos   recon.RepositorySet
	matcher recon.MatcherConfig
	rules   recon.ClassificationRules
	logger  *zap.Logger

	emails    recon.EmailSource
	invoices  recon.InvoiceSource
	payments  recon.PaymentSource
	publisher shared.EventPublisher
	cache     ReadCache

	emailDaysBack   int
	invoiceDaysBack int

	mu      sync.Mutex
	running bool
	lastRun *CycleResult
}

// SyncServiceOption is a functional option for configuring SyncService
type SyncServiceOption func(*SyncService)

// WithEmailSource enables the remittance email step with its look-back
// window in days.
func WithEmailSource(src recon.EmailSource, daysBack int) SyncServiceOption {
	return func(s *SyncService) {
		s.emails = src
		s.emailDaysBack = daysBack
	}
}

// WithInvoiceSource enables the invoice and payrun steps with their
// look-back window in days.
func WithInvoiceSource(src recon.InvoiceSource, daysBack int) SyncServiceOption {
	return func(s *SyncService) {
		s.invoices = src
		s.invoiceDaysBack = daysBack
	}
}

// WithPaymentSource enables the received payment and outbound payment
// steps.
func WithPaymentSource(src recon.PaymentSource) SyncServiceOption {
	return func(s *SyncService) {
		s.payments = src
	}
}

// WithEventPublisher publishes the domain events raised during a cycle.
func WithEventPublisher(publisher shared.EventPublisher) SyncServiceOption {
	return func(s *SyncService) {
		s.publisher = publisher
	}
}

// WithReadCache invalidates cached read models at the end of each cycle.
func WithReadCache(cache ReadCache) SyncServiceOption {
	return func(s *SyncService) {
		s.cache = cache
	}
}

// NewSyncService creates a new SyncService
func NewSyncService(
	uow recon.UnitOfWork,
	repos recon.RepositorySet,
	matcher recon.MatcherConfig,
	rules recon.ClassificationRules,
	logger *zap.Logger,
	opts ...SyncServiceOption,
) *SyncService {
	s := &SyncService{
		uow:     uow,
		repos:   repos,
		matcher: matcher,
		rules:   rules,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Running reports whether a cycle is currently in flight.
func (s *SyncService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastResult returns the outcome of the most recent cycle, nil before the
// first one completes.
func (s *SyncService) LastResult() *CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *SyncService) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *SyncService) finish(result *CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = result
}

// errSourceDisabled marks steps whose source adapter is not configured.
var errSourceDisabled = errors.New("source disabled")

// fetchResults carries one cycle's pulled source data. Fetches run
// concurrently; the apply phase walks the results in step order so
// repository writes stay deterministic.
type fetchResults struct {
	emails   []recon.EmailBatch
	emailErr error

	invoices   []recon.CachedInvoice
	invoiceErr error
	payruns    []recon.CachedPayrun
	payrunErr  error

	receipts   []recon.ReceivedPayment
	receiptErr error

	payments   []recon.CachedPayment
	paymentErr error
}

// RunCycle runs one full sync cycle: emails, invoices, received payments
// and outbound payments in order, then the lump-sum matcher pass. A
// failing source degrades its own step and the cycle continues; a failing
// store aborts the remainder. Returns ErrSyncRunning when a cycle is
// already in flight; the rejected tick is recorded as a skipped cycle in
// sync_state.
func (s *SyncService) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !s.begin() {
		s.recordStep(ctx, recon.SourceCycle, 0, recon.SyncStatusSkipped)
		return nil, ErrSyncRunning
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "sync_cycle", "run")
	defer span.End()

	result := &CycleResult{StartedAt: time.Now().UTC()}
	defer func() {
		result.FinishedAt = time.Now().UTC()
		s.finish(result)
	}()

	s.logger.Info("Sync cycle started")
	fetched := s.fetchAll(ctx)

	steps := []struct {
		source string
		apply  func(context.Context, *fetchResults) (int, error)
	}{
		{recon.SourceEmails, s.applyEmails},
		{recon.SourceInvoices, s.applyInvoices},
		{recon.SourceReceivedPayments, s.applyReceivedPayments},
		{recon.SourcePayments, s.applyPayments},
		{recon.SourceFundingMatcher, s.runMatcherPass},
	}

	var storeErr error
	for _, step := range steps {
		if storeErr != nil {
			break
		}
		stepCtx, stepSpan := telemetry.StartSpan(ctx, "sync_cycle."+step.source,
			telemetry.WithAttribute(telemetry.SpanAttrStep, step.source))

		var count int
		var err error
		telemetry.WithProfilingLabels(stepCtx, telemetry.SyncStepLabels(step.source, ""), func(c context.Context) {
			count, err = step.apply(c, fetched)
		})

		status := recon.SyncStatusOK
		switch {
		case errors.Is(err, errSourceDisabled):
			status = recon.SyncStatusSkipped
		case err != nil:
			status = recon.FormatSyncError(err)
			s.logger.Error("Sync step failed",
				zap.String("source", step.source),
				zap.Int("count", count),
				zap.Error(err))
			if fatalStoreError(err) {
				storeErr = err
				result.Aborted = true
			}
			telemetry.RecordError(stepSpan, err)
		}

		telemetry.SetAttributes(stepSpan, "count", count, "status", status)
		stepSpan.End()

		s.recordStep(ctx, step.source, count, status)
		result.Steps = append(result.Steps, StepResult{
			Source: step.source,
			Count:  count,
			Status: status,
		})
	}

	cycleStatus := recon.SyncStatusOK
	if storeErr != nil {
		cycleStatus = recon.FormatSyncError(storeErr)
	}
	total := 0
	for _, st := range result.Steps {
		total += st.Count
	}
	s.recordStep(ctx, recon.SourceCycle, total, cycleStatus)

	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}

	fields := make([]zap.Field, 0, len(result.Steps)+1)
	fields = append(fields, zap.Duration("elapsed", time.Since(result.StartedAt)))
	for _, st := range result.Steps {
		fields = append(fields, zap.String(st.Source, fmt.Sprintf("%d %s", st.Count, st.Status)))
	}
	if storeErr != nil {
		telemetry.RecordError(span, storeErr)
		s.logger.Error("Sync cycle aborted", fields...)
		return result, storeErr
	}
	telemetry.SetOK(span)
	s.logger.Info("Sync cycle complete", fields...)
	return result, nil
}

// fetchAll pulls every enabled source concurrently. Fetch errors are
// carried per source so the apply phase can degrade one step without
// touching the others.
func (s *SyncService) fetchAll(ctx context.Context) *fetchResults {
	res := &fetchResults{}
	var wg sync.WaitGroup

	if s.emails != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.emails, res.emailErr = s.emails.FetchEmails(ctx, s.emailDaysBack)
		}()
	}
	if s.invoices != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.invoices, res.invoiceErr = s.invoices.FetchInvoices(ctx, s.invoiceDaysBack)
			res.payruns, res.payrunErr = s.invoices.FetchPayruns(ctx, s.invoiceDaysBack)
		}()
	}
	if s.payments != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res.receipts, res.receiptErr = s.payments.FetchReceivedPayments(ctx)
		}()
		go func() {
			defer wg.Done()
			res.payments, res.paymentErr = s.payments.FetchPayments(ctx)
		}()
	}

	wg.Wait()
	return res
}

// applyEmails caches every fetched email and upserts one remittance leg
// per NVC line, one transaction per email. Returns the number of lines
// upserted.
func (s *SyncService) applyEmails(ctx context.Context, fetched *fetchResults) (int, error) {
	if s.emails == nil {
		return 0, errSourceDisabled
	}
	if fetched.emailErr != nil {
		return 0, fetched.emailErr
	}

	count := 0
	for i := range fetched.emails {
		batch := &fetched.emails[i]
		lines, err := s.upsertEmailBatch(ctx, batch)
		count += lines
		if err == nil {
			continue
		}
		if fatalStoreError(err) {
			return count, err
		}
		s.logger.Warn("Email batch rejected",
			zap.String("email_id", batch.Email.ID),
			zap.String("source", batch.Email.Source),
			zap.Error(err))
	}
	s.logger.Info("Applied remittance emails",
		zap.Int("emails", len(fetched.emails)),
		zap.Int("lines", count))
	return count, nil
}

func (s *SyncService) upsertEmailBatch(ctx context.Context, batch *recon.EmailBatch) (int, error) {
	var (
		lines   int
		changed []*recon.ReconciliationRecord
	)
	err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
		lines = 0
		changed = changed[:0]

		if err := tx.Emails.Upsert(ctx, batch.Email); err != nil {
			return err
		}
		if batch.Email.ManualReview || batch.Advice == nil {
			return nil
		}

		// Upsert never touches the funding linkage, so re-read it: lines
		// observed after the email was matched must inherit the funding
		// leg like the lines that triggered the match.
		funding, err := s.storedFundingLeg(ctx, tx, batch.Email.ID)
		if err != nil {
			return err
		}

		date := batch.Advice.PaymentDate
		if date == nil {
			date = batch.Email.EmailDate
		}

		for _, line := range batch.Advice.Lines {
			if !recon.IsNVCCode(line.NVCCode) {
				continue
			}
			record, err := tx.Records.FindByNVC(ctx, line.NVCCode)
			if err != nil {
				return err
			}
			if record == nil {
				record, err = recon.NewReconciliationRecord(line.NVCCode)
				if err != nil {
					return err
				}
			}
			record.ApplyRemittance(recon.RemittanceLeg{
				Amount:  line.AmountPaid,
				Date:    date,
				Source:  batch.Email.Source,
				EmailID: batch.Email.ID,
			})
			if funding != nil {
				record.ApplyFunding(*funding)
			}
			record.Reclassify(s.rules)
			if err := tx.Records.Save(ctx, record); err != nil {
				return err
			}
			changed = append(changed, record)
			lines++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, rec := range changed {
		s.publishEvents(ctx, rec)
	}
	return lines, nil
}

// storedFundingLeg returns the funding leg to inherit when the stored
// email is already linked to a received payment, nil otherwise.
func (s *SyncService) storedFundingLeg(ctx context.Context, tx recon.RepositorySet, emailID string) (*recon.FundingLeg, error) {
	stored, err := tx.Emails.FindByID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if stored == nil || !stored.IsLinked() {
		return nil, nil
	}
	rp, err := tx.ReceivedPayments.FindByID(ctx, stored.ReceivedPaymentID)
	if err != nil {
		return nil, err
	}
	if rp == nil {
		return nil, nil
	}
	return &recon.FundingLeg{
		ReceivedPaymentID: rp.ID,
		Amount:            rp.Amount,
		Date:              rp.PaymentDate,
	}, nil
}

// applyInvoices refreshes the invoice and payrun caches and upserts one
// invoice leg per NVC code. Cache failures degrade to a warning; the
// record upserts are what the step is counted on.
func (s *SyncService) applyInvoices(ctx context.Context, fetched *fetchResults) (int, error) {
	if s.invoices == nil {
		return 0, errSourceDisabled
	}
	if fetched.invoiceErr != nil {
		return 0, fetched.invoiceErr
	}

	if err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
		return tx.Invoices.UpsertBatch(ctx, fetched.invoices)
	}); err != nil {
		if fatalStoreError(err) {
			return 0, err
		}
		s.logger.Warn("Invoice cache refresh failed", zap.Error(err))
	}

	if fetched.payrunErr != nil {
		s.logger.Warn("Payrun fetch failed", zap.Error(fetched.payrunErr))
	} else if len(fetched.payruns) > 0 {
		if err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
			return tx.Payruns.UpsertBatch(ctx, fetched.payruns)
		}); err != nil {
			if fatalStoreError(err) {
				return 0, err
			}
			s.logger.Warn("Payrun cache refresh failed", zap.Error(err))
		}
	}

	count := 0
	for i := range fetched.invoices {
		inv := &fetched.invoices[i]
		if !recon.IsNVCCode(inv.NVCCode) {
			continue
		}
		err := s.upsertInvoiceRecord(ctx, inv)
		if err == nil {
			count++
			continue
		}
		if fatalStoreError(err) {
			return count, err
		}
		s.logger.Warn("Invoice upsert rejected",
			zap.String("nvc_code", inv.NVCCode),
			zap.Error(err))
	}
	s.logger.Info("Applied invoices",
		zap.Int("fetched", len(fetched.invoices)),
		zap.Int("upserted", count),
		zap.Int("payruns", len(fetched.payruns)))
	return count, nil
}

func (s *SyncService) upsertInvoiceRecord(ctx context.Context, inv *recon.CachedInvoice) error {
	var record *recon.ReconciliationRecord
	err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
		var err error
		record, err = tx.Records.FindByNVC(ctx, inv.NVCCode)
		if err != nil {
			return err
		}
		if record == nil {
			record, err = recon.NewReconciliationRecord(inv.NVCCode)
			if err != nil {
				return err
			}
		}
		record.ApplyInvoice(recon.InvoiceLeg{
			Amount:    inv.TotalAmount,
			Status:    inv.StatusLabel,
			Tenant:    inv.Tenant,
			PayrunRef: inv.PayrunID,
			Currency:  inv.Currency,
		})
		record.Reclassify(s.rules)
		return tx.Records.Save(ctx, record)
	})
	if err != nil {
		return err
	}
	s.publishEvents(ctx, record)
	return nil
}

// applyReceivedPayments upserts the fetched receipts. Source columns
// only: a re-observed receipt never loses its match state.
func (s *SyncService) applyReceivedPayments(ctx context.Context, fetched *fetchResults) (int, error) {
	if s.payments == nil {
		return 0, errSourceDisabled
	}
	if fetched.receiptErr != nil {
		return 0, fetched.receiptErr
	}

	count := 0
	for i := range fetched.receipts {
		rp := &fetched.receipts[i]
		err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
			return tx.ReceivedPayments.Upsert(ctx, rp)
		})
		if err == nil {
			count++
			continue
		}
		if fatalStoreError(err) {
			return count, err
		}
		s.logger.Warn("Received payment rejected",
			zap.String("payment_id", rp.ID),
			zap.Error(err))
	}
	s.logger.Info("Applied received payments", zap.Int("count", count))
	return count, nil
}

// applyPayments caches every fetched outbound payment and upserts one
// payment leg per NVC-coded reference. Payments without an NVC code stay
// in the cache for browsing but feed no reconciliation row.
func (s *SyncService) applyPayments(ctx context.Context, fetched *fetchResults) (int, error) {
	if s.payments == nil {
		return 0, errSourceDisabled
	}
	if fetched.paymentErr != nil {
		return 0, fetched.paymentErr
	}

	if err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
		return tx.Payments.UpsertBatch(ctx, fetched.payments)
	}); err != nil {
		if fatalStoreError(err) {
			return 0, err
		}
		s.logger.Warn("Payment cache refresh failed", zap.Error(err))
	}

	count := 0
	for i := range fetched.payments {
		payment := &fetched.payments[i]
		if !payment.HasNVC() {
			continue
		}
		err := s.upsertPaymentRecord(ctx, payment)
		if err == nil {
			count++
			continue
		}
		if fatalStoreError(err) {
			return count, err
		}
		s.logger.Warn("Payment upsert rejected",
			zap.String("payment_id", payment.ID),
			zap.String("nvc_code", payment.NVCCode),
			zap.Error(err))
	}
	s.logger.Info("Applied outbound payments",
		zap.Int("fetched", len(fetched.payments)),
		zap.Int("with_nvc", count))
	return count, nil
}

func (s *SyncService) upsertPaymentRecord(ctx context.Context, payment *recon.CachedPayment) error {
	var record *recon.ReconciliationRecord
	err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
		var err error
		record, err = tx.Records.FindByNVC(ctx, payment.NVCCode)
		if err != nil {
			return err
		}
		if record == nil {
			record, err = recon.NewReconciliationRecord(payment.NVCCode)
			if err != nil {
				return err
			}
		}
		record.ApplyPayment(recon.PaymentLeg{
			Amount:           payment.Amount,
			AccountID:        payment.AccountID,
			Date:             payment.PaymentDate,
			Currency:         payment.Currency,
			Status:           payment.Status,
			Recipient:        payment.RecipientName,
			RecipientCountry: payment.RecipientCountry,
		})
		record.Reclassify(s.rules)
		return tx.Records.Save(ctx, record)
	})
	if err != nil {
		return err
	}
	s.publishEvents(ctx, record)
	return nil
}

// runMatcherPass scores every unmatched received payment against the
// unlinked remittance emails. Scores in the auto band link and cascade;
// scores in the suggest band only annotate the receipt for an operator.
// The pass runs on stored rows, so it covers data from earlier cycles
// even when this cycle's source steps failed. Returns the number of
// auto-links made.
func (s *SyncService) runMatcherPass(ctx context.Context, _ *fetchResults) (int, error) {
	unmatched, err := s.repos.ReceivedPayments.FindUnmatched(ctx)
	if err != nil {
		return 0, err
	}
	if len(unmatched) == 0 {
		s.logger.Debug("No unmatched received payments")
		return 0, nil
	}
	candidates, err := s.repos.Records.UnlinkedEmailCandidates(ctx)
	if err != nil {
		return 0, err
	}

	matched := 0
	for i := range unmatched {
		rp := &unmatched[i]
		best, score, ok := s.matcher.BestCandidate(rp, candidates)
		if !ok {
			continue
		}

		switch s.matcher.Decide(score.Total) {
		case recon.DecisionAuto:
			outcome, err := s.autoLink(ctx, rp.ID, best.EmailID, score.Total)
			if err != nil {
				if fatalStoreError(err) {
					return matched, err
				}
				s.logger.Warn("Auto-link rejected",
					zap.String("payment_id", rp.ID),
					zap.String("email_id", best.EmailID),
					zap.Error(err))
				continue
			}
			matched++
			// A linked email leaves the candidate set for the rest of
			// the pass.
			candidates = withoutCandidate(candidates, best.EmailID)
			s.logger.Info("Matched received payment",
				zap.String("payment_id", rp.ID),
				zap.String("amount", rp.Amount.String()),
				zap.String("email_id", best.EmailID),
				zap.Float64("score", score.Total),
				zap.Int("nvc_count", len(outcome.records)))
		case recon.DecisionSuggest:
			if err := s.suggestLink(ctx, rp.ID, best.EmailID, score.Total); err != nil {
				if fatalStoreError(err) {
					return matched, err
				}
				s.logger.Warn("Suggestion rejected",
					zap.String("payment_id", rp.ID),
					zap.String("email_id", best.EmailID),
					zap.Error(err))
			}
		}
	}

	s.logger.Info("Lump-sum matcher pass complete",
		zap.Int("unmatched", len(unmatched)),
		zap.Int("auto_linked", matched))
	return matched, nil
}

func (s *SyncService) autoLink(ctx context.Context, rpID, emailID string, score float64) (*linkOutcome, error) {
	var outcome *linkOutcome
	err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
		var err error
		outcome, err = applyFundingLink(ctx, tx, s.rules, rpID, emailID, score, recon.MatchMethodAuto)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publishEvents(ctx, outcome.carriers()...)
	return outcome, nil
}

func (s *SyncService) suggestLink(ctx context.Context, rpID, emailID string, score float64) error {
	return s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
		rp, err := tx.ReceivedPayments.FindByID(ctx, rpID)
		if err != nil {
			return err
		}
		if rp == nil || rp.MatchStatus != recon.RPStatusUnmatched {
			return nil
		}
		rp.Suggest(emailID, score)
		return tx.ReceivedPayments.Save(ctx, rp)
	})
}

func withoutCandidate(candidates []recon.EmailCandidate, emailID string) []recon.EmailCandidate {
	remaining := candidates[:0]
	for _, cand := range candidates {
		if cand.EmailID != emailID {
			remaining = append(remaining, cand)
		}
	}
	return remaining
}

// recordStep writes one step outcome into sync_state. Best effort: when
// the store is down the cycle already carries the abort.
func (s *SyncService) recordStep(ctx context.Context, source string, count int, status string) {
	if err := s.repos.SyncState.Record(ctx, source, count, status); err != nil {
		s.logger.Warn("Sync state write failed",
			zap.String("source", source),
			zap.Error(err))
	}
}

func (s *SyncService) publishEvents(ctx context.Context, carriers ...eventCarrier) {
	publishCarriers(ctx, s.publisher, s.logger, carriers...)
}

// fatalStoreError reports whether err means the local store itself is
// broken, which aborts the cycle. Source adapters wrap their failures in
// typed domain errors, so an untyped error here is a store driver error.
func fatalStoreError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, shared.ErrStoreUnavailable) {
		return true
	}
	var domainErr *shared.DomainError
	return !errors.As(err, &domainErr)
}
