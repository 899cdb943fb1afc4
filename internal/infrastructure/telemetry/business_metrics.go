// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"go.opentelemetry.io/otel/metric"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
)

// Sync cycle results for metrics labeling.
const (
	CycleResultOK      = "ok"
	CycleResultError   = "error"
	CycleResultSkipped = "skipped"
)

// ReconMetrics provides business metrics for the reconciliation engine.
// Counters track classification, funding links, flags, sync cycles, and
// remittance parse failures; gauges report the current record and
// received-payment populations by status.
type ReconMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	recordsClassifiedTotal *Counter
	syncCyclesTotal        *Counter
	parseFailuresTotal     *Counter
	fundingLinksTotal      *Counter
	recordsFlaggedTotal    *Counter

	// Histogram metrics
	syncCycleDuration *Histogram

	// Gauge metrics (point-in-time values)
	recordsByStatus          *Gauge
	receivedPaymentsByStatus *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	// Data provider for periodic collection
	stateProvider ReconStateProvider
}

// ReconStateProvider provides reconciliation state for periodic gauge
// collection. This interface allows the telemetry layer to query store
// state without depending on the repositories directly.
type ReconStateProvider interface {
	// GetRecordCountsByStatus returns record counts per match status
	GetRecordCountsByStatus(ctx context.Context) (map[string]int64, error)

	// GetReceivedPaymentCountsByStatus returns received payment counts per
	// match status (unmatched, suggested, matched)
	GetReceivedPaymentCountsByStatus(ctx context.Context) (map[string]int64, error)
}

// ReconMetricsConfig holds configuration for reconciliation metrics.
type ReconMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 5 minutes
	StateProvider   ReconStateProvider
}

// NewReconMetrics creates a new ReconMetrics instance.
func NewReconMetrics(cfg ReconMetricsConfig) (*ReconMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rm := &ReconMetrics{
		meter:         cfg.Meter,
		logger:        logger,
		stopChan:      make(chan struct{}),
		stateProvider: cfg.StateProvider,
	}

	var err error

	// Classification metrics
	rm.recordsClassifiedTotal, err = NewCounter(
		cfg.Meter,
		"recon_records_classified_total",
		"Total number of reclassifications, by resulting match status",
		"{records}",
	)
	if err != nil {
		return nil, err
	}

	// Sync cycle metrics
	rm.syncCyclesTotal, err = NewCounter(
		cfg.Meter,
		"recon_sync_cycles_total",
		"Total number of sync cycles, by result (ok, error, skipped)",
		"{cycles}",
	)
	if err != nil {
		return nil, err
	}

	rm.syncCycleDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "recon_sync_cycle_duration_seconds",
		Description: "Duration of completed sync cycles",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	// Source fetch metrics
	rm.parseFailuresTotal, err = NewCounter(
		cfg.Meter,
		"recon_remittance_parse_failures_total",
		"Total number of remittance attachments that failed to parse",
		"{attachments}",
	)
	if err != nil {
		return nil, err
	}

	// Funding link metrics
	rm.fundingLinksTotal, err = NewCounter(
		cfg.Meter,
		"recon_funding_links_total",
		"Total number of received-payment links, by match method",
		"{links}",
	)
	if err != nil {
		return nil, err
	}

	// Operator flag metrics
	rm.recordsFlaggedTotal, err = NewCounter(
		cfg.Meter,
		"recon_records_flagged_total",
		"Total number of operator flag operations, by flag",
		"{flags}",
	)
	if err != nil {
		return nil, err
	}

	// Population gauges
	rm.recordsByStatus, err = NewGauge(
		cfg.Meter,
		"recon_records",
		"Current number of reconciliation records, by match status",
		"{records}",
	)
	if err != nil {
		return nil, err
	}

	rm.receivedPaymentsByStatus, err = NewGauge(
		cfg.Meter,
		"recon_received_payments",
		"Current number of received payments, by match status",
		"{payments}",
	)
	if err != nil {
		return nil, err
	}

	return rm, nil
}

// =============================================================================
// Classification Metrics
// =============================================================================

// RecordClassified records one reclassification outcome.
func (rm *ReconMetrics) RecordClassified(ctx context.Context, matchStatus string) {
	rm.recordsClassifiedTotal.Inc(ctx,
		AttrMatchStatus.String(matchStatus),
	)
}

// =============================================================================
// Sync Cycle Metrics
// =============================================================================

// RecordSyncCycle records a sync cycle outcome. Skipped ticks carry no
// duration, so the histogram only sees completed cycles.
func (rm *ReconMetrics) RecordSyncCycle(ctx context.Context, result string, elapsed time.Duration) {
	rm.syncCyclesTotal.Inc(ctx,
		AttrCycleResult.String(result),
	)
	if result != CycleResultSkipped {
		rm.syncCycleDuration.RecordDuration(ctx, elapsed,
			AttrCycleResult.String(result),
		)
	}
}

// RecordParseFailure records one remittance attachment that could not be
// decoded or parsed during a fetch.
func (rm *ReconMetrics) RecordParseFailure(ctx context.Context, source string) {
	rm.parseFailuresTotal.Inc(ctx,
		AttrSyncSource.String(source),
	)
}

// =============================================================================
// Funding Link and Flag Metrics
// =============================================================================

// RecordFundingLink records one payment-to-email link by its method.
func (rm *ReconMetrics) RecordFundingLink(ctx context.Context, method string) {
	rm.fundingLinksTotal.Inc(ctx,
		AttrMatchMethod.String(method),
	)
}

// RecordFlag records one operator flag operation.
func (rm *ReconMetrics) RecordFlag(ctx context.Context, flag string) {
	rm.recordsFlaggedTotal.Inc(ctx,
		AttrFlag.String(flag),
	)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection starts periodic collection of population gauges.
// This is non-blocking - use Stop() to stop collection.
func (rm *ReconMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	rm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		go rm.runPeriodicCollection(ctx, interval)
	})
}

// runPeriodicCollection runs the periodic collection loop.
func (rm *ReconMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	rm.collectStateMetrics(ctx)

	for {
		select {
		case <-rm.stopChan:
			rm.logger.Info("Stopping periodic reconciliation metrics collection")
			return
		case <-ctx.Done():
			rm.logger.Info("Context cancelled, stopping periodic reconciliation metrics collection")
			return
		case <-ticker.C:
			rm.collectStateMetrics(ctx)
		}
	}
}

// collectStateMetrics collects the population gauges from the store.
func (rm *ReconMetrics) collectStateMetrics(ctx context.Context) {
	if rm.stateProvider == nil {
		rm.logger.Debug("No state provider configured, skipping population metrics collection")
		return
	}

	recordCounts, err := rm.stateProvider.GetRecordCountsByStatus(ctx)
	if err != nil {
		rm.logger.Warn("Failed to get record counts for metrics collection", zap.Error(err))
	} else {
		for status, count := range recordCounts {
			rm.recordsByStatus.Record(ctx, count,
				AttrMatchStatus.String(status),
			)
		}
	}

	paymentCounts, err := rm.stateProvider.GetReceivedPaymentCountsByStatus(ctx)
	if err != nil {
		rm.logger.Warn("Failed to get received payment counts for metrics collection", zap.Error(err))
	} else {
		for status, count := range paymentCounts {
			rm.receivedPaymentsByStatus.Record(ctx, count,
				AttrMatchStatus.String(status),
			)
		}
	}
}

// Stop stops the periodic collection.
func (rm *ReconMetrics) Stop() {
	rm.stopOnce.Do(func() {
		close(rm.stopChan)
	})
}

// =============================================================================
// Event Subscriber
// =============================================================================

// MetricsSubscriber feeds reconciliation counters from domain events. It is
// registered on the in-memory event bus so the services never talk to the
// metrics layer directly.
type MetricsSubscriber struct {
	metrics *ReconMetrics
}

// NewMetricsSubscriber creates a subscriber feeding the given metrics.
func NewMetricsSubscriber(metrics *ReconMetrics) *MetricsSubscriber {
	return &MetricsSubscriber{metrics: metrics}
}

// EventTypes returns the event types this subscriber consumes.
func (s *MetricsSubscriber) EventTypes() []string {
	return []string{
		"ReconciliationStatusChanged",
		"ReceivedPaymentMatched",
		"RecordFlagged",
	}
}

// Handle records the metric for one domain event. It never returns an
// error: metrics must not fail the publishing operation.
func (s *MetricsSubscriber) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *recon.ReconciliationStatusChangedEvent:
		s.metrics.RecordClassified(ctx, e.CurrentStatus.String())
	case *recon.ReceivedPaymentMatchedEvent:
		s.metrics.RecordFundingLink(ctx, e.Method)
	case *recon.RecordFlaggedEvent:
		s.metrics.RecordFlag(ctx, e.Flag.String())
	}
	return nil
}

// Ensure MetricsSubscriber implements shared.EventHandler
var _ shared.EventHandler = (*MetricsSubscriber)(nil)

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewReconMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
