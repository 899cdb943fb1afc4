package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/payops/recon/internal/application/recon"
	"github.com/payops/recon/internal/infrastructure/telemetry"
)

// CycleRunner runs one reconciliation sync cycle. Implemented by the
// application SyncService; the engine itself rejects overlapping cycles.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*recon.CycleResult, error)
	Running() bool
	LastResult() *recon.CycleResult
}

// CycleMetrics records sync cycle outcomes. Implemented by
// telemetry.ReconMetrics.
type CycleMetrics interface {
	RecordSyncCycle(ctx context.Context, result string, elapsed time.Duration)
}

// SyncSchedulerConfig holds configuration for the sync scheduler
type SyncSchedulerConfig struct {
	// Enabled gates the interval loop. Manual triggers work either way.
	Enabled bool

	// Interval is the time between cycles and the deadline for each one.
	Interval time.Duration
}

// DefaultSyncSchedulerConfig returns default sync scheduler configuration
func DefaultSyncSchedulerConfig() SyncSchedulerConfig {
	return SyncSchedulerConfig{
		Enabled:  true,
		Interval: 5 * time.Minute,
	}
}

// Validate validates the configuration. The interval must be positive
// even when the loop is disabled: manual runs use it as their deadline.
func (c *SyncSchedulerConfig) Validate() error {
	if c.Interval <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// SyncScheduler drives reconciliation sync cycles on a fixed interval.
// Each cycle runs under a deadline equal to the interval; a tick that
// lands while the previous cycle is still in flight is dropped and the
// engine records it as a skipped cycle.
type SyncScheduler struct {
	config  SyncSchedulerConfig
	runner  CycleRunner
	logger  *zap.Logger
	metrics CycleMetrics

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// SchedulerOption configures optional collaborators of the scheduler.
type SchedulerOption func(*SyncScheduler)

// WithCycleMetrics enables recording of cycle outcomes to the metrics layer.
func WithCycleMetrics(m CycleMetrics) SchedulerOption {
	return func(s *SyncScheduler) {
		s.metrics = m
	}
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(config SyncSchedulerConfig, runner CycleRunner, logger *zap.Logger, opts ...SchedulerOption) (*SyncScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &SyncScheduler{
		config: config,
		runner: runner,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the interval loop. When sync is disabled in config the
// scheduler stays idle and only manual triggers run cycles.
func (s *SyncScheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Sync scheduler disabled, interval loop not started")
		return nil
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Sync scheduler started",
		zap.Duration("interval", s.config.Interval))

	return nil
}

// Stop stops the interval loop and waits for any in-flight cycle,
// including manual ones, until ctx expires.
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerManualRun starts one cycle in the background, detached from the
// caller's request context. Returns ErrSyncRunning when a cycle is
// already in flight. Works whether or not the interval loop is enabled.
func (s *SyncScheduler) TriggerManualRun() error {
	if s.runner.Running() {
		return recon.ErrSyncRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
		defer cancel()
		result, err := s.runner.RunCycle(ctx)
		s.recordOutcome(ctx, result, err)
		if err != nil && !errors.Is(err, recon.ErrSyncRunning) {
			s.logger.Error("Manual sync cycle failed", zap.Error(err))
		}
	}()

	s.logger.Info("Manual sync cycle triggered")
	return nil
}

// SyncSchedulerStatus describes the scheduler for the sync status API.
type SyncSchedulerStatus struct {
	Enabled         bool               `json:"enabled"`
	IntervalSeconds int                `json:"interval_seconds"`
	CycleRunning    bool               `json:"cycle_running"`
	LastCycle       *recon.CycleResult `json:"last_cycle,omitempty"`
}

// Status reports the scheduler configuration and the engine's cycle state.
func (s *SyncScheduler) Status() SyncSchedulerStatus {
	return SyncSchedulerStatus{
		Enabled:         s.config.Enabled,
		IntervalSeconds: int(s.config.Interval / time.Second),
		CycleRunning:    s.runner.Running(),
		LastCycle:       s.runner.LastResult(),
	}
}

// runLoop runs one cycle immediately, then one per tick.
func (s *SyncScheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	s.runCycle(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle runs one cycle under a deadline equal to the interval.
func (s *SyncScheduler) runCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, s.config.Interval)
	defer cancel()

	result, err := s.runner.RunCycle(cycleCtx)
	s.recordOutcome(cycleCtx, result, err)
	switch {
	case errors.Is(err, recon.ErrSyncRunning):
		s.logger.Warn("Previous sync cycle still in flight, tick skipped")
	case err != nil:
		s.logger.Error("Sync cycle failed", zap.Error(err))
	default:
		s.logger.Debug("Sync cycle finished",
			zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
			zap.Int("steps", len(result.Steps)))
	}
}

// recordOutcome feeds the cycle counters, mirroring what the engine
// writes to sync_state: completed cycles and overlap skips.
func (s *SyncScheduler) recordOutcome(ctx context.Context, result *recon.CycleResult, err error) {
	if s.metrics == nil {
		return
	}
	var elapsed time.Duration
	if result != nil {
		elapsed = result.FinishedAt.Sub(result.StartedAt)
	}
	switch {
	case errors.Is(err, recon.ErrSyncRunning):
		s.metrics.RecordSyncCycle(ctx, telemetry.CycleResultSkipped, 0)
	case err != nil:
		s.metrics.RecordSyncCycle(ctx, telemetry.CycleResultError, elapsed)
	default:
		s.metrics.RecordSyncCycle(ctx, telemetry.CycleResultOK, elapsed)
	}
}
