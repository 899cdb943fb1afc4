package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
)

// RuntimeSettings is the non-secret slice of configuration echoed by the
// config endpoint. Built once at wiring time; nothing here may carry a
// credential.
type RuntimeSettings struct {
	Environment         string   `json:"environment"`
	Driver              string   `json:"driver"`
	AmountTolerance     float64  `json:"amount_tol"`
	DateWindowDays      int      `json:"date_window_days"`
	AutoMatchConfidence float64  `json:"auto_match_confidence"`
	SuggestConfidence   float64  `json:"suggest_confidence"`
	SyncEnabled         bool     `json:"sync_enabled"`
	SyncIntervalSeconds int      `json:"sync_interval_seconds"`
	EmailSources        []string `json:"email_sources"`
	EmailDaysBack       int      `json:"email_days_back"`
	InvoiceDaysBack     int      `json:"invoice_days_back"`
	AgencyAliases       int      `json:"agency_aliases"`
}

// OverviewService composes the dashboard read model from the per-entity
// summaries and caches the rendered result between sync cycles.
type OverviewService struct {
	records          recon.ReconciliationRepository
	emails           recon.EmailRepository
	receivedPayments recon.ReceivedPaymentRepository
	syncState        recon.SyncStateRepository
	cache            ReadCache
	settings         RuntimeSettings
	logger           *zap.Logger
}

// NewOverviewService creates a new overview service
func NewOverviewService(
	records recon.ReconciliationRepository,
	emails recon.EmailRepository,
	receivedPayments recon.ReceivedPaymentRepository,
	syncState recon.SyncStateRepository,
	cache ReadCache,
	settings RuntimeSettings,
	logger *zap.Logger,
) *OverviewService {
	return &OverviewService{
		records:          records,
		emails:           emails,
		receivedPayments: receivedPayments,
		syncState:        syncState,
		cache:            cache,
		settings:         settings,
		logger:           logger,
	}
}

// ===================== Overview Operations =====================

// OverviewResponse represents the dashboard aggregate
type OverviewResponse struct {
	WindowDays int `json:"window_days"`

	Records          recon.StatusSummary          `json:"records"`
	MatchRate        float64                      `json:"match_rate"`
	MatchRate2Way    float64                      `json:"match_rate_2way"`
	StatusIssues     int64                        `json:"status_issues"`
	NewRecords       int64                        `json:"new_records"`
	NewEmails        int64                        `json:"new_emails"`
	Emails           recon.EmailStats             `json:"emails"`
	ReceivedPayments recon.ReceivedPaymentSummary `json:"received_payments"`
	Tenants          []recon.TenantSummary        `json:"tenants"`

	Sync   map[string]string `json:"sync"`
	Errors map[string]string `json:"errors"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Overview aggregates counts and totals for the dashboard. The result is
// cached until the next sync cycle invalidates it.
func (s *OverviewService) Overview(ctx context.Context, days int) (*OverviewResponse, error) {
	if days < 1 || days > 365 {
		days = 7
	}

	cacheKey := fmt.Sprintf("overview:%d", days)
	if s.cache != nil {
		if payload, ok := s.cache.Get(ctx, cacheKey); ok {
			var cached OverviewResponse
			if err := json.Unmarshal(payload, &cached); err == nil {
				return &cached, nil
			}
			s.logger.Warn("Discarding undecodable overview cache entry", zap.String("key", cacheKey))
		}
	}

	resp, err := s.buildOverview(ctx, days)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(resp); err == nil {
			s.cache.Set(ctx, cacheKey, payload)
		}
	}
	return resp, nil
}

func (s *OverviewService) buildOverview(ctx context.Context, days int) (*OverviewResponse, error) {
	summary, err := s.records.Summary(ctx)
	if err != nil {
		return nil, err
	}
	tenants, err := s.records.TenantBreakdown(ctx)
	if err != nil {
		return nil, err
	}
	emailStats, err := s.emails.Stats(ctx)
	if err != nil {
		return nil, err
	}
	rpSummary, err := s.receivedPayments.Summary(ctx)
	if err != nil {
		return nil, err
	}
	states, err := s.syncState.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	windowStart := time.Now().UTC().AddDate(0, 0, -days)
	_, newRecords, err := s.records.FindAll(ctx, recon.RecordFilter{
		Filter:   shared.Filter{Limit: 1},
		DateFrom: &windowStart,
	})
	if err != nil {
		return nil, err
	}
	_, newEmails, err := s.emails.FindAll(ctx, recon.EmailFilter{
		Filter:   shared.Filter{Limit: 1},
		DateFrom: &windowStart,
	})
	if err != nil {
		return nil, err
	}

	resp := &OverviewResponse{
		WindowDays:       days,
		Records:          summary,
		StatusIssues:     summary.ByStatus[recon.StatusIssue],
		NewRecords:       newRecords,
		NewEmails:        newEmails,
		Emails:           emailStats,
		ReceivedPayments: rpSummary,
		Tenants:          tenants,
		Sync:             make(map[string]string, len(states)),
		Errors:           map[string]string{},
		GeneratedAt:      time.Now().UTC(),
	}

	if summary.Total > 0 {
		full := summary.ByStatus[recon.StatusFull4Way]
		twoWay := full +
			summary.ByStatus[recon.StatusAwaitingPayment] +
			summary.ByStatus[recon.StatusNoFunding] +
			summary.ByStatus[recon.Status2WayMatched]
		resp.MatchRate = round1(float64(full) / float64(summary.Total) * 100)
		resp.MatchRate2Way = round1(float64(twoWay) / float64(summary.Total) * 100)
	}

	for i := range states {
		state := &states[i]
		resp.Sync[state.Source] = state.Status
		if !state.Healthy() && state.Status != recon.SyncStatusSkipped {
			resp.Errors[state.Source] = state.Status
		}
	}
	return resp, nil
}

// ===================== Cross-Search Operations =====================

// CrossSearchFilter carries the query parameters for cross-search
type CrossSearchFilter struct {
	Q         string   `form:"q"`
	Source    string   `form:"source"`
	AmountMin *float64 `form:"amount_min"`
	AmountMax *float64 `form:"amount_max"`
	Tenant    string   `form:"tenant"`
	Limit     int      `form:"limit"`
}

// CrossSearchResponse represents one source's search hits. Only the slice
// matching the source is populated.
type CrossSearchResponse struct {
	Source  string           `json:"source"`
	Count   int              `json:"count"`
	Emails  []EmailResponse  `json:"emails,omitempty"`
	Records []RecordResponse `json:"records,omitempty"`
}

// CrossSearch searches one source's cache by text and amount range.
// Source is emails, invoices or payments; the latter two search the
// reconciliation rows by the leg's amount.
func (s *OverviewService) CrossSearch(ctx context.Context, filter CrossSearchFilter) (*CrossSearchResponse, error) {
	source := filter.Source
	if source == "" {
		source = "invoices"
	}

	var amountMin, amountMax *decimal.Decimal
	if filter.AmountMin != nil {
		v := decimal.NewFromFloat(*filter.AmountMin)
		amountMin = &v
	}
	if filter.AmountMax != nil {
		v := decimal.NewFromFloat(*filter.AmountMax)
		amountMax = &v
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	resp := &CrossSearchResponse{Source: source}
	switch source {
	case "emails":
		emails, _, err := s.emails.FindAll(ctx, recon.EmailFilter{
			Filter:    shared.Filter{Limit: limit, Search: filter.Q},
			AmountMin: amountMin,
			AmountMax: amountMax,
		})
		if err != nil {
			return nil, err
		}
		resp.Emails = make([]EmailResponse, len(emails))
		for i := range emails {
			resp.Emails[i] = toEmailResponse(&emails[i])
		}
		resp.Count = len(resp.Emails)
	case "invoices", "payments":
		field := recon.AmountFieldInvoice
		if source == "payments" {
			field = recon.AmountFieldPayment
		}
		records, err := s.records.AmountSearch(ctx, recon.AmountSearchQuery{
			Field:     field,
			NVCSearch: filter.Q,
			Tenant:    filter.Tenant,
			AmountMin: amountMin,
			AmountMax: amountMax,
			Limit:     limit,
		})
		if err != nil {
			return nil, err
		}
		resp.Records = toRecordResponses(records)
		resp.Count = len(resp.Records)
	default:
		return nil, shared.NewDomainError("INVALID_SOURCE", "Source must be emails, invoices or payments")
	}
	return resp, nil
}

// ===================== Sync Status Operations =====================

// SyncStatusResponse represents the per-source sync state
type SyncStatusResponse struct {
	Sources []recon.SyncState `json:"sources"`
	Healthy bool              `json:"healthy"`
}

// SyncStatus lists every source's last sync outcome. Healthy means no
// source is in an error state; sources that never ran or were skipped do
// not count against health.
func (s *OverviewService) SyncStatus(ctx context.Context) (*SyncStatusResponse, error) {
	states, err := s.syncState.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	resp := &SyncStatusResponse{Sources: states, Healthy: true}
	for i := range states {
		if strings.HasPrefix(states[i].Status, "error") {
			resp.Healthy = false
			break
		}
	}
	return resp, nil
}

// ===================== Config Operations =====================

// Config echoes the effective non-secret runtime settings.
func (s *OverviewService) Config() RuntimeSettings {
	return s.settings
}

// ===================== Helper Functions =====================

// round1 rounds a percentage to one decimal for presentation.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
