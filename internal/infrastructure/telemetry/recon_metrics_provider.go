// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"

	"gorm.io/gorm"
)

// GormReconStateProvider implements ReconStateProvider using GORM.
// It queries the reconciliation tables directly for aggregated counts.
type GormReconStateProvider struct {
	db *gorm.DB
}

// NewGormReconStateProvider creates a new GormReconStateProvider.
func NewGormReconStateProvider(db *gorm.DB) *GormReconStateProvider {
	return &GormReconStateProvider{db: db}
}

type statusCount struct {
	MatchStatus string `gorm:"column:match_status"`
	Count       int64  `gorm:"column:count"`
}

// GetRecordCountsByStatus returns record counts per match status.
func (p *GormReconStateProvider) GetRecordCountsByStatus(ctx context.Context) (map[string]int64, error) {
	var results []statusCount
	err := p.db.WithContext(ctx).
		Table("reconciliation_records").
		Select("match_status, COUNT(*) as count").
		Group("match_status").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	m := make(map[string]int64, len(results))
	for _, r := range results {
		m[r.MatchStatus] = r.Count
	}

	return m, nil
}

// GetReceivedPaymentCountsByStatus returns received payment counts per
// match status.
func (p *GormReconStateProvider) GetReceivedPaymentCountsByStatus(ctx context.Context) (map[string]int64, error) {
	var results []statusCount
	err := p.db.WithContext(ctx).
		Table("received_payments").
		Select("match_status, COUNT(*) as count").
		Group("match_status").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	m := make(map[string]int64, len(results))
	for _, r := range results {
		m[r.MatchStatus] = r.Count
	}

	return m, nil
}

// Ensure GormReconStateProvider implements ReconStateProvider
var _ ReconStateProvider = (*GormReconStateProvider)(nil)
