package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// receivedPaymentSourceColumns are the columns refreshed on re-observation.
// The match columns stay untouched so a re-fetch never clobbers a standing
// link or suggestion.
var receivedPaymentSourceColumns = []string{
	"account_id",
	"account_name",
	"amount",
	"currency",
	"payment_date",
	"payment_status",
	"payer_name",
	"raw_info",
	"msl_reference",
	"created_on",
	"fetched_at",
}

// GormReceivedPaymentRepository implements ReceivedPaymentRepository using GORM
type GormReceivedPaymentRepository struct {
	db *gorm.DB
}

// NewGormReceivedPaymentRepository creates a new GormReceivedPaymentRepository
func NewGormReceivedPaymentRepository(db *gorm.DB) *GormReceivedPaymentRepository {
	return &GormReceivedPaymentRepository{db: db}
}

// Upsert refreshes a fetched receipt without touching the match fields
func (r *GormReceivedPaymentRepository) Upsert(ctx context.Context, rp *recon.ReceivedPayment) error {
	model := models.ReceivedPaymentModelFromDomain(rp)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(receivedPaymentSourceColumns),
		}).
		Create(model).Error
}

// Save writes the full row including the match fields
func (r *GormReceivedPaymentRepository) Save(ctx context.Context, rp *recon.ReceivedPayment) error {
	model := models.ReceivedPaymentModelFromDomain(rp)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// FindByID finds one receipt; (nil, nil) when absent
func (r *GormReceivedPaymentRepository) FindByID(ctx context.Context, id string) (*recon.ReceivedPayment, error) {
	var model models.ReceivedPaymentModel
	if err := r.db.WithContext(ctx).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists receipts with filtering, newest first
func (r *GormReceivedPaymentRepository) FindAll(ctx context.Context, filter recon.ReceivedPaymentFilter) ([]recon.ReceivedPayment, int64, error) {
	filter.Normalize()

	var total int64
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.ReceivedPaymentModel{}), filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, ReceivedPaymentSortFields, "payment_date")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var rows []models.ReceivedPaymentModel
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.ReceivedPaymentModel{}), filter).
		Order(fmt.Sprintf("%s %s", orderBy, orderDir)).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toDomainReceivedPayments(rows), total, nil
}

// FindUnmatched lists receipts with no link and no standing suggestion
func (r *GormReceivedPaymentRepository) FindUnmatched(ctx context.Context) ([]recon.ReceivedPayment, error) {
	var rows []models.ReceivedPaymentModel
	if err := r.db.WithContext(ctx).
		Where("match_status = ?", recon.RPStatusUnmatched).
		Order("payment_date ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainReceivedPayments(rows), nil
}

// Summary aggregates receipts by match state
func (r *GormReceivedPaymentRepository) Summary(ctx context.Context) (recon.ReceivedPaymentSummary, error) {
	type statusAgg struct {
		MatchStatus string
		Count       int64
		Amount      decimal.Decimal
	}

	var rows []statusAgg
	if err := r.db.WithContext(ctx).
		Model(&models.ReceivedPaymentModel{}).
		Select("match_status, COUNT(*) as count, COALESCE(SUM(amount), 0) as amount").
		Group("match_status").
		Scan(&rows).Error; err != nil {
		return recon.ReceivedPaymentSummary{}, err
	}

	var summary recon.ReceivedPaymentSummary
	for _, row := range rows {
		summary.Total += row.Count
		summary.TotalAmount = summary.TotalAmount.Add(row.Amount)
		switch recon.RPStatus(row.MatchStatus) {
		case recon.RPStatusMatched:
			summary.Matched = row.Count
			summary.MatchedAmount = row.Amount
		case recon.RPStatusSuggested:
			summary.Suggested = row.Count
		default:
			summary.Unmatched += row.Count
			summary.UnmatchedAmount = summary.UnmatchedAmount.Add(row.Amount)
		}
	}
	return summary, nil
}

// applyFilter applies ReceivedPaymentFilter criteria to a query
func (r *GormReceivedPaymentRepository) applyFilter(query *gorm.DB, filter recon.ReceivedPaymentFilter) *gorm.DB {
	if filter.AccountID != "" {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.MatchStatus != nil {
		query = query.Where("match_status = ?", *filter.MatchStatus)
	}
	if filter.Payer != "" {
		query = query.Where("payer_name LIKE ?", "%"+filter.Payer+"%")
	}
	if filter.DateFrom != nil {
		query = query.Where("payment_date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("payment_date <= ?", *filter.DateTo)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("payer_name LIKE ? OR raw_info LIKE ? OR msl_reference LIKE ?", pattern, pattern, pattern)
	}
	return query
}

// toDomainReceivedPayments converts persistence rows to domain receipts
func toDomainReceivedPayments(rows []models.ReceivedPaymentModel) []recon.ReceivedPayment {
	payments := make([]recon.ReceivedPayment, len(rows))
	for i := range rows {
		payments[i] = *rows[i].ToDomain()
	}
	return payments
}
