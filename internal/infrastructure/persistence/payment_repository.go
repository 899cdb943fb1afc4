package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPaymentRepository implements PaymentRepository using GORM
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// UpsertBatch refreshes the cache for a fetched batch
func (r *GormPaymentRepository) UpsertBatch(ctx context.Context, payments []recon.CachedPayment) error {
	if len(payments) == 0 {
		return nil
	}
	rows := make([]models.PaymentModel, len(payments))
	for i := range payments {
		rows[i].FromDomain(&payments[i])
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		CreateInBatches(rows, 100).Error
}

// FindByID finds one cached payment; (nil, nil) when absent
func (r *GormPaymentRepository) FindByID(ctx context.Context, id string) (*recon.CachedPayment, error) {
	var model models.PaymentModel
	if err := r.db.WithContext(ctx).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByNVC finds cached payments for one NVC code
func (r *GormPaymentRepository) FindByNVC(ctx context.Context, nvcCode string) ([]recon.CachedPayment, error) {
	var rows []models.PaymentModel
	if err := r.db.WithContext(ctx).
		Where("nvc_code = ?", nvcCode).
		Order("payment_date DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainPayments(rows), nil
}

// LookupByNVCs finds cached payments for a set of NVC codes
func (r *GormPaymentRepository) LookupByNVCs(ctx context.Context, nvcCodes []string) ([]recon.CachedPayment, error) {
	if len(nvcCodes) == 0 {
		return nil, nil
	}
	var rows []models.PaymentModel
	if err := r.db.WithContext(ctx).
		Where("nvc_code IN ?", nvcCodes).
		Order("nvc_code ASC, payment_date DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainPayments(rows), nil
}

// FindAll lists cached payments with filtering
func (r *GormPaymentRepository) FindAll(ctx context.Context, filter recon.PaymentFilter) ([]recon.CachedPayment, int64, error) {
	filter.Normalize()

	var total int64
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.PaymentModel{}), filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, PaymentSortFields, "payment_date")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var rows []models.PaymentModel
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.PaymentModel{}), filter).
		Order(fmt.Sprintf("%s %s", orderBy, orderDir)).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toDomainPayments(rows), total, nil
}

// applyFilter applies PaymentFilter criteria to a query
func (r *GormPaymentRepository) applyFilter(query *gorm.DB, filter recon.PaymentFilter) *gorm.DB {
	if filter.AccountID != "" {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.Tenant != "" {
		query = query.Where("tenant LIKE ?", "%"+filter.Tenant+"%")
	}
	if filter.Currency != "" {
		query = query.Where("currency = ?", filter.Currency)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.WithNVC != nil {
		if *filter.WithNVC {
			query = query.Where("nvc_code <> ''")
		} else {
			query = query.Where("nvc_code = ''")
		}
	}
	if filter.DateFrom != nil {
		query = query.Where("payment_date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("payment_date <= ?", *filter.DateTo)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("nvc_code LIKE ? OR payment_reference LIKE ? OR recipient_name LIKE ?", pattern, pattern, pattern)
	}
	return query
}

// toDomainPayments converts persistence rows to domain payments
func toDomainPayments(rows []models.PaymentModel) []recon.CachedPayment {
	payments := make([]recon.CachedPayment, len(rows))
	for i := range rows {
		payments[i] = *rows[i].ToDomain()
	}
	return payments
}
