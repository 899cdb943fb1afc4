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

// GormInvoiceRepository implements InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// UpsertBatch refreshes the cache for a fetched batch
func (r *GormInvoiceRepository) UpsertBatch(ctx context.Context, invoices []recon.CachedInvoice) error {
	if len(invoices) == 0 {
		return nil
	}
	rows := make([]models.InvoiceModel, len(invoices))
	for i := range invoices {
		rows[i].FromDomain(&invoices[i])
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "nvc_code"}},
			UpdateAll: true,
		}).
		CreateInBatches(rows, 100).Error
}

// FindByNVC finds one cached invoice; (nil, nil) when absent
func (r *GormInvoiceRepository) FindByNVC(ctx context.Context, nvcCode string) (*recon.CachedInvoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		First(&model, "nvc_code = ?", nvcCode).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists cached invoices with filtering
func (r *GormInvoiceRepository) FindAll(ctx context.Context, filter recon.InvoiceFilter) ([]recon.CachedInvoice, int64, error) {
	filter.Normalize()

	var total int64
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.InvoiceModel{}), filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, InvoiceSortFields, "created_date")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var rows []models.InvoiceModel
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.InvoiceModel{}), filter).
		Order(fmt.Sprintf("%s %s", orderBy, orderDir)).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	invoices := make([]recon.CachedInvoice, len(rows))
	for i := range rows {
		invoices[i] = *rows[i].ToDomain()
	}
	return invoices, total, nil
}

// applyFilter applies InvoiceFilter criteria to a query
func (r *GormInvoiceRepository) applyFilter(query *gorm.DB, filter recon.InvoiceFilter) *gorm.DB {
	if filter.Tenant != "" {
		query = query.Where("tenant LIKE ?", "%"+filter.Tenant+"%")
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.StatusLabel != "" {
		// Labels are derived from the code, never stored.
		if code, ok := recon.InvoiceStatusCode(filter.StatusLabel); ok {
			query = query.Where("status = ?", code)
		} else {
			query = query.Where("1 = 0")
		}
	}
	if filter.DateFrom != nil {
		query = query.Where("created_date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("created_date <= ?", *filter.DateTo)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("nvc_code LIKE ? OR invoice_number LIKE ?", pattern, pattern)
	}
	return query
}
