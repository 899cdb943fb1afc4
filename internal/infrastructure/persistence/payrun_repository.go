package persistence

import (
	"context"
	"fmt"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPayrunRepository implements PayrunRepository using GORM
type GormPayrunRepository struct {
	db *gorm.DB
}

// NewGormPayrunRepository creates a new GormPayrunRepository
func NewGormPayrunRepository(db *gorm.DB) *GormPayrunRepository {
	return &GormPayrunRepository{db: db}
}

// UpsertBatch refreshes the cache for a fetched batch
func (r *GormPayrunRepository) UpsertBatch(ctx context.Context, payruns []recon.CachedPayrun) error {
	if len(payruns) == 0 {
		return nil
	}
	rows := make([]models.PayrunModel, len(payruns))
	for i := range payruns {
		rows[i].FromDomain(&payruns[i])
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		CreateInBatches(rows, 100).Error
}

// FindAll lists cached pay runs with filtering
func (r *GormPayrunRepository) FindAll(ctx context.Context, filter recon.PayrunFilter) ([]recon.CachedPayrun, int64, error) {
	filter.Normalize()

	var total int64
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.PayrunModel{}), filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, PayrunSortFields, "created_date")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var rows []models.PayrunModel
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.PayrunModel{}), filter).
		Order(fmt.Sprintf("%s %s", orderBy, orderDir)).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	payruns := make([]recon.CachedPayrun, len(rows))
	for i := range rows {
		payruns[i] = *rows[i].ToDomain()
	}
	return payruns, total, nil
}

// applyFilter applies PayrunFilter criteria to a query
func (r *GormPayrunRepository) applyFilter(query *gorm.DB, filter recon.PayrunFilter) *gorm.DB {
	if filter.Tenant != "" {
		query = query.Where("tenant LIKE ?", "%"+filter.Tenant+"%")
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.DateFrom != nil {
		query = query.Where("created_date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("created_date <= ?", *filter.DateTo)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("reference LIKE ? OR batch_reference LIKE ?", pattern, pattern)
	}
	return query
}
