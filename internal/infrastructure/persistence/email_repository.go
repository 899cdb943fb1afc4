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

// emailFingerprintColumns are the columns refreshed on re-observation.
// The funding linkage columns are deliberately absent: a re-fetched email
// must never clobber a link the matcher or an operator has made.
var emailFingerprintColumns = []string{
	"source",
	"subject",
	"sender",
	"email_date",
	"fetched_at",
	"attachments",
	"remittance_total",
	"agency_name",
	"line_count",
	"manual_review",
}

// GormEmailRepository implements EmailRepository using GORM
type GormEmailRepository struct {
	db *gorm.DB
}

// NewGormEmailRepository creates a new GormEmailRepository
func NewGormEmailRepository(db *gorm.DB) *GormEmailRepository {
	return &GormEmailRepository{db: db}
}

// Upsert fingerprints an observed email, refreshing only the fingerprint
// columns on conflict.
func (r *GormEmailRepository) Upsert(ctx context.Context, email *recon.CachedEmail) error {
	model := models.EmailModelFromDomain(email)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(emailFingerprintColumns),
		}).
		Create(model).Error
}

// Save writes the full row including the funding linkage
func (r *GormEmailRepository) Save(ctx context.Context, email *recon.CachedEmail) error {
	model := models.EmailModelFromDomain(email)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// FindByID finds one email; (nil, nil) when absent
func (r *GormEmailRepository) FindByID(ctx context.Context, id string) (*recon.CachedEmail, error) {
	var model models.EmailModel
	if err := r.db.WithContext(ctx).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists emails with filtering, newest first
func (r *GormEmailRepository) FindAll(ctx context.Context, filter recon.EmailFilter) ([]recon.CachedEmail, int64, error) {
	filter.Normalize()

	var total int64
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.EmailModel{}), filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, EmailSortFields, "email_date")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var rows []models.EmailModel
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.EmailModel{}), filter).
		Order(fmt.Sprintf("%s %s", orderBy, orderDir)).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	emails := make([]recon.CachedEmail, len(rows))
	for i := range rows {
		emails[i] = *rows[i].ToDomain()
	}
	return emails, total, nil
}

// Stats summarizes the email population
func (r *GormEmailRepository) Stats(ctx context.Context) (recon.EmailStats, error) {
	type sourceCount struct {
		Source string
		Count  int64
	}

	var rows []sourceCount
	if err := r.db.WithContext(ctx).
		Model(&models.EmailModel{}).
		Select("source, COUNT(*) as count").
		Group("source").
		Scan(&rows).Error; err != nil {
		return recon.EmailStats{}, err
	}

	stats := recon.EmailStats{BySource: make(map[string]int64, len(rows))}
	for _, row := range rows {
		stats.BySource[row.Source] = row.Count
		stats.Total += row.Count
	}

	if err := r.db.WithContext(ctx).
		Model(&models.EmailModel{}).
		Where("manual_review = ?", true).
		Count(&stats.ManualReview).Error; err != nil {
		return recon.EmailStats{}, err
	}

	if err := r.db.WithContext(ctx).
		Model(&models.EmailModel{}).
		Where("received_payment_id <> ''").
		Count(&stats.Linked).Error; err != nil {
		return recon.EmailStats{}, err
	}
	return stats, nil
}

// applyFilter applies EmailFilter criteria to a query
func (r *GormEmailRepository) applyFilter(query *gorm.DB, filter recon.EmailFilter) *gorm.DB {
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.ManualReview != nil {
		query = query.Where("manual_review = ?", *filter.ManualReview)
	}
	if filter.Linked != nil {
		if *filter.Linked {
			query = query.Where("received_payment_id <> ''")
		} else {
			query = query.Where("(received_payment_id = '' OR received_payment_id IS NULL)")
		}
	}
	if filter.DateFrom != nil {
		query = query.Where("email_date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("email_date <= ?", *filter.DateTo)
	}
	if filter.AmountMin != nil {
		query = query.Where("remittance_total >= ?", *filter.AmountMin)
	}
	if filter.AmountMax != nil {
		query = query.Where("remittance_total <= ?", *filter.AmountMax)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("subject LIKE ? OR sender LIKE ? OR agency_name LIKE ?", pattern, pattern, pattern)
	}
	return query
}
