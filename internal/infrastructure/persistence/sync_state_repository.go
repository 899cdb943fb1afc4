package persistence

import (
	"context"
	"time"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSyncStateRepository implements SyncStateRepository using GORM
type GormSyncStateRepository struct {
	db *gorm.DB
}

// NewGormSyncStateRepository creates a new GormSyncStateRepository
func NewGormSyncStateRepository(db *gorm.DB) *GormSyncStateRepository {
	return &GormSyncStateRepository{db: db}
}

// Record upserts the outcome of one source's sync pass
func (r *GormSyncStateRepository) Record(ctx context.Context, source string, count int, status string) error {
	now := time.Now().UTC()
	model := &models.SyncStateModel{
		Source:     source,
		LastSyncAt: &now,
		LastCount:  count,
		Status:     status,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_sync_at", "last_count", "status"}),
		}).
		Create(model).Error
}

// FindAll lists the state of every source, in cycle order first
func (r *GormSyncStateRepository) FindAll(ctx context.Context) ([]recon.SyncState, error) {
	var rows []models.SyncStateModel
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}

	bySource := make(map[string]*models.SyncStateModel, len(rows))
	for i := range rows {
		bySource[rows[i].Source] = &rows[i]
	}

	// Known sources first in cycle order, then anything else alphabetical
	// from the map scan above.
	states := make([]recon.SyncState, 0, len(rows))
	for _, source := range recon.SyncSources {
		if model, ok := bySource[source]; ok {
			states = append(states, *model.ToDomain())
			delete(bySource, source)
		}
	}
	for i := range rows {
		if _, ok := bySource[rows[i].Source]; ok {
			states = append(states, *rows[i].ToDomain())
		}
	}
	return states, nil
}
