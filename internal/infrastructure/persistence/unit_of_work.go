package persistence

import (
	"context"

	"github.com/payops/recon/internal/domain/recon"
	"gorm.io/gorm"
)

// NewRepositorySet builds the full repository bundle against one gorm
// handle, which may be a transaction.
func NewRepositorySet(db *gorm.DB) recon.RepositorySet {
	return recon.RepositorySet{
		Records:          NewGormReconciliationRepository(db),
		Emails:           NewGormEmailRepository(db),
		Invoices:         NewGormInvoiceRepository(db),
		Payruns:          NewGormPayrunRepository(db),
		Payments:         NewGormPaymentRepository(db),
		ReceivedPayments: NewGormReceivedPaymentRepository(db),
		SyncState:        NewGormSyncStateRepository(db),
	}
}

// GormUnitOfWork implements UnitOfWork on a gorm transaction. The engine
// keeps transactions small: one per NVC upsert or per email fanout, never
// one per sync cycle.
type GormUnitOfWork struct {
	db *gorm.DB
}

// NewGormUnitOfWork creates a new GormUnitOfWork
func NewGormUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

// Execute runs fn inside a transaction. The repositories handed to fn are
// bound to that transaction and must not escape it.
func (u *GormUnitOfWork) Execute(ctx context.Context, fn func(tx recon.RepositorySet) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositorySet(tx))
	})
}

// Ensure GormUnitOfWork implements UnitOfWork
var _ recon.UnitOfWork = (*GormUnitOfWork)(nil)
