package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
	infraconfig "github.com/payops/recon/internal/infrastructure/config"
	"github.com/payops/recon/internal/infrastructure/logger"
)

// tenantHostSuffix is stripped from tenant hostnames before caching, so
// "omnicomtbwa.worksuite.com" is stored as "omnicomtbwa".
const tenantHostSuffix = ".worksuite.com"

// OpsDBSource reads invoice lines and pay runs from the operations
// database (leg 2). Access is strictly read-only: the engine never writes
// upstream, it only caches what it reads.
type OpsDBSource struct {
	db     *gorm.DB
	cfg    *infraconfig.OpsDBConfig
	logger *zap.Logger
}

// NewOpsDBSource opens a read-only session against the operations
// database. The pool is kept small; the engine issues two windowed
// queries per cycle.
func NewOpsDBSource(cfg *infraconfig.OpsDBConfig, zapLogger *zap.Logger) (*OpsDBSource, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 logger.NewGormLogger(zapLogger, gormlogger.Warn),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSourceUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get ops database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &OpsDBSource{db: db, cfg: cfg, logger: zapLogger}, nil
}

// Close releases the underlying connection pool.
func (s *OpsDBSource) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies connectivity to the operations database.
func (s *OpsDBSource) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrSourceUnavailable, err)
	}
	return nil
}

// opsInvoiceRow mirrors the invoice line projection of documents_payment.
// Nullable columns scan through pointers so one NULL cannot fail a batch.
type opsInvoiceRow struct {
	NVCCode        *string             `gorm:"column:nvc_code"`
	InvoiceNumber  *string             `gorm:"column:invoice_number"`
	TotalAmount    decimal.NullDecimal `gorm:"column:total_amount"`
	Currency       *string             `gorm:"column:currency"`
	Status         *int                `gorm:"column:status"`
	PaidDate       *time.Time          `gorm:"column:paid_date"`
	ProcessingDate *time.Time          `gorm:"column:processing_date"`
	InFlightDate   *time.Time          `gorm:"column:in_flight_date"`
	Tenant         *string             `gorm:"column:tenant"`
	PayrunID       *int64              `gorm:"column:payrun_id"`
	CreatedAt      *time.Time          `gorm:"column:created_at"`
}

// FetchInvoices returns invoice lines created within the lookback window
// for the configured tenants. Lines without an NVC code are dropped: they
// cannot key a reconciliation row.
func (s *OpsDBSource) FetchInvoices(ctx context.Context, daysBack int) ([]recon.CachedInvoice, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysBack)

	var rows []opsInvoiceRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT p.invoice_id AS nvc_code,
		       p.number AS invoice_number,
		       p.total_amount,
		       p.currency,
		       p.status,
		       p.paid_date,
		       p.processing_date,
		       p.in_flight_date,
		       p.tenant,
		       p.payrun_id,
		       p.created_at
		FROM documents_payment p
		WHERE p.tenant IN ?
		  AND p.created_at > ?
		ORDER BY p.created_at DESC`, s.cfg.Tenants, cutoff).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSourceUnavailable, err)
	}

	now := time.Now().UTC()
	invoices := make([]recon.CachedInvoice, 0, len(rows))
	for _, row := range rows {
		nvc := strValue(row.NVCCode)
		if nvc == "" {
			continue
		}
		status := 0
		if row.Status != nil {
			status = *row.Status
		}
		invoices = append(invoices, recon.CachedInvoice{
			NVCCode:        nvc,
			InvoiceNumber:  strValue(row.InvoiceNumber),
			TotalAmount:    decimalValue(row.TotalAmount),
			Currency:       strValue(row.Currency),
			Status:         status,
			StatusLabel:    recon.InvoiceStatusName(status),
			PaidDate:       row.PaidDate,
			ProcessingDate: row.ProcessingDate,
			InFlightDate:   row.InFlightDate,
			Tenant:         strings.TrimSuffix(strValue(row.Tenant), tenantHostSuffix),
			PayrunID:       int64Value(row.PayrunID),
			CreatedAt:      row.CreatedAt,
			FetchedAt:      now,
		})
	}

	s.logger.Info("fetched ops invoices",
		zap.Int("rows", len(rows)),
		zap.Int("with_nvc", len(invoices)),
		zap.Int("days_back", daysBack))
	return invoices, nil
}

type opsPayrunRow struct {
	ID             int64               `gorm:"column:id"`
	Reference      *string             `gorm:"column:reference"`
	BatchReference *string             `gorm:"column:batch_reference"`
	Status         *int                `gorm:"column:status"`
	Tenant         *string             `gorm:"column:tenant"`
	PaymentCount   int                 `gorm:"column:payment_count"`
	TotalAmount    decimal.NullDecimal `gorm:"column:total_amount"`
	CreatedAt      *time.Time          `gorm:"column:created_at"`
}

// FetchPayruns returns pay runs created within the lookback window, each
// with its payment count and total aggregated at the source.
func (s *OpsDBSource) FetchPayruns(ctx context.Context, daysBack int) ([]recon.CachedPayrun, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysBack)

	var rows []opsPayrunRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT pr.id,
		       pr.reference,
		       pr.batch_reference,
		       pr.status,
		       pr.tenant,
		       COUNT(p.id) AS payment_count,
		       SUM(p.total_amount) AS total_amount,
		       pr.created_at
		FROM documents_payrun pr
		LEFT JOIN documents_payment p ON p.payrun_id = pr.id AND p.tenant = pr.tenant
		WHERE pr.tenant IN ?
		  AND pr.created_at > ?
		GROUP BY pr.id, pr.reference, pr.batch_reference, pr.status, pr.tenant, pr.created_at
		ORDER BY pr.created_at DESC`, s.cfg.Tenants, cutoff).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSourceUnavailable, err)
	}

	now := time.Now().UTC()
	payruns := make([]recon.CachedPayrun, 0, len(rows))
	for _, row := range rows {
		status := 0
		if row.Status != nil {
			status = *row.Status
		}
		payruns = append(payruns, recon.CachedPayrun{
			ID:             strconv.FormatInt(row.ID, 10),
			Reference:      strValue(row.Reference),
			BatchReference: strValue(row.BatchReference),
			Tenant:         strings.TrimSuffix(strValue(row.Tenant), tenantHostSuffix),
			Status:         status,
			PaymentCount:   row.PaymentCount,
			TotalAmount:    decimalValue(row.TotalAmount),
			CreatedAt:      row.CreatedAt,
			FetchedAt:      now,
		})
	}

	s.logger.Info("fetched ops payruns",
		zap.Int("count", len(payruns)),
		zap.Int("days_back", daysBack))
	return payruns, nil
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func int64Value(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func decimalValue(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
