package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormReconciliationRepository implements ReconciliationRepository using GORM
type GormReconciliationRepository struct {
	db *gorm.DB
}

// NewGormReconciliationRepository creates a new GormReconciliationRepository
func NewGormReconciliationRepository(db *gorm.DB) *GormReconciliationRepository {
	return &GormReconciliationRepository{db: db}
}

// FindByNVC finds one record by its NVC code. Returns (nil, nil) when absent
// so the engine can distinguish "create" from "update" without sentinel
// error plumbing.
func (r *GormReconciliationRepository) FindByNVC(ctx context.Context, nvcCode string) (*recon.ReconciliationRecord, error) {
	var model models.ReconciliationRecordModel
	if err := r.db.WithContext(ctx).
		First(&model, "nvc_code = ?", nvcCode).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByEmailID finds all records fed by one remittance email
func (r *GormReconciliationRepository) FindByEmailID(ctx context.Context, emailID string) ([]recon.ReconciliationRecord, error) {
	var rows []models.ReconciliationRecordModel
	if err := r.db.WithContext(ctx).
		Where("remittance_email_id = ?", emailID).
		Order("nvc_code ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(rows), nil
}

// FindByReceivedPaymentID finds all records carrying one funding link
func (r *GormReconciliationRepository) FindByReceivedPaymentID(ctx context.Context, rpID string) ([]recon.ReconciliationRecord, error) {
	var rows []models.ReconciliationRecordModel
	if err := r.db.WithContext(ctx).
		Where("received_payment_id = ?", rpID).
		Order("nvc_code ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(rows), nil
}

// FindAll lists records with filtering, newest update first
func (r *GormReconciliationRepository) FindAll(ctx context.Context, filter recon.RecordFilter) ([]recon.ReconciliationRecord, int64, error) {
	filter.Normalize()

	var total int64
	countQuery := r.applyRecordFilter(r.db.WithContext(ctx).Model(&models.ReconciliationRecordModel{}), filter)
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, ReconciliationSortFields, "last_updated_at")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var rows []models.ReconciliationRecordModel
	query := r.applyRecordFilter(r.db.WithContext(ctx).Model(&models.ReconciliationRecordModel{}), filter)
	if err := query.
		Order(fmt.Sprintf("%s %s", orderBy, orderDir)).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toDomainRecords(rows), total, nil
}

// FindQueue lists non-terminal records in priority order. Terminal statuses
// never enter the queue regardless of filters.
func (r *GormReconciliationRepository) FindQueue(ctx context.Context, filter recon.QueueFilter) ([]recon.ReconciliationRecord, int64, error) {
	filter.Normalize()

	base := func() *gorm.DB {
		q := r.applyRecordFilter(r.db.WithContext(ctx).Model(&models.ReconciliationRecordModel{}), filter.RecordFilter)
		q = q.Where("match_status NOT IN ?", terminalStatuses())
		if filter.Flag != nil {
			q = q.Where("flag = ?", *filter.Flag)
		}
		if filter.InvoiceStatus != "" {
			q = q.Where("invoice_status = ?", filter.InvoiceStatus)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// The default ordering is status urgency; callers may instead sort by
	// any allow-listed column.
	order := queueOrderExpr()
	if filter.OrderBy != "" && filter.OrderBy != "priority" {
		col := ValidateSortField(filter.OrderBy, ReconciliationSortFields, "last_updated_at")
		order = col + " " + ValidateSortOrder(filter.OrderDir)
	}

	var rows []models.ReconciliationRecordModel
	if err := base().
		Order(order).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toDomainRecords(rows), total, nil
}

// Save creates or updates a record keyed by NVC code
func (r *GormReconciliationRepository) Save(ctx context.Context, record *recon.ReconciliationRecord) error {
	model := models.ReconciliationRecordModelFromDomain(record)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "nvc_code"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// Summary counts records per match status. Every status of the closed
// enumeration appears in the map, zero counts included, so API consumers
// can rely on a stable shape.
func (r *GormReconciliationRepository) Summary(ctx context.Context) (recon.StatusSummary, error) {
	type statusCount struct {
		MatchStatus string
		Count       int64
	}

	var rows []statusCount
	if err := r.db.WithContext(ctx).
		Model(&models.ReconciliationRecordModel{}).
		Select("match_status, COUNT(*) as count").
		Group("match_status").
		Scan(&rows).Error; err != nil {
		return recon.StatusSummary{}, err
	}

	summary := recon.StatusSummary{ByStatus: make(map[recon.MatchStatus]int64, len(recon.AllMatchStatuses))}
	for _, status := range recon.AllMatchStatuses {
		summary.ByStatus[status] = 0
	}
	for _, row := range rows {
		status := recon.ParseMatchStatus(row.MatchStatus)
		summary.ByStatus[status] += row.Count
		summary.Total += row.Count
	}
	return summary, nil
}

// TenantBreakdown aggregates records per invoice tenant. Records with no
// invoice leg carry no tenant and are excluded.
func (r *GormReconciliationRepository) TenantBreakdown(ctx context.Context) ([]recon.TenantSummary, error) {
	var rows []recon.TenantSummary
	err := r.db.WithContext(ctx).
		Model(&models.ReconciliationRecordModel{}).
		Select(
			"invoice_tenant AS tenant, "+
				"COUNT(*) AS records, "+
				"COALESCE(SUM(invoice_amount), 0) AS invoice_total, "+
				"SUM(CASE WHEN match_status IN ? THEN 1 ELSE 0 END) AS matched, "+
				"SUM(CASE WHEN match_status = ? THEN 1 ELSE 0 END) AS mismatched, "+
				"SUM(CASE WHEN match_status = ? THEN 1 ELSE 0 END) AS status_issues",
			[]recon.MatchStatus{recon.StatusFull4Way, recon.Status2WayMatched},
			recon.StatusAmountMismatch,
			recon.StatusIssue,
		).
		Where("invoice_tenant <> ''").
		Group("invoice_tenant").
		Order("records DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UnlinkedEmailCandidates aggregates remittance totals per email for every
// email not yet linked to a received payment. Manual-review emails carry no
// trustworthy line items and are excluded.
func (r *GormReconciliationRepository) UnlinkedEmailCandidates(ctx context.Context) ([]recon.EmailCandidate, error) {
	var rows []recon.EmailCandidate
	err := r.db.WithContext(ctx).
		Table("emails").
		Select(
			"emails.id AS email_id, " +
				"COALESCE(SUM(reconciliation_records.remittance_amount), 0) AS total_amount, " +
				"MIN(reconciliation_records.remittance_date) AS earliest_date, " +
				"emails.agency_name AS agency_name, " +
				"emails.source AS source, " +
				"COUNT(reconciliation_records.nvc_code) AS nvc_count",
		).
		Joins("JOIN reconciliation_records ON reconciliation_records.remittance_email_id = emails.id").
		Where("(emails.received_payment_id = '' OR emails.received_payment_id IS NULL)").
		Where("emails.manual_review = ?", false).
		Group("emails.id, emails.agency_name, emails.source").
		Order("emails.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AmountSearch finds records whose chosen leg amount falls in a range,
// newest update first. The column name comes from the closed
// AmountLegField enumeration, never from user input.
func (r *GormReconciliationRepository) AmountSearch(ctx context.Context, query recon.AmountSearchQuery) ([]recon.ReconciliationRecord, error) {
	if !query.Field.IsValid() {
		return nil, fmt.Errorf("amount search: invalid leg field %q", query.Field)
	}
	limit := query.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	col := string(query.Field)
	q := r.db.WithContext(ctx).
		Model(&models.ReconciliationRecordModel{}).
		Where(col + " IS NOT NULL")
	if query.NVCSearch != "" {
		q = q.Where("nvc_code LIKE ?", "%"+strings.ToUpper(query.NVCSearch)+"%")
	}
	if query.Tenant != "" {
		q = q.Where("invoice_tenant LIKE ?", "%"+query.Tenant+"%")
	}
	if query.AmountMin != nil {
		q = q.Where(col+" >= ?", *query.AmountMin)
	}
	if query.AmountMax != nil {
		q = q.Where(col+" <= ?", *query.AmountMax)
	}

	var rows []models.ReconciliationRecordModel
	if err := q.
		Order("last_updated_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(rows), nil
}

// applyRecordFilter applies RecordFilter criteria to a query
func (r *GormReconciliationRepository) applyRecordFilter(query *gorm.DB, filter recon.RecordFilter) *gorm.DB {
	if filter.Status != nil {
		query = query.Where("match_status = ?", *filter.Status)
	}
	if filter.Tenant != "" {
		query = query.Where("invoice_tenant LIKE ?", "%"+filter.Tenant+"%")
	}
	if filter.DateFrom != nil {
		query = query.Where("first_seen_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("first_seen_at <= ?", *filter.DateTo)
	}
	if filter.Search != "" {
		query = query.Where("nvc_code LIKE ?", "%"+strings.ToUpper(filter.Search)+"%")
	}
	return query
}

// toDomainRecords converts persistence rows to domain records
func toDomainRecords(rows []models.ReconciliationRecordModel) []recon.ReconciliationRecord {
	records := make([]recon.ReconciliationRecord, len(rows))
	for i := range rows {
		records[i] = *rows[i].ToDomain()
	}
	return records
}

// terminalStatuses lists statuses excluded from the work queue
func terminalStatuses() []recon.MatchStatus {
	statuses := make([]recon.MatchStatus, 0, 2)
	for _, s := range recon.AllMatchStatuses {
		if s.IsTerminal() {
			statuses = append(statuses, s)
		}
	}
	return statuses
}

// queueOrderExpr ranks queue rows by status urgency, then staleness. The
// statuses interpolated here come from the closed domain enumeration, never
// from user input.
func queueOrderExpr() string {
	var b strings.Builder
	b.WriteString("CASE match_status")
	for _, s := range recon.AllMatchStatuses {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", s, s.QueuePriority())
	}
	b.WriteString(" ELSE 99 END, last_updated_at DESC")
	return b.String()
}
