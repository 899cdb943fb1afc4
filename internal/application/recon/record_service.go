package recon

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
	"github.com/payops/recon/internal/infrastructure/telemetry"
)

// RecordService serves reconciliation record reads and the two manual
// mutations, associate and flag.
type RecordService struct {
	records   recon.ReconciliationRepository
	uow       recon.UnitOfWork
	rules     recon.ClassificationRules
	publisher shared.EventPublisher
	logger    *zap.Logger
}

// NewRecordService creates a new record service
func NewRecordService(
	records recon.ReconciliationRepository,
	uow recon.UnitOfWork,
	rules recon.ClassificationRules,
	publisher shared.EventPublisher,
	logger *zap.Logger,
) *RecordService {
	return &RecordService{
		records:   records,
		uow:       uow,
		rules:     rules,
		publisher: publisher,
		logger:    logger,
	}
}

// ===================== Record Operations =====================

// RecordListFilter carries the query parameters for record listing
type RecordListFilter struct {
	Status   string     `form:"status"`
	Tenant   string     `form:"tenant"`
	Search   string     `form:"search"`
	DateFrom *time.Time `form:"date_from" time_format:"2006-01-02"`
	DateTo   *time.Time `form:"date_to" time_format:"2006-01-02"`
	SortBy   string     `form:"sort_by"`
	SortDir  string     `form:"sort_dir"`
	Limit    int        `form:"limit"`
	Offset   int        `form:"offset"`
}

func (f RecordListFilter) toDomain() (recon.RecordFilter, error) {
	out := recon.RecordFilter{
		Filter: shared.Filter{
			Limit:    f.Limit,
			Offset:   f.Offset,
			OrderBy:  f.SortBy,
			OrderDir: f.SortDir,
			Search:   f.Search,
		},
		Tenant:   f.Tenant,
		DateFrom: f.DateFrom,
		DateTo:   f.DateTo,
	}
	if f.Status != "" {
		status := recon.MatchStatus(f.Status)
		if !status.IsValid() {
			return recon.RecordFilter{}, shared.NewDomainError("INVALID_STATUS", "Unknown match status: "+f.Status)
		}
		out.Status = &status
	}
	return out, nil
}

// ListRecords lists reconciliation records with filters.
func (s *RecordService) ListRecords(ctx context.Context, filter RecordListFilter) ([]RecordResponse, int64, error) {
	domainFilter, err := filter.toDomain()
	if err != nil {
		return nil, 0, err
	}
	records, total, err := s.records.FindAll(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}
	return toRecordResponses(records), total, nil
}

// GetRecord returns one record with all four legs.
func (s *RecordService) GetRecord(ctx context.Context, nvcCode string) (*RecordResponse, error) {
	record, err := s.records.FindByNVC(ctx, normalizeNVC(nvcCode))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "NVC code not found")
	}
	resp := toRecordResponse(record)
	return &resp, nil
}

// Summary counts records per match status.
func (s *RecordService) Summary(ctx context.Context) (recon.StatusSummary, error) {
	return s.records.Summary(ctx)
}

// Tenants aggregates records per invoice tenant.
func (s *RecordService) Tenants(ctx context.Context) ([]recon.TenantSummary, error) {
	return s.records.TenantBreakdown(ctx)
}

// ===================== Queue Operations =====================

// QueueListFilter carries the query parameters for the work queue
type QueueListFilter struct {
	RecordListFilter
	Flag          string `form:"flag"`
	InvoiceStatus string `form:"invoice_status"`
}

// GetQueue lists non-terminal records. The default order is status
// urgency, most urgent first; sort_by selects a column order instead.
func (s *RecordService) GetQueue(ctx context.Context, filter QueueListFilter) ([]RecordResponse, int64, error) {
	recordFilter, err := filter.RecordListFilter.toDomain()
	if err != nil {
		return nil, 0, err
	}
	queueFilter := recon.QueueFilter{
		RecordFilter:  recordFilter,
		InvoiceStatus: filter.InvoiceStatus,
	}
	if filter.Flag != "" {
		flag := recon.ReviewFlag(filter.Flag)
		if !flag.IsValid() {
			return nil, 0, shared.NewDomainError("INVALID_FLAG", "Unknown review flag: "+filter.Flag)
		}
		queueFilter.Flag = &flag
	}

	records, total, err := s.records.FindQueue(ctx, queueFilter)
	if err != nil {
		return nil, 0, err
	}
	return toRecordResponses(records), total, nil
}

// ===================== Suggestion Operations =====================

// LegCandidate is one donor record able to fill a missing leg through the
// associate operation.
type LegCandidate struct {
	Leg         string          `json:"leg"`
	NVCCode     string          `json:"nvc_code"`
	Amount      decimal.Decimal `json:"amount"`
	Tenant      string          `json:"tenant,omitempty"`
	MatchStatus string          `json:"match_status"`
	Score       float64         `json:"score"`
}

// RecordSuggestionsResponse represents ranked donors for a record's
// missing legs
type RecordSuggestionsResponse struct {
	NVCCode     string         `json:"nvc_code"`
	MissingLegs []string       `json:"missing_legs"`
	Suggestions []LegCandidate `json:"suggestions"`
}

// suggestionWindow bounds the donor search to ±10% of the reference
// amount; anything further scores zero anyway.
var suggestionWindow = decimal.NewFromFloat(0.1)

// Suggestions ranks donor records able to fill the missing legs of one
// record. Donors are gated to the record's tenant when both are known and
// scored by amount closeness against the record's reference amount.
func (s *RecordService) Suggestions(ctx context.Context, nvcCode string) (*RecordSuggestionsResponse, error) {
	record, err := s.records.FindByNVC(ctx, normalizeNVC(nvcCode))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "NVC code not found")
	}

	resp := &RecordSuggestionsResponse{
		NVCCode:     record.NVCCode,
		MissingLegs: missingLegs(record),
		Suggestions: []LegCandidate{},
	}
	reference := referenceAmount(record)
	if reference == nil {
		return resp, nil
	}

	low := reference.Mul(decimal.NewFromInt(1).Sub(suggestionWindow))
	high := reference.Mul(decimal.NewFromInt(1).Add(suggestionWindow))
	for _, leg := range resp.MissingLegs {
		field, searchable := legAmountField(leg)
		if !searchable {
			continue
		}
		donors, err := s.records.AmountSearch(ctx, recon.AmountSearchQuery{
			Field:     field,
			Tenant:    record.InvoiceTenant,
			AmountMin: &low,
			AmountMax: &high,
			Limit:     50,
		})
		if err != nil {
			return nil, err
		}
		for i := range donors {
			donor := &donors[i]
			if donor.NVCCode == record.NVCCode {
				continue
			}
			amount := legAmount(donor, field)
			if amount == nil {
				continue
			}
			score := amountCloseness(*reference, *amount)
			if score == 0 {
				continue
			}
			resp.Suggestions = append(resp.Suggestions, LegCandidate{
				Leg:         leg,
				NVCCode:     donor.NVCCode,
				Amount:      *amount,
				Tenant:      donor.InvoiceTenant,
				MatchStatus: string(donor.MatchStatus),
				Score:       round3(score),
			})
		}
	}

	sort.SliceStable(resp.Suggestions, func(i, j int) bool {
		return resp.Suggestions[i].Score > resp.Suggestions[j].Score
	})
	if len(resp.Suggestions) > 10 {
		resp.Suggestions = resp.Suggestions[:10]
	}
	return resp, nil
}

// ===================== Manual Mutations =====================

// AssociateRequest asks to copy one leg from a donor record into a target
// record
type AssociateRequest struct {
	NVCCode       string `json:"nvc_code" binding:"required,nvc"`
	AssociateWith string `json:"associate_with" binding:"required,nvc"`
	Source        string `json:"source" binding:"required,oneof=remittance invoice payment"`
	Notes         string `json:"notes"`
}

// Associate copies the requested leg from a donor record, reclassifies
// the target and appends an audit line to its notes.
func (s *RecordService) Associate(ctx context.Context, req AssociateRequest) (*RecordResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "record", "associate")
	defer span.End()

	telemetry.SetAttributes(span,
		telemetry.SpanAttrNVCCode, req.NVCCode,
		telemetry.SpanAttrSource, req.Source,
	)

	var updated *recon.ReconciliationRecord
	err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
		updated = nil
		target, err := tx.Records.FindByNVC(ctx, normalizeNVC(req.NVCCode))
		if err != nil {
			return err
		}
		if target == nil {
			return shared.NewDomainError("NOT_FOUND", "Target "+req.NVCCode+" not found")
		}
		donor, err := tx.Records.FindByNVC(ctx, normalizeNVC(req.AssociateWith))
		if err != nil {
			return err
		}
		if donor == nil {
			return shared.NewDomainError("NOT_FOUND", "Source "+req.AssociateWith+" not found")
		}

		if err := copyLeg(target, donor, req.Source); err != nil {
			return err
		}
		target.Reclassify(s.rules)

		audit := fmt.Sprintf("[%s] Associated %s from %s.", time.Now().UTC().Format(time.RFC3339), req.Source, donor.NVCCode)
		if req.Notes != "" {
			audit += " " + req.Notes
		}
		target.AppendNote(audit)

		if err := tx.Records.Save(ctx, target); err != nil {
			return err
		}
		updated = target
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrMatchStatus, string(updated.MatchStatus))

	publishCarriers(ctx, s.publisher, s.logger, updated)
	s.logger.Info("Manual association applied",
		zap.String("nvc_code", updated.NVCCode),
		zap.String("source", req.Source),
		zap.String("donor", req.AssociateWith),
		zap.String("match_status", string(updated.MatchStatus)))

	resp := toRecordResponse(updated)
	return &resp, nil
}

// FlagRequest sets or clears the manual review flag on a record.
// ResolvedBy names the operator closing the record; it is only recorded
// when the flag is resolved.
type FlagRequest struct {
	NVCCode    string `json:"nvc_code" binding:"required,nvc"`
	Flag       string `json:"flag"`
	Notes      string `json:"notes"`
	ResolvedBy string `json:"resolved_by"`
}

// SetFlag sets or clears the manual review flag. The resolved flag is the
// sticky terminal state; an empty flag clears a previous one.
func (s *RecordService) SetFlag(ctx context.Context, req FlagRequest) (*RecordResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "record", "set_flag")
	defer span.End()

	telemetry.SetAttributes(span,
		telemetry.SpanAttrNVCCode, req.NVCCode,
		telemetry.SpanAttrFlag, req.Flag,
	)

	var updated *recon.ReconciliationRecord
	err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
		updated = nil
		record, err := tx.Records.FindByNVC(ctx, normalizeNVC(req.NVCCode))
		if err != nil {
			return err
		}
		if record == nil {
			return shared.NewDomainError("NOT_FOUND", "NVC code not found")
		}
		if err := record.SetReviewFlag(recon.ReviewFlag(req.Flag), req.Notes, req.ResolvedBy, s.rules); err != nil {
			return err
		}
		if err := tx.Records.Save(ctx, record); err != nil {
			return err
		}
		updated = record
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrMatchStatus, string(updated.MatchStatus))

	publishCarriers(ctx, s.publisher, s.logger, updated)
	s.logger.Info("Record flagged",
		zap.String("nvc_code", updated.NVCCode),
		zap.String("flag", req.Flag))

	resp := toRecordResponse(updated)
	return &resp, nil
}

// ===================== Helper Functions =====================

func normalizeNVC(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// referenceAmount picks the amount suggestions compare against, preferring
// the legs in arrival-likelihood order.
func referenceAmount(r *recon.ReconciliationRecord) *decimal.Decimal {
	switch {
	case r.RemittanceAmount != nil:
		return r.RemittanceAmount
	case r.InvoiceAmount != nil:
		return r.InvoiceAmount
	case r.PaymentAmount != nil:
		return r.PaymentAmount
	case r.ReceivedPaymentAmount != nil:
		return r.ReceivedPaymentAmount
	}
	return nil
}

func missingLegs(r *recon.ReconciliationRecord) []string {
	legs := []string{}
	if r.RemittanceAmount == nil {
		legs = append(legs, "remittance")
	}
	if r.InvoiceAmount == nil {
		legs = append(legs, "invoice")
	}
	if r.ReceivedPaymentID == "" {
		legs = append(legs, "funding")
	}
	if r.PaymentAmount == nil {
		legs = append(legs, "payment")
	}
	return legs
}

// legAmountField maps a missing leg to its searchable amount column. The
// funding leg is not donor-searchable: it can only arrive through a
// received-payment link.
func legAmountField(leg string) (recon.AmountLegField, bool) {
	switch leg {
	case "remittance":
		return recon.AmountFieldRemittance, true
	case "invoice":
		return recon.AmountFieldInvoice, true
	case "payment":
		return recon.AmountFieldPayment, true
	}
	return "", false
}

func legAmount(r *recon.ReconciliationRecord, field recon.AmountLegField) *decimal.Decimal {
	switch field {
	case recon.AmountFieldRemittance:
		return r.RemittanceAmount
	case recon.AmountFieldInvoice:
		return r.InvoiceAmount
	case recon.AmountFieldPayment:
		return r.PaymentAmount
	}
	return nil
}

// copyLeg copies one leg's fields from donor to target. A donor without
// the requested leg is rejected.
func copyLeg(target, donor *recon.ReconciliationRecord, source string) error {
	switch source {
	case "remittance":
		if donor.RemittanceAmount == nil {
			return shared.NewDomainError("MISSING_LEG", "No remittance data in "+donor.NVCCode)
		}
		target.ApplyRemittance(recon.RemittanceLeg{
			Amount:  *donor.RemittanceAmount,
			Date:    donor.RemittanceDate,
			Source:  donor.RemittanceSource,
			EmailID: donor.RemittanceEmailID,
		})
	case "invoice":
		if donor.InvoiceAmount == nil {
			return shared.NewDomainError("MISSING_LEG", "No invoice data in "+donor.NVCCode)
		}
		target.ApplyInvoice(recon.InvoiceLeg{
			Amount:    *donor.InvoiceAmount,
			Status:    donor.InvoiceStatus,
			Tenant:    donor.InvoiceTenant,
			PayrunRef: donor.InvoicePayrunRef,
			Currency:  donor.InvoiceCurrency,
		})
	case "payment":
		if donor.PaymentAmount == nil {
			return shared.NewDomainError("MISSING_LEG", "No payment data in "+donor.NVCCode)
		}
		target.ApplyPayment(recon.PaymentLeg{
			Amount:           *donor.PaymentAmount,
			AccountID:        donor.PaymentAccountID,
			Date:             donor.PaymentDate,
			Currency:         donor.PaymentCurrency,
			Status:           donor.PaymentStatus,
			Recipient:        donor.PaymentRecipient,
			RecipientCountry: donor.PaymentRecipientCountry,
		})
	default:
		return shared.NewDomainError("INVALID_SOURCE", "Source must be remittance, invoice or payment")
	}
	return nil
}

func toRecordResponse(r *recon.ReconciliationRecord) RecordResponse {
	return RecordResponse{
		NVCCode:                 r.NVCCode,
		RemittanceAmount:        r.RemittanceAmount,
		RemittanceDate:          r.RemittanceDate,
		RemittanceSource:        r.RemittanceSource,
		RemittanceEmailID:       r.RemittanceEmailID,
		InvoiceAmount:           r.InvoiceAmount,
		InvoiceStatus:           r.InvoiceStatus,
		InvoiceTenant:           r.InvoiceTenant,
		InvoicePayrunRef:        r.InvoicePayrunRef,
		InvoiceCurrency:         r.InvoiceCurrency,
		ReceivedPaymentID:       r.ReceivedPaymentID,
		ReceivedPaymentAmount:   r.ReceivedPaymentAmount,
		ReceivedPaymentDate:     r.ReceivedPaymentDate,
		PaymentAmount:           r.PaymentAmount,
		PaymentAccountID:        r.PaymentAccountID,
		PaymentDate:             r.PaymentDate,
		PaymentCurrency:         r.PaymentCurrency,
		PaymentStatus:           r.PaymentStatus,
		PaymentRecipient:        r.PaymentRecipient,
		PaymentRecipientCountry: r.PaymentRecipientCountry,
		MatchStatus:             string(r.MatchStatus),
		MatchFlags:              []string(r.MatchFlags),
		Notes:                   r.Notes,
		Flag:                    string(r.Flag),
		FlagNotes:               r.FlagNotes,
		ResolvedAt:              r.ResolvedAt,
		ResolvedBy:              r.ResolvedBy,
		FirstSeenAt:             r.FirstSeenAt,
		LastUpdatedAt:           r.LastUpdatedAt,
	}
}

func toRecordResponses(records []recon.ReconciliationRecord) []RecordResponse {
	out := make([]RecordResponse, len(records))
	for i := range records {
		out[i] = toRecordResponse(&records[i])
	}
	return out
}
