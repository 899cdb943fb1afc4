package recon

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
	"github.com/payops/recon/internal/infrastructure/telemetry"
)

// ReceivedPaymentService serves inbound funding receipts and the manual
// match and unmatch operations on their email links.
type ReceivedPaymentService struct {
	receivedPayments recon.ReceivedPaymentRepository
	records          recon.ReconciliationRepository
	uow              recon.UnitOfWork
	rules            recon.ClassificationRules
	matcher          recon.MatcherConfig
	publisher        shared.EventPublisher
	logger           *zap.Logger
}

// NewReceivedPaymentService creates a new received payment service
func NewReceivedPaymentService(
	receivedPayments recon.ReceivedPaymentRepository,
	records recon.ReconciliationRepository,
	uow recon.UnitOfWork,
	rules recon.ClassificationRules,
	matcher recon.MatcherConfig,
	publisher shared.EventPublisher,
	logger *zap.Logger,
) *ReceivedPaymentService {
	return &ReceivedPaymentService{
		receivedPayments: receivedPayments,
		records:          records,
		uow:              uow,
		rules:            rules,
		matcher:          matcher,
		publisher:        publisher,
		logger:           logger,
	}
}

// ===================== Received Payment Operations =====================

// ReceivedPaymentListFilter carries the query parameters for receipt
// listing
type ReceivedPaymentListFilter struct {
	AccountID   string     `form:"account_id"`
	MatchStatus string     `form:"match_status"`
	Payer       string     `form:"payer"`
	DateFrom    *time.Time `form:"date_from" time_format:"2006-01-02"`
	DateTo      *time.Time `form:"date_to" time_format:"2006-01-02"`
	SortBy      string     `form:"sort_by"`
	SortDir     string     `form:"sort_dir"`
	Limit       int        `form:"limit"`
	Offset      int        `form:"offset"`
}

// ListReceivedPayments lists receipts, newest first by default.
func (s *ReceivedPaymentService) ListReceivedPayments(ctx context.Context, filter ReceivedPaymentListFilter) ([]ReceivedPaymentResponse, int64, error) {
	domainFilter := recon.ReceivedPaymentFilter{
		Filter: shared.Filter{
			Limit:    filter.Limit,
			Offset:   filter.Offset,
			OrderBy:  filter.SortBy,
			OrderDir: filter.SortDir,
		},
		AccountID: filter.AccountID,
		Payer:     filter.Payer,
		DateFrom:  filter.DateFrom,
		DateTo:    filter.DateTo,
	}
	if filter.MatchStatus != "" {
		status := recon.RPStatus(filter.MatchStatus)
		if !status.IsValid() {
			return nil, 0, shared.NewDomainError("INVALID_STATUS", "Unknown match status: "+filter.MatchStatus)
		}
		domainFilter.MatchStatus = &status
	}

	payments, total, err := s.receivedPayments.FindAll(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	out := make([]ReceivedPaymentResponse, len(payments))
	for i := range payments {
		out[i] = toReceivedPaymentResponse(&payments[i])
	}
	return out, total, nil
}

// Summary aggregates receipts by match state.
func (s *ReceivedPaymentService) Summary(ctx context.Context) (recon.ReceivedPaymentSummary, error) {
	return s.receivedPayments.Summary(ctx)
}

// GetReceivedPayment returns one receipt.
func (s *ReceivedPaymentService) GetReceivedPayment(ctx context.Context, id string) (*ReceivedPaymentResponse, error) {
	rp, err := s.receivedPayments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rp == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "Received payment not found")
	}
	resp := toReceivedPaymentResponse(rp)
	return &resp, nil
}

// ===================== Suggestion Operations =====================

// EmailSuggestion is one candidate email for a receipt, scored by the
// lump-sum matcher
type EmailSuggestion struct {
	EmailID      string           `json:"email_id"`
	TotalAmount  decimal.Decimal  `json:"total_amount"`
	EarliestDate *time.Time       `json:"earliest_date"`
	AgencyName   string           `json:"agency_name"`
	Source       string           `json:"source"`
	NVCCount     int              `json:"nvc_count"`
	Score        recon.MatchScore `json:"score"`
	Decision     string           `json:"decision"`
}

// RPSuggestionsResponse represents ranked email candidates for one receipt
type RPSuggestionsResponse struct {
	PaymentID   string            `json:"payment_id"`
	Suggestions []EmailSuggestion `json:"suggestions"`
}

// Suggestions scores every unlinked remittance email against one receipt
// with the lump-sum matcher and returns the top candidates. Nothing is
// applied; the match operation does that.
func (s *ReceivedPaymentService) Suggestions(ctx context.Context, paymentID string) (*RPSuggestionsResponse, error) {
	rp, err := s.receivedPayments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if rp == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "Received payment not found")
	}

	candidates, err := s.records.UnlinkedEmailCandidates(ctx)
	if err != nil {
		return nil, err
	}

	resp := &RPSuggestionsResponse{PaymentID: rp.ID, Suggestions: []EmailSuggestion{}}
	for _, cand := range candidates {
		score := s.matcher.ScoreCandidate(rp, cand)
		if score.Total <= 0 {
			continue
		}
		score.Total = round3(score.Total)
		resp.Suggestions = append(resp.Suggestions, EmailSuggestion{
			EmailID:      cand.EmailID,
			TotalAmount:  cand.TotalAmount,
			EarliestDate: cand.EarliestDate,
			AgencyName:   cand.AgencyName,
			Source:       cand.Source,
			NVCCount:     cand.NVCCount,
			Score:        score,
			Decision:     string(s.matcher.Decide(score.Total)),
		})
	}

	sort.SliceStable(resp.Suggestions, func(i, j int) bool {
		return resp.Suggestions[i].Score.Total > resp.Suggestions[j].Score.Total
	})
	if len(resp.Suggestions) > 10 {
		resp.Suggestions = resp.Suggestions[:10]
	}
	return resp, nil
}

// ===================== Manual Match Operations =====================

// MatchRequest links a receipt to a remittance email
type MatchRequest struct {
	EmailID    string   `json:"email_id" binding:"required"`
	Confidence *float64 `json:"confidence" binding:"omitempty,gte=0,lte=1"`
	Method     string   `json:"method"`
}

// MatchResultResponse represents the outcome of a manual match
type MatchResultResponse struct {
	PaymentID   string `json:"payment_id"`
	EmailID     string `json:"email_id"`
	MatchStatus string `json:"match_status"`
	LinkedNVCs  int    `json:"linked_nvcs"`
}

// Match links a receipt to an email and fans the funding out to the
// email's NVC rows. Either side already being linked rejects the request.
func (s *ReceivedPaymentService) Match(ctx context.Context, paymentID string, req MatchRequest) (*MatchResultResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "received_payment", "match")
	defer span.End()

	telemetry.SetAttributes(span,
		telemetry.SpanAttrPaymentID, paymentID,
		telemetry.SpanAttrEmailID, req.EmailID,
	)

	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	method := req.Method
	if method == "" {
		method = recon.MatchMethodManual
	}

	var outcome *linkOutcome
	err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
		var err error
		outcome, err = applyFundingLink(ctx, tx, s.rules, paymentID, req.EmailID, confidence, method)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrMatchMethod, method)

	publishCarriers(ctx, s.publisher, s.logger, outcome.carriers()...)
	s.logger.Info("Received payment matched",
		zap.String("payment_id", paymentID),
		zap.String("email_id", req.EmailID),
		zap.String("method", method),
		zap.Int("linked_nvcs", len(outcome.records)))

	return &MatchResultResponse{
		PaymentID:   outcome.payment.ID,
		EmailID:     req.EmailID,
		MatchStatus: string(outcome.payment.MatchStatus),
		LinkedNVCs:  len(outcome.records),
	}, nil
}

// Unmatch undoes a receipt's email link and nullifies the funding leg on
// every NVC row that inherited it.
func (s *ReceivedPaymentService) Unmatch(ctx context.Context, paymentID string) (*ReceivedPaymentResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "received_payment", "unmatch")
	defer span.End()

	telemetry.SetAttribute(span, telemetry.SpanAttrPaymentID, paymentID)

	var outcome *linkOutcome
	err := s.uow.Execute(ctx, func(tx recon.RepositorySet) error {
		var err error
		outcome, err = clearFundingLink(ctx, tx, s.rules, paymentID)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	publishCarriers(ctx, s.publisher, s.logger, outcome.carriers()...)
	s.logger.Info("Received payment unmatched",
		zap.String("payment_id", paymentID),
		zap.Int("cleared_nvcs", len(outcome.records)))

	resp := toReceivedPaymentResponse(outcome.payment)
	return &resp, nil
}

// ===================== Helper Functions =====================

func toReceivedPaymentResponse(rp *recon.ReceivedPayment) ReceivedPaymentResponse {
	return ReceivedPaymentResponse{
		ID:              rp.ID,
		AccountID:       rp.AccountID,
		AccountName:     rp.AccountName,
		Amount:          rp.Amount,
		Currency:        rp.Currency,
		PaymentDate:     rp.PaymentDate,
		PaymentStatus:   rp.PaymentStatus,
		PayerName:       rp.PayerName,
		RawInfo:         rp.RawInfo,
		MSLReference:    rp.MSLReference,
		CreatedOn:       rp.CreatedOn,
		FetchedAt:       rp.FetchedAt,
		MatchStatus:     string(rp.MatchStatus),
		MatchedEmailID:  rp.MatchedEmailID,
		MatchConfidence: rp.MatchConfidence,
		MatchMethod:     rp.MatchMethod,
		MatchedAt:       rp.MatchedAt,
		Notes:           rp.Notes,
	}
}
