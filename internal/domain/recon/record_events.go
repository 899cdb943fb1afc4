package recon

import (
	"time"

	"github.com/payops/recon/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ReconciliationStatusChangedEvent is raised whenever reclassification
// moves a record to a different match status.
type ReconciliationStatusChangedEvent struct {
	shared.BaseDomainEvent
	NVCCode        string      `json:"nvc_code"`
	PreviousStatus MatchStatus `json:"previous_status"`
	CurrentStatus  MatchStatus `json:"current_status"`
	MatchFlags     FlagList    `json:"match_flags"`
}

// EventType returns the event type name
func (e *ReconciliationStatusChangedEvent) EventType() string {
	return "ReconciliationStatusChanged"
}

// NewReconciliationStatusChangedEvent creates a new ReconciliationStatusChangedEvent
func NewReconciliationStatusChangedEvent(r *ReconciliationRecord, previous MatchStatus) *ReconciliationStatusChangedEvent {
	return &ReconciliationStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("ReconciliationStatusChanged", "ReconciliationRecord", r.NVCCode),
		NVCCode:         r.NVCCode,
		PreviousStatus:  previous,
		CurrentStatus:   r.MatchStatus,
		MatchFlags:      r.MatchFlags,
	}
}

// FundingLinkedEvent is raised when an NVC row inherits inbound funding
// from a received payment linked to its remittance email.
type FundingLinkedEvent struct {
	shared.BaseDomainEvent
	NVCCode           string           `json:"nvc_code"`
	ReceivedPaymentID string           `json:"received_payment_id"`
	Amount            *decimal.Decimal `json:"amount"`
	RemittanceEmailID string           `json:"remittance_email_id"`
}

// EventType returns the event type name
func (e *FundingLinkedEvent) EventType() string {
	return "FundingLinked"
}

// NewFundingLinkedEvent creates a new FundingLinkedEvent
func NewFundingLinkedEvent(r *ReconciliationRecord) *FundingLinkedEvent {
	return &FundingLinkedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent("FundingLinked", "ReconciliationRecord", r.NVCCode),
		NVCCode:           r.NVCCode,
		ReceivedPaymentID: r.ReceivedPaymentID,
		Amount:            r.ReceivedPaymentAmount,
		RemittanceEmailID: r.RemittanceEmailID,
	}
}

// FundingClearedEvent is raised when an unmatch operation nullifies leg 3.
type FundingClearedEvent struct {
	shared.BaseDomainEvent
	NVCCode           string `json:"nvc_code"`
	ReceivedPaymentID string `json:"received_payment_id"`
}

// EventType returns the event type name
func (e *FundingClearedEvent) EventType() string {
	return "FundingCleared"
}

// NewFundingClearedEvent creates a new FundingClearedEvent
func NewFundingClearedEvent(r *ReconciliationRecord) *FundingClearedEvent {
	return &FundingClearedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent("FundingCleared", "ReconciliationRecord", r.NVCCode),
		NVCCode:           r.NVCCode,
		ReceivedPaymentID: r.ReceivedPaymentID,
	}
}

// RecordFlaggedEvent is raised when an operator sets or clears the review
// flag on a record.
type RecordFlaggedEvent struct {
	shared.BaseDomainEvent
	NVCCode   string     `json:"nvc_code"`
	Flag      ReviewFlag `json:"flag"`
	FlagNotes string     `json:"flag_notes"`
}

// EventType returns the event type name
func (e *RecordFlaggedEvent) EventType() string {
	return "RecordFlagged"
}

// NewRecordFlaggedEvent creates a new RecordFlaggedEvent
func NewRecordFlaggedEvent(r *ReconciliationRecord) *RecordFlaggedEvent {
	return &RecordFlaggedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("RecordFlagged", "ReconciliationRecord", r.NVCCode),
		NVCCode:         r.NVCCode,
		Flag:            r.Flag,
		FlagNotes:       r.FlagNotes,
	}
}

// RecordResolvedEvent is raised when an operator marks follow-up complete.
type RecordResolvedEvent struct {
	shared.BaseDomainEvent
	NVCCode    string    `json:"nvc_code"`
	ResolvedAt time.Time `json:"resolved_at"`
	ResolvedBy string    `json:"resolved_by"`
}

// EventType returns the event type name
func (e *RecordResolvedEvent) EventType() string {
	return "RecordResolved"
}

// NewRecordResolvedEvent creates a new RecordResolvedEvent
func NewRecordResolvedEvent(r *ReconciliationRecord) *RecordResolvedEvent {
	resolvedAt := time.Now().UTC()
	if r.ResolvedAt != nil {
		resolvedAt = *r.ResolvedAt
	}
	return &RecordResolvedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("RecordResolved", "ReconciliationRecord", r.NVCCode),
		NVCCode:         r.NVCCode,
		ResolvedAt:      resolvedAt,
		ResolvedBy:      r.ResolvedBy,
	}
}
