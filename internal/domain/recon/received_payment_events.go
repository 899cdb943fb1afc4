package recon

import (
	"github.com/payops/recon/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ReceivedPaymentMatchedEvent is raised when a received payment is linked
// to a remittance email, either by the matcher or manually.
type ReceivedPaymentMatchedEvent struct {
	shared.BaseDomainEvent
	PaymentID  string          `json:"payment_id"`
	EmailID    string          `json:"email_id"`
	Amount     decimal.Decimal `json:"amount"`
	Confidence *float64        `json:"confidence"`
	Method     string          `json:"method"`
}

// EventType returns the event type name
func (e *ReceivedPaymentMatchedEvent) EventType() string {
	return "ReceivedPaymentMatched"
}

// NewReceivedPaymentMatchedEvent creates a new ReceivedPaymentMatchedEvent
func NewReceivedPaymentMatchedEvent(rp *ReceivedPayment) *ReceivedPaymentMatchedEvent {
	return &ReceivedPaymentMatchedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("ReceivedPaymentMatched", "ReceivedPayment", rp.ID),
		PaymentID:       rp.ID,
		EmailID:         rp.MatchedEmailID,
		Amount:          rp.Amount,
		Confidence:      rp.MatchConfidence,
		Method:          rp.MatchMethod,
	}
}

// ReceivedPaymentUnmatchedEvent is raised when a link is undone.
type ReceivedPaymentUnmatchedEvent struct {
	shared.BaseDomainEvent
	PaymentID       string `json:"payment_id"`
	PreviousEmailID string `json:"previous_email_id"`
}

// EventType returns the event type name
func (e *ReceivedPaymentUnmatchedEvent) EventType() string {
	return "ReceivedPaymentUnmatched"
}

// NewReceivedPaymentUnmatchedEvent creates a new ReceivedPaymentUnmatchedEvent
func NewReceivedPaymentUnmatchedEvent(rp *ReceivedPayment, previousEmailID string) *ReceivedPaymentUnmatchedEvent {
	return &ReceivedPaymentUnmatchedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("ReceivedPaymentUnmatched", "ReceivedPayment", rp.ID),
		PaymentID:       rp.ID,
		PreviousEmailID: previousEmailID,
	}
}
