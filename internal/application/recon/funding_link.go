package recon

import (
	"context"

	"go.uber.org/zap"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
)

// publishCarriers drains aggregate events and hands them to the
// publisher after a successful commit. Events are advisory; publish
// failures are logged, never surfaced.
func publishCarriers(ctx context.Context, publisher shared.EventPublisher, logger *zap.Logger, carriers ...eventCarrier) {
	for _, carrier := range carriers {
		events := carrier.GetDomainEvents()
		carrier.ClearDomainEvents()
		if publisher == nil || len(events) == 0 {
			continue
		}
		if err := publisher.Publish(ctx, events...); err != nil && logger != nil {
			logger.Warn("Event publish failed", zap.Error(err))
		}
	}
}

// linkOutcome collects the aggregates touched by a funding link or unlink
// so their domain events can be published after the transaction commits.
type linkOutcome struct {
	payment *recon.ReceivedPayment
	email   *recon.CachedEmail
	records []*recon.ReconciliationRecord
}

func (o *linkOutcome) carriers() []eventCarrier {
	carriers := make([]eventCarrier, 0, len(o.records)+2)
	if o.payment != nil {
		carriers = append(carriers, o.payment)
	}
	for _, rec := range o.records {
		carriers = append(carriers, rec)
	}
	return carriers
}

// applyFundingLink links a received payment to a remittance email and fans
// the funding leg out to every NVC row of that email. Both sides of the
// link and the fanout are written in the caller's transaction; a link
// conflict on either side rolls the whole thing back.
func applyFundingLink(ctx context.Context, tx recon.RepositorySet, rules recon.ClassificationRules, rpID, emailID string, confidence float64, method string) (*linkOutcome, error) {
	rp, err := tx.ReceivedPayments.FindByID(ctx, rpID)
	if err != nil {
		return nil, err
	}
	if rp == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "Received payment not found")
	}
	email, err := tx.Emails.FindByID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "Email not found")
	}

	if err := rp.LinkToEmail(email.ID, confidence, method); err != nil {
		return nil, err
	}
	if err := email.LinkReceivedPayment(rp.ID, confidence, method); err != nil {
		return nil, err
	}

	records, err := tx.Records.FindByEmailID(ctx, email.ID)
	if err != nil {
		return nil, err
	}
	outcome := &linkOutcome{payment: rp, email: email}
	leg := recon.FundingLeg{
		ReceivedPaymentID: rp.ID,
		Amount:            rp.Amount,
		Date:              rp.PaymentDate,
	}
	for i := range records {
		rec := &records[i]
		rec.ApplyFunding(leg)
		rec.Reclassify(rules)
		if err := tx.Records.Save(ctx, rec); err != nil {
			return nil, err
		}
		outcome.records = append(outcome.records, rec)
	}

	if err := tx.ReceivedPayments.Save(ctx, rp); err != nil {
		return nil, err
	}
	if err := tx.Emails.Save(ctx, email); err != nil {
		return nil, err
	}
	return outcome, nil
}

// clearFundingLink reverts a received payment to unmatched, clears the
// email-side linkage and nullifies the funding leg on every NVC row that
// carried this payment.
func clearFundingLink(ctx context.Context, tx recon.RepositorySet, rules recon.ClassificationRules, rpID string) (*linkOutcome, error) {
	rp, err := tx.ReceivedPayments.FindByID(ctx, rpID)
	if err != nil {
		return nil, err
	}
	if rp == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "Received payment not found")
	}

	outcome := &linkOutcome{payment: rp}
	emailID := rp.MatchedEmailID
	rp.Unlink()

	if emailID != "" {
		email, err := tx.Emails.FindByID(ctx, emailID)
		if err != nil {
			return nil, err
		}
		if email != nil {
			email.UnlinkReceivedPayment()
			if err := tx.Emails.Save(ctx, email); err != nil {
				return nil, err
			}
			outcome.email = email
		}
	}

	records, err := tx.Records.FindByReceivedPaymentID(ctx, rp.ID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		rec := &records[i]
		if err := rec.NullifyLeg(recon.LegFunding); err != nil {
			return nil, err
		}
		rec.Reclassify(rules)
		if err := tx.Records.Save(ctx, rec); err != nil {
			return nil, err
		}
		outcome.records = append(outcome.records, rec)
	}

	return outcome, tx.ReceivedPayments.Save(ctx, rp)
}
