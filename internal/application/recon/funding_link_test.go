package recon

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
)

func seedEmailWithRecords(t *testing.T, store *mockReconStore, emailID, agency string, day *time.Time, amounts map[string]float64) {
	t.Helper()
	email, err := recon.NewCachedEmail(emailID, recon.RemittanceSourceOASYS,
		"Payment Remittance On behalf of "+agency, "remit@agency.example", day)
	require.NoError(t, err)
	store.emails[emailID] = *email

	rules := recon.DefaultClassificationRules()
	for nvcCode, amount := range amounts {
		record, err := recon.NewReconciliationRecord(nvcCode)
		require.NoError(t, err)
		record.ApplyRemittance(recon.RemittanceLeg{
			Amount:  decimal.NewFromFloat(amount),
			Date:    day,
			Source:  email.Source,
			EmailID: emailID,
		})
		record.Reclassify(rules)
		store.putRecord(record)
	}
}

func linkInStore(t *testing.T, store *mockReconStore, rpID, emailID string, confidence float64, method string) error {
	t.Helper()
	rules := recon.DefaultClassificationRules()
	return (&mockUnitOfWork{store: store}).Execute(context.Background(), func(tx recon.RepositorySet) error {
		_, err := applyFundingLink(context.Background(), tx, rules, rpID, emailID, confidence, method)
		return err
	})
}

func TestApplyFundingLink_FansOutToEveryRow(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	seedEmailWithRecords(t, store, "email-1", "BBDO USA LLC", day, map[string]float64{
		"NVC7KAAA": 6000,
		"NVC7KBBB": 4000,
	})
	rp := createTestReceipt(t, "rp-1", 10000, day, "BBDO USA LLC")
	store.putReceipt(&rp)

	rules := recon.DefaultClassificationRules()
	var outcome *linkOutcome
	err := (&mockUnitOfWork{store: store}).Execute(context.Background(), func(tx recon.RepositorySet) error {
		var err error
		outcome, err = applyFundingLink(context.Background(), tx, rules, "rp-1", "email-1", 0.92, recon.MatchMethodAuto)
		return err
	})

	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Len(t, outcome.records, 2)

	for _, nvcCode := range []string{"NVC7KAAA", "NVC7KBBB"} {
		record := store.records[nvcCode]
		assert.Equal(t, "rp-1", record.ReceivedPaymentID)
		require.NotNil(t, record.ReceivedPaymentAmount)
		assert.Equal(t, "10000", record.ReceivedPaymentAmount.String())
	}

	stored := store.receipts["rp-1"]
	assert.Equal(t, recon.RPStatusMatched, stored.MatchStatus)
	assert.Equal(t, "email-1", stored.MatchedEmailID)
	assert.Equal(t, recon.MatchMethodAuto, stored.MatchMethod)

	email := store.emails["email-1"]
	assert.Equal(t, "rp-1", email.ReceivedPaymentID)
	require.NotNil(t, email.MatchConfidence)
	assert.InDelta(t, 0.92, *email.MatchConfidence, 0.0001)
}

func TestApplyFundingLink_RelinkSamePairIsIdempotent(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	seedEmailWithRecords(t, store, "email-1", "BBDO USA LLC", day, map[string]float64{"NVC7KAAA": 4500})
	rp := createTestReceipt(t, "rp-1", 4500, day, "BBDO USA LLC")
	store.putReceipt(&rp)

	require.NoError(t, linkInStore(t, store, "rp-1", "email-1", 1.0, recon.MatchMethodAuto))
	require.NoError(t, linkInStore(t, store, "rp-1", "email-1", 1.0, recon.MatchMethodAuto))

	assert.Equal(t, recon.RPStatusMatched, store.receipts["rp-1"].MatchStatus)
	assert.Equal(t, "rp-1", store.records["NVC7KAAA"].ReceivedPaymentID)
}

func TestApplyFundingLink_RejectsConflictingLinks(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	seedEmailWithRecords(t, store, "email-1", "BBDO USA LLC", day, map[string]float64{"NVC7KAAA": 4500})
	seedEmailWithRecords(t, store, "email-2", "TBWA Worldwide", day, map[string]float64{"NVC7KBBB": 2000})
	first := createTestReceipt(t, "rp-1", 4500, day, "BBDO USA LLC")
	second := createTestReceipt(t, "rp-2", 4500, day, "BBDO USA LLC")
	store.putReceipt(&first)
	store.putReceipt(&second)

	require.NoError(t, linkInStore(t, store, "rp-1", "email-1", 1.0, recon.MatchMethodAuto))

	t.Run("email already linked to a different payment", func(t *testing.T) {
		err := linkInStore(t, store, "rp-2", "email-1", 1.0, recon.MatchMethodManual)
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "ALREADY_LINKED", domainErr.Code)
		assert.Equal(t, recon.RPStatusUnmatched, store.receipts["rp-2"].MatchStatus)
	})

	t.Run("payment already linked to a different email", func(t *testing.T) {
		err := linkInStore(t, store, "rp-1", "email-2", 1.0, recon.MatchMethodManual)
		assert.ErrorIs(t, err, shared.ErrAlreadyLinked)
		assert.Equal(t, "email-1", store.receipts["rp-1"].MatchedEmailID)
		assert.Empty(t, store.emails["email-2"].ReceivedPaymentID)
	})
}

func TestApplyFundingLink_MissingRows(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	seedEmailWithRecords(t, store, "email-1", "BBDO USA LLC", day, map[string]float64{"NVC7KAAA": 4500})
	rp := createTestReceipt(t, "rp-1", 4500, day, "BBDO USA LLC")
	store.putReceipt(&rp)

	t.Run("payment not found", func(t *testing.T) {
		err := linkInStore(t, store, "rp-missing", "email-1", 1.0, recon.MatchMethodManual)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "NOT_FOUND", domainErr.Code)
		assert.Equal(t, "Received payment not found", domainErr.Message)
	})

	t.Run("email not found", func(t *testing.T) {
		err := linkInStore(t, store, "rp-1", "email-missing", 1.0, recon.MatchMethodManual)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "NOT_FOUND", domainErr.Code)
		assert.Equal(t, "Email not found", domainErr.Message)
	})
}

func TestClearFundingLink_CascadesToRows(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	rules := recon.DefaultClassificationRules()

	email, err := recon.NewCachedEmail("email-1", recon.RemittanceSourceOASYS,
		"Payment Remittance On behalf of BBDO USA LLC", "remit@agency.example", day)
	require.NoError(t, err)
	store.emails["email-1"] = *email

	record, err := recon.NewReconciliationRecord("NVC7KAAA")
	require.NoError(t, err)
	record.ApplyRemittance(recon.RemittanceLeg{
		Amount:  decimal.NewFromFloat(4500),
		Date:    day,
		Source:  recon.RemittanceSourceOASYS,
		EmailID: "email-1",
	})
	record.ApplyInvoice(recon.InvoiceLeg{
		Amount:   decimal.NewFromFloat(4500),
		Status:   "Approved",
		Tenant:   "omnicomtbwa",
		Currency: "USD",
	})
	record.ApplyPayment(recon.PaymentLeg{
		Amount:    decimal.NewFromFloat(4500),
		AccountID: "acct-main",
		Date:      day,
		Currency:  "USD",
		Status:    "completed",
	})
	record.Reclassify(rules)
	store.putRecord(record)

	rp := createTestReceipt(t, "rp-1", 4500, day, "BBDO USA LLC")
	store.putReceipt(&rp)
	require.NoError(t, linkInStore(t, store, "rp-1", "email-1", 1.0, recon.MatchMethodAuto))
	require.Equal(t, recon.StatusFull4Way, store.records["NVC7KAAA"].MatchStatus)

	var outcome *linkOutcome
	err = (&mockUnitOfWork{store: store}).Execute(context.Background(), func(tx recon.RepositorySet) error {
		var err error
		outcome, err = clearFundingLink(context.Background(), tx, rules, "rp-1")
		return err
	})

	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Len(t, outcome.records, 1)

	cleared := store.records["NVC7KAAA"]
	assert.Equal(t, recon.StatusNoFunding, cleared.MatchStatus)
	assert.Contains(t, cleared.MatchFlags, recon.MatchFlagMissingFunding)
	assert.Empty(t, cleared.ReceivedPaymentID)
	assert.Nil(t, cleared.ReceivedPaymentAmount)

	assert.Equal(t, recon.RPStatusUnmatched, store.receipts["rp-1"].MatchStatus)
	assert.Empty(t, store.emails["email-1"].ReceivedPaymentID)
}

func TestClearFundingLink_NeverMatchedIsNoOp(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	rp := createTestReceipt(t, "rp-1", 4500, day, "BBDO USA LLC")
	store.putReceipt(&rp)

	rules := recon.DefaultClassificationRules()
	var outcome *linkOutcome
	err := (&mockUnitOfWork{store: store}).Execute(context.Background(), func(tx recon.RepositorySet) error {
		var err error
		outcome, err = clearFundingLink(context.Background(), tx, rules, "rp-1")
		return err
	})

	require.NoError(t, err)
	assert.Nil(t, outcome.email)
	assert.Empty(t, outcome.records)
	assert.Equal(t, recon.RPStatusUnmatched, store.receipts["rp-1"].MatchStatus)
}
