package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/infrastructure/persistence"
)

func TestMain(m *testing.M) {
	code := m.Run()
	CleanupSharedContainer()
	os.Exit(code)
}

// seedRecord builds a record with the given legs applied and classified.
func seedRecord(t *testing.T, nvc string, build func(r *recon.ReconciliationRecord)) *recon.ReconciliationRecord {
	t.Helper()
	record, err := recon.NewReconciliationRecord(nvc)
	require.NoError(t, err)
	if build != nil {
		build(record)
	}
	record.Reclassify(recon.DefaultClassificationRules())
	return record
}

func amountPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestGormReconciliationRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	repo := persistence.NewGormReconciliationRepository(testDB.DB)
	ctx := context.Background()

	remDate := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	t.Run("SaveAndFindByNVC", func(t *testing.T) {
		record := seedRecord(t, "NVCIT0001", func(r *recon.ReconciliationRecord) {
			r.ApplyRemittance(recon.RemittanceLeg{
				Amount:  decimal.RequireFromString("1500.00"),
				Date:    &remDate,
				Source:  recon.RemittanceSourceOASYS,
				EmailID: "email-it-1",
			})
			r.ApplyInvoice(recon.InvoiceLeg{
				Amount:    decimal.RequireFromString("1500.00"),
				Status:    "Paid",
				Tenant:    "Atlas Media",
				PayrunRef: "PR-100",
				Currency:  "USD",
			})
		})
		require.NoError(t, repo.Save(ctx, record))

		found, err := repo.FindByNVC(ctx, "NVCIT0001")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "NVCIT0001", found.NVCCode)
		assert.Equal(t, recon.Status2WayMatched, found.MatchStatus)
		require.NotNil(t, found.RemittanceAmount)
		assert.True(t, found.RemittanceAmount.Equal(decimal.RequireFromString("1500.00")))
		assert.Equal(t, "email-it-1", found.RemittanceEmailID)
		assert.Equal(t, "Atlas Media", found.InvoiceTenant)
		assert.True(t, found.MatchFlags.Contains(recon.MatchFlagMissingFunding))
		assert.True(t, found.MatchFlags.Contains(recon.MatchFlagMissingPayment))
	})

	t.Run("FindByNVCNotFound", func(t *testing.T) {
		found, err := repo.FindByNVC(ctx, "NVC-DOES-NOT-EXIST")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("SaveIsUpsert", func(t *testing.T) {
		record := seedRecord(t, "NVCIT0002", func(r *recon.ReconciliationRecord) {
			r.ApplyRemittance(recon.RemittanceLeg{
				Amount:  decimal.RequireFromString("200.00"),
				Source:  recon.RemittanceSourceD365,
				EmailID: "email-it-2",
			})
		})
		require.NoError(t, repo.Save(ctx, record))

		// Second save with the invoice leg added must update the same row.
		record.ApplyInvoice(recon.InvoiceLeg{
			Amount:   decimal.RequireFromString("200.00"),
			Status:   "Paid",
			Tenant:   "Beacon Group",
			Currency: "USD",
		})
		record.Reclassify(recon.DefaultClassificationRules())
		require.NoError(t, repo.Save(ctx, record))

		found, err := repo.FindByNVC(ctx, "NVCIT0002")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, recon.Status2WayMatched, found.MatchStatus)
		assert.Equal(t, "Beacon Group", found.InvoiceTenant)
	})

	t.Run("FindByEmailID", func(t *testing.T) {
		for _, nvc := range []string{"NVCIT0010", "NVCIT0011"} {
			record := seedRecord(t, nvc, func(r *recon.ReconciliationRecord) {
				r.ApplyRemittance(recon.RemittanceLeg{
					Amount:  decimal.RequireFromString("75.00"),
					Source:  recon.RemittanceSourceOASYS,
					EmailID: "email-it-shared",
				})
			})
			require.NoError(t, repo.Save(ctx, record))
		}

		records, err := repo.FindByEmailID(ctx, "email-it-shared")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "NVCIT0010", records[0].NVCCode)
		assert.Equal(t, "NVCIT0011", records[1].NVCCode)
	})

	t.Run("FindByReceivedPaymentID", func(t *testing.T) {
		record := seedRecord(t, "NVCIT0020", func(r *recon.ReconciliationRecord) {
			r.ApplyRemittance(recon.RemittanceLeg{
				Amount:  decimal.RequireFromString("320.00"),
				Source:  recon.RemittanceSourceOASYS,
				EmailID: "email-it-20",
			})
			r.ApplyInvoice(recon.InvoiceLeg{
				Amount: decimal.RequireFromString("320.00"),
				Status: "Paid",
				Tenant: "Atlas Media",
			})
			r.ApplyFunding(recon.FundingLeg{
				ReceivedPaymentID: "rp-it-20",
				Amount:            decimal.RequireFromString("320.00"),
			})
		})
		require.NoError(t, repo.Save(ctx, record))

		records, err := repo.FindByReceivedPaymentID(ctx, "rp-it-20")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "NVCIT0020", records[0].NVCCode)
		assert.Equal(t, recon.StatusAwaitingPayment, records[0].MatchStatus)
	})

	t.Run("FindAllWithStatusFilter", func(t *testing.T) {
		mismatch := seedRecord(t, "NVCIT0030", func(r *recon.ReconciliationRecord) {
			r.ApplyRemittance(recon.RemittanceLeg{
				Amount:  decimal.RequireFromString("100.00"),
				Source:  recon.RemittanceSourceOASYS,
				EmailID: "email-it-30",
			})
			r.ApplyInvoice(recon.InvoiceLeg{
				Amount: decimal.RequireFromString("250.00"),
				Status: "Paid",
				Tenant: "Beacon Group",
			})
		})
		require.NoError(t, repo.Save(ctx, mismatch))

		status := recon.StatusAmountMismatch
		filter := recon.RecordFilter{Status: &status}
		records, total, err := repo.FindAll(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, records, 1)
		assert.Equal(t, "NVCIT0030", records[0].NVCCode)
		assert.True(t, records[0].MatchFlags.Contains(recon.MatchFlagAmountMismatch))
	})

	t.Run("FindAllSearchByNVC", func(t *testing.T) {
		filter := recon.RecordFilter{}
		filter.Search = "it-0030"
		records, total, err := repo.FindAll(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, records, 1)
		assert.Equal(t, "NVCIT0030", records[0].NVCCode)
	})

	t.Run("FindQueueExcludesTerminalAndOrdersByPriority", func(t *testing.T) {
		full := seedRecord(t, "NVCIT0040", func(r *recon.ReconciliationRecord) {
			amount := decimal.RequireFromString("900.00")
			r.ApplyRemittance(recon.RemittanceLeg{Amount: amount, Source: recon.RemittanceSourceOASYS, EmailID: "email-it-40"})
			r.ApplyInvoice(recon.InvoiceLeg{Amount: amount, Status: "Paid", Tenant: "Atlas Media", Currency: "USD"})
			r.ApplyFunding(recon.FundingLeg{ReceivedPaymentID: "rp-it-40", Amount: amount})
			r.ApplyPayment(recon.PaymentLeg{Amount: amount, Currency: "USD", Status: "completed"})
		})
		require.NoError(t, repo.Save(ctx, full))
		require.Equal(t, recon.StatusFull4Way, full.MatchStatus)

		records, total, err := repo.FindQueue(ctx, recon.QueueFilter{})
		require.NoError(t, err)
		assert.Greater(t, total, int64(0))

		for _, record := range records {
			assert.False(t, record.MatchStatus.IsTerminal(),
				"queue must not contain %s (%s)", record.NVCCode, record.MatchStatus)
		}

		// Default ordering is status urgency: the amount mismatch seeded
		// above must come before any 2-way matched record.
		positions := map[string]int{}
		for i, record := range records {
			positions[record.NVCCode] = i
		}
		require.Contains(t, positions, "NVCIT0030")
		require.Contains(t, positions, "NVCIT0001")
		assert.Less(t, positions["NVCIT0030"], positions["NVCIT0001"])
	})

	t.Run("FindQueueFilterByFlag", func(t *testing.T) {
		flagged, err := repo.FindByNVC(ctx, "NVCIT0030")
		require.NoError(t, err)
		require.NotNil(t, flagged)
		require.NoError(t, flagged.SetReviewFlag(recon.FlagInvestigating, "checking with agency", "", recon.DefaultClassificationRules()))
		require.NoError(t, repo.Save(ctx, flagged))

		flag := recon.FlagInvestigating
		records, total, err := repo.FindQueue(ctx, recon.QueueFilter{Flag: &flag})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, records, 1)
		assert.Equal(t, "NVCIT0030", records[0].NVCCode)
		assert.Equal(t, "checking with agency", records[0].FlagNotes)
	})

	t.Run("Summary", func(t *testing.T) {
		summary, err := repo.Summary(ctx)
		require.NoError(t, err)

		// Every status of the enumeration appears, zero counts included.
		assert.Len(t, summary.ByStatus, len(recon.AllMatchStatuses))
		assert.Equal(t, int64(1), summary.Count(recon.StatusAmountMismatch))
		assert.Equal(t, int64(1), summary.Count(recon.StatusFull4Way))
		assert.Equal(t, int64(0), summary.Count(recon.StatusResolved))

		var sum int64
		for _, count := range summary.ByStatus {
			sum += count
		}
		assert.Equal(t, summary.Total, sum)
	})

	t.Run("TenantBreakdown", func(t *testing.T) {
		breakdown, err := repo.TenantBreakdown(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, breakdown)

		byTenant := map[string]recon.TenantSummary{}
		for _, row := range breakdown {
			byTenant[row.Tenant] = row
		}

		atlas, ok := byTenant["Atlas Media"]
		require.True(t, ok)
		assert.GreaterOrEqual(t, atlas.Records, int64(2))
		assert.GreaterOrEqual(t, atlas.Matched, int64(2))

		beacon, ok := byTenant["Beacon Group"]
		require.True(t, ok)
		assert.Equal(t, int64(1), beacon.Mismatched)
	})

	t.Run("UnlinkedEmailCandidates", func(t *testing.T) {
		emailRepo := persistence.NewGormEmailRepository(testDB.DB)
		email, err := recon.NewCachedEmail("email-it-30", recon.RemittanceSourceOASYS,
			"Payment Remittance On behalf of Beacon Group", "remit@agency.example", &remDate)
		require.NoError(t, err)
		require.NoError(t, emailRepo.Upsert(ctx, email))

		candidates, err := repo.UnlinkedEmailCandidates(ctx)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "email-it-30", candidates[0].EmailID)
		assert.Equal(t, "Beacon Group", candidates[0].AgencyName)
		assert.Equal(t, 1, candidates[0].NVCCount)
		assert.True(t, candidates[0].TotalAmount.Equal(decimal.RequireFromString("100.00")))

		// A linked email must drop out of the candidate pool.
		require.NoError(t, email.LinkReceivedPayment("rp-it-30", 1.0, recon.MatchMethodManual))
		require.NoError(t, emailRepo.Save(ctx, email))

		candidates, err = repo.UnlinkedEmailCandidates(ctx)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("AmountSearch", func(t *testing.T) {
		records, err := repo.AmountSearch(ctx, recon.AmountSearchQuery{
			Field:     recon.AmountFieldRemittance,
			AmountMin: amountPtr("850.00"),
			AmountMax: amountPtr("950.00"),
		})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "NVCIT0040", records[0].NVCCode)

		_, err = repo.AmountSearch(ctx, recon.AmountSearchQuery{Field: "payer_name"})
		assert.Error(t, err)
	})

	t.Run("SavePersistsAuditTrail", func(t *testing.T) {
		record := seedRecord(t, "NVCIT0050", func(r *recon.ReconciliationRecord) {
			amount := decimal.RequireFromString("325.00")
			r.ApplyRemittance(recon.RemittanceLeg{Amount: amount, Source: recon.RemittanceSourceOASYS, EmailID: "email-it-50"})
		})
		record.AppendNote("Associated rp-it-50 by hand")
		require.NoError(t, record.SetReviewFlag(recon.FlagResolved, "agency confirmed receipt", "j.ops", recon.DefaultClassificationRules()))
		require.NoError(t, repo.Save(ctx, record))

		found, err := repo.FindByNVC(ctx, "NVCIT0050")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "Associated rp-it-50 by hand", found.Notes)
		assert.Equal(t, "agency confirmed receipt", found.FlagNotes)
		assert.Equal(t, recon.StatusResolved, found.MatchStatus)
		require.NotNil(t, found.ResolvedAt)
		assert.Equal(t, "j.ops", found.ResolvedBy)
	})
}
