package integration

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
	"github.com/payops/recon/internal/infrastructure/persistence"
)

func TestGormReceivedPaymentRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	repo := persistence.NewGormReceivedPaymentRepository(testDB.DB)
	ctx := context.Background()

	paymentDate := time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC)

	newReceipt := func(t *testing.T, id, amount string) *recon.ReceivedPayment {
		t.Helper()
		rp, err := recon.NewReceivedPayment(id, decimal.RequireFromString(amount))
		require.NoError(t, err)
		rp.AccountID = "acct-main"
		rp.PayerName = "BBDO USA LLC"
		rp.PaymentDate = &paymentDate
		rp.PaymentStatus = "completed"
		return rp
	}

	t.Run("UpsertAndFindByID", func(t *testing.T) {
		rp := newReceipt(t, "rp-1", "12500.00")
		require.NoError(t, repo.Upsert(ctx, rp))

		found, err := repo.FindByID(ctx, "rp-1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.True(t, found.Amount.Equal(decimal.RequireFromString("12500.00")))
		assert.Equal(t, "BBDO USA LLC", found.PayerName)
		assert.Equal(t, recon.RPStatusUnmatched, found.MatchStatus)
	})

	t.Run("FindByIDNotFound", func(t *testing.T) {
		found, err := repo.FindByID(ctx, "rp-missing")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("UpsertNeverTouchesMatchFields", func(t *testing.T) {
		rp := newReceipt(t, "rp-2", "8000.00")
		require.NoError(t, repo.Upsert(ctx, rp))

		// Link the receipt to an email; the link is written with the
		// full-row Save.
		require.NoError(t, rp.LinkToEmail("email-b", 0.9, recon.MatchMethodManual))
		require.NoError(t, repo.Save(ctx, rp))

		// The source re-reports the receipt with a corrected amount. The
		// refresh must keep the standing link.
		refetched := newReceipt(t, "rp-2", "8100.00")
		require.NoError(t, repo.Upsert(ctx, refetched))

		found, err := repo.FindByID(ctx, "rp-2")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.True(t, found.Amount.Equal(decimal.RequireFromString("8100.00")))
		assert.True(t, found.IsLinked())
		assert.Equal(t, "email-b", found.MatchedEmailID)
		assert.Equal(t, recon.MatchMethodManual, found.MatchMethod)
	})

	t.Run("LinkIsOneToOne", func(t *testing.T) {
		found, err := repo.FindByID(ctx, "rp-2")
		require.NoError(t, err)
		require.NotNil(t, found)

		// Relinking to the same email is idempotent; a different email
		// requires an unlink first.
		require.NoError(t, found.LinkToEmail("email-b", 0.9, recon.MatchMethodManual))
		assert.ErrorIs(t, found.LinkToEmail("email-other", 0.9, recon.MatchMethodManual), shared.ErrAlreadyLinked)
	})

	t.Run("FindUnmatched", func(t *testing.T) {
		suggested := newReceipt(t, "rp-3", "450.00")
		suggested.Suggest("email-a", 0.6)
		require.NoError(t, repo.Save(ctx, suggested))

		unmatched, err := repo.FindUnmatched(ctx)
		require.NoError(t, err)
		require.Len(t, unmatched, 1)
		assert.Equal(t, "rp-1", unmatched[0].ID)
	})

	t.Run("FindAllWithMatchStatusFilter", func(t *testing.T) {
		status := recon.RPStatusSuggested
		filter := recon.ReceivedPaymentFilter{MatchStatus: &status}
		payments, total, err := repo.FindAll(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, payments, 1)
		assert.Equal(t, "rp-3", payments[0].ID)
		assert.Contains(t, payments[0].Notes, "email-a")
	})

	t.Run("Summary", func(t *testing.T) {
		summary, err := repo.Summary(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), summary.Total)
		assert.Equal(t, int64(1), summary.Matched)
		assert.Equal(t, int64(1), summary.Suggested)
		assert.Equal(t, int64(1), summary.Unmatched)
		assert.True(t, summary.MatchedAmount.Equal(decimal.RequireFromString("8100.00")))
		assert.True(t, summary.UnmatchedAmount.Equal(decimal.RequireFromString("12500.00")))
		assert.True(t, summary.TotalAmount.Equal(decimal.RequireFromString("21050.00")))
	})
}
