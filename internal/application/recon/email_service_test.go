package recon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
)

// mockAttachmentStorage fabricates download URLs; keys in missing report
// as gone from the archive.
type mockAttachmentStorage struct {
	missing map[string]bool
}

func newMockAttachmentStorage() *mockAttachmentStorage {
	return &mockAttachmentStorage{missing: map[string]bool{}}
}

func (m *mockAttachmentStorage) GenerateDownloadURL(_ context.Context, storageKey string, _ time.Duration) (string, time.Time, error) {
	return "https://archive.test/" + storageKey, time.Now().Add(15 * time.Minute), nil
}

func (m *mockAttachmentStorage) ObjectExists(_ context.Context, storageKey string) (bool, error) {
	return !m.missing[storageKey], nil
}

func seedEmail(t *testing.T, store *mockReconStore, id, source, agency string, mutate func(*recon.CachedEmail)) {
	t.Helper()
	day := testDate(t, "2025-07-14")
	email, err := recon.NewCachedEmail(id, source,
		"Payment Remittance On behalf of "+agency, "remit@agency.example", day)
	require.NoError(t, err)
	if mutate != nil {
		mutate(email)
	}
	store.emails[id] = *email
}

func TestEmailService_ListEmails(t *testing.T) {
	store := newMockReconStore()
	seedEmail(t, store, "email-1", recon.RemittanceSourceOASYS, "BBDO USA LLC", func(e *recon.CachedEmail) {
		require.NoError(t, e.LinkReceivedPayment("rp-1", 0.92, recon.MatchMethodAuto))
	})
	seedEmail(t, store, "email-2", recon.RemittanceSourceD365, "TBWA Worldwide", func(e *recon.CachedEmail) {
		e.ManualReview = true
	})
	seedEmail(t, store, "email-3", recon.RemittanceSourceOASYS, "Publicis Media", nil)
	svc := NewEmailService(store.emailRepo, store.recordRepo, newMockAttachmentStorage())

	t.Run("filters by source", func(t *testing.T) {
		emails, total, err := svc.ListEmails(context.Background(), EmailListFilter{Source: recon.RemittanceSourceOASYS})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, emails, 2)
		assert.Equal(t, "email-1", emails[0].ID)
		assert.Equal(t, "email-3", emails[1].ID)
	})

	t.Run("filters by linkage", func(t *testing.T) {
		linked := true
		emails, _, err := svc.ListEmails(context.Background(), EmailListFilter{Linked: &linked})
		require.NoError(t, err)
		require.Len(t, emails, 1)
		assert.Equal(t, "email-1", emails[0].ID)
		assert.Equal(t, "rp-1", emails[0].ReceivedPaymentID)
	})

	t.Run("filters by manual review", func(t *testing.T) {
		manual := true
		emails, _, err := svc.ListEmails(context.Background(), EmailListFilter{ManualReview: &manual})
		require.NoError(t, err)
		require.Len(t, emails, 1)
		assert.Equal(t, "email-2", emails[0].ID)
		assert.True(t, emails[0].ManualReview)
	})
}

func TestEmailService_GetEmail(t *testing.T) {
	day := testDate(t, "2025-07-14")
	store := newMockReconStore()
	seedEmailWithRecords(t, store, "email-1", "BBDO USA LLC", day, map[string]float64{
		"NVC7KAAA": 6000,
		"NVC7KBBB": 4000,
	})
	svc := NewEmailService(store.emailRepo, store.recordRepo, newMockAttachmentStorage())

	t.Run("returns the email with its rows", func(t *testing.T) {
		resp, err := svc.GetEmail(context.Background(), "email-1")

		require.NoError(t, err)
		assert.Equal(t, "email-1", resp.ID)
		assert.Equal(t, "BBDO USA LLC", resp.AgencyName)
		assert.Equal(t, recon.RemittanceSourceOASYS, resp.Source)
		require.Len(t, resp.Records, 2)
		assert.Equal(t, "NVC7KAAA", resp.Records[0].NVCCode)
		assert.Equal(t, "NVC7KBBB", resp.Records[1].NVCCode)
		require.NotNil(t, resp.Records[0].RemittanceAmount)
		assert.Equal(t, "6000", resp.Records[0].RemittanceAmount.String())
		assert.Equal(t, recon.StatusRemittanceOnly.String(), resp.Records[0].MatchStatus)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := svc.GetEmail(context.Background(), "email-404")
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "NOT_FOUND", domainErr.Code)
	})
}

func TestEmailService_Stats(t *testing.T) {
	store := newMockReconStore()
	seedEmail(t, store, "email-1", recon.RemittanceSourceOASYS, "BBDO USA LLC", func(e *recon.CachedEmail) {
		require.NoError(t, e.LinkReceivedPayment("rp-1", 0.92, recon.MatchMethodAuto))
	})
	seedEmail(t, store, "email-2", recon.RemittanceSourceD365, "TBWA Worldwide", func(e *recon.CachedEmail) {
		e.ManualReview = true
	})
	seedEmail(t, store, "email-3", recon.RemittanceSourceOASYS, "Publicis Media", nil)
	svc := NewEmailService(store.emailRepo, store.recordRepo, newMockAttachmentStorage())

	stats, err := svc.Stats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.BySource[recon.RemittanceSourceOASYS])
	assert.Equal(t, int64(1), stats.BySource[recon.RemittanceSourceD365])
	assert.Equal(t, int64(1), stats.ManualReview)
	assert.Equal(t, int64(1), stats.Linked)
}

func TestEmailService_AttachmentURL(t *testing.T) {
	store := newMockReconStore()
	seedEmail(t, store, "email-1", recon.RemittanceSourceOASYS, "BBDO USA LLC", func(e *recon.CachedEmail) {
		e.Attachments = recon.AttachmentList{
			{Filename: "remittance.csv", MimeType: "text/csv", Size: 2048, StorageKey: "emails/email-1/remittance.csv"},
			{Filename: "cover.pdf", MimeType: "application/pdf", Size: 9000},
		}
	})
	storage := newMockAttachmentStorage()
	svc := NewEmailService(store.emailRepo, store.recordRepo, storage)

	t.Run("resolves archived attachment", func(t *testing.T) {
		resp, err := svc.AttachmentURL(context.Background(), "email-1", "remittance.csv")

		require.NoError(t, err)
		assert.Equal(t, "remittance.csv", resp.Filename)
		assert.Equal(t, "emails/email-1/remittance.csv", resp.StorageKey)
		assert.Equal(t, "https://archive.test/emails/email-1/remittance.csv", resp.URL)
		assert.True(t, resp.ExpiresAt.After(time.Now()))
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.AttachmentURL(context.Background(), "email-404", "remittance.csv")
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "NOT_FOUND", domainErr.Code)
	})

	t.Run("unknown filename", func(t *testing.T) {
		_, err := svc.AttachmentURL(context.Background(), "email-1", "statement.xlsx")
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "NOT_FOUND", domainErr.Code)
	})

	t.Run("attachment was never archived", func(t *testing.T) {
		_, err := svc.AttachmentURL(context.Background(), "email-1", "cover.pdf")
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "NOT_FOUND", domainErr.Code)
		assert.Contains(t, domainErr.Message, "archived")
	})

	t.Run("object expired from the archive", func(t *testing.T) {
		storage.missing["emails/email-1/remittance.csv"] = true
		defer delete(storage.missing, "emails/email-1/remittance.csv")

		_, err := svc.AttachmentURL(context.Background(), "email-1", "remittance.csv")
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "NOT_FOUND", domainErr.Code)
		assert.Contains(t, domainErr.Message, "no longer available")
	})
}
