package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStubAttachmentArchive(t *testing.T) {
	s := NewStubAttachmentArchive()
	require.NotNil(t, s)
	assert.Equal(t, "https://storage.example.com", s.BaseURL)
}

func TestStubAttachmentArchive_GenerateDownloadURL(t *testing.T) {
	s := NewStubAttachmentArchive()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		url, expiresAt, err := s.GenerateDownloadURL(ctx, "emails/msg-001/remittance.csv", 1*time.Hour)
		require.NoError(t, err)
		assert.Contains(t, url, "https://storage.example.com/download/emails/msg-001/remittance.csv")
		assert.True(t, expiresAt.After(time.Now()))
	})

	t.Run("zero expiry falls back to default", func(t *testing.T) {
		_, expiresAt, err := s.GenerateDownloadURL(ctx, "emails/msg-001/remittance.csv", 0)
		require.NoError(t, err)
		assert.True(t, expiresAt.After(time.Now()))
		assert.True(t, expiresAt.Before(time.Now().Add(16*time.Minute)))
	})

	t.Run("empty storage key", func(t *testing.T) {
		_, _, err := s.GenerateDownloadURL(ctx, "", 1*time.Hour)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage key is required")
	})
}

func TestStubAttachmentArchive_ObjectExists(t *testing.T) {
	s := NewStubAttachmentArchive()
	ctx := context.Background()

	t.Run("always returns true for valid key", func(t *testing.T) {
		exists, err := s.ObjectExists(ctx, "emails/msg-001/remittance.csv")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("empty storage key", func(t *testing.T) {
		exists, err := s.ObjectExists(ctx, "")
		require.Error(t, err)
		assert.False(t, exists)
		assert.Contains(t, err.Error(), "storage key is required")
	})
}
