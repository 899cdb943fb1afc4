package storage

import (
	"context"
	"errors"
	"time"

	reconapp "github.com/payops/recon/internal/application/recon"
)

// StubAttachmentArchive is a placeholder for the read side of the archive,
// used when object storage is not configured. It fabricates download URLs
// so the review flow stays navigable in development. It deliberately has
// no Upload method: with storage disabled the fetcher skips archiving
// entirely, so no email ever carries a storage key that points nowhere.
type StubAttachmentArchive struct {
	// BaseURL is the base URL for fabricated download URLs
	// Defaults to "https://storage.example.com" if not set
	BaseURL string
}

// NewStubAttachmentArchive creates a new StubAttachmentArchive
func NewStubAttachmentArchive() *StubAttachmentArchive {
	return &StubAttachmentArchive{
		BaseURL: "https://storage.example.com",
	}
}

// Ensure StubAttachmentArchive implements the review-flow port
var _ reconapp.AttachmentStorage = (*StubAttachmentArchive)(nil)

// GenerateDownloadURL generates a stub presigned URL for an archived attachment
func (s *StubAttachmentArchive) GenerateDownloadURL(
	ctx context.Context,
	storageKey string,
	expiresIn time.Duration,
) (string, time.Time, error) {
	if storageKey == "" {
		return "", time.Time{}, errors.New("storage key is required")
	}

	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}

	expiresAt := time.Now().Add(expiresIn)
	url := s.BaseURL + "/download/" + storageKey + "?expires=" + expiresAt.Format(time.RFC3339)

	return url, expiresAt, nil
}

// ObjectExists always returns true in stub mode so archived descriptors
// from an earlier configuration still resolve
func (s *StubAttachmentArchive) ObjectExists(ctx context.Context, storageKey string) (bool, error) {
	if storageKey == "" {
		return false, errors.New("storage key is required")
	}
	return true, nil
}
