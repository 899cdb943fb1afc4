package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
	infraconfig "github.com/payops/recon/internal/infrastructure/config"
)

// maxMailResponseSize caps mail-store response bodies. Attachments come
// through this limit too, so it is sized for spreadsheet exports.
const maxMailResponseSize = 32 * 1024 * 1024 // 32MB

// AttachmentArchiver stores raw attachment payloads for audit. Archiving
// is best-effort: a failure is logged and the fetch proceeds without the
// storage key.
type AttachmentArchiver interface {
	Upload(ctx context.Context, storageKey string, data []byte, contentType string) error
}

// ParseFailureRecorder counts remittance attachments that failed to
// parse. The metrics layer satisfies this; the client works without one.
type ParseFailureRecorder interface {
	RecordParseFailure(ctx context.Context, source string)
}

// MailStoreClient fetches remittance emails from the internal mail-store
// service that fronts the mailbox transport. One message list call per
// configured source, one content call per attachment.
type MailStoreClient struct {
	cfg           *infraconfig.MailStoreConfig
	httpClient    *http.Client
	logger        *zap.Logger
	archiver      AttachmentArchiver
	parseFailures ParseFailureRecorder
}

// MailStoreOption configures optional collaborators of the client.
type MailStoreOption func(*MailStoreClient)

// WithAttachmentArchiver enables archiving of raw attachment payloads to
// object storage.
func WithAttachmentArchiver(a AttachmentArchiver) MailStoreOption {
	return func(c *MailStoreClient) {
		c.archiver = a
	}
}

// WithParseFailureRecorder wires the parse-failure counter.
func WithParseFailureRecorder(r ParseFailureRecorder) MailStoreOption {
	return func(c *MailStoreClient) {
		c.parseFailures = r
	}
}

// NewMailStoreClient creates a mail-store client from configuration.
func NewMailStoreClient(cfg *infraconfig.MailStoreConfig, logger *zap.Logger, opts ...MailStoreOption) *MailStoreClient {
	c := &MailStoreClient{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// mailMessage is the mail-store wire shape for one message.
type mailMessage struct {
	ID          string           `json:"id"`
	Subject     string           `json:"subject"`
	Sender      string           `json:"sender"`
	Date        string           `json:"date"`
	Attachments []mailAttachment `json:"attachments"`
}

type mailAttachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type mailListResponse struct {
	Messages []mailMessage `json:"messages"`
}

// FetchEmails pulls messages from every configured source within the
// lookback window. A failing source is logged and skipped so one broken
// mailbox cannot starve the others; the fetch only fails when every
// source is unreachable.
func (c *MailStoreClient) FetchEmails(ctx context.Context, daysBack int) ([]recon.EmailBatch, error) {
	var (
		batches  []recon.EmailBatch
		failures int
		lastErr  error
	)

	for _, source := range c.cfg.Sources {
		messages, err := c.listMessages(ctx, source, daysBack)
		if err != nil {
			failures++
			lastErr = err
			c.logger.Error("mail-store source fetch failed",
				zap.String("source", source),
				zap.Error(err))
			continue
		}
		c.logger.Info("fetched remittance emails",
			zap.String("source", source),
			zap.Int("count", len(messages)))

		for i := range messages {
			batch, err := c.buildBatch(ctx, source, &messages[i])
			if err != nil {
				c.logger.Warn("skipping message",
					zap.String("source", source),
					zap.String("email_id", messages[i].ID),
					zap.Error(err))
				continue
			}
			batches = append(batches, *batch)
		}
	}

	if failures > 0 && failures == len(c.cfg.Sources) {
		return nil, lastErr
	}
	return batches, nil
}

// buildBatch fingerprints one message and parses its CSV attachments.
// LDN GSS advices are image-only PDFs, so that source goes straight to
// manual review without downloading content.
func (c *MailStoreClient) buildBatch(ctx context.Context, source string, msg *mailMessage) (*recon.EmailBatch, error) {
	email, err := recon.NewCachedEmail(msg.ID, source, msg.Subject, msg.Sender, parseMailDate(msg.Date))
	if err != nil {
		return nil, err
	}

	if source == recon.RemittanceSourceLDNGSS {
		email.ManualReview = true
		for _, att := range msg.Attachments {
			email.Attachments = append(email.Attachments, recon.EmailAttachment{
				Filename: att.Filename,
				MimeType: att.MimeType,
				Size:     att.Size,
			})
		}
		return &recon.EmailBatch{Email: email}, nil
	}

	var advice *recon.RemittanceAdvice
	for _, att := range msg.Attachments {
		descriptor := recon.EmailAttachment{
			Filename: att.Filename,
			MimeType: att.MimeType,
			Size:     att.Size,
		}

		if !strings.HasSuffix(strings.ToLower(att.Filename), ".csv") {
			email.Attachments = append(email.Attachments, descriptor)
			continue
		}

		data, err := c.attachmentContent(ctx, msg.ID, att.ID)
		if err != nil {
			c.logger.Warn("attachment download failed",
				zap.String("email_id", msg.ID),
				zap.String("filename", att.Filename),
				zap.Error(err))
			email.Attachments = append(email.Attachments, descriptor)
			continue
		}
		descriptor.Size = int64(len(data))

		if c.archiver != nil {
			key := fmt.Sprintf("emails/%s/%s", msg.ID, att.Filename)
			if err := c.archiver.Upload(ctx, key, data, att.MimeType); err != nil {
				c.logger.Warn("attachment archive failed",
					zap.String("storage_key", key),
					zap.Error(err))
			} else {
				descriptor.StorageKey = key
			}
		}
		email.Attachments = append(email.Attachments, descriptor)

		parsed, err := ParseRemittanceCSV(data, source, msg.ID, msg.Subject)
		if err != nil {
			c.logger.Warn("remittance parse failed",
				zap.String("email_id", msg.ID),
				zap.String("filename", att.Filename),
				zap.Error(err))
			if c.parseFailures != nil {
				c.parseFailures.RecordParseFailure(ctx, source)
			}
			continue
		}
		if advice == nil {
			advice = parsed
		} else {
			mergeAdvice(advice, parsed)
		}
	}

	if advice == nil {
		email.ManualReview = true
		return &recon.EmailBatch{Email: email}, nil
	}

	if advice.AgencyName != "" {
		email.AgencyName = advice.AgencyName
	}
	total := advice.LinesTotal()
	if advice.PaymentAmount != nil && !advice.PaymentAmount.IsZero() {
		total = *advice.PaymentAmount
	}
	email.RemittanceTotal = &total
	email.LineCount = len(advice.Lines)

	return &recon.EmailBatch{Email: email, Advice: advice}, nil
}

// mergeAdvice folds a second parsed attachment into the first. Each
// attachment is one wired payment, so header amounts add up while the
// earliest payment date stands for the email.
func mergeAdvice(dst, src *recon.RemittanceAdvice) {
	dst.Lines = append(dst.Lines, src.Lines...)
	if dst.AccountNumber == "" {
		dst.AccountNumber = src.AccountNumber
	}
	if dst.AgencyName == "" {
		dst.AgencyName = src.AgencyName
	}
	if src.PaymentDate != nil && (dst.PaymentDate == nil || src.PaymentDate.Before(*dst.PaymentDate)) {
		dst.PaymentDate = src.PaymentDate
	}
	if src.PaymentAmount != nil {
		if dst.PaymentAmount == nil {
			dst.PaymentAmount = src.PaymentAmount
		} else {
			sum := dst.PaymentAmount.Add(*src.PaymentAmount)
			dst.PaymentAmount = &sum
		}
	}
}

// parseMailDate accepts the RFC 3339 timestamps the mail store emits plus
// the RFC 2822 dates raw mailbox headers carry.
func parseMailDate(s string) *time.Time {
	for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func (c *MailStoreClient) listMessages(ctx context.Context, source string, daysBack int) ([]mailMessage, error) {
	query := url.Values{}
	query.Set("source", source)
	query.Set("days_back", strconv.Itoa(daysBack))

	body, err := c.getWithRetry(ctx, "/api/messages", query)
	if err != nil {
		return nil, err
	}

	var resp mailListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: mail-store list response: %v", shared.ErrSourceMalformed, err)
	}
	return resp.Messages, nil
}

func (c *MailStoreClient) attachmentContent(ctx context.Context, msgID, attID string) ([]byte, error) {
	path := fmt.Sprintf("/api/messages/%s/attachments/%s", url.PathEscape(msgID), url.PathEscape(attID))
	return c.getWithRetry(ctx, path, nil)
}

func (c *MailStoreClient) getWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var body []byte
	op := func() error {
		var err error
		body, err = c.get(ctx, path, query)
		return err
	}
	if err := retryTransient(ctx, c.cfg.MaxRetries, op); err != nil {
		return nil, err
	}
	return body, nil
}

// get performs one request. Transport failures and 5xx responses are
// retryable; 4xx responses are permanent.
func (c *MailStoreClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("mail-store: failed to create request: %w", err))
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMailResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read mail-store response: %v", shared.ErrSourceUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: mail-store returned HTTP %d", shared.ErrSourceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, backoff.Permanent(fmt.Errorf("%w: mail-store returned HTTP %d", shared.ErrSourceUnavailable, resp.StatusCode))
	}
	return body, nil
}
