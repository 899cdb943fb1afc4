package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
	infraconfig "github.com/payops/recon/internal/infrastructure/config"
)

// maxProcessorResponseSize limits processor response bodies.
const maxProcessorResponseSize = 10 * 1024 * 1024 // 10MB

// ProcessorAccount is one sub-account at the payment processor.
type ProcessorAccount struct {
	ID   string
	Name string
}

// ProcessorClient talks to the payment processor's corporate API: inbound
// funding receipts (leg 3) and outbound payments (leg 4) per sub-account.
// Auth is a login call returning a short-lived bearer token; the client
// refreshes proactively before expiry and re-authenticates on a 401.
type ProcessorClient struct {
	cfg        *infraconfig.ProcessorConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewProcessorClient creates a processor client from configuration.
func NewProcessorClient(cfg *infraconfig.ProcessorConfig, logger *zap.Logger) *ProcessorClient {
	return &ProcessorClient{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

// processorResource is one JSON:API resource: an id plus a bag of
// endpoint-specific attributes.
type processorResource struct {
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

type processorListResponse struct {
	Data []processorResource `json:"data"`
}

// processorLoginResponse tolerates the token field moving between API
// revisions.
type processorLoginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	Data        struct {
		AccessToken string `json:"accessToken"`
	} `json:"data"`
}

type receivedPaymentAttrs struct {
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	PaymentDate        string          `json:"paymentDate"`
	PaymentStatus      string          `json:"paymentStatus"`
	PayerName          string          `json:"payerName"`
	InfoToAccountOwner string          `json:"infoToAccountOwner"`
	MSLReference1      string          `json:"mslReference1"`
	CreatedOn          string          `json:"createdOn"`
}

type outboundPaymentAttrs struct {
	PaymentReference string          `json:"paymentReference"`
	ClientReference  string          `json:"clientReference"`
	BatchReference   string          `json:"batchReference"`
	PaymentAmount    decimal.Decimal `json:"paymentAmount"`
	PaymentCurrency  string          `json:"paymentCurrency"`
	PaymentStatus    string          `json:"paymentStatus"`
	PaymentDate      string          `json:"paymentDate"`
	PaymentValueDate string          `json:"paymentValueDate"`
	CreatedAt        string          `json:"createdAt"`
	RecipientDetails struct {
		BankAccountName    string `json:"bankAccountName"`
		BankAccountCountry string `json:"bankAccountCountry"`
	} `json:"recipientDetails"`
}

// FetchReceivedPayments pulls inbound funding receipts across the polled
// sub-accounts. A failing account is logged and skipped; the fetch only
// fails when every account is unreachable.
func (c *ProcessorClient) FetchReceivedPayments(ctx context.Context) ([]recon.ReceivedPayment, error) {
	accounts, err := c.resolveAccounts(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var (
		receipts []recon.ReceivedPayment
		failures int
		lastErr  error
	)
	for _, acc := range accounts {
		resources, err := c.list(ctx, fmt.Sprintf("/accounts/%s/receivedPayments", url.PathEscape(acc.ID)))
		if err != nil {
			failures++
			lastErr = err
			c.logger.Error("received payments fetch failed",
				zap.String("account_id", acc.ID),
				zap.Error(err))
			continue
		}

		for _, res := range resources {
			var attrs receivedPaymentAttrs
			if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
				c.logger.Warn("skipping malformed received payment",
					zap.String("account_id", acc.ID),
					zap.String("payment_id", res.ID),
					zap.Error(err))
				continue
			}

			payer := attrs.PayerName
			if payer == "" {
				payer = recon.CleanPayerName(attrs.InfoToAccountOwner)
			}
			currency := attrs.Currency
			if currency == "" {
				currency = "USD"
			}
			receipts = append(receipts, recon.ReceivedPayment{
				ID:            res.ID,
				AccountID:     acc.ID,
				AccountName:   acc.Name,
				Amount:        attrs.Amount,
				Currency:      currency,
				PaymentDate:   parseProcessorTime(attrs.PaymentDate),
				PaymentStatus: attrs.PaymentStatus,
				PayerName:     payer,
				RawInfo:       attrs.InfoToAccountOwner,
				MSLReference:  attrs.MSLReference1,
				CreatedOn:     parseProcessorTime(attrs.CreatedOn),
				FetchedAt:     now,
				MatchStatus:   recon.RPStatusUnmatched,
			})
		}
		c.logger.Info("fetched received payments",
			zap.String("account_id", acc.ID),
			zap.String("account_name", acc.Name),
			zap.Int("count", len(resources)))
	}

	if failures > 0 && failures == len(accounts) {
		return nil, lastErr
	}
	return receipts, nil
}

// FetchPayments pulls outbound payments across the polled sub-accounts.
// The NVC code is extracted from the "{tenant}.{nvc}" payment reference;
// payments without one are still cached for lookups.
func (c *ProcessorClient) FetchPayments(ctx context.Context) ([]recon.CachedPayment, error) {
	accounts, err := c.resolveAccounts(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var (
		payments []recon.CachedPayment
		failures int
		lastErr  error
	)
	for _, acc := range accounts {
		resources, err := c.list(ctx, fmt.Sprintf("/accounts/%s/payments", url.PathEscape(acc.ID)))
		if err != nil {
			failures++
			lastErr = err
			c.logger.Error("outbound payments fetch failed",
				zap.String("account_id", acc.ID),
				zap.Error(err))
			continue
		}

		for _, res := range resources {
			var attrs outboundPaymentAttrs
			if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
				c.logger.Warn("skipping malformed payment",
					zap.String("account_id", acc.ID),
					zap.String("payment_id", res.ID),
					zap.Error(err))
				continue
			}

			tenant, nvc, _ := recon.ParsePaymentReference(attrs.PaymentReference)
			payments = append(payments, recon.CachedPayment{
				ID:               res.ID,
				AccountID:        acc.ID,
				AccountName:      acc.Name,
				NVCCode:          nvc,
				Tenant:           tenant,
				Amount:           attrs.PaymentAmount,
				Currency:         attrs.PaymentCurrency,
				Status:           attrs.PaymentStatus,
				PaymentDate:      parseProcessorTime(attrs.PaymentDate),
				ValueDate:        parseProcessorTime(attrs.PaymentValueDate),
				RecipientName:    attrs.RecipientDetails.BankAccountName,
				RecipientCountry: attrs.RecipientDetails.BankAccountCountry,
				PaymentReference: attrs.PaymentReference,
				ClientReference:  attrs.ClientReference,
				BatchReference:   attrs.BatchReference,
				CreatedAt:        parseProcessorTime(attrs.CreatedAt),
				FetchedAt:        now,
			})
		}
		c.logger.Info("fetched outbound payments",
			zap.String("account_id", acc.ID),
			zap.String("account_name", acc.Name),
			zap.Int("count", len(resources)))
	}

	if failures > 0 && failures == len(accounts) {
		return nil, lastErr
	}
	return payments, nil
}

// ListAccounts returns the sub-accounts visible to the API login.
func (c *ProcessorClient) ListAccounts(ctx context.Context) ([]ProcessorAccount, error) {
	resources, err := c.list(ctx, "/accounts")
	if err != nil {
		return nil, err
	}

	accounts := make([]ProcessorAccount, 0, len(resources))
	for _, res := range resources {
		var attrs struct {
			AccountName string `json:"accountName"`
		}
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			continue
		}
		accounts = append(accounts, ProcessorAccount{ID: res.ID, Name: attrs.AccountName})
	}
	return accounts, nil
}

// resolveAccounts returns the sub-accounts to poll. Configured account
// ids take precedence; names for them come from the account listing on a
// best-effort basis.
func (c *ProcessorClient) resolveAccounts(ctx context.Context) ([]ProcessorAccount, error) {
	listed, err := c.ListAccounts(ctx)
	if len(c.cfg.AccountIDs) == 0 {
		if err != nil {
			return nil, err
		}
		return listed, nil
	}

	if err != nil {
		c.logger.Warn("account listing failed, proceeding with configured ids", zap.Error(err))
	}
	names := make(map[string]string, len(listed))
	for _, acc := range listed {
		names[acc.ID] = acc.Name
	}

	accounts := make([]ProcessorAccount, 0, len(c.cfg.AccountIDs))
	for _, id := range c.cfg.AccountIDs {
		accounts = append(accounts, ProcessorAccount{ID: id, Name: names[id]})
	}
	return accounts, nil
}

func (c *ProcessorClient) list(ctx context.Context, path string) ([]processorResource, error) {
	body, err := c.getWithRetry(ctx, path)
	if err != nil {
		return nil, err
	}

	var resp processorListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: processor response: %v", shared.ErrSourceMalformed, err)
	}
	return resp.Data, nil
}

func (c *ProcessorClient) getWithRetry(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	op := func() error {
		var err error
		body, err = c.get(ctx, path)
		return err
	}
	if err := retryTransient(ctx, c.cfg.MaxRetries, op); err != nil {
		return nil, err
	}
	return body, nil
}

// get performs one authenticated request. A 401 drops the cached token
// and reports retryable, so the next attempt logs in again.
func (c *ProcessorClient) get(ctx context.Context, path string) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("processor: failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProcessorResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read processor response: %v", shared.ErrSourceUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidateToken()
		return nil, fmt.Errorf("%w: processor rejected token (HTTP 401)", shared.ErrSourceUnavailable)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: processor returned HTTP %d", shared.ErrSourceUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(fmt.Errorf("%w: processor returned HTTP %d", shared.ErrSourceUnavailable, resp.StatusCode))
	}
	return body, nil
}

// token returns a valid bearer token, logging in when the cached one is
// missing or due for its proactive refresh.
func (c *ProcessorClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.accessToken = token
	c.tokenExpiry = time.Now().Add(c.cfg.TokenRefresh)
	c.logger.Info("processor authentication succeeded",
		zap.Time("refresh_due", c.tokenExpiry))
	return token, nil
}

func (c *ProcessorClient) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

func (c *ProcessorClient) login(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"loginId": c.cfg.LoginID,
		"apiKey":  c.cfg.APIKey,
	})
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("processor: failed to marshal login: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/login", bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("processor: failed to create login request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProcessorResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read login response: %v", shared.ErrSourceUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: processor login returned HTTP %d", shared.ErrSourceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Bad credentials never fix themselves mid-cycle.
		return "", backoff.Permanent(fmt.Errorf("%w: processor login returned HTTP %d", shared.ErrSourceUnavailable, resp.StatusCode))
	}

	var login processorLoginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		return "", fmt.Errorf("%w: processor login response: %v", shared.ErrSourceMalformed, err)
	}

	token := login.Token
	if token == "" {
		token = login.AccessToken
	}
	if token == "" {
		token = login.Data.AccessToken
	}
	if token == "" {
		return "", backoff.Permanent(fmt.Errorf("%w: processor login returned no token", shared.ErrSourceMalformed))
	}
	return token, nil
}

// parseProcessorTime parses the timestamp shapes the processor emits.
// Unparseable values are dropped rather than failing the record.
func parseProcessorTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
