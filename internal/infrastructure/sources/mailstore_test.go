package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	infraconfig "github.com/payops/recon/internal/infrastructure/config"
)

func mailStoreConfig(baseURL string, sources ...string) *infraconfig.MailStoreConfig {
	return &infraconfig.MailStoreConfig{
		Enabled:    true,
		BaseURL:    baseURL,
		Token:      "test-token",
		Sources:    sources,
		DaysBack:   14,
		Timeout:    5,
		MaxRetries: 0,
	}
}

// testMailStore serves a message list per source and attachment payloads
// keyed by "{messageID}/{attachmentID}".
type testMailStore struct {
	mu          sync.Mutex
	messages    map[string][]mailMessage
	attachments map[string][]byte
	authHeaders []string
	downloads   int
}

func (s *testMailStore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.authHeaders = append(s.authHeaders, r.Header.Get("Authorization"))
		msgs := s.messages[r.URL.Query().Get("source")]
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(mailListResponse{Messages: msgs})
	})
	mux.HandleFunc("/api/messages/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.downloads++
		data, ok := s.attachments[strings.TrimPrefix(r.URL.Path, "/api/messages/")]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})
	return mux
}

func TestMailStoreClientFetchEmails(t *testing.T) {
	t.Run("parses csv attachments into a batch", func(t *testing.T) {
		store := &testMailStore{
			messages: map[string][]mailMessage{
				"oasys": {{
					ID:      "msg-1",
					Subject: "Payment Remittance On behalf of BBDO USA LLC",
					Sender:  "noreply@oasys.example.com",
					Date:    "2026-02-08T10:30:00Z",
					Attachments: []mailAttachment{
						{ID: "att-1", Filename: "Remittance.csv", MimeType: "text/csv", Size: 10},
					},
				}},
			},
			attachments: map[string][]byte{
				"msg-1/attachments/att-1": []byte(oasysSample),
			},
		}
		srv := httptest.NewServer(store.handler())
		defer srv.Close()

		client := NewMailStoreClient(mailStoreConfig(srv.URL, "oasys"), zap.NewNop())
		batches, err := client.FetchEmails(context.Background(), 14)
		require.NoError(t, err)
		require.Len(t, batches, 1)

		batch := batches[0]
		require.NotNil(t, batch.Advice)
		assert.Equal(t, "msg-1", batch.Email.ID)
		assert.Equal(t, "oasys", batch.Email.Source)
		assert.False(t, batch.Email.ManualReview)
		assert.Equal(t, "BBDO USA LLC", batch.Email.AgencyName)
		assert.Equal(t, 3, batch.Email.LineCount)
		require.NotNil(t, batch.Email.RemittanceTotal)
		assert.Equal(t, "26872.7", batch.Email.RemittanceTotal.String())
		require.Len(t, batch.Email.Attachments, 1)
		assert.Equal(t, "Remittance.csv", batch.Email.Attachments[0].Filename)
		assert.Len(t, batch.Advice.Lines, 3)

		assert.Contains(t, store.authHeaders, "Bearer test-token")
	})

	t.Run("undecodable attachment flags manual review", func(t *testing.T) {
		store := &testMailStore{
			messages: map[string][]mailMessage{
				"d365_ach": {{
					ID:      "msg-2",
					Subject: "OMG AP ACH PAYMENT REMITTANCE",
					Date:    "2026-02-08T10:30:00Z",
					Attachments: []mailAttachment{
						{ID: "att-1", Filename: "garbled.csv", MimeType: "text/csv"},
					},
				}},
			},
			attachments: map[string][]byte{
				"msg-2/attachments/att-1": []byte("nothing remittance shaped"),
			},
		}
		srv := httptest.NewServer(store.handler())
		defer srv.Close()

		client := NewMailStoreClient(mailStoreConfig(srv.URL, "d365_ach"), zap.NewNop())
		batches, err := client.FetchEmails(context.Background(), 14)
		require.NoError(t, err)
		require.Len(t, batches, 1)
		assert.True(t, batches[0].Email.ManualReview)
		assert.Nil(t, batches[0].Advice)
	})

	t.Run("ldn_gss goes straight to manual review", func(t *testing.T) {
		store := &testMailStore{
			messages: map[string][]mailMessage{
				"ldn_gss": {{
					ID:      "msg-3",
					Subject: "Remittance advice",
					Date:    "2026-02-08T10:30:00Z",
					Attachments: []mailAttachment{
						{ID: "att-1", Filename: "advice.pdf", MimeType: "application/pdf", Size: 4096},
					},
				}},
			},
		}
		srv := httptest.NewServer(store.handler())
		defer srv.Close()

		client := NewMailStoreClient(mailStoreConfig(srv.URL, "ldn_gss"), zap.NewNop())
		batches, err := client.FetchEmails(context.Background(), 14)
		require.NoError(t, err)
		require.Len(t, batches, 1)
		assert.True(t, batches[0].Email.ManualReview)
		assert.Nil(t, batches[0].Advice)
		assert.Len(t, batches[0].Email.Attachments, 1)
		assert.Zero(t, store.downloads, "image-only sources must not download attachments")
	})

	t.Run("one broken source does not starve the others", func(t *testing.T) {
		store := &testMailStore{
			messages: map[string][]mailMessage{
				"oasys": {{
					ID:      "msg-4",
					Subject: "Payment Remittance On behalf of BBDO USA LLC",
					Date:    "2026-02-08T10:30:00Z",
					Attachments: []mailAttachment{
						{ID: "att-1", Filename: "Remittance.csv", MimeType: "text/csv"},
					},
				}},
			},
			attachments: map[string][]byte{
				"msg-4/attachments/att-1": []byte(oasysSample),
			},
		}
		mux := http.NewServeMux()
		inner := store.handler()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("source") == "d365_ach" {
				http.Error(w, "boom", http.StatusBadGateway)
				return
			}
			inner.ServeHTTP(w, r)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		client := NewMailStoreClient(mailStoreConfig(srv.URL, "oasys", "d365_ach"), zap.NewNop())
		batches, err := client.FetchEmails(context.Background(), 14)
		require.NoError(t, err)
		assert.Len(t, batches, 1)
	})

	t.Run("all sources failing fails the fetch", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client := NewMailStoreClient(mailStoreConfig(srv.URL, "oasys", "d365_ach"), zap.NewNop())
		_, err := client.FetchEmails(context.Background(), 14)
		require.Error(t, err)
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		var calls int
		var mu sync.Mutex
		store := &testMailStore{
			messages: map[string][]mailMessage{"oasys": {}},
		}
		inner := store.handler()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				http.Error(w, "flaky", http.StatusInternalServerError)
				return
			}
			inner.ServeHTTP(w, r)
		}))
		defer srv.Close()

		cfg := mailStoreConfig(srv.URL, "oasys")
		cfg.MaxRetries = 1
		client := NewMailStoreClient(cfg, zap.NewNop())
		batches, err := client.FetchEmails(context.Background(), 14)
		require.NoError(t, err)
		assert.Empty(t, batches)
		mu.Lock()
		assert.Equal(t, 2, calls)
		mu.Unlock()
	})
}

// archiveRecorder records uploads for assertions.
type archiveRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (a *archiveRecorder) Upload(_ context.Context, storageKey string, _ []byte, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, storageKey)
	return nil
}

func TestMailStoreClientArchivesAttachments(t *testing.T) {
	store := &testMailStore{
		messages: map[string][]mailMessage{
			"oasys": {{
				ID:      "msg-9",
				Subject: "Payment Remittance On behalf of BBDO USA LLC",
				Date:    "2026-02-08T10:30:00Z",
				Attachments: []mailAttachment{
					{ID: "att-1", Filename: "Remittance.csv", MimeType: "text/csv"},
				},
			}},
		},
		attachments: map[string][]byte{
			"msg-9/attachments/att-1": []byte(oasysSample),
		},
	}
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	recorder := &archiveRecorder{}
	client := NewMailStoreClient(mailStoreConfig(srv.URL, "oasys"), zap.NewNop(),
		WithAttachmentArchiver(recorder))

	batches, err := client.FetchEmails(context.Background(), 14)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"emails/msg-9/Remittance.csv"}, recorder.keys)
	assert.Equal(t, "emails/msg-9/Remittance.csv", batches[0].Email.Attachments[0].StorageKey)
}

// parseFailureCounter counts recorded parse failures per source.
type parseFailureCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *parseFailureCounter) RecordParseFailure(_ context.Context, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[source]++
}

func TestMailStoreClientRecordsParseFailures(t *testing.T) {
	store := &testMailStore{
		messages: map[string][]mailMessage{
			"oasys": {{
				ID:      "msg-77",
				Subject: "Payment Remittance On behalf of Mediahub",
				Date:    "2026-02-09T08:00:00Z",
				Attachments: []mailAttachment{
					{ID: "att-1", Filename: "broken.csv", MimeType: "text/csv"},
				},
			}},
		},
		attachments: map[string][]byte{
			"msg-77/attachments/att-1": []byte("nothing remittance shaped here"),
		},
	}
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	recorder := &parseFailureCounter{}
	client := NewMailStoreClient(mailStoreConfig(srv.URL, "oasys"), zap.NewNop(),
		WithParseFailureRecorder(recorder))

	batches, err := client.FetchEmails(context.Background(), 14)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	// The unparseable advice routes its email to manual review; the
	// failure itself lands on the counter.
	assert.True(t, batches[0].Email.ManualReview)
	recorder.mu.Lock()
	assert.Equal(t, 1, recorder.counts["oasys"])
	recorder.mu.Unlock()
}
