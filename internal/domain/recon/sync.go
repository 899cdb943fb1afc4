package recon

import (
	"fmt"
	"time"
)

// Sync source identifiers, in cycle order. The lump-sum matcher pass runs
// last so it sees the cycle's fresh emails and received payments.
const (
	SourceEmails           = "emails"
	SourceInvoices         = "invoices"
	SourceReceivedPayments = "received_payments"
	SourcePayments         = "payments"
	SourceFundingMatcher   = "funding_matcher"
)

// SyncSources lists the per-source sync steps in execution order.
var SyncSources = []string{
	SourceEmails,
	SourceInvoices,
	SourceReceivedPayments,
	SourcePayments,
	SourceFundingMatcher,
}

// SourceCycle is the sync_state row for the cycle as a whole: the last
// completed pass, or a tick skipped because the previous pass was still
// running. Not a step, so it is not listed in SyncSources.
const SourceCycle = "cycle"

// Sync state status values. Errors are stored as "error: <message>".
const (
	SyncStatusOK      = "ok"
	SyncStatusSkipped = "skipped"
)

// FormatSyncError renders an error for the sync_state status column,
// truncated so a pathological message cannot bloat the row.
func FormatSyncError(err error) string {
	msg := err.Error()
	if len(msg) > 80 {
		msg = msg[:80]
	}
	return fmt.Sprintf("error: %s", msg)
}

// SyncState records the last outcome per source: when it ran, how many
// records it touched and whether it succeeded.
type SyncState struct {
	Source     string     `json:"source"`
	LastSyncAt *time.Time `json:"last_sync_at"`
	LastCount  int        `json:"last_count"`
	Status     string     `json:"status"`
}

// Healthy reports whether the source's last sync succeeded.
func (s *SyncState) Healthy() bool {
	return s.Status == SyncStatusOK
}
