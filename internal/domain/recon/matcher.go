package recon

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Signal weights of the lump-sum matcher. Amount dominates because agencies
// wire the remittance total verbatim far more often than they pay on the
// advice date or under their registered name.
const (
	amountWeight = 0.5
	dateWeight   = 0.2
	payerWeight  = 0.3
)

// AliasTable maps a canonical agency name to its accepted payer aliases.
// Bank statements routinely carry a group entity ("OMNICOM MEDIA GROUP")
// while the remittance email names the operating unit ("Omnicom Media").
type AliasTable map[string][]string

// SameGroup reports whether two normalized names belong to the same alias
// group, either as the canonical name or as one of its aliases.
func (t AliasTable) SameGroup(a, b string) bool {
	for canonical, aliases := range t {
		group := make(map[string]struct{}, len(aliases)+1)
		group[NormalizeCompanyName(canonical)] = struct{}{}
		for _, alias := range aliases {
			group[NormalizeCompanyName(alias)] = struct{}{}
		}
		if _, okA := group[a]; !okA {
			continue
		}
		if _, okB := group[b]; okB {
			return true
		}
	}
	return false
}

// MatcherConfig carries the lump-sum matcher tunables. All values come from
// configuration; DefaultMatcherConfig holds the stock settings.
type MatcherConfig struct {
	AmountTolerance  decimal.Decimal
	DateWindowDays   int
	AutoThreshold    float64
	SuggestThreshold float64
	Aliases          AliasTable
}

// DefaultMatcherConfig returns the stock matcher settings.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		AmountTolerance:  decimal.NewFromFloat(0.01),
		DateWindowDays:   3,
		AutoThreshold:    0.80,
		SuggestThreshold: 0.50,
	}
}

// EmailCandidate is one remittance email in the matcher's candidate set.
// TotalAmount and EarliestDate are aggregated over the email's NVC rows.
type EmailCandidate struct {
	EmailID      string          `json:"email_id"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	EarliestDate *time.Time      `json:"earliest_date"`
	AgencyName   string          `json:"agency_name"`
	Source       string          `json:"source"`
	NVCCount     int             `json:"nvc_count"`
}

// MatchScore breaks the weighted lump-sum score into its signals. Each
// signal is already in [0,1] before weighting.
type MatchScore struct {
	Amount float64 `json:"amount"`
	Date   float64 `json:"date"`
	Payer  float64 `json:"payer"`
	Total  float64 `json:"total"`
}

// MatchDecision is the outcome band a score falls into.
type MatchDecision string

const (
	DecisionAuto      MatchDecision = "auto"
	DecisionSuggest   MatchDecision = "suggest"
	DecisionUnmatched MatchDecision = "unmatched"
)

// Decide maps a total score to its outcome band.
func (c MatcherConfig) Decide(total float64) MatchDecision {
	switch {
	case total >= c.AutoThreshold:
		return DecisionAuto
	case total >= c.SuggestThreshold:
		return DecisionSuggest
	}
	return DecisionUnmatched
}

// ScoreCandidate scores one received payment against one remittance email.
func (c MatcherConfig) ScoreCandidate(rp *ReceivedPayment, cand EmailCandidate) MatchScore {
	amount := c.amountScore(rp.Amount, cand.TotalAmount)
	date := c.dateScore(rp.PaymentDate, cand.EarliestDate)
	payer := PayerSimilarity(CleanPayerName(rp.PayerName), cand.AgencyName, c.Aliases)
	return MatchScore{
		Amount: amount,
		Date:   date,
		Payer:  payer,
		Total:  amountWeight*amount + dateWeight*date + payerWeight*payer,
	}
}

// BestCandidate returns the highest-scoring candidate for a received
// payment. Ties keep the earlier candidate. ok is false when the list is
// empty.
func (c MatcherConfig) BestCandidate(rp *ReceivedPayment, candidates []EmailCandidate) (EmailCandidate, MatchScore, bool) {
	var (
		best      EmailCandidate
		bestScore MatchScore
		found     bool
	)
	for _, cand := range candidates {
		score := c.ScoreCandidate(rp, cand)
		if !found || score.Total > bestScore.Total {
			best = cand
			bestScore = score
			found = true
		}
	}
	return best, bestScore, found
}

// amountScore grades how close the received amount is to the email's
// remittance total: within tolerance scores full, then two relative bands
// against the larger of the two amounts.
func (c MatcherConfig) amountScore(received, total decimal.Decimal) float64 {
	diff := received.Sub(total).Abs()
	if diff.LessThanOrEqual(c.AmountTolerance) {
		return 1.0
	}
	base := decimal.Max(received.Abs(), total.Abs())
	if base.IsZero() {
		return 0
	}
	pct, _ := diff.Div(base).Float64()
	switch {
	case pct <= 0.05:
		return 0.7
	case pct <= 0.10:
		return 0.3
	}
	return 0
}

// dateScore grades date proximity between the receipt and the advice. The
// middle tier spans the configured window so widening DATE_WINDOW_DAYS
// widens the half-credit band.
func (c MatcherConfig) dateScore(received, advice *time.Time) float64 {
	if received == nil || advice == nil {
		return 0
	}
	window := c.DateWindowDays
	if window <= 0 {
		window = 3
	}
	days := daysApart(*received, *advice)
	switch {
	case days == 0:
		return 1.0
	case days <= 1:
		return 0.8
	case days <= window:
		return 0.5
	case days <= 7:
		return 0.2
	}
	return 0
}

func daysApart(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// payerNoiseMarkers begin the free-text trailer banks append to the payer
// field on wires and ACH credits.
var payerNoiseMarkers = []string{"DES:", "WIRE TYPE:"}

// CleanPayerName strips bank trailer noise from a raw payer string, e.g.
// "BBDO USA LLC DES:ACH PMT ID:123" becomes "BBDO USA LLC".
func CleanPayerName(raw string) string {
	s := raw
	upper := strings.ToUpper(s)
	for _, marker := range payerNoiseMarkers {
		if i := strings.Index(upper, marker); i >= 0 {
			s = s[:i]
			upper = upper[:i]
		}
	}
	return strings.TrimSpace(s)
}

// companySuffixes are stripped before comparison. Checked in order against
// the end of the name, so a name carrying several drops them all.
var companySuffixes = []string{" LLC", " INC", " INC.", " LTD", " LTD.", " CORP", " CORP."}

// NormalizeCompanyName upper-cases a company name, strips legal-form
// suffixes and punctuation, and collapses whitespace.
func NormalizeCompanyName(name string) string {
	s := strings.ToUpper(strings.TrimSpace(name))
	for _, suffix := range companySuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
		}
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// PayerSimilarity scores how well a cleaned payer string matches an agency
// name, in [0,1]. Exact and alias-table hits score full; otherwise the best
// of edit-distance similarity, substring containment and word overlap.
func PayerSimilarity(payer, agency string, aliases AliasTable) float64 {
	if payer == "" || agency == "" {
		return 0
	}
	pn := NormalizeCompanyName(payer)
	an := NormalizeCompanyName(agency)
	if pn == "" || an == "" {
		return 0
	}
	if pn == an {
		return 1.0
	}
	if aliases.SameGroup(pn, an) {
		return 1.0
	}

	sim := editSimilarity(pn, an)
	if strings.Contains(pn, an) || strings.Contains(an, pn) {
		if sim < 0.6 {
			sim = 0.6
		}
	}
	pnWords := strings.Fields(pn)
	anWords := strings.Fields(an)
	if len(pnWords) > 0 && len(anWords) > 0 {
		overlap := wordOverlap(pnWords, anWords)
		if overlap > 0.5 && overlap*0.7 > sim {
			sim = overlap * 0.7
		}
	}
	return sim
}

// wordOverlap is the share of words the two names have in common, relative
// to the longer name.
func wordOverlap(a, b []string) float64 {
	set := make(map[string]struct{}, len(a))
	for _, w := range a {
		set[w] = struct{}{}
	}
	common := 0
	seen := make(map[string]struct{}, len(b))
	for _, w := range b {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := set[w]; ok {
			common++
		}
	}
	longer := len(set)
	if len(seen) > longer {
		longer = len(seen)
	}
	if longer == 0 {
		return 0
	}
	return float64(common) / float64(longer)
}

// editSimilarity is 1 - levenshtein/maxlen, so identical strings score 1
// and fully dissimilar strings score 0.
func editSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
