// Package continuation decides whether a message extends a recent PENDING
// order or should start a new one. It is rule-only: no network round-trip in
// the common path.
package continuation

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/util"
)

// RecentOrdersLookup fetches the customer's orders created within the
// lookback window, newest first. Provided by the persistence boundary.
type RecentOrdersLookup func(conversationID, customerID string, window time.Duration) ([]internal.RecentOrder, error)

type Detector struct {
	cfg config.Config

	explicitPhrases []string
	implicitShapes  []*regexp.Regexp
	rejectPhrases   []string
	productShape    []*regexp.Regexp
}

func New(cfg config.Config) *Detector {
	return &Detector{
		cfg: cfg,
		explicitPhrases: []string{
			"tambien", "ademas", "y tambien", "ah y", "se me olvidaba",
			"agregame", "otra cosa", "aparte",
		},
		implicitShapes: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^y\s+\w+`),
			regexp.MustCompile(`(?i)^ah\s+\w+`),
			regexp.MustCompile(`(?i)^ponme\s+\w+`),
			regexp.MustCompile(`(?i)^dame\s+\w+`),
		},
		rejectPhrases: []string{
			"no", "ya esta", "ya no", "cancelar", "cancela", "olvidalo", "nada mas",
		},
		productShape: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\d+\s*\w+`),
			regexp.MustCompile(`(?i)\b(quiero|necesito|ocupo|mandame|enviame|ponme|dame|traeme)\b\s+\w+`),
		},
	}
}

// CheckContinuation applies the rule ladder: explicit phrase (0.95),
// implicit shape (0.70), temporal heuristic (0.75), otherwise not a
// continuation. Lookup failures degrade to a non-continuation with method
// ERROR so the caller falls back to a fresh order.
func (d *Detector) CheckContinuation(message, conversationID, customerID string, lookup RecentOrdersLookup) internal.ContinuationResult {
	orders, err := lookup(conversationID, customerID, d.cfg.ContinuationLookback)
	if err != nil {
		zap.L().Warn("continuation: recent orders lookup failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return internal.ContinuationResult{
			IsContinuation:  false,
			Confidence:      0,
			Reasoning:       "recent orders lookup failed",
			DetectionMethod: internal.MethodError,
		}
	}

	pending := latestPending(orders)
	if pending == nil {
		return internal.ContinuationResult{
			IsContinuation:  false,
			Confidence:      1.0,
			Reasoning:       "no pending order inside the lookback window",
			DetectionMethod: internal.MethodRules,
		}
	}

	// The phrase tables contain function words, so the comparison runs over
	// the stopword-preserving fold.
	folded := util.FoldText(message)

	if phrase := d.explicitPhrase(folded); phrase != "" {
		return internal.ContinuationResult{
			IsContinuation:  true,
			Confidence:      0.95,
			TargetOrderID:   util.StringPtr(pending.ID),
			Reasoning:       "explicit continuation phrase: " + phrase,
			DetectionMethod: internal.MethodRules,
		}
	}

	if d.implicitShape(message) {
		return internal.ContinuationResult{
			IsContinuation:  true,
			Confidence:      0.70,
			TargetOrderID:   util.StringPtr(pending.ID),
			Reasoning:       "implicit continuation shape",
			DetectionMethod: internal.MethodRules,
		}
	}

	if d.looksLikeProductRequest(message) && !d.hasRejection(folded) {
		return internal.ContinuationResult{
			IsContinuation:  true,
			Confidence:      0.75,
			TargetOrderID:   util.StringPtr(pending.ID),
			Reasoning:       "recent pending order plus product-request shape",
			DetectionMethod: internal.MethodTemporalRules,
		}
	}

	return internal.ContinuationResult{
		IsContinuation:  false,
		Confidence:      0.90,
		Reasoning:       "no continuation signal",
		DetectionMethod: internal.MethodRules,
	}
}

// ShouldCreateNewOrder is true unless a PENDING order younger than the
// threshold exists. ACCEPTED and REJECTED orders are hard boundaries: they
// always force a new order no matter how recent.
func ShouldCreateNewOrder(orders []internal.RecentOrder, threshold time.Duration) bool {
	cutoff := time.Now().Add(-threshold)
	for _, o := range orders {
		if o.Status == internal.OrderPending && !o.CreatedAt.Before(cutoff) {
			return false
		}
	}
	return true
}

// latestPending picks the newest PENDING order. The lookup already bounds the
// window relative to the message being processed, so there is no wall-clock
// re-filter here.
func latestPending(orders []internal.RecentOrder) *internal.RecentOrder {
	var latest *internal.RecentOrder
	for i := range orders {
		o := &orders[i]
		if o.Status != internal.OrderPending {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	return latest
}

func (d *Detector) explicitPhrase(folded string) string {
	for _, phrase := range d.explicitPhrases {
		if folded == phrase || strings.Contains(folded, phrase) {
			return phrase
		}
	}
	return ""
}

func (d *Detector) implicitShape(message string) bool {
	trimmed := strings.TrimSpace(message)
	for _, re := range d.implicitShapes {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

func (d *Detector) looksLikeProductRequest(message string) bool {
	for _, re := range d.productShape {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

func (d *Detector) hasRejection(folded string) bool {
	words := strings.Split(folded, " ")
	for _, phrase := range d.rejectPhrases {
		if strings.Contains(folded, phrase) && len(strings.Split(phrase, " ")) > 1 {
			return true
		}
		for _, w := range words {
			if w == phrase {
				return true
			}
		}
	}
	return false
}
