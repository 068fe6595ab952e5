// Package consolidator is the timing/content policy layer: given a message
// already classified as order-related and the recent message history, it
// decides whether the session manager should consolidate, wait, finalize or
// start fresh.
package consolidator

import (
	"fmt"
	"strings"
	"time"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/util"
)

// Gap buckets since the last order-related message.
const (
	rapidGap  = 30 * time.Second
	normalGap = 3 * time.Minute
	slowGap   = 8 * time.Minute

	// Upgrade NEW_ORDER to CONSOLIDATE above this recent-message rate.
	frequencyFloor = 0.5 // messages per minute
)

// MessageStamp is one prior message in the conversation, as the history
// query returns it.
type MessageStamp struct {
	At           time.Time
	OrderRelated bool
}

// Input is everything the policy looks at for one inbound message.
type Input struct {
	Message           string
	IsOrderRelated    bool
	ProductsExtracted bool
	Now               time.Time
	History           []MessageStamp
}

type Consolidator struct {
	cfg config.Config

	completionKeywords   []string
	continuationKeywords []string
}

func New(cfg config.Config) *Consolidator {
	return &Consolidator{
		cfg: cfg,
		completionKeywords: []string{
			"es todo", "eso es todo", "nada mas", "listo", "ya esta",
			"seria todo", "gracias", "that s all", "nothing else",
		},
		continuationKeywords: []string{
			"tambien", "ademas", "ah y", "agrega", "otra cosa", "aparte",
		},
	}
}

// Analyze applies the decision policy. Messages not classified as
// order-related short-circuit to a non-applicable NEW_ORDER.
func (c *Consolidator) Analyze(in Input) internal.ConsolidationAnalysis {
	if !in.IsOrderRelated {
		return internal.ConsolidationAnalysis{
			Decision:          internal.DecisionNewOrder,
			Confidence:        0.9,
			Reasoning:         "message is not order-related",
			TimingPattern:     internal.TimingPause,
			ShouldCreateOrder: false,
		}
	}

	timing, gap := c.timingPattern(in)
	priorCount := c.countRecent(in)
	// Keyword tables carry function words ("ah y"); scan the stopword-
	// preserving fold.
	folded := util.FoldText(in.Message)

	analysis := c.decide(in, timing, gap, priorCount, folded)
	analysis.TimingPattern = timing

	// High-frequency conversations should not be split into new orders.
	if analysis.Decision == internal.DecisionNewOrder && c.recentFrequency(in) > frequencyFloor {
		analysis.Decision = internal.DecisionConsolidate
		analysis.Confidence = clamp01(analysis.Confidence + 0.1)
		analysis.Reasoning += "; upgraded: high recent message frequency"
	}

	return analysis
}

func (c *Consolidator) decide(in Input, timing internal.TimingPattern, gap time.Duration, priorCount int, folded string) internal.ConsolidationAnalysis {
	if timing == internal.TimingRapid {
		return internal.ConsolidationAnalysis{
			Decision:   internal.DecisionConsolidate,
			Confidence: 0.95,
			Reasoning:  fmt.Sprintf("rapid follow-up %.0fs after the last message", gap.Seconds()),
		}
	}

	if kw := containsAny(folded, c.completionKeywords); kw != "" {
		return internal.ConsolidationAnalysis{
			Decision:          internal.DecisionOrderComplete,
			Confidence:        0.9,
			Reasoning:         "explicit completion keyword: " + kw,
			ShouldCreateOrder: true,
		}
	}

	if kw := containsAny(folded, c.continuationKeywords); kw != "" {
		return internal.ConsolidationAnalysis{
			Decision:   internal.DecisionConsolidate,
			Confidence: 0.85,
			Reasoning:  "continuation keyword: " + kw,
		}
	}

	switch timing {
	case internal.TimingNormal:
		if in.ProductsExtracted {
			return internal.ConsolidationAnalysis{
				Decision:   internal.DecisionConsolidate,
				Confidence: 0.75,
				Reasoning:  "normal pace with products extracted",
			}
		}
		wait := 3
		return internal.ConsolidationAnalysis{
			Decision:    internal.DecisionWaitMore,
			Confidence:  0.6,
			Reasoning:   "normal pace without products, waiting for more",
			WaitMinutes: &wait,
		}

	case internal.TimingSlow:
		if priorCount >= 2 {
			return internal.ConsolidationAnalysis{
				Decision:          internal.DecisionOrderComplete,
				Confidence:        0.8,
				Reasoning:         "slow pace after an established message run",
				ShouldCreateOrder: true,
			}
		}
		return internal.ConsolidationAnalysis{
			Decision:   internal.DecisionConsolidate,
			Confidence: 0.65,
			Reasoning:  "slow pace, still collecting",
		}

	default: // pause
		if priorCount > 0 {
			return internal.ConsolidationAnalysis{
				Decision:          internal.DecisionOrderComplete,
				Confidence:        0.9,
				Reasoning:         "long pause after prior messages",
				ShouldCreateOrder: true,
			}
		}
		return internal.ConsolidationAnalysis{
			Decision:   internal.DecisionNewOrder,
			Confidence: 0.8,
			Reasoning:  "long pause with no prior messages",
		}
	}
}

// timingPattern buckets the gap since the most recent order-related message.
// No prior order-related message counts as a pause.
func (c *Consolidator) timingPattern(in Input) (internal.TimingPattern, time.Duration) {
	var last time.Time
	for _, m := range in.History {
		if m.OrderRelated && m.At.After(last) && m.At.Before(in.Now) {
			last = m.At
		}
	}
	if last.IsZero() {
		return internal.TimingPause, 0
	}

	gap := in.Now.Sub(last)
	switch {
	case gap <= rapidGap:
		return internal.TimingRapid, gap
	case gap <= normalGap:
		return internal.TimingNormal, gap
	case gap <= slowGap:
		return internal.TimingSlow, gap
	default:
		return internal.TimingPause, gap
	}
}

// countRecent counts prior order-related messages inside the trailing window.
func (c *Consolidator) countRecent(in Input) int {
	cutoff := in.Now.Add(-c.cfg.FrequencyWindow)
	count := 0
	for _, m := range in.History {
		if m.OrderRelated && m.At.After(cutoff) && m.At.Before(in.Now) {
			count++
		}
	}
	return count
}

// recentFrequency is messages per minute over the trailing window, counting
// every message regardless of classification.
func (c *Consolidator) recentFrequency(in Input) float64 {
	cutoff := in.Now.Add(-c.cfg.FrequencyWindow)
	count := 0
	for _, m := range in.History {
		if m.At.After(cutoff) && m.At.Before(in.Now) {
			count++
		}
	}
	return float64(count) / c.cfg.FrequencyWindow.Minutes()
}

func containsAny(folded string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(folded, kw) {
			return kw
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
