// Package matcher resolves a free-text product mention against a catalog
// snapshot. It is pure: same (query, catalog) in, same result out, no I/O.
package matcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/util"
)

// Tier base confidences. Each catalog entry is tried tier by tier and the
// first hit wins for that entry.
const (
	confExact       = 1.0
	confAlias       = 0.95
	confMisspelling = 0.90
	confKeyword     = 0.85
	confTraining    = 0.80

	keywordBonusStep = 0.10
	keywordBonusCap  = 0.15
)

type Matcher struct {
	cfg config.Config
}

func New(cfg config.Config) *Matcher {
	return &Matcher{cfg: cfg}
}

// MatchProducts runs every active, in-stock catalog entry through the tier
// ladder and returns the ranked result. Empty queries and empty or nil
// catalogs degrade to a NONE result with a clarifying question; they never
// fail.
func (m *Matcher) MatchProducts(query string, catalog []internal.CatalogEntry) internal.MatchResult {
	normQuery := util.NormalizeText(query)
	terms := util.ExtractTerms(query)

	if normQuery == "" || len(catalog) == 0 {
		return m.finalize(query, nil, catalog)
	}

	candidates := make([]internal.MatchCandidate, 0, 4)
	for _, entry := range catalog {
		if !entry.Active || !entry.InStock {
			continue
		}
		if cand, ok := m.matchEntry(normQuery, terms, entry); ok {
			candidates = append(candidates, cand)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	return m.finalize(query, candidates, catalog)
}

// matchEntry tries the tiers in order for one entry: exact name, alias,
// misspelling, keyword, training phrase, fuzzy.
func (m *Matcher) matchEntry(normQuery string, terms []string, entry internal.CatalogEntry) (internal.MatchCandidate, bool) {
	normName := util.NormalizeText(entry.Name)

	if normQuery == normName || containsTerm(terms, normName) {
		return candidate(entry, internal.MatchExact, confExact, entry.Name), true
	}

	for _, alias := range entry.Aliases {
		normAlias := util.NormalizeText(alias)
		if normAlias == "" {
			continue
		}
		if normQuery == normAlias || containsTerm(terms, normAlias) {
			return candidate(entry, internal.MatchAlias, confAlias, alias), true
		}
	}

	for _, miss := range entry.Misspellings {
		normMiss := util.NormalizeText(miss)
		if normMiss == "" {
			continue
		}
		if normQuery == normMiss || containsTerm(terms, normMiss) {
			return candidate(entry, internal.MatchMisspelling, confMisspelling, miss), true
		}
	}

	if cand, ok := m.matchKeywords(terms, entry); ok {
		return cand, true
	}

	if cand, ok := m.matchTrainingPhrases(normQuery, entry); ok {
		return cand, true
	}

	return m.matchFuzzy(normQuery, normName, entry)
}

func (m *Matcher) matchKeywords(terms []string, entry internal.CatalogEntry) (internal.MatchCandidate, bool) {
	hits := 0
	matched := ""
	for _, kw := range entry.Keywords {
		normKw := util.NormalizeText(kw)
		if normKw == "" {
			continue
		}
		if containsTerm(terms, normKw) {
			hits++
			if matched == "" {
				matched = kw
			}
		}
	}
	if hits == 0 {
		return internal.MatchCandidate{}, false
	}

	bonus := keywordBonusStep * float64(hits-1)
	if bonus > keywordBonusCap {
		bonus = keywordBonusCap
	}
	conf := clamp01(confKeyword + bonus)
	return candidate(entry, internal.MatchKeyword, conf, matched), true
}

func (m *Matcher) matchTrainingPhrases(normQuery string, entry internal.CatalogEntry) (internal.MatchCandidate, bool) {
	bestRatio := 0.0
	bestPhrase := ""
	for _, phrase := range entry.TrainingPhrases {
		normPhrase := util.NormalizeText(phrase)
		if normPhrase == "" {
			continue
		}
		ratio := util.DiceCoefficient(normQuery, normPhrase)
		if ratio > bestRatio {
			bestRatio = ratio
			bestPhrase = phrase
		}
	}
	if bestRatio < m.cfg.TrainingRatioFloor {
		return internal.MatchCandidate{}, false
	}
	return candidate(entry, internal.MatchTraining, confTraining*bestRatio, bestPhrase), true
}

// matchFuzzy compares the query against the entry name, every alias and the
// brand, and buckets the best ratio into HIGH/MED/LOW fuzzy tiers. The tier
// threshold doubles as the tier base, so confidence = threshold * ratio.
func (m *Matcher) matchFuzzy(normQuery, normName string, entry internal.CatalogEntry) (internal.MatchCandidate, bool) {
	bestRatio := util.DiceCoefficient(normQuery, normName)
	bestText := entry.Name

	for _, alias := range entry.Aliases {
		if ratio := util.DiceCoefficient(normQuery, util.NormalizeText(alias)); ratio > bestRatio {
			bestRatio = ratio
			bestText = alias
		}
	}
	if entry.Brand != "" {
		if ratio := util.DiceCoefficient(normQuery, util.NormalizeText(entry.Brand)); ratio > bestRatio {
			bestRatio = ratio
			bestText = entry.Brand
		}
	}

	switch {
	case bestRatio >= m.cfg.FuzzyHighRatio:
		return candidate(entry, internal.MatchFuzzyHigh, m.cfg.FuzzyHighRatio*bestRatio, bestText), true
	case bestRatio >= m.cfg.FuzzyMedRatio:
		return candidate(entry, internal.MatchFuzzyMed, m.cfg.FuzzyMedRatio*bestRatio, bestText), true
	case bestRatio >= m.cfg.FuzzyLowRatio:
		return candidate(entry, internal.MatchFuzzyLow, m.cfg.FuzzyLowRatio*bestRatio, bestText), true
	default:
		return internal.MatchCandidate{}, false
	}
}

func (m *Matcher) finalize(query string, candidates []internal.MatchCandidate, catalog []internal.CatalogEntry) internal.MatchResult {
	result := internal.MatchResult{
		Query:           query,
		Candidates:      candidates,
		ConfidenceLevel: ClassifyConfidenceLevel(confidences(candidates)),
	}
	if len(candidates) > 0 {
		result.BestMatch = &candidates[0]
	}

	if result.ConfidenceLevel != internal.ConfidenceHigh {
		result.RequiresClarification = true
		result.SuggestedQuestion = m.clarifyingQuestion(query, result, catalog)
	}
	return result
}

// ClassifyConfidenceLevel buckets a descending confidence list. It is a pure
// function of the list alone.
func ClassifyConfidenceLevel(sorted []float64) internal.ConfidenceLevel {
	if len(sorted) == 0 {
		return internal.ConfidenceNone
	}
	top := sorted[0]
	switch {
	case top >= 0.85:
		return internal.ConfidenceHigh
	case top >= 0.60:
		return internal.ConfidenceMedium
	case top > 0:
		return internal.ConfidenceLow
	default:
		return internal.ConfidenceNone
	}
}

// clarifyingQuestion builds the follow-up the caller should send when the
// match is not confident enough to act on.
func (m *Matcher) clarifyingQuestion(query string, result internal.MatchResult, catalog []internal.CatalogEntry) string {
	switch result.ConfidenceLevel {
	case internal.ConfidenceMedium:
		if len(result.Candidates) == 1 {
			entry := entryByID(catalog, result.Candidates[0].ProductID)
			if entry != nil && len(entry.SizeVariants) > 0 {
				return fmt.Sprintf("¿Cuál presentación de %s necesitas? Opciones: %s",
					entry.Name, strings.Join(entry.SizeVariants, ", "))
			}
			return fmt.Sprintf("¿Te refieres a %s?", result.Candidates[0].ProductName)
		}
		if len(result.Candidates) > 1 {
			return fmt.Sprintf("¿Te refieres a %s o a %s?",
				result.Candidates[0].ProductName, result.Candidates[1].ProductName)
		}
		return "¿Puedes darme más detalles del producto?"

	case internal.ConfidenceLow:
		if category := sharedCategory(result.Candidates, catalog); category != "" {
			return fmt.Sprintf("Tenemos varios productos de %s. ¿Cuál necesitas exactamente?", category)
		}
		return "No estoy seguro de cuál producto buscas. ¿Puedes ser más específico?"

	default:
		if suggestions := similarNames(query, catalog); len(suggestions) > 0 {
			return fmt.Sprintf("Disculpa, no encontré ese producto. ¿Quizás buscas alguno de estos? %s",
				strings.Join(suggestions, ", "))
		}
		return "Disculpa, no encontré ese producto en el catálogo. ¿Puedes describirlo de otra forma?"
	}
}

// similarNames surfaces catalog names sharing at least one word with the
// query, used to make the NONE apology actionable.
func similarNames(query string, catalog []internal.CatalogEntry) []string {
	out := make([]string, 0, 3)
	for _, entry := range catalog {
		if !entry.Active || !entry.InStock {
			continue
		}
		if util.WordOverlap(query, entry.Name) > 0 {
			out = append(out, entry.Name)
			if len(out) == 3 {
				break
			}
		}
	}
	return out
}

func sharedCategory(candidates []internal.MatchCandidate, catalog []internal.CatalogEntry) string {
	category := ""
	for _, cand := range candidates {
		entry := entryByID(catalog, cand.ProductID)
		if entry == nil || entry.Category == "" {
			return ""
		}
		if category == "" {
			category = entry.Category
			continue
		}
		if entry.Category != category {
			return ""
		}
	}
	return category
}

func entryByID(catalog []internal.CatalogEntry, id string) *internal.CatalogEntry {
	for i := range catalog {
		if catalog[i].ID == id {
			return &catalog[i]
		}
	}
	return nil
}

func candidate(entry internal.CatalogEntry, matchType internal.MatchType, conf float64, matchedText string) internal.MatchCandidate {
	return internal.MatchCandidate{
		ProductID:   entry.ID,
		ProductName: entry.Name,
		MatchType:   matchType,
		Confidence:  clamp01(conf),
		MatchedText: matchedText,
	}
}

func containsTerm(terms []string, target string) bool {
	for _, t := range terms {
		if t == target {
			return true
		}
	}
	return false
}

func confidences(candidates []internal.MatchCandidate) []float64 {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = c.Confidence
	}
	return out
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
