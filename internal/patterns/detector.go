// Package patterns is the cheap, local text-signal layer: rule-based
// detection of order intent, closing, corrections and quantity+product
// mentions. It runs before any storage or network work.
package patterns

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/util"
)

// Detector holds immutable, precompiled regex tables. Build one per process
// with New; it is safe for unbounded concurrent use.
type Detector struct {
	strongIntent []*regexp.Regexp
	mediumIntent []*regexp.Regexp
	closing      []*regexp.Regexp
	corrections  []*regexp.Regexp
	quantity     *regexp.Regexp
	productWords map[string]struct{}
}

const (
	strongIntentWeight = 0.85
	mediumIntentWeight = 0.60
	qtyProductBonus    = 0.80
	intentThreshold    = 0.50

	closingBase      = 0.80
	closingThreshold = 0.60

	correctionBase      = 0.90
	correctionThreshold = 0.70

	extractionConfidence = 0.80
)

func New() *Detector {
	return &Detector{
		strongIntent: compileAll(
			`(?i)\bquiero\b`,
			`(?i)\bnecesito\b`,
			`(?i)\bocupo\b`,
			`(?i)\bm[aá]ndame\b`,
			`(?i)\benv[ií]ame\b`,
			`(?i)\bp[oó]nme\b`,
			`(?i)\bdame\b`,
			`(?i)\btr[aá]eme\b`,
			`(?i)\bi want\b`,
			`(?i)\bi need\b`,
			`(?i)\bsend me\b`,
		),
		mediumIntent: compileAll(
			`(?i)\bme gustar[ií]a\b`,
			`(?i)\bquisiera\b`,
			`(?i)\bser[ií]a posible\b`,
			`(?i)\bpuedes? mandar\b`,
			`(?i)\bagr[eé]ga(me)?\b`,
			`(?i)\ba[ñn][aá]de(me)?\b`,
			`(?i)\bi'?d like\b`,
			`(?i)\bcould you\b`,
			`(?i)\bcan i get\b`,
		),
		closing: compileAll(
			`(?i)\beso es todo\b`,
			`(?i)\bes todo\b`,
			`(?i)\bnada m[aá]s\b`,
			`(?i)\bya est[aá]\b`,
			`(?i)\blisto\b`,
			`(?i)\bser[ií]a todo\b`,
			`(?i)\bthat'?s (all|it)\b`,
			`(?i)\bnothing else\b`,
		),
		corrections: compileAll(
			`(?i)\bmejor\b`,
			`(?i)\bcambia\b`,
			`(?i)\ben vez de\b`,
			`(?i)\bno quiero\b`,
			`(?i)\bquita\b`,
			`(?i)\bcancela\b`,
			`(?i)\bcorr[ií]ge\b`,
			`(?i)\binstead of\b`,
			`(?i)\bchange that\b`,
			`(?i)\bremove\b`,
		),
		// quantity, optional unit token, trailing free-text product phrase.
		quantity: regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*` +
			`(litros?|lts?|kilos?|kgs?|gramos?|grs?|cajas?|paquetes?|botellas?|latas?|piezas?|pzas?|unidades?|docenas?|bolsas?|six)?\.?\s+` +
			`(?:de\s+)?([a-záéíóúñü][a-záéíóúñü ]{1,40})`),
		productWords: wordSet(
			"leche", "coca", "refresco", "agua", "pan", "tortilla", "tortillas",
			"queso", "huevo", "huevos", "cerveza", "jugo", "arroz", "frijol",
			"azucar", "azúcar", "aceite", "cafe", "café", "galletas", "yogurt",
			"milk", "water", "bread", "cheese", "eggs", "beer", "juice", "soda",
		),
	}
}

type IntentResult struct {
	HasIntent  bool
	Confidence float64
	Matches    []internal.PatternMatch
}

// DetectOrderIntent sums strong hits at 0.85 and medium hits at 0.6, adds a
// flat 0.8 when both a quantity and a product mention are present, and clamps
// to [0,1].
func (d *Detector) DetectOrderIntent(message string) IntentResult {
	matches := []internal.PatternMatch{}
	confidence := 0.0

	for _, re := range d.strongIntent {
		if loc := re.FindStringIndex(message); loc != nil {
			confidence += strongIntentWeight
			matches = append(matches, patternMatch(internal.PatternOrderIntent, strongIntentWeight, message, loc))
		}
	}
	for _, re := range d.mediumIntent {
		if loc := re.FindStringIndex(message); loc != nil {
			confidence += mediumIntentWeight
			matches = append(matches, patternMatch(internal.PatternOrderIntent, mediumIntentWeight, message, loc))
		}
	}

	qtyMatches := d.quantityMatches(message)
	productMatches := d.productMatches(message)
	if len(qtyMatches) > 0 && len(productMatches) > 0 {
		confidence += qtyProductBonus
	}
	matches = append(matches, qtyMatches...)
	matches = append(matches, productMatches...)

	confidence = clamp01(confidence)
	return IntentResult{
		HasIntent:  confidence >= intentThreshold,
		Confidence: confidence,
		Matches:    matches,
	}
}

type RuleResult struct {
	Detected   bool
	Confidence float64
	Matches    []internal.PatternMatch
}

// DetectClosingPatterns scores min(hits*0.8, 1.0) against a 0.6 threshold.
func (d *Detector) DetectClosingPatterns(message string) RuleResult {
	return d.scanFamily(message, d.closing, internal.PatternClosing, closingBase, closingThreshold)
}

// DetectCorrections scores min(hits*0.9, 1.0) against a 0.7 threshold.
func (d *Detector) DetectCorrections(message string) RuleResult {
	return d.scanFamily(message, d.corrections, internal.PatternCorrection, correctionBase, correctionThreshold)
}

func (d *Detector) scanFamily(message string, family []*regexp.Regexp, patternType internal.PatternType, base, threshold float64) RuleResult {
	matches := []internal.PatternMatch{}
	for _, re := range family {
		if loc := re.FindStringIndex(message); loc != nil {
			matches = append(matches, patternMatch(patternType, base, message, loc))
		}
	}
	confidence := clamp01(float64(len(matches)) * base)
	return RuleResult{
		Detected:   confidence >= threshold,
		Confidence: confidence,
		Matches:    matches,
	}
}

// Tokens that end up captured as "product phrase" but are conversational
// filler, not products.
var extractionStopTokens = map[string]struct{}{
	"por favor": {}, "porfa": {}, "gracias": {}, "mas": {}, "más": {},
	"cada uno": {}, "please": {},
}

// ExtractProductsAndQuantities runs the combined quantity regex and returns
// one item per plausible (quantity, unit, product phrase) hit.
func (d *Detector) ExtractProductsAndQuantities(message string) []internal.ExtractedItem {
	out := []internal.ExtractedItem{}
	for _, m := range d.quantity.FindAllStringSubmatchIndex(message, -1) {
		full := message[m[0]:m[1]]

		qtyText := strings.ReplaceAll(message[m[2]:m[3]], ",", ".")
		qty, err := strconv.ParseFloat(qtyText, 64)
		if err != nil || qty <= 0 {
			continue
		}

		unit := ""
		if m[4] >= 0 {
			unit = normalizeUnit(message[m[4]:m[5]])
		}

		phrase := strings.TrimSpace(message[m[6]:m[7]])
		phrase = cutAtConnector(phrase)
		phrase = trimTrailingFiller(phrase)
		if len([]rune(phrase)) < 3 {
			continue
		}
		if _, stop := extractionStopTokens[strings.ToLower(phrase)]; stop {
			continue
		}

		out = append(out, internal.ExtractedItem{
			Quantity:     qty,
			Unit:         unit,
			ProductName:  phrase,
			Confidence:   extractionConfidence,
			OriginalText: full,
			Start:        m[0],
			End:          m[1],
		})
	}
	return out
}

// AnalyzeMessageContext aggregates all detectors and picks the suggested
// action by strict precedence: CLOSE beats MODIFY beats START_OR_EXTEND
// beats NONE.
func (d *Detector) AnalyzeMessageContext(message string) internal.MessageAnalysis {
	intent := d.DetectOrderIntent(message)
	closing := d.DetectClosingPatterns(message)
	correction := d.DetectCorrections(message)
	items := d.ExtractProductsAndQuantities(message)

	matches := append([]internal.PatternMatch{}, intent.Matches...)
	matches = append(matches, closing.Matches...)
	matches = append(matches, correction.Matches...)

	action := internal.ActionNone
	switch {
	case closing.Detected && closing.Confidence > 0.5:
		action = internal.ActionCloseSession
	case correction.Detected:
		action = internal.ActionModifySession
	case intent.HasIntent || len(items) > 0:
		action = internal.ActionStartOrExtend
	}

	return internal.MessageAnalysis{
		HasOrderIntent:    intent.HasIntent,
		IntentConfidence:  intent.Confidence,
		ClosingDetected:   closing.Detected,
		ClosingConfidence: closing.Confidence,
		CorrectionFound:   correction.Detected,
		CorrectionScore:   correction.Confidence,
		Matches:           matches,
		Items:             items,
		SuggestedAction:   action,
	}
}

func (d *Detector) quantityMatches(message string) []internal.PatternMatch {
	out := []internal.PatternMatch{}
	for _, m := range d.quantity.FindAllStringIndex(message, -1) {
		out = append(out, patternMatch(internal.PatternQuantity, extractionConfidence, message, m))
	}
	return out
}

func (d *Detector) productMatches(message string) []internal.PatternMatch {
	out := []internal.PatternMatch{}
	seen := map[string]struct{}{}
	for _, word := range util.Tokenize(message) {
		if _, ok := d.productWords[word]; !ok {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		idx := strings.Index(strings.ToLower(util.StripDiacritics(message)), word)
		if idx < 0 {
			idx = 0
		}
		out = append(out, internal.PatternMatch{
			Type:       internal.PatternProduct,
			Confidence: extractionConfidence,
			Start:      idx,
			End:        idx + len(word),
			Text:       word,
		})
	}
	return out
}

// cutAtConnector stops a greedy product phrase at "y"/"and", so "leche y 2
// kilos de arroz" does not swallow the next line item.
func cutAtConnector(phrase string) string {
	lower := strings.ToLower(phrase)
	for _, connector := range []string{"y", "and", "e"} {
		if idx := strings.Index(lower, " "+connector+" "); idx >= 0 {
			return strings.TrimSpace(phrase[:idx])
		}
		if strings.HasSuffix(lower, " "+connector) {
			return strings.TrimSpace(phrase[:len(phrase)-len(connector)-1])
		}
	}
	return phrase
}

func trimTrailingFiller(phrase string) string {
	lower := strings.ToLower(phrase)
	for filler := range extractionStopTokens {
		if strings.HasSuffix(lower, " "+filler) {
			return strings.TrimSpace(phrase[:len(lower)-len(filler)-1])
		}
	}
	return phrase
}

func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch u {
	case "litro", "litros", "lt", "lts":
		return "litro"
	case "kilo", "kilos", "kg", "kgs":
		return "kilo"
	case "gramo", "gramos", "gr", "grs":
		return "gramo"
	case "pieza", "piezas", "pza", "pzas", "unidad", "unidades":
		return "pieza"
	case "caja", "cajas":
		return "caja"
	case "paquete", "paquetes":
		return "paquete"
	case "botella", "botellas":
		return "botella"
	case "lata", "latas":
		return "lata"
	case "docena", "docenas":
		return "docena"
	case "bolsa", "bolsas":
		return "bolsa"
	default:
		return u
	}
}

func patternMatch(patternType internal.PatternType, conf float64, message string, loc []int) internal.PatternMatch {
	return internal.PatternMatch{
		Type:       patternType,
		Confidence: conf,
		Start:      loc[0],
		End:        loc[1],
		Text:       message[loc[0]:loc[1]],
	}
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, regexp.MustCompile(expr))
	}
	return out
}

func wordSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
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
