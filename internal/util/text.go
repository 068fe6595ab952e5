package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	reNonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)
	reSpaces   = regexp.MustCompile(`\s+`)

	// Function words that carry no signal for product matching, ES and EN.
	stopwords = map[string]struct{}{
		"de": {}, "del": {}, "la": {}, "el": {}, "los": {}, "las": {},
		"un": {}, "una": {}, "unos": {}, "unas": {}, "y": {}, "o": {},
		"con": {}, "por": {}, "para": {}, "que": {}, "mi": {}, "me": {},
		"the": {}, "a": {}, "an": {}, "of": {}, "and": {}, "or": {},
		"for": {}, "with": {}, "please": {}, "favor": {},
	}
)

// StripDiacritics folds accented characters to their base form, so that
// "azúcar" and "azucar" normalize identically.
func StripDiacritics(input string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, input)
	if err != nil {
		return input
	}
	return out
}

// FoldText lowercases, strips diacritics and punctuation and collapses
// whitespace, keeping every word. Phrase tables containing function words
// ("y tambien", "ah y") must compare against this fold, not NormalizeText.
func FoldText(input string) string {
	s := strings.ToLower(input)
	s = StripDiacritics(s)
	s = reNonAlnum.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeText lowercases, strips diacritics and punctuation, collapses
// whitespace and drops stopwords. Product matching always compares
// normalized text.
func NormalizeText(input string) string {
	s := FoldText(input)
	if s == "" {
		return ""
	}

	words := strings.Split(s, " ")
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if _, skip := stopwords[w]; skip {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// ExtractTerms builds all normalized 1-, 2- and 3-word windows over the
// query, drops terms shorter than 3 characters and dedupes preserving order.
func ExtractTerms(input string) []string {
	normalized := NormalizeText(input)
	if normalized == "" {
		return nil
	}
	words := strings.Split(normalized, " ")

	seen := map[string]struct{}{}
	out := make([]string, 0, len(words)*3)
	for size := 1; size <= 3; size++ {
		for i := 0; i+size <= len(words); i++ {
			term := strings.Join(words[i:i+size], " ")
			if len([]rune(term)) < 3 {
				continue
			}
			if _, dup := seen[term]; dup {
				continue
			}
			seen[term] = struct{}{}
			out = append(out, term)
		}
	}
	return out
}

// Tokenize splits normalized text into words of at least 2 runes.
func Tokenize(input string) []string {
	normalized := NormalizeText(input)
	if normalized == "" {
		return nil
	}
	parts := strings.Split(normalized, " ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len([]rune(p)) >= 2 {
			out = append(out, p)
		}
	}
	return out
}

// DiceCoefficient is the bigram similarity ratio in [0,1] used by the
// training-phrase and fuzzy matching tiers.
func DiceCoefficient(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	pairs := func(s string) []string {
		r := []rune(s)
		if len(r) < 2 {
			return nil
		}
		out := make([]string, 0, len(r)-1)
		for i := 0; i < len(r)-1; i++ {
			out = append(out, string(r[i:i+2]))
		}
		return out
	}

	aPairs := pairs(a)
	bPairs := pairs(b)
	if len(aPairs) == 0 || len(bPairs) == 0 {
		return 0
	}

	bCount := map[string]int{}
	for _, p := range bPairs {
		bCount[p]++
	}
	inter := 0
	for _, p := range aPairs {
		if bCount[p] > 0 {
			inter++
			bCount[p]--
		}
	}

	return float64(2*inter) / float64(len(aPairs)+len(bPairs))
}

// WordOverlap counts how many normalized words the two strings share.
func WordOverlap(a, b string) int {
	bWords := map[string]struct{}{}
	for _, w := range strings.Split(NormalizeText(b), " ") {
		if w != "" {
			bWords[w] = struct{}{}
		}
	}
	overlap := 0
	for _, w := range strings.Split(NormalizeText(a), " ") {
		if w == "" {
			continue
		}
		if _, ok := bWords[w]; ok {
			overlap++
		}
	}
	return overlap
}

func FloatPtr(v float64) *float64 { return &v }

func StringPtr(v string) *string { return &v }
