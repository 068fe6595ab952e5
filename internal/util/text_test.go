package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldText(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "function words kept", input: "ah y ponme 2 cocas", want: "ah y ponme 2 cocas"},
		{name: "diacritics folded", input: "y también quiero pan", want: "y tambien quiero pan"},
		{name: "punctuation stripped", input: "that's all, gracias!", want: "that s all gracias"},
		{name: "whitespace collapsed", input: "  eso   es todo  ", want: "eso es todo"},
		{name: "empty", input: "", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FoldText(tc.input))
		})
	}
}

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "diacritics folded", input: "Azúcar Refinada", want: "azucar refinada"},
		{name: "stopwords dropped", input: "5 litros de leche entera", want: "5 litros leche entera"},
		{name: "punctuation stripped", input: "coca-cola, 600ml!!", want: "coca cola 600ml"},
		{name: "whitespace collapsed", input: "  pan   blanco  ", want: "pan blanco"},
		{name: "empty", input: "", want: ""},
		{name: "only stopwords", input: "de la y", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeText(tc.input))
		})
	}
}

func TestExtractTerms(t *testing.T) {
	terms := ExtractTerms("leche entera deslactosada")
	assert.Contains(t, terms, "leche")
	assert.Contains(t, terms, "leche entera")
	assert.Contains(t, terms, "leche entera deslactosada")
	assert.Contains(t, terms, "entera deslactosada")

	// Short fragments are dropped, output is deduped.
	short := ExtractTerms("ya no se")
	for _, term := range short {
		assert.GreaterOrEqual(t, len([]rune(term)), 3)
	}

	seen := map[string]int{}
	for _, term := range ExtractTerms("leche leche leche") {
		seen[term]++
	}
	for term, n := range seen {
		assert.Equal(t, 1, n, "term %q duplicated", term)
	}

	assert.Nil(t, ExtractTerms(""))
}

func TestDiceCoefficient(t *testing.T) {
	assert.Equal(t, 1.0, DiceCoefficient("leche", "leche"))
	assert.Equal(t, 0.0, DiceCoefficient("", "leche"))
	assert.Equal(t, 0.0, DiceCoefficient("ab", "xy"))

	near := DiceCoefficient("coca cola", "coca kola")
	assert.Greater(t, near, 0.6)
	far := DiceCoefficient("coca cola", "arroz integral")
	assert.Less(t, far, 0.3)
}

func TestWordOverlap(t *testing.T) {
	assert.Equal(t, 2, WordOverlap("leche entera fría", "leche entera caliente"))
	assert.Equal(t, 0, WordOverlap("pan", "arroz"))
}
