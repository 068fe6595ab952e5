package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/config"
)

func testCatalog() []internal.CatalogEntry {
	return []internal.CatalogEntry{
		{
			ID: "p-1", Name: "Leche Entera 1L", SKU: "LE-1L", Category: "lácteos",
			Unit: "litro", Price: 25, StockQty: 100, InStock: true, Active: true,
			Aliases:         []string{"leche entera", "lechita"},
			Keywords:        []string{"leche", "entera"},
			Misspellings:    []string{"lehce entera"},
			TrainingPhrases: []string{"quiero leche entera"},
			SizeVariants:    []string{"1L", "500ml"},
		},
		{
			ID: "p-2", Name: "Leche Deslactosada 1L", SKU: "LD-1L", Category: "lácteos",
			Unit: "litro", Price: 28, StockQty: 50, InStock: true, Active: true,
			Aliases:  []string{"leche deslactosada"},
			Keywords: []string{"leche", "deslactosada"},
		},
		{
			ID: "p-3", Name: "Coca Cola 600ml", SKU: "CC-600", Brand: "Coca Cola",
			Category: "refrescos", Unit: "pieza", Price: 18, StockQty: 200,
			InStock: true, Active: true,
			Aliases:      []string{"coca", "coquita"},
			Keywords:     []string{"refresco", "coca"},
			Misspellings: []string{"koka kola"},
		},
		{
			ID: "p-4", Name: "Agua Natural 1L", SKU: "AG-1L", Category: "bebidas",
			Unit: "pieza", Price: 10, StockQty: 0, InStock: false, Active: true,
		},
	}
}

func newMatcher(t *testing.T) *Matcher {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	return New(cfg)
}

func TestExactNameIsHigh(t *testing.T) {
	m := newMatcher(t)
	res := m.MatchProducts("Leche Entera 1L", testCatalog())

	require.NotNil(t, res.BestMatch)
	assert.Equal(t, internal.ConfidenceHigh, res.ConfidenceLevel)
	assert.Equal(t, "p-1", res.BestMatch.ProductID)
	assert.Equal(t, internal.MatchExact, res.BestMatch.MatchType)
	assert.Equal(t, 1.0, res.BestMatch.Confidence)
	assert.False(t, res.RequiresClarification)
}

func TestAliasAndMisspellingTiers(t *testing.T) {
	m := newMatcher(t)

	res := m.MatchProducts("mándame una coquita", testCatalog())
	require.NotNil(t, res.BestMatch)
	assert.Equal(t, "p-3", res.BestMatch.ProductID)
	assert.Equal(t, internal.MatchAlias, res.BestMatch.MatchType)
	assert.Equal(t, 0.95, res.BestMatch.Confidence)

	res = m.MatchProducts("koka kola", testCatalog())
	require.NotNil(t, res.BestMatch)
	assert.Equal(t, "p-3", res.BestMatch.ProductID)
	assert.Equal(t, internal.MatchMisspelling, res.BestMatch.MatchType)
	assert.Equal(t, 0.90, res.BestMatch.Confidence)
}

func TestKeywordBonusIsCapped(t *testing.T) {
	m := newMatcher(t)
	catalog := []internal.CatalogEntry{{
		ID: "p-9", Name: "Limpiador Casa Max", InStock: true, Active: true,
		Keywords: []string{"detergente", "multiusos", "limpieza", "jabon"},
	}}

	res := m.MatchProducts("detergente multiusos limpieza jabon", catalog)
	require.NotNil(t, res.BestMatch)
	assert.Equal(t, internal.MatchKeyword, res.BestMatch.MatchType)
	// 4 keyword hits: base 0.85 plus bonus capped at 0.15.
	assert.InDelta(t, 1.0, res.BestMatch.Confidence, 1e-9)
}

func TestOutOfStockEntriesAreSkipped(t *testing.T) {
	m := newMatcher(t)
	res := m.MatchProducts("agua natural", testCatalog())
	for _, cand := range res.Candidates {
		assert.NotEqual(t, "p-4", cand.ProductID)
	}
}

func TestRankingIsDescending(t *testing.T) {
	m := newMatcher(t)
	res := m.MatchProducts("leche", testCatalog())
	require.GreaterOrEqual(t, len(res.Candidates), 2)
	for i := 1; i < len(res.Candidates); i++ {
		assert.GreaterOrEqual(t, res.Candidates[i-1].Confidence, res.Candidates[i].Confidence)
	}
}

func TestDeterminism(t *testing.T) {
	m := newMatcher(t)
	first := m.MatchProducts("quiero leche entera", testCatalog())
	second := m.MatchProducts("quiero leche entera", testCatalog())
	assert.Equal(t, first, second)
}

func TestEmptyInputsDegradeToNone(t *testing.T) {
	m := newMatcher(t)

	res := m.MatchProducts("algo raro", nil)
	assert.Equal(t, internal.ConfidenceNone, res.ConfidenceLevel)
	assert.Empty(t, res.Candidates)
	assert.True(t, res.RequiresClarification)
	assert.NotEmpty(t, res.SuggestedQuestion)

	res = m.MatchProducts("algo raro", []internal.CatalogEntry{})
	assert.Equal(t, internal.ConfidenceNone, res.ConfidenceLevel)
	assert.Empty(t, res.Candidates)

	res = m.MatchProducts("", testCatalog())
	assert.Equal(t, internal.ConfidenceNone, res.ConfidenceLevel)
	assert.Empty(t, res.Candidates)
}

func TestClassifyConfidenceLevelBoundaries(t *testing.T) {
	cases := []struct {
		name string
		in   []float64
		want internal.ConfidenceLevel
	}{
		{name: "empty", in: nil, want: internal.ConfidenceNone},
		{name: "at high boundary", in: []float64{0.85}, want: internal.ConfidenceHigh},
		{name: "just below high", in: []float64{0.84}, want: internal.ConfidenceMedium},
		{name: "at medium boundary", in: []float64{0.60}, want: internal.ConfidenceMedium},
		{name: "just below medium", in: []float64{0.59}, want: internal.ConfidenceLow},
		{name: "barely positive", in: []float64{0.01}, want: internal.ConfidenceLow},
		{name: "zero only", in: []float64{0}, want: internal.ConfidenceNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyConfidenceLevel(tc.in))
		})
	}
}

func TestMediumWithVariantsAsksForVariant(t *testing.T) {
	m := newMatcher(t)
	catalog := []internal.CatalogEntry{{
		ID: "p-1", Name: "Leche Entera 1L", InStock: true, Active: true,
		TrainingPhrases: []string{"mandame la leche de siempre"},
		SizeVariants:    []string{"1L", "500ml"},
	}}

	res := m.MatchProducts("mandame leche de siempre", catalog)
	require.NotNil(t, res.BestMatch)
	assert.Equal(t, internal.ConfidenceMedium, res.ConfidenceLevel)
	assert.True(t, res.RequiresClarification)
	assert.Contains(t, res.SuggestedQuestion, "presentación")
}

func TestNoneSurfacesSimilarNames(t *testing.T) {
	m := newMatcher(t)
	catalog := []internal.CatalogEntry{
		{ID: "p-1", Name: "Queso Panela 400g", InStock: true, Active: true},
	}
	res := m.MatchProducts("ocupo cotija o panela para la fiesta de mañana", catalog)
	assert.Equal(t, internal.ConfidenceNone, res.ConfidenceLevel)
	assert.Contains(t, res.SuggestedQuestion, "Queso Panela 400g")
}
