package catalog

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/util"
)

// Spreadsheet columns recognized by the importer, by normalized header name.
// Spanish and English headers both work. List columns are pipe-separated.
var headerAliases = map[string]string{
	"id":              "id",
	"nombre":          "name",
	"name":            "name",
	"sku":             "sku",
	"codigo":          "sku",
	"marca":           "brand",
	"brand":           "brand",
	"categoria":       "category",
	"category":        "category",
	"unidad":          "unit",
	"unit":            "unit",
	"precio":          "price",
	"price":           "price",
	"existencias":     "stock",
	"stock":           "stock",
	"activo":          "active",
	"active":          "active",
	"alias":           "aliases",
	"aliases":         "aliases",
	"palabras clave":  "keywords",
	"keywords":        "keywords",
	"frases":          "training",
	"training":        "training",
	"errores comunes": "misspellings",
	"misspellings":    "misspellings",
	"presentaciones":  "variants",
	"variants":        "variants",
}

// ImportXLSX reads a catalog spreadsheet, upserts every row into the
// products table and invalidates the snapshot cache. The first non-empty row
// of each sheet is the header; rows without an id and a name are skipped.
// Returns the number of products written.
func (s *Store) ImportXLSX(path string) (int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, eris.Wrapf(err, "catalog: open %s", path)
	}
	defer f.Close()

	entries := []internal.CatalogEntry{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		entries = append(entries, parseSheet(rows)...)
	}

	if len(entries) == 0 {
		return 0, eris.Errorf("catalog: no products found in %s", path)
	}

	if err := s.db.UpsertProducts(entries); err != nil {
		return 0, err
	}
	s.Invalidate()
	return len(entries), nil
}

func parseSheet(rows [][]string) []internal.CatalogEntry {
	columns := map[string]int{}
	out := []internal.CatalogEntry{}

	for _, row := range rows {
		if len(columns) == 0 {
			columns = inferColumns(row)
			continue
		}

		pick := func(field string) string {
			idx, ok := columns[field]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		id, name := pick("id"), pick("name")
		if id == "" || name == "" {
			continue
		}

		entry := internal.CatalogEntry{
			ID:              id,
			Name:            name,
			SKU:             pick("sku"),
			Brand:           pick("brand"),
			Category:        pick("category"),
			Unit:            pick("unit"),
			Price:           parseFloat(pick("price")),
			StockQty:        parseFloat(pick("stock")),
			Active:          parseBool(pick("active"), true),
			Aliases:         splitList(pick("aliases")),
			Keywords:        splitList(pick("keywords")),
			TrainingPhrases: splitList(pick("training")),
			Misspellings:    splitList(pick("misspellings")),
			SizeVariants:    splitList(pick("variants")),
		}
		entry.InStock = entry.StockQty > 0
		out = append(out, entry)
	}

	return out
}

func inferColumns(row []string) map[string]int {
	columns := map[string]int{}
	for i, cell := range row {
		norm := util.NormalizeText(cell)
		if field, ok := headerAliases[norm]; ok {
			if _, seen := columns[field]; !seen {
				columns[field] = i
			}
		}
	}
	// A header row must at least name the product column.
	if _, ok := columns["name"]; !ok {
		return map[string]int{}
	}
	return columns
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	raw = strings.ReplaceAll(raw, ",", ".")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseBool(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return fallback
	case "1", "true", "si", "sí", "yes":
		return true
	default:
		return false
	}
}
