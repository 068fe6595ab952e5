package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeCatalogXLSX(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, value))
		}
	}

	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestImportXLSX(t *testing.T) {
	store, db := newTestStore(t)

	path := writeCatalogXLSX(t, [][]any{
		{"ID", "Nombre", "Marca", "Categoría", "Unidad", "Precio", "Existencias", "Alias", "Palabras Clave"},
		{"prod-1", "Leche Entera 1L", "Lala", "lacteos", "litro", "25.50", "40", "lechita|leche lala", "leche|entera"},
		{"prod-2", "Coca Cola 600ml", "Coca Cola", "bebidas", "pieza", "18", "0", "coca|coquita", ""},
		{"", "sin id, se descarta", "", "", "", "", "", "", ""},
	})

	count, err := store.ImportXLSX(path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	products, err := db.ListProducts()
	require.NoError(t, err)
	require.Len(t, products, 2)

	leche := products[0]
	assert.Equal(t, "Leche Entera 1L", leche.Name)
	assert.Equal(t, 25.5, leche.Price)
	assert.Equal(t, []string{"lechita", "leche lala"}, leche.Aliases)
	assert.Equal(t, []string{"leche", "entera"}, leche.Keywords)
	assert.True(t, leche.InStock)
	assert.True(t, leche.Active)

	coca := products[1]
	assert.False(t, coca.InStock)

	// Import refreshes the snapshot immediately.
	snapshot, err := store.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
}

func TestImportXLSXEmptySheet(t *testing.T) {
	store, _ := newTestStore(t)

	path := writeCatalogXLSX(t, [][]any{
		{"ID", "Nombre"},
	})

	_, err := store.ImportXLSX(path)
	assert.Error(t, err)
}

func TestImportXLSXReimportUpdates(t *testing.T) {
	store, db := newTestStore(t)

	first := writeCatalogXLSX(t, [][]any{
		{"ID", "Nombre", "Precio", "Existencias"},
		{"prod-1", "Leche Entera 1L", "25.50", "40"},
	})
	_, err := store.ImportXLSX(first)
	require.NoError(t, err)

	second := writeCatalogXLSX(t, [][]any{
		{"ID", "Nombre", "Precio", "Existencias"},
		{"prod-1", "Leche Entera 1L", "27.00", "0"},
	})
	_, err = store.ImportXLSX(second)
	require.NoError(t, err)

	products, err := db.ListProducts()
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, 27.0, products[0].Price)
	assert.False(t, products[0].InStock)
}
