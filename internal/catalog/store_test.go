package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg, err := config.Load()
	require.NoError(t, err)
	return NewStore(db, cfg), db
}

func TestSnapshotCachesUntilInvalidated(t *testing.T) {
	store, db := newTestStore(t)

	require.NoError(t, db.UpsertProducts([]internal.CatalogEntry{
		{ID: "prod-1", Name: "Leche Entera 1L", Active: true, StockQty: 10, InStock: true},
	}))

	first, err := store.Snapshot()
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A write behind the cache is invisible until invalidation.
	require.NoError(t, db.UpsertProducts([]internal.CatalogEntry{
		{ID: "prod-2", Name: "Coca Cola 600ml", Active: true, StockQty: 5, InStock: true},
	}))

	cached, err := store.Snapshot()
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	store.Invalidate()
	fresh, err := store.Snapshot()
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestSnapshotEmptyCatalog(t *testing.T) {
	store, _ := newTestStore(t)

	entries, err := store.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
