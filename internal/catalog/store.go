// Package catalog serves read-mostly product snapshots to the matcher and
// imports catalog spreadsheets into the products table.
package catalog

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/storage"
)

const snapshotKey = "catalog-snapshot"

type Store struct {
	db    *storage.DB
	cache *cache.Cache
	ttl   time.Duration
}

func NewStore(db *storage.DB, cfg config.Config) *Store {
	return &Store{
		db:    db,
		cache: cache.New(cfg.CatalogCacheTTL, 2*cfg.CatalogCacheTTL),
		ttl:   cfg.CatalogCacheTTL,
	}
}

// Snapshot returns the full product list the matcher scores against. Reads
// hit the in-process cache until the TTL lapses; a stale snapshot inside the
// TTL window is acceptable for matching.
func (s *Store) Snapshot() ([]internal.CatalogEntry, error) {
	if x, found := s.cache.Get(snapshotKey); found {
		return x.([]internal.CatalogEntry), nil
	}

	entries, err := s.db.ListProducts()
	if err != nil {
		return nil, err
	}
	s.cache.Set(snapshotKey, entries, cache.DefaultExpiration)
	return entries, nil
}

// Invalidate drops the cached snapshot. Called after imports so the next
// match sees the new catalog immediately.
func (s *Store) Invalidate() {
	s.cache.Delete(snapshotKey)
}
