package sweeper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/session"
	"github.com/tamosreddi/orders-sub000/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.DB, *session.Manager) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg, err := config.Load()
	require.NoError(t, err)
	manager := session.NewManager(db, cfg)
	return NewService(manager, cfg), db, manager
}

func TestSweepClosesOnlyExpired(t *testing.T) {
	svc, db, manager := newTestService(t)
	now := time.Now()

	expired, err := manager.CreateSession("conv-1", "dist-1", now.Add(-1*time.Hour))
	require.NoError(t, err)
	live, err := manager.CreateSession("conv-2", "dist-1", now)
	require.NoError(t, err)

	require.NoError(t, svc.Sweep(now))

	gone, err := db.GetSession(expired.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.SessionClosed, gone.Status)

	kept, err := db.GetSession(live.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.SessionActive, kept.Status)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	svc, _, _ := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
