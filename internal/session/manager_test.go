package session

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg, err := config.Load()
	require.NoError(t, err)
	return NewManager(db, cfg), db
}

func activeItem(name string, qty float64, matchConfidence float64) internal.OrderSessionItem {
	return internal.OrderSessionItem{
		ProductName:        name,
		Quantity:           qty,
		Confidence:         0.9,
		SourceMessageID:    "msg-1",
		MatchingConfidence: matchConfidence,
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()

	sess, err := m.CreateSession("conv-1", "dist-1", now)
	require.NoError(t, err)
	assert.Equal(t, internal.SessionActive, sess.Status)
	assert.WithinDuration(t, now.Add(30*time.Minute), sess.ExpiresAt, time.Second)
	assert.Empty(t, sess.CollectedMessageIDs)

	events, err := m.db.ListSessionEvents(sess.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, internal.EventSessionStarted, events[0].Type)
}

func TestCreateSessionReturnsExistingOpenSession(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()

	first, err := m.CreateSession("conv-1", "dist-1", now)
	require.NoError(t, err)
	second, err := m.CreateSession("conv-1", "dist-1", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateSessionReplacesExpiredOpenSession(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()

	stale, err := m.CreateSession("conv-1", "dist-1", now.Add(-1*time.Hour))
	require.NoError(t, err)

	fresh, err := m.CreateSession("conv-1", "dist-1", now)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.NotEqual(t, stale.ID, fresh.ID)

	swept, err := m.db.GetSession(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.SessionClosed, swept.Status)
}

func TestCreateSessionConcurrentConvergesOnOne(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := m.CreateSession("conv-1", "dist-1", now)
			if assert.NoError(t, err) {
				ids[i] = sess.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
}

func TestAddMessageExtendsAndIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()
	sess, err := m.CreateSession("conv-1", "dist-1", now)
	require.NoError(t, err)

	later := now.Add(2 * time.Minute)
	updated, err := m.AddMessageToSession(sess.ID, "msg-1", true, later)
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-1"}, updated.CollectedMessageIDs)
	assert.Equal(t, 1, updated.TotalMessagesCount)
	assert.WithinDuration(t, later.Add(5*time.Minute), updated.ExpiresAt, time.Second)

	// Same message again: no growth, no new expiry.
	again, err := m.AddMessageToSession(sess.ID, "msg-1", true, later.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, again.TotalMessagesCount)
	assert.WithinDuration(t, later.Add(5*time.Minute), again.ExpiresAt, time.Second)

	_, err = m.AddMessageToSession(sess.ID, "msg-2", true, later.Add(time.Minute))
	require.NoError(t, err)
	final, err := m.db.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-1", "msg-2"}, final.CollectedMessageIDs)
}

func TestAddMessageWithoutExtendKeepsExpiry(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()
	sess, err := m.CreateSession("conv-1", "dist-1", now)
	require.NoError(t, err)
	originalExpiry := sess.ExpiresAt

	later := now.Add(2 * time.Minute)
	updated, err := m.AddMessageToSession(sess.ID, "msg-1", false, later)
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-1"}, updated.CollectedMessageIDs)
	assert.Equal(t, later, updated.LastActivityAt)
	assert.WithinDuration(t, originalExpiry, updated.ExpiresAt, time.Second)

	stored, err := m.db.GetSession(sess.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, originalExpiry, stored.ExpiresAt, time.Second)
}

func TestAddMessageToClosedSessionFails(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()
	sess, err := m.CreateSession("conv-1", "dist-1", now)
	require.NoError(t, err)

	_, err = m.TransitionStatus(sess.ID, internal.SessionClosed, now)
	require.NoError(t, err)

	_, err = m.AddMessageToSession(sess.ID, "msg-1", true, now)
	assert.Error(t, err)
}

func TestTransitionTable(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()
	sess, err := m.CreateSession("conv-1", "dist-1", now)
	require.NoError(t, err)

	// ACTIVE cannot jump straight to REVIEWING.
	_, err = m.TransitionStatus(sess.ID, internal.SessionReviewing, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	sess, err = m.TransitionStatus(sess.ID, internal.SessionCollecting, now)
	require.NoError(t, err)
	assert.Equal(t, internal.SessionCollecting, sess.Status)

	// No going backwards.
	_, err = m.TransitionStatus(sess.ID, internal.SessionActive, now)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	sess, err = m.TransitionStatus(sess.ID, internal.SessionReviewing, now)
	require.NoError(t, err)

	sess, err = m.TransitionStatus(sess.ID, internal.SessionClosed, now)
	require.NoError(t, err)
	assert.Equal(t, internal.SessionClosed, sess.Status)
	require.NotNil(t, sess.ClosedAt)

	// CLOSED is terminal.
	_, err = m.TransitionStatus(sess.ID, internal.SessionClosed, now)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestItemsAppendOnly(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()
	sess, err := m.CreateSession("conv-1", "dist-1", now)
	require.NoError(t, err)

	first, err := m.AddItem(sess.ID, activeItem("Leche Entera 1L", 2, 0.95), now)
	require.NoError(t, err)
	_, err = m.AddItem(sess.ID, activeItem("Coca Cola 600ml", 3, 0.9), now)
	require.NoError(t, err)

	require.NoError(t, m.CancelItem(first.ID))

	all, err := m.Items(sess.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := m.Items(sess.ID, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Coca Cola 600ml", active[0].ProductName)
}

func TestConsolidateEmptySession(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()
	sess, err := m.CreateSession("conv-1", "dist-1", now)
	require.NoError(t, err)

	req, err := m.Consolidate(sess.ID, now)
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestConsolidateSumsLinesAndPersistsSnapshot(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()
	sess, err := m.CreateSession("conv-1", "dist-1", now)
	require.NoError(t, err)
	_, err = m.AddMessageToSession(sess.ID, "msg-1", true, now)
	require.NoError(t, err)

	price := 25.5
	item := activeItem("Leche Entera 1L", 2, 0.95)
	item.UnitPrice = &price
	_, err = m.AddItem(sess.ID, item, now)
	require.NoError(t, err)

	cancelled, err := m.AddItem(sess.ID, activeItem("Pan Blanco", 1, 0.9), now)
	require.NoError(t, err)
	require.NoError(t, m.CancelItem(cancelled.ID))

	req, err := m.Consolidate(sess.ID, now)
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Len(t, req.Lines, 1)
	assert.Equal(t, "Leche Entera 1L", req.Lines[0].ProductName)
	assert.Equal(t, 51.0, req.Total)
	assert.Equal(t, []string{"msg-1"}, req.SourceMessageIDs)

	stored, err := m.db.GetSession(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ConsolidatedSnapshot)
	assert.Contains(t, *stored.ConsolidatedSnapshot, "Leche Entera 1L")
	assert.Equal(t, 0.95, stored.ConfidenceScore)
	assert.False(t, stored.RequiresReview)
}

func TestConsolidateFlagsLowConfidenceForReview(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()
	sess, err := m.CreateSession("conv-1", "dist-1", now)
	require.NoError(t, err)

	_, err = m.AddItem(sess.ID, activeItem("algo raro", 1, 0.4), now)
	require.NoError(t, err)

	_, err = m.Consolidate(sess.ID, now)
	require.NoError(t, err)

	stored, err := m.db.GetSession(sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.RequiresReview)
}

func TestCloseExpiredLogsTimeout(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()
	sess, err := m.CreateSession("conv-1", "dist-1", now.Add(-1*time.Hour))
	require.NoError(t, err)

	ids, err := m.CloseExpired(now)
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, ids)

	stored, err := m.db.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.SessionClosed, stored.Status)

	events, err := m.db.ListSessionEvents(sess.ID)
	require.NoError(t, err)
	var closed bool
	for _, e := range events {
		if e.Type == internal.EventSessionClosed {
			closed = true
			assert.Equal(t, "timeout", e.Data["reason"])
		}
	}
	assert.True(t, closed)
}
