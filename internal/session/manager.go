// Package session owns the order-session lifecycle: creation, message
// linkage, item collection, status transitions and final consolidation into
// an order request.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/storage"
)

// ErrIllegalTransition is returned when a status change is not in the
// forward-only transition table.
var ErrIllegalTransition = eris.New("session: illegal status transition")

// Forward-only lifecycle. The expiry sweep bypasses this table and may close
// a session from any state.
var legalTransitions = map[internal.SessionStatus][]internal.SessionStatus{
	internal.SessionActive:     {internal.SessionCollecting, internal.SessionClosed},
	internal.SessionCollecting: {internal.SessionReviewing, internal.SessionClosed},
	internal.SessionReviewing:  {internal.SessionClosed},
}

// Items below this matching confidence flag the consolidated order for
// human review.
const reviewThreshold = 0.6

type Manager struct {
	db  *storage.DB
	cfg config.Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(db *storage.DB, cfg config.Config) *Manager {
	return &Manager{
		db:    db,
		cfg:   cfg,
		locks: map[string]*sync.Mutex{},
	}
}

// conversationLock serializes session writes per conversation. The database's
// partial unique index is the second line of defense against duplicate open
// sessions when multiple processes share the file.
func (m *Manager) conversationLock(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[conversationID] = lock
	}
	return lock
}

// GetActiveSession returns the conversation's open session, or nil.
func (m *Manager) GetActiveSession(conversationID string, now time.Time) (*internal.OrderSession, error) {
	return m.db.GetActiveSession(conversationID, now)
}

// CreateSession opens a new ACTIVE session for the conversation. If one is
// already open it is returned instead, so concurrent callers converge on the
// same session.
func (m *Manager) CreateSession(conversationID, distributorID string, now time.Time) (*internal.OrderSession, error) {
	lock := m.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := m.db.GetActiveSession(conversationID, now); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	sess := internal.OrderSession{
		ID:                  uuid.NewString(),
		ConversationID:      conversationID,
		DistributorID:       distributorID,
		Status:              internal.SessionActive,
		StartedAt:           now,
		LastActivityAt:      now,
		ExpiresAt:           now.Add(m.cfg.SessionDefaultTimeout),
		CollectedMessageIDs: []string{},
	}

	if err := m.db.InsertSession(sess); err != nil {
		if !eris.Is(err, storage.ErrOpenSessionExists) {
			return nil, err
		}
		// Lost the race to another process; adopt its session.
		existing, gerr := m.db.GetActiveSession(conversationID, now)
		if gerr != nil {
			return nil, gerr
		}
		if existing != nil {
			return existing, nil
		}
		// The open slot is held by an expired session. Sweep and retry once.
		if _, serr := m.db.CloseExpiredSessions(now); serr != nil {
			return nil, serr
		}
		if err := m.db.InsertSession(sess); err != nil {
			return nil, err
		}
	}

	m.appendEvent(sess.ID, internal.EventSessionStarted, map[string]any{
		"conversationId": conversationID,
		"expiresAt":      sess.ExpiresAt.UTC().Format(time.RFC3339),
	}, now)

	zap.L().Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("conversation_id", conversationID),
	)
	return &sess, nil
}

// AddMessageToSession links a message to the session. With extend set the
// expiry is pushed out by the extension timeout; without it only the activity
// stamp moves. Re-adding an already linked message is a no-op.
func (m *Manager) AddMessageToSession(sessionID, messageID string, extend bool, now time.Time) (*internal.OrderSession, error) {
	sess, err := m.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	lock := m.conversationLock(sess.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	sess, err = m.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == internal.SessionClosed {
		return nil, eris.Errorf("session: %s is closed", sessionID)
	}

	for _, id := range sess.CollectedMessageIDs {
		if id == messageID {
			return sess, nil
		}
	}

	sess.CollectedMessageIDs = append(sess.CollectedMessageIDs, messageID)
	sess.TotalMessagesCount = len(sess.CollectedMessageIDs)
	sess.LastActivityAt = now
	if extend {
		sess.ExpiresAt = now.Add(m.cfg.SessionExtensionTimeout)
	}

	if err := m.db.UpdateSessionOnMessage(
		sessionID, sess.CollectedMessageIDs, sess.TotalMessagesCount,
		sess.LastActivityAt, sess.ExpiresAt,
	); err != nil {
		return nil, err
	}

	m.appendEvent(sessionID, internal.EventMessageAdded, map[string]any{
		"messageId": messageID,
		"total":     sess.TotalMessagesCount,
	}, now)

	return sess, nil
}

// AddItem appends an extracted item to the session and logs it. Items are
// append-only; use CancelItem to retract one.
func (m *Manager) AddItem(sessionID string, item internal.OrderSessionItem, now time.Time) (internal.OrderSessionItem, error) {
	item.ID = uuid.NewString()
	item.SessionID = sessionID
	item.Status = internal.ItemActive

	if err := m.db.InsertSessionItem(item); err != nil {
		return internal.OrderSessionItem{}, err
	}

	m.appendEvent(sessionID, internal.EventItemExtracted, map[string]any{
		"itemId":      item.ID,
		"productName": item.ProductName,
		"quantity":    item.Quantity,
	}, now)

	return item, nil
}

// CancelItem flips the item's status instead of deleting the row.
func (m *Manager) CancelItem(itemID string) error {
	return m.db.UpdateSessionItemStatus(itemID, internal.ItemCancelled)
}

// Items returns the session's items, active ones only when onlyActive is set.
func (m *Manager) Items(sessionID string, onlyActive bool) ([]internal.OrderSessionItem, error) {
	return m.db.ListSessionItems(sessionID, onlyActive)
}

// TransitionStatus moves the session forward through the lifecycle. Closing
// stamps closedAt and logs SESSION_CLOSED on top of STATUS_CHANGED.
func (m *Manager) TransitionStatus(sessionID string, to internal.SessionStatus, now time.Time) (*internal.OrderSession, error) {
	sess, err := m.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	lock := m.conversationLock(sess.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	sess, err = m.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	if !transitionAllowed(sess.Status, to) {
		return nil, eris.Wrapf(ErrIllegalTransition, "%s -> %s", sess.Status, to)
	}

	var closedAt *time.Time
	if to == internal.SessionClosed {
		closedAt = &now
	}
	if err := m.db.UpdateSessionStatus(sessionID, to, closedAt); err != nil {
		return nil, err
	}

	m.appendEvent(sessionID, internal.EventStatusChanged, map[string]any{
		"from": string(sess.Status),
		"to":   string(to),
	}, now)
	if to == internal.SessionClosed {
		m.appendEvent(sessionID, internal.EventSessionClosed, map[string]any{
			"reason": "transition",
		}, now)
	}

	sess.Status = to
	sess.ClosedAt = closedAt
	return sess, nil
}

func transitionAllowed(from, to internal.SessionStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Consolidate folds the session's active items into a single order request
// and persists the snapshot on the session row. A session with no active
// items consolidates to nothing: (nil, nil).
func (m *Manager) Consolidate(sessionID string, now time.Time) (*internal.OrderRequest, error) {
	sess, err := m.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	items, err := m.db.ListSessionItems(sessionID, true)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	req := internal.OrderRequest{
		SessionID:        sessionID,
		ConversationID:   sess.ConversationID,
		DistributorID:    sess.DistributorID,
		Lines:            make([]internal.OrderLine, 0, len(items)),
		SourceMessageIDs: sess.CollectedMessageIDs,
		CreatedAt:        now,
	}

	confidenceSum := 0.0
	requiresReview := false
	for _, item := range items {
		line := internal.OrderLine{
			ProductName:        item.ProductName,
			Quantity:           item.Quantity,
			Unit:               item.Unit,
			UnitPrice:          item.UnitPrice,
			SuggestedCatalogID: item.SuggestedCatalogID,
			Confidence:         item.MatchingConfidence,
		}
		if item.LineTotal != nil {
			line.LineTotal = item.LineTotal
		} else if item.UnitPrice != nil {
			total := *item.UnitPrice * item.Quantity
			line.LineTotal = &total
		}
		if line.LineTotal != nil {
			req.Total += *line.LineTotal
		}
		confidenceSum += item.MatchingConfidence
		if item.MatchingConfidence < reviewThreshold {
			requiresReview = true
		}
		req.Lines = append(req.Lines, line)
	}

	confidence := confidenceSum / float64(len(items))
	snapshot, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "session: marshal snapshot")
	}
	if err := m.db.SetConsolidatedSnapshot(sessionID, string(snapshot), confidence, requiresReview); err != nil {
		return nil, err
	}

	return &req, nil
}

// CloseExpired closes every session past its expiry, from any state, and
// logs the closure. Returns the closed session ids.
func (m *Manager) CloseExpired(now time.Time) ([]string, error) {
	ids, err := m.db.CloseExpiredSessions(now)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		m.appendEvent(id, internal.EventSessionClosed, map[string]any{
			"reason": "timeout",
		}, now)
	}
	return ids, nil
}

// appendEvent is best-effort: the event log never blocks the main path.
func (m *Manager) appendEvent(sessionID string, eventType internal.SessionEventType, data map[string]any, now time.Time) {
	err := m.db.InsertSessionEvent(internal.SessionEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		CreatedAt: now,
	})
	if err != nil {
		zap.L().Warn("session: event append failed",
			zap.String("session_id", sessionID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}
