// Package engine wires the detectors, the matcher and the session manager
// into the per-message processing path.
package engine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/catalog"
	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/consolidator"
	"github.com/tamosreddi/orders-sub000/internal/continuation"
	"github.com/tamosreddi/orders-sub000/internal/matcher"
	"github.com/tamosreddi/orders-sub000/internal/patterns"
	"github.com/tamosreddi/orders-sub000/internal/session"
	"github.com/tamosreddi/orders-sub000/internal/storage"
)

type Engine struct {
	db  *storage.DB
	cfg config.Config

	catalog      *catalog.Store
	patterns     *patterns.Detector
	matcher      *matcher.Matcher
	continuation *continuation.Detector
	consolidator *consolidator.Consolidator
	sessions     *session.Manager
}

func New(db *storage.DB, cfg config.Config) *Engine {
	return &Engine{
		db:           db,
		cfg:          cfg,
		catalog:      catalog.NewStore(db, cfg),
		patterns:     patterns.New(),
		matcher:      matcher.New(cfg),
		continuation: continuation.New(cfg),
		consolidator: consolidator.New(cfg),
		sessions:     session.NewManager(db, cfg),
	}
}

// Sessions exposes the session manager for the sweep loop and the CLI.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Catalog exposes the catalog store for imports.
func (e *Engine) Catalog() *catalog.Store {
	return e.catalog
}

// Ingest stores an inbound message for later processing. Duplicate message
// ids land on the already-stored row.
func (e *Engine) Ingest(msg internal.MessageRow) (int, error) {
	return e.db.InsertMessage(msg)
}

type ProcessResult struct {
	MessageID      int
	Action         internal.SuggestedAction
	SessionID      string
	OrderID        string
	ItemsAdded     int
	Skipped        bool
	ContinuationOf *string
}

// ProcessByMessageID runs the full pipeline for one stored message, relying
// on the local pattern signal alone.
func (e *Engine) ProcessByMessageID(messageID string) (ProcessResult, error) {
	return e.ProcessWithIntent(messageID, nil)
}

// ProcessWithIntent runs the pipeline with a verdict from the external
// intent classifier. The signal overrides the local pre-filter in both
// directions: not-order-related skips outright, order-related forces the
// message into the session flow even without a local pattern hit.
func (e *Engine) ProcessWithIntent(messageID string, signal *internal.IntentSignal) (ProcessResult, error) {
	msg, err := e.db.MessageByMessageID(messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return e.processMessage(msg, signal)
}

// ProcessPending processes up to limit stored messages still in the received
// state, oldest first. Returns how many were processed and how many skipped.
func (e *Engine) ProcessPending(limit int) (int, int, error) {
	pending, err := e.db.ListMessagesByStatus(internal.MessageReceived, limit)
	if err != nil {
		return 0, 0, err
	}

	processed, skipped := 0, 0
	for _, msg := range pending {
		res, err := e.processMessage(msg, nil)
		if err != nil {
			return processed, skipped, err
		}
		if res.Skipped {
			skipped++
		} else {
			processed++
		}
	}
	return processed, skipped, nil
}

func (e *Engine) processMessage(msg internal.MessageRow, signal *internal.IntentSignal) (ProcessResult, error) {
	start := time.Now()
	result := ProcessResult{MessageID: msg.ID}

	analysis := e.patterns.AnalyzeMessageContext(msg.Text)
	if signal != nil {
		if !signal.IsOrderRelated {
			analysis.SuggestedAction = internal.ActionNone
		} else if analysis.SuggestedAction == internal.ActionNone {
			analysis.SuggestedAction = internal.ActionStartOrExtend
		}
	}
	result.Action = analysis.SuggestedAction

	if analysis.SuggestedAction == internal.ActionNone {
		if err := e.db.UpdateMessageStatus(msg.ID, internal.MessageSkipped); err != nil {
			return result, err
		}
		result.Skipped = true
		e.recordRun(msg.ID, start, 0, analysis)
		return result, nil
	}

	history, err := e.conversationHistory(msg)
	if err != nil {
		return result, err
	}
	cons := e.consolidator.Analyze(consolidator.Input{
		Message:           msg.Text,
		IsOrderRelated:    true,
		ProductsExtracted: len(analysis.Items) > 0,
		Now:               msg.ReceivedAt,
		History:           history,
	})

	cont := e.continuation.CheckContinuation(msg.Text, msg.ConversationID, msg.CustomerID, e.recentOrdersLookup(msg.ReceivedAt))
	if cont.IsContinuation {
		result.ContinuationOf = cont.TargetOrderID
	}

	switch analysis.SuggestedAction {
	case internal.ActionCloseSession:
		err = e.handleClose(msg, &result)
	case internal.ActionModifySession:
		err = e.handleCorrection(msg, analysis, &result)
	default:
		err = e.handleCollect(msg, analysis, cons, &result)
	}
	if err != nil {
		return result, err
	}

	// A close or correction with no session to act on ends up skipped.
	finalStatus := internal.MessageProcessed
	if result.Skipped {
		finalStatus = internal.MessageSkipped
	}
	if err := e.db.UpdateMessageStatus(msg.ID, finalStatus); err != nil {
		return result, err
	}
	e.recordRun(msg.ID, start, result.ItemsAdded, analysis)

	zap.L().Info("message processed",
		zap.String("message_id", msg.MessageID),
		zap.String("action", string(analysis.SuggestedAction)),
		zap.String("decision", string(cons.Decision)),
		zap.Int("items_added", result.ItemsAdded),
	)
	return result, nil
}

// handleCollect extends or opens a session and adds any extracted items,
// each scored against the catalog snapshot.
func (e *Engine) handleCollect(msg internal.MessageRow, analysis internal.MessageAnalysis, cons internal.ConsolidationAnalysis, result *ProcessResult) error {
	sess, err := e.sessions.GetActiveSession(msg.ConversationID, msg.ReceivedAt)
	if err != nil {
		return err
	}
	if sess == nil {
		sess, err = e.sessions.CreateSession(msg.ConversationID, msg.DistributorID, msg.ReceivedAt)
		if err != nil {
			return err
		}
		if sess == nil {
			return eris.Errorf("engine: no session for conversation %s", msg.ConversationID)
		}
	}
	result.SessionID = sess.ID

	if _, err := e.sessions.AddMessageToSession(sess.ID, msg.MessageID, true, msg.ReceivedAt); err != nil {
		return err
	}

	added, err := e.addExtractedItems(sess.ID, msg, analysis.Items)
	if err != nil {
		return err
	}
	result.ItemsAdded = added

	if added > 0 && sess.Status == internal.SessionActive {
		if _, err := e.sessions.TransitionStatus(sess.ID, internal.SessionCollecting, msg.ReceivedAt); err != nil {
			return err
		}
	}

	// A finalize verdict from the timing policy closes out the session even
	// without an explicit closing phrase.
	if cons.ShouldCreateOrder {
		return e.closeAndCreateOrder(sess.ID, msg.ReceivedAt, result)
	}
	return nil
}

// handleCorrection cancels the most recent active item and collects any
// replacement items from the same message.
func (e *Engine) handleCorrection(msg internal.MessageRow, analysis internal.MessageAnalysis, result *ProcessResult) error {
	sess, err := e.sessions.GetActiveSession(msg.ConversationID, msg.ReceivedAt)
	if err != nil {
		return err
	}
	if sess == nil {
		// Nothing to correct; treat as a skipped modification.
		result.Skipped = true
		return nil
	}
	result.SessionID = sess.ID

	if _, err := e.sessions.AddMessageToSession(sess.ID, msg.MessageID, true, msg.ReceivedAt); err != nil {
		return err
	}

	items, err := e.sessions.Items(sess.ID, true)
	if err != nil {
		return err
	}
	if len(items) > 0 {
		if err := e.sessions.CancelItem(items[len(items)-1].ID); err != nil {
			return err
		}
	}

	added, err := e.addExtractedItems(sess.ID, msg, analysis.Items)
	if err != nil {
		return err
	}
	result.ItemsAdded = added
	return nil
}

// handleClose consolidates the active session into a pending order.
func (e *Engine) handleClose(msg internal.MessageRow, result *ProcessResult) error {
	sess, err := e.sessions.GetActiveSession(msg.ConversationID, msg.ReceivedAt)
	if err != nil {
		return err
	}
	if sess == nil {
		result.Skipped = true
		return nil
	}
	result.SessionID = sess.ID

	if _, err := e.sessions.AddMessageToSession(sess.ID, msg.MessageID, true, msg.ReceivedAt); err != nil {
		return err
	}
	return e.closeAndCreateOrder(sess.ID, msg.ReceivedAt, result)
}

func (e *Engine) closeAndCreateOrder(sessionID string, now time.Time, result *ProcessResult) error {
	sess, err := e.db.GetSession(sessionID)
	if err != nil {
		return err
	}
	// Collected sessions pass through REVIEWING while the snapshot is built.
	if sess.Status == internal.SessionCollecting {
		if _, err := e.sessions.TransitionStatus(sessionID, internal.SessionReviewing, now); err != nil {
			return err
		}
	}

	req, err := e.sessions.Consolidate(sessionID, now)
	if err != nil {
		return err
	}

	if _, err := e.sessions.TransitionStatus(sessionID, internal.SessionClosed, now); err != nil {
		return err
	}

	if req == nil {
		// Session closed empty; there is no order to create.
		return nil
	}

	orderID := uuid.NewString()
	if err := e.db.InsertOrder(orderID, *req, internal.OrderPending); err != nil {
		return err
	}
	result.OrderID = orderID

	err = e.db.InsertSessionEvent(internal.SessionEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      internal.EventOrderCreated,
		Data:      map[string]any{"orderId": orderID, "total": req.Total, "lines": len(req.Lines)},
		CreatedAt: now,
	})
	if err != nil {
		zap.L().Warn("engine: order event append failed", zap.Error(err))
	}

	zap.L().Info("order created",
		zap.String("order_id", orderID),
		zap.String("session_id", sessionID),
		zap.Float64("total", req.Total),
	)
	return nil
}

func (e *Engine) addExtractedItems(sessionID string, msg internal.MessageRow, items []internal.ExtractedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	snapshot, err := e.catalog.Snapshot()
	if err != nil {
		return 0, eris.Wrap(err, "engine: catalog snapshot")
	}

	added := 0
	for _, extracted := range items {
		item := internal.OrderSessionItem{
			ProductName:     extracted.ProductName,
			Quantity:        extracted.Quantity,
			Unit:            extracted.Unit,
			Confidence:      extracted.Confidence,
			SourceMessageID: msg.MessageID,
			OriginalText:    extracted.OriginalText,
		}

		match := e.matcher.MatchProducts(extracted.ProductName, snapshot)
		if match.BestMatch != nil {
			item.SuggestedCatalogID = &match.BestMatch.ProductID
			item.MatchingConfidence = match.BestMatch.Confidence
			if entry := catalogEntry(snapshot, match.BestMatch.ProductID); entry != nil && entry.Price > 0 {
				price := entry.Price
				total := price * extracted.Quantity
				item.UnitPrice = &price
				item.LineTotal = &total
			}
		}

		if _, err := e.sessions.AddItem(sessionID, item, msg.ReceivedAt); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// conversationHistory classifies the recent message trail so the timing
// policy can tell order chatter from smalltalk.
func (e *Engine) conversationHistory(msg internal.MessageRow) ([]consolidator.MessageStamp, error) {
	rows, err := e.db.ConversationMessagesBefore(msg.ConversationID, msg.ReceivedAt, e.cfg.FrequencyWindow)
	if err != nil {
		return nil, err
	}

	stamps := make([]consolidator.MessageStamp, 0, len(rows))
	for _, row := range rows {
		prior := e.patterns.AnalyzeMessageContext(row.Text)
		stamps = append(stamps, consolidator.MessageStamp{
			At:           row.ReceivedAt,
			OrderRelated: prior.SuggestedAction != internal.ActionNone,
		})
	}
	return stamps, nil
}

// recentOrdersLookup anchors the lookback at the message's receivedAt, so a
// backlog drain sees the orders that were recent when the message arrived.
func (e *Engine) recentOrdersLookup(at time.Time) continuation.RecentOrdersLookup {
	return func(conversationID, customerID string, window time.Duration) ([]internal.RecentOrder, error) {
		return e.db.RecentOrdersByConversation(conversationID, at, window)
	}
}

func (e *Engine) recordRun(messageID int, start time.Time, itemsAdded int, analysis internal.MessageAnalysis) {
	err := e.db.InsertRun(traceID(), messageID,
		map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())},
		map[string]int{
			"extracted": len(analysis.Items),
			"added":     itemsAdded,
			"matches":   len(analysis.Matches),
		})
	if err != nil {
		zap.L().Warn("engine: run accounting failed", zap.Error(err))
	}
}

func traceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

func catalogEntry(snapshot []internal.CatalogEntry, id string) *internal.CatalogEntry {
	for i := range snapshot {
		if snapshot[i].ID == id {
			return &snapshot[i]
		}
	}
	return nil
}
