// Package storage is the persistence boundary: products, inbound messages,
// orders, sessions, session items, the append-only session event log and
// engine run accounting, all in one sqlite database.
package storage

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/tamosreddi/orders-sub000/internal"
)

// ErrOpenSessionExists maps the partial unique index on open sessions: at
// most one non-CLOSED session per conversation, enforced by the database.
var ErrOpenSessionExists = eris.New("storage: open session already exists for conversation")

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer connection keeps concurrent callers from tripping over
	// sqlite's database-is-locked errors.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  sku TEXT,
  brand TEXT,
  category TEXT,
  unit TEXT,
  price REAL NOT NULL DEFAULT 0,
  stockQty REAL NOT NULL DEFAULT 0,
  inStock INTEGER NOT NULL DEFAULT 1,
  active INTEGER NOT NULL DEFAULT 1,
  aliases TEXT NOT NULL DEFAULT '[]',
  keywords TEXT NOT NULL DEFAULT '[]',
  trainingPhrases TEXT NOT NULL DEFAULT '[]',
  misspellings TEXT NOT NULL DEFAULT '[]',
  sizeVariants TEXT NOT NULL DEFAULT '[]',
  lastSeenAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_products_name ON products(name);
CREATE INDEX IF NOT EXISTS idx_products_sku ON products(sku);

CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  messageId TEXT NOT NULL UNIQUE,
  conversationId TEXT NOT NULL,
  distributorId TEXT NOT NULL,
  customerId TEXT,
  body TEXT NOT NULL,
  receivedAt TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'received',
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversationId, receivedAt);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);

CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  conversationId TEXT NOT NULL,
  distributorId TEXT NOT NULL,
  sessionId TEXT,
  status TEXT NOT NULL DEFAULT 'PENDING',
  total REAL NOT NULL DEFAULT 0,
  requestJson TEXT NOT NULL,
  createdAt TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_orders_conversation ON orders(conversationId, createdAt);

CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  conversationId TEXT NOT NULL,
  distributorId TEXT NOT NULL,
  status TEXT NOT NULL,
  startedAt TEXT NOT NULL,
  lastActivityAt TEXT NOT NULL,
  expiresAt TEXT NOT NULL,
  closedAt TEXT,
  collectedMessageIds TEXT NOT NULL DEFAULT '[]',
  totalMessagesCount INTEGER NOT NULL DEFAULT 0,
  consolidatedSnapshot TEXT,
  confidenceScore REAL NOT NULL DEFAULT 0,
  requiresReview INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open
  ON sessions(conversationId) WHERE status != 'CLOSED';
CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(status, expiresAt);

CREATE TABLE IF NOT EXISTS session_items (
  id TEXT PRIMARY KEY,
  sessionId TEXT NOT NULL,
  productName TEXT NOT NULL,
  quantity REAL NOT NULL,
  unit TEXT,
  unitPrice REAL,
  lineTotal REAL,
  confidence REAL NOT NULL DEFAULT 0,
  sourceMessageId TEXT NOT NULL,
  originalText TEXT,
  suggestedCatalogId TEXT,
  matchingConfidence REAL NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'ACTIVE',
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(sessionId) REFERENCES sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_session_items_session ON session_items(sessionId, status);

CREATE TABLE IF NOT EXISTS session_events (
  id TEXT PRIMARY KEY,
  sessionId TEXT NOT NULL,
  eventType TEXT NOT NULL,
  dataJson TEXT NOT NULL DEFAULT '{}',
  createdAt TEXT NOT NULL,
  FOREIGN KEY(sessionId) REFERENCES sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(sessionId, createdAt);

CREATE TABLE IF NOT EXISTS engine_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  messageId INTEGER,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(messageId) REFERENCES messages(id)
);
`

	_, err := d.conn.Exec(schema)
	return err
}

// --- products ---

func (d *DB) UpsertProducts(entries []internal.CatalogEntry) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return eris.Wrap(err, "storage: begin upsert products")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO products (
  id, name, sku, brand, category, unit, price, stockQty, inStock, active,
  aliases, keywords, trainingPhrases, misspellings, sizeVariants, lastSeenAt
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
  name=excluded.name, sku=excluded.sku, brand=excluded.brand,
  category=excluded.category, unit=excluded.unit, price=excluded.price,
  stockQty=excluded.stockQty, inStock=excluded.inStock, active=excluded.active,
  aliases=excluded.aliases, keywords=excluded.keywords,
  trainingPhrases=excluded.trainingPhrases, misspellings=excluded.misspellings,
  sizeVariants=excluded.sizeVariants, lastSeenAt=CURRENT_TIMESTAMP`)
	if err != nil {
		return eris.Wrap(err, "storage: prepare upsert products")
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.Exec(
			e.ID, e.Name, e.SKU, e.Brand, e.Category, e.Unit, e.Price, e.StockQty,
			boolInt(e.InStock), boolInt(e.Active),
			mustJSON(e.Aliases), mustJSON(e.Keywords), mustJSON(e.TrainingPhrases),
			mustJSON(e.Misspellings), mustJSON(e.SizeVariants),
		)
		if err != nil {
			return eris.Wrapf(err, "storage: upsert product %s", e.ID)
		}
	}

	return tx.Commit()
}

func (d *DB) ListProducts() ([]internal.CatalogEntry, error) {
	rows, err := d.conn.Query(`
SELECT id, name, sku, brand, category, unit, price, stockQty, inStock, active,
       aliases, keywords, trainingPhrases, misspellings, sizeVariants
FROM products ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list products")
	}
	defer rows.Close()

	out := []internal.CatalogEntry{}
	for rows.Next() {
		var e internal.CatalogEntry
		var inStock, active int
		var aliases, keywords, training, misspellings, variants string
		if err := rows.Scan(
			&e.ID, &e.Name, &e.SKU, &e.Brand, &e.Category, &e.Unit, &e.Price,
			&e.StockQty, &inStock, &active,
			&aliases, &keywords, &training, &misspellings, &variants,
		); err != nil {
			return nil, eris.Wrap(err, "storage: scan product")
		}
		e.InStock = inStock != 0
		e.Active = active != 0
		e.Aliases = fromJSONList(aliases)
		e.Keywords = fromJSONList(keywords)
		e.TrainingPhrases = fromJSONList(training)
		e.Misspellings = fromJSONList(misspellings)
		e.SizeVariants = fromJSONList(variants)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- messages ---

func (d *DB) InsertMessage(m internal.MessageRow) (int, error) {
	res, err := d.conn.Exec(`
INSERT INTO messages (messageId, conversationId, distributorId, customerId, body, receivedAt, status)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(messageId) DO NOTHING`,
		m.MessageID, m.ConversationID, m.DistributorID, m.CustomerID, m.Text,
		formatTime(m.ReceivedAt), internal.MessageReceived)
	if err != nil {
		return 0, eris.Wrapf(err, "storage: insert message %s", m.MessageID)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		var id int
		err := d.conn.QueryRow(`SELECT id FROM messages WHERE messageId = ?`, m.MessageID).Scan(&id)
		return id, err
	}
	id, err := res.LastInsertId()
	return int(id), err
}

func (d *DB) MessageByMessageID(messageID string) (internal.MessageRow, error) {
	row := d.conn.QueryRow(`
SELECT id, messageId, conversationId, distributorId, customerId, body, receivedAt, status
FROM messages WHERE messageId = ?`, messageID)
	return scanMessage(row)
}

func (d *DB) ListMessagesByStatus(status string, limit int) ([]internal.MessageRow, error) {
	rows, err := d.conn.Query(`
SELECT id, messageId, conversationId, distributorId, customerId, body, receivedAt, status
FROM messages WHERE status = ? ORDER BY receivedAt LIMIT ?`, status, limit)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list messages")
	}
	defer rows.Close()

	out := []internal.MessageRow{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *DB) UpdateMessageStatus(id int, status string) error {
	res, err := d.conn.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return eris.Wrapf(err, "storage: update message %d status", id)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return eris.Errorf("storage: message %d not found", id)
	}
	return nil
}

// ConversationMessagesBefore returns the conversation's messages received
// inside the window before the given instant, oldest first. Feeds the
// consolidator's timing and frequency heuristics.
func (d *DB) ConversationMessagesBefore(conversationID string, before time.Time, window time.Duration) ([]internal.MessageRow, error) {
	rows, err := d.conn.Query(`
SELECT id, messageId, conversationId, distributorId, customerId, body, receivedAt, status
FROM messages
WHERE conversationId = ? AND receivedAt < ? AND receivedAt >= ?
ORDER BY receivedAt`,
		conversationID, formatTime(before), formatTime(before.Add(-window)))
	if err != nil {
		return nil, eris.Wrap(err, "storage: conversation messages")
	}
	defer rows.Close()

	out := []internal.MessageRow{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- orders ---

func (d *DB) InsertOrder(id string, req internal.OrderRequest, status internal.OrderStatus) error {
	_, err := d.conn.Exec(`
INSERT INTO orders (id, conversationId, distributorId, sessionId, status, total, requestJson, createdAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.ConversationID, req.DistributorID, req.SessionID, string(status),
		req.Total, mustJSONValue(req), formatTime(req.CreatedAt))
	return eris.Wrapf(err, "storage: insert order %s", id)
}

func (d *DB) UpdateOrderStatus(id string, status internal.OrderStatus) error {
	res, err := d.conn.Exec(`
UPDATE orders SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "storage: update order %s", id)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return eris.Errorf("storage: order %s not found", id)
	}
	return nil
}

// RecentOrdersByConversation returns orders created inside the lookback
// window before the reference instant, newest first. Callers draining a
// backlog pass the message's receivedAt, not the wall clock.
func (d *DB) RecentOrdersByConversation(conversationID string, at time.Time, window time.Duration) ([]internal.RecentOrder, error) {
	rows, err := d.conn.Query(`
SELECT id, conversationId, distributorId, status, total, createdAt
FROM orders WHERE conversationId = ? AND createdAt >= ? AND createdAt <= ?
ORDER BY createdAt DESC`,
		conversationID, formatTime(at.Add(-window)), formatTime(at))
	if err != nil {
		return nil, eris.Wrap(err, "storage: recent orders")
	}
	defer rows.Close()

	out := []internal.RecentOrder{}
	for rows.Next() {
		var o internal.RecentOrder
		var status, createdAt string
		if err := rows.Scan(&o.ID, &o.ConversationID, &o.DistributorID, &status, &o.Total, &createdAt); err != nil {
			return nil, eris.Wrap(err, "storage: scan order")
		}
		o.Status = internal.OrderStatus(status)
		o.CreatedAt = parseTime(createdAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- sessions ---

func (d *DB) InsertSession(s internal.OrderSession) error {
	_, err := d.conn.Exec(`
INSERT INTO sessions (
  id, conversationId, distributorId, status, startedAt, lastActivityAt,
  expiresAt, collectedMessageIds, totalMessagesCount, confidenceScore, requiresReview
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ConversationID, s.DistributorID, string(s.Status),
		formatTime(s.StartedAt), formatTime(s.LastActivityAt), formatTime(s.ExpiresAt),
		mustJSON(s.CollectedMessageIDs), s.TotalMessagesCount,
		s.ConfidenceScore, boolInt(s.RequiresReview))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: sessions.conversationId") {
			return ErrOpenSessionExists
		}
		return eris.Wrapf(err, "storage: insert session %s", s.ID)
	}
	return nil
}

func (d *DB) GetSession(id string) (*internal.OrderSession, error) {
	row := d.conn.QueryRow(sessionSelect+` WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("storage: session %s not found", id)
		}
		return nil, err
	}
	return s, nil
}

// GetActiveSession returns the most recent non-expired ACTIVE or COLLECTING
// session for the conversation, or nil when there is none.
func (d *DB) GetActiveSession(conversationID string, now time.Time) (*internal.OrderSession, error) {
	row := d.conn.QueryRow(sessionSelect+`
 WHERE conversationId = ? AND status IN ('ACTIVE', 'COLLECTING') AND expiresAt > ?
 ORDER BY startedAt DESC LIMIT 1`,
		conversationID, formatTime(now))
	s, err := scanSession(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// UpdateSessionOnMessage persists the message linkage written by the session
// manager after it appends a message id in memory.
func (d *DB) UpdateSessionOnMessage(sessionID string, collectedIDs []string, totalMessages int, lastActivityAt, expiresAt time.Time) error {
	res, err := d.conn.Exec(`
UPDATE sessions SET collectedMessageIds = ?, totalMessagesCount = ?, lastActivityAt = ?, expiresAt = ?
WHERE id = ?`,
		mustJSON(collectedIDs), totalMessages, formatTime(lastActivityAt), formatTime(expiresAt), sessionID)
	if err != nil {
		return eris.Wrapf(err, "storage: update session %s on message", sessionID)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return eris.Errorf("storage: session %s not found", sessionID)
	}
	return nil
}

func (d *DB) UpdateSessionStatus(sessionID string, status internal.SessionStatus, closedAt *time.Time) error {
	var closed any
	if closedAt != nil {
		closed = formatTime(*closedAt)
	}
	res, err := d.conn.Exec(`UPDATE sessions SET status = ?, closedAt = ? WHERE id = ?`,
		string(status), closed, sessionID)
	if err != nil {
		return eris.Wrapf(err, "storage: update session %s status", sessionID)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return eris.Errorf("storage: session %s not found", sessionID)
	}
	return nil
}

func (d *DB) SetConsolidatedSnapshot(sessionID, snapshot string, confidence float64, requiresReview bool) error {
	res, err := d.conn.Exec(`
UPDATE sessions SET consolidatedSnapshot = ?, confidenceScore = ?, requiresReview = ? WHERE id = ?`,
		snapshot, confidence, boolInt(requiresReview), sessionID)
	if err != nil {
		return eris.Wrapf(err, "storage: set snapshot on session %s", sessionID)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return eris.Errorf("storage: session %s not found", sessionID)
	}
	return nil
}

// CloseExpiredSessions closes every non-CLOSED session past its expiry and
// returns the ids it touched.
func (d *DB) CloseExpiredSessions(now time.Time) ([]string, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return nil, eris.Wrap(err, "storage: begin expiry sweep")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`SELECT id FROM sessions WHERE status != 'CLOSED' AND expiresAt <= ?`,
		formatTime(now))
	if err != nil {
		return nil, eris.Wrap(err, "storage: select expired sessions")
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "storage: scan expired session id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, tx.Commit()
	}

	if _, err := tx.Exec(`
UPDATE sessions SET status = 'CLOSED', closedAt = ? WHERE status != 'CLOSED' AND expiresAt <= ?`,
		formatTime(now), formatTime(now)); err != nil {
		return nil, eris.Wrap(err, "storage: close expired sessions")
	}

	return ids, tx.Commit()
}

// --- session items ---

func (d *DB) InsertSessionItem(item internal.OrderSessionItem) error {
	_, err := d.conn.Exec(`
INSERT INTO session_items (
  id, sessionId, productName, quantity, unit, unitPrice, lineTotal,
  confidence, sourceMessageId, originalText, suggestedCatalogId,
  matchingConfidence, status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.SessionID, item.ProductName, item.Quantity, item.Unit,
		item.UnitPrice, item.LineTotal, item.Confidence, item.SourceMessageID,
		item.OriginalText, item.SuggestedCatalogID, item.MatchingConfidence,
		string(item.Status))
	return eris.Wrapf(err, "storage: insert session item %s", item.ID)
}

func (d *DB) ListSessionItems(sessionID string, onlyActive bool) ([]internal.OrderSessionItem, error) {
	query := `
SELECT id, sessionId, productName, quantity, unit, unitPrice, lineTotal,
       confidence, sourceMessageId, originalText, suggestedCatalogId,
       matchingConfidence, status
FROM session_items WHERE sessionId = ?`
	if onlyActive {
		query += ` AND status = 'ACTIVE'`
	}
	query += ` ORDER BY rowid`

	rows, err := d.conn.Query(query, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list session items")
	}
	defer rows.Close()

	out := []internal.OrderSessionItem{}
	for rows.Next() {
		var item internal.OrderSessionItem
		var unit, originalText sql.NullString
		var status string
		if err := rows.Scan(
			&item.ID, &item.SessionID, &item.ProductName, &item.Quantity, &unit,
			&item.UnitPrice, &item.LineTotal, &item.Confidence,
			&item.SourceMessageID, &originalText, &item.SuggestedCatalogID,
			&item.MatchingConfidence, &status,
		); err != nil {
			return nil, eris.Wrap(err, "storage: scan session item")
		}
		item.Unit = unit.String
		item.OriginalText = originalText.String
		item.Status = internal.ItemStatus(status)
		out = append(out, item)
	}
	return out, rows.Err()
}

func (d *DB) UpdateSessionItemStatus(itemID string, status internal.ItemStatus) error {
	res, err := d.conn.Exec(`UPDATE session_items SET status = ? WHERE id = ?`, string(status), itemID)
	if err != nil {
		return eris.Wrapf(err, "storage: update session item %s", itemID)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return eris.Errorf("storage: session item %s not found", itemID)
	}
	return nil
}

// --- session events ---

func (d *DB) InsertSessionEvent(e internal.SessionEvent) error {
	_, err := d.conn.Exec(`
INSERT INTO session_events (id, sessionId, eventType, dataJson, createdAt)
VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, string(e.Type), mustJSONValue(e.Data), formatTime(e.CreatedAt))
	return eris.Wrapf(err, "storage: insert session event %s", e.ID)
}

func (d *DB) ListSessionEvents(sessionID string) ([]internal.SessionEvent, error) {
	rows, err := d.conn.Query(`
SELECT id, sessionId, eventType, dataJson, createdAt
FROM session_events WHERE sessionId = ? ORDER BY createdAt, rowid`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list session events")
	}
	defer rows.Close()

	out := []internal.SessionEvent{}
	for rows.Next() {
		var e internal.SessionEvent
		var eventType, dataJSON, createdAt string
		if err := rows.Scan(&e.ID, &e.SessionID, &eventType, &dataJSON, &createdAt); err != nil {
			return nil, eris.Wrap(err, "storage: scan session event")
		}
		e.Type = internal.SessionEventType(eventType)
		e.CreatedAt = parseTime(createdAt)
		_ = json.Unmarshal([]byte(dataJSON), &e.Data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- engine runs ---

func (d *DB) InsertRun(traceID string, messageID int, timings map[string]float64, counts map[string]int) error {
	var msgID any
	if messageID > 0 {
		msgID = messageID
	}
	_, err := d.conn.Exec(`
INSERT INTO engine_runs (traceId, messageId, timingsJson, countsJson)
VALUES (?, ?, ?, ?)`,
		traceID, msgID, mustJSONValue(timings), mustJSONValue(counts))
	return eris.Wrap(err, "storage: insert run")
}

// --- helpers ---

const sessionSelect = `
SELECT id, conversationId, distributorId, status, startedAt, lastActivityAt,
       expiresAt, closedAt, collectedMessageIds, totalMessagesCount,
       consolidatedSnapshot, confidenceScore, requiresReview
FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*internal.OrderSession, error) {
	var s internal.OrderSession
	var status, startedAt, lastActivityAt, expiresAt, collected string
	var closedAt, snapshot sql.NullString
	var requiresReview int
	if err := row.Scan(
		&s.ID, &s.ConversationID, &s.DistributorID, &status, &startedAt,
		&lastActivityAt, &expiresAt, &closedAt, &collected,
		&s.TotalMessagesCount, &snapshot, &s.ConfidenceScore, &requiresReview,
	); err != nil {
		return nil, err
	}
	s.Status = internal.SessionStatus(status)
	s.StartedAt = parseTime(startedAt)
	s.LastActivityAt = parseTime(lastActivityAt)
	s.ExpiresAt = parseTime(expiresAt)
	if closedAt.Valid {
		t := parseTime(closedAt.String)
		s.ClosedAt = &t
	}
	s.CollectedMessageIDs = fromJSONList(collected)
	if snapshot.Valid {
		s.ConsolidatedSnapshot = &snapshot.String
	}
	s.RequiresReview = requiresReview != 0
	return &s, nil
}

func scanMessage(row rowScanner) (internal.MessageRow, error) {
	var m internal.MessageRow
	var customerID sql.NullString
	var receivedAt string
	if err := row.Scan(
		&m.ID, &m.MessageID, &m.ConversationID, &m.DistributorID, &customerID,
		&m.Text, &receivedAt, &m.Status,
	); err != nil {
		return internal.MessageRow{}, eris.Wrap(err, "storage: scan message")
	}
	m.CustomerID = customerID.String
	m.ReceivedAt = parseTime(receivedAt)
	return m, nil
}

// Times are stored as UTC strings with a zero-padded fractional part.
// RFC3339Nano trims trailing zeros, which breaks lexical ordering inside a
// second ('Z' sorts after '.'); the fixed-width layout keeps string
// comparison in SQL chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func mustJSON(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func mustJSONValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func fromJSONList(raw string) []string {
	out := []string{}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
