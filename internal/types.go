package internal

import "time"

// MatchType identifies which tier of the product matcher produced a candidate.
type MatchType string

const (
	MatchExact       MatchType = "EXACT"
	MatchAlias       MatchType = "ALIAS"
	MatchMisspelling MatchType = "MISSPELLING"
	MatchKeyword     MatchType = "KEYWORD"
	MatchTraining    MatchType = "TRAINING"
	MatchFuzzyHigh   MatchType = "FUZZY_HIGH"
	MatchFuzzyMed    MatchType = "FUZZY_MED"
	MatchFuzzyLow    MatchType = "FUZZY_LOW"
)

// ConfidenceLevel is the coarse bucket derived from the top candidate confidence.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
	ConfidenceNone   ConfidenceLevel = "NONE"
)

// CatalogEntry is one sellable product as read from the catalog store. The
// matcher treats it as an immutable snapshot row.
type CatalogEntry struct {
	ID              string
	Name            string
	SKU             string
	Brand           string
	Category        string
	Unit            string
	Price           float64
	StockQty        float64
	InStock         bool
	Active          bool
	Aliases         []string
	Keywords        []string
	TrainingPhrases []string
	Misspellings    []string
	SizeVariants    []string
}

type MatchCandidate struct {
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	MatchType   MatchType `json:"matchType"`
	Confidence  float64   `json:"confidence"`
	MatchedText string    `json:"matchedText"`
}

type MatchResult struct {
	Query                 string           `json:"query"`
	Candidates            []MatchCandidate `json:"candidates"`
	BestMatch             *MatchCandidate  `json:"bestMatch"`
	ConfidenceLevel       ConfidenceLevel  `json:"confidenceLevel"`
	RequiresClarification bool             `json:"requiresClarification"`
	SuggestedQuestion     string           `json:"suggestedQuestion,omitempty"`
}

// PatternType labels what a single regex hit means.
type PatternType string

const (
	PatternOrderIntent PatternType = "ORDER_INTENT"
	PatternClosing     PatternType = "CLOSING"
	PatternCorrection  PatternType = "CORRECTION"
	PatternQuantity    PatternType = "QUANTITY"
	PatternProduct     PatternType = "PRODUCT"
)

type PatternMatch struct {
	Type       PatternType
	Confidence float64
	Start      int
	End        int
	Text       string
}

// ExtractedItem is one quantity+product mention pulled out of a message.
type ExtractedItem struct {
	Quantity     float64
	Unit         string
	ProductName  string
	Confidence   float64
	OriginalText string
	Start        int
	End          int
}

// SuggestedAction is the pattern detector's cheap local verdict, computed
// before any storage or network work.
type SuggestedAction string

const (
	ActionCloseSession  SuggestedAction = "CLOSE_SESSION"
	ActionModifySession SuggestedAction = "MODIFY_SESSION"
	ActionStartOrExtend SuggestedAction = "START_OR_EXTEND_SESSION"
	ActionNone          SuggestedAction = "NONE"
)

type MessageAnalysis struct {
	HasOrderIntent    bool
	IntentConfidence  float64
	ClosingDetected   bool
	ClosingConfidence float64
	CorrectionFound   bool
	CorrectionScore   float64
	Matches           []PatternMatch
	Items             []ExtractedItem
	SuggestedAction   SuggestedAction
}

// SessionStatus moves forward only: ACTIVE -> COLLECTING -> REVIEWING -> CLOSED,
// with CLOSED additionally reachable from any state via the timeout sweep.
type SessionStatus string

const (
	SessionActive     SessionStatus = "ACTIVE"
	SessionCollecting SessionStatus = "COLLECTING"
	SessionReviewing  SessionStatus = "REVIEWING"
	SessionClosed     SessionStatus = "CLOSED"
)

type OrderSession struct {
	ID                   string
	ConversationID       string
	DistributorID        string
	Status               SessionStatus
	StartedAt            time.Time
	LastActivityAt       time.Time
	ExpiresAt            time.Time
	ClosedAt             *time.Time
	CollectedMessageIDs  []string
	TotalMessagesCount   int
	ConsolidatedSnapshot *string
	ConfidenceScore      float64
	RequiresReview       bool
}

type ItemStatus string

const (
	ItemActive    ItemStatus = "ACTIVE"
	ItemCancelled ItemStatus = "CANCELLED"
)

// OrderSessionItem rows are append-only: cancellations flip Status, nothing is
// ever deleted.
type OrderSessionItem struct {
	ID                 string
	SessionID          string
	ProductName        string
	Quantity           float64
	Unit               string
	UnitPrice          *float64
	LineTotal          *float64
	Confidence         float64
	SourceMessageID    string
	OriginalText       string
	SuggestedCatalogID *string
	MatchingConfidence float64
	Status             ItemStatus
}

// SessionEventType enumerates the lifecycle events appended to the event log.
type SessionEventType string

const (
	EventSessionStarted SessionEventType = "SESSION_STARTED"
	EventMessageAdded   SessionEventType = "MESSAGE_ADDED"
	EventItemExtracted  SessionEventType = "ITEM_EXTRACTED"
	EventStatusChanged  SessionEventType = "STATUS_CHANGED"
	EventSessionClosed  SessionEventType = "SESSION_CLOSED"
	EventOrderCreated   SessionEventType = "ORDER_CREATED"
)

type SessionEvent struct {
	ID        string
	SessionID string
	Type      SessionEventType
	Data      map[string]any
	CreatedAt time.Time
}

// ConsolidationDecision tells the session manager what to do with the message.
type ConsolidationDecision string

const (
	DecisionConsolidate   ConsolidationDecision = "CONSOLIDATE"
	DecisionNewOrder      ConsolidationDecision = "NEW_ORDER"
	DecisionWaitMore      ConsolidationDecision = "WAIT_MORE"
	DecisionOrderComplete ConsolidationDecision = "ORDER_COMPLETE"
)

// TimingPattern buckets the gap since the previous order-related message.
type TimingPattern string

const (
	TimingRapid  TimingPattern = "rapid"
	TimingNormal TimingPattern = "normal"
	TimingSlow   TimingPattern = "slow"
	TimingPause  TimingPattern = "pause"
)

type ConsolidationAnalysis struct {
	Decision          ConsolidationDecision
	Confidence        float64
	Reasoning         string
	WaitMinutes       *int
	TimingPattern     TimingPattern
	ShouldCreateOrder bool
}

// DetectionMethod says which rule family decided a continuation check.
type DetectionMethod string

const (
	MethodRules         DetectionMethod = "RULES"
	MethodTemporalRules DetectionMethod = "TEMPORAL_RULES"
	MethodError         DetectionMethod = "ERROR"
)

type ContinuationResult struct {
	IsContinuation  bool
	Confidence      float64
	TargetOrderID   *string
	Reasoning       string
	DetectionMethod DetectionMethod
}

// OrderStatus is the lifecycle of a persisted order request. PENDING orders
// are continuation targets; ACCEPTED and REJECTED are hard boundaries.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderAccepted OrderStatus = "ACCEPTED"
	OrderRejected OrderStatus = "REJECTED"
)

type RecentOrder struct {
	ID             string
	ConversationID string
	DistributorID  string
	Status         OrderStatus
	Total          float64
	CreatedAt      time.Time
}

type OrderLine struct {
	ProductName        string   `json:"productName"`
	Quantity           float64  `json:"quantity"`
	Unit               string   `json:"unit,omitempty"`
	UnitPrice          *float64 `json:"unitPrice,omitempty"`
	LineTotal          *float64 `json:"lineTotal,omitempty"`
	SuggestedCatalogID *string  `json:"suggestedCatalogId,omitempty"`
	Confidence         float64  `json:"confidence"`
}

// OrderRequest is the consolidated output of a closed session. The calling
// workflow owns turning it into a real order and all customer messaging.
type OrderRequest struct {
	SessionID        string      `json:"sessionId"`
	ConversationID   string      `json:"conversationId"`
	DistributorID    string      `json:"distributorId"`
	Lines            []OrderLine `json:"lines"`
	Total            float64     `json:"total"`
	SourceMessageIDs []string    `json:"sourceMessageIds"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// Message processing lifecycle, mirrored by the messages table status column.
const (
	MessageReceived  = "received"
	MessageProcessed = "processed"
	MessageSkipped   = "skipped"
)

type MessageRow struct {
	ID             int
	MessageID      string
	ConversationID string
	DistributorID  string
	CustomerID     string
	Text           string
	ReceivedAt     time.Time
	Status         string
}

// IntentSignal is the opaque order-relatedness verdict from the external
// classifier. The engine trusts it as-is and only decides what to do next.
type IntentSignal struct {
	IsOrderRelated bool
	Confidence     float64
}
