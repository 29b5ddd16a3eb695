// Package models defines the canonical records persisted by the receipt
// ingestion pipeline: Transaction, ProcessingTask, MonitoredChat,
// OperatorReference, HiddenChat, and the diagnostic ParsingLog trail.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceType tags how a Transaction entered the store.
type SourceType string

const (
	SourceAuto   SourceType = "AUTO"
	SourceManual SourceType = "MANUAL"
)

// TransactionType is the canonical classification of a parsed receipt.
type TransactionType string

const (
	TransactionDebit      TransactionType = "DEBIT"
	TransactionCredit     TransactionType = "CREDIT"
	TransactionConversion TransactionType = "CONVERSION"
	TransactionReversal   TransactionType = "REVERSAL"
)

// ParsingMethod is the fixed set of cascade stages that can produce a record.
type ParsingMethod string

const (
	MethodRegexHumo      ParsingMethod = "REGEX_HUMO"
	MethodRegexSMS       ParsingMethod = "REGEX_SMS"
	MethodRegexSemicolon ParsingMethod = "REGEX_SEMICOLON"
	MethodRegexCardxabar ParsingMethod = "REGEX_CARDXABAR"
	MethodGPT            ParsingMethod = "GPT"
	MethodGPTVision      ParsingMethod = "GPT_VISION"
)

// Transaction is the append-only canonical record. (chat id, message id) is
// unique when both are non-null; fingerprint is unique; amount sign agrees
// with transaction type; parsing_confidence is in [0,1].
type Transaction struct {
	ID                int64
	UUID              uuid.UUID
	RawMessage        string
	SourceType        SourceType
	SourceChatID      int64
	SourceMessageID   *int64
	TransactionDate   time.Time
	Amount            decimal.Decimal
	Currency          string
	CardLast4         string
	OperatorRaw       string
	ApplicationMapped *string
	TransactionType   TransactionType
	BalanceAfter      *decimal.Decimal
	ReceiverName      *string
	ReceiverCard      *string
	ParsingMethod     ParsingMethod
	ParsingConfidence *float64
	IsGPTParsed       bool
	IsP2P             bool
	Fingerprint       string
	ParsedAt          time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProcessingTaskStatus is the state machine for a ProcessingTask row.
type ProcessingTaskStatus string

const (
	TaskQueued     ProcessingTaskStatus = "queued"
	TaskProcessing ProcessingTaskStatus = "processing"
	TaskDone       ProcessingTaskStatus = "done"
	TaskFailed     ProcessingTaskStatus = "failed"
)

// ProcessingTask is one row per (chat_id, message_id) the pipeline ever
// attempts. Uniqueness on (chat_id, message_id); transitions are monotone
// forward except failed -> queued on re-enqueue.
type ProcessingTask struct {
	ID            int64
	TaskID        string
	ChatID        int64
	MessageID     int64
	Status        ProcessingTaskStatus
	TransactionID *int64
	Error         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FilterMode controls how the Capture Layer's keyword predicate behaves.
type FilterMode string

const (
	FilterAll       FilterMode = "all"
	FilterWhitelist FilterMode = "whitelist"
	FilterBlacklist FilterMode = "blacklist"
)

// ChatKind is the collapsed external chat-type tag the Chat-Session Manager
// exposes; it hides the native platform's richer type taxonomy.
type ChatKind string

const (
	ChatKindBot        ChatKind = "bot"
	ChatKindUser       ChatKind = "user"
	ChatKindGroup      ChatKind = "group"
	ChatKindSupergroup ChatKind = "supergroup"
	ChatKindChannel    ChatKind = "channel"
)

// MonitoredChat is one row per watched conversation. last_processed_message_id
// is monotonically non-decreasing; it is the pipeline's lower bound on the
// set of message ids still to consider.
type MonitoredChat struct {
	ChatID                 int64
	Enabled                bool
	LastProcessedMessageID int64
	LastError              *string
	ChatType               ChatKind
	FilterMode             FilterMode
	FilterKeywords         []string
	ChatTitle              *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// OperatorReference is a dictionary row mapping a normalized operator string
// to an application name. Uniqueness on (operator_name, application_name).
type OperatorReference struct {
	ID              int64
	OperatorName    string
	ApplicationName string
	IsP2P           bool
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HiddenChat excludes a chat id from default listings; a pure view filter.
type HiddenChat struct {
	ChatID       int64
	TitleSnapshot *string
	HiddenAt     time.Time
}

// ParsingLog is a write-only diagnostic trail of cascade stage attempts,
// useful for reconstructing how a message resolved without instrumenting
// metrics outside this pipeline's scope.
type ParsingLog struct {
	ID             int64
	ChatID         int64
	MessageID      int64
	Stage          string
	Outcome        string
	Confidence     *float64
	DurationMillis int64
	CreatedAt      time.Time
}

// ErrorResponse is the JSON envelope every handler error maps onto.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	Code      int         `json:"code"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

// ParsedReceipt is the tagged-variant outcome of the parsing cascade,
// carrying the method tag and confidence explicitly rather than as string
// flags threaded through sequential branches.
type ParsedReceipt struct {
	Amount            decimal.Decimal
	Currency          string
	TransactionType   TransactionType
	CardLast4         string
	OperatorRaw       string
	TransactionDate   time.Time
	BalanceAfter      *decimal.Decimal
	ApplicationMapped *string
	IsP2P             *bool
	ParsingMethod     ParsingMethod
	ParsingConfidence float64
}
