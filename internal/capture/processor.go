// Package capture is the Capture Layer: live push handling, the catch-up
// poll loop, the keyword filter predicate, and the per-task processing
// pipeline that ties the parsing cascade, the operator resolver, and the
// Transaction Store together.
package capture

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"receipt-pipeline/server/internal/chatsession"
	"receipt-pipeline/server/internal/database"
	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
	"receipt-pipeline/server/internal/parsing"
	"receipt-pipeline/server/internal/queue"
	"receipt-pipeline/server/internal/resolver"
)

// Processor runs the full per-message pipeline: fetch/download, parse,
// resolve operator, post-validate, and persist, per §4.4/§4.6.
type Processor struct {
	DB       *database.DB
	Client   *chatsession.Client
	Cascade  *parsing.Cascade
	Resolver *resolver.Resolver
	DownloadDir string
}

// Outcome is the per-task result surfaced to HTTP handlers and the cursor
// logic: Created/Duplicate distinguish a fresh insert from a re-probe hit,
// and Err carries the classified AppError on failure (nil on success).
type Outcome struct {
	Created     bool
	Duplicate   bool
	Transaction *models.Transaction
	Method      models.ParsingMethod
	Confidence  float64
	Err         *errors.AppError
}

// ProcessMessage runs the pipeline for one (chat, message) address. force
// bypasses the (chat, message) probe but not the fingerprint probe, per §6.
// accessHash and fileReference are the MTProto document-location fields
// needed to download hasDoc attachments; the caller sources them from the
// originating chatsession.IncomingMessage.
func (p *Processor) ProcessMessage(ctx context.Context, chatID, messageID int64, rawText string, hasDoc bool, documentID, accessHash int64, fileReference []byte, mimeType string, force bool) Outcome {
	if !force {
		if existing, err := p.DB.FindTransactionBySource(chatID, messageID); err == nil {
			return Outcome{Duplicate: true, Transaction: existing}
		}
	}

	taskID := uuid.New().String()
	if _, err := p.DB.UpsertQueuedTask(taskID, chatID, messageID); err != nil {
		return Outcome{Err: toAppErr(err)}
	}
	if err := p.DB.MarkTaskProcessing(chatID, messageID); err != nil {
		return Outcome{Err: toAppErr(err)}
	}

	input := parsing.Input{Text: rawText, ChatID: chatID, MessageID: messageID}

	if hasDoc {
		if mimeType != "application/pdf" {
			appErr := errors.New(errors.ParseFailure, "only PDF attachments are supported")
			p.fail(chatID, messageID, appErr)
			return Outcome{Err: appErr}
		}

		path, err := p.downloadDocument(ctx, documentID, accessHash, fileReference)
		if err != nil {
			appErr := toAppErr(err)
			p.fail(chatID, messageID, appErr)
			return Outcome{Err: appErr}
		}

		input.IsPDF = true
		input.PDFPath = path
		input.MaxPDFPages = 2
	}

	parsed, err := p.Cascade.Run(ctx, input)
	if err != nil {
		appErr := toAppErr(err)
		p.fail(chatID, messageID, appErr)
		return Outcome{Err: appErr}
	}

	resolved := p.Resolver.Resolve(ctx, parsed.OperatorRaw, rawText)
	if resolved.ApplicationName != nil {
		parsed.ApplicationMapped = resolved.ApplicationName
	}
	if resolved.MatchType != resolver.MatchNone {
		parsed.IsP2P = boolPtr(resolved.IsP2P)
	}

	fingerprint := parsing.Fingerprint(parsed.Amount, parsed.TransactionDate, parsed.CardLast4)

	if existing, err := p.DB.FindTransactionByFingerprint(fingerprint); err == nil {
		p.DB.MarkTaskDone(chatID, messageID, existing.ID)
		return Outcome{Duplicate: true, Transaction: existing, Method: parsed.ParsingMethod, Confidence: parsed.ParsingConfidence}
	}

	signedAmount := parsed.Amount
	if parsed.TransactionType == models.TransactionDebit {
		signedAmount = signedAmount.Neg()
	}

	isP2P := false
	if parsed.IsP2P != nil {
		isP2P = *parsed.IsP2P
	}

	tx := models.Transaction{
		RawMessage:        rawText,
		SourceType:        models.SourceAuto,
		SourceChatID:      chatID,
		SourceMessageID:   &messageID,
		TransactionDate:   parsed.TransactionDate,
		Amount:            signedAmount,
		Currency:          parsed.Currency,
		CardLast4:         parsed.CardLast4,
		OperatorRaw:       parsed.OperatorRaw,
		ApplicationMapped: parsed.ApplicationMapped,
		TransactionType:   parsed.TransactionType,
		BalanceAfter:      parsed.BalanceAfter,
		ParsingMethod:     parsed.ParsingMethod,
		ParsingConfidence: &parsed.ParsingConfidence,
		IsGPTParsed:       strings.HasPrefix(string(parsed.ParsingMethod), "GPT"),
		IsP2P:             isP2P,
		Fingerprint:       fingerprint,
	}

	created, err := p.DB.InsertTransaction(tx)
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok && appErr.Code == errors.UniquenessViolation {
			if existing, ferr := p.DB.FindTransactionByFingerprint(fingerprint); ferr == nil {
				p.DB.MarkTaskDone(chatID, messageID, existing.ID)
				return Outcome{Duplicate: true, Transaction: existing, Method: parsed.ParsingMethod, Confidence: parsed.ParsingConfidence}
			}
			if existing, serr := p.DB.FindTransactionBySource(chatID, messageID); serr == nil {
				p.DB.MarkTaskDone(chatID, messageID, existing.ID)
				return Outcome{Duplicate: true, Transaction: existing, Method: parsed.ParsingMethod, Confidence: parsed.ParsingConfidence}
			}
		}
		appErr := toAppErr(err)
		p.fail(chatID, messageID, appErr)
		return Outcome{Err: appErr}
	}

	p.DB.MarkTaskDone(chatID, messageID, created.ID)

	return Outcome{Created: true, Transaction: created, Method: parsed.ParsingMethod, Confidence: parsed.ParsingConfidence}
}

func (p *Processor) fail(chatID, messageID int64, appErr *errors.AppError) {
	reason := appErr.Message
	p.DB.MarkTaskFailed(chatID, messageID, reason)
}

func (p *Processor) downloadDocument(ctx context.Context, documentID, accessHash int64, fileReference []byte) (string, error) {
	return p.Client.DownloadDocumentByLocation(ctx, documentID, accessHash, fileReference, p.DownloadDir)
}

func boolPtr(b bool) *bool {
	return &b
}

func toAppErr(err error) *errors.AppError {
	if appErr, ok := errors.IsAppError(err); ok {
		return appErr
	}
	return errors.New(errors.TransientStorage, err.Error())
}

// defaultFilterKeywords is the fixed receipt-indicator set applied to
// group-style chats when no custom keyword list decides the outcome:
// currency codes, the card-notification brand, and "payment"/"top-up" in
// Russian and the transliterated Uzbek used by the source notifications.
var defaultFilterKeywords = []string{"UZS", "USD", "summa", "karta", "HUMOCARD", "oplata", "Оплата", "Пополнение"}

// MatchesFilter applies a chat's configured keyword filter predicate, per
// §4.3. A document attachment is accepted unconditionally; otherwise empty
// text is rejected, group-style chats (group/supergroup/channel) additionally
// require at least 20 characters and a hit against defaultFilterKeywords
// unless a custom keyword list takes over that role, and private chats skip
// both of those gates. "whitelist" then requires a custom-keyword hit on top
// of that; "blacklist" rejects on a custom-keyword hit and otherwise falls
// through to it; "all" is exactly that condition.
func MatchesFilter(mc models.MonitoredChat, text string, hasDocument bool) bool {
	if hasDocument {
		return true
	}
	if text == "" {
		return false
	}

	isGroupStyle := mc.ChatType == models.ChatKindGroup || mc.ChatType == models.ChatKindSupergroup || mc.ChatType == models.ChatKindChannel
	if isGroupStyle && len(text) < 20 {
		return false
	}
	defaultOrPrivate := !isGroupStyle || containsAnyKeyword(text, defaultFilterKeywords) || containsAnyKeyword(text, mc.FilterKeywords)

	switch mc.FilterMode {
	case models.FilterWhitelist:
		return containsAnyKeyword(text, mc.FilterKeywords) && defaultOrPrivate
	case models.FilterBlacklist:
		if containsAnyKeyword(text, mc.FilterKeywords) {
			return false
		}
		return defaultOrPrivate
	default:
		return defaultOrPrivate
	}
}

func containsAnyKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// ParseFilterKeywords accepts either a JSON array or a comma-separated list,
// matching the prior system's lenient filter_keywords column.
func ParseFilterKeywords(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var kws []string
	if err := json.Unmarshal([]byte(raw), &kws); err == nil {
		return kws
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
