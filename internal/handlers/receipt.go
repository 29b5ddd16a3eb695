package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"receipt-pipeline/server/internal/capture"
	"receipt-pipeline/server/internal/chatsession"
	"receipt-pipeline/server/internal/database"
	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/validation"
)

// ReceiptHandler serves §6's manual ingestion endpoints: /process-receipt,
// /process-receipt-batch, /processed-status.
type ReceiptHandler struct {
	db        *database.DB
	client    *chatsession.Client
	processor *capture.Processor
}

func NewReceiptHandler(db *database.DB, client *chatsession.Client, processor *capture.Processor) *ReceiptHandler {
	return &ReceiptHandler{db: db, client: client, processor: processor}
}

type processReceiptRequest struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
	Force     bool  `json:"force"`
}

type parsingSummary struct {
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

type processReceiptResponse struct {
	Created     bool           `json:"created"`
	Duplicate   bool           `json:"duplicate"`
	Transaction interface{}    `json:"transaction,omitempty"`
	Parsing     parsingSummary `json:"parsing"`
}

// HandleProcessReceipt serves POST /process-receipt.
func (h *ReceiptHandler) HandleProcessReceipt(c *fiber.Ctx) error {
	var req processReceiptRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.New(errors.ErrBadRequest, "invalid request body")
	}
	if err := validation.ValidateProcessReceiptRequest(req.ChatID, req.MessageID); err != nil {
		return err
	}

	outcome, err := h.processOne(c.Context(), req.ChatID, req.MessageID, req.Force)
	if err != nil {
		return err
	}

	return c.JSON(toProcessReceiptResponse(outcome))
}

type processReceiptBatchRequest struct {
	ChatID     int64   `json:"chat_id"`
	MessageIDs []int64 `json:"message_ids"`
	Force      bool    `json:"force"`
}

type batchItemResult struct {
	MessageID int64                  `json:"message_id"`
	Result    *processReceiptResponse `json:"result,omitempty"`
	Error     *string                `json:"error,omitempty"`
}

// HandleProcessReceiptBatch serves POST /process-receipt-batch.
func (h *ReceiptHandler) HandleProcessReceiptBatch(c *fiber.Ctx) error {
	var req processReceiptBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.New(errors.ErrBadRequest, "invalid request body")
	}
	if err := validation.ValidateBatchMessageIDs(req.ChatID, req.MessageIDs); err != nil {
		return err
	}

	results := make([]batchItemResult, 0, len(req.MessageIDs))
	for _, messageID := range req.MessageIDs {
		outcome, err := h.processOne(c.Context(), req.ChatID, messageID, req.Force)
		if err != nil {
			appErr := toAppErr(err)
			msg := appErr.Message
			results = append(results, batchItemResult{MessageID: messageID, Error: &msg})
			continue
		}
		resp := toProcessReceiptResponse(outcome)
		results = append(results, batchItemResult{MessageID: messageID, Result: &resp})
	}

	return c.JSON(fiber.Map{"results": results})
}

// HandleProcessedStatus serves GET /processed-status?chat_id=&message_ids=.
func (h *ReceiptHandler) HandleProcessedStatus(c *fiber.Ctx) error {
	chatID := c.QueryInt("chat_id", 0)
	if chatID == 0 {
		return errors.New(errors.ErrMissingRequiredField, "chat_id is required")
	}

	ids, err := parseCSVInt64(c.Query("message_ids"))
	if err != nil {
		return errors.New(errors.ErrValidationFailed, "message_ids must be a comma-separated list of integers")
	}

	status := make(map[int64]bool, len(ids))
	for _, id := range ids {
		_, err := h.db.FindTransactionBySource(int64(chatID), id)
		status[id] = err == nil
	}

	return c.JSON(status)
}

// processOne fetches the message's current content from the chat platform
// (the capture loop's cached copy may be stale or may never have seen this
// address, e.g. a message from before the monitor was registered) and runs
// it through the Processor.
func (h *ReceiptHandler) processOne(ctx context.Context, chatID, messageID int64, force bool) (capture.Outcome, error) {
	msg, err := h.client.FetchMessage(ctx, chatID, messageID)
	if err != nil {
		return capture.Outcome{}, err
	}

	outcome := h.processor.ProcessMessage(ctx, chatID, messageID, msg.Text,
		msg.HasDocument, msg.DocumentID, msg.AccessHash, msg.FileReference, msg.MimeType, force)
	if outcome.Err != nil {
		return outcome, outcome.Err
	}
	return outcome, nil
}

func toProcessReceiptResponse(o capture.Outcome) processReceiptResponse {
	return processReceiptResponse{
		Created:     o.Created,
		Duplicate:   o.Duplicate,
		Transaction: o.Transaction,
		Parsing:     parsingSummary{Method: string(o.Method), Confidence: o.Confidence},
	}
}

func parseCSVInt64(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
