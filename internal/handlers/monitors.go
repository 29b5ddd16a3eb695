package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"receipt-pipeline/server/internal/chatsession"
	"receipt-pipeline/server/internal/database"
	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
	"receipt-pipeline/server/internal/queue"
	"receipt-pipeline/server/internal/validation"
	"receipt-pipeline/server/internal/workers"
)

// MonitorHandler serves §6's monitor registry endpoints.
type MonitorHandler struct {
	db     *database.DB
	client *chatsession.Client
	queue  *queue.Queue
	pool   *workers.PoolManager
}

func NewMonitorHandler(db *database.DB, client *chatsession.Client, q *queue.Queue, pool *workers.PoolManager) *MonitorHandler {
	return &MonitorHandler{db: db, client: client, queue: q, pool: pool}
}

// HandleListMonitors serves GET /monitors.
func (h *MonitorHandler) HandleListMonitors(c *fiber.Ctx) error {
	monitors, err := h.db.ListMonitors(false)
	if err != nil {
		return err
	}
	return c.JSON(monitors)
}

type updateMonitorRequest struct {
	Enabled         *bool              `json:"enabled"`
	StartFromLatest bool               `json:"start_from_latest"`
	FilterMode      models.FilterMode  `json:"filter_mode"`
	FilterKeywords  []string           `json:"filter_keywords"`
}

// HandleUpdateMonitor serves PUT /monitors/{chat_id}.
func (h *MonitorHandler) HandleUpdateMonitor(c *fiber.Ctx) error {
	chatID, err := strconv.ParseInt(c.Params("chat_id"), 10, 64)
	if err != nil {
		return errors.New(errors.ErrValidationFailed, "chat_id must be an integer")
	}

	var req updateMonitorRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.New(errors.ErrBadRequest, "invalid request body")
	}
	if err := validation.ValidateFilterMode(req.FilterMode); err != nil {
		return err
	}

	if _, err := h.db.GetMonitor(chatID); err != nil {
		seed := int64(0)
		if req.StartFromLatest {
			if latest, ferr := h.client.FetchHistorySince(c.Context(), chatID, 0); ferr == nil && len(latest) > 0 {
				seed = int64(latest[len(latest)-1].MessageID)
			}
		}
		if _, err := h.db.UpsertMonitor(chatID, models.ChatKindUser, nil, req.StartFromLatest, seed); err != nil {
			return err
		}
	}

	if req.Enabled != nil {
		if err := h.db.SetMonitorEnabled(chatID, *req.Enabled); err != nil {
			return err
		}
	}
	if req.FilterMode != "" {
		if err := h.db.SetMonitorFilter(chatID, req.FilterMode, req.FilterKeywords); err != nil {
			return err
		}
	}

	mc, err := h.db.GetMonitor(chatID)
	if err != nil {
		return err
	}
	return c.JSON(mc)
}

// HandleMonitorStatus serves GET /monitor/status.
func (h *MonitorHandler) HandleMonitorStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"running":    h.client.State() == chatsession.StateReady,
		"queue_size": h.queue.Len(),
		"workers":    h.pool.ReceiptProcessor.RunningWorkers(),
	})
}
