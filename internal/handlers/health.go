package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"receipt-pipeline/server/internal/chatsession"
	"receipt-pipeline/server/internal/config"
	"receipt-pipeline/server/internal/database"
	"receipt-pipeline/server/internal/workers"
)

// HealthHandler reports the pipeline's own health: chat-session auth state,
// database reachability, and worker pool stats.
type HealthHandler struct {
	config      *config.Config
	db          *database.DB
	client      *chatsession.Client
	poolManager *workers.PoolManager
}

func NewHealthHandler(cfg *config.Config, db *database.DB, client *chatsession.Client, poolManager *workers.PoolManager) *HealthHandler {
	return &HealthHandler{config: cfg, db: db, client: client, poolManager: poolManager}
}

func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	dbStatus := "healthy"
	if err := h.db.PingContext(c.Context()); err != nil {
		dbStatus = "unhealthy"
	}

	return c.JSON(fiber.Map{
		"status":       "ok",
		"message":      "receipt pipeline is running",
		"timestamp":    time.Now(),
		"environment":  h.config.Server.Environment,
		"chat_session": h.client.State(),
		"database":     dbStatus,
		"worker_stats": h.poolManager.GetStats(),
	})
}
