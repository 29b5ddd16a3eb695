package capture

import (
	"context"
	"time"

	"go.uber.org/zap"

	"receipt-pipeline/server/internal/chatsession"
	"receipt-pipeline/server/internal/database"
	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
	"receipt-pipeline/server/internal/queue"
)

// Loop owns the live-push handler registration and the catch-up poll ticker,
// feeding both into the Work Queue for the worker pool to drain. Grounded on
// tg_auto_monitor_service.py's _handle_new_message/_catchup_loop split: live
// push and catch-up are independent producers guarded by the same in-flight
// dedup set, since at-least-once delivery means both can observe one message.
type Loop struct {
	DB     *database.DB
	Client *chatsession.Client
	Queue  *queue.Queue
	Log    *zap.Logger

	CatchupInterval time.Duration
}

// Start registers the live-push handler and launches the catch-up ticker.
// It returns immediately; both run until ctx is cancelled.
func (l *Loop) Start(ctx context.Context) {
	l.Client.OnMessage(l.handleLive)
	go l.catchupLoop(ctx)
}

func (l *Loop) handleLive(ctx context.Context, msg chatsession.IncomingMessage) {
	mc, err := l.DB.GetMonitor(msg.ChatID)
	if err != nil || !mc.Enabled {
		return
	}
	if int64(msg.MessageID) <= mc.LastProcessedMessageID {
		return
	}
	if !MatchesFilter(*mc, msg.Text, msg.HasDocument) {
		return
	}

	l.enqueue(msg)
}

// catchupLoop wakes every CatchupInterval and walks each enabled monitor's
// history from its cursor forward, per §4.3. It is a safety net for messages
// the live push missed (reconnects, startup gaps), not the primary path.
func (l *Loop) catchupLoop(ctx context.Context) {
	interval := l.CatchupInterval
	if interval < 15*time.Second {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runCatchupOnce(ctx)
		}
	}
}

func (l *Loop) runCatchupOnce(ctx context.Context) {
	monitors, err := l.DB.ListMonitors(true)
	if err != nil {
		l.Log.Warn("catch-up: failed to list monitors", zap.Error(err))
		return
	}

	for _, mc := range monitors {
		l.catchupChat(ctx, mc)
	}
}

func (l *Loop) catchupChat(ctx context.Context, mc models.MonitoredChat) {
	msgs, err := l.Client.FetchHistorySince(ctx, mc.ChatID, mc.LastProcessedMessageID)
	if err != nil {
		l.Log.Warn("catch-up: history fetch failed", zap.Int64("chat_id", mc.ChatID), zap.Error(err))
		return
	}

	for _, msg := range msgs {
		if !MatchesFilter(mc, msg.Text, msg.HasDocument) {
			continue
		}
		l.enqueue(msg)
	}
}

func (l *Loop) enqueue(msg chatsession.IncomingMessage) {
	task := queue.Task{
		ChatID:        msg.ChatID,
		MessageID:     int64(msg.MessageID),
		Text:          msg.Text,
		HasDocument:   msg.HasDocument,
		DocumentID:    msg.DocumentID,
		AccessHash:    msg.AccessHash,
		FileReference: msg.FileReference,
		MimeType:      msg.MimeType,
	}

	err := l.Queue.Enqueue(task)
	if err == nil {
		return
	}
	if appErr, ok := errors.IsAppError(err); ok && appErr.Code == errors.UniquenessViolation {
		return
	}
	l.Log.Warn("capture: enqueue failed", zap.Int64("chat_id", msg.ChatID), zap.Int64("message_id", int64(msg.MessageID)), zap.Error(err))
}
