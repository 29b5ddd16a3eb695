package capture

import (
	"context"

	"go.uber.org/zap"

	"receipt-pipeline/server/internal/queue"
	"receipt-pipeline/server/internal/workers"
)

// Dispatcher drains the Work Queue onto the receipt worker pool, running
// each task through the Processor and advancing the monitor cursor only on
// a permanent outcome, per AdvanceCursor's calling convention.
type Dispatcher struct {
	Queue     *queue.Queue
	Processor *Processor
	Pool      *workers.PoolManager
	Log       *zap.Logger
}

// Run drains tasks until ctx is cancelled, submitting each to the receipt
// worker pool so slow parses don't block the queue consumer goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-d.Queue.Tasks():
			if !ok {
				return
			}
			d.Pool.SubmitReceiptTask(func() {
				defer d.Queue.Done(task)
				d.processOne(ctx, task)
			})
		}
	}
}

func (d *Dispatcher) processOne(ctx context.Context, task queue.Task) {
	outcome := d.Processor.ProcessMessage(ctx, task.ChatID, task.MessageID, task.Text,
		task.HasDocument, task.DocumentID, task.AccessHash, task.FileReference, task.MimeType, false)

	if outcome.Duplicate {
		return
	}

	if outcome.Err == nil {
		if err := d.Processor.DB.AdvanceCursor(task.ChatID, task.MessageID, nil); err != nil {
			d.Log.Warn("failed to advance monitor cursor", zap.Int64("chat_id", task.ChatID), zap.Error(err))
		}
		return
	}

	appErr := outcome.Err
	if appErr.Permanent() {
		msg := appErr.Message
		if err := d.Processor.DB.AdvanceCursor(task.ChatID, task.MessageID, &msg); err != nil {
			d.Log.Warn("failed to advance monitor cursor past permanent failure", zap.Int64("chat_id", task.ChatID), zap.Error(err))
		}
		return
	}

	d.Log.Info("transient processing failure, leaving cursor for retry",
		zap.Int64("chat_id", task.ChatID), zap.Int64("message_id", task.MessageID),
		zap.String("code", string(appErr.Code)))
}
