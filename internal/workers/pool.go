// Package workers adapts the receipt-processing pool: a bounded pond.Pool
// consuming the Work Queue, plus a general pool for other background tasks
// (the catch-up loop runs on its own goroutine, not on this pool).
package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/alitto/pond"
)

type PoolManager struct {
	ReceiptProcessor *pond.WorkerPool
	GeneralPool      *pond.WorkerPool
}

type PoolConfig struct {
	ReceiptWorkers int
	Workers        int
}

func NewPoolManager(config PoolConfig) *PoolManager {
	return &PoolManager{
		ReceiptProcessor: pond.New(
			config.ReceiptWorkers,
			config.ReceiptWorkers*4,
			pond.MinWorkers(1),
			pond.IdleTimeout(30*time.Second),
		),
		GeneralPool: pond.New(
			config.Workers,
			config.Workers*2,
			pond.MinWorkers(1),
			pond.IdleTimeout(30*time.Second),
		),
	}
}

func (pm *PoolManager) SubmitReceiptTask(task func()) {
	pm.ReceiptProcessor.Submit(task)
}

func (pm *PoolManager) SubmitTask(task func()) {
	pm.GeneralPool.Submit(task)
}

func (pm *PoolManager) SubmitReceiptTaskWithTimeout(ctx context.Context, task func(), timeout time.Duration) error {
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	taskChan := make(chan struct{}, 1)

	pm.ReceiptProcessor.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("receipt task panicked", "error", r)
			}
			taskChan <- struct{}{}
		}()
		task()
	})

	select {
	case <-taskChan:
		return nil
	case <-taskCtx.Done():
		return taskCtx.Err()
	}
}

func (pm *PoolManager) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"receipt_pool": map[string]interface{}{
			"running_workers":  pm.ReceiptProcessor.RunningWorkers(),
			"idle_workers":     pm.ReceiptProcessor.IdleWorkers(),
			"submitted_tasks":  pm.ReceiptProcessor.SubmittedTasks(),
			"waiting_tasks":    pm.ReceiptProcessor.WaitingTasks(),
			"successful_tasks": pm.ReceiptProcessor.SuccessfulTasks(),
			"failed_tasks":     pm.ReceiptProcessor.FailedTasks(),
		},
		"general_pool": map[string]interface{}{
			"running_workers":  pm.GeneralPool.RunningWorkers(),
			"idle_workers":     pm.GeneralPool.IdleWorkers(),
			"submitted_tasks":  pm.GeneralPool.SubmittedTasks(),
			"waiting_tasks":    pm.GeneralPool.WaitingTasks(),
			"successful_tasks": pm.GeneralPool.SuccessfulTasks(),
			"failed_tasks":     pm.GeneralPool.FailedTasks(),
		},
	}
}

func (pm *PoolManager) Shutdown() {
	slog.Info("shutting down worker pools")
	pm.ReceiptProcessor.StopAndWait()
	slog.Info("receipt processor pool stopped")
	pm.GeneralPool.StopAndWait()
	slog.Info("general pool stopped")
}
