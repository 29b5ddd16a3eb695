package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitReceiptTask_RunsSubmittedWork(t *testing.T) {
	pm := NewPoolManager(PoolConfig{ReceiptWorkers: 2, Workers: 2})
	defer pm.Shutdown()

	var ran int32
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		pm.SubmitReceiptTask(func() {
			atomic.AddInt32(&ran, 1)
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for submitted receipt tasks to run")
	}

	if got := atomic.LoadInt32(&ran); got != 5 {
		t.Errorf("ran = %d, want 5", got)
	}
}

func TestSubmitReceiptTaskWithTimeout_TimesOut(t *testing.T) {
	pm := NewPoolManager(PoolConfig{ReceiptWorkers: 1, Workers: 1})
	defer pm.Shutdown()

	err := pm.SubmitReceiptTaskWithTimeout(context.Background(), func() {
		time.Sleep(200 * time.Millisecond)
	}, 10*time.Millisecond)

	if err == nil {
		t.Error("expected a timeout error for a task that outlives its deadline")
	}
}

func TestGetStats_ReportsBothPools(t *testing.T) {
	pm := NewPoolManager(PoolConfig{ReceiptWorkers: 1, Workers: 1})
	defer pm.Shutdown()

	stats := pm.GetStats()
	if _, ok := stats["receipt_pool"]; !ok {
		t.Error("expected GetStats to report receipt_pool")
	}
	if _, ok := stats["general_pool"]; !ok {
		t.Error("expected GetStats to report general_pool")
	}
}
