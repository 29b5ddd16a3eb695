package queue

import (
	"testing"

	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
)

func TestEnqueue_DedupsInFlight(t *testing.T) {
	q := New(4, nil)
	task := Task{ChatID: 1, MessageID: 100, Text: "hello"}

	if err := q.Enqueue(task); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}

	err := q.Enqueue(task)
	if err == nil {
		t.Fatal("expected second Enqueue of the same address to fail")
	}
	appErr, ok := errors.IsAppError(err)
	if !ok || appErr.Code != errors.UniquenessViolation {
		t.Errorf("expected UniquenessViolation, got %v", err)
	}
}

func TestEnqueue_DifferentMessageIDsBothSucceed(t *testing.T) {
	q := New(4, nil)
	if err := q.Enqueue(Task{ChatID: 1, MessageID: 100}); err != nil {
		t.Fatalf("Enqueue(100) failed: %v", err)
	}
	if err := q.Enqueue(Task{ChatID: 1, MessageID: 101}); err != nil {
		t.Fatalf("Enqueue(101) failed: %v", err)
	}
	if got := q.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestDone_ReleasesInFlightSlot(t *testing.T) {
	q := New(4, nil)
	task := Task{ChatID: 1, MessageID: 100}

	if err := q.Enqueue(task); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	<-q.Tasks()
	q.Done(task)

	if err := q.Enqueue(task); err != nil {
		t.Fatalf("re-Enqueue after Done should succeed, got: %v", err)
	}
}

func TestEnqueue_FullQueueReturnsTransientError(t *testing.T) {
	q := New(1, nil)
	if err := q.Enqueue(Task{ChatID: 1, MessageID: 1}); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}

	err := q.Enqueue(Task{ChatID: 1, MessageID: 2})
	if err == nil {
		t.Fatal("expected Enqueue on a full queue to fail")
	}
	appErr, ok := errors.IsAppError(err)
	if !ok || appErr.Code != errors.TransientStorage {
		t.Errorf("expected TransientStorage, got %v", err)
	}
}

// fakeProbe stands in for *database.DB's FindTransactionBySource.
type fakeProbe struct {
	has map[key]bool
}

func (f *fakeProbe) FindTransactionBySource(chatID, messageID int64) (*models.Transaction, error) {
	if f.has[key{chatID, messageID}] {
		return &models.Transaction{SourceChatID: chatID}, nil
	}
	return nil, errors.New(errors.NotFound, "no transaction for this address")
}

func TestEnqueue_RejectsAddressAlreadyInTransactionStore(t *testing.T) {
	probe := &fakeProbe{has: map[key]bool{{1, 100}: true}}
	q := New(4, probe)

	err := q.Enqueue(Task{ChatID: 1, MessageID: 100})
	if err == nil {
		t.Fatal("expected Enqueue to reject an address already present in the transaction store")
	}
	appErr, ok := errors.IsAppError(err)
	if !ok || appErr.Code != errors.UniquenessViolation {
		t.Errorf("expected UniquenessViolation, got %v", err)
	}
	if got := q.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0 (task should not have been queued)", got)
	}
}

func TestEnqueue_AllowsNewAddressWithStoreProbe(t *testing.T) {
	probe := &fakeProbe{has: map[key]bool{}}
	q := New(4, probe)

	if err := q.Enqueue(Task{ChatID: 1, MessageID: 200}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if got := q.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}
