// Package queue is the Work Queue: a bounded channel of receipt-processing
// tasks plus an in-flight dedup set, so the same (chat, message) address
// is never handed to two workers concurrently under at-least-once delivery
// from live push and catch-up both observing the same message.
package queue

import (
	"sync"

	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
)

// Task identifies one message to process, carrying enough of its content
// that a worker need not re-fetch it from the chat platform: both the live
// push and catch-up producers already hold this data when they enqueue.
type Task struct {
	ChatID        int64
	MessageID     int64
	Text          string
	HasDocument   bool
	DocumentID    int64
	AccessHash    int64
	FileReference []byte
	MimeType      string
}

type key struct {
	chatID    int64
	messageID int64
}

// TransactionProbe is the cheap single-row check Enqueue runs before handing
// a task to a worker, so a message catch-up re-observes after it was already
// processed short-circuits at enqueue time instead of round-tripping through
// a worker. Satisfied by *database.DB's FindTransactionBySource.
type TransactionProbe interface {
	FindTransactionBySource(chatID, messageID int64) (*models.Transaction, error)
}

// Queue is a bounded channel guarded by an in-flight set; Enqueue is a no-op
// (returns a UniquenessViolation error) if the task's address is already
// pending or being processed.
type Queue struct {
	tasks chan Task
	store TransactionProbe

	mu       sync.Mutex
	inFlight map[key]bool
}

func New(capacity int, store TransactionProbe) *Queue {
	return &Queue{
		tasks:    make(chan Task, capacity),
		inFlight: make(map[key]bool),
		store:    store,
	}
}

// Enqueue adds a task if its address isn't already in flight and the
// transaction store doesn't already hold a row for it. Returns
// errors.New(errors.UniquenessViolation, ...) in either case — callers treat
// that as "already being handled", not a failure.
func (q *Queue) Enqueue(t Task) error {
	k := key{t.ChatID, t.MessageID}

	q.mu.Lock()
	if q.inFlight[k] {
		q.mu.Unlock()
		return errors.New(errors.UniquenessViolation, "task already in flight")
	}
	q.inFlight[k] = true
	q.mu.Unlock()

	if q.store != nil {
		if _, err := q.store.FindTransactionBySource(t.ChatID, t.MessageID); err == nil {
			q.mu.Lock()
			delete(q.inFlight, k)
			q.mu.Unlock()
			return errors.New(errors.UniquenessViolation, "transaction already exists for this address")
		}
	}

	select {
	case q.tasks <- t:
		return nil
	default:
		q.mu.Lock()
		delete(q.inFlight, k)
		q.mu.Unlock()
		return errors.New(errors.TransientStorage, "work queue is full")
	}
}

// Tasks exposes the channel for workers to range over.
func (q *Queue) Tasks() <-chan Task {
	return q.tasks
}

// Done releases a task's in-flight marker once a worker finishes processing
// it, regardless of outcome, so a later delivery of the same message can be
// enqueued again.
func (q *Queue) Done(t Task) {
	q.mu.Lock()
	delete(q.inFlight, key{t.ChatID, t.MessageID})
	q.mu.Unlock()
}

// Len reports the number of tasks currently buffered (not counting tasks
// workers have already dequeued but not yet marked Done).
func (q *Queue) Len() int {
	return len(q.tasks)
}
