package database

import (
	"database/sql"

	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
)

// UpsertQueuedTask records a (chat_id, message_id) as queued, or resets an
// existing failed row back to queued on re-enqueue. A row already in
// processing or done keeps its status (only updated_at is bumped) and is
// returned so the caller can treat it as "already in flight" / "already
// processed".
func (db *DB) UpsertQueuedTask(taskID string, chatID, messageID int64) (*models.ProcessingTask, error) {
	row := db.QueryRow(`
		INSERT INTO receipt_processing_tasks (task_id, chat_id, message_id, status)
		VALUES ($1, $2, $3, 'queued')
		ON CONFLICT (chat_id, message_id) DO UPDATE SET
			status = CASE WHEN receipt_processing_tasks.status = 'failed' THEN 'queued' ELSE receipt_processing_tasks.status END,
			updated_at = now()
		RETURNING id, task_id, chat_id, message_id, status, transaction_id, error, created_at, updated_at`,
		taskID, chatID, messageID)

	return scanProcessingTask(row)
}

func (db *DB) MarkTaskProcessing(chatID, messageID int64) error {
	_, err := db.Exec(`UPDATE receipt_processing_tasks SET status = 'processing', updated_at = now()
		WHERE chat_id = $1 AND message_id = $2`, chatID, messageID)
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	return nil
}

func (db *DB) MarkTaskDone(chatID, messageID, transactionID int64) error {
	_, err := db.Exec(`UPDATE receipt_processing_tasks SET status = 'done', transaction_id = $3, error = NULL, updated_at = now()
		WHERE chat_id = $1 AND message_id = $2`, chatID, messageID, transactionID)
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	return nil
}

func (db *DB) MarkTaskFailed(chatID, messageID int64, reason string) error {
	_, err := db.Exec(`UPDATE receipt_processing_tasks SET status = 'failed', error = $3, updated_at = now()
		WHERE chat_id = $1 AND message_id = $2`, chatID, messageID, reason)
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	return nil
}

func (db *DB) FindTask(chatID, messageID int64) (*models.ProcessingTask, error) {
	row := db.QueryRow(`
		SELECT id, task_id, chat_id, message_id, status, transaction_id, error, created_at, updated_at
		FROM receipt_processing_tasks WHERE chat_id = $1 AND message_id = $2`,
		chatID, messageID)
	return scanProcessingTask(row)
}

func scanProcessingTask(row *sql.Row) (*models.ProcessingTask, error) {
	var t models.ProcessingTask
	var transactionID sql.NullInt64
	var taskErr sql.NullString

	err := row.Scan(&t.ID, &t.TaskID, &t.ChatID, &t.MessageID, &t.Status, &transactionID, &taskErr, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.NotFound, "processing task not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientStorage)
	}

	t.TransactionID = NullInt64ToPtr(transactionID)
	if taskErr.Valid {
		t.Error = &taskErr.String
	}

	return &t, nil
}
