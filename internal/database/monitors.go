package database

import (
	"database/sql"
	"encoding/json"

	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
)

// UpsertMonitor registers a chat for monitoring. When startFromLatest is
// true and the chat is new, last_processed_message_id seeds from
// seedMessageID (the chat's current newest message id) so history before
// registration is never swept up by catch-up.
func (db *DB) UpsertMonitor(chatID int64, chatType models.ChatKind, chatTitle *string, startFromLatest bool, seedMessageID int64) (*models.MonitoredChat, error) {
	seed := int64(0)
	if startFromLatest {
		seed = seedMessageID
	}

	row := db.QueryRow(`
		INSERT INTO monitored_bot_chats (chat_id, enabled, last_processed_message_id, chat_type, chat_title)
		VALUES ($1, true, $2, $3, $4)
		ON CONFLICT (chat_id) DO UPDATE SET enabled = true, chat_title = COALESCE($4, monitored_bot_chats.chat_title), updated_at = now()
		RETURNING chat_id, enabled, last_processed_message_id, last_error, chat_type, filter_mode, filter_keywords, chat_title, created_at, updated_at`,
		chatID, seed, chatType, chatTitle)

	return scanMonitoredChat(row)
}

func (db *DB) SetMonitorEnabled(chatID int64, enabled bool) error {
	res, err := db.Exec(`UPDATE monitored_bot_chats SET enabled = $2, updated_at = now() WHERE chat_id = $1`, chatID, enabled)
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New(errors.NotFound, "monitor not found")
	}
	return nil
}

func (db *DB) SetMonitorFilter(chatID int64, mode models.FilterMode, keywords []string) error {
	raw, err := json.Marshal(keywords)
	if err != nil {
		return errors.Wrap(err, errors.ErrValidationFailed)
	}
	res, err := db.Exec(`UPDATE monitored_bot_chats SET filter_mode = $2, filter_keywords = $3, updated_at = now() WHERE chat_id = $1`,
		chatID, mode, string(raw))
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New(errors.NotFound, "monitor not found")
	}
	return nil
}

// AdvanceCursor moves last_processed_message_id forward using GREATEST so
// concurrent live-push and catch-up updates for the same chat never regress
// the cursor. Callers must only invoke this on permanent outcomes (success
// or a permanent parse/resolve failure); transient failures must leave the
// cursor untouched so catch-up retries the message.
func (db *DB) AdvanceCursor(chatID, messageID int64, lastError *string) error {
	_, err := db.Exec(`
		UPDATE monitored_bot_chats
		SET last_processed_message_id = GREATEST(last_processed_message_id, $2),
		    last_error = $3,
		    updated_at = now()
		WHERE chat_id = $1`,
		chatID, messageID, nullableString(lastError))
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	return nil
}

func (db *DB) GetMonitor(chatID int64) (*models.MonitoredChat, error) {
	row := db.QueryRow(`
		SELECT chat_id, enabled, last_processed_message_id, last_error, chat_type, filter_mode, filter_keywords, chat_title, created_at, updated_at
		FROM monitored_bot_chats WHERE chat_id = $1`, chatID)
	return scanMonitoredChat(row)
}

func (db *DB) ListMonitors(enabledOnly bool) ([]models.MonitoredChat, error) {
	query := `SELECT chat_id, enabled, last_processed_message_id, last_error, chat_type, filter_mode, filter_keywords, chat_title, created_at, updated_at
		FROM monitored_bot_chats`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY chat_id`

	rows, err := db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientStorage)
	}
	defer rows.Close()

	var out []models.MonitoredChat
	for rows.Next() {
		mc, err := scanMonitoredChatRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *mc)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMonitoredChat(row *sql.Row) (*models.MonitoredChat, error) {
	return scanMonitoredChatRow(row)
}

func scanMonitoredChatRow(row rowScanner) (*models.MonitoredChat, error) {
	var mc models.MonitoredChat
	var lastError, chatTitle, filterKeywords sql.NullString

	err := row.Scan(&mc.ChatID, &mc.Enabled, &mc.LastProcessedMessageID, &lastError,
		&mc.ChatType, &mc.FilterMode, &filterKeywords, &chatTitle, &mc.CreatedAt, &mc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.NotFound, "monitor not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientStorage)
	}

	if lastError.Valid {
		mc.LastError = &lastError.String
	}
	if chatTitle.Valid {
		mc.ChatTitle = &chatTitle.String
	}
	if filterKeywords.Valid && filterKeywords.String != "" {
		var kws []string
		if json.Unmarshal([]byte(filterKeywords.String), &kws) == nil {
			mc.FilterKeywords = kws
		}
	}

	return &mc, nil
}
