package database

import (
	"receipt-pipeline/server/internal/errors"
)

// InsertParsingLog appends a diagnostic record of one cascade stage attempt.
// Supplemented from the prior system's per-stage log table; write-only and
// never read by the pipeline itself, only by operators debugging a miss.
func (db *DB) InsertParsingLog(chatID, messageID int64, stage, outcome string, confidence *float64, durationMillis int64) error {
	_, err := db.Exec(`
		INSERT INTO parsing_logs (chat_id, message_id, stage, outcome, confidence, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		chatID, messageID, stage, outcome, nullableFloat(confidence), durationMillis)
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	return nil
}
