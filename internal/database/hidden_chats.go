package database

import (
	"receipt-pipeline/server/internal/errors"
)

func (db *DB) HideChat(chatID int64, titleSnapshot *string) error {
	_, err := db.Exec(`
		INSERT INTO hidden_bot_chats (chat_id, title_snapshot)
		VALUES ($1, $2)
		ON CONFLICT (chat_id) DO UPDATE SET title_snapshot = $2`,
		chatID, titleSnapshot)
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	return nil
}

func (db *DB) UnhideChat(chatID int64) error {
	_, err := db.Exec(`DELETE FROM hidden_bot_chats WHERE chat_id = $1`, chatID)
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	return nil
}

func (db *DB) ListHiddenChatIDs() (map[int64]bool, error) {
	rows, err := db.Query(`SELECT chat_id FROM hidden_bot_chats`)
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientStorage)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.TransientStorage)
		}
		out[id] = true
	}
	return out, nil
}
