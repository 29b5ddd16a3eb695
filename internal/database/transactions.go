package database

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
)

// InsertTransaction persists a new Transaction. Per §3, two uniqueness keys
// guard against double-write under at-least-once delivery: (source_chat_id,
// source_message_id) and fingerprint. A conflict on either is reported as
// UniquenessViolation so the caller can treat it as "already recorded"
// rather than a processing failure.
func (db *DB) InsertTransaction(tx models.Transaction) (*models.Transaction, error) {
	if tx.UUID == uuid.Nil {
		tx.UUID = uuid.New()
	}

	row := db.QueryRow(`
		INSERT INTO transactions (
			uuid, raw_message, source_type, source_chat_id, source_message_id,
			transaction_date, amount, currency, card_last_4, operator_raw,
			application_mapped, transaction_type, balance_after,
			receiver_name, receiver_card, parsing_method, parsing_confidence,
			is_gpt_parsed, is_p2p, fingerprint
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING id, parsed_at, created_at, updated_at`,
		tx.UUID, tx.RawMessage, tx.SourceType, tx.SourceChatID, PtrToNullInt64(tx.SourceMessageID),
		tx.TransactionDate, tx.Amount, tx.Currency, tx.CardLast4, tx.OperatorRaw,
		nullableString(tx.ApplicationMapped), tx.TransactionType, nullableDecimal(tx.BalanceAfter),
		nullableString(tx.ReceiverName), nullableString(tx.ReceiverCard), tx.ParsingMethod, nullableFloat(tx.ParsingConfidence),
		tx.IsGPTParsed, tx.IsP2P, tx.Fingerprint,
	)

	if err := row.Scan(&tx.ID, &tx.ParsedAt, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, errors.New(errors.UniquenessViolation, "transaction already recorded")
		}
		return nil, errors.Wrap(err, errors.TransientStorage)
	}

	return &tx, nil
}

// FindTransactionBySource looks up a transaction by its (chat, message)
// address, used to answer GET /processed-status without re-parsing.
func (db *DB) FindTransactionBySource(chatID, messageID int64) (*models.Transaction, error) {
	row := db.QueryRow(`
		SELECT id, uuid, raw_message, source_type, source_chat_id, source_message_id,
		       transaction_date, amount, currency, card_last_4, operator_raw,
		       application_mapped, transaction_type, balance_after,
		       receiver_name, receiver_card, parsing_method, parsing_confidence,
		       is_gpt_parsed, is_p2p, fingerprint, parsed_at, created_at, updated_at
		FROM transactions WHERE source_chat_id = $1 AND source_message_id = $2`,
		chatID, messageID)

	return scanTransaction(row)
}

// FindTransactionByFingerprint looks up a transaction by content fingerprint,
// used by the Capture Layer's processor to detect a receipt already stored
// under a different message address.
func (db *DB) FindTransactionByFingerprint(fingerprint string) (*models.Transaction, error) {
	row := db.QueryRow(`
		SELECT id, uuid, raw_message, source_type, source_chat_id, source_message_id,
		       transaction_date, amount, currency, card_last_4, operator_raw,
		       application_mapped, transaction_type, balance_after,
		       receiver_name, receiver_card, parsing_method, parsing_confidence,
		       is_gpt_parsed, is_p2p, fingerprint, parsed_at, created_at, updated_at
		FROM transactions WHERE fingerprint = $1`,
		fingerprint)

	return scanTransaction(row)
}

func scanTransaction(row *sql.Row) (*models.Transaction, error) {
	var tx models.Transaction
	var sourceMessageID sql.NullInt64
	var applicationMapped, receiverName, receiverCard sql.NullString
	var balanceAfter sql.NullString
	var parsingConfidence sql.NullFloat64

	err := row.Scan(&tx.ID, &tx.UUID, &tx.RawMessage, &tx.SourceType, &tx.SourceChatID, &sourceMessageID,
		&tx.TransactionDate, &tx.Amount, &tx.Currency, &tx.CardLast4, &tx.OperatorRaw,
		&applicationMapped, &tx.TransactionType, &balanceAfter,
		&receiverName, &receiverCard, &tx.ParsingMethod, &parsingConfidence,
		&tx.IsGPTParsed, &tx.IsP2P, &tx.Fingerprint, &tx.ParsedAt, &tx.CreatedAt, &tx.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, errors.New(errors.NotFound, "transaction not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientStorage)
	}

	tx.SourceMessageID = NullInt64ToPtr(sourceMessageID)
	if applicationMapped.Valid {
		tx.ApplicationMapped = &applicationMapped.String
	}
	if receiverName.Valid {
		tx.ReceiverName = &receiverName.String
	}
	if receiverCard.Valid {
		tx.ReceiverCard = &receiverCard.String
	}
	if balanceAfter.Valid {
		d, derr := decimal.NewFromString(balanceAfter.String)
		if derr == nil {
			tx.BalanceAfter = &d
		}
	}
	if parsingConfidence.Valid {
		tx.ParsingConfidence = &parsingConfidence.Float64
	}

	return &tx, nil
}

func nullableString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullableFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return *d
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
