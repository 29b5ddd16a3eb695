// Package database is the storage layer: connection management and CRUD
// over the five tables the pipeline owns (Transaction, ProcessingTask,
// MonitoredChat, OperatorReference, HiddenChat) plus the diagnostic
// ParsingLog trail.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"receipt-pipeline/server/internal/config"
	"receipt-pipeline/server/internal/errors"

	_ "github.com/lib/pq"
)

// DB holds the connection pool.
type DB struct {
	*sql.DB
}

func NewConnection(cfg *config.Config) (*DB, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New(errors.ErrMissingEnvVar, "DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, errors.New(errors.TransientStorage, fmt.Sprintf("failed to open database connection: %v", err))
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var lastErr error
	for i := 0; i < 3; i++ {
		if err := db.PingContext(ctx); err != nil {
			lastErr = err
			slog.Warn("database connection attempt failed", "attempt", i+1, "error", err)
			if i < 2 {
				time.Sleep(2 * time.Second)
				continue
			}
		} else {
			lastErr = nil
			break
		}
	}

	if lastErr != nil {
		db.Close()
		return nil, errors.New(errors.TransientStorage, fmt.Sprintf("failed to connect to database after 3 attempts: %v", lastErr))
	}

	slog.Info("connected to postgres")
	return &DB{db}, nil
}

func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}

// Migrate applies the schema for the seven tables this pipeline owns. A
// production deployment would use a migration tool; this keeps the schema
// next to the code that depends on it since there is no init-script
// equivalent in this module's deployment story.
func (db *DB) Migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			uuid UUID NOT NULL UNIQUE,
			raw_message TEXT NOT NULL,
			source_type VARCHAR(20) NOT NULL CHECK (source_type IN ('MANUAL','AUTO')),
			source_chat_id BIGINT NOT NULL,
			source_message_id BIGINT,
			transaction_date TIMESTAMP NOT NULL,
			amount NUMERIC(18,2) NOT NULL,
			currency VARCHAR(3) NOT NULL DEFAULT 'UZS',
			card_last_4 VARCHAR(4),
			operator_raw TEXT,
			application_mapped VARCHAR(100),
			transaction_type VARCHAR(20) NOT NULL CHECK (transaction_type IN ('DEBIT','CREDIT','CONVERSION','REVERSAL')),
			balance_after NUMERIC(18,2),
			receiver_name VARCHAR(255),
			receiver_card VARCHAR(4),
			parsing_method VARCHAR(20) CHECK (parsing_method IN ('REGEX_HUMO','REGEX_SMS','REGEX_SEMICOLON','REGEX_CARDXABAR','GPT','GPT_VISION')),
			parsing_confidence DOUBLE PRECISION CHECK (parsing_confidence >= 0 AND parsing_confidence <= 1),
			is_gpt_parsed BOOLEAN NOT NULL DEFAULT false,
			is_p2p BOOLEAN NOT NULL DEFAULT false,
			fingerprint VARCHAR(64) NOT NULL,
			parsed_at TIMESTAMP NOT NULL DEFAULT now(),
			created_at TIMESTAMP NOT NULL DEFAULT now(),
			updated_at TIMESTAMP NOT NULL DEFAULT now(),
			CONSTRAINT uq_transactions_source_msg UNIQUE (source_chat_id, source_message_id),
			CONSTRAINT uq_transactions_fingerprint UNIQUE (fingerprint)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions (transaction_date)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_card ON transactions (card_last_4)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_operator ON transactions (operator_raw)`,
		`CREATE TABLE IF NOT EXISTS receipt_processing_tasks (
			id BIGSERIAL PRIMARY KEY,
			task_id VARCHAR(255) NOT NULL UNIQUE,
			chat_id BIGINT NOT NULL,
			message_id BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL,
			transaction_id BIGINT,
			error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT now(),
			updated_at TIMESTAMP NOT NULL DEFAULT now(),
			CONSTRAINT uq_receipt_tasks_chat_msg UNIQUE (chat_id, message_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipt_tasks_status ON receipt_processing_tasks (status)`,
		`CREATE TABLE IF NOT EXISTS monitored_bot_chats (
			chat_id BIGINT PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT true,
			last_processed_message_id BIGINT NOT NULL DEFAULT 0,
			last_error TEXT,
			chat_type VARCHAR(50) NOT NULL DEFAULT 'user',
			filter_mode VARCHAR(20) NOT NULL DEFAULT 'all',
			filter_keywords TEXT,
			chat_title VARCHAR(255),
			created_at TIMESTAMP NOT NULL DEFAULT now(),
			updated_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS operator_reference (
			id BIGSERIAL PRIMARY KEY,
			operator_name VARCHAR(500) NOT NULL,
			application_name VARCHAR(200) NOT NULL,
			is_p2p BOOLEAN NOT NULL DEFAULT false,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMP NOT NULL DEFAULT now(),
			updated_at TIMESTAMP NOT NULL DEFAULT now(),
			CONSTRAINT uq_operator_ref_name_app UNIQUE (operator_name, application_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operator_ref_active ON operator_reference (is_active)`,
		`CREATE TABLE IF NOT EXISTS hidden_bot_chats (
			chat_id BIGINT PRIMARY KEY,
			title_snapshot VARCHAR(255),
			hidden_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS parsing_logs (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			message_id BIGINT NOT NULL,
			stage VARCHAR(40) NOT NULL,
			outcome VARCHAR(40) NOT NULL,
			confidence DOUBLE PRECISION,
			duration_ms BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS admin_sessions (
			id UUID PRIMARY KEY,
			token_hash VARCHAR(64) NOT NULL UNIQUE,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, errors.TransientStorage)
		}
	}
	slog.Info("schema migration complete")
	return nil
}

// Transaction runs fn inside a database transaction, rolling back on error
// or panic and committing otherwise.
func (db *DB) Transaction(fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}

	return nil
}

func NullStringToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func StringToNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func NullInt64ToPtr(ni sql.NullInt64) *int64 {
	if ni.Valid {
		return &ni.Int64
	}
	return nil
}

func PtrToNullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
