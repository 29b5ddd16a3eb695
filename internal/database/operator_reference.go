package database

import (
	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
)

// ListActiveOperatorReferences loads the dictionary the resolver matches
// against. Only active rows participate in exact/substring matching; inactive
// rows are suggestions awaiting operator review.
func (db *DB) ListActiveOperatorReferences() ([]models.OperatorReference, error) {
	rows, err := db.Query(`
		SELECT id, operator_name, application_name, is_p2p, is_active, created_at, updated_at
		FROM operator_reference WHERE is_active = true ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientStorage)
	}
	defer rows.Close()

	var out []models.OperatorReference
	for rows.Next() {
		var r models.OperatorReference
		if err := rows.Scan(&r.ID, &r.OperatorName, &r.ApplicationName, &r.IsP2P, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.TransientStorage)
		}
		out = append(out, r)
	}
	return out, nil
}

// InsertSuggestedOperator writes a new inactive reference row from the LLM
// fallback's recommended_operator_name, for an operator to later activate.
func (db *DB) InsertSuggestedOperator(operatorName, applicationName string, isP2P bool) error {
	_, err := db.Exec(`
		INSERT INTO operator_reference (operator_name, application_name, is_p2p, is_active)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (operator_name, application_name) DO NOTHING`,
		operatorName, applicationName, isP2P)
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	return nil
}

func (db *DB) ListOperatorReferences() ([]models.OperatorReference, error) {
	rows, err := db.Query(`
		SELECT id, operator_name, application_name, is_p2p, is_active, created_at, updated_at
		FROM operator_reference ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.TransientStorage)
	}
	defer rows.Close()

	var out []models.OperatorReference
	for rows.Next() {
		var r models.OperatorReference
		if err := rows.Scan(&r.ID, &r.OperatorName, &r.ApplicationName, &r.IsP2P, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.TransientStorage)
		}
		out = append(out, r)
	}
	return out, nil
}

func (db *DB) SetOperatorReferenceActive(id int64, active bool) error {
	res, err := db.Exec(`UPDATE operator_reference SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New(errors.NotFound, "operator reference not found")
	}
	return nil
}
