// Package validation holds the generic request-shape validators the HTTP
// surface applies before touching the database or the parsing cascade.
package validation

import (
	"strings"

	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
)

// ValidateProcessReceiptRequest checks the §6 POST /process-receipt body.
func ValidateProcessReceiptRequest(chatID, messageID int64) error {
	if chatID == 0 {
		return errors.New(errors.ErrMissingRequiredField, "chat_id is required")
	}
	if messageID == 0 {
		return errors.New(errors.ErrMissingRequiredField, "message_id is required")
	}
	return nil
}

// ValidateBatchMessageIDs checks the §6 POST /process-receipt-batch body.
func ValidateBatchMessageIDs(chatID int64, messageIDs []int64) error {
	if chatID == 0 {
		return errors.New(errors.ErrMissingRequiredField, "chat_id is required")
	}
	if len(messageIDs) == 0 {
		return errors.New(errors.ErrMissingRequiredField, "message_ids is required and cannot be empty")
	}
	if len(messageIDs) > 100 {
		return errors.NewWithDetails(errors.ErrValidationFailed,
			"cannot process more than 100 messages at once",
			map[string]interface{}{"max_allowed": 100, "actual": len(messageIDs)})
	}
	return nil
}

// ValidateFilterMode checks the §6 PUT /monitors/{chat_id} filter_mode field.
func ValidateFilterMode(mode models.FilterMode) error {
	switch mode {
	case models.FilterAll, models.FilterWhitelist, models.FilterBlacklist, "":
		return nil
	default:
		return errors.NewWithDetails(errors.ErrValidationFailed,
			"filter_mode must be one of all, whitelist, blacklist",
			map[string]interface{}{"filter_mode": mode})
	}
}

// ValidatePagination bounds a limit/offset pair shared by list endpoints.
func ValidatePagination(limit, offset int) error {
	if limit < 0 || limit > 500 {
		return errors.NewWithDetails(errors.ErrValidationFailed,
			"limit must be between 0 and 500",
			map[string]interface{}{"limit": limit})
	}
	if offset < 0 {
		return errors.NewWithDetails(errors.ErrValidationFailed,
			"offset must be non-negative",
			map[string]interface{}{"offset": offset})
	}
	return nil
}

// SanitizeString strips control characters other than common whitespace.
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, input)
}
