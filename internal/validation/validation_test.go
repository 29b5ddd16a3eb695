package validation

import (
	"strings"
	"testing"

	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
)

func TestValidateProcessReceiptRequest(t *testing.T) {
	tests := []struct {
		name      string
		chatID    int64
		messageID int64
		wantErr   bool
	}{
		{"valid", 123, 456, false},
		{"zero chat id", 0, 456, true},
		{"zero message id", 123, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProcessReceiptRequest(tt.chatID, tt.messageID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProcessReceiptRequest(%d, %d) error = %v, wantErr %v", tt.chatID, tt.messageID, err, tt.wantErr)
			}
		})
	}
}

func TestValidateBatchMessageIDs(t *testing.T) {
	if err := ValidateBatchMessageIDs(0, []int64{1}); err == nil {
		t.Error("expected error for zero chat id")
	}
	if err := ValidateBatchMessageIDs(1, nil); err == nil {
		t.Error("expected error for empty message id list")
	}

	tooMany := make([]int64, 101)
	err := ValidateBatchMessageIDs(1, tooMany)
	if err == nil {
		t.Fatal("expected error for more than 100 message ids")
	}
	appErr, ok := errors.IsAppError(err)
	if !ok || appErr.Code != errors.ErrValidationFailed {
		t.Errorf("expected ErrValidationFailed, got %v", err)
	}

	if err := ValidateBatchMessageIDs(1, []int64{1, 2, 3}); err != nil {
		t.Errorf("expected valid batch to pass, got %v", err)
	}
}

func TestValidateFilterMode(t *testing.T) {
	valid := []models.FilterMode{models.FilterAll, models.FilterWhitelist, models.FilterBlacklist, ""}
	for _, mode := range valid {
		if err := ValidateFilterMode(mode); err != nil {
			t.Errorf("ValidateFilterMode(%q) unexpected error: %v", mode, err)
		}
	}

	if err := ValidateFilterMode("bogus"); err == nil {
		t.Error("expected error for unknown filter mode")
	}
}

func TestValidatePagination(t *testing.T) {
	if err := ValidatePagination(50, 0); err != nil {
		t.Errorf("expected valid pagination to pass, got %v", err)
	}
	if err := ValidatePagination(-1, 0); err == nil {
		t.Error("expected error for negative limit")
	}
	if err := ValidatePagination(501, 0); err == nil {
		t.Error("expected error for limit over 500")
	}
	if err := ValidatePagination(10, -5); err == nil {
		t.Error("expected error for negative offset")
	}
}

func TestSanitizeString(t *testing.T) {
	input := "  hello\x00world\x07with\n\ta newline and tab  "
	got := SanitizeString(input)
	if strings.ContainsRune(got, 0) || strings.ContainsRune(got, 7) {
		t.Errorf("SanitizeString(%q) = %q, control characters survived", input, got)
	}
	if !strings.Contains(got, "\n") || !strings.Contains(got, "\t") {
		t.Errorf("SanitizeString(%q) = %q, expected common whitespace preserved", input, got)
	}
	if strings.HasPrefix(got, " ") || strings.HasSuffix(got, " ") {
		t.Errorf("SanitizeString(%q) = %q, expected surrounding whitespace trimmed", input, got)
	}
}
