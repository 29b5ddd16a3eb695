package errors

import (
	stderrors "errors"
	"net/http"
	"testing"
)

func TestPermanent(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{NotFound, true},
		{ParseFailure, true},
		{VisionUnavailable, true},
		{UniquenessViolation, true},
		{AuthStepInvalid, true},
		{TransportUnavailable, false},
		{RequestTimeout, false},
		{TransientStorage, false},
	}

	for _, tt := range tests {
		err := New(tt.code, "test")
		if got := err.Permanent(); got != tt.want {
			t.Errorf("New(%v).Permanent() = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestStatusCode(t *testing.T) {
	if got := New(NotFound, "x").StatusCode(); got != http.StatusNotFound {
		t.Errorf("StatusCode() = %d, want %d", got, http.StatusNotFound)
	}
	if got := New(UniquenessViolation, "x").StatusCode(); got != http.StatusOK {
		t.Errorf("StatusCode() = %d, want %d (duplicate is not a client error)", got, http.StatusOK)
	}
}

func TestWrap_PreservesExistingAppError(t *testing.T) {
	original := New(ParseFailure, "already classified")
	wrapped := Wrap(original, TransientStorage)
	if wrapped != original {
		t.Error("expected Wrap to return the same *AppError instance, not double-wrap it")
	}
}

func TestWrap_ClassifiesPlainError(t *testing.T) {
	plain := stderrors.New("boom")
	wrapped := Wrap(plain, TransientStorage)
	if wrapped.Code != TransientStorage {
		t.Errorf("Code = %v, want TransientStorage", wrapped.Code)
	}
	if wrapped.Message != "boom" {
		t.Errorf("Message = %q, want boom", wrapped.Message)
	}
}

func TestIsAppError(t *testing.T) {
	appErr, ok := IsAppError(New(NotFound, "x"))
	if !ok || appErr == nil {
		t.Error("expected IsAppError to recognize an *AppError")
	}
	_, ok = IsAppError(stderrors.New("plain"))
	if ok {
		t.Error("expected IsAppError to reject a plain error")
	}
}
