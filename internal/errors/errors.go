// Package errors implements the pipeline's abstract error taxonomy: every
// per-message failure is classified into one of a fixed set of kinds, each
// carrying whether it is permanent (advance the monitor cursor) or transient
// (leave the cursor untouched for catch-up to retry).
package errors

import (
	"fmt"
	"net/http"
	"time"
)

// Code is one of the abstract error kinds the pipeline distinguishes.
type Code string

const (
	TransportUnavailable Code = "TRANSPORT_UNAVAILABLE"
	AuthStepInvalid      Code = "AUTH_STEP_INVALID"
	RequestTimeout       Code = "REQUEST_TIMEOUT"
	NotFound             Code = "NOT_FOUND"
	ParseFailure         Code = "PARSE_FAILURE"
	VisionUnavailable    Code = "VISION_UNAVAILABLE"
	UniquenessViolation  Code = "UNIQUENESS_VIOLATION"
	TransientStorage     Code = "TRANSIENT_STORAGE"

	// Ambient codes for the HTTP surface and admin-auth boundary; not part
	// of the worker's permanence classification.
	ErrBadRequest           Code = "BAD_REQUEST"
	ErrValidationFailed     Code = "VALIDATION_ERROR"
	ErrMissingRequiredField Code = "MISSING_REQUIRED_FIELD"
	ErrUnauthorized         Code = "UNAUTHORIZED"
	ErrForbidden            Code = "FORBIDDEN"
	ErrMissingEnvVar        Code = "MISSING_ENV_VAR"
	ErrInternalServer       Code = "INTERNAL_SERVER_ERROR"
)

// statusCodes maps each code to the HTTP status the admin surface reports it
// as. Codes with no worker-level HTTP meaning still get a sane default.
var statusCodes = map[Code]int{
	TransportUnavailable:    http.StatusServiceUnavailable,
	AuthStepInvalid:         http.StatusBadRequest,
	RequestTimeout:          http.StatusGatewayTimeout,
	NotFound:                http.StatusNotFound,
	ParseFailure:            http.StatusUnprocessableEntity,
	VisionUnavailable:       http.StatusServiceUnavailable,
	UniquenessViolation:     http.StatusOK,
	TransientStorage:        http.StatusInternalServerError,
	ErrBadRequest:           http.StatusBadRequest,
	ErrValidationFailed:     http.StatusBadRequest,
	ErrMissingRequiredField: http.StatusBadRequest,
	ErrUnauthorized:         http.StatusUnauthorized,
	ErrForbidden:            http.StatusForbidden,
	ErrMissingEnvVar:        http.StatusInternalServerError,
	ErrInternalServer:       http.StatusInternalServerError,
}

// permanentCodes are the kinds §7 classifies as permanent: the monitor
// cursor advances past the offending message rather than retrying forever.
var permanentCodes = map[Code]bool{
	NotFound:            true,
	ParseFailure:        true,
	VisionUnavailable:   true,
	UniquenessViolation: true,
	AuthStepInvalid:     true,
}

// AppError is the pipeline's structured error, carrying a classification
// code, a human message, optional details, and a timestamp.
type AppError struct {
	Code      Code        `json:"error"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status the admin surface should report.
func (e *AppError) StatusCode() int {
	if code, ok := statusCodes[e.Code]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Permanent reports whether this error's kind is permanent: the cursor
// advances so the message is not retried forever. Transient errors (timeouts,
// transport, storage hiccups) leave the cursor untouched for catch-up.
func (e *AppError) Permanent() bool {
	return permanentCodes[e.Code]
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Timestamp: time.Now()}
}

func NewWithDetails(code Code, message string, details interface{}) *AppError {
	return &AppError{Code: code, Message: message, Details: details, Timestamp: time.Now()}
}

func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// Wrap converts a standard error into an AppError, preserving an existing
// AppError as-is rather than double-wrapping it.
func Wrap(err error, code Code) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(code, err.Error())
}

func IsAppError(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}
