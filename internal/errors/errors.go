package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error codes carried in responses and websocket error frames.
const (
	CodeNotFound           = "not-found"
	CodeForbidden          = "forbidden"
	CodeAuthRequired       = "requires-recent-login"
	CodeUnauthorized       = "unauthorized"
	CodeValidationConflict = "validation-conflict"
	CodeTransientWrite     = "transient-write-failure"
	CodeInvalidInput       = "invalid-input"
	CodeInternal           = "internal"
)

// APIError is the error type handlers hand to the error middleware.
type APIError struct {
	Status   int               `json:"-"`
	Code     string            `json:"code"`
	Message  string            `json:"error"`
	Fields   map[string]string `json:"fields,omitempty"`
	Internal error             `json:"-"`
}

func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Internal
}

// Is matches on code so callers can test against the sentinel values below.
func (e *APIError) Is(target error) bool {
	var t *APIError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func New(status int, code, message string, err error) *APIError {
	return &APIError{Status: status, Code: code, Message: message, Internal: err}
}

func NotFound(message string, err error) *APIError {
	return New(http.StatusNotFound, CodeNotFound, message, err)
}

func Forbidden(message string, err error) *APIError {
	return New(http.StatusForbidden, CodeForbidden, message, err)
}

// AuthRequired is returned when an operation needs a fresh sign-in.
func AuthRequired(message string, err error) *APIError {
	return New(http.StatusUnauthorized, CodeAuthRequired, message, err)
}

func Unauthorized(message string, err error) *APIError {
	return New(http.StatusUnauthorized, CodeUnauthorized, message, err)
}

func ValidationConflict(message string, err error) *APIError {
	return New(http.StatusConflict, CodeValidationConflict, message, err)
}

func TransientWriteFailure(message string, err error) *APIError {
	return New(http.StatusServiceUnavailable, CodeTransientWrite, message, err)
}

func InvalidInput(message string, err error) *APIError {
	return New(http.StatusBadRequest, CodeInvalidInput, message, err)
}

func Internal(err error) *APIError {
	return New(http.StatusInternalServerError, CodeInternal, "Internal server error", err)
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound           = &APIError{Code: CodeNotFound}
	ErrForbidden          = &APIError{Code: CodeForbidden}
	ErrAuthRequired       = &APIError{Code: CodeAuthRequired}
	ErrValidationConflict = &APIError{Code: CodeValidationConflict}
	ErrTransientWrite     = &APIError{Code: CodeTransientWrite}
	ErrInvalidInput       = &APIError{Code: CodeInvalidInput}
)

// NewValidationError converts binding errors into a 422 with per-field messages.
func NewValidationError(err error) *APIError {
	apiErr := New(http.StatusUnprocessableEntity, CodeInvalidInput, "Validation failed", err)

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		apiErr.Message = "Invalid request body"
		return apiErr
	}

	apiErr.Fields = make(map[string]string, len(verrs))
	for _, fe := range verrs {
		apiErr.Fields[strings.ToLower(fe.Field())] = fieldMessage(fe)
	}
	return apiErr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return "is invalid"
	}
}

// From returns err as an APIError, wrapping unknown errors as Internal.
func From(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}
