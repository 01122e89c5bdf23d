package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	// Session layer taxonomy. None of these is fatal: transport and
	// connectivity errors feed the reconnection path, message format errors
	// drop one message, negotiation errors fail the current generation.
	ErrCodeTransport     ErrorCode = "TRANSPORT"
	ErrCodeMessageFormat ErrorCode = "MESSAGE_FORMAT"
	ErrCodeNegotiation   ErrorCode = "NEGOTIATION"
	ErrCodeConnectivity  ErrorCode = "CONNECTIVITY"

	// Relay side
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewTransportError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeTransport, message, http.StatusBadGateway)
}

func NewMessageFormatError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeMessageFormat, message, http.StatusBadRequest)
}

func NewNegotiationError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeNegotiation, message, http.StatusUnprocessableEntity)
}

func NewConnectivityError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeConnectivity, message, http.StatusServiceUnavailable)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of the first AppError in the chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
