package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Client errors
	ErrCodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeTooManyRequests    ErrorCode = "TOO_MANY_REQUESTS"
	ErrCodeUnsupportedMessage ErrorCode = "UNSUPPORTED_MESSAGE"

	// Connection flow errors
	ErrCodeFlowInProgress  ErrorCode = "FLOW_IN_PROGRESS"
	ErrCodeFlowNotFound    ErrorCode = "FLOW_NOT_FOUND"
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeQRUnavailable   ErrorCode = "QR_UNAVAILABLE"

	// Gateway errors
	ErrCodeGatewayUnavailable  ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayError        ErrorCode = "GATEWAY_ERROR"
	ErrCodeTranscriptionFailed ErrorCode = "TRANSCRIPTION_FAILED"

	// Server errors
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
)

// AppError represents an application error with additional context
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e carrying details
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates a new application error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: getStatusCodeForError(code),
	}
}

// Wrap wraps an existing error with application context
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: getStatusCodeForError(code),
		Err:        err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: getStatusCodeForError(code),
		Err:        err,
	}
}

// As reports whether err is or wraps an *AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// getStatusCodeForError maps error codes to HTTP status codes
func getStatusCodeForError(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidRequest, ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound, ErrCodeFlowNotFound, ErrCodeSessionNotFound, ErrCodeQRUnavailable:
		return http.StatusNotFound
	case ErrCodeFlowInProgress:
		return http.StatusConflict
	case ErrCodeUnsupportedMessage:
		return http.StatusUnprocessableEntity
	case ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrCodeGatewayUnavailable, ErrCodeGatewayError, ErrCodeTranscriptionFailed:
		return http.StatusBadGateway
	case ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeInternalError, ErrCodeDatabaseError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors for convenience

// ValidationError creates a validation error
func ValidationError(message string) *AppError {
	return New(ErrCodeValidationFailed, message)
}

// InvalidRequest creates an invalid request error
func InvalidRequest(message string) *AppError {
	return New(ErrCodeInvalidRequest, message)
}

// NotFound creates a not found error
func NotFound(message string) *AppError {
	return New(ErrCodeNotFound, message)
}

// FlowInProgress reports a bootstrap already running for the user
func FlowInProgress(userID string) *AppError {
	return New(ErrCodeFlowInProgress, fmt.Sprintf("A WhatsApp connection is already in progress for %s", userID))
}

// FlowNotFound reports a missing bootstrap for the user
func FlowNotFound(userID string) *AppError {
	return New(ErrCodeFlowNotFound, fmt.Sprintf("No WhatsApp connection found for %s", userID))
}

// QRUnavailable reports that no QR image is currently held
func QRUnavailable() *AppError {
	return New(ErrCodeQRUnavailable, "QR code is not available")
}

// GatewayError wraps a failed gateway call
func GatewayError(err error) *AppError {
	return Wrap(err, ErrCodeGatewayError, "WhatsApp gateway request failed")
}

// GatewayUnavailable wraps a gateway that could not be reached
func GatewayUnavailable(err error) *AppError {
	return Wrap(err, ErrCodeGatewayUnavailable, "WhatsApp gateway is unreachable")
}

// TranscriptionFailed wraps a failed transcription
func TranscriptionFailed(err error) *AppError {
	return Wrap(err, ErrCodeTranscriptionFailed, "Failed to transcribe audio")
}

// InternalError creates an internal server error
func InternalError(err error) *AppError {
	return Wrap(err, ErrCodeInternalError, "Internal server error")
}

// DatabaseError creates a database error
func DatabaseError(err error) *AppError {
	return Wrap(err, ErrCodeDatabaseError, "Database operation failed")
}
