package errors

import (
	"errors"
	"fmt"
	"net/http"

	"dubsync/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeConflict            ErrorCode = "CONFLICT"
	ErrCodeRateLimit           ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeCaptureUnavailable  ErrorCode = "CAPTURE_UNAVAILABLE"
	ErrCodeInsufficientLibrary ErrorCode = "INSUFFICIENT_LIBRARY"
	ErrCodeExportFailed        ErrorCode = "EXPORT_FAILED"
	ErrCodePlaybackStartFailed ErrorCode = "PLAYBACK_START_FAILED"
	ErrCodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrCodeUnsupportedMedia    ErrorCode = "UNSUPPORTED_MEDIA"
	ErrCodePayloadTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeMediaUnavailable    ErrorCode = "MEDIA_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

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

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

type domainMapping struct {
	target error
	code   ErrorCode
	status int
}

// Order matters: the first sentinel found in the chain wins.
var domainMappings = []domainMapping{
	{domain.ErrCaptureUnavailable, ErrCodeCaptureUnavailable, http.StatusConflict},
	{domain.ErrInsufficientLibrary, ErrCodeInsufficientLibrary, http.StatusUnprocessableEntity},
	{domain.ErrExportFailed, ErrCodeExportFailed, http.StatusInternalServerError},
	{domain.ErrPlaybackStartFailed, ErrCodePlaybackStartFailed, http.StatusConflict},
	{domain.ErrInvalidTransition, ErrCodeInvalidTransition, http.StatusConflict},
	{domain.ErrRoundNotCompleted, ErrCodeInvalidTransition, http.StatusConflict},
	{domain.ErrSessionCompleted, ErrCodeInvalidTransition, http.StatusConflict},
	{domain.ErrCaptureActive, ErrCodeInvalidTransition, http.StatusConflict},
	{domain.ErrNoSession, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrVideoNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrRoundNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrUnsupportedMedia, ErrCodeUnsupportedMedia, http.StatusUnsupportedMediaType},
	{domain.ErrUnusableMedia, ErrCodeUnsupportedMedia, http.StatusUnprocessableEntity},
	{domain.ErrInvalidMode, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrInvalidRecordingKind, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrEmptyRecording, ErrCodeCaptureUnavailable, http.StatusConflict},
	{domain.ErrHandleInvalid, ErrCodeMediaUnavailable, http.StatusConflict},
	{domain.ErrTakeCancelled, ErrCodeInvalidTransition, http.StatusConflict},
	{domain.ErrNotCapturing, ErrCodeInvalidTransition, http.StatusConflict},
}

// FromDomain maps a service error onto an AppError. Errors that already
// are AppErrors pass through; unknown errors become internal errors.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}
	for _, m := range domainMappings {
		if errors.Is(err, m.target) {
			return WrapError(err, m.code, m.target.Error(), m.status)
		}
	}
	return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
