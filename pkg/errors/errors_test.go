package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"dubsync/internal/core/domain"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Errorf("errors.Is should see through AppError")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestGetAppError_Unwraps(t *testing.T) {
	appErr := NewNotFoundError("video")
	wrapped := fmt.Errorf("outer: %w", appErr)

	if got := GetAppError(wrapped); got != appErr {
		t.Errorf("GetAppError() = %v, want %v", got, appErr)
	}
	if GetAppError(errors.New("plain")) != nil {
		t.Errorf("GetAppError() on plain error should be nil")
	}
	if !IsAppError(wrapped) {
		t.Errorf("IsAppError() should be true for wrapped AppError")
	}
}

func TestFromDomain(t *testing.T) {
	cases := []struct {
		err    error
		code   ErrorCode
		status int
	}{
		{fmt.Errorf("start: %w", domain.ErrCaptureUnavailable), ErrCodeCaptureUnavailable, http.StatusConflict},
		{domain.ErrInsufficientLibrary, ErrCodeInsufficientLibrary, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: load", domain.ErrExportFailed), ErrCodeExportFailed, http.StatusInternalServerError},
		{domain.ErrPlaybackStartFailed, ErrCodePlaybackStartFailed, http.StatusConflict},
		{domain.ErrInvalidTransition, ErrCodeInvalidTransition, http.StatusConflict},
		{domain.ErrVideoNotFound, ErrCodeNotFound, http.StatusNotFound},
		{domain.ErrUnsupportedMedia, ErrCodeUnsupportedMedia, http.StatusUnsupportedMediaType},
		{fmt.Errorf("start take: %w", domain.ErrHandleInvalid), ErrCodeMediaUnavailable, http.StatusConflict},
		{domain.ErrTakeCancelled, ErrCodeInvalidTransition, http.StatusConflict},
		{errors.New("boom"), ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		got := FromDomain(tc.err)
		if got.Code != tc.code {
			t.Errorf("FromDomain(%v).Code = %v, want %v", tc.err, got.Code, tc.code)
		}
		if got.HTTPStatus != tc.status {
			t.Errorf("FromDomain(%v).HTTPStatus = %v, want %v", tc.err, got.HTTPStatus, tc.status)
		}
	}

	if FromDomain(nil) != nil {
		t.Errorf("FromDomain(nil) should be nil")
	}
	conflict := NewConflictError("busy")
	if FromDomain(conflict) != conflict {
		t.Errorf("FromDomain should pass AppErrors through")
	}
}
