package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("connection refused")
	err := NewTransportError("dial signaling relay", originalErr)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should see the cause through Unwrap")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewNegotiationError("set remote answer", nil)
	err.WithContext("generation", 3).WithContext("type", "answer")

	if err.Context["generation"] != 3 {
		t.Errorf("Context[generation] = %v, want 3", err.Context["generation"])
	}
	if err.Context["type"] != "answer" {
		t.Errorf("Context[type] = %v, want 'answer'", err.Context["type"])
	}
}

func TestTaxonomyConstructors(t *testing.T) {
	cause := errors.New("boom")
	cases := []struct {
		err  *AppError
		code ErrorCode
	}{
		{NewTransportError("t", cause), ErrCodeTransport},
		{NewMessageFormatError("m", cause), ErrCodeMessageFormat},
		{NewNegotiationError("n", cause), ErrCodeNegotiation},
		{NewConnectivityError("c", cause), ErrCodeConnectivity},
		{NewUnauthorizedError("u"), ErrCodeUnauthorized},
		{NewRateLimitError(), ErrCodeRateLimit},
	}
	for _, tc := range cases {
		if tc.err.Code != tc.code {
			t.Errorf("Code = %v, want %v", tc.err.Code, tc.code)
		}
		if tc.err.HTTPStatus == 0 {
			t.Errorf("%v: HTTPStatus not set", tc.code)
		}
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	regularErr := errors.New("regular error")

	if !IsAppError(appErr) {
		t.Error("IsAppError() should return true for AppError")
	}
	if IsAppError(regularErr) {
		t.Error("IsAppError() should return false for regular error")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	if result := GetAppError(appErr); result != appErr {
		t.Errorf("GetAppError() = %v, want %v", result, appErr)
	}

	wrapped := fmt.Errorf("handle answer: %w", NewNegotiationError("rejected", nil))
	if result := GetAppError(wrapped); result == nil || result.Code != ErrCodeNegotiation {
		t.Errorf("GetAppError() should extract AppError through fmt wrapping, got %v", result)
	}

	if result := GetAppError(errors.New("regular error")); result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewConnectivityError("ice failed", nil)); got != ErrCodeConnectivity {
		t.Errorf("CodeOf() = %v, want %v", got, ErrCodeConnectivity)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("CodeOf() = %v, want %v", got, ErrCodeInternal)
	}
	if HasCode(nil, ErrCodeInternal) {
		t.Error("HasCode(nil) should be false")
	}
}
