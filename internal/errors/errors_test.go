package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Type:    ErrTypeNetwork,
				Message: "connection failed",
			},
			expected: "network: connection failed",
		},
		{
			name: "error with cause",
			err: &AppError{
				Type:    ErrTypeFileSystem,
				Message: "rename failed",
				Cause:   fmt.Errorf("permission denied"),
			},
			expected: "filesystem: rename failed (caused by: permission denied)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := NewNetworkError("dial failed", cause)

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestNewRemoteError(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusForbidden, false},
		{http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := NewRemoteError("stream request failed", tt.status)
			if err.Type != ErrTypeRemote {
				t.Errorf("Type = %v, want %v", err.Type, ErrTypeRemote)
			}
			if err.StatusCode != tt.status {
				t.Errorf("StatusCode = %v, want %v", err.StatusCode, tt.status)
			}
			if err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", err.Retryable, tt.retryable)
			}
		})
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("track not found")

	if err.Type != ErrTypeNotFound {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeNotFound)
	}
	if err.Retryable {
		t.Error("Expected not found error to be non-retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"network error", NewNetworkError("connection failed", nil), true},
		{"filesystem error", NewFileSystemError("disk full", nil), true},
		{"validation error", NewValidationError("invalid input"), false},
		{"cancelled", NewCancelledError("stopped"), false},
		{"wrapped network error", fmt.Errorf("fetch: %w", NewNetworkError("reset", nil)), true},
		{"standard error", fmt.Errorf("standard error"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"not found", NewNotFoundError("missing"), ErrTypeNotFound},
		{"wrapped cancelled", fmt.Errorf("entry 1: %w", NewCancelledError("cancelled")), ErrTypeCancelled},
		{"plain", fmt.Errorf("plain"), ErrTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorType(tt.err); got != tt.expected {
				t.Errorf("GetErrorType() = %v, want %v", got, tt.expected)
			}
		})
	}

	if !IsNotFound(NewNotFoundError("x")) {
		t.Error("Expected IsNotFound to be true")
	}
	if !IsCancelled(NewCancelledError("x")) {
		t.Error("Expected IsCancelled to be true")
	}
	if !IsNetworkError(NewNetworkError("x", nil)) {
		t.Error("Expected IsNetworkError to be true")
	}
}
