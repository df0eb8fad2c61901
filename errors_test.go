package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "ErrModelNotFound",
			err:     ErrModelNotFound,
			wantMsg: "models: model not found in catalog",
		},
		{
			name:    "ErrNotInstalled",
			err:     ErrNotInstalled,
			wantMsg: "models: model not installed",
		},
		{
			name:    "ErrPinNotFound",
			err:     ErrPinNotFound,
			wantMsg: "models: no pinned version",
		},
		{
			name:    "ErrAlreadyInstalled",
			err:     ErrAlreadyInstalled,
			wantMsg: "models: model already installed",
		},
		{
			name:    "ErrHashMismatch",
			err:     ErrHashMismatch,
			wantMsg: "models: checksum verification failed",
		},
		{
			name:    "ErrNetwork",
			err:     ErrNetwork,
			wantMsg: "models: network error",
		},
		{
			name:    "ErrStorage",
			err:     ErrStorage,
			wantMsg: "models: storage error",
		},
		{
			name:    "ErrInsufficientStorage",
			err:     ErrInsufficientStorage,
			wantMsg: "models: insufficient storage",
		},
		{
			name:    "ErrInvalidRef",
			err:     ErrInvalidRef,
			wantMsg: "models: invalid model reference",
		},
		{
			name:    "ErrInvalidVersion",
			err:     ErrInvalidVersion,
			wantMsg: "models: invalid version",
		},
		{
			name:    "ErrInvalidURL",
			err:     ErrInvalidURL,
			wantMsg: "models: invalid url",
		},
		{
			name:    "ErrCatalogError",
			err:     ErrCatalogError,
			wantMsg: "models: invalid catalog response",
		},
		{
			name:    "ErrTransferConflict",
			err:     ErrTransferConflict,
			wantMsg: "models: transfer already in progress",
		},
		{
			name:    "ErrTooManyTransfers",
			err:     ErrTooManyTransfers,
			wantMsg: "models: too many concurrent transfers",
		},
		{
			name:    "ErrCancelled",
			err:     ErrCancelled,
			wantMsg: "models: cancelled",
		},
		{
			name:    "ErrAlreadyInitialized",
			err:     ErrAlreadyInitialized,
			wantMsg: "models: already initialized",
		},
		{
			name:    "ErrClosed",
			err:     ErrClosed,
			wantMsg: "models: manager closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestStructuredErrorMatchesSentinel(t *testing.T) {
	err := newError(ErrTransferConflict, "transfer already in progress for llama-1.0.0")

	if !errors.Is(err, ErrTransferConflict) {
		t.Error("errors.Is(err, ErrTransferConflict) = false, want true")
	}
	if errors.Is(err, ErrNetwork) {
		t.Error("errors.Is(err, ErrNetwork) = true, want false")
	}

	var structured *Error
	if !errors.As(err, &structured) {
		t.Fatal("errors.As(err, *Error) = false, want true")
	}
	if structured.Message != "transfer already in progress for llama-1.0.0" {
		t.Errorf("Message = %q", structured.Message)
	}
}

func TestStructuredErrorWrapping(t *testing.T) {
	// Sentinels stay matchable through fmt wrapping layers.
	wrapped := fmt.Errorf("download failed: %w", newError(ErrHashMismatch, "digest does not match"))
	if !errors.Is(wrapped, ErrHashMismatch) {
		t.Error("errors.Is through fmt.Errorf = false, want true")
	}
}

func TestStructuredErrorCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := newError(ErrNetwork, "fetching artifact").withCause(cause)

	if !errors.Is(err, ErrNetwork) {
		t.Error("errors.Is(err, ErrNetwork) = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Error() = %q, want cause text included", err.Error())
	}
}

func TestStructuredErrorDetails(t *testing.T) {
	err := newError(ErrInsufficientStorage, "not enough free space").
		withDetail("required_bytes", int64(2048)).
		withDetail("available_bytes", int64(512))

	got := err.Error()
	// Details render sorted by key so messages are stable.
	want := "models: insufficient storage: not enough free space (available_bytes=512, required_bytes=2048)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestInsufficientStorageError(t *testing.T) {
	err := insufficientStorageError(4096, 1024)

	if !errors.Is(err, ErrInsufficientStorage) {
		t.Error("errors.Is(err, ErrInsufficientStorage) = false, want true")
	}
	if err.Details["required_bytes"] != int64(4096) {
		t.Errorf("required_bytes = %v, want 4096", err.Details["required_bytes"])
	}
	if err.Details["available_bytes"] != int64(1024) {
		t.Errorf("available_bytes = %v, want 1024", err.Details["available_bytes"])
	}
	if err.Suggestion == "" {
		t.Error("Suggestion is empty, want recovery hint")
	}
}

func TestCancelledError(t *testing.T) {
	err := cancelledError("handle-123")

	if !errors.Is(err, ErrCancelled) {
		t.Error("errors.Is(err, ErrCancelled) = false, want true")
	}
	if err.Details["handle"] != "handle-123" {
		t.Errorf("handle = %v, want handle-123", err.Details["handle"])
	}
	if err.Suggestion != "" {
		t.Errorf("Suggestion = %q, want empty for cancellation", err.Suggestion)
	}
}
