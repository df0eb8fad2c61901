package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for model lifecycle operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrModelNotFound indicates no catalog entry exists for the id.
	ErrModelNotFound = errors.New("models: model not found in catalog")

	// ErrNotInstalled indicates the versioned id is absent from the local
	// registry. Stray files on disk do not count as installed.
	ErrNotInstalled = errors.New("models: model not installed")

	// ErrPinNotFound indicates no pinned version exists for the base id.
	ErrPinNotFound = errors.New("models: no pinned version")

	// ErrAlreadyInstalled indicates an identical version is already
	// installed. Returned by Download unless WithForce() is specified.
	ErrAlreadyInstalled = errors.New("models: model already installed")

	// ErrHashMismatch indicates downloaded data failed checksum
	// verification. The offending file is deleted before this is returned.
	ErrHashMismatch = errors.New("models: checksum verification failed")

	// ErrNetwork indicates a network or connection failure. Callers may
	// retry; the package itself never does.
	ErrNetwork = errors.New("models: network error")

	// ErrStorage indicates a filesystem operation failed.
	ErrStorage = errors.New("models: storage error")

	// ErrInsufficientStorage indicates the pre-flight space check failed.
	ErrInsufficientStorage = errors.New("models: insufficient storage")

	// ErrInvalidRef indicates a malformed model id or artifact type.
	ErrInvalidRef = errors.New("models: invalid model reference")

	// ErrInvalidVersion indicates a version string that is not three
	// non-negative dot-separated integers.
	ErrInvalidVersion = errors.New("models: invalid version")

	// ErrInvalidURL indicates a malformed URL or a scheme other than https.
	// Raised before any network I/O.
	ErrInvalidURL = errors.New("models: invalid url")

	// ErrCatalogError indicates the catalog returned invalid or
	// unparseable data.
	ErrCatalogError = errors.New("models: invalid catalog response")

	// ErrTransferConflict indicates another live transfer already targets
	// the same versioned id.
	ErrTransferConflict = errors.New("models: transfer already in progress")

	// ErrTooManyTransfers indicates the concurrent transfer cap is reached.
	ErrTooManyTransfers = errors.New("models: too many concurrent transfers")

	// ErrCancelled indicates the operation was cancelled by the caller.
	ErrCancelled = errors.New("models: cancelled")

	// ErrAlreadyInitialized indicates Init lost the race for the process
	// default manager slot.
	ErrAlreadyInitialized = errors.New("models: already initialized")

	// ErrClosed indicates the manager has been shut down.
	ErrClosed = errors.New("models: manager closed")
)

// Error is the structured error carried across the public boundary. It wraps
// a category sentinel (testable with errors.Is), carries human-readable
// context plus structured details, and optionally a recovery suggestion.
// Cancellation errors carry no suggestion.
type Error struct {
	// Sentinel is the category sentinel this error belongs to.
	Sentinel error

	// Message describes the failure in operation terms.
	Message string

	// Details holds structured numeric or identifying context, such as the
	// transfer handle or required vs available bytes.
	Details map[string]any

	// Suggestion optionally tells the caller how to recover.
	Suggestion string

	// Cause is the underlying error, if any.
	Cause error
}

// Error formats the sentinel text, the message, and sorted details.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Sentinel.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the category sentinel and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Sentinel, e.Cause}
	}
	return []error{e.Sentinel}
}

func newError(sentinel error, msg string) *Error {
	return &Error{Sentinel: sentinel, Message: msg}
}

func (e *Error) withDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) withSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

func (e *Error) withCause(cause error) *Error {
	e.Cause = cause
	return e
}

// insufficientStorageError builds the pre-flight check failure with the
// required and available byte counts as details.
func insufficientStorageError(required, available int64) *Error {
	return newError(ErrInsufficientStorage, "not enough free space").
		withDetail("required_bytes", required).
		withDetail("available_bytes", available).
		withSuggestion("delete unused models or run cleanup to free space")
}

// cancelledError builds a cancellation error. No suggestion applies.
func cancelledError(handle string) *Error {
	return newError(ErrCancelled, "transfer cancelled").
		withDetail("handle", handle)
}
