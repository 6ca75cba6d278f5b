package errors

import "fmt"

// EngineError is the structured error type returned across the engine's
// public API. It carries a stable code, structured details, and an
// optional wrapped cause so host layers can branch on Code while still
// getting errors.Is/errors.As interop via Unwrap.
type EngineError struct {
	// Code is one of the taxonomy codes (ErrCodeInvalidArgument, ...).
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains structured context, e.g. {"field": "topK"}.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error

	Retryable bool
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is enables errors.Is(err, target) to match by code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New builds an EngineError; category/severity/retryable are derived from code.
func New(code, message string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

func Wrap(code string, err error) *EngineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidArgument builds an INVALID_ARGUMENT error with field/value/reason detail.
func InvalidArgument(field string, value any, reason string) *EngineError {
	return New(ErrCodeInvalidArgument, fmt.Sprintf("invalid argument %q: %s", field, reason), nil).
		WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

// NotFound builds a NOT_FOUND error.
func NotFound(docURI, headingPath string) *EngineError {
	e := New(ErrCodeNotFound, "not found", nil)
	if docURI != "" {
		e = e.WithDetail("docUri", docURI)
	}
	if headingPath != "" {
		e = e.WithDetail("headingPath", headingPath)
	}
	return e
}

// NotIndexed builds a NOT_INDEXED error.
func NotIndexed() *EngineError {
	return New(ErrCodeNotIndexed, "no snapshot is loaded", nil)
}

// IndexBusy builds an INDEX_BUSY error carrying the current build's start time.
func IndexBusy(startedAt string) *EngineError {
	return New(ErrCodeIndexBusy, "a build is already in progress", nil).
		WithDetail("currentBuildStartedAt", startedAt)
}

// IndexCorrupt builds an INDEX_CORRUPT error.
func IndexCorrupt(snapshotID, reason string, missingFiles []string) *EngineError {
	e := New(ErrCodeIndexCorrupt, fmt.Sprintf("snapshot %s failed validation: %s", snapshotID, reason), nil).
		WithDetail("snapshotId", snapshotID).
		WithDetail("reason", reason)
	if len(missingFiles) > 0 {
		e = e.WithDetail("missingFiles", missingFiles)
	}
	return e
}

// IOError builds an IO_ERROR.
func IOError(path, operation string, cause error) *EngineError {
	return New(ErrCodeIOError, fmt.Sprintf("%s failed for %s", operation, path), cause).
		WithDetail("path", path).
		WithDetail("operation", operation)
}

// ModelDownloadFailed builds a MODEL_DOWNLOAD_FAILED error.
func ModelDownloadFailed(url, reason string) *EngineError {
	return New(ErrCodeModelDownloadFail, "failed to fetch embedding model", nil).
		WithDetail("url", url).
		WithDetail("reason", reason)
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *EngineError {
	e := New(ErrCodeInternal, message, cause)
	if cause != nil {
		e = e.WithDetail("originalError", cause.Error())
	}
	return e
}

// IsRetryable reports whether err is an EngineError marked retryable.
func IsRetryable(err error) bool {
	if ee, ok := err.(*EngineError); ok {
		return ee.Retryable
	}
	return false
}

// CodeOf extracts the taxonomy code from err, or "" if err isn't an EngineError.
func CodeOf(err error) string {
	if ee, ok := err.(*EngineError); ok {
		return ee.Code
	}
	return ""
}
