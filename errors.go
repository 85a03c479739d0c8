package openqalocal

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrCacheMiss is returned when a sidecar entry is absent, stale, or
	// lacks the requested facet.
	ErrCacheMiss = errors.New("cache miss")

	// ErrJobNotFound is returned when the remote service does not know the
	// requested job. This is a normal outcome, not a failure.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidHost is returned when a host identifier is empty or
	// contains path separators.
	ErrInvalidHost = errors.New("invalid host")

	// ErrInvalidFilename is returned when a log filename is empty, contains
	// path separators, or contains parent-directory segments.
	ErrInvalidFilename = errors.New("invalid filename")
)

// CorruptEntryError indicates that a sidecar file exists but cannot be
// decoded. It is surfaced explicitly rather than treated as a miss, so that
// callers can tell corruption apart from data that was never cached.
type CorruptEntryError struct {
	Path string // path to the sidecar file
	Err  error  // underlying decode error
}

// Error implements the error interface.
func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("corrupt cache entry %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *CorruptEntryError) Unwrap() error {
	return e.Err
}

// APIError indicates a failure response from the remote API, or a success
// response that does not match the expected contract.
type APIError struct {
	StatusCode int    // remote status, 0 for contract violations
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("openQA API error: %s", e.Message)
	}
	return fmt.Sprintf("openQA API error: status %d: %s", e.StatusCode, e.Message)
}

// ConnectionError indicates a transport-level failure, either during scheme
// negotiation or during a later API call. The operation failed, but the
// caller may retry later.
type ConnectionError struct {
	Host string
	Err  error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %v", e.Host, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DownloadError indicates a failure while streaming a single log file. It is
// fatal for that file only; the client remains usable.
type DownloadError struct {
	JobID    string
	Filename string
	Err      error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of %s for job %s failed: %v", e.Filename, e.JobID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DownloadError) Unwrap() error {
	return e.Err
}
