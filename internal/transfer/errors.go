package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// RemoteError represents a non-success HTTP status from the document host.
type RemoteError struct {
	URL        string
	StatusCode int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote returned HTTP %d for %s", e.StatusCode, e.URL)
}

// Transient reports whether the status is worth retrying: rate limiting and
// server-side failures are, client errors are not.
func (e *RemoteError) Transient() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// LocalError represents a filesystem failure under the target path. It is
// surfaced distinctly from remote errors so operators can tell "remote is
// flaky" apart from "local environment is broken", and it is never retried.
type LocalError struct {
	Op   string // e.g. "open", "write", "mkdir"
	Path string
	Err  error
}

func (e *LocalError) Error() string {
	return fmt.Sprintf("local %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalError) Unwrap() error {
	return e.Err
}

// EmptyResponseError flags a success status that carried zero bytes.
// Recording an empty placeholder as a completed transfer would poison the
// ledger, so it fails the attempt instead.
type EmptyResponseError struct {
	URL string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("remote returned an empty body for %s", e.URL)
}

// ChecksumMismatchError means the finished file does not hash to the
// checksum the request demanded. The file is discarded by the worker.
type ChecksumMismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

// IsTransient classifies an error chain for the retry policy. Transient:
// connection-level failures, timeouts, HTTP 429/5xx, empty bodies.
// Permanent: other HTTP statuses, local I/O, checksum mismatches and
// cancellation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Transient()
	}

	var localErr *LocalError
	if errors.As(err, &localErr) {
		return false
	}

	var checksumErr *ChecksumMismatchError
	if errors.As(err, &checksumErr) {
		return false
	}

	var emptyErr *EmptyResponseError
	if errors.As(err, &emptyErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// client.Do failures surface as *url.Error: DNS failures, refused or
	// reset connections. All connection-level, all worth a retry.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	// A body cut short mid-stream.
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}
