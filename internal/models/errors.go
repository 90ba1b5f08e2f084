package models

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for the sync engine. The four categories matter because
// recovery differs: protocol errors are bugs or contract drift, rate limits
// are retried locally, transport errors surface to the state machine, and
// storage errors mean the phone itself (disk, permissions) needs attention.

// ProtocolError is a malformed or unexpected camera-server response.
type ProtocolError struct {
	Endpoint string
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error from %s: %s", e.Endpoint, e.Reason)
}

// NewProtocolError creates a ProtocolError for an endpoint.
func NewProtocolError(endpoint, reason string) *ProtocolError {
	return &ProtocolError{Endpoint: endpoint, Reason: reason}
}

// RateLimitError is an HTTP 429 from the camera server. It is retried
// locally by the catalog client; callers only see it once retries are
// exhausted.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s (retry after %s)", e.Endpoint, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited by %s", e.Endpoint)
}

// TransportError is a network-level failure: unreachable host, timeout,
// connection reset.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps a network failure.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// StorageError is a filesystem or metadata-persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps a persistence failure.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsProtocol reports whether err is (or wraps) a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Sentinel validation errors.
var (
	ErrEmptyMediaName = errors.New("media name cannot be empty")
	ErrNotFound       = errors.New("not found")
)
