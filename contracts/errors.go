package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrEmpty is returned by pop and peek operations when nothing is
	// available within the allowed wait.
	ErrEmpty = errors.New("queue empty")

	// ErrCancelled is returned by blocking operations that were cancelled
	// before an envelope became available. It is a normal termination
	// path, not a failure; no envelope has been consumed.
	ErrCancelled = errors.New("wait cancelled")

	// ErrStoreClosed is returned by operations against a store that has
	// been shut down.
	ErrStoreClosed = errors.New("queue store closed")
)

// InvalidPayloadError reports a payload that failed producer-side
// validation. It is surfaced synchronously and never reaches the store.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid payload: %s", e.Reason)
}

// IsRetryable marks validation failures as permanent.
func (e *InvalidPayloadError) IsRetryable() bool { return false }

// MalformedEnvelopeError reports bytes that could not be decoded into an
// envelope. The offending bytes are quarantined by the store, never
// delivered to a handler.
type MalformedEnvelopeError struct {
	Queue  string
	Reason string
	Err    error
}

func (e *MalformedEnvelopeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed envelope on queue %q: %s: %v", e.Queue, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed envelope on queue %q: %s", e.Queue, e.Reason)
}

func (e *MalformedEnvelopeError) Unwrap() error { return e.Err }

// IsRetryable marks decode failures as permanent; retrying the same bytes
// cannot succeed.
func (e *MalformedEnvelopeError) IsRetryable() bool { return false }

// StoreUnavailableError reports a transient infrastructure failure while
// talking to the backing store. Callers must treat it as retryable with
// bounded backoff.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("queue store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsRetryable marks store failures as retryable.
func (e *StoreUnavailableError) IsRetryable() bool { return true }

// NewStoreUnavailable wraps err as a StoreUnavailableError for the given
// operation name.
func NewStoreUnavailable(op string, err error) error {
	return &StoreUnavailableError{Op: op, Err: err}
}

// IsStoreUnavailable reports whether err is (or wraps) a store
// availability failure.
func IsStoreUnavailable(err error) bool {
	var sue *StoreUnavailableError
	return errors.As(err, &sue)
}

// IsMalformed reports whether err is (or wraps) a malformed-envelope
// failure.
func IsMalformed(err error) bool {
	var mee *MalformedEnvelopeError
	return errors.As(err, &mee)
}

// IsInvalidPayload reports whether err is (or wraps) a payload validation
// failure.
func IsInvalidPayload(err error) bool {
	var ipe *InvalidPayloadError
	return errors.As(err, &ipe)
}
