package broker

import (
	"context"
	"time"

	"github.com/parcelmq/parcelmq-go/contracts"
)

// QueueStore is the storage and retrieval contract for named queues.
//
// All mutating operations are serialized per queue; reads (Depth,
// PeekOldest) never block pushes or pops for long. Every operation
// reports backend trouble as contracts.StoreUnavailableError, which
// callers must treat as retryable.
type QueueStore interface {
	// Push appends the envelope to queueName, creating the queue if it
	// does not exist. Normal envelopes go to the tail; high envelopes go
	// ahead of all normal envelopes but behind previously pushed high
	// ones. The envelope is durably recorded before Push returns.
	Push(ctx context.Context, queueName string, envelope *contracts.Envelope) error

	// Pop removes and returns the next envelope from queueName without
	// waiting. Returns contracts.ErrEmpty when the queue has nothing.
	Pop(ctx context.Context, queueName string) (*contracts.Envelope, error)

	// PopBlocking waits up to timeout for an envelope on any of the given
	// queues, checked in the caller-supplied order when several are ready
	// at once. A timeout of zero checks once and returns immediately; a
	// negative timeout waits until an envelope arrives or ctx is
	// cancelled. Cancellation returns contracts.ErrCancelled without
	// consuming an envelope; an elapsed timeout returns
	// contracts.ErrEmpty.
	PopBlocking(ctx context.Context, queueNames []string, timeout time.Duration) (string, *contracts.Envelope, error)

	// Depth returns the current count of stored, undelivered envelopes.
	// The value is a point-in-time snapshot and may be stale by the time
	// the caller acts on it.
	Depth(ctx context.Context, queueName string) (int64, error)

	// PeekOldest returns the creation timestamp of the longest-waiting
	// envelope, or contracts.ErrEmpty when the queue has nothing. It
	// never mutates the queue.
	PeekOldest(ctx context.Context, queueName string) (time.Time, error)

	// DeleteQueue removes a queue and everything in it. Deletion is an
	// explicit operational action; queues are never dropped implicitly
	// on drain.
	DeleteQueue(ctx context.Context, queueName string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources. Operations after Close fail
	// with contracts.ErrStoreClosed.
	Close() error
}

const (
	deadLetterSuffix = ".dead"
	quarantineSuffix = ".malformed"
)

// DeadLetterQueue returns the companion queue that collects envelopes
// which exhausted redelivery.
func DeadLetterQueue(queueName string) string {
	return queueName + deadLetterSuffix
}

// QuarantineQueue returns the companion queue that collects stored bytes
// which could not be decoded into an envelope.
func QuarantineQueue(queueName string) string {
	return queueName + quarantineSuffix
}

// NoTimeout makes PopBlocking wait until an envelope arrives or the
// context is cancelled.
const NoTimeout time.Duration = -1
