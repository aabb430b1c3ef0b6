package contracts

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority is the ordering tier of an envelope. Within a queue, all
// envelopes of a higher priority are dequeued before any envelope of a
// lower priority that was enqueued earlier. Within a single priority,
// FIFO order is preserved.
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// Priorities lists all priority classes from highest to lowest. Stores
// iterate this when draining a queue, so adding a level here is enough to
// extend the scheme.
var Priorities = []Priority{PriorityHigh, PriorityNormal}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a known priority class.
func (p Priority) Valid() bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

// Envelope wraps a caller-supplied payload for transport through the
// broker. ID, CreatedAt and QueueName are assigned at creation and never
// change; DeliveryCount is incremented each time the envelope is handed to
// a consumer without being acknowledged as processed.
type Envelope struct {
	ID            string          `json:"id"`
	QueueName     string          `json:"queueName"`
	CreatedAt     time.Time       `json:"createdAt"`
	Priority      Priority        `json:"priority"`
	DeliveryCount int             `json:"deliveryCount"`
	Payload       json.RawMessage `json:"payload"`
	SchemaVersion int             `json:"v"`
}

// NewEnvelope creates an envelope with a fresh unique ID and the current
// UTC timestamp. IDs are never reused, even after the envelope is fully
// processed and discarded.
func NewEnvelope(queueName string, payload json.RawMessage, priority Priority) *Envelope {
	return &Envelope{
		ID:            uuid.New().String(),
		QueueName:     queueName,
		CreatedAt:     time.Now().UTC(),
		Priority:      priority,
		DeliveryCount: 0,
		Payload:       append(json.RawMessage(nil), payload...),
		SchemaVersion: EnvelopeSchemaVersion,
	}
}

// Clone returns a deep copy. The store hands out clones so callers never
// share payload backing arrays with stored envelopes.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Payload = append(json.RawMessage(nil), e.Payload...)
	return &clone
}

// Age returns how long the envelope has been waiting since creation.
func (e *Envelope) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}
