package contracts

import (
	"encoding/json"
	"fmt"
)

// EnvelopeSchemaVersion is the wire schema understood by this codec.
// Decoding rejects any other version.
const EnvelopeSchemaVersion = 1

// EnvelopeCodec serializes envelopes to and from the transport-neutral
// byte encoding used at store boundaries. Decode(Encode(e)) is
// semantically equal to e for every well-formed envelope.
type EnvelopeCodec interface {
	Encode(envelope *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

// JSONCodec is the default envelope codec.
type JSONCodec struct{}

// NewJSONCodec creates a new JSON envelope codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode serializes an envelope. It never fails for a well-formed
// in-memory envelope; a nil envelope is a programming error and is
// reported as such.
func (c *JSONCodec) Encode(envelope *Envelope) ([]byte, error) {
	if envelope == nil {
		return nil, fmt.Errorf("envelope cannot be nil")
	}
	out := *envelope
	out.SchemaVersion = EnvelopeSchemaVersion
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses bytes produced by Encode. Truncated input, an unknown
// schema version, missing identity fields or a non-JSON payload all fail
// with MalformedEnvelopeError.
func (c *JSONCodec) Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, &MalformedEnvelopeError{Reason: "empty input"}
	}

	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &MalformedEnvelopeError{Reason: "invalid JSON", Err: err}
	}
	if envelope.SchemaVersion != EnvelopeSchemaVersion {
		return nil, &MalformedEnvelopeError{
			Queue:  envelope.QueueName,
			Reason: fmt.Sprintf("unsupported schema version %d", envelope.SchemaVersion),
		}
	}
	if envelope.ID == "" {
		return nil, &MalformedEnvelopeError{Queue: envelope.QueueName, Reason: "missing id"}
	}
	if envelope.QueueName == "" {
		return nil, &MalformedEnvelopeError{Reason: "missing queue name"}
	}
	if !envelope.Priority.Valid() {
		return nil, &MalformedEnvelopeError{
			Queue:  envelope.QueueName,
			Reason: fmt.Sprintf("unknown priority %d", envelope.Priority),
		}
	}
	if len(envelope.Payload) > 0 && !json.Valid(envelope.Payload) {
		return nil, &MalformedEnvelopeError{Queue: envelope.QueueName, Reason: "payload is not valid JSON"}
	}

	return &envelope, nil
}
