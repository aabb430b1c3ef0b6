package messaging

import (
	"context"

	"github.com/parcelmq/parcelmq-go/contracts"
)

// Handler processes a delivered envelope. A nil return acknowledges the
// envelope as processed; an error triggers the redelivery policy. The
// broker never propagates a handler error as its own failure.
type Handler interface {
	Handle(ctx context.Context, envelope *contracts.Envelope) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, envelope *contracts.Envelope) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, envelope *contracts.Envelope) error {
	return f(ctx, envelope)
}

// PayloadValidator checks a payload before an envelope is built. A non-nil
// return is surfaced to the producer's caller as an InvalidPayloadError.
type PayloadValidator func(payload []byte) error
