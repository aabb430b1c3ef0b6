package bridge

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/parcelmq/parcelmq-go/contracts"
	"github.com/parcelmq/parcelmq-go/messaging"
)

// IngressBridge relays AMQP deliveries into a parcelmq queue.
type IngressBridge struct {
	producer    *messaging.Producer
	targetQueue string
	logger      *slog.Logger
}

// IngressOption configures the IngressBridge.
type IngressOption func(*IngressBridge)

// WithIngressLogger sets the logger.
func WithIngressLogger(logger *slog.Logger) IngressOption {
	return func(b *IngressBridge) {
		b.logger = logger
	}
}

// NewIngressBridge creates a bridge that forwards into targetQueue.
func NewIngressBridge(producer *messaging.Producer, targetQueue string, options ...IngressOption) (*IngressBridge, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer cannot be nil")
	}
	if targetQueue == "" {
		return nil, fmt.Errorf("target queue cannot be empty")
	}

	b := &IngressBridge{
		producer:    producer,
		targetQueue: targetQueue,
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(b)
	}

	return b, nil
}

// Run consumes deliveries until the channel closes or ctx is cancelled.
// Each delivery is acknowledged only after the broker has durably
// recorded it; store failures nack with requeue so the AMQP side retries.
func (b *IngressBridge) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				b.logger.Info("amqp delivery channel closed", "targetQueue", b.targetQueue)
				return nil
			}
			b.relay(ctx, delivery)
		}
	}
}

// relay forwards a single delivery.
func (b *IngressBridge) relay(ctx context.Context, delivery amqp.Delivery) {
	var opts []messaging.SendOption
	if delivery.Priority > 0 {
		opts = append(opts, messaging.WithHigh())
	}

	id, err := b.producer.Send(ctx, b.targetQueue, delivery.Body, opts...)
	switch {
	case err == nil:
		if ackErr := delivery.Ack(false); ackErr != nil {
			b.logger.Error("failed to ack relayed delivery",
				"targetQueue", b.targetQueue,
				"envelopeId", id,
				"error", ackErr,
			)
		}

	case contracts.IsInvalidPayload(err):
		// Permanently unrelayable; reject without requeue so the AMQP
		// side can dead-letter it.
		b.logger.Warn("rejecting unrelayable delivery",
			"targetQueue", b.targetQueue,
			"error", err,
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			b.logger.Error("failed to nack delivery", "error", nackErr)
		}

	default:
		// Store trouble; requeue so nothing is lost.
		b.logger.Error("relay push failed, requeueing delivery",
			"targetQueue", b.targetQueue,
			"error", err,
		)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			b.logger.Error("failed to nack delivery", "error", nackErr)
		}
	}
}

// Consume dials an AMQP broker, consumes sourceQueue and runs the bridge
// until ctx is cancelled. It is a convenience wrapper around Run.
func (b *IngressBridge) Consume(ctx context.Context, amqpURL, sourceQueue string) error {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open amqp channel: %w", err)
	}
	defer ch.Close()

	deliveries, err := ch.Consume(sourceQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", sourceQueue, err)
	}

	b.logger.Info("amqp ingress bridge running",
		"sourceQueue", sourceQueue,
		"targetQueue", b.targetQueue,
	)
	return b.Run(ctx, deliveries)
}
