package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/parcelmq/parcelmq-go/broker"
	"github.com/parcelmq/parcelmq-go/contracts"
	"github.com/parcelmq/parcelmq-go/internal/metrics"
	"github.com/parcelmq/parcelmq-go/internal/reliability"
)

// DefaultMaxPayloadBytes bounds payload size unless the caller overrides
// it.
const DefaultMaxPayloadBytes = 256 * 1024

// Producer validates payloads, wraps them in envelopes and pushes them to
// the queue store.
type Producer struct {
	store           broker.QueueStore
	circuitBreaker  *reliability.CircuitBreaker
	retryPolicy     reliability.RetryPolicy
	logger          *slog.Logger
	validator       PayloadValidator
	maxPayloadBytes int
}

// ProducerOption configures the Producer.
type ProducerOption func(*Producer)

// WithProducerLogger sets the logger.
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		p.logger = logger
	}
}

// WithProducerCircuitBreaker sets the circuit breaker guarding pushes.
func WithProducerCircuitBreaker(cb *reliability.CircuitBreaker) ProducerOption {
	return func(p *Producer) {
		p.circuitBreaker = cb
	}
}

// WithProducerRetryPolicy sets the retry policy for store pushes.
func WithProducerRetryPolicy(policy reliability.RetryPolicy) ProducerOption {
	return func(p *Producer) {
		p.retryPolicy = policy
	}
}

// WithPayloadValidator sets a caller-declared payload validation hook. It
// runs before the built-in checks and before any store interaction.
func WithPayloadValidator(validator PayloadValidator) ProducerOption {
	return func(p *Producer) {
		p.validator = validator
	}
}

// WithMaxPayloadBytes sets the payload size bound.
func WithMaxPayloadBytes(limit int) ProducerOption {
	return func(p *Producer) {
		p.maxPayloadBytes = limit
	}
}

// NewProducer creates a producer over the given store.
func NewProducer(store broker.QueueStore, options ...ProducerOption) (*Producer, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	p := &Producer{
		store:           store,
		logger:          slog.Default(),
		retryPolicy:     reliability.NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 5),
		maxPayloadBytes: DefaultMaxPayloadBytes,
	}

	for _, opt := range options {
		opt(p)
	}

	return p, nil
}

// SendOptions configures a single send.
type SendOptions struct {
	Priority contracts.Priority
}

// SendOption configures send behavior.
type SendOption func(*SendOptions)

// WithPriority sets the priority class for this envelope.
func WithPriority(priority contracts.Priority) SendOption {
	return func(opts *SendOptions) {
		opts.Priority = priority
	}
}

// WithHigh marks the envelope as high priority.
func WithHigh() SendOption {
	return func(opts *SendOptions) {
		opts.Priority = contracts.PriorityHigh
	}
}

// Send validates payload, wraps it in a fresh envelope and pushes it to
// queueName. It returns the assigned envelope ID so the caller can
// correlate asynchronously. Every call assigns a new ID; idempotent
// retries are the caller's responsibility.
//
// Validation failures surface as InvalidPayloadError before any store
// interaction, so a rejected payload is never partially pushed.
func (p *Producer) Send(ctx context.Context, queueName string, payload json.RawMessage, options ...SendOption) (string, error) {
	if queueName == "" {
		return "", &contracts.InvalidPayloadError{Reason: "queue name cannot be empty"}
	}
	if err := p.validate(payload); err != nil {
		return "", err
	}

	opts := SendOptions{Priority: contracts.PriorityNormal}
	for _, opt := range options {
		opt(&opts)
	}
	if !opts.Priority.Valid() {
		return "", &contracts.InvalidPayloadError{Reason: fmt.Sprintf("unknown priority %d", opts.Priority)}
	}

	envelope := contracts.NewEnvelope(queueName, payload, opts.Priority)

	push := func() error {
		return p.store.Push(ctx, queueName, envelope)
	}

	var err error
	if p.circuitBreaker != nil {
		err = reliability.Retry(ctx, p.retryPolicy, func() error {
			return p.circuitBreaker.Execute(ctx, push)
		})
	} else {
		err = reliability.Retry(ctx, p.retryPolicy, push)
	}
	if err != nil {
		if contracts.IsStoreUnavailable(err) {
			metrics.StoreUnavailable.WithLabelValues("push").Inc()
		}
		p.logger.Error("failed to push envelope",
			"queue", queueName,
			"envelopeId", envelope.ID,
			"error", err,
		)
		return "", err
	}

	metrics.MessagesEnqueued.WithLabelValues(queueName).Inc()
	p.logger.Debug("envelope pushed",
		"queue", queueName,
		"envelopeId", envelope.ID,
		"priority", envelope.Priority.String(),
	)

	return envelope.ID, nil
}

// validate applies the caller hook first, then the built-in shape checks.
func (p *Producer) validate(payload json.RawMessage) error {
	if p.validator != nil {
		if err := p.validator(payload); err != nil {
			return &contracts.InvalidPayloadError{Reason: err.Error()}
		}
	}
	if len(payload) == 0 {
		return &contracts.InvalidPayloadError{Reason: "payload cannot be empty"}
	}
	if p.maxPayloadBytes > 0 && len(payload) > p.maxPayloadBytes {
		return &contracts.InvalidPayloadError{
			Reason: fmt.Sprintf("payload of %d bytes exceeds limit of %d", len(payload), p.maxPayloadBytes),
		}
	}
	if !json.Valid(payload) {
		return &contracts.InvalidPayloadError{Reason: "payload is not valid JSON"}
	}
	return nil
}
