package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parcelmq/parcelmq-go/broker"
	"github.com/parcelmq/parcelmq-go/contracts"
	"github.com/parcelmq/parcelmq-go/internal/metrics"
	"github.com/parcelmq/parcelmq-go/internal/reliability"
)

// ConsumerState is the lifecycle state of a Consumer.
type ConsumerState int32

const (
	StateStopped ConsumerState = iota
	StateRunning
	StateDraining
)

func (s ConsumerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Consumer polls one or more queues and hands envelopes to a Handler
// through a pool of workers. Each worker independently loops on a blocking
// pop; no lock is held across a handler invocation.
type Consumer struct {
	store broker.QueueStore

	logger                *slog.Logger
	workers               int
	pollTimeout           time.Duration
	maxDeliveryCount      int
	shutdownGrace         time.Duration
	storeRetryPolicy      reliability.RetryPolicy
	unavailabilityCeiling time.Duration
	onStoreUnavailable    func(error)

	mu       sync.Mutex
	state    ConsumerState
	cancel   context.CancelFunc
	inFlight sync.WaitGroup
}

// ConsumerOption configures the Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithWorkers sets how many handler invocations may run in parallel.
func WithWorkers(workers int) ConsumerOption {
	return func(c *Consumer) {
		c.workers = workers
	}
}

// WithPollTimeout sets the per-iteration blocking pop timeout. Shorter
// timeouts mean faster reaction to Stop at the cost of more store round
// trips.
func WithPollTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.pollTimeout = timeout
	}
}

// WithMaxDeliveryCount sets how many deliveries an envelope gets before it
// is routed to the dead-letter queue.
func WithMaxDeliveryCount(max int) ConsumerOption {
	return func(c *Consumer) {
		c.maxDeliveryCount = max
	}
}

// WithShutdownGrace bounds how long Stop waits for in-flight handlers.
func WithShutdownGrace(grace time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.shutdownGrace = grace
	}
}

// WithStoreRetryPolicy sets the backoff applied when the store is
// unavailable.
func WithStoreRetryPolicy(policy reliability.RetryPolicy) ConsumerOption {
	return func(c *Consumer) {
		c.storeRetryPolicy = policy
	}
}

// WithUnavailabilityCeiling sets how long the store may stay unavailable
// before the failure is escalated through the OnStoreUnavailable callback.
func WithUnavailabilityCeiling(ceiling time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.unavailabilityCeiling = ceiling
	}
}

// WithOnStoreUnavailable sets the escalation callback for sustained store
// unavailability. This is the fatal health signal to the operator; it is
// never swallowed silently.
func WithOnStoreUnavailable(fn func(error)) ConsumerOption {
	return func(c *Consumer) {
		c.onStoreUnavailable = fn
	}
}

// NewConsumer creates a consumer over the given store.
func NewConsumer(store broker.QueueStore, options ...ConsumerOption) (*Consumer, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	c := &Consumer{
		store:                 store,
		logger:                slog.Default(),
		workers:               1,
		pollTimeout:           5 * time.Second,
		maxDeliveryCount:      3,
		shutdownGrace:         30 * time.Second,
		storeRetryPolicy:      reliability.NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 10),
		unavailabilityCeiling: 2 * time.Minute,
	}

	for _, opt := range options {
		opt(c)
	}

	if c.workers < 1 {
		c.workers = 1
	}
	if c.maxDeliveryCount < 1 {
		c.maxDeliveryCount = 1
	}

	return c, nil
}

// State returns the current lifecycle state.
func (c *Consumer) State() ConsumerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start transitions Stopped -> Running and begins polling the given
// queues in the given preference order.
func (c *Consumer) Start(ctx context.Context, queueNames []string, handler Handler) error {
	if len(queueNames) == 0 {
		return fmt.Errorf("at least one queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return fmt.Errorf("consumer is %s, must be stopped to start", c.state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.state = StateRunning
	c.cancel = cancel
	c.mu.Unlock()

	for i := 0; i < c.workers; i++ {
		c.inFlight.Add(1)
		go c.workerLoop(runCtx, i, queueNames, handler)
	}

	c.logger.Info("consumer started",
		"queues", queueNames,
		"workers", c.workers,
		"maxDeliveryCount", c.maxDeliveryCount,
	)
	return nil
}

// Stop transitions Running -> Draining -> Stopped. Workers stop pulling
// new envelopes immediately; in-flight handler invocations get until the
// shutdown grace period elapses, whichever comes first.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("consumer is %s, must be running to stop", state)
	}
	c.state = StateDraining
	cancel := c.cancel
	c.mu.Unlock()

	c.logger.Info("consumer draining")
	cancel()

	done := make(chan struct{})
	go func() {
		c.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.shutdownGrace):
		c.logger.Warn("shutdown grace elapsed with handlers still in flight",
			"grace", c.shutdownGrace,
		)
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	c.logger.Info("consumer stopped")
	return nil
}

// workerLoop is one worker's pop-dispatch cycle.
func (c *Consumer) workerLoop(ctx context.Context, id int, queueNames []string, handler Handler) {
	defer c.inFlight.Done()

	logger := c.logger.With("worker", id)
	var unavailableSince time.Time
	storeAttempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		queue, envelope, err := c.store.PopBlocking(ctx, queueNames, c.pollTimeout)
		switch {
		case err == nil:
			unavailableSince = time.Time{}
			storeAttempt = 0
			c.deliver(ctx, queue, envelope, handler, logger)

		case errors.Is(err, contracts.ErrEmpty):
			unavailableSince = time.Time{}
			storeAttempt = 0

		case errors.Is(err, contracts.ErrCancelled):
			return

		case contracts.IsMalformed(err):
			// Already quarantined by the store; report and keep going.
			var malformed *contracts.MalformedEnvelopeError
			if errors.As(err, &malformed) {
				queue = malformed.Queue
			}
			metrics.MessagesMalformed.WithLabelValues(queue).Inc()
			logger.Error("malformed envelope quarantined", "queue", queue, "error", err)

		case contracts.IsStoreUnavailable(err):
			metrics.StoreUnavailable.WithLabelValues("pop").Inc()
			if unavailableSince.IsZero() {
				unavailableSince = time.Now()
			}
			if time.Since(unavailableSince) > c.unavailabilityCeiling {
				logger.Error("store unavailable beyond ceiling, escalating",
					"since", unavailableSince,
					"error", err,
				)
				if c.onStoreUnavailable != nil {
					c.onStoreUnavailable(err)
				}
				unavailableSince = time.Now()
			}
			if !c.backoff(ctx, storeAttempt, err, logger) {
				return
			}
			storeAttempt++

		default:
			logger.Error("unexpected pop failure", "error", err)
			if !c.backoff(ctx, storeAttempt, err, logger) {
				return
			}
			storeAttempt++
		}
	}
}

// backoff sleeps the policy delay for the given attempt. It returns false
// when the context was cancelled while waiting.
func (c *Consumer) backoff(ctx context.Context, attempt int, err error, logger *slog.Logger) bool {
	delay := c.storeRetryPolicy.NextDelay(attempt)
	logger.Warn("store unavailable, backing off",
		"attempt", attempt,
		"delay", delay,
		"error", err,
	)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// deliver invokes the handler and applies the redelivery policy. The
// envelope has already been popped; success makes that pop the commit
// point, failure re-pushes or dead-letters.
func (c *Consumer) deliver(ctx context.Context, queue string, envelope *contracts.Envelope, handler Handler, logger *slog.Logger) {
	metrics.MessagesDelivered.WithLabelValues(queue).Inc()

	err := handler.Handle(ctx, envelope)
	if err == nil {
		logger.Debug("envelope processed",
			"queue", queue,
			"envelopeId", envelope.ID,
			"deliveryCount", envelope.DeliveryCount,
		)
		return
	}

	metrics.HandlerFailures.WithLabelValues(queue).Inc()
	logger.Error("handler failed",
		"queue", queue,
		"envelopeId", envelope.ID,
		"deliveryCount", envelope.DeliveryCount,
		"error", err,
	)

	envelope.DeliveryCount++

	if envelope.DeliveryCount >= c.maxDeliveryCount {
		c.deadLetter(ctx, queue, envelope, err, logger)
		return
	}

	// Re-push to the tail of its priority class on the same queue.
	if pushErr := c.repush(ctx, queue, envelope); pushErr != nil {
		logger.Error("failed to requeue envelope for redelivery",
			"queue", queue,
			"envelopeId", envelope.ID,
			"error", pushErr,
		)
		return
	}
	metrics.MessagesRedelivered.WithLabelValues(queue).Inc()
	logger.Info("envelope requeued for redelivery",
		"queue", queue,
		"envelopeId", envelope.ID,
		"deliveryCount", envelope.DeliveryCount,
		"maxDeliveryCount", c.maxDeliveryCount,
	)
}

// deadLetter routes an exhausted envelope to the queue's dead-letter
// companion. The failure is reported, not retried further.
func (c *Consumer) deadLetter(ctx context.Context, queue string, envelope *contracts.Envelope, cause error, logger *slog.Logger) {
	dlq := broker.DeadLetterQueue(queue)
	if pushErr := c.repush(ctx, dlq, envelope); pushErr != nil {
		logger.Error("failed to dead-letter envelope",
			"queue", queue,
			"deadLetterQueue", dlq,
			"envelopeId", envelope.ID,
			"error", pushErr,
		)
		return
	}
	metrics.MessagesDeadLettered.WithLabelValues(queue).Inc()
	logger.Error("envelope dead-lettered after exhausting deliveries",
		"queue", queue,
		"deadLetterQueue", dlq,
		"envelopeId", envelope.ID,
		"deliveryCount", envelope.DeliveryCount,
		"cause", cause,
	)
}

// repush pushes with backoff so a redelivery is not lost to a transient
// store hiccup. It uses a background-derived context so draining does not
// drop envelopes that already failed a handler.
func (c *Consumer) repush(ctx context.Context, queue string, envelope *contracts.Envelope) error {
	pushCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		pushCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	return reliability.Retry(pushCtx, c.storeRetryPolicy, func() error {
		return c.store.Push(pushCtx, queue, envelope)
	})
}
