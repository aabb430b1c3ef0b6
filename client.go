// Package parcelmq assembles a broker from its parts: a queue store, a
// producer, consumers and an inspector, with explicit construction and
// shutdown so every process (and every test) owns its own instance.
package parcelmq

import (
	"fmt"
	"log/slog"

	"github.com/parcelmq/parcelmq-go/broker"
	"github.com/parcelmq/parcelmq-go/messaging"
	"github.com/parcelmq/parcelmq-go/monitor"
)

// Client is the main entry point for embedding parcelmq in a process.
type Client struct {
	store     broker.QueueStore
	producer  *messaging.Producer
	inspector *monitor.QueueInspector
	logger    *slog.Logger
	ownsStore bool
}

type clientConfig struct {
	logger        *slog.Logger
	store         broker.QueueStore
	producerOpts  []messaging.ProducerOption
	inspectorOpts []monitor.InspectorOption
}

// ClientOption configures the Client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger shared by all assembled components.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithStore runs the client on a caller-provided store (Redis, Postgres
// or any other broker.QueueStore). The caller keeps ownership of its
// lifetime.
func WithStore(store broker.QueueStore) ClientOption {
	return func(cfg *clientConfig) {
		cfg.store = store
	}
}

// WithProducerOptions forwards options to the assembled producer.
func WithProducerOptions(opts ...messaging.ProducerOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.producerOpts = append(cfg.producerOpts, opts...)
	}
}

// WithInspectorOptions forwards options to the assembled inspector.
func WithInspectorOptions(opts ...monitor.InspectorOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.inspectorOpts = append(cfg.inspectorOpts, opts...)
	}
}

// NewClient assembles a broker client. Without WithStore it runs on a
// fresh in-process MemoryStore owned (and closed) by the client.
func NewClient(options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	store := cfg.store
	ownsStore := false
	if store == nil {
		store = broker.NewMemoryStore(broker.WithMemoryStoreLogger(cfg.logger))
		ownsStore = true
	}

	producerOpts := append([]messaging.ProducerOption{messaging.WithProducerLogger(cfg.logger)}, cfg.producerOpts...)
	producer, err := messaging.NewProducer(store, producerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return &Client{
		store:     store,
		producer:  producer,
		inspector: monitor.NewQueueInspector(store, cfg.inspectorOpts...),
		logger:    cfg.logger,
		ownsStore: ownsStore,
	}, nil
}

// Store returns the underlying queue store.
func (c *Client) Store() broker.QueueStore {
	return c.store
}

// Producer returns the assembled producer.
func (c *Client) Producer() *messaging.Producer {
	return c.producer
}

// Inspector returns the assembled queue inspector.
func (c *Client) Inspector() *monitor.QueueInspector {
	return c.inspector
}

// NewConsumer creates a consumer over the client's store.
func (c *Client) NewConsumer(options ...messaging.ConsumerOption) (*messaging.Consumer, error) {
	opts := append([]messaging.ConsumerOption{messaging.WithConsumerLogger(c.logger)}, options...)
	return messaging.NewConsumer(c.store, opts...)
}

// Close shuts the client down, closing the store only when the client
// created it.
func (c *Client) Close() error {
	if !c.ownsStore {
		return nil
	}
	return c.store.Close()
}
