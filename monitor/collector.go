package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parcelmq/parcelmq-go/internal/metrics"
)

// Collector periodically samples the inspector and publishes the readings
// as Prometheus gauges. It only reads; the sampled queues are fixed at
// start.
type Collector struct {
	inspector *QueueInspector
	queues    []string
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// CollectorOption configures the Collector.
type CollectorOption func(*Collector)

// WithCollectorInterval sets the sampling interval.
func WithCollectorInterval(interval time.Duration) CollectorOption {
	return func(c *Collector) {
		c.interval = interval
	}
}

// WithCollectorLogger sets the logger.
func WithCollectorLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) {
		c.logger = logger
	}
}

// NewCollector creates a collector sampling the given queues.
func NewCollector(inspector *QueueInspector, queues []string, options ...CollectorOption) *Collector {
	c := &Collector{
		inspector: inspector,
		queues:    queues,
		interval:  15 * time.Second,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Start begins background sampling. It returns immediately.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})

	go c.run(runCtx)
}

// Stop halts sampling and waits for the loop to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	stopped := c.stopped
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.stopped)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

func (c *Collector) sample(ctx context.Context) {
	for _, queue := range c.queues {
		status, err := c.inspector.Inspect(ctx, queue)
		if err != nil {
			c.logger.Warn("queue sample failed", "queue", queue, "error", err)
			continue
		}
		metrics.QueueDepth.WithLabelValues(queue).Set(float64(status.Depth))
		metrics.QueueOldestAge.WithLabelValues(queue).Set(status.OldestAge.Seconds())
		metrics.DeadLetterDepth.WithLabelValues(queue).Set(float64(status.DeadLetterDepth))
	}
}
