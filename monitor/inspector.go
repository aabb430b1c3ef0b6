// Package monitor provides read-only operational visibility over a queue
// store: per-queue status, aggregated health reports and a background
// collector that keeps Prometheus gauges fresh.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parcelmq/parcelmq-go/broker"
	"github.com/parcelmq/parcelmq-go/contracts"
)

// Status represents an assessed health level.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// QueueStatus is a point-in-time snapshot of one queue. Values may be
// stale by the time the caller acts on them.
type QueueStatus struct {
	Queue           string        `json:"queue"`
	Depth           int64         `json:"depth"`
	OldestAge       time.Duration `json:"oldest_age"`
	DeadLetterDepth int64         `json:"dead_letter_depth"`
	Status          Status        `json:"status"`
	Message         string        `json:"message,omitempty"`
}

// StatusReport aggregates queue statuses with an overall assessment.
type StatusReport struct {
	Timestamp time.Time     `json:"timestamp"`
	Overall   Status        `json:"overall"`
	Queues    []QueueStatus `json:"queues"`
}

// QueueInspector is a read-only facade over the store's depth and
// peek-oldest queries. It never mutates state and is safe to call with
// arbitrary concurrency.
type QueueInspector struct {
	store broker.QueueStore

	depthDegraded  int64
	depthUnhealthy int64
	ageDegraded    time.Duration
}

// InspectorOption configures the QueueInspector.
type InspectorOption func(*QueueInspector)

// WithDepthThresholds sets the backlog sizes at which a queue is assessed
// degraded and unhealthy.
func WithDepthThresholds(degraded, unhealthy int64) InspectorOption {
	return func(qi *QueueInspector) {
		qi.depthDegraded = degraded
		qi.depthUnhealthy = unhealthy
	}
}

// WithAgeThreshold sets the oldest-envelope age at which a queue is
// assessed degraded.
func WithAgeThreshold(age time.Duration) InspectorOption {
	return func(qi *QueueInspector) {
		qi.ageDegraded = age
	}
}

// NewQueueInspector creates an inspector over the given store.
func NewQueueInspector(store broker.QueueStore, options ...InspectorOption) *QueueInspector {
	qi := &QueueInspector{
		store:          store,
		depthDegraded:  1000,
		depthUnhealthy: 10000,
		ageDegraded:    5 * time.Minute,
	}

	for _, opt := range options {
		opt(qi)
	}

	return qi
}

// Inspect returns the status of a single queue, including its dead-letter
// companion's depth.
func (qi *QueueInspector) Inspect(ctx context.Context, queueName string) (*QueueStatus, error) {
	depth, err := qi.store.Depth(ctx, queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue %s: %w", queueName, err)
	}

	var age time.Duration
	oldest, err := qi.store.PeekOldest(ctx, queueName)
	switch {
	case err == nil:
		age = time.Since(oldest)
	case errors.Is(err, contracts.ErrEmpty):
		// Empty queue, age stays zero.
	default:
		return nil, fmt.Errorf("failed to inspect queue %s: %w", queueName, err)
	}

	dlqDepth, err := qi.store.Depth(ctx, broker.DeadLetterQueue(queueName))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue %s: %w", queueName, err)
	}

	status := &QueueStatus{
		Queue:           queueName,
		Depth:           depth,
		OldestAge:       age,
		DeadLetterDepth: dlqDepth,
	}
	qi.assess(status)
	return status, nil
}

// Report aggregates the status of the given queues. A queue that cannot
// be inspected is reported unhealthy rather than failing the whole
// report.
func (qi *QueueInspector) Report(ctx context.Context, queueNames ...string) *StatusReport {
	report := &StatusReport{
		Timestamp: time.Now().UTC(),
		Overall:   StatusHealthy,
		Queues:    make([]QueueStatus, 0, len(queueNames)),
	}

	for _, name := range queueNames {
		status, err := qi.Inspect(ctx, name)
		if err != nil {
			status = &QueueStatus{
				Queue:   name,
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("inspection failed: %v", err),
			}
		}
		report.Queues = append(report.Queues, *status)
		report.Overall = worse(report.Overall, status.Status)
	}

	return report
}

// assess fills in the health assessment from the snapshot numbers.
func (qi *QueueInspector) assess(status *QueueStatus) {
	switch {
	case status.Depth >= qi.depthUnhealthy:
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("backlog of %d envelopes", status.Depth)
	case status.Depth >= qi.depthDegraded:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("elevated backlog of %d envelopes", status.Depth)
	case qi.ageDegraded > 0 && status.OldestAge >= qi.ageDegraded:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("oldest envelope waiting %v", status.OldestAge.Round(time.Second))
	case status.DeadLetterDepth > 0:
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("%d envelopes in dead-letter queue", status.DeadLetterDepth)
	default:
		status.Status = StatusHealthy
	}
}

// worse returns the more severe of two statuses.
func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
