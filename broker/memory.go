package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parcelmq/parcelmq-go/contracts"
)

// MemoryStore is an in-process QueueStore. It is not durable across
// restarts; it exists for embedded brokers and for tests, which can spin
// up isolated instances with explicit construction and shutdown.
//
// Waiters are woken through a store-wide broadcast channel that is closed
// and replaced on every push, so a blocking pop wakes promptly without
// busy-polling.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	notify chan struct{}
	closed bool
	logger *slog.Logger
}

// memoryQueue holds one slice per priority class, highest first. Heads
// are the oldest entries of their class.
type memoryQueue struct {
	segments [][]*contracts.Envelope
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{segments: make([][]*contracts.Envelope, len(contracts.Priorities))}
}

// segmentIndex maps a priority to its slice, highest priority at index 0.
func segmentIndex(p contracts.Priority) int {
	for i, known := range contracts.Priorities {
		if p == known {
			return i
		}
	}
	// Unknown priorities sort with the lowest class.
	return len(contracts.Priorities) - 1
}

// MemoryStoreOption configures the MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryStoreLogger sets the logger.
func WithMemoryStoreLogger(logger *slog.Logger) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(options ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		queues: make(map[string]*memoryQueue),
		notify: make(chan struct{}),
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Push implements QueueStore.
func (s *MemoryStore) Push(ctx context.Context, queueName string, envelope *contracts.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return contracts.NewStoreUnavailable("push", contracts.ErrStoreClosed)
	}

	q, ok := s.queues[queueName]
	if !ok {
		q = newMemoryQueue()
		s.queues[queueName] = q
	}

	idx := segmentIndex(envelope.Priority)
	q.segments[idx] = append(q.segments[idx], envelope.Clone())

	// Wake every blocked pop; each re-checks its own queues.
	close(s.notify)
	s.notify = make(chan struct{})

	return nil
}

// Pop implements QueueStore.
func (s *MemoryStore) Pop(ctx context.Context, queueName string) (*contracts.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, contracts.NewStoreUnavailable("pop", contracts.ErrStoreClosed)
	}

	env := s.popLocked(queueName)
	if env == nil {
		return nil, contracts.ErrEmpty
	}
	return env, nil
}

// PopBlocking implements QueueStore.
func (s *MemoryStore) PopBlocking(ctx context.Context, queueNames []string, timeout time.Duration) (string, *contracts.Envelope, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", nil, contracts.NewStoreUnavailable("pop", contracts.ErrStoreClosed)
		}
		for _, name := range queueNames {
			if env := s.popLocked(name); env != nil {
				s.mu.Unlock()
				return name, env, nil
			}
		}
		wake := s.notify
		s.mu.Unlock()

		if timeout == 0 {
			return "", nil, contracts.ErrEmpty
		}

		select {
		case <-ctx.Done():
			return "", nil, contracts.ErrCancelled
		case <-deadline:
			return "", nil, contracts.ErrEmpty
		case <-wake:
		}
	}
}

// Depth implements QueueStore.
func (s *MemoryStore) Depth(ctx context.Context, queueName string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, contracts.NewStoreUnavailable("depth", contracts.ErrStoreClosed)
	}

	q, ok := s.queues[queueName]
	if !ok {
		return 0, nil
	}

	var depth int64
	for _, segment := range q.segments {
		depth += int64(len(segment))
	}
	return depth, nil
}

// PeekOldest implements QueueStore.
func (s *MemoryStore) PeekOldest(ctx context.Context, queueName string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return time.Time{}, contracts.NewStoreUnavailable("peek", contracts.ErrStoreClosed)
	}

	q, ok := s.queues[queueName]
	if !ok {
		return time.Time{}, contracts.ErrEmpty
	}

	// FIFO within a class means each segment head is the oldest of its
	// class; the overall oldest is the earliest of those heads.
	var oldest time.Time
	found := false
	for _, segment := range q.segments {
		if len(segment) == 0 {
			continue
		}
		if !found || segment[0].CreatedAt.Before(oldest) {
			oldest = segment[0].CreatedAt
			found = true
		}
	}
	if !found {
		return time.Time{}, contracts.ErrEmpty
	}
	return oldest, nil
}

// DeleteQueue implements QueueStore.
func (s *MemoryStore) DeleteQueue(ctx context.Context, queueName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return contracts.NewStoreUnavailable("delete", contracts.ErrStoreClosed)
	}

	delete(s.queues, queueName)
	return nil
}

// Ping implements QueueStore.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return contracts.NewStoreUnavailable("ping", contracts.ErrStoreClosed)
	}
	return nil
}

// Close implements QueueStore. Blocked pops wake and fail with
// contracts.ErrStoreClosed wrapped in a StoreUnavailableError.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.notify)
	s.notify = make(chan struct{})

	s.logger.Debug("memory store closed", "queues", len(s.queues))
	return nil
}

// popLocked removes the next envelope by priority then FIFO. Caller holds
// s.mu.
func (s *MemoryStore) popLocked(queueName string) *contracts.Envelope {
	q, ok := s.queues[queueName]
	if !ok {
		return nil
	}
	for i, segment := range q.segments {
		if len(segment) == 0 {
			continue
		}
		env := segment[0]
		q.segments[i] = segment[1:]
		// Removed from the store, so ownership transfers without a copy.
		return env
	}
	return nil
}
