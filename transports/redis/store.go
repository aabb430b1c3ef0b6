// Package redis provides a Redis-backed queue store.
//
// Each named queue is a pair of Redis lists, one per priority class.
// Pushes are RPUSH appends; pops are LPOP/BLPOP with the high list ahead
// of the normal list, so BLPOP's left-to-right key order implements both
// the caller's queue preference and the priority ordering in a single
// round trip. Redis acknowledges a write before replying, which gives the
// store its write-then-acknowledge durability contract.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parcelmq/parcelmq-go/broker"
	"github.com/parcelmq/parcelmq-go/contracts"
)

// Ensure *Store implements broker.QueueStore at compile time.
var _ broker.QueueStore = (*Store)(nil)

const defaultKeyPrefix = "parcelmq:q:"

// Store is a Redis-backed broker.QueueStore.
type Store struct {
	client    *redis.Client
	codec     contracts.EnvelopeCodec
	keyPrefix string
	logger    *slog.Logger
}

// StoreOption configures the Store.
type StoreOption func(*Store)

// WithKeyPrefix sets the Redis key prefix for queue lists.
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *Store) {
		s.keyPrefix = prefix
	}
}

// WithCodec sets the envelope codec.
func WithCodec(codec contracts.EnvelopeCodec) StoreOption {
	return func(s *Store) {
		s.codec = codec
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a store on top of an existing Redis client. The caller
// owns the client's configuration; the store owns its lifetime from here
// and closes it on Close.
func NewStore(client *redis.Client, options ...StoreOption) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	s := &Store{
		client:    client,
		codec:     contracts.NewJSONCodec(),
		keyPrefix: defaultKeyPrefix,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s, nil
}

// Connect dials Redis at addr and returns a store after a successful ping.
func Connect(ctx context.Context, addr string, options ...StoreOption) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, contracts.NewStoreUnavailable("connect", err)
	}
	return NewStore(client, options...)
}

// key returns the Redis list holding queueName's entries for one priority
// class.
func (s *Store) key(queueName string, p contracts.Priority) string {
	return s.keyPrefix + queueName + ":" + p.String()
}

// popKeys returns the list keys for the given queues in pop order: for
// each queue, highest priority first.
func (s *Store) popKeys(queueNames []string) []string {
	keys := make([]string, 0, len(queueNames)*len(contracts.Priorities))
	for _, name := range queueNames {
		for _, p := range contracts.Priorities {
			keys = append(keys, s.key(name, p))
		}
	}
	return keys
}

// queueForKey recovers the queue name from a list key.
func (s *Store) queueForKey(key string, queueNames []string) string {
	for _, name := range queueNames {
		for _, p := range contracts.Priorities {
			if s.key(name, p) == key {
				return name
			}
		}
	}
	return ""
}

// Push implements broker.QueueStore.
func (s *Store) Push(ctx context.Context, queueName string, envelope *contracts.Envelope) error {
	data, err := s.codec.Encode(envelope)
	if err != nil {
		return err
	}

	if err := s.client.RPush(ctx, s.key(queueName, envelope.Priority), data).Err(); err != nil {
		return contracts.NewStoreUnavailable("push", err)
	}
	return nil
}

// Pop implements broker.QueueStore.
func (s *Store) Pop(ctx context.Context, queueName string) (*contracts.Envelope, error) {
	for _, p := range contracts.Priorities {
		data, err := s.client.LPop(ctx, s.key(queueName, p)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, contracts.NewStoreUnavailable("pop", err)
		}
		return s.decodePopped(ctx, queueName, data)
	}
	return nil, contracts.ErrEmpty
}

// PopBlocking implements broker.QueueStore. BLPOP checks keys strictly
// left to right, which is exactly the caller-order-then-priority contract.
func (s *Store) PopBlocking(ctx context.Context, queueNames []string, timeout time.Duration) (string, *contracts.Envelope, error) {
	keys := s.popKeys(queueNames)

	if timeout == 0 {
		// Check once, no waiting.
		for _, key := range keys {
			data, err := s.client.LPop(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return "", nil, s.popError(ctx, err)
			}
			queue := s.queueForKey(key, queueNames)
			env, err := s.decodePopped(ctx, queue, data)
			if err != nil {
				return "", nil, err
			}
			return queue, env, nil
		}
		return "", nil, contracts.ErrEmpty
	}

	blockFor := timeout
	if timeout < 0 {
		blockFor = 0 // BLPOP treats zero as "wait forever"
	}

	res, err := s.client.BLPop(ctx, blockFor, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, contracts.ErrEmpty
	}
	if err != nil {
		return "", nil, s.popError(ctx, err)
	}
	if len(res) != 2 {
		return "", nil, contracts.NewStoreUnavailable("pop", fmt.Errorf("unexpected BLPOP reply of %d elements", len(res)))
	}

	queue := s.queueForKey(res[0], queueNames)
	env, err := s.decodePopped(ctx, queue, []byte(res[1]))
	if err != nil {
		return "", nil, err
	}
	return queue, env, nil
}

// Depth implements broker.QueueStore.
func (s *Store) Depth(ctx context.Context, queueName string) (int64, error) {
	var depth int64
	for _, p := range contracts.Priorities {
		n, err := s.client.LLen(ctx, s.key(queueName, p)).Result()
		if err != nil {
			return 0, contracts.NewStoreUnavailable("depth", err)
		}
		depth += n
	}
	return depth, nil
}

// PeekOldest implements broker.QueueStore. It reads the head of each
// priority list without removing anything.
func (s *Store) PeekOldest(ctx context.Context, queueName string) (time.Time, error) {
	var oldest time.Time
	found := false
	for _, p := range contracts.Priorities {
		data, err := s.client.LIndex(ctx, s.key(queueName, p), 0).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return time.Time{}, contracts.NewStoreUnavailable("peek", err)
		}
		env, err := s.codec.Decode(data)
		if err != nil {
			return time.Time{}, err
		}
		if !found || env.CreatedAt.Before(oldest) {
			oldest = env.CreatedAt
			found = true
		}
	}
	if !found {
		return time.Time{}, contracts.ErrEmpty
	}
	return oldest, nil
}

// DeleteQueue implements broker.QueueStore. It also drops the queue's
// quarantine list.
func (s *Store) DeleteQueue(ctx context.Context, queueName string) error {
	keys := make([]string, 0, len(contracts.Priorities)+1)
	for _, p := range contracts.Priorities {
		keys = append(keys, s.key(queueName, p))
	}
	keys = append(keys, s.key(broker.QuarantineQueue(queueName), contracts.PriorityNormal))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return contracts.NewStoreUnavailable("delete", err)
	}
	return nil
}

// Ping implements broker.QueueStore.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return contracts.NewStoreUnavailable("ping", err)
	}
	return nil
}

// Close implements broker.QueueStore.
func (s *Store) Close() error {
	return s.client.Close()
}

// decodePopped decodes bytes removed from a queue. Undecodable bytes are
// quarantined rather than lost, and the failure is reported without
// crashing the caller's loop.
func (s *Store) decodePopped(ctx context.Context, queueName string, data []byte) (*contracts.Envelope, error) {
	env, err := s.codec.Decode(data)
	if err == nil {
		return env, nil
	}

	quarantine := s.key(broker.QuarantineQueue(queueName), contracts.PriorityNormal)
	if qerr := s.client.RPush(ctx, quarantine, data).Err(); qerr != nil {
		s.logger.Error("failed to quarantine malformed envelope",
			"queue", queueName,
			"error", qerr,
		)
	} else {
		s.logger.Warn("quarantined malformed envelope",
			"queue", queueName,
			"decodeError", err,
		)
	}

	return nil, &contracts.MalformedEnvelopeError{Queue: queueName, Reason: "undecodable stored bytes", Err: err}
}

// popError maps a failed blocking pop to the broker taxonomy: a cancelled
// context is a normal termination path, everything else is store trouble.
func (s *Store) popError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return contracts.ErrCancelled
	}
	return contracts.NewStoreUnavailable("pop", err)
}
