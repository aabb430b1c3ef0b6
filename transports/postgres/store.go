// Package postgres provides a Postgres-backed queue store.
//
// All queues share one table. A pop deletes exactly one row chosen by
// priority then insertion id under FOR UPDATE SKIP LOCKED, so concurrent
// consumers never double-deliver and never wait on each other's locks.
// Postgres has no native blocking pop across arbitrary queues, so
// PopBlocking runs a bounded poll; the wake latency is capped by the
// configured poll interval (25ms by default).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parcelmq/parcelmq-go/broker"
	"github.com/parcelmq/parcelmq-go/contracts"
)

// Ensure *Store implements broker.QueueStore at compile time.
var _ broker.QueueStore = (*Store)(nil)

const defaultPollInterval = 25 * time.Millisecond

const (
	sqlSchema = `
CREATE TABLE IF NOT EXISTS parcelmq_messages (
    id         BIGSERIAL PRIMARY KEY,
    queue      TEXT        NOT NULL,
    priority   SMALLINT    NOT NULL DEFAULT 0,
    envelope   BYTEA       NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS parcelmq_messages_pop_idx
    ON parcelmq_messages (queue, priority DESC, id);`

	sqlPush = `
INSERT INTO parcelmq_messages (queue, priority, envelope, created_at)
VALUES ($1, $2, $3, $4);`

	// Pick exactly one row: highest priority, then insertion order.
	sqlPop = `
DELETE FROM parcelmq_messages
WHERE id = (
    SELECT id FROM parcelmq_messages
    WHERE queue = $1
    ORDER BY priority DESC, id
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING envelope;`

	sqlDepth = `SELECT count(*) FROM parcelmq_messages WHERE queue = $1;`

	sqlPeekOldest = `SELECT min(created_at) FROM parcelmq_messages WHERE queue = $1;`

	sqlDeleteQueue = `DELETE FROM parcelmq_messages WHERE queue = $1 OR queue = $2;`
)

// Store is a Postgres-backed broker.QueueStore.
type Store struct {
	pool         *pgxpool.Pool
	codec        contracts.EnvelopeCodec
	pollInterval time.Duration
	logger       *slog.Logger
}

// StoreOption configures the Store.
type StoreOption func(*Store)

// WithPollInterval sets the bounded-poll interval used by PopBlocking.
func WithPollInterval(interval time.Duration) StoreOption {
	return func(s *Store) {
		s.pollInterval = interval
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

// NewStore creates a store on top of an existing connection pool.
func NewStore(pool *pgxpool.Pool, options ...StoreOption) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool cannot be nil")
	}

	s := &Store{
		pool:         pool,
		codec:        contracts.NewJSONCodec(),
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s, nil
}

// Connect dials databaseURL, verifies the connection, and ensures the
// message table exists.
func Connect(ctx context.Context, databaseURL string, options ...StoreOption) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, contracts.NewStoreUnavailable("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, contracts.NewStoreUnavailable("connect", err)
	}

	s, err := NewStore(pool, options...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the message table and pop index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlSchema); err != nil {
		return contracts.NewStoreUnavailable("ensure schema", err)
	}
	return nil
}

// Push implements broker.QueueStore. The insert is acknowledged by
// Postgres before Push returns.
func (s *Store) Push(ctx context.Context, queueName string, envelope *contracts.Envelope) error {
	data, err := s.codec.Encode(envelope)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, sqlPush, queueName, int16(envelope.Priority), data, envelope.CreatedAt)
	if err != nil {
		return contracts.NewStoreUnavailable("push", err)
	}
	return nil
}

// Pop implements broker.QueueStore.
func (s *Store) Pop(ctx context.Context, queueName string) (*contracts.Envelope, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, sqlPop, queueName).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrEmpty
	}
	if err != nil {
		return nil, contracts.NewStoreUnavailable("pop", err)
	}
	return s.decodePopped(ctx, queueName, data)
}

// PopBlocking implements broker.QueueStore via bounded polling: each
// round tries the queues in caller order, then sleeps one poll interval.
func (s *Store) PopBlocking(ctx context.Context, queueNames []string, timeout time.Duration) (string, *contracts.Envelope, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		for _, name := range queueNames {
			env, err := s.Pop(ctx, name)
			if errors.Is(err, contracts.ErrEmpty) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return "", nil, contracts.ErrCancelled
				}
				return "", nil, err
			}
			return name, env, nil
		}

		if timeout == 0 {
			return "", nil, contracts.ErrEmpty
		}

		select {
		case <-ctx.Done():
			return "", nil, contracts.ErrCancelled
		case <-deadline:
			return "", nil, contracts.ErrEmpty
		case <-ticker.C:
		}
	}
}

// Depth implements broker.QueueStore.
func (s *Store) Depth(ctx context.Context, queueName string) (int64, error) {
	var depth int64
	if err := s.pool.QueryRow(ctx, sqlDepth, queueName).Scan(&depth); err != nil {
		return 0, contracts.NewStoreUnavailable("depth", err)
	}
	return depth, nil
}

// PeekOldest implements broker.QueueStore.
func (s *Store) PeekOldest(ctx context.Context, queueName string) (time.Time, error) {
	var oldest *time.Time
	if err := s.pool.QueryRow(ctx, sqlPeekOldest, queueName).Scan(&oldest); err != nil {
		return time.Time{}, contracts.NewStoreUnavailable("peek", err)
	}
	if oldest == nil {
		return time.Time{}, contracts.ErrEmpty
	}
	return *oldest, nil
}

// DeleteQueue implements broker.QueueStore. The queue's quarantine rows
// go with it.
func (s *Store) DeleteQueue(ctx context.Context, queueName string) error {
	_, err := s.pool.Exec(ctx, sqlDeleteQueue, queueName, broker.QuarantineQueue(queueName))
	if err != nil {
		return contracts.NewStoreUnavailable("delete", err)
	}
	return nil
}

// Ping implements broker.QueueStore.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return contracts.NewStoreUnavailable("ping", err)
	}
	return nil
}

// Close implements broker.QueueStore.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// decodePopped decodes a removed row, quarantining bytes that no longer
// parse so the consumer loop keeps going.
func (s *Store) decodePopped(ctx context.Context, queueName string, data []byte) (*contracts.Envelope, error) {
	env, err := s.codec.Decode(data)
	if err == nil {
		return env, nil
	}

	quarantine := broker.QuarantineQueue(queueName)
	_, qerr := s.pool.Exec(ctx, sqlPush, quarantine, int16(contracts.PriorityNormal), data, time.Now().UTC())
	if qerr != nil {
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
