package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelmq/parcelmq-go/contracts"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("delays grow by the multiplier", func(t *testing.T) {
		policy := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 5)
		policy.Jitter = false

		assert.Equal(t, 100*time.Millisecond, policy.NextDelay(0))
		assert.Equal(t, 200*time.Millisecond, policy.NextDelay(1))
		assert.Equal(t, 400*time.Millisecond, policy.NextDelay(2))
	})

	t.Run("delay is capped at the max interval", func(t *testing.T) {
		policy := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 20)
		policy.Jitter = false

		assert.Equal(t, time.Second, policy.NextDelay(10))
	})

	t.Run("jitter stays within fifteen percent", func(t *testing.T) {
		policy := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 5)

		for i := 0; i < 50; i++ {
			delay := policy.NextDelay(0)
			assert.GreaterOrEqual(t, delay, 85*time.Millisecond)
			assert.LessOrEqual(t, delay, 115*time.Millisecond)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		policy := NewExponentialBackoff(time.Millisecond, time.Second, 2.0, 3)

		retry, _ := policy.ShouldRetry(2, errors.New("boom"))
		assert.True(t, retry)

		retry, _ = policy.ShouldRetry(3, errors.New("boom"))
		assert.False(t, retry)
	})

	t.Run("honors non-retryable errors", func(t *testing.T) {
		policy := NewExponentialBackoff(time.Millisecond, time.Second, 2.0, 5)

		retry, _ := policy.ShouldRetry(0, &contracts.InvalidPayloadError{Reason: "bad"})
		assert.False(t, retry)

		retry, _ = policy.ShouldRetry(0, contracts.NewStoreUnavailable("push", errors.New("down")))
		assert.True(t, retry)
	})
}

func TestFixedDelay(t *testing.T) {
	policy := NewFixedDelay(50*time.Millisecond, 2)

	assert.Equal(t, 50*time.Millisecond, policy.NextDelay(0))
	assert.Equal(t, 50*time.Millisecond, policy.NextDelay(7))

	retry, delay := policy.ShouldRetry(0, errors.New("boom"))
	assert.True(t, retry)
	assert.Equal(t, 50*time.Millisecond, delay)

	retry, _ = policy.ShouldRetry(2, errors.New("boom"))
	assert.False(t, retry)
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("returns immediately on success", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 5), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 5), func() error {
			calls++
			if calls < 3 {
				return contracts.NewStoreUnavailable("push", errors.New("down"))
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns the last error when attempts exhaust", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 2), func() error {
			calls++
			return contracts.NewStoreUnavailable("push", errors.New("still down"))
		})
		assert.True(t, contracts.IsStoreUnavailable(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on a non-retryable error", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 5), func() error {
			calls++
			return &contracts.InvalidPayloadError{Reason: "bad"}
		})
		assert.True(t, contracts.IsInvalidPayload(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Retry(cancelCtx, NewFixedDelay(time.Second, 10), func() error {
			calls++
			cancel()
			return contracts.NewStoreUnavailable("push", errors.New("down"))
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
