package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelmq/parcelmq-go/broker"
	"github.com/parcelmq/parcelmq-go/internal/metrics"
)

func TestCollector(t *testing.T) {
	ctx := context.Background()

	t.Run("samples depth into the gauges", func(t *testing.T) {
		store := broker.NewMemoryStore()
		defer store.Close()
		push(t, store, "collector-orders", 4)
		push(t, store, broker.DeadLetterQueue("collector-orders"), 1)

		collector := NewCollector(NewQueueInspector(store), []string{"collector-orders"},
			WithCollectorInterval(10*time.Millisecond),
		)
		collector.Start(ctx)
		defer collector.Stop()

		assert.Eventually(t, func() bool {
			return testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("collector-orders")) == 4
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, float64(1),
			testutil.ToFloat64(metrics.DeadLetterDepth.WithLabelValues("collector-orders")))
	})

	t.Run("stop waits for the loop and is idempotent to restart", func(t *testing.T) {
		store := broker.NewMemoryStore()
		defer store.Close()

		collector := NewCollector(NewQueueInspector(store), []string{"collector-quiet"},
			WithCollectorInterval(5*time.Millisecond),
		)
		collector.Start(ctx)
		collector.Stop()

		// A stopped collector can be started again.
		collector.Start(ctx)
		collector.Stop()

		// Stop without a running loop is a no-op.
		collector.Stop()
	})

	t.Run("sampling failure does not kill the loop", func(t *testing.T) {
		store := broker.NewMemoryStore()
		require.NoError(t, store.Close())

		collector := NewCollector(NewQueueInspector(store), []string{"collector-broken"},
			WithCollectorInterval(5*time.Millisecond),
		)
		collector.Start(ctx)
		time.Sleep(30 * time.Millisecond)
		collector.Stop()
	})
}
