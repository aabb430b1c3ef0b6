package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelmq/parcelmq-go/broker"
	"github.com/parcelmq/parcelmq-go/contracts"
	"github.com/parcelmq/parcelmq-go/internal/reliability"
	"github.com/parcelmq/parcelmq-go/messaging"
	"github.com/parcelmq/parcelmq-go/monitor"
)

func newTestServer(t *testing.T) (http.Handler, broker.QueueStore) {
	t.Helper()

	store := broker.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	producer, err := messaging.NewProducer(store,
		messaging.WithProducerRetryPolicy(reliability.NewFixedDelay(time.Millisecond, 1)),
	)
	require.NoError(t, err)

	srv := NewServer(":0", store, producer, monitor.NewQueueInspector(store))
	return srv.Handler, store
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueEndpoint(t *testing.T) {
	t.Run("accepts a payload and returns the envelope id", func(t *testing.T) {
		handler, store := newTestServer(t)

		rec := doJSON(t, handler, http.MethodPost, "/v1/queues/orders/messages",
			`{"payload":{"order":"order-1"},"priority":"high"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ID)

		env, err := store.Pop(context.Background(), "orders")
		require.NoError(t, err)
		assert.Equal(t, resp.ID, env.ID)
		assert.Equal(t, contracts.PriorityHigh, env.Priority)
	})

	t.Run("defaults to normal priority", func(t *testing.T) {
		handler, store := newTestServer(t)

		rec := doJSON(t, handler, http.MethodPost, "/v1/queues/orders/messages",
			`{"payload":1}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		env, err := store.Pop(context.Background(), "orders")
		require.NoError(t, err)
		assert.Equal(t, contracts.PriorityNormal, env.Priority)
	})

	t.Run("rejects an invalid payload with 400", func(t *testing.T) {
		handler, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodPost, "/v1/queues/orders/messages",
			`{"priority":"normal"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid payload")
	})

	t.Run("rejects an unknown priority with 400", func(t *testing.T) {
		handler, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodPost, "/v1/queues/orders/messages",
			`{"payload":1,"priority":"urgent"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects a non-JSON body with 400", func(t *testing.T) {
		handler, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodPost, "/v1/queues/orders/messages", "not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("closed store maps to 503", func(t *testing.T) {
		handler, store := newTestServer(t)
		require.NoError(t, store.Close())

		rec := doJSON(t, handler, http.MethodPost, "/v1/queues/orders/messages",
			`{"payload":1}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestPopEndpoint(t *testing.T) {
	t.Run("returns the oldest highest-priority envelope", func(t *testing.T) {
		handler, _ := newTestServer(t)

		require.Equal(t, http.StatusCreated,
			doJSON(t, handler, http.MethodPost, "/v1/queues/orders/messages", `{"payload":"order-2"}`).Code)
		require.Equal(t, http.StatusCreated,
			doJSON(t, handler, http.MethodPost, "/v1/queues/orders/messages", `{"payload":"order-1","priority":"high"}`).Code)

		rec := doJSON(t, handler, http.MethodPost, "/v1/queues/orders:pop", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Envelope *contracts.Envelope `json:"envelope"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Envelope)
		assert.JSONEq(t, `"order-1"`, string(resp.Envelope.Payload))
	})

	t.Run("empty queue returns 204", func(t *testing.T) {
		handler, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodPost, "/v1/queues/orders:pop", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestStatusEndpoints(t *testing.T) {
	t.Run("queue status reflects depth", func(t *testing.T) {
		handler, _ := newTestServer(t)

		for i := 0; i < 3; i++ {
			require.Equal(t, http.StatusCreated,
				doJSON(t, handler, http.MethodPost, "/v1/queues/orders/messages", `{"payload":1}`).Code)
		}

		rec := doJSON(t, handler, http.MethodGet, "/v1/queues/orders/status", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var status monitor.QueueStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "orders", status.Queue)
		assert.Equal(t, int64(3), status.Depth)
		assert.Equal(t, monitor.StatusHealthy, status.Status)
	})

	t.Run("aggregate status covers the requested queues", func(t *testing.T) {
		handler, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodGet, "/v1/status?queues=orders,emails", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var report monitor.StatusReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Len(t, report.Queues, 2)
		assert.Equal(t, monitor.StatusHealthy, report.Overall)
	})

	t.Run("aggregate status without queues is 400", func(t *testing.T) {
		handler, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodGet, "/v1/status", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDeleteQueueEndpoint(t *testing.T) {
	handler, store := newTestServer(t)

	require.Equal(t, http.StatusCreated,
		doJSON(t, handler, http.MethodPost, "/v1/queues/orders/messages", `{"payload":1}`).Code)

	rec := doJSON(t, handler, http.MethodDelete, "/v1/queues/orders", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	depth, err := store.Depth(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestHealthz(t *testing.T) {
	t.Run("healthy store", func(t *testing.T) {
		handler, _ := newTestServer(t)

		rec := doJSON(t, handler, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("closed store", func(t *testing.T) {
		handler, store := newTestServer(t)
		require.NoError(t, store.Close())

		rec := doJSON(t, handler, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
