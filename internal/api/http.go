// Package api exposes the broker over HTTP. The transport is thin glue:
// it marshals to and from the producer, store and inspector calls and
// owns no queue semantics of its own.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parcelmq/parcelmq-go/broker"
	"github.com/parcelmq/parcelmq-go/contracts"
	"github.com/parcelmq/parcelmq-go/messaging"
	"github.com/parcelmq/parcelmq-go/monitor"
)

// Server wires the broker components behind chi routes.
type Server struct {
	store     broker.QueueStore
	producer  *messaging.Producer
	inspector *monitor.QueueInspector
	timeout   time.Duration
}

// NewServer builds the HTTP server for the given broker components.
func NewServer(addr string, store broker.QueueStore, producer *messaging.Producer, inspector *monitor.QueueInspector) *http.Server {
	srv := &Server{
		store:     store,
		producer:  producer,
		inspector: inspector,
		timeout:   15 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(srv.timeout))

	r.Get("/healthz", srv.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// enqueue: POST /v1/queues/{queue}/messages
		r.Post("/queues/{queue}/messages", srv.handleEnqueue)

		// non-blocking receive: POST /v1/queues/{queue}:pop
		r.Post("/queues/{queue}:pop", srv.handlePop)

		// status: GET /v1/queues/{queue}/status and GET /v1/status
		r.Get("/queues/{queue}/status", srv.handleQueueStatus)
		r.Get("/status", srv.handleStatus)

		// explicit operational deletion
		r.Delete("/queues/{queue}", srv.handleDeleteQueue)
	})

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}

type enqueueRequest struct {
	Payload  json.RawMessage `json:"payload"`
	Priority string          `json:"priority,omitempty"` // "high" or "normal"
}

type enqueueResponse struct {
	ID string `json:"id"`
}

type popResponse struct {
	Envelope *contracts.Envelope `json:"envelope"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	if queue == "" {
		httpError(w, http.StatusBadRequest, "missing queue path param")
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}

	var opts []messaging.SendOption
	switch req.Priority {
	case "", contracts.PriorityNormal.String():
	case contracts.PriorityHigh.String():
		opts = append(opts, messaging.WithHigh())
	default:
		httpError(w, http.StatusBadRequest, "unknown priority %q", req.Priority)
		return
	}

	id, err := s.producer.Send(r.Context(), queue, req.Payload, opts...)
	if err != nil {
		switch {
		case contracts.IsInvalidPayload(err):
			httpError(w, http.StatusBadRequest, "%v", err)
		case contracts.IsStoreUnavailable(err):
			httpError(w, http.StatusServiceUnavailable, "%v", err)
		default:
			httpError(w, http.StatusInternalServerError, "%v", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, enqueueResponse{ID: id})
}

func (s *Server) handlePop(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	if queue == "" {
		httpError(w, http.StatusBadRequest, "missing queue path param")
		return
	}

	envelope, err := s.store.Pop(r.Context(), queue)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, popResponse{Envelope: envelope})
	case errors.Is(err, contracts.ErrEmpty):
		w.WriteHeader(http.StatusNoContent)
	case contracts.IsStoreUnavailable(err):
		httpError(w, http.StatusServiceUnavailable, "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "%v", err)
	}
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	if queue == "" {
		httpError(w, http.StatusBadRequest, "missing queue path param")
		return
	}

	status, err := s.inspector.Inspect(r.Context(), queue)
	if err != nil {
		httpError(w, http.StatusServiceUnavailable, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	queues := splitQueues(r.URL.Query().Get("queues"))
	if len(queues) == 0 {
		httpError(w, http.StatusBadRequest, "queues query param is required, e.g. ?queues=orders,emails")
		return
	}
	writeJSON(w, http.StatusOK, s.inspector.Report(r.Context(), queues...))
}

func (s *Server) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	if queue == "" {
		httpError(w, http.StatusBadRequest, "missing queue path param")
		return
	}

	if err := s.store.DeleteQueue(r.Context(), queue); err != nil {
		httpError(w, http.StatusServiceUnavailable, "%v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		httpError(w, http.StatusServiceUnavailable, "store unreachable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func splitQueues(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
