// Package messaging provides the producer and consumer sides of parcelmq.
//
// A Producer validates caller payloads, wraps them in envelopes and
// pushes them to a queue store behind a circuit breaker and retry policy.
// A Consumer runs a pool of workers that block-pop across one or more
// queues and hand envelopes to a caller-supplied Handler, applying the
// at-least-once redelivery and dead-letter policy on failure.
//
// Delivery is at-least-once: a pop is provisional, and a handler failure
// re-pushes the envelope until its delivery attempts are exhausted, at which
// point it lands on the queue's ".dead" companion. Handlers that need
// stronger guarantees must be idempotent.
package messaging
