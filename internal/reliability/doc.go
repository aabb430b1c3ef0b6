// Package reliability provides the retry and failure-isolation patterns
// used when the broker talks to its backing store.
//
// It implements:
//   - Retry Policies: exponential backoff with jitter and fixed delay
//   - Circuit Breaker: stops hammering an unavailable store
//
// Store unavailability is the only error class treated as retryable here;
// validation and decode failures are permanent and fail fast. The
// messaging package wires these around every push and pop so producers
// and consumers apply bounded backoff without embedding sleep loops.
package reliability
