// Package broker defines the queue store, the durable ordered container
// at the heart of parcelmq.
//
// A QueueStore owns every queue and envelope it holds. Producers push,
// consumers pop; both sides exchange envelope copies and keep no
// references into the store. Ordering within a queue is priority first
// (all high envelopes before any earlier normal envelope), FIFO within a
// priority class.
//
// The interface is capability-based: any backend that can do an atomic
// append, an atomic pop with bounded blocking, and a length query per
// queue can satisfy it. This package ships the in-process MemoryStore;
// durable backends live under transports/.
package broker
