// Package contracts provides the core types shared by every part of the
// parcelmq broker.
//
// It defines:
//   - Envelope: the wrapped unit of work carrying payload, identity,
//     timestamp, priority and delivery-count metadata
//   - Priority: the ordering tier that dominates arrival order
//   - EnvelopeCodec: the byte-level encoding used at store boundaries
//   - The broker error taxonomy (invalid payload, malformed envelope,
//     store unavailable, empty, cancelled)
//
// Producers and consumers exchange Envelope values with the queue store;
// neither side holds references into the store's own copies.
package contracts
