// Package sink defines the Sink interface (spec.md §4.4): a batching
// publisher that delivers serialized messages to a downstream queue.
package sink

import "github.com/estuary/cdc-relay/internal/cdcvalue"

// Sink publishes a batch of messages. Send must be at-least-once: a
// non-nil error means none of the batch is guaranteed delivered and the
// caller must not advance its checkpoint past this batch.
type Sink interface {
	Send(messages []cdcvalue.Value) error
	Close() error
}
