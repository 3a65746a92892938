// Package checkpoint defines the Store interface (spec.md §4.5): durable,
// last-writer-wins position storage keyed by (source type, source id).
package checkpoint

import "github.com/estuary/cdc-relay/internal/event"

// Store persists and retrieves the last-confirmed position for a source.
// Writes for the same key are last-writer-wins; a Store implementation
// must elide a write that is identical to the last value it wrote for
// that key, per spec.md's duplicate-write elision requirement.
type Store interface {
	// Store upserts pos. It returns true on durable write confirmation
	// and false on any failure; failures are logged internally by the
	// implementation, never returned as an error, so the Coordinator's
	// only decision is whether to advance past this flush.
	Store(sourceType, sourceID string, pos event.Position) bool
	// Read returns (pos, true) if a checkpoint exists for this key. It
	// returns (_, false) both when none has ever been stored and when
	// the read itself fails; a read failure is logged internally by the
	// implementation and treated as "no checkpoint", never raised as an
	// error, so the Coordinator always has a definite position to start
	// from.
	Read(sourceType, sourceID string) (event.Position, bool)
}
