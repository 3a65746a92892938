// Package source defines the Source interface (spec.md §4.1): a pull-based
// replication-log reader that yields ordered change events with
// transaction boundaries.
package source

import (
	"context"

	"github.com/estuary/cdc-relay/internal/event"
)

// Source connects to a replication log and yields change events in commit
// order. Implementations own their replication connection exclusively;
// the Coordinator owns everything else.
type Source interface {
	// SetStartPosition is idempotent and must be called before Connect.
	// An empty position means "start from the current log head".
	SetStartPosition(pos event.Position)

	// Connect establishes a replication session resuming strictly after
	// the configured start position, or from head if empty. Before
	// establishing the session, Connect validates that the upstream is
	// configured to emit row-level changes with full row images and
	// globally-unique transaction identifiers; validation failure returns
	// a Configuration-kind error.
	Connect(ctx context.Context) error

	// Listen returns a lazy, finite-on-disconnect iterator of change
	// events. It is not restartable within a single session: after
	// Disconnect then Connect, a fresh iterator may be obtained from a new
	// call to Listen.
	Listen(ctx context.Context) (Iterator, error)

	// CurrentPosition returns the position of the latest transaction whose
	// events have all been yielded by Listen. Returns empty if the session
	// has produced no complete transactions yet.
	CurrentPosition() event.Position

	// Disconnect closes the replication session. Safe to call multiple
	// times; must not return an error to the caller's panic/recover path —
	// callers log and discard any error it does return.
	Disconnect() error

	// SourceType and SourceID are stable identifiers used as checkpoint
	// keys, e.g. "mysql" and the database host.
	SourceType() string
	SourceID() string
}

// Iterator is the lazy, finite-on-disconnect sequence of events a Source
// session produces. Next blocks when the log has no new events and
// returns ok=false once the session has ended (by Disconnect or by an
// unrecoverable read error, surfaced via Err).
type Iterator interface {
	Next(ctx context.Context) (ev event.Event, ok bool)
	// Err returns the error that caused the iterator to end, if any. A
	// nil Err after ok=false means a clean end (disconnect).
	Err() error
}
