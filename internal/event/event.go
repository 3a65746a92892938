// Package event defines the raw change event emitted by a Source and the
// opaque, totally ordered Position token used to resume a replication
// session, per spec.md §3.
package event

import "github.com/estuary/cdc-relay/internal/cdcvalue"

// Type is the kind of row mutation a change event describes.
type Type string

const (
	Insert Type = "Insert"
	Update Type = "Update"
	Delete Type = "Delete"
)

// Position is an opaque, totally ordered, comparable-as-equal token
// representing "all transactions up to and including T have been
// observed". An empty Position means "start from the current log head".
//
// Concretely this holds a MySQL GTID (e.g. "3e11fa47-71ca-11e1-9e33-c80aa9429562:23"),
// but nothing outside internal/source/mysql inspects its structure — every
// other component treats it as an opaque, comparable string.
type Position string

// Empty reports whether the position carries no resumption information.
func (p Position) Empty() bool { return p == "" }

// Content holds the row image(s) carried by a change event. For Insert and
// Delete, only one of Before/After is populated; for Update, both are.
type Content struct {
	Before cdcvalue.Value
	After  cdcvalue.Value
}

// Event is a single row-level change pulled from the replication log.
// Events sharing one enclosing transaction share one Position.
type Event struct {
	Type     Type
	Database string
	Table    string
	Content  Content
	Position Position
}
