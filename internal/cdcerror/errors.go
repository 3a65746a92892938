// Package cdcerror defines the error-kind taxonomy from spec.md §7. Python's
// stream_cdc/utils/exceptions.py models this as an exception class
// hierarchy; Go's idiomatic rendering is a set of sentinel kinds that wrap
// the underlying cause and support errors.Is/errors.As.
package cdcerror

import (
	"errors"
	"fmt"
)

// Kind identifies which row of spec.md §7's error table produced an error.
type Kind string

const (
	// Configuration: required config missing, upstream-log settings
	// invalid, checkpoint table absent. Fatal at startup.
	Configuration Kind = "configuration"
	// DataSource: connect failure, error during listen, missing
	// construction parameter. Raised from Step; treated as Processing by
	// the Coordinator.
	DataSource Kind = "datasource"
	// Stream: the Sink could not publish the batch, fully or partially.
	Stream Kind = "stream"
	// Processing: any error crossing the Coordinator boundary.
	Processing Kind = "processing"
	// UnsupportedType: a factory was asked for a variant not in its
	// registry. Fatal at startup.
	UnsupportedType Kind = "unsupported_type"
)

// Error is a typed error carrying one of the Kind values above plus the
// underlying cause.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is(err, cdcerror.Configuration) etc. work by comparing
// Kind rather than requiring an identical wrapped sentinel.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

// sentinels used with errors.Is to test kind membership, e.g.
// errors.Is(err, cdcerror.Sentinel(cdcerror.Stream)).
func Sentinel(kind Kind) error { return &Error{Kind: kind, msg: "kind"} }

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *Error, and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
