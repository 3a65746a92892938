// Package flushpolicy implements the stateless flush predicate from
// spec.md §4.3: given buffer length and time since the last flush, decide
// whether the Coordinator should flush now.
package flushpolicy

import "time"

// Policy decides whether a buffer of the given length, last flushed at
// lastFlush, should be flushed now.
type Policy interface {
	ShouldFlush(bufferLen int, lastFlush time.Time) bool
	// Reset is a no-op hook reserved for stateful variants; the default
	// Policy is stateless beyond its constructor parameters.
	Reset()
}

// SizeOrInterval flushes when the buffer has reached BatchSize or
// FlushInterval has elapsed since the last flush, whichever comes first.
// An empty buffer is never flushed.
type SizeOrInterval struct {
	BatchSize     int
	FlushInterval time.Duration
	now           func() time.Time
}

// New builds the default FlushPolicy. batchSize must be >= 1 and
// flushInterval must be > 0, per spec.md §4.3.
func New(batchSize int, flushInterval time.Duration) *SizeOrInterval {
	if batchSize < 1 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &SizeOrInterval{BatchSize: batchSize, FlushInterval: flushInterval, now: time.Now}
}

func (p *SizeOrInterval) ShouldFlush(bufferLen int, lastFlush time.Time) bool {
	if bufferLen <= 0 {
		return false
	}
	if bufferLen >= p.BatchSize {
		return true
	}
	return p.now().Sub(lastFlush) >= p.FlushInterval
}

// Reset is a no-op; SizeOrInterval carries no state beyond its
// constructor parameters.
func (p *SizeOrInterval) Reset() {}
