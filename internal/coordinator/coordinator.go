// Package coordinator implements the Coordinator state machine of
// spec.md §4.6: it couples a Source, an EventProcessor, a buffer, a
// FlushPolicy, a Sink, and a Checkpoint Store, and enforces the
// publish-before-checkpoint durability contract.
package coordinator

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/estuary/cdc-relay/internal/cdcerror"
	"github.com/estuary/cdc-relay/internal/cdcvalue"
	"github.com/estuary/cdc-relay/internal/checkpoint"
	"github.com/estuary/cdc-relay/internal/event"
	"github.com/estuary/cdc-relay/internal/flushpolicy"
	"github.com/estuary/cdc-relay/internal/metrics"
	"github.com/estuary/cdc-relay/internal/processor"
	"github.com/estuary/cdc-relay/internal/sink"
	"github.com/estuary/cdc-relay/internal/source"
)

// phase is the Coordinator's lifecycle state.
type phase int

const (
	phaseIdle phase = iota
	phaseStarted
	phaseStopped
)

// defaultBatchSize bounds how many events Step pulls from the Source
// iterator in a single call when Config.BatchSize is not set, per spec.md
// §4.6 step 3.
const defaultBatchSize = 200

// Config wires a Coordinator's collaborators.
type Config struct {
	Source    source.Source
	Processor *processor.EventProcessor
	Policy    flushpolicy.Policy
	Sink      sink.Sink
	Store     checkpoint.Store
	// BatchSize overrides defaultBatchSize when positive.
	BatchSize int
}

// Coordinator is not safe for concurrent use: spec.md's scheduling model
// is single-threaded cooperative within one instance.
type Coordinator struct {
	src       source.Source
	processor *processor.EventProcessor
	policy    flushpolicy.Policy
	sink      sink.Sink
	store     checkpoint.Store
	batchSize int

	phase phase
	iter  source.Iterator

	buffer               []cdcvalue.Value
	lastAdmittedPosition event.Position
	lastFlushTime        time.Time
}

// SourceType and SourceID expose the wired Source's identity, for
// callers (the Worker) that need to label metrics without reaching into
// the Coordinator's internals.
func (c *Coordinator) SourceType() string { return c.src.SourceType() }
func (c *Coordinator) SourceID() string   { return c.src.SourceID() }

func New(cfg Config) *Coordinator {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Coordinator{
		src:       cfg.Source,
		processor: cfg.Processor,
		policy:    cfg.Policy,
		sink:      cfg.Sink,
		store:     cfg.Store,
		batchSize: batchSize,
		phase:     phaseIdle,
	}
}

// Start is idempotent: resumes from the checkpointed position if one
// exists, then connects the Source. Failure leaves the Coordinator Idle.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.phase == phaseStarted {
		return nil
	}
	if c.phase == phaseStopped {
		return cdcerror.New(cdcerror.Processing, "coordinator: cannot start after stop")
	}

	// Read never raises: a lookup failure is indistinguishable from "no
	// checkpoint" and the Source simply resumes from its log head.
	pos, ok := c.store.Read(c.src.SourceType(), c.src.SourceID())
	if ok && !pos.Empty() {
		c.src.SetStartPosition(pos)
	}

	if err := c.src.Connect(ctx); err != nil {
		return cdcerror.Wrap(cdcerror.Processing, "connect source", err)
	}

	c.phase = phaseStarted
	c.lastFlushTime = time.Now()
	log.WithFields(log.Fields{"source_type": c.src.SourceType(), "source_id": c.src.SourceID(), "resumed_from": pos}).
		Info("coordinator: started")
	return nil
}

// Step performs one bounded unit of work and reports whether any event
// was processed, per spec.md §4.6's step algorithm.
func (c *Coordinator) Step(ctx context.Context) (bool, error) {
	if c.phase != phaseStarted {
		log.Debug("coordinator: step called while not started, ignoring")
		return false, nil
	}

	if c.iter == nil {
		iter, err := c.src.Listen(ctx)
		if err != nil {
			return false, cdcerror.Wrap(cdcerror.Processing, "obtain source iterator", err)
		}
		c.iter = iter
	}

	var processed []cdcvalue.Value
	var iterErr error
	for len(processed) < c.batchSize {
		ev, ok := c.iter.Next(ctx)
		if !ok {
			iterErr = c.iter.Err()
			c.iter = nil
			break
		}

		msg, err := c.processor.Process(ev)
		if err != nil {
			return false, cdcerror.Wrap(cdcerror.Processing, "process event", err)
		}
		processed = append(processed, msg)
	}

	if len(processed) > 0 {
		c.buffer = append(c.buffer, processed...)
		c.lastAdmittedPosition = c.src.CurrentPosition()
		metrics.EventsProcessed.WithLabelValues(c.src.SourceType(), c.src.SourceID()).Add(float64(len(processed)))
	}
	metrics.BufferOccupancy.WithLabelValues(c.src.SourceType(), c.src.SourceID()).Set(float64(len(c.buffer)))

	if iterErr != nil {
		return len(processed) > 0, cdcerror.Wrap(cdcerror.Processing, "source iterator", iterErr)
	}

	if c.policy.ShouldFlush(len(c.buffer), c.lastFlushTime) {
		if err := c.flush(); err != nil {
			return len(processed) > 0, cdcerror.Wrap(cdcerror.Processing, "flush", err)
		}
	}

	return len(processed) > 0, nil
}

// flush implements the durability contract of spec.md §4.6: publish
// before checkpoint, preserving the buffer on any failure.
func (c *Coordinator) flush() error {
	if len(c.buffer) == 0 {
		return nil
	}

	pos := c.lastAdmittedPosition
	messages := append([]cdcvalue.Value(nil), c.buffer...)

	labels := []string{c.src.SourceType(), c.src.SourceID()}

	if err := c.sink.Send(messages); err != nil {
		metrics.FlushesTotal.WithLabelValues(append(labels, metrics.OutcomeFailed)...).Inc()
		return cdcerror.Wrap(cdcerror.Stream, "sink send", err)
	}

	if c.store.Store(c.src.SourceType(), c.src.SourceID(), pos) {
		metrics.FlushesTotal.WithLabelValues(append(labels, metrics.OutcomeOK)...).Inc()
		metrics.CheckpointWritesTotal.WithLabelValues(append(labels, metrics.OutcomeOK)...).Inc()
		c.buffer = c.buffer[:0]
		c.lastFlushTime = time.Now()
		c.policy.Reset()
		return nil
	}

	metrics.CheckpointWritesTotal.WithLabelValues(append(labels, metrics.OutcomeFailed)...).Inc()
	log.WithFields(log.Fields{"source_type": c.src.SourceType(), "source_id": c.src.SourceID(), "position": pos}).
		Warn("coordinator: sink accepted batch but checkpoint write failed, buffer preserved for redelivery")
	return nil
}

// Stop is idempotent. It attempts exactly one final flush, logging (not
// raising) any failure, then closes the Sink and disconnects the Source.
func (c *Coordinator) Stop() {
	if c.phase == phaseStopped {
		return
	}
	c.phase = phaseStopped

	if len(c.buffer) > 0 {
		if err := c.flush(); err != nil {
			log.WithError(err).Warn("coordinator: final drain flush failed, buffer will be redelivered on next start")
		}
	}

	if err := c.sink.Close(); err != nil {
		log.WithError(err).Warn("coordinator: error closing sink")
	}
	if err := c.src.Disconnect(); err != nil {
		log.WithError(err).Warn("coordinator: error disconnecting source")
	}

	log.Info("coordinator: stopped")
}
