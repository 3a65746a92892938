package coordinator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estuary/cdc-relay/internal/cdcvalue"
	"github.com/estuary/cdc-relay/internal/coordinator"
	"github.com/estuary/cdc-relay/internal/event"
	"github.com/estuary/cdc-relay/internal/flushpolicy"
	"github.com/estuary/cdc-relay/internal/processor"
	"github.com/estuary/cdc-relay/internal/source"
)

// fakeSource is an in-memory Source driven by a queue of events and a
// sentinel for when the iterator should end.
type fakeSource struct {
	events   []event.Event
	pos      event.Position
	connects int
	closed   bool
	idx      int
}

func (f *fakeSource) SetStartPosition(pos event.Position) { f.pos = pos }
func (f *fakeSource) Connect(ctx context.Context) error   { f.connects++; return nil }
func (f *fakeSource) CurrentPosition() event.Position      { return f.pos }
func (f *fakeSource) Disconnect() error                    { f.closed = true; return nil }
func (f *fakeSource) SourceType() string                   { return "fake" }
func (f *fakeSource) SourceID() string                      { return "fake-1" }

func (f *fakeSource) Listen(ctx context.Context) (source.Iterator, error) {
	return &fakeIterator{src: f}, nil
}

type fakeIterator struct{ src *fakeSource }

func (it *fakeIterator) Next(ctx context.Context) (event.Event, bool) {
	if it.src.idx >= len(it.src.events) {
		return event.Event{}, false
	}
	ev := it.src.events[it.src.idx]
	it.src.idx++
	it.src.pos = ev.Position
	return ev, true
}

func (it *fakeIterator) Err() error { return nil }

type fakeSink struct {
	sent    [][]cdcvalue.Value
	failing bool
}

func (s *fakeSink) Send(messages []cdcvalue.Value) error {
	if s.failing {
		return errors.New("sink unavailable")
	}
	s.sent = append(s.sent, messages)
	return nil
}
func (s *fakeSink) Close() error { return nil }

type fakeStore struct {
	written map[string]event.Position
	failing bool
}

func newFakeStore() *fakeStore { return &fakeStore{written: map[string]event.Position{}} }

func (s *fakeStore) Store(sourceType, sourceID string, pos event.Position) bool {
	if s.failing {
		return false
	}
	s.written[sourceType+":"+sourceID] = pos
	return true
}

func (s *fakeStore) Read(sourceType, sourceID string) (event.Position, bool) {
	pos, ok := s.written[sourceType+":"+sourceID]
	return pos, ok
}

func evt(pos string) event.Event {
	return event.Event{
		Type:     event.Insert,
		Database: "db",
		Table:    "t",
		Position: event.Position(pos),
		Content:  event.Content{After: cdcvalue.From(map[string]any{"id": pos})},
	}
}

func TestStartResumesFromCheckpoint(t *testing.T) {
	src := &fakeSource{}
	store := newFakeStore()
	store.written["fake:fake-1"] = "uuid:9"

	c := coordinator.New(coordinator.Config{
		Source:    src,
		Processor: processor.New(nil),
		Policy:    flushpolicy.New(10, time.Hour),
		Sink:      &fakeSink{},
		Store:     store,
	})

	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, event.Position("uuid:9"), src.pos)
	require.Equal(t, 1, src.connects)
}

func TestStartIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	c := coordinator.New(coordinator.Config{
		Source: src, Processor: processor.New(nil), Policy: flushpolicy.New(10, time.Hour),
		Sink: &fakeSink{}, Store: newFakeStore(),
	})
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, 1, src.connects)
}

func TestStepFlushesAtBatchSizeAndCheckpointsAfterSend(t *testing.T) {
	src := &fakeSource{events: []event.Event{evt("u:1"), evt("u:2")}}
	sink := &fakeSink{}
	store := newFakeStore()

	c := coordinator.New(coordinator.Config{
		Source: src, Processor: processor.New(nil), Policy: flushpolicy.New(2, time.Hour),
		Sink: sink, Store: store,
	})
	require.NoError(t, c.Start(context.Background()))

	processed, err := c.Step(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	require.Len(t, sink.sent, 1)
	require.Len(t, sink.sent[0], 2)
	require.Equal(t, event.Position("u:2"), store.written["fake:fake-1"])
}

func TestStepReturnsFalseWhenNoEventsAvailable(t *testing.T) {
	src := &fakeSource{}
	c := coordinator.New(coordinator.Config{
		Source: src, Processor: processor.New(nil), Policy: flushpolicy.New(10, time.Hour),
		Sink: &fakeSink{}, Store: newFakeStore(),
	})
	require.NoError(t, c.Start(context.Background()))

	processed, err := c.Step(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
}

func TestFlushFailurePreservesBufferAndPosition(t *testing.T) {
	src := &fakeSource{events: []event.Event{evt("u:1"), evt("u:2")}}
	sink := &fakeSink{failing: true}
	store := newFakeStore()

	c := coordinator.New(coordinator.Config{
		Source: src, Processor: processor.New(nil), Policy: flushpolicy.New(2, time.Hour),
		Sink: sink, Store: store,
	})
	require.NoError(t, c.Start(context.Background()))

	_, err := c.Step(context.Background())
	require.Error(t, err)
	require.Empty(t, store.written)

	sink.failing = false
	_, err = c.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.sent, 1)
	require.Len(t, sink.sent[0], 2)
	require.Equal(t, event.Position("u:2"), store.written["fake:fake-1"])
}

func TestCheckpointFailureKeepsBufferForRedelivery(t *testing.T) {
	src := &fakeSource{events: []event.Event{evt("u:1")}}
	sink := &fakeSink{}
	store := newFakeStore()
	store.failing = true

	c := coordinator.New(coordinator.Config{
		Source: src, Processor: processor.New(nil), Policy: flushpolicy.New(1, time.Hour),
		Sink: sink, Store: store,
	})
	require.NoError(t, c.Start(context.Background()))

	processed, err := c.Step(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, sink.sent, 1)
	require.Empty(t, store.written)

	store.failing = false
	_, err = c.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.sent, 2)
	require.Equal(t, event.Position("u:1"), store.written["fake:fake-1"])
}

func TestStopDrainsNonEmptyBufferExactlyOnce(t *testing.T) {
	src := &fakeSource{events: []event.Event{evt("u:1")}}
	sink := &fakeSink{}
	store := newFakeStore()

	c := coordinator.New(coordinator.Config{
		Source: src, Processor: processor.New(nil), Policy: flushpolicy.New(100, time.Hour),
		Sink: sink, Store: store,
	})
	require.NoError(t, c.Start(context.Background()))

	_, err := c.Step(context.Background())
	require.NoError(t, err)
	require.Empty(t, sink.sent)

	c.Stop()
	require.Len(t, sink.sent, 1)
	require.True(t, src.closed)

	c.Stop()
	require.Len(t, sink.sent, 1)
}

func TestStepIgnoredWhenNotStarted(t *testing.T) {
	c := coordinator.New(coordinator.Config{
		Source: &fakeSource{}, Processor: processor.New(nil), Policy: flushpolicy.New(10, time.Hour),
		Sink: &fakeSink{}, Store: newFakeStore(),
	})
	processed, err := c.Step(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
}
