package processor_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/cdc-relay/internal/cdcvalue"
	"github.com/estuary/cdc-relay/internal/event"
	"github.com/estuary/cdc-relay/internal/processor"
)

func TestProcessInsert(t *testing.T) {
	p := processor.New(nil)
	ev := event.Event{
		Type:     event.Insert,
		Database: "orders",
		Table:    "line_items",
		Content:  event.Content{After: cdcvalue.From(map[string]any{"id": 1})},
		Position: "uuid:1",
	}

	msg, err := p.Process(ev)
	require.NoError(t, err)

	out := msg.ToJSON().(map[string]any)
	require.Equal(t, processor.EnvelopeVersion, out["version"])
	require.Equal(t, "uuid:1", out["position"])

	spec := out["spec"].(map[string]any)
	require.Equal(t, "orders", spec["database"])
	require.Equal(t, "Insert", spec["event_type"])
	require.NotContains(t, spec, "before")
}

func TestProcessUpdateCarriesBeforeAndAfter(t *testing.T) {
	p := processor.New(nil)
	ev := event.Event{
		Type: event.Update,
		Content: event.Content{
			Before: cdcvalue.From(map[string]any{"status": "open"}),
			After:  cdcvalue.From(map[string]any{"status": "closed"}),
		},
	}

	msg, err := p.Process(ev)
	require.NoError(t, err)
	spec := msg.ToJSON().(map[string]any)["spec"].(map[string]any)
	require.Equal(t, "open", spec["before"].(map[string]any)["status"])
	require.Equal(t, "closed", spec["after"].(map[string]any)["status"])
}

func TestEmptyChainIsIdentity(t *testing.T) {
	c := processor.NewChain()
	v := cdcvalue.String("unchanged")
	out, err := c.Apply(v)
	require.NoError(t, err)
	require.Equal(t, v, out)
}

func TestChainAppliesLeftToRight(t *testing.T) {
	upper := processor.FilterFunc(func(v cdcvalue.Value) (cdcvalue.Value, error) {
		return cdcvalue.String(v.AsString() + "-1"), nil
	})
	suffix := processor.FilterFunc(func(v cdcvalue.Value) (cdcvalue.Value, error) {
		return cdcvalue.String(v.AsString() + "-2"), nil
	})

	c := processor.NewChain(upper, suffix)
	out, err := c.Apply(cdcvalue.String("base"))
	require.NoError(t, err)
	require.Equal(t, "base-1-2", out.AsString())
}

func TestChainPropagatesFilterError(t *testing.T) {
	boom := processor.FilterFunc(func(v cdcvalue.Value) (cdcvalue.Value, error) {
		return cdcvalue.Value{}, errors.New("boom")
	})
	_, err := processor.NewChain(boom).Apply(cdcvalue.Null())
	require.Error(t, err)
}

func TestProcessPropagatesFilterChainError(t *testing.T) {
	boom := processor.FilterFunc(func(v cdcvalue.Value) (cdcvalue.Value, error) {
		return cdcvalue.Value{}, errors.New("boom")
	})
	p := processor.New(processor.NewChain(boom))
	_, err := p.Process(event.Event{Type: event.Insert})
	require.Error(t, err)
}
