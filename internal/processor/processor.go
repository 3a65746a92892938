// Package processor implements the pure Event -> Message transformation
// from spec.md §4.2: no I/O, no hidden state beyond an ordered filter
// chain configured at construction.
package processor

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/estuary/cdc-relay/internal/cdcvalue"
	"github.com/estuary/cdc-relay/internal/event"
)

// EnvelopeVersion tags the shape of the message envelope produced by
// Process. Non-goals exclude schema evolution beyond this version tag.
const EnvelopeVersion = "cdc-relay-1"

// EventProcessor turns a raw Event into a JSON-compatible message tree,
// running the result through a Filter chain.
type EventProcessor struct {
	chain *Chain
}

func New(chain *Chain) *EventProcessor {
	if chain == nil {
		chain = NewChain()
	}
	return &EventProcessor{chain: chain}
}

// Process converts event into a serializable message and applies the
// filter chain. It never returns an error for unrepresentable event
// content — the terminal serialization step degrades to a string
// representation instead, per spec.md §4.2's serialization contract. It
// can still return an error if a user-supplied filter fails.
func (p *EventProcessor) Process(ev event.Event) (cdcvalue.Value, error) {
	msg := p.serialize(ev)

	out, err := p.chain.Apply(msg)
	if err != nil {
		return cdcvalue.Value{}, fmt.Errorf("filter chain: %w", err)
	}
	return out, nil
}

func (p *EventProcessor) serialize(ev event.Event) (out cdcvalue.Value) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Debug("processor: recovered while serializing event, falling back to string")
			out = cdcvalue.String(fmt.Sprintf("%+v", ev))
		}
	}()

	spec := cdcvalue.NewMapBuilder().
		Set("database", cdcvalue.String(ev.Database)).
		Set("table", cdcvalue.String(ev.Table)).
		Set("event_type", cdcvalue.String(string(ev.Type)))

	switch ev.Type {
	case event.Update:
		spec.Set("before", ev.Content.Before)
		spec.Set("after", ev.Content.After)
	case event.Insert:
		spec.Set("after", ev.Content.After)
	case event.Delete:
		spec.Set("before", ev.Content.Before)
	default:
		log.WithField("event_type", ev.Type).Debug("processor: unrecognized event type, serializing whole event as string")
		return cdcvalue.String(fmt.Sprintf("%+v", ev))
	}

	return cdcvalue.NewMapBuilder().
		Set("version", cdcvalue.String(EnvelopeVersion)).
		Set("position", cdcvalue.String(string(ev.Position))).
		Set("spec", spec.Build()).
		Build()
}
