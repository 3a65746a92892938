package processor

import "github.com/estuary/cdc-relay/internal/cdcvalue"

// Filter is the pluggable extension point spec.md §4.2 describes: "a filter
// is any object with filter(message) -> message". Filters may shrink,
// redact, reroute-to-external-store, or decorate messages.
type Filter interface {
	Filter(msg cdcvalue.Value) (cdcvalue.Value, error)
}

// FilterFunc adapts a plain function to the Filter interface.
type FilterFunc func(cdcvalue.Value) (cdcvalue.Value, error)

func (f FilterFunc) Filter(msg cdcvalue.Value) (cdcvalue.Value, error) { return f(msg) }

// Chain applies a sequence of filters left-to-right, each receiving the
// previous filter's output. An empty chain is the identity. The chain is
// configured once at construction per spec.md §4.2.
type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

func (c *Chain) Apply(msg cdcvalue.Value) (cdcvalue.Value, error) {
	out := msg
	for _, f := range c.filters {
		var err error
		out, err = f.Filter(out)
		if err != nil {
			return cdcvalue.Value{}, err
		}
	}
	return out, nil
}
