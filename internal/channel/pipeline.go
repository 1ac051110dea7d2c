package channel

import (
	"fmt"
	"io"

	"go.uber.org/multierr"
)

// Filter transforms frames on their way through a channel.
// Returning a nil frame drops it silently. Filters implementing io.Closer are
// closed with the pipeline.
type Filter interface {
	Name() string
	Outgoing(frame []byte) ([]byte, error)
	Incoming(frame []byte) ([]byte, error)
}

// Factory builds a filter from the channel options.
type Factory func(opts Options) (Filter, error)

// factories is the static table of filters available to a protocol stack.
var factories = map[string]Factory{
	"dedup":    newDedupFilter,
	"compress": newCompressFilter,
	"metrics":  newMetricsFilter,
	"wasm":     newWasmFilter,
}

// Known reports whether a filter name can be used in a protocol stack.
func Known(name string) bool {
	_, ok := factories[name]
	return ok
}

// Pipeline is an ordered protocol stack. Outgoing frames pass the filters from
// first to last, incoming frames from last to first.
type Pipeline struct {
	filters []Filter
}

// NewPipeline wraps already built filters.
func NewPipeline(filters ...Filter) *Pipeline {
	return &Pipeline{filters: filters}
}

// BuildPipeline builds the protocol stack named in opts.Filters.
func BuildPipeline(opts Options) (*Pipeline, error) {
	p := &Pipeline{}

	for _, name := range opts.Filters {
		factory, ok := factories[name]
		if !ok {
			_ = p.Close()
			return nil, fmt.Errorf("unknown filter %q", name)
		}

		f, err := factory(opts)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("build filter %s:\n%w", name, err)
		}

		p.filters = append(p.filters, f)
	}

	return p, nil
}

// Names returns the filter names in stack order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.filters))
	for i, f := range p.filters {
		names[i] = f.Name()
	}

	return names
}

// Outgoing runs a frame down the stack.
func (p *Pipeline) Outgoing(frame []byte) ([]byte, error) {
	var err error

	for _, f := range p.filters {
		if frame, err = f.Outgoing(frame); err != nil {
			return nil, fmt.Errorf("filter %s:\n%w", f.Name(), err)
		}

		if frame == nil {
			return nil, nil
		}
	}

	return frame, nil
}

// Incoming runs a frame up the stack.
func (p *Pipeline) Incoming(frame []byte) ([]byte, error) {
	var err error

	for i := len(p.filters) - 1; i >= 0; i-- {
		f := p.filters[i]

		if frame, err = f.Incoming(frame); err != nil {
			return nil, fmt.Errorf("filter %s:\n%w", f.Name(), err)
		}

		if frame == nil {
			return nil, nil
		}
	}

	return frame, nil
}

// Close closes every filter that holds resources.
func (p *Pipeline) Close() error {
	var err error

	for _, f := range p.filters {
		if c, ok := f.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}

	return err
}
