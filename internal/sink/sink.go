// Package sink dispatches messages through prioritized handler chains.
//
// Every runtime (RTI or LRC) owns a Registry filled at startup. For each stage
// and message type the registry holds handlers sorted by ascending priority;
// handlers registered for AnyType run for every message, interleaved by priority.
package sink

import (
	"fmt"
	"sort"
	"sync"

	"SimFed/internal/hla"
	"SimFed/internal/logger"
	"SimFed/internal/wire"
)

// Stage separates handlers for frames leaving and entering a runtime.
type Stage uint8

// Stages.
const (
	Outgoing Stage = iota
	Incoming
)

// String returns the stage name.
func (s Stage) String() string {
	if s == Incoming {
		return "incoming"
	}

	return "outgoing"
}

// AnyType registers a handler for every message type.
const AnyType wire.MessageType = 0

// Handler is one step of a chain.
type Handler interface {
	Name() string
	Priority() int
	Process(ctx *Context) error
}

// Context carries one message through a chain.
type Context struct {
	Header   wire.Header
	Msg      wire.Message
	Response *wire.Response // Response is the answer to a ControlSync request, filled by a handler

	done   bool
	vetoed bool
	reason string
}

// NewContext wraps a message for dispatch.
func NewContext(h wire.Header, msg wire.Message) *Context {
	return &Context{Header: h, Msg: msg}
}

// Success ends processing; later handlers are skipped.
func (c *Context) Success() {
	c.done = true
}

// Veto silently discards the message; later handlers are skipped.
func (c *Context) Veto(reason string) {
	c.done = true
	c.vetoed = true
	c.reason = reason
}

// Vetoed reports whether a handler discarded the message.
func (c *Context) Vetoed() bool {
	return c.vetoed
}

// Reason returns the veto reason.
func (c *Context) Reason() string {
	return c.reason
}

// Done reports whether processing ended early.
func (c *Context) Done() bool {
	return c.done
}

// Respond sets the response and ends processing.
func (c *Context) Respond(r *wire.Response) {
	c.Response = r
	c.done = true
}

type funcHandler struct {
	name     string
	priority int
	fn       func(*Context) error
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Priority() int { return h.priority }

func (h *funcHandler) Process(ctx *Context) error { return h.fn(ctx) }

// Func adapts a function to a Handler.
func Func(name string, priority int, fn func(*Context) error) Handler {
	return &funcHandler{name: name, priority: priority, fn: fn}
}

type key struct {
	stage Stage
	typ   wire.MessageType
}

// Registry is the startup table of handler chains.
type Registry struct {
	mu       sync.RWMutex
	handlers map[key][]Handler
	chains   map[key][]Handler // chains caches merged AnyType and per-type lists
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[key][]Handler),
		chains:   make(map[key][]Handler),
	}
}

// Register adds h to the chain of one stage and message types.
// With no types, h is registered for AnyType.
func (r *Registry) Register(stage Stage, h Handler, types ...wire.MessageType) {
	if len(types) == 0 {
		types = []wire.MessageType{AnyType}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range types {
		k := key{stage, t}
		r.handlers[k] = append(r.handlers[k], h)
	}

	r.chains = make(map[key][]Handler)
}

// Chain returns the ordered handlers for a stage and message type.
func (r *Registry) Chain(stage Stage, t wire.MessageType) []Handler {
	k := key{stage, t}

	r.mu.RLock()
	chain, ok := r.chains[k]
	r.mu.RUnlock()

	if ok {
		return chain
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	merged := append([]Handler(nil), r.handlers[key{stage, AnyType}]...)
	if t != AnyType {
		merged = append(merged, r.handlers[k]...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Priority() < merged[j].Priority()
	})

	r.chains[k] = merged

	return merged
}

// Dispatch runs the chain for a message. A veto is not an error.
// A handler panic is recovered and returned as an internal error.
func (r *Registry) Dispatch(stage Stage, ctx *Context) error {
	chain := r.Chain(stage, ctx.Msg.Type())

	for _, h := range chain {
		if err := process(h, ctx); err != nil {
			return fmt.Errorf("%s handler %s:\n%w", stage, h.Name(), err)
		}

		if ctx.vetoed {
			logger.Debug("message vetoed",
				"stage", stage,
				"type", ctx.Msg.Type(),
				"handler", h.Name(),
				"reason", ctx.reason,
			)

			return nil
		}

		if ctx.done {
			return nil
		}
	}

	return nil
}

func process(h Handler, ctx *Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("handler panicked", "handler", h.Name(), "type", ctx.Msg.Type(), "panic", p)
			err = hla.Errorf(hla.KindInternal, "handler %s panicked: %v", h.Name(), p)
		}
	}()

	return h.Process(ctx)
}

// Serve dispatches an incoming envelope and builds the answer a channel sends
// back for ControlSync calls. A vetoed message gets no answer.
func (r *Registry) Serve(env wire.Envelope) (*wire.Response, error) {
	ctx := NewContext(env.Header, env.Msg)

	if err := r.Dispatch(Incoming, ctx); err != nil {
		return nil, err
	}

	if ctx.vetoed {
		return nil, nil
	}

	if ctx.Response != nil {
		return ctx.Response, nil
	}

	return wire.Success(), nil
}
