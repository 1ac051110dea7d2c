// Package channel moves typed messages over a transport.
//
// A Channel frames outgoing messages, runs them through the protocol stack and
// hands them to the transport from a bounded outgoing queue. Incoming frames
// are queued, run back up the stack, parsed, and either resolve a pending
// request or go to the channel's handler. With one worker per direction a
// channel preserves FIFO order in both directions.
package channel

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"SimFed/internal/hla"
	"SimFed/internal/logger"
	"SimFed/internal/metrics"
	"SimFed/internal/network"
	"SimFed/internal/wire"
)

// Options configures a channel and its protocol stack.
type Options struct {
	Name              string        // Name labels logs and metrics
	IncomingQueue     int           // IncomingQueue is the incoming queue capacity
	OutgoingQueue     int           // OutgoingQueue is the outgoing queue capacity
	IncomingWorkers   int           // IncomingWorkers > 1 gives up incoming FIFO order
	OutgoingWorkers   int           // OutgoingWorkers > 1 gives up outgoing FIFO order
	RequestTimeout    time.Duration // RequestTimeout bounds Request
	Filters           []string      // Filters names the protocol stack, first is outermost
	PluginPaths       []string      // PluginPaths lists wasm modules for the wasm filter
	PluginGasLimit    uint64        // PluginGasLimit is the per-call wasm budget
	CompressThreshold int           // CompressThreshold is the smallest payload compressed
	DedupTTL          time.Duration // DedupTTL is how long the dedup filter remembers a frame
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "channel"
	}

	if o.IncomingQueue <= 0 {
		o.IncomingQueue = 1024
	}

	if o.OutgoingQueue <= 0 {
		o.OutgoingQueue = 1024
	}

	if o.IncomingWorkers <= 0 {
		o.IncomingWorkers = 1
	}

	if o.OutgoingWorkers <= 0 {
		o.OutgoingWorkers = 1
	}

	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}

	if o.CompressThreshold <= 0 {
		o.CompressThreshold = 1024
	}

	if o.DedupTTL <= 0 {
		o.DedupTTL = 5 * time.Second
	}

	return o
}

// Handler processes an incoming message. For ControlSync calls a non-nil
// response is sent back and an error becomes a failure response; a nil
// response with a nil error sends nothing.
type Handler func(env wire.Envelope) (*wire.Response, error)

// Channel is a bidirectional message pipe over a transport.
type Channel struct {
	opts      Options
	transport network.Transport
	pipeline  *Pipeline
	handler   Handler

	in  chan []byte // in holds raw frames from the transport
	out chan []byte // out holds encoded frames waiting for the stack

	prefix  uint64        // prefix is the random upper half of every request id
	counter atomic.Uint32 // counter is the lower half

	pending   map[uint64]chan *wire.Response // pending maps request id to its waiter
	pendingMu sync.Mutex                     // pendingMu protects pending

	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// New builds the protocol stack and starts the workers.
func New(tr network.Transport, opts Options, handler Handler) (*Channel, error) {
	opts = opts.withDefaults()

	pipeline, err := BuildPipeline(opts)
	if err != nil {
		return nil, fmt.Errorf("build pipeline:\n%w", err)
	}

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	c := &Channel{
		opts:      opts,
		transport: tr,
		pipeline:  pipeline,
		handler:   handler,
		in:        make(chan []byte, opts.IncomingQueue),
		out:       make(chan []byte, opts.OutgoingQueue),
		prefix:    uint64(binary.BigEndian.Uint32(id[:4])) << 32,
		pending:   make(map[uint64]chan *wire.Response),
		ctx:       gctx,
		cancel:    cancel,
		group:     group,
	}

	for i := 0; i < opts.IncomingWorkers; i++ {
		group.Go(c.incomingLoop)
	}

	for i := 0; i < opts.OutgoingWorkers; i++ {
		group.Go(c.outgoingLoop)
	}

	tr.SetHandler(c.receive)

	logger.Debug("channel started",
		"channel", opts.Name,
		"filters", pipeline.Names(),
		"in_workers", opts.IncomingWorkers,
		"out_workers", opts.OutgoingWorkers,
	)

	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.opts.Name
}

// Send queues a message. A zero request id is replaced by a fresh one.
func (c *Channel) Send(h wire.Header, msg wire.Message) error {
	if h.RequestID == 0 {
		h.RequestID = c.nextID()
	}

	return c.enqueue(wire.Marshal(h, msg))
}

// Request sends a ControlSync message and waits for its response.
// A negative response is returned together with its error. No answer within
// the request timeout gives ErrNoResponse.
func (c *Channel) Request(ctx context.Context, h wire.Header, msg wire.Message) (*wire.Response, error) {
	h.Call = wire.ControlSync
	h.RequestID = c.nextID()

	wait := make(chan *wire.Response, 1)

	c.pendingMu.Lock()
	c.pending[h.RequestID] = wait
	metrics.SetPendingRequests(c.opts.Name, len(c.pending))
	c.pendingMu.Unlock()

	defer c.forget(h.RequestID)

	if err := c.enqueue(wire.Marshal(h, msg)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-wait:
		return resp, resp.Err()
	case <-timer.C:
		return nil, hla.Errorf(hla.KindNoResponse, "%s: no response after %s", msg.Type(), c.opts.RequestTimeout)
	case <-ctx.Done():
		return nil, hla.Wrap(hla.KindNoResponse, ctx.Err(), msg.Type().String())
	case <-c.ctx.Done():
		return nil, hla.Errorf(hla.KindNotConnected, "channel %s closed", c.opts.Name)
	}
}

// Close stops the workers and releases the protocol stack. The transport is
// left to its owner.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.transport.SetHandler(nil)
		c.cancel()

		c.closeErr = multierr.Append(c.group.Wait(), c.pipeline.Close())
	})

	return c.closeErr
}

func (c *Channel) nextID() uint64 {
	return c.prefix | uint64(c.counter.Add(1))
}

func (c *Channel) forget(id uint64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	metrics.SetPendingRequests(c.opts.Name, len(c.pending))
	c.pendingMu.Unlock()
}

func (c *Channel) enqueue(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return hla.Errorf(hla.KindNotConnected, "channel %s closed", c.opts.Name)
	default:
	}

	select {
	case c.out <- frame:
		return nil
	case <-c.ctx.Done():
		return hla.Errorf(hla.KindNotConnected, "channel %s closed", c.opts.Name)
	}
}

// receive is the transport handler. It blocks while the incoming queue is full.
func (c *Channel) receive(frame []byte) {
	select {
	case c.in <- frame:
	case <-c.ctx.Done():
	}
}

func (c *Channel) outgoingLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case frame := <-c.out:
			c.transmit(frame)
		}
	}
}

func (c *Channel) transmit(frame []byte) {
	frame, err := c.pipeline.Outgoing(frame)
	if err != nil {
		logger.Error("outgoing filter failed", "channel", c.opts.Name, "error", err)
		metrics.RecordDropped(c.opts.Name, "filter")

		return
	}

	if frame == nil {
		metrics.RecordDropped(c.opts.Name, "filtered")
		return
	}

	if err := c.transport.Send(frame); err != nil {
		logger.Warn("transport send failed", "channel", c.opts.Name, "error", err)
		metrics.RecordDropped(c.opts.Name, "transport")
	}
}

func (c *Channel) incomingLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case frame := <-c.in:
			c.process(frame)
		}
	}
}

func (c *Channel) process(frame []byte) {
	frame, err := c.pipeline.Incoming(frame)
	if err != nil {
		logger.Warn("dropping frame", "channel", c.opts.Name, "error", err)
		metrics.RecordDropped(c.opts.Name, "filter")

		return
	}

	if frame == nil {
		metrics.RecordDropped(c.opts.Name, "filtered")
		return
	}

	h, msg, err := wire.Unmarshal(frame)
	if err != nil {
		logger.Warn("dropping malformed frame", "channel", c.opts.Name, "error", err)
		metrics.RecordDropped(c.opts.Name, "malformed")

		return
	}

	if h.IsResponse() {
		c.resolve(h, msg)
		return
	}

	resp, err := c.handler(wire.Envelope{Header: h, Msg: msg})

	if h.Call != wire.ControlSync {
		if err != nil {
			logger.Warn("message failed", "channel", c.opts.Name, "type", h.Type, "source", h.Source, "error", err)
		}

		return
	}

	if err != nil {
		logger.Debug("request failed", "channel", c.opts.Name, "type", h.Type, "source", h.Source, "error", err)
		resp = wire.Failure(err)
	}

	if resp == nil {
		return
	}

	if err := c.Send(wire.ResponseHeader(h), resp); err != nil {
		logger.Warn("could not answer request", "channel", c.opts.Name, "type", h.Type, "error", err)
	}
}

func (c *Channel) resolve(h wire.Header, msg wire.Message) {
	resp, ok := msg.(*wire.Response)
	if !ok {
		logger.Warn("response frame without response payload", "channel", c.opts.Name, "type", h.Type)
		return
	}

	c.pendingMu.Lock()
	wait, ok := c.pending[h.RequestID]
	delete(c.pending, h.RequestID)
	c.pendingMu.Unlock()

	if !ok {
		logger.Debug("response for unknown request", "channel", c.opts.Name, "id", h.RequestID, "source", h.Source)
		return
	}

	wait <- resp
}
