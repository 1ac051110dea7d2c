// Package forwarder relays raw frames between two transports.
//
// Only the header is inspected, plus the class field of updates and
// interactions when a class rule needs it. Control messages always pass.
package forwarder

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"SimFed/internal/channel"
	"SimFed/internal/hla"
	"SimFed/internal/logger"
	"SimFed/internal/metrics"
	"SimFed/internal/network"
	"SimFed/internal/wire"
)

// Direction names a relay direction.
type Direction string

// Directions.
const (
	Downstream Direction = "downstream" // Downstream carries upstream frames to the downstream side
	Upstream   Direction = "upstream"   // Upstream carries downstream frames to the upstream side
)

// Rules is the firewall applied to data messages.
type Rules struct {
	BlockedTypes        []wire.MessageType           `yaml:"blocked_types"`        // BlockedTypes drops data messages of these types
	BlockedClasses      []hla.ObjectClassHandle      `yaml:"blocked_classes"`      // BlockedClasses drops updates of these object classes
	BlockedInteractions []hla.InteractionClassHandle `yaml:"blocked_interactions"` // BlockedInteractions drops these interactions
}

// Config holds the forwarder settings.
type Config struct {
	Rules     Rules         // Rules filters data messages
	QueueSize int           // QueueSize bounds each direction's queue
	EchoTTL   time.Duration // EchoTTL is how long sent frames are remembered to drop their echo
}

// Stats counts relayed frames.
type Stats struct {
	Forwarded map[Direction]uint64
	Dropped   map[Direction]uint64
}

// Forwarder bridges an upstream and a downstream transport.
type Forwarder struct {
	up    *side // up receives from the upstream transport
	down  *side // down receives from the downstream transport
	rules compiledRules

	stop chan struct{}  // stop signals the relay loops to exit
	wg   sync.WaitGroup // wg waits for the relay loops
	once sync.Once
}

// side is one end of the bridge.
type side struct {
	transport network.Transport // transport is this end's medium
	queue     chan []byte       // queue holds frames received on this side
	sent      *channel.Dedup    // sent remembers frames written to this side
	direction Direction         // direction of frames received here
	forwarded atomic.Uint64     // forwarded counts relayed frames
	dropped   atomic.Uint64     // dropped counts filtered frames
}

type compiledRules struct {
	types        map[wire.MessageType]struct{}
	classes      map[uint32]struct{}
	interactions map[uint32]struct{}
}

func compile(r Rules) compiledRules {
	c := compiledRules{
		types:        make(map[wire.MessageType]struct{}),
		classes:      make(map[uint32]struct{}),
		interactions: make(map[uint32]struct{}),
	}

	for _, t := range r.BlockedTypes {
		c.types[t] = struct{}{}
	}

	for _, cl := range r.BlockedClasses {
		c.classes[uint32(cl)] = struct{}{}
	}

	for _, ic := range r.BlockedInteractions {
		c.interactions[uint32(ic)] = struct{}{}
	}

	return c
}

// New starts relaying between two transports.
func New(upstream, downstream network.Transport, cfg Config) *Forwarder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	if cfg.EchoTTL <= 0 {
		cfg.EchoTTL = 5 * time.Second
	}

	f := &Forwarder{
		up:    newSide(upstream, Downstream, cfg),
		down:  newSide(downstream, Upstream, cfg),
		rules: compile(cfg.Rules),
		stop:  make(chan struct{}),
	}

	f.wg.Add(2)
	go f.relay(f.up, f.down)
	go f.relay(f.down, f.up)

	upstream.SetHandler(f.receiver(f.up))
	downstream.SetHandler(f.receiver(f.down))

	logger.Info("forwarder started",
		"blocked_types", len(cfg.Rules.BlockedTypes),
		"blocked_classes", len(cfg.Rules.BlockedClasses),
		"blocked_interactions", len(cfg.Rules.BlockedInteractions),
	)

	return f
}

func newSide(tr network.Transport, dir Direction, cfg Config) *side {
	return &side{
		transport: tr,
		queue:     make(chan []byte, cfg.QueueSize),
		sent:      channel.NewDedup(cfg.EchoTTL),
		direction: dir,
	}
}

// Stats returns the relay counters.
func (f *Forwarder) Stats() Stats {
	return Stats{
		Forwarded: map[Direction]uint64{
			Downstream: f.up.forwarded.Load(),
			Upstream:   f.down.forwarded.Load(),
		},
		Dropped: map[Direction]uint64{
			Downstream: f.up.dropped.Load(),
			Upstream:   f.down.dropped.Load(),
		},
	}
}

// Close stops relaying and closes both transports.
func (f *Forwarder) Close() error {
	var err error

	f.once.Do(func() {
		f.up.transport.SetHandler(nil)
		f.down.transport.SetHandler(nil)

		close(f.stop)
		f.wg.Wait()

		f.up.sent.Close()
		f.down.sent.Close()

		err = multierr.Append(f.up.transport.Close(), f.down.transport.Close())

		logger.Info("forwarder stopped",
			"downstream", f.up.forwarded.Load(),
			"upstream", f.down.forwarded.Load(),
		)
	})

	return err
}

// receiver queues frames from one side, skipping the echo of frames the
// forwarder wrote there itself.
func (f *Forwarder) receiver(from *side) func([]byte) {
	return func(frame []byte) {
		if !from.sent.Check(frame) {
			return
		}

		select {
		case from.queue <- frame:
		case <-f.stop:
		}
	}
}

func (f *Forwarder) relay(from, to *side) {
	defer f.wg.Done()

	for {
		select {
		case <-f.stop:
			return
		case frame := <-from.queue:
			f.forward(from, to, frame)
		}
	}
}

func (f *Forwarder) forward(from, to *side, frame []byte) {
	dir := string(from.direction)

	if reason := f.rules.check(frame); reason != "" {
		from.dropped.Add(1)
		metrics.RecordForwarded(dir, reason)

		return
	}

	to.sent.Check(frame)

	if err := to.transport.Send(frame); err != nil {
		logger.Warn("forward failed", "direction", dir, "error", err)
		from.dropped.Add(1)
		metrics.RecordForwarded(dir, "error")

		return
	}

	from.forwarded.Add(1)
	metrics.RecordForwarded(dir, "forwarded")
}

// check returns the drop reason for a frame, empty when it may pass.
func (r compiledRules) check(frame []byte) string {
	h, err := wire.ParseHeader(frame)
	if err != nil {
		logger.Debug("forwarder dropped malformed frame", "error", err)
		return "malformed"
	}

	if h.IsControl() {
		return ""
	}

	if _, blocked := r.types[h.Type]; blocked {
		return "blocked_type"
	}

	var classes map[uint32]struct{}

	switch h.Type {
	case wire.TypeUpdateAttributes:
		classes = r.classes
	case wire.TypeSendInteraction:
		classes = r.interactions
	}

	if len(classes) == 0 {
		return ""
	}

	class, ok := wire.PeekClass(h, wire.Payload(frame))
	if !ok {
		return ""
	}

	if _, blocked := classes[class]; blocked {
		return "blocked_class"
	}

	return ""
}
