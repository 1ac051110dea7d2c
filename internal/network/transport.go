package network

import (
	"sync"
)

// Transport moves raw frames between runtimes.
// Frames from one sender reach each receiver in the order they were sent.
type Transport interface {
	// Send hands a frame to the medium.
	Send(frame []byte) error

	// SetHandler installs the function receiving every incoming frame.
	// It may be called from several goroutines at once.
	SetHandler(fn func(frame []byte))

	// Close releases the transport. Later sends fail.
	Close() error
}

// MemoryBus is an in-process shared medium. Every frame sent on a port reaches
// every other attached port before Send returns. Like a Node, a port never
// hears its own frames.
type MemoryBus struct {
	mu    sync.RWMutex
	ports map[*MemoryPort]struct{}
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{ports: make(map[*MemoryPort]struct{})}
}

// Attach creates a port on the bus.
func (b *MemoryBus) Attach() *MemoryPort {
	p := &MemoryPort{bus: b}

	b.mu.Lock()
	b.ports[p] = struct{}{}
	b.mu.Unlock()

	return p
}

// Len returns the number of attached ports.
func (b *MemoryBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.ports)
}

func (b *MemoryBus) detach(p *MemoryPort) {
	b.mu.Lock()
	delete(b.ports, p)
	b.mu.Unlock()
}

func (b *MemoryBus) deliver(from *MemoryPort, frame []byte) {
	b.mu.RLock()
	ports := make([]*MemoryPort, 0, len(b.ports))
	for p := range b.ports {
		if p != from {
			ports = append(ports, p)
		}
	}
	b.mu.RUnlock()

	for _, p := range ports {
		p.receive(frame)
	}
}

// MemoryPort is one endpoint of a MemoryBus.
type MemoryPort struct {
	bus *MemoryBus

	mu      sync.RWMutex
	handler func([]byte)
	closed  bool
	sendMu  sync.Mutex // sendMu keeps the frames of this port in order
}

// Send delivers a copy of frame to every other port.
func (p *MemoryPort) Send(frame []byte) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()

	if closed {
		return errClosed
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.bus.deliver(p, frame)

	return nil
}

// SetHandler installs the receive function.
func (p *MemoryPort) SetHandler(fn func([]byte)) {
	p.mu.Lock()
	p.handler = fn
	p.mu.Unlock()
}

func (p *MemoryPort) receive(frame []byte) {
	p.mu.RLock()
	fn, closed := p.handler, p.closed
	p.mu.RUnlock()

	if fn == nil || closed {
		return
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)

	fn(cp)
}

// Close detaches the port.
func (p *MemoryPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.bus.detach(p)

	return nil
}
