package network

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"SimFed/internal/logger"
)

// Peer is a connection to a remote node.
// Outgoing frames share one unidirectional stream so the remote side reads them
// in send order.
type Peer struct {
	publicKey ed25519.PublicKey // publicKey is the remote node's key
	address   string            // address is the remote address
	conn      *quic.Conn        // conn is the underlying QUIC connection
	node      *Node             // node is the parent node
	closed    atomic.Bool       // closed is set once the peer is gone

	mu     sync.Mutex       // mu serializes writes to stream
	stream *quic.SendStream // stream is opened on first send
}

// PublicKey returns the remote node's key.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// Send writes a frame to the peer's stream.
func (p *Peer) Send(frame []byte) error {
	if p.closed.Load() {
		return errClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		stream, err := p.conn.OpenUniStreamSync(p.node.ctx)
		if err != nil {
			return fmt.Errorf("open stream:\n%w", err)
		}

		p.stream = stream
	}

	if err := writeFrame(p.stream, frame); err != nil {
		p.stream.CancelWrite(0)
		p.stream = nil

		return err
	}

	return nil
}

// Close closes the connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// receiveLoop accepts the remote's streams until the connection ends.
func (p *Peer) receiveLoop() {
	for {
		stream, err := p.conn.AcceptUniStream(p.node.ctx)
		if err != nil {
			logger.Debug("peer receive loop ended", "peer", p.address, "error", err)
			break
		}

		p.node.wg.Add(1)
		go func() {
			defer p.node.wg.Done()
			p.readStream(stream)
		}()
	}

	p.handleDisconnect()
}

// readStream delivers every frame of one stream in order.
func (p *Peer) readStream(stream *quic.ReceiveStream) {
	for {
		frame, err := readFrame(stream)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("stream read error", "peer", p.address, "error", err)
			}

			return
		}

		p.node.deliver(p, frame)
	}
}

func (p *Peer) handleDisconnect() {
	p.closed.Store(true)
	p.node.handlePeerDisconnect(p)
}
