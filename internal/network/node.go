package network

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"

	"SimFed/internal/hla"
	"SimFed/internal/logger"
)

const (
	// defaultReconnectDelay is the first delay before redialing a lost peer.
	defaultReconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 30 * time.Second

	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "simfed/1"
)

// Config holds the configuration for a Node.
type Config struct {
	PrivateKey     ed25519.PrivateKey // PrivateKey identifies the node, generated when nil
	ListenAddr     string             // ListenAddr is the address to listen on, empty for a dial-only node
	Relay          bool               // Relay forwards frames received from one peer to every other peer
	ReconnectDelay time.Duration      // ReconnectDelay is the initial delay between redial attempts
}

// Node is a QUIC transport. An RTI runs a relaying node that LRC nodes dial;
// frames then flow through the hub in a star.
type Node struct {
	privateKey ed25519.PrivateKey // privateKey is the node's ed25519 private key
	publicKey  ed25519.PublicKey  // publicKey is the node's ed25519 public key
	listenAddr string             // listenAddr is the address to listen on
	relay      bool               // relay enables hub forwarding
	tlsConfig  *tls.Config        // tlsConfig is the TLS configuration
	quicConfig *quic.Config       // quicConfig is the QUIC configuration

	listener *quic.Listener // listener is the QUIC listener

	peers   map[string]*Peer // peers maps public key hex to peer
	peersMu sync.RWMutex     // peersMu protects peers

	dialed   map[string]string // dialed maps public key hex to the address we dialed
	dialedMu sync.RWMutex      // dialedMu protects dialed

	reconnectDelay time.Duration

	handler      func([]byte) // handler receives every incoming frame
	onConnect    func(*Peer)  // onConnect is called when a peer connects
	onDisconnect func(*Peer)  // onDisconnect is called when a peer disconnects
	handlersMu   sync.RWMutex // handlersMu protects the callbacks

	ctx    context.Context    // ctx is cancelled by Close
	cancel context.CancelFunc // cancel cancels ctx
	wg     sync.WaitGroup     // wg waits for goroutines to finish
}

// NewNode creates a node. It does not listen until Start.
func NewNode(cfg Config) (*Node, error) {
	key := cfg.PrivateKey
	if key == nil {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate node key:\n%w", err)
		}

		key = generated
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}

	cert, err := selfSignedCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("generate certificate:\n%w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true, // peers are identified by key in setupPeer
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		privateKey:     key,
		publicKey:      key.Public().(ed25519.PublicKey),
		listenAddr:     cfg.ListenAddr,
		relay:          cfg.Relay,
		tlsConfig:      tlsConfig,
		quicConfig:     quicConfig,
		peers:          make(map[string]*Peer),
		dialed:         make(map[string]string),
		reconnectDelay: reconnectDelay,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// PublicKey returns the node's public key.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.publicKey
}

// Addr returns the listener's address, empty before Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start begins accepting connections.
func (n *Node) Start() error {
	if n.listenAddr == "" {
		return fmt.Errorf("listen address is required")
	}

	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen on %s:\n%w", n.listenAddr, err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	logger.Info("transport listening", "addr", n.Addr(), "relay", n.relay)

	return nil
}

// Connect dials a remote node. The peer is redialed when the connection drops.
func (n *Node) Connect(addr string) (*Peer, error) {
	conn, err := quic.DialAddr(n.ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", addr, err)
	}

	peer, err := n.setupPeer(conn, addr)
	if err != nil {
		_ = conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	n.dialedMu.Lock()
	n.dialed[hex.EncodeToString(peer.publicKey)] = addr
	n.dialedMu.Unlock()

	return peer, nil
}

// Send writes a frame to every connected peer.
// A dial-only node without a connection reports NotConnected.
func (n *Node) Send(frame []byte) error {
	peers := n.Peers()

	if len(peers) == 0 {
		if n.relay {
			return nil
		}

		return hla.Errorf(hla.KindNotConnected, "no connected peer")
	}

	var err error
	for _, p := range peers {
		err = multierr.Append(err, p.Send(frame))
	}

	return err
}

// SetHandler installs the function receiving every incoming frame.
func (n *Node) SetHandler(fn func([]byte)) {
	n.handlersMu.Lock()
	n.handler = fn
	n.handlersMu.Unlock()
}

// Peers returns the connected peers.
func (n *Node) Peers() []*Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}

	return peers
}

// OnConnect sets the handler called when a peer connects.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onConnect = fn
	n.handlersMu.Unlock()
}

// OnDisconnect sets the handler called when a peer disconnects.
func (n *Node) OnDisconnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onDisconnect = fn
	n.handlersMu.Unlock()
}

// Close stops the node and closes every connection.
func (n *Node) Close() error {
	n.cancel()

	var err error
	if n.listener != nil {
		err = multierr.Append(err, n.listener.Close())
	}

	n.peersMu.Lock()
	for _, p := range n.peers {
		err = multierr.Append(err, p.Close())
	}
	n.peers = make(map[string]*Peer)
	n.peersMu.Unlock()

	n.wg.Wait()

	return err
}

// acceptLoop accepts incoming connections until the listener closes.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.handleIncoming(conn)
		}()
	}
}

func (n *Node) handleIncoming(conn *quic.Conn) {
	peer, err := n.setupPeer(conn, conn.RemoteAddr().String())
	if err != nil {
		logger.Warn("rejected connection", "addr", conn.RemoteAddr(), "error", err)
		_ = conn.CloseWithError(1, "setup failed")
		return
	}

	n.callOnConnect(peer)
}

// setupPeer registers a connection and starts reading from it.
func (n *Node) setupPeer(conn *quic.Conn, addr string) (*Peer, error) {
	pub, err := peerKey(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("identify peer:\n%w", err)
	}

	peer := &Peer{
		publicKey: pub,
		address:   addr,
		conn:      conn,
		node:      n,
	}

	n.peersMu.Lock()
	n.peers[hex.EncodeToString(pub)] = peer
	n.peersMu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop()
	}()

	return peer, nil
}

// deliver relays a frame to the other peers of a hub, then hands it to the handler.
func (n *Node) deliver(from *Peer, frame []byte) {
	if n.relay {
		for _, p := range n.Peers() {
			if p == from {
				continue
			}

			if err := p.Send(frame); err != nil {
				logger.Warn("relay failed", "peer", p.Address(), "error", err)
			}
		}
	}

	n.handlersMu.RLock()
	fn := n.handler
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(frame)
	}
}

// handlePeerDisconnect forgets a peer and schedules a redial when we dialed it.
func (n *Node) handlePeerDisconnect(p *Peer) {
	keyHex := hex.EncodeToString(p.publicKey)

	n.peersMu.Lock()
	if n.peers[keyHex] == p {
		delete(n.peers, keyHex)
	}
	n.peersMu.Unlock()

	n.callOnDisconnect(p)

	if n.ctx.Err() != nil {
		return
	}

	n.dialedMu.RLock()
	_, dialed := n.dialed[keyHex]
	n.dialedMu.RUnlock()

	if !dialed {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.reconnectPeer(keyHex)
	}()
}

// reconnectPeer redials a peer with exponential backoff.
func (n *Node) reconnectPeer(keyHex string) {
	delay := n.reconnectDelay

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}

		n.dialedMu.RLock()
		addr, ok := n.dialed[keyHex]
		n.dialedMu.RUnlock()

		if !ok {
			return
		}

		n.peersMu.RLock()
		_, exists := n.peers[keyHex]
		n.peersMu.RUnlock()

		if exists {
			return
		}

		peer, err := n.Connect(addr)
		if err == nil {
			logger.Info("peer reconnected", "addr", addr)
			n.callOnConnect(peer)

			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (n *Node) callOnConnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onConnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

func (n *Node) callOnDisconnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onDisconnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}
