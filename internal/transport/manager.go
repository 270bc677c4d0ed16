// Package transport owns the UDP endpoint and drives the two cooperating
// loops that turn raw datagrams into ordered application packets: a receive
// loop (liveness, retransmission, classification) and a transmit loop
// (application sends). Both share the socket and the reliable tracker under
// one lock.
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"deepfall/server/internal/logging"
	"deepfall/server/internal/metrics"
	"deepfall/server/internal/reliable"
	"deepfall/server/internal/wire"
)

// DefaultPeerTimeout evicts a peer that has been silent this long.
const DefaultPeerTimeout = 5 * time.Second

// defaultYield is the cooperative sleep between loop iterations.
const defaultYield = 10 * time.Millisecond

// State controls the two loops from the manager's owner.
type State int

const (
	// Listening is the normal operating state.
	Listening State = iota
	// Stopped halts socket I/O without tearing down peer state.
	Stopped
	// Dropped terminates both loops.
	Dropped
)

// Inbound is one packet surfaced to the application. When Dropped is true
// the peer was evicted for liveness and Payload is empty.
type Inbound struct {
	Peer    netip.AddrPort
	Payload string
	Dropped bool
}

// Outbound is one application payload destined for a set of peers.
type Outbound struct {
	Peers    []netip.AddrPort
	Reliable bool
	Payload  string
}

// Options configure manager construction.
type Options struct {
	// Addr is the UDP listen address, e.g. ":7777".
	Addr string
	// PeerTimeout overrides the liveness window. Zero means the default.
	PeerTimeout time.Duration
	// Yield overrides the loop sleep. Zero means the default.
	Yield   time.Duration
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Manager binds the socket and runs the receive and transmit loops until
// Close is called.
type Manager struct {
	conn *net.UDPConn

	// mu guards the socket writes, the reliable tracker, and the liveness
	// maps. The receive loop holds it for a whole iteration; the transmit
	// loop takes it per send.
	mu              sync.Mutex
	tracker         *reliable.Tracker
	lastHeard       map[netip.AddrPort]time.Time
	recentlyDropped map[netip.AddrPort]struct{}

	inbound  chan Inbound
	outbound chan Outbound
	rxState  chan State
	txState  chan State
	rxDone   chan struct{}
	txDone   chan struct{}

	peerTimeout time.Duration
	yield       time.Duration
	log         *logging.Logger
	metrics     *metrics.Metrics

	closeOnce sync.Once
}

// New binds the UDP endpoint and starts both loops in Listening state.
func New(opts Options) (*Manager, error) {
	addr, err := net.ResolveUDPAddr("udp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", opts.Addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %q: %w", opts.Addr, err)
	}

	m := &Manager{
		conn:            conn,
		tracker:         reliable.NewTracker(),
		lastHeard:       make(map[netip.AddrPort]time.Time),
		recentlyDropped: make(map[netip.AddrPort]struct{}),
		inbound:         make(chan Inbound, 256),
		outbound:        make(chan Outbound, 256),
		rxState:         make(chan State, 4),
		txState:         make(chan State, 4),
		rxDone:          make(chan struct{}),
		txDone:          make(chan struct{}),
		peerTimeout:     opts.PeerTimeout,
		yield:           opts.Yield,
		log:             opts.Logger,
		metrics:         opts.Metrics,
	}
	if m.peerTimeout <= 0 {
		m.peerTimeout = DefaultPeerTimeout
	}
	if m.yield <= 0 {
		m.yield = defaultYield
	}
	if m.log == nil {
		m.log = logging.L()
	}
	m.log.Info("transport listening", logging.String("addr", conn.LocalAddr().String()))

	go m.receiveLoop()
	go m.transmitLoop()
	return m, nil
}

// LocalAddr reports the bound endpoint.
func (m *Manager) LocalAddr() netip.AddrPort {
	return m.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Inbound is the stream of application packets and peer drops.
func (m *Manager) Inbound() <-chan Inbound {
	return m.inbound
}

// Send queues one outbound packet for the transmit loop.
func (m *Manager) Send(out Outbound) {
	m.outbound <- out
}

// ResetPeer forgets every piece of per-peer state: reliable sequences in
// both directions, liveness, and any standing eviction. The next reliable
// datagram from the address is treated as a fresh connection at index zero.
// The router calls this when a run rolls over and clients must re-handshake.
func (m *Manager) ResetPeer(peer netip.AddrPort) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracker.RemovePeer(peer)
	delete(m.lastHeard, peer)
	delete(m.recentlyDropped, peer)
	m.metrics.SetConnectedPeers(len(m.lastHeard))
	m.log.Info("peer state reset", logging.String("peer", peer.String()))
}

// SetListening toggles both loops between Listening and Stopped.
func (m *Manager) SetListening(listening bool) {
	state := Stopped
	if listening {
		state = Listening
	}
	m.rxState <- state
	m.txState <- state
}

// Close terminates both loops and releases the socket.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.rxState <- Dropped
		m.txState <- Dropped
		<-m.rxDone
		<-m.txDone
		_ = m.conn.Close()
	})
}

func (m *Manager) receiveLoop() {
	defer close(m.rxDone)

	state := Listening
	buf := make([]byte, wire.MaxDatagramLen)

	for {
		select {
		case state = <-m.rxState:
		default:
		}
		switch state {
		case Dropped:
			return
		case Stopped:
			time.Sleep(m.yield)
			continue
		}

		//1.- The whole iteration (liveness, timeouts, read, classify, reply)
		// runs as one atomic block against the transmit loop.
		m.mu.Lock()
		var deliver []Inbound
		now := time.Now()

		for peer, heard := range m.lastHeard {
			if now.Sub(heard) > m.peerTimeout {
				m.tracker.RemovePeer(peer)
				delete(m.lastHeard, peer)
				m.recentlyDropped[peer] = struct{}{}
				deliver = append(deliver, Inbound{Peer: peer, Dropped: true})
				m.metrics.PeerDropped()
				m.log.Info("peer dropped for liveness", logging.String("peer", peer.String()))
			}
		}

		for _, due := range m.tracker.CollectTimeouts() {
			m.writeDatagram(wire.Datagram{Kind: wire.Reliable, Index: due.Index, Payload: due.Payload}, due.Peer)
			m.metrics.Retransmit()
		}

		_ = m.conn.SetReadDeadline(now.Add(time.Millisecond))
		n, raw, err := m.conn.ReadFromUDPAddrPort(buf)
		switch {
		case err == nil:
			peer := normalize(raw)
			if _, dropped := m.recentlyDropped[peer]; dropped {
				m.writeDatagram(wire.Datagram{Kind: wire.Drop}, peer)
			} else {
				m.lastHeard[peer] = time.Now()
				deliver = append(deliver, m.handleDatagram(peer, buf[:n])...)
			}
		case errors.Is(err, os.ErrDeadlineExceeded):
			// Nothing waiting; fall through to the yield.
		default:
			m.log.Warn("socket read failed", logging.Error(err))
		}
		m.metrics.SetConnectedPeers(len(m.lastHeard))
		m.mu.Unlock()

		for _, pkt := range deliver {
			m.inbound <- pkt
		}
		time.Sleep(m.yield)
	}
}

// handleDatagram decodes and dispatches one datagram; the caller holds mu.
func (m *Manager) handleDatagram(peer netip.AddrPort, raw []byte) []Inbound {
	d := wire.Decode(raw)
	m.metrics.DatagramReceived(d.Kind.String())

	switch d.Kind {
	case wire.Unreliable:
		return []Inbound{{Peer: peer, Payload: d.Payload}}
	case wire.Reliable:
		var deliver []Inbound
		verdict := m.tracker.ClassifyReliable(peer, d.Index)
		if verdict == reliable.NewRel {
			deliver = append(deliver, Inbound{Peer: peer, Payload: d.Payload})
		}
		reply := wire.Datagram{Kind: wire.Ack, Index: d.Index}
		switch verdict {
		case reliable.NeedsResend:
			reply = wire.Datagram{Kind: wire.Resend}
		case reliable.ClientDropped:
			reply = wire.Datagram{Kind: wire.Drop}
		}
		m.writeDatagram(reply, peer)
		return deliver
	case wire.Ack:
		m.tracker.OnAck(peer, d.Index)
	case wire.Resend:
		for _, rec := range m.tracker.ResendAll(peer) {
			m.writeDatagram(wire.Datagram{Kind: wire.Reliable, Index: rec.Index, Payload: rec.Payload}, peer)
		}
	case wire.Ping:
		// Liveness was already refreshed above.
	default:
		// Malformed datagrams decode to Drop and are discarded.
	}
	return nil
}

func (m *Manager) transmitLoop() {
	defer close(m.txDone)

	state := Listening
	for {
		select {
		case state = <-m.txState:
		default:
		}
		switch state {
		case Dropped:
			return
		case Stopped:
			time.Sleep(m.yield)
			continue
		}

		select {
		case out := <-m.outbound:
			//1.- Reliable sends register a retransmission record per peer,
			// each with its own index sequence.
			m.mu.Lock()
			for _, peer := range out.Peers {
				if out.Reliable {
					index := m.tracker.OnReliableSend(peer, out.Payload)
					m.writeDatagram(wire.Datagram{Kind: wire.Reliable, Index: index, Payload: out.Payload}, peer)
				} else {
					m.writeDatagram(wire.Datagram{Kind: wire.Unreliable, Payload: out.Payload}, peer)
				}
			}
			m.mu.Unlock()
		default:
			time.Sleep(m.yield)
		}
	}
}

// writeDatagram encodes and sends one datagram; the caller holds mu. I/O
// and encode failures are logged and skipped, never propagated.
func (m *Manager) writeDatagram(d wire.Datagram, peer netip.AddrPort) {
	raw, err := wire.Encode(d)
	if err != nil {
		m.log.Error("dropping unencodable datagram", logging.Error(err))
		return
	}
	if _, err := m.conn.WriteToUDPAddrPort(raw, peer); err != nil {
		m.log.Warn("socket write failed", logging.String("peer", peer.String()), logging.Error(err))
		return
	}
	m.metrics.DatagramSent(d.Kind.String())
}

// normalize strips any 4-in-6 mapping so a peer hashes consistently.
func normalize(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
