// Package reliable tracks per-peer reliable datagram state: outgoing
// sequence numbers, the retransmission queue, the receive cursor, and the
// RTT-smoothed retransmit timeout.
package reliable

import (
	"net/netip"
	"time"
)

// InitialRTT seeds a fresh peer's retransmit timeout before any ack has been
// observed.
const InitialRTT = 500 * time.Millisecond

// Classification is the verdict on an incoming reliable datagram's index.
type Classification int

const (
	// NewRel means the index is exactly the expected one; deliver and ack.
	NewRel Classification = iota
	// Repeated means the payload was already delivered; re-ack only.
	Repeated
	// NeedsResend means the index skipped ahead; ask the sender to resend.
	NeedsResend
	// ClientDropped means this endpoint no longer knows the peer.
	ClientDropped
)

// Pending describes one unacked reliable record due for (re)transmission.
type Pending struct {
	Peer    netip.AddrPort
	Index   uint64
	Payload string
}

type record struct {
	index   uint64
	payload string
	sentAt  time.Time
	lastTx  time.Time
}

// Tracker holds all per-peer reliable state. It is not safe for concurrent
// use; the transport serializes access under its socket lock.
type Tracker struct {
	sendSeq map[netip.AddrPort]uint64
	recvSeq map[netip.AddrPort]uint64
	// queues hold unacked records newest-first; the oldest sits at the tail.
	queues map[netip.AddrPort][]*record
	rtt    map[netip.AddrPort]time.Duration
	now    func() time.Time
}

// Option adjusts Tracker construction.
type Option func(*Tracker)

// WithClock substitutes the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		sendSeq: make(map[netip.AddrPort]uint64),
		recvSeq: make(map[netip.AddrPort]uint64),
		queues:  make(map[netip.AddrPort][]*record),
		rtt:     make(map[netip.AddrPort]time.Duration),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnReliableSend assigns the next outgoing index for the peer, enqueues the
// retransmission record, and returns the assigned index.
func (t *Tracker) OnReliableSend(peer netip.AddrPort, payload string) uint64 {
	index := t.sendSeq[peer]
	t.sendSeq[peer] = index + 1

	now := t.now()
	rec := &record{index: index, payload: payload, sentAt: now, lastTx: now}
	//1.- Newest records go to the head so the tail is always the oldest unacked.
	t.queues[peer] = append([]*record{rec}, t.queues[peer]...)
	if _, ok := t.rtt[peer]; !ok {
		t.rtt[peer] = InitialRTT
	}
	return index
}

// OnAck resolves the oldest unacked record if its index matches, folding the
// observed round trip into the peer's timeout. Out-of-order acks are ignored.
func (t *Tracker) OnAck(peer netip.AddrPort, index uint64) {
	queue := t.queues[peer]
	if len(queue) == 0 {
		return
	}
	oldest := queue[len(queue)-1]
	if oldest.index != index {
		return
	}
	//1.- One-pole filter: the new timeout is the mean of the old one and this RTT.
	lifespan := t.now().Sub(oldest.sentAt)
	t.rtt[peer] = (t.rtt[peer] + lifespan) / 2
	t.queues[peer] = queue[:len(queue)-1]
}

// ClassifyReliable checks an incoming reliable index against the peer's
// receive cursor, establishing new peers at index zero.
func (t *Tracker) ClassifyReliable(peer netip.AddrPort, index uint64) Classification {
	expected, known := t.recvSeq[peer]
	if !known {
		// An unknown peer starting at zero is a fresh connection. Anything
		// higher means we once knew this peer and have since forgotten it.
		if index == 0 {
			t.recvSeq[peer] = 1
			return NewRel
		}
		return ClientDropped
	}
	switch {
	case index == expected:
		t.recvSeq[peer] = expected + 1
		return NewRel
	case index < expected:
		return Repeated
	default:
		return NeedsResend
	}
}

// CollectTimeouts returns, for each peer, the oldest unacked record whose
// last transmission is older than the peer's RTT estimate, stamping a fresh
// transmission time on each. Only the head of each queue is retransmitted
// per cycle, which preserves ordering and throttles the retry rate.
func (t *Tracker) CollectTimeouts() []Pending {
	now := t.now()
	var due []Pending
	for peer, queue := range t.queues {
		if len(queue) == 0 {
			continue
		}
		oldest := queue[len(queue)-1]
		if now.Sub(oldest.lastTx) > t.rtt[peer] {
			oldest.lastTx = now
			due = append(due, Pending{Peer: peer, Index: oldest.index, Payload: oldest.payload})
		}
	}
	return due
}

// ResendAll returns every unacked record for the peer, newest first, in
// response to a RES datagram.
func (t *Tracker) ResendAll(peer netip.AddrPort) []Pending {
	queue := t.queues[peer]
	out := make([]Pending, 0, len(queue))
	for _, rec := range queue {
		out = append(out, Pending{Peer: peer, Index: rec.index, Payload: rec.payload})
	}
	return out
}

// RemovePeer drops every piece of state held for the peer.
func (t *Tracker) RemovePeer(peer netip.AddrPort) {
	delete(t.sendSeq, peer)
	delete(t.recvSeq, peer)
	delete(t.queues, peer)
	delete(t.rtt, peer)
}

// RTT reports the current retransmit timeout for the peer.
func (t *Tracker) RTT(peer netip.AddrPort) time.Duration {
	if d, ok := t.rtt[peer]; ok {
		return d
	}
	return InitialRTT
}

// PendingCount reports how many unacked records the peer has queued.
func (t *Tracker) PendingCount(peer netip.AddrPort) int {
	return len(t.queues[peer])
}
