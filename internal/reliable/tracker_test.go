package reliable

import (
	"net/netip"
	"testing"
	"time"
)

func testPeer(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
}

type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time { return c.at }

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func TestReliableSendAssignsMonotonicIndexes(t *testing.T) {
	tracker := NewTracker()
	peer := testPeer(4000)
	for want := uint64(0); want < 5; want++ {
		if got := tracker.OnReliableSend(peer, "payload"); got != want {
			t.Fatalf("index = %d, want %d", got, want)
		}
	}
	if n := tracker.PendingCount(peer); n != 5 {
		t.Fatalf("pending = %d, want 5", n)
	}
}

func TestClassifyEstablishesNewPeerAtZero(t *testing.T) {
	tracker := NewTracker()
	peer := testPeer(4001)
	if got := tracker.ClassifyReliable(peer, 0); got != NewRel {
		t.Fatalf("first index 0 = %v, want NewRel", got)
	}
	if got := tracker.ClassifyReliable(peer, 1); got != NewRel {
		t.Fatalf("index 1 = %v, want NewRel", got)
	}
}

func TestClassifyUnknownPeerAboveZeroIsDropped(t *testing.T) {
	tracker := NewTracker()
	if got := tracker.ClassifyReliable(testPeer(4002), 3); got != ClientDropped {
		t.Fatalf("got %v, want ClientDropped", got)
	}
}

func TestClassifyOrdering(t *testing.T) {
	tracker := NewTracker()
	peer := testPeer(4003)
	tracker.ClassifyReliable(peer, 0)

	//1.- A repeat of an already-delivered index only deserves a fresh ack.
	if got := tracker.ClassifyReliable(peer, 0); got != Repeated {
		t.Fatalf("repeat = %v, want Repeated", got)
	}
	//2.- Skipping ahead means an earlier datagram was lost; request a resend.
	if got := tracker.ClassifyReliable(peer, 5); got != NeedsResend {
		t.Fatalf("skip = %v, want NeedsResend", got)
	}
	//3.- The cursor must not have moved on either failure path.
	if got := tracker.ClassifyReliable(peer, 1); got != NewRel {
		t.Fatalf("expected index = %v, want NewRel", got)
	}
}

func TestAckResolvesOldestAndSmoothsRTT(t *testing.T) {
	clock := &fakeClock{at: time.UnixMilli(0)}
	tracker := NewTracker(WithClock(clock.now))
	peer := testPeer(4004)

	tracker.OnReliableSend(peer, "a")
	tracker.OnReliableSend(peer, "b")

	clock.advance(100 * time.Millisecond)
	tracker.OnAck(peer, 0)

	if n := tracker.PendingCount(peer); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
	// (500ms + 100ms) / 2
	if got := tracker.RTT(peer); got != 300*time.Millisecond {
		t.Fatalf("rtt = %v, want 300ms", got)
	}
}

func TestOutOfOrderAckIgnored(t *testing.T) {
	tracker := NewTracker()
	peer := testPeer(4005)
	tracker.OnReliableSend(peer, "a")
	tracker.OnReliableSend(peer, "b")

	//1.- Ack for the newer record must not pop the older head of queue.
	tracker.OnAck(peer, 1)
	if n := tracker.PendingCount(peer); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}
}

func TestCollectTimeoutsReturnsOnlyOldestPerPeer(t *testing.T) {
	clock := &fakeClock{at: time.UnixMilli(0)}
	tracker := NewTracker(WithClock(clock.now))
	peer := testPeer(4006)

	tracker.OnReliableSend(peer, "a")
	tracker.OnReliableSend(peer, "b")
	tracker.OnReliableSend(peer, "c")

	clock.advance(InitialRTT + time.Millisecond)
	due := tracker.CollectTimeouts()
	if len(due) != 1 {
		t.Fatalf("due = %d records, want 1", len(due))
	}
	if due[0].Index != 0 || due[0].Payload != "a" {
		t.Fatalf("due = %+v, want oldest record", due[0])
	}

	//1.- The retransmission stamped a fresh lastTx, so nothing is due yet.
	if again := tracker.CollectTimeouts(); len(again) != 0 {
		t.Fatalf("immediately due again: %+v", again)
	}
}

func TestResendAllNewestFirst(t *testing.T) {
	tracker := NewTracker()
	peer := testPeer(4007)
	tracker.OnReliableSend(peer, "a")
	tracker.OnReliableSend(peer, "b")
	tracker.OnReliableSend(peer, "c")

	all := tracker.ResendAll(peer)
	if len(all) != 3 {
		t.Fatalf("resend = %d records, want 3", len(all))
	}
	for i, want := range []uint64{2, 1, 0} {
		if all[i].Index != want {
			t.Fatalf("resend[%d].Index = %d, want %d", i, all[i].Index, want)
		}
	}
}

func TestRemovePeerDropsAllState(t *testing.T) {
	tracker := NewTracker()
	peer := testPeer(4008)
	tracker.OnReliableSend(peer, "a")
	tracker.ClassifyReliable(peer, 0)

	tracker.RemovePeer(peer)

	if n := tracker.PendingCount(peer); n != 0 {
		t.Fatalf("pending = %d after removal", n)
	}
	//1.- A forgotten peer resuming above zero is told it was dropped.
	if got := tracker.ClassifyReliable(peer, 4); got != ClientDropped {
		t.Fatalf("got %v, want ClientDropped", got)
	}
	//2.- The send sequence restarts from zero for a re-established peer.
	if got := tracker.OnReliableSend(peer, "b"); got != 0 {
		t.Fatalf("index = %d, want 0", got)
	}
}
