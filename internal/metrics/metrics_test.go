package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.DatagramReceived("REL")
	m.DatagramSent("ACK")
	m.Retransmit()
	m.PeerDropped()
	m.SetConnectedPeers(3)
	m.SetActors("player", 2)
	m.ObserveTick(time.Millisecond)
	m.SpectatorFrameDropped()
}

func TestCollectorsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DatagramReceived("REL")
	m.DatagramReceived("REL")
	m.Retransmit()
	m.SetConnectedPeers(4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	for _, want := range []string{
		"deepfall_transport_datagrams_received_total",
		"deepfall_transport_retransmits_total",
		"deepfall_transport_connected_peers",
	} {
		if !found[want] {
			t.Fatalf("metric %s not registered", want)
		}
	}
}
