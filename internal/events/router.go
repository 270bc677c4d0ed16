// Package events is the thin routing layer between the datagram transport
// and the state tick loop. It parses inbound payloads into commands, tracks
// which peer owns which player id, resolves outbound audiences to addresses,
// and rolls the run over when a dungeon completes.
package events

import (
	"context"
	"net/netip"
	"time"

	"deepfall/server/internal/command"
	"deepfall/server/internal/game"
	"deepfall/server/internal/logging"
	"deepfall/server/internal/transport"
)

// reconnectDelay is how long clients get to show the run-complete state
// before being told to re-handshake against the fresh run.
const reconnectDelay = 5 * time.Second

// Transport is the slice of the datagram manager the router drives.
type Transport interface {
	Inbound() <-chan transport.Inbound
	Send(transport.Outbound)
	ResetPeer(netip.AddrPort)
}

// Options configure router construction.
type Options struct {
	Transport Transport
	// NewRun builds and starts a fresh game manager; called once at start
	// and again after every completed run.
	NewRun func() *game.Manager
	Logger *logging.Logger
	// ReconnectDelay overrides the pause before a Reconnect broadcast.
	// Zero means the default.
	ReconnectDelay time.Duration
}

// Router owns the peer-to-player mapping for the current run.
type Router struct {
	tr     Transport
	newRun func() *game.Manager
	run    *game.Manager

	peers   map[netip.AddrPort]uint32
	players map[uint32]netip.AddrPort

	log            *logging.Logger
	reconnectDelay time.Duration
}

// New builds a router and starts its first run.
func New(opts Options) *Router {
	r := &Router{
		tr:             opts.Transport,
		newRun:         opts.NewRun,
		peers:          make(map[netip.AddrPort]uint32),
		players:        make(map[uint32]netip.AddrPort),
		log:            opts.Logger,
		reconnectDelay: opts.ReconnectDelay,
	}
	if r.log == nil {
		r.log = logging.L()
	}
	if r.reconnectDelay <= 0 {
		r.reconnectDelay = reconnectDelay
	}
	r.run = opts.NewRun()
	return r
}

// Run shuttles packets and envelopes until the context is cancelled.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			//1.- Tear the tick loop down before leaving.
			r.run.Commands() <- command.Abort{}
			return
		case pkt := <-r.tr.Inbound():
			r.handlePacket(pkt)
		case env := <-r.run.Output():
			r.handleEnvelope(ctx, env)
		}
	}
}

// handlePacket translates one transport packet into state commands.
func (r *Router) handlePacket(pkt transport.Inbound) {
	if pkt.Dropped {
		if id, known := r.peers[pkt.Peer]; known {
			delete(r.peers, pkt.Peer)
			delete(r.players, id)
			r.run.Commands() <- command.PlayerLeft{ID: id}
		}
		return
	}

	cmd, err := command.Parse(pkt.Payload)
	if err != nil {
		r.log.Debug("discarding unparseable payload",
			logging.String("peer", pkt.Peer.String()), logging.Error(err))
		return
	}

	switch c := cmd.(type) {
	case command.Hello:
		r.run.Commands() <- command.CreatePlayer{Peer: pkt.Peer, Name: c.Name}
	case command.Moved:
		//1.- Only a peer that owns the id may move it.
		if id, known := r.peers[pkt.Peer]; known && id == c.ID {
			r.run.Commands() <- c
		}
	case command.AttackTowards:
		if id, known := r.peers[pkt.Peer]; known && id == c.ID {
			r.run.Commands() <- c
		}
	default:
		r.log.Debug("ignoring inbound command",
			logging.String("peer", pkt.Peer.String()))
	}
}

// handleEnvelope resolves a state envelope's audience and ships it.
func (r *Router) handleEnvelope(ctx context.Context, env game.Envelope) {
	if bind, ok := env.Cmd.(command.AssignPlayerID); ok {
		r.peers[bind.Peer] = bind.ID
		r.players[bind.ID] = bind.Peer
		return
	}

	payload := env.Cmd.Encode()
	if payload == "" {
		return
	}
	addrs := r.audience(env.To)
	if len(addrs) > 0 {
		r.tr.Send(transport.Outbound{Peers: addrs, Reliable: env.To.Reliable, Payload: payload})
	}

	if _, done := env.Cmd.(command.DungeonComplete); done {
		r.rollover(ctx)
	}
}

func (r *Router) audience(to game.SendTo) []netip.AddrPort {
	switch to.Mode {
	case game.SendOne:
		if peer, ok := r.players[to.ID]; ok {
			return []netip.AddrPort{peer}
		}
		return nil
	case game.SendAllBut:
		addrs := make([]netip.AddrPort, 0, len(r.peers))
		for peer, id := range r.peers {
			if id != to.ID {
				addrs = append(addrs, peer)
			}
		}
		return addrs
	default:
		addrs := make([]netip.AddrPort, 0, len(r.peers))
		for peer := range r.peers {
			addrs = append(addrs, peer)
		}
		return addrs
	}
}

// rollover replaces the completed run with a fresh one and tells every
// client to re-handshake.
func (r *Router) rollover(ctx context.Context) {
	r.log.Info("run complete, staging the next dungeon")

	select {
	case <-time.After(r.reconnectDelay):
	case <-ctx.Done():
		return
	}

	addrs := r.audience(game.SendTo{Mode: game.SendAll})
	r.run = r.newRun()
	//1.- Ids restart with the run; clients re-announce themselves.
	r.peers = make(map[netip.AddrPort]uint32)
	r.players = make(map[uint32]netip.AddrPort)

	if len(addrs) > 0 {
		r.tr.Send(transport.Outbound{Peers: addrs, Reliable: true, Payload: command.Reconnect{}.Encode()})
	}

	//2.- Let the broadcast drain its retransmit queue, then forget the
	// peers' reliable state so a re-handshaking client's fresh Hello at
	// index zero reads as a new connection rather than a repeat.
	select {
	case <-time.After(r.reconnectDelay):
	case <-ctx.Done():
		return
	}
	for _, peer := range addrs {
		r.tr.ResetPeer(peer)
	}
}
