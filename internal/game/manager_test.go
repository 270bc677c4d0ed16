package game

import (
	"math/rand"
	"net/netip"
	"testing"

	"deepfall/server/internal/command"
	"deepfall/server/internal/dungeon"
	"deepfall/server/internal/grid"
	"deepfall/server/internal/logging"
	"deepfall/server/internal/stage"
)

func squareDungeon(size int) *dungeon.Dungeon {
	paths := make(map[grid.Vec2]struct{}, size*size)
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			paths[grid.Vec2{X: x, Y: y}] = struct{}{}
		}
	}
	return dungeon.New(paths, grid.Vec2{X: 0, Y: 0}, grid.Vec2{X: size - 1, Y: size - 1})
}

func newTestManager(t *testing.T, monsters int) *Manager {
	t.Helper()
	return New(Options{
		Dungeon:      squareDungeon(40),
		MonsterCount: monsters,
		Logger:       logging.NewTestLogger(),
		Rand:         rand.New(rand.NewSource(5)),
	})
}

func testPeer(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
}

// drain empties the output buffer after the manager has been driven
// synchronously with tick().
func drain(m *Manager) []Envelope {
	var out []Envelope
	for {
		select {
		case e := <-m.out:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestAdmitPlayerReplaysWorld(t *testing.T) {
	m := newTestManager(t, 3)
	spawns := drain(m)
	if len(spawns) != 3 {
		t.Fatalf("got %d spawn envelopes, want 3", len(spawns))
	}

	m.in <- command.CreatePlayer{Peer: testPeer(9000), Name: "Alice"}
	if m.tick() {
		t.Fatal("tick ended the run")
	}
	out := drain(m)

	//1.- The id binding must come first so the router can address the rest.
	assign, ok := out[0].Cmd.(command.AssignPlayerID)
	if !ok {
		t.Fatalf("first envelope = %T, want AssignPlayerID", out[0].Cmd)
	}
	if assign.Peer != testPeer(9000) {
		t.Fatalf("assign peer = %v", assign.Peer)
	}
	id := assign.ID

	welcome, ok := out[1].Cmd.(command.Welcome)
	if !ok || welcome.ID != id {
		t.Fatalf("second envelope = %+v, want Welcome for %d", out[1].Cmd, id)
	}
	if out[1].To != (SendTo{Mode: SendOne, ID: id, Reliable: true}) {
		t.Fatalf("welcome audience = %+v", out[1].To)
	}
	//2.- The blob must decode back to the staged dungeon.
	if _, err := dungeon.DecodeBlob(welcome.Blob); err != nil {
		t.Fatalf("welcome blob does not decode: %v", err)
	}

	var newMonsters, movedReplays, newPlayerBroadcasts int
	for _, e := range out[2:] {
		switch cmd := e.Cmd.(type) {
		case command.NewMonster:
			newMonsters++
		case command.Moved:
			movedReplays++
		case command.NewPlayer:
			if cmd.ID != id || e.To.Mode != SendAllBut || !e.To.Reliable {
				t.Fatalf("newcomer broadcast = %+v to %+v", cmd, e.To)
			}
			newPlayerBroadcasts++
		default:
			t.Fatalf("unexpected envelope %T", e.Cmd)
		}
	}
	if newMonsters != 3 {
		t.Fatalf("replayed %d monsters, want 3", newMonsters)
	}
	//3.- One transform per actor: three monsters plus the newcomer.
	if movedReplays != 4 {
		t.Fatalf("replayed %d transforms, want 4", movedReplays)
	}
	if newPlayerBroadcasts != 1 {
		t.Fatalf("got %d newcomer broadcasts, want 1", newPlayerBroadcasts)
	}
}

func TestSecondPlayerSeesFirst(t *testing.T) {
	m := newTestManager(t, 0)
	m.in <- command.CreatePlayer{Peer: testPeer(9000), Name: "Alice"}
	m.tick()
	drain(m)

	m.in <- command.CreatePlayer{Peer: testPeer(9001), Name: "Bob"}
	m.tick()
	out := drain(m)

	sawAlice := false
	for _, e := range out {
		if np, ok := e.Cmd.(command.NewPlayer); ok && np.Name == "Alice" {
			if e.To.Mode != SendOne {
				t.Fatalf("existing-player replay audience = %+v", e.To)
			}
			sawAlice = true
		}
	}
	if !sawAlice {
		t.Fatal("newcomer was not told about the existing player")
	}
}

func TestMovedIsPositionalAndIdempotent(t *testing.T) {
	m := newTestManager(t, 0)
	m.in <- command.CreatePlayer{Peer: testPeer(9000), Name: "Alice"}
	m.tick()
	drain(m)

	tr := grid.Transform{Pos: grid.Vec2{X: 1, Y: 0}, Dir: grid.Right}
	m.in <- command.Moved{ID: 0, Tr: tr}
	m.in <- command.Moved{ID: 0, Tr: tr}
	m.tick()
	out := drain(m)

	actor, ok := m.st.Actor(0)
	if !ok || actor.Tr != tr {
		t.Fatalf("actor tr = %+v, want %+v", actor.Tr, tr)
	}
	for _, e := range out {
		moved, ok := e.Cmd.(command.Moved)
		if !ok {
			t.Fatalf("unexpected envelope %T", e.Cmd)
		}
		if moved.Tr != tr || e.To.Mode != SendAllBut || e.To.ID != 0 || e.To.Reliable {
			t.Fatalf("move broadcast = %+v to %+v", moved, e.To)
		}
	}
}

func TestEscapeEndsTheRun(t *testing.T) {
	m := newTestManager(t, 0)
	m.in <- command.CreatePlayer{Peer: testPeer(9000), Name: "Alice"}
	m.tick()
	drain(m)

	//1.- Walk straight onto the exit; position updates are positional, so
	// one command is enough.
	m.in <- command.Moved{ID: 0, Tr: grid.Transform{Pos: grid.Vec2{X: 39, Y: 39}, Dir: grid.Right}}
	ended := m.tick()
	out := drain(m)

	if !ended {
		t.Fatal("run did not end after the only player escaped")
	}
	actor, _ := m.st.Actor(0)
	if actor.Status != stage.Escaped {
		t.Fatalf("status = %v, want Escaped", actor.Status)
	}

	var sawEscaped, sawComplete bool
	for _, e := range out {
		switch e.Cmd.(type) {
		case command.Escaped:
			if !e.To.Reliable || e.To.Mode != SendAll {
				t.Fatalf("escape broadcast = %+v", e.To)
			}
			sawEscaped = true
		case command.DungeonComplete:
			sawComplete = true
		}
	}
	if !sawEscaped || !sawComplete {
		t.Fatalf("escaped=%v complete=%v, want both", sawEscaped, sawComplete)
	}
}

func TestAttackTowardsResolvesAgainstMonster(t *testing.T) {
	m := newTestManager(t, 1)
	spawn := drain(m)
	monster, ok := spawn[0].Cmd.(command.NewMonster)
	if !ok {
		t.Fatalf("spawn envelope = %T", spawn[0].Cmd)
	}

	m.in <- command.CreatePlayer{Peer: testPeer(9000), Name: "Alice"}
	m.tick()
	drain(m)

	m.in <- command.AttackTowards{ID: 0, Pos: monster.Pos}
	m.tick()
	out := drain(m)

	var sawOutcome, sawForward bool
	for _, e := range out {
		switch cmd := e.Cmd.(type) {
		case command.Hit:
			if cmd.Attacker != 0 || cmd.Defender != monster.InstanceID {
				t.Fatalf("hit = %+v", cmd)
			}
			sawOutcome = true
		case command.Miss:
			sawOutcome = true
		case command.AttackTowards:
			if e.To.Mode != SendAllBut || e.To.ID != 0 {
				t.Fatalf("attack forward audience = %+v", e.To)
			}
			sawForward = true
		}
	}
	if !sawOutcome {
		t.Fatal("attack produced neither hit nor miss")
	}
	if !sawForward {
		t.Fatal("attack intent was not forwarded to observers")
	}
}

func TestPlayerLeftCleansUp(t *testing.T) {
	m := newTestManager(t, 0)
	m.in <- command.CreatePlayer{Peer: testPeer(9000), Name: "Alice"}
	m.in <- command.CreatePlayer{Peer: testPeer(9001), Name: "Bob"}
	m.tick()
	drain(m)

	m.in <- command.PlayerLeft{ID: 0}
	m.tick()
	out := drain(m)

	if _, ok := m.st.Actor(0); ok {
		t.Fatal("departed player still staged")
	}
	if len(m.players) != 1 {
		t.Fatalf("players = %d, want 1", len(m.players))
	}
	found := false
	for _, e := range out {
		if left, ok := e.Cmd.(command.PlayerLeft); ok && left.ID == 0 {
			if e.To.Mode != SendAllBut || !e.To.Reliable {
				t.Fatalf("leave broadcast = %+v", e.To)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("no PlayerLeft broadcast")
	}
}
