package stage

import (
	"math/rand"
	"testing"

	"deepfall/server/internal/grid"
)

func gridPaths(w, h int) map[grid.Vec2]struct{} {
	paths := make(map[grid.Vec2]struct{}, w*h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			paths[grid.Vec2{X: x, Y: y}] = struct{}{}
		}
	}
	return paths
}

func testStage(opts ...Option) *Stage {
	opts = append([]Option{WithRand(rand.New(rand.NewSource(1)))}, opts...)
	return New(gridPaths(10, 10), grid.Vec2{X: 0, Y: 0}, grid.Vec2{X: 9, Y: 9}, opts...)
}

func playerAt(id uint32, pos grid.Vec2) (uint32, Actor) {
	return id, NewActor(id, Player, grid.Transform{Pos: pos, Dir: grid.Left}, NewStats(10, 10, 10), Attributes{Might: 5, Finesse: 5, Intellect: 5})
}

type recorder struct {
	events []Notification
}

func (r *recorder) record(n Notification) { r.events = append(r.events, n) }

func TestAddClaimsCellAndRejectsDuplicates(t *testing.T) {
	s := testStage()
	id, actor := playerAt(1, grid.Vec2{X: 2, Y: 2})
	if !s.Add(id, actor) {
		t.Fatal("first add refused")
	}
	if s.Add(id, actor) {
		t.Fatal("duplicate id accepted")
	}
	if s.IsSpotOpen(grid.Vec2{X: 2, Y: 2}) {
		t.Fatal("occupied cell still open")
	}
}

func TestMovePosCollisionAndAutoFacing(t *testing.T) {
	s := testStage()
	s.Add(playerAt(1, grid.Vec2{X: 2, Y: 2}))
	s.Add(playerAt(2, grid.Vec2{X: 3, Y: 2}))

	//1.- Moving onto an occupied cell must fail and leave state untouched.
	if s.MovePos(1, grid.Vec2{X: 3, Y: 2}) {
		t.Fatal("collision allowed")
	}
	//2.- A legal horizontal step auto-faces along the move.
	if !s.MovePos(1, grid.Vec2{X: 1, Y: 2}) {
		t.Fatal("legal move refused")
	}
	a, _ := s.Actor(1)
	if a.Tr.Dir != grid.Left {
		t.Fatalf("dir = %v, want Left", a.Tr.Dir)
	}
	//3.- A vertical step keeps the facing.
	if !s.MovePos(1, grid.Vec2{X: 1, Y: 3}) {
		t.Fatal("vertical move refused")
	}
	a, _ = s.Actor(1)
	if a.Tr.Dir != grid.Left {
		t.Fatalf("vertical move changed dir to %v", a.Tr.Dir)
	}
}

func TestUpdatePlayerTransformIsPositional(t *testing.T) {
	s := testStage()
	s.Add(playerAt(1, grid.Vec2{X: 2, Y: 2}))

	tr := grid.Transform{Pos: grid.Vec2{X: 3, Y: 2}, Dir: grid.Right}
	s.UpdatePlayerTransform(1, tr)
	s.UpdatePlayerTransform(1, tr)

	a, _ := s.Actor(1)
	if a.Tr != tr {
		t.Fatalf("tr = %+v, want %+v", a.Tr, tr)
	}
	//1.- The old cell is free, the new one filled, exactly once.
	if !s.IsSpotOpen(grid.Vec2{X: 2, Y: 2}) || s.IsSpotOpen(grid.Vec2{X: 3, Y: 2}) {
		t.Fatal("filled set diverged after repeated identical move")
	}
}

func TestExitCrossingEscapesAndFreesCell(t *testing.T) {
	s := testStage()
	rec := &recorder{}
	s.SetNotifier(rec.record)
	s.Add(playerAt(1, grid.Vec2{X: 9, Y: 8}))

	s.UpdatePlayerTransform(1, grid.Transform{Pos: grid.Vec2{X: 9, Y: 9}, Dir: grid.Right})

	a, _ := s.Actor(1)
	if a.Status != Escaped {
		t.Fatalf("status = %v, want Escaped", a.Status)
	}
	//1.- The exit never joins the filled set, so the next escape is unobstructed.
	if !s.IsSpotOpen(grid.Vec2{X: 9, Y: 9}) {
		t.Fatal("exit cell left filled")
	}
	sawEscape := false
	for _, n := range rec.events {
		if _, ok := n.(EscapedNotice); ok {
			sawEscape = true
		}
	}
	if !sawEscape {
		t.Fatal("no escape notification")
	}
}

func TestLookAtKeepsFacingOnEqualX(t *testing.T) {
	s := testStage()
	s.Add(playerAt(1, grid.Vec2{X: 5, Y: 5}))

	s.LookAt(1, grid.Vec2{X: 8, Y: 5})
	if a, _ := s.Actor(1); a.Tr.Dir != grid.Right {
		t.Fatalf("dir = %v, want Right", a.Tr.Dir)
	}
	s.LookAt(1, grid.Vec2{X: 5, Y: 9})
	if a, _ := s.Actor(1); a.Tr.Dir != grid.Right {
		t.Fatalf("equal-x look changed dir to %v", a.Tr.Dir)
	}
}

func TestAttackResolution(t *testing.T) {
	//1.- Fixed roll of 50 against finesse 0 always lands.
	s := testStage(WithRoll(func() int { return 50 }))
	rec := &recorder{}
	s.SetNotifier(rec.record)

	s.Add(1, NewActor(1, Monster, grid.Transform{Pos: grid.Vec2{X: 4, Y: 4}}, NewStats(20, 0, 0), Attributes{Might: 5}))
	s.Add(2, NewActor(2, Player, grid.Transform{Pos: grid.Vec2{X: 5, Y: 4}}, NewStats(12, 0, 0), Attributes{Finesse: 0}))

	s.Attack(1, 2)
	a, _ := s.Actor(2)
	if a.Stats.CurHealth != 7 {
		t.Fatalf("health = %d, want 7", a.Stats.CurHealth)
	}
	hit, ok := rec.events[len(rec.events)-1].(Hit)
	if !ok || hit.HealthLeft != 7 || hit.Attacker != 1 || hit.Defender != 2 {
		t.Fatalf("last event = %+v", rec.events[len(rec.events)-1])
	}

	//2.- Two more swings cross zero: Dead status, freed cell, Died event.
	s.Attack(1, 2)
	s.Attack(1, 2)
	a, _ = s.Actor(2)
	if a.Status != Dead {
		t.Fatalf("status = %v, want Dead", a.Status)
	}
	if !s.IsSpotOpen(grid.Vec2{X: 5, Y: 4}) {
		t.Fatal("dead actor still fills its cell")
	}
	if _, ok := rec.events[len(rec.events)-1].(Died); !ok {
		t.Fatalf("last event = %+v, want Died", rec.events[len(rec.events)-1])
	}

	//3.- Attacks on the dead are ignored.
	before := len(rec.events)
	s.Attack(1, 2)
	if len(rec.events) != before {
		t.Fatal("attack on dead defender emitted events")
	}
}

func TestAttackMiss(t *testing.T) {
	s := testStage(WithRoll(func() int { return 10 }))
	rec := &recorder{}
	s.SetNotifier(rec.record)

	s.Add(1, NewActor(1, Monster, grid.Transform{Pos: grid.Vec2{X: 4, Y: 4}}, NewStats(20, 0, 0), Attributes{Might: 5}))
	s.Add(2, NewActor(2, Player, grid.Transform{Pos: grid.Vec2{X: 5, Y: 4}}, NewStats(12, 0, 0), Attributes{Finesse: 50}))

	s.Attack(1, 2)
	if a, _ := s.Actor(2); a.Stats.CurHealth != 12 {
		t.Fatalf("health = %d, want untouched 12", a.Stats.CurHealth)
	}
	if _, ok := rec.events[len(rec.events)-1].(Miss); !ok {
		t.Fatalf("last event = %+v, want Miss", rec.events[len(rec.events)-1])
	}
}

func TestOpenSpotRespectsEntranceClearance(t *testing.T) {
	paths := gridPaths(40, 40)
	entrance := grid.Vec2{X: 0, Y: 0}
	s := New(paths, entrance, grid.Vec2{X: 39, Y: 39}, WithRand(rand.New(rand.NewSource(7))))
	for i := 0; i < 50; i++ {
		spot, ok := s.OpenSpot()
		if !ok {
			t.Fatal("no open spot on an empty grid")
		}
		if spot.Distance(entrance) <= 15 {
			t.Fatalf("spawn spot %v is within clearance of the entrance", spot)
		}
	}
}

func TestOpenSpotWithinRange(t *testing.T) {
	s := testStage()
	s.Add(playerAt(1, grid.Vec2{X: 5, Y: 5}))
	for i := 0; i < 50; i++ {
		spot, ok := s.OpenSpotWithin(1, 3)
		if !ok {
			t.Fatal("no spot in range")
		}
		if spot.Distance(grid.Vec2{X: 5, Y: 5}) > 3 {
			t.Fatalf("spot %v outside range", spot)
		}
		if !s.IsSpotOpen(spot) {
			t.Fatalf("spot %v not open", spot)
		}
	}
}

func TestChooseTemplateCoversCatalog(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	seen := make(map[uint32]int)
	for i := 0; i < 1000; i++ {
		seen[ChooseTemplate(rng).ID]++
	}
	for _, tmpl := range Templates {
		if seen[tmpl.ID] == 0 {
			t.Fatalf("template %q never chosen", tmpl.Name)
		}
	}
	//1.- The goblin's higher spawn chance must dominate the draw.
	if seen[0] <= seen[1] {
		t.Fatalf("weights ignored: %v", seen)
	}
}
