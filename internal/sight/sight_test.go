package sight

import (
	"math/rand"
	"testing"

	"deepfall/server/internal/grid"
	"deepfall/server/internal/stage"
)

func coneStage(t *testing.T, blocked ...grid.Vec2) *stage.Stage {
	t.Helper()
	paths := make(map[grid.Vec2]struct{})
	for x := 0; x < 12; x++ {
		for y := 0; y < 12; y++ {
			paths[grid.Vec2{X: x, Y: y}] = struct{}{}
		}
	}
	for _, cell := range blocked {
		delete(paths, cell)
	}
	return stage.New(paths, grid.Vec2{X: 0, Y: 0}, grid.Vec2{X: 11, Y: 11}, stage.WithRand(rand.New(rand.NewSource(1))))
}

func addPlayer(s *stage.Stage, id uint32, pos grid.Vec2) {
	s.Add(id, stage.NewActor(id, stage.Player, grid.Transform{Pos: pos, Dir: grid.Left}, stage.NewStats(10, 10, 10), stage.Attributes{}))
}

func TestConeSeesAheadNotOrthogonal(t *testing.T) {
	s := coneStage(t)
	addPlayer(s, 1, grid.Vec2{X: 8, Y: 5})
	addPlayer(s, 2, grid.Vec2{X: 5, Y: 8})

	observer := grid.Transform{Pos: grid.Vec2{X: 5, Y: 5}, Dir: grid.Right}
	ids := VisibleActors(s, observer, []stage.Kind{stage.Player}, 4)

	if _, ok := ids[1]; !ok {
		t.Fatal("player straight ahead not seen")
	}
	if _, ok := ids[2]; ok {
		t.Fatal("player on the tapered flank should not be seen")
	}
	if len(ids) != 1 {
		t.Fatalf("ids = %v, want exactly one", ids)
	}
}

func TestConeBehindIsBlind(t *testing.T) {
	s := coneStage(t)
	addPlayer(s, 1, grid.Vec2{X: 8, Y: 5})
	addPlayer(s, 2, grid.Vec2{X: 5, Y: 8})

	observer := grid.Transform{Pos: grid.Vec2{X: 5, Y: 5}, Dir: grid.Left}
	if ids := VisibleActors(s, observer, []stage.Kind{stage.Player}, 4); len(ids) != 0 {
		t.Fatalf("left-facing scan saw %v", ids)
	}
}

func TestWallBlocksSight(t *testing.T) {
	s := coneStage(t, grid.Vec2{X: 7, Y: 5})
	addPlayer(s, 1, grid.Vec2{X: 8, Y: 5})

	observer := grid.Transform{Pos: grid.Vec2{X: 5, Y: 5}, Dir: grid.Right}
	if ids := VisibleActors(s, observer, []stage.Kind{stage.Player}, 4); len(ids) != 0 {
		t.Fatalf("wall did not block sight: %v", ids)
	}
}

func TestKindFilter(t *testing.T) {
	s := coneStage(t)
	s.Add(3, stage.NewActor(3, stage.Monster, grid.Transform{Pos: grid.Vec2{X: 7, Y: 5}, Dir: grid.Left}, stage.NewStats(20, 0, 0), stage.Attributes{}))

	observer := grid.Transform{Pos: grid.Vec2{X: 5, Y: 5}, Dir: grid.Right}
	if ids := VisibleActors(s, observer, []stage.Kind{stage.Player}, 4); len(ids) != 0 {
		t.Fatalf("player filter matched a monster: %v", ids)
	}
	ids := VisibleActors(s, observer, []stage.Kind{stage.Monster}, 4)
	if _, ok := ids[3]; !ok {
		t.Fatal("monster filter missed the monster")
	}
}
