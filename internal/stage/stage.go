// Package stage holds the authoritative world simulation state: the walkable
// cells, the actors on them, and the collision/combat rules that bind the
// two together. The stage has a single owner (the game tick loop); every
// observable change is pushed through the notifier so the owner can fan it
// out to clients.
package stage

import (
	"math/rand"

	"deepfall/server/internal/grid"
)

// monsterSpawnClearance keeps fresh monsters away from the entrance so
// incoming players never materialize next to one.
const monsterSpawnClearance = 15.0

// Notification is an observable state change emitted by stage operations.
type Notification interface{ notification() }

// Moved reports an actor's transform after a position or facing change.
type Moved struct {
	ID uint32
	Tr grid.Transform
}

// Hit reports a landed attack and the defender's remaining health.
type Hit struct {
	Attacker   uint32
	Defender   uint32
	HealthLeft int
}

// Miss reports an attack the defender's finesse turned away.
type Miss struct {
	Attacker uint32
	Defender uint32
}

// Died reports a defender whose health crossed zero.
type Died struct {
	ID uint32
}

// EscapedNotice reports a player who crossed the exit cell.
type EscapedNotice struct {
	ID uint32
}

// Charging reports a monster telegraphing an attack.
type Charging struct {
	ID uint32
}

func (Moved) notification()         {}
func (Hit) notification()           {}
func (Miss) notification()          {}
func (Died) notification()          {}
func (EscapedNotice) notification() {}
func (Charging) notification()      {}

// Stage is the authoritative actor map plus the grid it plays out on.
// It is not safe for concurrent use; the tick loop owns it exclusively.
type Stage struct {
	actors   map[uint32]*Actor
	paths    map[grid.Vec2]struct{}
	filled   map[grid.Vec2]struct{}
	entrance grid.Vec2
	exit     grid.Vec2

	rng    *rand.Rand
	roll   func() int
	notify func(Notification)
}

// Option adjusts stage construction.
type Option func(*Stage)

// WithRand substitutes the random source used for spot sampling.
func WithRand(rng *rand.Rand) Option {
	return func(s *Stage) { s.rng = rng }
}

// WithRoll substitutes the attack roll, which draws from [0,100).
func WithRoll(roll func() int) Option {
	return func(s *Stage) { s.roll = roll }
}

// New builds a stage over the given walkable set. The entrance and exit are
// expected to be members of paths.
func New(paths map[grid.Vec2]struct{}, entrance, exit grid.Vec2, opts ...Option) *Stage {
	s := &Stage{
		actors:   make(map[uint32]*Actor),
		paths:    paths,
		filled:   make(map[grid.Vec2]struct{}),
		entrance: entrance,
		exit:     exit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if s.roll == nil {
		s.roll = func() int { return s.rng.Intn(100) }
	}
	return s
}

// SetNotifier installs the observer for state-change notifications.
func (s *Stage) SetNotifier(fn func(Notification)) {
	s.notify = fn
}

// Notify pushes a notification through the installed observer. Packages use
// this for signals that are not themselves stage mutations, like charging.
func (s *Stage) Notify(n Notification) {
	if s.notify != nil {
		s.notify(n)
	}
}

// Entrance is the cell players spawn on.
func (s *Stage) Entrance() grid.Vec2 { return s.entrance }

// Exit is the cell that transitions players to Escaped.
func (s *Stage) Exit() grid.Vec2 { return s.exit }

// Actor returns a copy of the actor, if present.
func (s *Stage) Actor(id uint32) (Actor, bool) {
	if a, ok := s.actors[id]; ok {
		return *a, true
	}
	return Actor{}, false
}

// Transforms returns every actor's id and transform, for state replay.
func (s *Stage) Transforms() []Moved {
	out := make([]Moved, 0, len(s.actors))
	for id, a := range s.actors {
		out = append(out, Moved{ID: id, Tr: a.Tr})
	}
	return out
}

// Count reports how many actors of the kind are present, optionally only
// the Active ones.
func (s *Stage) Count(kind Kind, activeOnly bool) int {
	n := 0
	for _, a := range s.actors {
		if a.Kind == kind && (!activeOnly || a.Status == Active) {
			n++
		}
	}
	return n
}

// Add inserts the actor if its id is free, claiming its cell. Reports
// whether the insert happened.
func (s *Stage) Add(id uint32, a Actor) bool {
	if _, exists := s.actors[id]; exists {
		return false
	}
	a.ID = id
	s.actors[id] = &a
	if a.Status == Active {
		s.filled[a.Tr.Pos] = struct{}{}
	}
	return true
}

// Remove deletes the actor and frees its cell. Idempotent.
func (s *Stage) Remove(id uint32) {
	a, ok := s.actors[id]
	if !ok {
		return
	}
	if a.Status == Active {
		delete(s.filled, a.Tr.Pos)
	}
	delete(s.actors, id)
}

// UpdatePlayerTransform applies a client-reported transform. The position
// only sticks when the target cell is open or is the exit; the facing always
// sticks. Crossing the exit flips the player to Escaped and frees its cell.
func (s *Stage) UpdatePlayerTransform(id uint32, tr grid.Transform) {
	a, ok := s.actors[id]
	if !ok || a.Status != Active {
		return
	}
	if tr.Pos != a.Tr.Pos && (s.IsSpotOpen(tr.Pos) || tr.Pos == s.exit) {
		delete(s.filled, a.Tr.Pos)
		a.Tr.Pos = tr.Pos
		if tr.Pos == s.exit {
			//1.- The exit cell never joins the filled set, so escapes cannot
			// block each other.
			a.Status = Escaped
			s.Notify(EscapedNotice{ID: id})
		} else {
			s.filled[tr.Pos] = struct{}{}
		}
	}
	a.Tr.Dir = tr.Dir
	s.Notify(Moved{ID: id, Tr: a.Tr})
}

// MovePos steps a monster onto an open adjacent cell, auto-facing along the
// horizontal component of the move. Reports whether the step happened.
func (s *Stage) MovePos(id uint32, pos grid.Vec2) bool {
	a, ok := s.actors[id]
	if !ok || a.Status != Active || !s.IsSpotOpen(pos) {
		return false
	}
	delete(s.filled, a.Tr.Pos)
	s.filled[pos] = struct{}{}
	switch {
	case pos.X > a.Tr.Pos.X:
		a.Tr.Dir = grid.Right
	case pos.X < a.Tr.Pos.X:
		a.Tr.Dir = grid.Left
	}
	a.Tr.Pos = pos
	s.Notify(Moved{ID: id, Tr: a.Tr})
	return true
}

// LookAt turns the actor horizontally toward the target cell. Equal X keeps
// the previous facing, so idle monsters do not spin.
func (s *Stage) LookAt(id uint32, pos grid.Vec2) {
	a, ok := s.actors[id]
	if !ok {
		return
	}
	var dir grid.Direction
	switch {
	case pos.X > a.Tr.Pos.X:
		dir = grid.Right
	case pos.X < a.Tr.Pos.X:
		dir = grid.Left
	default:
		return
	}
	if dir == a.Tr.Dir {
		return
	}
	a.Tr.Dir = dir
	s.Notify(Moved{ID: id, Tr: a.Tr})
}

// IsOnPath reports whether the cell is walkable.
func (s *Stage) IsOnPath(pos grid.Vec2) bool {
	_, ok := s.paths[pos]
	return ok
}

// IsSpotOpen reports whether the cell is walkable and unoccupied.
func (s *Stage) IsSpotOpen(pos grid.Vec2) bool {
	if _, ok := s.paths[pos]; !ok {
		return false
	}
	_, filled := s.filled[pos]
	return !filled
}

// ActorAt returns the id of an Active actor of the kind on the cell.
func (s *Stage) ActorAt(kind Kind, pos grid.Vec2) (uint32, bool) {
	for id, a := range s.actors {
		if a.Kind == kind && a.Status == Active && a.Tr.Pos == pos {
			return id, true
		}
	}
	return 0, false
}

// OpenSpotWithin samples an unoccupied walkable cell within Euclidean
// distance r of the actor's position.
func (s *Stage) OpenSpotWithin(id uint32, r int) (grid.Vec2, bool) {
	a, ok := s.actors[id]
	if !ok {
		return grid.Vec2{}, false
	}
	return s.sample(func(cell grid.Vec2) bool {
		return cell.Distance(a.Tr.Pos) <= float64(r)
	})
}

// OpenSpot samples an unoccupied walkable cell away from the entrance, for
// monster spawning.
func (s *Stage) OpenSpot() (grid.Vec2, bool) {
	return s.sample(func(cell grid.Vec2) bool {
		return cell.Distance(s.entrance) > monsterSpawnClearance
	})
}

// sample draws uniformly from the open cells passing the filter using a
// single reservoir pass over the path set.
func (s *Stage) sample(keep func(grid.Vec2) bool) (grid.Vec2, bool) {
	var chosen grid.Vec2
	seen := 0
	for cell := range s.paths {
		if _, filled := s.filled[cell]; filled || !keep(cell) {
			continue
		}
		seen++
		if s.rng.Intn(seen) == 0 {
			chosen = cell
		}
	}
	return chosen, seen > 0
}

// Attack resolves one swing. A roll above the defender's finesse lands for
// the attacker's might; health crossing zero kills the defender and frees
// its cell.
func (s *Stage) Attack(attackerID, defenderID uint32) {
	attacker, ok := s.actors[attackerID]
	if !ok || attacker.Status != Active {
		return
	}
	defender, ok := s.actors[defenderID]
	if !ok || defender.Status != Active {
		return
	}
	if s.roll() > defender.Attrs.Finesse {
		defender.Stats.CurHealth -= attacker.Attrs.Might
		s.Notify(Hit{Attacker: attackerID, Defender: defenderID, HealthLeft: defender.Stats.CurHealth})
		if defender.Stats.CurHealth <= 0 {
			defender.Status = Dead
			delete(s.filled, defender.Tr.Pos)
			s.Notify(Died{ID: defenderID})
		}
		return
	}
	s.Notify(Miss{Attacker: attackerID, Defender: defenderID})
}
