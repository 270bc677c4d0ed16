package ai

import (
	"math/rand"
	"time"

	"deepfall/server/internal/astar"
	"deepfall/server/internal/sight"
	"deepfall/server/internal/stage"
)

const (
	// wanderRange bounds how far an idle mob picks its next stroll target.
	wanderRange = 5
	// sightingGrace is how long a mob keeps tracking a target it briefly
	// lost before it starts looking for someone else.
	sightingGrace = 500 * time.Millisecond
	// sightingTimeout is how long after the last sighting combat is
	// abandoned entirely.
	sightingTimeout = 3 * time.Second
)

// DefaultPackages returns the standard behaviour set: wander while idle,
// close and fight when a target is held.
func DefaultPackages(rng *rand.Rand) []*Package {
	return []*Package{Idle(rng), MeleeCombat(rng)}
}

// Idle wanders between random nearby cells and watches for players.
func Idle(rng *rand.Rand) *Package {
	return &Package{
		Name: "idle",
		Guard: func(_ *stage.Stage, m *Mob) bool {
			_, fighting := m.CombatTarget()
			return !fighting
		},
		OnStart: func(st *stage.Stage, m *Mob) {
			actor, ok := st.Actor(m.ID)
			if !ok {
				return
			}
			if spot, ok := st.OpenSpotWithin(m.ID, wanderRange); ok {
				m.SetPath(astar.ShortestPath(st, actor.Tr.Pos, spot))
			}
		},
		Step: func(st *stage.Stage, m *Mob) Result {
			actor, ok := st.Actor(m.ID)
			if !ok {
				return Abort
			}
			//1.- Any visible hostile interrupts the stroll and starts combat.
			visible := sight.VisibleActors(st, actor.Tr, stage.AllKindsBut(stage.Monster), m.SightRange)
			if len(visible) > 0 {
				m.StartCombatWith(pickOne(rng, visible))
				return Abort
			}
			if m.ChargeStep() {
				if next, ok := m.NextStep(); ok && !st.MovePos(m.ID, next) {
					//2.- Someone stepped into the plan; recompute it.
					if dest, ok := m.Destination(); ok {
						m.SetPath(astar.ShortestPath(st, actor.Tr.Pos, dest))
					}
				}
			}
			return Continue
		},
		MinDuration: 5 * time.Second,
		MaxDuration: 10 * time.Second,
		PickWeight:  10,
	}
}

// MeleeCombat chases the held target and swings when adjacent.
func MeleeCombat(rng *rand.Rand) *Package {
	return &Package{
		Name: "melee-combat",
		Guard: func(_ *stage.Stage, m *Mob) bool {
			_, fighting := m.CombatTarget()
			return fighting
		},
		OnStart: func(st *stage.Stage, m *Mob) {
			m.ResetLastSighting()
			actor, ok := st.Actor(m.ID)
			if !ok {
				return
			}
			targetID, _ := m.CombatTarget()
			if target, ok := st.Actor(targetID); ok {
				m.SetPath(astar.ShortestPath(st, actor.Tr.Pos, target.Tr.Pos))
			}
		},
		Step: func(st *stage.Stage, m *Mob) Result {
			actor, ok := st.Actor(m.ID)
			if !ok {
				return Abort
			}
			targetID, fighting := m.CombatTarget()
			if !fighting {
				return Abort
			}
			target, alive := st.Actor(targetID)
			if !alive || target.Status != stage.Active {
				m.StopCombat()
				return Abort
			}

			visible := sight.VisibleActors(st, actor.Tr, stage.AllKindsBut(stage.Monster), m.SightRange)
			if _, seen := visible[targetID]; seen {
				m.ResetLastSighting()
				if actor.Tr.Pos.Distance(target.Tr.Pos) <= 1 {
					//1.- In reach: wind up, telegraph once, and swing on release.
					switch m.ChargeAttack() {
					case AttackTelegraphed:
						st.Notify(stage.Charging{ID: m.ID})
					case AttackCharged:
						st.Attack(m.ID, targetID)
					}
					st.LookAt(m.ID, target.Tr.Pos)
					return Continue
				}
				m.ResetAttack()
			}

			sinceSighting := timeSince(m)
			switch {
			case sinceSighting > sightingTimeout:
				//2.- The trail has gone cold; give up the hunt.
				m.StopCombat()
				return Abort
			case sinceSighting >= sightingGrace:
				if len(visible) > 0 {
					m.StartCombatWith(pickOne(rng, visible))
					return Abort
				}
				// Hold the last plan and keep walking it out.
			default:
				st.LookAt(m.ID, target.Tr.Pos)
				if dest, ok := m.Destination(); !ok || dest != target.Tr.Pos {
					m.SetPath(astar.ShortestPath(st, actor.Tr.Pos, target.Tr.Pos))
				}
			}

			if m.ChargeStep() {
				if next, ok := m.NextStep(); ok && !st.MovePos(m.ID, next) {
					if dest, ok := m.Destination(); ok {
						m.SetPath(astar.ShortestPath(st, actor.Tr.Pos, dest))
					}
				}
			}
			return Continue
		},
		// Combat effectively runs until it aborts on its own terms.
		MinDuration: 2000 * time.Second,
		MaxDuration: 3000 * time.Second,
		PickWeight:  1,
	}
}

func timeSince(m *Mob) time.Duration {
	return m.now().Sub(m.LastSighting())
}

func pickOne(rng *rand.Rand, ids map[uint32]struct{}) uint32 {
	n := rng.Intn(len(ids))
	for id := range ids {
		if n == 0 {
			return id
		}
		n--
	}
	return 0
}
