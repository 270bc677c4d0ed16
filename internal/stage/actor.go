package stage

import "deepfall/server/internal/grid"

// Kind distinguishes the two actor families on the stage.
type Kind int

const (
	Player Kind = iota
	Monster
)

func (k Kind) String() string {
	if k == Monster {
		return "monster"
	}
	return "player"
}

// AllKindsBut returns every kind except the given one, for visibility
// queries that target "everyone hostile to me".
func AllKindsBut(k Kind) []Kind {
	if k == Player {
		return []Kind{Monster}
	}
	return []Kind{Player}
}

// Status is the lifecycle state of an actor within a run.
type Status int

const (
	Active Status = iota
	Dead
	Escaped
)

// Stats is the mutable pool block of an actor. Current values are signed so
// damage can push them below zero.
type Stats struct {
	MaxHealth  int
	CurHealth  int
	MaxStamina int
	CurStamina int
	MaxMagicka int
	CurMagicka int
}

// NewStats fills every current value to its maximum.
func NewStats(health, stamina, magicka int) Stats {
	return Stats{
		MaxHealth:  health,
		CurHealth:  health,
		MaxStamina: stamina,
		CurStamina: stamina,
		MaxMagicka: magicka,
		CurMagicka: magicka,
	}
}

// Attributes are the fixed combat attributes of an actor.
type Attributes struct {
	Might     int
	Finesse   int
	Intellect int
}

// Actor is one positioned entity under authoritative control.
type Actor struct {
	ID     uint32
	Kind   Kind
	Tr     grid.Transform
	Stats  Stats
	Attrs  Attributes
	Status Status
}

// NewActor returns an Active actor with the given identity and placement.
func NewActor(id uint32, kind Kind, tr grid.Transform, stats Stats, attrs Attributes) Actor {
	return Actor{ID: id, Kind: kind, Tr: tr, Stats: stats, Attrs: attrs, Status: Active}
}
