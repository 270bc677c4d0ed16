package ai

import (
	"time"

	"deepfall/server/internal/grid"
)

const (
	// stepCharge is the delay between movement steps.
	stepCharge = 200 * time.Millisecond
	// attackCharge is the full wind-up before a swing lands.
	attackCharge = 750 * time.Millisecond
	// attackTelegraph is the point in the wind-up where the charge becomes
	// observable to clients.
	attackTelegraph = 250 * time.Millisecond
)

// AttackState is the progress of a mob's attack wind-up.
type AttackState int

const (
	// AttackNotReady means the wind-up has not crossed the telegraph point.
	AttackNotReady AttackState = iota
	// AttackTelegraphed fires once when the wind-up crosses the telegraph
	// point; clients render the charging animation from it.
	AttackTelegraphed
	// AttackCharging covers the window between telegraph and release.
	AttackCharging
	// AttackCharged means the wind-up is complete and the swing releases.
	AttackCharged
)

// Mob is one AI-controlled actor's behavioural state: its path, combat
// target, and charge timers. The positional truth lives on the stage; the
// mob only remembers intent.
type Mob struct {
	ID         uint32
	TemplateID uint32
	SightRange int

	path         []grid.Vec2
	combatTarget uint32
	inCombat     bool
	lastSighting time.Time

	stepStarted   time.Time
	stepPending   bool
	attackStarted time.Time
	attackPending bool
	telegraphed   bool

	now func() time.Time
}

// NewMob returns a mob with no path and no target.
func NewMob(id, templateID uint32, sightRange int, opts ...MobOption) *Mob {
	m := &Mob{ID: id, TemplateID: templateID, SightRange: sightRange, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	m.lastSighting = m.now()
	return m
}

// MobOption adjusts mob construction.
type MobOption func(*Mob)

// WithMobClock substitutes the time source, for deterministic tests.
func WithMobClock(now func() time.Time) MobOption {
	return func(m *Mob) { m.now = now }
}

// SetPath replaces the mob's walking plan. The plan is ordered terminus
// first so NextStep pops off the tail.
func (m *Mob) SetPath(path []grid.Vec2) {
	m.path = path
}

// Destination is the final cell of the current plan.
func (m *Mob) Destination() (grid.Vec2, bool) {
	if len(m.path) == 0 {
		return grid.Vec2{}, false
	}
	return m.path[0], true
}

// NextStep pops the next cell to walk onto.
func (m *Mob) NextStep() (grid.Vec2, bool) {
	if len(m.path) == 0 {
		return grid.Vec2{}, false
	}
	step := m.path[len(m.path)-1]
	m.path = m.path[:len(m.path)-1]
	return step, true
}

// ChargeStep reports whether the movement timer has elapsed, arming it on
// first call after each expiry.
func (m *Mob) ChargeStep() bool {
	if m.stepPending {
		if m.now().Sub(m.stepStarted) > stepCharge {
			m.stepPending = false
			return true
		}
		return false
	}
	m.stepPending = true
	m.stepStarted = m.now()
	return false
}

// ChargeAttack advances the attack wind-up state machine.
func (m *Mob) ChargeAttack() AttackState {
	if !m.attackPending {
		m.attackPending = true
		m.telegraphed = false
		m.attackStarted = m.now()
		return AttackNotReady
	}
	elapsed := m.now().Sub(m.attackStarted)
	switch {
	case elapsed > attackCharge:
		m.attackPending = false
		return AttackCharged
	case elapsed > attackTelegraph:
		if !m.telegraphed {
			m.telegraphed = true
			return AttackTelegraphed
		}
		return AttackCharging
	default:
		return AttackNotReady
	}
}

// ResetAttack abandons any wind-up in progress.
func (m *Mob) ResetAttack() {
	m.attackPending = false
	m.telegraphed = false
}

// CombatTarget returns the current target id, if any.
func (m *Mob) CombatTarget() (uint32, bool) {
	return m.combatTarget, m.inCombat
}

// StartCombatWith locks onto the target.
func (m *Mob) StartCombatWith(id uint32) {
	m.combatTarget = id
	m.inCombat = true
}

// StopCombat clears the target.
func (m *Mob) StopCombat() {
	m.inCombat = false
}

// LastSighting is the time the mob last saw its target.
func (m *Mob) LastSighting() time.Time {
	return m.lastSighting
}

// ResetLastSighting marks the target as seen now.
func (m *Mob) ResetLastSighting() {
	m.lastSighting = m.now()
}
