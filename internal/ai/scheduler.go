// Package ai drives monster behaviour through reusable packages. A package
// couples a guard (may this behaviour run), an initializer, a stepper, a
// duration range, and a selection weight; a per-mob scheduler picks among
// the packages whose guards pass and runs the selection until it expires or
// aborts.
package ai

import (
	"math/rand"
	"time"

	"deepfall/server/internal/stage"
)

// Result is a step's verdict on the running package.
type Result int

const (
	// Continue keeps the current package selected.
	Continue Result = iota
	// Abort ends the current package immediately; the scheduler reselects
	// on the same tick.
	Abort
)

// Package is one reusable behaviour. The package list a scheduler holds is
// static; packages never mutate it.
type Package struct {
	Name string
	// Guard reports whether the package may run for this mob.
	Guard func(*stage.Stage, *Mob) bool
	// OnStart runs once when the scheduler selects the package.
	OnStart func(*stage.Stage, *Mob)
	// Step runs every tick while the package is selected.
	Step func(*stage.Stage, *Mob) Result
	// MinDuration and MaxDuration bound the uniformly sampled run length.
	MinDuration time.Duration
	MaxDuration time.Duration
	// PickWeight is the package's share of the weighted selection among
	// packages whose guards pass.
	PickWeight int
}

// Scheduler owns one mob's package selection.
type Scheduler struct {
	packages  []*Package
	selected  int
	startedAt time.Time
	chosenDur time.Duration
	rng       *rand.Rand
	now       func() time.Time
}

// SchedulerOption adjusts scheduler construction.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock substitutes the time source.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithSchedulerRand substitutes the selection randomness.
func WithSchedulerRand(rng *rand.Rand) SchedulerOption {
	return func(s *Scheduler) { s.rng = rng }
}

// NewScheduler builds a scheduler over the given packages. Nothing is
// selected until the first Run.
func NewScheduler(packages []*Package, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{packages: packages, selected: -1, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return s
}

// Selected names the running package, for tests and debug surfaces.
func (s *Scheduler) Selected() string {
	if s.selected < 0 {
		return ""
	}
	return s.packages[s.selected].Name
}

// Run executes one tick: step the current package while it lives, otherwise
// select a fresh one among those whose guards pass.
func (s *Scheduler) Run(st *stage.Stage, m *Mob) {
	if s.selected >= 0 && s.now().Sub(s.startedAt) < s.chosenDur {
		if s.packages[s.selected].Step(st, m) != Abort {
			return
		}
	}
	s.selectNext(st, m)
}

func (s *Scheduler) selectNext(st *stage.Stage, m *Mob) {
	s.selected = -1

	total := 0
	for _, p := range s.packages {
		if p.Guard(st, m) {
			total += p.PickWeight
		}
	}
	if total == 0 {
		return
	}

	//1.- Weighted draw over the passing packages only.
	choice := s.rng.Intn(total)
	for i, p := range s.packages {
		if !p.Guard(st, m) {
			continue
		}
		choice -= p.PickWeight
		if choice < 0 {
			s.selected = i
			p.OnStart(st, m)
			s.startedAt = s.now()
			s.chosenDur = p.MinDuration
			if span := p.MaxDuration - p.MinDuration; span > 0 {
				s.chosenDur += time.Duration(s.rng.Int63n(int64(span)))
			}
			return
		}
	}
}
