// Package game runs the authoritative state tick loop. The manager owns the
// world stage exclusively: commands flow in over a channel, observable
// changes flow out as addressed envelopes, and monster AI advances once per
// tick in between.
package game

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"deepfall/server/internal/ai"
	"deepfall/server/internal/command"
	"deepfall/server/internal/dungeon"
	"deepfall/server/internal/grid"
	"deepfall/server/internal/logging"
	"deepfall/server/internal/metrics"
	"deepfall/server/internal/stage"
)

// defaultTickInterval paces the state loop when the config does not say
// otherwise.
const defaultTickInterval = 10 * time.Millisecond

// Mode addresses an envelope to its audience.
type Mode int

const (
	// SendAll targets every connected player.
	SendAll Mode = iota
	// SendOne targets the single player named by ID.
	SendOne
	// SendAllBut targets everyone except the player named by ID.
	SendAllBut
)

// SendTo is an envelope's audience and delivery class.
type SendTo struct {
	Mode     Mode
	ID       uint32
	Reliable bool
}

// Envelope is one outbound command with its audience.
type Envelope struct {
	Cmd command.Command
	To  SendTo
}

// Options configure manager construction.
type Options struct {
	Dungeon      *dungeon.Dungeon
	MonsterCount int
	TickInterval time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.Metrics
	Rand         *rand.Rand
	// Observer, when set, receives a copy of every stage notification; the
	// ops spectator feed hangs off it.
	Observer func(stage.Notification)
}

// Manager is one run's tick loop and its owned state.
type Manager struct {
	runID string
	dun   *dungeon.Dungeon
	blob  string
	st    *stage.Stage

	mobs       map[uint32]*ai.Mob
	schedulers map[uint32]*ai.Scheduler
	players    map[uint32]string
	idNext     uint32

	in  chan command.Command
	out chan Envelope

	tickInterval time.Duration
	log          *logging.Logger
	metrics      *metrics.Metrics
	rng          *rand.Rand
	observer     func(stage.Notification)

	finished bool
}

// New builds a manager over a fresh run: the dungeon is staged and the
// monster roster spawned. Call Start to begin ticking.
func New(opts Options) *Manager {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	log := opts.Logger
	if log == nil {
		log = logging.L()
	}
	m := &Manager{
		runID:        uuid.NewString(),
		dun:          opts.Dungeon,
		blob:         opts.Dungeon.Blob(),
		mobs:         make(map[uint32]*ai.Mob),
		schedulers:   make(map[uint32]*ai.Scheduler),
		players:      make(map[uint32]string),
		in:           make(chan command.Command, 256),
		out:          make(chan Envelope, 1024),
		tickInterval: opts.TickInterval,
		metrics:      opts.Metrics,
		rng:          rng,
		observer:     opts.Observer,
	}
	if m.tickInterval <= 0 {
		m.tickInterval = defaultTickInterval
	}
	m.log = log.With(logging.String("run_id", m.runID))

	paths := make(map[grid.Vec2]struct{}, opts.Dungeon.Len())
	for cell := range opts.Dungeon.Paths() {
		paths[cell] = struct{}{}
	}
	m.st = stage.New(paths, opts.Dungeon.Entrance, opts.Dungeon.Exit, stage.WithRand(rng))
	m.st.SetNotifier(m.onNotification)

	m.spawnMonsters(opts.MonsterCount)
	m.log.Info("run staged",
		logging.Int("cells", opts.Dungeon.Len()),
		logging.Int("monsters", len(m.mobs)))
	return m
}

// RunID identifies this run in logs and spectator frames.
func (m *Manager) RunID() string { return m.runID }

// Commands is the inbound command sink.
func (m *Manager) Commands() chan command.Command { return m.in }

// Output is the stream of addressed outbound envelopes.
func (m *Manager) Output() <-chan Envelope { return m.out }

// Start runs the tick loop until an Abort command or run completion.
func (m *Manager) Start() {
	go func() {
		ticker := time.NewTicker(m.tickInterval)
		defer ticker.Stop()
		for range ticker.C {
			if m.tick() {
				return
			}
		}
	}()
}

// tick advances the world one step and reports whether the loop should end.
func (m *Manager) tick() bool {
	started := time.Now()
	defer func() { m.metrics.ObserveTick(time.Since(started)) }()

	//1.- Apply every command that arrived since the previous tick, in order.
drain:
	for {
		select {
		case cmd := <-m.in:
			if m.handle(cmd) {
				m.log.Info("state loop aborted")
				return true
			}
		default:
			break drain
		}
	}

	//2.- Monsters only think while someone is in the dungeon.
	if len(m.players) > 0 {
		for id, mob := range m.mobs {
			if actor, ok := m.st.Actor(id); ok && actor.Status != stage.Dead {
				m.schedulers[id].Run(m.st, mob)
			}
		}
	}

	//3.- The run ends once every player is dead or out.
	if !m.finished && m.runComplete() {
		m.finished = true
		m.emit(Envelope{Cmd: command.DungeonComplete{}, To: SendTo{Mode: SendAll, Reliable: true}})
		m.log.Info("dungeon complete")
		return true
	}
	return false
}

// handle applies one command and reports whether it was the Abort sentinel.
func (m *Manager) handle(cmd command.Command) bool {
	switch c := cmd.(type) {
	case command.CreatePlayer:
		m.admitPlayer(c)
	case command.PlayerLeft:
		m.removePlayer(c.ID)
	case command.Moved:
		if _, known := m.players[c.ID]; known {
			m.st.UpdatePlayerTransform(c.ID, c.Tr)
		}
	case command.AttackTowards:
		if _, known := m.players[c.ID]; !known {
			return false
		}
		if defender, ok := m.st.ActorAt(stage.Monster, c.Pos); ok {
			m.st.Attack(c.ID, defender)
		}
		m.emit(Envelope{Cmd: c, To: SendTo{Mode: SendAllBut, ID: c.ID}})
	case command.Abort:
		return true
	default:
		m.log.Warn("ignoring unexpected state command")
	}
	return false
}

// admitPlayer assigns the peer an id, stages its actor at the entrance, and
// replays the world to it.
func (m *Manager) admitPlayer(c command.CreatePlayer) {
	id := m.idNext
	m.idNext++

	//1.- The binding envelope must precede anything addressed to the id so
	// the router can resolve the audience.
	m.emit(Envelope{Cmd: command.AssignPlayerID{Peer: c.Peer, ID: id}, To: SendTo{Mode: SendOne, ID: id, Reliable: true}})
	m.emit(Envelope{Cmd: command.Welcome{ID: id, Blob: m.blob}, To: SendTo{Mode: SendOne, ID: id, Reliable: true}})

	entrance := m.dun.Entrance
	m.players[id] = c.Name
	m.st.Add(id, stage.NewActor(id, stage.Player,
		grid.Transform{Pos: entrance, Dir: grid.Left},
		stage.NewStats(10, 10, 10),
		stage.Attributes{Might: 5, Finesse: 5, Intellect: 5}))

	//2.- Replay the roster to the newcomer: monsters, other players, then a
	// transform per actor.
	for mobID, mob := range m.mobs {
		if actor, ok := m.st.Actor(mobID); ok {
			m.emit(Envelope{
				Cmd: command.NewMonster{TemplateID: mob.TemplateID, InstanceID: mobID, Pos: actor.Tr.Pos},
				To:  SendTo{Mode: SendOne, ID: id, Reliable: true},
			})
		}
	}
	for otherID, name := range m.players {
		if otherID == id {
			continue
		}
		if actor, ok := m.st.Actor(otherID); ok {
			m.emit(Envelope{
				Cmd: command.NewPlayer{ID: otherID, Name: name, Pos: actor.Tr.Pos},
				To:  SendTo{Mode: SendOne, ID: id, Reliable: true},
			})
		}
	}
	for _, moved := range m.st.Transforms() {
		m.emit(Envelope{
			Cmd: command.Moved{ID: moved.ID, Tr: moved.Tr},
			To:  SendTo{Mode: SendOne, ID: id, Reliable: true},
		})
	}

	m.emit(Envelope{
		Cmd: command.NewPlayer{ID: id, Name: c.Name, Pos: entrance},
		To:  SendTo{Mode: SendAllBut, ID: id, Reliable: true},
	})
	m.metrics.SetActors(stage.Player.String(), len(m.players))
	m.log.Info("player admitted", logging.Uint32("player_id", id), logging.String("name", c.Name))
}

func (m *Manager) removePlayer(id uint32) {
	if _, known := m.players[id]; !known {
		return
	}
	m.st.Remove(id)
	delete(m.players, id)
	m.emit(Envelope{Cmd: command.PlayerLeft{ID: id}, To: SendTo{Mode: SendAllBut, ID: id, Reliable: true}})
	m.metrics.SetActors(stage.Player.String(), len(m.players))
	m.log.Info("player removed", logging.Uint32("player_id", id))
}

func (m *Manager) spawnMonsters(count int) {
	for i := 0; i < count; i++ {
		spot, ok := m.st.OpenSpot()
		if !ok {
			m.log.Warn("no open spot for monster spawn", logging.Int("spawned", i))
			break
		}
		template := stage.ChooseTemplate(m.rng)
		id := m.idNext
		m.idNext++

		m.st.Add(id, stage.NewActor(id, stage.Monster,
			grid.Transform{Pos: spot, Dir: grid.Right},
			template.Stats, template.Attrs))
		m.mobs[id] = ai.NewMob(id, template.ID, template.SightRange)
		m.schedulers[id] = ai.NewScheduler(ai.DefaultPackages(m.rng), ai.WithSchedulerRand(m.rng))

		m.emit(Envelope{
			Cmd: command.NewMonster{TemplateID: template.ID, InstanceID: id, Pos: spot},
			To:  SendTo{Mode: SendAll, Reliable: true},
		})
	}
	m.metrics.SetActors(stage.Monster.String(), len(m.mobs))
}

// runComplete reports whether every admitted player is dead or escaped.
func (m *Manager) runComplete() bool {
	if len(m.players) == 0 {
		return false
	}
	for id := range m.players {
		if actor, ok := m.st.Actor(id); ok && actor.Status == stage.Active {
			return false
		}
	}
	return true
}

// onNotification fans a stage change out to clients and the observer.
func (m *Manager) onNotification(n stage.Notification) {
	if m.observer != nil {
		m.observer(n)
	}
	switch v := n.(type) {
	case stage.Moved:
		to := SendTo{Mode: SendAll}
		if _, isPlayer := m.players[v.ID]; isPlayer {
			//1.- The mover already knows its own position; everyone else learns it.
			to = SendTo{Mode: SendAllBut, ID: v.ID}
		}
		m.emit(Envelope{Cmd: command.Moved{ID: v.ID, Tr: v.Tr}, To: to})
	case stage.Hit:
		m.emit(Envelope{Cmd: command.Hit{Attacker: v.Attacker, Defender: v.Defender, HealthLeft: v.HealthLeft}, To: SendTo{Mode: SendAll}})
	case stage.Miss:
		m.emit(Envelope{Cmd: command.Miss{Attacker: v.Attacker, Defender: v.Defender}, To: SendTo{Mode: SendAll}})
	case stage.Died:
		m.emit(Envelope{Cmd: command.Dead{ID: v.ID}, To: SendTo{Mode: SendAll, Reliable: true}})
	case stage.EscapedNotice:
		m.emit(Envelope{Cmd: command.Escaped{ID: v.ID}, To: SendTo{Mode: SendAll, Reliable: true}})
	case stage.Charging:
		m.emit(Envelope{Cmd: command.Charging{ID: v.ID}, To: SendTo{Mode: SendAll}})
	}
}

func (m *Manager) emit(e Envelope) {
	m.out <- e
}
