// Package command defines the typed application protocol carried inside
// reliable and unreliable datagram payloads. Commands are "::"-joined text
// grouped into Sync, Combat, and Status families.
package command

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"deepfall/server/internal/grid"
)

// ErrBadCommand reports an unparseable or unknown inbound command.
var ErrBadCommand = errors.New("bad command")

// Command is one typed protocol message. Encode renders the wire text; the
// internal routing commands (CreatePlayer, AssignPlayerID) encode to the
// empty string and are never sent.
type Command interface {
	Encode() string
}

// Sync family.

// Hello is a client announcing itself.
type Hello struct {
	Name string
}

// Welcome carries the new player's id and the dungeon blob.
type Welcome struct {
	ID   uint32
	Blob string
}

// NewPlayer announces a player to clients.
type NewPlayer struct {
	ID   uint32
	Name string
	Pos  grid.Vec2
}

// NewMonster announces a monster instance to clients.
type NewMonster struct {
	TemplateID uint32
	InstanceID uint32
	Pos        grid.Vec2
}

// Moved carries an actor's positional transform.
type Moved struct {
	ID uint32
	Tr grid.Transform
}

// PlayerLeft announces a departed player.
type PlayerLeft struct {
	ID uint32
}

// Reconnect asks clients to re-handshake against a fresh run.
type Reconnect struct{}

// DungeonComplete announces the end of a run.
type DungeonComplete struct{}

// Combat family.

// AttackTowards is a client's attack intent at a cell.
type AttackTowards struct {
	ID  uint32
	Pos grid.Vec2
}

// Charging announces a monster telegraphing its attack.
type Charging struct {
	ID uint32
}

// Hit reports a landed attack.
type Hit struct {
	Attacker   uint32
	Defender   uint32
	HealthLeft int
}

// Miss reports a deflected attack.
type Miss struct {
	Attacker uint32
	Defender uint32
}

// Status family.

// Dead announces an actor's death.
type Dead struct {
	ID uint32
}

// Escaped announces a player crossing the exit.
type Escaped struct {
	ID uint32
}

// Abort is the tick loop's shutdown sentinel.
type Abort struct{}

// Internal routing commands; never serialized.

// CreatePlayer asks the state to admit the peer under the given name.
type CreatePlayer struct {
	Peer netip.AddrPort
	Name string
}

// AssignPlayerID binds a peer to its freshly assigned player id.
type AssignPlayerID struct {
	Peer netip.AddrPort
	ID   uint32
}

func (c Hello) Encode() string   { return "Sync::Hello::" + c.Name }
func (c Welcome) Encode() string { return fmt.Sprintf("Sync::Welcome::%d::%s", c.ID, c.Blob) }
func (c NewPlayer) Encode() string {
	return fmt.Sprintf("Sync::NewPlayer::%d::%s::%d::%d", c.ID, c.Name, c.Pos.X, c.Pos.Y)
}
func (c NewMonster) Encode() string {
	return fmt.Sprintf("Sync::NewMonster::%d::%d::%d::%d", c.TemplateID, c.InstanceID, c.Pos.X, c.Pos.Y)
}
func (c Moved) Encode() string {
	return fmt.Sprintf("Sync::Moved::%d::%d::%d::%s", c.ID, c.Tr.Pos.X, c.Tr.Pos.Y, c.Tr.Dir)
}
func (c PlayerLeft) Encode() string      { return fmt.Sprintf("Sync::PlayerLeft::%d", c.ID) }
func (c Reconnect) Encode() string       { return "Sync::Reconnect::" }
func (c DungeonComplete) Encode() string { return "Sync::DungeonComplete::" }
func (c AttackTowards) Encode() string {
	return fmt.Sprintf("Combat::AttackTowards::%d::%d::%d", c.ID, c.Pos.X, c.Pos.Y)
}
func (c Charging) Encode() string { return fmt.Sprintf("Combat::Charging::%d", c.ID) }
func (c Hit) Encode() string {
	return fmt.Sprintf("Combat::Hit::%d::%d::%d", c.Attacker, c.Defender, c.HealthLeft)
}
func (c Miss) Encode() string       { return fmt.Sprintf("Combat::Miss::%d::%d", c.Attacker, c.Defender) }
func (c Dead) Encode() string       { return fmt.Sprintf("Status::Dead::%d", c.ID) }
func (c Escaped) Encode() string    { return fmt.Sprintf("Status::Escaped::%d", c.ID) }
func (c Abort) Encode() string      { return "Abort::" }
func (CreatePlayer) Encode() string { return "" }

func (AssignPlayerID) Encode() string { return "" }

// Parse decodes the inbound (client to server) command vocabulary. Unknown
// families, unknown operations, and malformed fields all yield ErrBadCommand.
func Parse(raw string) (Command, error) {
	segs := strings.Split(raw, "::")
	if len(segs) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrBadCommand, raw)
	}
	family, op, args := segs[0], segs[1], segs[2:]
	switch family {
	case "Sync":
		return parseSync(op, args, raw)
	case "Combat":
		return parseCombat(op, args, raw)
	case "Status":
		return parseStatus(op, args, raw)
	default:
		return nil, fmt.Errorf("%w: unknown family in %q", ErrBadCommand, raw)
	}
}

func parseSync(op string, args []string, raw string) (Command, error) {
	switch op {
	case "Hello":
		//1.- Names are a single segment; embedded separators are rejected
		// rather than silently truncated.
		if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
			return nil, fmt.Errorf("%w: malformed hello %q", ErrBadCommand, raw)
		}
		return Hello{Name: args[0]}, nil
	case "Moved":
		if len(args) != 4 {
			return nil, fmt.Errorf("%w: malformed move %q", ErrBadCommand, raw)
		}
		id, err1 := parseID(args[0])
		x, err2 := strconv.Atoi(args[1])
		y, err3 := strconv.Atoi(args[2])
		dir, err4 := strconv.Atoi(args[3])
		if err := firstErr(err1, err2, err3, err4); err != nil {
			return nil, fmt.Errorf("%w: malformed move %q", ErrBadCommand, raw)
		}
		return Moved{ID: id, Tr: grid.Transform{Pos: grid.Vec2{X: x, Y: y}, Dir: grid.DirectionFromInt(dir)}}, nil
	case "PlayerLeft":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: malformed leave %q", ErrBadCommand, raw)
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, fmt.Errorf("%w: malformed leave %q", ErrBadCommand, raw)
		}
		return PlayerLeft{ID: id}, nil
	default:
		return nil, fmt.Errorf("%w: unknown sync op %q", ErrBadCommand, raw)
	}
}

func parseCombat(op string, args []string, raw string) (Command, error) {
	switch op {
	case "AttackTowards":
		if len(args) != 3 {
			return nil, fmt.Errorf("%w: malformed attack %q", ErrBadCommand, raw)
		}
		id, err1 := parseID(args[0])
		x, err2 := strconv.Atoi(args[1])
		y, err3 := strconv.Atoi(args[2])
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("%w: malformed attack %q", ErrBadCommand, raw)
		}
		return AttackTowards{ID: id, Pos: grid.Vec2{X: x, Y: y}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown combat op %q", ErrBadCommand, raw)
	}
}

func parseStatus(op string, args []string, raw string) (Command, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: malformed status %q", ErrBadCommand, raw)
	}
	id, err := parseID(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed status %q", ErrBadCommand, raw)
	}
	switch op {
	case "Dead":
		return Dead{ID: id}, nil
	case "Escaped":
		return Escaped{ID: id}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status op %q", ErrBadCommand, raw)
	}
}

func parseID(raw string) (uint32, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	return uint32(id), err
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
