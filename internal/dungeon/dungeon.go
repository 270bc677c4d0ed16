// Package dungeon generates and serializes the walkable map a run plays out
// on. A run's dungeon is a random walk from an entrance to an exit on
// opposite borders, widened by Perlin-noise caverns pruned back to the cells
// actually connected to the walk.
package dungeon

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/aquilax/go-perlin"
	"github.com/golang/snappy"

	"deepfall/server/internal/grid"
)

const (
	// perlinScale spaces the noise samples across the grid.
	perlinScale = 0.25
	// perlinThreshold is the noise value a cell must reach to become floor.
	perlinThreshold = 0.05

	perlinAlpha  = 2.0
	perlinBeta   = 2.0
	perlinOctave = 3
)

// Dungeon is the walkable cell set with its entrance and exit. The core
// treats it as opaque: a path set plus two distinguished cells.
type Dungeon struct {
	Width    int
	Height   int
	Entrance grid.Vec2
	Exit     grid.Vec2

	paths map[grid.Vec2]struct{}
}

// New wraps an existing walkable set as a dungeon. The core treats maps as
// opaque inputs, so anything that can supply cells plus an entrance and an
// exit can stand in for the generator.
func New(paths map[grid.Vec2]struct{}, entrance, exit grid.Vec2) *Dungeon {
	d := &Dungeon{Entrance: entrance, Exit: exit, paths: paths}
	for cell := range paths {
		if cell.X >= d.Width {
			d.Width = cell.X + 1
		}
		if cell.Y >= d.Height {
			d.Height = cell.Y + 1
		}
	}
	return d
}

// Generate builds a dungeon of the given bounds. The entrance lands on a
// random cell of the top or bottom border and the exit on the opposite one,
// and a 4-connected path between them always exists.
func Generate(width, height int, rng *rand.Rand) *Dungeon {
	entrance := grid.Vec2{X: rng.Intn(width)}
	if rng.Intn(2) == 1 {
		entrance.Y = height - 1
	}
	exit := grid.Vec2{X: rng.Intn(width)}
	if entrance.Y == 0 {
		exit.Y = height - 1
	}

	paths := buildWalk(entrance, exit, width, rng)
	layerNoise(paths, width, height, rng)

	return &Dungeon{
		Width:    width,
		Height:   height,
		Entrance: entrance,
		Exit:     exit,
		paths:    paths,
	}
}

// buildWalk lays a random, exit-biased walk from entrance to exit. It is
// deliberately not a shortest path.
func buildWalk(entrance, exit grid.Vec2, width int, rng *rand.Rand) map[grid.Vec2]struct{} {
	paths := map[grid.Vec2]struct{}{entrance: {}, exit: {}}

	current := entrance
	prev := current
	yDir := 1
	if entrance.Y != 0 {
		yDir = -1
	}

	for current != exit {
		if current.Y == exit.Y {
			//1.- Level with the exit: walk straight toward it.
			if current.X < exit.X {
				current.X++
			} else {
				current.X--
			}
		} else {
			//2.- Otherwise weight sideways drift toward the exit column, with
			// one vertical option that always advances toward the exit row.
			var moves []grid.Vec2
			if current.X > 0 {
				left := grid.Vec2{X: current.X - 1, Y: current.Y}
				moves = append(moves, left, left)
				if current.X > exit.X {
					moves = append(moves, left)
				}
			}
			if current.X < width-1 {
				right := grid.Vec2{X: current.X + 1, Y: current.Y}
				moves = append(moves, right, right)
				if current.X < exit.X {
					moves = append(moves, right)
				}
			}
			moves = append(moves, grid.Vec2{X: current.X, Y: current.Y + yDir})

			candidates := moves[:0]
			for _, move := range moves {
				if move != prev {
					candidates = append(candidates, move)
				}
			}
			current = candidates[rng.Intn(len(candidates))]
		}
		prev = current
		paths[current] = struct{}{}
	}
	return paths
}

// layerNoise carves Perlin caverns and keeps only the ones 4-connected to
// the walk, growing outward until nothing new attaches.
func layerNoise(paths map[grid.Vec2]struct{}, width, height int, rng *rand.Rand) {
	noise := perlin.NewPerlinRandSource(perlinAlpha, perlinBeta, perlinOctave, rand.NewSource(rng.Int63()))
	offset := rng.Float64() * 1000

	candidates := make(map[grid.Vec2]struct{})
	for row := 1; row <= height; row++ {
		for col := 1; col <= width; col++ {
			p := noise.Noise2D(offset+float64(row)*perlinScale, offset+float64(col)*perlinScale)
			if p >= perlinThreshold {
				candidates[grid.Vec2{X: col - 1, Y: row - 1}] = struct{}{}
			}
		}
	}

	added := true
	for added {
		added = false
		for cell := range candidates {
			if connected(paths, cell) {
				paths[cell] = struct{}{}
				delete(candidates, cell)
				added = true
			}
		}
	}
}

func connected(paths map[grid.Vec2]struct{}, cell grid.Vec2) bool {
	for _, n := range [4]grid.Vec2{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}} {
		if _, ok := paths[cell.Add(n)]; ok {
			return true
		}
	}
	return false
}

// Paths returns the walkable set. Callers treat it as read-only; the stage
// copies what it mutates around it.
func (d *Dungeon) Paths() map[grid.Vec2]struct{} {
	return d.paths
}

// Contains reports whether the cell is walkable.
func (d *Dungeon) Contains(cell grid.Vec2) bool {
	_, ok := d.paths[cell]
	return ok
}

// Len reports the number of walkable cells.
func (d *Dungeon) Len() int {
	return len(d.paths)
}

// Encode renders the canonical structured serialization: the cell count,
// every cell, then the entrance and exit, all "::" joined.
func (d *Dungeon) Encode() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(d.paths)))
	for cell := range d.paths {
		fmt.Fprintf(&b, "::%d::%d", cell.X, cell.Y)
	}
	fmt.Fprintf(&b, "::%d::%d", d.Entrance.X, d.Entrance.Y)
	fmt.Fprintf(&b, "::%d::%d", d.Exit.X, d.Exit.Y)
	return b.String()
}

// Blob compresses the canonical encoding for transport inside a welcome
// command: snappy over the text, then base64 to stay inside the newline-free
// datagram alphabet.
func (d *Dungeon) Blob() string {
	return base64.StdEncoding.EncodeToString(snappy.Encode(nil, []byte(d.Encode())))
}

// DecodeBlob reverses Blob back into a dungeon, for clients and tests.
func DecodeBlob(blob string) (*Dungeon, error) {
	packed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	text, err := snappy.Decode(nil, packed)
	if err != nil {
		return nil, fmt.Errorf("decompress blob: %w", err)
	}
	return parseEncoded(string(text))
}

func parseEncoded(text string) (*Dungeon, error) {
	segs := strings.Split(text, "::")
	if len(segs) < 1 {
		return nil, errors.New("empty dungeon encoding")
	}
	count, err := strconv.Atoi(segs[0])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("bad cell count %q", segs[0])
	}
	//1.- The tail holds count cell pairs plus the entrance and exit pairs.
	if len(segs) != 1+2*count+4 {
		return nil, fmt.Errorf("dungeon encoding has %d fields, want %d", len(segs), 1+2*count+4)
	}
	pair := func(i int) (grid.Vec2, error) {
		x, err1 := strconv.Atoi(segs[i])
		y, err2 := strconv.Atoi(segs[i+1])
		if err1 != nil || err2 != nil {
			return grid.Vec2{}, fmt.Errorf("bad cell at field %d", i)
		}
		return grid.Vec2{X: x, Y: y}, nil
	}

	d := &Dungeon{paths: make(map[grid.Vec2]struct{}, count)}
	for i := 0; i < count; i++ {
		cell, err := pair(1 + 2*i)
		if err != nil {
			return nil, err
		}
		d.paths[cell] = struct{}{}
		if cell.X >= d.Width {
			d.Width = cell.X + 1
		}
		if cell.Y >= d.Height {
			d.Height = cell.Y + 1
		}
	}
	if d.Entrance, err = pair(1 + 2*count); err != nil {
		return nil, err
	}
	if d.Exit, err = pair(1 + 2*count + 2); err != nil {
		return nil, err
	}
	return d, nil
}

// String renders an ASCII map for logs: walls as '#', floor as '.', the
// entrance as 'O' and the exit as 'X'.
func (d *Dungeon) String() string {
	var b strings.Builder
	for row := 0; row < d.Height; row++ {
		for col := 0; col < d.Width; col++ {
			cell := grid.Vec2{X: col, Y: row}
			switch {
			case cell == d.Entrance:
				b.WriteByte('O')
			case cell == d.Exit:
				b.WriteByte('X')
			case d.Contains(cell):
				b.WriteByte('.')
			default:
				b.WriteByte('#')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
