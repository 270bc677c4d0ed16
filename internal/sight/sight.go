// Package sight answers which actors an observer can see. Vision is a
// half-disk in front of the observer, longest straight ahead and tapering
// to the flanks, blocked by the first non-walkable cell along each ray.
package sight

import (
	"math"

	"deepfall/server/internal/grid"
	"deepfall/server/internal/stage"
)

// World is the slice of stage behaviour the scan needs.
type World interface {
	IsOnPath(grid.Vec2) bool
	ActorAt(stage.Kind, grid.Vec2) (uint32, bool)
}

const maxRad = math.Pi / 2

// VisibleActors sweeps the cone in front of tr and collects the ids of
// actors of the given kinds on traversed cells, out to sightRange.
func VisibleActors(w World, tr grid.Transform, kinds []stage.Kind, sightRange int) map[uint32]struct{} {
	ids := make(map[uint32]struct{})
	if sightRange <= 0 {
		return ids
	}

	//1.- Facing picks the half-plane: Right sweeps [-pi/2, pi/2], Left the rest.
	begin, end := -maxRad, maxRad
	if tr.Dir == grid.Left {
		begin, end = maxRad, 3*maxRad
	}

	r := float64(sightRange)
	step := math.Pi / (8 * r)
	for f := begin; f <= end; f += step {
		//2.- Rays shorten toward the flanks: the distance to the nearer
		// boundary angle is pi/2 straight ahead and zero at the flanks, so
		// scaling by it gives full range at the center and none sideways.
		limit := r * math.Min(math.Abs(begin-f), math.Abs(end-f)) / maxRad
		for i := 1.0; i <= limit; i++ {
			spot := tr.Pos.Add(grid.Vec2{
				X: int(math.Round(math.Cos(f) * i)),
				Y: int(math.Round(math.Sin(f) * i)),
			})
			if !w.IsOnPath(spot) {
				break
			}
			for _, kind := range kinds {
				if id, ok := w.ActorAt(kind, spot); ok {
					ids[id] = struct{}{}
				}
			}
		}
	}
	return ids
}
