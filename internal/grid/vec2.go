package grid

import "math"

// Vec2 is an integer lattice point on the dungeon grid.
type Vec2 struct {
	X int
	Y int
}

// Add returns the componentwise sum of the two points.
func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns the componentwise difference of the two points.
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Mul scales both components by the given factor.
func (v Vec2) Mul(s int) Vec2 {
	return Vec2{X: v.X * s, Y: v.Y * s}
}

// Distance returns the Euclidean distance between the two points.
func (v Vec2) Distance(o Vec2) float64 {
	dx := float64(v.X - o.X)
	dy := float64(v.Y - o.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// Less orders points lexicographically, X before Y.
func (v Vec2) Less(o Vec2) bool {
	if v.X != o.X {
		return v.X < o.X
	}
	return v.Y < o.Y
}
