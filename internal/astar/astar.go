// Package astar finds shortest paths over the dungeon's 4-connected grid.
package astar

import (
	"container/heap"

	"deepfall/server/internal/grid"
)

// World is the slice of stage behaviour the pathfinder needs.
type World interface {
	IsOnPath(grid.Vec2) bool
	IsSpotOpen(grid.Vec2) bool
}

var neighbours = [4]grid.Vec2{{X: 1, Y: 0}, {X: -1, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: -1}}

// heuristicScale keeps the fractional part of the Euclidean heuristic
// meaningful inside integer priorities.
const heuristicScale = 1000

type node struct {
	pos  grid.Vec2
	cost int
}

// nodeHeap is a min-heap on cost, tie-broken by lexicographic position.
type nodeHeap []node

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	return h[i].pos.Less(h[j].pos)
}
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)         { *h = append(*h, x.(node)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ShortestPath returns the cells from just after start up to the chosen
// terminus, ordered so callers pop the next step off the tail in constant
// time. A step is admissible onto an open cell, or onto end itself even when
// occupied; in that case the final step is omitted so callers stop adjacent.
// When end is unreachable the path leads to the explored cell closest to it.
// When start or end is off the walkable set the result is just [start].
func ShortestPath(w World, start, end grid.Vec2) []grid.Vec2 {
	if !w.IsOnPath(start) || !w.IsOnPath(end) {
		return []grid.Vec2{start}
	}

	dist := map[grid.Vec2]int{start: 0}
	prev := make(map[grid.Vec2]grid.Vec2)
	last := start

	queue := &nodeHeap{{pos: start, cost: 0}}
	for queue.Len() > 0 {
		u := heap.Pop(queue).(node)
		last = u.pos
		if u.pos == end {
			break
		}
		for _, step := range neighbours {
			next := u.pos.Add(step)
			if !w.IsSpotOpen(next) && next != end {
				continue
			}
			cost := dist[u.pos] + 1
			if known, seen := dist[next]; seen && known <= cost {
				continue
			}
			dist[next] = cost
			prev[next] = u.pos
			heap.Push(queue, node{
				pos:  next,
				cost: cost + int(next.Distance(end)*heuristicScale),
			})
		}
	}

	trimOccupiedEnd := false
	if last != end {
		//1.- End was never reached; fall back to the explored cell nearest it.
		for cell := range dist {
			if cell.Distance(end) < last.Distance(end) {
				last = cell
			}
		}
	} else if !w.IsSpotOpen(end) {
		trimOccupiedEnd = true
	}

	var path []grid.Vec2
	for last != start {
		path = append(path, last)
		last = prev[last]
	}
	if trimOccupiedEnd && len(path) > 0 {
		path = path[1:]
	}
	return path
}
