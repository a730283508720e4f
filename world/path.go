package world

import (
	"container/heap"
	"fmt"

	"github.com/hashicorp/go-set/v3"
)

// ignoreExitVnums are exit destinations the pathfinder never follows.
var ignoreExitVnums = set.From([]string{"undefined", "death"})

type pathNode struct {
	cost  float64
	order int
	room  *Room
}

// pathHeap orders by cost, then by insertion order so equal-cost rooms are
// processed first come first served.
type pathHeap []pathNode

func (h pathHeap) Len() int { return len(h) }

func (h pathHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	return h[i].order < h[j].order
}

func (h pathHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pathHeap) Push(x any) { *h = append(*h, x.(pathNode)) }

func (h *pathHeap) Pop() any {
	old := *h
	n := len(old)
	node := old[n-1]
	*h = old[:n-1]
	return node
}

type parentEntry struct {
	room      *Room
	direction string
}

// PathFind searches for the cheapest route from origin (the current room
// when nil) to a destination vnum or label. Flags of the form no<terrain>
// penalize rooms of that terrain. It returns nil when no route exists or
// the destination is unknown, and an empty list when already there; the
// route comes back in reverse order, ready for CreateSpeedWalk.
func (w *World) PathFind(origin *Room, destination string, flags []string) []string {
	if origin == nil {
		origin = w.Current
	}
	if origin == nil {
		w.out("Error! The mapper has no location. Please use the sync command then try again.")
		return nil
	}
	destinationRoom, errMessage := w.GetRoomFromLabel(destination)
	if errMessage != "" {
		w.out(errMessage)
		return nil
	}
	if origin == destinationRoom {
		w.out("You are already there!")
		return []string{}
	}
	avoidTerrains := set.New[string](0)
	for terrain := range TerrainCosts {
		if contains(flags, "no"+terrain) {
			avoidTerrains.Insert(terrain)
		}
	}
	exitCost := func(ex *Exit, neighbor *Room) float64 {
		cost := 0.0
		if ex.ExitFlags.Contains("door") || ex.ExitFlags.Contains("climb") {
			cost += 5
		}
		if ex.ExitFlags.Contains("avoid") {
			cost += 1000
		}
		if avoidTerrains.Contains(neighbor.Terrain) {
			cost += 10
		}
		return cost
	}
	return w.aStar(origin, destinationRoom, exitCost)
}

func (w *World) aStar(origin, destination *Room, exitCost func(*Exit, *Room) float64) []string {
	parents := make(map[*Room]parentEntry)
	closed := map[*Room]float64{origin: origin.Cost}
	opened := &pathHeap{{cost: origin.Cost, room: origin}}
	heap.Init(opened)
	order := 1
	found := false
	var current *Room
	for opened.Len() > 0 {
		node := heap.Pop(opened).(pathNode)
		current = node.room
		if current == destination {
			found = true
			break
		}
		for direction, ex := range current.Exits {
			if ignoreExitVnums.Contains(ex.To) {
				continue
			}
			neighbor, ok := w.Rooms[ex.To]
			if !ok {
				continue
			}
			cost := node.cost + neighbor.Cost + exitCost(ex, neighbor)
			if known, seen := closed[neighbor]; seen && known <= cost {
				continue
			}
			closed[neighbor] = cost
			heap.Push(opened, pathNode{cost: cost, order: order, room: neighbor})
			order++
			parents[neighbor] = parentEntry{room: current, direction: direction}
		}
	}
	if !found {
		w.out("No routes found.")
		return nil
	}
	// Walk the parent chain back to the origin. The route is built in
	// reverse, so steps that must happen before a move are appended after
	// it.
	var results []string
	for current != origin {
		parent := parents[current]
		current = parent.room
		direction := parent.direction
		ex := current.Exits[direction]
		if LeadBeforeEnteringVnums.Contains(current.Vnum) &&
			!LeadBeforeEnteringVnums.Contains(ex.To) &&
			current != origin {
			results = append(results, "ride")
		}
		results = append(results, direction)
		if LeadBeforeEnteringVnums.Contains(ex.To) &&
			(!LeadBeforeEnteringVnums.Contains(current.Vnum) || current == origin) {
			results = append(results, "lead")
		}
		if ex.ExitFlags.Contains("door") {
			door := ex.Door
			if door == "" {
				door = "exit"
			}
			results = append(results, fmt.Sprintf("open %s %s", door, direction))
		}
	}
	return results
}
