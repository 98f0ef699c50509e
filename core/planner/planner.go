// Package planner computes the relocation moves that transform one shelf
// layout into another under a fixed rack capacity. Shelf units span one or
// more contiguous rack slots; the planner is a greedy blocker-relocation
// strategy and does not guarantee a minimum move count.
package planner

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNoSpace means a blocking shelf had no free run to relocate into.
	ErrNoSpace = errors.New("planner: no available space")
	// ErrUnsolvable means blocker relocation cycled without progress.
	ErrUnsolvable = errors.New("planner: unsolvable layout")
	// ErrInvalidLayout means the inputs are inconsistent.
	ErrInvalidLayout = errors.New("planner: invalid layout")
)

// Move relocates one shelf unit from its current bottom slot to another.
type Move struct {
	Shelf string `json:"shelf"`
	From  int    `json:"from"`
	To    int    `json:"to"`
}

// occupancy tracks which shelf occupies each rack slot, 1-indexed. It lives
// only for the duration of one planning call.
type occupancy struct {
	racks   []string
	heights map[string]int
	total   int
}

func (o *occupancy) mark(shelf string, start int, value string) {
	for i := start; i < start+o.heights[shelf]; i++ {
		o.racks[i] = value
	}
}

func (o *occupancy) free(start, size int) bool {
	if start < 1 || start+size-1 > o.total {
		return false
	}
	for i := start; i < start+size; i++ {
		if o.racks[i] != "" {
			return false
		}
	}
	return true
}

// firstFit returns the first contiguous free run of the given size, scanning
// from slot 1, or 0 when none exists.
func (o *occupancy) firstFit(size int) int {
	for s := 1; s <= o.total-size+1; s++ {
		if o.free(s, size) {
			return s
		}
	}
	return 0
}

// blockerAt returns the shelf occupying any slot in [start, start+size).
// Units never overlap, but more than one unit can intersect the range; the
// lowest-slot occupant is returned first and relocation repeats until the
// range clears.
func (o *occupancy) blockerAt(start, size int) string {
	for i := start; i < start+size && i <= o.total; i++ {
		if o.racks[i] != "" {
			return o.racks[i]
		}
	}
	return ""
}

// Plan returns the ordered moves transforming current into target. Both maps
// give each shelf's bottom rack slot; heights gives the slots each unit
// spans. Planning from a layout to itself returns an empty move list. On any
// failure no partial plan is returned.
func Plan(current, target map[string]int, heights map[string]int, totalRacks int) ([]Move, error) {
	if err := validate(current, target, heights, totalRacks); err != nil {
		return nil, err
	}

	occ := &occupancy{racks: make([]string, totalRacks+1), heights: heights, total: totalRacks}
	pos := make(map[string]int, len(current))
	for shelf, start := range current {
		if occ.blockerAt(start, heights[shelf]) != "" {
			return nil, fmt.Errorf("%w: overlapping units at slot %d", ErrInvalidLayout, start)
		}
		occ.mark(shelf, start, shelf)
		pos[shelf] = start
	}

	order := make([]string, 0, len(current))
	for shelf := range current {
		order = append(order, shelf)
	}
	sort.Strings(order)

	var moves []Move
	relocate := func(shelf string, dest int) {
		from := pos[shelf]
		occ.mark(shelf, from, "")
		occ.mark(shelf, dest, shelf)
		pos[shelf] = dest
		moves = append(moves, Move{Shelf: shelf, From: from, To: dest})
	}

	// Guard against mutual-blocking cycles: the greedy strategy can loop
	// forever when relocating one blocker displaces another that circles
	// back. Beyond this budget the layout is reported unsolvable.
	budget := len(order)*totalRacks + len(order)

	for _, shelf := range order {
		for pos[shelf] != target[shelf] {
			if len(moves) > budget {
				return nil, ErrUnsolvable
			}
			dest := target[shelf]
			size := heights[shelf]

			if occ.free(dest, size) {
				relocate(shelf, dest)
				continue
			}
			// A unit overlapping its own target counts as its own blocker
			// and is staged through a temporary run like any other.
			blocker := occ.blockerAt(dest, size)
			temp := occ.firstFit(heights[blocker])
			if temp == 0 {
				return nil, fmt.Errorf("%w for blocking shelf %s", ErrNoSpace, blocker)
			}
			relocate(blocker, temp)
		}
	}
	return moves, nil
}

func validate(current, target, heights map[string]int, totalRacks int) error {
	if totalRacks <= 0 {
		return fmt.Errorf("%w: total racks %d", ErrInvalidLayout, totalRacks)
	}
	if len(current) != len(target) {
		return fmt.Errorf("%w: current and target name different shelves", ErrInvalidLayout)
	}
	for shelf, start := range current {
		h, ok := heights[shelf]
		if !ok || h <= 0 {
			return fmt.Errorf("%w: shelf %s has no height", ErrInvalidLayout, shelf)
		}
		dest, ok := target[shelf]
		if !ok {
			return fmt.Errorf("%w: shelf %s missing from target", ErrInvalidLayout, shelf)
		}
		if start < 1 || start+h-1 > totalRacks {
			return fmt.Errorf("%w: shelf %s out of range at slot %d", ErrInvalidLayout, shelf, start)
		}
		if dest < 1 || dest+h-1 > totalRacks {
			return fmt.Errorf("%w: shelf %s target out of range at slot %d", ErrInvalidLayout, shelf, dest)
		}
	}
	return nil
}
