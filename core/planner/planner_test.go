package planner

import (
	"errors"
	"testing"
)

// apply replays moves over an occupancy array and fails on any intermediate
// overlap or out-of-range placement.
func apply(t *testing.T, moves []Move, current, heights map[string]int, totalRacks int) map[string]int {
	t.Helper()
	racks := make([]string, totalRacks+1)
	pos := make(map[string]int, len(current))
	for shelf, start := range current {
		for i := start; i < start+heights[shelf]; i++ {
			racks[i] = shelf
		}
		pos[shelf] = start
	}
	for _, m := range moves {
		if pos[m.Shelf] != m.From {
			t.Fatalf("move %+v: shelf is at %d", m, pos[m.Shelf])
		}
		for i := m.From; i < m.From+heights[m.Shelf]; i++ {
			racks[i] = ""
		}
		for i := m.To; i < m.To+heights[m.Shelf]; i++ {
			if i < 1 || i > totalRacks {
				t.Fatalf("move %+v out of range", m)
			}
			if racks[i] != "" {
				t.Fatalf("move %+v overlaps %s at slot %d", m, racks[i], i)
			}
			racks[i] = m.Shelf
		}
		pos[m.Shelf] = m.To
	}
	return pos
}

func TestPlanIdentityIsEmpty(t *testing.T) {
	layout := map[string]int{"A": 1, "B": 4}
	heights := map[string]int{"A": 2, "B": 1}
	moves, err := Plan(layout, map[string]int{"A": 1, "B": 4}, heights, 5)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(moves) != 0 {
		t.Fatalf("expected empty plan, got %v", moves)
	}
}

func TestPlanSwapWithTempSlot(t *testing.T) {
	current := map[string]int{"A": 1, "B": 3}
	target := map[string]int{"A": 4, "B": 1}
	heights := map[string]int{"A": 2, "B": 1}
	moves, err := Plan(current, target, heights, 5)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	final := apply(t, moves, current, heights, 5)
	for shelf, want := range target {
		if final[shelf] != want {
			t.Fatalf("shelf %s at %d, want %d (moves %v)", shelf, final[shelf], want, moves)
		}
	}
}

func TestPlanBlockerRelocated(t *testing.T) {
	// B sits inside A's target range and must be staged elsewhere first.
	current := map[string]int{"A": 1, "B": 4}
	target := map[string]int{"A": 4, "B": 1}
	heights := map[string]int{"A": 2, "B": 1}
	moves, err := Plan(current, target, heights, 6)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(moves) < 3 {
		t.Fatalf("expected a staging move, got %v", moves)
	}
	final := apply(t, moves, current, heights, 6)
	for shelf, want := range target {
		if final[shelf] != want {
			t.Fatalf("shelf %s at %d, want %d", shelf, final[shelf], want)
		}
	}
}

func TestPlanNoSpaceForBlocker(t *testing.T) {
	// Rack is packed solid; the blocker has nowhere to go.
	current := map[string]int{"A": 1, "B": 3}
	target := map[string]int{"A": 3, "B": 1}
	heights := map[string]int{"A": 2, "B": 2}
	_, err := Plan(current, target, heights, 4)
	if !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
}

func TestPlanSelfOverlapCycleFailsSafely(t *testing.T) {
	// Shifting a unit by one slot inside a rack with room to stage but a
	// first-fit cycle: must fail with a structured error, not hang.
	current := map[string]int{"A": 1}
	target := map[string]int{"A": 2}
	heights := map[string]int{"A": 2}
	_, err := Plan(current, target, heights, 4)
	if !errors.Is(err, ErrUnsolvable) && !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected structured failure, got %v", err)
	}
}

func TestPlanMultipleShelves(t *testing.T) {
	current := map[string]int{"A": 1, "B": 3, "C": 5}
	target := map[string]int{"A": 5, "B": 1, "C": 3}
	heights := map[string]int{"A": 2, "B": 2, "C": 2}
	moves, err := Plan(current, target, heights, 8)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	final := apply(t, moves, current, heights, 8)
	for shelf, want := range target {
		if final[shelf] != want {
			t.Fatalf("shelf %s at %d, want %d (moves %v)", shelf, final[shelf], want, moves)
		}
	}
}

func TestPlanValidation(t *testing.T) {
	if _, err := Plan(map[string]int{"A": 1}, map[string]int{"A": 1}, map[string]int{}, 3); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout for missing height, got %v", err)
	}
	if _, err := Plan(map[string]int{"A": 3}, map[string]int{"A": 1}, map[string]int{"A": 2}, 3); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout for out-of-range unit, got %v", err)
	}
	if _, err := Plan(map[string]int{"A": 1, "B": 2}, map[string]int{"A": 1, "B": 2}, map[string]int{"A": 2, "B": 1}, 4); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout for overlap, got %v", err)
	}
}
