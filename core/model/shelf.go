package model

import (
	"fmt"
	"strconv"
)

// ShelfUnit is one physical tray assembly inside the VLM. A unit may span
// several rack slots (Racks). Weight, Quantity and SpaceLeft are derived
// values, recomputed by the store whenever an assignment changes; they are
// never written directly.
type ShelfUnit struct {
	ID        string  `json:"id" db:"id"`
	Position  string  `json:"position" db:"position"`
	Weight    float64 `json:"weight" db:"weight"`
	Quantity  int     `json:"quantity" db:"quantity"`
	SpaceLeft float64 `json:"space_left" db:"space_left"`
	Racks     int     `json:"racks" db:"racks"`
}

// Level extracts the vertical level from a position code such as "F01" or
// "B12". The leading letter selects the front or back face of the machine.
func (s ShelfUnit) Level() (int, error) {
	return PositionLevel(s.Position)
}

// PositionLevel parses the numeric level out of a position code.
func PositionLevel(pos string) (int, error) {
	if len(pos) < 2 || (pos[0] != 'F' && pos[0] != 'B') {
		return 0, fmt.Errorf("invalid position code %q", pos)
	}
	lvl, err := strconv.Atoi(pos[1:])
	if err != nil {
		return 0, fmt.Errorf("invalid position code %q: %w", pos, err)
	}
	return lvl, nil
}
