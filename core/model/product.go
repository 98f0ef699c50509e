package model

// Product describes one stocked item. OnHand is derived from the sum of the
// product's shelf assignments.
type Product struct {
	ID           string  `json:"id" db:"id"`
	Name         string  `json:"name" db:"name"`
	Description  string  `json:"description" db:"description"`
	FamilyName   string  `json:"family_name" db:"family_name"`
	FamilyItem   string  `json:"family_item" db:"family_item"`
	Weight       float64 `json:"weight" db:"weight"`
	ReorderPoint int     `json:"reorder_point" db:"reorder_point"`
	OnHand       int     `json:"on_hand" db:"on_hand"`
	Length       float64 `json:"length" db:"length"`
	Width        float64 `json:"width" db:"width"`
	Height       float64 `json:"height" db:"height"`
}

// Operation is the direction of a fulfillment request.
type Operation string

const (
	OpDispense Operation = "dispense"
	OpRestock  Operation = "restock"
)

// Valid reports whether the operation is one of the two known kinds.
func (o Operation) Valid() bool {
	return o == OpDispense || o == OpRestock
}

// Delta returns the signed per-unit quantity change for the operation.
func (o Operation) Delta() int {
	if o == OpDispense {
		return -1
	}
	return 1
}
