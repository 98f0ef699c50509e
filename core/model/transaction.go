package model

import "time"

// TransactionRecord is one row of the append-only fulfillment ledger.
// Records are immutable once written; on-hand history is reconstructed from
// the running balance of added/removed quantities.
type TransactionRecord struct {
	ID              string    `json:"id" db:"id"`
	ProductID       string    `json:"product_id" db:"product_id"`
	ShelfID         string    `json:"shelf_id" db:"shelf_id"`
	Time            time.Time `json:"time" db:"time"`
	QuantityAdded   int       `json:"quantity_added" db:"quantity_added"`
	QuantityRemoved int       `json:"quantity_removed" db:"quantity_removed"`
	OperatorID      string    `json:"operator_id" db:"operator_id"`
	Project         string    `json:"project,omitempty" db:"project"`
}
