// Package store declares the persistence collaborator consumed by the core.
// Implementations live under infra/store.
package store

import (
	"context"
	"errors"

	"github.com/vlm-project/vlmcore/core/model"
)

// ErrNotFound is returned when a shelf, product or position does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface used by the fulfillment core.
//
// Ranking contract: every method returning []model.ShelfUnit yields shelves
// ordered by descending space left, then ascending weight, so callers can
// take the first entry as the preferred shelf.
type Store interface {
	// QuantityOnShelf returns the current assignment quantity for the
	// (shelf, product) pair. A missing assignment reads as zero.
	QuantityOnShelf(ctx context.Context, shelfID, productID string) (int, error)

	// UpsertAssignment writes the assignment quantity and recomputes every
	// derived field that depends on it: shelf quantity, shelf weight, shelf
	// space left and product on-hand totals.
	UpsertAssignment(ctx context.Context, shelfID, productID string, quantity int) error

	// AppendTransaction appends one immutable ledger row.
	AppendTransaction(ctx context.Context, rec model.TransactionRecord) error

	// AppendAudit appends one audit-log entry.
	AppendAudit(ctx context.Context, entry model.AuditEntry) error

	Shelf(ctx context.Context, shelfID string) (model.ShelfUnit, error)
	ShelfIDFromPosition(ctx context.Context, position string) (string, error)

	// ShelvesForProduct returns shelves already holding the product.
	ShelvesForProduct(ctx context.Context, productID string) ([]model.ShelfUnit, error)
	// ShelvesForProducts returns shelves holding any of the given products.
	ShelvesForProducts(ctx context.Context, productIDs []string) ([]model.ShelfUnit, error)
	// AllShelves returns every shelf unit.
	AllShelves(ctx context.Context) ([]model.ShelfUnit, error)

	Product(ctx context.Context, productID string) (model.Product, error)
	// ProjectsForProduct returns the project tags associated with a product.
	ProjectsForProduct(ctx context.Context, productID string) ([]string, error)
	// ProductsForProjects returns ids of products tagged with any of the
	// given projects.
	ProductsForProjects(ctx context.Context, projects []string) ([]string, error)
	// ProductsInFamily returns ids of products in the given family.
	ProductsInFamily(ctx context.Context, family string) ([]string, error)

	// OperatorExists reports whether the operator id is registered.
	OperatorExists(ctx context.Context, operatorID string) (bool, error)

	VLMConfig(ctx context.Context) (model.VLMConfig, error)
	SetVLMConfig(ctx context.Context, cfg model.VLMConfig) error
}
