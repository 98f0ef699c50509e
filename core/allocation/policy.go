// Package allocation selects the shelf that serves a dispense or restock
// request. The policy is a greedy fallback chain, not a global optimum:
// shelves already holding the product win, then shelves of project-affine
// products, then same-family products, then any shelf at all. Ties are
// broken by descending free space then ascending weight, preferring lighter,
// emptier shelves.
package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/vlm-project/vlmcore/core/logger"
	"github.com/vlm-project/vlmcore/core/model"
	"github.com/vlm-project/vlmcore/core/store"
)

// ErrNoShelfAvailable means no shelf exists at all; the chain's global
// fallback guarantees a result otherwise.
var ErrNoShelfAvailable = errors.New("allocation: no shelf available")

// Placement binds a product to the shelf chosen for it.
type Placement struct {
	ProductID string `json:"product_id"`
	ShelfID   string `json:"shelf_id"`
	Position  string `json:"position"`
}

// Policy resolves placements against the store's ranked shelf views.
type Policy struct {
	store store.Store
	log   logger.Logger
}

// NewPolicy creates a Policy.
func NewPolicy(st store.Store, log logger.Logger) *Policy {
	return &Policy{store: st, log: log}
}

// Resolve returns one placement per product id, in input order.
func (p *Policy) Resolve(ctx context.Context, productIDs []string) ([]Placement, error) {
	if len(productIDs) == 0 {
		return nil, fmt.Errorf("allocation: no product ids given")
	}
	placements := make([]Placement, 0, len(productIDs))
	for _, pid := range productIDs {
		shelf, err := p.resolveOne(ctx, pid)
		if err != nil {
			return nil, err
		}
		placements = append(placements, Placement{ProductID: pid, ShelfID: shelf.ID, Position: shelf.Position})
	}
	return placements, nil
}

func (p *Policy) resolveOne(ctx context.Context, productID string) (model.ShelfUnit, error) {
	// 1. Shelves already holding the product.
	shelves, err := p.store.ShelvesForProduct(ctx, productID)
	if err != nil {
		return model.ShelfUnit{}, err
	}
	if len(shelves) > 0 {
		return shelves[0], nil
	}

	// 2. Shelves of products sharing a project tag.
	if shelf, ok, err := p.byProject(ctx, productID); err != nil {
		return model.ShelfUnit{}, err
	} else if ok {
		return shelf, nil
	}

	// 3. Shelves of products in the same family.
	if shelf, ok, err := p.byFamily(ctx, productID); err != nil {
		return model.ShelfUnit{}, err
	} else if ok {
		return shelf, nil
	}

	// 4. Any shelf at all.
	all, err := p.store.AllShelves(ctx)
	if err != nil {
		return model.ShelfUnit{}, err
	}
	if len(all) > 0 {
		p.log.Debugf("product %s placed by global fallback on shelf %s", productID, all[0].ID)
		return all[0], nil
	}
	return model.ShelfUnit{}, ErrNoShelfAvailable
}

func (p *Policy) byProject(ctx context.Context, productID string) (model.ShelfUnit, bool, error) {
	projects, err := p.store.ProjectsForProduct(ctx, productID)
	if err != nil {
		return model.ShelfUnit{}, false, err
	}
	if len(projects) == 0 {
		return model.ShelfUnit{}, false, nil
	}
	related, err := p.store.ProductsForProjects(ctx, projects)
	if err != nil {
		return model.ShelfUnit{}, false, err
	}
	return p.bestShelfOf(ctx, exclude(related, productID))
}

func (p *Policy) byFamily(ctx context.Context, productID string) (model.ShelfUnit, bool, error) {
	prod, err := p.store.Product(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return model.ShelfUnit{}, false, nil
	}
	if err != nil {
		return model.ShelfUnit{}, false, err
	}
	if prod.FamilyName == "" {
		return model.ShelfUnit{}, false, nil
	}
	family, err := p.store.ProductsInFamily(ctx, prod.FamilyName)
	if err != nil {
		return model.ShelfUnit{}, false, err
	}
	return p.bestShelfOf(ctx, exclude(family, productID))
}

func (p *Policy) bestShelfOf(ctx context.Context, productIDs []string) (model.ShelfUnit, bool, error) {
	if len(productIDs) == 0 {
		return model.ShelfUnit{}, false, nil
	}
	shelves, err := p.store.ShelvesForProducts(ctx, productIDs)
	if err != nil {
		return model.ShelfUnit{}, false, err
	}
	if len(shelves) == 0 {
		return model.ShelfUnit{}, false, nil
	}
	return shelves[0], true, nil
}

func exclude(ids []string, skip string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
