// Package store provides the persistence implementations behind the
// core/store interface: an in-memory store for tests and standalone runs,
// and a Postgres store for deployments.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/vlm-project/vlmcore/core/model"
	corestore "github.com/vlm-project/vlmcore/core/store"
)

// defaultShelfArea is the usable tray area used for space-left
// recomputation when none is configured, in the same square unit as the
// product length/width dimensions.
const defaultShelfArea = 10000.0

// MemoryStore is a mutex-guarded map implementation of core/store.Store.
type MemoryStore struct {
	mu           sync.RWMutex
	shelves      map[string]model.ShelfUnit
	products     map[string]model.Product
	assignments  map[string]map[string]int
	projects     map[string][]string
	operators    map[string]struct{}
	transactions []model.TransactionRecord
	audits       []model.AuditEntry
	vlmConfig    model.VLMConfig
	configSet    bool
	shelfArea    float64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shelves:     make(map[string]model.ShelfUnit),
		products:    make(map[string]model.Product),
		assignments: make(map[string]map[string]int),
		projects:    make(map[string][]string),
		operators:   make(map[string]struct{}),
		shelfArea:   defaultShelfArea,
	}
}

// AddShelf registers a shelf unit.
func (s *MemoryStore) AddShelf(shelf model.ShelfUnit) {
	s.mu.Lock()
	if shelf.SpaceLeft == 0 {
		shelf.SpaceLeft = 100
	}
	if shelf.Racks == 0 {
		shelf.Racks = 1
	}
	s.shelves[shelf.ID] = shelf
	s.mu.Unlock()
}

// AddProduct registers a product with its project tags.
func (s *MemoryStore) AddProduct(p model.Product, projects ...string) {
	s.mu.Lock()
	s.products[p.ID] = p
	if len(projects) > 0 {
		s.projects[p.ID] = append([]string(nil), projects...)
	}
	s.mu.Unlock()
}

// AddOperator registers an operator id.
func (s *MemoryStore) AddOperator(id string) {
	s.mu.Lock()
	s.operators[id] = struct{}{}
	s.mu.Unlock()
}

// Transactions returns a copy of the ledger, oldest first.
func (s *MemoryStore) Transactions() []model.TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TransactionRecord, len(s.transactions))
	copy(out, s.transactions)
	return out
}

// AuditEntries returns a copy of the audit log, oldest first.
func (s *MemoryStore) AuditEntries() []model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AuditEntry, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *MemoryStore) QuantityOnShelf(_ context.Context, shelfID, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignments[shelfID][productID], nil
}

func (s *MemoryStore) UpsertAssignment(_ context.Context, shelfID, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shelves[shelfID]; !ok {
		return corestore.ErrNotFound
	}
	if s.assignments[shelfID] == nil {
		s.assignments[shelfID] = make(map[string]int)
	}
	s.assignments[shelfID][productID] = quantity
	s.recompute()
	return nil
}

// recompute refreshes every derived field: shelf quantity, weight and space
// left, and product on-hand totals. Callers hold the write lock.
func (s *MemoryStore) recompute() {
	onHand := make(map[string]int)
	for id, shelf := range s.shelves {
		qty, weight, area := 0, 0.0, 0.0
		for pid, q := range s.assignments[id] {
			qty += q
			onHand[pid] += q
			if p, ok := s.products[pid]; ok {
				weight += p.Weight * float64(q)
				area += p.Length * p.Width * float64(q)
			}
		}
		shelf.Quantity = qty
		shelf.Weight = weight
		shelf.SpaceLeft = 100 - (area/s.shelfArea)*100
		if shelf.SpaceLeft < 0 {
			shelf.SpaceLeft = 0
		}
		s.shelves[id] = shelf
	}
	for pid, p := range s.products {
		p.OnHand = onHand[pid]
		s.products[pid] = p
	}
}

func (s *MemoryStore) AppendTransaction(_ context.Context, rec model.TransactionRecord) error {
	s.mu.Lock()
	s.transactions = append(s.transactions, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	s.audits = append(s.audits, entry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Shelf(_ context.Context, shelfID string) (model.ShelfUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shelf, ok := s.shelves[shelfID]
	if !ok {
		return model.ShelfUnit{}, corestore.ErrNotFound
	}
	return shelf, nil
}

func (s *MemoryStore) ShelfIDFromPosition(_ context.Context, position string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, shelf := range s.shelves {
		if shelf.Position == position {
			return id, nil
		}
	}
	return "", corestore.ErrNotFound
}

func (s *MemoryStore) ShelvesForProduct(_ context.Context, productID string) ([]model.ShelfUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ShelfUnit
	for shelfID, byProduct := range s.assignments {
		if byProduct[productID] > 0 {
			out = append(out, s.shelves[shelfID])
		}
	}
	rankShelves(out)
	return out, nil
}

func (s *MemoryStore) ShelvesForProducts(_ context.Context, productIDs []string) ([]model.ShelfUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}
	var out []model.ShelfUnit
	for shelfID, byProduct := range s.assignments {
		for pid, q := range byProduct {
			if _, ok := wanted[pid]; ok && q > 0 {
				out = append(out, s.shelves[shelfID])
				break
			}
		}
	}
	rankShelves(out)
	return out, nil
}

func (s *MemoryStore) AllShelves(_ context.Context) ([]model.ShelfUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ShelfUnit, 0, len(s.shelves))
	for _, shelf := range s.shelves {
		out = append(out, shelf)
	}
	rankShelves(out)
	return out, nil
}

func (s *MemoryStore) Product(_ context.Context, productID string) (model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return model.Product{}, corestore.ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ProjectsForProduct(_ context.Context, productID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.projects[productID]...), nil
}

func (s *MemoryStore) ProductsForProjects(_ context.Context, projects []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(projects))
	for _, p := range projects {
		wanted[p] = struct{}{}
	}
	var out []string
	for pid, tags := range s.projects {
		for _, tag := range tags {
			if _, ok := wanted[tag]; ok {
				out = append(out, pid)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) ProductsInFamily(_ context.Context, family string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for pid, p := range s.products {
		if p.FamilyName == family {
			out = append(out, pid)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) OperatorExists(_ context.Context, operatorID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.operators[operatorID]
	return ok, nil
}

func (s *MemoryStore) VLMConfig(_ context.Context) (model.VLMConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.configSet {
		return model.VLMConfig{}, corestore.ErrNotFound
	}
	return s.vlmConfig, nil
}

func (s *MemoryStore) SetVLMConfig(_ context.Context, cfg model.VLMConfig) error {
	s.mu.Lock()
	s.vlmConfig = cfg
	s.configSet = true
	s.mu.Unlock()
	return nil
}

// rankShelves orders shelves by descending space left, then ascending
// weight, then id for determinism.
func rankShelves(shelves []model.ShelfUnit) {
	sort.Slice(shelves, func(i, j int) bool {
		if shelves[i].SpaceLeft != shelves[j].SpaceLeft {
			return shelves[i].SpaceLeft > shelves[j].SpaceLeft
		}
		if shelves[i].Weight != shelves[j].Weight {
			return shelves[i].Weight < shelves[j].Weight
		}
		return shelves[i].ID < shelves[j].ID
	})
}
