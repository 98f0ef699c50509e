// Package fulfillment coordinates physical fulfillment: it resolves the
// shelves serving a request, builds the hardware command frames, queues them
// for delivery and appends the inventory ledger rows.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vlm-project/vlmcore/core/allocation"
	"github.com/vlm-project/vlmcore/core/audit"
	"github.com/vlm-project/vlmcore/core/device"
	"github.com/vlm-project/vlmcore/core/logger"
	"github.com/vlm-project/vlmcore/core/metrics"
	"github.com/vlm-project/vlmcore/core/model"
	"github.com/vlm-project/vlmcore/core/planner"
	"github.com/vlm-project/vlmcore/core/protocol"
	"github.com/vlm-project/vlmcore/core/store"
	"github.com/vlm-project/vlmcore/core/txid"
)

// ErrInvalidOperation is returned for operations other than dispense and
// restock.
var ErrInvalidOperation = errors.New("fulfillment: invalid operation")

// Request is one fulfillment request from the web layer.
type Request struct {
	ProductIDs []string        `json:"product_ids"`
	Operation  model.Operation `json:"operation"`
	OperatorID string          `json:"operator_id"`
	Quantity   int             `json:"quantity"`
	Project    string          `json:"project,omitempty"`
}

// Result reports the transaction id and placements of a dispatched request.
type Result struct {
	TransactionID string                 `json:"transaction_id"`
	Placements    []allocation.Placement `json:"placements"`
}

// Service implements the fulfillment interface exposed to the web layer and
// the inventory callbacks used by the protocol dispatcher. The caller is
// fire-and-forget on the hardware side: Dispatch returns once the command is
// queued, it never waits for delivery or acknowledgement.
type Service struct {
	store   store.Store
	alloc   *allocation.Policy
	out     protocol.Enqueuer
	cursor  *device.Cursor
	audit   *audit.Recorder
	locks   *keyedMutex
	metrics metrics.Sink
	log     logger.Logger
}

// New creates a Service.
func New(st store.Store, alloc *allocation.Policy, out protocol.Enqueuer, cursor *device.Cursor, rec *audit.Recorder, sink metrics.Sink, log logger.Logger) *Service {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Service{
		store:   st,
		alloc:   alloc,
		out:     out,
		cursor:  cursor,
		audit:   rec,
		locks:   newKeyedMutex(),
		metrics: sink,
		log:     log,
	}
}

// Dispatch serves one web-originated dispense or restock request.
func (s *Service) Dispatch(ctx context.Context, req Request) (Result, error) {
	if !req.Operation.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidOperation, req.Operation)
	}
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}

	placements, err := s.alloc.Resolve(ctx, req.ProductIDs)
	if err != nil {
		return Result{}, err
	}
	tx := txid.New()

	delta := req.Operation.Delta() * qty
	if req.Operation == model.OpDispense {
		if err := s.sendDispense(ctx, tx, placements); err != nil {
			return Result{}, err
		}
	} else {
		if err := s.sendRestock(ctx, tx, placements[0]); err != nil {
			return Result{}, err
		}
	}

	for _, pl := range placements {
		if err := s.applyDelta(ctx, tx, pl.ShelfID, pl.ProductID, delta, req.OperatorID, req.Project, "website"); err != nil {
			s.audit.Record(ctx, model.AuditError,
				fmt.Sprintf("website %s failed for product %s: %v", req.Operation, pl.ProductID, err),
				model.AuditWebTransaction, tx)
			return Result{}, err
		}
	}
	s.audit.Record(ctx, model.AuditInfo,
		fmt.Sprintf("website %s successful for %d product(s)", req.Operation, len(placements)),
		model.AuditWebTransaction, tx)
	s.metrics.FulfillmentProcessed(string(req.Operation), "website")
	return Result{TransactionID: tx, Placements: placements}, nil
}

// sendDispense builds and queues the code 100 frame. Placements are visited
// closest floor first relative to the device cursor to minimize travel, then
// grouped by floor.
func (s *Service) sendDispense(ctx context.Context, tx string, placements []allocation.Placement) error {
	ordered := OrderByTravel(placements, s.cursor.Level())
	floors, perFloor := groupByFloor(ordered)

	frame, err := protocol.Encode(protocol.DispenseCommand{
		Code:           protocol.CodeDispense,
		Iter:           len(floors),
		Floors:         floors,
		OrdersPerFloor: perFloor,
		TransactionID:  tx,
	})
	if err != nil {
		return err
	}
	s.out.Enqueue(frame)
	if lvl, err := model.PositionLevel(floors[len(floors)-1]); err == nil {
		s.cursor.Set(lvl)
	}
	s.audit.Record(ctx, model.AuditInfo, "dispense command sent", model.AuditDispense, tx)
	return nil
}

func (s *Service) sendRestock(ctx context.Context, tx string, pl allocation.Placement) error {
	frame, err := protocol.Encode(protocol.RestockCommand{
		Code:          protocol.CodeRestock,
		Floor:         pl.Position,
		TransactionID: tx,
	})
	if err != nil {
		return err
	}
	s.out.Enqueue(frame)
	if lvl, err := model.PositionLevel(pl.Position); err == nil {
		s.cursor.Set(lvl)
	}
	s.audit.Record(ctx, model.AuditInfo, "restock command sent", model.AuditRestock, tx)
	return nil
}

// HardwareOperation applies one quantity delta per scanned tag, resolving
// the shelf from the floor position the device reported. Entries are tagged
// Source=hardware to distinguish them from web-originated operations.
func (s *Service) HardwareOperation(ctx context.Context, transactionID, floor string, uids []string, delta int, operatorID string) error {
	shelfID, err := s.store.ShelfIDFromPosition(ctx, floor)
	if err != nil {
		return fmt.Errorf("resolve shelf at %s: %w", floor, err)
	}
	for _, uid := range uids {
		if err := s.applyDelta(ctx, transactionID, shelfID, uid, delta, operatorID, "", "hardware"); err != nil {
			return err
		}
	}
	op := string(model.OpRestock)
	if delta < 0 {
		op = string(model.OpDispense)
	}
	s.metrics.FulfillmentProcessed(op, "hardware")
	return nil
}

// ChooseRestockFloor resolves the floor a scanned product should be
// restocked to, using the allocation fallback chain.
func (s *Service) ChooseRestockFloor(ctx context.Context, productID string) (string, error) {
	placements, err := s.alloc.Resolve(ctx, []string{productID})
	if err != nil {
		return "", err
	}
	return placements[0].Position, nil
}

// PlanRearrangement computes the move plan transforming the current shelf
// layout into the target one. Planning is one-shot and offline; the returned
// moves feed the same delivery path when executed.
func (s *Service) PlanRearrangement(current, target, heights map[string]int, totalRacks int) ([]planner.Move, error) {
	return planner.Plan(current, target, heights, totalRacks)
}

// applyDelta performs the serialized read-modify-write of one assignment and
// appends the matching ledger row.
func (s *Service) applyDelta(ctx context.Context, tx, shelfID, productID string, delta int, operatorID, project, source string) error {
	unlock := s.locks.lock(shelfID + "\x00" + productID)
	defer unlock()

	current, err := s.store.QuantityOnShelf(ctx, shelfID, productID)
	if err != nil {
		return fmt.Errorf("read quantity: %w", err)
	}
	next := current + delta
	if next < 0 {
		s.log.Warnf("quantity for product %s on shelf %s clamped to zero (was %d, delta %d)", productID, shelfID, current, delta)
		next = 0
	}

	added, removed := 0, 0
	if delta < 0 {
		removed = -delta
	} else {
		added = delta
	}
	rec := model.TransactionRecord{
		ID:              tx,
		ProductID:       productID,
		ShelfID:         shelfID,
		Time:            time.Now().UTC(),
		QuantityAdded:   added,
		QuantityRemoved: removed,
		OperatorID:      operatorID,
		Project:         project,
	}
	if err := s.store.AppendTransaction(ctx, rec); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	if err := s.store.UpsertAssignment(ctx, shelfID, productID, next); err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	s.audit.Record(ctx, model.AuditInfo,
		fmt.Sprintf("product operation: product=%s shelf=%s added=%d removed=%d operator=%s Source=%s",
			productID, shelfID, added, removed, operatorID, source),
		model.AuditProductOp, tx)
	return nil
}

// OrderByTravel moves the placement whose floor is closest to the current
// device level to the front, keeping the remaining order. Positions that do
// not parse keep their place.
func OrderByTravel(placements []allocation.Placement, level int) []allocation.Placement {
	if len(placements) < 2 {
		return placements
	}
	best, bestDist := -1, 0
	for i, pl := range placements {
		lvl, err := model.PositionLevel(pl.Position)
		if err != nil {
			continue
		}
		dist := lvl - level
		if dist < 0 {
			dist = -dist
		}
		if best == -1 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best <= 0 {
		return placements
	}
	out := make([]allocation.Placement, 0, len(placements))
	out = append(out, placements[best])
	out = append(out, placements[:best]...)
	out = append(out, placements[best+1:]...)
	return out
}

func groupByFloor(placements []allocation.Placement) ([]string, []int) {
	var floors []string
	var perFloor []int
	index := make(map[string]int)
	for _, pl := range placements {
		if i, ok := index[pl.Position]; ok {
			perFloor[i]++
			continue
		}
		index[pl.Position] = len(floors)
		floors = append(floors, pl.Position)
		perFloor = append(perFloor, 1)
	}
	return floors, perFloor
}
