package fulfillment_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vlm-project/vlmcore/core/allocation"
	"github.com/vlm-project/vlmcore/core/audit"
	"github.com/vlm-project/vlmcore/core/device"
	"github.com/vlm-project/vlmcore/core/fulfillment"
	"github.com/vlm-project/vlmcore/core/model"
	"github.com/vlm-project/vlmcore/core/protocol"
	infralogger "github.com/vlm-project/vlmcore/infra/logger"
	infrastore "github.com/vlm-project/vlmcore/infra/store"
)

type captureQueue struct {
	mu     sync.Mutex
	frames [][]byte
}

func (q *captureQueue) Enqueue(frame []byte) {
	q.mu.Lock()
	q.frames = append(q.frames, frame)
	q.mu.Unlock()
}

func (q *captureQueue) decoded(t *testing.T, i int) map[string]any {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.Greater(t, len(q.frames), i)
	var m map[string]any
	require.NoError(t, json.Unmarshal(q.frames[i], &m))
	return m
}

type fixture struct {
	store  *infrastore.MemoryStore
	out    *captureQueue
	cursor *device.Cursor
	svc    *fulfillment.Service
}

func newFixture() *fixture {
	st := infrastore.NewMemoryStore()
	out := &captureQueue{}
	cursor := device.NewCursor(1)
	log := infralogger.NopLogger{}
	alloc := allocation.NewPolicy(st, log)
	rec := audit.NewRecorder(st, nil, log)
	svc := fulfillment.New(st, alloc, out, cursor, rec, nil, log)
	return &fixture{store: st, out: out, cursor: cursor, svc: svc}
}

func TestDispatchDispense(t *testing.T) {
	f := newFixture()
	f.store.AddShelf(model.ShelfUnit{ID: "S1", Position: "F02"})
	f.store.AddProduct(model.Product{ID: "p1", Name: "bearing"})
	require.NoError(t, f.store.UpsertAssignment(context.Background(), "S1", "p1", 5))

	res, err := f.svc.Dispatch(context.Background(), fulfillment.Request{
		ProductIDs: []string{"p1"},
		Operation:  model.OpDispense,
		OperatorID: "4711",
		Quantity:   2,
	})
	require.NoError(t, err)
	require.Len(t, res.TransactionID, 8)
	require.Len(t, res.Placements, 1)
	require.Equal(t, "S1", res.Placements[0].ShelfID)

	// The command frame goes out first.
	frame := f.out.decoded(t, 0)
	require.Equal(t, float64(protocol.CodeDispense), frame["code"])
	require.Equal(t, res.TransactionID, frame["transaction_id"])

	// Inventory moved 5 -> 3 and the ledger recorded the removal.
	qty, err := f.store.QuantityOnShelf(context.Background(), "S1", "p1")
	require.NoError(t, err)
	require.Equal(t, 3, qty)

	recs := f.store.Transactions()
	require.Len(t, recs, 1)
	require.Equal(t, 2, recs[0].QuantityRemoved)
	require.Equal(t, 0, recs[0].QuantityAdded)
	require.Equal(t, "4711", recs[0].OperatorID)

	// Device cursor follows the last dispensed floor.
	require.Equal(t, 2, f.cursor.Level())
}

func TestDispatchRestockDefaultsQuantity(t *testing.T) {
	f := newFixture()
	f.store.AddShelf(model.ShelfUnit{ID: "S1", Position: "F03"})
	f.store.AddProduct(model.Product{ID: "p1"})

	res, err := f.svc.Dispatch(context.Background(), fulfillment.Request{
		ProductIDs: []string{"p1"},
		Operation:  model.OpRestock,
		OperatorID: "4711",
	})
	require.NoError(t, err)

	frame := f.out.decoded(t, 0)
	require.Equal(t, float64(protocol.CodeRestock), frame["code"])
	require.Equal(t, "F03", frame["Floor"])

	qty, err := f.store.QuantityOnShelf(context.Background(), "S1", "p1")
	require.NoError(t, err)
	require.Equal(t, 1, qty)
	require.Equal(t, res.TransactionID, f.store.Transactions()[0].ID)
}

func TestDispatchRejectsBadOperation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Dispatch(context.Background(), fulfillment.Request{
		ProductIDs: []string{"p1"},
		Operation:  model.Operation("discard"),
	})
	require.True(t, errors.Is(err, fulfillment.ErrInvalidOperation))
}

func TestDispatchNoShelves(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Dispatch(context.Background(), fulfillment.Request{
		ProductIDs: []string{"p1"},
		Operation:  model.OpDispense,
	})
	require.True(t, errors.Is(err, allocation.ErrNoShelfAvailable))
}

func TestDispenseClampsAtZero(t *testing.T) {
	f := newFixture()
	f.store.AddShelf(model.ShelfUnit{ID: "S1", Position: "F01"})
	f.store.AddProduct(model.Product{ID: "p1"})
	require.NoError(t, f.store.UpsertAssignment(context.Background(), "S1", "p1", 1))

	_, err := f.svc.Dispatch(context.Background(), fulfillment.Request{
		ProductIDs: []string{"p1"},
		Operation:  model.OpDispense,
		Quantity:   3,
	})
	require.NoError(t, err)

	qty, err := f.store.QuantityOnShelf(context.Background(), "S1", "p1")
	require.NoError(t, err)
	require.Equal(t, 0, qty)
}

func TestHardwareOperationResolvesShelfFromFloor(t *testing.T) {
	f := newFixture()
	f.store.AddShelf(model.ShelfUnit{ID: "S7", Position: "F04"})
	f.store.AddProduct(model.Product{ID: "t1"})
	f.store.AddProduct(model.Product{ID: "t2"})

	err := f.svc.HardwareOperation(context.Background(), "ab12cd34", "F04", []string{"t1", "t2"}, 1, "4711")
	require.NoError(t, err)

	for _, pid := range []string{"t1", "t2"} {
		qty, err := f.store.QuantityOnShelf(context.Background(), "S7", pid)
		require.NoError(t, err)
		require.Equal(t, 1, qty)
	}
	require.Len(t, f.store.Transactions(), 2)
}

func TestHardwareOperationUnknownFloor(t *testing.T) {
	f := newFixture()
	err := f.svc.HardwareOperation(context.Background(), "ab12cd34", "F99", []string{"t1"}, 1, "4711")
	require.Error(t, err)
}

func TestChooseRestockFloor(t *testing.T) {
	f := newFixture()
	f.store.AddShelf(model.ShelfUnit{ID: "S1", Position: "B02"})
	f.store.AddProduct(model.Product{ID: "p1"})
	require.NoError(t, f.store.UpsertAssignment(context.Background(), "S1", "p1", 1))

	floor, err := f.svc.ChooseRestockFloor(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, "B02", floor)
}

func TestOrderByTravelPicksClosestFirst(t *testing.T) {
	placements := []allocation.Placement{
		{ProductID: "a", Position: "F08"},
		{ProductID: "b", Position: "F02"},
		{ProductID: "c", Position: "F05"},
	}
	got := fulfillment.OrderByTravel(placements, 3)
	require.Equal(t, "b", got[0].ProductID)
	require.Equal(t, "a", got[1].ProductID)
	require.Equal(t, "c", got[2].ProductID)
}

func TestOrderByTravelKeepsUnparsablePositions(t *testing.T) {
	placements := []allocation.Placement{
		{ProductID: "a", Position: "??"},
		{ProductID: "b", Position: "F01"},
	}
	got := fulfillment.OrderByTravel(placements, 1)
	require.Equal(t, "b", got[0].ProductID)
}

func TestDispatchGroupsSameFloor(t *testing.T) {
	f := newFixture()
	f.store.AddShelf(model.ShelfUnit{ID: "S1", Position: "F02"})
	f.store.AddProduct(model.Product{ID: "p1"})
	f.store.AddProduct(model.Product{ID: "p2"})
	require.NoError(t, f.store.UpsertAssignment(context.Background(), "S1", "p1", 4))
	require.NoError(t, f.store.UpsertAssignment(context.Background(), "S1", "p2", 4))

	_, err := f.svc.Dispatch(context.Background(), fulfillment.Request{
		ProductIDs: []string{"p1", "p2"},
		Operation:  model.OpDispense,
		Quantity:   1,
	})
	require.NoError(t, err)

	frame := f.out.decoded(t, 0)
	require.Equal(t, float64(1), frame["Iter"])
	floors := frame["Floors"].([]any)
	require.Len(t, floors, 1)
	require.Equal(t, "F02", floors[0])
	perFloor := frame["OrdersPerFloor"].([]any)
	require.Equal(t, float64(2), perFloor[0])
}
