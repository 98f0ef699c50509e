package protocol_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vlm-project/vlmcore/core/audit"
	"github.com/vlm-project/vlmcore/core/device"
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

func (q *captureQueue) last(t *testing.T) map[string]any {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.frames)
	var m map[string]any
	require.NoError(t, json.Unmarshal(q.frames[len(q.frames)-1], &m))
	return m
}

type fakeInventory struct {
	tx       string
	floor    string
	uids     []string
	delta    int
	operator string

	restockFloor string
	err          error
}

func (f *fakeInventory) HardwareOperation(_ context.Context, tx, floor string, uids []string, delta int, operator string) error {
	f.tx, f.floor, f.uids, f.delta, f.operator = tx, floor, uids, delta, operator
	return f.err
}

func (f *fakeInventory) ChooseRestockFloor(context.Context, string) (string, error) {
	return f.restockFloor, f.err
}

type fakeTelemetry struct {
	value float64
	tx    string
	auto  bool
	calls int
}

func (f *fakeTelemetry) RecordHall(_ context.Context, value float64, tx string, auto bool) {
	f.value, f.tx, f.auto = value, tx, auto
	f.calls++
}

func newDispatcher(st *infrastore.MemoryStore, inv *fakeInventory, tel *fakeTelemetry) (*protocol.Dispatcher, *captureQueue, *device.Cursor) {
	out := &captureQueue{}
	cursor := device.NewCursor(1)
	rec := audit.NewRecorder(st, nil, infralogger.NopLogger{})
	var t protocol.Telemetry
	if tel != nil {
		t = tel
	}
	d := protocol.NewDispatcher(st, inv, out, cursor, rec, t, infralogger.NopLogger{}, nil)
	return d, out, cursor
}

func TestHandleAuthKnownOperator(t *testing.T) {
	st := infrastore.NewMemoryStore()
	st.AddOperator("4711")
	d, out, _ := newDispatcher(st, &fakeInventory{}, nil)

	err := d.Handle(context.Background(), []byte(`{"code":120,"operator":"4711"}`))
	require.NoError(t, err)

	reply := out.last(t)
	require.Equal(t, float64(protocol.CodeAuthReply), reply["code"])
	require.Equal(t, true, reply["authenticated"])
	require.Len(t, reply["transaction_id"].(string), 8)
}

func TestHandleAuthUnknownOperatorStillReplies(t *testing.T) {
	st := infrastore.NewMemoryStore()
	d, out, _ := newDispatcher(st, &fakeInventory{}, nil)

	require.NoError(t, d.Handle(context.Background(), []byte(`{"code":120,"operator":"nobody"}`)))
	reply := out.last(t)
	require.Equal(t, false, reply["authenticated"])

	entries := st.AuditEntries()
	require.NotEmpty(t, entries)
	require.Equal(t, model.AuditError, entries[len(entries)-1].Level)
}

func TestHandleTagScanRestock(t *testing.T) {
	st := infrastore.NewMemoryStore()
	inv := &fakeInventory{}
	d, _, cursor := newDispatcher(st, inv, nil)

	frame := `{"code":122,"transaction_id":"ab12cd34","UIDs":["t1","t2"],"operation":"R","Floors":["F03"],"operator":"4711"}`
	require.NoError(t, d.Handle(context.Background(), []byte(frame)))

	require.Equal(t, 1, inv.delta)
	require.Equal(t, "F03", inv.floor)
	require.Equal(t, []string{"t1", "t2"}, inv.uids)
	require.Equal(t, 3, cursor.Level())
}

func TestHandleTagScanDispense(t *testing.T) {
	inv := &fakeInventory{}
	d, _, _ := newDispatcher(infrastore.NewMemoryStore(), inv, nil)

	frame := `{"code":122,"transaction_id":"ab12cd34","UIDs":["t1"],"operation":"D","Floors":["F02"],"operator":"4711"}`
	require.NoError(t, d.Handle(context.Background(), []byte(frame)))
	require.Equal(t, -1, inv.delta)
}

func TestHandleTagScanRejectsBadOperation(t *testing.T) {
	d, _, _ := newDispatcher(infrastore.NewMemoryStore(), &fakeInventory{}, nil)
	frame := `{"code":122,"transaction_id":"ab12cd34","UIDs":["t1"],"operation":"X","Floors":["F02"],"operator":"4711"}`
	err := d.Handle(context.Background(), []byte(frame))
	require.True(t, errors.Is(err, protocol.ErrMalformedFrame))
}

func TestHandlePlacementQueryRepliesWithRestock(t *testing.T) {
	inv := &fakeInventory{restockFloor: "B04"}
	d, out, _ := newDispatcher(infrastore.NewMemoryStore(), inv, nil)

	frame := `{"code":123,"uid":"p9","operator":"4711","transaction_id":"ab12cd34"}`
	require.NoError(t, d.Handle(context.Background(), []byte(frame)))

	reply := out.last(t)
	require.Equal(t, float64(protocol.CodeRestock), reply["code"])
	require.Equal(t, "B04", reply["Floor"])
	require.Equal(t, "ab12cd34", reply["transaction_id"])
}

func TestHandleHallReading(t *testing.T) {
	tel := &fakeTelemetry{}
	d, _, _ := newDispatcher(infrastore.NewMemoryStore(), &fakeInventory{}, tel)

	// Automatic sweep: no transaction id.
	require.NoError(t, d.Handle(context.Background(), []byte(`{"code":603,"hall":1.25}`)))
	require.Equal(t, 1, tel.calls)
	require.True(t, tel.auto)
	require.InDelta(t, 1.25, tel.value, 1e-9)

	// Manual reading carries the triggering transaction.
	require.NoError(t, d.Handle(context.Background(), []byte(`{"code":603,"hall":0.5,"transaction_id":"ab12cd34"}`)))
	require.False(t, tel.auto)
	require.Equal(t, "ab12cd34", tel.tx)
}

func TestHandleHallReadingNilTelemetry(t *testing.T) {
	st := infrastore.NewMemoryStore()
	d, _, _ := newDispatcher(st, &fakeInventory{}, nil)
	require.NoError(t, d.Handle(context.Background(), []byte(`{"code":603,"hall":2.0}`)))
	require.NotEmpty(t, st.AuditEntries())
}

func TestHandleDropsBadFrames(t *testing.T) {
	d, _, _ := newDispatcher(infrastore.NewMemoryStore(), &fakeInventory{}, nil)

	cases := map[string]struct {
		raw  string
		want error
	}{
		"not json":       {`{`, protocol.ErrMalformedFrame},
		"no code":        {`{"operator":"4711"}`, protocol.ErrMissingField},
		"unknown code":   {`{"code":999}`, protocol.ErrMalformedFrame},
		"auth no op":     {`{"code":120}`, protocol.ErrMissingField},
		"scan no floors": {`{"code":122,"transaction_id":"x","UIDs":["t"],"operation":"R","operator":"o"}`, protocol.ErrMissingField},
		"hall no value":  {`{"code":603}`, protocol.ErrMissingField},
	}
	for name, tc := range cases {
		err := d.Handle(context.Background(), []byte(tc.raw))
		require.Truef(t, errors.Is(err, tc.want), "%s: got %v", name, err)
	}
}

func TestHandleCommandOK(t *testing.T) {
	st := infrastore.NewMemoryStore()
	d, _, _ := newDispatcher(st, &fakeInventory{}, nil)

	require.NoError(t, d.Handle(context.Background(), []byte(`{"code":200,"transaction_id":"ab12cd34","message":"run complete"}`)))
	entries := st.AuditEntries()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	require.Equal(t, model.AuditCommandResult, last.Type)
	require.Equal(t, "run complete", last.Message)
	require.Equal(t, "ab12cd34", last.TransactionID)
}
