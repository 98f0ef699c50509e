package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vlm-project/vlmcore/core/audit"
	"github.com/vlm-project/vlmcore/core/device"
	"github.com/vlm-project/vlmcore/core/logger"
	"github.com/vlm-project/vlmcore/core/metrics"
	"github.com/vlm-project/vlmcore/core/model"
	"github.com/vlm-project/vlmcore/core/store"
	"github.com/vlm-project/vlmcore/core/txid"
)

// Enqueuer queues an outbound frame for delivery.
type Enqueuer interface {
	Enqueue(frame []byte)
}

// Inventory is the slice of the fulfillment service the dispatcher needs to
// apply hardware-originated operations.
type Inventory interface {
	// HardwareOperation applies one quantity delta per scanned tag against
	// the shelf at the given floor position.
	HardwareOperation(ctx context.Context, transactionID, floor string, uids []string, delta int, operatorID string) error
	// ChooseRestockFloor resolves the floor a scanned product should be
	// restocked to.
	ChooseRestockFloor(ctx context.Context, productID string) (string, error)
}

// Telemetry receives hall-sensor samples.
type Telemetry interface {
	RecordHall(ctx context.Context, value float64, transactionID string, auto bool)
}

// Dispatcher decodes inbound frames, validates required fields and routes
// them by message code. Malformed or incomplete frames are logged and
// dropped; the dispatch loop never stops on bad input.
type Dispatcher struct {
	store   store.Store
	inv     Inventory
	out     Enqueuer
	cursor  *device.Cursor
	audit   *audit.Recorder
	tel     Telemetry
	log     logger.Logger
	metrics metrics.Sink
}

// NewDispatcher wires a Dispatcher. tel may be nil when telemetry is
// disabled; sink defaults to the no-op sink.
func NewDispatcher(st store.Store, inv Inventory, out Enqueuer, cursor *device.Cursor, rec *audit.Recorder, tel Telemetry, log logger.Logger, sink metrics.Sink) *Dispatcher {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Dispatcher{store: st, inv: inv, out: out, cursor: cursor, audit: rec, tel: tel, log: log, metrics: sink}
}

// Handle processes one raw inbound frame. The returned error reports why a
// frame was dropped; callers log it and carry on.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) error {
	code, err := decodeCode(raw)
	if err != nil {
		d.metrics.FrameDropped("malformed")
		d.log.Warnf("dropping frame: %v", err)
		return err
	}
	d.metrics.FrameReceived(code)

	switch code {
	case CodeAuthRequest:
		return d.handleAuth(ctx, raw)
	case CodeFloorSelection:
		return d.handleFloorSelection(ctx, raw)
	case CodeTagScan:
		return d.handleTagScan(ctx, raw)
	case CodePlacementQuery:
		return d.handlePlacementQuery(ctx, raw)
	case CodeRawScan:
		return d.handleRawScan(ctx, raw)
	case CodeCommandOK:
		return d.handleCommandOK(ctx, raw)
	case CodeHallReading:
		return d.handleHallReading(ctx, raw)
	default:
		d.metrics.FrameDropped("unknown_code")
		d.log.Warnf("dropping frame with unknown code %d", code)
		return fmt.Errorf("%w: unknown code %d", ErrMalformedFrame, code)
	}
}

func (d *Dispatcher) drop(reason string, err error) error {
	d.metrics.FrameDropped(reason)
	d.log.Warnf("dropping frame: %v", err)
	return err
}

func (d *Dispatcher) decode(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return d.drop("malformed", fmt.Errorf("%w: %v", ErrMalformedFrame, err))
	}
	return nil
}

func (d *Dispatcher) missing(field string) error {
	return d.drop("missing_field", fmt.Errorf("%w: %s", ErrMissingField, field))
}

// handleAuth answers a 120 with a 110 carrying a fresh transaction id. The
// device is told whether the operator is known; an unknown operator still
// receives a reply so the numpad can show the rejection.
func (d *Dispatcher) handleAuth(ctx context.Context, raw []byte) error {
	var req AuthRequest
	if err := d.decode(raw, &req); err != nil {
		return err
	}
	if req.Operator == "" {
		return d.missing("operator")
	}

	ok, err := d.store.OperatorExists(ctx, req.Operator)
	if err != nil {
		return d.drop("store_error", fmt.Errorf("operator lookup: %w", err))
	}
	tx := txid.New()
	reply, err := Encode(AuthReply{Code: CodeAuthReply, TransactionID: tx, Authenticated: ok})
	if err != nil {
		return err
	}
	d.out.Enqueue(reply)

	if ok {
		d.audit.Record(ctx, model.AuditInfo, fmt.Sprintf("operator %s authenticated, transaction created", req.Operator), model.AuditAuthentication, tx)
	} else {
		d.audit.Record(ctx, model.AuditError, fmt.Sprintf("authentication failed: unknown operator %s", req.Operator), model.AuditAuthentication, tx)
	}
	return nil
}

func (d *Dispatcher) handleFloorSelection(ctx context.Context, raw []byte) error {
	var sel FloorSelection
	if err := d.decode(raw, &sel); err != nil {
		return err
	}
	switch {
	case sel.TransactionID == "":
		return d.missing("transaction_id")
	case sel.Floor == "":
		return d.missing("floor_selected")
	case sel.Operator == "":
		return d.missing("operator")
	}
	d.audit.Record(ctx, model.AuditInfo, fmt.Sprintf("floor %s selected by operator %s", sel.Floor, sel.Operator), model.AuditFloorSelection, sel.TransactionID)
	return nil
}

// handleTagScan applies one inventory update per scanned tag. Operation "R"
// restocks (+1 per tag), "D" dispenses (-1 per tag). The machine is at the
// scanned floor, so the cursor is moved there.
func (d *Dispatcher) handleTagScan(ctx context.Context, raw []byte) error {
	var scan TagScan
	if err := d.decode(raw, &scan); err != nil {
		return err
	}
	switch {
	case scan.TransactionID == "":
		return d.missing("transaction_id")
	case len(scan.UIDs) == 0:
		return d.missing("UIDs")
	case len(scan.Floors) == 0:
		return d.missing("Floors")
	case scan.Operator == "":
		return d.missing("operator")
	}
	var delta int
	switch scan.Operation {
	case ScanRestock:
		delta = 1
	case ScanDispense:
		delta = -1
	default:
		return d.drop("bad_operation", fmt.Errorf("%w: operation %q", ErrMalformedFrame, scan.Operation))
	}

	floor := scan.Floors[0]
	if err := d.inv.HardwareOperation(ctx, scan.TransactionID, floor, scan.UIDs, delta, scan.Operator); err != nil {
		d.audit.Record(ctx, model.AuditError, fmt.Sprintf("tag scan processing failed: %v", err), model.AuditTagProcessing, scan.TransactionID)
		return err
	}
	if lvl, err := model.PositionLevel(floor); err == nil {
		d.cursor.Set(lvl)
	}
	d.audit.Record(ctx, model.AuditInfo,
		fmt.Sprintf("tags %s processed for %s at %s", strings.Join(scan.UIDs, ","), scan.Operation, floor),
		model.AuditTagProcessing, scan.TransactionID)
	return nil
}

// handlePlacementQuery answers a 123 with a 101 naming the floor the product
// should be restocked to.
func (d *Dispatcher) handlePlacementQuery(ctx context.Context, raw []byte) error {
	var q PlacementQuery
	if err := d.decode(raw, &q); err != nil {
		return err
	}
	switch {
	case q.UID == "":
		return d.missing("uid")
	case q.Operator == "":
		return d.missing("operator")
	case q.TransactionID == "":
		return d.missing("transaction_id")
	}

	floor, err := d.inv.ChooseRestockFloor(ctx, q.UID)
	if err != nil {
		d.audit.Record(ctx, model.AuditError, fmt.Sprintf("no placement for product %s: %v", q.UID, err), model.AuditPlacement, q.TransactionID)
		return err
	}
	reply, err := Encode(RestockCommand{Code: CodeRestock, Floor: floor, TransactionID: q.TransactionID})
	if err != nil {
		return err
	}
	d.out.Enqueue(reply)
	d.audit.Record(ctx, model.AuditInfo, fmt.Sprintf("product %s placed at %s", q.UID, floor), model.AuditPlacement, q.TransactionID)
	return nil
}

func (d *Dispatcher) handleRawScan(ctx context.Context, raw []byte) error {
	var scan RawScan
	if err := d.decode(raw, &scan); err != nil {
		return err
	}
	if scan.UID == "" {
		return d.missing("uid")
	}
	d.audit.Record(ctx, model.AuditInfo, fmt.Sprintf("tag %s scanned", scan.UID), model.AuditRawScan, "")
	return nil
}

func (d *Dispatcher) handleCommandOK(ctx context.Context, raw []byte) error {
	var res CommandResult
	if err := d.decode(raw, &res); err != nil {
		return err
	}
	msg := res.Message
	if msg == "" {
		msg = "command completed"
	}
	d.audit.Record(ctx, model.AuditInfo, msg, model.AuditCommandResult, res.TransactionID)
	return nil
}

func (d *Dispatcher) handleHallReading(ctx context.Context, raw []byte) error {
	var hr HallReading
	if err := d.decode(raw, &hr); err != nil {
		return err
	}
	if hr.Hall == nil {
		return d.missing("hall")
	}
	auto := hr.TransactionID == ""
	if d.tel != nil {
		d.tel.RecordHall(ctx, *hr.Hall, hr.TransactionID, auto)
	}
	mode := "manual"
	if auto {
		mode = "auto"
	}
	d.audit.Record(ctx, model.AuditInfo, fmt.Sprintf("hall reading %.2f (%s)", *hr.Hall, mode), model.AuditHallReading, hr.TransactionID)
	return nil
}
