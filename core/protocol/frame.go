// Package protocol implements the frame schema spoken over the hardware
// socket and the dispatcher that routes inbound frames by message code.
//
// A frame is one newline-delimited JSON object tagged with an integer
// "code" field that selects its schema. There is no version field; the
// schema evolves by adding new codes and fields only.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vlm-project/vlmcore/core/model"
)

// Message codes. Direction is relative to this service.
const (
	CodeDispense       = 100 // out: dispense run over one or more floors
	CodeRestock        = 101 // out: present a floor for restocking
	CodeAuthReply      = 110 // out: reply to an authentication request
	CodeAuthRequest    = 120 // in: operator authentication request
	CodeFloorSelection = 121 // in: floor selected on the device numpad
	CodeTagScan        = 122 // in: item tag scan result for dispense/restock
	CodePlacementQuery = 123 // in: request for an auto-restock placement
	CodeRawScan        = 130 // in: raw tag scan, no action
	CodeCommandOK      = 200 // in: device-reported command success
	CodeConfigPush     = 501 // out: motion/sensor configuration record
	CodeMotorCommand   = 600 // out: manual motor command
	CodeSensorCommand  = 601 // out: manual sensor command
	CodeCalibration    = 602 // out: manual calibration command
	CodeHallReading    = 603 // in: hall-sensor reading
)

// Frame decode errors. Both cause the frame to be dropped without stopping
// the dispatch loop; the hardware resends on its own cadence.
var (
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	ErrMissingField   = errors.New("protocol: missing required field")
)

// Tag-scan operations.
const (
	ScanRestock  = "R"
	ScanDispense = "D"
)

// AuthRequest (120) asks whether the operator may start a session.
type AuthRequest struct {
	Operator string `json:"operator"`
}

// AuthReply (110) answers an AuthRequest with a fresh transaction id.
type AuthReply struct {
	Code          int    `json:"code"`
	TransactionID string `json:"transaction_id"`
	Authenticated bool   `json:"authenticated"`
}

// FloorSelection (121) reports the floor chosen on the device numpad.
type FloorSelection struct {
	TransactionID string `json:"transaction_id"`
	Floor         string `json:"floor_selected"`
	Operator      string `json:"operator"`
}

// TagScan (122) carries the tags read during a dispense or restock pass.
// Key casing follows the controller firmware, which mixes cases per field.
type TagScan struct {
	TransactionID string   `json:"transaction_id"`
	UIDs          []string `json:"UIDs"`
	Operation     string   `json:"operation"`
	Floors        []string `json:"Floors"`
	Operator      string   `json:"operator"`
}

// PlacementQuery (123) asks where a scanned product should be restocked.
type PlacementQuery struct {
	UID           string `json:"uid"`
	Operator      string `json:"operator"`
	TransactionID string `json:"transaction_id"`
}

// RawScan (130) is a tag read with no action attached.
type RawScan struct {
	UID string `json:"uid"`
}

// CommandResult (200) reports device-side success for an earlier command.
type CommandResult struct {
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
}

// HallReading (603) is one hall-sensor sample. Manual readings carry the
// transaction id of the command that triggered them; automatic sweeps omit
// it.
type HallReading struct {
	Hall          *float64 `json:"hall"`
	TransactionID string   `json:"transaction_id"`
}

// DispenseCommand (100) drives one dispense run. Floors are visited in
// order; OrdersPerFloor[i] items are presented at Floors[i].
type DispenseCommand struct {
	Code           int      `json:"code"`
	Iter           int      `json:"Iter"`
	Floors         []string `json:"Floors"`
	OrdersPerFloor []int    `json:"OrdersPerFloor"`
	TransactionID  string   `json:"transaction_id"`
}

// RestockCommand (101) presents a single floor for restocking.
type RestockCommand struct {
	Code          int    `json:"code"`
	Floor         string `json:"Floor"`
	TransactionID string `json:"transaction_id"`
}

// ConfigPush (501) ships the full motion/sensor configuration record.
type ConfigPush struct {
	Code   int             `json:"code"`
	Config model.VLMConfig `json:"config"`
}

// ManualCommand (600/601/602) is an operator-issued motor, sensor or
// calibration command. The device acknowledges via 200 or 603.
type ManualCommand struct {
	Code          int    `json:"code"`
	Motion        string `json:"motion,omitempty"`
	TransactionID string `json:"transaction_id"`
}

// Encode marshals a frame and appends the trailing newline delimiter.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return append(data, '\n'), nil
}

// envelope extracts only the message code; the concrete schema is decoded
// afterwards by the dispatcher.
type envelope struct {
	Code *int `json:"code"`
}

func decodeCode(raw []byte) (int, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Code == nil {
		return 0, fmt.Errorf("%w: code", ErrMissingField)
	}
	return *env.Code, nil
}
