package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

// The controller firmware parses command frames with mixed-case keys
// (Iter/Floors/OrdersPerFloor/Floor) while envelope fields stay lowercase.
// Encoding must produce exactly those keys or the device ignores the frame.
func TestCommandFrameKeyCasing(t *testing.T) {
	frame, err := Encode(DispenseCommand{
		Code:           CodeDispense,
		Iter:           2,
		Floors:         []string{"F01", "F03"},
		OrdersPerFloor: []int{1, 2},
		TransactionID:  "ab12cd34",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, key := range []string{`"code"`, `"Iter"`, `"Floors"`, `"OrdersPerFloor"`, `"transaction_id"`} {
		if !strings.Contains(string(frame), key) {
			t.Errorf("dispense frame missing key %s: %s", key, frame)
		}
	}

	frame, err = Encode(RestockCommand{Code: CodeRestock, Floor: "B02", TransactionID: "ab12cd34"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(frame), `"Floor":"B02"`) {
		t.Errorf("restock frame missing Floor key: %s", frame)
	}
}

func TestTagScanKeyCasing(t *testing.T) {
	raw := `{"code":122,"transaction_id":"ab12cd34","UIDs":["t1"],"operation":"R","Floors":["F03"],"operator":"4711"}`
	var scan TagScan
	if err := json.Unmarshal([]byte(raw), &scan); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(scan.UIDs) != 1 || scan.UIDs[0] != "t1" {
		t.Fatalf("UIDs not decoded: %+v", scan)
	}
	if len(scan.Floors) != 1 || scan.Floors[0] != "F03" {
		t.Fatalf("Floors not decoded: %+v", scan)
	}
}

func TestEncodeAppendsNewline(t *testing.T) {
	frame, err := Encode(AuthReply{Code: CodeAuthReply, TransactionID: "ab12cd34", Authenticated: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame[len(frame)-1] != '\n' {
		t.Fatal("frame missing newline delimiter")
	}
}
