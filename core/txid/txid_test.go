package txid

import "testing"

func TestNewLength(t *testing.T) {
	id := New()
	if len(id) != 8 {
		t.Fatalf("expected 8 hex chars, got %q", id)
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := New()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s after %d draws", id, i)
		}
		seen[id] = struct{}{}
	}
}
