package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/segmentio/ksuid"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	prev := New()
	if _, err := ulid.Parse(prev); err != nil {
		t.Fatalf("New returned invalid ulid %q: %v", prev, err)
	}
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("expected monotonic ids, got %q after %q", next, prev)
		}
		prev = next
	}
}

func TestNewRequestID(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	if a == b {
		t.Fatalf("expected distinct request ids")
	}
	if _, err := ksuid.Parse(a); err != nil {
		t.Fatalf("invalid ksuid %q: %v", a, err)
	}
}
