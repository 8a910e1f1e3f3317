package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Version(t *testing.T) {
	id := UUIDv7()()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Errorf("version: got %d, want 7", u.Version())
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		next := gen()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("run_", Default)()
	if !strings.HasPrefix(id, "run_") {
		t.Fatalf("got %q, want run_ prefix", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "run_")); err != nil {
		t.Errorf("suffix is not a UUID: %v", err)
	}
}

