package model

import (
	"fmt"
	"strings"
	"testing"
)

func TestStoreKey_NumericID(t *testing.T) {
	id := int64(42)
	got := StoreKey(StoreConfig{ID: &id, BaseURL: "https://www.acme.com"})
	if got != "42" {
		t.Errorf("StoreKey: got %q, want %q", got, "42")
	}
}

func TestStoreKey_HashIsStable(t *testing.T) {
	cfg := StoreConfig{BaseURL: "https://www.acme.com"}
	a, b := StoreKey(cfg), StoreKey(cfg)
	if a != b {
		t.Fatalf("StoreKey not deterministic: %q vs %q", a, b)
	}
	// sha256("https://www.acme.com") truncated; pinned so file names never drift.
	if !strings.HasPrefix(a, "u") || len(a) != 17 {
		t.Errorf("StoreKey: got %q, want u + 16 hex chars", a)
	}
	other := StoreKey(StoreConfig{BaseURL: "https://www.other.com"})
	if other == a {
		t.Errorf("distinct base URLs share key %q", a)
	}
}

func TestCredentials_StringRedactsPassword(t *testing.T) {
	c := Credentials{Identifier: "me@example.com", Password: "hunter2"}
	if s := fmt.Sprintf("%v", c); strings.Contains(s, "hunter2") {
		t.Errorf("password leaked: %s", s)
	}
}

func TestStorageState_Empty(t *testing.T) {
	var nilState *StorageState
	if !nilState.Empty() {
		t.Error("nil state should be empty")
	}
	s := &StorageState{Cookies: []Cookie{{Name: "sid", Value: "x"}}}
	if s.Empty() {
		t.Error("state with cookies should not be empty")
	}
}
