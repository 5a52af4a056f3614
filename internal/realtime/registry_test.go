package realtime

import (
	"reflect"
	"testing"

	"github.com/dmchat/internal/apperr"
)

func TestRegistryReferenceCounting(t *testing.T) {
	r := NewRegistry()

	first, err := r.Register("c1", "u1")
	if err != nil {
		t.Fatalf("register c1: %v", err)
	}
	if !first {
		t.Error("first connection should report 0 -> 1")
	}

	first, err = r.Register("c2", "u1")
	if err != nil {
		t.Fatalf("register c2: %v", err)
	}
	if first {
		t.Error("second connection must not report 0 -> 1")
	}
	if !r.IsOnline("u1") {
		t.Error("u1 should be online with two connections")
	}

	if _, last, ok := r.Unregister("c1"); !ok || last {
		t.Errorf("unregister c1: ok=%v last=%v, want ok=true last=false", ok, last)
	}
	if !r.IsOnline("u1") {
		t.Error("u1 should stay online after closing one of two devices")
	}

	userID, last, ok := r.Unregister("c2")
	if !ok || !last || userID != "u1" {
		t.Errorf("unregister c2: user=%q last=%v ok=%v, want u1/true/true", userID, last, ok)
	}
	if r.IsOnline("u1") {
		t.Error("u1 should be offline after last connection closed")
	}
}

func TestRegistryRegisterIdempotentSamePair(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("c1", "u1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	first, err := r.Register("c1", "u1")
	if err != nil {
		t.Fatalf("repeat register: %v", err)
	}
	if first {
		t.Error("repeated registration must not report 0 -> 1")
	}
	if got := len(r.ConnectionsFor("u1")); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
}

func TestRegistryRebindConflict(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("c1", "u1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := r.Register("c1", "u2")
	if err == nil {
		t.Fatal("rebinding a connection to another user must fail")
	}
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("kind = %v, want conflict", apperr.KindOf(err))
	}
	if !r.IsOnline("u1") || r.IsOnline("u2") {
		t.Error("failed rebind must not change presence")
	}
}

func TestRegistryUnregisterUnknown(t *testing.T) {
	r := NewRegistry()
	if _, _, ok := r.Unregister("nope"); ok {
		t.Error("unknown connection must be a no-op")
	}
	// Double unregister of a real connection.
	r.Register("c1", "u1")
	r.Unregister("c1")
	if _, _, ok := r.Unregister("c1"); ok {
		t.Error("second unregister must be a no-op")
	}
}

func TestRegistryOnlineSetSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("c3", "uC")
	r.Register("c1", "uA")
	r.Register("c2", "uB")
	r.Register("c4", "uA")

	got := r.Online()
	want := []string{"uA", "uB", "uC"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Online() = %v, want %v", got, want)
	}
}
