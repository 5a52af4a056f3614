package memory

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

func TestAddListRemove(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.Add(ctx, "u1", `{"endpoint":"a"}`); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Add(ctx, "u1", `{"endpoint":"b"}`); err != nil {
		t.Fatalf("add: %v", err)
	}

	subs, err := c.List(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(subs, []string{`{"endpoint":"a"}`, `{"endpoint":"b"}`}) {
		t.Errorf("subs = %v", subs)
	}

	if err := c.Remove(ctx, "u1", `{"endpoint":"a"}`); err != nil {
		t.Fatalf("remove: %v", err)
	}
	subs, _ = c.List(ctx, "u1")
	if !reflect.DeepEqual(subs, []string{`{"endpoint":"b"}`}) {
		t.Errorf("subs after remove = %v", subs)
	}
}

func TestAddDeduplicates(t *testing.T) {
	c := New()
	ctx := context.Background()
	c.Add(ctx, "u1", "sub")
	c.Add(ctx, "u1", "sub")
	subs, _ := c.List(ctx, "u1")
	if len(subs) != 1 {
		t.Errorf("duplicate add produced %d entries", len(subs))
	}
}

func TestAddCapsPerUser(t *testing.T) {
	c := New()
	ctx := context.Background()
	for i := 0; i < maxSubsPerUser+5; i++ {
		c.Add(ctx, "u1", fmt.Sprintf("sub-%02d", i))
	}
	subs, _ := c.List(ctx, "u1")
	if len(subs) != maxSubsPerUser {
		t.Fatalf("kept %d subs, want %d", len(subs), maxSubsPerUser)
	}
	// Oldest entries are evicted first.
	if subs[0] != "sub-05" {
		t.Errorf("oldest kept = %q, want sub-05", subs[0])
	}
}

func TestListReturnsCopy(t *testing.T) {
	c := New()
	ctx := context.Background()
	c.Add(ctx, "u1", "sub")
	subs, _ := c.List(ctx, "u1")
	subs[0] = "mutated"
	again, _ := c.List(ctx, "u1")
	if again[0] != "sub" {
		t.Error("List must return a copy, not the backing slice")
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	c := New()
	if err := c.Remove(context.Background(), "nobody", "sub"); err != nil {
		t.Errorf("remove unknown: %v", err)
	}
}
