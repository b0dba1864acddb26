package client

import (
	"fmt"
	"testing"
	"time"

	"duochat/internal/protocol"
)

func msgAt(id, sender, content string, ts time.Time) protocol.Message {
	return protocol.Message{
		ID:        id,
		Sender:    sender,
		Content:   content,
		Timestamp: protocol.FlexTime{Time: ts},
	}
}

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestApplyIdempotent(t *testing.T) {
	v := NewView(50)
	m := msgAt("m1", "ann", "hello", t0)

	v.Apply(m)
	once := v.Messages()
	v.Apply(m)
	twice := v.Messages()

	if len(once) != 1 || len(twice) != 1 {
		t.Fatalf("len once=%d twice=%d, want 1", len(once), len(twice))
	}
	if once[0].ID != twice[0].ID {
		t.Fatal("derived sequence changed after duplicate apply")
	}
	if v.Len() != 1 {
		t.Fatalf("mapping len = %d, want 1", v.Len())
	}
}

func TestDerivedOrderByTimestamp(t *testing.T) {
	v := NewView(50)
	// Live events arrive out of timestamp order (network jitter).
	v.Apply(msgAt("m2", "bob", "second", t0.Add(2*time.Second)))
	v.Apply(msgAt("m1", "ann", "first", t0.Add(1*time.Second)))
	v.Apply(msgAt("m3", "ann", "third", t0.Add(3*time.Second)))

	got := v.Messages()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp.Time) {
			t.Fatalf("order violated at %d: %v after %v", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}
	if got[0].ID != "m1" || got[1].ID != "m2" || got[2].ID != "m3" {
		t.Fatalf("order = %s,%s,%s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestEqualTimestampsKeepInsertionOrder(t *testing.T) {
	v := NewView(50)
	v.Apply(msgAt("a", "ann", "first inserted", t0))
	v.Apply(msgAt("b", "bob", "second inserted", t0))
	// Re-applying the first must not move it behind the second.
	v.Apply(msgAt("a", "ann", "first inserted (edited)", t0))

	got := v.Messages()
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("tie-break order = %s,%s, want a,b", got[0].ID, got[1].ID)
	}
	if got[0].Content != "first inserted (edited)" {
		t.Fatal("re-apply did not update content")
	}
}

func TestBoundedWorkingSet(t *testing.T) {
	const viewCap = 20
	v := NewView(viewCap)
	for i := 0; i < 3*viewCap; i++ {
		v.Apply(msgAt(fmt.Sprintf("m%d", i), "ann", "x", t0.Add(time.Duration(i)*time.Second)))
	}

	got := v.Messages()
	if len(got) != viewCap {
		t.Fatalf("len = %d, want %d", len(got), viewCap)
	}
	// Must be the cap most recent by timestamp.
	if got[0].ID != fmt.Sprintf("m%d", 2*viewCap) {
		t.Fatalf("first = %s, want m%d", got[0].ID, 2*viewCap)
	}
	if got[viewCap-1].ID != fmt.Sprintf("m%d", 3*viewCap-1) {
		t.Fatalf("last = %s, want m%d", got[viewCap-1].ID, 3*viewCap-1)
	}
}

func TestMergeCommutative(t *testing.T) {
	history := []protocol.Message{
		msgAt("h1", "ann", "old 1", t0),
		msgAt("h2", "bob", "old 2", t0.Add(time.Second)),
	}
	live := msgAt("l1", "ann", "new", t0.Add(2*time.Second))

	a := NewView(50)
	a.ApplyHistory(history)
	a.Apply(live)

	b := NewView(50)
	b.Apply(live)
	b.ApplyHistory(history)

	am, bm := a.Messages(), b.Messages()
	if len(am) != len(bm) {
		t.Fatalf("len mismatch: %d vs %d", len(am), len(bm))
	}
	for i := range am {
		if am[i].ID != bm[i].ID {
			t.Fatalf("order differs at %d: %s vs %s", i, am[i].ID, bm[i].ID)
		}
	}
}

func TestHistoryOverlapNotDuplicated(t *testing.T) {
	v := NewView(50)
	live := msgAt("m1", "ann", "hi", t0)
	v.Apply(live)
	v.ApplyHistory([]protocol.Message{live, msgAt("m0", "bob", "earlier", t0.Add(-time.Second))})

	got := v.Messages()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestEmptyMessagesFilteredAtDeriveOnly(t *testing.T) {
	v := NewView(50)
	v.Apply(msgAt("m1", "ann", "   ", t0))
	v.Apply(msgAt("m2", "bob", "visible", t0.Add(time.Second)))
	attached := msgAt("m3", "ann", "", t0.Add(2*time.Second))
	attached.FileURL = "/u/a.png"
	v.Apply(attached)

	got := v.Messages()
	if len(got) != 2 {
		t.Fatalf("derived len = %d, want 2", len(got))
	}
	if got[0].ID != "m2" || got[1].ID != "m3" {
		t.Fatalf("derived = %s,%s", got[0].ID, got[1].ID)
	}
	// The filtered record stays in the mapping.
	if v.Len() != 3 {
		t.Fatalf("mapping len = %d, want 3", v.Len())
	}
}
