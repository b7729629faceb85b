package robinhash

import (
	"fmt"
	"testing"
)

func TestBuildInsertLookupRoundTrip(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	tb := Build(len(keys))
	for i := range keys {
		tb.InsertNoCheck(keys, uint32(i))
	}

	if got := tb.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}
	for i, k := range keys {
		idx, ok := tb.Lookup(keys, k)
		if !ok {
			t.Fatalf("Lookup(%q) not found", k)
		}
		if int(idx) != i {
			t.Fatalf("Lookup(%q) = %d, want %d", k, idx, i)
		}
	}
	if !tb.CheckRobinHoodInvariant() {
		t.Fatal("Robin-Hood invariant violated")
	}
}

func TestGrowthCorrectness(t *testing.T) {
	const n = 100
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%03d", i)
	}

	tb := Build(4) // deliberately undersized, forces resize events
	before := tb.OfficialSize()
	for i := range keys {
		tb.InsertNoCheck(keys, uint32(i))
	}
	if tb.OfficialSize() <= before {
		t.Fatalf("expected at least one resize, official size stayed at %d", before)
	}

	for i, k := range keys {
		idx, ok := tb.Lookup(keys, k)
		if !ok || int(idx) != i {
			t.Fatalf("Lookup(%q) = (%d, %v), want (%d, true)", k, idx, ok, i)
		}
	}
	if tb.Len() != n {
		t.Fatalf("Len() = %d, want %d", tb.Len(), n)
	}
	if !tb.CheckRobinHoodInvariant() {
		t.Fatal("Robin-Hood invariant violated after growth")
	}
}

func TestLookupMissingKey(t *testing.T) {
	keys := []string{"present"}
	tb := Build(1)
	tb.InsertNoCheck(keys, 0)

	if _, ok := tb.Lookup(keys, "absent"); ok {
		t.Fatal("Lookup found a key that was never inserted")
	}
}

func TestDuplicateInsertPanics(t *testing.T) {
	keys := []string{"dup", "dup"}
	tb := Build(2)
	tb.InsertNoCheck(keys, 0)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected InsertNoCheck to panic on duplicate key")
		}
	}()
	tb.InsertNoCheck(keys, 1)
}

func TestNoZeroMetadataInOccupiedRun(t *testing.T) {
	keys := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"}
	tb := Build(len(keys))
	for i := range keys {
		tb.InsertNoCheck(keys, uint32(i))
	}
	for _, k := range keys {
		idx, ok := tb.Lookup(keys, k)
		if !ok {
			t.Fatalf("lost key %q after inserts", k)
		}
		if keys[idx] != k {
			t.Fatalf("index mismatch for %q", k)
		}
		metadata := tb.metadataSlice()
		entries := tb.entriesSlice()
		for pos := tb.home(tb.hashKey(k)); ; pos++ {
			if metadata[pos] == 0 {
				t.Fatalf("empty slot %d in the run from %q's home slot", pos, k)
			}
			if entries[pos] == idx {
				break
			}
		}
	}
}
