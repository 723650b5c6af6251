// ttlindex_test.go: unit tests for the TTL index.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package ttlindex

import "testing"

func TestCheckUnknownForUnregisteredKey(t *testing.T) {
	idx := New()
	if got := idx.Check("missing", 100); got != Unknown {
		t.Fatalf("got %v, want Unknown", got)
	}
}

func TestCheckNeverExpires(t *testing.T) {
	idx := New()
	idx.Set("k", Never)
	// Never (0) is never stored — Set treats it as a removal, so the key
	// has no TTL opinion at all, matching the "0 => never" wire convention.
	if got := idx.Check("k", 1_000_000); got != Unknown {
		t.Fatalf("got %v, want Unknown for never-expiring key", got)
	}
}

func TestCheckExpiredAfterDeadline(t *testing.T) {
	idx := New()
	idx.Set("k", 100)
	if got := idx.Check("k", 99); got != Alive {
		t.Fatalf("got %v, want Alive before deadline", got)
	}
	if got := idx.Check("k", 100); got != Expired {
		t.Fatalf("got %v, want Expired at deadline", got)
	}
	if got := idx.Check("k", 101); got != Expired {
		t.Fatalf("got %v, want Expired after deadline", got)
	}
}

func TestSetOverwritesPreviousDeadline(t *testing.T) {
	idx := New()
	idx.Set("k", 100)
	idx.Set("k", 200)
	if got := idx.Check("k", 150); got != Alive {
		t.Fatalf("got %v, want Alive under the new deadline", got)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected exactly one live key, got %d", idx.Len())
	}
}

func TestRemoveDeregisters(t *testing.T) {
	idx := New()
	idx.Set("k", 100)
	idx.Remove("k")
	if got := idx.Check("k", 200); got != Unknown {
		t.Fatalf("got %v, want Unknown after Remove", got)
	}
}

func TestSweepReportsOnlyExpiredAndRespectsBudget(t *testing.T) {
	idx := New()
	for i, k := range []string{"a", "b", "c", "d"} {
		idx.Set(k, int64(10+i))
	}

	var reported []string
	n := idx.Sweep(1000, 2, func(key string) { reported = append(reported, key) })
	if n != 2 {
		t.Fatalf("expected sweep to report 2 entries under budget, got %d", n)
	}
	if reported[0] != "a" || reported[1] != "b" {
		t.Fatalf("expected oldest-deadline-first order, got %v", reported)
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 keys remaining, got %d", idx.Len())
	}
}

func TestSweepIgnoresStaleTombstones(t *testing.T) {
	idx := New()
	idx.Set("k", 10)
	idx.Set("k", 20) // tombstones the deadline=10 heap slot
	idx.Set("k", 5)  // tombstones the deadline=20 slot too

	var reported []string
	idx.Sweep(1000, 10, func(key string) { reported = append(reported, key) })
	if len(reported) != 1 || reported[0] != "k" {
		t.Fatalf("expected exactly one report for k, got %v", reported)
	}
}

func TestSweepStopsAtFutureDeadlines(t *testing.T) {
	idx := New()
	idx.Set("past", 10)
	idx.Set("future", 1_000_000)

	var reported []string
	idx.Sweep(50, 100, func(key string) { reported = append(reported, key) })
	if len(reported) != 1 || reported[0] != "past" {
		t.Fatalf("expected only 'past' to be reported, got %v", reported)
	}
	if idx.Check("future", 50) != Alive {
		t.Fatal("expected 'future' to remain registered and alive")
	}
}
