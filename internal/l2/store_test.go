// store_test.go: unit tests for the L2 persistent KV adapter.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package l2

import (
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/stratacache/stratacache/internal/compressor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{DataDir: dir, MaxDiskSize: 1 << 30}, compressor.New(64, true))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("foo", []byte("bar"), 7, 1, 100, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, ok, err := s.Get("foo", 200, nil, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if string(rec.Value) != "bar" || rec.Flags != 7 || rec.CAS != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestGetMissForUnknownKey(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get("nope", 100, nil, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestGetExpiredIsRemovedAndMiss(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("foo", []byte("bar"), 0, 1, 100, 150); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, ok, err := s.Get("foo", 150, nil, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected miss at deadline")
	}
	if s.Contains("foo", 200) {
		t.Fatal("expected expired key to be gone")
	}
}

func TestDiskUsageTracksStoredSize(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("a", []byte("hello"), 0, 1, 0, 0); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := s.Put("b", []byte("world"), 0, 1, 0, 0); err != nil {
		t.Fatalf("put b: %v", err)
	}
	before := s.DiskUsage()
	if before <= 0 {
		t.Fatalf("expected positive disk usage, got %d", before)
	}

	if err := s.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	after := s.DiskUsage()
	if after >= before {
		t.Fatalf("expected disk usage to drop after delete: before=%d after=%d", before, after)
	}
}

func TestPutOverwriteAdjustsDiskUsageByDelta(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("k", make([]byte, 10), 0, 1, 0, 0); err != nil {
		t.Fatalf("put small: %v", err)
	}
	usageSmall := s.DiskUsage()

	if err := s.Put("k", make([]byte, 1000), 0, 2, 0, 0); err != nil {
		t.Fatalf("put large: %v", err)
	}
	usageLarge := s.DiskUsage()
	if usageLarge <= usageSmall {
		t.Fatalf("expected disk usage to grow on overwrite with larger value: small=%d large=%d", usageSmall, usageLarge)
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected exactly one live key after overwrite, got %v", keys)
	}
}

func TestOrphanDataRecordIsCleanedUpOnGet(t *testing.T) {
	s := newTestStore(t)
	// Simulate a crash between the two writes of an atomic batch by
	// writing only the data half directly, with no matching metadata.
	writeOrphanData(t, s, "orphan")

	var orphaned string
	_, ok, err := s.Get("orphan", 0, func(k string) { orphaned = k }, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected miss for orphaned data record")
	}
	if orphaned != "orphan" {
		t.Fatalf("expected onOrphan callback for %q, got %q", "orphan", orphaned)
	}
}

func writeOrphanData(t *testing.T, s *Store, key string) {
	t.Helper()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dataKey(key), s.comp.Encode([]byte("stray")))
	})
	if err != nil {
		t.Fatalf("write orphan data record: %v", err)
	}
}

func TestDeleteNonExistentKeyIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete("nope"); err != nil {
		t.Fatalf("delete nonexistent: %v", err)
	}
}

func TestCompactOldestFirstEvictsByCreatedAtUntilUnderWatermark(t *testing.T) {
	s := newTestStore(t)
	for i, k := range []string{"a", "b", "c", "d"} {
		if err := s.Put(k, make([]byte, 100), 0, 1, uint64(i), 0); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	total := s.DiskUsage()
	watermark := total / 2

	evicted, err := s.CompactOldestFirst(watermark)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if evicted == 0 {
		t.Fatal("expected at least one eviction")
	}
	if s.DiskUsage() > watermark {
		t.Fatalf("disk usage %d still exceeds watermark %d", s.DiskUsage(), watermark)
	}
	// "a" was oldest (created_at=0); it must be gone first.
	if s.Contains("a", 0) {
		t.Fatal("expected oldest entry to be evicted first")
	}
}

func TestCompactOldestFirstNoopWhenUnderWatermark(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("a", []byte("v"), 0, 1, 0, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	evicted, err := s.CompactOldestFirst(1 << 30)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if evicted != 0 {
		t.Fatalf("expected no eviction under watermark, got %d", evicted)
	}
}
