// entry.go: in-memory entry representation for the L1 store.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package l1

import "container/list"

// entryOverhead is the fixed per-entry accounting overhead added to
// len(key)+len(value) when computing Size.
const entryOverhead = 64

// Entry is a resident L1 entry: key, value, flags, cas, expiry, size, and
// the bookkeeping an eviction strategy needs (insertion rank, access stat).
// Only the fields a given strategy actually uses are populated; the rest
// stay zero — a small per-strategy state block on each shard rather than a
// field for every possible policy living on every entry by inheritance.
type Entry struct {
	Key       string
	Value     []byte
	Flags     uint32
	CAS       uint64
	Expiry    int64 // absolute deadline, or 0 = never
	CreatedAt int64 // commit timestamp, used as the flush_all epoch ordering point
	Size      int

	insertSeq uint64
	accessSeq uint64
	freq      uint64
	llElem    *list.Element
}

// NewEntry builds an Entry with Size computed from key+value+overhead.
func NewEntry(key string, value []byte, flags uint32, cas uint64, expiry, createdAt int64) *Entry {
	return &Entry{
		Key:       key,
		Value:     value,
		Flags:     flags,
		CAS:       cas,
		Expiry:    expiry,
		CreatedAt: createdAt,
		Size:      len(key) + len(value) + entryOverhead,
	}
}
