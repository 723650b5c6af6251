// store.go: bounded in-memory map with pluggable eviction.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package l1

import (
	"errors"
	"hash/crc32"
	"sync"
	"time"
)

// ErrFull is returned by Insert when no eviction candidate remains and the
// new entry still would not fit — the caller (coordinator) is responsible
// for falling back to writing directly to L2 and skipping L1.
var ErrFull = errors.New("stratacache/l1: store full, no eviction candidate")

// EvictionSink receives entries evicted under capacity pressure so they can
// be written through to L2. This is a narrow typed interface that avoids a
// back-pointer from L1 to the coordinator: L1 never calls back into the
// coordinator, only into this seam, which the coordinator implements.
type EvictionSink interface {
	// Spill hands a victim entry to the sink. It returns true if the
	// entry was durably handed off; false means the caller should treat
	// the eviction as a loss.
	Spill(e *Entry) bool
}

// Config configures a Store.
type Config struct {
	ShardCount       int
	MaxMemory        int64
	MaxEntries       int
	Strategy         string
	HybridAlpha      float64
	HybridBeta       float64
	LFUAgingInterval time.Duration
}

type shard struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	bytes      int64
	maxBytes   int64
	maxEntries int
	strategy   Strategy
}

// Store is the in-memory L1 store: a concurrent sharded map with
// independently-locked shards, each owning its own eviction state.
type Store struct {
	shards []*shard
	n      uint32

	sink EvictionSink
	// OnEvictionLoss is called (best-effort, may be nil) whenever a
	// victim could not be spilled to L2.
	OnEvictionLoss func(key string)
}

// New builds a Store. sink may be nil (L2 disabled); in that case every
// eviction is a loss.
func New(cfg Config, sink EvictionSink) *Store {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 16
	}
	perShardBytes := cfg.MaxMemory / int64(cfg.ShardCount)
	if perShardBytes <= 0 {
		perShardBytes = 1 << 20
	}
	perShardEntries := cfg.MaxEntries / cfg.ShardCount
	if perShardEntries <= 0 {
		perShardEntries = 1
	}

	st := &Store{
		shards: make([]*shard, cfg.ShardCount),
		n:      uint32(cfg.ShardCount),
		sink:   sink,
	}
	for i := range st.shards {
		st.shards[i] = &shard{
			entries:    make(map[string]*Entry),
			maxBytes:   perShardBytes,
			maxEntries: perShardEntries,
			strategy:   NewStrategy(cfg.Strategy, cfg.HybridAlpha, cfg.HybridBeta),
		}
	}
	return st
}

// shardFor routes a key to its shard using a dual hash: a fast
// multiplicative hash for short keys, CRC32 for longer ones.
func (s *Store) shardFor(key string) *shard {
	var h uint32
	if len(key) <= 8 {
		for i := 0; i < len(key); i++ {
			h = h*31 + uint32(key[i])
		}
	} else {
		h = crc32.ChecksumIEEE([]byte(key))
	}
	return s.shards[h%s.n]
}

// Get looks up key, applying the TTL check: expired entries are removed as
// a side effect and reported as a miss. now is the caller's reference
// clock (injected for testability).
func (s *Store) Get(key string, now int64) (*Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return nil, false
	}
	if e.Expiry != 0 && e.Expiry <= now {
		sh.removeLocked(e)
		return nil, false
	}
	sh.strategy.OnHit(e)
	return e, true
}

// Contains reports presence without affecting eviction order, still honoring
// TTL (a side-effecting removal on expiry, same as Get).
func (s *Store) Contains(key string, now int64) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return false
	}
	if e.Expiry != 0 && e.Expiry <= now {
		sh.removeLocked(e)
		return false
	}
	return true
}

// Insert admits e, evicting victims one-by-one (spilling each to the
// EvictionSink) until e fits under both the shard's byte and entry caps, or
// returns ErrFull if no candidate remains.
func (s *Store) Insert(e *Entry) error {
	sh := s.shardFor(e.Key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.entries[e.Key]; ok {
		sh.removeLocked(existing)
	}

	for (sh.bytes+int64(e.Size) > sh.maxBytes || len(sh.entries)+1 > sh.maxEntries) && len(sh.entries) > 0 {
		victimKey := sh.strategy.ChooseVictim(sh.entries)
		if victimKey == "" {
			break
		}
		victim := sh.entries[victimKey]
		sh.removeLocked(victim)

		spilled := false
		if s.sink != nil {
			spilled = s.sink.Spill(victim)
		}
		if !spilled && s.OnEvictionLoss != nil {
			s.OnEvictionLoss(victim.Key)
		}
	}

	if sh.bytes+int64(e.Size) > sh.maxBytes || len(sh.entries)+1 > sh.maxEntries {
		return ErrFull
	}

	sh.entries[e.Key] = e
	sh.bytes += int64(e.Size)
	sh.strategy.OnInsert(e)
	return nil
}

// Remove deletes key unconditionally, reporting whether it was present.
func (s *Store) Remove(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return false
	}
	sh.removeLocked(e)
	return true
}

// removeLocked deletes e from its shard's bookkeeping. Caller must hold
// sh.mu.
func (sh *shard) removeLocked(e *Entry) {
	delete(sh.entries, e.Key)
	sh.bytes -= int64(e.Size)
	sh.strategy.OnRemove(e)
}

// Keys returns up to limit resident keys across all shards (order
// unspecified). limit <= 0 means unbounded.
func (s *Store) Keys(limit int) []string {
	var out []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k := range sh.entries {
			out = append(out, k)
			if limit > 0 && len(out) >= limit {
				sh.mu.Unlock()
				return out
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// AccountedBytes sums the bytes accounted across all shards.
func (s *Store) AccountedBytes() int64 {
	var total int64
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += sh.bytes
		sh.mu.Unlock()
	}
	return total
}

// EntryCount sums the live entry count across all shards.
func (s *Store) EntryCount() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

// Age runs each shard's strategy aging hook (LFU/Hybrid counter halving).
// cmd/stratacache-server calls it every Config.LFUAgingInterval.
func (s *Store) Age() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.strategy.Age(sh.entries)
		sh.mu.Unlock()
	}
}
