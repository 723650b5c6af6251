// store.go: persistent KV adapter — data + metadata records, disk-usage
// accounting.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package l2

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/stratacache/stratacache/internal/compressor"
)

// Config configures the L2 store.
type Config struct {
	DataDir        string
	ClearOnStartup bool
	MaxDiskSize    int64
	BlockCacheSize int64
}

// Record is a decoded, decompressed L2 read result.
type Record struct {
	Value  []byte
	Flags  uint32
	CAS    uint64
	Expiry uint64
}

// Store is a thin coordinator over the persistent KV. It never reaches
// back into the cache coordinator: callers drive it directly, and it
// reports state (disk usage, compaction candidates) for the caller to act
// on — no back-pointers.
type Store struct {
	db   *badger.DB
	comp *compressor.Compressor
	cfg  Config

	diskUsage atomic.Int64
	// accessCounter coalesces last_access writes: only every 16th read
	// opportunistically updates last_access: a write on every read would
	// double L2 I/O.
	accessCounter atomic.Uint64
}

// Open opens (or creates) the persistent KV at cfg.DataDir, honoring
// ClearOnStartup, and reconciles the disk-usage counter by streaming M/
// metadata.
func Open(cfg Config, comp *compressor.Compressor) (*Store, error) {
	if cfg.ClearOnStartup {
		if err := os.RemoveAll(cfg.DataDir); err != nil {
			return nil, fmt.Errorf("stratacache/l2: clear_on_startup: %w", err)
		}
	}

	opts := badger.DefaultOptions(cfg.DataDir)
	opts = opts.WithLoggingLevel(badger.WARNING)
	if cfg.BlockCacheSize > 0 {
		opts = opts.WithBlockCacheSize(cfg.BlockCacheSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("stratacache/l2: open: %w", err)
	}

	s := &Store{db: db, comp: comp, cfg: cfg}
	if err := s.reconcileDiskUsage(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DiskUsage returns the sum of stored_size across all live metadata records.
func (s *Store) DiskUsage() int64 { return s.diskUsage.Load() }

func (s *Store) reconcileDiskUsage() error {
	var total int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(metaPrefix)); it.ValidForPrefix([]byte(metaPrefix)); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				continue
			}
			m, err := decodeMeta(raw)
			if err != nil {
				continue
			}
			total += int64(m.StoredSize)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stratacache/l2: reconcile disk usage: %w", err)
	}
	s.diskUsage.Store(total)
	return nil
}

// Put writes value under key, compressing it and building its metadata
// record, committing both in a single atomic transaction.
func (s *Store) Put(key string, value []byte, flags uint32, cas, createdAt uint64, expiry uint64) error {
	framed := s.comp.Encode(value)

	meta := Meta{
		Flags:      flags,
		CAS:        cas,
		CreatedAt:  createdAt,
		LastAccess: createdAt,
		Expiry:     expiry,
		RawSize:    uint32(len(value)),
		StoredSize: uint32(len(framed)),
	}

	var previousStoredSize int64
	err := s.db.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get(metaKey(key)); err == nil {
			if raw, err := item.ValueCopy(nil); err == nil {
				if old, err := decodeMeta(raw); err == nil {
					previousStoredSize = int64(old.StoredSize)
				}
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set(dataKey(key), framed); err != nil {
			return err
		}
		return txn.Set(metaKey(key), meta.encode())
	})
	if err != nil {
		return fmt.Errorf("stratacache/l2: put: %w", err)
	}

	s.diskUsage.Add(int64(meta.StoredSize) - previousStoredSize)
	return nil
}

// Get fetches key, detecting orphans (a metadata record with no matching
// data record, or vice versa) and decompressing the stored value. now is
// the caller's reference clock for the expiry check.
//
// onOrphan, if non-nil, is invoked with the orphaned key so the caller can
// emit an OrphanCleaned event; onCorrupt is invoked on decompression
// failure before the corrupt record is deleted.
func (s *Store) Get(key string, now uint64, onOrphan func(string), onCorrupt func(string, error)) (Record, bool, error) {
	var metaRaw, dataRaw []byte
	var metaErr, dataErr error

	err := s.db.View(func(txn *badger.Txn) error {
		if item, err := txn.Get(metaKey(key)); err == nil {
			metaRaw, metaErr = item.ValueCopy(nil)
		} else {
			metaErr = err
		}
		if item, err := txn.Get(dataKey(key)); err == nil {
			dataRaw, dataErr = item.ValueCopy(nil)
		} else {
			dataErr = err
		}
		return nil
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("stratacache/l2: get: %w", err)
	}

	metaMissing := metaErr == badger.ErrKeyNotFound
	dataMissing := dataErr == badger.ErrKeyNotFound

	if metaMissing && dataMissing {
		return Record{}, false, nil
	}
	if metaMissing != dataMissing {
		// Orphan: one record exists without its twin.
		if onOrphan != nil {
			onOrphan(key)
		}
		_ = s.deleteBoth(key)
		return Record{}, false, nil
	}

	m, err := decodeMeta(metaRaw)
	if err != nil {
		if onCorrupt != nil {
			onCorrupt(key, err)
		}
		_ = s.deleteBoth(key)
		return Record{}, false, nil
	}
	if m.Expiry != 0 && m.Expiry <= now {
		_ = s.Delete(key)
		return Record{}, false, nil
	}

	value, err := s.comp.Decode(dataRaw)
	if err != nil {
		if onCorrupt != nil {
			onCorrupt(key, err)
		}
		_ = s.deleteBoth(key)
		return Record{}, false, nil
	}

	s.maybeCoalesceAccess(key, m, now)

	return Record{Value: value, Flags: m.Flags, CAS: m.CAS, Expiry: m.Expiry}, true, nil
}

// maybeCoalesceAccess opportunistically refreshes last_access every 16th
// read.
func (s *Store) maybeCoalesceAccess(key string, m Meta, now uint64) {
	if s.accessCounter.Add(1)%16 != 0 {
		return
	}
	m.LastAccess = now
	_ = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(key), m.encode())
	})
}

// Delete removes both records for key in one atomic transaction and
// decrements disk usage by the previously stored size. Deleting an absent
// key is a no-op and returns nil.
func (s *Store) Delete(key string) error {
	var storedSize int64
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err == nil {
			if m, err := decodeMeta(raw); err == nil {
				storedSize = int64(m.StoredSize)
			}
		}
		if err := txn.Delete(metaKey(key)); err != nil {
			return err
		}
		return txn.Delete(dataKey(key))
	})
	if err != nil {
		return fmt.Errorf("stratacache/l2: delete: %w", err)
	}
	s.diskUsage.Add(-storedSize)
	return nil
}

// deleteBoth force-removes both records without adjusting disk usage based
// on a trusted metadata read (used for orphan/corruption cleanup where the
// metadata itself may be the corrupt half).
func (s *Store) deleteBoth(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		_ = txn.Delete(metaKey(key))
		_ = txn.Delete(dataKey(key))
		return nil
	})
}

// Contains reports whether key has a live (non-expired) metadata record,
// without reading or decompressing the value.
func (s *Store) Contains(key string, now uint64) bool {
	found := false
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(key))
		if err != nil {
			return nil
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil
		}
		m, err := decodeMeta(raw)
		if err != nil {
			return nil
		}
		found = m.Expiry == 0 || m.Expiry > now
		return nil
	})
	return found
}

// Keys returns every user key that has a metadata record, via a
// prefix-scan of the M/ keyspace. Expired keys are not filtered out.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(metaPrefix)); it.ValidForPrefix([]byte(metaPrefix)); it.Next() {
			keys = append(keys, userKeyFromMetaKey(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stratacache/l2: keys: %w", err)
	}
	return keys, nil
}

type ageEntry struct {
	key       string
	createdAt uint64
	stored    int64
}

// CompactOldestFirst evicts entries in ascending created_at order until
// disk usage is at or below highWaterMark. It is an O(n) full scan by
// design: compaction is a background job, not a hot path, and the
// persistent KV does not index by created_at.
func (s *Store) CompactOldestFirst(highWaterMark int64) (evicted int, err error) {
	if s.DiskUsage() <= highWaterMark {
		return 0, nil
	}

	var candidates []ageEntry
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(metaPrefix)); it.ValidForPrefix([]byte(metaPrefix)); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				continue
			}
			m, err := decodeMeta(raw)
			if err != nil {
				continue
			}
			candidates = append(candidates, ageEntry{
				key:       userKeyFromMetaKey(it.Item().KeyCopy(nil)),
				createdAt: m.CreatedAt,
				stored:    int64(m.StoredSize),
			})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("stratacache/l2: compact scan: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].createdAt < candidates[j].createdAt })

	for _, c := range candidates {
		if s.DiskUsage() <= highWaterMark {
			break
		}
		if err := s.Delete(c.key); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}
