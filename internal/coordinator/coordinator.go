// coordinator.go: the authoritative entry point routing GET/SET/DELETE and
// friends between L1 and L2, owning the CAS counter and the flush epoch.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package coordinator

import (
	"strconv"
	"sync/atomic"

	"github.com/stratacache/stratacache"
	"github.com/stratacache/stratacache/internal/l1"
	"github.com/stratacache/stratacache/internal/l2"
	"github.com/stratacache/stratacache/internal/metrics"
	"github.com/stratacache/stratacache/internal/ttlindex"
)

// Item is a coordinator-level read result: the value plus its metadata,
// independent of which tier it was served from.
type Item struct {
	Value  []byte
	Flags  uint32
	CAS    uint64
	Expiry int64
}

// Config configures the coordinator's cross-tier policy.
type Config struct {
	LargeValueThreshold int
	L2Enabled           bool
}

// Coordinator is the cache engine's single entry point. All mutation of
// process-wide state (the CAS counter, the flush epoch) happens here; L1
// and L2 never see one another directly.
type Coordinator struct {
	cfg Config

	l1  *l1.Store
	l2  *l2.Store
	ttl *ttlindex.Index

	events  *stratacache.EventBus
	metrics *metrics.Registry

	casCounter      atomic.Uint64
	flushEpoch      atomic.Int64
	highWaterMark   atomic.Int64
	reaperInterval  atomic.Int64 // nanoseconds, read fresh by StartReaper's loop each tick
}

// SetMetrics attaches a metrics registry that Get calls report hits and
// misses into. Optional: a nil or never-set registry means no recording.
func (c *Coordinator) SetMetrics(m *metrics.Registry) { c.metrics = m }

// New builds a Coordinator. l2Store and events may be nil (persistence
// and/or event reporting disabled); l1Store and ttl must not.
func New(cfg Config, l1Store *l1.Store, l2Store *l2.Store, ttl *ttlindex.Index, events *stratacache.EventBus) *Coordinator {
	c := &Coordinator{
		cfg:    cfg,
		l1:     l1Store,
		l2:     l2Store,
		ttl:    ttl,
		events: events,
	}
	if l1Store != nil {
		l1Store.OnEvictionLoss = func(key string) { c.emit(stratacache.EventEvictionLoss, key, nil) }
	}
	return c
}

// NewEvictionSink returns an l1.EvictionSink that write-throughs L1 victims
// into this coordinator's L2 store. Pass the result to l1.New at
// construction time, before wiring the resulting *l1.Store back here.
func NewEvictionSink(l2Store *l2.Store) l1.EvictionSink {
	return evictionSink{l2: l2Store}
}

type evictionSink struct{ l2 *l2.Store }

func (s evictionSink) Spill(e *l1.Entry) bool {
	if s.l2 == nil {
		return false
	}
	err := s.l2.Put(e.Key, e.Value, e.Flags, e.CAS, uint64(e.CreatedAt), uint64(e.Expiry))
	return err == nil
}

func (c *Coordinator) emit(kind stratacache.EventKind, key string, err error) {
	if c.events == nil {
		return
	}
	c.events.Emit(stratacache.Event{Kind: kind, Key: key, Err: err})
}

// nextCAS allocates the next globally ordered CAS token. Token 0 is
// reserved as "never written", so the first issued token is 1.
func (c *Coordinator) nextCAS() uint64 { return c.casCounter.Add(1) }

// isFlushed reports whether an entry created at createdAt is logically
// absent under the current flush_all epoch, evaluated at query time now.
// The ordering point is commit timestamp: an entry is hidden only once the
// wall clock has itself reached the epoch, and only if the entry predates
// it.
func (c *Coordinator) isFlushed(createdAt, now int64) bool {
	epoch := c.flushEpoch.Load()
	return epoch != 0 && now >= epoch && createdAt < epoch
}

// lookup resolves key against L1 then L2, applying TTL and flush-epoch
// filtering. It does not promote. tier reports which tier answered: 0 for
// miss, 1 for L1, 2 for L2.
func (c *Coordinator) lookup(key string, now int64) (item Item, tier int, err error) {
	if e, ok := c.l1.Get(key, now); ok {
		if c.isFlushed(e.CreatedAt, now) {
			c.l1.Remove(key)
			return Item{}, 0, nil
		}
		return Item{Value: e.Value, Flags: e.Flags, CAS: e.CAS, Expiry: e.Expiry}, 1, nil
	}

	if !c.cfg.L2Enabled || c.l2 == nil {
		return Item{}, 0, nil
	}

	rec, ok, lerr := c.l2.Get(key, uint64(now),
		func(k string) { c.emit(stratacache.EventOrphanCleaned, k, nil) },
		func(k string, cerr error) { c.emit(stratacache.EventCorruptRead, k, cerr) },
	)
	if lerr != nil {
		return Item{}, 0, stratacache.ErrStorage("get", lerr)
	}
	if !ok {
		return Item{}, 0, nil
	}

	// L2 does not hand back created_at on read, so the flush epoch is not
	// applied here: an L2-only key written before the epoch is still
	// returned, and PurgeFlushed does not remove it either.
	return Item{Value: rec.Value, Flags: rec.Flags, CAS: rec.CAS, Expiry: int64(rec.Expiry)}, 2, nil
}

// Get implements the GET contract: L1 probe, fall back to L2 with
// best-effort promotion back into L1 for values under the large-value
// threshold.
func (c *Coordinator) Get(key string, now int64) (Item, bool, error) {
	item, tier, err := c.lookup(key, now)
	if err != nil {
		return Item{}, false, err
	}
	if tier == 0 {
		if c.metrics != nil {
			c.metrics.RecordMiss()
		}
		return Item{}, false, nil
	}
	if c.metrics != nil {
		c.metrics.RecordHit(tier)
	}
	if tier == 2 && c.l1 != nil && len(item.Value) < c.cfg.LargeValueThreshold {
		e := l1.NewEntry(key, item.Value, item.Flags, item.CAS, item.Expiry, now)
		if perr := c.l1.Insert(e); perr == nil {
			c.emit(stratacache.EventPromoted, key, nil)
		}
	}
	return item, true, nil
}

// writeThrough performs the SET-shaped admission decision shared by
// SET/ADD/REPLACE/CAS/APPEND/PREPEND/INCR/DECR: large values bypass L1 and
// go straight to L2; everything else is inserted into L1 (cascading
// eviction into L2), falling back to a direct L2 write if L1 has no room
// and no eviction candidate.
func (c *Coordinator) writeThrough(key string, value []byte, flags uint32, expiry int64, cas uint64, now int64) error {
	large := len(value) >= c.cfg.LargeValueThreshold
	if large && c.cfg.L2Enabled && c.l2 != nil {
		if c.l1 != nil {
			c.l1.Remove(key)
		}
		if err := c.l2.Put(key, value, flags, cas, uint64(now), uint64(expiry)); err != nil {
			return stratacache.ErrStorage("set", err)
		}
		c.ttl.Set(key, expiry)
		return nil
	}

	if c.l1 != nil {
		e := l1.NewEntry(key, value, flags, cas, expiry, now)
		err := c.l1.Insert(e)
		if err == nil {
			c.ttl.Set(key, expiry)
			return nil
		}
		if err != l1.ErrFull {
			return stratacache.ErrStorage("set", err)
		}
		// No eviction candidate could make room: fall back to L2 if
		// enabled, else the write fails.
		if !c.cfg.L2Enabled || c.l2 == nil {
			return stratacache.ErrL1Full(key)
		}
	}

	if err := c.l2.Put(key, value, flags, cas, uint64(now), uint64(expiry)); err != nil {
		return stratacache.ErrStorage("set", err)
	}
	c.ttl.Set(key, expiry)
	return nil
}

// Set implements the SET contract, returning the newly assigned CAS token.
func (c *Coordinator) Set(key string, value []byte, flags uint32, expiry int64, now int64) (uint64, error) {
	cas := c.nextCAS()
	if err := c.writeThrough(key, value, flags, expiry, cas, now); err != nil {
		return 0, err
	}
	return cas, nil
}

// Add implements ADD: fails with NotStored if key is currently present in
// either tier.
func (c *Coordinator) Add(key string, value []byte, flags uint32, expiry int64, now int64) (uint64, error) {
	_, tier, err := c.lookup(key, now)
	if err != nil {
		return 0, err
	}
	if tier != 0 {
		return 0, stratacache.ErrNotStored("add", key)
	}
	return c.Set(key, value, flags, expiry, now)
}

// Replace implements REPLACE: fails with NotStored if key is currently
// absent.
func (c *Coordinator) Replace(key string, value []byte, flags uint32, expiry int64, now int64) (uint64, error) {
	_, tier, err := c.lookup(key, now)
	if err != nil {
		return 0, err
	}
	if tier == 0 {
		return 0, stratacache.ErrNotStored("replace", key)
	}
	return c.Set(key, value, flags, expiry, now)
}

// Append implements APPEND: v ∥ δ, inheriting flags and expiry from the
// current entry. NotStored if absent.
func (c *Coordinator) Append(key string, delta []byte, now int64) (uint64, error) {
	return c.concat(key, delta, now, false)
}

// Prepend implements PREPEND: δ ∥ v, inheriting flags and expiry from the
// current entry. NotStored if absent.
func (c *Coordinator) Prepend(key string, delta []byte, now int64) (uint64, error) {
	return c.concat(key, delta, now, true)
}

func (c *Coordinator) concat(key string, delta []byte, now int64, prepend bool) (uint64, error) {
	item, tier, err := c.lookup(key, now)
	if err != nil {
		return 0, err
	}
	if tier == 0 {
		op := "append"
		if prepend {
			op = "prepend"
		}
		return 0, stratacache.ErrNotStored(op, key)
	}

	var newVal []byte
	if prepend {
		newVal = make([]byte, 0, len(delta)+len(item.Value))
		newVal = append(newVal, delta...)
		newVal = append(newVal, item.Value...)
	} else {
		newVal = make([]byte, 0, len(item.Value)+len(delta))
		newVal = append(newVal, item.Value...)
		newVal = append(newVal, delta...)
	}

	cas := c.nextCAS()
	if err := c.writeThrough(key, newVal, item.Flags, item.Expiry, cas, now); err != nil {
		return 0, err
	}
	return cas, nil
}

// CAS implements the CAS contract: NotFound if absent, Exists on token
// mismatch, else a SET with a freshly assigned CAS token.
func (c *Coordinator) CAS(key string, value []byte, flags uint32, expiry int64, token uint64, now int64) (uint64, error) {
	item, tier, err := c.lookup(key, now)
	if err != nil {
		return 0, err
	}
	if tier == 0 {
		return 0, stratacache.ErrNotFound(key)
	}
	if item.CAS != token {
		return 0, stratacache.ErrExists(key, token, item.CAS)
	}
	return c.Set(key, value, flags, expiry, now)
}

// Incr implements INCR: overflow saturates at math.MaxUint64.
func (c *Coordinator) Incr(key string, delta uint64, now int64) (uint64, error) {
	return c.incrDecr(key, delta, now, true)
}

// Decr implements DECR: underflow saturates at 0.
func (c *Coordinator) Decr(key string, delta uint64, now int64) (uint64, error) {
	return c.incrDecr(key, delta, now, false)
}

func (c *Coordinator) incrDecr(key string, delta uint64, now int64, incr bool) (uint64, error) {
	item, tier, err := c.lookup(key, now)
	if err != nil {
		return 0, err
	}
	if tier == 0 {
		return 0, stratacache.ErrNotFound(key)
	}

	cur, perr := strconv.ParseUint(string(item.Value), 10, 64)
	if perr != nil {
		return 0, stratacache.ErrClient("value is not a 64-bit unsigned integer")
	}

	var next uint64
	if incr {
		next = cur + delta
		if next < cur { // overflow
			next = ^uint64(0)
		}
	} else {
		if delta > cur {
			next = 0
		} else {
			next = cur - delta
		}
	}

	cas := c.nextCAS()
	newVal := []byte(strconv.FormatUint(next, 10))
	if err := c.writeThrough(key, newVal, item.Flags, item.Expiry, cas, now); err != nil {
		return 0, err
	}
	return next, nil
}

// Delete implements DELETE: removes from both tiers, best-effort, and
// reports whether any copy existed.
func (c *Coordinator) Delete(key string, now int64) (bool, error) {
	existed := false
	if c.l1 != nil && c.l1.Remove(key) {
		existed = true
	}
	if c.cfg.L2Enabled && c.l2 != nil {
		if c.l2.Contains(key, uint64(now)) {
			existed = true
		}
		if err := c.l2.Delete(key); err != nil {
			return existed, stratacache.ErrStorage("delete", err)
		}
	}
	c.ttl.Remove(key)
	return existed, nil
}

// FlushAll marks the global flush epoch at now+delaySeconds. L1 entries
// committed before the epoch become logically absent once the wall clock
// reaches it; physical purging is left to the reaper (see PurgeFlushed).
// Entries served from L2 are not filtered by the epoch.
func (c *Coordinator) FlushAll(delaySeconds uint64, now int64) {
	c.flushEpoch.Store(now + int64(delaySeconds))
}

// PurgeFlushed physically removes L1 entries created before the active
// flush epoch. The background reaper tick that sweeps TTL expirations
// calls it. L2 entries are not purged here and are not hidden on read;
// the persistent KV does not index by created_at for cheap bulk scanning.
func (c *Coordinator) PurgeFlushed(now int64) int {
	epoch := c.flushEpoch.Load()
	if epoch == 0 || now < epoch {
		return 0
	}
	purged := 0
	for _, key := range c.l1.Keys(0) {
		if e, ok := c.l1.Get(key, now); ok && e.CreatedAt < epoch {
			c.l1.Remove(key)
			purged++
		}
	}
	return purged
}

// ChunkIterator is a lazy, finite, non-restartable sequence of byte chunks
// over a value already resolved by the coordinator — the caller guarantees
// the backing buffer outlives the iterator by holding the Item that
// produced it.
type ChunkIterator struct {
	buf       []byte
	pos       int
	chunkSize int
}

// NewChunkIterator resolves key and, if present, returns a streaming
// chunk iterator of chunkSize bytes at a time.
func (c *Coordinator) NewChunkIterator(key string, chunkSize int, now int64) (*ChunkIterator, bool, error) {
	item, tier, err := c.lookup(key, now)
	if err != nil {
		return nil, false, err
	}
	if tier == 0 {
		return nil, false, nil
	}
	if chunkSize <= 0 {
		chunkSize = len(item.Value)
	}
	return &ChunkIterator{buf: item.Value, chunkSize: chunkSize}, true, nil
}

// Next returns the next chunk, or ok=false when the buffer is exhausted.
func (it *ChunkIterator) Next() (chunk []byte, ok bool) {
	if it.pos >= len(it.buf) {
		return nil, false
	}
	end := it.pos + it.chunkSize
	if end > len(it.buf) {
		end = len(it.buf)
	}
	chunk = it.buf[it.pos:end]
	it.pos = end
	return chunk, true
}
