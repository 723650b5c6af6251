// reaper.go: the background tick that drives lazy expiry into physical
// removal — TTL sweep, flush-epoch purge, and L2 disk-usage compaction all
// share one ticker so none of them needs its own goroutine.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package coordinator

import (
	"context"
	"time"

	"github.com/agilira/go-timecache"

	"github.com/stratacache/stratacache"
)

// ReaperConfig configures the background sweep.
type ReaperConfig struct {
	Interval      time.Duration
	SweepBudget   int
	HighWaterMark int64 // L2 disk-usage threshold that triggers compaction
	Logger        stratacache.Logger
}

// StartReaper launches the sweep loop in its own goroutine and returns
// immediately. The loop runs until ctx is cancelled.
//
// cfg.HighWaterMark and cfg.Interval seed c.highWaterMark and
// c.reaperInterval, the live cells SetHighWaterMark and SetReaperInterval
// write through to; the loop re-reads c.reaperInterval on every tick and
// resets the ticker when a hot-reload has changed it.
func (c *Coordinator) StartReaper(ctx context.Context, cfg ReaperConfig) {
	if cfg.Logger == nil {
		cfg.Logger = stratacache.NoOpLogger{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.SweepBudget <= 0 {
		cfg.SweepBudget = 10_000
	}

	c.highWaterMark.Store(cfg.HighWaterMark)
	c.reaperInterval.Store(int64(cfg.Interval))

	go func() {
		interval := cfg.Interval
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick(cfg)
				if next := time.Duration(c.reaperInterval.Load()); next > 0 && next != interval {
					interval = next
					ticker.Reset(interval)
				}
			}
		}
	}()
}

// SetHighWaterMark updates the L2 disk-usage threshold the reaper's
// compaction check reads each tick. Safe to call from any goroutine.
func (c *Coordinator) SetHighWaterMark(bytes int64) { c.highWaterMark.Store(bytes) }

// SetReaperInterval updates the reaper's tick interval. The running loop
// picks up the new interval after its current tick.
func (c *Coordinator) SetReaperInterval(d time.Duration) {
	if d > 0 {
		c.reaperInterval.Store(int64(d))
	}
}

func (c *Coordinator) tick(cfg ReaperConfig) {
	now := timecache.CachedTimeNano() / int64(time.Second)

	expired := c.ttl.Sweep(now, cfg.SweepBudget, func(key string) {
		c.l1.Remove(key)
		if c.cfg.L2Enabled && c.l2 != nil {
			_ = c.l2.Delete(key)
		}
	})
	if expired > 0 {
		cfg.Logger.Debug("ttl sweep reclaimed entries", "count", expired)
	}

	if purged := c.PurgeFlushed(now); purged > 0 {
		cfg.Logger.Debug("flush epoch purge reclaimed entries", "count", purged)
	}

	highWaterMark := c.highWaterMark.Load()
	if c.cfg.L2Enabled && c.l2 != nil && highWaterMark > 0 {
		if c.l2.DiskUsage() > highWaterMark {
			evicted, err := c.l2.CompactOldestFirst(highWaterMark)
			if err != nil {
				cfg.Logger.Error("l2 compaction failed", "error", err)
				return
			}
			if evicted > 0 {
				c.emit(stratacache.EventCompaction, "", nil)
				cfg.Logger.Info("l2 compaction evicted entries", "count", evicted)
			}
		}
	}
}
