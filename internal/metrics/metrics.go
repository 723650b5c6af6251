// metrics.go: process-wide counters and hit-rate rollup for a two-tier
// cache. Hits and misses are recorded directly by the coordinator; the
// other counters are fed by the typed lifecycle event bus.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stratacache/stratacache"
)

// Stats is a point-in-time snapshot of the rollup, safe to copy and log.
type Stats struct {
	L1Hits        int64
	L2Hits        int64
	Misses        int64
	Promotions    int64
	EvictionLoss  int64
	CorruptReads  int64
	OrphansSwept  int64
	Compactions   int64
	Overloads     int64
	HitRate       float64
}

// String renders a one-line human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Cache Stats: l1_hits=%d l2_hits=%d misses=%d hit_rate=%.1f%% promotions=%d eviction_loss=%d",
		s.L1Hits, s.L2Hits, s.Misses, s.HitRate, s.Promotions, s.EvictionLoss)
}

// Registry holds the relaxed-atomic counters the engine updates on every
// request, plus the matching Prometheus collectors a host can export. It
// also subscribes to an EventBus to fold lifecycle events (evictions,
// promotions, corruption) into the same rollup.
type Registry struct {
	l1Hits       atomic.Int64
	l2Hits       atomic.Int64
	misses       atomic.Int64
	promotions   atomic.Int64
	evictionLoss atomic.Int64
	corruptReads atomic.Int64
	orphansSwept atomic.Int64
	compactions  atomic.Int64
	overloads    atomic.Int64

	hitsByTier  *prometheus.CounterVec
	missesTotal prometheus.Counter
	eventsTotal *prometheus.CounterVec
}

// New creates a Registry with its Prometheus collectors registered against
// reg. Pass a fresh prometheus.NewRegistry() in tests to avoid collisions
// with the global DefaultRegisterer; cmd/stratacache-server passes its own
// registry with the Go runtime and process collectors registered, so
// /metrics serves those stats too.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		hitsByTier: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratacache",
			Name:      "hits_total",
			Help:      "Cache hits by serving tier.",
		}, []string{"tier"}),
		missesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stratacache",
			Name:      "misses_total",
			Help:      "Cache misses across both tiers.",
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stratacache",
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events emitted by the cache engine, by kind.",
		}, []string{"kind"}),
	}
}

// RecordHit accounts a hit at the given tier (1 or 2).
func (r *Registry) RecordHit(tier int) {
	switch tier {
	case 1:
		r.l1Hits.Add(1)
		r.hitsByTier.WithLabelValues("l1").Inc()
	case 2:
		r.l2Hits.Add(1)
		r.hitsByTier.WithLabelValues("l2").Inc()
	}
}

// RecordMiss accounts a miss.
func (r *Registry) RecordMiss() {
	r.misses.Add(1)
	r.missesTotal.Inc()
}

// Subscribe drains bus in its own goroutine, folding each Event into the
// rollup, until the bus is closed. Intended to be started once at engine
// startup alongside the coordinator.
func (r *Registry) Subscribe(bus *stratacache.EventBus) {
	if bus == nil {
		return
	}
	go func() {
		for ev := range bus.Events() {
			r.observe(ev)
		}
	}()
}

func (r *Registry) observe(ev stratacache.Event) {
	r.eventsTotal.WithLabelValues(ev.Kind.String()).Inc()
	switch ev.Kind {
	case stratacache.EventPromoted:
		r.promotions.Add(1)
	case stratacache.EventEvictionLoss:
		r.evictionLoss.Add(1)
	case stratacache.EventCorruptRead:
		r.corruptReads.Add(1)
	case stratacache.EventOrphanCleaned:
		r.orphansSwept.Add(1)
	case stratacache.EventCompaction:
		r.compactions.Add(1)
	case stratacache.EventOverloaded:
		r.overloads.Add(1)
	}
}

// Snapshot returns the current rollup, including the derived hit rate.
func (r *Registry) Snapshot() Stats {
	l1 := r.l1Hits.Load()
	l2 := r.l2Hits.Load()
	misses := r.misses.Load()

	total := l1 + l2 + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(l1+l2) / float64(total) * 100.0
	}

	return Stats{
		L1Hits:       l1,
		L2Hits:       l2,
		Misses:       misses,
		Promotions:   r.promotions.Load(),
		EvictionLoss: r.evictionLoss.Load(),
		CorruptReads: r.corruptReads.Load(),
		OrphansSwept: r.orphansSwept.Load(),
		Compactions:  r.compactions.Load(),
		Overloads:    r.overloads.Load(),
		HitRate:      hitRate,
	}
}

// Lines renders the rollup as Memcached "stats" verb output: one
// "STAT <name> <value>\r\n" line per counter, without the trailing "END".
func (s Stats) Lines() []string {
	return []string{
		fmt.Sprintf("STAT l1_hits %d", s.L1Hits),
		fmt.Sprintf("STAT l2_hits %d", s.L2Hits),
		fmt.Sprintf("STAT misses %d", s.Misses),
		fmt.Sprintf("STAT hit_rate %.2f", s.HitRate),
		fmt.Sprintf("STAT promotions %d", s.Promotions),
		fmt.Sprintf("STAT eviction_loss %d", s.EvictionLoss),
		fmt.Sprintf("STAT corrupt_reads %d", s.CorruptReads),
		fmt.Sprintf("STAT orphans_swept %d", s.OrphansSwept),
		fmt.Sprintf("STAT compactions %d", s.Compactions),
		fmt.Sprintf("STAT overloads %d", s.Overloads),
	}
}
