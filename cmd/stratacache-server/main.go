// main.go: the stratacache server binary — wires configuration, both cache
// tiers, the coordinator, the wire front-end, and optional Prometheus
// export and Argus hot-reload.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agilira/argus"
	"github.com/agilira/go-timecache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/stratacache/stratacache"
	"github.com/stratacache/stratacache/internal/compressor"
	"github.com/stratacache/stratacache/internal/coordinator"
	"github.com/stratacache/stratacache/internal/l1"
	"github.com/stratacache/stratacache/internal/l2"
	"github.com/stratacache/stratacache/internal/metrics"
	"github.com/stratacache/stratacache/internal/ttlindex"
	"github.com/stratacache/stratacache/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (defaults used if omitted)")
	listenAddr := flag.String("addr", ":11211", "TCP address to listen on")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on (disabled if empty)")
	watch := flag.Bool("watch", false, "hot-reload l2.max_disk_size and ttl.cleanup_interval from -config")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := stratacache.DefaultConfig()
	if *configPath != "" {
		loaded, err := stratacache.LoadConfigFile(*configPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load config")
		}
		cfg = loaded
	}

	if res := stratacache.Validate(cfg); !res.Valid {
		for _, e := range res.Errors {
			log.WithField("error", e).Error("invalid configuration")
		}
		os.Exit(1)
	}

	if err := run(cfg, *listenAddr, *metricsAddr, *configPath, *watch, log); err != nil {
		log.WithError(err).Fatal("server exited with error")
	}
}

func run(cfg stratacache.Config, listenAddr, metricsAddr, configPath string, watch bool, log *logrus.Logger) error {
	comp := compressor.New(cfg.Compression.Threshold, cfg.Compression.EnableLZ4)

	var l2Store *l2.Store
	if cfg.L2.Enable {
		store, err := l2.Open(l2.Config{
			DataDir:        cfg.L2.DataDir,
			ClearOnStartup: cfg.L2.ClearOnStartup,
			MaxDiskSize:    cfg.L2.MaxDiskSize,
			BlockCacheSize: cfg.L2.BlockCacheSize,
		}, comp)
		if err != nil {
			return fmt.Errorf("open l2 store: %w", err)
		}
		defer store.Close()
		l2Store = store
	}

	sink := coordinator.NewEvictionSink(l2Store)
	l1Store := l1.New(l1.Config{
		ShardCount:       cfg.L1.ShardCount,
		MaxMemory:        cfg.L1.MaxMemory,
		MaxEntries:       cfg.L1.MaxEntries,
		Strategy:         string(cfg.L1.EvictionStrategy),
		HybridAlpha:      cfg.L1.HybridRecencyWeight,
		HybridBeta:       cfg.L1.HybridFrequencyWeight,
		LFUAgingInterval: cfg.L1.LFUAgingInterval,
	}, sink)

	bus := stratacache.NewEventBus(256)
	coord := coordinator.New(coordinator.Config{
		LargeValueThreshold: cfg.Performance.LargeValueThreshold,
		L2Enabled:           cfg.L2.Enable,
	}, l1Store, l2Store, ttlindex.New(), bus)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	m.Subscribe(bus)
	coord.SetMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.L1.LFUAgingInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.L1.LFUAgingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					l1Store.Age()
				}
			}
		}()
	}

	coord.StartReaper(ctx, coordinator.ReaperConfig{
		Interval:      cfg.TTL.CleanupInterval,
		SweepBudget:   cfg.TTL.SweepBudget,
		HighWaterMark: cfg.L2.MaxDiskSize,
		Logger:        logrusAdapter{log},
	})

	pool := wire.NewPool(cfg.Performance.WorkerThreads, cfg.Performance.BlockingQueueDepth)
	defer pool.Close()

	handler := &wire.Handler{
		Coord:          coord,
		Pool:           pool,
		Now:            func() int64 { return timecache.CachedTimeNano() / int64(time.Second) },
		CommandTimeout: cfg.Performance.CommandTimeout,
		DefaultTTL:     int64(cfg.TTL.DefaultTTL / time.Second),
		MaxTTL:         int64(cfg.TTL.MaxTTL / time.Second),
		Version:        stratacache.Version,
		Metrics:        m,
	}

	server, err := wire.Listen(listenAddr, handler)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	log.WithField("addr", server.Addr().String()).Info("stratacache listening")

	if watch && configPath != "" {
		startHotReload(configPath, l2Store, coord, log)
	}

	if metricsAddr != "" {
		startMetricsServer(metricsAddr, reg, log)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
		cancel()
		bus.Close()
		return server.Close()
	}
}

// startMetricsServer serves /metrics in its own goroutine. A failure here
// is logged, not fatal: metrics export is ancillary to serving the cache.
func startMetricsServer(addr string, reg *prometheus.Registry, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	log.WithField("addr", addr).Info("metrics endpoint listening")
}

// startHotReload watches configPath for l2.max_disk_size and
// ttl.cleanup_interval changes, pushing them into coord's live reaper
// settings. Every other field requires a restart because it is baked into
// already-constructed tiers (shard count, L1 capacity, eviction strategy).
func startHotReload(configPath string, l2Store *l2.Store, coord *coordinator.Coordinator, log *logrus.Logger) {
	_, err := argus.UniversalConfigWatcherWithConfig(configPath, func(data map[string]interface{}) {
		l2Section, ok := data["l2"].(map[string]interface{})
		if !ok {
			l2Section = data
		}
		if maxDiskSize, ok := parsePositiveInt64(l2Section["max_disk_size"]); ok {
			coord.SetHighWaterMark(maxDiskSize)
			log.WithField("l2.max_disk_size", maxDiskSize).Info("hot-reloaded config")
		}

		ttlSection, ok := data["ttl"].(map[string]interface{})
		if !ok {
			ttlSection = data
		}
		if interval, ok := parseDuration(ttlSection["cleanup_interval"]); ok {
			coord.SetReaperInterval(interval)
			log.WithField("ttl.cleanup_interval", interval).Info("hot-reloaded config")
		}
	}, argus.Config{PollInterval: 2 * time.Second})
	if err != nil {
		log.WithError(err).Warn("failed to start config watcher")
	}
}

// parsePositiveInt64 extracts a positive int64 from a decoded config value,
// which Argus may deliver as either int or float64 depending on source
// format (JSON numbers decode as float64).
func parsePositiveInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		if v > 0 {
			return int64(v), true
		}
	case int64:
		if v > 0 {
			return v, true
		}
	case float64:
		if v > 0 {
			return int64(v), true
		}
	}
	return 0, false
}

// parseDuration extracts a positive time.Duration from a config value:
// either a string (e.g. "30s", "5m") or a number of nanoseconds, the form
// LoadConfigFile reads and cmd/stratacache-tune writes.
func parseDuration(value interface{}) (time.Duration, bool) {
	switch v := value.(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d, true
		}
	case float64:
		if v > 0 {
			return time.Duration(v), true
		}
	}
	return 0, false
}

type logrusAdapter struct{ log *logrus.Logger }

func (a logrusAdapter) Debug(msg string, fields ...interface{}) { a.log.WithFields(pairs(fields)).Debug(msg) }
func (a logrusAdapter) Info(msg string, fields ...interface{})  { a.log.WithFields(pairs(fields)).Info(msg) }
func (a logrusAdapter) Warn(msg string, fields ...interface{})  { a.log.WithFields(pairs(fields)).Warn(msg) }
func (a logrusAdapter) Error(msg string, fields ...interface{}) { a.log.WithFields(pairs(fields)).Error(msg) }

// pairs converts an alternating key/value slice into logrus.Fields,
// dropping a trailing unpaired key.
func pairs(fields []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok {
			f[k] = fields[i+1]
		}
	}
	return f
}
