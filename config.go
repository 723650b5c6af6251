// config.go: engine configuration, defaults, and JSON loading.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package stratacache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// EvictionStrategy names an L1 eviction policy.
type EvictionStrategy string

const (
	EvictionLRU    EvictionStrategy = "lru"
	EvictionLFU    EvictionStrategy = "lfu"
	EvictionFIFO   EvictionStrategy = "fifo"
	EvictionHybrid EvictionStrategy = "hybrid"
)

// L1Config configures the in-memory tier.
type L1Config struct {
	MaxMemory        int64            `json:"max_memory"`
	MaxEntries       int              `json:"max_entries"`
	EvictionStrategy EvictionStrategy `json:"eviction_strategy"`
	ShardCount       int              `json:"shard_count"`
	// HybridRecencyWeight and HybridFrequencyWeight configure the Hybrid
	// strategy's weighted score (default α=0.6, β=0.4).
	HybridRecencyWeight   float64 `json:"hybrid_recency_weight"`
	HybridFrequencyWeight float64 `json:"hybrid_frequency_weight"`
	// LFUAgingInterval controls how often LFU frequency counters are halved.
	LFUAgingInterval time.Duration `json:"lfu_aging_interval"`
}

// L2Config configures the persistent tier.
type L2Config struct {
	Enable          bool   `json:"enable"`
	DataDir         string `json:"data_dir"`
	ClearOnStartup  bool   `json:"clear_on_startup"`
	MaxDiskSize     int64  `json:"max_disk_size"`
	BlockCacheSize  int64  `json:"block_cache_size"`
}

// CompressionConfig configures the compressor.
type CompressionConfig struct {
	EnableLZ4 bool `json:"enable_lz4"`
	Threshold int  `json:"threshold"`
}

// TTLConfig configures the TTL index and reaper.
type TTLConfig struct {
	DefaultTTL      time.Duration `json:"default_ttl"`
	MaxTTL          time.Duration `json:"max_ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	// SweepBudget bounds how many expired entries a single reaper tick
	// evicts, bounding reaper work per tick to avoid stalls.
	SweepBudget int `json:"sweep_budget"`
}

// PerformanceConfig configures cross-cutting resource limits.
type PerformanceConfig struct {
	LargeValueThreshold int `json:"large_value_threshold"`
	WorkerThreads       int `json:"worker_threads"`
	// BlockingQueueDepth bounds the blocking-work pool's job queue
	// a full queue answers new work with SERVER_ERROR overloaded rather than blocking.
	BlockingQueueDepth int `json:"blocking_queue_depth"`
	// CommandTimeout is the default per-command deadline.
	CommandTimeout time.Duration `json:"command_timeout"`
}

// Config is the complete engine configuration.
type Config struct {
	L1          L1Config          `json:"l1"`
	L2          L2Config          `json:"l2"`
	Compression CompressionConfig `json:"compression"`
	TTL         TTLConfig         `json:"ttl"`
	Performance PerformanceConfig `json:"performance"`
}

// DefaultConfig returns the engine's baseline defaults.
func DefaultConfig() Config {
	return Config{
		L1: L1Config{
			MaxMemory:             1 << 30, // 1 GiB
			MaxEntries:            100_000,
			EvictionStrategy:      EvictionLRU,
			ShardCount:            32,
			HybridRecencyWeight:   0.6,
			HybridFrequencyWeight: 0.4,
			LFUAgingInterval:      5 * time.Minute,
		},
		L2: L2Config{
			Enable:         true,
			DataDir:        "./cache_data",
			ClearOnStartup: false,
			MaxDiskSize:    1 << 30, // 1 GiB
			BlockCacheSize: 32 << 20,
		},
		Compression: CompressionConfig{
			EnableLZ4: true,
			Threshold: 1024,
		},
		TTL: TTLConfig{
			DefaultTTL:      0,
			MaxTTL:          86_400 * time.Second,
			CleanupInterval: 300 * time.Second,
			SweepBudget:     10_000,
		},
		Performance: PerformanceConfig{
			LargeValueThreshold: 10 * 1024,
			WorkerThreads:       4,
			BlockingQueueDepth:  1024,
			CommandTimeout:      5 * time.Second,
		},
	}
}

// LoadConfigFile loads and merges a JSON configuration file over the
// defaults. Unset JSON fields keep their default value: JSON config
// overrides defaults, nothing overrides JSON config.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return cfg, fmt.Errorf("stratacache: invalid config path %q", path)
	}

	data, err := os.ReadFile(clean) // nosec G304 - path validated above
	if err != nil {
		return cfg, fmt.Errorf("stratacache: read config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("stratacache: parse config: %w", err)
	}
	return cfg, nil
}

// ValidationResult reports configuration problems and tuning suggestions.
type ValidationResult struct {
	Valid       bool
	Errors      []string
	Suggestions []string
}

// Validate checks a Config for internal consistency and offers sizing
// suggestions. It never mutates cfg.
func Validate(cfg Config) ValidationResult {
	res := ValidationResult{Valid: true}

	if cfg.L1.MaxEntries <= 0 {
		res.Valid = false
		res.Errors = append(res.Errors, "l1.max_entries must be > 0")
	}
	if cfg.L1.MaxMemory <= 0 {
		res.Valid = false
		res.Errors = append(res.Errors, "l1.max_memory must be > 0")
	}
	switch cfg.L1.EvictionStrategy {
	case EvictionLRU, EvictionLFU, EvictionFIFO, EvictionHybrid:
	default:
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("l1.eviction_strategy %q is not one of lru|lfu|fifo|hybrid", cfg.L1.EvictionStrategy))
	}
	if cfg.L1.ShardCount <= 0 {
		res.Valid = false
		res.Errors = append(res.Errors, "l1.shard_count must be > 0")
	} else if cfg.L1.ShardCount < 16 {
		res.Suggestions = append(res.Suggestions, "l1.shard_count below 16 reduces shard concurrency (recommended: >= 16 shards)")
	}

	if cfg.L2.Enable && cfg.L2.MaxDiskSize <= 0 {
		res.Valid = false
		res.Errors = append(res.Errors, "l2.max_disk_size must be > 0 when l2.enable is true")
	}

	if cfg.Performance.LargeValueThreshold <= 0 {
		res.Valid = false
		res.Errors = append(res.Errors, "performance.large_value_threshold must be > 0")
	}
	if !cfg.L2.Enable && cfg.Performance.LargeValueThreshold < int(cfg.L1.MaxMemory) {
		res.Suggestions = append(res.Suggestions, "with l2.enable=false, values >= large_value_threshold are stored in L1 like any other value, and a SET that cannot fit in L1 fails with L1Full")
	}

	numCPU := runtime.NumCPU()
	if cfg.Performance.WorkerThreads <= 0 {
		res.Valid = false
		res.Errors = append(res.Errors, "performance.worker_threads must be > 0")
	} else if cfg.Performance.WorkerThreads > numCPU*4 {
		res.Suggestions = append(res.Suggestions, fmt.Sprintf("worker_threads (%d) exceeds 4x CPU cores (%d); consider reducing", cfg.Performance.WorkerThreads, numCPU*4))
	}

	if cfg.TTL.MaxTTL > 0 && cfg.TTL.DefaultTTL > cfg.TTL.MaxTTL {
		res.Valid = false
		res.Errors = append(res.Errors, "ttl.default_ttl exceeds ttl.max_ttl")
	}

	return res
}
