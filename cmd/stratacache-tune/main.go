// main.go: interactive configuration generator. Asks about L1, L2,
// compression and the large-value threshold independently and emits a
// stratacache.json the server's config loader understands directly.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/stratacache/stratacache"
)

func main() {
	fmt.Println("stratacache configuration generator")
	fmt.Println("====================================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("What's your primary use case?")
	fmt.Println("1. Development/testing (small, fast, no persistence)")
	fmt.Println("2. Web application (balanced two-tier)")
	fmt.Println("3. High-throughput API (large L1, aggressive workers)")
	fmt.Println("4. Memory-constrained (small L1, L2-heavy, compression on)")
	fmt.Println("5. Custom")
	fmt.Println("6. Exit")
	fmt.Print("Choose (1-6): ")

	choice, _ := reader.ReadString('\n')
	choice = strings.TrimSpace(choice)

	var cfg stratacache.Config
	switch choice {
	case "1":
		cfg = stratacache.DefaultConfig()
		cfg.L1.MaxEntries = 1_000
		cfg.L1.MaxMemory = 16 << 20
		cfg.L2.Enable = false
	case "2":
		cfg = stratacache.DefaultConfig()
	case "3":
		cfg = stratacache.DefaultConfig()
		cfg.L1.MaxEntries = 1_000_000
		cfg.L1.MaxMemory = 4 << 30
		cfg.L1.ShardCount = 128
		cfg.Performance.WorkerThreads = 16
		cfg.Performance.BlockingQueueDepth = 4096
	case "4":
		cfg = stratacache.DefaultConfig()
		cfg.L1.MaxEntries = 5_000
		cfg.L1.MaxMemory = 32 << 20
		cfg.Compression.EnableLZ4 = true
		cfg.Compression.Threshold = 256
		cfg.Performance.LargeValueThreshold = 4 * 1024
	case "5":
		cfg = customConfig(reader)
	case "6":
		fmt.Println("exiting")
		return
	default:
		fmt.Println("invalid choice, using defaults")
		cfg = stratacache.DefaultConfig()
	}

	if res := stratacache.Validate(cfg); !res.Valid {
		fmt.Println("generated configuration failed validation:")
		for _, e := range res.Errors {
			fmt.Printf("  - %s\n", e)
		}
		os.Exit(1)
	} else {
		for _, s := range res.Suggestions {
			fmt.Printf("suggestion: %s\n", s)
		}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Printf("error generating config: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile("stratacache.json", data, 0o600); err != nil {
		fmt.Printf("error writing stratacache.json: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nwrote stratacache.json:")
	fmt.Println(string(data))
	fmt.Println("\nrun with: stratacache-server -config stratacache.json")
}

func customConfig(reader *bufio.Reader) stratacache.Config {
	cfg := stratacache.DefaultConfig()

	cfg.L1.MaxEntries = askInt(reader, "L1 max entries", cfg.L1.MaxEntries)
	cfg.L1.MaxMemory = int64(askInt(reader, "L1 max memory (bytes)", int(cfg.L1.MaxMemory)))
	cfg.L1.EvictionStrategy = stratacache.EvictionStrategy(askString(reader, "L1 eviction strategy (lru|lfu|fifo|hybrid)", string(cfg.L1.EvictionStrategy)))

	if askYesNo(reader, "Enable L2 persistence?", cfg.L2.Enable) {
		cfg.L2.Enable = true
		cfg.L2.DataDir = askString(reader, "L2 data directory", cfg.L2.DataDir)
		cfg.L2.MaxDiskSize = int64(askInt(reader, "L2 max disk size (bytes)", int(cfg.L2.MaxDiskSize)))
	} else {
		cfg.L2.Enable = false
	}

	cfg.Compression.EnableLZ4 = askYesNo(reader, "Enable LZ4 compression for large values?", cfg.Compression.EnableLZ4)
	cfg.Performance.LargeValueThreshold = askInt(reader, "Large-value threshold (bytes)", cfg.Performance.LargeValueThreshold)

	return cfg
}

func askString(reader *bufio.Reader, prompt, def string) string {
	fmt.Printf("%s [%s]: ", prompt, def)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func askInt(reader *bufio.Reader, prompt string, def int) int {
	fmt.Printf("%s [%d]: ", prompt, def)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		return def
	}
	return n
}

func askYesNo(reader *bufio.Reader, prompt string, def bool) bool {
	d := "y/n"
	if def {
		d = "Y/n"
	} else {
		d = "y/N"
	}
	fmt.Printf("%s [%s]: ", prompt, d)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "" {
		return def
	}
	return line == "y" || line == "yes"
}
