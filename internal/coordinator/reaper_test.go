// reaper_test.go
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package coordinator

import (
	"context"
	"testing"
	"time"
)

func TestReaperTickReclaimsExpiredEntries(t *testing.T) {
	c := newTestCoordinator(t, 1024)
	now := time.Now().Unix()

	if _, err := c.Set("k", []byte("v"), 0, now-1, now); err != nil {
		t.Fatalf("set: %v", err)
	}

	c.tick(ReaperConfig{SweepBudget: 100})

	if _, ok, err := c.Get("k", now); err != nil || ok {
		t.Fatalf("expected key reclaimed by reaper tick, ok=%v err=%v", ok, err)
	}
}

func TestStartReaperStopsOnContextCancel(t *testing.T) {
	c := newTestCoordinator(t, 1024)
	ctx, cancel := context.WithCancel(context.Background())
	c.StartReaper(ctx, ReaperConfig{Interval: 10 * time.Millisecond})
	cancel()
	time.Sleep(20 * time.Millisecond) // goroutine should have observed cancellation by now
}
