// session_test.go: end-to-end protocol tests over an in-memory connection
// pair.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package wire

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stratacache/stratacache/internal/compressor"
	"github.com/stratacache/stratacache/internal/coordinator"
	"github.com/stratacache/stratacache/internal/l1"
	"github.com/stratacache/stratacache/internal/l2"
	"github.com/stratacache/stratacache/internal/metrics"
	"github.com/stratacache/stratacache/internal/ttlindex"
)

type testClock struct{ t int64 }

func (c *testClock) now() int64 { return c.t }

func newTestHandler(t *testing.T, largeValueThreshold int) (*Handler, *testClock) {
	t.Helper()
	dir := t.TempDir()
	l2Store, err := l2.Open(l2.Config{DataDir: dir, MaxDiskSize: 1 << 30}, compressor.New(64, true))
	if err != nil {
		t.Fatalf("open l2: %v", err)
	}
	t.Cleanup(func() { _ = l2Store.Close() })

	sink := coordinator.NewEvictionSink(l2Store)
	l1Store := l1.New(l1.Config{ShardCount: 16, MaxMemory: 1 << 20, MaxEntries: 1000, Strategy: "lru"}, sink)
	coord := coordinator.New(coordinator.Config{LargeValueThreshold: largeValueThreshold, L2Enabled: true}, l1Store, l2Store, ttlindex.New(), nil)

	reg := metrics.New(prometheus.NewRegistry())
	coord.SetMetrics(reg)

	clock := &testClock{}
	h := &Handler{
		Coord:          coord,
		Pool:           NewPool(4, 16),
		Now:            clock.now,
		CommandTimeout: 5 * time.Second,
		MaxTTL:         86400,
		Version:        "stratacache-test",
		Metrics:        reg,
	}
	t.Cleanup(h.Pool.Close)
	return h, clock
}

// serveOnPipe wires a Handler to one side of a net.Pipe and returns a
// bufio.ReadWriter over the client side for issuing raw protocol lines.
func serveOnPipe(t *testing.T, h *Handler) *bufio.ReadWriter {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	go h.Serve(serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return bufio.NewReadWriter(bufio.NewReader(clientConn), bufio.NewWriter(clientConn))
}

func sendAndRead(t *testing.T, rw *bufio.ReadWriter, send string, readBytes int) string {
	t.Helper()
	if _, err := rw.WriteString(send); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := rw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	buf := make([]byte, readBytes)
	n := 0
	for n < readBytes {
		m, err := rw.Read(buf[n:])
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		n += m
	}
	return string(buf[:n])
}

func TestBasicSetGet(t *testing.T) {
	h, _ := newTestHandler(t, 1024)
	rw := serveOnPipe(t, h)

	got := sendAndRead(t, rw, "set foo 0 0 5\r\nhello\r\n", len("STORED\r\n"))
	if got != "STORED\r\n" {
		t.Fatalf("set reply = %q", got)
	}

	want := "VALUE foo 0 5\r\nhello\r\nEND\r\n"
	got = sendAndRead(t, rw, "get foo\r\n", len(want))
	if got != want {
		t.Fatalf("get reply = %q, want %q", got, want)
	}
}

func TestCASConflictThenSuccess(t *testing.T) {
	h, _ := newTestHandler(t, 1024)
	rw := serveOnPipe(t, h)

	got := sendAndRead(t, rw, "set k 0 0 1\r\nA\r\n", len("STORED\r\n"))
	if got != "STORED\r\n" {
		t.Fatalf("set reply = %q", got)
	}

	want := "VALUE k 0 1 1\r\nA\r\nEND\r\n"
	got = sendAndRead(t, rw, "gets k\r\n", len(want))
	if got != want {
		t.Fatalf("gets reply = %q, want %q", got, want)
	}

	got = sendAndRead(t, rw, "cas k 0 0 1 2\r\nB\r\n", len("EXISTS\r\n"))
	if got != "EXISTS\r\n" {
		t.Fatalf("cas conflict reply = %q", got)
	}

	got = sendAndRead(t, rw, "cas k 0 0 1 1\r\nB\r\n", len("STORED\r\n"))
	if got != "STORED\r\n" {
		t.Fatalf("cas success reply = %q", got)
	}
}

func TestIncrSaturatesAtMaxUint64(t *testing.T) {
	h, _ := newTestHandler(t, 1024)
	rw := serveOnPipe(t, h)

	n := "18446744073709551610"
	got := sendAndRead(t, rw, "set n 0 0 "+itoa(len(n))+"\r\n"+n+"\r\n", len("STORED\r\n"))
	if got != "STORED\r\n" {
		t.Fatalf("set reply = %q", got)
	}

	want := "18446744073709551615\r\n"
	got = sendAndRead(t, rw, "incr n 10\r\n", len(want))
	if got != want {
		t.Fatalf("incr reply = %q, want %q", got, want)
	}
}

func TestLazyExpiry(t *testing.T) {
	h, clock := newTestHandler(t, 1024)
	rw := serveOnPipe(t, h)

	got := sendAndRead(t, rw, "set t 0 1 1\r\nX\r\n", len("STORED\r\n"))
	if got != "STORED\r\n" {
		t.Fatalf("set reply = %q", got)
	}

	clock.t = 2
	want := "END\r\n"
	got = sendAndRead(t, rw, "get t\r\n", len(want))
	if got != want {
		t.Fatalf("expected miss after expiry, got %q", got)
	}
}

func TestLargeValueRoutesToL2Only(t *testing.T) {
	h, _ := newTestHandler(t, 1024)
	rw := serveOnPipe(t, h)

	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = 'a'
	}
	send := "set big 0 0 2048\r\n" + string(payload) + "\r\n"
	got := sendAndRead(t, rw, send, len("STORED\r\n"))
	if got != "STORED\r\n" {
		t.Fatalf("set reply = %q", got)
	}

	if h.Coord == nil {
		t.Fatal("coordinator missing")
	}

	want := "VALUE big 0 2048\r\n" + string(payload) + "\r\nEND\r\n"
	got = sendAndRead(t, rw, "get big\r\n", len(want))
	if got != want {
		t.Fatalf("get reply length mismatch: got %d want %d bytes", len(got), len(want))
	}
	if s := h.Metrics.Snapshot(); s.L1Hits != 0 || s.L2Hits != 1 {
		t.Fatalf("expected the large value to be served from L2 only, got l1_hits=%d l2_hits=%d", s.L1Hits, s.L2Hits)
	}
}

func TestStreamingGetEmitsFixedSizeChunks(t *testing.T) {
	h, _ := newTestHandler(t, 4096)
	rw := serveOnPipe(t, h)

	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	send := "set big 0 0 2048\r\n" + string(payload) + "\r\n"
	got := sendAndRead(t, rw, send, len("STORED\r\n"))
	if got != "STORED\r\n" {
		t.Fatalf("set reply = %q", got)
	}

	var want string
	for i := 0; i < 4; i++ {
		chunk := payload[i*512 : (i+1)*512]
		want += "CHUNK " + itoa(i) + " 512\r\n" + string(chunk) + "\r\n"
	}
	want += "END\r\n"

	got = sendAndRead(t, rw, "streaming_get big 512\r\n", len(want))
	if got != want {
		t.Fatalf("streaming_get output mismatch (got %d bytes, want %d)", len(got), len(want))
	}
}

func TestStatsReportsHitsAndMisses(t *testing.T) {
	h, _ := newTestHandler(t, 1024)
	rw := serveOnPipe(t, h)

	sendAndRead(t, rw, "set foo 0 0 5\r\nhello\r\n", len("STORED\r\n"))
	sendAndRead(t, rw, "get foo\r\n", len("VALUE foo 0 5\r\nhello\r\nEND\r\n"))
	sendAndRead(t, rw, "get missing\r\n", len("END\r\n"))

	got := sendAndRead(t, rw, "stats\r\n", len("STAT l1_hits 1\r\n"))
	if got != "STAT l1_hits 1\r\n" {
		t.Fatalf("stats first line = %q", got)
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
