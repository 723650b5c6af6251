// session.go: one goroutine per connection, dispatching parsed commands to
// the cache coordinator through the blocking-work pool.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package wire

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/stratacache/stratacache"
	"github.com/stratacache/stratacache/internal/coordinator"
	"github.com/stratacache/stratacache/internal/metrics"
)

// Handler holds everything a session needs to serve commands: the
// coordinator, the blocking-work pool, and the wire-level knobs that come
// from configuration.
type Handler struct {
	Coord          *coordinator.Coordinator
	Pool           *Pool
	Now            func() int64
	CommandTimeout time.Duration
	DefaultTTL     int64
	MaxTTL         int64
	Version        string
	Metrics        *metrics.Registry
}

// Serve accepts commands from conn until the client disconnects, sends
// quit, or the connection errors. Each command is isolated: a panic while
// handling one command is recovered and closes only this session.
func (h *Handler) Serve(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			// A panic in one session must never take down the process or
			// other sessions; this connection is simply lost.
			_ = r
		}
	}()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := parseLine(strings.TrimRight(line, "\r\n"))
		if cmd.verb == "" {
			continue
		}

		if needsDataBlock(cmd.verb) {
			n, ok := dataBlockLen(cmd)
			if !ok {
				writeUnless(writer, cmd.noReply, replyClientError("bad command line format"))
				continue
			}
			data, err := readDataBlock(reader, n)
			if err != nil {
				writeUnless(writer, false, replyClientError("bad data chunk"))
				continue
			}
			cmd.data = data
		}

		reply, quit := h.dispatch(cmd)
		if reply != "" {
			writer.WriteString(reply)
		}
		writer.Flush()
		if quit {
			return
		}
	}
}

func needsDataBlock(verb string) bool {
	switch verb {
	case "set", "add", "replace", "append", "prepend", "cas":
		return true
	}
	return false
}

// dataBlockLen extracts the declared byte count for a storage command's
// data block: args[3] for set/add/replace/append/prepend, same position
// for cas (key flags exptime bytes cas_unique).
func dataBlockLen(cmd command) (int, bool) {
	if len(cmd.args) < 4 {
		return 0, false
	}
	n, err := strconv.Atoi(cmd.args[3])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func readDataBlock(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n+2) // + trailing \r\n
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, errors.New("stratacache/wire: data block missing trailing CRLF")
	}
	return buf[:n], nil
}

func writeUnless(w *bufio.Writer, suppress bool, reply string) {
	if suppress {
		return
	}
	w.WriteString(reply)
}

// dispatch runs one parsed command and returns the reply to send (empty
// means nothing, e.g. a noreply success) and whether the session should
// close after writing it.
func (h *Handler) dispatch(cmd command) (reply string, quit bool) {
	ctx, cancel := context.WithTimeout(context.Background(), h.CommandTimeout)
	defer cancel()

	switch cmd.verb {
	case "get", "gets":
		return h.handleGet(ctx, cmd), false
	case "set", "add", "replace", "append", "prepend", "cas":
		return h.handleStore(ctx, cmd), false
	case "delete":
		return h.handleDelete(ctx, cmd), false
	case "incr", "decr":
		return h.handleIncrDecr(ctx, cmd), false
	case "flush_all":
		return h.handleFlushAll(ctx, cmd), false
	case "version":
		return replyVersion(h.Version), false
	case "stats":
		return h.handleStats(), false
	case "streaming_get":
		return h.handleStreamingGet(ctx, cmd), false
	case "quit":
		return "", true
	default:
		return replyError(), false
	}
}

func (h *Handler) handleGet(ctx context.Context, cmd command) string {
	if len(cmd.args) == 0 {
		return replyClientError("bad command line format")
	}
	withCAS := cmd.verb == "gets"

	out, err := h.Pool.Submit(ctx, cmd.verb, func() (string, error) {
		var b strings.Builder
		now := h.Now()
		for _, key := range cmd.args {
			if !validKey(key) {
				continue
			}
			item, ok, err := h.Coord.Get(key, now)
			if err != nil {
				return "", err
			}
			if !ok {
				continue
			}
			b.WriteString(replyValue(key, item.Flags, item.Value, item.CAS, withCAS))
		}
		b.WriteString(replyEnd())
		return b.String(), nil
	})
	if err != nil {
		return errToReply(err)
	}
	return out
}

func (h *Handler) handleStore(ctx context.Context, cmd command) string {
	verb := cmd.verb
	minArgs := 4
	if verb == "cas" {
		minArgs = 5
	}
	if len(cmd.args) < minArgs {
		return replyClientError("bad command line format")
	}
	key := cmd.args[0]
	if !validKey(key) {
		return replyClientError("bad key")
	}
	flags64, err := strconv.ParseUint(cmd.args[1], 10, 32)
	if err != nil {
		return replyClientError("bad flags")
	}
	exptime, err := strconv.ParseInt(cmd.args[2], 10, 64)
	if err != nil {
		return replyClientError("bad exptime")
	}
	flags := uint32(flags64)

	var casToken uint64
	if verb == "cas" {
		casToken, err = strconv.ParseUint(cmd.args[4], 10, 64)
		if err != nil {
			return replyClientError("bad cas token")
		}
	}

	reply, err := h.Pool.Submit(ctx, verb, func() (string, error) {
		now := h.Now()
		expiry := resolveExpiry(exptime, now, h.DefaultTTL, h.MaxTTL)

		var opErr error
		switch verb {
		case "set":
			_, opErr = h.Coord.Set(key, cmd.data, flags, expiry, now)
		case "add":
			_, opErr = h.Coord.Add(key, cmd.data, flags, expiry, now)
		case "replace":
			_, opErr = h.Coord.Replace(key, cmd.data, flags, expiry, now)
		case "append":
			_, opErr = h.Coord.Append(key, cmd.data, now)
		case "prepend":
			_, opErr = h.Coord.Prepend(key, cmd.data, now)
		case "cas":
			_, opErr = h.Coord.CAS(key, cmd.data, flags, expiry, casToken, now)
		}
		return storeReply(opErr), nil
	})
	if err != nil {
		return errToReply(err)
	}
	if cmd.noReply && reply == replyStored() {
		return ""
	}
	return reply
}

// storeReply maps a coordinator store-path error to the matching business
// outcome response. A nil error always means STORED.
func storeReply(err error) string {
	switch {
	case err == nil:
		return replyStored()
	case stratacache.IsNotStored(err):
		return replyNotStored()
	case stratacache.IsExists(err):
		return replyExists()
	case stratacache.IsNotFound(err):
		return replyNotFound()
	default:
		return errToReply(err)
	}
}

func (h *Handler) handleDelete(ctx context.Context, cmd command) string {
	if len(cmd.args) < 1 {
		return replyClientError("bad command line format")
	}
	key := cmd.args[0]

	reply, err := h.Pool.Submit(ctx, "delete", func() (string, error) {
		existed, err := h.Coord.Delete(key, h.Now())
		if err != nil {
			return "", err
		}
		if existed {
			return replyDeleted(), nil
		}
		return replyNotFound(), nil
	})
	if err != nil {
		return errToReply(err)
	}
	if cmd.noReply {
		return ""
	}
	return reply
}

func (h *Handler) handleIncrDecr(ctx context.Context, cmd command) string {
	if len(cmd.args) < 2 {
		return replyClientError("bad command line format")
	}
	key := cmd.args[0]
	delta, err := strconv.ParseUint(cmd.args[1], 10, 64)
	if err != nil {
		return replyClientError("invalid numeric delta argument")
	}
	incr := cmd.verb == "incr"

	reply, err := h.Pool.Submit(ctx, cmd.verb, func() (string, error) {
		var v uint64
		var opErr error
		if incr {
			v, opErr = h.Coord.Incr(key, delta, h.Now())
		} else {
			v, opErr = h.Coord.Decr(key, delta, h.Now())
		}
		if opErr != nil {
			return "", opErr
		}
		return replyUint64(v), nil
	})
	if err != nil {
		return errToReply(err)
	}
	if cmd.noReply {
		return ""
	}
	return reply
}

func (h *Handler) handleFlushAll(ctx context.Context, cmd command) string {
	var delay uint64
	if len(cmd.args) >= 1 {
		d, err := strconv.ParseUint(cmd.args[0], 10, 64)
		if err != nil {
			return replyClientError("bad delay")
		}
		delay = d
	}

	_, err := h.Pool.Submit(ctx, "flush_all", func() (string, error) {
		h.Coord.FlushAll(delay, h.Now())
		return replyOK(), nil
	})
	if err != nil {
		return errToReply(err)
	}
	if cmd.noReply {
		return ""
	}
	return replyOK()
}

// handleStats reports the metrics rollup as standard Memcached STAT lines.
// Absent a registry, it still replies with an empty list terminated by END.
func (h *Handler) handleStats() string {
	var b strings.Builder
	if h.Metrics != nil {
		for _, line := range h.Metrics.Snapshot().Lines() {
			b.WriteString(line)
			b.WriteString(crlf)
		}
	}
	b.WriteString(replyEnd())
	return b.String()
}

func (h *Handler) handleStreamingGet(ctx context.Context, cmd command) string {
	if len(cmd.args) < 2 {
		return replyClientError("bad command line format")
	}
	key := cmd.args[0]
	chunkSize, err := strconv.Atoi(cmd.args[1])
	if err != nil || chunkSize <= 0 {
		return replyClientError("bad chunk size")
	}

	out, err := h.Pool.Submit(ctx, "streaming_get", func() (string, error) {
		it, ok, err := h.Coord.NewChunkIterator(key, chunkSize, h.Now())
		if err != nil {
			return "", err
		}
		var b strings.Builder
		if ok {
			seq := 0
			for {
				chunk, more := it.Next()
				if !more {
					break
				}
				b.WriteString(replyChunk(seq, chunk))
				seq++
			}
		}
		b.WriteString(replyEnd())
		return b.String(), nil
	})
	if err != nil {
		return errToReply(err)
	}
	return out
}

// errToReply maps an infra-level error (everything that is not a business
// outcome already handled by storeReply) to a wire-level error response.
func errToReply(err error) string {
	switch {
	case stratacache.IsClientError(err):
		return replyClientError(err.Error())
	case stratacache.IsTimeout(err):
		return replyServerError("timeout")
	case stratacache.IsOverloaded(err):
		return replyServerError("overloaded")
	case stratacache.IsL1Full(err):
		return replyServerError("out of memory")
	default:
		return replyServerError("internal error")
	}
}
