// protocol.go: ASCII Memcached framing — response grammar and command
// parsing.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package wire

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	crlf = "\r\n"

	maxKeyLen = 250

	// secondsMonth is the Memcached convention threshold: exptime values
	// at or below this are relative seconds from now; larger values are
	// absolute Unix timestamps.
	secondsMonth = 60 * 60 * 24 * 30
)

// command is a parsed request line, plus any attached data block for
// storage verbs.
type command struct {
	verb    string
	args    []string
	noReply bool
	data    []byte // populated by the session after reading the data block
}

// hasNoReply strips a trailing "noreply" token from args, if present.
func hasNoReply(args []string) ([]string, bool) {
	if len(args) > 0 && args[len(args)-1] == "noreply" {
		return args[:len(args)-1], true
	}
	return args, false
}

// parseLine splits a request line into verb and arguments. It does not
// validate arity — callers validate per-verb.
func parseLine(line string) command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}
	}
	args, noReply := hasNoReply(fields[1:])
	return command{verb: fields[0], args: args, noReply: noReply}
}

// validKey reports whether key satisfies the Memcached key rules: length
// 1..250, no whitespace or control bytes.
func validKey(key string) bool {
	if len(key) == 0 || len(key) > maxKeyLen {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c <= 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}

// resolveExpiry converts a wire exptime into an absolute deadline using the
// Memcached convention: 0 means never, values up to 30 days are relative to
// now, larger values are already absolute. The result is clamped to
// maxTTL when maxTTL > 0.
func resolveExpiry(exptime, now, defaultTTL, maxTTL int64) int64 {
	if exptime == 0 {
		if defaultTTL <= 0 {
			return 0
		}
		exptime = defaultTTL
	}

	var absolute int64
	if exptime < 0 {
		absolute = now - 1 // already expired
	} else if exptime <= secondsMonth {
		absolute = now + exptime
	} else {
		absolute = exptime
	}

	if maxTTL > 0 {
		if cap := now + maxTTL; absolute > cap {
			absolute = cap
		}
	}
	return absolute
}

// --- response formatting ----------------------------------------------

func replyStored() string     { return "STORED" + crlf }
func replyNotStored() string  { return "NOT_STORED" + crlf }
func replyExists() string     { return "EXISTS" + crlf }
func replyNotFound() string   { return "NOT_FOUND" + crlf }
func replyDeleted() string    { return "DELETED" + crlf }
func replyOK() string         { return "OK" + crlf }
func replyError() string      { return "ERROR" + crlf }
func replyUint64(v uint64) string { return strconv.FormatUint(v, 10) + crlf }

func replyClientError(msg string) string {
	return fmt.Sprintf("CLIENT_ERROR %s%s", msg, crlf)
}

func replyServerError(msg string) string {
	return fmt.Sprintf("SERVER_ERROR %s%s", msg, crlf)
}

func replyVersion(v string) string {
	return fmt.Sprintf("VERSION %s%s", v, crlf)
}

// replyValue formats a single VALUE line plus its data block; the caller
// appends the terminating END. cas is included only when withCAS is true
// (the "gets" verb).
func replyValue(key string, flags uint32, value []byte, cas uint64, withCAS bool) string {
	var b strings.Builder
	if withCAS {
		fmt.Fprintf(&b, "VALUE %s %d %d %d%s", key, flags, len(value), cas, crlf)
	} else {
		fmt.Fprintf(&b, "VALUE %s %d %d%s", key, flags, len(value), crlf)
	}
	b.Write(value)
	b.WriteString(crlf)
	return b.String()
}

func replyEnd() string { return "END" + crlf }

func replyChunk(seq int, data []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CHUNK %d %d%s", seq, len(data), crlf)
	b.Write(data)
	b.WriteString(crlf)
	return b.String()
}
