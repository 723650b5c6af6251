// protocol_test.go: unit tests for command parsing and response framing.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package wire

import "testing"

func TestParseLineSplitsVerbArgsAndNoReply(t *testing.T) {
	cmd := parseLine("set foo 0 0 5 noreply")
	if cmd.verb != "set" {
		t.Fatalf("verb = %q", cmd.verb)
	}
	if len(cmd.args) != 4 || cmd.args[0] != "foo" {
		t.Fatalf("args = %v", cmd.args)
	}
	if !cmd.noReply {
		t.Fatal("expected noreply")
	}
}

func TestParseLineWithoutNoReply(t *testing.T) {
	cmd := parseLine("get foo")
	if cmd.noReply {
		t.Fatal("did not expect noreply")
	}
	if len(cmd.args) != 1 || cmd.args[0] != "foo" {
		t.Fatalf("args = %v", cmd.args)
	}
}

func TestValidKeyRejectsEmptyTooLongAndControlBytes(t *testing.T) {
	if validKey("") {
		t.Fatal("empty key should be invalid")
	}
	if validKey(string(make([]byte, 251))) {
		t.Fatal("251-byte key should be invalid")
	}
	if validKey("has space") {
		t.Fatal("key with space should be invalid")
	}
	if !validKey("normal-key_123") {
		t.Fatal("expected a normal key to be valid")
	}
}

func TestResolveExpiryNeverWhenZeroAndNoDefault(t *testing.T) {
	got := resolveExpiry(0, 1000, 0, 0)
	if got != 0 {
		t.Fatalf("expected never (0), got %d", got)
	}
}

func TestResolveExpiryRelativeWithinAMonth(t *testing.T) {
	got := resolveExpiry(60, 1000, 0, 0)
	if got != 1060 {
		t.Fatalf("expected 1060, got %d", got)
	}
}

func TestResolveExpiryAbsoluteBeyondAMonth(t *testing.T) {
	const secondsMonthPlusOne = secondsMonth + 1
	got := resolveExpiry(secondsMonthPlusOne, 1000, 0, 0)
	if got != secondsMonthPlusOne {
		t.Fatalf("expected absolute timestamp %d, got %d", secondsMonthPlusOne, got)
	}
}

func TestResolveExpiryClampsToMaxTTL(t *testing.T) {
	got := resolveExpiry(1000, 0, 0, 100)
	if got != 100 {
		t.Fatalf("expected clamp to max_ttl (100), got %d", got)
	}
}

func TestReplyValueGrammar(t *testing.T) {
	got := replyValue("foo", 0, []byte("hello"), 0, false)
	want := "VALUE foo 0 5\r\nhello\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReplyValueWithCAS(t *testing.T) {
	got := replyValue("foo", 1, []byte("x"), 42, true)
	want := "VALUE foo 1 1 42\r\nx\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
