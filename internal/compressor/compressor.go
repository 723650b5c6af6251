// compressor.go: framed compress/decompress with a size-threshold bypass.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package compressor

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Header bytes identifying the framing of a stored value: a 1-byte
// framing header, {0=raw, 1=LZ4}.
const (
	headerRaw  byte = 0
	headerLZ4  byte = 1
	headerSize      = 1 + 4 // header byte + raw_len uint32 LE
)

// Compressor implements encode(raw) -> framed, decode(framed) -> raw, with
// a size-threshold bypass and a safe fallback to raw framing when LZ4 does
// not shrink the payload.
type Compressor struct {
	// Threshold is the minimum raw length, in bytes, before LZ4 is
	// attempted. Values shorter than this are always stored raw.
	Threshold int
	// Enabled turns LZ4 off entirely (every value is stored raw framed);
	// used when Compression.enable_lz4 is false.
	Enabled bool
}

// New returns a Compressor with the given threshold and LZ4 toggle.
func New(threshold int, enabled bool) *Compressor {
	if threshold < 0 {
		threshold = 0
	}
	return &Compressor{Threshold: threshold, Enabled: enabled}
}

// Encode frames raw, compressing with LZ4 when enabled, raw is at least
// Threshold bytes, and the compressed form is strictly smaller than raw.
// Encoding is deterministic for a given input, though callers must not rely
// on that.
func (c *Compressor) Encode(raw []byte) []byte {
	if !c.Enabled || len(raw) < c.Threshold {
		return frameRaw(raw)
	}

	compressed, ok := lz4Compress(raw)
	if !ok || len(compressed) >= len(raw) {
		return frameRaw(raw)
	}

	framed := make([]byte, headerSize+len(compressed))
	framed[0] = headerLZ4
	binary.LittleEndian.PutUint32(framed[1:5], uint32(len(raw)))
	copy(framed[headerSize:], compressed)
	return framed
}

// Decode reverses Encode. It returns a plain error when the frame is
// shorter than its header, the header is unknown, or the declared raw_len
// disagrees with the decompressed length.
func (c *Compressor) Decode(framed []byte) ([]byte, error) {
	if len(framed) < headerSize {
		return nil, fmt.Errorf("stratacache/compressor: frame too short (%d bytes)", len(framed))
	}

	header := framed[0]
	rawLen := binary.LittleEndian.Uint32(framed[1:5])
	payload := framed[headerSize:]

	switch header {
	case headerRaw:
		if uint32(len(payload)) != rawLen {
			return nil, fmt.Errorf("stratacache/compressor: raw_len mismatch: declared %d, got %d", rawLen, len(payload))
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case headerLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("stratacache/compressor: lz4 decompress: %w", err)
		}
		if uint32(n) != rawLen {
			return nil, fmt.Errorf("stratacache/compressor: raw_len mismatch: declared %d, got %d", rawLen, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("stratacache/compressor: unknown frame header %d", header)
	}
}

func frameRaw(raw []byte) []byte {
	framed := make([]byte, headerSize+len(raw))
	framed[0] = headerRaw
	binary.LittleEndian.PutUint32(framed[1:5], uint32(len(raw)))
	copy(framed[headerSize:], raw)
	return framed
}

// lz4Compress compresses src into a new block, returning ok=false if the
// block compressor reports the data did not shrink (lz4 signals this by
// returning n=0, nil error for incompressible input).
func lz4Compress(src []byte) ([]byte, bool) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(src, dst)
	if err != nil || n == 0 {
		return nil, false
	}
	return dst[:n], true
}
