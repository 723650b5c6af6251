// meta.go: fixed-layout metadata record for L2 entries.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package l2

import (
	"encoding/binary"
	"fmt"
)

// metaSize is the exact on-disk size of a Meta record: flags:u32, cas:u64,
// created_at:u64, last_access:u64, expiry:u64, raw_size:u32, stored_size:u32,
// little-endian, no padding.
const metaSize = 4 + 8 + 8 + 8 + 8 + 4 + 4

// Meta is the L2 entry metadata record, co-located with its data
// record under the same key prefix.
type Meta struct {
	Flags      uint32
	CAS        uint64
	CreatedAt  uint64
	LastAccess uint64
	Expiry     uint64 // 0 = never
	RawSize    uint32
	StoredSize uint32
}

func (m Meta) encode() []byte {
	buf := make([]byte, metaSize)
	binary.LittleEndian.PutUint32(buf[0:4], m.Flags)
	binary.LittleEndian.PutUint64(buf[4:12], m.CAS)
	binary.LittleEndian.PutUint64(buf[12:20], m.CreatedAt)
	binary.LittleEndian.PutUint64(buf[20:28], m.LastAccess)
	binary.LittleEndian.PutUint64(buf[28:36], m.Expiry)
	binary.LittleEndian.PutUint32(buf[36:40], m.RawSize)
	binary.LittleEndian.PutUint32(buf[40:44], m.StoredSize)
	return buf
}

func decodeMeta(buf []byte) (Meta, error) {
	if len(buf) != metaSize {
		return Meta{}, fmt.Errorf("stratacache/l2: metadata record has %d bytes, want %d", len(buf), metaSize)
	}
	return Meta{
		Flags:      binary.LittleEndian.Uint32(buf[0:4]),
		CAS:        binary.LittleEndian.Uint64(buf[4:12]),
		CreatedAt:  binary.LittleEndian.Uint64(buf[12:20]),
		LastAccess: binary.LittleEndian.Uint64(buf[20:28]),
		Expiry:     binary.LittleEndian.Uint64(buf[28:36]),
		RawSize:    binary.LittleEndian.Uint32(buf[36:40]),
		StoredSize: binary.LittleEndian.Uint32(buf[40:44]),
	}, nil
}

const (
	dataPrefix = "D/"
	metaPrefix = "M/"
)

func dataKey(key string) []byte { return []byte(dataPrefix + key) }
func metaKey(key string) []byte { return []byte(metaPrefix + key) }

func userKeyFromMetaKey(b []byte) string { return string(b[len(metaPrefix):]) }
