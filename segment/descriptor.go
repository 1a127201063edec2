// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/dreamsxin/raftlog/types"
)

// magic identifies a file as belonging to this log format. version allows
// the on-disk layout to change in the future without silently misreading
// an incompatible file.
const (
	magic   uint32 = 0x5246_4C31 // "RFL1"
	version uint32 = 1

	// descriptorBytes is the fixed width of the header written at offset 0
	// of every segment file. Keeping it a round number leaves headroom in
	// the reserved padding for future fields without reflowing every
	// offset below it.
	descriptorBytes = 64
)

// descriptor is the fixed-width header at the start of every segment file.
type descriptor struct {
	Magic     uint32
	Version   uint32
	SegmentID uint64
	FirstIdx  uint64
	MaxSize   uint64

	// Updated is carried on the wire for forward compatibility but is not
	// consumed anywhere in this package. Its precise semantics (written
	// since last flush? closed cleanly?) were never pinned down upstream
	// and no reader depends on it, so we round-trip it and leave it at
	// that rather than guess.
	Updated byte
}

func encodeDescriptor(d descriptor) []byte {
	buf := make([]byte, descriptorBytes)
	binary.BigEndian.PutUint32(buf[0:4], d.Magic)
	binary.BigEndian.PutUint32(buf[4:8], d.Version)
	binary.BigEndian.PutUint64(buf[8:16], d.SegmentID)
	binary.BigEndian.PutUint64(buf[16:24], d.FirstIdx)
	binary.BigEndian.PutUint64(buf[24:32], d.MaxSize)
	buf[32] = d.Updated
	// buf[33:64] stays zeroed reserved padding.
	return buf
}

func decodeDescriptor(buf []byte) (descriptor, error) {
	if len(buf) < descriptorBytes {
		return descriptor{}, fmt.Errorf("%w: short descriptor (%d bytes)", types.ErrCorrupt, len(buf))
	}
	d := descriptor{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   binary.BigEndian.Uint32(buf[4:8]),
		SegmentID: binary.BigEndian.Uint64(buf[8:16]),
		FirstIdx:  binary.BigEndian.Uint64(buf[16:24]),
		MaxSize:   binary.BigEndian.Uint64(buf[24:32]),
		Updated:   buf[32],
	}
	if d.Magic != magic {
		return descriptor{}, fmt.Errorf("%w: bad magic %x", types.ErrCorrupt, d.Magic)
	}
	if d.Version != version {
		return descriptor{}, fmt.Errorf("%w: unsupported version %d", types.ErrCorrupt, d.Version)
	}
	return d, nil
}
