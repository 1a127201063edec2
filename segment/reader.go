// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"fmt"

	"github.com/dreamsxin/raftlog/entrycache"
	"github.com/dreamsxin/raftlog/sparseindex"
	"github.com/dreamsxin/raftlog/types"
)

// Reader is a forward-only positioned cursor over a sealed segment's
// entries. Unlike GetLog (random access by index), Next advances an
// internal byte offset directly, so a full sequential scan pays for a
// sparse-index Lookup only once, at the first positioning call, rather
// than once per entry.
type Reader struct {
	info    types.SegmentInfo
	rf      types.ReadableFile
	index   *sparseindex.Index
	cache   *entrycache.Cache
	lastIdx uint64 // highest index this segment holds, from replay at open
	used    uint64 // bytes occupied by valid records, from replay at open
	empty   bool   // true if replay found zero entries

	closed  bool
	cur     uint64 // index the next Next() call will return
	offset  uint64 // byte offset cur lives at; valid only when positioned
	hasNext bool
}

// openReader opens a sealed segment for sequential reads, rebuilding its
// sparse index and entry cache by replaying the file once -- sealed
// segments persist no index block in this format, so every Open pays this
// cost exactly once rather than trusting stale on-disk metadata.
func openReader(info types.SegmentInfo, rf types.ReadableFile, density float64, cacheCap int) (*Reader, error) {
	idx := sparseindex.New(density)
	cache := entrycache.New(cacheCap)

	offset := uint64(descriptorBytes)
	expectedIdx := info.BaseIndex
	header := make([]byte, frameHeaderLen)
	lastIdx := info.BaseIndex
	found := false

	for {
		n, _ := rf.ReadAt(header, int64(offset))
		if n < frameHeaderLen {
			break
		}
		fh := decodeFrameHeader(header)
		if fh.length == 0 {
			break
		}
		payload := make([]byte, fh.length)
		if _, err := rf.ReadAt(payload, int64(offset+frameHeaderLen)); err != nil {
			break
		}
		if checksum(payload) != fh.crc {
			return nil, fmt.Errorf("%w: sealed segment %d index %d failed checksum", types.ErrCorrupt, info.ID, expectedIdx)
		}
		idx.Put(expectedIdx, offset)
		cache.Put(expectedIdx, payload)
		lastIdx = expectedIdx
		found = true
		offset += frameHeaderLen + uint64(fh.length)
		expectedIdx++
	}

	r := &Reader{
		info:    info,
		rf:      rf,
		index:   idx,
		cache:   cache,
		lastIdx: lastIdx,
		used:    offset,
		empty:   !found,
	}
	r.Reset()
	return r, nil
}

// Close implements io.Closer.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.rf.Close()
}

// GetLog returns the entry at idx directly, independent of cursor position.
func (r *Reader) GetLog(idx uint64, le *types.LogEntry) error {
	if r.closed {
		return types.ErrClosed
	}
	if r.empty || idx < r.info.MinIndex || idx > r.lastIdx {
		return types.ErrNotFound
	}
	if data, ok := r.cache.Get(idx); ok {
		le.Index, le.Data = idx, data
		return nil
	}
	startIdx, offset, ok := r.index.Lookup(idx)
	if !ok {
		return types.ErrNotFound
	}
	return scanForward(r.rf, offset, startIdx, idx, le)
}

// Stats reports the sealed segment's entry count, bytes used, and the
// sparse index density actually achieved.
func (r *Reader) Stats() Stats {
	var count uint64
	if !r.empty && r.lastIdx >= r.info.MinIndex {
		count = r.lastIdx - r.info.MinIndex + 1
	}
	n := r.index.Len()
	return Stats{
		EntryCount:   count,
		ByteSize:     r.used,
		IndexEntries: n,
		Density:      density(n, count),
	}
}

// LookupOffset exposes the segment's sparse index floor lookup directly,
// for the root package's multi-segment Reader to drive its own stateless
// forward scan across segment boundaries.
func (r *Reader) LookupOffset(target uint64) (idx, offset uint64, ok bool) {
	if r.empty || target > r.lastIdx {
		return 0, 0, false
	}
	return r.index.Lookup(target)
}

// ReadFrame reads the frame at offset (expected to hold idx). It has no
// cursor state of its own to race with Next/Reset, so it is safe to call
// from multiple independent positioned readers sharing this Reader.
func (r *Reader) ReadFrame(offset, idx uint64, le *types.LogEntry) (uint64, error) {
	if r.closed {
		return 0, types.ErrClosed
	}
	return readFrameAt(r.rf, r.cache, offset, idx, le)
}

// Reset repositions the cursor to the first entry in the segment.
func (r *Reader) Reset() {
	_ = r.ResetToIndex(r.info.MinIndex)
}

// ResetToIndex repositions the cursor so the next Next() call returns
// target, using the sparse index to find the nearest offset rather than
// scanning from the beginning.
func (r *Reader) ResetToIndex(target uint64) error {
	if target < r.info.MinIndex {
		return types.ErrNotFound
	}
	if r.empty || target > r.lastIdx {
		r.cur, r.hasNext = target, false
		return nil
	}
	startIdx, base, ok := r.index.Lookup(target)
	if !ok {
		startIdx, base = r.info.BaseIndex, descriptorBytes
	}
	offset, err := r.locate(base, startIdx, target)
	if err != nil {
		return err
	}
	r.cur, r.offset, r.hasNext = target, offset, true
	return nil
}

// locate scans forward from (offset, curIdx) until it reaches target,
// returning the byte offset target's frame starts at.
func (r *Reader) locate(offset, curIdx, target uint64) (uint64, error) {
	header := make([]byte, frameHeaderLen)
	for curIdx < target {
		if _, err := r.rf.ReadAt(header, int64(offset)); err != nil {
			return 0, types.ErrNotFound
		}
		fh := decodeFrameHeader(header)
		if fh.length == 0 {
			return 0, types.ErrNotFound
		}
		offset += frameHeaderLen + uint64(fh.length)
		curIdx++
	}
	return offset, nil
}

// HasNext reports whether Next would succeed.
func (r *Reader) HasNext() bool {
	return !r.closed && r.hasNext && r.cur <= r.lastIdx
}

// Next returns the entry at the cursor, advances it by one, and advances
// the byte offset directly rather than performing another index Lookup.
func (r *Reader) Next(le *types.LogEntry) error {
	if !r.HasNext() {
		return types.ErrNoSuchElement
	}
	if data, ok := r.cache.Get(r.cur); ok {
		le.Index, le.Data = r.cur, data
		n, err := r.frameSize(r.offset)
		if err != nil {
			r.hasNext = false
			return err
		}
		r.offset += n
		r.cur++
		return nil
	}

	header := make([]byte, frameHeaderLen)
	if _, err := r.rf.ReadAt(header, int64(r.offset)); err != nil {
		r.hasNext = false
		return types.ErrNoSuchElement
	}
	fh := decodeFrameHeader(header)
	if fh.length == 0 {
		r.hasNext = false
		return types.ErrNoSuchElement
	}
	payload := make([]byte, fh.length)
	if _, err := r.rf.ReadAt(payload, int64(r.offset+frameHeaderLen)); err != nil {
		r.hasNext = false
		return types.ErrNoSuchElement
	}
	if checksum(payload) != fh.crc {
		return fmt.Errorf("%w: index %d", types.ErrCorrupt, r.cur)
	}
	le.Index, le.Data = r.cur, payload
	r.offset += frameHeaderLen + uint64(fh.length)
	r.cur++
	return nil
}

// frameSize reads just the length header at offset, used when Next serves
// an entry from cache and still needs to advance the byte cursor.
func (r *Reader) frameSize(offset uint64) (uint64, error) {
	header := make([]byte, frameHeaderLen)
	if _, err := r.rf.ReadAt(header, int64(offset)); err != nil {
		return 0, types.ErrNoSuchElement
	}
	fh := decodeFrameHeader(header)
	if fh.length == 0 {
		return 0, types.ErrNoSuchElement
	}
	return frameHeaderLen + uint64(fh.length), nil
}

// CurrentIndex returns the index Next would return next.
func (r *Reader) CurrentIndex() uint64 {
	return r.cur
}

// Verify re-reads every entry in the segment from disk, from the
// beginning and without consulting the entry cache, and returns the first
// checksum mismatch or missing frame it finds wrapped in types.ErrCorrupt.
// Ordinary reads of a sealed segment report a checksum mismatch as
// types.ErrCorrupt too (openReader fails on one during its replay, and
// Next and ReadFrame return it); none of them treats it as a clean EOF.
// Only recoverWriter, on the live tail, stops at a mismatch as end of data.
func (r *Reader) Verify() error {
	offset := uint64(descriptorBytes)
	idx := r.info.BaseIndex
	header := make([]byte, frameHeaderLen)
	for idx <= r.lastIdx {
		if _, err := r.rf.ReadAt(header, int64(offset)); err != nil {
			return fmt.Errorf("%w: segment %d truncated before index %d", types.ErrCorrupt, r.info.ID, idx)
		}
		fh := decodeFrameHeader(header)
		if fh.length == 0 {
			return fmt.Errorf("%w: segment %d truncated before index %d", types.ErrCorrupt, r.info.ID, idx)
		}
		payload := make([]byte, fh.length)
		if _, err := r.rf.ReadAt(payload, int64(offset+frameHeaderLen)); err != nil {
			return fmt.Errorf("%w: segment %d truncated before index %d", types.ErrCorrupt, r.info.ID, idx)
		}
		if checksum(payload) != fh.crc {
			return fmt.Errorf("%w: segment %d index %d failed checksum", types.ErrCorrupt, r.info.ID, idx)
		}
		offset += frameHeaderLen + uint64(fh.length)
		idx++
	}
	return nil
}
