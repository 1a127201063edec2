// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"fmt"
	"sync"

	"github.com/dreamsxin/raftlog/entrycache"
	"github.com/dreamsxin/raftlog/errs"
	"github.com/dreamsxin/raftlog/sparseindex"
	"github.com/dreamsxin/raftlog/types"
)

// Writer is the live, unsealed tail segment. It implements both
// types.SegmentWriter (append path) and, by extension, types.SegmentReader
// (random access), since the tail keeps no separate on-disk index the way
// a sealed segment's reader would use -- reads against the tail are
// served from the same in-memory sparseindex.Index and entrycache.Cache
// the append path maintains.
type Writer struct {
	mu sync.RWMutex

	file         types.SegmentFile
	info         types.SegmentInfo
	maxEntrySize uint32

	tail     uint64 // next write offset, measured from file start
	lastIdx  uint64 // highest index written; 0 means empty
	hasLast  bool
	sealed   bool
	closed   bool

	index *sparseindex.Index
	cache *entrycache.Cache

	scratch []byte
}

// WriterConfig bundles the knobs newWriter needs that don't belong on
// types.SegmentInfo itself.
type WriterConfig struct {
	MaxEntrySize  uint32
	IndexDensity  float64
	EntryCacheCap int
}

// newWriter wraps an already-created, pre-allocated file as the live tail
// of a fresh segment with no entries yet.
func newWriter(file types.SegmentFile, info types.SegmentInfo, cfg WriterConfig) *Writer {
	return &Writer{
		file:         file,
		info:         info,
		maxEntrySize: cfg.MaxEntrySize,
		tail:         descriptorBytes,
		index:        sparseindex.New(cfg.IndexDensity),
		cache:        entrycache.New(cfg.EntryCacheCap),
		scratch:      make([]byte, frameHeaderLen+cfg.MaxEntrySize),
	}
}

// recoverWriter re-derives the Writer's append-position state by replaying
// an existing file from just past its descriptor, stopping at the first
// torn or zero-length frame -- recovery by replay, applied only to the
// tail segment, since this format keeps no separate persisted index
// block to trust instead.
func recoverWriter(file types.SegmentFile, info types.SegmentInfo, cfg WriterConfig) (*Writer, error) {
	w := newWriter(file, info, cfg)
	offset := uint64(descriptorBytes)
	expectedIdx := info.BaseIndex
	header := make([]byte, frameHeaderLen)

	for {
		n, _ := file.ReadAt(header, int64(offset))
		if n < frameHeaderLen {
			break // true EOF short of a full header: clean end of data
		}
		fh := decodeFrameHeader(header)
		if fh.length == 0 {
			break // zero-padding past the last write: canonical EOF sentinel
		}
		if uint64(offset)+frameHeaderLen+uint64(fh.length) > uint64(info.SizeLimit) {
			break // length field itself is torn/garbage past file bounds
		}
		payload := make([]byte, fh.length)
		if _, err := file.ReadAt(payload, int64(offset+frameHeaderLen)); err != nil {
			break
		}
		if checksum(payload) != fh.crc {
			break // torn tail: CRC over a partially-flushed write
		}
		w.index.Put(expectedIdx, offset)
		w.cache.Put(expectedIdx, payload)
		w.lastIdx = expectedIdx
		w.hasLast = true
		offset += frameHeaderLen + uint64(fh.length)
		expectedIdx++
	}
	w.tail = offset
	return w, nil
}

// Append writes entries sequentially starting at the current tail. It
// stops and returns types.ErrSegmentFull the moment an entry would not fit
// before info.SizeLimit, without partially writing that entry; entries
// already written by this call remain committed. The caller (the Log
// orchestrator) is expected to roll to a new segment and retry the
// remainder.
func (w *Writer) Append(entries []types.LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return types.ErrClosed
	}
	if w.sealed {
		return types.ErrSealed
	}

	for _, e := range entries {
		if w.hasLast && e.Index != w.lastIdx+1 {
			return fmt.Errorf("raftlog: non-contiguous append: have %d, got %d", w.lastIdx, e.Index)
		}
		if uint32(len(e.Data)) > w.maxEntrySize {
			return types.ErrTooLarge
		}
		need := uint64(frameHeaderLen) + uint64(len(e.Data))
		if w.tail+need > uint64(w.info.SizeLimit) {
			return types.ErrSegmentFull
		}

		buf := w.scratch[:need]
		encodeFrameHeader(buf[:frameHeaderLen], frameHeader{length: uint32(len(e.Data)), crc: checksum(e.Data)})
		copy(buf[frameHeaderLen:], e.Data)
		if _, err := w.file.WriteAt(buf, int64(w.tail)); err != nil {
			return errs.New("append entry", err).WithSegment(w.info.ID)
		}

		w.index.Put(e.Index, w.tail)
		cached := make([]byte, len(e.Data))
		copy(cached, e.Data)
		w.cache.Put(e.Index, cached)

		w.tail += need
		w.lastIdx = e.Index
		w.hasLast = true
	}
	return nil
}

// Commit fsyncs the underlying file so every Append since the last Commit
// is durable.
func (w *Writer) Commit() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.file.Sync(); err != nil {
		return errs.New("fsync segment", err).WithSegment(w.info.ID)
	}
	return nil
}

// Sealed reports whether this segment has stopped accepting writes and,
// if so, its final index.
func (w *Writer) Sealed() (bool, uint64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sealed, w.lastIdx, nil
}

// Seal marks the segment closed to further appends. Called by the Log
// orchestrator once it has rolled to a successor segment.
func (w *Writer) Seal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sealed = true
}

// Unseal reopens the segment to appends again. Called by the Log
// orchestrator when TruncateBack resurrects a previously sealed segment
// as the new tail.
func (w *Writer) Unseal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sealed = false
}

// LastIndex returns the highest index written, or info.BaseIndex-1 (i.e.
// "one before the first possible index") if nothing has been written yet.
func (w *Writer) LastIndex() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.hasLast {
		if w.info.BaseIndex == 0 {
			return 0
		}
		return w.info.BaseIndex - 1
	}
	return w.lastIdx
}

// Size reports how many bytes of the pre-allocated file are in use.
func (w *Writer) Size() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tail
}

// IsFull reports whether even the smallest possible record (zero-length
// payload) would no longer fit.
func (w *Writer) IsFull() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tail+frameHeaderLen > uint64(w.info.SizeLimit)
}

// Stats reports the tail's current entry count, bytes used, and the
// sparse index density actually achieved.
func (w *Writer) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var count uint64
	if w.hasLast && w.lastIdx >= w.info.MinIndex {
		count = w.lastIdx - w.info.MinIndex + 1
	}
	n := w.index.Len()
	return Stats{
		EntryCount:   count,
		ByteSize:     w.tail,
		IndexEntries: n,
		Density:      density(n, count),
	}
}

// LookupOffset exposes the tail's sparse index floor lookup directly, for
// the root package's multi-segment Reader.
func (w *Writer) LookupOffset(target uint64) (idx, offset uint64, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.hasLast || target > w.lastIdx {
		return 0, 0, false
	}
	return w.index.Lookup(target)
}

// ReadFrame reads the frame at offset (expected to hold idx), consulting
// the cache first. It holds no lock across the actual disk read beyond
// snapshotting the file handle and cache reference, since both are safe
// for concurrent access independent of the writer's own mutable cursor
// fields.
func (w *Writer) ReadFrame(offset, idx uint64, le *types.LogEntry) (uint64, error) {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return 0, types.ErrClosed
	}
	file, cache := w.file, w.cache
	w.mu.RUnlock()
	return readFrameAt(file, cache, offset, idx, le)
}

// GetLog fills le with the entry at idx, preferring the entry cache and
// falling back to a forward scan from the nearest indexed offset.
func (w *Writer) GetLog(idx uint64, le *types.LogEntry) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return types.ErrClosed
	}
	if !w.hasLast || idx < w.info.BaseIndex || idx > w.lastIdx {
		w.mu.RUnlock()
		return types.ErrNotFound
	}
	if data, ok := w.cache.Get(idx); ok {
		w.mu.RUnlock()
		le.Index, le.Data = idx, data
		return nil
	}
	startIdx, offset, ok := w.index.Lookup(idx)
	file := w.file
	w.mu.RUnlock()
	if !ok {
		return types.ErrNotFound
	}
	return scanForward(file, offset, startIdx, idx, le)
}

// scanForward reads frames sequentially from offset, tracking the index
// each frame must correspond to, until it reaches target or hits a torn
// tail (treated as ErrNotFound, matching the "short/zero read past the
// last write is a clean boundary, not an error" rule this format applies
// uniformly whether the torn bytes belong to the live tail or a sealed
// segment recovered after an unclean shutdown).
func scanForward(file types.ReadableFile, offset, curIdx, target uint64, le *types.LogEntry) error {
	var tmp types.LogEntry
	for curIdx < target {
		n, err := readFrameAt(file, noCache, offset, curIdx, &tmp)
		if err != nil {
			return types.ErrNotFound
		}
		offset += n
		curIdx++
	}
	_, err := readFrameAt(file, noCache, offset, target, le)
	return err
}

// noCache is a capacity-0 entry cache: Get always misses, so readFrameAt
// always decodes straight off disk when called from a context (like
// scanForward's intermediate frames) that has no cache of its own to
// consult.
var noCache = entrycache.New(0)

// readFrameAt reads the single frame at offset, which must hold idx,
// consulting cache first and falling back to decoding it straight off
// disk. It returns the number of on-disk bytes the frame occupies (its
// header plus payload) so a caller driving its own cursor can advance
// past it without a second read, and never mutates any cursor state of
// its own -- this is what lets Writer.ReadFrame/Reader.ReadFrame be safe
// to call from multiple independent positioned readers at once.
func readFrameAt(rf types.ReadableFile, cache *entrycache.Cache, offset, idx uint64, le *types.LogEntry) (uint64, error) {
	header := make([]byte, frameHeaderLen)
	if data, ok := cache.Get(idx); ok {
		if _, err := rf.ReadAt(header, int64(offset)); err != nil {
			return 0, types.ErrNotFound
		}
		fh := decodeFrameHeader(header)
		if fh.length == 0 {
			return 0, types.ErrNotFound
		}
		le.Index, le.Data = idx, data
		return frameHeaderLen + uint64(fh.length), nil
	}
	if _, err := rf.ReadAt(header, int64(offset)); err != nil {
		return 0, types.ErrNotFound
	}
	fh := decodeFrameHeader(header)
	if fh.length == 0 {
		return 0, types.ErrNotFound
	}
	payload := make([]byte, fh.length)
	if _, err := rf.ReadAt(payload, int64(offset+frameHeaderLen)); err != nil {
		return 0, types.ErrNotFound
	}
	if checksum(payload) != fh.crc {
		return 0, fmt.Errorf("%w: index %d", types.ErrCorrupt, idx)
	}
	le.Index, le.Data = idx, payload
	return frameHeaderLen + uint64(fh.length), nil
}

// Close releases the underlying file handle. It does not truncate the
// pre-allocated tail; neither does Seal, so a segment file keeps its full
// SizeLimit on disk.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// TruncateBack discards every entry with index > newLastIndex, rewinding
// the tail so the next Append resumes exactly where the discarded entries
// began.
func (w *Writer) TruncateBack(newLastIndex uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.hasLast && newLastIndex >= w.lastIdx {
		return nil
	}
	var newTail uint64
	if newLastIndex < w.info.BaseIndex {
		newTail = descriptorBytes
		w.hasLast = false
		w.lastIdx = 0
	} else {
		startIdx, base, ok := w.index.Lookup(newLastIndex + 1)
		if !ok {
			startIdx, base, ok = w.index.Lookup(newLastIndex)
		}
		if !ok {
			startIdx, base = w.info.BaseIndex, descriptorBytes
		}
		off, scanErr := w.findOffsetLocked(base, startIdx, newLastIndex+1)
		if scanErr != nil {
			return scanErr
		}
		newTail = off
		w.lastIdx = newLastIndex
		w.hasLast = true
	}

	// Zero the length field at the new tail so a subsequent reopen's
	// replay sees a clean EOF instead of stale data from the discarded
	// entries.
	zero := make([]byte, frameHeaderLen)
	if _, err := w.file.WriteAt(zero, int64(newTail)); err != nil {
		return errs.New("truncate back", err).WithSegment(w.info.ID)
	}
	w.tail = newTail
	w.index.Truncate(newLastIndex)
	w.cache.Truncate(newLastIndex)
	return nil
}

func (w *Writer) findOffsetLocked(offset, curIdx, target uint64) (uint64, error) {
	header := make([]byte, frameHeaderLen)
	for curIdx < target {
		if _, err := w.file.ReadAt(header, int64(offset)); err != nil {
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
