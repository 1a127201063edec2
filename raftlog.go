// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package raftlog implements a segmented, append-only log of opaque byte
// entries: the storage layer a Raft (or similar replicated state machine)
// implementation uses to persist its log, independent of the replication
// protocol, leader election, or the entry serialization format itself.
//
// A Log is made up of an ordered sequence of segment files, each holding
// a contiguous range of indices. Only the last segment, the tail, accepts
// writes; every earlier segment is sealed and read-only. Appends go
// through StoreLogs (or a TypedWriter), sequential and random-access reads go through Reader
// and GetLog respectively, and TruncateFront/TruncateBack implement the
// prefix/suffix trimming a Raft log needs for snapshotting and conflict
// resolution.
package raftlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/slices"
	"golang.org/x/time/rate"

	"github.com/dreamsxin/raftlog/errs"
	"github.com/dreamsxin/raftlog/metadb"
	"github.com/dreamsxin/raftlog/segment"
	"github.com/dreamsxin/raftlog/types"
)

// Re-exported sentinels so callers never need to import the types
// package directly just to compare errors.
var (
	ErrNotFound       = types.ErrNotFound
	ErrCorrupt        = types.ErrCorrupt
	ErrSealed         = types.ErrSealed
	ErrClosed         = types.ErrClosed
	ErrTooLarge       = types.ErrTooLarge
	ErrNoSuchElement  = types.ErrNoSuchElement
	ErrSegmentNotOpen = types.ErrSegmentNotOpen
	ErrOutOfRange     = errors.New("raftlog: index out of range")
)

// segRef is one entry in the in-memory segment table: its metadata plus
// whichever of writer/reader is currently open for it. The tail always
// carries a non-nil writer. A segment sealed by a rotation in this process
// keeps its (now sealed) writer; a sealed segment loaded at bootstrap has
// none and lazily opens a reader instead.
type segRef struct {
	info types.SegmentInfo

	mu     sync.Mutex
	writer types.SegmentWriter // the tail's, or kept from before a rotation sealed it
	reader types.SegmentReader // lazily opened for sealed segments without a writer, cached
}

// state is the Log's entire mutable world, published as a single
// immutable snapshot via atomic.Pointer so readers never observe a
// rotation or truncation half-applied.
type state struct {
	// segments is keyed by BaseIndex. It is the durable source of truth
	// for "what segments exist"; benbjohnson/immutable gives every
	// reader a consistent, lock-free snapshot to iterate or look up
	// against while a writer builds the next generation with Set/Delete.
	segments *immutable.SortedMap[uint64, *segRef]

	// baseIndices mirrors segments' keys in sorted order so GetLog/Reader
	// can binary-search for the segment owning a given index in O(log n)
	// instead of walking the map's iterator.
	baseIndices []uint64

	tailBase uint64 // BaseIndex of the current (unsealed) tail segment
}

func (s *state) tail() *segRef {
	seg, _ := s.segments.Get(s.tailBase)
	return seg
}

// segmentFor returns the segRef whose range contains index, the floor of
// baseIndices by binary search.
func (s *state) segmentFor(index uint64) (*segRef, bool) {
	i := sort.Search(len(s.baseIndices), func(i int) bool {
		return s.baseIndices[i] > index
	})
	if i == 0 {
		return nil, false
	}
	seg, ok := s.segments.Get(s.baseIndices[i-1])
	return seg, ok
}

// Log is a multi-segment append-only log of byte entries.
type Log struct {
	dir           string
	filer         types.SegmentFiler
	metaDB        types.MetaStore
	logger        log.Logger
	metrics       *logMetrics
	reg           prometheus.Registerer
	segmentSize   uint32
	maxEntrySize  uint32
	indexDensity  float64
	cacheSize     int
	deleteLimiter *rate.Limiter

	closed int32 // atomic bool

	writeMu sync.Mutex // serializes StoreLogs/TruncateFront/TruncateBack
	st      atomic.Pointer[state]
}

// Open opens or creates a log rooted at dir.
func Open(dir string, opts ...Option) (*Log, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if err := ensureDir(dir); err != nil {
		return nil, err
	}

	metaDB, err := metadb.Open(dir)
	if err != nil {
		return nil, err
	}

	filer := segment.NewFiler(dir, o.maxEntrySize, o.indexDensity, o.cacheSize)
	l, err := openWithStorage(dir, filer, metaDB, o)
	if err != nil {
		metaDB.Close()
		return nil, err
	}
	return l, nil
}

// openWithStorage builds a Log around an already-constructed filer and
// metaDB, the seam tests substitute a fake segmentFiler/MetaStore through
// to exercise rotation/truncation logic without real segment files.
func openWithStorage(dir string, filer types.SegmentFiler, metaDB types.MetaStore, o *options) (*Log, error) {
	l := &Log{
		dir:           dir,
		filer:         filer,
		metaDB:        metaDB,
		logger:        o.logger,
		metrics:       newLogMetrics(o.registerer),
		reg:           o.registerer,
		segmentSize:   o.segmentSize,
		maxEntrySize:  o.maxEntrySize,
		indexDensity:  o.indexDensity,
		cacheSize:     o.cacheSize,
		deleteLimiter: rate.NewLimiter(o.deleteRate, o.deleteBurst),
	}

	if err := l.bootstrap(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) bootstrap() error {
	ps, err := l.metaDB.Load(l.dir)
	if err != nil {
		return err
	}

	segments := &immutable.SortedMap[uint64, *segRef]{}
	baseIndices := make([]uint64, 0, len(ps.Segments)+1)

	if len(ps.Segments) == 0 {
		info := segment.NewSegmentInfo(1, 1, l.segmentSize, time.Now())
		w, err := l.filer.Create(info)
		if err != nil {
			return err
		}
		segments = segments.Set(info.BaseIndex, &segRef{info: info, writer: w})
		baseIndices = append(baseIndices, info.BaseIndex)
		l.st.Store(&state{segments: segments, baseIndices: baseIndices, tailBase: info.BaseIndex})
		return l.commitState()
	}

	sorted := append([]types.SegmentInfo(nil), ps.Segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BaseIndex < sorted[j].BaseIndex })

	tailIdx := len(sorted) - 1
	for i, info := range sorted {
		ref := &segRef{info: info}
		if i == tailIdx {
			w, err := l.filer.RecoverTail(info)
			if err != nil {
				return fmt.Errorf("recover tail segment %d: %w", info.ID, err)
			}
			ref.writer = w
		}
		segments = segments.Set(info.BaseIndex, ref)
		baseIndices = append(baseIndices, info.BaseIndex)
	}

	l.st.Store(&state{segments: segments, baseIndices: baseIndices, tailBase: sorted[tailIdx].BaseIndex})
	return nil
}

func (l *Log) checkClosed() error {
	if atomic.LoadInt32(&l.closed) != 0 {
		return types.ErrClosed
	}
	return nil
}

// IsOpen reports whether the log has not yet been closed.
func (l *Log) IsOpen() bool {
	return atomic.LoadInt32(&l.closed) == 0
}

// Close releases every open segment file and the metadata store.
func (l *Log) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	st := l.st.Load()
	var firstErr error
	iter := st.segments.Iterator()
	for !iter.Done() {
		_, ref, _ := iter.Next()
		ref.mu.Lock()
		if ref.writer != nil {
			if err := ref.writer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if ref.reader != nil {
			if err := ref.reader.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		ref.mu.Unlock()
	}
	if err := l.metaDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// FirstIndex returns the MinIndex of the first segment, or 0 if there are
// no segments. A log whose segments hold no entries yet still reports that
// MinIndex (1 for a newly created log).
func (l *Log) FirstIndex() uint64 {
	st := l.st.Load()
	if len(st.baseIndices) == 0 {
		return 0
	}
	first, _ := st.segments.Get(st.baseIndices[0])
	return first.info.MinIndex
}

// LastIndex returns the last index currently in the log, or 0 if empty.
func (l *Log) LastIndex() uint64 {
	st := l.st.Load()
	tail := st.tail()
	if tail == nil {
		return 0
	}
	tail.mu.Lock()
	defer tail.mu.Unlock()
	return tail.writer.LastIndex()
}

// Commit fsyncs the tail segment, making every Append since the last
// Commit durable.
func (l *Log) Commit() error {
	if err := l.checkClosed(); err != nil {
		return err
	}
	st := l.st.Load()
	tail := st.tail()
	tail.mu.Lock()
	defer tail.mu.Unlock()
	return tail.writer.Commit()
}

// Size reports how many bytes of the tail segment's pre-allocated file
// are currently in use.
func (l *Log) Size() uint64 {
	st := l.st.Load()
	tail := st.tail()
	if tail == nil {
		return 0
	}
	tail.mu.Lock()
	defer tail.mu.Unlock()
	return tail.writer.Size()
}

// IsFull reports whether the tail segment has no room for another
// append, i.e. the next StoreLogs call will trigger a rotation.
func (l *Log) IsFull() bool {
	st := l.st.Load()
	tail := st.tail()
	if tail == nil {
		return false
	}
	tail.mu.Lock()
	defer tail.mu.Unlock()
	return tail.writer.IsFull()
}

// GetLog fills le with the entry at index.
func (l *Log) GetLog(index uint64, le *types.LogEntry) error {
	if err := l.checkClosed(); err != nil {
		return err
	}
	st := l.st.Load()
	ref, ok := st.segmentFor(index)
	if !ok {
		return types.ErrNotFound
	}
	ref.mu.Lock()
	defer ref.mu.Unlock()

	// A segRef's reader, once opened, keeps its own snapshot of info and
	// so never observes a later TruncateFront advancing MinIndex. Enforce
	// the current front bound here, against the live segRef, rather than
	// trust whatever bound the cached reader captured at Open time.
	if index < ref.info.MinIndex {
		return types.ErrNotFound
	}

	var err error
	if ref.writer != nil {
		err = ref.writer.GetLog(index, le)
	} else {
		if ref.reader == nil {
			ref.reader, err = l.filer.Open(ref.info)
			if err != nil {
				return err
			}
		}
		err = ref.reader.GetLog(index, le)
	}
	if err == nil {
		l.metrics.entriesRead.Inc()
		l.metrics.entryBytesRead.Add(float64(len(le.Data)))
	}
	return err
}

// StoreLogs appends entries, which must have strictly consecutive
// indices starting at LastIndex()+1 (or at any index if the log is
// currently empty), rolling to a new segment as needed.
func (l *Log) StoreLogs(entries []types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := l.checkClosed(); err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.metrics.appends.Inc()

	for len(entries) > 0 {
		st := l.st.Load()
		tail := st.tail()
		tail.mu.Lock()
		err := tail.writer.Append(entries)
		if err == nil {
			var bytes int
			for _, e := range entries {
				bytes += len(e.Data)
			}
			l.metrics.entriesWritten.Add(float64(len(entries)))
			l.metrics.bytesWritten.Add(float64(bytes))
			tail.mu.Unlock()
			return nil
		}
		tail.mu.Unlock()

		if !errors.Is(err, types.ErrSegmentFull) {
			return err
		}

		// Figure out how much of the batch the tail accepted before
		// filling up, then roll and retry the remainder.
		tail.mu.Lock()
		accepted := tail.writer.LastIndex()
		tail.mu.Unlock()
		remaining := entries
		for len(remaining) > 0 && remaining[0].Index <= accepted {
			remaining = remaining[1:]
		}
		if len(remaining) == len(entries) && accepted < tail.info.BaseIndex {
			// Nothing fit and the tail is still empty: the entry is too
			// large for SizeLimit, and rotating again would not help.
			return fmt.Errorf("%w: entry %d does not fit in an empty segment", types.ErrTooLarge, entries[0].Index)
		}
		entries = remaining

		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

// rotateLocked seals the current tail and creates a new one. Caller must
// hold writeMu.
func (l *Log) rotateLocked() error {
	st := l.st.Load()
	oldTail := st.tail()

	oldTail.mu.Lock()
	oldTail.writer.Seal()
	lastIdx := oldTail.writer.LastIndex()
	oldTail.info.MaxIndex = lastIdx
	oldTail.info.SealTime = time.Now()
	oldTail.mu.Unlock()

	nextID := oldTail.info.ID + 1
	newInfo := segment.NewSegmentInfo(nextID, lastIdx+1, l.segmentSize, time.Now())
	w, err := l.filer.Create(newInfo)
	if err != nil {
		return err
	}

	newSegments := st.segments.Set(oldTail.info.BaseIndex, oldTail).Set(newInfo.BaseIndex, &segRef{info: newInfo, writer: w})
	newBaseIndices := append(append([]uint64(nil), st.baseIndices...), newInfo.BaseIndex)
	l.st.Store(&state{segments: newSegments, baseIndices: newBaseIndices, tailBase: newInfo.BaseIndex})

	l.metrics.segmentRotations.Inc()
	l.metrics.lastSegmentAgeSeconds.Set(oldTail.info.SealTime.Sub(oldTail.info.CreateTime).Seconds())
	level.Debug(l.logger).Log("msg", "rotated segment", "old_id", oldTail.info.ID, "new_id", newInfo.ID, "new_base", newInfo.BaseIndex)
	return l.commitState()
}

// TruncateFront discards every entry with index < newFirstIndex. Whole
// segments entirely below newFirstIndex are deleted; the segment
// straddling newFirstIndex has its MinIndex advanced in place, the data
// itself is left alone until the whole segment is eventually dropped.
func (l *Log) TruncateFront(newFirstIndex uint64) error {
	if err := l.checkClosed(); err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	oldFirst := l.FirstIndex()

	st := l.st.Load()
	segments := st.segments
	var toDelete []types.SegmentInfo
	newBaseIndices := make([]uint64, 0, len(st.baseIndices))

	iter := st.segments.Iterator()
	for !iter.Done() {
		base, ref, _ := iter.Next()
		ref.mu.Lock()
		switch {
		case ref.info.MaxIndex != 0 && ref.info.MaxIndex < newFirstIndex:
			if ref.reader != nil {
				ref.reader.Close()
				ref.reader = nil
			}
			toDelete = append(toDelete, ref.info)
			segments = segments.Delete(base)
		case base == st.tailBase && ref.writer.LastIndex() < newFirstIndex:
			// Tail has no entries at or past newFirstIndex: leave it be,
			// it remains the (now entirely empty-of-visible-data) tail.
			newBaseIndices = append(newBaseIndices, base)
		default:
			if ref.info.MinIndex < newFirstIndex {
				ref.info.MinIndex = newFirstIndex
			}
			newBaseIndices = append(newBaseIndices, base)
		}
		ref.mu.Unlock()
	}

	l.st.Store(&state{segments: segments, baseIndices: newBaseIndices, tailBase: st.tailBase})
	if err := l.commitState(); err != nil {
		l.metrics.truncations.WithLabelValues("front", "false").Inc()
		return err
	}

	l.metrics.truncations.WithLabelValues("front", "true").Inc()
	if newFirstIndex > oldFirst {
		l.metrics.entriesTruncated.WithLabelValues("front").Add(float64(newFirstIndex - oldFirst))
	}
	for _, info := range toDelete {
		l.deleteSegment(info)
	}
	return nil
}

// TruncateBack discards every entry with index > newLastIndex. Segments
// entirely above newLastIndex are deleted; the segment that becomes the
// new tail (which may be a previously sealed one) is reopened for
// appends and has its own tail truncated in place.
func (l *Log) TruncateBack(newLastIndex uint64) error {
	if err := l.checkClosed(); err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	oldLast := l.LastIndex()

	st := l.st.Load()
	ref, ok := st.segmentFor(newLastIndex)
	if !ok {
		return ErrOutOfRange
	}

	segments := st.segments
	newBaseIndices := make([]uint64, 0, len(st.baseIndices))
	var toDelete []types.SegmentInfo

	for _, base := range st.baseIndices {
		if base > ref.info.BaseIndex {
			other, _ := st.segments.Get(base)
			other.mu.Lock()
			if other.reader != nil {
				other.reader.Close()
			}
			if other.writer != nil {
				other.writer.Close()
			}
			other.mu.Unlock()
			toDelete = append(toDelete, other.info)
			segments = segments.Delete(base)
			continue
		}
		newBaseIndices = append(newBaseIndices, base)
	}

	ref.mu.Lock()
	var w types.SegmentWriter
	var err error
	if ref.writer != nil {
		w = ref.writer
	} else {
		if ref.reader != nil {
			ref.reader.Close()
			ref.reader = nil
		}
		w, err = l.filer.RecoverTail(ref.info)
		if err != nil {
			ref.mu.Unlock()
			return fmt.Errorf("reopen segment %d as tail for truncate: %w", ref.info.ID, err)
		}
	}
	// A segment resurrected as the tail must accept appends again, even
	// if it had previously been sealed by a rotation this truncate now undoes.
	w.Unseal()
	if err := w.TruncateBack(newLastIndex); err != nil {
		ref.mu.Unlock()
		return err
	}
	ref.writer = w
	ref.info.MaxIndex = 0
	ref.info.SealTime = time.Time{}
	ref.mu.Unlock()

	l.st.Store(&state{segments: segments, baseIndices: newBaseIndices, tailBase: ref.info.BaseIndex})
	if err := l.commitState(); err != nil {
		l.metrics.truncations.WithLabelValues("back", "false").Inc()
		return err
	}

	l.metrics.truncations.WithLabelValues("back", "true").Inc()
	if oldLast > newLastIndex {
		l.metrics.entriesTruncated.WithLabelValues("back").Add(float64(oldLast - newLastIndex))
	}
	for _, info := range toDelete {
		l.deleteSegment(info)
	}
	return nil
}

func (l *Log) deleteSegment(info types.SegmentInfo) {
	// Throttle so a large Compact/TruncateFront doesn't starve foreground
	// append I/O by unlinking many segment files back to back.
	_ = l.deleteLimiter.Wait(context.Background())
	if err := l.filer.Delete(info.BaseIndex, info.ID); err != nil {
		level.Warn(l.logger).Log("msg", "failed to delete segment file", "id", info.ID, "err", err)
		return
	}
	l.metrics.segmentsDeleted.Inc()
}

// commitState persists the current in-memory segment manifest.
func (l *Log) commitState() error {
	st := l.st.Load()
	ps := types.PersistentState{}
	iter := st.segments.Iterator()
	for !iter.Done() {
		_, ref, _ := iter.Next()
		ref.mu.Lock()
		ps.Segments = append(ps.Segments, ref.info)
		ref.mu.Unlock()
	}
	for _, info := range ps.Segments {
		if info.ID >= ps.NextSegmentID {
			ps.NextSegmentID = info.ID + 1
		}
	}
	return l.metaDB.CommitState(ps)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New("create log directory", err).WithPath(dir)
	}
	return nil
}

// floorSegmentIndex returns the index into baseIndices of the greatest
// entry <= target, the segment whose range could contain target. The
// slice is always sorted ascending, so this is a direct application of
// slices.BinarySearchFunc rather than the hand-rolled sort.Search segmentFor
// uses elsewhere; the two are equivalent, this one is just written against
// the generic stdlib-adjacent helper for the sequential reader path.
func floorSegmentIndex(baseIndices []uint64, target uint64) (int, bool) {
	i, found := slices.BinarySearchFunc(baseIndices, target, func(a, t uint64) int {
		switch {
		case a < t:
			return -1
		case a > t:
			return 1
		default:
			return 0
		}
	})
	if found {
		return i, true
	}
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// openSegmentCursor returns the SegmentReader a Reader should scan through
// for ref. A segment that still carries a writer (the tail, or a segment
// sealed by a rotation in this process) is read through that shared writer
// (owned=false, the caller must not Close it); any other sealed segment
// gets its own freshly opened file handle (owned=true). Either way two
// Readers never share cursor state, since LookupOffset and ReadFrame keep
// none of their own.
func (l *Log) openSegmentCursor(ref *segRef) (types.SegmentReader, bool, error) {
	ref.mu.Lock()
	defer ref.mu.Unlock()
	if ref.writer != nil {
		return ref.writer, false, nil
	}
	rd, err := l.filer.Open(ref.info)
	if err != nil {
		return nil, false, err
	}
	return rd, true, nil
}

// Reader is a forward-only cursor over the log that transparently crosses
// segment boundaries, including from a sealed segment into the live tail.
// A Reader opens its own file handle for a sealed segment that has no
// writer attached (see openSegmentCursor) and never shares cursor state
// with any other Reader or with GetLog, so any number of Readers can run
// concurrently with each other and with appends.
type Reader struct {
	l   *Log
	ref *segRef
	src types.SegmentReader
	// owned is true when src is a private handle this Reader opened and
	// must Close itself; false when src is the shared tail writer.
	owned bool

	curIdx     uint64 // index the next Next() call will return
	curOffset  uint64 // byte offset curIdx lives at within src; valid iff positioned
	positioned bool

	closed bool
}

// OpenReader returns a Reader positioned so its first Next() call returns
// the entry at startIndex, or the first entry at or after it if startIndex
// has since been truncated away. If startIndex is not yet durable (it is
// at or past the live edge of the log), HasNext reports false until
// StoreLogs catches up to it.
func (l *Log) OpenReader(startIndex uint64) (*Reader, error) {
	if err := l.checkClosed(); err != nil {
		return nil, err
	}
	r := &Reader{l: l}
	if err := r.ResetToIndex(startIndex); err != nil {
		return nil, err
	}
	return r, nil
}

// Reset repositions the cursor at the log's current first index.
func (r *Reader) Reset() error {
	return r.ResetToIndex(r.l.FirstIndex())
}

// ResetToIndex repositions the cursor so the next Next() call returns
// target (or the first available entry at or after it).
func (r *Reader) ResetToIndex(target uint64) error {
	if err := r.l.checkClosed(); err != nil {
		return err
	}
	st := r.l.st.Load()
	if len(st.baseIndices) == 0 {
		return types.ErrNotFound
	}
	i, ok := floorSegmentIndex(st.baseIndices, target)
	if !ok {
		i = 0
	}
	base := st.baseIndices[i]
	ref, segOK := st.segments.Get(base)
	if !segOK {
		return types.ErrNotFound
	}

	ref.mu.Lock()
	minIdx := ref.info.MinIndex
	ref.mu.Unlock()
	if target < minIdx {
		target = minIdx
	}

	src, owned, err := r.l.openSegmentCursor(ref)
	if err != nil {
		return err
	}
	r.closeOwned()
	r.ref, r.src, r.owned = ref, src, owned
	r.closed = false
	r.curIdx = target
	return r.locate(target)
}

// upperBound reports the highest index currently readable from r.ref: its
// fixed MaxIndex once sealed, or the live tail writer's current LastIndex.
// ok is false only when that LastIndex is 0 (an empty tail starting at
// index 1); an empty tail with a higher BaseIndex reports BaseIndex-1.
func (r *Reader) upperBound() (upper uint64, ok bool) {
	r.ref.mu.Lock()
	defer r.ref.mu.Unlock()
	if r.ref.info.Sealed() {
		return r.ref.info.MaxIndex, true
	}
	last := r.ref.writer.LastIndex()
	if last == 0 {
		return 0, false
	}
	return last, true
}

func (r *Reader) refSealed() bool {
	r.ref.mu.Lock()
	defer r.ref.mu.Unlock()
	return r.ref.info.Sealed()
}

// locate finds the byte offset target's frame starts at within r.src,
// using the segment's sparse index floor lookup plus a short forward scan,
// the same pattern segment.Reader.ResetToIndex uses internally.
func (r *Reader) locate(target uint64) error {
	idx, offset, ok := r.src.LookupOffset(target)
	if !ok {
		r.positioned = false
		return nil
	}
	var tmp types.LogEntry
	for idx < target {
		n, err := r.src.ReadFrame(offset, idx, &tmp)
		if err != nil {
			return err
		}
		offset += n
		idx++
	}
	r.curOffset = offset
	r.positioned = true
	return nil
}

// ensurePositioned makes sure curOffset is valid for curIdx, advancing into
// the next segment if the current one has been fully consumed, or leaving
// the Reader unpositioned if curIdx is not available yet.
func (r *Reader) ensurePositioned() error {
	if r.closed {
		return types.ErrClosed
	}
	if !r.positioned {
		return r.locate(r.curIdx)
	}
	upper, ok := r.upperBound()
	if ok && r.curIdx <= upper {
		return nil
	}
	if !r.refSealed() {
		// Live tail, just caught up to its current end: nothing more yet,
		// not an error.
		r.positioned = false
		return nil
	}
	return r.advanceToNextSegment()
}

func (r *Reader) advanceToNextSegment() error {
	st := r.l.st.Load()
	i, ok := floorSegmentIndex(st.baseIndices, r.ref.info.BaseIndex)
	if !ok || i+1 >= len(st.baseIndices) {
		r.positioned = false
		return nil
	}
	nextRef, segOK := st.segments.Get(st.baseIndices[i+1])
	if !segOK {
		r.positioned = false
		return nil
	}
	src, owned, err := r.l.openSegmentCursor(nextRef)
	if err != nil {
		return err
	}
	r.closeOwned()
	r.ref, r.src, r.owned = nextRef, src, owned
	return r.locate(r.curIdx)
}

func (r *Reader) closeOwned() {
	if r.owned && r.src != nil {
		r.src.Close()
	}
	r.owned = false
}

// HasNext reports whether Next would succeed, including by crossing into
// a segment that did not exist yet the last time this Reader checked.
func (r *Reader) HasNext() bool {
	if err := r.ensurePositioned(); err != nil {
		return false
	}
	return r.positioned
}

// Next fills le with the entry at the cursor and advances it by one.
func (r *Reader) Next(le *types.LogEntry) error {
	if !r.HasNext() {
		return types.ErrNoSuchElement
	}
	n, err := r.src.ReadFrame(r.curOffset, r.curIdx, le)
	if err != nil {
		r.positioned = false
		return err
	}
	r.curOffset += n
	r.curIdx++
	return nil
}

// CurrentEntry fills le with the entry at the cursor without advancing it.
func (r *Reader) CurrentEntry(le *types.LogEntry) error {
	if !r.HasNext() {
		return types.ErrNoSuchElement
	}
	_, err := r.src.ReadFrame(r.curOffset, r.curIdx, le)
	return err
}

// CurrentIndex returns the index Next would return next.
func (r *Reader) CurrentIndex() uint64 {
	return r.curIdx
}

// NextIndex is an alias of CurrentIndex, matching the naming the generic
// wrapper's Reader interface exposes.
func (r *Reader) NextIndex() uint64 {
	return r.curIdx
}

// Close releases any private segment file handle this Reader opened. It is
// always safe to call, including on an already-closed Reader.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.closeOwned()
	return nil
}
