// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package raftlog

import (
	"fmt"
	"os"

	"github.com/dreamsxin/raftlog/types"
)

// Entry is the caller-supplied opaque value a Codec encodes and decodes.
// The byte-oriented Log core never inspects it; everything in this file
// is a thin generic layer over Log/Reader that exists purely to spare
// callers from hand-encoding their own entries.
type Entry any

// Codec converts between a caller's entry type and the bytes the log
// actually stores. Encode may reuse buf's backing array as scratch space
// (the writer owns one, see TypedWriter.scratch) but must return the
// slice actually holding the encoded bytes; Decode must not retain data
// beyond the call, since it may be backed by a shared cache entry.
type Codec[E any] interface {
	Encode(e E, buf []byte) ([]byte, error)
	Decode(data []byte) (E, error)
}

// Indexed pairs a decoded entry with its log index and on-disk size.
type Indexed[E any] struct {
	Index uint64
	Value E
	Size  uint32
}

// TypedLog wraps a byte-oriented Log with a Codec, giving callers an
// append/read API over their own entry type instead of raw []byte.
type TypedLog[E any] struct {
	log   *Log
	codec Codec[E]
}

// NewTypedLog wraps log with codec. log is not opened here; it must
// already be the result of a successful Open call.
func NewTypedLog[E any](log *Log, codec Codec[E]) *TypedLog[E] {
	return &TypedLog[E]{log: log, codec: codec}
}

// Writer returns a handle for appending typed entries. The underlying Log
// has exactly one logical tail, so repeated calls are cheap and share
// the same append path; callers do not need to coordinate which one
// they use.
func (l *TypedLog[E]) Writer() (*TypedWriter[E], error) {
	if err := l.log.checkClosed(); err != nil {
		return nil, err
	}
	return &TypedWriter[E]{log: l.log, codec: l.codec}, nil
}

// OpenReader returns a typed cursor starting at startIndex.
func (l *TypedLog[E]) OpenReader(startIndex uint64) (*TypedReader[E], error) {
	r, err := l.log.OpenReader(startIndex)
	if err != nil {
		return nil, err
	}
	return &TypedReader[E]{r: r, codec: l.codec}, nil
}

// IsOpen reports whether the underlying Log has not yet been closed.
func (l *TypedLog[E]) IsOpen() bool {
	return l.log.IsOpen()
}

// Close closes the underlying Log.
func (l *TypedLog[E]) Close() error {
	return l.log.Close()
}

// Truncate discards every entry with index > lastIndex.
func (l *TypedLog[E]) Truncate(lastIndex uint64) error {
	return l.log.TruncateBack(lastIndex)
}

// Compact discards every entry with index < newFirstIndex.
func (l *TypedLog[E]) Compact(newFirstIndex uint64) error {
	return l.log.TruncateFront(newFirstIndex)
}

// TypedWriter appends typed entries, auto-assigning each the next
// consecutive index.
type TypedWriter[E any] struct {
	log     *Log
	codec   Codec[E]
	scratch []byte // reused across Append calls; Encode may grow it
}

// Append encodes e and appends it at NextIndex().
func (w *TypedWriter[E]) Append(e E) (Indexed[E], error) {
	buf, err := w.codec.Encode(e, w.scratch[:0])
	if err != nil {
		return Indexed[E]{}, fmt.Errorf("raftlog: encode entry: %w", err)
	}
	w.scratch = buf

	idx := w.NextIndex()
	if err := w.log.StoreLogs([]types.LogEntry{{Index: idx, Data: buf}}); err != nil {
		return Indexed[E]{}, err
	}
	return Indexed[E]{Index: idx, Value: e, Size: uint32(len(buf))}, nil
}

// Commit fsyncs the tail segment.
func (w *TypedWriter[E]) Commit() error {
	return w.log.Commit()
}

// Truncate discards every entry with index > lastIndex.
func (w *TypedWriter[E]) Truncate(lastIndex uint64) error {
	return w.log.TruncateBack(lastIndex)
}

// LastIndex returns the highest index currently in the log.
func (w *TypedWriter[E]) LastIndex() uint64 {
	return w.log.LastIndex()
}

// NextIndex returns the index the next Append will assign.
func (w *TypedWriter[E]) NextIndex() uint64 {
	return w.log.LastIndex() + 1
}

// Size reports how many bytes of the tail segment's pre-allocated file
// are currently in use.
func (w *TypedWriter[E]) Size() uint64 {
	return w.log.Size()
}

// IsFull reports whether the next Append will trigger a segment rotation.
func (w *TypedWriter[E]) IsFull() bool {
	return w.log.IsFull()
}

// Close is a no-op: the writer has no resources of its own, it shares the
// underlying Log's lifecycle. Call TypedLog.Close to release the log.
func (w *TypedWriter[E]) Close() error {
	return nil
}

// Delete closes the underlying log and removes its storage directory
// entirely, the generic-wrapper equivalent of a segment's delete(): close
// and unlink.
func (w *TypedWriter[E]) Delete() error {
	dir := w.log.dir
	if err := w.log.Close(); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// TypedReader is a forward cursor over typed entries, decoding each via
// Codec as it crosses the underlying byte-oriented Reader.
type TypedReader[E any] struct {
	r     *Reader
	codec Codec[E]
}

// Reset repositions the cursor at the log's current first index.
func (r *TypedReader[E]) Reset() error {
	return r.r.Reset()
}

// ResetToIndex repositions the cursor at target.
func (r *TypedReader[E]) ResetToIndex(target uint64) error {
	return r.r.ResetToIndex(target)
}

// HasNext reports whether Next would succeed.
func (r *TypedReader[E]) HasNext() bool {
	return r.r.HasNext()
}

// Next decodes and returns the entry at the cursor, advancing it by one.
func (r *TypedReader[E]) Next() (Indexed[E], error) {
	var le types.LogEntry
	if err := r.r.Next(&le); err != nil {
		return Indexed[E]{}, err
	}
	v, err := r.codec.Decode(le.Data)
	if err != nil {
		return Indexed[E]{}, fmt.Errorf("raftlog: decode entry %d: %w", le.Index, err)
	}
	return Indexed[E]{Index: le.Index, Value: v, Size: uint32(len(le.Data))}, nil
}

// CurrentIndex returns the index Next would return next.
func (r *TypedReader[E]) CurrentIndex() uint64 {
	return r.r.CurrentIndex()
}

// CurrentEntry decodes and returns the entry at the cursor without
// advancing it. ok is false if there is no entry there yet.
func (r *TypedReader[E]) CurrentEntry() (Indexed[E], bool) {
	var le types.LogEntry
	if err := r.r.CurrentEntry(&le); err != nil {
		return Indexed[E]{}, false
	}
	v, err := r.codec.Decode(le.Data)
	if err != nil {
		return Indexed[E]{}, false
	}
	return Indexed[E]{Index: le.Index, Value: v, Size: uint32(len(le.Data))}, true
}

// NextIndex returns the index Next would return next.
func (r *TypedReader[E]) NextIndex() uint64 {
	return r.r.CurrentIndex()
}

// Close releases this reader's private segment file handle, if any.
func (r *TypedReader[E]) Close() error {
	return r.r.Close()
}
