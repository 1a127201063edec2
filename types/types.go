// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package types defines the shared data types and storage interfaces that
// the segment, errs, metadb and root raftlog packages all depend on. Separating them out avoids import cycles between the
// package that orchestrates segments and the packages that implement them,
// the same role this package plays in the upstream project this module
// descends from.
package types

import (
	"errors"
	"io"
	"time"
)

// Sentinel errors returned across package boundaries. Callers are expected
// to use errors.Is against these rather than matching on string content.
var (
	// ErrNotFound is returned when a requested index does not exist in the
	// log (either truncated away or never written).
	ErrNotFound = errors.New("raftlog: log entry not found")

	// ErrCorrupt is returned when a segment's on-disk contents fail a
	// structural check: wrong magic or version, a descriptor that does not
	// match its SegmentInfo, or a CRC failure found while opening or
	// reading a sealed segment, while reading the tail, or by Verify. Tail
	// recovery does not return it for a CRC failure; it treats the failing
	// frame as the end of the data.
	ErrCorrupt = errors.New("raftlog: corrupt segment data")

	// ErrSealed is returned by a sealed segment's Append.
	ErrSealed = errors.New("raftlog: segment is sealed")

	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("raftlog: log is closed")

	// ErrSegmentNotOpen names a segment that has been closed or deleted.
	// The segment package does not return it: a closed segment's methods
	// return ErrClosed, and opening a deleted segment's file returns an
	// *errs.IOError with code FILE_NOT_FOUND.
	ErrSegmentNotOpen = errors.New("raftlog: segment is not open")

	// ErrTooLarge is returned by Append when the encoded entry exceeds
	// MaxEntrySize.
	ErrTooLarge = errors.New("raftlog: entry exceeds configured max size")

	// ErrNoSuchElement is returned by Reader.Next when HasNext is false.
	ErrNoSuchElement = errors.New("raftlog: no next element")

	// ErrSegmentFull is returned internally by the segment writer when a
	// record would not fit before MaxSegmentSize. The Log orchestrator
	// catches it and rolls to a new segment; it must never be surfaced to
	// callers of Writer.Append.
	ErrSegmentFull = errors.New("raftlog: segment is full")
)

// LogEntry is a single record in the log. Data holds the already-encoded
// payload bytes; the codec that produced them lives outside this package
// (see the root package's Codec type for the generic wrapper built on top
// of this byte-oriented core).
type LogEntry struct {
	Index uint64
	Data  []byte
}

// SegmentInfo is the metadata describing one segment file. It is the unit
// of information persisted by a MetaStore and exchanged between the Log
// orchestrator and a SegmentFiler.
type SegmentInfo struct {
	// ID is a process-unique, monotonically assigned identifier. It is
	// distinct from BaseIndex so that segment files can be named and
	// recovered independently of the logical index range they hold at
	// any given moment.
	ID uint64

	// BaseIndex is the first logical index this segment could ever
	// contain, fixed at creation time.
	BaseIndex uint64

	// MinIndex is the first logical index this segment currently
	// contains. It starts equal to BaseIndex and only increases, as a
	// result of TruncateFront.
	MinIndex uint64

	// MaxIndex is the last logical index this segment contains once
	// sealed. It is zero-valued (meaningless) while the segment is the
	// unsealed tail; consult the live writer's LastIndex instead.
	MaxIndex uint64

	// SizeLimit is the pre-allocated file size budget for this segment.
	SizeLimit uint32

	CreateTime time.Time
	SealTime   time.Time
}

// Sealed reports whether this segment has stopped accepting appends.
func (si SegmentInfo) Sealed() bool {
	return !si.SealTime.IsZero()
}

// PersistentState is the durable manifest committed to a MetaStore: the
// ordered list of known segments plus the next ID to assign.
type PersistentState struct {
	NextSegmentID uint64
	Segments      []SegmentInfo
}

// ReadableFile is the minimal random-access read surface a segment reader
// needs from an open file handle.
type ReadableFile interface {
	io.ReaderAt
	io.Closer
}

// WritableFile is the minimal surface a segment writer needs from an open,
// pre-allocated file handle.
type WritableFile interface {
	io.WriterAt
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// SegmentFile is the full read/write surface the live tail segment needs:
// it is both a WritableFile, for Append, and a ReadableFile, since the
// unsealed tail has no separate on-disk copy to read back from.
type SegmentFile interface {
	ReadableFile
	WritableFile
}

// SegmentReader is satisfied by a sealed segment and gives random access to
// its entries by index.
type SegmentReader interface {
	io.Closer
	GetLog(idx uint64, le *LogEntry) error

	// LookupOffset returns the greatest indexed (entryIndex, offset) with
	// entryIndex <= target, the sparse-index floor lookup spec.md §4.1
	// describes, exposed so the root package's multi-segment Reader can
	// drive its own stateless forward scan without a segment sharing any
	// mutable cursor state with it.
	LookupOffset(target uint64) (idx, offset uint64, ok bool)

	// ReadFrame reads the single frame at offset, which must hold
	// entryIndex idx, consulting the entry cache first. It returns the
	// number of on-disk bytes the frame occupies (so a caller tracking
	// its own offset can advance past it) and is safe to call
	// concurrently with any other SegmentReader/SegmentWriter method:
	// it never mutates cursor state of its own.
	ReadFrame(offset, idx uint64, le *LogEntry) (frameLen uint64, err error)
}

// SegmentWriter is satisfied by the live tail segment. It is also a valid
// SegmentReader since the tail can always be read from (its index lives
// in memory rather than on disk, see LookupOffset).
type SegmentWriter interface {
	SegmentReader
	Append(entries []LogEntry) error
	Commit() error
	Seal()
	// Unseal reopens a previously sealed segment to appends again, used
	// when TruncateBack resurrects a sealed segment as the new tail.
	Unseal()
	Sealed() (bool, uint64, error)
	LastIndex() uint64
	Size() uint64
	IsFull() bool
	TruncateBack(newLastIndex uint64) error
}

// SegmentFiler creates, recovers, opens, lists and deletes segment files.
// It is the factory interface the root Log orchestrator uses so that its
// rotation/truncation logic never touches *os.File directly.
type SegmentFiler interface {
	Create(info SegmentInfo) (SegmentWriter, error)
	RecoverTail(info SegmentInfo) (SegmentWriter, error)
	Open(info SegmentInfo) (SegmentReader, error)
	List() (map[uint64]uint64, error) // segment ID -> BaseIndex
	Delete(baseIndex, id uint64) error
}

// MetaStore persists the manifest (PersistentState) and a small stable
// key/value space Raft itself needs (current term, voted-for, etc).
type MetaStore interface {
	io.Closer
	Load(dir string) (PersistentState, error)
	CommitState(ps PersistentState) error
	GetStable(key []byte) ([]byte, error)
	SetStable(key []byte, value []byte) error
}
