// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package segment implements a single segment file: its fixed-width
// descriptor header, length-prefixed CRC-protected entry frames, the live
// append path (Writer), the sealed sequential/random-access path (Reader),
// and the Filer that creates, recovers, opens and deletes segment files on
// a directory of disk. It has no notion of a multi-segment log; that
// orchestration lives in the root package, which depends on this one
// through types.SegmentFiler so it never touches *os.File directly.
package segment

import (
	"os"
	"strings"
	"time"

	"github.com/dreamsxin/raftlog/errs"
	"github.com/dreamsxin/raftlog/types"
)

// Filer is the on-disk types.SegmentFiler implementation: every segment it
// creates is pre-allocated to its full size budget up front, so a write
// never has to grow the file and the zero bytes past the logical tail
// double as the "clean EOF" sentinel recovery relies on.
type Filer struct {
	dir          string
	maxEntrySize uint32
	indexDensity float64
	cacheCap     int
}

// NewFiler returns a Filer rooted at dir, which must already exist.
func NewFiler(dir string, maxEntrySize uint32, indexDensity float64, cacheCap int) *Filer {
	return &Filer{dir: dir, maxEntrySize: maxEntrySize, indexDensity: indexDensity, cacheCap: cacheCap}
}

func (f *Filer) writerConfig() WriterConfig {
	return WriterConfig{MaxEntrySize: f.maxEntrySize, IndexDensity: f.indexDensity, EntryCacheCap: f.cacheCap}
}

// Create allocates a brand-new segment file, writes its descriptor, and
// returns it opened for append.
func (f *Filer) Create(info types.SegmentInfo) (types.SegmentWriter, error) {
	path := filePath(f.dir, info.BaseIndex, info.ID)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errs.New("create segment file", err).WithSegment(info.ID).WithPath(path)
	}
	if err := file.Truncate(int64(info.SizeLimit)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, errs.New("preallocate segment file", err).WithSegment(info.ID).WithPath(path)
	}
	d := descriptor{Magic: magic, Version: version, SegmentID: info.ID, FirstIdx: info.BaseIndex, MaxSize: uint64(info.SizeLimit)}
	if _, err := file.WriteAt(encodeDescriptor(d), 0); err != nil {
		file.Close()
		os.Remove(path)
		return nil, errs.New("write segment descriptor", err).WithSegment(info.ID).WithPath(path)
	}
	return newWriter(file, info, f.writerConfig()), nil
}

// RecoverTail reopens an existing segment file as the live append tail,
// validating its descriptor and replaying its entries to rebuild the
// in-memory index and cache and to discover the true append position,
// tolerating a torn trailing write.
func (f *Filer) RecoverTail(info types.SegmentInfo) (types.SegmentWriter, error) {
	path := filePath(f.dir, info.BaseIndex, info.ID)
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.New("open segment file", err).WithSegment(info.ID).WithPath(path)
	}
	if err := f.validateDescriptor(file, info); err != nil {
		file.Close()
		return nil, err
	}
	return recoverWriter(file, info, f.writerConfig())
}

// Open opens an existing sealed segment for reads.
func (f *Filer) Open(info types.SegmentInfo) (types.SegmentReader, error) {
	path := filePath(f.dir, info.BaseIndex, info.ID)
	file, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, errs.New("open segment file", err).WithSegment(info.ID).WithPath(path)
	}
	if err := f.validateDescriptor(file, info); err != nil {
		file.Close()
		return nil, err
	}
	return openReader(info, file, f.indexDensity, f.cacheCap)
}

func (f *Filer) validateDescriptor(file *os.File, info types.SegmentInfo) error {
	buf := make([]byte, descriptorBytes)
	if _, err := file.ReadAt(buf, 0); err != nil {
		return errs.New("read segment descriptor", err).WithSegment(info.ID)
	}
	d, err := decodeDescriptor(buf)
	if err != nil {
		return err
	}
	if d.SegmentID != info.ID || d.FirstIdx != info.BaseIndex {
		return errs.New("descriptor mismatch", types.ErrCorrupt).WithSegment(info.ID)
	}
	return nil
}

// List scans dir for segment files matching the naming convention and
// returns a map of segment ID to BaseIndex. The root package does not call
// it: Open takes the segment list from the metadata manifest alone.
func (f *Filer) List() (map[uint64]uint64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errs.New("list segment directory", err).WithPath(f.dir)
	}
	out := make(map[uint64]uint64, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		firstIndex, id, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		out[id] = firstIndex
	}
	return out, nil
}

// Delete removes a segment's file from disk. It is not an error to delete
// a segment that's already gone.
func (f *Filer) Delete(baseIndex, id uint64) error {
	path := filePath(f.dir, baseIndex, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.New("delete segment file", err).WithSegment(id).WithPath(path)
	}
	return nil
}

// NewSegmentInfo fills in the fields Create expects for a freshly minted
// segment; createTime is supplied by the caller since this package cannot
// call time.Now itself during tests that need deterministic clocks.
func NewSegmentInfo(id, baseIndex uint64, sizeLimit uint32, createTime time.Time) types.SegmentInfo {
	return types.SegmentInfo{
		ID:         id,
		BaseIndex:  baseIndex,
		MinIndex:   baseIndex,
		SizeLimit:  sizeLimit,
		CreateTime: createTime,
	}
}
