// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package raftlog

import (
	"fmt"
	"sync"

	"github.com/dreamsxin/raftlog/types"
)

// testStorage stubs both types.SegmentFiler and types.MetaStore entirely
// in memory, letting Log rotation/truncation/bootstrap logic be exercised
// without touching the filesystem.
type testStorage struct {
	mu sync.Mutex

	segments map[uint64]*testSegment

	deleted []*testSegment

	metaState types.PersistentState
	stable    map[string][]byte

	// errors a test can set to force the next matching call to fail.
	loadErr, commitErr, createErr, recoverErr, openErr, deleteErr error
}

func newTestStorage() *testStorage {
	return &testStorage{
		segments: make(map[uint64]*testSegment),
		stable:   make(map[string][]byte),
	}
}

func (ts *testStorage) Close() error { return nil }

// Load implements types.MetaStore.
func (ts *testStorage) Load(dir string) (types.PersistentState, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.metaState, ts.loadErr
}

// CommitState implements types.MetaStore.
func (ts *testStorage) CommitState(ps types.PersistentState) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.commitErr != nil {
		return ts.commitErr
	}
	ts.metaState = ps
	return nil
}

// GetStable implements types.MetaStore.
func (ts *testStorage) GetStable(key []byte) ([]byte, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.stable[string(key)], nil
}

// SetStable implements types.MetaStore.
func (ts *testStorage) SetStable(key []byte, value []byte) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.stable[string(key)] = value
	return nil
}

// Create implements types.SegmentFiler.
func (ts *testStorage) Create(info types.SegmentInfo) (types.SegmentWriter, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.createErr != nil {
		return nil, ts.createErr
	}
	if _, ok := ts.segments[info.ID]; ok {
		return nil, fmt.Errorf("segment ID %d already exists", info.ID)
	}
	seg := newTestSegment(info, 4) // small limit so rotation is easy to exercise
	ts.segments[info.ID] = seg
	return seg, nil
}

// RecoverTail implements types.SegmentFiler.
func (ts *testStorage) RecoverTail(info types.SegmentInfo) (types.SegmentWriter, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.recoverErr != nil {
		return nil, ts.recoverErr
	}
	seg, ok := ts.segments[info.ID]
	if !ok {
		return nil, fmt.Errorf("cannot recover unknown segment %d: %w", info.ID, types.ErrSegmentNotOpen)
	}
	return seg, nil
}

// Open implements types.SegmentFiler.
func (ts *testStorage) Open(info types.SegmentInfo) (types.SegmentReader, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.openErr != nil {
		return nil, ts.openErr
	}
	seg, ok := ts.segments[info.ID]
	if !ok {
		return nil, fmt.Errorf("segment %d does not exist", info.ID)
	}
	return seg, nil
}

// List implements types.SegmentFiler.
func (ts *testStorage) List() (map[uint64]uint64, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	set := make(map[uint64]uint64, len(ts.segments))
	for _, seg := range ts.segments {
		set[seg.info.ID] = seg.info.BaseIndex
	}
	return set, nil
}

// Delete implements types.SegmentFiler.
func (ts *testStorage) Delete(baseIndex, id uint64) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.deleteErr != nil {
		return ts.deleteErr
	}
	if seg, ok := ts.segments[id]; ok {
		delete(ts.segments, id)
		ts.deleted = append(ts.deleted, seg)
	}
	return nil
}

// testSegment implements types.SegmentWriter entirely in memory: "offset"
// and "index" coincide (both equal the entry index) since there is no
// real file to seek within, which is all Reader/Writer ever require of
// them -- they are opaque values round-tripped through LookupOffset and
// ReadFrame.
type testSegment struct {
	mu     sync.Mutex
	info   types.SegmentInfo
	logs   map[uint64][]byte
	sealed bool
	closed bool
	limit  int
}

func newTestSegment(info types.SegmentInfo, limit int) *testSegment {
	return &testSegment{info: info, logs: make(map[uint64][]byte), limit: limit}
}

func (s *testSegment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *testSegment) lastIndexLocked() uint64 {
	if len(s.logs) == 0 {
		if s.info.BaseIndex == 0 {
			return 0
		}
		return s.info.BaseIndex - 1
	}
	var max uint64
	for idx := range s.logs {
		if idx > max {
			max = idx
		}
	}
	return max
}

func (s *testSegment) GetLog(idx uint64, le *types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrClosed
	}
	data, ok := s.logs[idx]
	if !ok {
		return types.ErrNotFound
	}
	le.Index, le.Data = idx, data
	return nil
}

func (s *testSegment) LookupOffset(target uint64) (idx, offset uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastIndexLocked()
	if len(s.logs) == 0 || target > last {
		return 0, 0, false
	}
	var best uint64
	found := false
	for i := range s.logs {
		if i <= target && (!found || i > best) {
			best, found = i, true
		}
	}
	if !found {
		return 0, 0, false
	}
	return best, best, true
}

func (s *testSegment) ReadFrame(offset, idx uint64, le *types.LogEntry) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, types.ErrClosed
	}
	data, ok := s.logs[idx]
	if !ok {
		return 0, types.ErrNotFound
	}
	le.Index, le.Data = idx, data
	return 1, nil
}

func (s *testSegment) Append(entries []types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrClosed
	}
	if s.sealed {
		return types.ErrSealed
	}
	for _, e := range entries {
		want := s.lastIndexLocked() + 1
		if e.Index != want {
			return fmt.Errorf("non-contiguous append: have %d, got %d", want, e.Index)
		}
		if len(s.logs) >= s.limit {
			return types.ErrSegmentFull
		}
		cp := make([]byte, len(e.Data))
		copy(cp, e.Data)
		s.logs[e.Index] = cp
	}
	return nil
}

func (s *testSegment) Commit() error { return nil }

func (s *testSegment) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

func (s *testSegment) Unseal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = false
}

func (s *testSegment) Sealed() (bool, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed, s.lastIndexLocked(), nil
}

func (s *testSegment) LastIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndexLocked()
}

func (s *testSegment) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.logs))
}

func (s *testSegment) IsFull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs) >= s.limit
}

func (s *testSegment) TruncateBack(newLastIndex uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx := range s.logs {
		if idx > newLastIndex {
			delete(s.logs, idx)
		}
	}
	return nil
}
