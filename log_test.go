// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package raftlog

import (
	"fmt"
	"testing"

	"github.com/dreamsxin/raftlog/types"
	"github.com/stretchr/testify/require"
)

func newMemLog(t *testing.T) (*Log, *testStorage) {
	t.Helper()
	ts := newTestStorage()
	l, err := openWithStorage("testdir", ts, ts, defaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, ts
}

func entry(idx uint64) types.LogEntry {
	return types.LogEntry{Index: idx, Data: []byte(fmt.Sprintf("entry-%d", idx))}
}

func appendN(t *testing.T, l *Log, from, to uint64) {
	t.Helper()
	for i := from; i <= to; i++ {
		require.NoError(t, l.StoreLogs([]types.LogEntry{entry(i)}))
	}
}

// S1: append/read round-trip within a single segment.
func TestLog_AppendReadRoundTrip(t *testing.T) {
	l, _ := newMemLog(t)
	appendN(t, l, 1, 3)

	var le types.LogEntry
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, l.GetLog(i, &le))
		require.Equal(t, entry(i).Data, le.Data)
	}
	require.Equal(t, uint64(3), l.LastIndex())
	require.Equal(t, uint64(1), l.FirstIndex())
}

// S3: exceeding a segment's capacity rolls to a new one transparently,
// and a fresh reader from the start still streams every entry in order.
func TestLog_SegmentRollover(t *testing.T) {
	l, ts := newMemLog(t)
	appendN(t, l, 1, 10) // testSegment limit is 4, so this spans 3 segments

	require.Equal(t, uint64(10), l.LastIndex())
	require.Len(t, ts.segments, 3)

	r, err := l.OpenReader(1)
	require.NoError(t, err)
	defer r.Close()

	var got []uint64
	var le types.LogEntry
	for r.HasNext() {
		require.NoError(t, r.Next(&le))
		got = append(got, le.Index)
		require.Equal(t, entry(le.Index).Data, le.Data)
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

// Positioned OpenReader starts mid-stream and still crosses into later
// segments and the live tail.
func TestLog_OpenReaderMidStream(t *testing.T) {
	l, _ := newMemLog(t)
	appendN(t, l, 1, 9)

	r, err := l.OpenReader(6)
	require.NoError(t, err)
	defer r.Close()

	var got []uint64
	var le types.LogEntry
	for r.HasNext() {
		require.NoError(t, r.Next(&le))
		got = append(got, le.Index)
	}
	require.Equal(t, []uint64{6, 7, 8, 9}, got)
}

// A reader positioned at the live edge reports false from HasNext until
// more entries are appended, then picks them up without being reopened.
func TestLog_ReaderFollowsLiveTail(t *testing.T) {
	l, _ := newMemLog(t)
	appendN(t, l, 1, 2)

	r, err := l.OpenReader(3)
	require.NoError(t, err)
	defer r.Close()
	require.False(t, r.HasNext())

	appendN(t, l, 3, 3)
	require.True(t, r.HasNext())

	var le types.LogEntry
	require.NoError(t, r.Next(&le))
	require.Equal(t, uint64(3), le.Index)
	require.False(t, r.HasNext())
}

// S4: truncate then append, verified both via GetLog and a fresh reader.
func TestLog_TruncateBackThenAppend(t *testing.T) {
	l, _ := newMemLog(t)
	appendN(t, l, 1, 10)

	require.NoError(t, l.TruncateBack(5))
	require.Equal(t, uint64(5), l.LastIndex())

	require.NoError(t, l.StoreLogs([]types.LogEntry{{Index: 6, Data: []byte("x")}}))
	require.Equal(t, uint64(6), l.LastIndex())

	r, err := l.OpenReader(1)
	require.NoError(t, err)
	defer r.Close()

	var got []uint64
	var le types.LogEntry
	for r.HasNext() {
		require.NoError(t, r.Next(&le))
		got = append(got, le.Index)
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, got)

	var tail types.LogEntry
	require.NoError(t, l.GetLog(6, &tail))
	require.Equal(t, []byte("x"), tail.Data)
}

// TruncateBack across a segment boundary deletes every wholly-discarded
// segment and reopens the straddling one as the new tail.
func TestLog_TruncateBackDropsSegments(t *testing.T) {
	l, ts := newMemLog(t)
	appendN(t, l, 1, 10) // segments at base 1, 5, 9

	require.NoError(t, l.TruncateBack(4))
	require.Equal(t, uint64(4), l.LastIndex())
	require.Len(t, ts.segments, 1)
	require.Len(t, ts.deleted, 2)
}

// TruncateFront deletes segments entirely below newFirstIndex and
// advances MinIndex on the segment straddling it.
func TestLog_TruncateFront(t *testing.T) {
	l, ts := newMemLog(t)
	appendN(t, l, 1, 10) // segments at base 1, 5, 9

	require.NoError(t, l.TruncateFront(6))
	require.Equal(t, uint64(6), l.FirstIndex())
	require.Len(t, ts.deleted, 1) // only the base-1 segment is wholly below 6

	var le types.LogEntry
	require.Error(t, l.GetLog(1, &le))
	require.NoError(t, l.GetLog(6, &le))
}

func TestLog_CommitSizeIsFull(t *testing.T) {
	l, _ := newMemLog(t)
	require.NoError(t, l.Commit())
	require.False(t, l.IsFull())

	appendN(t, l, 1, 4) // fills the 4-entry stub segment exactly
	require.True(t, l.IsFull())
	require.Equal(t, uint64(4), l.Size())
}

// stringCodec is a minimal Codec[string] for exercising the generic
// wrapper without pulling in a real serialization library.
type stringCodec struct{}

func (stringCodec) Encode(e string, buf []byte) ([]byte, error) {
	return append(buf[:0], e...), nil
}

func (stringCodec) Decode(data []byte) (string, error) {
	return string(data), nil
}

func TestTypedLog_AppendAndRead(t *testing.T) {
	l, _ := newMemLog(t)
	tl := NewTypedLog[string](l, stringCodec{})

	w, err := tl.Writer()
	require.NoError(t, err)

	for _, v := range []string{"a", "b", "c"} {
		ix, err := w.Append(v)
		require.NoError(t, err)
		require.Equal(t, v, ix.Value)
	}
	require.Equal(t, uint64(3), w.LastIndex())

	r, err := tl.OpenReader(1)
	require.NoError(t, err)
	defer r.Close()

	var got []string
	for r.HasNext() {
		ix, err := r.Next()
		require.NoError(t, err)
		got = append(got, ix.Value)
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
}
