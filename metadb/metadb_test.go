// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package metadb

import (
	"testing"
	"time"

	"github.com/dreamsxin/raftlog/types"
	"github.com/stretchr/testify/require"
)

func TestCommitAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	ps := types.PersistentState{
		NextSegmentID: 3,
		Segments: []types.SegmentInfo{
			{ID: 1, BaseIndex: 1, MinIndex: 1, MaxIndex: 100, SizeLimit: 4096, CreateTime: time.Unix(1, 0), SealTime: time.Unix(2, 0)},
			{ID: 2, BaseIndex: 101, MinIndex: 101, SizeLimit: 4096, CreateTime: time.Unix(3, 0)},
		},
	}
	require.NoError(t, db.CommitState(ps))

	loaded, err := db.Load(dir)
	require.NoError(t, err)
	require.EqualValues(t, 3, loaded.NextSegmentID)
	require.Len(t, loaded.Segments, 2)
}

func TestCommitStateReplacesPriorManifest(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.CommitState(types.PersistentState{
		NextSegmentID: 1,
		Segments:      []types.SegmentInfo{{ID: 1, BaseIndex: 1, SizeLimit: 4096}},
	}))
	require.NoError(t, db.CommitState(types.PersistentState{
		NextSegmentID: 2,
		Segments:      []types.SegmentInfo{{ID: 2, BaseIndex: 50, SizeLimit: 4096}},
	}))

	loaded, err := db.Load(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Segments, 1)
	require.EqualValues(t, 2, loaded.Segments[0].ID)
}

func TestStableKV(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	v, err := db.GetStable([]byte("current_term"))
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, db.SetStable([]byte("current_term"), []byte{0, 0, 0, 7}))
	v, err = db.GetStable([]byte("current_term"))
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 7}, v)
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.CommitState(types.PersistentState{
		NextSegmentID: 5,
		Segments:      []types.SegmentInfo{{ID: 1, BaseIndex: 1, SizeLimit: 4096}},
	}))
	require.NoError(t, db.Close())

	db2, err := Open(dir)
	require.NoError(t, err)
	defer db2.Close()
	loaded, err := db2.Load(dir)
	require.NoError(t, err)
	require.EqualValues(t, 5, loaded.NextSegmentID)
	require.Len(t, loaded.Segments, 1)
}
