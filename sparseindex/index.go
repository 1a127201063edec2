// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package sparseindex implements the per-segment in-memory position index:
// a density-thinned map from entry index to byte offset that lets a Reader
// seek close to a target index without scanning every record.
//
// The index is never persisted. On reopen a segment is replayed from its
// descriptor forward and the index rebuilt as a side effect of that
// replay -- recovery by replay, applied to every segment, sealed or not,
// since this log keeps no separate on-disk index block.
package sparseindex

import (
	"math"
	"sort"
	"sync/atomic"
)

// entry is one (index, offset) pair retained in the index.
type entry struct {
	index  uint64
	offset uint64
}

// Index is a concurrency-safe, append-mostly sparse index. A single writer
// calls Put as it appends or replays entries; any number of readers call
// Lookup concurrently. Publishing a new snapshot is a single atomic pointer
// store, so a Lookup in progress either sees the old snapshot or the new
// one in full, never a partially built one.
type Index struct {
	interval uint64 // retain every interval-th offered entry
	seen     uint64
	snap     atomic.Pointer[snapshot]
}

// snapshot is the immutable backing store swapped in on every Put that
// decides to retain a new entry. entries is always sorted by index.
type snapshot struct {
	entries []entry
}

// New returns an empty index. density is the fraction of entries, in
// (0,1], to retain: 1 indexes every entry, 0.1 retains roughly one in
// ten. It is converted once, at construction, into a fixed sampling
// interval so Put stays an O(1) counter check rather than recomputing a
// division on every call.
func New(density float64) *Index {
	interval := uint64(1)
	if density > 0 && density < 1 {
		interval = uint64(math.Round(1 / density))
		if interval < 1 {
			interval = 1
		}
	}
	idx := &Index{interval: interval}
	idx.snap.Store(&snapshot{})
	return idx
}

// Put offers the index a chance to retain (entryIndex, offset). It always
// retains the very first entry it is ever offered (so Lookup never fails
// once anything has been written) and otherwise retains every
// interval-th entry offered since, per the configured density. entryIndex
// must be offered in increasing order; Put is a no-op if entryIndex is
// not greater than the last retained index.
func (idx *Index) Put(entryIndex, offset uint64) {
	cur := idx.snap.Load()
	n := len(cur.entries)
	if n > 0 && entryIndex <= cur.entries[n-1].index {
		return
	}
	count := atomic.AddUint64(&idx.seen, 1)
	if n > 0 && (count-1)%idx.interval != 0 {
		return
	}
	next := make([]entry, n, n+1)
	copy(next, cur.entries)
	next = append(next, entry{index: entryIndex, offset: offset})
	idx.snap.Store(&snapshot{entries: next})
}

// Lookup returns the index and byte offset of the retained entry with the
// greatest index <= target (a "floor" lookup), so the caller can seek to
// offset, start counting from index, and scan forward to target. ok is
// false if target precedes every retained entry (including when the
// index is empty).
func (idx *Index) Lookup(target uint64) (index, offset uint64, ok bool) {
	entries := idx.snap.Load().entries
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].index > target
	})
	if i == 0 {
		return 0, 0, false
	}
	e := entries[i-1]
	return e.index, e.offset, true
}

// Truncate discards every retained entry with index > newLastIndex, used
// by TruncateBack. Entries with index < newFirstIndex are left in place
// deliberately: a TruncateFront only changes the logical first-visible
// index, it never invalidates offsets already retained for the tail of
// the segment, and Lookup still returns sane (if not minimal) results for
// indices before newFirstIndex since callers never ask for those.
func (idx *Index) Truncate(newLastIndex uint64) {
	cur := idx.snap.Load()
	i := sort.Search(len(cur.entries), func(i int) bool {
		return cur.entries[i].index > newLastIndex
	})
	if i == len(cur.entries) {
		return
	}
	next := make([]entry, i)
	copy(next, cur.entries[:i])
	idx.snap.Store(&snapshot{entries: next})
}

// Len reports how many (index, offset) pairs are currently retained.
// Exposed for tests and for Stats() in the segment package.
func (idx *Index) Len() int {
	return len(idx.snap.Load().entries)
}
