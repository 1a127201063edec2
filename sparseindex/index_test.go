// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package sparseindex

import "testing"

func TestLookupEmpty(t *testing.T) {
	idx := New(64)
	if _, _, ok := idx.Lookup(5); ok {
		t.Fatalf("expected no match on empty index")
	}
}

func TestLookupAlwaysRetainsFirst(t *testing.T) {
	idx := New(0.01) // sparse: interval of 100, nothing past the first should be kept
	idx.Put(10, 0)
	idx.Put(11, 8)
	idx.Put(12, 16)

	i, off, ok := idx.Lookup(12)
	if !ok || off != 0 || i != 10 {
		t.Fatalf("expected floor of first entry (10, 0), got (%d, %d) ok=%v", i, off, ok)
	}
	if n := idx.Len(); n != 1 {
		t.Fatalf("expected only the first entry retained, got %d", n)
	}
}

func TestLookupFloor(t *testing.T) {
	idx := New(0) // density 0 retains every entry
	idx.Put(10, 0)
	idx.Put(11, 100)
	idx.Put(12, 200)
	idx.Put(14, 300) // note the gap at 13

	cases := []struct {
		target    uint64
		wantIndex uint64
		wantOff   uint64
		wantOK    bool
	}{
		{9, 0, 0, false},
		{10, 10, 0, true},
		{13, 12, 200, true}, // floors to 12
		{14, 14, 300, true},
		{100, 14, 300, true},
	}
	for _, c := range cases {
		i, off, ok := idx.Lookup(c.target)
		if ok != c.wantOK || off != c.wantOff || i != c.wantIndex {
			t.Fatalf("Lookup(%d) = (%d, %d, %v), want (%d, %d, %v)", c.target, i, off, ok, c.wantIndex, c.wantOff, c.wantOK)
		}
	}
}

func TestPutOutOfOrderIgnored(t *testing.T) {
	idx := New(0)
	idx.Put(10, 0)
	idx.Put(9, 999) // stale/out-of-order, must be ignored
	if n := idx.Len(); n != 1 {
		t.Fatalf("expected out-of-order Put to be dropped, got %d entries", n)
	}
}

func TestDensityControlsRetentionFraction(t *testing.T) {
	idx := New(0.25) // interval of 4
	for i := uint64(0); i < 40; i++ {
		idx.Put(i+1, i*8)
	}
	if n := idx.Len(); n != 10 {
		t.Fatalf("expected 40 entries at density 0.25 to retain 10, got %d", n)
	}
}

func TestTruncate(t *testing.T) {
	idx := New(0)
	for i, off := uint64(1), uint64(0); i <= 10; i, off = i+1, off+8 {
		idx.Put(i, off)
	}
	idx.Truncate(5)
	if n := idx.Len(); n != 5 {
		t.Fatalf("expected 5 entries after truncate, got %d", n)
	}
	i, off, ok := idx.Lookup(10)
	if !ok || off != 32 || i != 5 {
		t.Fatalf("expected floor to entry (5, 32), got (%d, %d) ok=%v", i, off, ok)
	}
}
