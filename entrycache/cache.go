// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package entrycache implements the bounded recent-entry cache described in
// spec.md's "Entry cache" component: a fixed-size ring that lets reads of
// the hottest entries skip reading and checksumming their payloads (a
// sequential Reader still reads each frame header to advance its offset),
// without needing a cache eviction policy more elaborate than "index mod
// size".
package entrycache

import (
	"sync"
)

// slot holds one cached entry plus the index it belongs to, so a reader can
// tell a genuine hit from a stale slot that has been overwritten since
// (i.e. the ring has wrapped past it).
type slot struct {
	index uint64
	data  []byte
	valid bool
}

// Cache is a fixed-capacity ring buffer keyed by index mod capacity. It is
// safe for one writer (Put) concurrent with many readers (Get, HighestIndex).
type Cache struct {
	mu       sync.RWMutex
	slots    []slot
	highest  uint64
	hasAny   bool
}

// New returns a cache holding up to capacity entries. A capacity of 0
// disables caching: Put is a no-op and Get always misses.
func New(capacity int) *Cache {
	return &Cache{slots: make([]slot, capacity)}
}

// Put records the encoded payload for index, evicting whatever previously
// occupied that ring slot. data is retained by reference: callers must not
// mutate it afterward.
func (c *Cache) Put(index uint64, data []byte) {
	if len(c.slots) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := index % uint64(len(c.slots))
	c.slots[i] = slot{index: index, data: data, valid: true}
	if !c.hasAny || index > c.highest {
		c.highest = index
		c.hasAny = true
	}
}

// Get returns the cached payload for index, if it is still the occupant of
// its ring slot.
func (c *Cache) Get(index uint64) (data []byte, ok bool) {
	if len(c.slots) == 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := index % uint64(len(c.slots))
	s := c.slots[i]
	if !s.valid || s.index != index {
		return nil, false
	}
	return s.data, true
}

// HighestIndex returns the greatest index ever cached and whether anything
// has been cached at all.
func (c *Cache) HighestIndex() (index uint64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.highest, c.hasAny
}

// Truncate invalidates every cached entry with index > newLastIndex, used
// by TruncateBack so a reader can never observe a cached entry that has
// logically been removed from the log.
func (c *Cache) Truncate(newLastIndex uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		s := &c.slots[i]
		if s.valid && s.index > newLastIndex {
			*s = slot{}
		}
	}
	if c.hasAny && c.highest > newLastIndex {
		var max uint64
		found := false
		for i := range c.slots {
			if c.slots[i].valid && (!found || c.slots[i].index > max) {
				max = c.slots[i].index
				found = true
			}
		}
		c.highest, c.hasAny = max, found
	}
}
