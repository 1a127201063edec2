// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package metadb implements types.MetaStore on top of bbolt: the durable
// segment manifest (which segments exist, their index ranges, the next ID
// to hand out) plus the small stable key/value space a Raft
// implementation built on this log needs for its own bookkeeping (current
// term, voted-for, and similar). Keeping this in its own bbolt file
// rather than folding it into the segment files themselves keeps the
// `types.MetaStore` and `types.SegmentFiler` concerns separate.
package metadb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dreamsxin/raftlog/errs"
	"github.com/dreamsxin/raftlog/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSegments = []byte("segments")
	bucketMeta     = []byte("meta")
	bucketStable   = []byte("stable")

	keyNextSegmentID = []byte("next_segment_id")
)

// segmentRecord is the JSON-on-disk shape of types.SegmentInfo. A plain
// struct tag mapping is used instead of gob so the manifest remains
// inspectable with any off-the-shelf bbolt browser, keeping persisted
// state human-decodable.
type segmentRecord struct {
	ID         uint64    `json:"id"`
	BaseIndex  uint64    `json:"base_index"`
	MinIndex   uint64    `json:"min_index"`
	MaxIndex   uint64    `json:"max_index"`
	SizeLimit  uint32    `json:"size_limit"`
	CreateTime time.Time `json:"create_time"`
	SealTime   time.Time `json:"seal_time,omitempty"`
}

func toRecord(si types.SegmentInfo) segmentRecord {
	return segmentRecord{
		ID:         si.ID,
		BaseIndex:  si.BaseIndex,
		MinIndex:   si.MinIndex,
		MaxIndex:   si.MaxIndex,
		SizeLimit:  si.SizeLimit,
		CreateTime: si.CreateTime,
		SealTime:   si.SealTime,
	}
}

func (r segmentRecord) toInfo() types.SegmentInfo {
	return types.SegmentInfo{
		ID:         r.ID,
		BaseIndex:  r.BaseIndex,
		MinIndex:   r.MinIndex,
		MaxIndex:   r.MaxIndex,
		SizeLimit:  r.SizeLimit,
		CreateTime: r.CreateTime,
		SealTime:   r.SealTime,
	}
}

// DB is a bbolt-backed types.MetaStore.
type DB struct {
	db *bolt.DB
}

// fileName is fixed: one metadata file lives alongside the segment files
// in the same log directory.
const fileName = "meta.db"

// Open opens (creating if necessary) the metadata database in dir.
func Open(dir string) (*DB, error) {
	path := filepath.Join(dir, fileName)
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errs.New("open metadata database", err).WithPath(path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSegments, bucketMeta, bucketStable} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errs.New("initialize metadata buckets", err).WithPath(path)
	}
	return &DB{db: db}, nil
}

// Close implements io.Closer.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return errs.New("close metadata database", err)
	}
	return nil
}

// Load reads the full persisted state: every known segment plus the next
// segment ID to assign. dir is accepted to satisfy types.MetaStore's
// signature but is unused here since Open already pinned the file; it
// exists so a MetaStore implementation that keeps no file handle open
// between calls (a pure in-memory test fake, say) can use it instead.
func (d *DB) Load(dir string) (types.PersistentState, error) {
	var ps types.PersistentState
	err := d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keyNextSegmentID); v != nil {
			ps.NextSegmentID = binary.BigEndian.Uint64(v)
		}
		segs := tx.Bucket(bucketSegments)
		return segs.ForEach(func(k, v []byte) error {
			var rec segmentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("%w: segment record %x: %v", types.ErrCorrupt, k, err)
			}
			ps.Segments = append(ps.Segments, rec.toInfo())
			return nil
		})
	})
	if err != nil {
		return types.PersistentState{}, errs.New("load manifest", err)
	}
	return ps, nil
}

// CommitState atomically replaces the segment manifest and next-ID
// counter with ps. The whole bucket is rewritten inside one bbolt
// transaction so a crash mid-commit leaves either the old or the new
// manifest, never a mix -- bbolt's own durability guarantee is what
// CommitState's atomicity relies on.
func (d *DB) CommitState(ps types.PersistentState) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSegments); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		segs, err := tx.CreateBucket(bucketSegments)
		if err != nil {
			return err
		}
		for _, si := range ps.Segments {
			data, err := json.Marshal(toRecord(si))
			if err != nil {
				return err
			}
			if err := segs.Put(segmentKey(si.ID), data); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], ps.NextSegmentID)
		return meta.Put(keyNextSegmentID, buf[:])
	})
	if err != nil {
		return errs.New("commit manifest", err)
	}
	return nil
}

// GetStable returns the value for key in the stable KV space, or nil if
// unset.
func (d *DB) GetStable(key []byte) ([]byte, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStable).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errs.New("read stable value", err)
	}
	return out, nil
}

// SetStable writes key/value into the stable KV space.
func (d *DB) SetStable(key, value []byte) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStable).Put(key, value)
	})
	if err != nil {
		return errs.New("write stable value", err)
	}
	return nil
}

func segmentKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}
