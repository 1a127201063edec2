// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package raftlog

import (
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Option configures an Open call. The functional-options shape mirrors
// iamNilotpal-ignite's pkg/options package, generalized to this log's
// own knobs.
type Option func(*options)

type options struct {
	maxEntrySize uint32
	segmentSize  uint32
	indexDensity float64
	cacheSize    int
	logger       log.Logger
	registerer   prometheus.Registerer
	deleteRate   rate.Limit
	deleteBurst  int
}

const (
	defaultMaxEntrySize = 1 << 20  // 1MiB
	defaultSegmentSize  = 64 << 20 // 64MiB
	defaultIndexDensity = 0.1      // index roughly 1 in 10 entries
	defaultCacheSize    = 1024     // entries
)

func defaultOptions() *options {
	return &options{
		maxEntrySize: defaultMaxEntrySize,
		segmentSize:  defaultSegmentSize,
		indexDensity: defaultIndexDensity,
		cacheSize:    defaultCacheSize,
		logger:       log.NewNopLogger(),
		registerer:   prometheus.NewRegistry(),
		deleteRate:   rate.Inf, // unthrottled unless WithDeleteRateLimit is set
		deleteBurst:  1,
	}
}

// WithMaxEntrySize bounds the serialized length of any single entry.
func WithMaxEntrySize(n uint32) Option {
	return func(o *options) { o.maxEntrySize = n }
}

// WithMaxSegmentSize sets the pre-allocation and roll-over size for
// segment files.
func WithMaxSegmentSize(n uint32) Option {
	return func(o *options) { o.segmentSize = n }
}

// WithIndexDensity sets the fraction, in (0,1], of entries retained in
// each segment's sparse index.
func WithIndexDensity(d float64) Option {
	return func(o *options) { o.indexDensity = d }
}

// WithCacheSize sets the ring capacity of each segment's hot entry cache.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithLogger sets the structured logger used for diagnostic output.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer sets the Prometheus registerer metrics are registered
// against. Defaults to a private registry so multiple Logs in the same
// process never collide.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithDeleteRateLimit throttles how fast TruncateFront/Compact may unlink
// segment files, so a single large compaction doesn't starve foreground
// append I/O on the same disk. burst allows that many deletions through
// immediately before the steady-state rate applies. The default is
// unthrottled.
func WithDeleteRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.deleteRate = rate.Limit(perSecond)
		o.deleteBurst = burst
	}
}
