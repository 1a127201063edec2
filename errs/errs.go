// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package errs provides the structured I/O error type surfaced by segment
// and metadb operations that fail against the filesystem. It exists so
// callers above the segment layer can distinguish "disk full" or
// "read-only filesystem" from an ordinary corrupt-record error without
// parsing strings, following the classify-and-annotate pattern used
// throughout the broader raft-wal/ignite family of storage engines.
package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/dreamsxin/raftlog/types"
)

// Code classifies the underlying cause of an IOError.
type Code string

const (
	CodeDiskFull        Code = "DISK_FULL"
	CodeReadOnly        Code = "FILESYSTEM_READONLY"
	CodePermission      Code = "PERMISSION_DENIED"
	CodeNotFound        Code = "FILE_NOT_FOUND"
	CodeCorrupt         Code = "SEGMENT_CORRUPTED"
	CodeUnknown         Code = "IO_ERROR"
)

// IOError annotates an underlying error with a classification and the
// segment/file it was operating on, so logs and metrics can key off Code
// without re-deriving it from an errors.Is chain every time.
type IOError struct {
	code    Code
	op      string
	segment uint64
	path    string
	cause   error
}

// New builds an IOError by classifying cause. op is a short verb phrase
// ("open segment file", "fsync", "write descriptor") used only for the
// error string.
func New(op string, cause error) *IOError {
	return &IOError{code: classify(cause), op: op, cause: cause}
}

// WithSegment attaches the owning segment ID for diagnostics.
func (e *IOError) WithSegment(id uint64) *IOError {
	e.segment = id
	return e
}

// WithPath attaches the file path for diagnostics.
func (e *IOError) WithPath(path string) *IOError {
	e.path = path
	return e
}

func (e *IOError) Error() string {
	msg := fmt.Sprintf("raftlog: %s: %s", e.op, e.cause)
	if e.path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.path)
	}
	if e.segment != 0 {
		msg = fmt.Sprintf("%s (segment=%d)", msg, e.segment)
	}
	return msg
}

func (e *IOError) Unwrap() error { return e.cause }

// Code returns the classification assigned at construction.
func (e *IOError) Code() Code { return e.code }

// classify inspects cause for the well-known syscall/fs errors that
// indicate an operational problem (disk full, read-only fs, permission)
// rather than a logic bug, mirroring ignite's ClassifyFileOpenError /
// ClassifySyncError helpers.
func classify(cause error) Code {
	if errors.Is(cause, types.ErrCorrupt) {
		return CodeCorrupt
	}
	if errors.Is(cause, fs.ErrNotExist) {
		return CodeNotFound
	}
	if errors.Is(cause, fs.ErrPermission) {
		return CodePermission
	}
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		switch errno {
		case syscall.ENOSPC:
			return CodeDiskFull
		case syscall.EROFS:
			return CodeReadOnly
		case syscall.EACCES, syscall.EPERM:
			return CodePermission
		}
	}
	return CodeUnknown
}
