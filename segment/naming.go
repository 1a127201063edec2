// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// fileExt is the fixed extension for segment files (grounded on the
// seginfo package's prefix_NNNNN_timestamp.seg convention, simplified
// since this log has no configurable prefix and sorts purely on indices).
const fileExt = ".rlog"

// fileName returns the deterministic on-disk name for a segment. Both
// components are zero-padded to a fixed width so that a lexicographic
// directory listing sorts in creation order, satisfying spec.md's
// "Segment filename convention" requirement without needing to read
// descriptors just to discover ordering.
func fileName(firstIndex, id uint64) string {
	return fmt.Sprintf("%020d-%020d%s", firstIndex, id, fileExt)
}

func filePath(dir string, firstIndex, id uint64) string {
	return filepath.Join(dir, fileName(firstIndex, id))
}

// parseFileName extracts (firstIndex, id) from a name produced by
// fileName. It returns ok=false for any name that doesn't match the
// convention, so callers can skip unrelated files in storageDirectory.
func parseFileName(name string) (firstIndex, id uint64, ok bool) {
	if !strings.HasSuffix(name, fileExt) {
		return 0, 0, false
	}
	trimmed := strings.TrimSuffix(name, fileExt)
	parts := strings.SplitN(trimmed, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	firstIndex, err1 := strconv.ParseUint(parts[0], 10, 64)
	id, err2 := strconv.ParseUint(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return firstIndex, id, true
}
