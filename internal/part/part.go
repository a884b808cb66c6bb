// Package part defines the data part type and the external collaborators
// the replication core drives: PartStore (local on-disk parts), PartFetcher
// (bulk transfer from a peer), Merger (merge-set selection), and
// AbandonableLock (block-number gap locks). Spec.md §1 scopes the first two
// as external interfaces only; this package also carries one reference
// implementation of each so the core is runnable end-to-end (SPEC_FULL.md
// §4.8-§4.10).
package part

import (
	"fmt"
	"strconv"
	"strings"
)

// Checksums is wholly opaque to the core (spec.md §3): produced by the
// external part store, copied verbatim to and from /parts/<name>/checksums.
type Checksums []byte

// Part is a part's core-visible attributes: an immutable, sorted row range.
type Part struct {
	Name      string
	Left      int64
	Right     int64
	Size      int64 // granules
	Checksums Checksums
}

// Contains reports whether p's range contains q's range (spec.md §3).
func (p Part) Contains(q Part) bool {
	return p.Left <= q.Left && q.Right <= p.Right
}

// ParsePartName extracts the [left, right] block-number range encoded in
// a part name of the "..._<left>_<right>_<level>" shape spec.md's
// examples use (e.g. "20210101_0_1_1"). The core treats names as
// otherwise opaque, but the executor needs left/right to ask the part
// store whether a local part already covers the requested range.
func ParsePartName(name string) (left, right int64, err error) {
	fields := strings.Split(name, "_")
	if len(fields) < 3 {
		return 0, 0, fmt.Errorf("part name %q: expected at least 3 underscore-separated fields", name)
	}
	left, err = strconv.ParseInt(fields[len(fields)-3], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("part name %q: invalid left block number: %w", name, err)
	}
	right, err = strconv.ParseInt(fields[len(fields)-2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("part name %q: invalid right block number: %w", name, err)
	}
	return left, right, nil
}
