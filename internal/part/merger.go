package part

import (
	"fmt"
	"sort"
)

// CanMergeFunc is the canMergeParts predicate of spec.md §4.5: false if
// either part is already in currently_merging, or if a block-number gap
// between them still carries a non-abandoned lock.
type CanMergeFunc func(left, right Part) bool

// Merger is the external merge-set selection collaborator
// (merger.selectPartsToMerge, spec.md §4.5). aggressive widens the search;
// hasBigMerge asks the implementation to suppress further large merges
// this round while still allowing small ones.
type Merger interface {
	SelectPartsToMerge(parts []Part, aggressive bool, hasBigMerge bool, canMerge CanMergeFunc) (selected []Part, newPartName string, ok bool)
}

// GreedyMerger is a minimal reference Merger: it sorts parts by range and
// considers adjacent-by-sort-order pairs. A non-aggressive pass looks only
// at the first pair; an aggressive pass scans every pair and takes the
// first one canMerge allows. Real selection heuristics
// (size classes, merge age) are out of scope per spec.md §1; this exists
// to exercise the MergeSelector loop end to end.
type GreedyMerger struct {
	IndexGranularity int64
	BigMergeBytes    int64
}

func (m GreedyMerger) SelectPartsToMerge(parts []Part, aggressive bool, hasBigMerge bool, canMerge CanMergeFunc) ([]Part, string, bool) {
	sorted := append([]Part(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Left < sorted[j].Left })

	maxCandidates := 1
	if aggressive {
		maxCandidates = len(sorted)
	}
	considered := 0
	for i := 0; i+1 < len(sorted) && considered < maxCandidates; i++ {
		left, right := sorted[i], sorted[i+1]
		considered++
		if !canMerge(left, right) {
			continue
		}
		estimateBytes := (left.Size + right.Size) * m.IndexGranularity
		if hasBigMerge && m.BigMergeBytes > 0 && estimateBytes > m.BigMergeBytes {
			continue
		}
		newName := fmt.Sprintf("%d_%d_1", left.Left, right.Right)
		return []Part{left, right}, newName, true
	}
	return nil, "", false
}
