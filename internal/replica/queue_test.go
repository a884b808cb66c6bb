package replica

import (
	"testing"

	"github.com/clusterdb/repltree/internal/part"
)

func getEntry(znode, newPart string) part.LogEntry {
	return part.LogEntry{Type: part.KindGetPart, NewPartName: newPart, ZnodeName: znode}
}

func mergeEntry(znode, newPart string, inputs ...string) part.LogEntry {
	return part.LogEntry{Type: part.KindMergeParts, NewPartName: newPart, PartsToMerge: inputs, ZnodeName: znode}
}

func TestQueuePushEntriesPreservesOrder(t *testing.T) {
	q := NewQueue()
	q.Push(getEntry("q-0", "A"))
	q.Push(getEntry("q-1", "B"))
	q.Push(getEntry("q-2", "C"))

	entries := q.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"A", "B", "C"} {
		if entries[i].NewPartName != want {
			t.Errorf("entries[%d].NewPartName = %q, want %q", i, entries[i].NewPartName, want)
		}
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	q.Push(getEntry("q-0", "A"))
	q.Push(getEntry("q-1", "B"))
	q.Remove(getEntry("q-0", "A"))

	entries := q.Entries()
	if len(entries) != 1 || entries[0].NewPartName != "B" {
		t.Errorf("got %+v, want only B left", entries)
	}
}

func TestQueueMoveToBack(t *testing.T) {
	q := NewQueue()
	q.Push(getEntry("q-0", "A"))
	q.Push(getEntry("q-1", "B"))
	q.Push(getEntry("q-2", "C"))
	q.MoveToBack(getEntry("q-0", "A"))

	entries := q.Entries()
	got := []string{entries[0].NewPartName, entries[1].NewPartName, entries[2].NewPartName}
	want := []string{"B", "C", "A"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got order %v, want %v", got, want)
			break
		}
	}
}

func TestQueueClaimNextExecutableTagsFuturePart(t *testing.T) {
	q := NewQueue()
	q.Push(getEntry("q-0", "A"))

	e, guard, ok := q.ClaimNextExecutable(func(e part.LogEntry, futureParts map[string]bool) bool {
		return true
	})
	if !ok {
		t.Fatal("expected a claimable entry")
	}
	if e.NewPartName != "A" {
		t.Errorf("claimed %q, want A", e.NewPartName)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0 after claim", q.Len())
	}
	if !q.IsFuturePart("A") {
		t.Error("expected A to be tagged as a future part after claim")
	}

	guard.Release()
	if q.IsFuturePart("A") {
		t.Error("expected A to be untagged after guard.Release()")
	}
}

func TestQueueClaimNextExecutableSkipsBlockedMerge(t *testing.T) {
	q := NewQueue()
	q.Push(mergeEntry("q-0", "M", "A", "B"))
	q.Push(getEntry("q-1", "C"))

	shouldExecute := func(e part.LogEntry, futureParts map[string]bool) bool {
		if e.Type == part.KindGetPart {
			return true
		}
		for _, n := range e.PartsToMerge {
			if futureParts[n] {
				return false
			}
		}
		return true
	}

	// Simulate A still being a future part: the merge must be skipped in
	// favor of the GET_PART entry behind it.
	q.futureParts["A"] = true
	e, _, ok := q.ClaimNextExecutable(shouldExecute)
	if !ok {
		t.Fatal("expected the GET_PART entry to be claimable")
	}
	if e.NewPartName != "C" {
		t.Errorf("claimed %q, want C (the merge should stay blocked)", e.NewPartName)
	}
}

func TestQueueReleaseCurrentlyMerging(t *testing.T) {
	q := NewQueue()
	q.currentlyMerging["A"] = true
	q.currentlyMerging["B"] = true

	if !q.IsCurrentlyMerging("A") || !q.IsCurrentlyMerging("B") {
		t.Fatal("expected both A and B to be tagged currently_merging")
	}
	q.ReleaseCurrentlyMerging([]string{"A"})
	if q.IsCurrentlyMerging("A") {
		t.Error("expected A to be released")
	}
	if !q.IsCurrentlyMerging("B") {
		t.Error("expected B to remain tagged")
	}
}

// TestQueueSpliceInputsOfMergeToBack exercises testable property 6 (spec.md
// §8): when a fetch for part P fails and P is an input of a pending merge
// M, every other queued entry producing one of M's inputs moves behind M.
func TestQueueSpliceInputsOfMergeToBack(t *testing.T) {
	q := NewQueue()
	// Queue after claiming GET A: [GET B, MERGE(A,B)->M, GET C].
	q.Push(getEntry("q-1", "B"))
	q.Push(mergeEntry("q-2", "M", "A", "B"))
	q.Push(getEntry("q-3", "C"))

	ok := q.SpliceInputsOfMergeToBack("A")
	if !ok {
		t.Fatal("expected a pending merge depending on A")
	}
	q.Push(getEntry("q-0", "A"))

	entries := q.Entries()
	mergeIdx := -1
	for i, e := range entries {
		if e.Type == part.KindMergeParts {
			mergeIdx = i
		}
	}
	if mergeIdx < 0 {
		t.Fatal("expected the merge entry to still be queued")
	}
	for i, e := range entries {
		if (e.NewPartName == "A" || e.NewPartName == "B") && i < mergeIdx {
			t.Errorf("entry %q appears before the merge it feeds, at index %d < %d", e.NewPartName, i, mergeIdx)
		}
	}
}

func TestQueueSpliceInputsOfMergeToBackNoOpWithoutPendingMerge(t *testing.T) {
	q := NewQueue()
	q.Push(getEntry("q-0", "X"))
	if q.SpliceInputsOfMergeToBack("A") {
		t.Error("expected no-op when no MERGE_PARTS entry depends on A")
	}
}

func TestQueueCountMergeEntries(t *testing.T) {
	q := NewQueue()
	q.Push(getEntry("q-0", "A"))
	q.Push(mergeEntry("q-1", "M1", "A", "B"))
	q.Push(mergeEntry("q-2", "M2", "C", "D"))
	if n := q.CountMergeEntries(); n != 2 {
		t.Errorf("CountMergeEntries() = %d, want 2", n)
	}
}
