package replica

import (
	"sync"

	"github.com/clusterdb/repltree/internal/part"
)

// Queue is the in-memory mirror of a replica's /queue znode children
// (spec.md §4.2): an ordered list of pulled log entries awaiting
// execution, plus the future_parts and currently_merging tag sets that
// let the executor and merge selector avoid picking overlapping work.
// Shaped procedurally like the teacher's Shard: a small mutex-guarded
// struct with explicit setter methods rather than a channel-driven
// actor, generalized here to the ordered-list-plus-tag-set semantics
// spec.md requires.
type Queue struct {
	mu sync.Mutex

	entries []part.LogEntry

	futureParts      map[string]bool
	currentlyMerging map[string]bool
}

func NewQueue() *Queue {
	return &Queue{
		futureParts:      map[string]bool{},
		currentlyMerging: map[string]bool{},
	}
}

// Push appends an entry to the tail of the queue; the executor uses it to
// requeue an entry whose execution failed. Per spec.md §4.2, future_parts
// is tagged only when a worker claims the entry (see ClaimNextExecutable),
// not on insertion. Push does not tag currently_merging either.
func (q *Queue) Push(e part.LogEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// Entries returns a snapshot copy of the queue in pull order.
func (q *Queue) Entries() []part.LogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]part.LogEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Remove erases e, matched by ZnodeName, once its coordinator node is
// gone and its side effects have been applied.
func (q *Queue) Remove(e part.LogEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cur := range q.entries {
		if cur.ZnodeName == e.ZnodeName {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
}

// MoveToBack demotes a still-queued entry e below every other queued
// entry, so one stuck entry stops blocking the entries behind it without
// leaving the queue. The executor does not use it: a claimed entry has
// already left the queue and is requeued with Push.
func (q *Queue) MoveToBack(e part.LogEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cur := range q.entries {
		if cur.ZnodeName == e.ZnodeName {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.entries = append(q.entries, cur)
			break
		}
	}
}

// SpliceInputsOfMergeToBack finds the first MERGE_PARTS entry whose
// PartsToMerge contains outputName, then moves every queue entry before
// it whose NewPartName is among that merge's inputs to the back of the
// queue, preserving their relative order. This is the re-prioritization
// step of spec.md §4.4 step 4 (testable property 6): when a fetch for a
// part fails, sibling fetches feeding the same pending merge move behind
// it rather than being retried individually. Returns false if no such
// merge entry is queued.
func (q *Queue) SpliceInputsOfMergeToBack(outputName string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	mergeIdx := -1
	for i, e := range q.entries {
		if e.Type != part.KindMergeParts {
			continue
		}
		for _, in := range e.PartsToMerge {
			if in == outputName {
				mergeIdx = i
				break
			}
		}
		if mergeIdx >= 0 {
			break
		}
	}
	if mergeIdx < 0 {
		return false
	}

	inputs := map[string]bool{}
	for _, in := range q.entries[mergeIdx].PartsToMerge {
		inputs[in] = true
	}

	var kept, moved []part.LogEntry
	for i, e := range q.entries {
		if i < mergeIdx && inputs[e.NewPartName] {
			moved = append(moved, e)
			continue
		}
		kept = append(kept, e)
	}
	q.entries = append(kept, moved...)
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// IsFuturePart reports whether name is the output of an entry a worker
// has claimed and not yet finished executing.
func (q *Queue) IsFuturePart(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.futureParts[name]
}

// FuturePartsSnapshot lists every currently tagged future part name.
func (q *Queue) FuturePartsSnapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.futureParts))
	for name := range q.futureParts {
		out = append(out, name)
	}
	return out
}

// futurePartGuard scopes a future_parts tag to the lifetime of one
// executor claim, spec.md §4.2/§4.4 step 1: tagged when a worker removes
// the entry from the queue, released once the entry succeeds or is
// requeued.
type futurePartGuard struct {
	q    *Queue
	name string
}

func (g *futurePartGuard) Release() {
	g.q.mu.Lock()
	defer g.q.mu.Unlock()
	delete(g.q.futureParts, g.name)
}

// ClaimNextExecutable scans the queue in order for the first entry
// shouldExecute approves, removes it from the queue, and tags its
// output as a future part — all atomically under the queue mutex
// (spec.md §4.4 step 1).
func (q *Queue) ClaimNextExecutable(shouldExecute func(e part.LogEntry, futureParts map[string]bool) bool) (part.LogEntry, *futurePartGuard, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if !shouldExecute(e, q.futureParts) {
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		q.futureParts[e.NewPartName] = true
		return e, &futurePartGuard{q: q, name: e.NewPartName}, true
	}
	return part.LogEntry{}, nil, false
}

// IsCurrentlyMerging reports whether name is presently an input to some
// in-flight merge.
func (q *Queue) IsCurrentlyMerging(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentlyMerging[name]
}

// ReleaseCurrentlyMerging untags names tagged at queue-insertion time
// (LogFanIn, loadQueue), once the owning entry's execution has finished,
// succeeded or not.
func (q *Queue) ReleaseCurrentlyMerging(names []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, n := range names {
		delete(q.currentlyMerging, n)
	}
}

// CurrentlyMergingSnapshot lists every part name presently tagged as an
// in-flight merge input, used by the merge selector to compute
// has_big_merge (spec.md §4.5 step 2).
func (q *Queue) CurrentlyMergingSnapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.currentlyMerging))
	for name := range q.currentlyMerging {
		out = append(out, name)
	}
	return out
}

// CurrentlyMergingCount returns the size of the currently_merging tag set,
// used to drive the replica_currently_merging gauge.
func (q *Queue) CurrentlyMergingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.currentlyMerging)
}

// CountMergeEntries counts queued MERGE_PARTS entries (spec.md §4.5
// step 1).
func (q *Queue) CountMergeEntries() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.Type == part.KindMergeParts {
			n++
		}
	}
	return n
}
