package replica

import (
	"context"
	"time"

	"github.com/clusterdb/repltree/internal/part"
)

// runMergeSelector is the leader-only loop of spec.md §4.5, started once
// by the leader election callback and stopped either by losing
// leadership (stop closed) or by shutdown (killedC).
func (t *Table) runMergeSelector(stop <-chan struct{}) {
	defer t.wg.Done()
	t.log.Infof("replica %s: became leader, starting merge selector", t.settings.ReplicaName)

	// Initial pull before entering the loop. Open question 4 (DESIGN.md):
	// mirrored from the source even though leadership could be lost
	// before the first real iteration runs; harmless, just surprising.
	if err := t.pullLogsToQueue(context.Background()); err != nil {
		t.log.Errorf("merge selector: initial log pull failed: %v", err)
	}

	for {
		select {
		case <-stop:
			t.log.Infof("replica %s: merge selector stopped (lost leadership)", t.settings.ReplicaName)
			return
		case <-t.killedC:
			t.log.Infof("replica %s: merge selector stopped", t.settings.ReplicaName)
			return
		default:
		}

		selected, err := t.mergeSelectingIteration(context.Background())
		if err != nil {
			t.log.Errorf("merge selector iteration failed: %v", err)
		}
		if selected {
			continue
		}
		select {
		case <-stop:
			return
		case <-t.killedC:
			return
		case <-time.After(t.settings.MergeSelectingSleep):
		}
	}
}

// mergeSelectingIteration is one pass of spec.md §4.5 steps 1-6. It
// returns true if a merge was proposed.
func (t *Table) mergeSelectingIteration(ctx context.Context) (bool, error) {
	if t.queue.CountMergeEntries() >= t.settings.MergingThreads {
		return false, nil
	}

	localParts, err := t.store.GetDataParts()
	if err != nil {
		return false, err
	}

	mergingSet := map[string]bool{}
	for _, name := range t.queue.CurrentlyMergingSnapshot() {
		mergingSet[name] = true
	}

	hasBigMerge := false
	for _, p := range localParts {
		if mergingSet[p.Name] && p.Size*t.settings.IndexGranularity > t.settings.BigMergeBytes {
			hasBigMerge = true
			break
		}
	}

	canMerge := func(left, right part.Part) bool {
		return t.canMergeParts(ctx, left, right, mergingSet)
	}

	selected, newName, ok := t.merger.SelectPartsToMerge(localParts, false, hasBigMerge, canMerge)
	if !ok {
		selected, newName, ok = t.merger.SelectPartsToMerge(localParts, true, hasBigMerge, canMerge)
	}
	if !ok {
		return false, nil
	}

	names := make([]string, len(selected))
	for i, p := range selected {
		names[i] = p.Name
	}
	entry := part.LogEntry{
		Type:          part.KindMergeParts,
		SourceReplica: t.settings.ReplicaName,
		NewPartName:   newName,
		PartsToMerge:  names,
	}
	if _, err := t.coord.CreateSequential(ctx, t.paths.ReplicaLogPrefix(t.settings.ReplicaName), entry.Serialize(), false); err != nil {
		return false, err
	}

	// Pull synchronously so the new entry (and its currently_merging
	// tags) land before the next selection round, spec.md §4.5 step 5.
	if err := t.pullLogsToQueue(ctx); err != nil {
		t.log.Errorf("merge selector: post-publish log pull failed: %v", err)
	}

	t.cleanupBlockNumberGaps(ctx, selected)
	return true, nil
}

// canMergeParts is spec.md §4.5 step 3 / testable property 5: false if
// either part is in currently_merging, or any block number strictly
// between the two ranges still carries a non-abandoned lock.
func (t *Table) canMergeParts(ctx context.Context, left, right part.Part, mergingSet map[string]bool) bool {
	if mergingSet[left.Name] || mergingSet[right.Name] {
		return false
	}
	for n := left.Right + 1; n < right.Left; n++ {
		state, err := t.lock.Check(ctx, t.paths.BlockNumber(n))
		if err != nil {
			return false
		}
		if state != part.LockAbandoned {
			return false
		}
	}
	return true
}

// cleanupBlockNumberGaps removes the abandoned-lock markers that
// justified a merge, spec.md §4.5 step 6.
func (t *Table) cleanupBlockNumberGaps(ctx context.Context, selected []part.Part) {
	for i := 0; i+1 < len(selected); i++ {
		left, right := selected[i], selected[i+1]
		for n := left.Right + 1; n < right.Left; n++ {
			if err := t.coord.TryRemove(ctx, t.paths.BlockNumber(n), -1); err != nil {
				t.log.Warnf("failed to remove stale block number lock %d: %v", n, err)
			}
		}
	}
}
