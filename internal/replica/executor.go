package replica

import (
	"context"
	"fmt"
	"time"

	"github.com/clusterdb/repltree/internal/coordinator"
	"github.com/clusterdb/repltree/internal/part"
	"github.com/clusterdb/repltree/pkg/common"
)

// executionOutcome is the explicit result variant design note §9 calls
// for in place of exceptions-for-control-flow in the executor.
type executionOutcome int

const (
	outcomeSuccess executionOutcome = iota
	outcomeFailure
)

// runExecutor is one worker of the executor pool (spec.md §4.4, §5: N =
// settings.replication_threads such goroutines).
func (t *Table) runExecutor(id int) {
	defer t.wg.Done()
	for {
		e, guard, ok := t.queue.ClaimNextExecutable(t.shouldExecuteLogEntry)
		if !ok {
			select {
			case <-t.killedC:
				t.log.Infof("replica %s: executor %d stopped", t.settings.ReplicaName, id)
				return
			case <-time.After(t.settings.QueueNoWorkSleep):
			}
			continue
		}

		outcome, err := t.executeLogEntry(context.Background(), e)
		guard.Release()

		switch outcome {
		case outcomeSuccess:
			queuePath := t.paths.ReplicaQueue(t.settings.ReplicaName) + "/" + e.ZnodeName
			if err := t.coord.TryRemove(context.Background(), queuePath, -1); err != nil {
				t.log.Warnf("non-fatal: failed to remove completed queue entry %s: %v", e.ZnodeName, err)
			}
			if e.Type == part.KindMergeParts {
				t.queue.ReleaseCurrentlyMerging(e.PartsToMerge)
			}
			if !t.sleepOrKilled(t.settings.QueueAfterWorkSleep) {
				t.log.Infof("replica %s: executor %d stopped", t.settings.ReplicaName, id)
				return
			}

		case outcomeFailure:
			// Re-prioritization (spec.md §4.4 step 4, testable property
			// 6): a no-op if no pending MERGE_PARTS entry depends on
			// e.NewPartName. currently_merging is held until after the
			// entry is spliced and pushed back, so a concurrent
			// MergeSelector iteration can't select an overlapping merge
			// while this one is still mid-retry.
			t.queue.SpliceInputsOfMergeToBack(e.NewPartName)
			t.queue.Push(e)
			if e.Type == part.KindMergeParts {
				t.queue.ReleaseCurrentlyMerging(e.PartsToMerge)
			}

			if common.IsKind(err, common.ErrNoReplicaHasPart) {
				t.log.Infof("executor %d: %v", id, err)
			} else if err != nil {
				t.log.Errorf("executor %d: %v", id, err)
			}
			if !t.sleepOrKilled(t.settings.QueueErrorSleep) {
				t.log.Infof("replica %s: executor %d stopped", t.settings.ReplicaName, id)
				return
			}
		}

		if t.isKilled() {
			return
		}
	}
}

// sleepOrKilled sleeps for d unless shutdown fires first; returns false
// if shutdown fired (d<=0 returns true immediately without selecting).
func (t *Table) sleepOrKilled(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-t.killedC:
		return false
	case <-time.After(d):
		return true
	}
}

// shouldExecuteLogEntry is spec.md §4.4 step 1: GET_PART is always
// executable; MERGE_PARTS is executable only while none of its inputs is
// still a future part.
func (t *Table) shouldExecuteLogEntry(e part.LogEntry, futureParts map[string]bool) bool {
	if e.Type == part.KindGetPart {
		return true
	}
	for _, name := range e.PartsToMerge {
		if futureParts[name] {
			return false
		}
	}
	return true
}

// executeLogEntry runs one claimed entry, spec.md §4.4 step 2.
func (t *Table) executeLogEntry(ctx context.Context, e part.LogEntry) (executionOutcome, error) {
	left, right, err := part.ParsePartName(e.NewPartName)
	if err != nil {
		return outcomeFailure, err
	}
	target := part.Part{Name: e.NewPartName, Left: left, Right: right}

	if containing, ok, cerr := t.store.GetContainingPart(target); cerr == nil && ok {
		has, eerr := t.coord.Exists(ctx, t.paths.ReplicaPart(t.settings.ReplicaName, containing.Name))
		if eerr == nil && has {
			return outcomeSuccess, nil
		}
	}
	if e.Type == part.KindGetPart && e.SourceReplica == t.settings.ReplicaName {
		t.log.Errorf("bug: own GET_PART entry for %s has no local part", e.NewPartName)
		return outcomeSuccess, nil
	}

	if e.Type == part.KindMergeParts {
		if outcome, done, merr := t.tryExecuteMerge(ctx, e); done {
			return outcome, merr
		}
		// an input part is missing or only partially covered locally:
		// fall through to fetching the already-merged part from a peer.
	}

	return t.executeFetch(ctx, e)
}

// tryExecuteMerge attempts the local-merge path of spec.md §4.4 step 2.
// done is false when the inputs are not all present locally (the caller
// should fall back to fetch); done is true for both merge success and
// merge failure.
func (t *Table) tryExecuteMerge(ctx context.Context, e part.LogEntry) (outcome executionOutcome, done bool, err error) {
	inputs := make([]part.Part, 0, len(e.PartsToMerge))
	for _, name := range e.PartsToMerge {
		left, right, perr := part.ParsePartName(name)
		if perr != nil {
			return outcomeFailure, true, perr
		}
		containing, ok, serr := t.store.GetContainingPart(part.Part{Name: name, Left: left, Right: right})
		if serr != nil {
			return outcomeFailure, true, serr
		}
		if !ok || containing.Name != name {
			return 0, false, nil
		}
		inputs = append(inputs, containing)
	}

	merged, err := t.store.MergeParts(inputs, e.NewPartName)
	if err != nil {
		return outcomeFailure, true, err
	}

	ops := []coordinator.Op{
		coordinator.CreateOp(t.paths.ReplicaPart(t.settings.ReplicaName, merged.Name), nil),
		coordinator.CreateOp(t.paths.ReplicaPartChecksums(t.settings.ReplicaName, merged.Name), merged.Checksums),
	}
	for _, src := range inputs {
		ops = append(ops,
			coordinator.RemoveOp(t.paths.ReplicaPartChecksums(t.settings.ReplicaName, src.Name)),
			coordinator.RemoveOp(t.paths.ReplicaPart(t.settings.ReplicaName, src.Name)),
		)
	}
	if _, err := t.coord.Multi(ctx, ops...); err != nil {
		return outcomeFailure, true, err
	}
	if err := t.store.ClearOldParts(); err != nil {
		t.log.Warnf("clearOldParts after merge of %s failed: %v", merged.Name, err)
	}
	t.metrics.IncMerges()
	return outcomeSuccess, true, nil
}

// executeFetch is the GET_PART / merge-fallback-fetch path of spec.md
// §4.4 step 2, also reached for a MERGE_PARTS entry whose inputs are not
// all present locally.
func (t *Table) executeFetch(ctx context.Context, e part.LogEntry) (executionOutcome, error) {
	t.structureMu.RLock()
	defer t.structureMu.RUnlock()

	replicaName, host, port, err := t.findActiveReplicaHavingPart(ctx, e.NewPartName)
	if err != nil {
		return outcomeFailure, err
	}

	fetched, err := t.fetcher.FetchPart(ctx, host, port, e.NewPartName)
	if err != nil {
		return outcomeFailure, fmt.Errorf("fetch of %s from %s failed: %w", e.NewPartName, replicaName, err)
	}

	obsolete, err := t.store.RenameTempPartAndReplace(fetched)
	if err != nil {
		return outcomeFailure, err
	}

	ops := []coordinator.Op{
		coordinator.CreateOp(t.paths.ReplicaPart(t.settings.ReplicaName, fetched.Name), nil),
		coordinator.CreateOp(t.paths.ReplicaPartChecksums(t.settings.ReplicaName, fetched.Name), fetched.Checksums),
	}
	for _, o := range obsolete {
		ops = append(ops,
			coordinator.RemoveOp(t.paths.ReplicaPartChecksums(t.settings.ReplicaName, o.Name)),
			coordinator.RemoveOp(t.paths.ReplicaPart(t.settings.ReplicaName, o.Name)),
		)
	}
	if _, err := t.coord.Multi(ctx, ops...); err != nil {
		return outcomeFailure, err
	}
	if err := t.store.ClearOldParts(); err != nil {
		t.log.Warnf("clearOldParts after fetch of %s failed: %v", fetched.Name, err)
	}

	t.metrics.IncFetches()
	if e.Type == part.KindMergeParts {
		t.metrics.IncFetchesOfMerged()
	}
	t.metrics.AddObsoleteParts(len(obsolete))
	return outcomeSuccess, nil
}
