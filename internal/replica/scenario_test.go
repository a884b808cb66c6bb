package replica

import (
	"context"
	"testing"

	"github.com/clusterdb/repltree/internal/coordinator"
	"github.com/clusterdb/repltree/internal/coordinator/coordinatortest"
	"github.com/clusterdb/repltree/internal/part"
	"github.com/clusterdb/repltree/internal/part/parttest"
	"github.com/clusterdb/repltree/pkg/common"
)

// bootstrapQuiet runs the Bootstrap steps of spec.md §4.1 without starting
// any background goroutine or the inter-server fetch listener, so a
// scenario test can drive LogFanIn/executor/merge-selector iterations one
// at a time instead of racing real sleeps.
func bootstrapQuiet(t *testing.T, tbl *Table, ctx context.Context) {
	t.Helper()
	if !tbl.settings.Attach {
		if err := tbl.createTableStructureIfAbsent(ctx); err != nil {
			t.Fatalf("createTableStructureIfAbsent: %v", err)
		}
		if err := tbl.checkNotAddingToNonEmptyTable(ctx); err != nil {
			t.Fatalf("checkNotAddingToNonEmptyTable: %v", err)
		}
	}
	if err := tbl.checkTableStructure(ctx); err != nil {
		t.Fatalf("checkTableStructure: %v", err)
	}
	if !tbl.settings.Attach {
		if err := tbl.createReplicaStructure(ctx); err != nil {
			t.Fatalf("createReplicaStructure: %v", err)
		}
	} else {
		if err := tbl.checkParts(ctx); err != nil {
			t.Fatalf("checkParts: %v", err)
		}
	}
	if err := tbl.loadQueue(ctx); err != nil {
		t.Fatalf("loadQueue: %v", err)
	}
	if err := tbl.activateReplica(ctx); err != nil {
		t.Fatalf("activateReplica: %v", err)
	}
}

// seedLocalPart makes p appear both in tbl's local store and under its
// /replicas/<me>/parts coordinator node, the steady state Bootstrap expects
// to find already-reconciled pairs in.
func seedLocalPart(t *testing.T, ctx context.Context, tbl *Table, store *parttest.FakeStore, p part.Part) {
	t.Helper()
	store.Seed(p)
	if err := tbl.coord.Create(ctx, tbl.paths.ReplicaPart(tbl.settings.ReplicaName, p.Name), nil); err != nil {
		t.Fatalf("seeding part node %s: %v", p.Name, err)
	}
	if err := tbl.coord.Create(ctx, tbl.paths.ReplicaPartChecksums(tbl.settings.ReplicaName, p.Name), p.Checksums); err != nil {
		t.Fatalf("seeding checksums node %s: %v", p.Name, err)
	}
}

// pumpExecutor runs exactly one iteration of runExecutor's body: claim,
// execute, and apply the success/failure side effects, without the sleeps
// or the kill-channel select. Returns false if nothing was claimable.
func pumpExecutor(t *testing.T, tbl *Table) bool {
	t.Helper()
	e, guard, ok := tbl.queue.ClaimNextExecutable(tbl.shouldExecuteLogEntry)
	if !ok {
		return false
	}
	outcome, _ := tbl.executeLogEntry(context.Background(), e)
	guard.Release()

	switch outcome {
	case outcomeSuccess:
		queuePath := tbl.paths.ReplicaQueue(tbl.settings.ReplicaName) + "/" + e.ZnodeName
		_ = tbl.coord.TryRemove(context.Background(), queuePath, -1)
		if e.Type == part.KindMergeParts {
			tbl.queue.ReleaseCurrentlyMerging(e.PartsToMerge)
		}
	case outcomeFailure:
		tbl.queue.SpliceInputsOfMergeToBack(e.NewPartName)
		tbl.queue.Push(e)
		if e.Type == part.KindMergeParts {
			tbl.queue.ReleaseCurrentlyMerging(e.PartsToMerge)
		}
	}
	return true
}

func newScenarioTable(t *testing.T, coord coordinator.Coordinator, fetcher *parttest.FakeFetcher, replicaName string, port int, store *parttest.FakeStore) *Table {
	t.Helper()
	settings := testSettings(replicaName, port)
	tbl, err := NewTable(settings, coord, store, fetcher, part.GreedyMerger{IndexGranularity: 1, BigMergeBytes: 0}, sampleMetadata())
	if err != nil {
		t.Fatalf("NewTable(%s): %v", replicaName, err)
	}
	fetcher.Register(settings.Host, settings.Port, store)
	return tbl
}

// S1 — single-replica GET no-op: an already-satisfied local part produces
// no queue activity.
func TestScenarioS1SingleReplicaNoOp(t *testing.T) {
	ctx := context.Background()
	coord := coordinatortest.New()
	fetcher := parttest.NewFakeFetcher()
	store := parttest.NewFakeStore()

	r1 := newScenarioTable(t, coord, fetcher, "r1", 19001, store)
	bootstrapQuiet(t, r1, ctx)
	seedLocalPart(t, ctx, r1, store, part.Part{Name: "20210101_0_0_0", Left: 0, Right: 0})

	if err := r1.pullLogsToQueue(ctx); err != nil {
		t.Fatalf("pullLogsToQueue: %v", err)
	}
	if got := r1.queue.Len(); got != 0 {
		t.Errorf("queue length = %d, want 0", got)
	}
}

// S2 — two-replica fetch: r2 observes r1's new GET_PART log entry and
// fetches the part.
func TestScenarioS2TwoReplicaFetch(t *testing.T) {
	ctx := context.Background()
	coord := coordinatortest.New()
	fetcher := parttest.NewFakeFetcher()
	store1 := parttest.NewFakeStore()
	store2 := parttest.NewFakeStore()

	// Both replicas join before any part exists: a fresh replica is
	// rejected once a peer already holds parts.
	r1 := newScenarioTable(t, coord, fetcher, "r1", 19011, store1)
	bootstrapQuiet(t, r1, ctx)
	r2 := newScenarioTable(t, coord, fetcher, "r2", 19012, store2)
	bootstrapQuiet(t, r2, ctx)

	seedLocalPart(t, ctx, r1, store1, part.Part{Name: "20210101_0_0_0", Left: 0, Right: 0})

	// r1 "writes" a new part locally, then appends the GET_PART record to
	// its own log, the external-writer step of S2.
	newPart := part.Part{Name: "20210102_0_0_0", Left: 1, Right: 1}
	seedLocalPart(t, ctx, r1, store1, newPart)
	entry := part.LogEntry{Type: part.KindGetPart, SourceReplica: "r1", NewPartName: newPart.Name}
	if _, err := coord.CreateSequential(ctx, r1.paths.ReplicaLogPrefix("r1"), entry.Serialize(), false); err != nil {
		t.Fatalf("publishing log entry: %v", err)
	}

	if err := r2.pullLogsToQueue(ctx); err != nil {
		t.Fatalf("r2 pullLogsToQueue: %v", err)
	}
	if r2.queue.Len() != 1 {
		t.Fatalf("r2 queue length = %d, want 1", r2.queue.Len())
	}

	if !pumpExecutor(t, r2) {
		t.Fatal("expected r2's executor to find claimable work")
	}

	if ok, _ := coord.Exists(ctx, r2.paths.ReplicaPart("r2", newPart.Name)); !ok {
		t.Error("expected r2 to have created the fetched part's coordinator node")
	}
	parts, _ := store2.GetDataParts()
	found := false
	for _, p := range parts {
		if p.Name == newPart.Name {
			found = true
		}
	}
	if !found {
		t.Errorf("expected r2's local store to contain the fetched part, got %+v", parts)
	}
}

// S3 — merge on leader and follower: both replicas already hold the merge
// inputs locally and execute the merge without any network fetch.
func TestScenarioS3MergeOnLeaderAndFollower(t *testing.T) {
	ctx := context.Background()
	coord := coordinatortest.New()
	fetcher := parttest.NewFakeFetcher()
	store1 := parttest.NewFakeStore()
	store2 := parttest.NewFakeStore()

	a := part.Part{Name: "20210101_0_0_0", Left: 0, Right: 0, Size: 1}
	b := part.Part{Name: "20210101_1_1_0", Left: 1, Right: 1, Size: 1}

	r1 := newScenarioTable(t, coord, fetcher, "r1", 19021, store1)
	bootstrapQuiet(t, r1, ctx)
	r2 := newScenarioTable(t, coord, fetcher, "r2", 19022, store2)
	bootstrapQuiet(t, r2, ctx)

	seedLocalPart(t, ctx, r1, store1, a)
	seedLocalPart(t, ctx, r1, store1, b)
	seedLocalPart(t, ctx, r2, store2, a)
	seedLocalPart(t, ctx, r2, store2, b)

	selected, err := r1.mergeSelectingIteration(ctx)
	if err != nil {
		t.Fatalf("mergeSelectingIteration: %v", err)
	}
	if !selected {
		t.Fatal("expected r1 (acting as leader) to propose a merge")
	}

	if err := r2.pullLogsToQueue(ctx); err != nil {
		t.Fatalf("r2 pullLogsToQueue: %v", err)
	}

	for _, r := range []*Table{r1, r2} {
		if !pumpExecutor(t, r) {
			t.Fatalf("expected %s's executor to find claimable merge work", r.settings.ReplicaName)
		}
	}

	// Testable property 1 (convergence) and 3 (identical checksums):
	// r1 and r2 computed the merge independently from the same inputs and
	// must end up with byte-identical results.
	merged1, ok1, err := store1.GetContainingPart(part.Part{Name: "0_1_1", Left: 0, Right: 1})
	if err != nil || !ok1 {
		t.Fatalf("r1's store does not contain the merged part: ok=%v err=%v", ok1, err)
	}
	merged2, ok2, err := store2.GetContainingPart(part.Part{Name: "0_1_1", Left: 0, Right: 1})
	if err != nil || !ok2 {
		t.Fatalf("r2's store does not contain the merged part: ok=%v err=%v", ok2, err)
	}
	if string(merged1.Checksums) != string(merged2.Checksums) {
		t.Errorf("merged checksums diverged between replicas: r1=%q r2=%q", merged1.Checksums, merged2.Checksums)
	}
	if merged1.Left != merged2.Left || merged1.Right != merged2.Right || merged1.Size != merged2.Size {
		t.Errorf("merged part attributes diverged: r1=%+v r2=%+v", merged1, merged2)
	}

	for _, pair := range []struct {
		replica string
		coordr  *Table
		store   *parttest.FakeStore
	}{{"r1", r1, store1}, {"r2", r2, store2}} {
		for _, stale := range []string{a.Name, b.Name} {
			if ok, _ := coord.Exists(ctx, pair.coordr.paths.ReplicaPart(pair.replica, stale)); ok {
				t.Errorf("%s: expected stale part node %s to be removed", pair.replica, stale)
			}
		}
		parts, _ := pair.store.GetDataParts()
		var names []string
		for _, p := range parts {
			names = append(names, p.Name)
		}
		if len(parts) != 1 || parts[0].Name != "0_1_1" {
			t.Errorf("%s: expected exactly the merged part 0_1_1, got %v", pair.replica, names)
		}
		if ok, _ := coord.Exists(ctx, pair.coordr.paths.ReplicaPart(pair.replica, "0_1_1")); !ok {
			t.Errorf("%s: expected merged part node to exist", pair.replica)
		}
	}
}

// S4 — merge fallback to fetch: r2 lacks one merge input, so its executor
// falls back to fetching the already-merged part from r1.
func TestScenarioS4MergeFallbackToFetch(t *testing.T) {
	ctx := context.Background()
	coord := coordinatortest.New()
	fetcher := parttest.NewFakeFetcher()
	store1 := parttest.NewFakeStore()
	store2 := parttest.NewFakeStore()

	a := part.Part{Name: "20210101_0_0_0", Left: 0, Right: 0, Size: 1}
	b := part.Part{Name: "20210101_1_1_0", Left: 1, Right: 1, Size: 1}

	r1 := newScenarioTable(t, coord, fetcher, "r1", 19031, store1)
	bootstrapQuiet(t, r1, ctx)
	r2 := newScenarioTable(t, coord, fetcher, "r2", 19032, store2)
	bootstrapQuiet(t, r2, ctx)

	seedLocalPart(t, ctx, r1, store1, a)
	seedLocalPart(t, ctx, r1, store1, b)
	seedLocalPart(t, ctx, r2, store2, a) // r2 lacks b

	if _, err := r1.mergeSelectingIteration(ctx); err != nil {
		t.Fatalf("mergeSelectingIteration: %v", err)
	}
	// r1 executes its own merge first, so the merged part exists somewhere
	// for r2 to fetch.
	if !pumpExecutor(t, r1) {
		t.Fatal("expected r1 to execute its own merge")
	}

	if err := r2.pullLogsToQueue(ctx); err != nil {
		t.Fatalf("r2 pullLogsToQueue: %v", err)
	}
	if !pumpExecutor(t, r2) {
		t.Fatal("expected r2's executor to find claimable work")
	}

	parts, _ := store2.GetDataParts()
	var names []string
	mergedPresent, aPresent := false, false
	for _, p := range parts {
		names = append(names, p.Name)
		if p.Name == "0_1_1" {
			mergedPresent = true
		}
		if p.Name == a.Name {
			aPresent = true
		}
	}
	if !mergedPresent {
		t.Errorf("expected r2 to end up with the fetched merged part, got %v", names)
	}
	if aPresent {
		t.Errorf("expected r2's obsolete input part %s to be gone, got %v", a.Name, names)
	}
}

// S5 — fetch failure re-prioritization (testable property 6), driven end
// to end through the executor rather than directly against Queue.
func TestScenarioS5FetchFailureReprioritization(t *testing.T) {
	ctx := context.Background()
	coord := coordinatortest.New()
	fetcher := parttest.NewFakeFetcher()
	store := parttest.NewFakeStore()

	r3 := newScenarioTable(t, coord, fetcher, "r3", 19041, store)
	bootstrapQuiet(t, r3, ctx)

	r3.queue.Push(getEntry("q-0", "A"))
	r3.queue.Push(getEntry("q-1", "B"))
	r3.queue.Push(mergeEntry("q-2", "M", "A", "B"))
	r3.queue.Push(getEntry("q-3", "C"))

	if !pumpExecutor(t, r3) {
		t.Fatal("expected the executor to claim GET A")
	}

	entries := r3.queue.Entries()
	mergeIdx := -1
	for i, e := range entries {
		if e.Type == part.KindMergeParts {
			mergeIdx = i
		}
	}
	if mergeIdx < 0 {
		t.Fatal("expected the merge entry to remain queued")
	}
	for i, e := range entries {
		if (e.NewPartName == "A" || e.NewPartName == "B") && i < mergeIdx {
			t.Errorf("entry %q still precedes its dependent merge at index %d < %d", e.NewPartName, i, mergeIdx)
		}
	}
}

// S6 — duplicate start rejected.
func TestScenarioS6DuplicateStartRejected(t *testing.T) {
	ctx := context.Background()
	coord := coordinatortest.New()
	fetcher := parttest.NewFakeFetcher()

	r1a := newScenarioTable(t, coord, fetcher, "r1", 19051, parttest.NewFakeStore())
	bootstrapQuiet(t, r1a, ctx)

	settings := r1a.settings
	settings.Attach = true
	r1b, err := NewTable(settings, coord, parttest.NewFakeStore(), fetcher, part.GreedyMerger{IndexGranularity: 1}, sampleMetadata())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	var bootErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("unexpected panic: %v", r)
			}
		}()
		if err := r1b.checkTableStructure(ctx); err != nil {
			bootErr = err
			return
		}
		if err := r1b.checkParts(ctx); err != nil {
			bootErr = err
			return
		}
		if err := r1b.loadQueue(ctx); err != nil {
			bootErr = err
			return
		}
		bootErr = r1b.activateReplica(ctx)
	}()

	if bootErr == nil {
		t.Fatal("expected the second activation to fail")
	}
	if !common.IsKind(bootErr, common.ErrReplicaIsAlreadyActive) {
		t.Errorf("expected ErrReplicaIsAlreadyActive, got %v", bootErr)
	}
}
