package replica

import (
	"context"
	"path"
	"sort"
	"sync/atomic"

	"github.com/clusterdb/repltree/internal/coordinator"
)

// runLeaderElection implements spec.md §4.6: an ephemeral-sequential
// candidacy node under /leader_election; the lowest-sequence candidate
// is leader. No hot handoff is modeled — once elected, a replica remains
// leader until its session ends, at which point the ephemeral candidacy
// node disappears and a surviving replica's watch fires on restart.
func (t *Table) runLeaderElection() {
	defer t.wg.Done()
	ctx := context.Background()

	holder, err := t.createElectionCandidate(ctx)
	if err != nil {
		t.log.Errorf("leader election: failed to create candidacy node: %v", err)
		return
	}
	t.mu.Lock()
	t.electionHolder = holder
	t.mu.Unlock()

	for {
		isLeader, err := t.isLowestCandidate(ctx, holder.Path())
		if err != nil {
			t.log.Errorf("leader election: failed to read candidates: %v", err)
		} else if isLeader {
			t.becomeLeader()
			return
		}

		watch, err := t.coord.WatchChildren(ctx, t.paths.LeaderElection())
		if err != nil {
			t.log.Errorf("leader election: failed to watch candidates: %v", err)
			return
		}
		select {
		case <-t.killedC:
			t.log.Infof("replica %s: leader election stopped", t.settings.ReplicaName)
			return
		case <-watch:
		}
	}
}

func (t *Table) createElectionCandidate(ctx context.Context) (coordinator.EphemeralHolder, error) {
	prefix := t.paths.LeaderElection() + "/candidate-"
	name, err := t.coord.CreateSequential(ctx, prefix, []byte(t.settings.ReplicaName), true)
	if err != nil {
		return nil, err
	}
	return selfReleasingHolder{coord: t.coord, path: t.paths.LeaderElection() + "/" + name}, nil
}

func (t *Table) isLowestCandidate(ctx context.Context, myPath string) (bool, error) {
	children, err := t.coord.Children(ctx, t.paths.LeaderElection())
	if err != nil {
		return false, err
	}
	if len(children) == 0 {
		return false, nil
	}
	sort.Strings(children)
	return children[0] == path.Base(myPath), nil
}

// becomeLeader starts the merge selector goroutine exactly once.
func (t *Table) becomeLeader() {
	t.mergeSelectorOnce.Do(func() {
		atomic.StoreInt32(&t.isLeader, 1)
		t.mergeSelectorMu.Lock()
		t.mergeSelectorStop = make(chan struct{})
		stop := t.mergeSelectorStop
		t.mergeSelectorMu.Unlock()
		t.wg.Add(1)
		go t.runMergeSelector(stop)
	})
}

// IsLeader reports whether this replica currently believes it is leader.
func (t *Table) IsLeader() bool {
	return atomic.LoadInt32(&t.isLeader) == 1
}
