package part

import (
	"context"

	"github.com/clusterdb/repltree/internal/coordinator"
)

// LockState is the abandonment verdict of spec.md §4.5's
// AbandonableLockInZooKeeper::check: only Abandoned permits a merge across
// the gap the lock guards.
type LockState int

const (
	LockLive LockState = iota
	LockAbandoned
	LockUnknown
)

// AbandonableLock checks whether a block-number gap lock has been
// abandoned by its holder (external collaborator, spec.md §4.5).
type AbandonableLock interface {
	Check(ctx context.Context, blockNumberPath string) (LockState, error)
}

// ZKAbandonableLock is the reference implementation: a lock znode's data
// names the replica that holds it; the lock is abandoned once that
// replica's /is_active ephemeral is gone, the only liveness signal the
// core has (spec.md §3 invariant 3).
type ZKAbandonableLock struct {
	Coord coordinator.Coordinator
	Paths coordinator.Paths
}

func (l ZKAbandonableLock) Check(ctx context.Context, blockNumberPath string) (LockState, error) {
	data, _, err := l.Coord.TryGet(ctx, blockNumberPath)
	if err != nil {
		return LockUnknown, err
	}
	if data == nil {
		return LockAbandoned, nil
	}
	active, err := l.Coord.Exists(ctx, l.Paths.ReplicaIsActive(string(data)))
	if err != nil {
		return LockUnknown, err
	}
	if active {
		return LockLive, nil
	}
	return LockAbandoned, nil
}
