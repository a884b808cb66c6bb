package replica

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clusterdb/repltree/internal/coordinator"
	"github.com/clusterdb/repltree/internal/part"
)

// logCandidate is one not-yet-consumed log entry read from a peer's log,
// waiting to be popped from the per-iteration priority queue of spec.md
// §4.3 step 3.
type logCandidate struct {
	peer  string
	idx   int64
	entry part.LogEntry
	czxid int64
}

// runLogFanIn is the LogFanIn loop of spec.md §4.3. Sleeps
// QueueUpdateSleep between iterations; coordinator errors are logged and
// retried on the next iteration rather than propagated.
func (t *Table) runLogFanIn() {
	defer t.wg.Done()
	for {
		if err := t.pullLogsToQueue(context.Background()); err != nil {
			t.log.Errorf("log fan-in iteration failed: %v", err)
		}
		select {
		case <-t.killedC:
			t.log.Infof("replica %s: log fan-in stopped", t.settings.ReplicaName)
			return
		case <-time.After(t.settings.QueueUpdateSleep):
		}
	}
}

// pullLogsToQueue runs one LogFanIn iteration. It also serves as the
// synchronous "one additional pull" the merge selector performs after
// publishing a new entry to its own log (spec.md §4.5 step 5) — the
// selector's own replica name is always among the peers fanned in from,
// since a replica's own log is itself observed only through this path,
// never by directly enqueuing.
func (t *Table) pullLogsToQueue(ctx context.Context) error {
	peers, err := t.peerReplicas(ctx)
	if err != nil {
		return err
	}
	peers = append(peers, t.settings.ReplicaName)

	candidates := map[string]*logCandidate{}
	for _, p := range peers {
		idx, err := t.logPointer(ctx, p)
		if err != nil {
			t.log.Errorf("log fan-in: reading log pointer for %s: %v", p, err)
			continue
		}
		cand, ok, err := t.readLogCandidate(ctx, p, idx)
		if err != nil {
			t.log.Errorf("log fan-in: reading log entry %s/log-%d: %v", p, idx, err)
			continue
		}
		if ok {
			candidates[p] = cand
		}
	}

	for len(candidates) > 0 {
		var best *logCandidate
		for _, c := range candidates {
			if best == nil || c.czxid < best.czxid {
				best = c
			}
		}
		delete(candidates, best.peer)

		if err := t.enqueueLogEntry(ctx, best); err != nil {
			return err
		}

		next, ok, err := t.readLogCandidate(ctx, best.peer, best.idx+1)
		if err != nil {
			t.log.Errorf("log fan-in: reading log entry %s/log-%d: %v", best.peer, best.idx+1, err)
			continue
		}
		if ok {
			candidates[best.peer] = next
		}
	}
	return nil
}

// enqueueLogEntry performs spec.md §4.3 step 4's atomic multi: a
// persistent-sequential queue node carrying the entry bytes, plus
// advancing the per-peer log pointer past it.
func (t *Table) enqueueLogEntry(ctx context.Context, c *logCandidate) error {
	pointerPath := t.paths.ReplicaLogPointer(t.settings.ReplicaName, c.peer)
	queuePrefix := t.paths.ReplicaQueuePrefix(t.settings.ReplicaName)

	names, err := t.coord.Multi(ctx,
		coordinator.CreateSequentialOp(queuePrefix, c.entry.Serialize()),
		coordinator.SetDataOp(pointerPath, []byte(strconv.FormatInt(c.idx+1, 10))),
	)
	if err != nil {
		return err
	}
	c.entry.ZnodeName = names[0]

	t.queue.mu.Lock()
	t.queue.entries = append(t.queue.entries, c.entry)
	if c.entry.Type == part.KindMergeParts {
		for _, src := range c.entry.PartsToMerge {
			t.queue.currentlyMerging[src] = true
		}
	}
	t.queue.mu.Unlock()
	return nil
}

// logPointer reads /replicas/<me>/log_pointers/<peer>, seeding it to the
// lowest existing index in peer's log (or 0) if it has never been set
// (spec.md §4.3 step 2).
func (t *Table) logPointer(ctx context.Context, peer string) (int64, error) {
	p := t.paths.ReplicaLogPointer(t.settings.ReplicaName, peer)
	data, _, err := t.coord.TryGet(ctx, p)
	if err != nil {
		return 0, err
	}
	if data != nil {
		return strconv.ParseInt(string(data), 10, 64)
	}

	seed, err := t.lowestLogIndex(ctx, peer)
	if err != nil {
		return 0, err
	}
	if err := t.coord.Create(ctx, p, []byte(strconv.FormatInt(seed, 10))); err != nil {
		if err == coordinator.ErrNodeExists {
			data, _, err := t.coord.Get(ctx, p)
			if err != nil {
				return 0, err
			}
			return strconv.ParseInt(string(data), 10, 64)
		}
		return 0, err
	}
	return seed, nil
}

func (t *Table) lowestLogIndex(ctx context.Context, peer string) (int64, error) {
	names, err := t.coord.Children(ctx, t.paths.ReplicaLog(peer))
	if err != nil {
		return 0, err
	}
	min := int64(-1)
	for _, n := range names {
		idx, err := parseLogIndexName(n)
		if err != nil {
			continue
		}
		if min == -1 || idx < min {
			min = idx
		}
	}
	if min == -1 {
		return 0, nil
	}
	return min, nil
}

func parseLogIndexName(name string) (int64, error) {
	const prefix = "log-"
	if !strings.HasPrefix(name, prefix) {
		return 0, fmt.Errorf("not a log entry name: %s", name)
	}
	return strconv.ParseInt(strings.TrimPrefix(name, prefix), 10, 64)
}

// readLogCandidate reads /replicas/<peer>/log/log-<idx>, returning ok=false
// (not an error) if the record does not exist yet.
func (t *Table) readLogCandidate(ctx context.Context, peer string, idx int64) (*logCandidate, bool, error) {
	data, stat, err := t.coord.TryGet(ctx, t.paths.ReplicaLogEntry(peer, idx))
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		return nil, false, nil
	}
	entry, err := part.ParseLogEntry(data)
	if err != nil {
		return nil, false, err
	}
	return &logCandidate{peer: peer, idx: idx, entry: entry, czxid: stat.Czxid}, true, nil
}
