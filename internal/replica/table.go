// Package replica implements the replication state machine of spec.md §4:
// bootstrap, the replication queue, log-to-queue fan-in, the executor
// pool, leader election, and the leader-only merge selector. It is the
// heart of the core; everything else in this module (coordinator,
// part) is a collaborator this package drives.
package replica

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clusterdb/repltree/internal/coordinator"
	"github.com/clusterdb/repltree/internal/netw"
	"github.com/clusterdb/repltree/internal/part"
	"github.com/clusterdb/repltree/internal/replica/etc"
	"github.com/clusterdb/repltree/pkg/common"
	"github.com/clusterdb/repltree/pkg/common/utils"
)

// Table is one replica's view of a replicated table: the coordinator
// structure under settings.ZookeeperPath, the local part store, and the
// goroutines that keep this replica's part set converging with its
// peers. Shaped after the teacher's ShardMaster (internal/master/server.go):
// a single struct owning a mutex, a buffered kill channel broadcast to
// every background loop, and an atomic killed flag, rather than a
// context-cancellation tree.
type Table struct {
	mu sync.Mutex

	settings etc.ReplicaSettings
	paths    coordinator.Paths
	coord    coordinator.Coordinator
	store    part.Store
	fetcher  part.Fetcher
	merger   part.Merger
	lock     part.AbandonableLock

	schema TableMetadata

	queue *Queue
	rand  common.ThreadSafeRand

	log     *log.Logger
	metrics *Metrics

	structureMu sync.RWMutex // lockStructure(shared), spec.md §4.4 step 2 / §5

	isActiveHolder coordinator.EphemeralHolder
	electionHolder coordinator.EphemeralHolder

	isLeader          int32 // atomic bool
	mergeSelectorOnce sync.Once
	mergeSelectorMu   sync.Mutex
	mergeSelectorStop chan struct{}

	fetchServer *netw.Server

	killedC      chan int
	killed       int32
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewTable wires a Table's external collaborators together without
// touching the coordinator; call Bootstrap to create or attach and start
// the background goroutines.
func NewTable(settings etc.ReplicaSettings, coord coordinator.Coordinator, store part.Store, fetcher part.Fetcher, merger part.Merger, schema TableMetadata) (*Table, error) {
	logger, err := common.InitLogger(settings.LogLevel, "replica."+settings.ReplicaName)
	if err != nil {
		return nil, err
	}
	paths := coordinator.NewPaths(settings.ZookeeperPath)
	t := &Table{
		settings: settings,
		paths:    paths,
		coord:    coord,
		store:    store,
		fetcher:  fetcher,
		merger:   merger,
		schema:   schema,
		queue:    NewQueue(),
		rand:     common.MakeThreadSafeRand(time.Now().UnixNano()),
		log:      logger,
		metrics:  NewMetrics(settings.ReplicaName),
		// sized for leader election + log fan-in + N executors + merge selector
		// + metrics updater
		killedC: make(chan int, settings.ReplicationThreads+4),
	}
	t.lock = part.ZKAbandonableLock{Coord: coord, Paths: paths}
	return t, nil
}

func (t *Table) replicaPath() string { return t.paths.Replica(t.settings.ReplicaName) }

// Bootstrap runs spec.md §4.1 and starts the replica's background
// goroutines: LogFanIn, N executors, and leader election (whose callback
// starts the merge selector).
func (t *Table) Bootstrap(ctx context.Context) error {
	if !t.settings.Attach {
		if err := t.createTableStructureIfAbsent(ctx); err != nil {
			return err
		}
		if err := t.checkNotAddingToNonEmptyTable(ctx); err != nil {
			return err
		}
	}

	if err := t.checkTableStructure(ctx); err != nil {
		return err
	}

	if !t.settings.Attach {
		if err := t.createReplicaStructure(ctx); err != nil {
			return err
		}
	} else {
		if err := t.checkParts(ctx); err != nil {
			return err
		}
	}

	if err := t.loadQueue(ctx); err != nil {
		return err
	}

	if err := t.activateReplica(ctx); err != nil {
		return err
	}

	srv, err := part.Serve(fmt.Sprintf("%s:%d", t.settings.Host, t.settings.Port), t.replicaPath(), t.store)
	if err != nil {
		return fmt.Errorf("starting parts fetch endpoint: %w", err)
	}
	t.fetchServer = srv

	t.wg.Add(1)
	go t.runLogFanIn()
	for i := 0; i < t.settings.ReplicationThreads; i++ {
		t.wg.Add(1)
		go t.runExecutor(i)
	}
	t.wg.Add(1)
	go t.runLeaderElection()
	t.wg.Add(1)
	go t.runMetricsUpdater()

	t.log.Infof("replica %s bootstrapped (attach=%v)", t.settings.ReplicaName, t.settings.Attach)
	return nil
}

func (t *Table) createTableStructureIfAbsent(ctx context.Context) error {
	exists, err := t.coord.Exists(ctx, t.settings.ZookeeperPath)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	// create any missing ancestors of the root (e.g. /tables for
	// /tables/events) before the root itself.
	ancestor := ""
	for _, seg := range strings.Split(strings.Trim(path.Dir(t.settings.ZookeeperPath), "/"), "/") {
		if seg == "" {
			continue
		}
		ancestor += "/" + seg
		if err := t.coord.Create(ctx, ancestor, nil); err != nil && err != coordinator.ErrNodeExists {
			return err
		}
	}
	if err := t.coord.Create(ctx, t.settings.ZookeeperPath, nil); err != nil {
		return err
	}
	for _, child := range []string{t.paths.Metadata(), t.paths.Replicas(), t.paths.Blocks(),
		t.paths.BlockNumbers(), t.paths.LeaderElection(), t.paths.Temp()} {
		if child == t.paths.Metadata() {
			if err := t.coord.Create(ctx, child, []byte(t.schema.Format())); err != nil {
				return err
			}
			continue
		}
		if err := t.coord.Create(ctx, child, nil); err != nil {
			return err
		}
	}
	return nil
}

// checkNotAddingToNonEmptyTable enforces spec.md §4.1: a fresh (!attach)
// replica is only valid if no peer holds any parts yet.
func (t *Table) checkNotAddingToNonEmptyTable(ctx context.Context) error {
	replicas, err := t.coord.Children(ctx, t.paths.Replicas())
	if err != nil {
		return err
	}
	for _, r := range replicas {
		parts, err := t.coord.Children(ctx, t.paths.ReplicaParts(r))
		if err != nil {
			if err == coordinator.ErrNoNode {
				continue
			}
			return err
		}
		if len(parts) > 0 {
			return common.NewErr(common.ErrAddingReplicaToNonEmptyTable,
				"replica %s already holds %d part(s)", r, len(parts))
		}
	}
	return nil
}

// checkTableStructure re-reads /metadata and requires byte-equivalence
// with the locally computed serialization (spec.md §4.1, testable
// property 4).
func (t *Table) checkTableStructure(ctx context.Context) error {
	data, _, err := t.coord.Get(ctx, t.paths.Metadata())
	if err != nil {
		return err
	}
	remote, err := ParseTableMetadata(string(data))
	if err != nil {
		return err
	}
	if !remote.Equal(t.schema) {
		return common.NewErr(common.ErrUnknownIdentifier, "local schema does not match /metadata byte-for-byte")
	}
	return nil
}

func (t *Table) createReplicaStructure(ctx context.Context) error {
	me := t.replicaPath()
	if err := t.coord.Create(ctx, me, nil); err != nil {
		return err
	}
	for _, child := range []string{t.paths.ReplicaHost(t.settings.ReplicaName), t.paths.ReplicaLog(t.settings.ReplicaName),
		t.paths.ReplicaLogPointers(t.settings.ReplicaName), t.paths.ReplicaQueue(t.settings.ReplicaName),
		t.paths.ReplicaParts(t.settings.ReplicaName)} {
		if err := t.coord.Create(ctx, child, nil); err != nil {
			return err
		}
	}
	return nil
}

// checkParts reconciles getChildren(/replicas/<me>/parts) with
// getDataParts(), spec.md §4.1.
func (t *Table) checkParts(ctx context.Context) error {
	remoteNames, err := t.coord.Children(ctx, t.paths.ReplicaParts(t.settings.ReplicaName))
	if err != nil {
		return err
	}
	remote := map[string]bool{}
	for _, n := range remoteNames {
		remote[n] = true
	}

	localParts, err := t.store.GetDataParts()
	if err != nil {
		return err
	}
	local := map[string]bool{}
	for _, p := range localParts {
		local[p.Name] = true
	}

	for name := range remote {
		if !local[name] {
			return common.NewErr(common.ErrNotFoundExpectedDataPart, "expected local part %s is missing", name)
		}
	}

	var unexpected []part.Part
	for _, p := range localParts {
		if !remote[p.Name] {
			unexpected = append(unexpected, p)
		}
	}
	switch len(unexpected) {
	case 0:
		return nil
	case 1:
		t.log.Warnf("detaching unexpected local part %s as ignored_%s", unexpected[0].Name, unexpected[0].Name)
		return t.store.RenameAndDetachPart(unexpected[0], "ignored_")
	default:
		return common.NewErr(common.ErrTooManyUnexpectedDataParts, "%d unexpected local parts found", len(unexpected))
	}
}

// loadQueue reloads the queue from /replicas/<me>/queue, sorted by znode
// name, tagging each MERGE_PARTS entry's inputs as currently_merging.
//
// Open question 1 (see DESIGN.md): the source does not tag new_part_name
// into future_parts on load either; this implementation follows that
// literally rather than guessing at the fix.
func (t *Table) loadQueue(ctx context.Context) error {
	names, err := t.coord.Children(ctx, t.paths.ReplicaQueue(t.settings.ReplicaName))
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		data, _, err := t.coord.Get(ctx, t.paths.ReplicaQueue(t.settings.ReplicaName)+"/"+name)
		if err != nil {
			if err == coordinator.ErrNoNode {
				continue
			}
			return err
		}
		entry, err := part.ParseLogEntry(data)
		if err != nil {
			t.log.Errorf("dropping unparseable queue entry %s: %v", name, err)
			continue
		}
		entry.ZnodeName = name
		t.queue.entries = append(t.queue.entries, entry)
		if entry.Type == part.KindMergeParts {
			for _, src := range entry.PartsToMerge {
				t.queue.currentlyMerging[src] = true
			}
		}
	}
	return nil
}

// activateReplica creates /is_active (ephemeral) and writes /host,
// atomically, spec.md §4.1.
func (t *Table) activateReplica(ctx context.Context) error {
	exists, err := t.coord.Exists(ctx, t.paths.ReplicaIsActive(t.settings.ReplicaName))
	if err != nil {
		return err
	}
	if exists {
		return common.NewErr(common.ErrReplicaIsAlreadyActive, "replica %s is already active", t.settings.ReplicaName)
	}
	hostText := coordinator.FormatHost(t.settings.Host, t.settings.Port)
	_, err = t.coord.Multi(ctx,
		coordinator.CreateEphemeralOp(t.paths.ReplicaIsActive(t.settings.ReplicaName), nil),
		coordinator.SetDataOp(t.paths.ReplicaHost(t.settings.ReplicaName), []byte(hostText)),
	)
	if err != nil {
		return err
	}
	// The Multi above already created the ephemeral node, so we track its
	// path ourselves rather than going through NewEphemeralHolder (which
	// would see the node as already existing).
	t.isActiveHolder = selfReleasingHolder{coord: t.coord, path: t.paths.ReplicaIsActive(t.settings.ReplicaName)}
	return nil
}

// selfReleasingHolder is a minimal EphemeralHolder for a node this Table
// created through a Multi batch rather than through
// Coordinator.NewEphemeralHolder directly.
type selfReleasingHolder struct {
	coord coordinator.Coordinator
	path  string
}

func (h selfReleasingHolder) Path() string { return h.path }
func (h selfReleasingHolder) Release(ctx context.Context) error {
	return h.coord.TryRemove(ctx, h.path, -1)
}

// peerReplicas lists every replica name under /replicas other than this
// one.
func (t *Table) peerReplicas(ctx context.Context) ([]string, error) {
	names, err := t.coord.Children(ctx, t.paths.Replicas())
	if err != nil {
		return nil, err
	}
	out := names[:0:0]
	for _, n := range names {
		if n != t.settings.ReplicaName {
			out = append(out, n)
		}
	}
	return out, nil
}

// findActiveReplicaHavingPart picks a uniform-random active peer holding
// name, spec.md §4.4. Open question 3 (DESIGN.md): the parts/is_active
// check below is non-atomic, same as the source; a replica that loses its
// session between the two reads is simply not selected, or the later
// fetch fails and the entry is re-queued.
func (t *Table) findActiveReplicaHavingPart(ctx context.Context, name string) (replica, host string, port int, err error) {
	peers, err := t.peerReplicas(ctx)
	if err != nil {
		return "", "", 0, err
	}
	peers = utils.ShuffleStrings(&t.rand, peers)
	for _, p := range peers {
		has, err := t.coord.Exists(ctx, t.paths.ReplicaPart(p, name))
		if err != nil || !has {
			continue
		}
		active, err := t.coord.Exists(ctx, t.paths.ReplicaIsActive(p))
		if err != nil || !active {
			continue
		}
		hostData, _, err := t.coord.Get(ctx, t.paths.ReplicaHost(p))
		if err != nil {
			continue
		}
		h, prt, err := coordinator.ParseHostText(hostData)
		if err != nil {
			continue
		}
		return p, h, prt, nil
	}
	return "", "", 0, common.NewErr(common.ErrNoReplicaHasPart, "no active replica holds part %s", name)
}

func (t *Table) isKilled() bool { return atomic.LoadInt32(&t.killed) == 1 }
