// Package coordinatortest provides an in-memory Coordinator for hermetic
// unit and scenario tests, standing in for a live ZooKeeper ensemble the
// way the teacher's integration tests prefer real in-process servers over
// mocks (internal/test/sys_test.go) — here the "real" backend would be an
// external ensemble, so a deterministic in-memory one is the closest
// equivalent that still runs under `go test`.
package coordinatortest

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/clusterdb/repltree/internal/coordinator"
)

type node struct {
	data      []byte
	version   int32
	czxid     int64
	ephemeral bool
}

// FakeCoordinator implements coordinator.Coordinator entirely in memory. A
// single global counter stands in for czxid: every mutation (create or
// setData) takes the next value, which is enough to give LogFanIn a total
// order across a peer's log the way real transaction ids would.
type FakeCoordinator struct {
	mu           sync.Mutex
	nodes        map[string]*node
	seq          map[string]int64 // per-parent sequential counters
	nextCzxid    int64
	watches      map[string][]chan coordinator.WatchEvent
}

func New() *FakeCoordinator {
	fc := &FakeCoordinator{
		nodes:   map[string]*node{"/": {}},
		seq:     map[string]int64{},
		watches: map[string][]chan coordinator.WatchEvent{},
	}
	return fc
}

func clean(p string) string {
	p = path.Clean(p)
	if p == "." {
		return "/"
	}
	return p
}

func (fc *FakeCoordinator) nextTxn() int64 {
	fc.nextCzxid++
	return fc.nextCzxid
}

func (fc *FakeCoordinator) parentExistsLocked(p string) bool {
	parent := clean(path.Dir(p))
	if parent == p {
		return true
	}
	_, ok := fc.nodes[parent]
	return ok
}

func (fc *FakeCoordinator) fireChildWatchesLocked(p string) {
	for _, ch := range fc.watches[p] {
		ch <- coordinator.WatchEvent{}
		close(ch)
	}
	delete(fc.watches, p)
}

func (fc *FakeCoordinator) createLocked(p string, data []byte, ephemeral bool) error {
	p = clean(p)
	if _, exists := fc.nodes[p]; exists {
		return coordinator.ErrNodeExists
	}
	if !fc.parentExistsLocked(p) {
		return coordinator.ErrNoNode
	}
	fc.nodes[p] = &node{data: data, czxid: fc.nextTxn(), ephemeral: ephemeral}
	fc.fireChildWatchesLocked(clean(path.Dir(p)))
	return nil
}

func (fc *FakeCoordinator) Create(_ context.Context, p string, data []byte) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.createLocked(p, data, false)
}

func (fc *FakeCoordinator) CreateSequential(_ context.Context, p string, data []byte, ephemeral bool) (string, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	parent := clean(path.Dir(p))
	if _, ok := fc.nodes[parent]; !ok {
		return "", coordinator.ErrNoNode
	}
	n := fc.seq[p]
	fc.seq[p] = n + 1
	full := clean(fmt.Sprintf("%s%010d", p, n))
	fc.nodes[full] = &node{data: data, czxid: fc.nextTxn(), ephemeral: ephemeral}
	fc.fireChildWatchesLocked(parent)
	return path.Base(full), nil
}

func (fc *FakeCoordinator) Get(_ context.Context, p string) ([]byte, *coordinator.Stat, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	n, ok := fc.nodes[clean(p)]
	if !ok {
		return nil, nil, coordinator.ErrNoNode
	}
	return n.data, &coordinator.Stat{Czxid: n.czxid, Version: n.version}, nil
}

func (fc *FakeCoordinator) TryGet(ctx context.Context, p string) ([]byte, *coordinator.Stat, error) {
	data, st, err := fc.Get(ctx, p)
	if err == coordinator.ErrNoNode {
		return nil, nil, nil
	}
	return data, st, err
}

func (fc *FakeCoordinator) Set(_ context.Context, p string, data []byte, version int32) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	n, ok := fc.nodes[clean(p)]
	if !ok {
		return coordinator.ErrNoNode
	}
	if version >= 0 && n.version != version {
		return fmt.Errorf("version mismatch at %s", p)
	}
	n.data = data
	n.version++
	n.czxid = fc.nextTxn()
	return nil
}

func (fc *FakeCoordinator) Exists(_ context.Context, p string) (bool, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	_, ok := fc.nodes[clean(p)]
	return ok, nil
}

func (fc *FakeCoordinator) Children(_ context.Context, p string) ([]string, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	p = clean(p)
	if _, ok := fc.nodes[p]; !ok {
		return nil, coordinator.ErrNoNode
	}
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	var out []string
	for candidate := range fc.nodes {
		if candidate == p || !strings.HasPrefix(candidate, prefix) {
			continue
		}
		rest := strings.TrimPrefix(candidate, prefix)
		if !strings.Contains(rest, "/") {
			out = append(out, rest)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (fc *FakeCoordinator) removeLocked(p string) error {
	p = clean(p)
	if _, ok := fc.nodes[p]; !ok {
		return nil
	}
	delete(fc.nodes, p)
	fc.fireChildWatchesLocked(clean(path.Dir(p)))
	return nil
}

func (fc *FakeCoordinator) TryRemove(_ context.Context, p string, _ int32) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.removeLocked(p)
}

func (fc *FakeCoordinator) RemoveRecursive(ctx context.Context, p string) error {
	children, err := fc.Children(ctx, p)
	if err != nil {
		if err == coordinator.ErrNoNode {
			return nil
		}
		return err
	}
	for _, child := range children {
		if err := fc.RemoveRecursive(ctx, path.Join(p, child)); err != nil {
			return err
		}
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.removeLocked(p)
}

func (fc *FakeCoordinator) Multi(_ context.Context, ops ...coordinator.Op) ([]string, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	// validate every op can apply before mutating anything, so the
	// transaction is all-or-nothing the way spec.md §4.3/§5 requires.
	// Each op sees the effect of the ops before it in the batch, as in a
	// real ZooKeeper multi (e.g. a node and its child created together).
	pending := map[string]bool{}
	has := func(p string) bool {
		if v, ok := pending[p]; ok {
			return v
		}
		_, ok := fc.nodes[p]
		return ok
	}
	for _, op := range ops {
		if op.Kind == coordinator.OpCreate && op.Sequential {
			if !fc.parentExistsLocked(clean(op.Path)) {
				return nil, coordinator.ErrNoNode
			}
			continue
		}
		p := clean(op.Path)
		switch op.Kind {
		case coordinator.OpCreate:
			if has(p) {
				return nil, coordinator.ErrNodeExists
			}
			if parent := clean(path.Dir(p)); parent != p && !has(parent) {
				return nil, coordinator.ErrNoNode
			}
			pending[p] = true
		case coordinator.OpSetData, coordinator.OpRemove:
			if !has(p) {
				return nil, coordinator.ErrNoNode
			}
			if op.Kind == coordinator.OpRemove {
				pending[p] = false
			}
		}
	}
	names := make([]string, len(ops))
	for i, op := range ops {
		if op.Kind == coordinator.OpCreate && op.Sequential {
			prefix := clean(op.Path)
			n := fc.seq[op.Path]
			fc.seq[op.Path] = n + 1
			full := clean(fmt.Sprintf("%s%010d", op.Path, n))
			fc.nodes[full] = &node{data: op.Data, czxid: fc.nextTxn(), ephemeral: op.Ephemeral}
			fc.fireChildWatchesLocked(clean(path.Dir(prefix)))
			names[i] = path.Base(full)
			continue
		}
		p := clean(op.Path)
		switch op.Kind {
		case coordinator.OpCreate:
			fc.nodes[p] = &node{data: op.Data, czxid: fc.nextTxn(), ephemeral: op.Ephemeral}
			fc.fireChildWatchesLocked(clean(path.Dir(p)))
		case coordinator.OpSetData:
			n := fc.nodes[p]
			n.data = op.Data
			n.version++
			n.czxid = fc.nextTxn()
		case coordinator.OpRemove:
			delete(fc.nodes, p)
			fc.fireChildWatchesLocked(clean(path.Dir(p)))
		}
	}
	return names, nil
}

func (fc *FakeCoordinator) NewEphemeralHolder(_ context.Context, p string, data []byte) (coordinator.EphemeralHolder, error) {
	fc.mu.Lock()
	err := fc.createLocked(p, data, true)
	fc.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &fakeEphemeralHolder{fc: fc, path: clean(p)}, nil
}

func (fc *FakeCoordinator) WatchChildren(_ context.Context, p string) (<-chan coordinator.WatchEvent, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	p = clean(p)
	if _, ok := fc.nodes[p]; !ok {
		return nil, coordinator.ErrNoNode
	}
	ch := make(chan coordinator.WatchEvent, 1)
	fc.watches[p] = append(fc.watches[p], ch)
	return ch, nil
}

func (fc *FakeCoordinator) Close() {}

type fakeEphemeralHolder struct {
	fc   *FakeCoordinator
	path string
}

func (h *fakeEphemeralHolder) Path() string { return h.path }

func (h *fakeEphemeralHolder) Release(ctx context.Context) error {
	return h.fc.TryRemove(ctx, h.path, -1)
}
