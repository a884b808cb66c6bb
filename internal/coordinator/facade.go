// Package coordinator is a thin facade over a ZooKeeper-compatible
// hierarchical node store: create/get/set/exists/children/remove, atomic
// multi-op transactions, sequential child creation, and ephemeral-node
// holders tied to a session. Everything in the replication core talks to
// this interface, never to a vendor client directly, so the backend can be
// swapped for the in-memory fake used by tests (coordinatortest).
package coordinator

import "context"

// Stat mirrors the subset of ZooKeeper's stat structure the core needs.
// Czxid is the coordinator-assigned creation-transaction id spec.md relies
// on for cross-replica log ordering (spec.md §3 invariant 5, §4.3, §4.5).
type Stat struct {
	Czxid   int64
	Version int32
}

// OpKind distinguishes the three operations a Multi transaction may batch.
type OpKind int

const (
	OpCreate OpKind = iota
	OpSetData
	OpRemove
)

// Op is one step of an atomic Multi transaction.
type Op struct {
	Kind       OpKind
	Path       string
	Data       []byte
	Ephemeral  bool // only meaningful for OpCreate
	Sequential bool // only meaningful for OpCreate
	Version    int32
}

func CreateOp(path string, data []byte) Op { return Op{Kind: OpCreate, Path: path, Data: data} }
func CreateEphemeralOp(path string, data []byte) Op {
	return Op{Kind: OpCreate, Path: path, Data: data, Ephemeral: true}
}

// CreateSequentialOp creates a persistent-sequential child of path within
// a Multi transaction (spec.md §4.3 step 4: queue-node creation and
// log-pointer advancement must be atomic).
func CreateSequentialOp(path string, data []byte) Op {
	return Op{Kind: OpCreate, Path: path, Data: data, Sequential: true}
}
func SetDataOp(path string, data []byte) Op { return Op{Kind: OpSetData, Path: path, Data: data, Version: -1} }
func RemoveOp(path string) Op               { return Op{Kind: OpRemove, Path: path, Version: -1} }

// WatchEvent is delivered exactly once on the channel returned by a Watch*
// call, matching ZooKeeper's one-shot watch semantics.
type WatchEvent struct {
	Err error
}

// EphemeralHolder represents a single ephemeral node tied to the
// coordinator session that created it (spec.md §1 "ephemeral-node holders
// tied to a session"). Release removes the node if the session is still
// alive; it is a no-op if the session already expired (the node is gone
// either way).
type EphemeralHolder interface {
	Path() string
	Release(ctx context.Context) error
}

// Coordinator is the facade every replication component depends on.
type Coordinator interface {
	// Create makes a persistent node at path with the given data. Fails if
	// the node already exists or its parent does not.
	Create(ctx context.Context, path string, data []byte) error

	// CreateSequential creates a persistent- or ephemeral-sequential child
	// of path with the given prefix and returns the full generated name
	// (e.g. "queue-0000000007").
	CreateSequential(ctx context.Context, path string, data []byte, ephemeral bool) (string, error)

	// Get returns a node's data and stat. Returns (nil, nil, err) with a
	// sentinel not-found error (see ErrNoNode) if the node is absent.
	Get(ctx context.Context, path string) ([]byte, *Stat, error)

	// TryGet is Get but returns (nil, nil, nil) instead of an error when
	// the node does not exist, for call sites that treat absence as data.
	TryGet(ctx context.Context, path string) ([]byte, *Stat, error)

	Set(ctx context.Context, path string, data []byte, version int32) error

	Exists(ctx context.Context, path string) (bool, error)

	Children(ctx context.Context, path string) ([]string, error)

	// TryRemove removes path if it exists; returns nil if it was already
	// absent (spec.md §4.4 step 3: "not required for correctness").
	TryRemove(ctx context.Context, path string, version int32) error

	// RemoveRecursive removes path and every descendant.
	RemoveRecursive(ctx context.Context, path string) error

	// Multi executes ops atomically: all succeed or none do. The returned
	// slice parallels ops; for a Sequential OpCreate it holds the
	// generated child name, and is empty string for every other op.
	Multi(ctx context.Context, ops ...Op) ([]string, error)

	// NewEphemeralHolder creates an ephemeral node at path and returns a
	// handle to release it later. Fails with ErrNodeExists if one is
	// already present (used for /is_active, spec.md §3 invariant 3, and
	// for leader-election candidacy nodes, spec.md §4.6).
	NewEphemeralHolder(ctx context.Context, path string, data []byte) (EphemeralHolder, error)

	// WatchChildren fires once when path's child list changes.
	WatchChildren(ctx context.Context, path string) (<-chan WatchEvent, error)

	Close()
}

// ErrNoNode is returned by Get/Set/Exists-adjacent calls when a node is
// absent and the caller asked for the strict (non-Try) form.
var ErrNoNode = &nodeError{"no such node"}

// ErrNodeExists is returned by Create/NewEphemeralHolder when the target
// node already exists.
var ErrNodeExists = &nodeError{"node already exists"}

type nodeError struct{ msg string }

func (e *nodeError) Error() string { return e.msg }
