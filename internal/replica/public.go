package replica

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/clusterdb/repltree/internal/coordinator"
)

// BlockInputStream is the read path's entry point (spec.md §6): the core
// only names it, the actual column scan and SQL execution live outside
// this module.
type BlockInputStream interface {
	Close() error
}

// BlockOutputStream is the write path's entry point (spec.md §6). Each
// Append obtains a fresh block number under /block_numbers and returns it
// as the insert_id the caller should tag the written block with; the
// actual column write is external.
type BlockOutputStream interface {
	Append(ctx context.Context) (insertID int64, err error)
	Close() error
}

// ReadQuery is the minimal shape of a read request the core needs to know
// about, per spec.md §6 ("only their entry points are named").
type ReadQuery struct {
	Columns      []string
	Query        string
	MaxBlockSize int
	Threads      int
}

// Read delegates to the external read path. The core's only
// responsibility is to exist as a named entry point; no replication state
// is touched.
func (t *Table) Read(_ context.Context, _ ReadQuery) (BlockInputStream, error) {
	return nil, fmt.Errorf("replica: read path is external to the replication core, not implemented here")
}

// Write returns a BlockOutputStream whose Append obtains a fresh,
// monotonic block number under /block_numbers (spec.md §6: "coordinates
// with /blocks"). The actual column write is external.
func (t *Table) Write(_ context.Context, _ string) (BlockOutputStream, error) {
	return &blockOutputStream{t: t}, nil
}

type blockOutputStream struct {
	t *Table
}

func (s *blockOutputStream) Append(ctx context.Context) (int64, error) {
	prefix := path.Join(s.t.paths.BlockNumbers(), "block-")
	name, err := s.t.coord.CreateSequential(ctx, prefix, nil, false)
	if err != nil {
		return 0, err
	}
	return parseBlockNodeName(name)
}

func (s *blockOutputStream) Close() error { return nil }

func parseBlockNodeName(name string) (int64, error) {
	const prefix = "block-"
	if !strings.HasPrefix(name, prefix) {
		return 0, fmt.Errorf("unexpected sequential block node name %q", name)
	}
	return strconv.ParseInt(strings.TrimPrefix(name, prefix), 10, 64)
}

// Drop implements spec.md §6: shut down, remove is_active, recursively
// remove /replicas/<me>, and if this was the last replica, remove the
// whole table root.
func (t *Table) Drop(ctx context.Context) error {
	t.Shutdown(ctx)

	if err := t.coord.TryRemove(ctx, t.paths.ReplicaIsActive(t.settings.ReplicaName), -1); err != nil {
		t.log.Warnf("drop: failed to remove is_active: %v", err)
	}
	if err := t.coord.RemoveRecursive(ctx, t.replicaPath()); err != nil {
		return fmt.Errorf("removing replica structure: %w", err)
	}

	remaining, err := t.coord.Children(ctx, t.paths.Replicas())
	if err != nil {
		if err == coordinator.ErrNoNode {
			return nil
		}
		return err
	}
	if len(remaining) == 0 {
		if err := t.coord.RemoveRecursive(ctx, t.settings.ZookeeperPath); err != nil {
			return fmt.Errorf("removing table root: %w", err)
		}
	}
	return nil
}
