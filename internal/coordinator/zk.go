package coordinator

import (
	"context"
	"path"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZKCoordinator implements Coordinator over a real ZooKeeper ensemble. This
// is the one piece of the core that is not itself "in scope" per spec.md §1
// ("the coordinator client library itself" is named as an external
// collaborator) but the facade needs a working backend to be more than an
// interface, so it wraps the standard Go ZooKeeper client directly — no
// example in the retrieval pack talks to ZooKeeper, so this dependency is
// named, not grounded (see DESIGN.md).
type ZKCoordinator struct {
	conn *zk.Conn
}

// DialZK connects to the ensemble and blocks until the session is
// established, matching the teacher's pattern of synchronous connection
// setup in its RPC wrappers (internal/netw). It returns an error only when
// the ensemble reports an auth failure or an expired session; it has no
// deadline of its own (sessionTimeout is the ZooKeeper session timeout).
func DialZK(servers []string, sessionTimeout time.Duration) (*ZKCoordinator, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, err
	}
	for ev := range events {
		if ev.State == zk.StateHasSession {
			break
		}
		if ev.State == zk.StateAuthFailed || ev.State == zk.StateExpired {
			conn.Close()
			return nil, ev.Err
		}
	}
	return &ZKCoordinator{conn: conn}, nil
}

var worldACL = zk.WorldACL(zk.PermAll)

func (c *ZKCoordinator) Create(_ context.Context, p string, data []byte) error {
	_, err := c.conn.Create(p, data, 0, worldACL)
	return translateErr(err)
}

func (c *ZKCoordinator) CreateSequential(_ context.Context, p string, data []byte, ephemeral bool) (string, error) {
	flags := int32(zk.FlagSequence)
	if ephemeral {
		flags |= int32(zk.FlagEphemeral)
	}
	full, err := c.conn.Create(p, data, flags, worldACL)
	if err != nil {
		return "", translateErr(err)
	}
	return path.Base(full), nil
}

func (c *ZKCoordinator) Get(_ context.Context, p string) ([]byte, *Stat, error) {
	data, st, err := c.conn.Get(p)
	if err != nil {
		return nil, nil, translateErr(err)
	}
	return data, toStat(st), nil
}

func (c *ZKCoordinator) TryGet(ctx context.Context, p string) ([]byte, *Stat, error) {
	data, st, err := c.Get(ctx, p)
	if err == ErrNoNode {
		return nil, nil, nil
	}
	return data, st, err
}

func (c *ZKCoordinator) Set(_ context.Context, p string, data []byte, version int32) error {
	_, err := c.conn.Set(p, data, version)
	return translateErr(err)
}

func (c *ZKCoordinator) Exists(_ context.Context, p string) (bool, error) {
	ok, _, err := c.conn.Exists(p)
	if err != nil {
		return false, translateErr(err)
	}
	return ok, nil
}

func (c *ZKCoordinator) Children(_ context.Context, p string) ([]string, error) {
	children, _, err := c.conn.Children(p)
	if err != nil {
		return nil, translateErr(err)
	}
	return children, nil
}

func (c *ZKCoordinator) TryRemove(_ context.Context, p string, version int32) error {
	err := c.conn.Delete(p, version)
	if err == zk.ErrNoNode {
		return nil
	}
	return translateErr(err)
}

func (c *ZKCoordinator) RemoveRecursive(ctx context.Context, p string) error {
	children, err := c.Children(ctx, p)
	if err != nil && err != ErrNoNode {
		return err
	}
	for _, child := range children {
		if err := c.RemoveRecursive(ctx, path.Join(p, child)); err != nil {
			return err
		}
	}
	return c.TryRemove(ctx, p, -1)
}

func (c *ZKCoordinator) Multi(_ context.Context, ops ...Op) ([]string, error) {
	zkOps := make([]interface{}, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case OpCreate:
			var flags int32
			if op.Ephemeral {
				flags |= int32(zk.FlagEphemeral)
			}
			if op.Sequential {
				flags |= int32(zk.FlagSequence)
			}
			zkOps = append(zkOps, &zk.CreateRequest{Path: op.Path, Data: op.Data, Acl: worldACL, Flags: flags})
		case OpSetData:
			zkOps = append(zkOps, &zk.SetDataRequest{Path: op.Path, Data: op.Data, Version: op.Version})
		case OpRemove:
			zkOps = append(zkOps, &zk.DeleteRequest{Path: op.Path, Version: op.Version})
		}
	}
	resp, err := c.conn.Multi(zkOps...)
	if err != nil {
		return nil, translateErr(err)
	}
	names := make([]string, len(ops))
	for i, op := range ops {
		if op.Kind == OpCreate && op.Sequential && i < len(resp) {
			names[i] = path.Base(resp[i].String)
		}
	}
	return names, nil
}

func (c *ZKCoordinator) NewEphemeralHolder(_ context.Context, p string, data []byte) (EphemeralHolder, error) {
	_, err := c.conn.Create(p, data, int32(zk.FlagEphemeral), worldACL)
	if err != nil {
		return nil, translateErr(err)
	}
	return &zkEphemeralHolder{conn: c.conn, path: p}, nil
}

func (c *ZKCoordinator) WatchChildren(_ context.Context, p string) (<-chan WatchEvent, error) {
	_, _, events, err := c.conn.ChildrenW(p)
	if err != nil {
		return nil, translateErr(err)
	}
	out := make(chan WatchEvent, 1)
	go func() {
		ev := <-events
		out <- WatchEvent{Err: ev.Err}
		close(out)
	}()
	return out, nil
}

func (c *ZKCoordinator) Close() { c.conn.Close() }

type zkEphemeralHolder struct {
	conn *zk.Conn
	path string
}

func (h *zkEphemeralHolder) Path() string { return h.path }

func (h *zkEphemeralHolder) Release(_ context.Context) error {
	err := h.conn.Delete(h.path, -1)
	if err == zk.ErrNoNode {
		return nil
	}
	return translateErr(err)
}

func toStat(st *zk.Stat) *Stat {
	if st == nil {
		return nil
	}
	return &Stat{Czxid: st.Czxid, Version: st.Version}
}

func translateErr(err error) error {
	switch err {
	case nil:
		return nil
	case zk.ErrNoNode:
		return ErrNoNode
	case zk.ErrNodeExists:
		return ErrNodeExists
	default:
		return err
	}
}
