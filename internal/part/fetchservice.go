package part

import (
	"context"
	"fmt"

	"github.com/clusterdb/repltree/internal/netw"
)

// ServiceName is the inter-server endpoint name of spec.md §6:
// "ReplicatedMergeTree:<replica_path>".
func ServiceName(replicaPath string) string {
	return fmt.Sprintf("ReplicatedMergeTree:%s", replicaPath)
}

// FetchPartArgs/FetchPartReply are the RPC payload for the one method the
// parts server exposes. Shaped like the teacher's Args/Reply pairs
// (internal/replica/common.go).
type FetchPartArgs struct {
	Name string
}

type FetchPartReply struct {
	Found     bool
	Left      int64
	Right     int64
	Size      int64
	Checksums []byte
}

// PartsServer is the reference ReplicatedMergeTreePartsServer of spec.md
// §6: it answers FetchPart by looking the named part up in a local Store.
type PartsServer struct {
	store Store
}

func NewPartsServer(store Store) *PartsServer {
	return &PartsServer{store: store}
}

// FetchPart implements the rpcx service method. rpcx dispatches exported
// methods shaped func(ctx, *Args, *Reply) error by convention.
func (s *PartsServer) FetchPart(_ context.Context, args *FetchPartArgs, reply *FetchPartReply) error {
	parts, err := s.store.GetDataParts()
	if err != nil {
		return err
	}
	for _, p := range parts {
		if p.Name == args.Name {
			reply.Found = true
			reply.Left = p.Left
			reply.Right = p.Right
			reply.Size = p.Size
			reply.Checksums = p.Checksums
			return nil
		}
	}
	reply.Found = false
	return nil
}

func Serve(addr string, replicaPath string, store Store) (*netw.Server, error) {
	srv := netw.NewServer(addr)
	if err := srv.Register(ServiceName(replicaPath), NewPartsServer(store)); err != nil {
		return nil, err
	}
	go func() {
		_ = srv.Start()
	}()
	return srv, nil
}

// RPCFetcher is the reference Fetcher (spec.md §2 item 3) over the
// PartsServer endpoint above. Per spec.md §1 the real column-data transfer
// mechanism is out of scope; this moves only the metadata needed to
// materialize a Part value, enough to drive and test the replication
// state machine (SPEC_FULL.md §4.9).
type RPCFetcher struct {
	replicaPathOf func(host string, port int) string
}

// NewRPCFetcher takes a function mapping a peer's (host, port) to the
// coordinator replica_path it registered its endpoint under, since the
// service name is derived from that path, not the network address.
func NewRPCFetcher(replicaPathOf func(host string, port int) string) *RPCFetcher {
	return &RPCFetcher{replicaPathOf: replicaPathOf}
}

func (f *RPCFetcher) FetchPart(ctx context.Context, host string, port int, name string) (Part, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	cli, err := netw.DialClient(ServiceName(f.replicaPathOf(host, port)), addr)
	if err != nil {
		return Part{}, err
	}
	defer cli.Close()

	args := &FetchPartArgs{Name: name}
	reply := &FetchPartReply{}
	if err := cli.Call(ctx, "FetchPart", args, reply); err != nil {
		return Part{}, err
	}
	if !reply.Found {
		return Part{}, fmt.Errorf("peer %s does not have part %s", addr, name)
	}
	return Part{Name: name, Left: reply.Left, Right: reply.Right, Size: reply.Size, Checksums: reply.Checksums}, nil
}
