// Package netw wraps rpcx for the one RPC surface the replication core
// owns: the inter-server part-fetch endpoint named
// "ReplicatedMergeTree:<replica_path>" in spec.md §6. Grounded on the
// teacher's internal/netw/rpcx.go RpcxServer/ClientEnd, with the
// serialize type switched from the teacher's generated-msgp codec to
// rpcx's built-in JSON support (see DESIGN.md for why).
package netw

import (
	"context"
	"time"

	rpcxclient "github.com/smallnest/rpcx/client"
	rpcxlog "github.com/smallnest/rpcx/log"
	"github.com/smallnest/rpcx/protocol"
	"github.com/smallnest/rpcx/server"
)

func init() {
	rpcxlog.SetDummyLogger()
}

// Server exposes one named service over rpcx/tcp.
type Server struct {
	addr string
	serv *server.Server
}

func NewServer(addr string) *Server {
	return &Server{addr: addr, serv: server.NewServer()}
}

func (s *Server) Register(name string, svc interface{}) error {
	return s.serv.RegisterName(name, svc, "")
}

func (s *Server) Start() error {
	return s.serv.Serve("tcp", s.addr)
}

func (s *Server) Stop() error {
	return s.serv.Close()
}

// Client calls a named service registered by a peer's Server.
type Client struct {
	addr string
	name string
	cli  rpcxclient.XClient
}

func DialClient(serviceName, addr string) (*Client, error) {
	d, err := rpcxclient.NewPeer2PeerDiscovery("tcp@"+addr, "")
	if err != nil {
		return nil, err
	}
	option := rpcxclient.DefaultOption
	option.SerializeType = protocol.JSON
	option.ConnectTimeout = 5 * time.Second
	return &Client{
		addr: addr,
		name: serviceName,
		cli:  rpcxclient.NewXClient(serviceName, rpcxclient.Failtry, rpcxclient.RoundRobin, d, option),
	}, nil
}

func (c *Client) Call(ctx context.Context, method string, args, reply interface{}) error {
	return c.cli.Call(ctx, method, args, reply)
}

func (c *Client) Close() error {
	return c.cli.Close()
}
