package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/clusterdb/repltree/internal/coordinator"
	coordetc "github.com/clusterdb/repltree/internal/coordinator/etc"
	"github.com/clusterdb/repltree/internal/part"
	"github.com/clusterdb/repltree/internal/replica"
	"github.com/clusterdb/repltree/internal/replica/etc"
	"github.com/clusterdb/repltree/pkg/common/utils"
)

func main() {
	replicaConfPath, coordConfPath := parseFlags()

	replicaConf := etc.ParseReplicaSettings(replicaConfPath)
	coordConf := coordetc.ParseCoordinatorConf(coordConfPath)

	table := startReplica(replicaConf, coordConf)
	serveMetrics(replicaConf)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	table.Shutdown(ctx)
}

func parseFlags() (replicaConfPath, coordConfPath string) {
	flag.StringVar(&replicaConfPath, "c", "", "replica config file path")
	flag.StringVar(&coordConfPath, "zk", "", "coordinator config file path")
	flag.Parse()

	if replicaConfPath == "" || coordConfPath == "" {
		log.Fatalf("both -c and -zk config file paths are required")
	}
	return
}

func startReplica(replicaConf etc.ReplicaSettings, coordConf coordetc.CoordinatorConf) *replica.Table {
	if err := utils.CheckAndMkdir(replicaConf.DBPath); err != nil {
		log.Fatalf("failed to prepare db dir %s: %v", replicaConf.DBPath, err)
	}

	coord, err := coordinator.DialZK(coordConf.Servers, coordConf.SessionTimeout.Duration)
	if err != nil {
		log.Fatalf("failed to dial coordinator ensemble: %v", err)
	}

	store, err := part.OpenLevelPartStore(replicaConf.DBPath)
	if err != nil {
		log.Fatalf("failed to open part store: %v", err)
	}

	paths := coordinator.NewPaths(replicaConf.ZookeeperPath)
	fetcher := part.NewRPCFetcher(func(host string, port int) string {
		replicaPath, err := resolveReplicaPath(coord, paths, host, port)
		if err != nil {
			log.Warnf("could not resolve replica path for %s:%d: %v", host, port, err)
			return ""
		}
		return replicaPath
	})

	merger := part.GreedyMerger{
		IndexGranularity: replicaConf.IndexGranularity,
		BigMergeBytes:    replicaConf.BigMergeBytes,
	}

	schema := replica.SchemaFromConf(replicaConf)

	table, err := replica.NewTable(replicaConf, coord, store, fetcher, merger, schema)
	if err != nil {
		log.Fatalf("failed to construct replica table: %v", err)
	}

	if err := table.Bootstrap(context.Background()); err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	return table
}

// serveMetrics exposes the counters and gauges from internal/replica.Metrics
// over /metrics, the same promhttp.Handler-in-a-goroutine idiom the teacher
// uses in internal/master/server.go. Listens on the replica's own host with
// the configured metrics port rather than the RPC port so the fetch server
// and the scrape endpoint never fight over one listener.
func serveMetrics(replicaConf etc.ReplicaSettings) {
	addr := fmt.Sprintf("%s:%d", replicaConf.Host, replicaConf.MetricsPort)
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Errorf("metrics listener on %s stopped: %v", addr, err)
		}
	}()
}

// resolveReplicaPath finds which replica under /replicas registered host:port
// so the fetcher can dial its inter-server endpoint by the exact
// "ReplicatedMergeTree:<replica_path>" name it was served under (spec.md
// §6). A linear scan of the (typically small) replica set, not cached,
// since replicas rarely move host:port and fetches are already rare
// relative to the replication loop's own pace.
func resolveReplicaPath(coord coordinator.Coordinator, paths coordinator.Paths, host string, port int) (string, error) {
	names, err := coord.Children(context.Background(), paths.Replicas())
	if err != nil {
		return "", err
	}
	for _, name := range names {
		data, _, err := coord.TryGet(context.Background(), paths.ReplicaHost(name))
		if err != nil || data == nil {
			continue
		}
		h, p, err := coordinator.ParseHostText(data)
		if err != nil || h != host || p != port {
			continue
		}
		return paths.Replica(name), nil
	}
	return "", os.ErrNotExist
}
