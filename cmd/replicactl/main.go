package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strconv"

	"github.com/liushuochen/gotable"
	log "github.com/sirupsen/logrus"

	"github.com/clusterdb/repltree/internal/coordinator"
	"github.com/clusterdb/repltree/internal/coordinator/etc"
)

// replicactl is a small operational tool over the coordinator facade,
// grounded on the teacher's src/client/console_client.go gotable usage: no
// interactive shell, one subcommand per invocation.
func main() {
	zkConfPath, root := parseFlags()
	if flag.NArg() < 1 {
		log.Fatalf("usage: replicactl -zk <conf> -root <path> <replicas|queue|parts> [replica]")
	}

	conf := etc.ParseCoordinatorConf(zkConfPath)
	coord, err := coordinator.DialZK(conf.Servers, conf.SessionTimeout.Duration)
	if err != nil {
		log.Fatalf("failed to dial coordinator ensemble: %v", err)
	}
	defer coord.Close()

	paths := coordinator.NewPaths(root)
	ctx := context.Background()

	switch flag.Arg(0) {
	case "replicas":
		printReplicas(ctx, coord, paths)
	case "queue":
		if flag.NArg() < 2 {
			log.Fatalf("usage: replicactl queue <replica>")
		}
		printQueue(ctx, coord, paths, flag.Arg(1))
	case "parts":
		if flag.NArg() < 2 {
			log.Fatalf("usage: replicactl parts <replica>")
		}
		printParts(ctx, coord, paths, flag.Arg(1))
	default:
		log.Fatalf("unknown subcommand %q", flag.Arg(0))
	}
}

func parseFlags() (zkConfPath, root string) {
	flag.StringVar(&zkConfPath, "zk", "", "coordinator config file path")
	flag.StringVar(&root, "root", "", "table's zookeeper_path root")
	flag.Parse()

	if zkConfPath == "" || root == "" {
		log.Fatalf("both -zk and -root are required")
	}
	return
}

func printReplicas(ctx context.Context, coord coordinator.Coordinator, paths coordinator.Paths) {
	names, err := coord.Children(ctx, paths.Replicas())
	if err != nil {
		log.Fatalf("failed to list replicas: %v", err)
	}
	sort.Strings(names)

	table, err := gotable.Create("Replica", "Active", "Host", "QueueLen", "PartCount")
	if err != nil {
		log.Fatalf("failed to build table: %v", err)
	}
	for _, name := range names {
		active, _ := coord.Exists(ctx, paths.ReplicaIsActive(name))

		host := "-"
		if data, _, err := coord.TryGet(ctx, paths.ReplicaHost(name)); err == nil && data != nil {
			if h, p, err := coordinator.ParseHostText(data); err == nil {
				host = fmt.Sprintf("%s:%d", h, p)
			}
		}

		queueChildren, _ := coord.Children(ctx, paths.ReplicaQueue(name))
		partChildren, _ := coord.Children(ctx, paths.ReplicaParts(name))

		row := []string{
			name,
			strconv.FormatBool(active),
			host,
			strconv.Itoa(len(queueChildren)),
			strconv.Itoa(len(partChildren)),
		}
		if err := table.AddRow(row); err != nil {
			log.Fatalf("failed to add row: %v", err)
		}
	}
	fmt.Print(table.String())
}

func printQueue(ctx context.Context, coord coordinator.Coordinator, paths coordinator.Paths, replicaName string) {
	names, err := coord.Children(ctx, paths.ReplicaQueue(replicaName))
	if err != nil {
		log.Fatalf("failed to list queue for %s: %v", replicaName, err)
	}
	sort.Strings(names)

	table, err := gotable.Create("Znode", "Body")
	if err != nil {
		log.Fatalf("failed to build table: %v", err)
	}
	for _, name := range names {
		data, _, err := coord.TryGet(ctx, paths.ReplicaQueue(replicaName)+"/"+name)
		if err != nil {
			continue
		}
		body := "(missing)"
		if data != nil {
			body = string(data)
		}
		if err := table.AddRow([]string{name, body}); err != nil {
			log.Fatalf("failed to add row: %v", err)
		}
	}
	fmt.Print(table.String())
}

func printParts(ctx context.Context, coord coordinator.Coordinator, paths coordinator.Paths, replicaName string) {
	names, err := coord.Children(ctx, paths.ReplicaParts(replicaName))
	if err != nil {
		log.Fatalf("failed to list parts for %s: %v", replicaName, err)
	}
	sort.Strings(names)

	table, err := gotable.Create("Part")
	if err != nil {
		log.Fatalf("failed to build table: %v", err)
	}
	for _, name := range names {
		if err := table.AddRow([]string{name}); err != nil {
			log.Fatalf("failed to add row: %v", err)
		}
	}
	fmt.Print(table.String())
}
