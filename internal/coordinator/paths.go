package coordinator

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/clusterdb/repltree/pkg/common/utils"
)

// Paths builds the coordinator layout of spec.md §6 rooted at a single
// table's zookeeper_path. Keeping path construction in one place is what
// lets the zero-padding and child-name contracts stay bit-exact (spec.md
// §9: "part of the wire contract and must be preserved bit-exactly").
type Paths struct {
	Root string
}

func NewPaths(root string) Paths { return Paths{Root: root} }

func (p Paths) Metadata() string      { return path.Join(p.Root, "metadata") }
func (p Paths) Replicas() string      { return path.Join(p.Root, "replicas") }
func (p Paths) Blocks() string        { return path.Join(p.Root, "blocks") }
func (p Paths) BlockNumbers() string  { return path.Join(p.Root, "block_numbers") }
func (p Paths) LeaderElection() string { return path.Join(p.Root, "leader_election") }
func (p Paths) Temp() string          { return path.Join(p.Root, "temp") }

func (p Paths) Replica(name string) string       { return path.Join(p.Replicas(), name) }
func (p Paths) ReplicaHost(name string) string    { return path.Join(p.Replica(name), "host") }
func (p Paths) ReplicaIsActive(name string) string { return path.Join(p.Replica(name), "is_active") }
func (p Paths) ReplicaLog(name string) string      { return path.Join(p.Replica(name), "log") }
func (p Paths) ReplicaLogPointers(name string) string {
	return path.Join(p.Replica(name), "log_pointers")
}
func (p Paths) ReplicaLogPointer(name, peer string) string {
	return path.Join(p.ReplicaLogPointers(name), peer)
}
func (p Paths) ReplicaQueue(name string) string { return path.Join(p.Replica(name), "queue") }
func (p Paths) ReplicaParts(name string) string { return path.Join(p.Replica(name), "parts") }
func (p Paths) ReplicaPart(name, part string) string {
	return path.Join(p.ReplicaParts(name), part)
}
func (p Paths) ReplicaPartChecksums(name, part string) string {
	return path.Join(p.ReplicaPart(name, part), "checksums")
}

func (p Paths) LogEntryName(idx int64) string { return "log-" + utils.ZeroPad10(idx) }
func (p Paths) QueueEntryPrefix() string      { return "queue-" }
func (p Paths) BlockNumberName(n int64) string { return "block-" + utils.ZeroPad10(n) }

func (p Paths) ReplicaLogEntry(name string, idx int64) string {
	return path.Join(p.ReplicaLog(name), p.LogEntryName(idx))
}

// ReplicaLogPrefix is the sequential-create prefix for a new log entry,
// e.g. MergeSelector publishing a MERGE_PARTS record (spec.md §4.5 step 4).
func (p Paths) ReplicaLogPrefix(name string) string {
	return path.Join(p.ReplicaLog(name), "log-")
}

// ReplicaQueuePrefix is the sequential-create prefix for a new queue
// node (spec.md §4.3 step 4).
func (p Paths) ReplicaQueuePrefix(name string) string {
	return path.Join(p.ReplicaQueue(name), p.QueueEntryPrefix())
}

func (p Paths) BlockNumber(n int64) string {
	return path.Join(p.BlockNumbers(), p.BlockNumberName(n))
}

// FormatHost renders the host text of spec.md §6.
func FormatHost(host string, port int) string {
	return fmt.Sprintf("host: %s\nport: %d\n", host, port)
}

// ParseHostText parses the text FormatHost renders.
func ParseHostText(data []byte) (host string, port int, err error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "host: ") || !strings.HasPrefix(lines[1], "port: ") {
		return "", 0, fmt.Errorf("malformed host text: %q", string(data))
	}
	port, err = strconv.Atoi(strings.TrimPrefix(lines[1], "port: "))
	if err != nil {
		return "", 0, err
	}
	return strings.TrimPrefix(lines[0], "host: "), port, nil
}
