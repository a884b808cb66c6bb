package etc

import (
	"encoding/json"
	"io/ioutil"
	"time"

	log "github.com/sirupsen/logrus"
)

// ReplicaSettings configures one replica of one table. Shaped after the
// teacher's etc.ReplicaConf (internal/replica/etc/conf.go): a flat JSON
// file, no env/flag overrides beyond the config path.
type ReplicaSettings struct {
	ZookeeperPath string `json:"zookeeper_path"`
	ReplicaName   string `json:"replica_name"`
	Attach        bool   `json:"attach"`

	Host        string `json:"host"`
	Port        int    `json:"port"`
	MetricsPort int    `json:"metrics_port"`

	DBPath string `json:"db_dir"`

	ReplicationThreads int   `json:"replication_threads"`
	MergingThreads     int   `json:"merging_threads"`
	IndexGranularity   int64 `json:"index_granularity"`
	BigMergeBytes      int64 `json:"big_merge_bytes"`

	LogLevel string `json:"log_level"`

	// Schema describes the table's columns, carried in the same config
	// file as the rest of a replica's settings rather than a second file,
	// since every replica of a table must agree on it anyway.
	Schema SchemaConf `json:"schema"`

	// Sleep intervals named in spec.md §4.3/§4.4/§4.5. Zero means "use the
	// spec.md default"; tests override these to shrink loop latency.
	QueueUpdateSleep    time.Duration `json:"-"`
	QueueNoWorkSleep    time.Duration `json:"-"`
	QueueAfterWorkSleep time.Duration `json:"-"`
	QueueErrorSleep     time.Duration `json:"-"`
	MergeSelectingSleep time.Duration `json:"-"`
}

// SchemaConf is the config-file shape of a table's metadata (spec.md §6);
// internal/replica.SchemaFromConf converts it to a TableMetadata since
// this package cannot import replica without a cycle.
type SchemaConf struct {
	DateColumn          string       `json:"date_column"`
	SamplingExpression  string       `json:"sampling_expression"`
	Mode                int          `json:"mode"`
	SignColumn          string       `json:"sign_column"`
	PrimaryKeyExpression string      `json:"primary_key"`
	Columns             []ColumnConf `json:"columns"`
}

type ColumnConf struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Defaults fills in spec.md's named constants, and an "info" log level,
// for any zero-valued field.
func (s *ReplicaSettings) Defaults() {
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.ReplicationThreads == 0 {
		s.ReplicationThreads = 4
	}
	if s.MergingThreads == 0 {
		s.MergingThreads = 2
	}
	if s.IndexGranularity == 0 {
		s.IndexGranularity = 8192
	}
	if s.BigMergeBytes == 0 {
		s.BigMergeBytes = 25 * 1024 * 1024
	}
	if s.QueueUpdateSleep == 0 {
		s.QueueUpdateSleep = 5 * time.Second
	}
	if s.QueueNoWorkSleep == 0 {
		s.QueueNoWorkSleep = 5 * time.Second
	}
	if s.QueueAfterWorkSleep == 0 {
		s.QueueAfterWorkSleep = 0
	}
	if s.QueueErrorSleep == 0 {
		s.QueueErrorSleep = 1 * time.Second
	}
	if s.MergeSelectingSleep == 0 {
		s.MergeSelectingSleep = 5 * time.Second
	}
	if s.MetricsPort == 0 {
		s.MetricsPort = s.Port + 1000
	}
}

func ParseReplicaSettings(confPath string) ReplicaSettings {
	confBytes, err := ioutil.ReadFile(confPath)
	if err != nil {
		log.Fatalf("failed to open replica config file: %v", err)
	}
	conf := ReplicaSettings{}
	if err := json.Unmarshal(confBytes, &conf); err != nil {
		log.Fatalf("failed to parse replica config file: %v", err)
	}
	conf.Defaults()
	return conf
}
