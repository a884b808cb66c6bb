package replica

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide collectors, registered once. Grounded on the teacher's
// internal/master/server.go promauto.NewCounter package-level var, widened
// to a CounterVec labelled by replica so more than one Table can share a
// process (as the test suite does) without a duplicate-registration panic.
var (
	replicatedPartMerges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repltree",
		Name:      "replicated_part_merges_total",
		Help:      "MERGE_PARTS log entries executed locally.",
	}, []string{"replica"})

	replicatedPartFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repltree",
		Name:      "replicated_part_fetches_total",
		Help:      "Parts fetched from a peer replica.",
	}, []string{"replica"})

	replicatedPartFetchesOfMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repltree",
		Name:      "replicated_part_fetches_of_merged_total",
		Help:      "Fetches that were a merge-fallback rather than a plain GET_PART.",
	}, []string{"replica"})

	obsoleteReplicatedParts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repltree",
		Name:      "obsolete_replicated_parts_total",
		Help:      "Local parts superseded by a merge or fetch result.",
	}, []string{"replica"})

	replicaQueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "repltree",
		Name:      "replica_queue_length",
		Help:      "Entries currently awaiting execution in a replica's queue.",
	}, []string{"replica"})

	replicaCurrentlyMerging = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "repltree",
		Name:      "replica_currently_merging",
		Help:      "Part names presently tagged as an in-flight merge input.",
	}, []string{"replica"})
)

// Metrics is one replica's view over the process-wide counter vectors
// (spec.md §4.4: ReplicatedPartMerges, ReplicatedPartFetches,
// ReplicatedPartFetchesOfMerged, ObsoleteReplicatedParts) plus the queue
// depth and currently_merging set size gauges.
type Metrics struct {
	merges          prometheus.Counter
	fetches         prometheus.Counter
	fetchesOfMerged prometheus.Counter
	obsoleteParts   prometheus.Counter
	queueLength     prometheus.Gauge
	currentlyMerge  prometheus.Gauge
}

func NewMetrics(replicaName string) *Metrics {
	return &Metrics{
		merges:          replicatedPartMerges.WithLabelValues(replicaName),
		fetches:         replicatedPartFetches.WithLabelValues(replicaName),
		fetchesOfMerged: replicatedPartFetchesOfMerged.WithLabelValues(replicaName),
		obsoleteParts:   obsoleteReplicatedParts.WithLabelValues(replicaName),
		queueLength:     replicaQueueLength.WithLabelValues(replicaName),
		currentlyMerge:  replicaCurrentlyMerging.WithLabelValues(replicaName),
	}
}

func (m *Metrics) IncMerges()          { m.merges.Inc() }
func (m *Metrics) IncFetches()         { m.fetches.Inc() }
func (m *Metrics) IncFetchesOfMerged() { m.fetchesOfMerged.Inc() }
func (m *Metrics) AddObsoleteParts(n int) {
	if n > 0 {
		m.obsoleteParts.Add(float64(n))
	}
}

func (m *Metrics) SetQueueLength(n int)     { m.queueLength.Set(float64(n)) }
func (m *Metrics) SetCurrentlyMerging(n int) { m.currentlyMerge.Set(float64(n)) }

// runMetricsUpdater refreshes the queue-depth and currently_merging
// gauges on a tick, the same package-level ticker idiom the teacher uses
// to drive opsProcessed in internal/master/server.go.
func (t *Table) runMetricsUpdater() {
	defer t.wg.Done()
	tick := time.NewTicker(t.settings.QueueUpdateSleep)
	defer tick.Stop()
	for {
		t.metrics.SetQueueLength(t.queue.Len())
		t.metrics.SetCurrentlyMerging(t.queue.CurrentlyMergingCount())
		select {
		case <-t.killedC:
			return
		case <-tick.C:
		}
	}
}
