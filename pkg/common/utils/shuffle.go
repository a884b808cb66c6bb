package utils

import "github.com/clusterdb/repltree/pkg/common"

// ShuffleStrings returns a copy of items in uniform-random order, using a
// shared thread-safe RNG. Backs findActiveReplicaHavingPart's "uniform-
// random shuffle over peers" requirement (spec.md §4.4).
func ShuffleStrings(tsr *common.ThreadSafeRand, items []string) []string {
	out := make([]string, len(items))
	copy(out, items)
	for i := len(out) - 1; i > 0; i-- {
		j := tsr.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
