// Package aggregate derives success-rate and failure-cluster metrics from a
// window of transactions.
package aggregate

import (
	"sort"
	"strings"

	"github.com/sells-group/payops-sentinel/internal/model"
)

const (
	unknownField     = "UNK"
	defaultErrorCode = "00"
	keySep           = "_"
)

// Cluster is one failure grouping with its count.
type Cluster struct {
	Key       string `json:"key"`
	Region    string `json:"region"`
	Gateway   string `json:"gateway"`
	ErrorCode string `json:"error_code"`
	Count     int    `json:"count"`
}

// Compute builds a MetricsSnapshot for events. An empty window has a
// success rate of 1.0 and must be read by callers as "no data".
func Compute(events []model.TransactionEvent) model.MetricsSnapshot {
	snap := model.MetricsSnapshot{
		SuccessRate:     1.0,
		FailureClusters: make(map[string]int),
		TotalCount:      len(events),
	}
	if len(events) == 0 {
		return snap
	}

	successes := 0
	for _, ev := range events {
		switch ev.Status {
		case model.TxStatusSuccess:
			successes++
		case model.TxStatusFailed:
			snap.FailedCount++
			snap.FailureClusters[ClusterKey(ev.Region, ev.Gateway, ev.ErrorCode)]++
		}
	}
	snap.SuccessRate = float64(successes) / float64(len(events))
	return snap
}

// ClusterKey joins the cluster dimensions, substituting placeholders for blanks.
func ClusterKey(region, gateway, errorCode string) string {
	if region == "" {
		region = unknownField
	}
	if gateway == "" {
		gateway = unknownField
	}
	if errorCode == "" {
		errorCode = defaultErrorCode
	}
	return region + keySep + gateway + keySep + errorCode
}

// SplitClusterKey reverses ClusterKey. Gateways may themselves contain
// underscores, so the region is the first segment and the error code the last.
func SplitClusterKey(key string) (region, gateway, errorCode string, ok bool) {
	first := strings.Index(key, keySep)
	last := strings.LastIndex(key, keySep)
	if first < 0 || first == last {
		return "", "", "", false
	}
	return key[:first], key[first+1 : last], key[last+1:], true
}

// Clusters returns the snapshot's clusters ordered by count desc, then key.
func Clusters(snap model.MetricsSnapshot) []Cluster {
	out := make([]Cluster, 0, len(snap.FailureClusters))
	for key, n := range snap.FailureClusters {
		c := Cluster{Key: key, Count: n}
		c.Region, c.Gateway, c.ErrorCode, _ = SplitClusterKey(key)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// TopCluster returns the largest cluster, or false if there were no failures.
func TopCluster(snap model.MetricsSnapshot) (Cluster, bool) {
	cs := Clusters(snap)
	if len(cs) == 0 {
		return Cluster{}, false
	}
	return cs[0], true
}

// ClustersAbove returns the clusters whose count exceeds threshold.
func ClustersAbove(snap model.MetricsSnapshot, threshold int) []Cluster {
	var out []Cluster
	for _, c := range Clusters(snap) {
		if c.Count > threshold {
			out = append(out, c)
		}
	}
	return out
}
