package model

// MetricsSnapshot is derived from one trailing window of transactions.
type MetricsSnapshot struct {
	SuccessRate     float64        `json:"success_rate"`
	FailureClusters map[string]int `json:"failure_clusters"`
	TotalCount      int            `json:"total_count"`
	FailedCount     int            `json:"failed_count"`
}

// Empty reports whether the snapshot was computed from no data.
func (m MetricsSnapshot) Empty() bool {
	return m.TotalCount == 0
}

// Clone returns a deep copy of the snapshot.
func (m MetricsSnapshot) Clone() MetricsSnapshot {
	out := m
	if m.FailureClusters != nil {
		out.FailureClusters = make(map[string]int, len(m.FailureClusters))
		for k, v := range m.FailureClusters {
			out.FailureClusters[k] = v
		}
	}
	return out
}

// Hypothesis is the judgement produced by the reasoning boundary for one cycle.
type Hypothesis struct {
	Summary         string `json:"summary"`
	AnomalyDetected bool   `json:"anomaly_detected"`
}

// Recommendation is a structured routing suggestion from the reasoning boundary.
type Recommendation struct {
	Region  string `json:"region"`
	Gateway string `json:"gateway"`
}

// Complete reports whether both region and gateway are set.
func (r *Recommendation) Complete() bool {
	return r != nil && r.Region != "" && r.Gateway != ""
}
