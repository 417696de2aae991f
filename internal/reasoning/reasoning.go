// Package reasoning is the boundary to the component that explains a metrics
// snapshot and suggests a reroute. Implementations may be slow, non-deterministic
// and fallible; callers treat them as advisory.
package reasoning

import (
	"context"

	"github.com/sells-group/payops-sentinel/internal/model"
)

// DefaultClusterThreshold is the failure count a cluster must exceed to count as an incident.
const DefaultClusterThreshold = 5

// DefaultGateways are the gateways a region can be moved to.
var DefaultGateways = []string{"stripe", "adyen"}

// AnalyzeRequest carries the snapshot to explain.
type AnalyzeRequest struct {
	Snapshot model.MetricsSnapshot
}

// RecommendRequest carries everything a reroute suggestion may consider.
// RecentActions is a suppression hint; the decision engine re-checks it.
type RecommendRequest struct {
	Hypothesis    model.Hypothesis
	Snapshot      model.MetricsSnapshot
	RecentActions []model.ActionRecord
	Routing       model.RoutingTable
}

// Reasoner produces hypotheses and routing recommendations.
//
// Recommend returns (nil, nil) when it has no confident suggestion. Errors are
// reserved for failures to reach or use the underlying service.
type Reasoner interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*model.Hypothesis, error)
	Recommend(ctx context.Context, req RecommendRequest) (*model.Recommendation, error)
}

func recentlyRerouted(actions []model.ActionRecord, region, gateway string) bool {
	for _, a := range actions {
		if a.Matches(region, gateway) {
			return true
		}
	}
	return false
}
