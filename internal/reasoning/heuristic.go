package reasoning

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/payops-sentinel/internal/aggregate"
	"github.com/sells-group/payops-sentinel/internal/model"
)

// Heuristic is a deterministic Reasoner: a cluster above Threshold is an
// incident, and the fix is to move the region to another known gateway.
type Heuristic struct {
	Threshold int
	Gateways  []string
}

// NewHeuristic returns a Heuristic, defaulting blank settings.
func NewHeuristic(threshold int, gateways []string) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultClusterThreshold
	}
	if len(gateways) == 0 {
		gateways = DefaultGateways
	}
	return &Heuristic{Threshold: threshold, Gateways: gateways}
}

func (h *Heuristic) Analyze(_ context.Context, req AnalyzeRequest) (*model.Hypothesis, error) {
	above := aggregate.ClustersAbove(req.Snapshot, h.Threshold)
	if len(above) == 0 {
		return &model.Hypothesis{
			Summary: fmt.Sprintf("Normal noise: no failure cluster above %d (success rate %.2f%%)",
				h.Threshold, req.Snapshot.SuccessRate*100),
		}, nil
	}

	top := above[0]
	return &model.Hypothesis{
		Summary: fmt.Sprintf("Targeted incident: %s failing on %s with error %s (%d failures, success rate %.2f%%)",
			top.Region, top.Gateway, top.ErrorCode, top.Count, req.Snapshot.SuccessRate*100),
		AnomalyDetected: true,
	}, nil
}

func (h *Heuristic) Recommend(_ context.Context, req RecommendRequest) (*model.Recommendation, error) {
	if !req.Hypothesis.AnomalyDetected {
		return nil, nil
	}
	above := aggregate.ClustersAbove(req.Snapshot, h.Threshold)
	if len(above) == 0 {
		return nil, nil
	}
	top := above[0]
	if top.Region == "" || top.Region == "UNK" {
		return nil, nil
	}

	for _, gw := range h.Gateways {
		if gw == top.Gateway {
			continue
		}
		if recentlyRerouted(req.RecentActions, top.Region, gw) {
			zap.L().Debug("reasoning: heuristic skipping recent reroute",
				zap.String("region", top.Region), zap.String("gateway", gw))
			return nil, nil
		}
		return &model.Recommendation{Region: top.Region, Gateway: gw}, nil
	}
	return nil, nil
}
