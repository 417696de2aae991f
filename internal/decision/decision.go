// Package decision turns a hypothesis into exactly one action proposal.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/reasoning"
	"github.com/sells-group/payops-sentinel/internal/routing"
)

// DefaultLookback is how many recent actions are consulted for suppression.
const DefaultLookback = 5

// Input is everything the engine considers for one cycle.
type Input struct {
	ThreadID   string
	Hypothesis model.Hypothesis
	Snapshot   model.MetricsSnapshot
	// History is the action history visible to this cycle, oldest first.
	History []model.ActionRecord
}

// Engine decides what to do about a hypothesis.
type Engine struct {
	reasoner reasoning.Reasoner
	routes   routing.Store
	lookback int
	now      func() time.Time
}

// New creates an Engine. lookback <= 0 uses DefaultLookback.
func New(r reasoning.Reasoner, routes routing.Store, lookback int) *Engine {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Engine{reasoner: r, routes: routes, lookback: lookback, now: time.Now}
}

// Decide returns NONE, ALERT_HUMAN or ROUTE_CHANGE. A ROUTE_CHANGE never
// repeats one of the last K executed changes and never targets the gateway a
// region already uses. Reasoner errors are returned unchanged in kind.
func (e *Engine) Decide(ctx context.Context, in Input) (model.ActionProposal, error) {
	log := zap.L().With(zap.String("thread_id", in.ThreadID))
	now := e.now().UTC()

	if !in.Hypothesis.AnomalyDetected {
		return model.ActionProposal{Kind: model.ActionNone, Reason: "no anomaly detected", ProposedAt: now}, nil
	}

	table, err := e.routes.Table(ctx)
	if err != nil {
		return model.ActionProposal{}, eris.Wrap(err, "decision: read routing table")
	}

	recent := model.LastK(in.History, e.lookback)
	rec, err := e.reasoner.Recommend(ctx, reasoning.RecommendRequest{
		Hypothesis:    in.Hypothesis,
		Snapshot:      in.Snapshot,
		RecentActions: recent,
		Routing:       table,
	})
	if err != nil {
		return model.ActionProposal{}, eris.Wrap(err, "decision: recommend")
	}

	alert := func(reason string) model.ActionProposal {
		log.Info("decision: alerting human", zap.String("reason", reason))
		p := model.ActionProposal{Kind: model.ActionAlertHuman, Reason: reason, ProposedAt: now}
		if rec != nil {
			p.TargetRegion, p.TargetGateway = rec.Region, rec.Gateway
		}
		return p
	}

	if !rec.Complete() {
		return alert("no automatic fix recommended"), nil
	}
	for _, a := range recent {
		if a.Matches(rec.Region, rec.Gateway) {
			return alert(fmt.Sprintf("already rerouted %s to %s recently", rec.Region, rec.Gateway)), nil
		}
	}
	if table.Resolve(rec.Region) == rec.Gateway {
		return alert(fmt.Sprintf("no-op reroute: %s already routed to %s", rec.Region, rec.Gateway)), nil
	}

	return model.ActionProposal{
		Kind:          model.ActionRouteChange,
		TargetRegion:  rec.Region,
		TargetGateway: rec.Gateway,
		Reason:        in.Hypothesis.Summary,
		ProposedAt:    now,
	}, nil
}
