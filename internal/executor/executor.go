// Package executor applies approved routing changes.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/routing"
	"github.com/sells-group/payops-sentinel/internal/store"
)

// ErrNotRouteChange is returned when asked to execute anything but a ROUTE_CHANGE.
var ErrNotRouteChange = eris.New("executor: proposal is not an executable route change")

// ExecuteRequest identifies the approved proposal and where it came from.
type ExecuteRequest struct {
	ThreadID string
	CycleID  string
	Proposal model.ActionProposal
}

// Executor performs side effects for approved proposals.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*model.ActionRecord, error)
}

// RoutingExecutor points a region at a new gateway and records the change.
type RoutingExecutor struct {
	routes  routing.Store
	history store.HistoryStore
	now     func() time.Time
}

// New creates a RoutingExecutor.
func New(routes routing.Store, history store.HistoryStore) *RoutingExecutor {
	return &RoutingExecutor{routes: routes, history: history, now: time.Now}
}

// Confirmation is the human-readable result of a successful reroute.
func Confirmation(region, gateway string) string {
	return fmt.Sprintf("ACTION SUCCESS: %s is now routed to %s.", region, gateway)
}

func (e *RoutingExecutor) Execute(ctx context.Context, req ExecuteRequest) (*model.ActionRecord, error) {
	p := req.Proposal
	if !p.IsRouteChange() {
		return nil, eris.Wrapf(ErrNotRouteChange, "kind %s", p.Kind)
	}

	prev, err := e.routes.Set(ctx, p.TargetRegion, p.TargetGateway)
	if err != nil {
		return nil, eris.Wrapf(err, "executor: set route %s", p.TargetRegion)
	}

	rec := model.ActionRecord{
		ID:              uuid.New().String(),
		ThreadID:        req.ThreadID,
		CycleID:         req.CycleID,
		Region:          p.TargetRegion,
		Gateway:         p.TargetGateway,
		PreviousGateway: prev,
		Result:          Confirmation(p.TargetRegion, p.TargetGateway),
		ExecutedAt:      e.now().UTC(),
	}
	if err := e.history.AppendAction(ctx, rec); err != nil {
		return nil, eris.Wrap(err, "executor: record action")
	}

	zap.L().Info("executor: route changed",
		zap.String("thread_id", req.ThreadID),
		zap.String("region", rec.Region),
		zap.String("gateway", rec.Gateway),
		zap.String("previous_gateway", prev),
	)
	return &rec, nil
}
