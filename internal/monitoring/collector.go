package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/payops-sentinel/internal/aggregate"
	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/resilience"
	"github.com/sells-group/payops-sentinel/internal/store"
)

// StaleApproval is a proposal that has waited longer than the stale threshold.
type StaleApproval struct {
	ThreadID string               `json:"thread_id"`
	CycleID  string               `json:"cycle_id"`
	Proposal model.ActionProposal `json:"proposal"`
	Waiting  time.Duration        `json:"waiting"`
}

// SessionSnapshot holds a point-in-time view of all persisted sessions.
type SessionSnapshot struct {
	Sessions         int `json:"sessions"`
	Idle             int `json:"idle"`
	AwaitingApproval int `json:"awaiting_approval"`
	Executing        int `json:"executing"`
	Failed           int `json:"failed"`
	Expired          int `json:"expired"`

	// Sessions whose latest metrics fall below the success-rate threshold.
	LowSuccess []LowSuccess `json:"low_success,omitempty"`

	StaleApprovals []StaleApproval `json:"stale_approvals,omitempty"`
	FailedThreads  []string        `json:"failed_threads,omitempty"`

	// RecentActions are the last executed routing changes across all sessions.
	RecentActions []model.ActionRecord `json:"recent_actions,omitempty"`

	Breakers []BreakerStatus `json:"breakers,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// LowSuccess names a session and its latest success rate.
type LowSuccess struct {
	ThreadID    string  `json:"thread_id"`
	SuccessRate float64 `json:"success_rate"`
	Failed      int     `json:"failed"`
	Total       int     `json:"total"`
	// TopCluster is the largest failure cluster key, e.g. UK_stripe_91.
	TopCluster      string `json:"top_cluster,omitempty"`
	TopClusterCount int    `json:"top_cluster_count,omitempty"`
}

// BreakerStatus reports one circuit breaker at collection time.
type BreakerStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// Open reports whether calls through the breaker are being rejected.
func (b BreakerStatus) Open() bool {
	return b.State == resilience.CircuitOpen.String()
}

// ByStatus returns session counts keyed by status label.
func (s *SessionSnapshot) ByStatus() map[string]int {
	return map[string]int{
		"idle":              s.Idle,
		"awaiting_approval": s.AwaitingApproval,
		"executing":         s.Executing,
		"failed":            s.Failed,
		"expired":           s.Expired,
	}
}

// Collector gathers session metrics from the state repository.
type Collector struct {
	states  store.StateRepository
	history store.HistoryStore

	successThreshold float64
	breakers         []*resilience.CircuitBreaker
	now              func() time.Time
}

// NewCollector creates a collector. A successThreshold of 0 disables
// low-success detection.
func NewCollector(states store.StateRepository, history store.HistoryStore, successThreshold float64) *Collector {
	return &Collector{
		states:           states,
		history:          history,
		successThreshold: successThreshold,
		now:              time.Now,
	}
}

// WatchBreaker adds cb to every snapshot. nil is ignored.
func (c *Collector) WatchBreaker(cb *resilience.CircuitBreaker) {
	if cb != nil {
		c.breakers = append(c.breakers, cb)
	}
}

// Collect loads every session and reports approvals older than staleAfter.
func (c *Collector) Collect(ctx context.Context, staleAfter time.Duration) (*SessionSnapshot, error) {
	now := c.now().UTC()
	snap := &SessionSnapshot{CollectedAt: now}

	ids, err := c.states.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions")
	}

	for _, id := range ids {
		st, err := c.states.Load(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// Cleared between List and Load.
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: load session %s", id)
		}
		snap.Sessions++

		switch st.Stage {
		case model.StageAwaitingApproval:
			snap.AwaitingApproval++
			if staleAfter > 0 && st.PendingProposal != nil {
				waiting := now.Sub(st.PendingProposal.ProposedAt)
				if waiting > staleAfter {
					snap.StaleApprovals = append(snap.StaleApprovals, StaleApproval{
						ThreadID: st.ThreadID,
						CycleID:  st.CycleID,
						Proposal: *st.PendingProposal,
						Waiting:  waiting,
					})
				}
			}
		case model.StageExecuting:
			snap.Executing++
		case model.StageFailed:
			snap.Failed++
			snap.FailedThreads = append(snap.FailedThreads, st.ThreadID)
		case model.StageExpired:
			snap.Expired++
		default:
			snap.Idle++
		}

		if m := st.LatestMetrics; m != nil && !m.Empty() && m.SuccessRate < c.successThreshold {
			ls := LowSuccess{
				ThreadID:    st.ThreadID,
				SuccessRate: m.SuccessRate,
				Failed:      m.FailedCount,
				Total:       m.TotalCount,
			}
			if top, ok := aggregate.TopCluster(*m); ok {
				ls.TopCluster, ls.TopClusterCount = top.Key, top.Count
			}
			snap.LowSuccess = append(snap.LowSuccess, ls)
		}
	}

	if c.history != nil {
		recent, err := c.history.RecentActions(ctx, 10)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: recent actions")
		}
		snap.RecentActions = recent
	}

	for _, cb := range c.breakers {
		snap.Breakers = append(snap.Breakers, BreakerStatus{
			Name:     cb.Name(),
			State:    cb.State().String(),
			Failures: cb.Failures(),
		})
	}

	return snap, nil
}
