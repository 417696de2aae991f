package reasoning

import (
	"context"
	"time"

	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/resilience"
)

// Observer receives the outcome of every guarded call.
type Observer func(op string, elapsed time.Duration, err error)

// Guarded wraps a Reasoner with a timeout, retries and a circuit breaker.
type Guarded struct {
	next     Reasoner
	policy   resilience.Policy
	observer Observer
}

// NewGuarded wraps next with policy. observer may be nil.
func NewGuarded(next Reasoner, policy resilience.Policy, observer Observer) *Guarded {
	return &Guarded{next: next, policy: policy, observer: observer}
}

// Breaker returns the circuit breaker guarding the wrapped Reasoner, or nil.
func (g *Guarded) Breaker() *resilience.CircuitBreaker { return g.policy.Breaker }

func (g *Guarded) Analyze(ctx context.Context, req AnalyzeRequest) (*model.Hypothesis, error) {
	return guard(ctx, g, "analyze", func(ctx context.Context) (*model.Hypothesis, error) {
		return g.next.Analyze(ctx, req)
	})
}

func (g *Guarded) Recommend(ctx context.Context, req RecommendRequest) (*model.Recommendation, error) {
	return guard(ctx, g, "recommend", func(ctx context.Context) (*model.Recommendation, error) {
		return g.next.Recommend(ctx, req)
	})
}

func guard[T any](ctx context.Context, g *Guarded, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	val, err := resilience.Call(ctx, g.policy, fn)
	if g.observer != nil {
		g.observer(op, time.Since(start), err)
	}
	return val, err
}
