package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/payops-sentinel/internal/decision"
	"github.com/sells-group/payops-sentinel/internal/executor"
	"github.com/sells-group/payops-sentinel/internal/ingest"
	"github.com/sells-group/payops-sentinel/internal/monitoring"
	"github.com/sells-group/payops-sentinel/internal/reasoning"
	"github.com/sells-group/payops-sentinel/internal/resilience"
	"github.com/sells-group/payops-sentinel/internal/routing"
	"github.com/sells-group/payops-sentinel/internal/store"
	"github.com/sells-group/payops-sentinel/internal/workflow"
	anthropicpkg "github.com/sells-group/payops-sentinel/pkg/anthropic"
)

// sentinelEnv holds everything the commands need, wired from cfg.
type sentinelEnv struct {
	Store     store.Store
	Routes    *routing.FileStore
	Machine   *workflow.Machine
	Metrics   *monitoring.Metrics
	Alerter   *monitoring.Alerter
	Collector *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *sentinelEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens the store and builds the machine.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*sentinelEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	routes, err := routing.NewFileStore(cfg.Routing.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	alerter := monitoring.NewAlerter(cfg.Monitoring, metrics)
	reasoner := buildReasoner(metrics)

	machine := workflow.New(workflow.Config{
		Lookback:         cfg.Workflow.LookbackK,
		ReasoningTimeout: cfg.Workflow.ReasoningTimeout,
		ApprovalTTL:      cfg.Workflow.ApprovalTTL,
		ExecutionTimeout: cfg.Workflow.ExecutionTimeout,
	}, workflow.Deps{
		States:   st,
		History:  st,
		Source:   ingest.New(cfg.Ingest.LogPath, cfg.Ingest.Window),
		Reasoner: reasoner,
		Decider:  decision.New(reasoner, routes, cfg.Workflow.LookbackK),
		Executor: executor.New(routes, st),
		Notifier: alerter,
		Recorder: metrics,
	})

	collector := monitoring.NewCollector(st, st, cfg.Monitoring.SuccessRateThreshold)
	collector.WatchBreaker(reasoner.Breaker())
	collector.WatchBreaker(alerter.Breaker())

	return &sentinelEnv{
		Store:     st,
		Routes:    routes,
		Machine:   machine,
		Metrics:   metrics,
		Alerter:   alerter,
		Collector: collector,
	}, nil
}

// buildReasoner selects the reasoning provider and guards it with retries
// and a circuit breaker.
func buildReasoner(metrics *monitoring.Metrics) *reasoning.Guarded {
	var base reasoning.Reasoner
	switch cfg.Reasoning.Provider {
	case "claude":
		var opts []anthropicpkg.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		// Retries are handled by the resilience policy.
		opts = append(opts, anthropicpkg.WithMaxRetries(0))
		base = reasoning.NewClaude(anthropicpkg.NewClient(cfg.Anthropic.Key, opts...), reasoning.ClaudeConfig{
			Model:             cfg.Anthropic.Model,
			MaxTokens:         cfg.Anthropic.MaxTokens,
			RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
			Threshold:         cfg.Reasoning.ClusterThreshold,
			Gateways:          cfg.Reasoning.Gateways,
		})
	default:
		base = reasoning.NewHeuristic(cfg.Reasoning.ClusterThreshold, cfg.Reasoning.Gateways)
	}

	zap.L().Debug("reasoning provider selected", zap.String("provider", cfg.Reasoning.Provider))

	policy := resilience.NewPolicy("reasoning",
		cfg.Workflow.ReasoningTimeout,
		cfg.Resilience.MaxAttempts,
		cfg.Resilience.FailureThreshold,
		cfg.Resilience.ResetTimeout,
	)
	var observer reasoning.Observer
	if metrics != nil {
		observer = metrics.ObserveReasoning
	}
	return reasoning.NewGuarded(base, policy, observer)
}
