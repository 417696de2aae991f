package monitoring

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/payops-sentinel/internal/config"
	"github.com/sells-group/payops-sentinel/internal/workflow"
)

// Runner starts workflow cycles.
type Runner interface {
	RunCycle(ctx context.Context, threadID string) (*workflow.CycleResult, error)
}

// CycleHook observes every cycle the checker runs.
type CycleHook func(threadID string, res *workflow.CycleResult, err error)

// Checker runs workflow cycles and alert checks periodically in the background.
type Checker struct {
	runner    Runner
	collector *Collector
	alerter   *Alerter
	metrics   *Metrics
	cfg       config.MonitoringConfig
	onCycle   CycleHook
}

// NewChecker creates a background checker. metrics may be nil.
func NewChecker(runner Runner, collector *Collector, alerter *Alerter, metrics *Metrics, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		runner:    runner,
		collector: collector,
		alerter:   alerter,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// OnCycle registers a hook called after each cycle.
func (c *Checker) OnCycle(hook CycleHook) { c.onCycle = hook }

// Run checks immediately and then on every tick. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting checker",
		zap.Duration("interval", interval),
		zap.Strings("threads", c.cfg.Threads),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.Check(ctx)
		}
		select {
		case <-ctx.Done():
			log.Info("checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one cycle per configured thread, then evaluates alerts.
func (c *Checker) Check(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	for _, thread := range c.cfg.Threads {
		res, err := c.runner.RunCycle(ctx, thread)
		switch {
		case err == nil:
			log.Debug("monitoring: cycle complete",
				zap.String("thread_id", thread),
				zap.String("stage", string(res.Stage)),
			)
		case errors.Is(err, workflow.ErrApprovalPending),
			errors.Is(err, workflow.ErrExecutionInProgress),
			errors.Is(err, workflow.ErrBusy):
			log.Debug("monitoring: cycle skipped", zap.String("thread_id", thread), zap.Error(err))
		default:
			log.Error("monitoring: cycle failed", zap.String("thread_id", thread), zap.Error(err))
		}
		if c.onCycle != nil {
			c.onCycle(thread, res, err)
		}
	}

	snap, err := c.collector.Collect(ctx, c.cfg.StaleApprovalAfter)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return
	}
	if c.metrics != nil {
		c.metrics.ObserveSessions(snap)
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
