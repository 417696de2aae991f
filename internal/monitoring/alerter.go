package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/payops-sentinel/internal/config"
	"github.com/sells-group/payops-sentinel/internal/resilience"
	"github.com/sells-group/payops-sentinel/internal/workflow"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertHumanRequired    AlertType = "human_required"
	AlertApprovalRequired AlertType = "approval_required"
	AlertExecutionFailed  AlertType = "execution_failed"
	AlertLowSuccessRate   AlertType = "low_success_rate"
	AlertStaleApproval    AlertType = "stale_approval"
	AlertCircuitOpen      AlertType = "circuit_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	ThreadID  string         `json:"thread_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a SessionSnapshot against configured thresholds and
// delivers alerts, and workflow notifications, via webhook.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	metrics *Metrics
	breaker *resilience.CircuitBreaker
}

// NewAlerter creates a new Alerter with the given monitoring config. Webhook
// posts go through a circuit breaker so a dead endpoint is not hammered.
func NewAlerter(cfg config.MonitoringConfig, metrics *Metrics) *Alerter {
	cb := resilience.DefaultCircuitBreakerConfig()
	cb.Name = "webhook"
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: metrics,
		breaker: resilience.NewCircuitBreaker(cb),
	}
}

// Breaker returns the circuit breaker guarding webhook delivery.
func (a *Alerter) Breaker() *resilience.CircuitBreaker { return a.breaker }

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *SessionSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, ls := range snap.LowSuccess {
		details := map[string]any{
			"success_rate": ls.SuccessRate,
			"threshold":    a.cfg.SuccessRateThreshold,
		}
		if ls.TopCluster != "" {
			details["top_cluster"] = ls.TopCluster
			details["top_cluster_count"] = ls.TopClusterCount
		}
		alerts = append(alerts, Alert{
			Type:     AlertLowSuccessRate,
			Severity: "high",
			ThreadID: ls.ThreadID,
			Message: fmt.Sprintf(
				"Success rate %.1f%% below threshold %.1f%% (%d failed / %d transactions)",
				ls.SuccessRate*100, a.cfg.SuccessRateThreshold*100, ls.Failed, ls.Total,
			),
			Details:   details,
			Timestamp: now,
		})
	}

	for _, sa := range snap.StaleApprovals {
		alerts = append(alerts, Alert{
			Type:     AlertStaleApproval,
			Severity: "medium",
			ThreadID: sa.ThreadID,
			Message: fmt.Sprintf(
				"Proposal %s has waited %s for approval",
				sa.Proposal, sa.Waiting.Round(time.Second),
			),
			Details: map[string]any{
				"cycle_id":       sa.CycleID,
				"target_region":  sa.Proposal.TargetRegion,
				"target_gateway": sa.Proposal.TargetGateway,
			},
			Timestamp: now,
		})
	}

	for _, id := range snap.FailedThreads {
		alerts = append(alerts, Alert{
			Type:      AlertExecutionFailed,
			Severity:  "high",
			ThreadID:  id,
			Message:   "Approved routing change failed to apply; approve again to retry or reject to discard",
			Timestamp: now,
		})
	}

	for _, b := range snap.Breakers {
		if !b.Open() {
			continue
		}
		alerts = append(alerts, Alert{
			Type:      AlertCircuitOpen,
			Severity:  "high",
			Message:   fmt.Sprintf("Circuit %s is open after %d consecutive failures", b.Name, b.Failures),
			Details:   map[string]any{"name": b.Name, "failures": b.Failures},
			Timestamp: now,
		})
	}

	return alerts
}

// NotifyHuman logs a workflow notification and forwards it to the webhook.
func (a *Alerter) NotifyHuman(ctx context.Context, n workflow.Notification) error {
	alert := Alert{
		Type:      AlertType(n.Kind),
		Severity:  "medium",
		ThreadID:  n.ThreadID,
		Message:   n.Message,
		Timestamp: time.Now().UTC(),
		Details:   map[string]any{"cycle_id": n.CycleID},
	}
	if n.Kind == workflow.NotifyHumanRequired || n.Kind == workflow.NotifyExecutionFailed {
		alert.Severity = "high"
	}
	if n.Proposal != nil {
		alert.Details["proposal"] = n.Proposal.String()
	}

	zap.L().Warn("monitoring: human attention required",
		zap.String("type", string(alert.Type)),
		zap.String("thread_id", n.ThreadID),
		zap.String("message", n.Message),
	)

	if a.cfg.WebhookURL == "" {
		return nil
	}
	if err := a.sendWebhook(ctx, alert); err != nil {
		return err
	}
	a.count(alert)
	return nil
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		a.count(alert)
		sent++
	}
	return sent
}

func (a *Alerter) count(alert Alert) {
	if a.metrics != nil {
		a.metrics.AlertsSent.WithLabelValues(string(alert.Type)).Inc()
	}
}

// sendWebhook posts a single alert to the webhook URL through the breaker.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	if a.breaker == nil {
		return a.postWebhook(ctx, alert)
	}
	return a.breaker.Execute(ctx, func(ctx context.Context) error {
		return a.postWebhook(ctx, alert)
	})
}

func (a *Alerter) postWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
