package workflow

import (
	"context"
	"time"

	"github.com/sells-group/payops-sentinel/internal/model"
)

// NotificationKind classifies a message that needs a human.
type NotificationKind string

const (
	// NotifyHumanRequired is sent when a cycle ends in ALERT_HUMAN.
	NotifyHumanRequired NotificationKind = "human_required"
	// NotifyApprovalRequired is sent when a ROUTE_CHANGE is waiting for approval.
	NotifyApprovalRequired NotificationKind = "approval_required"
	// NotifyExecutionFailed is sent when an approved change could not be applied.
	NotifyExecutionFailed NotificationKind = "execution_failed"
)

// Notification is delivered to a Notifier.
type Notification struct {
	Kind     NotificationKind      `json:"kind"`
	ThreadID string                `json:"thread_id"`
	CycleID  string                `json:"cycle_id"`
	Message  string                `json:"message"`
	Proposal *model.ActionProposal `json:"proposal,omitempty"`
}

// Notifier delivers notifications to a human. Failures are logged, never fatal.
type Notifier interface {
	NotifyHuman(ctx context.Context, n Notification) error
}

// Recorder receives workflow outcomes for metrics.
type Recorder interface {
	// CycleFinished is called once per cycle with "none", "alert_human",
	// "awaiting_approval", "no_data" or "error".
	CycleFinished(outcome string, elapsed time.Duration)
	Proposed(kind model.ActionKind)
	// Resolved is called with "approved", "rejected" or "expired".
	Resolved(decision string)
	Executed(ok bool)
}

type nopNotifier struct{}

func (nopNotifier) NotifyHuman(context.Context, Notification) error { return nil }

type nopRecorder struct{}

func (nopRecorder) CycleFinished(string, time.Duration) {}
func (nopRecorder) Proposed(model.ActionKind)           {}
func (nopRecorder) Resolved(string)                     {}
func (nopRecorder) Executed(bool)                       {}
