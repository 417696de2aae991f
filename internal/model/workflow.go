package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Stage is the position of a workflow instance in its cycle.
type Stage string

const (
	StageObserving        Stage = "OBSERVING"
	StageReasoning        Stage = "REASONING"
	StageDeciding         Stage = "DECIDING"
	StageAwaitingApproval Stage = "AWAITING_APPROVAL"
	StageExecuting        Stage = "EXECUTING"
	StageDone             Stage = "DONE"
	StageFailed           Stage = "FAILED"
	StageExpired          Stage = "EXPIRED"
)

// Terminal reports whether a new cycle may start from this stage.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageExpired || s == ""
}

// Pending reports whether the stage holds a proposal waiting on an approval signal.
func (s Stage) Pending() bool {
	return s == StageAwaitingApproval || s == StageFailed
}

// LogEntry is one line of the reasoning trace.
type LogEntry struct {
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// ErrInvalidState is returned when a state violates a structural invariant.
var ErrInvalidState = eris.New("invalid workflow state")

// WorkflowState is the persisted unit of one monitoring session.
type WorkflowState struct {
	ThreadID          string           `json:"thread_id"`
	Stage             Stage            `json:"stage"`
	CycleID           string           `json:"cycle_id,omitempty"`
	CycleCount        int              `json:"cycle_count"`
	LatestMetrics     *MetricsSnapshot `json:"latest_metrics,omitempty"`
	CurrentHypothesis *Hypothesis      `json:"current_hypothesis,omitempty"`
	PendingProposal   *ActionProposal  `json:"pending_proposal,omitempty"`
	ActionHistory     []ActionRecord   `json:"action_history"`
	ReasoningLog      []LogEntry       `json:"reasoning_log"`
	LastError         string           `json:"last_error,omitempty"`
	// ClaimedAt is when the current EXECUTING claim was persisted.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewWorkflowState returns the initial state for a session.
func NewWorkflowState(threadID string, now time.Time) *WorkflowState {
	return &WorkflowState{
		ThreadID:  threadID,
		Stage:     StageDone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the invariants every persisted state must hold.
func (s *WorkflowState) Validate() error {
	if s == nil {
		return eris.Wrap(ErrInvalidState, "nil state")
	}
	if s.ThreadID == "" {
		return eris.Wrap(ErrInvalidState, "thread_id is required")
	}
	switch s.Stage {
	case StageExecuting, StageAwaitingApproval, StageFailed:
		if !s.PendingProposal.IsRouteChange() {
			return eris.Wrapf(ErrInvalidState, "stage %s requires a ROUTE_CHANGE proposal", s.Stage)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can never alias persisted slices or maps.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	out := *s
	if s.LatestMetrics != nil {
		m := s.LatestMetrics.Clone()
		out.LatestMetrics = &m
	}
	if s.CurrentHypothesis != nil {
		h := *s.CurrentHypothesis
		out.CurrentHypothesis = &h
	}
	if s.PendingProposal != nil {
		p := *s.PendingProposal
		out.PendingProposal = &p
	}
	if s.ClaimedAt != nil {
		t := *s.ClaimedAt
		out.ClaimedAt = &t
	}
	out.ActionHistory = append([]ActionRecord(nil), s.ActionHistory...)
	out.ReasoningLog = append([]LogEntry(nil), s.ReasoningLog...)
	return &out
}

// LogsSince returns the reasoning entries appended after the first n.
func (s *WorkflowState) LogsSince(n int) []LogEntry {
	if n >= len(s.ReasoningLog) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	return append([]LogEntry(nil), s.ReasoningLog[n:]...)
}
