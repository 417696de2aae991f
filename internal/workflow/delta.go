package workflow

import (
	"fmt"
	"time"

	"github.com/sells-group/payops-sentinel/internal/model"
)

// delta is the change one stage makes to a WorkflowState. Logs and actions
// are appended; every other field replaces the current value only when set.
type delta struct {
	stage         model.Stage
	metrics       *model.MetricsSnapshot
	hypothesis    *model.Hypothesis
	proposal      *model.ActionProposal
	clearProposal bool
	actions       []model.ActionRecord
	logs          []string
	lastError     *string
}

// Log entries are tagged with the stage that produced them, before the
// transition to d.stage. Entering EXECUTING stamps the claim time; leaving it
// clears the stamp.
func (d delta) apply(s *model.WorkflowState, now time.Time) {
	for _, msg := range d.logs {
		s.ReasoningLog = append(s.ReasoningLog, model.LogEntry{Stage: s.Stage, Message: msg, At: now})
	}
	if d.stage != "" {
		s.Stage = d.stage
		if d.stage == model.StageExecuting {
			t := now
			s.ClaimedAt = &t
		} else {
			s.ClaimedAt = nil
		}
	}
	if d.metrics != nil {
		m := d.metrics.Clone()
		s.LatestMetrics = &m
	}
	if d.hypothesis != nil {
		h := *d.hypothesis
		s.CurrentHypothesis = &h
	}
	if d.clearProposal {
		s.PendingProposal = nil
	}
	if d.proposal != nil {
		p := *d.proposal
		s.PendingProposal = &p
	}
	if d.lastError != nil {
		s.LastError = *d.lastError
	}
	s.ActionHistory = append(s.ActionHistory, d.actions...)
	s.UpdatedAt = now
}

func logf(format string, args ...any) []string {
	return []string{fmt.Sprintf(format, args...)}
}

func errText(err error) *string {
	s := ""
	if err != nil {
		s = err.Error()
	}
	return &s
}
