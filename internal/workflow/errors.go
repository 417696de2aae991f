package workflow

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/payops-sentinel/internal/model"
)

var (
	// ErrUnknownSession is returned for a thread ID with no persisted state.
	ErrUnknownSession = eris.New("workflow: unknown session")
	// ErrNothingPending is returned when an approval signal finds no pending proposal.
	ErrNothingPending = eris.New("workflow: no pending action")
	// ErrApprovalPending is returned when a cycle is requested while a proposal awaits approval.
	ErrApprovalPending = eris.New("workflow: a proposal is awaiting approval")
	// ErrExecutionInProgress is returned while an approved proposal is being executed.
	ErrExecutionInProgress = eris.New("workflow: execution in progress")
	// ErrProposalExpired is returned when approving a proposal whose approval window elapsed.
	ErrProposalExpired = eris.New("workflow: pending proposal expired")
	// ErrBusy is returned when another operation holds the thread.
	ErrBusy = eris.New("workflow: session busy")
)

// ReasoningError reports a failure of the reasoning boundary during a cycle.
// The persisted state is untouched when it is returned, so the cycle can be retried.
type ReasoningError struct {
	Stage model.Stage
	Err   error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("workflow: %s failed: %v", e.Stage, e.Err)
}

func (e *ReasoningError) Unwrap() error { return e.Err }
