// Package workflow runs the observe, reason, decide and execute cycle for each
// monitoring session. A cycle that proposes a route change is persisted at
// AWAITING_APPROVAL and returns; execution happens only after an approval
// signal, possibly in another process.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/payops-sentinel/internal/aggregate"
	"github.com/sells-group/payops-sentinel/internal/decision"
	"github.com/sells-group/payops-sentinel/internal/executor"
	"github.com/sells-group/payops-sentinel/internal/ingest"
	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/reasoning"
	"github.com/sells-group/payops-sentinel/internal/resilience"
	"github.com/sells-group/payops-sentinel/internal/store"
)

const (
	// DefaultReasoningTimeout bounds each call into the reasoning boundary.
	DefaultReasoningTimeout = 30 * time.Second
	// DefaultApprovalTTL is how long a proposal may wait for approval.
	DefaultApprovalTTL = 24 * time.Hour
	// DefaultExecutionTimeout is how long an EXECUTING claim may stand
	// before it is treated as abandoned.
	DefaultExecutionTimeout = 5 * time.Minute

	finalSaveAttempts = 3
	finalSaveBackoff  = 100 * time.Millisecond
	appliedLookback   = 50
)

// Decider turns a hypothesis into a proposal.
type Decider interface {
	Decide(ctx context.Context, in decision.Input) (model.ActionProposal, error)
}

// Config tunes a Machine.
type Config struct {
	Lookback         int
	ReasoningTimeout time.Duration
	// ApprovalTTL expires pending proposals. Zero disables expiry.
	ApprovalTTL time.Duration
	// ExecutionTimeout moves an EXECUTING claim older than this to FAILED.
	ExecutionTimeout time.Duration
}

// Deps are the collaborators a Machine drives.
type Deps struct {
	States   store.StateRepository
	History  store.HistoryStore
	Source   ingest.Source
	Reasoner reasoning.Reasoner
	Decider  Decider
	Executor executor.Executor
	Notifier Notifier
	Recorder Recorder
}

// Machine is the workflow state machine. It holds no per-session state in
// memory beyond a lock held for the duration of a single call.
type Machine struct {
	cfg   Config
	deps  Deps
	locks *keyedLock
	now   func() time.Time
}

// New creates a Machine. Nil Notifier and Recorder are replaced with no-ops.
func New(cfg Config, deps Deps) *Machine {
	if cfg.Lookback <= 0 {
		cfg.Lookback = decision.DefaultLookback
	}
	if cfg.ReasoningTimeout <= 0 {
		cfg.ReasoningTimeout = DefaultReasoningTimeout
	}
	if cfg.ApprovalTTL < 0 {
		cfg.ApprovalTTL = 0
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Machine{cfg: cfg, deps: deps, locks: newKeyedLock(), now: time.Now}
}

// CycleResult is returned by RunCycle.
type CycleResult struct {
	ThreadID string                `json:"thread_id"`
	CycleID  string                `json:"cycle_id"`
	Stage    model.Stage           `json:"stage"`
	Kind     model.ActionKind      `json:"kind,omitempty"`
	Proposal *model.ActionProposal `json:"proposal,omitempty"`
	Logs     []model.LogEntry      `json:"logs"`
	NoData   bool                  `json:"no_data"`
}

// Session status values reported by GetState.
const (
	StatusIdle               = "IDLE"
	StatusWaitingForApproval = "WAITING_FOR_APPROVAL"
	StatusExecuting          = "EXECUTING"
	StatusFailed             = "FAILED"
	StatusExpired            = "EXPIRED"
)

// Status is the externally visible state of a session.
type Status struct {
	ThreadID   string                 `json:"thread_id"`
	Status     string                 `json:"status"`
	Stage      model.Stage            `json:"stage"`
	CycleID    string                 `json:"cycle_id,omitempty"`
	CycleCount int                    `json:"cycle_count"`
	Proposal   *model.ActionProposal  `json:"proposal"`
	Hypothesis *model.Hypothesis      `json:"hypothesis,omitempty"`
	Metrics    *model.MetricsSnapshot `json:"metrics,omitempty"`
	LastError  string                 `json:"last_error,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Approval outcomes.
const (
	ApprovalExecuted = "EXECUTED"
	ApprovalRejected = "REJECTED"
)

// ApprovalResult is returned by Resume.
type ApprovalResult struct {
	Status string              `json:"status"`
	Logs   []model.LogEntry    `json:"logs"`
	Record *model.ActionRecord `json:"record,omitempty"`
}

// RunCycle observes, reasons and decides for threadID. The state is persisted
// once, at DONE or AWAITING_APPROVAL; any earlier error leaves it untouched.
func (m *Machine) RunCycle(ctx context.Context, threadID string) (*CycleResult, error) {
	if threadID == "" {
		return nil, eris.New("workflow: thread_id is required")
	}
	unlock, ok := m.locks.tryLock(threadID)
	if !ok {
		return nil, eris.Wrapf(ErrBusy, "thread %s", threadID)
	}
	defer unlock()

	start := m.now()
	res, err := m.runCycle(ctx, threadID)
	outcome := "error"
	if err == nil {
		outcome = cycleOutcome(res)
	}
	m.deps.Recorder.CycleFinished(outcome, m.now().Sub(start))
	return res, err
}

func (m *Machine) runCycle(ctx context.Context, threadID string) (*CycleResult, error) {
	state, err := m.loadOrCreate(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := m.settle(ctx, state); err != nil {
		return nil, err
	}

	switch {
	case state.Stage == model.StageExecuting:
		return nil, eris.Wrapf(ErrExecutionInProgress, "thread %s", threadID)
	case state.Stage.Pending():
		return nil, eris.Wrapf(ErrApprovalPending, "thread %s", threadID)
	}

	work := state.Clone()
	mark := len(work.ReasoningLog)
	cycleID := uuid.New().String()
	work.CycleID = cycleID
	work.CycleCount++
	work.Stage = model.StageObserving
	work.CurrentHypothesis = nil
	work.PendingProposal = nil
	work.LastError = ""

	log := zap.L().With(zap.String("thread_id", threadID), zap.String("cycle_id", cycleID))
	log.Info("workflow: starting cycle", zap.Int("cycle", work.CycleCount))

	result := &CycleResult{ThreadID: threadID, CycleID: cycleID}
	var decided *model.ActionProposal

	obs, snap, err := m.observe(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Empty() {
		obs.stage = model.StageDone
		result.NoData = true
	}
	m.step(log, work, obs)

	if !result.NoData {
		reason, hyp, err := m.reason(ctx, snap)
		if err != nil {
			log.Warn("workflow: reasoning failed", zap.Error(err))
			return nil, err
		}
		m.step(log, work, reason)

		dec, proposal, err := m.decide(ctx, threadID, *hyp, snap)
		if err != nil {
			log.Warn("workflow: decision failed", zap.Error(err))
			return nil, err
		}
		m.step(log, work, dec)
		result.Kind = proposal.Kind
		decided = &proposal
	}

	if err := m.deps.States.Save(ctx, work); err != nil {
		return nil, eris.Wrapf(err, "workflow: save thread %s", threadID)
	}

	result.Stage = work.Stage
	result.Logs = work.LogsSince(mark)
	if work.PendingProposal != nil {
		p := *work.PendingProposal
		result.Proposal = &p
	}
	if decided != nil {
		m.afterDecision(ctx, log, work, *decided)
	}

	log.Info("workflow: cycle finished", zap.String("stage", string(work.Stage)))
	return result, nil
}

// step applies d to work and logs the transition.
func (m *Machine) step(log *zap.Logger, work *model.WorkflowState, d delta) {
	from := work.Stage
	d.apply(work, m.now().UTC())
	log.Debug("workflow: transition",
		zap.String("from", string(from)),
		zap.String("to", string(work.Stage)),
	)
}

func (m *Machine) observe(ctx context.Context) (delta, model.MetricsSnapshot, error) {
	events, err := m.deps.Source.Tail(ctx)
	if err != nil {
		return delta{}, model.MetricsSnapshot{}, eris.Wrap(err, "workflow: observe")
	}

	snap := aggregate.Compute(events)
	if snap.Empty() {
		return delta{
			metrics: &snap,
			logs:    logf("Observer: No valid transactions found in log yet."),
		}, snap, nil
	}
	return delta{
		stage:   model.StageReasoning,
		metrics: &snap,
		logs:    logf("Observer: Successfully parsed %d transactions. Success rate %.2f, %d failed.", snap.TotalCount, snap.SuccessRate, snap.FailedCount),
	}, snap, nil
}

func (m *Machine) reason(ctx context.Context, snap model.MetricsSnapshot) (delta, *model.Hypothesis, error) {
	rctx, cancel := context.WithTimeout(ctx, m.cfg.ReasoningTimeout)
	defer cancel()

	hyp, err := m.deps.Reasoner.Analyze(rctx, reasoning.AnalyzeRequest{Snapshot: snap})
	if err != nil {
		return delta{}, nil, &ReasoningError{Stage: model.StageReasoning, Err: err}
	}
	if hyp == nil {
		return delta{}, nil, &ReasoningError{Stage: model.StageReasoning, Err: eris.New("reasoning: empty hypothesis")}
	}
	return delta{
		stage:      model.StageDeciding,
		hypothesis: hyp,
		logs:       logf("Reasoner: Analyzed clusters. Hypothesis: %s", hyp.Summary),
	}, hyp, nil
}

func (m *Machine) decide(ctx context.Context, threadID string, hyp model.Hypothesis, snap model.MetricsSnapshot) (delta, model.ActionProposal, error) {
	var history []model.ActionRecord
	if hyp.AnomalyDetected {
		recent, err := m.deps.History.RecentActions(ctx, m.cfg.Lookback)
		if err != nil {
			return delta{}, model.ActionProposal{}, eris.Wrap(err, "workflow: read action history")
		}
		history = recent
	}

	rctx, cancel := context.WithTimeout(ctx, m.cfg.ReasoningTimeout)
	defer cancel()

	proposal, err := m.deps.Decider.Decide(rctx, decision.Input{
		ThreadID:   threadID,
		Hypothesis: hyp,
		Snapshot:   snap,
		History:    history,
	})
	if err != nil {
		return delta{}, model.ActionProposal{}, &ReasoningError{Stage: model.StageDeciding, Err: err}
	}
	m.deps.Recorder.Proposed(proposal.Kind)

	switch proposal.Kind {
	case model.ActionRouteChange:
		return delta{
			stage:    model.StageAwaitingApproval,
			proposal: &proposal,
			logs:     logf("Decider: Proposed %s. Awaiting approval.", proposal),
		}, proposal, nil
	case model.ActionAlertHuman:
		return delta{
			stage: model.StageDone,
			logs:  logf("Decider: Alerting Human (No auto-fix). %s", proposal.Reason),
		}, proposal, nil
	default:
		return delta{
			stage: model.StageDone,
			logs:  logf("Decider: No action needed."),
		}, proposal, nil
	}
}

// afterDecision sends notifications for a persisted cycle.
func (m *Machine) afterDecision(ctx context.Context, log *zap.Logger, work *model.WorkflowState, p model.ActionProposal) {
	n := Notification{ThreadID: work.ThreadID, CycleID: work.CycleID, Proposal: &p}
	switch p.Kind {
	case model.ActionRouteChange:
		n.Kind, n.Message = NotifyApprovalRequired, p.String()
	case model.ActionAlertHuman:
		n.Kind, n.Message = NotifyHumanRequired, p.Reason
	default:
		return
	}
	m.notify(ctx, log, n)
}

func (m *Machine) notify(ctx context.Context, log *zap.Logger, n Notification) {
	if err := m.deps.Notifier.NotifyHuman(ctx, n); err != nil {
		log.Warn("workflow: notification failed", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}

// GetState reports the status of threadID, expiring a stale proposal or an
// abandoned execution claim first.
func (m *Machine) GetState(ctx context.Context, threadID string) (*Status, error) {
	state, err := m.load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if m.expired(state) || m.abandoned(state) {
		if unlock, ok := m.locks.tryLock(threadID); ok {
			err := m.settle(ctx, state)
			unlock()
			if err != nil && !errors.Is(err, store.ErrConflict) {
				return nil, err
			}
		}
	}
	return statusOf(state, m.expired(state)), nil
}

// Resume delivers an approval signal for the pending proposal of threadID.
// Approval persists EXECUTING before the executor runs, so a repeated or
// concurrent approval can never execute the same proposal twice.
func (m *Machine) Resume(ctx context.Context, threadID string, approved bool) (*ApprovalResult, error) {
	unlock, ok := m.locks.tryLock(threadID)
	if !ok {
		return nil, eris.Wrapf(ErrBusy, "thread %s", threadID)
	}
	defer unlock()

	state, err := m.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := m.settle(ctx, state); err != nil {
		return nil, err
	}

	switch {
	case state.Stage == model.StageExpired:
		return nil, eris.Wrapf(ErrProposalExpired, "thread %s", threadID)
	case state.Stage == model.StageExecuting:
		return nil, eris.Wrapf(ErrExecutionInProgress, "thread %s", threadID)
	case !state.Stage.Pending() || state.PendingProposal == nil:
		return nil, eris.Wrapf(ErrNothingPending, "thread %s", threadID)
	}

	log := zap.L().With(zap.String("thread_id", threadID), zap.String("cycle_id", state.CycleID))
	if !approved {
		return m.reject(ctx, log, state)
	}
	return m.approve(ctx, log, state)
}

// Approve is Resume.
func (m *Machine) Approve(ctx context.Context, threadID string, approved bool) (*ApprovalResult, error) {
	return m.Resume(ctx, threadID, approved)
}

func (m *Machine) reject(ctx context.Context, log *zap.Logger, state *model.WorkflowState) (*ApprovalResult, error) {
	work := state.Clone()
	mark := len(work.ReasoningLog)
	m.step(log, work, delta{
		stage:         model.StageDone,
		clearProposal: true,
		logs:          logf("Human: Rejected %s. Action cancelled.", work.PendingProposal),
	})
	if err := m.deps.States.Save(ctx, work); err != nil {
		return nil, eris.Wrapf(err, "workflow: save thread %s", work.ThreadID)
	}
	m.deps.Recorder.Resolved("rejected")
	log.Info("workflow: proposal rejected")
	return &ApprovalResult{Status: ApprovalRejected, Logs: work.LogsSince(mark)}, nil
}

func (m *Machine) approve(ctx context.Context, log *zap.Logger, state *model.WorkflowState) (*ApprovalResult, error) {
	work := state.Clone()
	mark := len(work.ReasoningLog)
	proposal := *work.PendingProposal

	m.step(log, work, delta{
		stage: model.StageExecuting,
		logs:  logf("Human: Approved %s.", proposal),
	})
	// This save is the execution claim: losing the CAS means another caller owns it.
	if err := m.deps.States.Save(ctx, work); err != nil {
		return nil, eris.Wrapf(err, "workflow: claim execution for thread %s", work.ThreadID)
	}
	m.deps.Recorder.Resolved("approved")

	rec, execErr := m.deps.Executor.Execute(ctx, executor.ExecuteRequest{
		ThreadID: work.ThreadID,
		CycleID:  work.CycleID,
		Proposal: proposal,
	})
	m.deps.Recorder.Executed(execErr == nil)

	// The claim is already persisted; finish the transition even if the caller gave up.
	saveCtx := context.WithoutCancel(ctx)

	if execErr != nil {
		log.Error("workflow: execution failed", zap.Error(execErr))
		m.step(log, work, delta{
			stage:     model.StageFailed,
			lastError: errText(execErr),
			logs:      logf("Executor: FAILED %s: %v", proposal, execErr),
		})
		if err := m.saveFinal(saveCtx, work); err != nil {
			log.Error("workflow: failed to persist FAILED stage", zap.Error(err))
		}
		m.notify(saveCtx, log, Notification{
			Kind:     NotifyExecutionFailed,
			ThreadID: work.ThreadID,
			CycleID:  work.CycleID,
			Message:  execErr.Error(),
			Proposal: &proposal,
		})
		return nil, eris.Wrapf(execErr, "workflow: execute %s", proposal)
	}

	m.step(log, work, delta{
		stage:         model.StageDone,
		clearProposal: true,
		lastError:     errText(nil),
		actions:       []model.ActionRecord{*rec},
		logs:          logf("Executor: %s", rec.Result),
	})
	if err := m.saveFinal(saveCtx, work); err != nil {
		return nil, eris.Wrapf(err, "workflow: save thread %s after execution", work.ThreadID)
	}

	log.Info("workflow: proposal executed", zap.String("region", rec.Region), zap.String("gateway", rec.Gateway))
	return &ApprovalResult{Status: ApprovalExecuted, Logs: work.LogsSince(mark), Record: rec}, nil
}

// Clear deletes the session for threadID.
func (m *Machine) Clear(ctx context.Context, threadID string) error {
	unlock, ok := m.locks.tryLock(threadID)
	if !ok {
		return eris.Wrapf(ErrBusy, "thread %s", threadID)
	}
	defer unlock()

	if err := m.deps.States.Delete(ctx, threadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return eris.Wrapf(ErrUnknownSession, "thread %s", threadID)
		}
		return eris.Wrapf(err, "workflow: delete thread %s", threadID)
	}
	zap.L().Info("workflow: session cleared", zap.String("thread_id", threadID))
	return nil
}

func (m *Machine) load(ctx context.Context, threadID string) (*model.WorkflowState, error) {
	state, err := m.deps.States.Load(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrUnknownSession, "thread %s", threadID)
		}
		return nil, eris.Wrapf(err, "workflow: load thread %s", threadID)
	}
	return state, nil
}

func (m *Machine) loadOrCreate(ctx context.Context, threadID string) (*model.WorkflowState, error) {
	state, err := m.deps.States.Load(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return model.NewWorkflowState(threadID, m.now().UTC()), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: load thread %s", threadID)
	}
	return state, nil
}

// expired reports whether state holds a proposal older than the approval TTL.
func (m *Machine) expired(state *model.WorkflowState) bool {
	if m.cfg.ApprovalTTL == 0 || state.Stage != model.StageAwaitingApproval || state.PendingProposal == nil {
		return false
	}
	return m.now().Sub(state.PendingProposal.ProposedAt) > m.cfg.ApprovalTTL
}

// expireIfDue moves an expired proposal to EXPIRED and persists it in place.
func (m *Machine) expireIfDue(ctx context.Context, state *model.WorkflowState) error {
	if !m.expired(state) {
		return nil
	}
	work := state.Clone()
	p := work.PendingProposal
	log := zap.L().With(zap.String("thread_id", work.ThreadID), zap.String("cycle_id", work.CycleID))
	m.step(log, work, delta{
		stage:         model.StageExpired,
		clearProposal: true,
		logs:          logf("Approval window of %s elapsed. %s expired.", m.cfg.ApprovalTTL, p),
	})
	if err := m.deps.States.Save(ctx, work); err != nil {
		return eris.Wrapf(err, "workflow: expire thread %s", work.ThreadID)
	}
	*state = *work
	m.deps.Recorder.Resolved("expired")
	log.Info("workflow: pending proposal expired")
	return nil
}

// saveFinal persists the outcome of an execution, retrying a failed write.
// A version conflict is not retried: someone else already settled the claim.
func (m *Machine) saveFinal(ctx context.Context, work *model.WorkflowState) error {
	return resilience.Do(ctx, resilience.RetryConfig{
		MaxAttempts:    finalSaveAttempts,
		InitialBackoff: finalSaveBackoff,
		MaxBackoff:     time.Second,
		ShouldRetry:    func(err error) bool { return !errors.Is(err, store.ErrConflict) },
		OnRetry:        resilience.RetryLogger("workflow", "save_execution_result"),
	}, func(ctx context.Context) error {
		return m.deps.States.Save(ctx, work)
	})
}

// settle applies the time-based transitions due on state: proposal expiry and
// recovery of an abandoned execution claim.
func (m *Machine) settle(ctx context.Context, state *model.WorkflowState) error {
	if err := m.expireIfDue(ctx, state); err != nil {
		return err
	}
	return m.recoverIfAbandoned(ctx, state)
}

// abandoned reports whether state holds an EXECUTING claim older than the
// execution timeout.
func (m *Machine) abandoned(state *model.WorkflowState) bool {
	if state.Stage != model.StageExecuting {
		return false
	}
	claimed := state.UpdatedAt
	if state.ClaimedAt != nil {
		claimed = *state.ClaimedAt
	}
	return m.now().Sub(claimed) > m.cfg.ExecutionTimeout
}

// recoverIfAbandoned settles an abandoned claim. If the action history shows
// the change was applied for this cycle the session moves to DONE; otherwise
// it moves to FAILED with the proposal kept so approval can retry it.
func (m *Machine) recoverIfAbandoned(ctx context.Context, state *model.WorkflowState) error {
	if !m.abandoned(state) || state.PendingProposal == nil {
		return nil
	}
	work := state.Clone()
	p := *work.PendingProposal
	log := zap.L().With(zap.String("thread_id", work.ThreadID), zap.String("cycle_id", work.CycleID))

	rec, err := m.appliedRecord(ctx, work)
	if err != nil {
		return err
	}
	if rec != nil {
		m.step(log, work, delta{
			stage:         model.StageDone,
			clearProposal: true,
			lastError:     errText(nil),
			actions:       []model.ActionRecord{*rec},
			logs:          logf("Executor: %s (recovered from action history)", rec.Result),
		})
	} else {
		msg := "execution claim abandoned after " + m.cfg.ExecutionTimeout.String()
		m.step(log, work, delta{
			stage:     model.StageFailed,
			lastError: &msg,
			logs:      logf("Executor: No result for %s within %s. Marked FAILED.", p, m.cfg.ExecutionTimeout),
		})
	}
	if err := m.deps.States.Save(ctx, work); err != nil {
		return eris.Wrapf(err, "workflow: recover thread %s", work.ThreadID)
	}
	*state = *work

	if rec == nil {
		log.Warn("workflow: abandoned execution claim marked failed")
		m.notify(ctx, log, Notification{
			Kind:     NotifyExecutionFailed,
			ThreadID: work.ThreadID,
			CycleID:  work.CycleID,
			Message:  work.LastError,
			Proposal: &p,
		})
	} else {
		log.Info("workflow: abandoned execution claim completed from history")
	}
	return nil
}

// appliedRecord finds the history record the executor appended for the
// current cycle of work, if any.
func (m *Machine) appliedRecord(ctx context.Context, work *model.WorkflowState) (*model.ActionRecord, error) {
	if m.deps.History == nil {
		return nil, nil
	}
	recent, err := m.deps.History.RecentActions(ctx, appliedLookback)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: recent actions for thread %s", work.ThreadID)
	}
	for i := len(recent) - 1; i >= 0; i-- {
		r := recent[i]
		if r.ThreadID == work.ThreadID && r.CycleID == work.CycleID {
			return &r, nil
		}
	}
	return nil, nil
}

func statusOf(state *model.WorkflowState, expired bool) *Status {
	st := &Status{
		ThreadID:   state.ThreadID,
		Stage:      state.Stage,
		CycleID:    state.CycleID,
		CycleCount: state.CycleCount,
		Hypothesis: state.CurrentHypothesis,
		Metrics:    state.LatestMetrics,
		LastError:  state.LastError,
		UpdatedAt:  state.UpdatedAt,
	}
	if state.PendingProposal != nil {
		p := *state.PendingProposal
		st.Proposal = &p
	}

	switch state.Stage {
	case model.StageAwaitingApproval:
		st.Status = StatusWaitingForApproval
	case model.StageExecuting:
		st.Status = StatusExecuting
	case model.StageFailed:
		st.Status = StatusFailed
	case model.StageExpired:
		st.Status = StatusExpired
	default:
		st.Status = StatusIdle
	}
	if expired {
		st.Status, st.Stage, st.Proposal = StatusExpired, model.StageExpired, nil
	}
	return st
}

func cycleOutcome(res *CycleResult) string {
	switch {
	case res.NoData:
		return "no_data"
	case res.Kind == model.ActionRouteChange:
		return "awaiting_approval"
	case res.Kind == model.ActionAlertHuman:
		return "alert_human"
	default:
		return "none"
	}
}
