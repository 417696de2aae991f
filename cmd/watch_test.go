package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/workflow"
)

type resumeCall struct {
	thread   string
	approved bool
}

type fakeResumer struct {
	calls []resumeCall
	err   error
}

func (f *fakeResumer) Resume(_ context.Context, threadID string, approved bool) (*workflow.ApprovalResult, error) {
	f.calls = append(f.calls, resumeCall{thread: threadID, approved: approved})
	if f.err != nil {
		return nil, f.err
	}
	status := workflow.ApprovalRejected
	if approved {
		status = workflow.ApprovalExecuted
	}
	return &workflow.ApprovalResult{Status: status}, nil
}

func pendingCycle() *workflow.CycleResult {
	return &workflow.CycleResult{
		ThreadID: "payops-1",
		Stage:    model.StageAwaitingApproval,
		Kind:     model.ActionRouteChange,
		Proposal: &model.ActionProposal{Kind: model.ActionRouteChange, TargetRegion: "UK", TargetGateway: "adyen"},
	}
}

func TestPromptApproval(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCalls []resumeCall
		wantOut   string
	}{
		{"approve", "y\n", []resumeCall{{"payops-1", true}}, "status: EXECUTED"},
		{"approve word", "Yes\n", []resumeCall{{"payops-1", true}}, "status: EXECUTED"},
		{"reject", "n\n", []resumeCall{{"payops-1", false}}, "status: REJECTED"},
		{"skip", "\n", nil, "left pending"},
		{"no trailing newline", "y", []resumeCall{{"payops-1", true}}, "status: EXECUTED"},
		{"closed stdin", "", nil, "apply update_routing region=UK gateway=adyen to payops-1?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeResumer{}
			var out bytes.Buffer
			err := promptApproval(context.Background(), bufio.NewReader(strings.NewReader(tt.input)), &out, m, pendingCycle())
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, m.calls)
			assert.Contains(t, out.String(), tt.wantOut)
		})
	}
}

func TestPromptApproval_NothingPending(t *testing.T) {
	m := &fakeResumer{}
	var out bytes.Buffer
	res := &workflow.CycleResult{ThreadID: "payops-1", Stage: model.StageDone}

	require.NoError(t, promptApproval(context.Background(), bufio.NewReader(strings.NewReader("y\n")), &out, m, res))
	assert.Empty(t, m.calls)
	assert.Empty(t, out.String())
}

func TestPromptApproval_ResumeError(t *testing.T) {
	m := &fakeResumer{err: errors.New("workflow: execution in progress")}
	var out bytes.Buffer

	err := promptApproval(context.Background(), bufio.NewReader(strings.NewReader("y\n")), &out, m, pendingCycle())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution in progress")
}
