package reasoning

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/resilience"
	"github.com/sells-group/payops-sentinel/pkg/anthropic"
)

func ukOutage() model.MetricsSnapshot {
	return model.MetricsSnapshot{
		SuccessRate:     0.80,
		FailureClusters: map[string]int{"UK_stripe_91": 10},
		TotalCount:      50,
		FailedCount:     10,
	}
}

func scattered() model.MetricsSnapshot {
	return model.MetricsSnapshot{
		SuccessRate:     0.98,
		FailureClusters: map[string]int{"US_stripe_05": 1},
		TotalCount:      50,
		FailedCount:     1,
	}
}

func TestHeuristic_Analyze(t *testing.T) {
	h := NewHeuristic(0, nil)

	hyp, err := h.Analyze(context.Background(), AnalyzeRequest{Snapshot: ukOutage()})
	require.NoError(t, err)
	assert.True(t, hyp.AnomalyDetected)
	assert.Contains(t, hyp.Summary, "UK")
	assert.Contains(t, hyp.Summary, "stripe")

	hyp, err = h.Analyze(context.Background(), AnalyzeRequest{Snapshot: scattered()})
	require.NoError(t, err)
	assert.False(t, hyp.AnomalyDetected)
	assert.Contains(t, hyp.Summary, "Normal noise")
}

func TestHeuristic_Analyze_ThresholdIsExclusive(t *testing.T) {
	h := NewHeuristic(5, nil)
	snap := model.MetricsSnapshot{FailureClusters: map[string]int{"EU_adyen_12": 5}, TotalCount: 50, FailedCount: 5}

	hyp, err := h.Analyze(context.Background(), AnalyzeRequest{Snapshot: snap})
	require.NoError(t, err)
	assert.False(t, hyp.AnomalyDetected)
}

func TestHeuristic_Recommend(t *testing.T) {
	h := NewHeuristic(0, nil)
	ctx := context.Background()
	anomaly := model.Hypothesis{AnomalyDetected: true}

	rec, err := h.Recommend(ctx, RecommendRequest{Hypothesis: anomaly, Snapshot: ukOutage()})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "UK", rec.Region)
	assert.Equal(t, "adyen", rec.Gateway)

	rec, err = h.Recommend(ctx, RecommendRequest{
		Hypothesis:    anomaly,
		Snapshot:      ukOutage(),
		RecentActions: []model.ActionRecord{{Region: "UK", Gateway: "adyen"}},
	})
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = h.Recommend(ctx, RecommendRequest{Hypothesis: model.Hypothesis{}, Snapshot: ukOutage()})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHeuristic_Recommend_NoAlternativeGateway(t *testing.T) {
	h := NewHeuristic(5, []string{"stripe"})
	rec, err := h.Recommend(context.Background(), RecommendRequest{
		Hypothesis: model.Hypothesis{AnomalyDetected: true},
		Snapshot:   ukOutage(),
	})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestParseHypothesis(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		summary string
		anomaly bool
	}{
		{
			name:    "incident",
			text:    "Hypothesis: UK stripe is down with code 91\nConfidence: 95%\nAnomaly Detected: Yes",
			summary: "UK stripe is down with code 91",
			anomaly: true,
		},
		{
			name:    "noise",
			text:    "Hypothesis: Normal Noise\nAnomaly Detected: No",
			summary: "Normal Noise",
		},
		{
			name:    "markdown emphasis",
			text:    "**Hypothesis:** EU adyen timeouts\n**Anomaly Detected:** yes",
			summary: "EU adyen timeouts",
			anomaly: true,
		},
		{
			name:    "bold values and bullets",
			text:    "- **Hypothesis: __IN stripe declines__**\n- **Anomaly Detected: _Yes_**",
			summary: "IN stripe declines",
			anomaly: true,
		},
		{
			name:    "missing lines",
			text:    "I am not sure.",
			summary: "Monitoring...",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ParseHypothesis(tt.text)
			assert.Equal(t, tt.summary, h.Summary)
			assert.Equal(t, tt.anomaly, h.AnomalyDetected)
		})
	}
}

func TestParseRecommendation(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		ok      bool
		region  string
		gateway string
	}{
		{"flat", `{"tool": "update_routing", "region": "UK", "gateway": "adyen"}`, true, "UK", "adyen"},
		{"surrounded", "Reroute now:\n```json\n{\"tool\":\"update_routing\",\"region\":\"uk\",\"gateway\":\"Adyen\"}\n```", true, "UK", "adyen"},
		{"name and args", `{"name":"update_routing","args":{"region":"EU","gateway":"stripe"}}`, true, "EU", "stripe"},
		{"global default", `{"tool":"update_routing","region":"global_default","gateway":"adyen"}`, true, "global_default", "adyen"},
		{"global default upper", `{"tool":"update_routing","region":"GLOBAL_DEFAULT","gateway":"adyen"}`, true, "global_default", "adyen"},
		{"other tool", `{"tool":"page_oncall","region":"UK","gateway":"adyen"}`, false, "", ""},
		{"missing gateway", `{"tool":"update_routing","region":"UK"}`, false, "", ""},
		{"alert text", "ALERT: already rerouted UK recently", false, "", ""},
		{"broken json then good", `{"tool": oops} then {"tool":"update_routing","region":"IN","gateway":"adyen"}`, true, "IN", "adyen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := ParseRecommendation(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				require.NotNil(t, rec)
				assert.Equal(t, tt.region, rec.Region)
				assert.Equal(t, tt.gateway, rec.Gateway)
			}
		})
	}
}

func TestClaude_Analyze(t *testing.T) {
	mc := new(mockAnthropicClient)
	c := NewClaude(mc, ClaudeConfig{Model: "claude-haiku-4-5-20251001"})

	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			len(req.System) == 1 &&
			len(req.Messages) == 1 &&
			assert.Contains(t, req.Messages[0].Content, `"UK_stripe_91": 10`) &&
			assert.Contains(t, req.Messages[0].Content, "80.00%")
	})).Return(textResponse("Hypothesis: UK stripe outage\nAnomaly Detected: Yes"), nil)

	hyp, err := c.Analyze(context.Background(), AnalyzeRequest{Snapshot: ukOutage()})
	require.NoError(t, err)
	assert.Equal(t, "UK stripe outage", hyp.Summary)
	assert.True(t, hyp.AnomalyDetected)
	mc.AssertExpectations(t)
}

func TestClaude_Recommend_UnparseableYieldsNil(t *testing.T) {
	mc := new(mockAnthropicClient)
	c := NewClaude(mc, ClaudeConfig{Model: "m"})
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("ALERT: I would rather a human looked at this."), nil)

	rec, err := c.Recommend(context.Background(), RecommendRequest{
		Hypothesis: model.Hypothesis{Summary: "UK outage", AnomalyDetected: true},
		Routing:    model.DefaultRoutingTable(),
	})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestClaude_Recommend_PassesHistory(t *testing.T) {
	mc := new(mockAnthropicClient)
	c := NewClaude(mc, ClaudeConfig{Model: "m"})
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return assert.Contains(t, req.Messages[0].Content, `"region":"EU"`)
	})).Return(textResponse(`{"tool":"update_routing","region":"UK","gateway":"adyen"}`), nil)

	rec, err := c.Recommend(context.Background(), RecommendRequest{
		Hypothesis:    model.Hypothesis{Summary: "UK outage", AnomalyDetected: true},
		RecentActions: []model.ActionRecord{{Region: "EU", Gateway: "stripe"}},
		Routing:       model.DefaultRoutingTable(),
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "UK", rec.Region)
	mc.AssertExpectations(t)
}

func TestClaude_ErrorIsWrapped(t *testing.T) {
	mc := new(mockAnthropicClient)
	c := NewClaude(mc, ClaudeConfig{Model: "m"})
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := c.Analyze(context.Background(), AnalyzeRequest{Snapshot: ukOutage()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reasoning: analyze")
}

func TestClaude_EmptyReplyIsError(t *testing.T) {
	mc := new(mockAnthropicClient)
	c := NewClaude(mc, ClaudeConfig{Model: "m"})
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("   "), nil)

	_, err := c.Analyze(context.Background(), AnalyzeRequest{Snapshot: ukOutage()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty reply")
}

func TestGuarded_RetriesTransientAndObserves(t *testing.T) {
	mr := new(mockReasoner)
	mr.On("Analyze", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Once()
	mr.On("Analyze", mock.Anything, mock.Anything).
		Return(&model.Hypothesis{Summary: "ok"}, nil).Once()

	policy := resilience.NewPolicy("reasoning", time.Second, 3, 5, time.Minute)
	policy.Retry.InitialBackoff = time.Millisecond

	var observed []string
	g := NewGuarded(mr, policy, func(op string, _ time.Duration, err error) {
		observed = append(observed, op)
		assert.NoError(t, err)
	})

	hyp, err := g.Analyze(context.Background(), AnalyzeRequest{Snapshot: ukOutage()})
	require.NoError(t, err)
	assert.Equal(t, "ok", hyp.Summary)
	assert.Equal(t, []string{"analyze"}, observed)
	mr.AssertNumberOfCalls(t, "Analyze", 2)
}

func TestGuarded_TimeoutReturnsError(t *testing.T) {
	mr := new(mockReasoner)
	mr.On("Recommend", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	g := NewGuarded(mr, resilience.NewPolicy("reasoning", 10*time.Millisecond, 1, 5, time.Minute), nil)

	rec, err := g.Recommend(context.Background(), RecommendRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Nil(t, rec)
}

func TestGuarded_OpenCircuitShortCircuits(t *testing.T) {
	mr := new(mockReasoner)
	mr.On("Analyze", mock.Anything, mock.Anything).Return(nil, errors.New("bad request")).Once()

	g := NewGuarded(mr, resilience.NewPolicy("reasoning", 0, 1, 1, time.Hour), nil)

	_, err := g.Analyze(context.Background(), AnalyzeRequest{})
	require.Error(t, err)

	_, err = g.Analyze(context.Background(), AnalyzeRequest{})
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	mr.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "€€...", truncate("€€€€", 2))
	assert.True(t, utf8.ValidString(truncate("ab€€€€", 3)))
}
