package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/resilience"
	"github.com/sells-group/payops-sentinel/pkg/anthropic"
)

const (
	analyzeSystemPrompt = "You are a Senior Payment Operations Manager. You analyze fintech transaction logs for failure patterns."

	recommendSystemPrompt = `You decide whether to reroute a payment region to another gateway.
If a specific region is failing, respond with exactly one JSON object:
{"tool": "update_routing", "region": "<REGION>", "gateway": "<gateway>"}
If you already rerouted this region recently, or no reroute would help, respond with the word ALERT and a short reason.`

	defaultMaxTokens = 512
	cacheTTL         = "5m"
)

// ClaudeConfig configures the Claude reasoner.
type ClaudeConfig struct {
	Model     string
	MaxTokens int64
	// RequestsPerSecond limits calls to the API. Zero means unlimited.
	RequestsPerSecond float64
	Threshold         int
	Gateways          []string
}

// Claude is a Reasoner backed by the Anthropic Messages API.
type Claude struct {
	client  anthropic.Client
	cfg     ClaudeConfig
	limiter *rate.Limiter
}

// NewClaude creates a Claude reasoner.
func NewClaude(client anthropic.Client, cfg ClaudeConfig) *Claude {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultClusterThreshold
	}
	if len(cfg.Gateways) == 0 {
		cfg.Gateways = DefaultGateways
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Claude{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *Claude) Analyze(ctx context.Context, req AnalyzeRequest) (*model.Hypothesis, error) {
	clusters, err := json.MarshalIndent(req.Snapshot.FailureClusters, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "reasoning: marshal clusters")
	}

	prompt := fmt.Sprintf(`Analyze the following failure clusters observed in the last %d transactions.

DATA:
%s

GLOBAL SUCCESS RATE: %.2f%%

TASK:
1. Determine if a specific "Targeted Incident" is occurring.
2. A cluster is an incident if it has a high count (more than %d) for a specific Region/Gateway/Error.
3. Identify the root cause.
4. If no clear pattern exists, label it as "Normal Noise".

OUTPUT FORMAT:
Hypothesis: <your finding>
Confidence: <0-100%%>
Anomaly Detected: <Yes/No>`,
		req.Snapshot.TotalCount, clusters, req.Snapshot.SuccessRate*100, c.cfg.Threshold)

	text, err := c.complete(ctx, "analyze", analyzeSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	h := ParseHypothesis(text)
	return &h, nil
}

func (c *Claude) Recommend(ctx context.Context, req RecommendRequest) (*model.Recommendation, error) {
	history, err := json.Marshal(req.RecentActions)
	if err != nil {
		return nil, eris.Wrap(err, "reasoning: marshal history")
	}
	routes, err := json.Marshal(req.Routing)
	if err != nil {
		return nil, eris.Wrap(err, "reasoning: marshal routing")
	}

	prompt := fmt.Sprintf(`Hypothesis: %s
Current routing: %s
Available gateways: %s
Past actions taken (last %d, oldest first): %s

- If a specific region is failing, call update_routing with a different gateway.
- CHECK PAST ACTIONS: if you already rerouted this region to that gateway recently, do not do it again.`,
		req.Hypothesis.Summary, routes, strings.Join(c.cfg.Gateways, ", "), len(req.RecentActions), history)

	text, err := c.complete(ctx, "recommend", recommendSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	rec, ok := ParseRecommendation(text)
	if !ok {
		zap.L().Warn("reasoning: no usable update_routing call in reply", zap.String("reply", truncate(text, 200)))
		return nil, nil
	}
	return rec, nil
}

func (c *Claude) complete(ctx context.Context, step, system, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrapf(err, "reasoning: %s rate limit", step)
	}

	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(system, cacheTTL),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			err = resilience.NewTransientError(err, code)
		}
		return "", eris.Wrapf(err, "reasoning: %s", step)
	}
	resp.Usage.LogCost(c.cfg.Model, step)

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", eris.Errorf("reasoning: %s: empty reply", step)
	}
	return text, nil
}

// truncate shortens s to at most n runes for logging.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
