package reasoning

import (
	"encoding/json"
	"strings"

	"github.com/sells-group/payops-sentinel/internal/model"
)

const (
	hypothesisPrefix = "hypothesis:"
	anomalyPrefix    = "anomaly detected:"
	toolName         = "update_routing"
	monitoringText   = "Monitoring..."
)

// ParseHypothesis reads the "Hypothesis:" and "Anomaly Detected:" lines of a
// free-text reply. Missing lines yield a non-anomalous hypothesis.
func ParseHypothesis(text string) model.Hypothesis {
	h := model.Hypothesis{Summary: monitoringText}
	for _, line := range strings.Split(text, "\n") {
		line = trimEmphasis(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, hypothesisPrefix):
			if s := trimEmphasis(line[len(hypothesisPrefix):]); s != "" {
				h.Summary = s
			}
		case strings.HasPrefix(lower, anomalyPrefix):
			v := trimEmphasis(lower[len(anomalyPrefix):])
			h.AnomalyDetected = strings.HasPrefix(v, "yes")
		}
	}
	return h
}

// trimEmphasis strips markdown bold/italic markers and list bullets around s.
func trimEmphasis(s string) string {
	return strings.Trim(strings.TrimSpace(s), "*_ \t-")
}

type toolCall struct {
	Tool    string `json:"tool"`
	Name    string `json:"name"`
	Region  string `json:"region"`
	Gateway string `json:"gateway"`
	Args    *struct {
		Region  string `json:"region"`
		Gateway string `json:"gateway"`
	} `json:"args"`
}

// ParseRecommendation extracts the first update_routing JSON object from a
// reply. It accepts {"tool":..,"region":..,"gateway":..} and the
// {"name":..,"args":{..}} shape.
func ParseRecommendation(text string) (*model.Recommendation, bool) {
	for i := strings.Index(text, "{"); i >= 0; {
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var call toolCall
		if err := dec.Decode(&call); err == nil {
			if rec, ok := call.recommendation(); ok {
				return rec, true
			}
		}
		next := strings.Index(text[i+1:], "{")
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, false
}

func (c toolCall) recommendation() (*model.Recommendation, bool) {
	name := c.Tool
	if name == "" {
		name = c.Name
	}
	if name != "" && name != toolName {
		return nil, false
	}
	rec := &model.Recommendation{Region: c.Region, Gateway: c.Gateway}
	if c.Args != nil {
		rec.Region, rec.Gateway = c.Args.Region, c.Args.Gateway
	}
	rec.Region = normalizeRegion(rec.Region)
	rec.Gateway = strings.ToLower(strings.TrimSpace(rec.Gateway))
	if !rec.Complete() {
		return nil, false
	}
	return rec, true
}

// normalizeRegion upper-cases region codes but keeps the global default key
// in the exact spelling the routing table uses.
func normalizeRegion(region string) string {
	region = strings.TrimSpace(region)
	if strings.EqualFold(region, model.GlobalDefaultKey) {
		return model.GlobalDefaultKey
	}
	return strings.ToUpper(region)
}
