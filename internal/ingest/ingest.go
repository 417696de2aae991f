// Package ingest reads the trailing window of the transaction log.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/payops-sentinel/internal/model"
)

// DefaultWindow is the number of trailing log lines read per cycle.
const DefaultWindow = 50

const maxLineBytes = 1 << 20

// Source yields the trailing transactions of a log.
type Source interface {
	Tail(ctx context.Context) ([]model.TransactionEvent, error)
}

// Ingestor parses the last Window lines of a log file.
type Ingestor struct {
	path   string
	window int
}

// New returns an Ingestor for path. A window <= 0 uses DefaultWindow.
func New(path string, window int) *Ingestor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ingestor{path: path, window: window}
}

// Path returns the log file being read.
func (in *Ingestor) Path() string { return in.path }

// Tail returns the parsed events in the trailing window, oldest first.
// A missing log file yields no events and no error.
func (in *Ingestor) Tail(ctx context.Context) ([]model.TransactionEvent, error) {
	f, err := os.Open(in.path)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Debug("ingest: log source missing", zap.String("path", in.path))
		return []model.TransactionEvent{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", in.path)
	}
	defer f.Close() //nolint:errcheck

	lines, err := tailLines(ctx, f, in.window)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", in.path)
	}

	events, skipped := ParseLines(lines)
	if skipped > 0 {
		zap.L().Debug("ingest: skipped unparseable lines",
			zap.String("path", in.path),
			zap.Int("skipped", skipped),
			zap.Int("parsed", len(events)),
		)
	}
	return events, nil
}

// tailLines keeps the last n lines of r in a ring buffer.
func tailLines(ctx context.Context, r io.Reader, n int) ([]string, error) {
	ring := make([]string, n)
	count := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		if count%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ring[count%n] = sc.Text()
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	return append(ring[start:], ring[:start]...), nil
}

// ParseLines parses every line it can and reports how many non-blank lines it dropped.
func ParseLines(lines []string) ([]model.TransactionEvent, int) {
	events := make([]model.TransactionEvent, 0, len(lines))
	skipped := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, ok := ParseLine(line)
		if !ok {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped
}

// ParseLine decodes the JSON record that starts at the first '{' of line.
// Anything before the brace is treated as logger metadata.
func ParseLine(line string) (model.TransactionEvent, bool) {
	start := strings.IndexByte(line, '{')
	if start < 0 {
		return model.TransactionEvent{}, false
	}

	var raw struct {
		Timestamp string  `json:"timestamp"`
		ID        string  `json:"transaction_id"`
		Gateway   string  `json:"gateway"`
		Region    string  `json:"region"`
		Status    string  `json:"status"`
		ErrorCode string  `json:"error_code"`
		LatencyMS float64 `json:"latency_ms"`
		Amount    float64 `json:"amount"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(line[start:])), &raw); err != nil {
		return model.TransactionEvent{}, false
	}

	status := model.TxStatus(strings.ToUpper(raw.Status))
	if !status.Valid() {
		return model.TransactionEvent{}, false
	}

	return model.TransactionEvent{
		Timestamp: parseTimestamp(raw.Timestamp),
		ID:        raw.ID,
		Gateway:   raw.Gateway,
		Region:    raw.Region,
		Status:    status,
		ErrorCode: raw.ErrorCode,
		LatencyMS: int(raw.LatencyMS),
		Amount:    raw.Amount,
	}, true
}
