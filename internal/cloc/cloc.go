// Package cloc wraps the external cloc line-counting tool.
package cloc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/orgstat/orgstat/internal/domain"
)

// CommandContext can be swapped out in tests.
var CommandContext = exec.CommandContext

// Counter is the behavior the aggregation pipeline needs from the
// line-counting layer.
type Counter interface {
	Count(ctx context.Context, path string) (domain.LineStats, error)
}

// Tool implements Counter by running the cloc binary with JSON output.
type Tool struct {
	logger logrus.FieldLogger
}

func NewTool(logger logrus.FieldLogger) *Tool {
	return &Tool{logger: logger}
}

// CheckAvailable verifies the cloc executable can be found. Called once at
// startup; a missing binary is fatal for the run.
func CheckAvailable() error {
	if _, err := exec.LookPath("cloc"); err != nil {
		return &domain.ToolUnavailableError{Tool: "cloc", Err: err}
	}
	return nil
}

func (t *Tool) Count(ctx context.Context, path string) (domain.LineStats, error) {
	t.logger.Debugf("counting lines in %s", path)
	cmd := CommandContext(ctx, "cloc", "--json", "--quiet", path)
	eb := &bytes.Buffer{}
	ob := &bytes.Buffer{}
	cmd.Stderr = eb
	cmd.Stdout = ob

	if err := cmd.Run(); err != nil {
		return domain.LineStats{}, fmt.Errorf("cloc failed on %s: %s (%w)", path, strings.TrimSpace(eb.String()), err)
	}
	return parseOutput(ob.Bytes())
}

// parseOutput reads cloc's JSON: a map from language name to counts, plus
// the header and SUM entries which are dropped. The total is the sum of the
// per-language code lines.
func parseOutput(out []byte) (domain.LineStats, error) {
	// cloc prints nothing at all for an empty directory.
	if len(bytes.TrimSpace(out)) == 0 {
		return domain.LineStats{Languages: map[string]int{}}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		return domain.LineStats{}, fmt.Errorf("cloc output: %w", err)
	}

	stats := domain.LineStats{Languages: make(map[string]int, len(raw))}
	for lang, msg := range raw {
		if lang == "header" || lang == "SUM" {
			continue
		}
		var entry struct {
			Code int `json:"code"`
		}
		if err := json.Unmarshal(msg, &entry); err != nil {
			return domain.LineStats{}, fmt.Errorf("cloc output for %s: %w", lang, err)
		}
		stats.Languages[lang] = entry.Code
		stats.Total += entry.Code
	}
	return stats, nil
}
