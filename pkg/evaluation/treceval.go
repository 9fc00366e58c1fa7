package evaluation

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/soundprediction/ordino/pkg/dataset"
	"github.com/soundprediction/ordino/pkg/letor"
)

// TrecEval evaluates runs through an external trec_eval binary. The run and
// assessments are written to a temporary directory, the binary is invoked
// once per evaluation, and its per-query output is parsed back. Any failure
// wraps ErrExternalTool; the tool is never retried.
type TrecEval struct {
	binary string
	logger *slog.Logger
}

// NewTrecEval returns an evaluator for the given binary; empty means
// "trec_eval" on PATH.
func NewTrecEval(binary string, logger *slog.Logger) *TrecEval {
	if binary == "" {
		binary = "trec_eval"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrecEval{binary: binary, logger: logger}
}

// flagName maps a measure to the binary's -m argument.
func flagName(m Measure) (string, error) {
	switch m.Kind {
	case KindAP:
		return "map", nil
	case KindPrecision:
		return "P." + strconv.Itoa(m.Cutoff), nil
	case KindNDCG:
		if m.Cutoff > 0 {
			return "ndcg_cut." + strconv.Itoa(m.Cutoff), nil
		}
		return "ndcg", nil
	case KindRR:
		if m.Cutoff > 0 {
			return "", fmt.Errorf("%w: trec_eval computes reciprocal rank without a cutoff", letor.ErrConfiguration)
		}
		return "recip_rank", nil
	default:
		return "", fmt.Errorf("%w: unknown measure %q", letor.ErrConfiguration, m)
	}
}

// outputName is the label the binary prints for a -m argument.
func outputName(flag string) string {
	return strings.ReplaceAll(flag, ".", "_")
}

func (e *TrecEval) Evaluate(ctx context.Context, run Run, qrels dataset.Qrels, measures []Measure) ([]Result, error) {
	if len(measures) == 0 {
		measures = DefaultMeasures()
	}

	args := []string{"-q"}
	byOutput := make(map[string]int, len(measures))
	for i, m := range measures {
		flag, err := flagName(m)
		if err != nil {
			return nil, err
		}
		byOutput[outputName(flag)] = i
		args = append(args, "-m", flag)
	}

	dir, err := os.MkdirTemp("", "treceval-")
	if err != nil {
		return nil, fmt.Errorf("failed to stage evaluation files: %w", err)
	}
	defer os.RemoveAll(dir)
	qrelsPath := filepath.Join(dir, "qrels.txt")
	runPath := filepath.Join(dir, "run.txt")
	if err := dataset.WriteQrels(qrelsPath, qrels); err != nil {
		return nil, err
	}
	if err := WriteRunFile(runPath, run, "run"); err != nil {
		return nil, err
	}
	args = append(args, qrelsPath, runPath)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	e.logger.Debug("running external evaluator", "binary", e.binary, "measures", len(measures))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v: %s", ErrExternalTool, e.binary, err, strings.TrimSpace(stderr.String()))
	}

	results := make([]Result, len(measures))
	for i, m := range measures {
		results[i] = Result{Measure: m.String(), PerQuery: make(map[string]float64)}
	}
	for _, line := range strings.Split(stdout.String(), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		i, ok := byOutput[fields[0]]
		if !ok {
			continue
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s printed %q for %s", ErrExternalTool, e.binary, fields[2], fields[0])
		}
		if fields[1] == "all" {
			results[i].Mean = value
		} else {
			results[i].PerQuery[fields[1]] = value
		}
	}
	for _, res := range results {
		if len(res.PerQuery) == 0 {
			return nil, fmt.Errorf("%w: %s returned no values for %s", ErrExternalTool, e.binary, res.Measure)
		}
	}
	return results, nil
}
