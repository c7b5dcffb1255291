package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"igan/internal/stats"
)

type workspace struct {
	dir     string
	runs    string
	logPath string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	return workspace{
		dir:     dir,
		runs:    filepath.Join(dir, "runs"),
		logPath: filepath.Join(dir, "server_data", "training_log.txt"),
	}
}

func (w workspace) clientArgs() []string {
	return []string{"--store", "memory", "--runs-dir", w.runs, "--training-log", w.logPath, "--log-level", "off"}
}

func (w workspace) writeCSV(t *testing.T, name string, rows [][]float64) string {
	t.Helper()
	var b strings.Builder
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%g", v)
		}
		b.WriteByte('\n')
	}
	path := filepath.Join(w.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func waves(n, length int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, length)
		for j := range rows[i] {
			rows[i][j] = math.Sin(float64(j)*0.5 + float64(i))
		}
	}
	return rows
}

func TestRunRejectsMissingAndUnknownCommands(t *testing.T) {
	err := run(context.Background(), nil)
	require.ErrorContains(t, err, "missing command")

	err = run(context.Background(), []string{"train"})
	require.ErrorContains(t, err, "unknown command: train")
	require.ErrorContains(t, err, "usage: iganctl")
}

func TestGenerateShowRunsAndExport(t *testing.T) {
	w := newWorkspace(t)
	out := captureStdout(t)
	in := w.writeCSV(t, "data.csv", waves(4, 12))

	args := append([]string{"generate", "--in", in,
		"--num-seq", "3",
		"--epochs", "2",
		"--checkpoint-every", "1",
		"--hidden-size", "4",
		"--num-mixtures", "2",
		"--num-steps", "5",
		"--seed", "7",
		"--out", filepath.Join(w.dir, "generated.csv"),
	}, w.clientArgs()...)
	require.NoError(t, run(context.Background(), args))
	require.Contains(t, out.String(), "sequences=3 seq_len=12")

	generated, err := os.ReadFile(filepath.Join(w.dir, "generated.csv"))
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(string(generated)), "\n"), 3)

	entries, err := stats.ListRunIndex(w.runs)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	runID := entries[0].RunID

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"runs", "--runs-dir", w.runs}))
	require.Contains(t, out.String(), "run_id="+runID)
	require.Contains(t, out.String(), "kind=generate")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"show", "--runs-dir", w.runs, "--latest"}))
	var shown struct {
		Config      stats.RunConfig `json:"config"`
		LossHistory []float64       `json:"loss_history"`
		Scores      *struct {
			RMSE *float64 `json:"rmse"`
		} `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &shown))
	require.Equal(t, runID, shown.Config.RunID)
	require.Equal(t, []int{3}, shown.Config.NumSeq)
	require.Len(t, shown.LossHistory, 2)
	require.NotNil(t, shown.Scores)
	require.NotNil(t, shown.Scores.RMSE)

	exportDir := filepath.Join(w.dir, "exports")
	out.Reset()
	require.NoError(t, run(context.Background(), []string{"export", "--runs-dir", w.runs, "--run-id", runID, "--out", exportDir}))
	require.Contains(t, out.String(), "exported run_id="+runID)
	_, err = os.Stat(filepath.Join(exportDir, runID, "synthetic.csv"))
	require.NoError(t, err)
}

func TestGenerateUsesConfigFileWithFlagOverrides(t *testing.T) {
	w := newWorkspace(t)
	out := captureStdout(t)
	in := w.writeCSV(t, "data.csv", waves(3, 10))
	configPath := filepath.Join(w.dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
		"generate": {
			"num_seq": 4,
			"epochs": 1,
			"checkpoint_every": 1,
			"model": {"hidden_size": 3, "num_mixtures": 2, "num_steps": 4}
		}
	}`), 0o644))

	args := append([]string{"generate", "--in", in, "--config", configPath, "--num-seq", "2", "--json"}, w.clientArgs()...)
	require.NoError(t, run(context.Background(), args))

	var summary struct {
		Synthetic   [][]float64
		LossHistory []float64
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	require.Len(t, summary.Synthetic, 2)
	require.Len(t, summary.LossHistory, 1)
}

func TestImputeTargetFile(t *testing.T) {
	w := newWorkspace(t)
	out := captureStdout(t)
	in := w.writeCSV(t, "corpus.csv", waves(5, 12))
	targetPath := filepath.Join(w.dir, "target.csv")
	require.NoError(t, os.WriteFile(targetPath, []byte("0,0.5,nan,nan,0.2,0.1,0,-0.1,-0.2,0,0.1,0.2\n"), 0o644))

	args := append([]string{"impute", "--in", in, "--target", targetPath,
		"--iterations", "5", "--batch-size", "4", "--seed", "1", "--json",
	}, w.clientArgs()...)
	require.NoError(t, run(context.Background(), args))

	var summary struct {
		Vector  []float64
		Trained bool
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	require.True(t, summary.Trained)
	require.Len(t, summary.Vector, 12)
	require.InDelta(t, 0.5, summary.Vector[1], 1e-9)
	require.InDelta(t, 0.2, summary.Vector[4], 1e-9)
}

func TestImputeSpanWithReference(t *testing.T) {
	w := newWorkspace(t)
	out := captureStdout(t)
	rows := waves(5, 12)
	in := w.writeCSV(t, "corpus.csv", rows)
	target := w.writeCSV(t, "target.csv", rows[:1])

	args := append([]string{"impute", "--in", in, "--target", target,
		"--start", "3", "--end", "7", "--ref", "5:0.25",
		"--iterations", "5", "--batch-size", "4",
	}, w.clientArgs()...)
	require.NoError(t, run(context.Background(), args))
	require.Contains(t, out.String(), "trained=true")

	entries, err := stats.ListRunIndex(w.runs)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	cfg, err := stats.ReadRunConfig(w.runs, entries[0].RunID)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.DeleteStart)
	require.Equal(t, 7, cfg.DeleteEnd)
}

func TestImputeValidatesFlags(t *testing.T) {
	w := newWorkspace(t)
	require.ErrorContains(t, run(context.Background(), []string{"impute", "--in", "x.csv"}), "requires --in and --target")

	in := w.writeCSV(t, "corpus.csv", waves(2, 6))
	err := run(context.Background(), append([]string{"impute", "--in", in, "--target", in, "--start", "4", "--end", "2"}, w.clientArgs()...))
	require.ErrorContains(t, err, "invalid span")
}

func TestScoreIdenticalDatasets(t *testing.T) {
	w := newWorkspace(t)
	out := captureStdout(t)
	in := w.writeCSV(t, "data.csv", waves(3, 16))

	require.NoError(t, run(context.Background(), []string{"score", "--orig", in, "--gen", in}))
	var report struct {
		RMSE *float64 `json:"rmse"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.NotNil(t, report.RMSE)
	require.InDelta(t, 0, *report.RMSE, 1e-12)
}

func TestShowAndExportNeedOneSelector(t *testing.T) {
	w := newWorkspace(t)
	require.ErrorContains(t, run(context.Background(), []string{"show", "--runs-dir", w.runs}), "requires --run-id or --latest")
	require.ErrorContains(t, run(context.Background(), []string{"export", "--runs-dir", w.runs, "--run-id", "a", "--latest"}), "not both")
	require.ErrorContains(t, run(context.Background(), []string{"export", "--runs-dir", w.runs, "--latest"}), "no runs available")
}

func TestRunsEmpty(t *testing.T) {
	w := newWorkspace(t)
	out := captureStdout(t)
	require.NoError(t, run(context.Background(), []string{"runs", "--runs-dir", w.runs}))
	require.Equal(t, "no runs found\n", out.String())
	require.Error(t, run(context.Background(), []string{"runs", "--limit", "0"}))
}
