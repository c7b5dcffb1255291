package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"igan/internal/dataset"
	"igan/internal/scoring"
)

const (
	configFile      = "config.json"
	lossHistoryFile = "loss_history.csv"
	syntheticFile   = "synthetic.csv"
	imputedFile     = "imputed.csv"
	scoresFile      = "scores.json"
	runIndexFile    = "index.json"
)

// RunConfig records the inputs of one generate or impute run.
type RunConfig struct {
	RunID           string  `json:"run_id"`
	Kind            string  `json:"kind"`
	Input           string  `json:"input,omitempty"`
	LabelColumn     bool    `json:"label_column,omitempty"`
	NumClasses      int     `json:"num_classes,omitempty"`
	NumSeq          []int   `json:"num_seq,omitempty"`
	Epochs          int     `json:"epochs,omitempty"`
	CheckpointEvery int     `json:"checkpoint_every,omitempty"`
	BatchSize       int     `json:"batch_size,omitempty"`
	Workers         int     `json:"workers,omitempty"`
	LearningRate    float64 `json:"learning_rate,omitempty"`
	NumLayers       int     `json:"num_layers,omitempty"`
	HiddenSize      int     `json:"hidden_size,omitempty"`
	NumMixtures     int     `json:"num_mixtures,omitempty"`
	NumSteps        int     `json:"num_steps,omitempty"`
	MissRate        float64 `json:"miss_rate,omitempty"`
	MaskPolicy      string  `json:"mask_policy,omitempty"`
	HintRate        float64 `json:"hint_rate,omitempty"`
	Alpha           float64 `json:"alpha,omitempty"`
	Iterations      int     `json:"iterations,omitempty"`
	DeleteStart     int     `json:"delete_start,omitempty"`
	DeleteEnd       int     `json:"delete_end,omitempty"`
	Seed            int64   `json:"seed"`
}

// RunArtifacts is everything written under <baseDir>/<run_id>. Synthetic is
// set for generate runs and Imputed for impute runs.
type RunArtifacts struct {
	Config      RunConfig
	LossHistory []float64
	FinalLoss   float64
	Synthetic   [][]float64
	Labels      []string
	Imputed     []float64
	Scores      *scoring.Report
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Kind         string  `json:"kind"`
	Classes      int     `json:"classes"`
	Sequences    int     `json:"sequences"`
	SeqLen       int     `json:"seq_len"`
	FinalLoss    float64 `json:"final_loss"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeLossHistory(filepath.Join(runDir, lossHistoryFile), artifacts.LossHistory); err != nil {
		return "", err
	}
	if len(artifacts.Synthetic) > 0 {
		if err := writeSyntheticFile(filepath.Join(runDir, syntheticFile), artifacts.Synthetic, artifacts.Labels); err != nil {
			return "", err
		}
	}
	if len(artifacts.Imputed) > 0 {
		if err := writeSeries(filepath.Join(runDir, imputedFile), "position", "value", artifacts.Imputed); err != nil {
			return "", err
		}
	}
	if artifacts.Scores != nil {
		if err := writeJSON(filepath.Join(runDir, scoresFile), artifacts.Scores); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

// WriteSyntheticCSV writes one sequence per record, label first when labels
// are given.
func WriteSyntheticCSV(w io.Writer, rows [][]float64, labels []string) error {
	if labels != nil && len(labels) != len(rows) {
		return fmt.Errorf("synthetic labels: got %d for %d rows", len(labels), len(rows))
	}
	return dataset.WriteMatrixCSV(w, rows, labels)
}

func writeSyntheticFile(path string, rows [][]float64, labels []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSyntheticCSV(f, rows, labels); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func ReadSynthetic(baseDir, runID string) (dataset.Dataset, error) {
	path := filepath.Join(baseDir, runID, syntheticFile)
	cfg, err := ReadRunConfig(baseDir, runID)
	if err != nil {
		return dataset.Dataset{}, err
	}
	return dataset.LoadMatrixCSV(path, cfg.NumClasses > 0)
}

func ReadRunConfig(baseDir, runID string) (RunConfig, error) {
	var cfg RunConfig
	data, err := os.ReadFile(filepath.Join(baseDir, runID, configFile))
	if err != nil {
		return RunConfig{}, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("decode run config %s: %w", runID, err)
	}
	return cfg, nil
}

func ReadScoreReport(baseDir, runID string) (scoring.Report, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, scoresFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return scoring.Report{}, false, nil
		}
		return scoring.Report{}, false, err
	}
	var report scoring.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return scoring.Report{}, false, fmt.Errorf("decode scores %s: %w", runID, err)
	}
	return report, true, nil
}

// ReadLossHistory reads loss_history.csv of a run back in epoch order.
func ReadLossHistory(baseDir, runID string) ([]float64, error) {
	return readSeries(filepath.Join(baseDir, runID, lossHistoryFile))
}

func writeLossHistory(path string, history []float64) error {
	return writeSeries(path, "epoch", "loss", history)
}

func writeSeries(path, indexHeader, valueHeader string, values []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{indexHeader, valueHeader}); err != nil {
		_ = f.Close()
		return err
	}
	for i, v := range values {
		record := []string{strconv.Itoa(i + 1), strconv.FormatFloat(v, 'g', -1, 64)}
		if err := w.Write(record); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readSeries(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	out := make([]float64, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) != 2 {
			return nil, fmt.Errorf("%s row %d: expected 2 fields, got %d", path, i+2, len(record))
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}
	replaced := false
	for i := range entries {
		if entries[i].RunID == entry.RunID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	return writeJSON(filepath.Join(baseDir, runIndexFile), entries)
}

// ListRunIndex returns index entries newest first; equal timestamps keep the
// later append first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}
	type indexed struct {
		idx   int
		entry RunIndexEntry
	}
	ordered := make([]indexed, len(entries))
	for i, e := range entries {
		ordered[i] = indexed{idx: i, entry: e}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].entry.CreatedAtUTC == ordered[j].entry.CreatedAtUTC {
			return ordered[i].idx > ordered[j].idx
		}
		return ordered[i].entry.CreatedAtUTC > ordered[j].entry.CreatedAtUTC
	})
	out := make([]RunIndexEntry, len(ordered))
	for i, item := range ordered {
		out[i] = item.entry
	}
	return out, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode run index: %w", err)
	}
	return entries, nil
}

// ExportRunArtifacts copies the files of one run into outDir/<run_id>.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	srcDir := filepath.Join(baseDir, runID)
	if _, err := os.Stat(srcDir); err != nil {
		return "", fmt.Errorf("run artifacts %s: %w", runID, err)
	}
	dstDir := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", err
	}
	for _, name := range []string{configFile, lossHistoryFile, syntheticFile, imputedFile, scoresFile} {
		src := filepath.Join(srcDir, name)
		if _, err := os.Stat(src); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return "", err
		}
		if err := copyFile(src, filepath.Join(dstDir, name)); err != nil {
			return "", err
		}
	}
	return dstDir, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
