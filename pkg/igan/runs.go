package igan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"igan/internal/stats"
)

type RunsRequest struct {
	Limit int
	Kind  string
}

type RunRequest struct {
	RunID  string
	Latest bool
}

// RunDetail is one stored run with its loss history and scores. Scores is
// nil for imputation runs.
type RunDetail struct {
	Record      RunRecord
	LossHistory []float64
	Scores      *ScoreSummary
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

// Runs lists stored runs, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunRecord, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, min(len(runs), req.Limit))
	for _, run := range runs {
		if req.Kind != "" && run.Kind != req.Kind {
			continue
		}
		out = append(out, run)
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunDetail, error) {
	if err := c.Init(ctx); err != nil {
		return RunDetail{}, err
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return RunDetail{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	if !ok {
		return RunDetail{}, fmt.Errorf("run not found: %s", runID)
	}
	detail := RunDetail{Record: run}
	history, ok, err := c.store.GetLossHistory(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	if ok {
		detail.LossHistory = history
	}
	summary, ok, err := c.store.GetScoreReport(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	if ok {
		detail.Scores = &summary
	}
	return detail, nil
}

// Export copies the artifacts of one run. The latest run is taken from the
// on-disk run index, so runs of earlier processes can be exported too.
func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	switch {
	case runID != "" && latest:
		return "", errors.New("use either run id or latest")
	case runID != "":
		return runID, nil
	case !latest:
		return "", errors.New("run id or latest is required")
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs available")
	}
	return runs[0].ID, nil
}
