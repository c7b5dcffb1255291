package storage

import (
	"context"

	"igan/internal/model"
)

// Store persists generation and imputation runs together with their loss
// history and score summary.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every run, newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveLossHistory(ctx context.Context, runID string, history []float64) error
	GetLossHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveScoreReport(ctx context.Context, runID string, summary model.ScoreSummary) error
	GetScoreReport(ctx context.Context, runID string) (model.ScoreSummary, bool, error)
}
