package igan

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"igan/internal/dataset"
	"igan/internal/model"
	"igan/internal/stats"
	"igan/internal/storage"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	root := t.TempDir()
	c, err := New(Options{
		StoreKind:     "memory",
		RunsDir:       filepath.Join(root, "runs"),
		ExportsDir:    filepath.Join(root, "exports"),
		LogPath:       filepath.Join(root, "server_data", "training_log.txt"),
		CheckpointDir: filepath.Join(root, "models"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return c
}

func sineRows(n, length int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, length)
		for j := range rows[i] {
			rows[i][j] = math.Sin(float64(j)*0.6 + float64(i)*0.3)
		}
	}
	return rows
}

func tinyGenerate(rows [][]float64, labels []string, numSeq ...int) GenerateRequest {
	return GenerateRequest{
		Source:          "test",
		Rows:            rows,
		Labels:          labels,
		NumSeq:          numSeq,
		Epochs:          2,
		CheckpointEvery: 1,
		HiddenSize:      4,
		NumMixtures:     2,
		NumSteps:        5,
		Seed:            3,
	}
}

func TestGenerateSingleClassRecordsRun(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	summary, err := c.Generate(ctx, tinyGenerate(sineRows(4, 12), nil, 3))
	require.NoError(t, err)
	require.Len(t, summary.Synthetic, 3)
	require.Len(t, summary.Synthetic[0], 12)
	require.Nil(t, summary.Labels)
	require.Len(t, summary.LossHistory, 2)
	require.NotNil(t, summary.Scores.RMSE)

	for _, file := range []string{"config.json", "loss_history.csv", "synthetic.csv", "scores.json"} {
		_, err := os.Stat(filepath.Join(summary.ArtifactsDir, file))
		require.NoError(t, err, file)
	}
	entries, err := os.ReadDir(c.checkpointDir)
	if err == nil {
		require.Empty(t, entries, "checkpoint dirs must be removed after the run")
	}

	detail, err := c.Run(ctx, RunRequest{RunID: summary.RunID})
	require.NoError(t, err)
	require.Equal(t, model.RunKindGenerate, detail.Record.Kind)
	require.Equal(t, 3, detail.Record.Sequences)
	require.Equal(t, 12, detail.Record.SeqLen)
	require.Equal(t, 2, detail.Record.Epochs)
	require.Equal(t, summary.LossHistory, detail.LossHistory)
	require.NotNil(t, detail.Scores)
	require.Equal(t, storage.CurrentSchemaVersion, detail.Scores.SchemaVersion)
	require.Equal(t, storage.CurrentCodecVersion, detail.Scores.CodecVersion)

	history, err := stats.ReadLossHistory(c.runsDir, summary.RunID)
	require.NoError(t, err)
	require.InDeltaSlice(t, summary.LossHistory, history, 1e-12)

	lines, err := c.TrainingLog().Lines()
	require.NoError(t, err)
	require.Contains(t, lines, "Data generated")
}

func TestGenerateMultiClassBroadcastsCount(t *testing.T) {
	c := newTestClient(t)
	rows := sineRows(4, 10)
	summary, err := c.Generate(context.Background(), tinyGenerate(rows, []string{"a", "a", "b", "b"}, 2))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "a", "b", "b"}, summary.Labels)
	require.Len(t, summary.Synthetic, 4)
	require.Len(t, summary.LossHistory, 2)

	ds, err := stats.ReadSynthetic(c.runsDir, summary.RunID)
	require.NoError(t, err)
	require.Equal(t, summary.Labels, ds.Labels)

	detail, err := c.Run(context.Background(), RunRequest{Latest: true})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, detail.Record.Classes)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Generate(context.Background(), tinyGenerate([][]float64{{1, 2}, {1}}, nil))
	require.ErrorIs(t, err, dataset.ErrRaggedRows)

	_, err = c.Generate(context.Background(), tinyGenerate(sineRows(3, 8), []string{"a", "b", "a"}))
	require.Error(t, err)

	_, err = c.Generate(context.Background(), tinyGenerate(sineRows(2, 8), []string{"a", "b"}, 1, 2, 3))
	require.Error(t, err)
}

func TestImputeFillsSelectedSpan(t *testing.T) {
	c := newTestClient(t)
	corpus := sineRows(6, 12)
	summary, err := c.Impute(context.Background(), ImputeRequest{
		Corpus:     corpus,
		Sequence:   corpus[0],
		Start:      3,
		End:        6,
		RefX:       []int{4},
		RefY:       []float64{0.5},
		BatchSize:  4,
		Iterations: 20,
		Seed:       2,
	})
	require.NoError(t, err)
	require.True(t, summary.Trained)
	require.Len(t, summary.Vector, 12)
	for i, v := range summary.Vector {
		require.False(t, math.IsNaN(v), "position %d", i)
	}
	for _, i := range []int{0, 1, 2, 6, 11} {
		require.InDelta(t, corpus[0][i], summary.Vector[i], 1e-9, "observed position %d", i)
	}
	require.InDelta(t, 0.5, summary.Vector[4], 1e-9)

	detail, err := c.Run(context.Background(), RunRequest{RunID: summary.RunID})
	require.NoError(t, err)
	require.Equal(t, model.RunKindImpute, detail.Record.Kind)
	require.Equal(t, 20, detail.Record.Iterations)
	require.Nil(t, detail.Scores)
	_, err = os.Stat(filepath.Join(summary.ArtifactsDir, "imputed.csv"))
	require.NoError(t, err)
}

func TestImputeWithoutMissingReturnsTarget(t *testing.T) {
	c := newTestClient(t)
	corpus := sineRows(3, 8)
	summary, err := c.Impute(context.Background(), ImputeRequest{Corpus: corpus, Target: corpus[1]})
	require.NoError(t, err)
	require.False(t, summary.Trained)
	require.Equal(t, corpus[1], summary.Vector)
}

func TestImputeRequiresTarget(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Impute(context.Background(), ImputeRequest{Corpus: sineRows(2, 8)})
	require.Error(t, err)
}

func TestRunsExportAndLatest(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	corpus := sineRows(3, 8)

	first, err := c.Impute(ctx, ImputeRequest{Corpus: corpus, Target: corpus[0]})
	require.NoError(t, err)
	second, err := c.Generate(ctx, tinyGenerate(corpus, nil, 1))
	require.NoError(t, err)

	runs, err := c.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, second.RunID, runs[0].ID)
	require.Equal(t, first.RunID, runs[1].ID)

	onlyImpute, err := c.Runs(ctx, RunsRequest{Kind: model.RunKindImpute})
	require.NoError(t, err)
	require.Len(t, onlyImpute, 1)

	limited, err := c.Runs(ctx, RunsRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	exported, err := c.Export(ctx, ExportRequest{Latest: true})
	require.NoError(t, err)
	require.Equal(t, second.RunID, exported.RunID)
	_, err = os.Stat(filepath.Join(exported.Directory, "synthetic.csv"))
	require.NoError(t, err)

	_, err = c.Export(ctx, ExportRequest{RunID: "x", Latest: true})
	require.Error(t, err)
	_, err = c.Run(ctx, RunRequest{})
	require.Error(t, err)
	_, err = c.Run(ctx, RunRequest{RunID: "missing"})
	require.Error(t, err)
}

func TestScore(t *testing.T) {
	c := newTestClient(t)
	rows := sineRows(3, 16)
	report, err := c.Score(context.Background(), ScoreRequest{Original: rows, Generated: rows, Labels: []string{"x", "y", "x"}})
	require.NoError(t, err)
	require.NotNil(t, report.RMSE)
	require.InDelta(t, 0, *report.RMSE, 1e-12)
	require.Equal(t, []string{"x", "y"}, report.ClassLabels)
	require.Equal(t, []int{2, 1}, report.ClassCounts)

	_, err = c.Score(context.Background(), ScoreRequest{Original: [][]float64{{1}, {1, 2}}})
	require.Error(t, err)
}

func TestSessionEngineRecordsRuns(t *testing.T) {
	c := newTestClient(t)
	engine := c.SessionEngine(tinyGenerate(nil, nil, 2), ImputeRequest{BatchSize: 4, Iterations: 5})
	rows := sineRows(3, 12)

	generated, loss, err := engine.Generate(context.Background(), dataset.Dataset{Rows: rows})
	require.NoError(t, err)
	require.Equal(t, 2, generated.Len())
	require.False(t, math.IsNaN(loss))

	target := append([]float64(nil), rows[0]...)
	target[4], target[5] = math.NaN(), math.NaN()
	values, err := engine.Impute(context.Background(), rows, target)
	require.NoError(t, err)
	require.Len(t, values, 12)

	runs, err := c.Runs(context.Background(), RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
}
