package impute

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"igan/internal/gain"
	"igan/internal/trainlog"
)

func sineCorpus(n, length int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, length)
		for j := range rows[i] {
			rows[i][j] = math.Sin(float64(j)*0.25+float64(i)*0.05) * (1 + 0.1*float64(i))
		}
	}
	return rows
}

func quickRequest() Request {
	req := DefaultRequest()
	req.Params.Iterations = 50
	req.Params.BatchSize = 16
	return req
}

func newTestImputer(t *testing.T) (*Imputer, *trainlog.Sink) {
	t.Helper()
	sink, err := trainlog.NewSink(filepath.Join(t.TempDir(), "training.log"))
	require.NoError(t, err)
	return New(sink, nil), sink
}

func TestImputeWithoutMissingIsPassThrough(t *testing.T) {
	im, _ := newTestImputer(t)
	corpus := sineCorpus(6, 40)
	target := append([]float64(nil), corpus[2]...)

	res, err := im.Impute(context.Background(), corpus, target, quickRequest())
	require.NoError(t, err)
	require.False(t, res.Trained)
	require.Equal(t, target, res.Vector)
	require.Len(t, res.Reconstructions, 40)
	require.Len(t, res.Reconstructions[0], 6)
	require.Equal(t, target[5], res.Reconstructions[5][3])
}

func TestImputeFillsMissingAndKeepsObserved(t *testing.T) {
	im, sink := newTestImputer(t)
	corpus := sineCorpus(8, 50)
	snapshot := make([][]float64, len(corpus))
	for i := range corpus {
		snapshot[i] = append([]float64(nil), corpus[i]...)
	}
	target := PrepareTarget(corpus[0], 10, 18, nil, nil)

	res, err := im.Impute(context.Background(), corpus, target, quickRequest())
	require.NoError(t, err)
	require.True(t, res.Trained)
	require.Len(t, res.Vector, 50)
	for p, v := range res.Vector {
		require.False(t, math.IsNaN(v), "position %d not filled", p)
		if p < 10 || p >= 18 {
			require.InDelta(t, target[p], v, 1e-12)
		}
	}
	require.Equal(t, snapshot, corpus, "corpus must not be modified")

	lines, err := sink.Lines()
	require.NoError(t, err)
	require.Equal(t, []string{"Training imputation NN...", "Training and Imputation Complete."}, lines)
}

func TestImputeRejectsDegenerateMissRate(t *testing.T) {
	im, _ := newTestImputer(t)
	corpus := sineCorpus(3, 10)
	req := quickRequest()
	req.MissRate = 0.1 // window (0.5, 1) holds no integer length

	_, err := im.Impute(context.Background(), corpus, PrepareTarget(corpus[0], 2, 4, nil, nil), req)
	require.True(t, errors.Is(err, ErrInvalidMissRate), "got %v", err)
}

func TestImputeWithoutMissingIgnoresDegenerateMissRate(t *testing.T) {
	im, sink := newTestImputer(t)
	corpus := [][]float64{{1, 2, 3, 4, 5}, {5, 4, 3, 2, 1}}
	target := []float64{1, 2, 3, 4, 5}

	res, err := im.Impute(context.Background(), corpus, target, DefaultRequest())
	require.NoError(t, err)
	require.False(t, res.Trained)
	require.Equal(t, target, res.Vector)

	lines, err := sink.Lines()
	require.NoError(t, err)
	require.Equal(t, []string{"Training and Imputation Complete."}, lines)
}

func TestImputeRejectsLengthMismatch(t *testing.T) {
	im, _ := newTestImputer(t)
	_, err := im.Impute(context.Background(), sineCorpus(3, 10), make([]float64, 9), quickRequest())
	require.Error(t, err)
}

func TestImputeWithBernoulliPolicy(t *testing.T) {
	im, _ := newTestImputer(t)
	corpus := sineCorpus(5, 30)
	req := quickRequest()
	req.Policy = BernoulliPolicy{MissRate: 0.3}
	res, err := im.Impute(context.Background(), corpus, PrepareTarget(corpus[1], 0, 5, nil, nil), req)
	require.NoError(t, err)
	for _, v := range res.Vector {
		require.False(t, math.IsNaN(v))
	}
}

func TestImputeScalesNetworkOutput(t *testing.T) {
	corpus := sineCorpus(4, 20)
	req := quickRequest()
	target := PrepareTarget(corpus[0], 5, 9, nil, nil)

	im, _ := newTestImputer(t)
	res, err := im.Impute(context.Background(), corpus, target, req)
	require.NoError(t, err)

	// The same network trained directly on the scaled data must produce
	// ScaleFactor times the reported values.
	work := make([][]float64, len(corpus))
	for i := range corpus {
		work[i] = append([]float64(nil), corpus[i]...)
	}
	rnd := rand.New(rand.NewSource(req.Params.Seed))
	require.NoError(t, GapPolicy{MissRate: req.MissRate}.Apply(work, rnd))
	train := make([][]float64, 20)
	tiled := make([][]float64, 20)
	for p := range train {
		train[p] = make([]float64, 4)
		tiled[p] = make([]float64, 4)
		for j := range train[p] {
			train[p][j] = work[j][p] * ScaleFactor
			tiled[p][j] = target[p] * ScaleFactor
		}
	}
	network, err := gain.Fit(context.Background(), train, req.Params, nil)
	require.NoError(t, err)
	raw, err := network.Complete(tiled)
	require.NoError(t, err)
	for p := 5; p < 9; p++ {
		require.InDelta(t, raw[p][0]/ScaleFactor, res.Vector[p], 1e-12)
	}
}
