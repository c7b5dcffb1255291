package gain

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func maskedMatrix(seed int64, rows, cols int, missRate float64) [][]float64 {
	rnd := rand.New(rand.NewSource(seed))
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		base := rnd.NormFloat64()
		for j := range out[i] {
			out[i][j] = base + 0.1*float64(j)
			if rnd.Float64() < missRate {
				out[i][j] = math.NaN()
			}
		}
	}
	return out
}

func quickParams() Params {
	p := DefaultParams()
	p.Iterations = 200
	p.BatchSize = 16
	return p
}

func TestCompleteKeepsObservedAndFillsMissing(t *testing.T) {
	data := maskedMatrix(1, 40, 5, 0.2)
	imp, err := Fit(context.Background(), data, quickParams(), nil)
	require.NoError(t, err)

	out, err := imp.Complete(data)
	require.NoError(t, err)
	require.Len(t, out, len(data))
	for i := range data {
		for j, v := range data[i] {
			if math.IsNaN(v) {
				require.False(t, math.IsNaN(out[i][j]), "cell %d,%d not filled", i, j)
				require.GreaterOrEqual(t, out[i][j], imp.mins[j])
				require.LessOrEqual(t, out[i][j], imp.maxs[j]+2*normEpsilon)
				continue
			}
			require.Equal(t, v, out[i][j])
		}
	}
}

func TestFitIsDeterministicForSeed(t *testing.T) {
	data := maskedMatrix(2, 20, 3, 0.3)
	a, err := Fit(context.Background(), data, quickParams(), nil)
	require.NoError(t, err)
	b, err := Fit(context.Background(), data, quickParams(), nil)
	require.NoError(t, err)
	require.Equal(t, a.GLoss, b.GLoss)
	require.Equal(t, a.DLoss, b.DLoss)
}

func TestFitBatchLargerThanRows(t *testing.T) {
	data := maskedMatrix(3, 5, 4, 0.2)
	params := quickParams()
	params.BatchSize = 128
	params.Iterations = 10
	_, err := Fit(context.Background(), data, params, nil)
	require.NoError(t, err)
}

func TestFitValidatesInput(t *testing.T) {
	_, err := Fit(context.Background(), nil, quickParams(), nil)
	require.Error(t, err)

	_, err = Fit(context.Background(), [][]float64{{1, 2}, {3}}, quickParams(), nil)
	require.Error(t, err)

	bad := quickParams()
	bad.HintRate = 1.5
	_, err = Fit(context.Background(), [][]float64{{1}}, bad, nil)
	require.Error(t, err)
}

func TestFitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Fit(ctx, maskedMatrix(4, 10, 2, 0.1), quickParams(), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCompleteRejectsWidthMismatch(t *testing.T) {
	imp, err := Fit(context.Background(), maskedMatrix(5, 10, 3, 0.1), Params{
		BatchSize: 4, HintRate: 0.9, Alpha: 10, Iterations: 1, LearningRate: 0.001,
	}, nil)
	require.NoError(t, err)
	_, err = imp.Complete([][]float64{{1, 2}})
	require.Error(t, err)
}

func TestColumnRangeIgnoresNaN(t *testing.T) {
	nan := math.NaN()
	mins, maxs := columnRange([][]float64{{1, nan, nan}, {nan, 4, nan}, {-2, 5, nan}})
	require.Equal(t, []float64{-2, 4, 0}, mins)
	require.Equal(t, []float64{1, 5, 0}, maxs)
}
