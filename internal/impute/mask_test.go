package impute

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func zeros(n, length int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, length)
	}
	return rows
}

func TestGapPolicyMasksOneSpanInsideWindow(t *testing.T) {
	rows := zeros(50, 100)
	policy := GapPolicy{MissRate: 0.2}
	require.NoError(t, policy.Apply(rows, rand.New(rand.NewSource(3))))

	for i, row := range rows {
		first, last, count := -1, -1, 0
		for j, v := range row {
			if math.IsNaN(v) {
				if first < 0 {
					first = j
				}
				last = j
				count++
			}
		}
		require.Equal(t, last-first+1, count, "row %d span is not contiguous", i)
		require.Greater(t, count, 10, "row %d", i)
		require.Less(t, count, 20, "row %d", i)
	}
}

func TestGapBounds(t *testing.T) {
	lo, hi, err := GapPolicy{MissRate: 0.2}.GapBounds(100)
	require.NoError(t, err)
	require.Equal(t, 11, lo)
	require.Equal(t, 19, hi)

	lo, hi, err = GapPolicy{MissRate: 1}.GapBounds(4)
	require.NoError(t, err)
	require.Equal(t, 3, lo)
	require.Equal(t, 3, hi)
}

func TestGapPolicyEmptyWindow(t *testing.T) {
	for _, rate := range []float64{0, -0.1, 1.5, 0.1, math.NaN()} {
		err := GapPolicy{MissRate: rate}.Validate(10)
		require.True(t, errors.Is(err, ErrInvalidMissRate), "rate %v: %v", rate, err)
	}
	err := GapPolicy{MissRate: 0.1}.Apply(zeros(2, 10), rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, ErrInvalidMissRate)
}

func TestGapPolicyAttemptCap(t *testing.T) {
	// With L=4 and rate 1 only a gap of 3 is valid, so one attempt rarely
	// succeeds for every row.
	policy := GapPolicy{MissRate: 1, MaxAttempts: 1}
	err := policy.Apply(zeros(200, 4), rand.New(rand.NewSource(8)))
	require.ErrorIs(t, err, ErrInvalidMissRate)
}

func TestBernoulliPolicy(t *testing.T) {
	rows := zeros(100, 100)
	require.NoError(t, BernoulliPolicy{MissRate: 0.3}.Apply(rows, rand.New(rand.NewSource(5))))
	missing := 0
	for _, row := range rows {
		for _, v := range row {
			if math.IsNaN(v) {
				missing++
			}
		}
	}
	require.InDelta(t, 3000, missing, 300)

	require.ErrorIs(t, BernoulliPolicy{MissRate: 2}.Validate(10), ErrInvalidMissRate)
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("", 0.2)
	require.NoError(t, err)
	require.IsType(t, GapPolicy{}, p)
	p, err = PolicyByName("bernoulli", 0.2)
	require.NoError(t, err)
	require.IsType(t, BernoulliPolicy{}, p)
	_, err = PolicyByName("other", 0.2)
	require.Error(t, err)
}

func TestDistinctPair(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		a, b := distinctPair(rnd, 5)
		require.Less(t, a, b)
		require.GreaterOrEqual(t, a, 0)
		require.Less(t, b, 5)
	}
}

func TestPrepareTarget(t *testing.T) {
	seq := []float64{1, 2, 3, 4, 5}
	out := PrepareTarget(seq, -3, 2, []int{1, 7, -1}, []float64{9, 8, 7})
	require.True(t, math.IsNaN(out[0]))
	require.Equal(t, 9.0, out[1])
	require.Equal(t, []float64{3, 4, 5}, out[2:])
	require.Equal(t, []float64{1, 2, 3, 4, 5}, seq)

	out = PrepareTarget(seq, 3, 99, nil, nil)
	require.Equal(t, []float64{1, 2, 3}, out[:3])
	require.True(t, math.IsNaN(out[3]) && math.IsNaN(out[4]))

	out = PrepareTarget(seq, 4, 2, nil, nil)
	require.Equal(t, seq, out)
}
