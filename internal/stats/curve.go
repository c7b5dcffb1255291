package stats

import (
	mstats "github.com/montanaflynn/stats"
)

// AverageCurve averages several loss curves point by point. Curves may have
// different lengths; each point averages the curves that reach it.
func AverageCurve(curves [][]float64) []float64 {
	longest := 0
	for _, c := range curves {
		longest = max(longest, len(c))
	}
	out := make([]float64, 0, longest)
	values := make([]float64, 0, len(curves))
	for i := 0; i < longest; i++ {
		values = values[:0]
		for _, c := range curves {
			if i < len(c) {
				values = append(values, c[i])
			}
		}
		avg, _ := mstats.Mean(values)
		out = append(out, avg)
	}
	return out
}

// CurveMinima returns the lowest value of every non-empty curve, in order.
func CurveMinima(curves [][]float64) []float64 {
	out := make([]float64, 0, len(curves))
	for _, c := range curves {
		if len(c) == 0 {
			continue
		}
		low, _ := mstats.Min(c)
		out = append(out, low)
	}
	return out
}
