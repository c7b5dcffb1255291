// Package scoring summarizes sequence datasets and compares a generated
// dataset against the original one.
package scoring

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
)

// DataDist returns the mean of every row.
func DataDist(rows [][]float64) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		out[i] = floats.Sum(row) / float64(len(row))
	}
	return out
}

// ClassDist counts labels. The parallel slices are ordered by label,
// numerically when every label is a number and lexically otherwise.
func ClassDist(labels []string) ([]int, []string) {
	counts := make(map[string]int, 8)
	for _, label := range labels {
		counts[label]++
	}
	distinct := make([]string, 0, len(counts))
	for label := range counts {
		distinct = append(distinct, label)
	}
	sortLabels(distinct)
	out := make([]int, len(distinct))
	for i, label := range distinct {
		out[i] = counts[label]
	}
	return out, distinct
}

func sortLabels(labels []string) {
	values := make(map[string]float64, len(labels))
	for _, label := range labels {
		v, err := strconv.ParseFloat(strings.TrimSpace(label), 64)
		if err != nil || math.IsNaN(v) {
			sort.Strings(labels)
			return
		}
		values[label] = v
	}
	sort.Slice(labels, func(i, j int) bool {
		if values[labels[i]] != values[labels[j]] {
			return values[labels[i]] < values[labels[j]]
		}
		return labels[i] < labels[j]
	})
}

// BrayCurtis is sum|u-v| / sum|u+v|. Two all-zero vectors are identical.
func BrayCurtis(u, v []float64) float64 {
	var num, den float64
	for i := range u {
		num += math.Abs(u[i] - v[i])
		den += math.Abs(u[i] + v[i])
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// DataDiversity builds the Bray-Curtis distance matrix over the absolute
// values of rows and returns its column means (the zero diagonal included)
// and their average.
func DataDiversity(rows [][]float64) ([]float64, float64) {
	n := len(rows)
	if n == 0 {
		return nil, 0
	}
	abs := make([][]float64, n)
	for i, row := range rows {
		abs[i] = make([]float64, len(row))
		for j, v := range row {
			abs[i][j] = math.Abs(v)
		}
	}
	per := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := BrayCurtis(abs[i], abs[j])
			per[i] += d
			per[j] += d
		}
	}
	floats.Scale(1/float64(n), per)
	return per, floats.Sum(per) / float64(n)
}

// FeatRMSE averages six descriptive statistics over the rows of each
// dataset and returns the root mean square of their differences.
func FeatRMSE(a, b [][]float64) float64 {
	fa := meanFeatures(a)
	fb := meanFeatures(b)
	var sum float64
	for i := range fa {
		d := fa[i] - fb[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(fa)))
}

// Describe returns min, max, mean, sample variance, skewness and excess
// kurtosis of values. Skewness and kurtosis are the biased estimators and
// are zero for a constant sequence.
func Describe(values []float64) [6]float64 {
	var out [6]float64
	if len(values) == 0 {
		return out
	}
	out[0], _ = stats.Min(values)
	out[1], _ = stats.Max(values)
	out[2], _ = stats.Mean(values)
	if len(values) > 1 {
		out[3], _ = stats.SampleVariance(values)
	}

	var m2, m3, m4 float64
	for _, v := range values {
		d := v - out[2]
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	n := float64(len(values))
	m2, m3, m4 = m2/n, m3/n, m4/n
	if m2 > 0 {
		out[4] = m3 / math.Pow(m2, 1.5)
		out[5] = m4/(m2*m2) - 3
	}
	return out
}

func meanFeatures(rows [][]float64) [6]float64 {
	var acc [6]float64
	if len(rows) == 0 {
		return acc
	}
	for _, row := range rows {
		f := Describe(row)
		for i := range acc {
			acc[i] += f[i]
		}
	}
	for i := range acc {
		acc[i] /= float64(len(rows))
	}
	return acc
}
