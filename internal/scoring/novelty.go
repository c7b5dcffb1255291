package scoring

import (
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultNoveltyOrder  = 40
	DefaultNoveltyNumber = 4
)

// Novelty holds the dominant spectral peak frequencies (cycles per sample)
// of each sequence.
type Novelty struct {
	PerSequence [][]float64 `json:"per_sequence"`
	Pool        []float64   `json:"pool"`
	Means       []float64   `json:"means"`
	Global      float64     `json:"global"`
}

// DataNovelty finds, per row, the local maxima of the magnitude spectrum
// that beat every neighbour within order samples, keeps the number
// strongest positive-frequency peaks and drops the strongest of those.
// Rows without peaks get an empty list and a zero mean, and do not count
// toward Global.
func DataNovelty(rows [][]float64, order, number int) Novelty {
	out := Novelty{
		PerSequence: make([][]float64, len(rows)),
		Pool:        []float64{},
		Means:       make([]float64, len(rows)),
	}
	var total float64
	counted := 0
	for i, row := range rows {
		peaks := spectralPeaks(row, order, number)
		out.PerSequence[i] = peaks
		out.Pool = append(out.Pool, peaks...)
		if len(peaks) == 0 {
			continue
		}
		out.Means[i] = floats.Sum(peaks) / float64(len(peaks))
		total += out.Means[i]
		counted++
	}
	if counted > 0 {
		out.Global = total / float64(counted)
	}
	return out
}

func spectralPeaks(row []float64, order, number int) []float64 {
	n := len(row)
	peaks := []float64{}
	if n < 3 || number < 2 {
		return peaks
	}
	mag := magnitudeSpectrum(row)
	peak := floats.Max(mag)
	if peak == 0 {
		return peaks
	}

	type candidate struct {
		freq float64
		mag  float64
	}
	var found []candidate
	for _, idx := range relativeMaxima(mag, order) {
		if idx < 1 || idx > (n-1)/2 {
			continue
		}
		found = append(found, candidate{freq: float64(idx) / float64(n), mag: mag[idx] / peak})
	}
	sort.SliceStable(found, func(a, b int) bool { return found[a].mag > found[b].mag })
	if len(found) > number {
		found = found[:number]
	}
	for i := 1; i < len(found); i++ {
		peaks = append(peaks, found[i].freq)
	}
	return peaks
}

// magnitudeSpectrum returns |X_k| for k in [0, n), mirroring the real
// transform's half spectrum.
func magnitudeSpectrum(row []float64) []float64 {
	n := len(row)
	coeffs := fourier.NewFFT(n).Coefficients(nil, row)
	mag := make([]float64, n)
	for k, c := range coeffs {
		mag[k] = cmplx.Abs(c)
	}
	for k := len(coeffs); k < n; k++ {
		mag[k] = mag[n-k]
	}
	return mag
}

// relativeMaxima returns indices strictly greater than every value within
// order positions on each side. Out-of-range neighbours clip to the ends, so
// the first and last samples never qualify.
func relativeMaxima(values []float64, order int) []int {
	if order < 1 {
		order = 1
	}
	n := len(values)
	var out []int
	for i := 0; i < n; i++ {
		ok := true
		for shift := 1; shift <= order && ok; shift++ {
			lo, hi := i-shift, i+shift
			if lo < 0 {
				lo = 0
			}
			if hi > n-1 {
				hi = n - 1
			}
			ok = values[i] > values[lo] && values[i] > values[hi]
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}
