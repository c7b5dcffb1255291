// Package gain fills missing cells of a numeric matrix with a generative
// adversarial imputation network: a generator proposes values for missing
// cells and a discriminator, helped by a partial hint of the mask, guesses
// which cells were observed.
package gain

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"igan/internal/nn"
)

const (
	normEpsilon = 1e-6
	logEpsilon  = 1e-8
	noiseLimit  = 0.01
)

type Params struct {
	BatchSize    int     `json:"batch_size"`
	HintRate     float64 `json:"hint_rate"`
	Alpha        float64 `json:"alpha"`
	Iterations   int     `json:"iterations"`
	LearningRate float64 `json:"learning_rate"`
	Seed         int64   `json:"seed"`
}

func DefaultParams() Params {
	return Params{
		BatchSize:    128,
		HintRate:     0.9,
		Alpha:        100,
		Iterations:   10000,
		LearningRate: 0.001,
		Seed:         1,
	}
}

func (p Params) Validate() error {
	switch {
	case p.BatchSize <= 0:
		return fmt.Errorf("batch size must be > 0")
	case p.HintRate < 0 || p.HintRate > 1:
		return fmt.Errorf("hint rate must be within [0,1]")
	case p.Alpha < 0:
		return fmt.Errorf("alpha must be >= 0")
	case p.Iterations < 0:
		return fmt.Errorf("iterations must be >= 0")
	case p.LearningRate <= 0:
		return fmt.Errorf("learning rate must be > 0")
	}
	return nil
}

// Imputer is a trained generator together with the column ranges of the
// data it was trained on.
type Imputer struct {
	dim       int
	generator *nn.MLP
	mins      []float64
	maxs      []float64
	rnd       *rand.Rand
	// DLoss and GLoss are the losses of the last training iteration.
	DLoss float64
	GLoss float64
}

// Fit trains generator and discriminator on data, whose NaN cells are the
// missing ones. Rows are examples and columns are features.
func Fit(ctx context.Context, data [][]float64, params Params, logger *zap.Logger) (*Imputer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data[0]) == 0 {
		return nil, fmt.Errorf("gain: empty training data")
	}
	rows, dim := len(data), len(data[0])
	for i, row := range data {
		if len(row) != dim {
			return nil, fmt.Errorf("gain: row %d has %d columns, want %d", i, len(row), dim)
		}
	}

	rnd := rand.New(rand.NewSource(params.Seed))
	gen, err := newNetwork("generator", dim, rnd)
	if err != nil {
		return nil, err
	}
	disc, err := newNetwork("discriminator", dim, rnd)
	if err != nil {
		return nil, err
	}
	imp := &Imputer{dim: dim, generator: gen, rnd: rnd}
	imp.mins, imp.maxs = columnRange(data)
	norm, mask := imp.normalize(data)

	genOpt := nn.NewAdam(params.LearningRate)
	discOpt := nn.NewAdam(params.LearningRate)
	batch := min(params.BatchSize, rows)

	for it := 0; it < params.Iterations; it++ {
		if it%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		idx := rnd.Perm(rows)[:batch]
		x := make([][]float64, batch)
		m := make([][]float64, batch)
		h := make([][]float64, batch)
		for b, r := range idx {
			x[b] = make([]float64, dim)
			h[b] = make([]float64, dim)
			m[b] = mask[r]
			for j := 0; j < dim; j++ {
				x[b][j] = m[b][j]*norm[r][j] + (1-m[b][j])*rnd.Float64()*noiseLimit
				if rnd.Float64() < params.HintRate {
					h[b][j] = m[b][j]
				}
			}
		}

		imp.DLoss = discriminatorStep(gen, disc, discOpt, x, m, h)
		imp.GLoss = generatorStep(gen, disc, genOpt, x, m, h, params.Alpha)
		if (it+1)%1000 == 0 {
			logger.Debug("gain iteration",
				zap.Int("iteration", it+1),
				zap.Float64("d_loss", imp.DLoss),
				zap.Float64("g_loss", imp.GLoss),
			)
		}
	}
	return imp, nil
}

// Complete returns data with every NaN cell replaced by the generator's
// estimate. Observed cells are returned unchanged.
func (imp *Imputer) Complete(data [][]float64) ([][]float64, error) {
	for i, row := range data {
		if len(row) != imp.dim {
			return nil, fmt.Errorf("gain: row %d has %d columns, want %d", i, len(row), imp.dim)
		}
	}
	norm, mask := imp.normalize(data)
	x := make([][]float64, len(data))
	for i := range data {
		x[i] = make([]float64, imp.dim)
		for j := 0; j < imp.dim; j++ {
			x[i][j] = mask[i][j]*norm[i][j] + (1-mask[i][j])*imp.rnd.Float64()*noiseLimit
		}
	}
	guess := imp.generator.Forward(concat(x, mask))

	out := make([][]float64, len(data))
	for i, row := range data {
		out[i] = make([]float64, imp.dim)
		for j, v := range row {
			if mask[i][j] == 1 {
				out[i][j] = v
				continue
			}
			out[i][j] = guess[i][j]*(imp.maxs[j]-imp.mins[j]+normEpsilon) + imp.mins[j]
		}
	}
	return out, nil
}

func newNetwork(name string, dim int, rnd *rand.Rand) (*nn.MLP, error) {
	return nn.NewMLP(name, []int{2 * dim, dim, dim, dim}, []string{"relu", "relu", "sigmoid"}, rnd)
}

// columnRange returns per-column min and max over non-NaN cells. A column
// with no observed cell gets the range [0, 0].
func columnRange(data [][]float64) ([]float64, []float64) {
	dim := len(data[0])
	mins := make([]float64, dim)
	maxs := make([]float64, dim)
	for j := 0; j < dim; j++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range data {
			if v := row[j]; !math.IsNaN(v) {
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
		}
		if math.IsInf(lo, 1) {
			lo, hi = 0, 0
		}
		mins[j], maxs[j] = lo, hi
	}
	return mins, maxs
}

// normalize scales data into [0,1] per column and returns it with NaN cells
// zeroed, along with the observation mask.
func (imp *Imputer) normalize(data [][]float64) ([][]float64, [][]float64) {
	norm := make([][]float64, len(data))
	mask := make([][]float64, len(data))
	for i, row := range data {
		norm[i] = make([]float64, imp.dim)
		mask[i] = make([]float64, imp.dim)
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			mask[i][j] = 1
			norm[i][j] = (v - imp.mins[j]) / (imp.maxs[j] - imp.mins[j] + normEpsilon)
		}
	}
	return norm, mask
}

func concat(a, b [][]float64) [][]float64 {
	out := make([][]float64, len(a))
	for i := range a {
		row := make([]float64, 0, len(a[i])+len(b[i]))
		row = append(row, a[i]...)
		out[i] = append(row, b[i]...)
	}
	return out
}

// blend returns m*x + (1-m)*g.
func blend(x, g, m [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = make([]float64, len(x[i]))
		for j := range x[i] {
			out[i][j] = m[i][j]*x[i][j] + (1-m[i][j])*g[i][j]
		}
	}
	return out
}

func discriminatorStep(gen, disc *nn.MLP, opt *nn.Adam, x, m, h [][]float64) float64 {
	sample := gen.Forward(concat(x, m))
	prob := disc.Forward(concat(blend(x, sample, m), h))

	count := float64(len(prob) * len(prob[0]))
	grad := make([][]float64, len(prob))
	var loss float64
	for i := range prob {
		grad[i] = make([]float64, len(prob[i]))
		for j, p := range prob[i] {
			mij := m[i][j]
			loss -= mij*math.Log(p+logEpsilon) + (1-mij)*math.Log(1-p+logEpsilon)
			grad[i][j] = -(mij/(p+logEpsilon) - (1-mij)/(1-p+logEpsilon)) / count
		}
	}
	disc.Backward(grad)
	opt.Step(disc.Params())
	return loss / count
}

func generatorStep(gen, disc *nn.MLP, opt *nn.Adam, x, m, h [][]float64, alpha float64) float64 {
	sample := gen.Forward(concat(x, m))
	prob := disc.Forward(concat(blend(x, sample, m), h))

	dim := len(x[0])
	count := float64(len(prob) * dim)
	var observed float64
	for i := range m {
		for _, v := range m[i] {
			observed += v
		}
	}
	observedFrac := observed / count

	var adversarial, mse float64
	gradProb := make([][]float64, len(prob))
	for i := range prob {
		gradProb[i] = make([]float64, dim)
		for j, p := range prob[i] {
			miss := 1 - m[i][j]
			adversarial -= miss * math.Log(p+logEpsilon)
			gradProb[i][j] = -miss / (p + logEpsilon) / count
			d := m[i][j] * (x[i][j] - sample[i][j])
			mse += d * d
		}
	}
	gradInput := disc.Backward(gradProb)
	nn.ZeroGrads(disc.Params())

	gradSample := make([][]float64, len(sample))
	for i := range sample {
		gradSample[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			gradSample[i][j] = gradInput[i][j] * (1 - m[i][j])
			if observedFrac > 0 {
				gradSample[i][j] += alpha * 2 * m[i][j] * (sample[i][j] - x[i][j]) / count / observedFrac
			}
		}
	}
	gen.Backward(gradSample)
	opt.Step(gen.Params())

	loss := adversarial / count
	if observedFrac > 0 {
		loss += alpha * (mse / count) / observedFrac
	}
	return loss
}
