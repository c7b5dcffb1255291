package seqmodel

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"igan/internal/dataset"
	"igan/internal/nn"
)

var ErrNoWindows = errors.New("sequences are too short for one training window")

const (
	minLogSigma = -7.0
	maxLogSigma = 7.0
)

var logSqrt2Pi = 0.5 * math.Log(2*math.Pi)

// MDNRNN stacks Elman layers under a mixture density head that emits, per
// step, K mixture logits, K means and K log standard deviations for the next
// sample.
type MDNRNN struct {
	cfg    Config
	layers []*nn.Recurrent
	head   *nn.Dense
	opt    *nn.Adam
	rnd    *rand.Rand
	state  [][][]float64
}

func NewMDNRNN(cfg Config) (*MDNRNN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rnd := rand.New(rand.NewSource(cfg.Seed))
	m := &MDNRNN{cfg: cfg, rnd: rnd, opt: nn.NewAdam(cfg.LearningRate)}
	in := 1
	for i := 0; i < cfg.NumLayers; i++ {
		layer, err := nn.NewRecurrent(fmt.Sprintf("rnn.%d", i), in, cfg.HiddenSize, "tanh", rnd)
		if err != nil {
			return nil, err
		}
		m.layers = append(m.layers, layer)
		in = cfg.HiddenSize
	}
	head, err := nn.NewDense("mdn", cfg.HiddenSize, 3*cfg.NumMixtures, "identity")
	if err != nil {
		return nil, err
	}
	head.Weights.InitXavierFanIn(rnd)
	m.head = head
	return m, nil
}

func (m *MDNRNN) Config() Config { return m.cfg }

func (m *MDNRNN) Params() []*nn.Param {
	params := make([]*nn.Param, 0, 3*len(m.layers)+2)
	for _, layer := range m.layers {
		params = append(params, layer.Params()...)
	}
	return append(params, m.head.Params()...)
}

func (m *MDNRNN) resetState(batch int) {
	m.state = make([][][]float64, len(m.layers))
	for i, layer := range m.layers {
		m.state[i] = layer.ZeroState(batch)
	}
}

// TrainEpoch carries hidden state across the windows of one epoch and
// truncates backpropagation at window boundaries.
func (m *MDNRNN) TrainEpoch(loader *dataset.Loader) (float64, error) {
	loader.Reset()
	m.resetState(loader.BatchSize())
	var sum float64
	windows := 0
	for loader.HasNext() {
		sum += m.trainWindow(loader.NextBatch())
		windows++
	}
	if windows == 0 {
		return 0, ErrNoWindows
	}
	return sum / float64(windows), nil
}

func (m *MDNRNN) trainWindow(batch dataset.Batch) float64 {
	rows := len(batch.Inputs)
	steps := len(batch.Inputs[0])

	xs := make([][][]float64, steps)
	for t := 0; t < steps; t++ {
		xs[t] = make([][]float64, rows)
		for b := 0; b < rows; b++ {
			xs[t][b] = []float64{batch.Inputs[b][t]}
		}
	}
	hs := xs
	for i, layer := range m.layers {
		hs = layer.Forward(hs, m.state[i])
		m.state[i] = hs[steps-1]
	}

	flat := make([][]float64, 0, steps*rows)
	for t := 0; t < steps; t++ {
		flat = append(flat, hs[t]...)
	}
	out := m.head.Forward(flat)

	scale := 1 / float64(len(out))
	grads := make([][]float64, len(out))
	var loss float64
	for n, params := range out {
		t, b := n/rows, n%rows
		nll, grad := mixtureNLL(params, batch.Targets[b][t], m.cfg.NumMixtures)
		loss += nll
		floats.Scale(scale, grad)
		grads[n] = grad
	}

	gradFlat := m.head.Backward(grads)
	gradSteps := make([][][]float64, steps)
	for t := 0; t < steps; t++ {
		gradSteps[t] = gradFlat[t*rows : (t+1)*rows]
	}
	for i := len(m.layers) - 1; i >= 0; i-- {
		gradSteps = m.layers[i].Backward(gradSteps)
	}

	params := m.Params()
	nn.ClipGradients(params, m.cfg.GradClip)
	m.opt.Step(params)
	return loss * scale
}

// Predict samples one sequence starting from a zero input and zero state.
func (m *MDNRNN) Predict(length int) ([]float64, error) {
	if length <= 0 {
		return nil, fmt.Errorf("predict length must be > 0")
	}
	m.resetState(1)
	out := make([]float64, length)
	x := 0.0
	for i := 0; i < length; i++ {
		hs := [][][]float64{{{x}}}
		for l, layer := range m.layers {
			hs = layer.Forward(hs, m.state[l])
			m.state[l] = hs[0]
		}
		params := m.head.Forward(hs[0])[0]
		x = sampleMixture(params, m.cfg.NumMixtures, m.rnd)
		out[i] = x
	}
	return out, nil
}

type mixture struct {
	logPi    []float64
	mu       []float64
	logSigma []float64
	clamped  []bool
}

func splitMixture(params []float64, k int) mixture {
	mix := mixture{
		logPi:    make([]float64, k),
		mu:       params[k : 2*k],
		logSigma: make([]float64, k),
		clamped:  make([]bool, k),
	}
	lse := floats.LogSumExp(params[:k])
	for i := 0; i < k; i++ {
		mix.logPi[i] = params[i] - lse
		s := params[2*k+i]
		if s < minLogSigma {
			s, mix.clamped[i] = minLogSigma, true
		} else if s > maxLogSigma {
			s, mix.clamped[i] = maxLogSigma, true
		}
		mix.logSigma[i] = s
	}
	return mix
}

// mixtureNLL returns -log p(y) under the mixture and its gradient with
// respect to the raw head outputs.
func mixtureNLL(params []float64, y float64, k int) (float64, []float64) {
	mix := splitMixture(params, k)
	logp := make([]float64, k)
	z := make([]float64, k)
	for i := 0; i < k; i++ {
		z[i] = (y - mix.mu[i]) / math.Exp(mix.logSigma[i])
		logp[i] = mix.logPi[i] - logSqrt2Pi - mix.logSigma[i] - 0.5*z[i]*z[i]
	}
	total := floats.LogSumExp(logp)

	grad := make([]float64, 3*k)
	for i := 0; i < k; i++ {
		gamma := math.Exp(logp[i] - total)
		sigma := math.Exp(mix.logSigma[i])
		grad[i] = math.Exp(mix.logPi[i]) - gamma
		grad[k+i] = -gamma * z[i] / sigma
		if !mix.clamped[i] {
			grad[2*k+i] = -gamma * (z[i]*z[i] - 1)
		}
	}
	return -total, grad
}

func sampleMixture(params []float64, k int, rnd *rand.Rand) float64 {
	mix := splitMixture(params, k)
	u := rnd.Float64()
	pick := k - 1
	var acc float64
	for i := 0; i < k; i++ {
		acc += math.Exp(mix.logPi[i])
		if u < acc {
			pick = i
			break
		}
	}
	return mix.mu[pick] + math.Exp(mix.logSigma[pick])*rnd.NormFloat64()
}
