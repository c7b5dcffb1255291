package nn

import (
	"math"
	"math/rand"
)

// Param is a named, row-major weight tensor with its accumulated gradient.
type Param struct {
	Name  string
	Rows  int
	Cols  int
	Value []float64
	Grad  []float64
}

func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Rows:  rows,
		Cols:  cols,
		Value: make([]float64, rows*cols),
		Grad:  make([]float64, rows*cols),
	}
}

func (p *Param) At(row, col int) float64 {
	return p.Value[row*p.Cols+col]
}

func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// InitXavierFanIn fills an out×in tensor from a normal distribution with
// stddev 1/sqrt(in/2).
func (p *Param) InitXavierFanIn(rnd *rand.Rand) {
	stddev := 1.0 / math.Sqrt(float64(p.Cols)/2.0)
	for i := range p.Value {
		p.Value[i] = rnd.NormFloat64() * stddev
	}
}

// InitUniform fills the tensor with values in [-limit, limit].
func (p *Param) InitUniform(rnd *rand.Rand, limit float64) {
	for i := range p.Value {
		p.Value[i] = (rnd.Float64()*2 - 1) * limit
	}
}

func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// ClipGradients rescales all gradients so their joint L2 norm does not exceed
// maxNorm. It returns the norm before clipping.
func ClipGradients(params []*Param, maxNorm float64) float64 {
	var sum float64
	for _, p := range params {
		for _, g := range p.Grad {
			sum += g * g
		}
	}
	norm := math.Sqrt(sum)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := maxNorm / norm
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] *= scale
		}
	}
	return norm
}
