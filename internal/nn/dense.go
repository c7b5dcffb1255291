package nn

import (
	"fmt"
	"math/rand"
)

// Dense is a fully connected layer operating on a minibatch. Forward caches
// its input and output so a following Backward can accumulate gradients.
type Dense struct {
	In         int
	Out        int
	Weights    *Param
	Bias       *Param
	activation Activation

	input  [][]float64
	output [][]float64
}

func NewDense(name string, in, out int, activation string) (*Dense, error) {
	act, err := GetActivation(activation)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	return &Dense{
		In:         in,
		Out:        out,
		Weights:    NewParam(name+".w", out, in),
		Bias:       NewParam(name+".b", 1, out),
		activation: act,
	}, nil
}

func (d *Dense) Params() []*Param {
	return []*Param{d.Weights, d.Bias}
}

func (d *Dense) Forward(batch [][]float64) [][]float64 {
	out := make([][]float64, len(batch))
	for b, x := range batch {
		row := make([]float64, d.Out)
		for o := 0; o < d.Out; o++ {
			sum := d.Bias.Value[o]
			w := d.Weights.Value[o*d.In : (o+1)*d.In]
			for i, v := range x {
				sum += w[i] * v
			}
			row[o] = d.activation.Func(sum)
		}
		out[b] = row
	}
	d.input = batch
	d.output = out
	return out
}

// Backward takes the loss gradient with respect to the layer output of the
// last Forward call and returns the gradient with respect to its input.
func (d *Dense) Backward(gradOut [][]float64) [][]float64 {
	gradIn := make([][]float64, len(gradOut))
	for b, g := range gradOut {
		x := d.input[b]
		y := d.output[b]
		dx := make([]float64, d.In)
		for o := 0; o < d.Out; o++ {
			dz := g[o] * d.activation.Derivative(y[o])
			if dz == 0 {
				continue
			}
			d.Bias.Grad[o] += dz
			w := d.Weights.Value[o*d.In : (o+1)*d.In]
			wg := d.Weights.Grad[o*d.In : (o+1)*d.In]
			for i := range x {
				wg[i] += dz * x[i]
				dx[i] += dz * w[i]
			}
		}
		gradIn[b] = dx
	}
	return gradIn
}

// MLP chains dense layers.
type MLP struct {
	Layers []*Dense
}

// NewMLP builds len(sizes)-1 layers; activations must name one activation per
// layer.
func NewMLP(name string, sizes []int, activations []string, rnd *rand.Rand) (*MLP, error) {
	if len(sizes) < 2 {
		return nil, fmt.Errorf("mlp %s: at least two layer sizes are required", name)
	}
	if len(activations) != len(sizes)-1 {
		return nil, fmt.Errorf("mlp %s: expected %d activations, got %d", name, len(sizes)-1, len(activations))
	}
	mlp := &MLP{Layers: make([]*Dense, 0, len(sizes)-1)}
	for i := 0; i < len(sizes)-1; i++ {
		layer, err := NewDense(fmt.Sprintf("%s.%d", name, i), sizes[i], sizes[i+1], activations[i])
		if err != nil {
			return nil, err
		}
		layer.Weights.InitXavierFanIn(rnd)
		mlp.Layers = append(mlp.Layers, layer)
	}
	return mlp, nil
}

func (m *MLP) Forward(batch [][]float64) [][]float64 {
	out := batch
	for _, layer := range m.Layers {
		out = layer.Forward(out)
	}
	return out
}

func (m *MLP) Backward(gradOut [][]float64) [][]float64 {
	grad := gradOut
	for i := len(m.Layers) - 1; i >= 0; i-- {
		grad = m.Layers[i].Backward(grad)
	}
	return grad
}

func (m *MLP) Params() []*Param {
	params := make([]*Param, 0, 2*len(m.Layers))
	for _, layer := range m.Layers {
		params = append(params, layer.Params()...)
	}
	return params
}
