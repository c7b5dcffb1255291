package nn

import (
	"fmt"
	"math/rand"
)

// Recurrent is an Elman layer h_t = act(Wx x_t + Wh h_{t-1} + b) run over a
// window of timesteps for a whole minibatch. Backward truncates at the start
// of the window.
type Recurrent struct {
	In         int
	Hidden     int
	Input      *Param
	Recur      *Param
	Bias       *Param
	activation Activation

	inputs  [][][]float64
	states  [][][]float64
	initial [][]float64
}

func NewRecurrent(name string, in, hidden int, activation string, rnd *rand.Rand) (*Recurrent, error) {
	act, err := GetActivation(activation)
	if err != nil {
		return nil, fmt.Errorf("recurrent %s: %w", name, err)
	}
	r := &Recurrent{
		In:         in,
		Hidden:     hidden,
		Input:      NewParam(name+".wx", hidden, in),
		Recur:      NewParam(name+".wh", hidden, hidden),
		Bias:       NewParam(name+".b", 1, hidden),
		activation: act,
	}
	r.Input.InitXavierFanIn(rnd)
	r.Recur.InitUniform(rnd, 1/float64(hidden))
	return r, nil
}

func (r *Recurrent) Params() []*Param {
	return []*Param{r.Input, r.Recur, r.Bias}
}

// ZeroState returns an all-zero hidden state for batch sequences.
func (r *Recurrent) ZeroState(batch int) [][]float64 {
	state := make([][]float64, batch)
	for i := range state {
		state[i] = make([]float64, r.Hidden)
	}
	return state
}

// Forward runs inputs[t][b] from state h0[b] and returns every hidden state.
func (r *Recurrent) Forward(inputs [][][]float64, h0 [][]float64) [][][]float64 {
	states := make([][][]float64, len(inputs))
	prev := h0
	for t, xs := range inputs {
		step := make([][]float64, len(xs))
		for b, x := range xs {
			h := make([]float64, r.Hidden)
			hp := prev[b]
			for o := 0; o < r.Hidden; o++ {
				sum := r.Bias.Value[o]
				wx := r.Input.Value[o*r.In : (o+1)*r.In]
				for i, v := range x {
					sum += wx[i] * v
				}
				wh := r.Recur.Value[o*r.Hidden : (o+1)*r.Hidden]
				for i, v := range hp {
					sum += wh[i] * v
				}
				h[o] = r.activation.Func(sum)
			}
			step[b] = h
		}
		states[t] = step
		prev = step
	}
	r.inputs = inputs
	r.states = states
	r.initial = h0
	return states
}

// Backward takes dL/dh_t for every step of the last Forward call,
// accumulates parameter gradients and returns dL/dx_t.
func (r *Recurrent) Backward(gradStates [][][]float64) [][][]float64 {
	steps := len(gradStates)
	gradInputs := make([][][]float64, steps)
	if steps == 0 {
		return gradInputs
	}
	batch := len(gradStates[0])
	carry := r.ZeroState(batch)

	for t := steps - 1; t >= 0; t-- {
		prev := r.initial
		if t > 0 {
			prev = r.states[t-1]
		}
		dxs := make([][]float64, batch)
		nextCarry := r.ZeroState(batch)
		for b := 0; b < batch; b++ {
			x := r.inputs[t][b]
			h := r.states[t][b]
			hp := prev[b]
			dx := make([]float64, r.In)
			dhp := nextCarry[b]
			for o := 0; o < r.Hidden; o++ {
				dz := (gradStates[t][b][o] + carry[b][o]) * r.activation.Derivative(h[o])
				if dz == 0 {
					continue
				}
				r.Bias.Grad[o] += dz
				wx := r.Input.Value[o*r.In : (o+1)*r.In]
				gx := r.Input.Grad[o*r.In : (o+1)*r.In]
				for i := range x {
					gx[i] += dz * x[i]
					dx[i] += dz * wx[i]
				}
				wh := r.Recur.Value[o*r.Hidden : (o+1)*r.Hidden]
				gh := r.Recur.Grad[o*r.Hidden : (o+1)*r.Hidden]
				for i := range hp {
					gh[i] += dz * hp[i]
					dhp[i] += dz * wh[i]
				}
			}
			dxs[b] = dx
		}
		gradInputs[t] = dxs
		carry = nextCarry
	}
	return gradInputs
}
