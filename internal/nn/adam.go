package nn

import "math"

const (
	defaultBeta1   = 0.9
	defaultBeta2   = 0.999
	defaultEpsilon = 1e-8
)

type moments struct {
	m []float64
	v []float64
}

// Adam keeps first and second moment estimates per parameter tensor.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step    int
	moments map[*Param]*moments
}

func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        defaultBeta1,
		Beta2:        defaultBeta2,
		Epsilon:      defaultEpsilon,
		moments:      make(map[*Param]*moments),
	}
}

// Step applies one bias-corrected update to every parameter and clears the
// gradients.
func (a *Adam) Step(params []*Param) {
	a.step++
	correction1 := 1 - math.Pow(a.Beta1, float64(a.step))
	correction2 := 1 - math.Pow(a.Beta2, float64(a.step))
	for _, p := range params {
		st, ok := a.moments[p]
		if !ok {
			st = &moments{m: make([]float64, len(p.Value)), v: make([]float64, len(p.Value))}
			a.moments[p] = st
		}
		for i, g := range p.Grad {
			st.m[i] = a.Beta1*st.m[i] + (1-a.Beta1)*g
			st.v[i] = a.Beta2*st.v[i] + (1-a.Beta2)*g*g
			mHat := st.m[i] / correction1
			vHat := st.v[i] / correction2
			p.Value[i] -= a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
			p.Grad[i] = 0
		}
	}
}

func (a *Adam) Steps() int {
	return a.step
}
