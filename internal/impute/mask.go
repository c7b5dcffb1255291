package impute

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var ErrInvalidMissRate = errors.New("invalid miss-rate range")

const defaultMaxAttempts = 10000

// MaskPolicy marks cells of a training corpus as missing by writing NaN.
type MaskPolicy interface {
	// Validate reports whether the policy can mask sequences of seqLen.
	Validate(seqLen int) error
	Apply(rows [][]float64, rnd *rand.Rand) error
}

// GapPolicy masks one contiguous span per row. The span length g is drawn
// by rejection until MissRate/2*L < g < MissRate*L.
type GapPolicy struct {
	MissRate    float64
	MaxAttempts int
}

// GapBounds returns the smallest and largest admissible span length.
func (p GapPolicy) GapBounds(seqLen int) (int, int, error) {
	if p.MissRate <= 0 || p.MissRate > 1 || math.IsNaN(p.MissRate) {
		return 0, 0, fmt.Errorf("%w: miss rate %v", ErrInvalidMissRate, p.MissRate)
	}
	lo := p.MissRate / 2 * float64(seqLen)
	hi := p.MissRate * float64(seqLen)
	gMin := max(int(math.Floor(lo))+1, 1)
	gMax := min(int(math.Ceil(hi))-1, seqLen-1)
	if gMin > gMax {
		return 0, 0, fmt.Errorf("%w: no gap length strictly between %.2f and %.2f for length %d", ErrInvalidMissRate, lo, hi, seqLen)
	}
	return gMin, gMax, nil
}

func (p GapPolicy) Validate(seqLen int) error {
	_, _, err := p.GapBounds(seqLen)
	return err
}

func (p GapPolicy) Apply(rows [][]float64, rnd *rand.Rand) error {
	if len(rows) == 0 {
		return nil
	}
	seqLen := len(rows[0])
	gMin, gMax, err := p.GapBounds(seqLen)
	if err != nil {
		return err
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	for i, row := range rows {
		start, end, ok := -1, -1, false
		for try := 0; try < attempts && !ok; try++ {
			a, b := distinctPair(rnd, seqLen)
			if g := b - a; g >= gMin && g <= gMax {
				start, end, ok = a, b, true
			}
		}
		if !ok {
			return fmt.Errorf("%w: row %d found no gap within %d attempts", ErrInvalidMissRate, i, attempts)
		}
		for j := start; j < end; j++ {
			row[j] = math.NaN()
		}
	}
	return nil
}

// distinctPair draws two different indices in [0,n) and returns them sorted.
func distinctPair(rnd *rand.Rand, n int) (int, int) {
	a := rnd.Intn(n)
	b := rnd.Intn(n - 1)
	if b >= a {
		b++
	}
	if a > b {
		a, b = b, a
	}
	return a, b
}

// BernoulliPolicy masks every cell independently with probability MissRate.
type BernoulliPolicy struct {
	MissRate float64
}

func (p BernoulliPolicy) Validate(int) error {
	if p.MissRate < 0 || p.MissRate > 1 || math.IsNaN(p.MissRate) {
		return fmt.Errorf("%w: miss rate %v", ErrInvalidMissRate, p.MissRate)
	}
	return nil
}

func (p BernoulliPolicy) Apply(rows [][]float64, rnd *rand.Rand) error {
	if err := p.Validate(0); err != nil {
		return err
	}
	for _, row := range rows {
		for j := range row {
			if rnd.Float64() < p.MissRate {
				row[j] = math.NaN()
			}
		}
	}
	return nil
}

// PolicyByName maps a configuration name to a policy. Empty selects "gap".
func PolicyByName(name string, missRate float64) (MaskPolicy, error) {
	switch name {
	case "", "gap":
		return GapPolicy{MissRate: missRate}, nil
	case "bernoulli":
		return BernoulliPolicy{MissRate: missRate}, nil
	default:
		return nil, fmt.Errorf("unknown mask policy: %s", name)
	}
}
