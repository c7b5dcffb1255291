// Package impute fills user-marked gaps of one sequence with a GAIN network
// trained on randomly masked copies of a reference corpus.
package impute

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"igan/internal/dataset"
	"igan/internal/gain"
	"igan/internal/trainlog"
)

// ScaleFactor is applied to corpus and target on the way into the network
// and removed from its output.
const ScaleFactor = 10.0

type Request struct {
	MissRate float64
	// Policy defaults to GapPolicy{MissRate}.
	Policy MaskPolicy
	Params gain.Params
}

func DefaultRequest() Request {
	return Request{MissRate: 0.2, Params: gain.DefaultParams()}
}

func (r Request) policy() MaskPolicy {
	if r.Policy != nil {
		return r.Policy
	}
	return GapPolicy{MissRate: r.MissRate}
}

// Result holds one reconstruction of the target per corpus sequence
// (positions × sequences). Vector is the first of them.
type Result struct {
	Reconstructions [][]float64 `json:"reconstructions"`
	Vector          []float64   `json:"vector"`
	Trained         bool        `json:"trained"`
	// Losses of the last training iteration, zero when nothing was trained.
	GeneratorLoss     float64 `json:"generator_loss"`
	DiscriminatorLoss float64 `json:"discriminator_loss"`
}

type Imputer struct {
	Log    *trainlog.Sink
	Logger *zap.Logger
}

func New(log *trainlog.Sink, logger *zap.Logger) *Imputer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Imputer{Log: log, Logger: logger}
}

// Impute completes the NaN positions of target. corpus is never modified.
// A target without NaN is returned as is and no network is trained.
func (im *Imputer) Impute(ctx context.Context, corpus [][]float64, target []float64, req Request) (Result, error) {
	if err := dataset.CheckRectangular(corpus); err != nil {
		return Result{}, err
	}
	seqLen := len(corpus[0])
	if len(target) != seqLen {
		return Result{}, fmt.Errorf("target has %d samples, corpus sequences have %d", len(target), seqLen)
	}
	logger := im.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tiled := make([][]float64, seqLen)
	missing := 0
	for p, v := range target {
		if math.IsNaN(v) {
			missing++
		}
		tiled[p] = make([]float64, len(corpus))
		for j := range tiled[p] {
			tiled[p][j] = v * ScaleFactor
		}
	}

	if err := im.Log.Clear(); err != nil {
		return Result{}, err
	}
	if missing == 0 {
		logger.Info("target has no missing positions, skipping training")
		if err := im.Log.Append("Training and Imputation Complete."); err != nil {
			return Result{}, err
		}
		return passThrough(target, len(corpus)), nil
	}
	policy := req.policy()
	if err := policy.Validate(seqLen); err != nil {
		return Result{}, err
	}

	work := dataset.CloneRows(corpus)
	rnd := rand.New(rand.NewSource(req.Params.Seed))
	if err := policy.Apply(work, rnd); err != nil {
		return Result{}, err
	}
	train := dataset.Transpose(work)
	for _, row := range train {
		for j := range row {
			row[j] *= ScaleFactor
		}
	}

	if err := im.Log.Append("Training imputation NN..."); err != nil {
		return Result{}, err
	}
	logger.Info("training imputation network",
		zap.Int("positions", seqLen),
		zap.Int("sequences", len(corpus)),
		zap.Int("missing", missing),
		zap.Int("iterations", req.Params.Iterations),
	)
	network, err := gain.Fit(ctx, train, req.Params, logger)
	if err != nil {
		return Result{}, fmt.Errorf("train imputation network: %w", err)
	}
	completed, err := network.Complete(tiled)
	if err != nil {
		return Result{}, fmt.Errorf("complete target: %w", err)
	}
	if err := im.Log.Append("Training and Imputation Complete."); err != nil {
		return Result{}, err
	}
	res := newResult(completed)
	res.GeneratorLoss = network.GLoss
	res.DiscriminatorLoss = network.DLoss
	return res, nil
}

func newResult(scaled [][]float64) Result {
	res := Result{
		Reconstructions: make([][]float64, len(scaled)),
		Vector:          make([]float64, len(scaled)),
		Trained:         true,
	}
	for p, row := range scaled {
		res.Reconstructions[p] = make([]float64, len(row))
		for j, v := range row {
			res.Reconstructions[p][j] = v / ScaleFactor
		}
		res.Vector[p] = res.Reconstructions[p][0]
	}
	return res
}

func passThrough(target []float64, copies int) Result {
	res := Result{
		Reconstructions: make([][]float64, len(target)),
		Vector:          append([]float64(nil), target...),
	}
	for p, v := range target {
		row := make([]float64, copies)
		for j := range row {
			row[j] = v
		}
		res.Reconstructions[p] = row
	}
	return res
}

// PrepareTarget copies sequence, marks [start,end) as missing after
// clamping both ends into [0, len(sequence)], and then writes the reference
// values refY at positions refX. References outside the sequence are
// dropped.
func PrepareTarget(sequence []float64, start, end int, refX []int, refY []float64) []float64 {
	out := append([]float64(nil), sequence...)
	n := len(out)
	start = min(max(start, 0), n)
	end = min(max(end, 0), n)
	for i := start; i < end; i++ {
		out[i] = math.NaN()
	}
	for k := 0; k < len(refX) && k < len(refY); k++ {
		if x := refX[k]; x >= 0 && x < n {
			out[x] = refY[k]
		}
	}
	return out
}
