// Package generate trains one sequence model per class and samples
// synthetic sequences from it.
package generate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"igan/internal/dataset"
	"igan/internal/model"
	"igan/internal/seqmodel"
	"igan/internal/trainlog"
)

var (
	ErrNoCheckpoint         = errors.New("training produced no checkpoint")
	ErrNonContiguousClasses = errors.New("class labels are not contiguous blocks")
)

const checkpointPrefix = "sequence_model.ckpt-"

// Request configures one single-class generation.
type Request struct {
	NumSeq          int
	CheckpointEvery int
	Epochs          int
	BatchSize       int
	CheckpointDir   string
	Model           seqmodel.Config
}

func DefaultRequest() Request {
	return Request{
		NumSeq:          10,
		CheckpointEvery: 100,
		Epochs:          200,
		BatchSize:       128,
		CheckpointDir:   "models",
		Model:           seqmodel.DefaultConfig(),
	}
}

func (r Request) validate() error {
	switch {
	case r.NumSeq <= 0:
		return fmt.Errorf("num seq must be > 0")
	case r.Epochs <= 0:
		return fmt.Errorf("epochs must be > 0")
	case r.CheckpointEvery <= 0:
		return fmt.Errorf("checkpoint interval must be > 0")
	case r.BatchSize <= 0:
		return fmt.Errorf("batch size must be > 0")
	case r.CheckpointDir == "":
		return fmt.Errorf("checkpoint dir is required")
	}
	return nil
}

type Result struct {
	Synthetic   [][]float64        `json:"synthetic"`
	Loss        float64            `json:"loss"`
	LossHistory []float64          `json:"loss_history"`
	Checkpoints []model.Checkpoint `json:"checkpoints"`
}

// Generator owns no model state between calls. Every call builds its model
// instances through Factory and discards them before returning.
type Generator struct {
	Factory seqmodel.Factory
	Log     *trainlog.Sink
	Logger  *zap.Logger
}

func New(log *trainlog.Sink, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{Factory: seqmodel.NewMDN, Log: log, Logger: logger}
}

func (g *Generator) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func (g *Generator) factory() seqmodel.Factory {
	if g.Factory == nil {
		return seqmodel.NewMDN
	}
	return g.Factory
}

// Single trains on rows (one class) and samples req.NumSeq sequences of the
// same length. The training log is cleared first.
func (g *Generator) Single(ctx context.Context, rows [][]float64, req Request) (Result, error) {
	if err := g.Log.Clear(); err != nil {
		return Result{}, err
	}
	return g.single(ctx, rows, req)
}

func (g *Generator) single(ctx context.Context, rows [][]float64, req Request) (result Result, err error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	if err := dataset.CheckRectangular(rows); err != nil {
		return Result{}, err
	}
	seqLen := len(rows[0])
	if seqLen < 2 {
		return Result{}, fmt.Errorf("sequences need at least 2 samples, got %d", seqLen)
	}

	if err := resetDir(req.CheckpointDir); err != nil {
		return Result{}, err
	}
	defer func() {
		if cleanupErr := resetDir(req.CheckpointDir); cleanupErr != nil && err == nil {
			err = cleanupErr
		}
	}()

	trainCfg := req.Model
	trainCfg.BatchSize = req.BatchSize
	if trainCfg.NumSteps > seqLen-1 {
		trainCfg.NumSteps = seqLen - 1
	}
	inferCfg := trainCfg.Inference()
	log := g.logger().With(zap.String("checkpoint_dir", req.CheckpointDir))

	trainer, err := g.factory()(trainCfg)
	if err != nil {
		return Result{}, fmt.Errorf("build training model: %w", err)
	}
	loader := dataset.NewLoader(rows, trainCfg.BatchSize, trainCfg.NumSteps)

	if err := g.Log.Append("Training..."); err != nil {
		return Result{}, err
	}
	result.LossHistory = make([]float64, 0, req.Epochs)
	for epoch := 0; epoch < req.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		loss, err := trainer.TrainEpoch(loader)
		if err != nil {
			return Result{}, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		result.Loss = loss
		result.LossHistory = append(result.LossHistory, loss)
		if err := g.Log.Appendf("Epoch: %d Loss: %v", epoch, loss); err != nil {
			return Result{}, err
		}
		log.Debug("epoch complete", zap.Int("epoch", epoch), zap.Float64("loss", loss))

		if (epoch+1)%req.CheckpointEvery == 0 {
			ckpt := model.Checkpoint{
				Path:  filepath.Join(req.CheckpointDir, fmt.Sprintf("%s%d", checkpointPrefix, epoch)),
				Epoch: epoch,
			}
			if err := trainer.Save(ckpt.Path); err != nil {
				return Result{}, fmt.Errorf("save checkpoint: %w", err)
			}
			result.Checkpoints = append(result.Checkpoints, ckpt)
		}
	}
	if err := g.Log.Append("Done training."); err != nil {
		return Result{}, err
	}
	if len(result.Checkpoints) == 0 {
		return Result{}, fmt.Errorf("%w: epochs=%d interval=%d", ErrNoCheckpoint, req.Epochs, req.CheckpointEvery)
	}

	latest := result.Checkpoints[len(result.Checkpoints)-1]
	sampler, err := g.factory()(inferCfg)
	if err != nil {
		return Result{}, fmt.Errorf("build inference model: %w", err)
	}
	if err := sampler.Load(latest.Path); err != nil {
		return Result{}, fmt.Errorf("reload checkpoint: %w", err)
	}
	log.Info("checkpoint reloaded", zap.String("path", latest.Path), zap.Int("epoch", latest.Epoch))

	if err := g.Log.Append("Generating synthetic data..."); err != nil {
		return Result{}, err
	}
	result.Synthetic = make([][]float64, 0, req.NumSeq)
	for i := 0; i < req.NumSeq; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		seq, err := sampler.Predict(seqLen)
		if err != nil {
			return Result{}, fmt.Errorf("sample sequence %d: %w", i, err)
		}
		result.Synthetic = append(result.Synthetic, seq)
	}
	if err := g.Log.Append("Data generated"); err != nil {
		return Result{}, err
	}
	return result, nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear checkpoint dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	return nil
}
