package seqmodel

import (
	"fmt"

	"igan/internal/dataset"
)

// Config holds the sequence model hyperparameters. Training and inference
// instances are built from the same base so their topologies match.
type Config struct {
	LearningRate float64 `json:"learning_rate"`
	NumLayers    int     `json:"num_layers"`
	HiddenSize   int     `json:"hidden_size"`
	NumMixtures  int     `json:"num_mixtures"`
	BatchSize    int     `json:"batch_size"`
	NumSteps     int     `json:"num_steps"`
	GradClip     float64 `json:"grad_clip"`
	Seed         int64   `json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		LearningRate: 0.003,
		NumLayers:    1,
		HiddenSize:   32,
		NumMixtures:  8,
		BatchSize:    128,
		NumSteps:     50,
		GradClip:     5,
		Seed:         1,
	}
}

// Inference returns a copy of c that consumes one sequence one step at a
// time.
func (c Config) Inference() Config {
	c.BatchSize = 1
	c.NumSteps = 1
	return c
}

func (c Config) Validate() error {
	switch {
	case c.LearningRate <= 0:
		return fmt.Errorf("learning rate must be > 0")
	case c.NumLayers <= 0:
		return fmt.Errorf("num layers must be > 0")
	case c.HiddenSize <= 0:
		return fmt.Errorf("hidden size must be > 0")
	case c.NumMixtures <= 0:
		return fmt.Errorf("num mixtures must be > 0")
	case c.BatchSize <= 0:
		return fmt.Errorf("batch size must be > 0")
	case c.NumSteps <= 0:
		return fmt.Errorf("num steps must be > 0")
	}
	return nil
}

// SequenceModel is a trainable autoregressive generator of scalar
// sequences.
type SequenceModel interface {
	// TrainEpoch runs every window of loader through one optimizer step and
	// returns the mean window loss.
	TrainEpoch(loader *dataset.Loader) (float64, error)
	// Predict samples length values, feeding each sample back as the next
	// input.
	Predict(length int) ([]float64, error)
	Save(path string) error
	Load(path string) error
}

// Factory builds a fresh, independently owned model.
type Factory func(cfg Config) (SequenceModel, error)

// NewMDN is the default Factory.
func NewMDN(cfg Config) (SequenceModel, error) {
	return NewMDNRNN(cfg)
}
