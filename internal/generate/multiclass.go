package generate

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"igan/internal/dataset"
)

const maxClassBatch = 128

// MultiRequest configures generation over every class of a labelled
// dataset. NumSeq holds the number of sequences to sample per class, in
// class order.
type MultiRequest struct {
	NumClasses      int
	NumSeq          []int
	CheckpointEvery int
	Epochs          int
	CheckpointDir   string
	Workers         int
	Base            Request
}

func DefaultMultiRequest() MultiRequest {
	base := DefaultRequest()
	return MultiRequest{
		CheckpointEvery: 5,
		Epochs:          150,
		CheckpointDir:   base.CheckpointDir,
		Workers:         1,
		Base:            base,
	}
}

type MultiResult struct {
	Synthetic  [][]float64 `json:"synthetic"`
	Labels     []string    `json:"labels"`
	NumClasses int         `json:"num_classes"`
	Loss       float64     `json:"loss"`
	PerClass   []Result    `json:"per_class"`
}

// ClassBlock is one contiguous run of equal labels.
type ClassBlock struct {
	Label string
	Start int
	End   int
}

func (b ClassBlock) Size() int { return b.End - b.Start }

// ClassBlocks groups labels in first-occurrence order. A label that
// reappears after another label started is rejected.
func ClassBlocks(labels []string) ([]ClassBlock, error) {
	var blocks []ClassBlock
	seen := make(map[string]bool)
	for i, label := range labels {
		if len(blocks) > 0 && blocks[len(blocks)-1].Label == label {
			blocks[len(blocks)-1].End = i + 1
			continue
		}
		if seen[label] {
			return nil, fmt.Errorf("%w: %q reappears at row %d", ErrNonContiguousClasses, label, i)
		}
		seen[label] = true
		blocks = append(blocks, ClassBlock{Label: label, Start: i, End: i + 1})
	}
	return blocks, nil
}

// MultiClass runs single-class generation for each class block and
// concatenates the samples in class order with a parallel label slice. The
// training log is cleared before and after the run.
func (g *Generator) MultiClass(ctx context.Context, ds dataset.Dataset, req MultiRequest) (MultiResult, error) {
	if err := ds.Validate(); err != nil {
		return MultiResult{}, err
	}
	if !ds.HasLabels() {
		return MultiResult{}, fmt.Errorf("multi-class generation requires labels")
	}
	blocks, err := ClassBlocks(ds.Labels)
	if err != nil {
		return MultiResult{}, err
	}
	if req.NumClasses != len(blocks) {
		return MultiResult{}, fmt.Errorf("num classes %d does not match %d label blocks", req.NumClasses, len(blocks))
	}
	if len(req.NumSeq) != len(blocks) {
		return MultiResult{}, fmt.Errorf("expected %d per-class sequence counts, got %d", len(blocks), len(req.NumSeq))
	}
	workers := req.Workers
	if workers <= 0 {
		workers = 1
	}

	if err := g.Log.Clear(); err != nil {
		return MultiResult{}, err
	}
	if err := resetDir(req.CheckpointDir); err != nil {
		return MultiResult{}, err
	}

	results := make([]Result, len(blocks))
	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx).WithCancelOnError()
	for i, block := range blocks {
		i, block := i, block
		p.Go(func(ctx context.Context) error {
			classReq := req.Base
			classReq.NumSeq = req.NumSeq[i]
			classReq.CheckpointEvery = req.CheckpointEvery
			classReq.Epochs = req.Epochs
			classReq.BatchSize = min(block.Size(), maxClassBatch)
			classReq.CheckpointDir = filepath.Join(req.CheckpointDir, fmt.Sprintf("class-%d", i))
			classReq.Model.Seed += int64(i)

			if err := g.Log.Append("Training for class " + block.Label); err != nil {
				return err
			}
			g.logger().Info("class training started",
				zap.String("class", block.Label),
				zap.Int("rows", block.Size()),
				zap.Int("batch_size", classReq.BatchSize),
			)
			res, err := g.single(ctx, ds.Rows[block.Start:block.End], classReq)
			if err != nil {
				return fmt.Errorf("class %s: %w", block.Label, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		_ = resetDir(req.CheckpointDir)
		return MultiResult{}, err
	}

	out := MultiResult{NumClasses: len(blocks), PerClass: results}
	var total float64
	for i, res := range results {
		out.Synthetic = append(out.Synthetic, res.Synthetic...)
		for j := 0; j < req.NumSeq[i]; j++ {
			out.Labels = append(out.Labels, blocks[i].Label)
		}
		total += res.Loss
	}
	out.Loss = total / float64(len(blocks))

	if err := g.Log.Append("Data generation for all classes complete"); err != nil {
		return MultiResult{}, err
	}
	if err := g.Log.Clear(); err != nil {
		return MultiResult{}, err
	}
	if err := resetDir(req.CheckpointDir); err != nil {
		return MultiResult{}, err
	}
	return out, nil
}
