package igan

import (
	"context"

	"igan/internal/dataset"
	"igan/internal/session"
)

// SessionEngine runs the interactive session's generate and impute commands
// through c, so every run triggered from the web front end is recorded.
// gen and imp supply the training parameters; their data fields are
// ignored.
func (c *Client) SessionEngine(gen GenerateRequest, imp ImputeRequest) session.Engine {
	return &sessionEngine{client: c, gen: gen, imp: imp}
}

type sessionEngine struct {
	client *Client
	gen    GenerateRequest
	imp    ImputeRequest
}

func (e *sessionEngine) Generate(ctx context.Context, original dataset.Dataset) (dataset.Dataset, float64, error) {
	req := e.gen
	req.Source = "session"
	req.Rows, req.Labels = original.Rows, original.Labels
	summary, err := e.client.Generate(ctx, req)
	if err != nil {
		return dataset.Dataset{}, 0, err
	}
	return dataset.Dataset{Rows: summary.Synthetic, Labels: summary.Labels}, summary.Loss, nil
}

func (e *sessionEngine) Impute(ctx context.Context, corpus [][]float64, target []float64) ([]float64, error) {
	req := e.imp
	req.Source = "session"
	req.Corpus, req.Target, req.Sequence = corpus, target, nil
	summary, err := e.client.Impute(ctx, req)
	if err != nil {
		return nil, err
	}
	return summary.Vector, nil
}
