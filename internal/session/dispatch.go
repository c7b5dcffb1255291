package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"igan/internal/dataset"
	"igan/internal/impute"
	"igan/internal/scoring"
)

type Kind string

const (
	KindLoad          Kind = "load"
	KindGenerate      Kind = "generate"
	KindImpute        Kind = "impute"
	KindShowOriginal  Kind = "show_original"
	KindShowGenerated Kind = "show_generated"
	KindNext          Kind = "next"
	KindPrev          Kind = "prev"
	KindSelect        Kind = "select"
	KindReference     Kind = "reference"
)

// Command is one request against the session. Only the payload fields of
// its Kind are read.
type Command struct {
	Kind   Kind        `json:"kind"`
	Rows   [][]float64 `json:"rows,omitempty"`
	Labels []string    `json:"labels,omitempty"`
	Start  int         `json:"start,omitempty"`
	End    int         `json:"end,omitempty"`
	RefX   []int       `json:"ref_x,omitempty"`
	RefY   []float64   `json:"ref_y,omitempty"`
}

// Engine runs the long operations behind generate and impute commands.
type Engine interface {
	Generate(ctx context.Context, original dataset.Dataset) (dataset.Dataset, float64, error)
	Impute(ctx context.Context, corpus [][]float64, target []float64) ([]float64, error)
}

// Handler maps a snapshot and a command to a state change. Handlers never
// touch the State directly.
type Handler func(ctx context.Context, snap Snapshot, cmd Command) (Delta, error)

type Dispatcher struct {
	state    *State
	handlers map[Kind]Handler
	long     map[Kind]bool
	running  chan struct{}
	logger   *zap.Logger
}

func NewDispatcher(state *State, engine Engine, opts scoring.Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		state:    state,
		handlers: map[Kind]Handler{},
		long:     map[Kind]bool{},
		running:  make(chan struct{}, 1),
		logger:   logger,
	}
	d.Register(KindLoad, loadHandler(opts))
	d.Register(KindShowOriginal, showOriginal)
	d.Register(KindShowGenerated, showGenerated)
	d.Register(KindNext, stepHandler(1))
	d.Register(KindPrev, stepHandler(-1))
	d.Register(KindSelect, selectHandler)
	d.Register(KindReference, referenceHandler)
	if engine != nil {
		d.RegisterLong(KindGenerate, generateHandler(engine, opts))
		d.RegisterLong(KindImpute, imputeHandler(engine, opts))
	}
	return d
}

func (d *Dispatcher) Register(kind Kind, h Handler) {
	d.handlers[kind] = h
	delete(d.long, kind)
}

// RegisterLong registers a handler that trains a model. At most one such
// handler runs at a time; others fail fast with ErrBusy.
func (d *Dispatcher) RegisterLong(kind Kind, h Handler) {
	d.handlers[kind] = h
	d.long[kind] = true
}

func (d *Dispatcher) State() *State {
	return d.state
}

// Dispatch runs the handler of cmd.Kind on a snapshot without holding the
// state lock and commits its delta. On error the state is unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (View, error) {
	h, ok := d.handlers[cmd.Kind]
	if !ok {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}
	if d.long[cmd.Kind] {
		select {
		case d.running <- struct{}{}:
			defer func() { <-d.running }()
		default:
			return View{}, ErrBusy
		}
	}

	snap := d.state.Snapshot()
	delta, err := h(ctx, snap, cmd)
	if err != nil {
		d.logger.Warn("command failed", zap.String("kind", string(cmd.Kind)), zap.Error(err))
		return View{}, err
	}
	if err := d.state.Apply(delta); err != nil {
		d.logger.Warn("command not committed", zap.String("kind", string(cmd.Kind)), zap.Error(err))
		return View{}, err
	}
	d.logger.Debug("command applied", zap.String("kind", string(cmd.Kind)))
	return d.state.Snapshot().View(), nil
}

func loadHandler(opts scoring.Options) Handler {
	return func(_ context.Context, _ Snapshot, cmd Command) (Delta, error) {
		ds := dataset.Dataset{Rows: cmd.Rows, Labels: cmd.Labels}
		if len(ds.Labels) == 0 {
			ds.Labels = nil
		}
		if err := ds.Validate(); err != nil {
			return Delta{}, err
		}
		ds = ds.Clone()
		report := scoring.Score(ds.Rows, nil, ds.Labels, opts)
		return Delta{Original: &ds, Report: &report}, nil
	}
}

func showOriginal(_ context.Context, snap Snapshot, _ Command) (Delta, error) {
	if snap.Original.Len() == 0 {
		return Delta{}, ErrNoData
	}
	return Delta{Display: DisplayOriginal}, nil
}

func showGenerated(_ context.Context, snap Snapshot, _ Command) (Delta, error) {
	if snap.Generated.Len() == 0 {
		return Delta{}, ErrNoGenerated
	}
	return Delta{Display: DisplayGenerated}, nil
}

func stepHandler(step int) Handler {
	return func(_ context.Context, snap Snapshot, _ Command) (Delta, error) {
		if snap.Original.Len() == 0 {
			return Delta{}, ErrNoData
		}
		return Delta{Step: step}, nil
	}
}

func selectHandler(_ context.Context, _ Snapshot, cmd Command) (Delta, error) {
	if cmd.End < cmd.Start {
		return Delta{}, fmt.Errorf("selection end %d before start %d", cmd.End, cmd.Start)
	}
	return Delta{Selection: &Range{Start: cmd.Start, End: cmd.End}}, nil
}

func referenceHandler(_ context.Context, _ Snapshot, cmd Command) (Delta, error) {
	if len(cmd.RefX) != len(cmd.RefY) {
		return Delta{}, fmt.Errorf("reference points: %d x values, %d y values", len(cmd.RefX), len(cmd.RefY))
	}
	return Delta{Refs: &References{X: cmd.RefX, Y: cmd.RefY}}, nil
}

func generateHandler(engine Engine, opts scoring.Options) Handler {
	return func(ctx context.Context, snap Snapshot, _ Command) (Delta, error) {
		if snap.Original.Len() == 0 {
			return Delta{}, ErrNoData
		}
		generated, loss, err := engine.Generate(ctx, snap.Original)
		if err != nil {
			return Delta{}, err
		}
		if err := generated.Validate(); err != nil {
			return Delta{}, fmt.Errorf("generated data: %w", err)
		}
		report := scoring.Score(snap.Original.Rows, generated.Rows, generated.Labels, opts)
		return Delta{Base: snap.Version, Generated: &generated, Report: &report, Loss: &loss}, nil
	}
}

// imputeHandler blanks the selected span of the current generated sequence,
// pins the reference points and replaces the sequence with the imputed one.
func imputeHandler(engine Engine, opts scoring.Options) Handler {
	return func(ctx context.Context, snap Snapshot, _ Command) (Delta, error) {
		if snap.Original.Len() == 0 {
			return Delta{}, ErrNoData
		}
		if snap.Generated.Len() == 0 {
			return Delta{}, ErrNoGenerated
		}
		idx := snap.CurrentGenerated
		target := impute.PrepareTarget(snap.Generated.Rows[idx], snap.Start, snap.End, snap.RefX, snap.RefY)
		values, err := engine.Impute(ctx, snap.Original.Rows, target)
		if err != nil {
			return Delta{}, err
		}
		if len(values) != len(target) {
			return Delta{}, fmt.Errorf("imputed %d samples, want %d", len(values), len(target))
		}

		rows := append([][]float64(nil), snap.Generated.Rows...)
		rows[idx] = values
		report := scoring.Score(snap.Original.Rows, rows, snap.Generated.Labels, opts)
		return Delta{
			Base:   snap.Version,
			Sample: &Sample{Index: idx, Values: values},
			Report: &report,
		}, nil
	}
}
