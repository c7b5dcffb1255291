// Package session holds the dataset and display state shared by the HTTP
// handlers and applies tagged commands to it.
package session

import (
	"errors"
	"sync"

	"igan/internal/dataset"
	"igan/internal/model"
	"igan/internal/scoring"
)

var (
	ErrUnknownCommand = errors.New("unknown command kind")
	ErrNoData         = errors.New("no dataset loaded")
	ErrNoGenerated    = errors.New("no generated data")
	ErrStale          = errors.New("session data changed while the command was running")
	ErrBusy           = errors.New("another training run is in progress")
)

type Display string

const (
	DisplayOriginal  Display = "orig"
	DisplayGenerated Display = "gen"
)

// State is guarded by its mutex. Datasets held by the state are never
// modified in place, so a Snapshot can be read without the lock.
type State struct {
	mu sync.Mutex

	version    uint64
	original   dataset.Dataset
	generated  dataset.Dataset
	currentOrg int
	currentGen int
	display    Display
	start      int
	end        int
	refX       []int
	refY       []float64
	loss       float64
	report     *scoring.Report
}

func NewState() *State {
	return &State{display: DisplayOriginal}
}

// Snapshot is a read-only copy of the state at one version.
type Snapshot struct {
	Version          uint64
	Original         dataset.Dataset
	Generated        dataset.Dataset
	CurrentOriginal  int
	CurrentGenerated int
	Display          Display
	Start            int
	End              int
	RefX             []int
	RefY             []float64
	Loss             float64
	Report           *scoring.Report
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Version:          s.version,
		Original:         s.original,
		Generated:        s.generated,
		CurrentOriginal:  s.currentOrg,
		CurrentGenerated: s.currentGen,
		Display:          s.display,
		Start:            s.start,
		End:              s.end,
		RefX:             append([]int(nil), s.refX...),
		RefY:             append([]float64(nil), s.refY...),
		Loss:             s.loss,
		Report:           s.report,
	}
}

// Range is a selected span of sample positions.
type Range struct {
	Start int
	End   int
}

type References struct {
	X []int
	Y []float64
}

// Sample replaces one generated sequence.
type Sample struct {
	Index  int
	Values []float64
}

// Delta is the state change produced by one command. Nil and zero fields
// leave the state untouched.
type Delta struct {
	// Base, when non-zero, is the snapshot version the delta was computed
	// from; the commit fails with ErrStale if any dataset changed since.
	Base      uint64
	Original  *dataset.Dataset
	Generated *dataset.Dataset
	Sample    *Sample
	Report    *scoring.Report
	Loss      *float64
	Display   Display
	Step      int
	Selection *Range
	Refs      *References
}

// Apply commits d. Versions start at 1 once a dataset is loaded so a zero
// Base always means unconditional.
func (s *State) Apply(d Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Base != 0 && d.Base != s.version {
		return ErrStale
	}
	if d.Original != nil {
		s.original = *d.Original
		s.generated = dataset.Dataset{}
		s.currentOrg, s.currentGen = 0, 0
		s.display = DisplayOriginal
		s.start, s.end = 0, 0
		s.refX, s.refY = nil, nil
		s.loss = 0
		s.version++
	}
	if d.Generated != nil {
		s.generated = *d.Generated
		s.currentGen = 0
		s.display = DisplayGenerated
		s.version++
	}
	if d.Sample != nil {
		if d.Sample.Index < 0 || d.Sample.Index >= s.generated.Len() {
			return ErrNoGenerated
		}
		next := dataset.Dataset{Rows: append([][]float64(nil), s.generated.Rows...), Labels: s.generated.Labels}
		next.Rows[d.Sample.Index] = append([]float64(nil), d.Sample.Values...)
		s.generated = next
		s.version++
	}
	if d.Report != nil {
		s.report = d.Report
	}
	if d.Loss != nil {
		s.loss = *d.Loss
	}
	switch d.Display {
	case DisplayOriginal:
		s.display = DisplayOriginal
		s.currentOrg = 0
	case DisplayGenerated:
		s.display = DisplayGenerated
		s.currentGen = 0
	}
	if d.Step != 0 {
		if s.display == DisplayOriginal {
			s.currentOrg = wrap(s.currentOrg+d.Step, s.original.Len())
		} else {
			s.currentGen = wrap(s.currentGen+d.Step, s.generated.Len())
		}
	}
	if d.Selection != nil {
		s.start, s.end = d.Selection.Start, d.Selection.End
	}
	if d.Refs != nil {
		s.refX = append([]int(nil), d.Refs.X...)
		s.refY = append([]float64(nil), d.Refs.Y...)
	}
	return nil
}

// wrap maps i into [0, n). Moving past either end continues from the other.
func wrap(i, n int) int {
	if n <= 0 {
		return 0
	}
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// View is the JSON shape of the state served to the front end.
type View struct {
	Display          Display             `json:"display"`
	Originals        int                 `json:"originals"`
	Generated        int                 `json:"generated"`
	SeqLen           int                 `json:"seq_len"`
	CurrentOriginal  int                 `json:"current_orig"`
	CurrentGenerated int                 `json:"current_gen"`
	CurrentClass     string              `json:"current_class,omitempty"`
	Trace            []float64           `json:"trace"`
	Start            int                 `json:"start"`
	End              int                 `json:"end"`
	RefX             []int               `json:"ref_x"`
	RefY             []float64           `json:"ref_y"`
	Loss             float64             `json:"gen_loss"`
	Scores           *model.ScoreSummary `json:"scores,omitempty"`
}

func (snap Snapshot) View() View {
	v := View{
		Display:          snap.Display,
		Originals:        snap.Original.Len(),
		Generated:        snap.Generated.Len(),
		SeqLen:           snap.Original.SeqLen(),
		CurrentOriginal:  snap.CurrentOriginal,
		CurrentGenerated: snap.CurrentGenerated,
		Trace:            []float64{},
		Start:            snap.Start,
		End:              snap.End,
		RefX:             snap.RefX,
		RefY:             snap.RefY,
		Loss:             snap.Loss,
	}
	if v.RefX == nil {
		v.RefX = []int{}
	}
	if v.RefY == nil {
		v.RefY = []float64{}
	}
	ds, idx := snap.Original, snap.CurrentOriginal
	if snap.Display == DisplayGenerated {
		ds, idx = snap.Generated, snap.CurrentGenerated
	}
	if idx < ds.Len() {
		v.Trace = append(v.Trace, ds.Rows[idx]...)
		if ds.HasLabels() {
			v.CurrentClass = ds.Labels[idx]
		}
	}
	if snap.Report != nil {
		summary := snap.Report.Summary()
		v.Scores = &summary
	}
	return v
}
