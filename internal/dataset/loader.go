package dataset

// Batch is one training window. Targets are Inputs shifted by one sample.
type Batch struct {
	Inputs  [][]float64
	Targets [][]float64
}

// Loader walks fixed-width windows over a set of sequences. It keeps at most
// batchSize rows; a smaller dataset shrinks the batch instead of padding.
type Loader struct {
	rows      [][]float64
	stepWidth int
	seqLen    int
	pointer   int
}

func NewLoader(rows [][]float64, batchSize, stepWidth int) *Loader {
	if batchSize <= 0 || batchSize > len(rows) {
		batchSize = len(rows)
	}
	if stepWidth <= 0 {
		stepWidth = 1
	}
	kept := rows[:batchSize]
	seqLen := 0
	if len(kept) > 0 {
		seqLen = len(kept[0])
	}
	return &Loader{rows: kept, stepWidth: stepWidth, seqLen: seqLen}
}

// HasNext reports whether another full window and its shifted target fit in
// the sequences.
func (l *Loader) HasNext() bool {
	// Inclusive on purpose: a window ending at L-1 still has its shifted
	// target, so a sequence yields floor((L-1)/step) windows. A strict < would
	// drop the last one.
	return len(l.rows) > 0 && l.pointer+l.stepWidth <= l.seqLen-1
}

// NextBatch returns the window at the current pointer and advances it. The
// caller must check HasNext first.
func (l *Loader) NextBatch() Batch {
	start, end := l.pointer, l.pointer+l.stepWidth
	batch := Batch{
		Inputs:  make([][]float64, len(l.rows)),
		Targets: make([][]float64, len(l.rows)),
	}
	for i, row := range l.rows {
		batch.Inputs[i] = append([]float64(nil), row[start:end]...)
		batch.Targets[i] = append([]float64(nil), row[start+1:end+1]...)
	}
	l.pointer = end
	return batch
}

func (l *Loader) Reset() {
	l.pointer = 0
}

func (l *Loader) BatchSize() int { return len(l.rows) }

func (l *Loader) SeqLen() int { return l.seqLen }

func (l *Loader) StepWidth() int { return l.stepWidth }

// Windows is the number of NextBatch calls one epoch yields.
func (l *Loader) Windows() int {
	if len(l.rows) == 0 || l.seqLen < 2 {
		return 0
	}
	return (l.seqLen - 1) / l.stepWidth
}
