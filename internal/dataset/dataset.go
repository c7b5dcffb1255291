package dataset

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

var (
	ErrEmpty       = errors.New("dataset is empty")
	ErrRaggedRows  = errors.New("dataset rows differ in length")
	ErrLabelLength = errors.New("label count does not match row count")
)

// Dataset is an ordered collection of fixed-length sequences with optional
// per-sequence class labels.
type Dataset struct {
	Rows   [][]float64
	Labels []string
}

func (d Dataset) Len() int {
	return len(d.Rows)
}

func (d Dataset) SeqLen() int {
	if len(d.Rows) == 0 {
		return 0
	}
	return len(d.Rows[0])
}

func (d Dataset) HasLabels() bool {
	return d.Labels != nil
}

// Validate checks that all rows share one non-zero length and that labels,
// when present, are parallel to rows.
func (d Dataset) Validate() error {
	if len(d.Rows) == 0 || len(d.Rows[0]) == 0 {
		return ErrEmpty
	}
	if err := CheckRectangular(d.Rows); err != nil {
		return err
	}
	if d.Labels != nil && len(d.Labels) != len(d.Rows) {
		return fmt.Errorf("%w: rows=%d labels=%d", ErrLabelLength, len(d.Rows), len(d.Labels))
	}
	return nil
}

func (d Dataset) Clone() Dataset {
	out := Dataset{Rows: CloneRows(d.Rows)}
	if d.Labels != nil {
		out.Labels = append([]string(nil), d.Labels...)
	}
	return out
}

func CheckRectangular(rows [][]float64) error {
	if len(rows) == 0 {
		return ErrEmpty
	}
	width := len(rows[0])
	for i, row := range rows {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d samples, want %d", ErrRaggedRows, i, len(row), width)
		}
	}
	return nil
}

func CloneRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Transpose swaps the sequence and position axes of a rectangular matrix.
func Transpose(rows [][]float64) [][]float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]float64, len(rows[0]))
	for j := range out {
		col := make([]float64, len(rows))
		for i := range rows {
			col[i] = rows[i][j]
		}
		out[j] = col
	}
	return out
}

// NormalizeSequence returns the z-score of one sequence (population
// standard deviation). A constant sequence normalizes to zeros.
func NormalizeSequence(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	mean, _ := stats.Mean(values)
	std, _ := stats.StandardDeviationPopulation(values)
	if std == 0 || math.IsNaN(std) {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}

// Normalize z-scores every row independently.
func Normalize(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = NormalizeSequence(row)
	}
	return out
}
