package dataset

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	if err := (Dataset{}).Validate(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	ragged := Dataset{Rows: [][]float64{{1, 2}, {3}}}
	if err := ragged.Validate(); !errors.Is(err, ErrRaggedRows) {
		t.Fatalf("expected ErrRaggedRows, got %v", err)
	}
	labels := Dataset{Rows: [][]float64{{1}, {2}}, Labels: []string{"a"}}
	if err := labels.Validate(); !errors.Is(err, ErrLabelLength) {
		t.Fatalf("expected ErrLabelLength, got %v", err)
	}
	ok := Dataset{Rows: [][]float64{{1, 2}, {3, 4}}, Labels: []string{"a", "b"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	ds := Dataset{Rows: [][]float64{{1, 2}}, Labels: []string{"n"}}
	cp := ds.Clone()
	cp.Rows[0][0] = 99
	cp.Labels[0] = "x"
	if ds.Rows[0][0] != 1 || ds.Labels[0] != "n" {
		t.Fatalf("clone shares storage: %+v", ds)
	}
}

func TestTranspose(t *testing.T) {
	got := Transpose([][]float64{{1, 2, 3}, {4, 5, 6}})
	want := [][]float64{{1, 4}, {2, 5}, {3, 6}}
	for i := range want {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("transpose mismatch: got=%v", got)
			}
		}
	}
}

func TestNormalizeSequence(t *testing.T) {
	out := NormalizeSequence([]float64{1, 2, 3, 4})
	var sum, sq float64
	for _, v := range out {
		sum += v
		sq += v * v
	}
	if math.Abs(sum) > 1e-12 {
		t.Fatalf("expected zero mean, got %f", sum/4)
	}
	if math.Abs(sq/4-1) > 1e-12 {
		t.Fatalf("expected unit population variance, got %f", sq/4)
	}

	flat := NormalizeSequence([]float64{5, 5, 5})
	for _, v := range flat {
		if v != 0 {
			t.Fatalf("expected constant sequence to normalize to zeros, got %v", flat)
		}
	}
}

func TestReadMatrixCSVWithLabelsAndHeader(t *testing.T) {
	input := "label,t0,t1,t2\nN,0.1,0.2,0.3\nN,0.4,0.5,0.6\nA,1,2,3\n"
	ds, err := ReadMatrixCSV(strings.NewReader(input), true)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if ds.Len() != 3 || ds.SeqLen() != 3 {
		t.Fatalf("unexpected shape: %d x %d", ds.Len(), ds.SeqLen())
	}
	if strings.Join(ds.Labels, "") != "NNA" {
		t.Fatalf("unexpected labels: %v", ds.Labels)
	}
	if ds.Rows[2][1] != 2 {
		t.Fatalf("unexpected value: %v", ds.Rows[2])
	}
}

func TestReadMatrixCSVRejectsRaggedRows(t *testing.T) {
	_, err := ReadMatrixCSV(strings.NewReader("1,2,3\n4,5\n"), false)
	if !errors.Is(err, ErrRaggedRows) {
		t.Fatalf("expected ErrRaggedRows, got %v", err)
	}
}

func TestWriteMatrixCSVRoundTrip(t *testing.T) {
	rows := [][]float64{{0.5, -1.25}, {3, 4}}
	var buf bytes.Buffer
	if err := WriteMatrixCSV(&buf, rows, []string{"a", "b"}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	ds, err := ReadMatrixCSV(&buf, true)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if ds.Rows[0][1] != -1.25 || ds.Labels[1] != "b" {
		t.Fatalf("unexpected round trip: %+v", ds)
	}
}

func TestLoadCSVDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.csv":     "value\n1\n2\n3\n",
		"a.csv":     "10\n10\n10\n",
		"notes.txt": "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	ds, err := LoadCSVDir(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if ds.Len() != 2 || ds.SeqLen() != 3 {
		t.Fatalf("unexpected shape: %d x %d", ds.Len(), ds.SeqLen())
	}
	if ds.Rows[0][0] != 0 {
		t.Fatalf("expected a.csv first and flattened to zeros, got %v", ds.Rows[0])
	}
	if ds.Rows[1][0] >= 0 || ds.Rows[1][2] <= 0 {
		t.Fatalf("expected normalized ramp, got %v", ds.Rows[1])
	}
}
