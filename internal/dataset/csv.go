package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ReadMatrixCSV reads one sequence per CSV record. When labelColumn is set the
// first field of each record is the class label. Leading records that do not
// parse as numbers are treated as headers and skipped.
func ReadMatrixCSV(r io.Reader, labelColumn bool) (Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var out Dataset
	if labelColumn {
		out.Labels = []string{}
	}
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("read csv row %d: %w", row+1, err)
		}
		row++

		fields := record
		label := ""
		if labelColumn {
			if len(fields) < 2 {
				return Dataset{}, fmt.Errorf("csv row %d: expected label and at least one value", row)
			}
			label = strings.TrimSpace(fields[0])
			fields = fields[1:]
		}
		values, err := parseFloats(fields)
		if err != nil {
			if len(out.Rows) == 0 {
				continue
			}
			return Dataset{}, fmt.Errorf("parse csv row %d: %w", row, err)
		}
		if len(values) == 0 {
			continue
		}
		out.Rows = append(out.Rows, values)
		if labelColumn {
			out.Labels = append(out.Labels, label)
		}
	}
	if err := out.Validate(); err != nil {
		return Dataset{}, err
	}
	return out, nil
}

// LoadMatrixCSV opens path and reads it with ReadMatrixCSV.
func LoadMatrixCSV(path string, labelColumn bool) (Dataset, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Dataset{}, fmt.Errorf("csv path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()

	ds, err := ReadMatrixCSV(f, labelColumn)
	if err != nil {
		return Dataset{}, fmt.Errorf("load csv %s: %w", path, err)
	}
	return ds, nil
}

// LoadCSVDir loads every *.csv file of dir as one sequence (all numeric
// fields in reading order) and z-score normalizes it. Files are read in name
// order.
func LoadCSVDir(dir string) (Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var out Dataset
	for _, name := range names {
		values, err := loadSequenceFile(filepath.Join(dir, name))
		if err != nil {
			return Dataset{}, err
		}
		out.Rows = append(out.Rows, NormalizeSequence(values))
	}
	if err := out.Validate(); err != nil {
		return Dataset{}, fmt.Errorf("dataset dir %s: %w", dir, err)
	}
	return out, nil
}

func loadSequenceFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sequence %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	values := make([]float64, 0, 512)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sequence %s: %w", path, err)
		}
		parsed, err := parseFloats(record)
		if err != nil {
			if len(values) == 0 {
				continue
			}
			return nil, fmt.Errorf("parse sequence %s: %w", path, err)
		}
		values = append(values, parsed...)
	}
	return values, nil
}

func parseFloats(fields []string) ([]float64, error) {
	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// WriteMatrixCSV writes one record per row, prefixed by the label when labels
// are provided.
func WriteMatrixCSV(w io.Writer, rows [][]float64, labels []string) error {
	writer := csv.NewWriter(w)
	for i, row := range rows {
		record := make([]string, 0, len(row)+1)
		if labels != nil {
			record = append(record, labels[i])
		}
		for _, v := range row {
			record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
