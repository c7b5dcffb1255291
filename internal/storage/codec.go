package storage

import (
	"encoding/json"
	"errors"
	"sort"

	"igan/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps a record with the versions this build writes.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeScoreSummary(s model.ScoreSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeScoreSummary(data []byte) (model.ScoreSummary, error) {
	var summary model.ScoreSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.ScoreSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.ScoreSummary{}, err
	}
	return summary, nil
}

func EncodeLossHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeLossHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

// sortRunsNewestFirst orders by creation time, then ID, both descending.
func sortRunsNewestFirst(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC == runs[j].CreatedAtUTC {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
	})
}

func cloneRun(run model.RunRecord) model.RunRecord {
	run.Classes = append([]string(nil), run.Classes...)
	return run
}

func cloneSummary(s model.ScoreSummary) model.ScoreSummary {
	if s.RMSE != nil {
		v := *s.RMSE
		s.RMSE = &v
	}
	s.ClassLabels = append([]string(nil), s.ClassLabels...)
	s.ClassCounts = append([]int(nil), s.ClassCounts...)
	return s
}
