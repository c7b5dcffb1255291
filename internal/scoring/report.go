package scoring

import "igan/internal/model"

type Options struct {
	NoveltyOrder  int
	NoveltyNumber int
}

func DefaultOptions() Options {
	return Options{NoveltyOrder: DefaultNoveltyOrder, NoveltyNumber: DefaultNoveltyNumber}
}

// DatasetScores are the scores of one dataset on its own.
type DatasetScores struct {
	Distribution         []float64 `json:"distribution"`
	DiversityPerSequence []float64 `json:"diversity_per_sequence"`
	Diversity            float64   `json:"diversity"`
	Novelty              Novelty   `json:"novelty"`
}

// Report compares a generated dataset against the original. Generated and
// RMSE are nil when there is nothing generated yet.
type Report struct {
	Original    DatasetScores  `json:"original"`
	Generated   *DatasetScores `json:"generated,omitempty"`
	ClassCounts []int          `json:"class_counts,omitempty"`
	ClassLabels []string       `json:"class_labels,omitempty"`
	RMSE        *float64       `json:"rmse,omitempty"`
}

func ScoreDataset(rows [][]float64, opts Options) DatasetScores {
	per, avg := DataDiversity(rows)
	return DatasetScores{
		Distribution:         DataDist(rows),
		DiversityPerSequence: per,
		Diversity:            avg,
		Novelty:              DataNovelty(rows, opts.NoveltyOrder, opts.NoveltyNumber),
	}
}

// Score builds a Report. labels are the class labels of the dataset being
// summarized (the generated one when present).
func Score(original, generated [][]float64, labels []string, opts Options) Report {
	report := Report{Original: ScoreDataset(original, opts)}
	if len(generated) > 0 {
		gen := ScoreDataset(generated, opts)
		report.Generated = &gen
		rmse := FeatRMSE(original, generated)
		report.RMSE = &rmse
	}
	if len(labels) > 0 {
		report.ClassCounts, report.ClassLabels = ClassDist(labels)
	}
	return report
}

// Summary reduces the report to its scalar scores. The record is left
// unversioned; whoever persists it stamps the versions.
func (r Report) Summary() model.ScoreSummary {
	summary := model.ScoreSummary{
		OriginalNovelty:   r.Original.Novelty.Global,
		OriginalDiversity: r.Original.Diversity,
		Novelty:           r.Original.Novelty.Global,
		Diversity:         r.Original.Diversity,
		RMSE:              r.RMSE,
		ClassLabels:       r.ClassLabels,
		ClassCounts:       r.ClassCounts,
	}
	if r.Generated != nil {
		summary.Novelty = r.Generated.Novelty.Global
		summary.Diversity = r.Generated.Diversity
	}
	return summary
}
