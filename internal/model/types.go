package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

const (
	RunKindGenerate = "generate"
	RunKindImpute   = "impute"
)

// Checkpoint identifies one persisted snapshot of sequence model parameters.
type Checkpoint struct {
	Path  string `json:"path"`
	Epoch int    `json:"epoch"`
}

// RunRecord is the persisted summary of one orchestration call.
type RunRecord struct {
	VersionedRecord
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	CreatedAtUTC string   `json:"created_at_utc"`
	Classes      []string `json:"classes,omitempty"`
	Sequences    int      `json:"sequences"`
	SeqLen       int      `json:"seq_len"`
	Epochs       int      `json:"epochs,omitempty"`
	Iterations   int      `json:"iterations,omitempty"`
	FinalLoss    float64  `json:"final_loss"`
	ArtifactsDir string   `json:"artifacts_dir,omitempty"`
}

// ScoreSummary holds the scalar scores surfaced next to a dataset.
type ScoreSummary struct {
	VersionedRecord
	Novelty           float64  `json:"novelty"`
	Diversity         float64  `json:"diversity"`
	RMSE              *float64 `json:"rmse,omitempty"`
	OriginalNovelty   float64  `json:"original_novelty"`
	OriginalDiversity float64  `json:"original_diversity"`
	ClassLabels       []string `json:"class_labels,omitempty"`
	ClassCounts       []int    `json:"class_counts,omitempty"`
}
