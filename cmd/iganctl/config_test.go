package main

import (
	"os"
	"path/filepath"
	"testing"

	igan "igan/pkg/igan"
)

func TestLoadRequestConfigReadsBothSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "igan.json")
	payload := `{
		"generate": {
			"num_seq": [5, 7],
			"epochs": 40,
			"checkpoint_every": 20,
			"workers": 2,
			"seed": 9,
			"model": {"learning_rate": 0.01, "num_layers": 2, "hidden_size": 16, "num_mixtures": 3, "num_steps": 25}
		},
		"impute": {
			"miss_rate": 0.3,
			"mask_policy": "bernoulli",
			"batch_size": 64,
			"hint_rate": 0.8,
			"alpha": 50,
			"iterations": 500,
			"seed": 4
		}
	}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadRequestConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	gen := cfg.Generate
	if len(gen.NumSeq) != 2 || gen.NumSeq[0] != 5 || gen.NumSeq[1] != 7 {
		t.Fatalf("unexpected num_seq: %v", gen.NumSeq)
	}
	if gen.Epochs != 40 || gen.CheckpointEvery != 20 || gen.Workers != 2 || gen.Seed != 9 {
		t.Fatalf("unexpected generate fields: %+v", gen)
	}
	if gen.LearningRate != 0.01 || gen.NumLayers != 2 || gen.HiddenSize != 16 || gen.NumMixtures != 3 || gen.NumSteps != 25 {
		t.Fatalf("unexpected model fields: %+v", gen)
	}
	imp := cfg.Impute
	if imp.MissRate != 0.3 || imp.MaskPolicy != "bernoulli" || imp.BatchSize != 64 {
		t.Fatalf("unexpected impute fields: %+v", imp)
	}
	if imp.HintRate != 0.8 || imp.Alpha != 50 || imp.Iterations != 500 || imp.Seed != 4 {
		t.Fatalf("unexpected gain fields: %+v", imp)
	}
}

func TestLoadRequestConfigRejectsBadCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "igan.json")
	if err := os.WriteFile(path, []byte(`{"generate": {"num_seq": "many"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadRequestConfig(path); err == nil {
		t.Fatal("expected error for non-numeric num_seq")
	}
}

func TestLoadOrDefaultWithoutPath(t *testing.T) {
	cfg, err := loadOrDefaultRequestConfig("")
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.Generate.Epochs != 0 || cfg.Impute.Iterations != 0 {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
	if _, err := loadOrDefaultRequestConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestOverrideOnlyAppliesSetFlags(t *testing.T) {
	req := igan.GenerateRequest{Epochs: 40, HiddenSize: 16}
	err := overrideGenerateFromFlags(&req, map[string]bool{"epochs": true, "num-seq": true}, map[string]any{
		"epochs":      3,
		"hidden-size": 99,
		"num-seq":     "1,2",
	})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if req.Epochs != 3 || req.HiddenSize != 16 {
		t.Fatalf("unexpected override result: %+v", req)
	}
	if len(req.NumSeq) != 2 || req.NumSeq[1] != 2 {
		t.Fatalf("unexpected num seq: %v", req.NumSeq)
	}

	imp := igan.ImputeRequest{Alpha: 10}
	overrideImputeFromFlags(&imp, map[string]bool{"miss-rate": true}, map[string]any{"miss-rate": 0.5, "alpha": 1.0})
	if imp.MissRate != 0.5 || imp.Alpha != 10 {
		t.Fatalf("unexpected impute override: %+v", imp)
	}
}

func TestParseCounts(t *testing.T) {
	counts, err := parseCounts(" 10, 20 ,5")
	if err != nil {
		t.Fatalf("parse counts: %v", err)
	}
	if len(counts) != 3 || counts[0] != 10 || counts[1] != 20 || counts[2] != 5 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	if counts, err := parseCounts(""); err != nil || counts != nil {
		t.Fatalf("empty counts: %v %v", counts, err)
	}
	if _, err := parseCounts("3,x"); err == nil {
		t.Fatal("expected error for bad count")
	}
	if _, err := parseCounts("-1"); err == nil {
		t.Fatal("expected error for negative count")
	}
}

func TestParseReferences(t *testing.T) {
	xs, ys, err := parseReferences("4:0.5, 7:-1")
	if err != nil {
		t.Fatalf("parse refs: %v", err)
	}
	if len(xs) != 2 || xs[0] != 4 || xs[1] != 7 || ys[0] != 0.5 || ys[1] != -1 {
		t.Fatalf("unexpected refs: %v %v", xs, ys)
	}
	for _, bad := range []string{"4", "a:1", "1:b"} {
		if _, _, err := parseReferences(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
