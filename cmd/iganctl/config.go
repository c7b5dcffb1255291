package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	igan "igan/pkg/igan"
)

// requestConfig is the JSON config accepted by --config. Each section holds
// the training parameters of one command; the serve command reads both.
type requestConfig struct {
	Generate igan.GenerateRequest
	Impute   igan.ImputeRequest
}

func loadRequestConfig(path string) (requestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return requestConfig{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return requestConfig{}, fmt.Errorf("decode config: %w", err)
	}

	var cfg requestConfig
	if section, ok := raw["generate"].(map[string]any); ok {
		if err := applyGenerateConfig(&cfg.Generate, section); err != nil {
			return requestConfig{}, fmt.Errorf("generate: %w", err)
		}
	}
	if section, ok := raw["impute"].(map[string]any); ok {
		applyImputeConfig(&cfg.Impute, section)
	}
	return cfg, nil
}

func loadOrDefaultRequestConfig(configPath string) (requestConfig, error) {
	if configPath == "" {
		return requestConfig{}, nil
	}
	cfg, err := loadRequestConfig(configPath)
	if err != nil {
		return requestConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func applyGenerateConfig(req *igan.GenerateRequest, m map[string]any) error {
	if v, ok := m["num_seq"]; ok {
		counts, err := asIntList(v)
		if err != nil {
			return fmt.Errorf("num_seq: %w", err)
		}
		req.NumSeq = counts
	}
	if v, ok := asInt(m["epochs"]); ok {
		req.Epochs = v
	}
	if v, ok := asInt(m["checkpoint_every"]); ok {
		req.CheckpointEvery = v
	}
	if v, ok := asInt(m["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asInt(m["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asInt64(m["seed"]); ok {
		req.Seed = v
	}
	network := m
	if nested, ok := m["model"].(map[string]any); ok {
		network = nested
	}
	if v, ok := asFloat64(network["learning_rate"]); ok {
		req.LearningRate = v
	}
	if v, ok := asInt(network["num_layers"]); ok {
		req.NumLayers = v
	}
	if v, ok := asInt(network["hidden_size"]); ok {
		req.HiddenSize = v
	}
	if v, ok := asInt(network["num_mixtures"]); ok {
		req.NumMixtures = v
	}
	if v, ok := asInt(network["num_steps"]); ok {
		req.NumSteps = v
	}
	return nil
}

func applyImputeConfig(req *igan.ImputeRequest, m map[string]any) {
	if v, ok := asFloat64(m["miss_rate"]); ok {
		req.MissRate = v
	}
	if v, ok := asString(m["mask_policy"]); ok {
		req.MaskPolicy = v
	}
	if v, ok := asInt(m["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asFloat64(m["hint_rate"]); ok {
		req.HintRate = v
	}
	if v, ok := asFloat64(m["alpha"]); ok {
		req.Alpha = v
	}
	if v, ok := asInt(m["iterations"]); ok {
		req.Iterations = v
	}
	if v, ok := asInt64(m["seed"]); ok {
		req.Seed = v
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// asIntList accepts a single number or a list of numbers.
func asIntList(v any) ([]int, error) {
	if n, ok := asInt(v); ok {
		return []int{n}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected number or list, got %T", v)
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, ok := asInt(item)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", item)
		}
		out = append(out, n)
	}
	return out, nil
}

// parseCounts reads a comma separated list such as "10" or "10,20,5".
func parseCounts(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid count %q", part)
		}
		if n < 0 {
			return nil, fmt.Errorf("count must be >= 0, got %d", n)
		}
		out = append(out, n)
	}
	return out, nil
}

// parseReferences reads "x:y" pairs separated by commas, e.g. "4:0.5,7:-1".
func parseReferences(raw string) ([]int, []float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, nil
	}
	var (
		xs []int
		ys []float64
	)
	for _, pair := range strings.Split(raw, ",") {
		xRaw, yRaw, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, nil, fmt.Errorf("reference %q: expected x:y", pair)
		}
		x, err := strconv.Atoi(xRaw)
		if err != nil {
			return nil, nil, fmt.Errorf("reference %q: %w", pair, err)
		}
		y, err := strconv.ParseFloat(yRaw, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("reference %q: %w", pair, err)
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys, nil
}

func overrideGenerateFromFlags(req *igan.GenerateRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "num-seq":
			counts, err := parseCounts(v.(string))
			if err != nil {
				return fmt.Errorf("num-seq: %w", err)
			}
			req.NumSeq = counts
		case "epochs":
			req.Epochs = v.(int)
		case "checkpoint-every":
			req.CheckpointEvery = v.(int)
		case "batch-size":
			req.BatchSize = v.(int)
		case "workers":
			req.Workers = v.(int)
		case "learning-rate":
			req.LearningRate = v.(float64)
		case "num-layers":
			req.NumLayers = v.(int)
		case "hidden-size":
			req.HiddenSize = v.(int)
		case "num-mixtures":
			req.NumMixtures = v.(int)
		case "num-steps":
			req.NumSteps = v.(int)
		case "seed":
			req.Seed = v.(int64)
		}
	}
	return nil
}

func overrideImputeFromFlags(req *igan.ImputeRequest, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "miss-rate":
			req.MissRate = v.(float64)
		case "mask-policy":
			req.MaskPolicy = v.(string)
		case "batch-size":
			req.BatchSize = v.(int)
		case "hint-rate":
			req.HintRate = v.(float64)
		case "alpha":
			req.Alpha = v.(float64)
		case "iterations":
			req.Iterations = v.(int)
		case "seed":
			req.Seed = v.(int64)
		}
	}
}
