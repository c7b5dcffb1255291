// Package igan is the programmatic entry point: it runs generation,
// imputation and scoring, and records every run in the run store and on
// disk.
package igan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"igan/internal/dataset"
	"igan/internal/gain"
	"igan/internal/generate"
	"igan/internal/impute"
	"igan/internal/model"
	"igan/internal/scoring"
	"igan/internal/seqmodel"
	"igan/internal/stats"
	"igan/internal/storage"
	"igan/internal/trainlog"
)

const (
	defaultRunsDir       = "runs"
	defaultExportsDir    = "exports"
	defaultDBPath        = "igan.db"
	defaultLogPath       = "server_data/training_log.txt"
	defaultCheckpointDir = "models"
	defaultNumSeq        = 10
)

type (
	ScoreSummary = model.ScoreSummary
	ScoreReport  = scoring.Report
	RunRecord    = model.RunRecord
)

type Options struct {
	StoreKind     string
	DBPath        string
	RunsDir       string
	ExportsDir    string
	LogPath       string
	CheckpointDir string
	Logger        *zap.Logger
}

type Client struct {
	store storage.Store
	log   *trainlog.Sink

	runsDir       string
	exportsDir    string
	checkpointDir string
	logger        *zap.Logger
	now           func() time.Time

	initMu      sync.Mutex
	initialized bool
}

// GenerateRequest trains on Rows and samples synthetic sequences. With
// Labels every contiguous class block gets its own model and NumSeq holds
// one count per class (a single value applies to all classes). Zero fields
// take the defaults of the single or multi-class orchestrator.
type GenerateRequest struct {
	Source          string
	Rows            [][]float64
	Labels          []string
	NumSeq          []int
	Epochs          int
	CheckpointEvery int
	BatchSize       int
	Workers         int
	LearningRate    float64
	NumLayers       int
	HiddenSize      int
	NumMixtures     int
	NumSteps        int
	Seed            int64
}

type GenerateSummary struct {
	RunID        string
	ArtifactsDir string
	Synthetic    [][]float64
	Labels       []string
	Loss         float64
	LossHistory  []float64
	Scores       ScoreSummary
}

// ImputeRequest completes Target, whose NaN entries are missing. When
// Target is nil it is built from Sequence by blanking [Start,End) and
// pinning the reference points.
type ImputeRequest struct {
	Source     string
	Corpus     [][]float64
	Target     []float64
	Sequence   []float64
	Start      int
	End        int
	RefX       []int
	RefY       []float64
	MissRate   float64
	MaskPolicy string
	BatchSize  int
	HintRate   float64
	Alpha      float64
	Iterations int
	Seed       int64
}

type ImputeSummary struct {
	RunID           string
	ArtifactsDir    string
	Vector          []float64
	Reconstructions [][]float64
	Trained         bool
	GeneratorLoss   float64
}

type ScoreRequest struct {
	Original  [][]float64
	Generated [][]float64
	Labels    []string
	Order     int
	Number    int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logPath := opts.LogPath
	if logPath == "" {
		logPath = defaultLogPath
	}
	checkpointDir := opts.CheckpointDir
	if checkpointDir == "" {
		checkpointDir = defaultCheckpointDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	sink, err := trainlog.NewSink(logPath)
	if err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}

	return &Client{
		store:         store,
		log:           sink.WithLogger(logger.Named("trainlog")),
		runsDir:       runsDir,
		exportsDir:    exportsDir,
		checkpointDir: checkpointDir,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// TrainingLog is the log every run of this client writes to.
func (c *Client) TrainingLog() *trainlog.Sink {
	return c.log
}

func (c *Client) Init(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	c.initialized = true
	return nil
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateSummary, error) {
	ds := dataset.Dataset{Rows: req.Rows, Labels: req.Labels}
	if len(ds.Labels) == 0 {
		ds.Labels = nil
	}
	if err := ds.Validate(); err != nil {
		return GenerateSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return GenerateSummary{}, err
	}

	now := c.now().UTC()
	runID := newRunID(model.RunKindGenerate)
	checkpointDir := filepath.Join(c.checkpointDir, runID)
	defer os.RemoveAll(checkpointDir)

	cfg := modelConfig(req)
	gen := generate.New(c.log, c.logger.With(zap.String("run_id", runID)))

	var (
		synthetic   [][]float64
		labels      []string
		loss        float64
		history     []float64
		classes     []string
		runConfig   stats.RunConfig
		numClasses  int
		perClassSeq []int
	)
	if ds.HasLabels() {
		blocks, err := generate.ClassBlocks(ds.Labels)
		if err != nil {
			return GenerateSummary{}, err
		}
		perClassSeq, err = perClassCounts(req.NumSeq, len(blocks))
		if err != nil {
			return GenerateSummary{}, err
		}
		mreq := generate.DefaultMultiRequest()
		mreq.NumClasses = len(blocks)
		mreq.NumSeq = perClassSeq
		mreq.CheckpointDir = checkpointDir
		mreq.Base.Model = cfg
		if req.Epochs > 0 {
			mreq.Epochs = req.Epochs
		}
		if req.CheckpointEvery > 0 {
			mreq.CheckpointEvery = req.CheckpointEvery
		}
		if req.Workers > 0 {
			mreq.Workers = req.Workers
		}
		res, err := gen.MultiClass(ctx, ds, mreq)
		if err != nil {
			return GenerateSummary{}, err
		}
		synthetic, labels, loss = res.Synthetic, res.Labels, res.Loss
		curves := make([][]float64, len(res.PerClass))
		for i, r := range res.PerClass {
			curves[i] = r.LossHistory
		}
		history = stats.AverageCurve(curves)
		c.logger.Debug("class losses",
			zap.String("run_id", runID),
			zap.Float64s("best_loss", stats.CurveMinima(curves)),
		)
		for _, b := range blocks {
			classes = append(classes, b.Label)
		}
		numClasses = len(blocks)
		runConfig = stats.RunConfig{Epochs: mreq.Epochs, CheckpointEvery: mreq.CheckpointEvery, Workers: mreq.Workers}
	} else {
		sreq := generate.DefaultRequest()
		sreq.CheckpointDir = checkpointDir
		sreq.Model = cfg
		if len(req.NumSeq) > 0 {
			sreq.NumSeq = req.NumSeq[0]
		}
		if req.Epochs > 0 {
			sreq.Epochs = req.Epochs
		}
		if req.CheckpointEvery > 0 {
			sreq.CheckpointEvery = req.CheckpointEvery
		}
		if req.BatchSize > 0 {
			sreq.BatchSize = req.BatchSize
		}
		res, err := gen.Single(ctx, ds.Rows, sreq)
		if err != nil {
			return GenerateSummary{}, err
		}
		synthetic, loss, history = res.Synthetic, res.Loss, res.LossHistory
		perClassSeq = []int{sreq.NumSeq}
		runConfig = stats.RunConfig{Epochs: sreq.Epochs, CheckpointEvery: sreq.CheckpointEvery, BatchSize: sreq.BatchSize}
	}

	report := scoring.Score(ds.Rows, synthetic, labels, scoring.DefaultOptions())
	runConfig.RunID = runID
	runConfig.Kind = model.RunKindGenerate
	runConfig.Input = req.Source
	runConfig.LabelColumn = ds.HasLabels()
	runConfig.NumClasses = numClasses
	runConfig.NumSeq = perClassSeq
	runConfig.LearningRate = cfg.LearningRate
	runConfig.NumLayers = cfg.NumLayers
	runConfig.HiddenSize = cfg.HiddenSize
	runConfig.NumMixtures = cfg.NumMixtures
	runConfig.NumSteps = cfg.NumSteps
	runConfig.Seed = cfg.Seed

	runDir, err := c.record(ctx, recordInput{
		now:     now,
		config:  runConfig,
		classes: classes,
		seqLen:  ds.SeqLen(),
		count:   len(synthetic),
		loss:    loss,
		history: history,
		artifacts: stats.RunArtifacts{
			LossHistory: history,
			FinalLoss:   loss,
			Synthetic:   synthetic,
			Labels:      labels,
			Scores:      &report,
		},
		summary: report.Summary(),
	})
	if err != nil {
		return GenerateSummary{}, err
	}

	return GenerateSummary{
		RunID:        runID,
		ArtifactsDir: runDir,
		Synthetic:    synthetic,
		Labels:       labels,
		Loss:         loss,
		LossHistory:  append([]float64(nil), history...),
		Scores:       report.Summary(),
	}, nil
}

func (c *Client) Impute(ctx context.Context, req ImputeRequest) (ImputeSummary, error) {
	if err := dataset.CheckRectangular(req.Corpus); err != nil {
		return ImputeSummary{}, err
	}
	target := req.Target
	if target == nil {
		if req.Sequence == nil {
			return ImputeSummary{}, errors.New("impute requires a target or a sequence")
		}
		target = impute.PrepareTarget(req.Sequence, req.Start, req.End, req.RefX, req.RefY)
	}
	if err := c.Init(ctx); err != nil {
		return ImputeSummary{}, err
	}

	ireq := impute.DefaultRequest()
	if req.MissRate > 0 {
		ireq.MissRate = req.MissRate
	}
	policy, err := impute.PolicyByName(req.MaskPolicy, ireq.MissRate)
	if err != nil {
		return ImputeSummary{}, err
	}
	ireq.Policy = policy
	ireq.Params = imputeParams(req)

	now := c.now().UTC()
	runID := newRunID(model.RunKindImpute)
	imp := impute.New(c.log, c.logger.With(zap.String("run_id", runID)))
	res, err := imp.Impute(ctx, req.Corpus, target, ireq)
	if err != nil {
		return ImputeSummary{}, err
	}

	policyName := req.MaskPolicy
	if policyName == "" {
		policyName = "gap"
	}
	runDir, err := c.record(ctx, recordInput{
		now: now,
		config: stats.RunConfig{
			RunID:       runID,
			Kind:        model.RunKindImpute,
			Input:       req.Source,
			MissRate:    ireq.MissRate,
			MaskPolicy:  policyName,
			BatchSize:   ireq.Params.BatchSize,
			HintRate:    ireq.Params.HintRate,
			Alpha:       ireq.Params.Alpha,
			Iterations:  ireq.Params.Iterations,
			DeleteStart: req.Start,
			DeleteEnd:   req.End,
			Seed:        ireq.Params.Seed,
		},
		seqLen:     len(target),
		count:      1,
		loss:       res.GeneratorLoss,
		iterations: ireq.Params.Iterations,
		artifacts: stats.RunArtifacts{
			FinalLoss: res.GeneratorLoss,
			Imputed:   res.Vector,
		},
	})
	if err != nil {
		return ImputeSummary{}, err
	}

	return ImputeSummary{
		RunID:           runID,
		ArtifactsDir:    runDir,
		Vector:          res.Vector,
		Reconstructions: res.Reconstructions,
		Trained:         res.Trained,
		GeneratorLoss:   res.GeneratorLoss,
	}, nil
}

// Score compares two datasets without recording a run.
func (c *Client) Score(_ context.Context, req ScoreRequest) (ScoreReport, error) {
	return Score(req)
}

// Score is Client.Score for callers without a client; it touches neither
// the run store nor the training log.
func Score(req ScoreRequest) (ScoreReport, error) {
	if err := dataset.CheckRectangular(req.Original); err != nil {
		return ScoreReport{}, fmt.Errorf("original: %w", err)
	}
	if len(req.Generated) > 0 {
		if err := dataset.CheckRectangular(req.Generated); err != nil {
			return ScoreReport{}, fmt.Errorf("generated: %w", err)
		}
	}
	opts := scoring.DefaultOptions()
	if req.Order > 0 {
		opts.NoveltyOrder = req.Order
	}
	if req.Number > 0 {
		opts.NoveltyNumber = req.Number
	}
	return scoring.Score(req.Original, req.Generated, req.Labels, opts), nil
}

type recordInput struct {
	now        time.Time
	config     stats.RunConfig
	classes    []string
	seqLen     int
	count      int
	loss       float64
	iterations int
	history    []float64
	artifacts  stats.RunArtifacts
	summary    ScoreSummary
}

// record writes the run artifacts and index entry and saves the run record,
// its loss history and score summary to the store.
func (c *Client) record(ctx context.Context, in recordInput) (string, error) {
	in.artifacts.Config = in.config
	runDir, err := stats.WriteRunArtifacts(c.runsDir, in.artifacts)
	if err != nil {
		return "", err
	}
	createdAt := in.now.Format(time.RFC3339Nano)
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:        in.config.RunID,
		Kind:         in.config.Kind,
		Classes:      len(in.classes),
		Sequences:    in.count,
		SeqLen:       in.seqLen,
		FinalLoss:    in.loss,
		CreatedAtUTC: createdAt,
	}); err != nil {
		return "", err
	}

	run := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              in.config.RunID,
		Kind:            in.config.Kind,
		CreatedAtUTC:    createdAt,
		Classes:         in.classes,
		Sequences:       in.count,
		SeqLen:          in.seqLen,
		Epochs:          in.config.Epochs,
		Iterations:      in.iterations,
		FinalLoss:       in.loss,
		ArtifactsDir:    filepath.Clean(runDir),
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return "", err
	}
	if len(in.history) > 0 {
		if err := c.store.SaveLossHistory(ctx, run.ID, in.history); err != nil {
			return "", err
		}
	}
	if in.artifacts.Scores != nil {
		summary := in.summary
		summary.VersionedRecord = storage.CurrentVersion()
		if err := c.store.SaveScoreReport(ctx, run.ID, summary); err != nil {
			return "", err
		}
	}
	c.logger.Info("run recorded",
		zap.String("run_id", run.ID),
		zap.String("kind", run.Kind),
		zap.Float64("final_loss", run.FinalLoss),
	)
	return filepath.Clean(runDir), nil
}

func newRunID(kind string) string {
	return kind + "-" + uuid.NewString()
}

func modelConfig(req GenerateRequest) seqmodel.Config {
	cfg := seqmodel.DefaultConfig()
	if req.LearningRate > 0 {
		cfg.LearningRate = req.LearningRate
	}
	if req.NumLayers > 0 {
		cfg.NumLayers = req.NumLayers
	}
	if req.HiddenSize > 0 {
		cfg.HiddenSize = req.HiddenSize
	}
	if req.NumMixtures > 0 {
		cfg.NumMixtures = req.NumMixtures
	}
	if req.NumSteps > 0 {
		cfg.NumSteps = req.NumSteps
	}
	if req.BatchSize > 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	return cfg
}

func imputeParams(req ImputeRequest) gain.Params {
	params := gain.DefaultParams()
	if req.BatchSize > 0 {
		params.BatchSize = req.BatchSize
	}
	if req.HintRate > 0 {
		params.HintRate = req.HintRate
	}
	if req.Alpha > 0 {
		params.Alpha = req.Alpha
	}
	if req.Iterations > 0 {
		params.Iterations = req.Iterations
	}
	if req.Seed != 0 {
		params.Seed = req.Seed
	}
	return params
}

func perClassCounts(numSeq []int, classes int) ([]int, error) {
	switch len(numSeq) {
	case 0:
		out := make([]int, classes)
		for i := range out {
			out[i] = defaultNumSeq
		}
		return out, nil
	case 1:
		out := make([]int, classes)
		for i := range out {
			out[i] = numSeq[0]
		}
		return out, nil
	case classes:
		return append([]int(nil), numSeq...), nil
	default:
		return nil, fmt.Errorf("got %d sequence counts for %d classes", len(numSeq), classes)
	}
}
