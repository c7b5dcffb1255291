package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"igan/internal/dataset"
	"igan/internal/logging"
	"igan/internal/scoring"
	"igan/internal/server"
	"igan/internal/session"
	"igan/internal/stats"
	"igan/internal/storage"
	igan "igan/pkg/igan"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
	defaultDB  = "igan.db"
	defaultLog = "server_data/training_log.txt"
	envFile    = ".env"
)

var stdout io.Writer = os.Stdout

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}
	if err := loadDotEnv(envFile); err != nil {
		return err
	}

	switch args[0] {
	case "generate":
		return runGenerate(ctx, args[1:])
	case "impute":
		return runImpute(ctx, args[1:])
	case "score":
		return runScore(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "serve":
		return runServe(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// clientFlags are the storage and logging flags shared by the commands that
// open a client.
type clientFlags struct {
	storeKind *string
	dbPath    *string
	runsDir   *string
	logPath   *string
	logLevel  *string
}

func addClientFlags(fs *flag.FlagSet, defaultLevel string) clientFlags {
	return clientFlags{
		storeKind: fs.String("store", envOr("IGAN_STORE", storage.DefaultStoreKind()), "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", envOr("IGAN_DB_PATH", defaultDB), "sqlite database path"),
		runsDir:   fs.String("runs-dir", envOr("IGAN_RUNS_DIR", runsDir), "run artifacts directory"),
		logPath:   fs.String("training-log", envOr("IGAN_TRAINING_LOG", defaultLog), "training log file"),
		logLevel:  fs.String("log-level", envOr("IGAN_LOG_LEVEL", defaultLevel), "log level: debug|info|warn|error|off"),
	}
}

func (f clientFlags) open(logOut io.Writer) (*igan.Client, *zap.Logger, error) {
	logger, err := logging.NewTo(*f.logLevel, logOut, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	client, err := igan.New(igan.Options{
		StoreKind: *f.storeKind,
		DBPath:    *f.dbPath,
		RunsDir:   *f.runsDir,
		LogPath:   *f.logPath,
		Logger:    logger,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return client, logger, nil
}

func visited(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	common := addClientFlags(fs, "warn")
	in := fs.String("in", "", "input CSV, one sequence per row, or a directory of single-column CSV files")
	labels := fs.Bool("labels", false, "first CSV column is the class label")
	normalize := fs.Bool("normalize", true, "scale every sequence to zero mean and unit variance")
	configPath := fs.String("config", "", "optional JSON config with a generate section")
	out := fs.String("out", "", "optional path for the generated CSV")
	jsonOut := fs.Bool("json", false, "emit the summary as JSON")
	numSeq := fs.String("num-seq", "", "sequences to generate; one value or one per class, comma separated")
	epochs := fs.Int("epochs", 0, "training epochs")
	checkpointEvery := fs.Int("checkpoint-every", 0, "epochs between checkpoints")
	batchSize := fs.Int("batch-size", 0, "training batch size")
	workers := fs.Int("workers", 0, "classes trained concurrently")
	learningRate := fs.Float64("learning-rate", 0, "adam learning rate")
	numLayers := fs.Int("num-layers", 0, "recurrent layers")
	hiddenSize := fs.Int("hidden-size", 0, "recurrent hidden units")
	numMixtures := fs.Int("num-mixtures", 0, "gaussian mixture components")
	numSteps := fs.Int("num-steps", 0, "window length in steps")
	seed := fs.Int64("seed", 0, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("generate requires --in")
	}

	cfg, err := loadOrDefaultRequestConfig(*configPath)
	if err != nil {
		return err
	}
	req := cfg.Generate
	if err := overrideGenerateFromFlags(&req, visited(fs), map[string]any{
		"num-seq":          *numSeq,
		"epochs":           *epochs,
		"checkpoint-every": *checkpointEvery,
		"batch-size":       *batchSize,
		"workers":          *workers,
		"learning-rate":    *learningRate,
		"num-layers":       *numLayers,
		"hidden-size":      *hiddenSize,
		"num-mixtures":     *numMixtures,
		"num-steps":        *numSteps,
		"seed":             *seed,
	}); err != nil {
		return err
	}

	ds, err := loadInput(*in, *labels)
	if err != nil {
		return err
	}
	if *normalize {
		ds.Rows = dataset.Normalize(ds.Rows)
	}
	req.Source = *in
	req.Rows = ds.Rows
	req.Labels = ds.Labels

	client, logger, err := common.open(os.Stderr)
	if err != nil {
		return err
	}
	defer client.Close()
	defer logger.Sync() //nolint:errcheck

	summary, err := client.Generate(ctx, req)
	if err != nil {
		return err
	}
	if *out != "" {
		if err := writeGeneratedCSV(*out, summary.Synthetic, summary.Labels); err != nil {
			return err
		}
	}
	if *jsonOut {
		return encodeJSON(summary)
	}
	fmt.Fprintf(stdout, "run_id=%s sequences=%s seq_len=%d final_loss=%.6f novelty=%.6f diversity=%.6f rmse=%s artifacts=%s\n",
		summary.RunID,
		humanize.Comma(int64(len(summary.Synthetic))),
		ds.SeqLen(),
		summary.Loss,
		summary.Scores.Novelty,
		summary.Scores.Diversity,
		formatOptional(summary.Scores.RMSE),
		summary.ArtifactsDir,
	)
	return nil
}

func runImpute(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("impute", flag.ContinueOnError)
	common := addClientFlags(fs, "warn")
	in := fs.String("in", "", "training corpus CSV, one sequence per row")
	labels := fs.Bool("labels", false, "first corpus column is a class label (ignored)")
	targetPath := fs.String("target", "", "CSV whose first row is the sequence to complete; nan marks missing values")
	start := fs.Int("start", 0, "first position of the span to blank")
	end := fs.Int("end", 0, "end (exclusive) of the span to blank")
	refs := fs.String("ref", "", "reference points kept inside the span, x:y pairs separated by commas")
	configPath := fs.String("config", "", "optional JSON config with an impute section")
	jsonOut := fs.Bool("json", false, "emit the summary as JSON")
	missRate := fs.Float64("miss-rate", 0, "fraction of each training row masked")
	maskPolicy := fs.String("mask-policy", "", "training mask policy: gap|bernoulli")
	batchSize := fs.Int("batch-size", 0, "training batch size")
	hintRate := fs.Float64("hint-rate", 0, "hint rate")
	alpha := fs.Float64("alpha", 0, "reconstruction loss weight")
	iterations := fs.Int("iterations", 0, "training iterations")
	seed := fs.Int64("seed", 0, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *targetPath == "" {
		return errors.New("impute requires --in and --target")
	}
	if *end < *start {
		return fmt.Errorf("invalid span [%d,%d)", *start, *end)
	}

	cfg, err := loadOrDefaultRequestConfig(*configPath)
	if err != nil {
		return err
	}
	req := cfg.Impute
	overrideImputeFromFlags(&req, visited(fs), map[string]any{
		"miss-rate":   *missRate,
		"mask-policy": *maskPolicy,
		"batch-size":  *batchSize,
		"hint-rate":   *hintRate,
		"alpha":       *alpha,
		"iterations":  *iterations,
		"seed":        *seed,
	})

	corpus, err := dataset.LoadMatrixCSV(*in, *labels)
	if err != nil {
		return err
	}
	target, err := dataset.LoadMatrixCSV(*targetPath, false)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	xs, ys, err := parseReferences(*refs)
	if err != nil {
		return err
	}
	req.Source = *in
	req.Corpus = corpus.Rows
	if *end > *start || len(xs) > 0 {
		req.Sequence = target.Rows[0]
		req.Start, req.End = *start, *end
		req.RefX, req.RefY = xs, ys
	} else {
		req.Target = target.Rows[0]
	}

	client, logger, err := common.open(os.Stderr)
	if err != nil {
		return err
	}
	defer client.Close()
	defer logger.Sync() //nolint:errcheck

	summary, err := client.Impute(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		return encodeJSON(summary)
	}
	fmt.Fprintf(stdout, "run_id=%s trained=%t generator_loss=%.6f artifacts=%s\n",
		summary.RunID, summary.Trained, summary.GeneratorLoss, summary.ArtifactsDir)
	fmt.Fprintf(stdout, "imputed=%s\n", joinFloats(summary.Vector))
	return nil
}

func runScore(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	origPath := fs.String("orig", "", "original dataset CSV")
	genPath := fs.String("gen", "", "optional generated dataset CSV")
	labels := fs.Bool("labels", false, "first column of --orig is the class label")
	order := fs.Int("order", 0, "novelty neighbour order")
	number := fs.Int("number", 0, "novelty neighbour count")
	normalize := fs.Bool("normalize", false, "normalize both datasets before scoring")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *origPath == "" {
		return errors.New("score requires --orig")
	}

	original, err := dataset.LoadMatrixCSV(*origPath, *labels)
	if err != nil {
		return fmt.Errorf("original: %w", err)
	}
	req := igan.ScoreRequest{Original: original.Rows, Labels: original.Labels, Order: *order, Number: *number}
	if *genPath != "" {
		generated, err := dataset.LoadMatrixCSV(*genPath, *labels)
		if err != nil {
			return fmt.Errorf("generated: %w", err)
		}
		req.Generated = generated.Rows
	}
	if *normalize {
		req.Original = dataset.Normalize(req.Original)
		if req.Generated != nil {
			req.Generated = dataset.Normalize(req.Generated)
		}
	}

	report, err := igan.Score(req)
	if err != nil {
		return err
	}
	return encodeJSON(report)
}

func runRuns(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	dir := fs.String("runs-dir", envOr("IGAN_RUNS_DIR", runsDir), "run artifacts directory")
	limit := fs.Int("limit", 20, "max runs to list")
	kind := fs.String("kind", "", "only list runs of this kind: generate|impute")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	entries, err := stats.ListRunIndex(*dir)
	if err != nil {
		return err
	}
	filtered := entries[:0]
	for _, e := range entries {
		if *kind == "" || e.Kind == *kind {
			filtered = append(filtered, e)
		}
	}
	entries = filtered
	if len(entries) > *limit {
		entries = entries[:*limit]
	}
	if *jsonOut {
		return encodeJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}

	for _, e := range entries {
		created := e.CreatedAtUTC
		if t, err := time.Parse(time.RFC3339Nano, e.CreatedAtUTC); err == nil {
			created = humanize.Time(t)
		}
		fmt.Fprintf(stdout, "run_id=%s kind=%s created=%q classes=%d sequences=%s seq_len=%d final_loss=%.6f\n",
			e.RunID,
			e.Kind,
			created,
			e.Classes,
			humanize.Comma(int64(e.Sequences)),
			e.SeqLen,
			e.FinalLoss,
		)
	}
	return nil
}

// runShow prints one run from its on-disk artifacts, so runs recorded by
// earlier processes are visible regardless of the store backend.
func runShow(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	dir := fs.String("runs-dir", envOr("IGAN_RUNS_DIR", runsDir), "run artifacts directory")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run from the run index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := resolveRunID(*dir, *runID, *latest)
	if err != nil {
		return err
	}

	cfg, err := stats.ReadRunConfig(*dir, id)
	if err != nil {
		return err
	}
	history, err := stats.ReadLossHistory(*dir, id)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	report, ok, err := stats.ReadScoreReport(*dir, id)
	if err != nil {
		return err
	}

	type showOutput struct {
		Config      stats.RunConfig    `json:"config"`
		LossHistory []float64          `json:"loss_history,omitempty"`
		Scores      *igan.ScoreSummary `json:"scores,omitempty"`
	}
	out := showOutput{Config: cfg, LossHistory: history}
	if ok {
		summary := report.Summary()
		out.Scores = &summary
	}
	return encodeJSON(out)
}

func runExport(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dir := fs.String("runs-dir", envOr("IGAN_RUNS_DIR", runsDir), "run artifacts directory")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := resolveRunID(*dir, *runID, *latest)
	if err != nil {
		return err
	}

	exportedDir, err := stats.ExportRunArtifacts(*dir, id, *outDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", id, filepath.Clean(exportedDir))
	return nil
}

func resolveRunID(dir, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either --run-id or --latest, not both")
	}
	if runID == "" && !latest {
		return "", errors.New("requires --run-id or --latest")
	}
	if runID != "" {
		return runID, nil
	}
	entries, err := stats.ListRunIndex(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	common := addClientFlags(fs, "info")
	addr := fs.String("addr", envOr("IGAN_ADDR", ":8080"), "listen address")
	configPath := fs.String("config", "", "optional JSON config with generate and impute sections")
	pollInterval := fs.Duration("poll-interval", server.DefaultPollInterval, "training log poll interval of the event stream")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadOrDefaultRequestConfig(*configPath)
	if err != nil {
		return err
	}

	client, logger, err := common.open(os.Stdout)
	if err != nil {
		return err
	}
	defer client.Close()
	defer logger.Sync() //nolint:errcheck
	if err := client.Init(ctx); err != nil {
		return err
	}

	dispatcher := session.NewDispatcher(
		session.NewState(),
		client.SessionEngine(cfg.Generate, cfg.Impute),
		scoring.DefaultOptions(),
		logger.Named("session"),
	)
	srv := server.New(dispatcher, client.TrainingLog(), logger.Named("server"), server.WithPollInterval(*pollInterval))
	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", *addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func loadInput(path string, labels bool) (dataset.Dataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return dataset.Dataset{}, err
	}
	if info.IsDir() {
		return dataset.LoadCSVDir(path)
	}
	return dataset.LoadMatrixCSV(path, labels)
}

func writeGeneratedCSV(path string, rows [][]float64, labels []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := stats.WriteSyntheticCSV(f, rows, labels); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func encodeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.6f", *v)
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: iganctl <generate|impute|score|runs|show|export|serve> [flags]", msg)
}
