// Package server exposes the interactive session over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"igan/internal/dataset"
	"igan/internal/session"
	"igan/internal/stats"
	"igan/internal/trainlog"
)

const (
	DefaultPollInterval = time.Second
	maxUploadBytes      = 64 << 20
)

type Server struct {
	dispatcher   *session.Dispatcher
	log          *trainlog.Sink
	logger       *zap.Logger
	pollInterval time.Duration
}

type Option func(*Server)

func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func New(d *session.Dispatcher, log *trainlog.Sink, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{dispatcher: d, log: log, logger: logger, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/dataset", s.HandleDataset).Methods(http.MethodPost)
	r.HandleFunc("/api/commands", s.HandleCommand).Methods(http.MethodPost)
	r.HandleFunc("/api/state", s.HandleState).Methods(http.MethodGet)
	r.HandleFunc("/api/scores/{which}", s.HandleScores).Methods(http.MethodGet)
	r.HandleFunc("/generated_data.csv", s.HandleGeneratedCSV).Methods(http.MethodGet)
	r.HandleFunc("/log_stream", s.HandleLogStream).Methods(http.MethodGet)
	return r
}

// HandleDataset loads a CSV body (one sequence per record) as the original
// dataset, either as the raw body or as the multipart field "file". Query
// labels=true reads the first column as the class label;
// normalize=false keeps the raw values.
func (s *Server) HandleDataset(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	labels, err := boolParam(q.Get("labels"), false)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	normalize, err := boolParam(q.Get("normalize"), true)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var body io.Reader = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("upload: %w", err))
			return
		}
		defer file.Close()
		body = file
	}
	ds, err := dataset.ReadMatrixCSV(body, labels)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if normalize {
		ds.Rows = dataset.Normalize(ds.Rows)
	}
	s.dispatch(w, r, session.Command{Kind: session.KindLoad, Rows: ds.Rows, Labels: ds.Labels})
}

func (s *Server) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd session.Command
	if err := decode(r.Body, &cmd); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.dispatch(w, r, cmd)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, cmd session.Command) {
	view, err := s.dispatcher.Dispatch(r.Context(), cmd)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) HandleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.State().Snapshot().View())
}

// HandleScores returns the chart inputs of the original ("orig") or
// generated ("gen") dataset.
func (s *Server) HandleScores(w http.ResponseWriter, r *http.Request) {
	snap := s.dispatcher.State().Snapshot()
	if snap.Report == nil {
		s.writeError(w, http.StatusNotFound, session.ErrNoData)
		return
	}
	switch which := mux.Vars(r)["which"]; which {
	case "orig":
		writeJSON(w, http.StatusOK, snap.Report.Original)
	case "gen":
		if snap.Report.Generated == nil {
			s.writeError(w, http.StatusNotFound, session.ErrNoGenerated)
			return
		}
		writeJSON(w, http.StatusOK, snap.Report.Generated)
	case "classes":
		writeJSON(w, http.StatusOK, map[string]any{
			"labels": snap.Report.ClassLabels,
			"counts": snap.Report.ClassCounts,
		})
	default:
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown score set %q", which))
	}
}

func (s *Server) HandleGeneratedCSV(w http.ResponseWriter, _ *http.Request) {
	generated := s.dispatcher.State().Snapshot().Generated
	if generated.Len() == 0 {
		s.writeError(w, http.StatusNotFound, session.ErrNoGenerated)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=generated_data.csv")
	if err := stats.WriteSyntheticCSV(w, generated.Rows, generated.Labels); err != nil {
		s.logger.Warn("write generated csv", zap.Error(err))
	}
}

// HandleLogStream streams training log lines as server-sent events until
// the client goes away.
func (s *Server) HandleLogStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	follower := s.log.Follower()
	err := follower.Follow(r.Context(), s.pollInterval, func(line string) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("log stream ended", zap.Error(err))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownCommand),
		errors.Is(err, dataset.ErrEmpty),
		errors.Is(err, dataset.ErrRaggedRows),
		errors.Is(err, dataset.ErrLabelLength):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoData),
		errors.Is(err, session.ErrNoGenerated),
		errors.Is(err, session.ErrStale),
		errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("json decode error: %w", err)
	}
	return nil
}

func boolParam(raw string, fallback bool) (bool, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
	return v, nil
}
