// Package trainlog is the plain-text training log shared between the
// orchestrators that write it and the log stream that tails it.
package trainlog

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink appends one message per line to a file. A nil *Sink discards
// everything, so orchestrators can run without a log.
type Sink struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
	// generation counts Clear calls.
	generation uint64
}

func NewSink(path string) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return &Sink{path: path, logger: zap.NewNop()}, nil
}

// WithLogger mirrors every appended line to logger at info level.
func (s *Sink) WithLogger(logger *zap.Logger) *Sink {
	if s != nil && logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Sink) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Sink) Append(msg string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if _, err := f.WriteString(msg + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append log: %w", err)
	}
	s.logger.Info(msg, zap.String("log", s.path))
	return f.Close()
}

// Appendf is Append with formatting.
func (s *Sink) Appendf(format string, args ...any) error {
	return s.Append(fmt.Sprintf(format, args...))
}

// Clear truncates the log and starts a new generation.
func (s *Sink) Clear() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Truncate(s.path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear log: %w", err)
	}
	s.generation++
	return nil
}

// Lines returns the current content, one entry per line.
func (s *Sink) Lines() ([]string, error) {
	lines, _, err := s.snapshot()
	return lines, err
}

// snapshot reads the lines together with the generation they belong to.
func (s *Sink) snapshot() ([]string, uint64, error) {
	if s == nil {
		return nil, 0, nil
	}
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	generation := s.generation
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, generation, nil
	}
	if err != nil {
		return nil, generation, fmt.Errorf("read log: %w", err)
	}
	lines, err := splitLines(data)
	return lines, generation, err
}

func splitLines(data []byte) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// Follower remembers how many lines of the current generation it has
// already handed out. After a Clear, or when the file shrinks under it, it
// starts again from the top.
type Follower struct {
	sink       *Sink
	emitted    int
	generation uint64
}

func (s *Sink) Follower() *Follower {
	f := &Follower{sink: s}
	if s != nil {
		s.mu.Lock()
		f.generation = s.generation
		s.mu.Unlock()
	}
	return f
}

// Poll returns lines appended since the previous Poll.
func (f *Follower) Poll() ([]string, error) {
	lines, generation, err := f.sink.snapshot()
	if err != nil {
		return nil, err
	}
	if generation != f.generation || len(lines) < f.emitted {
		f.generation = generation
		f.emitted = 0
	}
	fresh := lines[f.emitted:]
	f.emitted = len(lines)
	return fresh, nil
}

// Follow polls every interval and passes new lines to emit until ctx is
// done or emit fails.
func (f *Follower) Follow(ctx context.Context, interval time.Duration, emit func(string) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		lines, err := f.Poll()
		if err != nil {
			return err
		}
		for _, line := range lines {
			if err := emit(line); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
