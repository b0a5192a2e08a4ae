// Package sink persists validated records. The primary sink is an
// append-only JSON Lines file flushed per line; an optional Postgres store
// mirrors product records for downstream price tracking.
package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricewatchbd/crawler/internal/metrics"
)

// JSONLines writes one JSON object per line. Writes are flushed per line:
// run volumes are modest and an interrupted run must still leave a valid
// file behind. Safe for concurrent use.
type JSONLines struct {
	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	path    string
	written int
	logger  *zap.Logger
}

// NewExport opens a timestamped export file for a job, creating the output
// directory if needed. The timestamp in the name keeps repeated runs from
// colliding or silently overwriting each other.
func NewExport(dir, job string, now time.Time, logger *zap.Logger) (*JSONLines, error) {
	name := fmt.Sprintf("%s_export_%s.jl", job, now.Format("2006-01-02_15-04-05"))
	return open(filepath.Join(dir, name), logger)
}

// NewCategoryFile opens the fixed-name category file for a site,
// truncating any previous run's output. The fixed name is what lets the
// product phase find its input without coordination.
func NewCategoryFile(dir, site string, logger *zap.Logger) (*JSONLines, error) {
	return open(CategoryFilePath(dir, site), logger)
}

// CategoryFilePath returns the agreed category file location for a site.
func CategoryFilePath(dir, site string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_categories.jl", site))
}

func open(path string, logger *zap.Logger) (*JSONLines, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir %s: %w", filepath.Dir(path), err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open sink file %s: %w", path, err)
	}
	return &JSONLines{
		file:   file,
		w:      bufio.NewWriter(file),
		path:   path,
		logger: logger,
	}, nil
}

// Write appends one record as a JSON line. A record that fails to
// serialize is logged and dropped, not fatal to the run; only I/O failures
// surface as errors.
func (s *JSONLines) Write(rec any) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("dropping unserializable record",
			zap.String("path", s.path),
			zap.Error(err),
		)
		metrics.ItemsDropped.WithLabelValues("serialization").Inc()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(payload); err != nil {
		return fmt.Errorf("write record to %s: %w", s.path, err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write record to %s: %w", s.path, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	s.written++
	metrics.ItemsWritten.Inc()
	return nil
}

// Close flushes and closes the file.
func (s *JSONLines) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	s.logger.Info("sink closed",
		zap.String("path", s.path),
		zap.Int("records_written", s.written),
	)
	return nil
}

// Path returns the file the sink writes to.
func (s *JSONLines) Path() string { return s.path }

// Written returns the number of records successfully appended.
func (s *JSONLines) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
