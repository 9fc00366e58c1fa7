// Package telemetry persists training and validation metrics as Parquet
// files for offline analysis.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/soundprediction/ordino/pkg/letor"
)

// Row is a single scalar observation from a run. Value is the weighted mean
// of the metric over the interval it was recorded for, Count the total
// weight behind it.
type Row struct {
	Run   string    `parquet:"run"`
	Epoch int64     `parquet:"epoch"`
	Step  int64     `parquet:"step"`
	Key   string    `parquet:"key"`
	Value float64   `parquet:"value"`
	Count float64   `parquet:"count"`
	Time  time.Time `parquet:"time"`
}

// Sink buffers metric rows and writes them to timestamped Parquet files in
// a run directory. Each flush produces a new file, so a crashed run keeps
// everything written up to its last flush.
type Sink struct {
	outputDir string
	mu        sync.Mutex
	buffer    []Row
	batchSize int
}

// NewSink creates a Sink writing to outputDir, flushing whenever the buffer
// reaches batchSize rows. batchSize <= 0 selects the default of 100.
func NewSink(outputDir string, batchSize int) (*Sink, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sink{
		outputDir: outputDir,
		batchSize: batchSize,
		buffer:    make([]Row, 0, batchSize),
	}, nil
}

// Record appends rows to the buffer, flushing when it reaches the batch size.
func (s *Sink) Record(rows ...Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, rows...)

	if len(s.buffer) >= s.batchSize {
		return s.flush()
	}
	return nil
}

// RecordMetrics converts a metrics snapshot into rows stamped with the run
// name, epoch and step.
func (s *Sink) RecordMetrics(run string, epoch, step int64, metrics []letor.ScalarMetric) error {
	now := time.Now().UTC()
	rows := make([]Row, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, Row{
			Run:   run,
			Epoch: epoch,
			Step:  step,
			Key:   m.Key,
			Value: m.Mean(),
			Count: m.Count,
			Time:  now,
		})
	}
	return s.Record(rows...)
}

// Flush writes any buffered rows to a new Parquet file.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// flush writes the current buffer to a new Parquet file.
// Caller must hold the lock.
func (s *Sink) flush() error {
	if len(s.buffer) == 0 {
		return nil
	}

	filename := fmt.Sprintf("metrics_%s_%d.parquet", time.Now().Format("20060102_150405"), time.Now().UnixNano())
	path := filepath.Join(s.outputDir, filename)

	if err := parquet.WriteFile(path, s.buffer); err != nil {
		return fmt.Errorf("failed to write metrics parquet file: %w", err)
	}

	s.buffer = s.buffer[:0]
	return nil
}

// Close flushes whatever is left in the buffer.
func (s *Sink) Close() error {
	return s.Flush()
}

// ReadRows loads every metric file in dir, in filename order. Intended for
// tests and small offline reports rather than bulk analysis.
func ReadRows(dir string) ([]Row, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "metrics_*.parquet"))
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, path := range paths {
		part, err := parquet.ReadFile[Row](path)
		if err != nil {
			return nil, fmt.Errorf("failed to read metrics parquet file %s: %w", filepath.Base(path), err)
		}
		rows = append(rows, part...)
	}
	return rows, nil
}
