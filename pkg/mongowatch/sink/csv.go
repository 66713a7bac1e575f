package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/admirito/mongowatch/pkg/mongowatch/record"
)

// CSVSink appends snapshots to a CSV audit file. The header row is
// written only when the file is new or empty, so repeated runs append
// to the same audit trail.
type CSVSink struct {
	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	columns []string
	closed  bool
}

// NewCSVSink opens (or creates) the audit file at path and records the
// named field columns after the fixed WatchID and Iteration columns.
func NewCSVSink(path string, columns []string) (*CSVSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv sink %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat csv sink %s: %w", path, err)
	}
	s := &CSVSink{
		file:    file,
		writer:  csv.NewWriter(file),
		columns: columns,
	}
	if info.Size() == 0 {
		if err := s.writer.Write(record.RowHeader(columns)); err != nil {
			file.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		s.writer.Flush()
	}
	return s, nil
}

func (s *CSVSink) Write(ctx context.Context, snap record.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("csv sink is closed")
	}
	if err := s.writer.Write(snap.Row(s.columns)); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	s.writer.Flush()
	return s.writer.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
