package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// CSVSink is a log-structured append-only CSV writer. Opening an
// existing file appends without rewriting the header; opening a new file
// writes the header first. Every Append is flushed before returning, so
// rows written before a later failure stay on disk. Thread-safe.
type CSVSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// NewCSVSink opens or creates an append-only results file at path,
// creating parent directories as needed.
func NewCSVSink(path string) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat results file: %w", err)
	}

	s := &CSVSink{path: path, file: f, w: csv.NewWriter(f)}

	// Header iff the file was newly created (or truncated empty).
	if info.Size() == 0 {
		if err := s.w.Write(Header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write results header: %w", err)
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to flush results header: %w", err)
		}
	}

	return s, nil
}

// Path returns the file path the sink writes to.
func (s *CSVSink) Path() string { return s.path }

// Append writes the rows and flushes them to disk.
func (s *CSVSink) Append(rows ...FitRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("results sink is closed")
	}
	for _, r := range rows {
		if err := s.w.Write(r.record()); err != nil {
			return fmt.Errorf("failed to append result row: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("failed to flush result rows: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file. Safe to call twice.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.w.Flush()
	flushErr := s.w.Error()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return fmt.Errorf("failed to flush results file: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close results file: %w", closeErr)
	}
	return nil
}

// ReadCSV reads every row of a results file written by CSVSink.
func ReadCSV(path string) ([]FitRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("results file %s is empty", path)
	}
	if len(records[0]) != len(Header) || records[0][0] != Header[0] {
		return nil, fmt.Errorf("results file %s has unexpected header %v", path, records[0])
	}

	rows := make([]FitRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		row, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("results file %s row %d: %w", path, i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRecord(rec []string) (FitRow, error) {
	var row FitRow
	if len(rec) != len(Header) {
		return row, fmt.Errorf("expected %d columns, got %d", len(Header), len(rec))
	}

	row.RunID = rec[0]
	row.Term = rec[1]
	row.Convergence = rec[6]

	floats := map[int]*float64{
		2: &row.Estimate, 3: &row.StdErr, 4: &row.Statistic, 5: &row.PValue,
		10: &row.Beta0, 11: &row.Beta1, 12: &row.Tau0, 13: &row.Tau1, 14: &row.Rho, 15: &row.Sigma,
	}
	for idx, dst := range floats {
		v, err := strconv.ParseFloat(rec[idx], 64)
		if err != nil {
			return row, fmt.Errorf("bad %s value %q: %w", Header[idx], rec[idx], err)
		}
		*dst = v
	}

	ints := map[int]*int{7: &row.NSubj, 8: &row.NPresent, 9: &row.NAbsent}
	for idx, dst := range ints {
		v, err := strconv.Atoi(rec[idx])
		if err != nil {
			return row, fmt.Errorf("bad %s value %q: %w", Header[idx], rec[idx], err)
		}
		*dst = v
	}
	return row, nil
}
