package results

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/powersim/internal/params"
)

func sampleRow(runID, term string, p float64) FitRow {
	return NewFitRow(runID, term, 29.5, 10.2, 2.89, p, "ok", params.Default())
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return len(strings.Split(strings.TrimRight(string(data), "\n"), "\n"))
}

func TestCSVSinkHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")

	sink, err := NewCSVSink(path)
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}
	if err := sink.Append(sampleRow("run-1", "(Intercept)", 0.001), sampleRow("run-1", "condition", 0.03)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := countLines(t, path); got != 3 {
		t.Fatalf("got %d lines after first open, want 3 (header + 2 rows)", got)
	}

	// Reopening appends without a second header.
	sink, err = NewCSVSink(path)
	if err != nil {
		t.Fatalf("NewCSVSink (reopen): %v", err)
	}
	if err := sink.Append(sampleRow("run-2", "condition", 0.2)); err != nil {
		t.Fatalf("Append (reopen): %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close (reopen): %v", err)
	}
	if got := countLines(t, path); got != 4 {
		t.Fatalf("got %d lines after reopen, want 4", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Count(string(data), "run_id") != 1 {
		t.Error("header written more than once")
	}
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")

	want := []FitRow{
		sampleRow("run-1", "(Intercept)", 1e-12),
		sampleRow("run-1", "condition", 0.049),
		sampleRow("run-2", "condition", 0.51),
	}
	want[2].Convergence = "singular"

	sink, err := NewCSVSink(path)
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}
	if err := sink.Append(want...); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCSVSinkClosedAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	sink, err := NewCSVSink(path)
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if err := sink.Append(sampleRow("run-1", "condition", 0.5)); err == nil {
		t.Error("expected error appending to closed sink")
	}
}

func TestReadCSVErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadCSV(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(bad, []byte("these,are,not\nthe,right,columns\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCSV(bad); err == nil {
		t.Error("expected error for wrong header")
	}
}

func TestRowParamLookup(t *testing.T) {
	row := sampleRow("run-1", "condition", 0.01)
	v, ok := row.Param("n_subj")
	if !ok || v != float64(params.Default().NSubj) {
		t.Errorf("Param(n_subj) = %g, %v", v, ok)
	}
	if _, ok := row.Param("nonesuch"); ok {
		t.Error("Param accepted unknown name")
	}
}
