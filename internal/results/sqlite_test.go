package results

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreAppendAndCount(t *testing.T) {
	store, err := OpenSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Fatalf("fresh store has %d rows, want 0", n)
	}

	rows := []FitRow{
		sampleRow("run-1", "(Intercept)", 0.0001),
		sampleRow("run-1", "condition", 0.021),
	}
	if err := store.Append(rows...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	n, err = store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d rows, want 2", n)
	}

	got, err := store.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Rows returned %d, want 2", len(got))
	}
	for i := range rows {
		if got[i] != rows[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], rows[i])
		}
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenSQLiteStore(dir)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	if err := store.Append(sampleRow("run-1", "condition", 0.5)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = OpenSQLiteStore(dir)
	if err != nil {
		t.Fatalf("OpenSQLiteStore (reopen): %v", err)
	}
	defer store.Close()

	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d rows after reopen, want 1", n)
	}
}

func TestSQLiteStoreExportCSV(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenSQLiteStore(dir)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer store.Close()

	want := []FitRow{
		sampleRow("run-1", "(Intercept)", 0.001),
		sampleRow("run-1", "condition", 0.04),
	}
	if err := store.Append(want...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	path := filepath.Join(dir, "export.csv")
	if err := store.ExportCSV(context.Background(), path); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("exported %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("exported row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
