package sim

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/nvandessel/powersim/internal/params"
)

var datasetHeader = []string{"subject", "condition", "code", "outcome"}

// WriteCSV writes the dataset's trials as CSV with a header row.
func (d *Dataset) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(datasetHeader); err != nil {
		return fmt.Errorf("failed to write dataset header: %w", err)
	}
	for _, tr := range d.Trials {
		rec := []string{
			strconv.Itoa(tr.Subject),
			tr.Condition,
			strconv.FormatFloat(tr.Code, 'g', -1, 64),
			strconv.FormatFloat(tr.Outcome, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write trial row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a dataset previously written by WriteCSV. The subject
// random effects are not recoverable from disk, so Subjects is empty.
func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if len(records[0]) != len(datasetHeader) {
		return nil, fmt.Errorf("unexpected dataset header %v", records[0])
	}

	ds := &Dataset{Trials: make([]Trial, 0, len(records)-1)}
	for i, rec := range records[1:] {
		subj, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: bad subject %q: %w", i+2, rec[0], err)
		}
		code, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad code %q: %w", i+2, rec[2], err)
		}
		outcome, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad outcome %q: %w", i+2, rec[3], err)
		}
		cond := rec[1]
		if cond != params.ConditionAbsent && cond != params.ConditionPresent {
			return nil, fmt.Errorf("row %d: unknown condition %q", i+2, cond)
		}
		ds.Trials = append(ds.Trials, Trial{Subject: subj, Condition: cond, Code: code, Outcome: outcome})
	}
	return ds, nil
}
