// Package pilot ingests real pilot-study trial data and fits the model
// to it, producing a plausible generating parameter set for simulation
// configs. Pilot files are one CSV per subject (or per session) dropped
// in a directory; types are inferred per column, so integer and float
// encodings of the same measure both work.
package pilot

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/csv"

	"github.com/nvandessel/powersim/internal/lmm"
	"github.com/nvandessel/powersim/internal/params"
	"github.com/nvandessel/powersim/internal/sim"
)

// DefaultSetSize is the memory set size the pilot model is fit at.
const DefaultSetSize = 12

// ErrNoPilotData indicates the pilot directory held no usable trials.
var ErrNoPilotData = errors.New("no pilot data")

var requiredColumns = []string{"subject", "condition", "set_size", "accuracy", "rt"}

// Trial is one pilot observation that survived filtering.
type Trial struct {
	Subject   string
	Condition string
	RT        float64
}

// Options filter the raw pilot files down to the rows the model is fit on.
type Options struct {
	// SetSize keeps only trials at this set size. Zero means DefaultSetSize.
	SetSize float64
}

// LoadTrials reads every *.csv under dir, keeps correct trials at the
// configured set size, and concatenates them into one table.
func LoadTrials(dir string, opts Options) ([]Trial, error) {
	setSize := opts.SetSize
	if setSize == 0 {
		setSize = DefaultSetSize
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list pilot files: %w", err)
	}
	if len(paths) == 0 {
		if _, statErr := os.Stat(dir); statErr != nil {
			return nil, fmt.Errorf("failed to read pilot directory: %w", statErr)
		}
		return nil, fmt.Errorf("%w: no *.csv files in %s", ErrNoPilotData, dir)
	}
	sort.Strings(paths)

	var trials []Trial
	for _, path := range paths {
		fileTrials, err := loadFile(path, setSize)
		if err != nil {
			return nil, fmt.Errorf("pilot file %s: %w", filepath.Base(path), err)
		}
		trials = append(trials, fileTrials...)
	}
	if len(trials) == 0 {
		return nil, fmt.Errorf("%w: no correct trials at set size %g", ErrNoPilotData, setSize)
	}
	return trials, nil
}

func loadFile(path string, setSize float64) ([]Trial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open: %w", err)
	}
	defer f.Close()

	rdr := csv.NewInferringReader(f,
		csv.WithHeader(true),
		csv.WithChunk(1024),
		csv.WithNullReader(true, "", "NA", "null"),
	)
	defer rdr.Release()

	var trials []Trial
	for rdr.Next() {
		rec := rdr.Record()
		cols, err := columnIndices(rec.Schema())
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			acc, err := floatAt(rec.Column(cols["accuracy"]), i)
			if err != nil {
				return nil, fmt.Errorf("row %d accuracy: %w", i, err)
			}
			size, err := floatAt(rec.Column(cols["set_size"]), i)
			if err != nil {
				return nil, fmt.Errorf("row %d set_size: %w", i, err)
			}
			if acc != 1 || size != setSize {
				continue
			}
			rt, err := floatAt(rec.Column(cols["rt"]), i)
			if err != nil {
				return nil, fmt.Errorf("row %d rt: %w", i, err)
			}
			trials = append(trials, Trial{
				Subject:   stringAt(rec.Column(cols["subject"]), i),
				Condition: stringAt(rec.Column(cols["condition"]), i),
				RT:        rt,
			})
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	return trials, nil
}

// columnIndices resolves the required columns in the inferred schema.
func columnIndices(schema *arrow.Schema) (map[string]int, error) {
	cols := make(map[string]int, len(requiredColumns))
	for _, name := range requiredColumns {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("missing required column %q", name)
		}
		cols[name] = idx[0]
	}
	return cols, nil
}

func floatAt(col arrow.Array, i int) (float64, error) {
	if col.IsNull(i) {
		return 0, fmt.Errorf("null value")
	}
	switch c := col.(type) {
	case *array.Int64:
		return float64(c.Value(i)), nil
	case *array.Float64:
		return c.Value(i), nil
	case *array.String:
		v, err := strconv.ParseFloat(c.Value(i), 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", c.Value(i))
		}
		return v, nil
	default:
		return 0, fmt.Errorf("unsupported column type %s", col.DataType())
	}
}

func stringAt(col arrow.Array, i int) string {
	if col.IsNull(i) {
		return ""
	}
	switch c := col.(type) {
	case *array.String:
		return c.Value(i)
	case *array.Int64:
		return strconv.FormatInt(c.Value(i), 10)
	case *array.Float64:
		return strconv.FormatFloat(c.Value(i), 'g', -1, 64)
	default:
		return col.ValueStr(i)
	}
}

// Estimate fits the model to the pilot trials and returns a suggested
// generating parameter set: fixed effects from the pilot fit's estimates,
// variance components from its fitted components, and trial counts from
// the pilot design itself.
func Estimate(trials []Trial, opts lmm.FitOptions) (params.Set, *lmm.Result, error) {
	if len(trials) == 0 {
		return params.Set{}, nil, ErrNoPilotData
	}

	codes, err := conditionCodes(trials)
	if err != nil {
		return params.Set{}, nil, err
	}

	subjectIDs := make(map[string]int)
	ds := &sim.Dataset{Trials: make([]sim.Trial, 0, len(trials))}
	perCondition := map[string]int{}
	for _, tr := range trials {
		id, ok := subjectIDs[tr.Subject]
		if !ok {
			id = len(subjectIDs) + 1
			subjectIDs[tr.Subject] = id
		}
		perCondition[tr.Condition]++
		ds.Trials = append(ds.Trials, sim.Trial{
			Subject:   id,
			Condition: tr.Condition,
			Code:      codes[tr.Condition],
			Outcome:   tr.RT,
		})
	}

	res, err := lmm.Fit(ds, opts)
	if err != nil {
		return params.Set{}, nil, fmt.Errorf("failed to fit pilot model: %w", err)
	}

	set := params.Default()
	set.NSubj = len(subjectIDs)
	for cond, n := range perCondition {
		perSubj := int(math.Round(float64(n) / float64(len(subjectIDs))))
		if perSubj < 1 {
			perSubj = 1
		}
		if codes[cond] < 0 {
			set.NAbsent = perSubj
		} else {
			set.NPresent = perSubj
		}
	}
	if fe := res.Term(lmm.TermIntercept); fe != nil {
		set.Beta0 = fe.Estimate
	}
	if fe := res.Term(lmm.TermCondition); fe != nil {
		set.Beta1 = fe.Estimate
	}
	set.Tau0 = res.VarComp.Tau0
	set.Tau1 = res.VarComp.Tau1
	set.Rho = res.VarComp.Rho
	set.Sigma = res.VarComp.Sigma

	return set, res, nil
}

// conditionCodes effect-codes the two condition levels. The canonical
// labels get their canonical codes; any other pair is coded in sorted
// order (first level -0.5, second +0.5).
func conditionCodes(trials []Trial) (map[string]float64, error) {
	levels := map[string]bool{}
	for _, tr := range trials {
		levels[tr.Condition] = true
	}
	if len(levels) != 2 {
		names := make([]string, 0, len(levels))
		for l := range levels {
			names = append(names, l)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("expected exactly 2 condition levels, got %v", names)
	}

	if levels[params.ConditionAbsent] && levels[params.ConditionPresent] {
		return map[string]float64{
			params.ConditionAbsent:  params.CodeAbsent,
			params.ConditionPresent: params.CodePresent,
		}, nil
	}
	names := make([]string, 0, 2)
	for l := range levels {
		names = append(names, l)
	}
	sort.Strings(names)
	return map[string]float64{
		names[0]: params.CodeAbsent,
		names[1]: params.CodePresent,
	}, nil
}
