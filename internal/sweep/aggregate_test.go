package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nvandessel/powersim/internal/lmm"
	"github.com/nvandessel/powersim/internal/params"
	"github.com/nvandessel/powersim/internal/results"
)

func row(nSubj int, term string, estimate, pValue float64, convergence lmm.ConvergenceStatus) results.FitRow {
	set := params.Default()
	set.NSubj = nSubj
	return results.NewFitRow("run", term, estimate, 1.0, estimate, pValue, string(convergence), set)
}

func TestAggregatePower(t *testing.T) {
	rows := []results.FitRow{
		row(5, lmm.TermCondition, 30, 0.01, lmm.ConvergenceOK),
		row(5, lmm.TermCondition, 28, 0.20, lmm.ConvergenceOK),
		row(5, lmm.TermCondition, 32, 0.03, lmm.ConvergenceOK),
		row(5, lmm.TermCondition, 26, 0.60, lmm.ConvergenceOK),
		row(10, lmm.TermCondition, 30, 0.001, lmm.ConvergenceOK),
		row(10, lmm.TermCondition, 31, 0.002, lmm.ConvergenceSingular),
	}

	summaries := Aggregate(rows, []string{"n_subj"}, 0.05)
	if len(summaries) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(summaries))
	}

	small := summaries[0]
	if small.Varied["n_subj"] != 5 {
		t.Fatalf("groups not sorted by varied value: first is n_subj=%v", small.Varied["n_subj"])
	}
	if small.Replications != 4 {
		t.Errorf("expected 4 replications, got %d", small.Replications)
	}
	assert.InDelta(t, 0.5, small.Power, 1e-12, "2 of 4 below alpha")
	assert.InDelta(t, 29.0, small.MeanEstimate, 1e-12)
	if small.Warnings != 0 {
		t.Errorf("expected no warnings, got %d", small.Warnings)
	}

	large := summaries[1]
	if large.Replications != 2 {
		t.Errorf("expected 2 replications, got %d", large.Replications)
	}
	assert.InDelta(t, 1.0, large.Power, 1e-12)
	if large.Warnings != 1 {
		t.Errorf("expected 1 warning from the singular fit, got %d", large.Warnings)
	}
}

func TestAggregateGroupsByTerm(t *testing.T) {
	rows := []results.FitRow{
		row(5, lmm.TermIntercept, 650, 0.0001, lmm.ConvergenceOK),
		row(5, lmm.TermCondition, 30, 0.04, lmm.ConvergenceOK),
	}
	summaries := Aggregate(rows, []string{"n_subj"}, 0.05)
	if len(summaries) != 2 {
		t.Fatalf("expected one group per term, got %d", len(summaries))
	}
	// Same varied values; terms order alphabetically.
	if summaries[0].Term != lmm.TermIntercept || summaries[1].Term != lmm.TermCondition {
		t.Errorf("unexpected term order: %q, %q", summaries[0].Term, summaries[1].Term)
	}
}

func TestAggregateMultipleVaried(t *testing.T) {
	mk := func(nSubj int, beta1 float64) results.FitRow {
		set := params.Default()
		set.NSubj = nSubj
		set.Beta1 = beta1
		return results.NewFitRow("run", lmm.TermCondition, beta1, 1, beta1, 0.5, string(lmm.ConvergenceOK), set)
	}
	rows := []results.FitRow{
		mk(10, 40), mk(5, 40), mk(10, 20), mk(5, 20),
	}
	summaries := Aggregate(rows, []string{"n_subj", "beta1"}, 0.05)
	if len(summaries) != 4 {
		t.Fatalf("expected 4 groups, got %d", len(summaries))
	}
	want := [][2]float64{{5, 20}, {5, 40}, {10, 20}, {10, 40}}
	for i, w := range want {
		got := summaries[i].Varied
		if got["n_subj"] != w[0] || got["beta1"] != w[1] {
			t.Errorf("group %d: got n_subj=%v beta1=%v, want %v %v",
				i, got["n_subj"], got["beta1"], w[0], w[1])
		}
	}
}
