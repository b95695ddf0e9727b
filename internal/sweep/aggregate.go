package sweep

import (
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/powersim/internal/lmm"
	"github.com/nvandessel/powersim/internal/results"
)

// PowerSummary aggregates many fit rows for one (grid point, term) group:
// mean estimate, mean standard error, and the fraction of replications
// whose p-value fell below the significance threshold.
type PowerSummary struct {
	Varied       map[string]float64
	Term         string
	Replications int
	MeanEstimate float64
	MeanStdErr   float64
	Power        float64
	Warnings     int
}

type group struct {
	varied    map[string]float64
	term      string
	estimates []float64
	stdErrs   []float64
	nSig      int
	warnings  int
}

// Aggregate groups rows by the varied parameter values and term. Groups
// are returned sorted by the varied values (in the order of the varied
// names), then by term.
func Aggregate(rows []results.FitRow, varied []string, alpha float64) []PowerSummary {
	groups := make(map[string]*group)

	for _, row := range rows {
		values := make(map[string]float64, len(varied))
		var key strings.Builder
		for _, name := range varied {
			v, ok := row.Param(name)
			if !ok {
				continue
			}
			values[name] = v
			key.WriteString(name)
			key.WriteByte('=')
			key.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			key.WriteByte(';')
		}
		key.WriteString(row.Term)

		g, ok := groups[key.String()]
		if !ok {
			g = &group{varied: values, term: row.Term}
			groups[key.String()] = g
		}
		g.estimates = append(g.estimates, row.Estimate)
		g.stdErrs = append(g.stdErrs, row.StdErr)
		if row.PValue < alpha {
			g.nSig++
		}
		if row.Convergence != string(lmm.ConvergenceOK) {
			g.warnings++
		}
	}

	summaries := make([]PowerSummary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, PowerSummary{
			Varied:       g.varied,
			Term:         g.term,
			Replications: len(g.estimates),
			MeanEstimate: stat.Mean(g.estimates, nil),
			MeanStdErr:   stat.Mean(g.stdErrs, nil),
			Power:        float64(g.nSig) / float64(len(g.estimates)),
			Warnings:     g.warnings,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		for _, name := range varied {
			vi, vj := summaries[i].Varied[name], summaries[j].Varied[name]
			if vi != vj {
				return vi < vj
			}
		}
		return summaries[i].Term < summaries[j].Term
	})
	return summaries
}
