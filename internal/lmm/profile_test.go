package lmm

import (
	"math"
	"testing"

	"github.com/nvandessel/powersim/internal/params"
	"github.com/nvandessel/powersim/internal/sim"
)

func TestBuildBlocks(t *testing.T) {
	trials := []sim.Trial{
		{Subject: 2, Condition: params.ConditionAbsent, Code: -0.5, Outcome: 10},
		{Subject: 1, Condition: params.ConditionPresent, Code: 0.5, Outcome: 20},
		{Subject: 2, Condition: params.ConditionPresent, Code: 0.5, Outcome: 30},
		{Subject: 1, Condition: params.ConditionAbsent, Code: -0.5, Outcome: 40},
	}

	blocks := buildBlocks(trials)
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	// Sorted by subject id: block 0 is subject 1.
	b := blocks[0]
	if b.n != 2 || b.nPresent != 1 || b.nAbsent != 1 {
		t.Fatalf("subject 1 block counts = %+v", b)
	}
	if b.sy != 60 {
		t.Errorf("subject 1 sum outcome = %g, want 60", b.sy)
	}
	if b.sxy != 20*0.5+40*-0.5 {
		t.Errorf("subject 1 sum code*outcome = %g", b.sxy)
	}
}

func TestSym2Solve(t *testing.T) {
	m := sym2{a: 4, b: 1, d: 3}
	v := [2]float64{5, 6}
	s := m.solve(v)

	// Check m * s == v.
	if got := m.a*s[0] + m.b*s[1]; math.Abs(got-v[0]) > 1e-12 {
		t.Errorf("first component: got %g, want %g", got, v[0])
	}
	if got := m.b*s[0] + m.d*s[1]; math.Abs(got-v[1]) > 1e-12 {
		t.Errorf("second component: got %g, want %g", got, v[1])
	}

	qf := m.quadForm(v)
	want := v[0]*s[0] + v[1]*s[1]
	if math.Abs(qf-want) > 1e-12 {
		t.Errorf("quadForm = %g, want %g", qf, want)
	}
}

func TestThetaComponents(t *testing.T) {
	th := theta{logSigma: math.Log(175), logTau0: math.Log(80), logTau1: math.Log(15), zRho: math.Atanh(0.35)}
	sigma, tau0, tau1, rho := th.components()
	if math.Abs(sigma-175) > 1e-9 || math.Abs(tau0-80) > 1e-9 || math.Abs(tau1-15) > 1e-9 {
		t.Errorf("components = %g %g %g", sigma, tau0, tau1)
	}
	if math.Abs(rho-0.35) > 1e-12 {
		t.Errorf("rho = %g, want 0.35", rho)
	}
}

func TestProfileAtGeneratingValues(t *testing.T) {
	// The likelihood at the generating theta must be finite and the GLS
	// fixed effects must sit near the generating fixed effects.
	set := params.Default()
	set.NSubj = 100
	set.NPresent = 50
	set.NAbsent = 50

	ds := simulate(t, set, 17)
	blocks := buildBlocks(ds.Trials)

	th := theta{
		logSigma: math.Log(set.Sigma),
		logTau0:  math.Log(set.Tau0),
		logTau1:  math.Log(set.Tau1),
		zRho:     math.Atanh(set.Rho),
	}
	p := profile(blocks, th, true)
	if !p.valid {
		t.Fatal("profile invalid at generating values")
	}
	if math.Abs(p.beta[0]-set.Beta0) > 0.1*set.Beta0 {
		t.Errorf("GLS intercept = %g, want near %g", p.beta[0], set.Beta0)
	}
	if math.Abs(p.beta[1]-set.Beta1) > set.Beta1 {
		t.Errorf("GLS slope = %g, want near %g", p.beta[1], set.Beta1)
	}

	// A clearly wrong sigma has worse (larger) negative log-likelihood.
	worse := profile(blocks, theta{logSigma: math.Log(10 * set.Sigma), logTau0: th.logTau0, logTau1: th.logTau1, zRho: th.zRho}, true)
	if !worse.valid {
		t.Fatal("profile invalid at inflated sigma")
	}
	if worse.negLL <= p.negLL {
		t.Errorf("inflated sigma should fit worse: %g <= %g", worse.negLL, p.negLL)
	}
}

func TestStartThetaReasonable(t *testing.T) {
	set := params.Default()
	set.NSubj = 80
	set.NPresent = 40
	set.NAbsent = 40

	ds := simulate(t, set, 23)
	th := startTheta(buildBlocks(ds.Trials))
	sigma, tau0, _, rho := th.components()

	if sigma < set.Sigma/2 || sigma > set.Sigma*2 {
		t.Errorf("starting sigma = %g, want within 2x of %g", sigma, set.Sigma)
	}
	// The naive intercept spread overestimates tau0 a little (it includes
	// residual noise) but must be the right order of magnitude.
	if tau0 < set.Tau0/3 || tau0 > set.Tau0*3 {
		t.Errorf("starting tau0 = %g, want within 3x of %g", tau0, set.Tau0)
	}
	if rho != 0 {
		t.Errorf("starting rho = %g, want 0", rho)
	}
}
