package lmm

import (
	"math"
	"sort"

	"github.com/nvandessel/powersim/internal/sim"
)

// block holds the sufficient statistics for one subject's rows. With the
// design matrix X = Z = [1, code], everything the marginal likelihood
// needs per subject reduces to the cross products below.
type block struct {
	n                  int
	sx, sxx            float64 // sum code, sum code^2
	sy, sxy, syy       float64 // sum y, sum code*y, sum y^2
	nPresent, nAbsent  int
	sumPresent, sumAbs float64
}

// buildBlocks groups trials by subject in sorted-id order.
func buildBlocks(trials []sim.Trial) []*block {
	byID := make(map[int]*block)
	ids := make([]int, 0)
	for _, tr := range trials {
		b, ok := byID[tr.Subject]
		if !ok {
			b = &block{}
			byID[tr.Subject] = b
			ids = append(ids, tr.Subject)
		}
		b.n++
		b.sx += tr.Code
		b.sxx += tr.Code * tr.Code
		b.sy += tr.Outcome
		b.sxy += tr.Code * tr.Outcome
		b.syy += tr.Outcome * tr.Outcome
		if tr.Code > 0 {
			b.nPresent++
			b.sumPresent += tr.Outcome
		} else {
			b.nAbsent++
			b.sumAbs += tr.Outcome
		}
	}
	sort.Ints(ids)
	blocks := make([]*block, len(ids))
	for i, id := range ids {
		blocks[i] = byID[id]
	}
	return blocks
}

// sym2 is a 2x2 symmetric matrix [[a, b], [b, d]].
type sym2 struct{ a, b, d float64 }

func (m sym2) det() float64 { return m.a*m.d - m.b*m.b }

// solve returns m^-1 * v. The caller guarantees m is non-singular.
func (m sym2) solve(v [2]float64) [2]float64 {
	det := m.det()
	return [2]float64{
		(m.d*v[0] - m.b*v[1]) / det,
		(m.a*v[1] - m.b*v[0]) / det,
	}
}

// quadForm returns v' m^-1 v.
func (m sym2) quadForm(v [2]float64) float64 {
	s := m.solve(v)
	return v[0]*s[0] + v[1]*s[1]
}

// theta is the unconstrained optimizer parameterization of the variance
// components: exp keeps scales positive, tanh keeps rho inside (-1, 1).
type theta struct{ logSigma, logTau0, logTau1, zRho float64 }

func thetaFromSlice(x []float64) theta {
	return theta{x[0], x[1], x[2], x[3]}
}

func (t theta) components() (sigma, tau0, tau1, rho float64) {
	return math.Exp(t.logSigma), math.Exp(t.logTau0), math.Exp(t.logTau1), math.Tanh(t.zRho)
}

// profiled holds the quantities the likelihood accumulates across
// subjects at a given theta, with the fixed effects profiled out by GLS.
type profiled struct {
	beta   [2]float64 // GLS fixed effects (intercept, slope)
	info   sym2       // X' V^-1 X at theta; its inverse gives Wald standard errors
	negLL  float64    // -logLik (ML or REML) at theta, profiled over beta
	valid  bool
}

// profile evaluates the marginal (restricted) log-likelihood at theta.
// Subjects are independent, so V is block diagonal; each block is
// handled through the Woodbury identity using the Cholesky factor L of
// the random-effect covariance G:
//
//	V_i = sigma^2 I + Z_i G Z_i'
//	C_i = I + L' (Z_i'Z_i) L / sigma^2
//	log|V_i| = n_i log sigma^2 + log|C_i|
//
// so only 2x2 arithmetic is needed regardless of trial counts.
func profile(blocks []*block, t theta, reml bool) profiled {
	sigma, tau0, tau1, rho := t.components()
	if math.IsInf(sigma, 0) || math.IsInf(tau0, 0) || math.IsInf(tau1, 0) {
		return profiled{}
	}
	s2 := sigma * sigma

	// Lower Cholesky factor of G.
	l11 := tau0
	l21 := rho * tau1
	l22 := tau1 * math.Sqrt(math.Max(0, 1-rho*rho))

	var (
		sxx  sym2       // sum X' V^-1 X
		sxy  [2]float64 // sum X' V^-1 y
		syy  float64    // sum y' V^-1 y
		ld   float64    // sum log|V_i|
		nTot int
	)

	for _, b := range blocks {
		nTot += b.n
		a11, a12, a22 := float64(b.n), b.sx, b.sxx

		// AL = A * L, with A = Z'Z.
		al11 := a11*l11 + a12*l21
		al12 := a12 * l22
		al21 := a12*l11 + a22*l21
		al22 := a22 * l22

		// C = I + L' A L / sigma^2. L'AL = L' * (AL).
		c := sym2{
			a: 1 + (l11*al11+l21*al21)/s2,
			b: (l11*al12 + l21*al22) / s2,
			d: 1 + (l22*al22)/s2,
		}
		detC := c.det()
		if !(detC > 0) || c.a <= 0 {
			return profiled{}
		}

		// w = L' u with u = Z'y.
		w := [2]float64{l11*b.sy + l21*b.sxy, l22 * b.sxy}

		// Woodbury corrections, all through C^-1. The rows of AL are the
		// vectors that sandwich C^-1 in (AL) C^-1 (AL)'.
		cw := c.solve(w)
		cr1 := c.solve([2]float64{al11, al12})
		cr2 := c.solve([2]float64{al21, al22})

		sxx.a += (a11 - (al11*cr1[0]+al12*cr1[1])/s2) / s2
		sxx.b += (a12 - (al11*cr2[0]+al12*cr2[1])/s2) / s2
		sxx.d += (a22 - (al21*cr2[0]+al22*cr2[1])/s2) / s2

		sxy[0] += (b.sy - (al11*cw[0]+al12*cw[1])/s2) / s2
		sxy[1] += (b.sxy - (al21*cw[0]+al22*cw[1])/s2) / s2

		syy += (b.syy - (w[0]*cw[0]+w[1]*cw[1])/s2) / s2
		ld += 2*float64(b.n)*math.Log(sigma) + math.Log(detC)
	}

	detS := sxx.det()
	if !(detS > 0) || sxx.a <= 0 {
		return profiled{}
	}

	beta := sxx.solve(sxy)
	quad := syy - 2*(beta[0]*sxy[0]+beta[1]*sxy[1]) +
		beta[0]*beta[0]*sxx.a + 2*beta[0]*beta[1]*sxx.b + beta[1]*beta[1]*sxx.d

	const ln2pi = 1.8378770664093453
	var negLL float64
	if reml {
		negLL = 0.5 * (float64(nTot-2)*ln2pi + ld + quad + math.Log(detS))
	} else {
		negLL = 0.5 * (float64(nTot)*ln2pi + ld + quad)
	}
	if math.IsNaN(negLL) || math.IsInf(negLL, 0) {
		return profiled{}
	}

	return profiled{beta: beta, info: sxx, negLL: negLL, valid: true}
}

// startTheta picks optimizer starting values from cheap per-subject
// summaries: within-subject condition means give crude random-effect
// spreads, the pooled within-subject residual gives sigma.
func startTheta(blocks []*block) theta {
	intercepts := make([]float64, 0, len(blocks))
	slopes := make([]float64, 0, len(blocks))
	var rss float64
	var nRes int

	for _, b := range blocks {
		if b.nPresent == 0 || b.nAbsent == 0 {
			intercepts = append(intercepts, b.sy/float64(b.n))
			continue
		}
		mPres := b.sumPresent / float64(b.nPresent)
		mAbs := b.sumAbs / float64(b.nAbsent)
		ic := (mPres + mAbs) / 2
		sl := mPres - mAbs
		intercepts = append(intercepts, ic)
		slopes = append(slopes, sl)

		// Within-subject residual sum of squares around the subject's
		// own two condition means.
		rss += b.syy - float64(b.nPresent)*mPres*mPres - float64(b.nAbsent)*mAbs*mAbs
		nRes += b.n - 2
	}

	sigma0 := 1.0
	if nRes > 0 && rss > 0 {
		sigma0 = math.Sqrt(rss / float64(nRes))
	}
	tau00 := math.Max(sd(intercepts), 1e-2*sigma0)
	tau10 := math.Max(sd(slopes), 1e-2*sigma0)

	return theta{
		logSigma: math.Log(sigma0),
		logTau0:  math.Log(tau00),
		logTau1:  math.Log(tau10),
		zRho:     0,
	}
}

func sd(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	var ss float64
	for _, v := range x {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(x)-1))
}
