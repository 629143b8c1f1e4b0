package reco

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// FitStatus classifies the outcome of a two-track vertex fit.
type FitStatus int

const (
	// FitNotConverged means no crossing point exists within tolerance
	// (parallel or non-intersecting trajectories). A normal rejection.
	FitNotConverged FitStatus = iota
	// FitConverged means a common vertex was found.
	FitConverged
	// FitFaulted means the minimization hit a numerical fault (singular
	// weight matrix). Counted by the caller, never propagated as fatal.
	FitFaulted
)

// FitResult is the outcome of DCAFitter.Fit. PCA, Chi2 and the propagated
// daughter states are only meaningful when Status is FitConverged.
type FitResult struct {
	Status FitStatus
	NCand  int
	PCA    r3.Vec
	Chi2   float64
	PropA  TrackState // track A at its point of closest approach
	PropB  TrackState // track B at its point of closest approach
	Fault  error      // set when Status is FitFaulted
}

// Parent combines the two propagated daughters into the parent track state
// at the fitted vertex, with the given absolute charge. This is what lets
// an accepted V0 enter a second fit stage without re-fitting its daughters.
func (r FitResult) Parent(charge int) TrackState {
	parent := TrackState{
		Pos:    r.PCA,
		P:      r3.Add(r.PropA.P, r.PropB.P),
		Charge: charge,
	}
	if r.PropA.HasCov && r.PropB.HasCov {
		for i := range parent.Cov {
			parent.Cov[i] = r.PropA.Cov[i] + r.PropB.Cov[i]
		}
		parent.HasCov = true
	}
	return parent
}

// DCAFitter iteratively minimizes the separation of two trajectories over
// their transverse path lengths. The metric is either the absolute squared
// distance or, in weighted mode, the distance weighted by the inverse of
// the summed position covariance (optionally inflated by the installed
// material budget).
//
// The fit buffers are reused across calls: a fitter must not be shared
// between goroutines. Each worker owns one.
type DCAFitter struct {
	cfg    FitterConfig
	bz     float64
	matter MatBudget
	hasMat bool

	// scratch for the 2x2 Newton system
	h     *mat.Dense
	g     *mat.VecDense
	delta *mat.VecDense
}

// NewDCAFitter configures a fitter once. Field and material budget are
// installed later by the calibration cache.
func NewDCAFitter(cfg FitterConfig) *DCAFitter {
	return &DCAFitter{
		cfg:   cfg,
		h:     mat.NewDense(2, 2, nil),
		g:     mat.NewVecDense(2, nil),
		delta: mat.NewVecDense(2, nil),
	}
}

// SetBz installs the magnetic field (kG).
func (f *DCAFitter) SetBz(bz float64) { f.bz = bz }

// Bz returns the installed field (kG).
func (f *DCAFitter) Bz() float64 { return f.bz }

// SetMatBudget installs the material-budget handle used by the LUT and
// full-geometry correction modes.
func (f *DCAFitter) SetMatBudget(mb MatBudget) {
	f.matter = mb
	f.hasMat = true
}

// weight builds the inverse summed position covariance for weighted mode,
// or nil for the absolute-DCA metric. Weighted mode is selected by turning
// the absolute-DCA switch off or by forcing the weighted PCA; either way it
// needs both tracks to carry a covariance. Inversion failure is the fault
// path.
func (f *DCAFitter) weight(a, b TrackState) (*mat.SymDense, error) {
	if (f.cfg.UseAbsDCA && !f.cfg.UseWeightedPCA) || !a.HasCov || !b.HasCov {
		return nil, nil
	}
	// position block of the lower-triangular covariance:
	// 0:xx 1:xy 2:yy 3:xz 4:yz 5:zz
	scatter := 0.0
	if f.hasMat {
		switch f.cfg.MatCorr {
		case MatCorrLUT:
			scatter = f.matter.X0Coarse
		case MatCorrGeo:
			scatter = f.matter.X0Fine
		}
	}
	sum := mat.NewSymDense(3, []float64{
		a.Cov[0] + b.Cov[0] + scatter, a.Cov[1] + b.Cov[1], a.Cov[3] + b.Cov[3],
		a.Cov[1] + b.Cov[1], a.Cov[2] + b.Cov[2] + scatter, a.Cov[4] + b.Cov[4],
		a.Cov[3] + b.Cov[3], a.Cov[4] + b.Cov[4], a.Cov[5] + b.Cov[5] + scatter,
	})
	var inv mat.Dense
	if err := inv.Inverse(sum); err != nil {
		return nil, fmt.Errorf("singular combined covariance: %w", err)
	}
	w := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			w.SetSym(i, j, inv.At(i, j))
		}
	}
	return w, nil
}

func quadForm(w *mat.SymDense, u, v r3.Vec) float64 {
	if w == nil {
		return r3.Dot(u, v)
	}
	uu := []float64{u.X, u.Y, u.Z}
	vv := []float64{v.X, v.Y, v.Z}
	total := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			total += uu[i] * w.At(i, j) * vv[j]
		}
	}
	return total
}

// Fit minimizes the track-track separation and returns the fitted vertex.
// Zero candidates (FitNotConverged) is a normal outcome for trajectories
// that never approach each other within the configured bounds.
func (f *DCAFitter) Fit(a, b TrackState) FitResult {
	if a.Pt() == 0 || b.Pt() == 0 {
		return FitResult{Status: FitNotConverged}
	}
	w, err := f.weight(a, b)
	if err != nil {
		return FitResult{Status: FitFaulted, Fault: err}
	}

	s1, s2 := 0.0, 0.0
	prevChi2 := math.Inf(1)
	converged := false
	var ta, tb TrackState
	chi2 := 0.0

	for iter := 0; iter < f.cfg.MaxIter; iter++ {
		ta = a.PropagateXY(s1, f.bz)
		tb = b.PropagateXY(s2, f.bz)
		d := r3.Sub(ta.Pos, tb.Pos)
		chi2 = quadForm(w, d, d)
		if math.IsNaN(chi2) || math.IsInf(chi2, 0) {
			return FitResult{Status: FitNotConverged}
		}
		if iter > 0 && chi2 > prevChi2*f.cfg.MinRelChi2Change {
			// improvement stalled within tolerance
			converged = true
			break
		}
		prevChi2 = chi2

		t1, t2 := ta.Tangent(), tb.Tangent()
		f.h.Set(0, 0, 2*quadForm(w, t1, t1))
		f.h.Set(1, 1, 2*quadForm(w, t2, t2))
		cross := -2 * quadForm(w, t1, t2)
		f.h.Set(0, 1, cross)
		f.h.Set(1, 0, cross)
		f.g.SetVec(0, -2*quadForm(w, t1, d))
		f.g.SetVec(1, 2*quadForm(w, t2, d))

		if err := f.delta.SolveVec(f.h, f.g); err != nil {
			// degenerate system: parallel tangents, no unique crossing
			return FitResult{Status: FitNotConverged}
		}
		d1, d2 := f.delta.AtVec(0), f.delta.AtVec(1)
		if math.Abs(d1) < f.cfg.MinParamChange && math.Abs(d2) < f.cfg.MinParamChange {
			converged = true
			break
		}
		s1 += d1
		s2 += d2
	}
	if !converged {
		return FitResult{Status: FitNotConverged}
	}

	pca := r3.Scale(0.5, r3.Add(ta.Pos, tb.Pos))
	if TransverseRadius(pca) > f.cfg.MaxR {
		return FitResult{Status: FitNotConverged}
	}
	return FitResult{
		Status: FitConverged,
		NCand:  1,
		PCA:    pca,
		Chi2:   chi2,
		PropA:  ta,
		PropB:  tb,
	}
}
