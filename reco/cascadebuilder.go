package reco

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// CascadeCandidate carries the reconstructed quantities of one cascade
// build attempt. Same reuse discipline as V0Candidate.
type CascadeCandidate struct {
	V0ID, BachID int
	Charge       int
	Pos          r3.Vec // cascade decay vertex
	BachP        r3.Vec // bachelor momentum at the vertex
	BachDCAxy    float64
	DCACascDau   float64
	Radius       float64
	ParentTrack  TrackState
}

// Record promotes the candidate into an immutable output record, carrying
// the daughter V0's quantities alongside for downstream consumers.
func (c *CascadeCandidate) Record(v0 *V0Candidate) CascadeRecord {
	return CascadeRecord{
		V0ID:             c.V0ID,
		BachelorID:       c.BachID,
		Charge:           c.Charge,
		Vertex:           c.Pos,
		V0Vertex:         v0.Pos,
		PosP:             v0.PosP,
		NegP:             v0.NegP,
		BachP:            c.BachP,
		DCAV0Daughters:   v0.DCAV0Dau,
		DCACascDaughters: c.DCACascDau,
		DCAPosToPV:       v0.PosDCAxy,
		DCANegToPV:       v0.NegDCAxy,
		DCABachToPV:      c.BachDCAxy,
		Radius:           c.Radius,
	}
}

// CascadeBuilder runs the cascade selection on top of an accepted V0:
// cheap bachelor and mass-consistency cuts first, the second-stage vertex
// fit only for combinations that survive them.
type CascadeBuilder struct {
	cuts    CascadeCuts
	fitter  *DCAFitter
	metrics *Metrics
	cand    CascadeCandidate
}

// NewCascadeBuilder wires the builder to a fitter and metrics sink.
func NewCascadeBuilder(cuts CascadeCuts, fitter *DCAFitter, metrics *Metrics) *CascadeBuilder {
	return &CascadeBuilder{cuts: cuts, fitter: fitter, metrics: metrics}
}

// Candidate returns the scratch candidate of the last accepted attempt.
// Valid until the next Build call.
func (b *CascadeBuilder) Candidate() *CascadeCandidate { return &b.cand }

// Build attempts to reconstruct a cascade from an accepted V0 and one
// bachelor track. The V0's fitted parent track enters the second-stage
// fit directly; its daughters are never re-fitted.
func (b *CascadeBuilder) Build(pv r3.Vec, v0 *V0Candidate, v0Index, bachID int, bach Daughter) bool {
	m := b.metrics
	m.cascadeStage(StageConsidered)
	b.cand = CascadeCandidate{V0ID: v0Index, BachID: bachID}

	b.cand.BachDCAxy = bach.DCAxy
	if math.Abs(bach.DCAxy) < b.cuts.DCABachToPV {
		return false
	}
	m.cascadeStage(StageDCAToPV)

	// The bachelor's curvature sign fixes the cascade charge, which in
	// turn selects the V0 mass hypothesis that must be consistent. Cheap
	// combinatorial rejection before the expensive second fit.
	b.cand.Charge = -1
	if bach.State.Charge > 0 {
		b.cand.Charge = +1
	}
	if b.cand.Charge < 0 && math.Abs(v0.LambdaMass-b.cuts.LambdaMassRef) > b.cuts.LambdaMassWindow {
		return false
	}
	if b.cand.Charge > 0 && math.Abs(v0.AntiLambdaMass-b.cuts.LambdaMassRef) > b.cuts.LambdaMassWindow {
		return false
	}
	m.cascadeStage(StageMassWindow)

	m.FitCalls.Inc()
	res := b.fitter.Fit(v0.ParentTrack, bach.State)
	if res.Status == FitFaulted {
		m.CaughtFaults.Inc()
		logrus.Errorf("caught numerical fault in cascade vertex fit: %v", res.Fault)
		return false
	}
	if res.NCand == 0 {
		return false
	}
	m.cascadeStage(StageFitConverged)

	b.cand.Pos = res.PCA
	b.cand.BachP = res.PropB.P

	b.cand.Radius = TransverseRadius(b.cand.Pos)
	if b.cand.Radius < b.cuts.CascRadius {
		return false
	}
	m.cascadeStage(StageRadius)

	b.cand.DCACascDau = math.Sqrt(res.Chi2)
	if b.cand.DCACascDau > b.cuts.DCACascDau {
		return false
	}
	m.cascadeStage(StageDCADaughters)

	b.cand.ParentTrack = res.Parent(b.cand.Charge)

	m.cascadeStage(StageAccepted)
	return true
}
