package reco

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// V0Candidate carries the reconstructed quantities of one V0 build attempt.
// The builder owns a single instance and overwrites it per attempt; it is
// promoted to a V0Record only when every cut passes.
type V0Candidate struct {
	PosID, NegID   int
	Pos            r3.Vec // decay vertex
	PosP, NegP     r3.Vec // daughter momenta at the vertex
	DCAV0Dau       float64
	PosDCAxy       float64
	NegDCAxy       float64
	CosPA          float64
	Radius         float64
	LambdaMass     float64
	AntiLambdaMass float64
	ParentTrack    TrackState
}

// Record promotes the candidate into an immutable output record keyed by
// the raw V0 index.
func (c *V0Candidate) Record(v0Index int) V0Record {
	return V0Record{
		V0ID:           v0Index,
		PosID:          c.PosID,
		NegID:          c.NegID,
		Vertex:         c.Pos,
		PosP:           c.PosP,
		NegP:           c.NegP,
		DCADaughters:   c.DCAV0Dau,
		DCAPosToPV:     c.PosDCAxy,
		DCANegToPV:     c.NegDCAxy,
		CosPA:          c.CosPA,
		Radius:         c.Radius,
		LambdaMass:     c.LambdaMass,
		AntiLambdaMass: c.AntiLambdaMass,
	}
}

// V0Builder runs the ordered V0 selection: cheapest quality cuts first,
// the vertex fit only for pairs that survive them, geometry cuts on the
// fit output last. Every cut is an early exit and bumps no further stage
// counters.
type V0Builder struct {
	cuts         TopoCuts
	requireRefit bool // Run 2 only: demand the TPC refit flag
	fitter       *DCAFitter
	metrics      *Metrics
	cand         V0Candidate
}

// NewV0Builder wires the builder to a fitter and metrics sink.
func NewV0Builder(cuts TopoCuts, requireRefit bool, fitter *DCAFitter, metrics *Metrics) *V0Builder {
	return &V0Builder{cuts: cuts, requireRefit: requireRefit, fitter: fitter, metrics: metrics}
}

// Candidate returns the scratch candidate of the last accepted attempt.
// Valid until the next Build call.
func (b *V0Builder) Candidate() *V0Candidate { return &b.cand }

// Build attempts to reconstruct a V0 from the positive and negative
// daughters. Returns true on acceptance. Rejections are silent; a
// numerical fault in the fit is counted and rejected.
func (b *V0Builder) Build(pv r3.Vec, posID, negID int, pos, neg Daughter) bool {
	m := b.metrics
	m.v0Stage(StageConsidered)
	b.cand = V0Candidate{PosID: posID, NegID: negID}

	if b.requireRefit && (!pos.Refit || !neg.Refit) {
		return false
	}
	m.v0Stage(StageTPCRefit)

	if pos.CrossedRows < b.cuts.MinCrossedRows || neg.CrossedRows < b.cuts.MinCrossedRows {
		return false
	}
	m.v0Stage(StageCrossedRows)

	if math.Abs(pos.DCAxy) < b.cuts.DCAPosToPV || math.Abs(neg.DCAxy) < b.cuts.DCANegToPV {
		return false
	}
	m.v0Stage(StageDCAToPV)
	b.cand.PosDCAxy = pos.DCAxy
	b.cand.NegDCAxy = neg.DCAxy

	m.FitCalls.Inc()
	res := b.fitter.Fit(pos.State, neg.State)
	if res.Status == FitFaulted {
		m.CaughtFaults.Inc()
		logrus.Errorf("caught numerical fault in V0 vertex fit: %v", res.Fault)
		return false
	}
	if res.NCand == 0 {
		return false
	}
	m.v0Stage(StageFitConverged)

	b.cand.Pos = res.PCA
	b.cand.PosP = res.PropA.P
	b.cand.NegP = res.PropB.P

	b.cand.DCAV0Dau = math.Sqrt(res.Chi2)
	if b.cand.DCAV0Dau > b.cuts.DCAV0Dau {
		return false
	}
	m.v0Stage(StageDCADaughters)

	b.cand.CosPA = CosPA(pv, b.cand.Pos, r3.Add(b.cand.PosP, b.cand.NegP))
	if b.cand.CosPA < b.cuts.V0CosPA {
		return false
	}
	m.v0Stage(StageCosPA)

	b.cand.Radius = TransverseRadius(b.cand.Pos)
	if b.cand.Radius < b.cuts.V0Radius {
		return false
	}
	m.v0Stage(StageRadius)

	// kept for cascade minimization and for covariance export
	b.cand.ParentTrack = res.Parent(0)

	// Both orderings are always computed: the cascade stage picks the
	// relevant one by the bachelor's charge, not by the V0 itself.
	b.cand.LambdaMass = InvariantMass(b.cand.PosP, b.cand.NegP, MassProton, MassPiPlus)
	b.cand.AntiLambdaMass = InvariantMass(b.cand.PosP, b.cand.NegP, MassPiPlus, MassProton)

	m.v0Stage(StageAccepted)
	return true
}
