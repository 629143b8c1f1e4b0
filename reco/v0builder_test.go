package reco

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// buildLambdaV0 runs the V0 builder over the fixture daughters and returns
// the builder together with the accept decision.
func buildLambdaV0(t *testing.T, cuts TopoCuts, run2 bool) (*V0Builder, *Metrics, bool) {
	t.Helper()
	ev := lambdaEvent()
	m := NewMetrics()
	b := NewV0Builder(cuts, run2, testFitter(), m)
	ok := b.Build(ev.PrimaryVertex.Vec(), 0, 1, daughter(ev.Tracks[0]), daughter(ev.Tracks[1]))
	return b, m, ok
}

func TestV0Builder_AcceptsLambdaCandidate(t *testing.T) {
	// GIVEN the canonical Lambda fixture and default cuts
	cuts := DefaultConfig().Topo
	b, m, ok := buildLambdaV0(t, cuts, false)

	// THEN the candidate is accepted and honors every cut invariant
	require.True(t, ok)
	cand := b.Candidate()
	assert.LessOrEqual(t, cand.DCAV0Dau, cuts.DCAV0Dau)
	assert.GreaterOrEqual(t, cand.CosPA, cuts.V0CosPA)
	assert.GreaterOrEqual(t, cand.Radius, cuts.V0Radius)
	assert.InDelta(t, 6.0, cand.Radius, 1e-6)
	assert.InDelta(t, 1.0, cand.CosPA, 1e-9)

	// both mass hypotheses are always computed
	assert.InDelta(t, MassLambda, cand.LambdaMass, 0.01)
	assert.Greater(t, cand.AntiLambdaMass, MassLambda+0.2)

	// the fitted parent track is stored for the cascade stage, neutral
	assert.Equal(t, 0, cand.ParentTrack.Charge)
	assert.InDelta(t, 6.0, cand.ParentTrack.Pos.X, 1e-6)

	// the full funnel was traversed exactly once
	assert.Equal(t, 1.0, testutil.ToFloat64(m.V0Stages.WithLabelValues(StageAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FitCalls))
}

func TestV0Builder_DecayAtPrimaryVertex_RejectedByRadiusNotPointing(t *testing.T) {
	// GIVEN daughters intersecting exactly at the primary vertex
	ev := pvDecayEvent()
	m := NewMetrics()
	b := NewV0Builder(DefaultConfig().Topo, false, testFitter(), m)

	// WHEN the V0 is built
	ok := b.Build(ev.PrimaryVertex.Vec(), 0, 1, daughter(ev.Tracks[0]), daughter(ev.Tracks[1]))

	// THEN the pointing-angle cut passes trivially (cos = 1 by definition)
	// and the radius cut performs the rejection
	require.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.V0Stages.WithLabelValues(StageCosPA)),
		"pointing-angle stage must have passed")
	assert.Zero(t, testutil.ToFloat64(m.V0Stages.WithLabelValues(StageRadius)),
		"radius stage must have rejected")
	assert.Zero(t, testutil.ToFloat64(m.V0Stages.WithLabelValues(StageAccepted)))
}

func TestV0Builder_Run2DemandsRefitFlag(t *testing.T) {
	// GIVEN a Run 2 pipeline and a daughter without the refit flag
	ev := lambdaEvent()
	ev.Tracks[1].Refit = false
	m := NewMetrics()
	b := NewV0Builder(DefaultConfig().Topo, true, testFitter(), m)

	ok := b.Build(ev.PrimaryVertex.Vec(), 0, 1, daughter(ev.Tracks[0]), daughter(ev.Tracks[1]))

	// THEN the pair is rejected before any fit runs
	require.False(t, ok)
	assert.Zero(t, testutil.ToFloat64(m.V0Stages.WithLabelValues(StageTPCRefit)))
	assert.Zero(t, testutil.ToFloat64(m.FitCalls))
}

func TestV0Builder_Run3IgnoresRefitFlag(t *testing.T) {
	ev := lambdaEvent()
	ev.Tracks[0].Refit = false
	m := NewMetrics()
	b := NewV0Builder(DefaultConfig().Topo, false, testFitter(), m)

	ok := b.Build(ev.PrimaryVertex.Vec(), 0, 1, daughter(ev.Tracks[0]), daughter(ev.Tracks[1]))
	assert.True(t, ok)
}

func TestV0Builder_CrossedRowsCut(t *testing.T) {
	cuts := DefaultConfig().Topo
	cuts.MinCrossedRows = 90 // fixture tracks carry 80
	_, m, ok := buildLambdaV0(t, cuts, false)

	require.False(t, ok)
	assert.Zero(t, testutil.ToFloat64(m.V0Stages.WithLabelValues(StageCrossedRows)))
	assert.Zero(t, testutil.ToFloat64(m.FitCalls), "rejected before the fit")
}

func TestV0Builder_DCAToPVCutUsesMagnitude(t *testing.T) {
	// GIVEN a negative daughter with a negative-signed impact parameter
	ev := lambdaEvent()
	ev.Tracks[1].DCAxy = -0.5
	m := NewMetrics()
	b := NewV0Builder(DefaultConfig().Topo, false, testFitter(), m)

	ok := b.Build(ev.PrimaryVertex.Vec(), 0, 1, daughter(ev.Tracks[0]), daughter(ev.Tracks[1]))
	assert.True(t, ok, "|dcaXY| above the minimum must pass regardless of sign")
	_ = m
}

func TestV0Builder_PromptPair_RejectedByDCAToPV(t *testing.T) {
	ev := lambdaEvent()
	ev.Tracks[0].DCAxy = 0.01 // prompt positive daughter
	m := NewMetrics()
	b := NewV0Builder(DefaultConfig().Topo, false, testFitter(), m)

	ok := b.Build(ev.PrimaryVertex.Vec(), 0, 1, daughter(ev.Tracks[0]), daughter(ev.Tracks[1]))
	require.False(t, ok)
	assert.Zero(t, testutil.ToFloat64(m.V0Stages.WithLabelValues(StageDCAToPV)))
}

func TestV0Builder_FaultedFit_CountedAndRejected(t *testing.T) {
	// GIVEN a weighted fitter and daughters with singular covariances
	cfg := DefaultConfig()
	cfg.Fitter.UseAbsDCA = false
	cfg.Fitter.UseWeightedPCA = true
	fitter := NewDCAFitter(cfg.Fitter)
	fitter.SetBz(0)
	m := NewMetrics()
	b := NewV0Builder(cfg.Topo, false, fitter, m)

	ev := lambdaEvent()
	ev.Tracks[0].HasCov = true
	ev.Tracks[1].HasCov = true

	ok := b.Build(ev.PrimaryVertex.Vec(), 0, 1, daughter(ev.Tracks[0]), daughter(ev.Tracks[1]))

	// THEN the fault is counted, the candidate rejected, nothing fatal
	require.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaughtFaults))
	assert.Zero(t, testutil.ToFloat64(m.V0Stages.WithLabelValues(StageFitConverged)))
}

func TestV0Candidate_Record_CopiesAcceptedQuantities(t *testing.T) {
	cuts := DefaultConfig().Topo
	b, _, ok := buildLambdaV0(t, cuts, false)
	require.True(t, ok)

	rec := b.Candidate().Record(7)
	assert.Equal(t, 7, rec.V0ID)
	assert.Equal(t, 0, rec.PosID)
	assert.Equal(t, 1, rec.NegID)
	assert.InDelta(t, 6.0, rec.Vertex.X, 1e-6)
	assert.True(t, math.Abs(rec.CosPA-1) < 1e-9)
	assert.Equal(t, b.Candidate().LambdaMass, rec.LambdaMass)
}

// sanity anchor for the fixture geometry used across the suite
func TestLambdaFixtureGeometry(t *testing.T) {
	ev := lambdaEvent()
	p1 := ev.Tracks[0].P
	p2 := ev.Tracks[1].P
	assert.InDelta(t, 1.26, r3.Add(p1, p2).X, 1e-12)
}
