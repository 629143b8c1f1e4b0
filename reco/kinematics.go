package reco

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// PDG masses (GeV/c^2) for the two daughter mass hypotheses.
const (
	MassProton = 0.93827208816
	MassPiPlus = 0.13957039
	MassLambda = 1.115683
)

// CosPA returns the cosine of the pointing angle: the angle between the
// primary-vertex-to-decay-vertex vector and the candidate momentum.
// Carried in float64 throughout: the derivative of cos vanishes at zero
// angle, so any precision loss shows up directly at the cut threshold.
// A null displacement (decay vertex on top of the primary vertex) is
// defined to point perfectly, cos = 1. Displacements below 1e-9 cm count
// as null: an iteratively fitted vertex sitting on the primary vertex
// lands within round-off of it, not exactly on it.
func CosPA(pv, vtx, p r3.Vec) float64 {
	d := r3.Sub(vtx, pv)
	dn := r3.Norm(d)
	pn := r3.Norm(p)
	if dn < 1e-9 || pn == 0 {
		return 1
	}
	c := r3.Dot(d, p) / (dn * pn)
	return math.Max(-1, math.Min(1, c))
}

// InvariantMass returns the two-body invariant mass of momenta p1, p2 under
// the mass hypotheses m1, m2.
func InvariantMass(p1, p2 r3.Vec, m1, m2 float64) float64 {
	e1 := math.Sqrt(m1*m1 + r3.Norm2(p1))
	e2 := math.Sqrt(m2*m2 + r3.Norm2(p2))
	p := r3.Add(p1, p2)
	m2sum := (e1+e2)*(e1+e2) - r3.Norm2(p)
	if m2sum < 0 {
		return 0
	}
	return math.Sqrt(m2sum)
}

// TransverseRadius returns the decay distance in the plane transverse to
// the beam axis.
func TransverseRadius(v r3.Vec) float64 {
	return math.Hypot(v.X, v.Y)
}
