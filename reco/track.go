package reco

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// b2c converts field (kG) times radius (cm) into transverse momentum (GeV/c).
const b2c = 0.299792458e-3

// TrackState is a charged-particle trajectory parameterization at a
// reference point: position (cm), momentum (GeV/c), charge (units of e)
// and, optionally, a 21-element lower-triangular covariance over
// (x, y, z, px, py, pz).
//
// TrackState is a value type. Propagation returns a new state and never
// mutates the receiver, so states taken from an event can be shared freely
// while fitted parent states are owned by whoever built them.
type TrackState struct {
	Pos    r3.Vec      `yaml:"pos"`
	P      r3.Vec      `yaml:"p"`
	Charge int         `yaml:"charge"`
	Cov    [21]float64 `yaml:"cov,omitempty"`
	HasCov bool        `yaml:"-"`
}

// Pt returns the transverse momentum.
func (t TrackState) Pt() float64 {
	return math.Hypot(t.P.X, t.P.Y)
}

// Tangent returns dPos/ds at the current state, with s the transverse path
// length. The z component is the dip slope pz/pt.
func (t TrackState) Tangent() r3.Vec {
	pt := t.Pt()
	if pt == 0 {
		return r3.Vec{}
	}
	return r3.Vec{X: t.P.X / pt, Y: t.P.Y / pt, Z: t.P.Z / pt}
}

// PropagateXY returns the state advanced by transverse path length s (cm)
// in a solenoidal field bz (kG) along the beam axis. Neutral tracks and
// zero field propagate on a straight line; charged tracks follow a helix
// with curvature pt / (b2c * |q| * bz).
func (t TrackState) PropagateXY(s, bz float64) TrackState {
	pt := t.Pt()
	if pt == 0 {
		return t
	}
	out := t
	if t.Charge == 0 || bz == 0 {
		out.Pos = r3.Add(t.Pos, r3.Scale(s, t.Tangent()))
		return out
	}
	omega := -b2c * float64(t.Charge) * bz / pt // dphi/ds
	phi0 := math.Atan2(t.P.Y, t.P.X)
	phi := phi0 + omega*s
	out.Pos = r3.Vec{
		X: t.Pos.X + (math.Sin(phi)-math.Sin(phi0))/omega,
		Y: t.Pos.Y - (math.Cos(phi)-math.Cos(phi0))/omega,
		Z: t.Pos.Z + s*t.P.Z/pt,
	}
	out.P = r3.Vec{X: pt * math.Cos(phi), Y: pt * math.Sin(phi), Z: t.P.Z}
	return out
}

// DCAXYTo returns the signed transverse impact parameter of the trajectory
// with respect to point p under field bz (kG).
func (t TrackState) DCAXYTo(p r3.Vec, bz float64) float64 {
	pt := t.Pt()
	if pt == 0 {
		return math.Hypot(p.X-t.Pos.X, p.Y-t.Pos.Y)
	}
	if t.Charge == 0 || bz == 0 {
		dx, dy := p.X-t.Pos.X, p.Y-t.Pos.Y
		return dx*t.P.Y/pt - dy*t.P.X/pt
	}
	omega := -b2c * float64(t.Charge) * bz / pt
	phi0 := math.Atan2(t.P.Y, t.P.X)
	cx := t.Pos.X - math.Sin(phi0)/omega
	cy := t.Pos.Y + math.Cos(phi0)/omega
	return math.Hypot(p.X-cx, p.Y-cy) - math.Abs(1/omega)
}

// TrackRef is the capability interface over the two track representations
// supplied by the event data. The reconstruction pipeline is generic over
// it and is instantiated once per run mode.
type TrackRef interface {
	ParCov() TrackState
	TPCRefit() bool
	TPCCrossedRows() int
	DCAXY() float64
}

// Track is the Run 2 representation: parameters propagated to the primary
// vertex region, plus the quality columns the selection cuts read.
type Track struct {
	TrackState  `yaml:",inline"`
	Refit       bool    `yaml:"tpc_refit"`
	CrossedRows int     `yaml:"crossed_rows"`
	DCAxy       float64 `yaml:"dca_xy"`
}

func (t Track) ParCov() TrackState  { return t.TrackState }
func (t Track) TPCRefit() bool      { return t.Refit }
func (t Track) TPCCrossedRows() int { return t.CrossedRows }
func (t Track) DCAXY() float64      { return t.DCAxy }

// TrackIU is the Run 3 representation: parameters at the innermost update,
// i.e. after final calibration alignment. Same capabilities, different
// reference surface.
type TrackIU struct {
	Track `yaml:",inline"`
}

// Daughter is a track resolved through TrackRef for one build attempt.
type Daughter struct {
	State       TrackState
	Refit       bool
	CrossedRows int
	DCAxy       float64
}

func daughter[T TrackRef](t T) Daughter {
	return Daughter{
		State:       t.ParCov(),
		Refit:       t.TPCRefit(),
		CrossedRows: t.TPCCrossedRows(),
		DCAxy:       t.DCAXY(),
	}
}
