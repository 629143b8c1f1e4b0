package reco

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// memStore is an in-memory CalibStore that counts field lookups. Safe for
// concurrent use, matching the contract the parallel driver relies on.
type memStore struct {
	bz      map[int]float64
	current map[int]float64
	mat     *MatBudget

	mu       sync.Mutex
	magCalls int
	curCalls int
}

func (s *memStore) MagField(run int, _ int64) (MagFieldDesc, bool) {
	s.mu.Lock()
	s.magCalls++
	s.mu.Unlock()
	if v, ok := s.bz[run]; ok {
		return MagFieldDesc{NominalBz: v}, true
	}
	return MagFieldDesc{}, false
}

func (s *memStore) FieldCurrent(run int, _ int64) (CurrentDesc, bool) {
	s.mu.Lock()
	s.curCalls++
	s.mu.Unlock()
	if v, ok := s.current[run]; ok {
		return CurrentDesc{L3Current: v}, true
	}
	return CurrentDesc{}, false
}

func (s *memStore) MatBudget(int, int64) (MatBudget, bool) {
	if s.mat == nil {
		return MatBudget{}, false
	}
	return *s.mat, true
}

func zeroFieldStore(run int) *memStore {
	return &memStore{
		bz:  map[int]float64{run: 0},
		mat: &MatBudget{Name: "default", X0Coarse: 0.01, X0Fine: 0.008},
	}
}

// straightTrack builds a field-off track whose trajectory passes through
// `through` with momentum p: the reference point sits one momentum-vector
// step before it.
func straightTrack(through, p r3.Vec, charge int, dcaXY float64) Track {
	return Track{
		TrackState: TrackState{
			Pos:    r3.Sub(through, p),
			P:      p,
			Charge: charge,
		},
		Refit:       true,
		CrossedRows: 80,
		DCAxy:       dcaXY,
	}
}

// lambdaEvent builds one event with a single Lambda-like V0 decaying at
// (6,0,0) and one negative bachelor crossing the V0 flight line at
// (2,0,0). The daughter momenta give m(p pi-) ~ 1.121 GeV, inside the
// default mass window, while the antiparticle hypothesis sits far outside.
// All default cuts pass for both the V0 and the cascade.
func lambdaEvent() *Event {
	pos := straightTrack(r3.Vec{X: 6}, r3.Vec{X: 1.0, Y: 0.1}, +1, 0.5)
	neg := straightTrack(r3.Vec{X: 6}, r3.Vec{X: 0.26, Y: -0.1}, -1, 0.5)
	bach := straightTrack(r3.Vec{X: 2}, r3.Vec{X: 0.5, Y: 0.2}, -1, 0.2)
	tracks := []Track{pos, neg, bach}
	iu := make([]TrackIU, len(tracks))
	for i, t := range tracks {
		iu[i] = TrackIU{Track: t}
	}
	return &Event{
		Run:       500000,
		Timestamp: 1000,
		Tracks:    tracks,
		TracksIU:  iu,
		V0s:       []V0Pair{{Pos: 0, Neg: 1}},
		Cascades:  []CascadeTriplet{{V0: 0, Bachelor: 2}},
	}
}

// pvDecayEvent builds an event whose V0 daughters intersect exactly at the
// primary vertex: pointing is perfect but the decay radius is zero.
func pvDecayEvent() *Event {
	pos := straightTrack(r3.Vec{}, r3.Vec{X: 1.0, Y: 0.1}, +1, 0.5)
	neg := straightTrack(r3.Vec{}, r3.Vec{X: 0.26, Y: -0.1}, -1, 0.5)
	tracks := []Track{pos, neg}
	iu := make([]TrackIU, len(tracks))
	for i, t := range tracks {
		iu[i] = TrackIU{Track: t}
	}
	return &Event{
		Run:       500000,
		Timestamp: 1000,
		Tracks:    tracks,
		TracksIU:  iu,
		V0s:       []V0Pair{{Pos: 0, Neg: 1}},
	}
}

// run2Config returns defaults with Run 2 processing selected.
func run2Config() Config {
	cfg := DefaultConfig()
	cfg.ProcessRun2 = true
	cfg.ProcessRun3 = false
	return cfg
}

// testFitter builds a field-off fitter with default settings.
func testFitter() *DCAFitter {
	f := NewDCAFitter(DefaultConfig().Fitter)
	f.SetBz(0)
	return f
}
