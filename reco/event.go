package reco

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// Vertex is a position-only point, used for the primary vertex.
type Vertex struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Vec returns the vertex as a 3-vector.
func (v Vertex) Vec() r3.Vec {
	return r3.Vec{X: v.X, Y: v.Y, Z: v.Z}
}

// V0Pair references the two oppositely-charged daughter tracks of a raw V0.
type V0Pair struct {
	Pos int `yaml:"pos"`
	Neg int `yaml:"neg"`
}

// CascadeTriplet references a raw V0 (by index into the event's V0 list)
// plus one bachelor track.
type CascadeTriplet struct {
	V0       int `yaml:"v0"`
	Bachelor int `yaml:"bachelor"`
}

// Event is the per-event input supplied by the event-data collaborator:
// the primary vertex, the daughter/bachelor track states in both
// representations, and the raw V0 and cascade index lists.
type Event struct {
	Run           int              `yaml:"run"`
	Timestamp     int64            `yaml:"timestamp"`
	PrimaryVertex Vertex           `yaml:"primary_vertex"`
	Tracks        []Track          `yaml:"tracks"`
	TracksIU      []TrackIU        `yaml:"tracks_iu"`
	V0s           []V0Pair         `yaml:"v0s"`
	Cascades      []CascadeTriplet `yaml:"cascades"`
}

// Validate checks that every V0 and cascade index is resolvable in the
// representation selected by run3 and that the V0 daughter signs match
// their slots. Violations are an input fault, not a candidate rejection.
func (e *Event) Validate(run3 bool) error {
	ntracks := len(e.Tracks)
	charge := func(i int) int { return e.Tracks[i].Charge }
	if run3 {
		ntracks = len(e.TracksIU)
		charge = func(i int) int { return e.TracksIU[i].Charge }
	}
	for i, pair := range e.V0s {
		if pair.Pos < 0 || pair.Pos >= ntracks || pair.Neg < 0 || pair.Neg >= ntracks {
			return fmt.Errorf("run %d: V0 %d references track out of range (pos=%d neg=%d, %d tracks)",
				e.Run, i, pair.Pos, pair.Neg, ntracks)
		}
		if charge(pair.Pos) <= 0 || charge(pair.Neg) >= 0 {
			return fmt.Errorf("run %d: V0 %d daughter signs do not match their slots (pos=%d neg=%d)",
				e.Run, i, charge(pair.Pos), charge(pair.Neg))
		}
	}
	for i, trip := range e.Cascades {
		if trip.V0 < 0 || trip.V0 >= len(e.V0s) {
			return fmt.Errorf("run %d: cascade %d references V0 out of range (v0=%d, %d V0s)",
				e.Run, i, trip.V0, len(e.V0s))
		}
		if trip.Bachelor < 0 || trip.Bachelor >= ntracks {
			return fmt.Errorf("run %d: cascade %d references bachelor out of range (bachelor=%d, %d tracks)",
				e.Run, i, trip.Bachelor, ntracks)
		}
	}
	return nil
}

type eventFile struct {
	Events []*Event `yaml:"events"`
}

// LoadEvents reads a YAML event file. Covariance presence is inferred from
// the cov array: any non-zero element marks the track as carrying one.
func LoadEvents(path string) ([]*Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event file: %w", err)
	}
	var file eventFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing event file: %w", err)
	}
	for _, ev := range file.Events {
		for i := range ev.Tracks {
			ev.Tracks[i].HasCov = anyNonZero(ev.Tracks[i].Cov)
		}
		for i := range ev.TracksIU {
			ev.TracksIU[i].HasCov = anyNonZero(ev.TracksIU[i].Cov)
		}
	}
	return file.Events, nil
}

func anyNonZero(cov [21]float64) bool {
	for _, v := range cov {
		if v != 0 {
			return true
		}
	}
	return false
}
