// Package reco reconstructs strange-particle decay candidates (V0s and
// cascades) from charged-track pairs and triples of a collision event.
//
// # Reading Guide
//
// Start with these three files to understand the engine:
//   - track.go: the TrackState value type, helix propagation, and the
//     TrackRef capability interface behind the two run modes
//   - fitter.go: the iterative two-track vertex minimizer and its
//     converged / not-converged / faulted result type
//   - builder.go: the per-event driver, output gating, and the generic
//     V0 + cascade loop
//
// # Architecture
//
// Per-event processing is single-threaded. A Builder owns everything
// mutable (fitter scratch buffers, calibration cache, candidate scratch
// structs); RunParallel fans events out across independent Builders over a
// shared read-only calibration store. The selection pipelines run their
// cuts cheapest-first with early exit; every stage feeds an observable
// counter in Metrics. Rejections and caught numerical faults never abort
// an event; configuration and calibration faults abort the run.
package reco
