package reco

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// Names downstream consumers subscribe to for the optional output tables.
const (
	TableCascData = "CascData"
	TableV0Covs   = "V0Covs"
	TableCascCovs = "CascCovs"
)

// V0Record is the persisted form of an accepted V0 candidate.
type V0Record struct {
	V0ID           int
	PosID, NegID   int
	Vertex         r3.Vec
	PosP, NegP     r3.Vec
	DCADaughters   float64
	DCAPosToPV     float64
	DCANegToPV     float64
	CosPA          float64
	Radius         float64
	LambdaMass     float64
	AntiLambdaMass float64
}

// CascadeRecord is the persisted form of an accepted cascade candidate.
type CascadeRecord struct {
	V0ID             int
	BachelorID       int
	Charge           int
	Vertex           r3.Vec
	V0Vertex         r3.Vec
	PosP, NegP       r3.Vec
	BachP            r3.Vec
	DCAV0Daughters   float64
	DCACascDaughters float64
	DCAPosToPV       float64
	DCANegToPV       float64
	DCABachToPV      float64
	Radius           float64
}

// Output collects the records emitted for one event, append-only and in
// strict acceptance order. The covariance side-tables are keyed 1:1 with
// their parent records by append order.
type Output struct {
	V0s      []V0Record
	Cascades []CascadeRecord
	V0Covs   [][21]float64
	CascCovs [][21]float64
}

// Builder is the per-worker pipeline driver: it owns a fitter, a
// calibration cache, both candidate builders and the resolved output
// gates. A Builder must not be shared between goroutines; the calibration
// store behind it may be.
type Builder struct {
	cfg     Config
	fitter  *DCAFitter
	calib   *CalibCache
	metrics *Metrics
	v0b     *V0Builder
	cascb   *CascadeBuilder

	createCascades bool
	createV0Covs   bool
	createCascCovs bool
}

// NewBuilder validates cfg, resolves the output gates against the
// subscribed tables, and wires the pipeline. metrics may be nil for a
// private sink, or shared across workers. A validation failure is a
// configuration fault: the caller must abort the run.
func NewBuilder(cfg Config, store CalibStore, subscriptions []string, metrics *Metrics) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	fitter := NewDCAFitter(cfg.Fitter)
	b := &Builder{
		cfg:            cfg,
		fitter:         fitter,
		calib:          NewCalibCache(store, cfg.BzOverride),
		metrics:        metrics,
		v0b:            NewV0Builder(cfg.Topo, cfg.ProcessRun2, fitter, metrics),
		cascb:          NewCascadeBuilder(cfg.Casc, fitter, metrics),
		createCascades: resolveGate(TableCascData, cfg.Output.CreateCascades, subscriptions),
		createV0Covs:   resolveGate(TableV0Covs, cfg.Output.CreateV0Covs, subscriptions),
		createCascCovs: resolveGate(TableCascCovs, cfg.Output.CreateCascCovs, subscriptions),
	}
	if b.cfg.ProcessRun2 {
		logrus.Info("Run 2 processing enabled, reading the propagated track representation")
	} else {
		logrus.Info("Run 3 processing enabled, reading the innermost-update track representation")
	}
	return b, nil
}

// resolveGate turns the auto/off/on selector into a concrete decision.
// The second fit stage and covariance extraction dominate CPU, so auto
// produces a table only when some consumer subscribed to it. Forcing a
// subscribed table off is honored but never silent.
func resolveGate(table string, flag TriState, subscriptions []string) bool {
	subscribed := false
	for _, s := range subscriptions {
		if s == table {
			subscribed = true
			break
		}
	}
	switch flag {
	case TriOn:
		logrus.Infof("Table %s enabled", table)
		return true
	case TriOff:
		if subscribed {
			logrus.Warnf("Table %s disabled by configuration but subscribed downstream", table)
		}
		return false
	default:
		if subscribed {
			logrus.Infof("Auto-enabling table: %s", table)
		}
		return subscribed
	}
}

// Metrics returns the builder's metrics sink.
func (b *Builder) Metrics() *Metrics { return b.metrics }

// ProcessEvent runs the full pipeline on one event: synchronous
// calibration refresh on a run change, association index build, then the
// V0 loop with its gated cascade sub-loop. The returned Output holds all
// records accepted for this event.
func (b *Builder) ProcessEvent(ev *Event) (*Output, error) {
	if err := b.calib.Resolve(ev.Run, ev.Timestamp, b.fitter); err != nil {
		return nil, err
	}
	if err := ev.Validate(b.cfg.ProcessRun3); err != nil {
		return nil, err
	}
	b.metrics.Events.Inc()

	assoc := BuildAssociationIndex(ev.Cascades)
	out := &Output{}
	if b.cfg.ProcessRun3 {
		processTracks(b, ev, ev.TracksIU, assoc, out)
	} else {
		processTracks(b, ev, ev.Tracks, assoc, out)
	}
	return out, nil
}

// processTracks is the run-mode-generic core loop, instantiated once per
// track representation.
func processTracks[T TrackRef](b *Builder, ev *Event, tracks []T, assoc AssociationIndex, out *Output) {
	pv := ev.PrimaryVertex.Vec()
	bz := b.fitter.Bz()
	for i, pair := range ev.V0s {
		pos := daughter(tracks[pair.Pos])
		neg := daughter(tracks[pair.Neg])
		fillDCAxy(&pos, pv, bz)
		fillDCAxy(&neg, pv, bz)
		if !b.v0b.Build(pv, pair.Pos, pair.Neg, pos, neg) {
			continue
		}
		v0 := b.v0b.Candidate()
		out.V0s = append(out.V0s, v0.Record(i))
		if b.createV0Covs {
			out.V0Covs = append(out.V0Covs, v0.ParentTrack.Cov)
		}
		if !b.createCascades {
			continue
		}
		for _, ci := range assoc.Cascades(i) {
			trip := ev.Cascades[ci]
			bach := daughter(tracks[trip.Bachelor])
			fillDCAxy(&bach, pv, bz)
			if !b.cascb.Build(pv, v0, i, trip.Bachelor, bach) {
				continue
			}
			casc := b.cascb.Candidate()
			out.Cascades = append(out.Cascades, casc.Record(v0))
			if b.createCascCovs {
				out.CascCovs = append(out.CascCovs, casc.ParentTrack.Cov)
			}
		}
	}
}

// fillDCAxy computes the transverse impact parameter from the trajectory
// when the event data carries no precomputed column for the track.
func fillDCAxy(d *Daughter, pv r3.Vec, bz float64) {
	if d.DCAxy == 0 {
		d.DCAxy = d.State.DCAXYTo(pv, bz)
	}
}

// RunParallel processes events across workers goroutines, each owning its
// own Builder (fitter, calibration cache, scratch buffers) over the shared
// store. Outputs are returned in event input order, so the result is
// identical to a serial run. metrics may be shared; counters are atomic.
func RunParallel(events []*Event, workers int, cfg Config, store CalibStore, subscriptions []string, metrics *Metrics) ([]*Output, error) {
	if workers < 1 {
		workers = 1
	}
	if workers == 1 {
		b, err := NewBuilder(cfg, store, subscriptions, metrics)
		if err != nil {
			return nil, err
		}
		outs := make([]*Output, len(events))
		for i, ev := range events {
			out, err := b.ProcessEvent(ev)
			if err != nil {
				return nil, err
			}
			outs[i] = out
		}
		return outs, nil
	}

	outs := make([]*Output, len(events))
	jobs := make(chan int)
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := NewBuilder(cfg, store, subscriptions, metrics)
			if err != nil {
				fail(err)
				b = nil
			}
			// keep draining jobs after a failure so the feeder never blocks
			for i := range jobs {
				if b == nil {
					continue
				}
				out, err := b.ProcessEvent(events[i])
				if err != nil {
					fail(fmt.Errorf("event %d: %w", i, err))
					b = nil
					continue
				}
				outs[i] = out
			}
		}()
	}
	for i := range events {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return outs, nil
}
