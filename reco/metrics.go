package reco

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Selection stage labels, in pipeline order. Each stage counts attempts
// that survived up to and including that cut.
const (
	StageConsidered   = "considered"
	StageTPCRefit     = "tpc_refit"
	StageCrossedRows  = "crossed_rows"
	StageDCAToPV      = "dca_to_pv"
	StageFitConverged = "fit_converged"
	StageDCADaughters = "dca_daughters"
	StageCosPA        = "cos_pa"
	StageRadius       = "radius"
	StageMassWindow   = "mass_window"
	StageAccepted     = "accepted"
)

var v0StageOrder = []string{
	StageConsidered, StageTPCRefit, StageCrossedRows, StageDCAToPV,
	StageFitConverged, StageDCADaughters, StageCosPA, StageRadius,
	StageAccepted,
}

var cascadeStageOrder = []string{
	StageConsidered, StageDCAToPV, StageMassWindow, StageFitConverged,
	StageRadius, StageDCADaughters, StageAccepted,
}

// Metrics aggregates the observable counters of the pipeline: per-stage
// pass counts for both candidate families, fit invocations, caught
// numerical faults, and processed events. Counters are atomic, so one
// Metrics may be shared by parallel workers.
type Metrics struct {
	reg *prometheus.Registry

	Events       prometheus.Counter
	FitCalls     prometheus.Counter
	CaughtFaults prometheus.Counter

	V0Stages      *prometheus.CounterVec
	CascadeStages *prometheus.CounterVec
}

// NewMetrics builds a Metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Events: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strangeness_events_total",
			Help: "Events processed.",
		}),
		FitCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strangeness_fit_calls_total",
			Help: "Vertex fit invocations across both stages.",
		}),
		CaughtFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strangeness_fit_faults_total",
			Help: "Numerical faults caught during vertex fits.",
		}),
		V0Stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strangeness_v0_stage_total",
			Help: "V0 candidates surviving each selection stage.",
		}, []string{"stage"}),
		CascadeStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strangeness_cascade_stage_total",
			Help: "Cascade candidates surviving each selection stage.",
		}, []string{"stage"}),
	}
	m.reg.MustRegister(m.Events, m.FitCalls, m.CaughtFaults, m.V0Stages, m.CascadeStages)
	return m
}

// Registry exposes the underlying registry, e.g. for scraping.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) v0Stage(stage string)      { m.V0Stages.WithLabelValues(stage).Inc() }
func (m *Metrics) cascadeStage(stage string) { m.CascadeStages.WithLabelValues(stage).Inc() }

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}

func (m *Metrics) stageValue(vec *prometheus.CounterVec, stage string) float64 {
	return counterValue(vec.WithLabelValues(stage))
}

// Print displays the selection funnel and fit statistics at the end of a run.
func (m *Metrics) Print() {
	fmt.Println("=== Reconstruction metrics ===")
	fmt.Printf("Events processed     : %.0f\n", counterValue(m.Events))
	fmt.Printf("Vertex fit calls     : %.0f\n", counterValue(m.FitCalls))
	fmt.Printf("Caught fit faults    : %.0f\n", counterValue(m.CaughtFaults))
	fmt.Println("V0 selection funnel:")
	for _, stage := range v0StageOrder {
		fmt.Printf("  %-14s : %.0f\n", stage, m.stageValue(m.V0Stages, stage))
	}
	fmt.Println("Cascade selection funnel:")
	for _, stage := range cascadeStageOrder {
		fmt.Printf("  %-14s : %.0f\n", stage, m.stageValue(m.CascadeStages, stage))
	}
}
