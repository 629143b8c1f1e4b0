package reco

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TopoCuts groups the V0 topological selection thresholds.
type TopoCuts struct {
	DCAPosToPV     float64 `yaml:"dca_pos_to_pv"`    // min |dcaXY| of the positive daughter (cm)
	DCANegToPV     float64 `yaml:"dca_neg_to_pv"`    // min |dcaXY| of the negative daughter (cm)
	MinCrossedRows int     `yaml:"min_crossed_rows"` // min TPC crossed rows per daughter
	DCAV0Dau       float64 `yaml:"dca_v0_dau"`       // max DCA between daughters at the vertex (cm)
	V0CosPA        float64 `yaml:"v0_cos_pa"`        // min cosine of pointing angle
	V0Radius       float64 `yaml:"v0_radius"`        // min transverse decay radius (cm)
}

// CascadeCuts groups the cascade selection thresholds.
type CascadeCuts struct {
	DCABachToPV      float64 `yaml:"dca_bach_to_pv"`     // min |dcaXY| of the bachelor (cm)
	CascRadius       float64 `yaml:"casc_radius"`        // min transverse decay radius (cm)
	DCACascDau       float64 `yaml:"dca_casc_dau"`       // max DCA between V0 and bachelor (cm)
	LambdaMassWindow float64 `yaml:"lambda_mass_window"` // half-width of the accepted mass window (GeV)
	LambdaMassRef    float64 `yaml:"lambda_mass_ref"`    // reference mass the window is centered on (GeV)
}

// MatCorrType selects the material-correction mode of the fitter.
type MatCorrType int

const (
	MatCorrNone MatCorrType = iota // no material correction
	MatCorrGeo                     // full-geometry material budget
	MatCorrLUT                     // fast lookup-table material budget
)

// FitterConfig groups the vertex minimizer settings, fixed at startup.
type FitterConfig struct {
	UseAbsDCA        bool        // absolute-DCA metric; false selects the covariance-weighted metric
	UseWeightedPCA   bool        // force the covariance-weighted metric even with UseAbsDCA set
	MatCorr          MatCorrType // material-correction mode
	MaxR             float64     // max transverse radius of an accepted vertex (cm)
	MaxIter          int         // iteration bound
	MinParamChange   float64     // path-length step below which the fit is converged
	MinRelChi2Change float64     // chi2 ratio above which improvement counts as stalled
}

// TriState is the auto/off/on selector for optional output tables.
type TriState int

const (
	TriOff  TriState = 0
	TriOn   TriState = 1
	TriAuto TriState = -1
)

// OutputConfig groups the production selectors for optional tables.
// Auto means "produce only if some downstream consumer subscribed".
type OutputConfig struct {
	CreateCascades TriState
	CreateV0Covs   TriState
	CreateCascCovs TriState
}

// BzAutoSentinel is the manual-field override threshold: values at or above
// it are taken verbatim, anything below means the field is resolved from
// the calibration store instead.
const BzAutoSentinel = -990.0

// Config is the full configuration surface of the builder.
type Config struct {
	Topo   TopoCuts
	Casc   CascadeCuts
	Fitter FitterConfig
	Output OutputConfig

	// Exactly one of the two run modes must be enabled. Run 2 reads the
	// propagated track representation and demands the TPC refit flag;
	// Run 3 reads the innermost-update representation.
	ProcessRun2 bool
	ProcessRun3 bool

	// BzOverride forces the magnetic field (kG) when at or above BzAutoSentinel.
	BzOverride float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Topo: TopoCuts{
			DCAPosToPV:     0.1,
			DCANegToPV:     0.1,
			MinCrossedRows: 70,
			DCAV0Dau:       1.0,
			V0CosPA:        0.995,
			V0Radius:       5.0,
		},
		Casc: CascadeCuts{
			DCABachToPV:      0.05,
			CascRadius:       0.9,
			DCACascDau:       1.0,
			LambdaMassWindow: 0.01,
			LambdaMassRef:    MassLambda,
		},
		Fitter: FitterConfig{
			UseAbsDCA:        true,
			UseWeightedPCA:   false,
			MatCorr:          MatCorrNone,
			MaxR:             200,
			MaxIter:          40,
			MinParamChange:   1e-3,
			MinRelChi2Change: 0.9,
		},
		Output: OutputConfig{
			CreateCascades: TriAuto,
			CreateV0Covs:   TriAuto,
			CreateCascCovs: TriAuto,
		},
		ProcessRun2: false,
		ProcessRun3: true,
		BzOverride:  -999,
	}
}

// Validate checks run-mode exclusivity and threshold sanity. A failure here
// is a configuration fault: the run must not start.
func (c Config) Validate() error {
	if !c.ProcessRun2 && !c.ProcessRun3 {
		return fmt.Errorf("neither Run 2 nor Run 3 processing enabled, choose one")
	}
	if c.ProcessRun2 && c.ProcessRun3 {
		return fmt.Errorf("cannot enable Run 2 and Run 3 processing at the same time, choose one")
	}
	if err := c.Topo.validate(); err != nil {
		return err
	}
	if err := c.Casc.validate(); err != nil {
		return err
	}
	if c.Fitter.MaxIter <= 0 {
		return fmt.Errorf("fitter max iterations must be positive, got %d", c.Fitter.MaxIter)
	}
	if c.Fitter.MaxR <= 0 {
		return fmt.Errorf("fitter max radius must be positive, got %f", c.Fitter.MaxR)
	}
	if c.Fitter.MatCorr < MatCorrNone || c.Fitter.MatCorr > MatCorrLUT {
		return fmt.Errorf("unknown material correction mode %d", c.Fitter.MatCorr)
	}
	for _, t := range []TriState{c.Output.CreateCascades, c.Output.CreateV0Covs, c.Output.CreateCascCovs} {
		if t < TriAuto || t > TriOn {
			return fmt.Errorf("output selector must be -1, 0 or 1, got %d", t)
		}
	}
	return nil
}

func (c TopoCuts) validate() error {
	if c.DCAPosToPV < 0 || c.DCANegToPV < 0 {
		return fmt.Errorf("daughter-to-PV DCA minima must be non-negative")
	}
	if c.MinCrossedRows < 0 {
		return fmt.Errorf("min crossed rows must be non-negative, got %d", c.MinCrossedRows)
	}
	if c.DCAV0Dau < 0 || c.V0Radius < 0 {
		return fmt.Errorf("V0 DCA and radius cuts must be non-negative")
	}
	if c.V0CosPA < -1 || c.V0CosPA > 1 {
		return fmt.Errorf("V0 cosPA cut must be in [-1, 1], got %f", c.V0CosPA)
	}
	return nil
}

func (c CascadeCuts) validate() error {
	if c.DCABachToPV < 0 || c.CascRadius < 0 || c.DCACascDau < 0 {
		return fmt.Errorf("cascade DCA and radius cuts must be non-negative")
	}
	if c.LambdaMassWindow <= 0 || c.LambdaMassRef <= 0 {
		return fmt.Errorf("lambda mass window and reference must be positive")
	}
	return nil
}

// CutsBundle holds topological cut overrides, loadable from a YAML file.
// Nil sections mean "not set in YAML" and leave the flag values untouched.
type CutsBundle struct {
	V0      *TopoCuts    `yaml:"v0"`
	Cascade *CascadeCuts `yaml:"cascade"`
}

// LoadCutsBundle reads and parses a YAML cuts file.
func LoadCutsBundle(path string) (*CutsBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cuts file: %w", err)
	}
	var bundle CutsBundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parsing cuts file: %w", err)
	}
	return &bundle, nil
}

// Apply copies the set sections of the bundle into cfg.
func (b *CutsBundle) Apply(cfg *Config) {
	if b.V0 != nil {
		cfg.Topo = *b.V0
	}
	if b.Cascade != nil {
		cfg.Casc = *b.Cascade
	}
}
