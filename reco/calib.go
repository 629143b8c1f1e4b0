package reco

import (
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MagFieldDesc is the calibration store's magnetic-field descriptor.
type MagFieldDesc struct {
	NominalBz float64 `yaml:"bz"` // solenoid field (kG)
}

// CurrentDesc is the alternative field-current descriptor, used to derive
// the field when no MagFieldDesc exists for a run.
type CurrentDesc struct {
	L3Current float64 `yaml:"l3_current"` // solenoid current (A)
}

// MatBudget is the material-budget handle installed into the fitter's
// propagation context. The coarse value backs the lookup-table correction
// mode, the fine value the full-geometry mode.
type MatBudget struct {
	Name     string  `yaml:"name"`
	X0Coarse float64 `yaml:"x0_coarse"`
	X0Fine   float64 `yaml:"x0_fine"`
}

// CalibStore is the external calibration-object store, queried by run
// number and timestamp. Implementations return an immutable snapshot and
// ok=false for "not found". Implementations must be safe for concurrent
// readers: parallel workers share one store.
type CalibStore interface {
	MagField(run int, timestamp int64) (MagFieldDesc, bool)
	FieldCurrent(run int, timestamp int64) (CurrentDesc, bool)
	MatBudget(run int, timestamp int64) (MatBudget, bool)
}

// CalibCache resolves and caches per-run calibration. Each worker owns one;
// Resolve is a no-op while the run number is unchanged, which is the fast
// path for long sequences of events from the same run.
type CalibCache struct {
	store    CalibStore
	override float64 // manual field, active at or above BzAutoSentinel

	run    int
	bz     float64
	mat    MatBudget
	hasMat bool

	fieldQueries int // store lookups for field data, for diagnostics
}

// NewCalibCache wraps store. An override at or above BzAutoSentinel forces
// the field and suppresses all field lookups.
func NewCalibCache(store CalibStore, override float64) *CalibCache {
	return &CalibCache{store: store, override: override, run: -1}
}

// Bz returns the currently resolved field (kG).
func (c *CalibCache) Bz() float64 { return c.bz }

// FieldQueries returns how many field lookups hit the store.
func (c *CalibCache) FieldQueries() int { return c.fieldQueries }

// Resolve refreshes the cached calibration for run and installs the field
// and material budget into fitter. Called at the start of every event; it
// returns immediately when the run number is unchanged. An unobtainable
// field is a fatal condition: without it no vertex geometry is meaningful.
func (c *CalibCache) Resolve(run int, timestamp int64, fitter *DCAFitter) error {
	if run == c.run {
		return nil
	}
	if !c.hasMat {
		if mat, ok := c.store.MatBudget(run, timestamp); ok {
			c.mat = mat
			c.hasMat = true
			fitter.SetMatBudget(mat)
		}
	}
	if c.override >= BzAutoSentinel {
		c.bz = c.override
	} else {
		c.fieldQueries++
		if grp, ok := c.store.MagField(run, timestamp); ok {
			c.bz = grp.NominalBz
			logrus.Infof("Retrieved GRP for timestamp %d with magnetic field of %g kG", timestamp, c.bz)
		} else if cur, ok := c.store.FieldCurrent(run, timestamp); ok {
			c.bz = math.Round(5 * cur.L3Current / 30000)
			logrus.Infof("Derived magnetic field of %g kG from L3 current %g A for timestamp %d", c.bz, cur.L3Current, timestamp)
		} else {
			return fmt.Errorf("no magnetic field descriptor for run %d at timestamp %d", run, timestamp)
		}
	}
	fitter.SetBz(c.bz)
	c.run = run
	return nil
}

// fileStore is a CalibStore backed by a YAML snapshot file, keyed by run.
type fileStore struct {
	runs map[int]fileStoreRun
	mat  *MatBudget
}

type fileStoreRun struct {
	Run       int      `yaml:"run"`
	Bz        *float64 `yaml:"bz"`
	L3Current *float64 `yaml:"l3_current"`
}

type calibFile struct {
	Runs      []fileStoreRun `yaml:"runs"`
	MatBudget *MatBudget     `yaml:"mat_budget"`
}

// LoadCalibFile reads a YAML calibration snapshot usable as a CalibStore.
func LoadCalibFile(path string) (CalibStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calibration file: %w", err)
	}
	var file calibFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing calibration file: %w", err)
	}
	fs := &fileStore{runs: make(map[int]fileStoreRun, len(file.Runs)), mat: file.MatBudget}
	for _, r := range file.Runs {
		fs.runs[r.Run] = r
	}
	return fs, nil
}

func (s *fileStore) MagField(run int, _ int64) (MagFieldDesc, bool) {
	if r, ok := s.runs[run]; ok && r.Bz != nil {
		return MagFieldDesc{NominalBz: *r.Bz}, true
	}
	return MagFieldDesc{}, false
}

func (s *fileStore) FieldCurrent(run int, _ int64) (CurrentDesc, bool) {
	if r, ok := s.runs[run]; ok && r.L3Current != nil {
		return CurrentDesc{L3Current: *r.L3Current}, true
	}
	return CurrentDesc{}, false
}

func (s *fileStore) MatBudget(int, int64) (MatBudget, bool) {
	if s.mat == nil {
		return MatBudget{}, false
	}
	return *s.mat, true
}
