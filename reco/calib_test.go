package reco

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibCache_ResolvesFieldFromStore(t *testing.T) {
	// GIVEN a store carrying a field descriptor for run 500000
	store := &memStore{bz: map[int]float64{500000: -5}, mat: &MatBudget{Name: "lut", X0Coarse: 0.01}}
	cache := NewCalibCache(store, -999)
	fitter := testFitter()

	// WHEN the run is resolved
	err := cache.Resolve(500000, 1000, fitter)

	// THEN the field is installed into the fitter
	require.NoError(t, err)
	assert.Equal(t, -5.0, cache.Bz())
	assert.Equal(t, -5.0, fitter.Bz())
}

func TestCalibCache_SameRun_QueriesStoreOnce(t *testing.T) {
	// GIVEN a long sequence of events sharing one run number
	store := &memStore{bz: map[int]float64{500000: -5}}
	cache := NewCalibCache(store, -999)
	fitter := testFitter()

	// WHEN the run is resolved for every event
	for i := 0; i < 100; i++ {
		if err := cache.Resolve(500000, int64(1000+i), fitter); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}

	// THEN the store saw exactly one field lookup
	if store.magCalls != 1 {
		t.Errorf("store field lookups: got %d, want 1", store.magCalls)
	}
	if cache.FieldQueries() != 1 {
		t.Errorf("cache field queries: got %d, want 1", cache.FieldQueries())
	}
}

func TestCalibCache_RunChange_RefreshesExactlyOnce(t *testing.T) {
	store := &memStore{bz: map[int]float64{1: 2, 2: 3}}
	cache := NewCalibCache(store, -999)
	fitter := testFitter()

	for _, run := range []int{1, 1, 2, 2, 2} {
		if err := cache.Resolve(run, 0, fitter); err != nil {
			t.Fatalf("resolve run %d: %v", run, err)
		}
	}

	if store.magCalls != 2 {
		t.Errorf("store field lookups: got %d, want 2 (one per distinct run)", store.magCalls)
	}
	assert.Equal(t, 3.0, fitter.Bz())
}

func TestCalibCache_FallsBackToL3Current(t *testing.T) {
	// GIVEN a run with no field descriptor but a current descriptor
	store := &memStore{current: map[int]float64{500000: 30000}}
	cache := NewCalibCache(store, -999)
	fitter := testFitter()

	require.NoError(t, cache.Resolve(500000, 0, fitter))

	// THEN the field derives as round(5 * current / 30000)
	assert.Equal(t, 5.0, cache.Bz())
}

func TestCalibCache_MissingField_IsFatal(t *testing.T) {
	// GIVEN a store with no usable descriptor at all
	store := &memStore{}
	cache := NewCalibCache(store, -999)

	err := cache.Resolve(500000, 0, testFitter())

	// THEN resolution fails: no geometry is meaningful without a field
	if err == nil {
		t.Fatal("expected an error for an unobtainable magnetic field")
	}
}

func TestCalibCache_ManualOverride_NeverQueriesFieldData(t *testing.T) {
	// GIVEN a manual field override above the auto sentinel
	store := &memStore{bz: map[int]float64{1: 2, 2: 3}}
	cache := NewCalibCache(store, 5.0)
	fitter := testFitter()

	// WHEN several run transitions are resolved
	for _, run := range []int{1, 2, 1} {
		require.NoError(t, cache.Resolve(run, 0, fitter))
	}

	// THEN the override wins unconditionally and no field lookup ever
	// reaches the store
	assert.Equal(t, 5.0, cache.Bz())
	assert.Zero(t, store.magCalls)
	assert.Zero(t, store.curCalls)
	assert.Zero(t, cache.FieldQueries())
}

func TestCalibCache_SentinelBoundaryIsManual(t *testing.T) {
	// GIVEN an override of exactly -990, the lowest manual value
	store := &memStore{bz: map[int]float64{1: 2}}
	cache := NewCalibCache(store, BzAutoSentinel)
	fitter := testFitter()

	require.NoError(t, cache.Resolve(1, 0, fitter))

	// THEN it is taken verbatim and the store is never asked for the field
	assert.Equal(t, -990.0, cache.Bz())
	assert.Zero(t, store.magCalls)
	assert.Zero(t, store.curCalls)
}

func TestCalibCache_SentinelMeansAuto(t *testing.T) {
	// values at or below the sentinel mean "resolve from the store"
	store := &memStore{bz: map[int]float64{1: 2}}
	cache := NewCalibCache(store, -999)
	require.NoError(t, cache.Resolve(1, 0, testFitter()))
	if store.magCalls != 1 {
		t.Errorf("auto mode must query the store, got %d lookups", store.magCalls)
	}
	assert.Equal(t, 2.0, cache.Bz())
}

func TestLoadCalibFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calib.yaml")
	content := `
runs:
  - run: 500000
    bz: -5.0
  - run: 500001
    l3_current: 30000
mat_budget:
  name: default
  x0_coarse: 0.01
  x0_fine: 0.008
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store, err := LoadCalibFile(path)
	require.NoError(t, err)

	grp, ok := store.MagField(500000, 0)
	require.True(t, ok)
	assert.Equal(t, -5.0, grp.NominalBz)

	_, ok = store.MagField(500001, 0)
	assert.False(t, ok, "run 500001 carries only a current descriptor")
	cur, ok := store.FieldCurrent(500001, 0)
	require.True(t, ok)
	assert.Equal(t, 30000.0, cur.L3Current)
	assert.InDelta(t, 5.0, math.Round(5*cur.L3Current/30000), 1e-12)

	mat, ok := store.MatBudget(500000, 0)
	require.True(t, ok)
	assert.Equal(t, "default", mat.Name)
}
