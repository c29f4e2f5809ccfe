package cosmology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snfit/snfit/bias"
	"github.com/snfit/snfit/model"
	"github.com/snfit/snfit/sampler"
)

func TestSampleFunc(t *testing.T) {
	assert := assert.New(t)
	survey, pool := simTestData(t, 6, 600, 77)

	m, err := Build(ModelConfig{}, survey)
	require.NoError(t, err)
	ex, err := bias.NewExact(bias.ExactConfig{Pool: pool, NObs: survey.Len()})
	require.NoError(t, err)

	cfg := ModelConfig{}
	fn, err := cfg.SampleFunc(m.Layout(), ex.Pool())
	assert.NoError(err)

	mu, _, err := m.InitialConditions()
	require.NoError(t, err)
	sm, err := fn(mu)
	assert.NoError(err)

	val := func(node string) float64 {
		off, _, ok := m.Layout().Range(node)
		require.True(t, ok, node)
		return mu[off]
	}
	assert.Equal([3]float64{val("mag"), val("mean_x1"), val("mean_c")}, sm.Mean)
	assert.Equal([3]float64{val("sigma_mb"), val("sigma_x1"), val("sigma_c")}, sm.Sigma)
	assert.Equal(val("alpha"), sm.Alpha)
	assert.Equal(val("beta"), sm.Beta)
	assert.Equal(val("dscale"), sm.DScale)
	assert.Equal(val("dratio"), sm.DRatio)

	assert.Len(sm.DistMods, ex.Pool().Len())
	zmax := 0.0
	for _, z := range ex.Pool().Redshifts {
		if z > zmax {
			zmax = z
		}
	}
	tab, err := NewTable(FlatWCDM{OmegaM: val("omega_m"), W: -1, H0: DefaultH0}, zmax+0.05, 192)
	require.NoError(t, err)
	for _, i := range []int{0, 7, ex.Pool().Len() - 1} {
		assert.InDelta(tab.DistMod(ex.Pool().Redshifts[i]), sm.DistMods[i], 1e-12)
	}
}

func TestSampleFuncWeightsUniformChain(t *testing.T) {
	assert := assert.New(t)
	survey, pool := simTestData(t, 6, 600, 78)

	m, err := Build(ModelConfig{}, survey)
	require.NoError(t, err)
	ex, err := bias.NewExact(bias.ExactConfig{Pool: pool, NObs: survey.Len()})
	require.NoError(t, err)
	fn, err := ModelConfig{}.SampleFunc(m.Layout(), ex.Pool())
	require.NoError(t, err)

	mu, _, err := m.InitialConditions()
	require.NoError(t, err)

	// Identical rows must weight identically, and the best row is pinned
	// at one.
	chain := sampler.NewChain("uniform", m.Layout().Labels())
	for i := 0; i < 3; i++ {
		chain.Append(mu, 0.0)
	}
	w, err := ex.Weights(chain, fn)
	assert.NoError(err)
	assert.Len(w, 3)
	for _, wi := range w {
		assert.InDelta(1.0, wi, 1e-12)
	}
}

func TestSelectionTerm(t *testing.T) {
	assert := assert.New(t)
	survey, pool := simTestData(t, 6, 600, 81)

	eff := &bias.EffCCDF{M50: 23.1, Width: 0.4}
	corr, err := bias.NewCorrector(eff, pool, survey.Len(), 51)
	require.NoError(t, err)

	plain, err := Build(ModelConfig{}, survey)
	require.NoError(t, err)
	corrected, err := Build(ModelConfig{Corrector: corr}, survey)
	require.NoError(t, err)

	term, err := ModelConfig{}.SelectionTerm(plain.Layout(), survey, corr)
	require.NoError(t, err)

	// The chain-row term must match what the edge contributes in place.
	mu, _, err := plain.InitialConditions()
	require.NoError(t, err)
	got, err := term(mu)
	assert.NoError(err)
	assert.InDelta(corrected.LogPosterior(mu)-plain.LogPosterior(mu), got, 1e-9)

	// Unphysical rows propagate the ladder error instead of scoring.
	x := append([]float64(nil), mu...)
	off, _, ok := plain.Layout().Range("omega_m")
	require.True(t, ok)
	x[off] = -0.5
	_, err = term(x)
	assert.Error(err)
}

func TestSelectionTermErrors(t *testing.T) {
	assert := assert.New(t)
	survey, pool := simTestData(t, 6, 600, 82)

	eff := &bias.EffCCDF{M50: 23.1, Width: 0.4}
	corr, err := bias.NewCorrector(eff, pool, survey.Len(), 51)
	require.NoError(t, err)
	m, err := Build(ModelConfig{}, survey)
	require.NoError(t, err)

	_, err = ModelConfig{}.SelectionTerm(nil, survey, corr)
	assert.Error(err)
	_, err = ModelConfig{}.SelectionTerm(m.Layout(), nil, corr)
	assert.Error(err)
	_, err = ModelConfig{}.SelectionTerm(m.Layout(), survey, nil)
	assert.Error(err)
	_, err = ModelConfig{FitW: true}.SelectionTerm(m.Layout(), survey, corr)
	assert.Error(err)
}

func TestSampleFuncErrors(t *testing.T) {
	assert := assert.New(t)
	survey, pool := simTestData(t, 6, 600, 79)

	m, err := Build(ModelConfig{}, survey)
	require.NoError(t, err)
	ex, err := bias.NewExact(bias.ExactConfig{Pool: pool, NObs: survey.Len()})
	require.NoError(t, err)

	_, err = ModelConfig{}.SampleFunc(nil, ex.Pool())
	assert.Error(err)
	_, err = ModelConfig{}.SampleFunc(m.Layout(), nil)
	assert.Error(err)
	_, err = ModelConfig{}.SampleFunc(&model.Layout{}, ex.Pool())
	assert.Error(err)

	// A w-fitting config needs a layout with a w slot.
	_, err = ModelConfig{FitW: true}.SampleFunc(m.Layout(), ex.Pool())
	assert.Error(err)

	// Rows outside the physical region can not build a ladder.
	fn, err := ModelConfig{}.SampleFunc(m.Layout(), ex.Pool())
	require.NoError(t, err)
	mu, _, err := m.InitialConditions()
	require.NoError(t, err)
	x := append([]float64(nil), mu...)
	off, _, ok := m.Layout().Range("omega_m")
	require.True(t, ok)
	x[off] = -0.5
	_, err = fn(x)
	assert.Error(err)
}
