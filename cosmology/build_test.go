package cosmology

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/snfit/snfit/bias"
	"github.com/snfit/snfit/rand"
	"github.com/snfit/snfit/sampler"
)

// simTestData generates a small deterministic survey and candidate pool.
func simTestData(t *testing.T, nsne, npool int, seed int64) (*Survey, *bias.Pool) {
	t.Helper()

	cfg := DefaultSimConfig()
	cfg.NSNe = nsne
	cfg.NPool = npool

	gen, err := rand.NewGenerator(seed)
	require.NoError(t, err)
	survey, pool, err := Simulate(cfg, gen)
	require.NoError(t, err)
	return survey, pool
}

func TestBuildLayout(t *testing.T) {
	assert := assert.New(t)
	survey, _ := simTestData(t, 6, 400, 21)

	m, err := Build(ModelConfig{}, survey)
	assert.NoError(err)
	assert.True(m.Finalised())
	assert.Equal(3*6+11, m.Free())

	for _, name := range []string{"true_mb", "true_x1", "true_c"} {
		_, size, ok := m.Layout().Range(name)
		assert.True(ok)
		assert.Equal(6, size)
	}
	for _, name := range []string{"omega_m", "mag", "sigma_mb", "alpha", "beta", "dscale", "dratio"} {
		_, size, ok := m.Layout().Range(name)
		assert.True(ok, name)
		assert.Equal(1, size, name)
	}
	_, _, ok := m.Layout().Range("w")
	assert.False(ok)

	assert.NotNil(m.Node("obs_mb"))
	assert.NotNil(m.Node("distmod"))
	assert.Nil(m.Node("nope"))
}

func TestBuildFitW(t *testing.T) {
	assert := assert.New(t)
	survey, _ := simTestData(t, 6, 400, 21)

	m, err := Build(ModelConfig{FitW: true}, survey)
	assert.NoError(err)
	assert.Equal(3*6+12, m.Free())

	_, size, ok := m.Layout().Range("w")
	assert.True(ok)
	assert.Equal(1, size)
}

func TestBuildErrors(t *testing.T) {
	assert := assert.New(t)
	survey, _ := simTestData(t, 4, 400, 21)

	_, err := Build(ModelConfig{}, nil)
	assert.Error(err)

	_, err = Build(ModelConfig{}, &Survey{})
	assert.Error(err)

	_, err = Build(ModelConfig{H0: -1}, survey)
	assert.Error(err)

	_, err = Build(ModelConfig{GridPanels: 4}, survey)
	assert.Error(err)
}

// One object with observations sitting exactly on the population means makes
// every term analytic: zero observation residuals, at-mean population
// densities, and the scale priors.
func TestBuildPosteriorAnalytic(t *testing.T) {
	assert := assert.New(t)

	z := 0.4
	x1, colour, mass := 0.0, 0.1, 0.5
	truths := DefaultTruths()

	tab, err := NewTable(truths.Cosmology(DefaultH0), z+0.05, 192)
	assert.NoError(err)
	mu := tab.DistMod(z)
	mc := MassCorrection(truths.DScale, truths.DRatio, z)
	mb := truths.MagMean + mu - truths.Alpha*x1 + truths.Beta*colour - mc*mass

	survey := &Survey{
		Redshifts: []float64{z},
		ObsMag:    []float64{mb},
		ObsX1:     []float64{x1},
		ObsColour: []float64{colour},
		Mass:      []float64{mass},
		Covs:      [][3][3]float64{DiagCov(0.05, 0.3, 0.05)},
	}
	m, err := Build(ModelConfig{}, survey)
	assert.NoError(err)

	x := make([]float64, m.Free())
	set := func(node string, val float64) {
		off, size, ok := m.Layout().Range(node)
		assert.True(ok, node)
		assert.Equal(1, size, node)
		x[off] = val
	}
	set("true_mb", mb)
	set("true_x1", x1)
	set("true_c", colour)
	set("omega_m", truths.OmegaM)
	set("mag", truths.MagMean)
	set("sigma_mb", truths.MagSigma)
	set("alpha", truths.Alpha)
	set("beta", truths.Beta)
	set("mean_x1", truths.X1Mean)
	set("sigma_x1", truths.X1Sigma)
	set("mean_c", truths.ColourMean)
	set("sigma_c", truths.ColourSigma)
	set("dscale", truths.DScale)
	set("dratio", truths.DRatio)

	obsTerm := distuv.Normal{Mu: 0, Sigma: 0.05}.LogProb(0) +
		distuv.Normal{Mu: 0, Sigma: 0.3}.LogProb(0) +
		distuv.Normal{Mu: 0, Sigma: 0.05}.LogProb(0)
	popTerm := distuv.Normal{Mu: 0, Sigma: truths.MagSigma}.LogProb(0) +
		distuv.Normal{Mu: 0, Sigma: truths.X1Sigma}.LogProb(0) +
		distuv.Normal{Mu: 0, Sigma: truths.ColourSigma}.LogProb(0)
	priorTerm := -(math.Log(truths.MagSigma) + math.Log(truths.X1Sigma) + math.Log(truths.ColourSigma))

	assert.InDelta(obsTerm+popTerm+priorTerm, m.LogPosterior(x), 1e-6)
}

func TestBuildInitialConditionsFinite(t *testing.T) {
	assert := assert.New(t)
	survey, _ := simTestData(t, 6, 400, 21)

	m, err := Build(ModelConfig{}, survey)
	assert.NoError(err)

	mu, sigma, err := m.InitialConditions()
	assert.NoError(err)
	assert.Len(mu, m.Free())
	assert.Len(sigma, m.Free())

	lp := m.LogPosterior(mu)
	assert.False(math.IsNaN(lp))
	assert.False(math.IsInf(lp, 0))

	grad := m.LogPosteriorGrad(mu)
	assert.Len(grad, m.Free())
	for _, g := range grad {
		assert.False(math.IsNaN(g))
	}
}

func TestBuildRejectsOutsideSupport(t *testing.T) {
	assert := assert.New(t)
	survey, _ := simTestData(t, 4, 400, 21)

	m, err := Build(ModelConfig{}, survey)
	assert.NoError(err)
	mu, _, err := m.InitialConditions()
	assert.NoError(err)

	off, _, ok := m.Layout().Range("omega_m")
	assert.True(ok)

	// Inside the physical region but outside the prior window.
	x := append([]float64(nil), mu...)
	x[off] = 0.9
	assert.True(math.IsInf(m.LogPosterior(x), -1))
	term, bad := m.NonFiniteTerm(x)
	assert.True(bad)
	assert.Contains(term, "omega_m")

	// Unphysical: the distance ladder itself fails.
	x[off] = -0.1
	assert.True(math.IsInf(m.LogPosterior(x), -1))
	term, bad = m.NonFiniteTerm(x)
	assert.True(bad)
	assert.Contains(term, "distance ladder")
}

func TestBuildSelectionEdge(t *testing.T) {
	assert := assert.New(t)
	survey, pool := simTestData(t, 6, 600, 33)

	eff := &bias.EffCCDF{M50: 23.1, Width: 0.4}
	corr, err := bias.NewCorrector(eff, pool, survey.Len(), 51)
	assert.NoError(err)

	plain, err := Build(ModelConfig{}, survey)
	assert.NoError(err)
	corrected, err := Build(ModelConfig{Corrector: corr}, survey)
	assert.NoError(err)
	assert.Equal(plain.Free(), corrected.Free())

	mu, _, err := plain.InitialConditions()
	assert.NoError(err)

	lpPlain := plain.LogPosterior(mu)
	lpCorr := corrected.LogPosterior(mu)
	assert.False(math.IsInf(lpPlain, 0) || math.IsNaN(lpPlain))
	assert.False(math.IsInf(lpCorr, 0) || math.IsNaN(lpCorr))

	// The normalization is below one, so dividing by it raises the
	// posterior.
	assert.Greater(lpCorr, lpPlain)
}

func TestBuildSamplesSmoke(t *testing.T) {
	assert := assert.New(t)
	survey, _ := simTestData(t, 6, 400, 55)

	m, err := Build(ModelConfig{}, survey)
	assert.NoError(err)

	gen, err := rand.NewGenerator(7)
	assert.NoError(err)
	samp, err := sampler.NewEnsemble(gen, sampler.EnsembleConfig{Walkers: 64, Steps: 40, Burn: 20})
	assert.NoError(err)
	assert.NoError(samp.Init(m))

	chain, err := samp.Run()
	assert.NoError(err)
	assert.Equal(64*40, chain.Rows())
	for _, lp := range chain.LogPosts {
		assert.False(math.IsNaN(lp) || math.IsInf(lp, 0))
	}

	sums, err := chain.Summarize()
	assert.NoError(err)
	assert.Len(sums, m.Free())

	suite, err := DefaultTruths().Score(sums)
	assert.NoError(err)
	assert.NotNil(suite)
	assert.False(math.IsNaN(suite.MeanPull))
}
