package cosmology

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/snfit/snfit/sampler"
)

func TestDefaultTruths(t *testing.T) {
	assert := assert.New(t)

	tr := DefaultTruths()
	assert.NoError(tr.Check())
	assert.InDelta(0.3, tr.OmegaM, 1e-12)
	assert.InDelta(3.0, tr.Beta, 1e-12)
	assert.InDelta(0.1, tr.ColourMean, 1e-12)
	assert.InDelta(0.08, tr.DScale, 1e-12)

	assert.Equal([]float64{-19.3, 0.0, 0.1}, tr.PopMean())
	assert.Equal([]float64{0.1, 0.5, 0.1}, tr.PopSigma())

	cosmo := tr.Cosmology(0)
	assert.InDelta(DefaultH0, cosmo.H0, 1e-12)
	assert.InDelta(0.3, cosmo.OmegaM, 1e-12)
}

func TestTruthsCheck(t *testing.T) {
	assert := assert.New(t)

	tr := DefaultTruths()
	tr.MagSigma = 0
	assert.Error(tr.Check())

	tr = DefaultTruths()
	tr.OmegaM = 1.5
	assert.Error(tr.Check())

	tr = DefaultTruths()
	tr.DRatio = 1.5
	assert.Error(tr.Check())
}

func TestTruthsValue(t *testing.T) {
	assert := assert.New(t)
	tr := DefaultTruths()

	v, ok := tr.Value("Om")
	assert.True(ok)
	assert.InDelta(0.3, v, 1e-12)

	v, ok = tr.Value("sigma_c")
	assert.True(ok)
	assert.InDelta(0.1, v, 1e-12)

	_, ok = tr.Value("mb[3]")
	assert.False(ok)
	_, ok = tr.Value("")
	assert.False(ok)
}

func TestTruthsScore(t *testing.T) {
	assert := assert.New(t)
	tr := DefaultTruths()

	sums := []sampler.Summary{
		{Label: "Om", Mean: 0.35, Std: 0.05},
		{Label: "mb[0]", Mean: 22.0, Std: 1.0},
		{Label: "beta", Mean: 3.0, Std: 0.2},
	}
	suite, err := tr.Score(sums)
	assert.NoError(err)

	// The latent slot is skipped, leaving Om off by 0.05 and beta exact.
	assert.InDelta(0.05, suite.MaxAbsError, 1e-12)
	assert.InDelta(0.025, suite.MeanAbsError, 1e-12)
	assert.InDelta(1.0, suite.MaxPull, 1e-12)
	assert.InDelta(0.5, suite.MeanPull, 1e-12)

	_, err = tr.Score([]sampler.Summary{{Label: "mb[0]", Mean: 1, Std: 1}})
	assert.Error(err)
	_, err = tr.Score(nil)
	assert.Error(err)
}
