package sampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	assert := assert.New(t)

	c := NewChain("sum", []string{"a", "b"})
	c.Append([]float64{1.0, 10.0}, 0.0)
	c.Append([]float64{2.0, 20.0}, 0.0)
	c.Append([]float64{3.0, 30.0}, 0.0)
	c.Append([]float64{4.0, 40.0}, 0.0)

	sums, err := c.Summarize()
	assert.NoError(err)
	assert.Len(sums, 2)

	sd := math.Sqrt(5.0 / 3.0)
	assert.Equal("a", sums[0].Label)
	assert.InDelta(2.5, sums[0].Mean, 1e-12)
	assert.InDelta(sd, sums[0].Std, 1e-12)
	assert.Equal("b", sums[1].Label)
	assert.InDelta(25.0, sums[1].Mean, 1e-12)
	assert.InDelta(10.0*sd, sums[1].Std, 1e-12)
}

func TestSummarizeWeighted(t *testing.T) {
	assert := assert.New(t)

	c := NewChain("sum", []string{"a"})
	c.Append([]float64{1.0}, 0.0)
	c.Append([]float64{2.0}, 0.0)
	c.Append([]float64{3.0}, 0.0)
	c.Append([]float64{4.0}, 0.0)

	// A zero weight drops the row entirely
	assert.NoError(c.SetWeights([]float64{1.0, 1.0, 1.0, 0.0}))
	sums, err := c.Summarize()
	assert.NoError(err)
	assert.InDelta(2.0, sums[0].Mean, 1e-12)
	assert.InDelta(1.0, sums[0].Std, 1e-12)

	assert.NoError(c.SetWeights([]float64{0.0, 0.0, 0.0, 0.0}))
	_, err = c.Summarize()
	assert.Error(err)
}

func TestSummarizeTooShort(t *testing.T) {
	assert := assert.New(t)

	c := NewChain("sum", []string{"a"})
	_, err := c.Summarize()
	assert.Error(err)

	c.Append([]float64{1.0}, 0.0)
	_, err = c.Summarize()
	assert.Error(err)
}

func TestTruthSuite(t *testing.T) {
	assert := assert.New(t)

	sums := []Summary{
		{Label: "a", Mean: 1.0, Std: 0.5},
		{Label: "b", Mean: 2.0, Std: 1.0},
	}

	ts, err := NewTruthSuite(sums, []float64{1.5, 1.8})
	assert.NoError(err)
	assert.InDelta(0.35, ts.MeanAbsError, 1e-12)
	assert.InDelta(0.50, ts.MaxAbsError, 1e-12)
	assert.InDelta(0.60, ts.MeanPull, 1e-12)
	assert.InDelta(1.00, ts.MaxPull, 1e-12)

	_, err = NewTruthSuite(sums, []float64{1.5})
	assert.Error(err)

	_, err = NewTruthSuite(nil, nil)
	assert.Error(err)
}
