package sampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func twoParamChain(rows int) *Chain {
	c := NewChain("test-run", []string{"a", "b"})
	for i := 0; i < rows; i++ {
		c.Append([]float64{float64(i), float64(i) * 2.0}, -float64(i))
	}
	return c
}

func TestChainAppendCopies(t *testing.T) {
	assert := assert.New(t)

	c := NewChain("r", []string{"a"})
	x := []float64{1.0}
	c.Append(x, -1.0)
	x[0] = 99.0

	assert.Equal(1, c.Rows())
	assert.Equal(1.0, c.Steps[0][0])
	assert.Equal(-1.0, c.LogPosts[0])
	assert.Nil(c.Weights)
}

func TestChainWeights(t *testing.T) {
	assert := assert.New(t)

	c := twoParamChain(4)

	assert.Error(c.SetWeights([]float64{1.0}))
	assert.Error(c.SetWeights([]float64{1.0, -1.0, 1.0, 1.0}))
	assert.Error(c.SetWeights([]float64{1.0, math.NaN(), 1.0, 1.0}))
	assert.Error(c.SetWeights([]float64{1.0, math.Inf(1), 1.0, 1.0}))
	assert.Nil(c.Weights)

	assert.NoError(c.SetWeights([]float64{1.0, 2.0, 3.0, 4.0}))
	assert.Equal([]float64{1.0, 2.0, 3.0, 4.0}, c.Weights)

	// Multiplication composes with what is already there
	assert.NoError(c.MultiplyWeights([]float64{2.0, 0.5, 1.0, 0.0}))
	assert.Equal([]float64{2.0, 1.0, 3.0, 0.0}, c.Weights)

	assert.Error(c.MultiplyWeights([]float64{math.NaN(), 1.0, 1.0, 1.0}))

	// MultiplyWeights on an unweighted chain just sets
	c2 := twoParamChain(2)
	assert.NoError(c2.MultiplyWeights([]float64{0.25, 0.75}))
	assert.Equal([]float64{0.25, 0.75}, c2.Weights)
}

func TestChainThin(t *testing.T) {
	assert := assert.New(t)

	c := twoParamChain(10)
	assert.NoError(c.SetWeights([]float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}))

	_, err := c.Thin(0)
	assert.Error(err)

	th, err := c.Thin(3)
	assert.NoError(err)
	assert.Equal(4, th.Rows())
	assert.Equal(0.0, th.Steps[0][0])
	assert.Equal(3.0, th.Steps[1][0])
	assert.Equal(9.0, th.Steps[3][0])
	assert.Len(th.Weights, 4)
	assert.Equal(c.RunID, th.RunID)
}

func TestMergeChains(t *testing.T) {
	assert := assert.New(t)

	merged, err := MergeChains(nil)
	assert.Nil(merged)
	assert.Error(err)

	a := twoParamChain(3)
	b := twoParamChain(2)

	merged, err = MergeChains([]*Chain{a, b})
	assert.NoError(err)
	assert.Equal(5, merged.Rows())
	assert.Nil(merged.Weights)
	assert.Equal(a.RunID, merged.RunID)
	assert.Equal(0.0, merged.Steps[0][0])
	assert.Equal(1.0, merged.Steps[4][0])

	// Weighted + unweighted merge fills missing weights with 1
	assert.NoError(b.SetWeights([]float64{0.5, 0.25}))
	merged, err = MergeChains([]*Chain{a, b})
	assert.NoError(err)
	assert.Equal([]float64{1.0, 1.0, 1.0, 0.5, 0.25}, merged.Weights)

	// Label mismatches are refused
	other := NewChain("other", []string{"a", "c"})
	other.Append([]float64{0.0, 0.0}, 0.0)
	_, err = MergeChains([]*Chain{a, other})
	assert.Error(err)

	short := NewChain("short", []string{"a"})
	short.Append([]float64{0.0}, 0.0)
	_, err = MergeChains([]*Chain{a, short})
	assert.Error(err)
}
