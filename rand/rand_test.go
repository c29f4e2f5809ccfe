package rand

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMTBadSeed(t *testing.T) {
	assert := assert.New(t)

	gen, err := NewGeneratorSlice([]uint64{})
	assert.Nil(gen)
	assert.Error(err)
}

func TestMTCanonicalSeed(t *testing.T) {
	assert := assert.New(t)

	gen, err := NewGeneratorSlice([]uint64{0x12345, 0x23456, 0x34567, 0x45678})
	assert.NotNil(gen)
	assert.NoError(err)

	origTestSeq := []uint64{
		7266447313870364031,
		4946485549665804864,
		16945909448695747420,
		16394063075524226720,
		4873882236456199058,
	}

	// Now convert to the format we should get from Int63
	for _, v := range origTestSeq {
		exp := int64(v & 0x7fffffffffffffff)
		act := gen.Int63()
		assert.Equal(exp, act)
	}
}

func TestMTRawSeq(t *testing.T) {
	assert := assert.New(t)

	gen, err := NewGeneratorSlice([]uint64{0x12345, 0x23456, 0x34567, 0x45678})
	assert.NotNil(gen)
	assert.NoError(err)

	assert.Equal(uint64(7266447313870364031), gen.Uint64())
	assert.Equal(uint64(4946485549665804864), gen.Uint64())
}

func TestFloat64Range(t *testing.T) {
	assert := assert.New(t)

	gen, err := NewGenerator(42)
	assert.NoError(err)

	for i := 0; i < 10000; i++ {
		f := gen.Float64()
		assert.True(f >= 0.0)
		assert.True(f < 1.0)
	}
}

func TestIntnRange(t *testing.T) {
	assert := assert.New(t)

	gen, err := NewGenerator(42)
	assert.NoError(err)

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		v := gen.Intn(7)
		assert.True(v >= 0 && v < 7)
		seen[v] = true
	}
	assert.Len(seen, 7)

	assert.Panics(func() { gen.Intn(0) })
}

func TestNormFloat64Moments(t *testing.T) {
	assert := assert.New(t)

	gen, err := NewGenerator(1234)
	assert.NoError(err)

	const n = 200000
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		v := gen.NormFloat64()
		sum += v
		sumSq += v * v
	}

	mean := sum / n
	sd := math.Sqrt(sumSq/n - mean*mean)
	assert.InDelta(0.0, mean, 0.02)
	assert.InDelta(1.0, sd, 0.02)
}
