package bias

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var poolDump = []byte(`
# simulated survey dump, extra column should be ignored
z mb x1 c mass passed logp junk
0.1 22.5  0.3  0.05 0.4 1 -2.5 9
0.5 24.0 -0.2  0.01 0.6 0 -3.0 9
0.9 25.5  0.1 -0.02 0.2 1 -1.5 9
1.1 26.0  0.0  0.00 0.0 1  nan 9
`)

func TestReadPool(t *testing.T) {
	assert := assert.New(t)

	p, err := ReadPool(poolDump)
	assert.NoError(err)
	assert.Equal(4, p.Len())
	assert.Equal(3, p.PassCount())

	assert.Equal(0.1, p.Redshifts[0])
	assert.Equal(24.0, p.Apparents[1])
	assert.Equal(0.1, p.Stretches[2])
	assert.Equal(-0.02, p.Colours[2])
	assert.Equal(0.6, p.Masses[1])
	assert.False(p.Passed[1])
	assert.Equal(-1.5, p.LogGen[2])

	// Failed and non-finite rows drop out
	passed := p.PassedOnly()
	assert.Equal(2, passed.Len())
	assert.Equal([]float64{22.5, 25.5}, passed.Apparents)
	assert.NoError(passed.Check())
}

func TestReadPoolErrors(t *testing.T) {
	assert := assert.New(t)

	_, err := ReadPool([]byte("# nothing here\n"))
	assert.Error(err)

	_, err = ReadPool([]byte("z mb x1 c mass passed\n0.1 22 0 0 0 1\n"))
	assert.Error(err) // missing logp

	_, err = ReadPool([]byte("z mb x1 c mass passed logp\n0.1 22 0 0 0 1\n"))
	assert.Error(err) // ragged row

	_, err = ReadPool([]byte("z mb x1 c mass passed logp\n0.1 oops 0 0 0 1 -2\n"))
	assert.Error(err) // non-numeric cell

	_, err = ReadPool([]byte("z mb x1 c mass passed logp\n-0.1 22 0 0 0 1 -2\n"))
	assert.Error(err) // negative redshift
}

func TestWritePoolRoundTrip(t *testing.T) {
	assert := assert.New(t)

	p := &Pool{
		Redshifts: []float64{0.1, 0.73, 1.05},
		Apparents: []float64{22.512345678901234, 24.25, 25.875},
		Stretches: []float64{0.25, -1.5, 0.0},
		Colours:   []float64{0.05, -0.0125, 0.2},
		Masses:    []float64{0.5, 0.0, 1.0},
		Passed:    []bool{true, false, true},
		LogGen:    []float64{-2.5, -3.0625, -1.25},
	}

	data, err := WritePool(p)
	assert.NoError(err)

	got, err := ReadPool(data)
	assert.NoError(err)
	assert.Equal(p, got)

	_, err = WritePool(&Pool{})
	assert.Error(err)
}

func TestPoolCap(t *testing.T) {
	assert := assert.New(t)

	p, err := ReadPool(poolDump)
	assert.NoError(err)

	small := p.Cap(2)
	assert.Equal(2, small.Len())
	assert.Equal([]float64{0.1, 0.5}, small.Redshifts)

	same := p.Cap(100)
	assert.Equal(p, same)
}
