package rand

import (
	"math"

	"github.com/pkg/errors"
	"github.com/seehuhn/mt19937"
)

// A Generator uses a goroutine to populate batches of random numbers from a
// Mersenne twister. All read methods are safe for concurrent use. The raw
// Uint64 method satisfies math/rand/v2.Source, so a Generator can feed gonum
// distributions directly.
type Generator struct {
	ch chan uint64
}

// NewGenerator starts a new background PRNG based on the given seed.
func NewGenerator(seed int64) (*Generator, error) {
	return start(func(r *mt19937.MT19937) { r.Seed(seed) }), nil
}

// NewGeneratorSlice starts a new background PRNG seeded from a key slice, the
// canonical mt19937 array seeding.
func NewGeneratorSlice(key []uint64) (*Generator, error) {
	if len(key) < 1 {
		return nil, errors.Errorf("mt19937 slice seeding requires at least one value")
	}
	return start(func(r *mt19937.MT19937) { r.SeedFromSlice(key) }), nil
}

func start(seed func(*mt19937.MT19937)) *Generator {
	numChan := make(chan uint64, 1024)

	go func() {
		r := mt19937.New()
		seed(r)
		for {
			numChan <- r.Uint64()
		}
	}()

	return &Generator{ch: numChan}
}

// Uint64 returns the next raw output of the twister.
func (g *Generator) Uint64() uint64 {
	return <-g.ch
}

// Int63 provides the same interface as Go's math/rand, but with pre-generation.
func (g *Generator) Int63() int64 {
	return int64(g.Uint64() & 0x7fffffffffffffff)
}

// Int63n is a copy of the current Go code
func (g *Generator) Int63n(n int64) int64 {
	if n <= 0 {
		panic("invalid argument to Int63n")
	}

	if n&(n-1) == 0 { // n is power of two, can mask
		return g.Int63() & (n - 1)
	}

	max := int64((1 << 63) - 1 - (1<<63)%uint64(n))
	v := g.Int63()
	for v > max {
		v = g.Int63()
	}

	return v % n
}

// Int31 is just a copy of the golang impl
func (g *Generator) Int31() int32 {
	return int32(g.Int63() >> 32)
}

// Int31n is just a copy of the golang impl
func (g *Generator) Int31n(n int32) int32 {
	if n <= 0 {
		panic("invalid argument to Int31n")
	}

	if n&(n-1) == 0 { // n is power of two, can mask
		return g.Int31() & (n - 1)
	}

	max := int32((1 << 31) - 1 - (1<<31)%uint32(n))
	v := g.Int31()

	for v > max {
		v = g.Int31()
	}

	return v % n
}

// Intn returns a uniform int in [0, n). It panics if n <= 0.
func (g *Generator) Intn(n int) int {
	return int(g.Int63n(int64(n)))
}

// Float64 uses the commented, simpler implementation since we don't have the
// same support requirements for users
func (g *Generator) Float64() float64 {
	// See the Go lang comments for Rand Float64 implementation for details
	return float64(g.Int63n(1<<53)) / (1 << 53)
}

// NormFloat64 returns a standard normal variate via the Box-Muller transform.
// Each call consumes two uniforms and caches nothing, so concurrent use stays
// safe.
func (g *Generator) NormFloat64() float64 {
	u := g.Float64()
	for u == 0 {
		u = g.Float64()
	}
	return math.Sqrt(-2*math.Log(u)) * math.Cos(2*math.Pi*g.Float64())
}
