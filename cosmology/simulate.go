package cosmology

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/snfit/snfit/bias"
	"github.com/snfit/snfit/rand"
)

// SimConfig drives synthetic survey generation. The pool records every
// candidate drawn, passed or not, which is exactly what the exact bias
// corrector consumes; the survey keeps the first NSNe candidates that pass
// the magnitude cut.
type SimConfig struct {
	NSNe  int `yaml:"n_sne"`
	NPool int `yaml:"n_pool"`

	ZMin float64 `yaml:"z_min"`
	ZMax float64 `yaml:"z_max"`

	// Scatter is the per-channel measurement deviation (mb, x1, c).
	Scatter [3]float64 `yaml:"scatter"`

	// Candidates pass with probability Phi_c((mb - SelectMag)/SelectWidth).
	SelectMag   float64 `yaml:"select_mag"`
	SelectWidth float64 `yaml:"select_width"`

	H0     float64 `yaml:"h0"`
	Truths Truths  `yaml:"truths"`
}

// DefaultSimConfig returns a DES-like survey: 200 objects drawn from a much
// larger candidate pool over z in [0.05, 1.1], with the selection midpoint
// faint enough to bias the high redshift end.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		NSNe:        200,
		NPool:       4000,
		ZMin:        0.05,
		ZMax:        1.1,
		Scatter:     [3]float64{0.05, 0.3, 0.05},
		SelectMag:   23.1,
		SelectWidth: 0.4,
		H0:          DefaultH0,
		Truths:      DefaultTruths(),
	}
}

// Check returns an error if any problem is found.
func (cfg SimConfig) Check() error {
	if cfg.NSNe < 1 {
		return errors.Errorf("Survey size %d must be at least 1", cfg.NSNe)
	}
	if cfg.NPool < cfg.NSNe {
		return errors.Errorf("Pool size %d smaller than survey size %d", cfg.NPool, cfg.NSNe)
	}
	if cfg.ZMin <= 0 || cfg.ZMax <= cfg.ZMin {
		return errors.Errorf("Redshift range [%v, %v] is not usable", cfg.ZMin, cfg.ZMax)
	}
	for ch, s := range cfg.Scatter {
		if s <= 0 || math.IsNaN(s) {
			return errors.Errorf("Measurement scatter %v in channel %d must be positive", s, ch)
		}
	}
	if cfg.SelectWidth <= 0 {
		return errors.Errorf("Selection width %v must be positive", cfg.SelectWidth)
	}
	if cfg.H0 <= 0 {
		return errors.Errorf("H0 %v must be positive", cfg.H0)
	}
	return cfg.Truths.Check()
}

// expSource adapts our mt19937 generator to the source interface gonum's
// distributions draw from.
type expSource struct {
	g *rand.Generator
}

func (s expSource) Uint64() uint64 {
	return s.g.Uint64()
}

// Seed satisfies golang.org/x/exp/rand.Source, which gonum draws through; the
// wrapped Generator is seeded once at construction and cannot be reseeded, and
// gonum's distributions never call Seed.
func (s expSource) Seed(uint64) {
	panic("expSource cannot be reseeded")
}

// Simulate draws a candidate pool from the generation truths, applies the
// probabilistic magnitude cut, and assembles the survey from the first NSNe
// survivors. Every candidate lands in the returned pool together with its
// generation log density, so the same call yields both the dataset to fit
// and the realizations the exact corrector reweights with.
func Simulate(cfg SimConfig, gen *rand.Generator) (*Survey, *bias.Pool, error) {
	if err := cfg.Check(); err != nil {
		return nil, nil, err
	}
	if gen == nil {
		return nil, nil, errors.Errorf("Simulate requires a generator")
	}

	truths := cfg.Truths
	tab, err := NewTable(truths.Cosmology(cfg.H0), cfg.ZMax+0.05, 512)
	if err != nil {
		return nil, nil, err
	}

	sig := truths.PopSigma()
	popCov := mat.NewSymDense(3, []float64{
		sig[0] * sig[0], 0, 0,
		0, sig[1] * sig[1], 0,
		0, 0, sig[2] * sig[2],
	})
	pop, ok := distmv.NewNormal(truths.PopMean(), popCov, expSource{g: gen})
	if !ok {
		return nil, nil, errors.Errorf("Population covariance is not positive definite")
	}

	pool := &bias.Pool{
		Redshifts: make([]float64, cfg.NPool),
		Apparents: make([]float64, cfg.NPool),
		Stretches: make([]float64, cfg.NPool),
		Colours:   make([]float64, cfg.NPool),
		Masses:    make([]float64, cfg.NPool),
		Passed:    make([]bool, cfg.NPool),
		LogGen:    make([]float64, cfg.NPool),
	}
	survey := &Survey{}

	draw := make([]float64, 3)
	for i := 0; i < cfg.NPool; i++ {
		z := cfg.ZMin + gen.Float64()*(cfg.ZMax-cfg.ZMin)
		mass := gen.Float64()

		pop.Rand(draw)
		mag, x1, colour := draw[0], draw[1], draw[2]

		mu := tab.DistMod(z)
		mc := MassCorrection(truths.DScale, truths.DRatio, z)
		mb := mag + mu - truths.Alpha*x1 + truths.Beta*colour - mc*mass

		obsMB := mb + gen.NormFloat64()*cfg.Scatter[0]
		obsX1 := x1 + gen.NormFloat64()*cfg.Scatter[1]
		obsColour := colour + gen.NormFloat64()*cfg.Scatter[2]

		pEff := distuv.UnitNormal.Survival((obsMB - cfg.SelectMag) / cfg.SelectWidth)
		passed := gen.Float64() < pEff

		pool.Redshifts[i] = z
		pool.Apparents[i] = mb
		pool.Stretches[i] = x1
		pool.Colours[i] = colour
		pool.Masses[i] = mass
		pool.Passed[i] = passed
		pool.LogGen[i] = pop.LogProb(draw)

		if passed && survey.Len() < cfg.NSNe {
			survey.Redshifts = append(survey.Redshifts, z)
			survey.ObsMag = append(survey.ObsMag, obsMB)
			survey.ObsX1 = append(survey.ObsX1, obsX1)
			survey.ObsColour = append(survey.ObsColour, obsColour)
			survey.Mass = append(survey.Mass, mass)
			survey.Covs = append(survey.Covs, DiagCov(cfg.Scatter[0], cfg.Scatter[1], cfg.Scatter[2]))
		}
	}

	if survey.Len() < cfg.NSNe {
		return nil, nil, errors.Errorf(
			"Only %d of %d candidates passed selection - need %d, grow the pool or soften the cut",
			survey.Len(), cfg.NPool, cfg.NSNe,
		)
	}
	return survey, pool, nil
}
