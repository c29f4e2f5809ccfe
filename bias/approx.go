package bias

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/snfit/snfit/model"
)

// An Efficiency is an analytic detection probability in apparent magnitude.
// LogConvolved returns the log of the efficiency convolved with the normal
// N(mstar, sstar) predicted for true apparent magnitudes, which is what the
// selection normalization integrates.
type Efficiency interface {
	LogConvolved(mstar, sstar float64) float64
}

// EffCCDF is a complementary-CDF efficiency: unity for bright objects
// rolling off to zero past M50 with transition width Width.
type EffCCDF struct {
	M50   float64
	Width float64
}

// LogConvolved folds the normal into the CCDF width.
func (e *EffCCDF) LogConvolved(mstar, sstar float64) float64 {
	s := math.Sqrt(e.Width*e.Width + sstar*sstar)
	return logPhiC((mstar - e.M50) / s)
}

// EffNormal is a Gaussian-bump efficiency with amplitude Amp, for surveys
// that lose both the bright and faint ends.
type EffNormal struct {
	Mean  float64
	Sigma float64
	Amp   float64
}

// LogConvolved adds the predicted variance to the bump variance.
func (e *EffNormal) LogConvolved(mstar, sstar float64) float64 {
	v := e.Sigma*e.Sigma + sstar*sstar
	d := mstar - e.Mean
	return math.Log(e.Amp) - 0.5*d*d/v - 0.5*math.Log(2.0*math.Pi*v)
}

// EffSkewNormal is a skew-normal efficiency with location Loc, scale Scale,
// and shape Shape. Shape zero degenerates to a symmetric bump.
type EffSkewNormal struct {
	Loc   float64
	Scale float64
	Shape float64
}

// LogConvolved uses the closed form for a skew normal under a normal kernel.
func (e *EffSkewNormal) LogConvolved(mstar, sstar float64) float64 {
	w2 := e.Scale * e.Scale
	s2 := sstar * sstar
	v := w2 + s2

	d := mstar - e.Loc
	lognorm := math.Log(2.0) - 0.5*d*d/v - 0.5*math.Log(2.0*math.Pi*v)

	muC := (mstar*w2 + e.Loc*s2) / v
	sigC2 := w2 * s2 / v
	arg := e.Shape * (muC - e.Loc) / math.Sqrt(w2+e.Shape*e.Shape*sigC2)

	return lognorm + logPhiC(-arg)
}

// logPhiC is the log of the standard normal survival function. The direct
// erfc form underflows past x of about 26, so the deep tail switches to the
// leading asymptotic term.
func logPhiC(x float64) float64 {
	if x > 8.0 {
		return -0.5*x*x - math.Log(x) - 0.5*math.Log(2.0*math.Pi)
	}
	return math.Log(0.5 * math.Erfc(x/math.Sqrt2))
}

// minBinCount is how many pool rows a magnitude bin needs before its pass
// fraction enters the probit fit.
const minBinCount = 5

// FitCCDF fits a CCDF efficiency by probit regression of binned pass
// fractions against apparent magnitude, weighting bins by occupancy. All
// pool rows participate, failed ones included.
func FitCCDF(p *Pool, bins int) (*EffCCDF, error) {
	if err := p.Check(); err != nil {
		return nil, errors.Wrap(err, "Invalid pool")
	}
	if bins < 3 {
		return nil, errors.Errorf("Probit fit needs at least 3 bins, have %d", bins)
	}

	lo, hi := p.Apparents[0], p.Apparents[0]
	for _, m := range p.Apparents {
		lo = math.Min(lo, m)
		hi = math.Max(hi, m)
	}
	if hi <= lo {
		return nil, errors.Errorf("Pool apparent magnitudes span zero range")
	}

	total := make([]float64, bins)
	pass := make([]float64, bins)
	width := (hi - lo) / float64(bins)
	for i, m := range p.Apparents {
		b := int((m - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		total[b]++
		if p.Passed[i] {
			pass[b]++
		}
	}

	var xs, ys, ws []float64
	for b := 0; b < bins; b++ {
		if total[b] < minBinCount {
			continue
		}
		frac := pass[b] / total[b]
		if frac <= 0.0 || frac >= 1.0 {
			continue
		}
		xs = append(xs, lo+(float64(b)+0.5)*width)
		ys = append(ys, distuv.UnitNormal.Quantile(frac))
		ws = append(ws, total[b])
	}
	if len(xs) < 3 {
		return nil, errors.Errorf("Only %d usable bins for probit fit - need 3", len(xs))
	}

	a, b := stat.LinearRegression(xs, ys, ws, false)
	if b >= 0 {
		return nil, errors.Errorf("Pool pass fraction does not fall with magnitude (slope %f)", b)
	}

	return &EffCCDF{M50: -a / b, Width: -1.0 / b}, nil
}

// FitSkewNormal fits a skew-normal efficiency to the passed apparent
// magnitudes by the method of moments, inverting the sample skewness for the
// shape. A sample skewness outside the attainable range is clamped.
func FitSkewNormal(p *Pool) (*EffSkewNormal, error) {
	if err := p.Check(); err != nil {
		return nil, errors.Wrap(err, "Invalid pool")
	}

	var xs []float64
	for i, m := range p.Apparents {
		if p.Passed[i] {
			xs = append(xs, m)
		}
	}
	if len(xs) < 8 {
		return nil, errors.Errorf("Only %d passed realizations - need 8 for a moment fit", len(xs))
	}

	mean, sd := stat.MeanStdDev(xs, nil)
	g1 := stat.Skew(xs, nil)
	if math.Abs(g1) > 0.99 {
		g1 = math.Copysign(0.99, g1)
	}

	t := math.Pow(math.Abs(g1), 2.0/3.0)
	k := math.Pow((4.0-math.Pi)/2.0, 2.0/3.0)
	delta := math.Copysign(math.Sqrt(math.Pi/2.0*t/(t+k)), g1)

	scale := sd / math.Sqrt(1.0-2.0*delta*delta/math.Pi)
	return &EffSkewNormal{
		Loc:   mean - scale*delta*math.Sqrt(2.0/math.Pi),
		Scale: scale,
		Shape: delta / math.Sqrt(1.0-delta*delta),
	}, nil
}

// Corrector integrates a fitted efficiency over the survey redshift
// distribution, the normalization the posterior divides by once per real
// data point.
type Corrector struct {
	eff  Efficiency
	nObs int
	zs   []float64
	dens []float64
}

// NewCorrector builds the redshift grid and distribution from the pool. The
// grid count is forced odd for Simpson's rule; the density is a histogram of
// the pool's generated redshifts normalized to unit integral.
func NewCorrector(eff Efficiency, p *Pool, nObs int, grid int) (*Corrector, error) {
	if eff == nil {
		return nil, errors.Errorf("Corrector requires an efficiency")
	}
	if err := p.Check(); err != nil {
		return nil, errors.Wrap(err, "Invalid pool")
	}
	if nObs < 1 {
		return nil, errors.Errorf("Corrector needs the real data count, have %d", nObs)
	}
	if grid < 3 {
		return nil, errors.Errorf("Redshift grid needs at least 3 points, have %d", grid)
	}
	if grid%2 == 0 {
		grid++
	}

	lo, hi := p.Redshifts[0], p.Redshifts[0]
	for _, z := range p.Redshifts {
		lo = math.Min(lo, z)
		hi = math.Max(hi, z)
	}
	if hi <= lo {
		return nil, errors.Errorf("Pool redshifts span zero range")
	}

	zs := make([]float64, grid)
	step := (hi - lo) / float64(grid-1)
	for i := range zs {
		zs[i] = lo + float64(i)*step
	}

	dens := make([]float64, grid)
	for _, z := range p.Redshifts {
		b := int((z - lo) / step)
		if b >= grid {
			b = grid - 1
		}
		dens[b]++
	}
	norm := integrate.Simpsons(zs, dens)
	if norm <= 0 {
		return nil, errors.Errorf("Pool redshift distribution integrates to %f", norm)
	}
	for i := range dens {
		dens[i] /= norm
	}

	return &Corrector{eff: eff, nObs: nObs, zs: zs, dens: dens}, nil
}

// NObs returns the real data count the correction is scaled by.
func (c *Corrector) NObs() int {
	return c.nObs
}

// MaxZ returns the upper end of the integration grid.
func (c *Corrector) MaxZ() float64 {
	return c.zs[len(c.zs)-1]
}

// LogNorm integrates the convolved efficiency over the redshift
// distribution. predict maps a redshift to the mean and deviation of the
// apparent magnitudes the current parameters put there.
func (c *Corrector) LogNorm(predict func(z float64) (mstar, sstar float64)) float64 {
	f := make([]float64, len(c.zs))
	for i, z := range c.zs {
		f[i] = c.dens[i] * math.Exp(c.eff.LogConvolved(predict(z)))
	}

	w := integrate.Simpsons(c.zs, f)
	if w <= 0 {
		return math.Inf(-1)
	}
	return math.Log(w)
}

// Edge wraps the corrector as a likelihood edge over the named parameter
// nodes, contributing -NObs * LogNorm to the posterior. predict maps the
// edge's node values to a per-redshift prediction, hoisting whatever the
// grid sweep can share; a predict error rejects the sample, as does a
// vanishing normalization.
func (c *Corrector) Edge(name string, parents []string, predict func(v *model.Vals) (func(z float64) (mstar, sstar float64), error)) (*model.Edge, error) {
	return model.NewEdge(name, parents, nil, func(v *model.Vals) float64 {
		fn, err := predict(v)
		if err != nil {
			return math.NaN()
		}
		return -float64(c.nObs) * c.LogNorm(fn)
	})
}
