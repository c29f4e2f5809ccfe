// Package cosmology assembles the supernova fitting model: a flat w-CDM
// distance ladder, the graph of population and observation likelihoods with
// an optional selection edge, and a synthetic survey generator used for end
// to end checks.
package cosmology

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/interp"
)

// Speed of light in km/s.
const speedOfLight = 299792.458

// DefaultH0 is the Hubble constant (km/s/Mpc) used when a config leaves it
// unset. The mean absolute magnitude absorbs any constant offset, so fits
// hold H0 fixed rather than sampling a degenerate direction.
const DefaultH0 = 70.0

// FlatWCDM is a spatially flat cosmology with constant dark energy equation
// of state. W = -1 is flat LCDM.
type FlatWCDM struct {
	OmegaM float64 // matter density fraction
	W      float64 // dark energy equation of state
	H0     float64 // Hubble constant, km/s/Mpc
}

// Check returns an error if the parameters leave the supported region.
func (c FlatWCDM) Check() error {
	if math.IsNaN(c.OmegaM) || c.OmegaM < 0 || c.OmegaM > 1 {
		return errors.Errorf("OmegaM %v outside [0, 1]", c.OmegaM)
	}
	if math.IsNaN(c.H0) || c.H0 <= 0 {
		return errors.Errorf("H0 %v must be positive", c.H0)
	}
	if math.IsNaN(c.W) {
		return errors.Errorf("W must be a number")
	}
	return nil
}

// EFunc is the dimensionless Hubble function E(z) = H(z)/H0.
func (c FlatWCDM) EFunc(z float64) float64 {
	zp := 1 + z
	return math.Sqrt(c.OmegaM*zp*zp*zp + (1-c.OmegaM)*math.Pow(zp, 3*(1+c.W)))
}

// HubbleDistance returns c/H0 in Mpc.
func (c FlatWCDM) HubbleDistance() float64 {
	return speedOfLight / c.H0
}

// Panel count for the direct, untabled distance calls.
const comovingSteps = 256

// ComovingDistance returns the line of sight comoving distance to z in Mpc
// by composite Simpson quadrature of 1/E over [0, z].
func (c FlatWCDM) ComovingDistance(z float64) float64 {
	if z <= 0 {
		return 0
	}

	h := z / comovingSteps
	acc := 0.0
	prev := 1.0 / c.EFunc(0)
	for i := 1; i <= comovingSteps; i++ {
		z1 := float64(i) * h
		gm := 1.0 / c.EFunc(z1-h/2)
		g1 := 1.0 / c.EFunc(z1)
		acc += h / 6 * (prev + 4*gm + g1)
		prev = g1
	}
	return c.HubbleDistance() * acc
}

// LuminosityDistance returns d_L = (1+z) d_C in Mpc.
func (c FlatWCDM) LuminosityDistance(z float64) float64 {
	return (1 + z) * c.ComovingDistance(z)
}

// DistMod returns the distance modulus mu(z) = 5 log10(d_L / 10pc).
func (c FlatWCDM) DistMod(z float64) float64 {
	dl := c.LuminosityDistance(z)
	if dl <= 0 {
		return math.Inf(-1)
	}
	return 5*math.Log10(dl) + 25
}

// Table caches the distance ladder for one parameter point so per-object
// lookups inside a posterior evaluation cost an interpolation instead of a
// quadrature. The comoving distance is accumulated once over a fixed Simpson
// grid and interpolated piecewise-linearly; the modulus is then computed
// from the interpolated distance, which stays smooth through z = 0 where the
// modulus itself diverges.
type Table struct {
	zmax float64
	lin  interp.PiecewiseLinear
}

// NewTable builds a lookup table over [0, zmax] with the given panel count.
// Lookups past zmax clamp, so size zmax beyond the largest redshift in play.
func NewTable(c FlatWCDM, zmax float64, panels int) (*Table, error) {
	if err := c.Check(); err != nil {
		return nil, err
	}
	if math.IsNaN(zmax) || zmax <= 0 {
		return nil, errors.Errorf("Distance table zmax %v must be positive", zmax)
	}
	if panels < 8 {
		return nil, errors.Errorf("Distance table needs at least 8 panels, have %d", panels)
	}

	h := zmax / float64(panels)
	zs := make([]float64, panels+1)
	ds := make([]float64, panels+1)
	dh := c.HubbleDistance()
	acc := 0.0
	prev := 1.0 / c.EFunc(0)
	for i := 1; i <= panels; i++ {
		z1 := float64(i) * h
		gm := 1.0 / c.EFunc(z1-h/2)
		g1 := 1.0 / c.EFunc(z1)
		acc += h / 6 * (prev + 4*gm + g1)
		prev = g1
		zs[i] = z1
		ds[i] = dh * acc
	}

	t := &Table{zmax: zmax}
	if err := t.lin.Fit(zs, ds); err != nil {
		return nil, errors.Wrap(err, "Distance table interpolation failed")
	}
	return t, nil
}

// DistMod returns the tabled distance modulus at z. Redshifts past zmax
// clamp to the table edge; z <= 0 gives -Inf.
func (t *Table) DistMod(z float64) float64 {
	if z > t.zmax {
		z = t.zmax
	}
	dl := (1 + z) * t.lin.Predict(z)
	if dl <= 0 {
		return math.Inf(-1)
	}
	return 5*math.Log10(dl) + 25
}

// DistMods returns the tabled modulus at every given redshift.
func (t *Table) DistMods(zs []float64) []float64 {
	out := make([]float64, len(zs))
	for i, z := range zs {
		out[i] = t.DistMod(z)
	}
	return out
}

// MassCorrection is the host mass step applied to a supernova magnitude,
// scaled by dscale and dratio and decaying with redshift as
// 0.9 + 10^(0.95 z).
func MassCorrection(dscale, dratio, z float64) float64 {
	zpre := 0.9 + math.Pow(10, 0.95*z)
	return dscale * (1.9*(1-dratio)/zpre + dratio)
}
