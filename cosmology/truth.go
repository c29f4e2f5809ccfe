package cosmology

import (
	"math"

	"github.com/pkg/errors"

	"github.com/snfit/snfit/sampler"
)

// Truths is the parameter point a synthetic survey is generated from. A fit
// on the generated data should recover these values, so they double as the
// reference for scoring posteriors.
type Truths struct {
	OmegaM float64 `yaml:"omega_m"`
	W      float64 `yaml:"w"`
	Alpha  float64 `yaml:"alpha"`
	Beta   float64 `yaml:"beta"`

	MagMean     float64 `yaml:"mag_mean"`
	MagSigma    float64 `yaml:"mag_sigma"`
	X1Mean      float64 `yaml:"x1_mean"`
	X1Sigma     float64 `yaml:"x1_sigma"`
	ColourMean  float64 `yaml:"colour_mean"`
	ColourSigma float64 `yaml:"colour_sigma"`

	DScale float64 `yaml:"dscale"`
	DRatio float64 `yaml:"dratio"`
}

// DefaultTruths returns the standard generation point for synthetic surveys.
func DefaultTruths() Truths {
	return Truths{
		OmegaM:      0.3,
		W:           -1.0,
		Alpha:       0.1,
		Beta:        3.0,
		MagMean:     -19.3,
		MagSigma:    0.1,
		X1Mean:      0.0,
		X1Sigma:     0.5,
		ColourMean:  0.1,
		ColourSigma: 0.1,
		DScale:      0.08,
		DRatio:      0.5,
	}
}

// Check returns an error if any problem is found.
func (t Truths) Check() error {
	if err := (FlatWCDM{OmegaM: t.OmegaM, W: t.W, H0: DefaultH0}).Check(); err != nil {
		return err
	}
	if t.MagSigma <= 0 || t.X1Sigma <= 0 || t.ColourSigma <= 0 {
		return errors.Errorf(
			"Population sigmas must be positive, have %v/%v/%v",
			t.MagSigma, t.X1Sigma, t.ColourSigma,
		)
	}
	if t.DRatio < 0 || t.DRatio > 1 {
		return errors.Errorf("DRatio %v outside [0, 1]", t.DRatio)
	}
	return nil
}

// Cosmology returns the generation cosmology at the given Hubble constant.
func (t Truths) Cosmology(h0 float64) FlatWCDM {
	if h0 <= 0 {
		h0 = DefaultH0
	}
	return FlatWCDM{OmegaM: t.OmegaM, W: t.W, H0: h0}
}

// PopMean returns the population mean vector (M_B, x1, c).
func (t Truths) PopMean() []float64 {
	return []float64{t.MagMean, t.X1Mean, t.ColourMean}
}

// PopSigma returns the population standard deviations (M_B, x1, c).
func (t Truths) PopSigma() []float64 {
	return []float64{t.MagSigma, t.X1Sigma, t.ColourSigma}
}

// Value looks up the true value behind a summary label. Labels of latent
// per-object slots have no single truth and report false.
func (t Truths) Value(label string) (float64, bool) {
	switch label {
	case "Om":
		return t.OmegaM, true
	case "w":
		return t.W, true
	case "alpha":
		return t.Alpha, true
	case "beta":
		return t.Beta, true
	case "MB":
		return t.MagMean, true
	case "sigma_MB":
		return t.MagSigma, true
	case "mean_x1":
		return t.X1Mean, true
	case "sigma_x1":
		return t.X1Sigma, true
	case "mean_c":
		return t.ColourMean, true
	case "sigma_c":
		return t.ColourSigma, true
	case "dscale":
		return t.DScale, true
	case "dratio":
		return t.DRatio, true
	}
	return math.NaN(), false
}

// Score compares the summaries whose labels carry a known truth against the
// generation point. Latent slots are skipped.
func (t Truths) Score(sums []sampler.Summary) (*sampler.TruthSuite, error) {
	keep := make([]sampler.Summary, 0, len(sums))
	truth := make([]float64, 0, len(sums))
	for _, s := range sums {
		v, ok := t.Value(s.Label)
		if !ok {
			continue
		}
		keep = append(keep, s)
		truth = append(truth, v)
	}
	if len(keep) < 1 {
		return nil, errors.Errorf("No summary labels match known truths")
	}
	return sampler.NewTruthSuite(keep, truth)
}
