package cosmology

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/snfit/snfit/bias"
	"github.com/snfit/snfit/model"
)

// ModelConfig selects the free parameters and numerical knobs for one fit.
type ModelConfig struct {
	Name string `yaml:"name"`

	// H0 is held fixed. Zero means DefaultH0.
	H0 float64 `yaml:"h0"`

	// FitW samples the equation of state; otherwise W is held at the given
	// value, where zero means -1.
	FitW bool    `yaml:"fit_w"`
	W    float64 `yaml:"w"`

	// GridPanels sets the distance table resolution per posterior
	// evaluation. Zero means 192.
	GridPanels int `yaml:"grid_panels"`

	// Corrector, when set, adds the approximate selection edge.
	Corrector *bias.Corrector `yaml:"-"`
}

func (cfg ModelConfig) withDefaults() ModelConfig {
	if cfg.Name == "" {
		cfg.Name = "snfit"
	}
	if cfg.H0 == 0 {
		cfg.H0 = DefaultH0
	}
	if cfg.W == 0 {
		cfg.W = -1.0
	}
	if cfg.GridPanels == 0 {
		cfg.GridPanels = 192
	}
	return cfg
}

// Check returns an error if any problem is found.
func (cfg ModelConfig) Check() error {
	cfg = cfg.withDefaults()
	if cfg.H0 <= 0 || math.IsNaN(cfg.H0) {
		return errors.Errorf("H0 %v must be positive", cfg.H0)
	}
	if math.IsNaN(cfg.W) {
		return errors.Errorf("W must be a number")
	}
	if cfg.GridPanels < 8 {
		return errors.Errorf("Grid panel count %d too small", cfg.GridPanels)
	}
	return nil
}

// underlying builds a scalar top-level parameter with a support window,
// starting estimate and initialization spread.
func underlying(name, label string, lo, hi, sug, spread float64, scale bool) (*model.Node, error) {
	n, err := model.NewUnderlying(name, label, 1)
	if err != nil {
		return nil, err
	}
	if scale {
		n.LogPrior = model.LogUniformPrior(lo, hi)
	} else {
		n.LogPrior = model.UniformPrior(lo, hi)
	}
	n.Suggest = model.ConstSuggest(sug)
	n.SuggestSigma = model.ConstSuggest(spread)
	n.Group = "parameters"
	return n, nil
}

// latent builds a per-object sampled node initialized from the matching
// observed node.
func latent(name, label, obsName string, size int, spread float64) (*model.Node, error) {
	n, err := model.NewLatent(name, label, size)
	if err != nil {
		return nil, err
	}
	n.SuggestDeps = []string{obsName}
	n.Suggest = model.DepSuggest(obsName)
	n.SuggestSigma = model.ConstSuggest(spread)
	n.Group = "latent"
	return n, nil
}

func meanChannelSigma(s *Survey, ch int) float64 {
	tot := 0.0
	for _, c := range s.Covs {
		tot += math.Sqrt(c[ch][ch])
	}
	return tot / float64(len(s.Covs))
}

// Build assembles the supernova graph for one survey and finalises it. The
// sampled parameters are the per-object true summary statistics plus the
// cosmological and population parameters; the distance ladder and absolute
// magnitudes are recomputed by transformation edges on every evaluation.
func Build(cfg ModelConfig, s *Survey) (*model.Model, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.Errorf("Build requires a survey")
	}
	if err := s.Check(); err != nil {
		return nil, errors.Wrap(err, "Survey failed validation")
	}

	n := s.Len()
	m := model.New(cfg.Name)

	// Observed data.
	observed := []struct {
		name, label string
		data        []float64
	}{
		{"redshift", "z", s.Redshifts},
		{"mass", "mass", s.Mass},
		{"obs_mb", "mb_obs", s.ObsMag},
		{"obs_x1", "x1_obs", s.ObsX1},
		{"obs_c", "c_obs", s.ObsColour},
	}
	for _, o := range observed {
		node, err := model.NewObserved(o.name, o.label, o.data)
		if err != nil {
			return nil, err
		}
		node.Group = "data"
		if err := m.AddNode(node); err != nil {
			return nil, err
		}
	}

	// One latent slot per object for the true summary statistics, started
	// on the measurements they explain.
	latents := []struct {
		name, label, obs string
		spread           float64
	}{
		{"true_mb", "mb", "obs_mb", meanChannelSigma(s, 0)},
		{"true_x1", "x1", "obs_x1", meanChannelSigma(s, 1)},
		{"true_c", "c", "obs_c", meanChannelSigma(s, 2)},
	}
	for _, l := range latents {
		node, err := latent(l.name, l.label, l.obs, n, l.spread)
		if err != nil {
			return nil, err
		}
		if err := m.AddNode(node); err != nil {
			return nil, err
		}
	}

	// Top-level parameters with the usual support windows.
	type paramSpec struct {
		name, label         string
		lo, hi, sug, spread float64
		scale               bool
	}
	params := []paramSpec{
		{"omega_m", "Om", 0.05, 0.7, 0.3, 0.05, false},
		{"mag", "MB", -19.6, -18.8, -19.3, 0.1, false},
		{"sigma_mb", "sigma_MB", 0.05, 0.4, 0.1, 0.03, true},
		{"alpha", "alpha", -0.3, 0.5, 0.1, 0.05, false},
		{"beta", "beta", 0.0, 5.0, 3.0, 0.25, false},
		{"mean_x1", "mean_x1", -1.0, 1.0, 0.0, 0.2, false},
		{"sigma_x1", "sigma_x1", 0.1, 1.0, 0.5, 0.1, true},
		{"mean_c", "mean_c", -0.2, 0.2, 0.0, 0.05, false},
		{"sigma_c", "sigma_c", 0.05, 0.2, 0.1, 0.03, true},
		{"dscale", "dscale", -0.2, 0.2, 0.08, 0.05, false},
		{"dratio", "dratio", 0.0, 1.0, 0.5, 0.2, false},
	}
	if cfg.FitW {
		params = append(params, paramSpec{"w", "w", -1.5, -0.5, -1.0, 0.1, false})
	}
	for _, p := range params {
		node, err := underlying(p.name, p.label, p.lo, p.hi, p.sug, p.spread, p.scale)
		if err != nil {
			return nil, err
		}
		if err := m.AddNode(node); err != nil {
			return nil, err
		}
	}

	for _, name := range []string{"distmod", "abs_mag"} {
		node, err := model.NewTransformed(name, name)
		if err != nil {
			return nil, err
		}
		node.Group = "derived"
		if err := m.AddNode(node); err != nil {
			return nil, err
		}
	}

	if err := addDistModEdge(cfg, s, m); err != nil {
		return nil, err
	}
	if err := addAbsMagEdge(m); err != nil {
		return nil, err
	}
	if err := addObservationEdge(s, m); err != nil {
		return nil, err
	}
	if err := addPopulationEdge(m); err != nil {
		return nil, err
	}
	if cfg.Corrector != nil {
		if err := addSelectionEdge(cfg, s, m); err != nil {
			return nil, err
		}
	}

	if err := m.Finalise(); err != nil {
		return nil, err
	}
	return m, nil
}

// addDistModEdge recomputes the distance modulus at every survey redshift
// from the current cosmological parameters. Parameter points the ladder can
// not be built for fill NaN, which the evaluator rejects.
func addDistModEdge(cfg ModelConfig, s *Survey, m *model.Model) error {
	parents := []string{"omega_m"}
	wIdx := -1
	if cfg.FitW {
		parents = append(parents, "w")
		wIdx = 1
	}
	zIdx := len(parents)
	parents = append(parents, "redshift")

	zmax := s.MaxZ() + 0.05
	h0 := cfg.H0
	w0 := cfg.W
	panels := cfg.GridPanels

	fn := func(v *model.Vals) []float64 {
		zs := v.Vec(zIdx)
		out := make([]float64, len(zs))

		cosmo := FlatWCDM{OmegaM: v.Scalar(0), W: w0, H0: h0}
		if wIdx >= 0 {
			cosmo.W = v.Scalar(wIdx)
		}
		tab, err := NewTable(cosmo, zmax, panels)
		if err != nil {
			for i := range out {
				out[i] = math.NaN()
			}
			return out
		}

		for i, z := range zs {
			out[i] = tab.DistMod(z)
		}
		return out
	}

	e, err := model.NewTransformation("distance ladder", parents, "distmod", fn)
	if err != nil {
		return err
	}
	return m.AddEdge(e)
}

// addAbsMagEdge recovers each object's absolute magnitude from its true
// apparent magnitude, the distance modulus, the Phillips corrections and the
// host mass step.
func addAbsMagEdge(m *model.Model) error {
	parents := []string{
		"true_mb", "distmod", "true_x1", "true_c",
		"alpha", "beta", "dscale", "dratio", "mass", "redshift",
	}

	fn := func(v *model.Vals) []float64 {
		mb, dm := v.Vec(0), v.Vec(1)
		x1, colour := v.Vec(2), v.Vec(3)
		alpha, beta := v.Scalar(4), v.Scalar(5)
		dscale, dratio := v.Scalar(6), v.Scalar(7)
		mass, zs := v.Vec(8), v.Vec(9)

		out := make([]float64, len(mb))
		for i := range out {
			mc := MassCorrection(dscale, dratio, zs[i])
			out[i] = mb[i] - dm[i] + alpha*x1[i] - beta*colour[i] + mc*mass[i]
		}
		return out
	}

	e, err := model.NewTransformation("absolute magnitude", parents, "abs_mag", fn)
	if err != nil {
		return err
	}
	return m.AddEdge(e)
}

// addObservationEdge scores the measured summary statistics against the true
// ones under each object's measurement covariance. The covariances are fixed
// data, so their factorizations are computed once here.
func addObservationEdge(s *Survey, m *model.Model) error {
	n := s.Len()
	dists := make([]*distmv.Normal, n)
	zero := []float64{0, 0, 0}
	for i, c := range s.Covs {
		sym := mat.NewSymDense(3, []float64{
			c[0][0], c[0][1], c[0][2],
			c[1][0], c[1][1], c[1][2],
			c[2][0], c[2][1], c[2][2],
		})
		d, ok := distmv.NewNormal(zero, sym, nil)
		if !ok {
			return errors.Errorf("Observation covariance %d is not positive definite", i)
		}
		dists[i] = d
	}

	fn := func(v *model.Vals) []float64 {
		mb, x1, colour := v.Vec(0), v.Vec(1), v.Vec(2)
		omb, ox1, ocolour := v.Vec(3), v.Vec(4), v.Vec(5)

		terms := make([]float64, len(mb))
		var r [3]float64
		for i := range terms {
			r[0] = mb[i] - omb[i]
			r[1] = x1[i] - ox1[i]
			r[2] = colour[i] - ocolour[i]
			terms[i] = dists[i].LogProb(r[:])
		}
		return terms
	}

	e, err := model.NewEdgePer(
		"observations",
		[]string{"true_mb", "true_x1", "true_c"},
		[]string{"obs_mb", "obs_x1", "obs_c"},
		fn,
	)
	if err != nil {
		return err
	}
	return m.AddEdge(e)
}

// addPopulationEdge scores each object's absolute magnitude, stretch and
// colour against the population being fitted.
func addPopulationEdge(m *model.Model) error {
	parents := []string{
		"abs_mag", "true_x1", "true_c",
		"mag", "sigma_mb", "mean_x1", "sigma_x1", "mean_c", "sigma_c",
	}

	fn := func(v *model.Vals) []float64 {
		am, x1, colour := v.Vec(0), v.Vec(1), v.Vec(2)
		magD := distuv.Normal{Mu: v.Scalar(3), Sigma: v.Scalar(4)}
		x1D := distuv.Normal{Mu: v.Scalar(5), Sigma: v.Scalar(6)}
		cD := distuv.Normal{Mu: v.Scalar(7), Sigma: v.Scalar(8)}

		terms := make([]float64, len(am))
		for i := range terms {
			terms[i] = magD.LogProb(am[i]) + x1D.LogProb(x1[i]) + cD.LogProb(colour[i])
		}
		return terms
	}

	e, err := model.NewEdgePer("population", parents, nil, fn)
	if err != nil {
		return err
	}
	return m.AddEdge(e)
}

// phillipsParams are the population parameters the selection normalization
// depends on.
type phillipsParams struct {
	Mag, SigmaMB     float64
	Alpha, Beta      float64
	MeanX1, SigmaX1  float64
	MeanC, SigmaC    float64
	DScale, DRatio   float64
	MeanMass, MagVar float64
}

// predict returns the mean and spread of the apparent magnitudes the
// parameters put at each redshift. The spread folds the population scatter
// through the Phillips corrections together with the mean measurement
// variance.
func (p phillipsParams) predict(tab *Table) func(z float64) (mstar, sstar float64) {
	sstar := math.Sqrt(p.SigmaMB*p.SigmaMB +
		p.Alpha*p.Alpha*p.SigmaX1*p.SigmaX1 +
		p.Beta*p.Beta*p.SigmaC*p.SigmaC + p.MagVar)

	return func(z float64) (float64, float64) {
		mstar := p.Mag + tab.DistMod(z) - p.Alpha*p.MeanX1 + p.Beta*p.MeanC -
			MassCorrection(p.DScale, p.DRatio, z)*p.MeanMass
		return mstar, sstar
	}
}

// addSelectionEdge divides the posterior by the survey-wide selection
// probability, integrated over the pool's redshift distribution.
func addSelectionEdge(cfg ModelConfig, s *Survey, m *model.Model) error {
	corr := cfg.Corrector

	parents := []string{"omega_m"}
	fitW := cfg.FitW
	if fitW {
		parents = append(parents, "w")
	}
	parents = append(parents,
		"mag", "sigma_mb", "alpha", "beta",
		"mean_x1", "sigma_x1", "mean_c", "sigma_c",
		"dscale", "dratio",
	)

	zmax := math.Max(s.MaxZ(), corr.MaxZ()) + 0.05
	h0 := cfg.H0
	w0 := cfg.W
	panels := cfg.GridPanels
	meanMass := s.MeanMass()
	magVar := s.MeanMagVar()

	fn := func(v *model.Vals) (func(z float64) (float64, float64), error) {
		k := 0
		om := v.Scalar(k)
		k++
		w := w0
		if fitW {
			w = v.Scalar(k)
			k++
		}
		p := phillipsParams{
			Mag: v.Scalar(k), SigmaMB: v.Scalar(k + 1),
			Alpha: v.Scalar(k + 2), Beta: v.Scalar(k + 3),
			MeanX1: v.Scalar(k + 4), SigmaX1: v.Scalar(k + 5),
			MeanC: v.Scalar(k + 6), SigmaC: v.Scalar(k + 7),
			DScale: v.Scalar(k + 8), DRatio: v.Scalar(k + 9),
			MeanMass: meanMass, MagVar: magVar,
		}

		tab, err := NewTable(FlatWCDM{OmegaM: om, W: w, H0: h0}, zmax, panels)
		if err != nil {
			return nil, err
		}
		return p.predict(tab), nil
	}

	e, err := corr.Edge("selection", parents, fn)
	if err != nil {
		return err
	}
	return m.AddEdge(e)
}
