package cosmology

import (
	"math"

	"github.com/pkg/errors"

	"github.com/snfit/snfit/bias"
	"github.com/snfit/snfit/model"
)

// scalarOffsets resolves the flat-vector offset of every top-level parameter
// the correctors read back out of a chain row.
func scalarOffsets(layout *model.Layout, fitW bool) (map[string]int, error) {
	names := []string{
		"omega_m", "mag", "sigma_mb", "alpha", "beta",
		"mean_x1", "sigma_x1", "mean_c", "sigma_c", "dscale", "dratio",
	}
	if fitW {
		names = append(names, "w")
	}

	off := make(map[string]int, len(names))
	for _, name := range names {
		o, size, ok := layout.Range(name)
		if !ok {
			return nil, errors.Errorf("Layout has no slots for node %s", name)
		}
		if size != 1 {
			return nil, errors.Errorf("Node %s spans %d slots - want a scalar", name, size)
		}
		off[name] = o
	}
	return off, nil
}

// SampleFunc builds the chain-row to population-model mapping the exact
// corrector scores pool realizations against. Slot offsets are resolved once
// from the layout the chain was sampled with; each row then rebuilds the
// distance ladder at the pool redshifts. Pass the corrector's own pool so
// the moduli line up with the rows it keeps.
func (cfg ModelConfig) SampleFunc(layout *model.Layout, pool *bias.Pool) (bias.SampleFunc, error) {
	cfg = cfg.withDefaults()
	if layout == nil {
		return nil, errors.Errorf("SampleFunc requires the run layout")
	}
	if pool == nil || pool.Len() < 1 {
		return nil, errors.Errorf("SampleFunc requires a non-empty pool")
	}

	off, err := scalarOffsets(layout, cfg.FitW)
	if err != nil {
		return nil, err
	}

	zmax := 0.0
	for _, z := range pool.Redshifts {
		if z > zmax {
			zmax = z
		}
	}
	zmax += 0.05

	h0 := cfg.H0
	w0 := cfg.W
	fitW := cfg.FitW
	panels := cfg.GridPanels
	zs := pool.Redshifts

	return func(x []float64) (*bias.SampleModel, error) {
		w := w0
		if fitW {
			w = x[off["w"]]
		}
		tab, err := NewTable(FlatWCDM{OmegaM: x[off["omega_m"]], W: w, H0: h0}, zmax, panels)
		if err != nil {
			return nil, err
		}

		return &bias.SampleModel{
			Mean:     [3]float64{x[off["mag"]], x[off["mean_x1"]], x[off["mean_c"]]},
			Sigma:    [3]float64{x[off["sigma_mb"]], x[off["sigma_x1"]], x[off["sigma_c"]]},
			Alpha:    x[off["alpha"]],
			Beta:     x[off["beta"]],
			DScale:   x[off["dscale"]],
			DRatio:   x[off["dratio"]],
			DistMods: tab.DistMods(zs),
		}, nil
	}, nil
}

// SelectionTerm mirrors the selection edge for finished chains: it maps a
// chain row to the log normalization term the edge contributed to the
// posterior. Reweighting a run fitted with the approximate correction
// subtracts this before the exact correction goes in.
func (cfg ModelConfig) SelectionTerm(layout *model.Layout, s *Survey, corr *bias.Corrector) (func(x []float64) (float64, error), error) {
	cfg = cfg.withDefaults()
	if layout == nil {
		return nil, errors.Errorf("SelectionTerm requires the run layout")
	}
	if s == nil {
		return nil, errors.Errorf("SelectionTerm requires the fitted survey")
	}
	if corr == nil {
		return nil, errors.Errorf("SelectionTerm requires the corrector")
	}

	off, err := scalarOffsets(layout, cfg.FitW)
	if err != nil {
		return nil, err
	}

	zmax := math.Max(s.MaxZ(), corr.MaxZ()) + 0.05
	h0 := cfg.H0
	w0 := cfg.W
	fitW := cfg.FitW
	panels := cfg.GridPanels
	meanMass := s.MeanMass()
	magVar := s.MeanMagVar()
	count := float64(corr.NObs())

	return func(x []float64) (float64, error) {
		w := w0
		if fitW {
			w = x[off["w"]]
		}
		tab, err := NewTable(FlatWCDM{OmegaM: x[off["omega_m"]], W: w, H0: h0}, zmax, panels)
		if err != nil {
			return 0, err
		}

		p := phillipsParams{
			Mag: x[off["mag"]], SigmaMB: x[off["sigma_mb"]],
			Alpha: x[off["alpha"]], Beta: x[off["beta"]],
			MeanX1: x[off["mean_x1"]], SigmaX1: x[off["sigma_x1"]],
			MeanC: x[off["mean_c"]], SigmaC: x[off["sigma_c"]],
			DScale: x[off["dscale"]], DRatio: x[off["dratio"]],
			MeanMass: meanMass, MagVar: magVar,
		}
		return -count * corr.LogNorm(p.predict(tab)), nil
	}, nil
}
