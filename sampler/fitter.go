package sampler

import (
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/snfit/snfit/model"
	"github.com/snfit/snfit/rand"
)

// A BuildFunc assembles the finalised model for one run. Independent runs see
// distinct run indexes so each can draw its own data realization.
type BuildFunc func(run int) (*model.Model, error)

// A WeightFunc computes importance weights for a finished chain. The bias
// correctors plug in here.
type WeightFunc func(c *Chain) ([]float64, error)

// FitterConfig configures a batch of independent fits.
type FitterConfig struct {
	Runs     int   // independent fits, each with its own generator and run ID
	Parallel int   // fits running at once. 0 means 1
	Seed     int64 // base seed; run i uses a fixed offset from it

	Ensemble EnsembleConfig

	Weight WeightFunc   // optional post-run reweighting
	Logger *slog.Logger // nil: text handler on stderr
}

// RunResult pairs a finished chain with its weighted summaries.
type RunResult struct {
	RunID     string
	Chain     *Chain
	Summaries []Summary
}

// Fitter coordinates complete fits: model building, ensemble sampling,
// optional reweighting, and summaries. Concurrent runs share nothing but what
// the build function closes over, which must be read-only.
type Fitter struct {
	cfg FitterConfig
	log *slog.Logger
}

// NewFitter validates the configuration and returns a ready fitter.
func NewFitter(cfg FitterConfig) (*Fitter, error) {
	if cfg.Runs < 1 {
		return nil, errors.Errorf("Fitter needs at least 1 run, have %d", cfg.Runs)
	}
	if err := cfg.Ensemble.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid ensemble config")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	return &Fitter{cfg: cfg, log: log}, nil
}

// Fit executes every run and returns the results in run order.
func (f *Fitter) Fit(build BuildFunc) ([]*RunResult, error) {
	results := make([]*RunResult, f.cfg.Runs)

	par := f.cfg.Parallel
	if par < 1 {
		par = 1
	}

	var eg errgroup.Group
	eg.SetLimit(par)
	for run := 0; run < f.cfg.Runs; run++ {
		run := run
		eg.Go(func() error {
			res, err := f.one(run, build)
			if err != nil {
				return errors.Wrapf(err, "Run %d failed", run)
			}
			results[run] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// one executes a single run end to end.
func (f *Fitter) one(run int, build BuildFunc) (*RunResult, error) {
	m, err := build(run)
	if err != nil {
		return nil, errors.Wrap(err, "Model build failed")
	}

	// A prime stride keeps per-run streams from overlapping
	gen, err := rand.NewGenerator(f.cfg.Seed + int64(run)*7919)
	if err != nil {
		return nil, err
	}

	ecfg := f.cfg.Ensemble
	ecfg.Logger = f.log.With("run_index", run)
	samp, err := NewEnsemble(gen, ecfg)
	if err != nil {
		return nil, err
	}
	if err := samp.Init(m); err != nil {
		return nil, err
	}

	chain, err := samp.Run()
	if err != nil {
		return nil, err
	}

	if f.cfg.Weight != nil {
		w, err := f.cfg.Weight(chain)
		if err != nil {
			return nil, errors.Wrap(err, "Reweighting failed")
		}
		if err := chain.MultiplyWeights(w); err != nil {
			return nil, err
		}
	}

	sums, err := chain.Summarize()
	if err != nil {
		return nil, err
	}

	return &RunResult{RunID: chain.RunID, Chain: chain, Summaries: sums}, nil
}
