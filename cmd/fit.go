package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/snfit/snfit/bias"
	"github.com/snfit/snfit/cosmology"
	"github.com/snfit/snfit/model"
	"github.com/snfit/snfit/rand"
	"github.com/snfit/snfit/sampler"
	"github.com/snfit/snfit/store"
)

var resumeID string
var monitorAddr string

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Simulate survey realizations and fit the hierarchical model",
	Long: `fit draws one synthetic survey per run, samples the posterior with the
ensemble sampler, and reports parameter summaries scored against the
generation truths. With --store every run is checkpointed and its
metadata recorded, so interrupted runs can continue with --resume and
finished ones can be reweighted later. Resume rebuilds the posterior
from the stored config snapshot; a run whose correction pool was
simulated without pool_file needs no flags beyond --store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return FitCommand(params)
	},
}

// Survey draws use their own seed stream, offset from the sampler's strides
// by large primes.
func dataSeed(base int64, run int) int64 {
	return base + 15485863 + int64(run)*104729
}

// fitPool loads the correction pool from PoolFile when it exists, otherwise
// simulates one from the base seed and, when PoolFile is set, dumps it there
// for later reweighting.
func fitPool(cfg Config, sp *startupParams) (*bias.Pool, error) {
	if cfg.PoolFile != "" {
		data, err := os.ReadFile(cfg.PoolFile)
		if err == nil {
			p, err := bias.ReadPool(data)
			if err != nil {
				return nil, errors.Wrapf(err, "Pool file %s is unreadable", cfg.PoolFile)
			}
			sp.log.Info("pool loaded", "file", cfg.PoolFile, "rows", p.Len(), "passed", p.PassCount())
			return p, nil
		}
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "Could not read pool file %s", cfg.PoolFile)
		}
	}

	gen, err := rand.NewGenerator(cfg.Seed)
	if err != nil {
		return nil, err
	}
	_, pool, err := cosmology.Simulate(cfg.Simulation, gen)
	if err != nil {
		return nil, errors.Wrap(err, "Pool simulation failed")
	}
	sp.log.Info("pool simulated", "rows", pool.Len(), "passed", pool.PassCount())

	if cfg.PoolFile != "" {
		data, err := bias.WritePool(pool)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(cfg.PoolFile, data, 0644); err != nil {
			return nil, errors.Wrapf(err, "Could not write pool file %s", cfg.PoolFile)
		}
		sp.log.Info("pool dumped", "file", cfg.PoolFile)
	}

	return pool, nil
}

// fitCorrector fits the configured efficiency family to the pool and builds
// the posterior normalization term around it.
func fitCorrector(cfg Config, pool *bias.Pool) (*bias.Corrector, error) {
	var eff bias.Efficiency
	var err error
	switch cfg.Efficiency {
	case EffSkewNormal:
		eff, err = bias.FitSkewNormal(pool)
	default:
		eff, err = bias.FitCCDF(pool, cfg.EffBins)
	}
	if err != nil {
		return nil, errors.Wrap(err, "Efficiency fit failed")
	}
	return bias.NewCorrector(eff, pool, cfg.Simulation.NSNe, cfg.EffGrid)
}

// FitCommand runs the complete fit: pool, correction, one model per run,
// sampling, optional reweighting, and the report.
func FitCommand(sp *startupParams) error {
	cfg, err := sp.loadConfig()
	if err != nil {
		return err
	}

	st, err := sp.openStore()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	if resumeID != "" {
		return resumeRun(sp, st, resumeID)
	}

	pool, err := fitPool(cfg, sp)
	if err != nil {
		return err
	}

	mc := cfg.Model
	if cfg.Correction == CorrApprox {
		corr, err := fitCorrector(cfg, pool)
		if err != nil {
			return err
		}
		mc.Corrector = corr
	}

	build := func(run int) (*model.Model, error) {
		gen, err := rand.NewGenerator(dataSeed(cfg.Seed, run))
		if err != nil {
			return nil, err
		}
		survey, _, err := cosmology.Simulate(cfg.Simulation, gen)
		if err != nil {
			return nil, err
		}
		return cosmology.Build(mc, survey)
	}

	// One probe build pins the layout for run metadata and reweighting, and
	// lets an unset walker count follow the model size.
	probe, err := build(0)
	if err != nil {
		return err
	}
	layout := probe.Layout()

	walkers := cfg.Walkers
	if walkers == 0 {
		walkers = 2*probe.Free() + 2
	}
	sp.log.Info("fit configured", "free", probe.Free(), "walkers", walkers, "runs", cfg.Runs, "correction", cfg.Correction)

	ecfg := sampler.EnsembleConfig{
		Walkers:  walkers,
		Steps:    cfg.Steps,
		Burn:     cfg.Burn,
		StretchA: cfg.StretchA,
		Workers:  cfg.Workers,
		Logger:   sp.log,
	}
	if st != nil {
		ecfg.Checkpoint = st
		ecfg.SaveEvery = cfg.SaveEvery
	}

	buildFn := build
	if monitorAddr != "" {
		mon := &monitor{}
		if err := mon.Start(monitorAddr); err != nil {
			return err
		}
		defer mon.Stop()

		mon.Walkers.Set(int64(walkers))
		mon.StepsTarget.Set(int64(cfg.Steps))
		mon.BurnIn.Set(int64(cfg.Burn))
		mon.Runs.Set(int64(cfg.Runs))
		ecfg.Progress = mon.progress()
		buildFn = func(run int) (*model.Model, error) {
			mon.RunsStarted.Add(1)
			return build(run)
		}
	}

	fc := sampler.FitterConfig{
		Runs:     cfg.Runs,
		Parallel: cfg.Parallel,
		Seed:     cfg.Seed,
		Ensemble: ecfg,
		Logger:   sp.log,
	}

	if cfg.Correction == CorrExact {
		ex, err := bias.NewExact(bias.ExactConfig{Pool: pool, NObs: cfg.Simulation.NSNe, Logger: sp.log})
		if err != nil {
			return err
		}
		fn, err := mc.SampleFunc(layout, ex.Pool())
		if err != nil {
			return err
		}
		fc.Weight = ex.WeightFunc(fn)
	}

	fit, err := sampler.NewFitter(fc)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := fit.Fit(buildFn)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	snap := cfg.snapshot()
	for run, res := range results {
		if st != nil {
			meta := &store.Meta{
				RunID:   res.RunID,
				Model:   cfg.modelName(),
				Labels:  res.Chain.Labels,
				Layout:  layout,
				Config:  snap,
				Walkers: walkers,
				Steps:   cfg.Steps,
				Burn:    cfg.Burn,
				Seed:    dataSeed(cfg.Seed, run),
				Created: time.Now(),
			}
			if err := st.SaveMeta(meta); err != nil {
				return err
			}
		}
		reportRun(cfg, res)
	}

	sp.log.Info("fit finished", "runs", len(results), "elapsed", elapsed.Round(time.Second).String())
	return nil
}

// resumeRun continues an interrupted run from its checkpoint. Everything
// needed to rebuild the posterior comes from the stored config snapshot, so
// the resumed walkers score against the distribution they started on.
func resumeRun(sp *startupParams, st *store.Store, runID string) error {
	if st == nil {
		return errors.Errorf("Resume needs --store")
	}

	meta, err := st.LoadMeta(runID)
	if err != nil {
		return err
	}
	cfg, err := configFromSnapshot(meta.Config)
	if err != nil {
		return errors.Wrapf(err, "Run %s is not resumable", runID)
	}

	pool, err := fitPool(cfg, sp)
	if err != nil {
		return err
	}

	mc := cfg.Model
	if cfg.Correction == CorrApprox {
		corr, err := fitCorrector(cfg, pool)
		if err != nil {
			return err
		}
		mc.Corrector = corr
	}

	gen, err := rand.NewGenerator(meta.Seed)
	if err != nil {
		return err
	}
	survey, _, err := cosmology.Simulate(cfg.Simulation, gen)
	if err != nil {
		return err
	}
	m, err := cosmology.Build(mc, survey)
	if err != nil {
		return err
	}

	// The interrupted sampling stream is gone; continue on a fresh one
	sgen, err := rand.NewGenerator(meta.Seed + 7919)
	if err != nil {
		return err
	}
	ecfg := sampler.EnsembleConfig{
		Walkers:    meta.Walkers,
		Steps:      meta.Steps,
		Burn:       meta.Burn,
		StretchA:   cfg.StretchA,
		Workers:    cfg.Workers,
		SaveEvery:  cfg.SaveEvery,
		Logger:     sp.log,
		Checkpoint: st,
	}
	if monitorAddr != "" {
		mon := &monitor{}
		if err := mon.Start(monitorAddr); err != nil {
			return err
		}
		defer mon.Stop()

		mon.Walkers.Set(int64(meta.Walkers))
		mon.StepsTarget.Set(int64(meta.Steps))
		mon.BurnIn.Set(int64(meta.Burn))
		mon.Runs.Set(1)
		mon.RunsStarted.Add(1)
		ecfg.Progress = mon.progress()
	}
	samp, err := sampler.NewEnsemble(sgen, ecfg)
	if err != nil {
		return err
	}
	if err := samp.Resume(m, runID); err != nil {
		return err
	}
	if _, err := samp.Run(); err != nil {
		return err
	}

	chain, err := st.LoadChain(runID)
	if err != nil {
		return err
	}

	if cfg.Correction == CorrExact {
		ex, err := bias.NewExact(bias.ExactConfig{Pool: pool, NObs: cfg.Simulation.NSNe, Logger: sp.log})
		if err != nil {
			return err
		}
		fn, err := mc.SampleFunc(m.Layout(), ex.Pool())
		if err != nil {
			return err
		}
		w, err := ex.Weights(chain, fn)
		if err != nil {
			return err
		}
		if err := chain.MultiplyWeights(w); err != nil {
			return err
		}
	}

	sums, err := chain.Summarize()
	if err != nil {
		return err
	}
	reportRun(cfg, &sampler.RunResult{RunID: runID, Chain: chain, Summaries: sums})
	return nil
}

// reportRun prints the posterior summary for the fitted parameters and
// scores them against the generation truths. Per-object marginals are
// counted, not listed.
func reportRun(cfg Config, res *sampler.RunResult) {
	truths := cfg.Simulation.Truths

	fmt.Printf("run %s: %d rows\n", res.RunID, res.Chain.Rows())
	fmt.Printf("  %-10s %10s %10s %10s %8s\n", "param", "mean", "std", "truth", "pull")

	latents := 0
	for _, s := range res.Summaries {
		tv, ok := truths.Value(s.Label)
		if !ok {
			latents++
			continue
		}
		pull := 0.0
		if s.Std > 0 {
			pull = (s.Mean - tv) / s.Std
		}
		fmt.Printf("  %-10s %10.4f %10.4f %10.4f %8.2f\n", s.Label, s.Mean, s.Std, tv, pull)
	}
	if latents > 0 {
		fmt.Printf("  (%d per-object marginals not shown)\n", latents)
	}

	if suite, err := truths.Score(res.Summaries); err == nil {
		fmt.Printf("  score: meanAE %.4f maxAE %.4f meanPull %.2f maxPull %.2f\n",
			suite.MeanAbsError, suite.MaxAbsError, suite.MeanPull, suite.MaxPull)
	}
	fmt.Printf("\n")
}
