package cmd

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/snfit/snfit/bias"
	"github.com/snfit/snfit/cosmology"
	"github.com/snfit/snfit/rand"
	"github.com/snfit/snfit/sampler"
	"github.com/snfit/snfit/store"
)

var poolFile string
var maxPool int

var weightsCmd = &cobra.Command{
	Use:   "weights <run-id>",
	Short: "Reweight a stored chain with the exact selection correction",
	Long: `weights loads a finished chain from the store and computes one importance
weight per sample by Monte Carlo integration over the correction pool.
A run fitted with the approximate correction first has that term divided
back out, so the result is exactly corrected either way. The reweighted
chain is stored as <run-id>-weighted and summaries are printed before
and after.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return WeightsCommand(params, args[0])
	},
}

// WeightsCommand reweights the stored chain runID and saves the result as a
// sibling run.
func WeightsCommand(sp *startupParams, runID string) error {
	if sp.storeDir == "" {
		return errors.Errorf("Weights needs --store")
	}
	st, err := sp.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	meta, err := st.LoadMeta(runID)
	if err != nil {
		return err
	}
	if meta.Layout == nil {
		return errors.Errorf("Run %s has no stored layout", runID)
	}
	cfg, err := configFromSnapshot(meta.Config)
	if err != nil {
		return errors.Wrapf(err, "Run %s is not reweightable", runID)
	}
	if poolFile != "" {
		cfg.PoolFile = poolFile
	}

	chain, err := st.LoadChain(runID)
	if err != nil {
		return err
	}
	before, err := chain.Summarize()
	if err != nil {
		return err
	}

	pool, err := fitPool(cfg, sp)
	if err != nil {
		return err
	}

	w, err := exactWeights(sp, cfg, meta, chain, pool)
	if err != nil {
		return err
	}
	if err := chain.MultiplyWeights(w); err != nil {
		return err
	}
	after, err := chain.Summarize()
	if err != nil {
		return err
	}

	wid := runID + "-weighted"
	wmeta := *meta
	wmeta.RunID = wid
	wmeta.Created = time.Now()
	if err := st.SaveMeta(&wmeta); err != nil {
		return err
	}
	if err := st.AppendSegment(wid, chain); err != nil {
		return err
	}

	reportReweight(cfg, runID, before, after)
	fmt.Printf("stored as %s\n", wid)
	return nil
}

// exactWeights computes the importance weights that turn the stored chain
// into an exactly corrected one. A run fitted with the approximate
// correction has the edge term it sampled with divided back out: per row
// the log weight is -(exact score + edge term), combined in the log domain
// so rows that either factor alone would underflow stay usable.
func exactWeights(sp *startupParams, cfg Config, meta *store.Meta, chain *sampler.Chain, pool *bias.Pool) ([]float64, error) {
	// The cap holds the Monte Carlo cost down; the corrector rebuild below
	// still sees the full pool the run was fitted with.
	expool := pool
	if maxPool > 0 && expool.Len() > maxPool {
		sp.log.Info("pool capped", "rows", maxPool, "of", expool.Len())
		expool = expool.Cap(maxPool)
	}
	ex, err := bias.NewExact(bias.ExactConfig{Pool: expool, NObs: cfg.Simulation.NSNe, Logger: sp.log})
	if err != nil {
		return nil, err
	}
	fn, err := cfg.Model.SampleFunc(meta.Layout, ex.Pool())
	if err != nil {
		return nil, err
	}

	if cfg.Correction != CorrApprox {
		return ex.Weights(chain, fn)
	}

	// Rebuild the survey and corrector the run was fitted with so the
	// approximate term comes out exactly as it went in
	corr, err := fitCorrector(cfg, pool)
	if err != nil {
		return nil, err
	}
	gen, err := rand.NewGenerator(meta.Seed)
	if err != nil {
		return nil, err
	}
	survey, _, err := cosmology.Simulate(cfg.Simulation, gen)
	if err != nil {
		return nil, err
	}
	term, err := cfg.Model.SelectionTerm(meta.Layout, survey, corr)
	if err != nil {
		return nil, err
	}

	scores, err := ex.LogScores(chain, fn)
	if err != nil {
		return nil, err
	}

	logw := make([]float64, len(scores))
	for i, s := range scores {
		t, err := term(chain.Steps[i])
		if err != nil {
			logw[i] = math.NaN()
			continue
		}
		logw[i] = -s - t
	}
	w, err := bias.NormWeights(logw)
	if err != nil {
		return nil, errors.Wrapf(err, "Chain %s has no usable samples", chain.RunID)
	}
	return w, nil
}

// reportReweight prints the fitted parameters before and after the exact
// correction, with the shift in posterior deviations.
func reportReweight(cfg Config, runID string, before, after []sampler.Summary) {
	truths := cfg.Simulation.Truths

	fmt.Printf("run %s reweighted\n", runID)
	fmt.Printf("  %-10s %10s %10s %8s\n", "param", "before", "after", "shift")

	for i, b := range before {
		if _, ok := truths.Value(b.Label); !ok {
			continue
		}
		a := after[i]
		shift := 0.0
		if b.Std > 0 {
			shift = (a.Mean - b.Mean) / b.Std
		}
		fmt.Printf("  %-10s %10.4f %10.4f %8.2f\n", b.Label, b.Mean, a.Mean, shift)
	}

	if suite, err := truths.Score(after); err == nil {
		fmt.Printf("  score: meanAE %.4f maxAE %.4f meanPull %.2f maxPull %.2f\n",
			suite.MeanAbsError, suite.MaxAbsError, suite.MeanPull, suite.MaxPull)
	}
}
