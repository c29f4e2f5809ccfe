package bias

import (
	"log/slog"
	"math"
	"os"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/snfit/snfit/sampler"
)

// SampleModel is everything one chain sample implies for scoring the pool:
// the population mean and deviation over [M, x1, c], the Phillips and mass
// step coefficients, and the distance modulus at every pool redshift under
// the sample's cosmology.
type SampleModel struct {
	Mean     [3]float64
	Sigma    [3]float64
	Alpha    float64
	Beta     float64
	DScale   float64
	DRatio   float64
	DistMods []float64
}

// A SampleFunc maps one chain row to its SampleModel. The cosmology package
// provides one for its parameter layout.
type SampleFunc func(x []float64) (*SampleModel, error)

// ExactConfig configures an exact selection corrector.
type ExactConfig struct {
	Pool    *Pool // simulated realizations; failed rows are dropped here
	NObs    int   // number of real data points the fitted chain saw
	Workers int   // concurrent chain rows. 0 means GOMAXPROCS

	Logger *slog.Logger // nil: text handler on stderr
}

// Exact computes importance weights that undo selection bias in a finished
// chain. Each chain sample is scored by Monte Carlo integration over the
// passed pool realizations: the population density the sample assigns to
// each realization, divided by the density the realization was generated
// from. The sum is raised to the real data count, so its Monte Carlo error
// is amplified exponentially with survey size - weights from a thin pool
// are unstable. Samples whose population covariance degenerates get weight
// zero rather than failing the whole chain.
type Exact struct {
	pool *Pool
	zpre []float64 // per-row 0.9 + 10^(0.95 z), the mass step shape
	cfg  ExactConfig
	log  *slog.Logger
}

// NewExact validates the configuration and prepares the pool.
func NewExact(cfg ExactConfig) (*Exact, error) {
	if cfg.Pool == nil {
		return nil, errors.Errorf("Exact corrector requires a pool")
	}
	if err := cfg.Pool.Check(); err != nil {
		return nil, errors.Wrap(err, "Invalid pool")
	}
	if cfg.NObs < 1 {
		return nil, errors.Errorf("Exact corrector needs the real data count, have %d", cfg.NObs)
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	passed := cfg.Pool.PassedOnly()
	if passed.Len() < 2 {
		return nil, errors.Errorf("Pool has %d usable passed realizations - need at least 2", passed.Len())
	}
	if dropped := cfg.Pool.Len() - passed.Len(); dropped > 0 {
		log.Info("pool filtered", "kept", passed.Len(), "dropped", dropped)
	}

	zpre := make([]float64, passed.Len())
	for i, z := range passed.Redshifts {
		zpre[i] = 0.9 + math.Pow(10, 0.95*z)
	}

	return &Exact{pool: passed, zpre: zpre, cfg: cfg, log: log}, nil
}

// Pool returns the passed-only pool the weights are computed against.
// Distance moduli handed back through a SampleModel must align with its
// rows.
func (e *Exact) Pool() *Pool {
	return e.pool
}

// LogScores computes the raw log selection score for every chain row: the
// data count times the log Monte Carlo sum over the pool. Rows whose
// population model degenerates score NaN. Callers that combine these with
// other log terms shift and exponentiate themselves; Weights does it for the
// plain case.
func (e *Exact) LogScores(chain *sampler.Chain, fn SampleFunc) ([]float64, error) {
	if chain.Rows() < 1 {
		return nil, errors.Errorf("Chain %s has no rows to reweight", chain.RunID)
	}

	rows := chain.Rows()
	scores := make([]float64, rows)

	var eg errgroup.Group
	eg.SetLimit(e.cfg.Workers)
	for i := 0; i < rows; i++ {
		i := i
		eg.Go(func() error {
			r, ok, err := e.scoreSample(chain.Steps[i], fn)
			if err != nil {
				return errors.Wrapf(err, "Chain row %d", i)
			}
			if !ok {
				scores[i] = math.NaN()
				return nil
			}
			scores[i] = float64(e.cfg.NObs) * r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// NormWeights shifts log weights by their maximum and exponentiates, giving
// weights in (0, 1] with the largest exactly 1. Non-finite entries become
// weight 0.
func NormWeights(logw []float64) ([]float64, error) {
	hi := math.Inf(-1)
	for _, lw := range logw {
		if !math.IsNaN(lw) && !math.IsInf(lw, 0) {
			hi = math.Max(hi, lw)
		}
	}
	if math.IsInf(hi, -1) {
		return nil, errors.Errorf("No finite log weights to normalize")
	}

	w := make([]float64, len(logw))
	for i, lw := range logw {
		if math.IsNaN(lw) || math.IsInf(lw, 0) {
			continue
		}
		w[i] = math.Exp(lw - hi)
	}
	return w, nil
}

// Weights computes one importance weight per chain row. Weights are in
// (0, 1], finite, with the least selection-suppressed sample at 1; rows
// whose population model degenerates get exactly 0.
func (e *Exact) Weights(chain *sampler.Chain, fn SampleFunc) ([]float64, error) {
	scores, err := e.LogScores(chain, fn)
	if err != nil {
		return nil, err
	}

	deadCount := 0
	logw := make([]float64, len(scores))
	for i, s := range scores {
		if math.IsNaN(s) {
			deadCount++
			logw[i] = math.NaN()
			continue
		}
		logw[i] = -s
	}
	if deadCount == len(scores) {
		return nil, errors.Errorf("Chain %s has no sample with a usable population model", chain.RunID)
	}
	if deadCount > 0 {
		e.log.Warn("degenerate population samples zero-weighted", "run", chain.RunID, "count", deadCount)
	}

	return NormWeights(logw)
}

// WeightFunc adapts the corrector to the fitter's reweighting hook.
func (e *Exact) WeightFunc(fn SampleFunc) sampler.WeightFunc {
	return func(c *sampler.Chain) ([]float64, error) {
		return e.Weights(c, fn)
	}
}

// scoreSample runs the Monte Carlo sum for one chain row. ok is false when
// the sample cannot be scored (degenerate covariance or an empty sum), which
// is recovered by weighting it zero.
func (e *Exact) scoreSample(x []float64, fn SampleFunc) (float64, bool, error) {
	sm, err := fn(x)
	if err != nil {
		return 0, false, err
	}
	if len(sm.DistMods) != e.pool.Len() {
		return 0, false, errors.Errorf("Sample gives %d distance moduli for %d pool rows", len(sm.DistMods), e.pool.Len())
	}

	cov := mat.NewSymDense(3, []float64{
		sm.Sigma[0] * sm.Sigma[0], 0, 0,
		0, sm.Sigma[1] * sm.Sigma[1], 0,
		0, 0, sm.Sigma[2] * sm.Sigma[2],
	})
	pop, ok := distmv.NewNormal(sm.Mean[:], cov, nil)
	if !ok {
		return 0, false, nil
	}

	terms := make([]float64, e.pool.Len())
	v := make([]float64, 3)
	for j := range terms {
		corr := sm.DScale * (1.9*(1-sm.DRatio)/e.zpre[j] + sm.DRatio)
		v[0] = e.pool.Apparents[j] - sm.DistMods[j] +
			sm.Alpha*e.pool.Stretches[j] - sm.Beta*e.pool.Colours[j] +
			corr*e.pool.Masses[j]
		v[1] = e.pool.Stretches[j]
		v[2] = e.pool.Colours[j]
		terms[j] = pop.LogProb(v) - e.pool.LogGen[j]
	}

	r := floats.LogSumExp(terms)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false, nil
	}
	return r, true, nil
}
