package sampler

import (
	"log/slog"
	"math"
	"os"
	"runtime"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/snfit/snfit/buffer"
	"github.com/snfit/snfit/model"
	"github.com/snfit/snfit/rand"
)

// initRetries bounds how often one walker may redraw its starting point
// before initialization gives up and blames the model.
const initRetries = 32

// accWindow is the sliding-window size (in steps) for the acceptance drift
// diagnostic.
const accWindow = 200

// EnsembleConfig configures an affine-invariant ensemble sampler.
type EnsembleConfig struct {
	Walkers   int     // ensemble size, at least 4
	Steps     int     // sampling steps; every step records every walker
	Burn      int     // burn-in steps discarded before recording
	StretchA  float64 // stretch scale a; proposals draw z on [1/a, a]. 0 means 2.0
	Workers   int     // concurrent posterior evaluations. 0 means GOMAXPROCS
	SaveEvery int     // checkpoint cadence in sampling steps. 0 disables

	Logger     *slog.Logger // nil: text handler on stderr
	Checkpoint Checkpointer // nil: checkpointing disabled

	// Progress, when set, runs after every step on the sampling goroutine.
	// Keep it cheap.
	Progress func(e *Ensemble)
}

// Validate returns an error if the configuration is unusable.
func (cfg *EnsembleConfig) Validate() error {
	if cfg.Walkers < 4 {
		return errors.Errorf("Ensemble needs at least 4 walkers, have %d", cfg.Walkers)
	}
	if cfg.Steps < 1 {
		return errors.Errorf("Ensemble needs at least 1 sampling step, have %d", cfg.Steps)
	}
	if cfg.Burn < 0 {
		return errors.Errorf("Burn in steps can not be negative, have %d", cfg.Burn)
	}
	if cfg.StretchA < 0 || (cfg.StretchA > 0 && cfg.StretchA <= 1.0) {
		return errors.Errorf("Stretch scale must be > 1, have %f", cfg.StretchA)
	}
	if cfg.SaveEvery > 0 && cfg.Checkpoint == nil {
		return errors.Errorf("SaveEvery %d set without a Checkpointer", cfg.SaveEvery)
	}
	return nil
}

// Ensemble is a Goodman-Weare affine-invariant ensemble sampler. Walkers
// propose stretch moves along lines to complementary walkers; every proposal
// in a step is scored against the pre-step ensemble, so proposal evaluation
// fans out across Workers goroutines without changing the result.
type Ensemble struct {
	cfg EnsembleConfig
	gen *rand.Generator
	log *slog.Logger

	mod   *model.Model
	state State
	runID string

	pos [][]float64
	lps []float64

	chain     *Chain
	flushed   int // chain rows already checkpointed
	stepsDone int
	burned    bool

	accepted int64
	proposed int64
	window   *buffer.CircularFloat64
}

// NewEnsemble creates a sampler from a seeded generator and a validated
// configuration.
func NewEnsemble(gen *rand.Generator, cfg EnsembleConfig) (*Ensemble, error) {
	if gen == nil {
		return nil, errors.Errorf("Ensemble requires a random generator")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid ensemble config")
	}

	if cfg.StretchA == 0 {
		cfg.StretchA = 2.0
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	return &Ensemble{
		cfg:    cfg,
		gen:    gen,
		log:    log,
		window: buffer.NewCircularFloat64(accWindow),
	}, nil
}

// Init draws starting positions for every walker around the model's
// suggested initial conditions. Each walker redraws up to initRetries times
// until its posterior is finite; a walker that never finds a finite posterior
// is a fatal error naming the offending part of the model.
func (e *Ensemble) Init(m *model.Model) error {
	if e.state == Done {
		return errors.Errorf("Sampler already completed")
	}
	if e.state != Uninitialized {
		return errors.Errorf("Sampler is %s - Init needs a fresh sampler", e.state)
	}
	if m == nil || !m.Finalised() {
		return errors.Errorf("Ensemble requires a finalised model")
	}

	mu, sigma, err := m.InitialConditions()
	if err != nil {
		return errors.Wrap(err, "Could not resolve initial conditions")
	}

	free := m.Free()
	if e.cfg.Walkers < 2*free {
		e.log.Warn("few walkers for dimension", "walkers", e.cfg.Walkers, "free", free)
	}

	pos := make([][]float64, e.cfg.Walkers)
	lps := make([]float64, e.cfg.Walkers)
	for w := range pos {
		x := make([]float64, free)
		found := false
		for try := 0; try < initRetries && !found; try++ {
			for i := range x {
				x[i] = mu[i] + sigma[i]*e.gen.NormFloat64()
			}
			lp := m.LogPosterior(x)
			if !math.IsNaN(lp) && !math.IsInf(lp, 0) {
				lps[w] = lp
				found = true
			}
		}
		if !found {
			term, _ := m.NonFiniteTerm(x)
			if term == "" {
				term = "posterior"
			}
			return errors.Errorf("Walker %d found no finite posterior in %d tries: non-finite %s", w, initRetries, term)
		}
		pos[w] = x
	}

	e.mod = m
	e.pos = pos
	e.lps = lps
	e.runID = uuid.NewString()
	e.chain = NewChain(e.runID, m.Layout().Labels())
	e.state = Initialized

	e.log.Info("ensemble initialized", "run", e.runID, "walkers", e.cfg.Walkers, "free", free)
	return nil
}

// Resume restores walker state from a checkpoint instead of Init. The model
// must be the one the run started with; only its shape is verifiable here.
func (e *Ensemble) Resume(m *model.Model, runID string) error {
	if e.state == Done {
		return errors.Errorf("Sampler already completed")
	}
	if e.state != Uninitialized {
		return errors.Errorf("Sampler is %s - Resume needs a fresh sampler", e.state)
	}
	if m == nil || !m.Finalised() {
		return errors.Errorf("Ensemble requires a finalised model")
	}
	if e.cfg.Checkpoint == nil {
		return errors.Errorf("Resume requires a Checkpointer")
	}

	st, err := e.cfg.Checkpoint.LoadState(runID)
	if err != nil {
		return errors.Wrapf(err, "Could not load state for run %s", runID)
	}
	if len(st.Positions) != e.cfg.Walkers {
		return errors.Errorf("Run %s has %d walkers, config wants %d", runID, len(st.Positions), e.cfg.Walkers)
	}
	if len(st.LogPosts) != len(st.Positions) {
		return errors.Errorf("Run %s state is corrupt: %d walkers but %d log posteriors", runID, len(st.Positions), len(st.LogPosts))
	}
	for _, p := range st.Positions {
		if len(p) != m.Free() {
			return errors.Errorf("Run %s has %d parameters, model has %d", runID, len(p), m.Free())
		}
	}

	e.mod = m
	e.pos = make([][]float64, len(st.Positions))
	for i, p := range st.Positions {
		cp := make([]float64, len(p))
		copy(cp, p)
		e.pos[i] = cp
	}
	e.lps = make([]float64, len(st.LogPosts))
	copy(e.lps, st.LogPosts)
	e.stepsDone = st.StepsDone
	e.burned = true
	e.runID = runID
	e.chain = NewChain(runID, m.Layout().Labels())
	e.state = Initialized

	e.log.Info("ensemble resumed", "run", runID, "steps_done", st.StepsDone)
	return nil
}

// Run burns in and samples until cfg.Steps sampling steps are recorded,
// checkpointing along the way when configured. The returned chain holds the
// rows recorded by this call; a resumed run's earlier rows live in the store.
// Run transitions the sampler to Done, so a second call is an error.
func (e *Ensemble) Run() (*Chain, error) {
	if e.state == Done {
		return nil, errors.Errorf("Sampler already completed")
	}
	if e.state != Initialized {
		return nil, errors.Errorf("Sampler is %s - call Init first", e.state)
	}

	if !e.burned {
		e.state = Burning
		e.log.Info("burning in", "run", e.runID, "steps", e.cfg.Burn)
		for i := 0; i < e.cfg.Burn; i++ {
			e.step(false)
		}
		e.burned = true
	}

	e.state = Sampling
	e.log.Info("sampling", "run", e.runID, "from", e.stepsDone, "to", e.cfg.Steps)
	for e.stepsDone < e.cfg.Steps {
		e.step(true)
		if e.cfg.SaveEvery > 0 && e.stepsDone%e.cfg.SaveEvery == 0 {
			if err := e.checkpoint(); err != nil {
				return nil, errors.Wrapf(err, "Checkpoint failed for run %s", e.runID)
			}
		}
	}

	if e.cfg.Checkpoint != nil {
		if err := e.checkpoint(); err != nil {
			return nil, errors.Wrapf(err, "Final checkpoint failed for run %s", e.runID)
		}
	}

	e.state = Done
	e.log.Info("sampling done", "run", e.runID, "rows", e.chain.Rows(), "acceptance", e.AcceptanceRate())
	return e.chain, nil
}

// step advances every walker once. All draws come off the generator serially
// before the evaluation fan-out, so a fixed seed fixes the run no matter how
// many workers evaluate proposals.
func (e *Ensemble) step(record bool) {
	nw := e.cfg.Walkers
	a := e.cfg.StretchA
	d := float64(e.mod.Free())

	props := make([][]float64, nw)
	zs := make([]float64, nw)
	us := make([]float64, nw)
	lps := make([]float64, nw)

	for k := 0; k < nw; k++ {
		j := e.gen.Intn(nw - 1)
		if j >= k {
			j++
		}
		z := stretchZ(e.gen, a)

		x := make([]float64, len(e.pos[k]))
		for i := range x {
			x[i] = e.pos[j][i] + z*(e.pos[k][i]-e.pos[j][i])
		}

		props[k] = x
		zs[k] = z
		us[k] = e.gen.Float64()
	}

	var eg errgroup.Group
	eg.SetLimit(e.cfg.Workers)
	for k := 0; k < nw; k++ {
		k := k
		eg.Go(func() error {
			lps[k] = e.mod.LogPosterior(props[k])
			return nil
		})
	}
	_ = eg.Wait()

	// Proposals all scored: apply accepted moves. A non-finite proposal
	// posterior is an ordinary rejection, never fatal.
	acc := 0
	for k := 0; k < nw; k++ {
		lpNew := lps[k]
		if math.IsNaN(lpNew) || math.IsInf(lpNew, 0) {
			continue
		}
		logRatio := (d-1.0)*math.Log(zs[k]) + lpNew - e.lps[k]
		if math.Log(us[k]) < logRatio {
			e.pos[k] = props[k]
			e.lps[k] = lpNew
			acc++
		}
	}

	e.proposed += int64(nw)
	e.accepted += int64(acc)
	e.window.Add(float64(acc) / float64(nw))

	if record {
		for k := 0; k < nw; k++ {
			e.chain.Append(e.pos[k], e.lps[k])
		}
		e.stepsDone++
	}

	if e.cfg.Progress != nil {
		e.cfg.Progress(e)
	}
}

// checkpoint flushes unpersisted chain rows and the walker state.
func (e *Ensemble) checkpoint() error {
	if e.chain.Rows() > e.flushed {
		seg := NewChain(e.runID, e.chain.Labels)
		seg.Steps = e.chain.Steps[e.flushed:]
		seg.LogPosts = e.chain.LogPosts[e.flushed:]
		if err := e.cfg.Checkpoint.AppendSegment(e.runID, seg); err != nil {
			return err
		}
		e.flushed = e.chain.Rows()
	}

	// Snapshot the walker state: the live slices keep mutating after this
	ps := make([][]float64, len(e.pos))
	for i, p := range e.pos {
		cp := make([]float64, len(p))
		copy(cp, p)
		ps[i] = cp
	}
	ls := make([]float64, len(e.lps))
	copy(ls, e.lps)

	return e.cfg.Checkpoint.SaveState(e.runID, &WalkerState{
		RunID:     e.runID,
		Positions: ps,
		LogPosts:  ls,
		StepsDone: e.stepsDone,
	})
}

// stretchZ draws from g(z) proportional to 1/sqrt(z) on [1/a, a] by inverse
// transform: z = ((a-1)u + 1)^2 / a.
func stretchZ(gen *rand.Generator, a float64) float64 {
	s := (a-1.0)*gen.Float64() + 1.0
	return s * s / a
}

// State returns the sampler's lifecycle state.
func (e *Ensemble) State() State {
	return e.state
}

// RunID returns the run identifier assigned at Init, empty before that.
func (e *Ensemble) RunID() string {
	return e.runID
}

// StepsDone returns the number of recorded sampling steps so far.
func (e *Ensemble) StepsDone() int {
	return e.stepsDone
}

// AcceptanceRate returns the fraction of proposals accepted since Init.
func (e *Ensemble) AcceptanceRate() float64 {
	if e.proposed == 0 {
		return 0.0
	}
	return float64(e.accepted) / float64(e.proposed)
}

// AcceptanceDrift compares mean acceptance over the older and newer halves of
// the sliding window. ok is false until the window has filled. A large gap
// between the halves means the ensemble is still relaxing.
func (e *Ensemble) AcceptanceDrift() (older float64, newer float64, ok bool) {
	return e.window.HalfMeans()
}
