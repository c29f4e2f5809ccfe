package cmd

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/snfit/snfit/cosmology"
)

// Selection treatments. None fits the raw likelihood, approx adds the
// normalization edge to the posterior, exact reweights the finished chain.
const (
	CorrNone   = "none"
	CorrApprox = "approx"
	CorrExact  = "exact"
)

// Efficiency families the approximate correction can fit to the pool.
const (
	EffCCDF       = "ccdf"
	EffSkewNormal = "skewnormal"
)

// Config is the YAML run configuration. LoadConfig layers a file over
// DefaultConfig, so a file only carries the fields it changes.
type Config struct {
	Seed int64 `yaml:"seed"`

	Simulation cosmology.SimConfig   `yaml:"simulation"`
	Model      cosmology.ModelConfig `yaml:"model"`

	// Walkers zero sizes the ensemble from the model: twice the free
	// parameter count plus two.
	Walkers   int     `yaml:"walkers"`
	Steps     int     `yaml:"steps"`
	Burn      int     `yaml:"burn"`
	StretchA  float64 `yaml:"stretch_a"`
	Workers   int     `yaml:"workers"`
	SaveEvery int     `yaml:"save_every"`

	Runs     int `yaml:"runs"`
	Parallel int `yaml:"parallel"`

	Correction string `yaml:"correction"`
	Efficiency string `yaml:"efficiency"`
	EffBins    int    `yaml:"eff_bins"`
	EffGrid    int    `yaml:"eff_grid"`

	// PoolFile, when set, is read instead of simulating a correction pool.
	// When the file does not exist the simulated pool is dumped there so
	// the weights command can reuse it.
	PoolFile string `yaml:"pool_file"`
}

// DefaultConfig returns a complete runnable configuration around the default
// simulated survey.
func DefaultConfig() Config {
	return Config{
		Seed:       1,
		Simulation: cosmology.DefaultSimConfig(),
		Steps:      400,
		Burn:       200,
		Runs:       1,
		Correction: CorrApprox,
		Efficiency: EffCCDF,
		EffBins:    30,
		EffGrid:    101,
	}
}

// Validate returns an error if any problem is found.
func (c Config) Validate() error {
	if err := c.Simulation.Check(); err != nil {
		return errors.Wrap(err, "Invalid simulation section")
	}
	if err := c.Model.Check(); err != nil {
		return errors.Wrap(err, "Invalid model section")
	}
	if c.Walkers < 0 || c.Steps < 1 || c.Burn < 0 {
		return errors.Errorf("Unusable sampler shape: %d walkers, %d steps, %d burn", c.Walkers, c.Steps, c.Burn)
	}
	if c.Runs < 1 {
		return errors.Errorf("Need at least 1 run, have %d", c.Runs)
	}

	switch c.Correction {
	case CorrNone, CorrApprox, CorrExact:
	default:
		return errors.Errorf("Unknown correction mode %q", c.Correction)
	}
	switch c.Efficiency {
	case EffCCDF, EffSkewNormal:
	default:
		return errors.Errorf("Unknown efficiency family %q", c.Efficiency)
	}
	return nil
}

// LoadConfig reads a YAML file over the defaults. Unknown keys are errors so
// a typo surfaces instead of silently keeping a default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "Could not read config %s", path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrapf(err, "Could not parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "Invalid config %s", path)
	}
	return cfg, nil
}

// snapshot renders the effective configuration for the run metadata.
func (c Config) snapshot() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	return string(out)
}

// configFromSnapshot restores the configuration a stored run was produced
// with.
func configFromSnapshot(snap string) (Config, error) {
	if snap == "" {
		return Config{}, errors.Errorf("Run carries no config snapshot")
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(snap), &cfg); err != nil {
		return cfg, errors.Wrap(err, "Could not parse config snapshot")
	}
	return cfg, cfg.Validate()
}

// modelName is the display name recorded with a run.
func (c Config) modelName() string {
	if c.Model.Name != "" {
		return c.Model.Name
	}
	return "snfit"
}
