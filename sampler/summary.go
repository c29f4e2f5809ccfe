package sampler

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds weighted marginal statistics for one flat parameter slot.
type Summary struct {
	Label string
	Mean  float64
	Std   float64
}

// Summarize computes per-slot means and standard deviations, honoring chain
// weights when present.
func (c *Chain) Summarize() ([]Summary, error) {
	if c.Rows() < 2 {
		return nil, errors.Errorf("Chain %s has %d rows - need at least 2 to summarize", c.RunID, c.Rows())
	}
	if c.Weights != nil && floats.Sum(c.Weights) <= 0 {
		return nil, errors.Errorf("Chain %s weights sum to zero - nothing left to summarize", c.RunID)
	}

	free := len(c.Labels)
	col := make([]float64, c.Rows())
	out := make([]Summary, free)
	for p := 0; p < free; p++ {
		for i, row := range c.Steps {
			col[i] = row[p]
		}
		mean, std := stat.MeanStdDev(col, c.Weights)
		out[p] = Summary{Label: c.Labels[p], Mean: mean, Std: std}
	}

	return out, nil
}

// TruthSuite reports how well a summarized chain recovers known true values.
// Mean entries average across all parameters while Max entries take the worst
// one, the two views a fit report needs. Pull is the error in units of the
// posterior standard deviation.
type TruthSuite struct {
	MeanAbsError float64
	MaxAbsError  float64
	MeanPull     float64
	MaxPull      float64
}

// NewTruthSuite scores summaries against true parameter values, usually the
// generation truths of a simulation.
func NewTruthSuite(sums []Summary, truth []float64) (*TruthSuite, error) {
	if len(sums) != len(truth) {
		return nil, errors.Errorf("Parameter count mismatch %d != %d", len(sums), len(truth))
	}
	if len(sums) < 1 {
		return nil, errors.Errorf("No parameters to score")
	}

	ts := TruthSuite{}

	var d float64
	for i, s := range sums {
		d = math.Abs(s.Mean - truth[i])
		ts.MeanAbsError += d
		ts.MaxAbsError = math.Max(d, ts.MaxAbsError)

		pull := d / s.Std
		ts.MeanPull += pull
		ts.MaxPull = math.Max(pull, ts.MaxPull)
	}

	fc := float64(len(sums))
	ts.MeanAbsError /= fc
	ts.MeanPull /= fc

	return &ts, nil
}
