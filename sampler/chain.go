package sampler

import (
	"math"

	"github.com/pkg/errors"
)

// Chain is the append-only record of one sampling run: a row per walker per
// recorded step. Weights stay nil until a bias corrector assigns them; a nil
// Weights field means every row counts equally.
type Chain struct {
	RunID    string
	Labels   []string
	Steps    [][]float64
	LogPosts []float64
	Weights  []float64
}

// NewChain returns an empty chain for the given run and parameter labels.
func NewChain(runID string, labels []string) *Chain {
	return &Chain{
		RunID:  runID,
		Labels: labels,
	}
}

// Append copies one walker position and its log posterior onto the chain.
func (c *Chain) Append(x []float64, lp float64) {
	row := make([]float64, len(x))
	copy(row, x)
	c.Steps = append(c.Steps, row)
	c.LogPosts = append(c.LogPosts, lp)
}

// Rows returns the number of recorded samples.
func (c *Chain) Rows() int {
	return len(c.Steps)
}

// SetWeights attaches importance weights to the chain, replacing any that are
// already present. Weights must be non-negative, finite, and one per row.
func (c *Chain) SetWeights(w []float64) error {
	if len(w) != c.Rows() {
		return errors.Errorf("Chain %s has %d rows but got %d weights", c.RunID, c.Rows(), len(w))
	}
	for i, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("Chain %s weight %d is invalid: %f", c.RunID, i, v)
		}
	}

	c.Weights = w
	return nil
}

// MultiplyWeights folds new importance weights into any existing ones, the
// composition rule when several corrections apply to one chain.
func (c *Chain) MultiplyWeights(w []float64) error {
	if c.Weights == nil {
		return c.SetWeights(w)
	}
	if len(w) != c.Rows() {
		return errors.Errorf("Chain %s has %d rows but got %d weights", c.RunID, c.Rows(), len(w))
	}

	for i, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("Chain %s weight %d is invalid: %f", c.RunID, i, v)
		}
		c.Weights[i] *= v
	}
	return nil
}

// Thin returns a new chain keeping every k-th row. The thinned chain shares
// row storage with the original.
func (c *Chain) Thin(k int) (*Chain, error) {
	if k < 1 {
		return nil, errors.Errorf("Thinning interval %d - must be >= 1", k)
	}

	out := NewChain(c.RunID, c.Labels)
	for i := 0; i < c.Rows(); i += k {
		out.Steps = append(out.Steps, c.Steps[i])
		out.LogPosts = append(out.LogPosts, c.LogPosts[i])
		if c.Weights != nil {
			out.Weights = append(out.Weights, c.Weights[i])
		}
	}
	return out, nil
}

// MergeChains concatenates chain segments in order. Labels must agree; the
// run ID is taken from the first segment. If any segment carries weights the
// merged chain does too, with unweighted rows counted at 1.
func MergeChains(chains []*Chain) (*Chain, error) {
	if len(chains) < 1 {
		return nil, errors.Errorf("Can not merge 0 chains")
	}

	weighted := false
	rows := 0
	first := chains[0]
	for _, ch := range chains {
		if len(ch.Labels) != len(first.Labels) {
			return nil, errors.Errorf("Can not merge chains with %d and %d parameters", len(first.Labels), len(ch.Labels))
		}
		for i, l := range ch.Labels {
			if l != first.Labels[i] {
				return nil, errors.Errorf("Can not merge chains: label %q != %q", l, first.Labels[i])
			}
		}
		if ch.Weights != nil {
			weighted = true
		}
		rows += ch.Rows()
	}

	out := NewChain(first.RunID, first.Labels)
	out.Steps = make([][]float64, 0, rows)
	out.LogPosts = make([]float64, 0, rows)
	if weighted {
		out.Weights = make([]float64, 0, rows)
	}

	for _, ch := range chains {
		out.Steps = append(out.Steps, ch.Steps...)
		out.LogPosts = append(out.LogPosts, ch.LogPosts...)
		if !weighted {
			continue
		}
		if ch.Weights != nil {
			out.Weights = append(out.Weights, ch.Weights...)
		} else {
			for i := 0; i < ch.Rows(); i++ {
				out.Weights = append(out.Weights, 1.0)
			}
		}
	}

	return out, nil
}
