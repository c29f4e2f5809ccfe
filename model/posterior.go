package model

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// fdEps scales the central difference step used by LogPosteriorGrad.
const fdEps = 1e-6

// slab builds the per-call evaluation state: one value vector per node.
// Observed nodes alias their data and sampled nodes alias ranges of x.
// Transformed nodes are then produced in dependency order. Nothing on the
// model is touched, so concurrent calls never share mutable state.
func (m *Model) slab(x []float64) [][]float64 {
	vals := make([][]float64, len(m.nodes))
	for i, n := range m.nodes {
		switch n.Kind {
		case Observed:
			vals[i] = n.Data
		case Latent, Underlying:
			off := m.offsets[i]
			vals[i] = x[off : off+n.Size]
		}
	}

	for _, e := range m.trans {
		v := Vals{idx: e.idx, slab: vals}
		vals[e.targetIdx] = e.Transform(&v)
	}

	return vals
}

// edgeTerm evaluates one likelihood edge against the slab.
func edgeTerm(e *Edge, vals [][]float64) float64 {
	v := Vals{idx: e.idx, slab: vals}
	if e.LogLike != nil {
		return e.LogLike(&v)
	}

	term := 0.0
	for _, t := range e.LogLikePer(&v) {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return math.Inf(-1)
		}
		term += t
	}
	return term
}

// LogPosterior evaluates the log posterior density at the flat parameter
// vector x. It is pure: identical inputs give identical results and no state
// is mutated. The first non-finite prior or likelihood term short-circuits
// the result to -Inf. Panics if the model is not finalised or x has the wrong
// length, since both are caller bugs rather than sampling outcomes.
func (m *Model) LogPosterior(x []float64) float64 {
	if !m.finalised {
		panic("model: LogPosterior called before Finalise")
	}
	if len(x) != m.Free() {
		panic(fmt.Sprintf("model: LogPosterior got %d parameters, want %d", len(x), m.Free()))
	}

	vals := m.slab(x)

	lp := 0.0
	for i, n := range m.nodes {
		if n.Kind != Underlying || n.LogPrior == nil {
			continue
		}
		term := n.LogPrior(vals[i])
		if math.IsNaN(term) || math.IsInf(term, 0) {
			return math.Inf(-1)
		}
		lp += term
	}

	for _, e := range m.likes {
		term := edgeTerm(e, vals)
		if math.IsNaN(term) || math.IsInf(term, 0) {
			return math.Inf(-1)
		}
		lp += term
	}

	return lp
}

// LogPosteriorGrad estimates the gradient of LogPosterior at x by central
// finite differences with a per-component step h = fdEps * max(1, |x_i|).
// When the posterior at x itself is -Inf the gradient is all zeros.
func (m *Model) LogPosteriorGrad(x []float64) []float64 {
	grad := make([]float64, len(x))

	if math.IsInf(m.LogPosterior(x), -1) {
		return grad
	}

	xx := make([]float64, len(x))
	copy(xx, x)
	for i := range xx {
		h := fdEps * math.Max(1.0, math.Abs(x[i]))
		xx[i] = x[i] + h
		hi := m.LogPosterior(xx)
		xx[i] = x[i] - h
		lo := m.LogPosterior(xx)
		xx[i] = x[i]
		grad[i] = (hi - lo) / (2.0 * h)
	}

	return grad
}

// NonFiniteTerm names the first transformation output, prior, or likelihood
// edge that is non-finite at x. The sampler uses this to blame a specific
// part of the model when walker initialization keeps failing. ok is false
// when every term is finite.
func (m *Model) NonFiniteTerm(x []float64) (string, bool) {
	vals := m.slab(x)

	for _, e := range m.trans {
		for _, v := range vals[e.targetIdx] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Sprintf("transformation %s (node %s)", e.Name, e.Target), true
			}
		}
	}

	for i, n := range m.nodes {
		if n.Kind != Underlying || n.LogPrior == nil {
			continue
		}
		if t := n.LogPrior(vals[i]); math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Sprintf("prior of node %s", n.Name), true
		}
	}

	for _, e := range m.likes {
		if t := edgeTerm(e, vals); math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Sprintf("edge %s", e.Name), true
		}
	}

	return "", false
}

// InitialConditions resolves every sampled node's suggestion into flat mu and
// sigma vectors aligned with the layout. Suggestion dependencies may name
// only observed and underlying nodes. Underlying suggestions resolve first,
// in insertion order, so later nodes can depend on them. Length-1 suggestion
// results broadcast across all of a node's slots.
func (m *Model) InitialConditions() (mu []float64, sigma []float64, err error) {
	if !m.finalised {
		return nil, nil, errors.Errorf("Model %s is not finalised", m.Name)
	}

	free := m.Free()
	mu = make([]float64, free)
	sigma = make([]float64, free)
	suggested := make(map[string][]float64)

	for _, kind := range []Kind{Underlying, Latent} {
		for i, n := range m.nodes {
			if n.Kind != kind {
				continue
			}

			deps, err := m.suggestDeps(n, suggested)
			if err != nil {
				return nil, nil, err
			}

			mv, err := broadcast(n, n.Suggest(deps))
			if err != nil {
				return nil, nil, errors.Wrapf(err, "Bad suggestion for node %s", n.Name)
			}
			sv, err := broadcast(n, n.SuggestSigma(deps))
			if err != nil {
				return nil, nil, errors.Wrapf(err, "Bad suggestion sigma for node %s", n.Name)
			}

			off := m.offsets[i]
			copy(mu[off:off+n.Size], mv)
			copy(sigma[off:off+n.Size], sv)
			if kind == Underlying {
				suggested[n.Name] = mv
			}
		}
	}

	return mu, sigma, nil
}

// suggestDeps gathers the dependency values a node's suggestion may read.
func (m *Model) suggestDeps(n *Node, suggested map[string][]float64) (map[string][]float64, error) {
	deps := make(map[string][]float64, len(n.SuggestDeps))
	for _, name := range n.SuggestDeps {
		di, ok := m.nodeIdx[name]
		if !ok {
			return nil, errors.Errorf("Node %s suggestion requires unknown node %s", n.Name, name)
		}

		d := m.nodes[di]
		switch d.Kind {
		case Observed:
			deps[name] = d.Data
		case Underlying:
			v, ok := suggested[name]
			if !ok {
				return nil, errors.Errorf("Node %s suggestion requires underlying %s, which must be added to the model first", n.Name, name)
			}
			deps[name] = v
		default:
			return nil, errors.Errorf("Node %s suggestion requires %s node %s - only observed and underlying nodes may be referenced", n.Name, d.Kind, name)
		}
	}
	return deps, nil
}

// broadcast expands a suggestion result to the node's slot count.
func broadcast(n *Node, vals []float64) ([]float64, error) {
	if len(vals) == n.Size {
		return vals, nil
	}
	if len(vals) == 1 {
		out := make([]float64, n.Size)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	}
	return nil, errors.Errorf("Suggestion produced %d values for %d slots", len(vals), n.Size)
}
