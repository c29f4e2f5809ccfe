package model

import (
	"math"

	"github.com/pkg/errors"
)

// Kind is the role a node plays in the graph.
type Kind int

// Node kinds. Observed and Transformed nodes are never sampled; Latent and
// Underlying nodes own slots in the flat parameter vector.
const (
	Observed Kind = iota
	Latent
	Transformed
	Underlying
)

// String gives the lowercase name used in error messages and dot output.
func (k Kind) String() string {
	switch k {
	case Observed:
		return "observed"
	case Latent:
		return "latent"
	case Transformed:
		return "transformed"
	case Underlying:
		return "underlying"
	}
	return "unknown"
}

// A SuggestFunc maps resolved dependency values (node name to value vector)
// to a starting estimate for walker initialization. A length-1 result is
// broadcast across all of the node's slots.
type SuggestFunc func(deps map[string][]float64) []float64

// A LogPriorFunc returns the log prior density for an underlying node's
// values. Outside the supported region it returns -Inf, which the evaluator
// turns into a rejection.
type LogPriorFunc func(vals []float64) float64

// Node is a single named quantity in the graph. Every value in the model is
// a []float64: length 1 for scalars, one entry per object for per-object
// quantities. Exactly one Kind's fields are meaningful; the constructors fill
// what their kind requires and callers set the optional fields directly
// before the node is added to a model.
type Node struct {
	Name  string // Registry key, unique within a model
	Label string // Display label for reports and plots
	Group string // Optional cluster for dot output
	Kind  Kind

	// Data is fixed at construction for observed nodes and never sampled.
	Data []float64

	// Size is the number of consecutive flat-vector slots a latent or
	// underlying node owns. Latent nodes usually have one slot per object.
	Size int

	// LogPrior is optional for underlying nodes. nil means flat.
	LogPrior LogPriorFunc

	// Walker initialization. SuggestDeps may name only observed and
	// underlying nodes; the restriction is checked when initial conditions
	// are gathered, not at Finalise.
	SuggestDeps  []string
	Suggest      SuggestFunc
	SuggestSigma SuggestFunc
}

// NewObserved creates a data-carrying node. The data slice is used as-is and
// must not be mutated afterward.
func NewObserved(name string, label string, data []float64) (*Node, error) {
	if name == "" {
		return nil, errors.Errorf("Observed node requires a name")
	}
	if len(data) < 1 {
		return nil, errors.Errorf("Observed node %s requires at least one data value", name)
	}

	return &Node{Name: name, Label: label, Kind: Observed, Data: data}, nil
}

// NewLatent creates a sampled node with size slots, one per object. The
// caller still needs to fill Suggest and SuggestSigma before Finalise.
func NewLatent(name string, label string, size int) (*Node, error) {
	if name == "" {
		return nil, errors.Errorf("Latent node requires a name")
	}
	if size < 1 {
		return nil, errors.Errorf("Latent node %s has size %d - must be >= 1", name, size)
	}

	return &Node{Name: name, Label: label, Kind: Latent, Size: size}, nil
}

// NewTransformed creates a node whose value is recomputed during every
// posterior evaluation by exactly one transformation edge.
func NewTransformed(name string, label string) (*Node, error) {
	if name == "" {
		return nil, errors.Errorf("Transformed node requires a name")
	}

	return &Node{Name: name, Label: label, Kind: Transformed}, nil
}

// NewUnderlying creates a sampled top-level parameter node with size slots
// (almost always 1). The caller still needs to fill Suggest and SuggestSigma,
// and usually LogPrior, before Finalise.
func NewUnderlying(name string, label string, size int) (*Node, error) {
	if name == "" {
		return nil, errors.Errorf("Underlying node requires a name")
	}
	if size < 1 {
		return nil, errors.Errorf("Underlying node %s has size %d - must be >= 1", name, size)
	}

	return &Node{Name: name, Label: label, Kind: Underlying, Size: size}, nil
}

// Check returns an error if any problem is found. Finalise runs this for
// every node after callers have filled the optional fields.
func (n *Node) Check() error {
	if n.Name == "" {
		return errors.Errorf("Node with label %q has no name", n.Label)
	}

	switch n.Kind {
	case Observed:
		if len(n.Data) < 1 {
			return errors.Errorf("Observed node %s has no data", n.Name)
		}
	case Transformed:
		// Value is produced by a transformation edge each evaluation;
		// there is nothing to hold here.
	case Latent, Underlying:
		if n.Size < 1 {
			return errors.Errorf("%s node %s has size %d - must be >= 1", n.Kind, n.Name, n.Size)
		}
		if n.Suggest == nil || n.SuggestSigma == nil {
			return errors.Errorf("%s node %s needs Suggest and SuggestSigma for walker initialization", n.Kind, n.Name)
		}
		if n.Kind == Latent && n.LogPrior != nil {
			return errors.Errorf("Latent node %s can not carry a prior - express it as an edge", n.Name)
		}
	default:
		return errors.Errorf("Node %s has unknown kind %d", n.Name, int(n.Kind))
	}

	return nil
}

// Sampled returns true for nodes that own flat-vector slots.
func (n *Node) Sampled() bool {
	return n.Kind == Latent || n.Kind == Underlying
}

// UniformPrior returns a flat prior on [lo, hi], applied to every slot.
func UniformPrior(lo, hi float64) LogPriorFunc {
	return func(vals []float64) float64 {
		for _, v := range vals {
			if v < lo || v > hi {
				return math.Inf(-1)
			}
		}
		return 0.0
	}
}

// LogUniformPrior returns a scale prior proportional to 1/x on [lo, hi], the
// usual choice for scatter parameters that must stay positive.
func LogUniformPrior(lo, hi float64) LogPriorFunc {
	return func(vals []float64) float64 {
		lp := 0.0
		for _, v := range vals {
			if v <= 0 || v < lo || v > hi {
				return math.Inf(-1)
			}
			lp -= math.Log(v)
		}
		return lp
	}
}

// ConstSuggest returns a SuggestFunc that ignores dependencies and returns a
// copy of the given values.
func ConstSuggest(vals ...float64) SuggestFunc {
	return func(map[string][]float64) []float64 {
		out := make([]float64, len(vals))
		copy(out, vals)
		return out
	}
}

// DepSuggest returns a SuggestFunc that echoes a single dependency, the usual
// choice for a latent node that tracks an observed quantity.
func DepSuggest(name string) SuggestFunc {
	return func(deps map[string][]float64) []float64 {
		return deps[name]
	}
}
