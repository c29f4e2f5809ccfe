package model

import (
	"github.com/pkg/errors"
)

// Vals gives an edge positional access to the current values of its declared
// nodes. Index order matches the declaration: parents first, then children.
// The slices point into the evaluation state of a single posterior call and
// must not be retained or mutated.
type Vals struct {
	idx  []int
	slab [][]float64
}

// Vec returns the full value vector of the i-th declared node.
func (v *Vals) Vec(i int) []float64 {
	return v.slab[v.idx[i]]
}

// Scalar returns the single value of the i-th declared node.
func (v *Vals) Scalar(i int) float64 {
	return v.slab[v.idx[i]][0]
}

// A LogLikeFunc scores one likelihood edge. A non-finite result rejects the
// sample.
type LogLikeFunc func(v *Vals) float64

// A LogLikePerFunc scores each object separately. The evaluator sums the
// entries; any non-finite entry rejects the sample.
type LogLikePerFunc func(v *Vals) []float64

// A TransformFunc computes the value vector of a transformed node from its
// parents.
type TransformFunc func(v *Vals) []float64

// Edge connects named nodes. A likelihood edge contributes LogLike (or the
// sum of LogLikePer) to the posterior. A transformation edge instead produces
// the value of its Target node from its parents and contributes nothing. Node
// references are names; Finalise resolves them to dense indexes so evaluation
// never touches the registry.
type Edge struct {
	Name     string
	Parents  []string
	Children []string

	LogLike    LogLikeFunc
	LogLikePer LogLikePerFunc

	Target    string
	Transform TransformFunc

	// Compiled by Finalise: node indexes for Parents then Children, and the
	// target node index for transformation edges.
	idx       []int
	targetIdx int
}

// NewEdge creates a likelihood edge over the named parent and child nodes.
func NewEdge(name string, parents []string, children []string, ll LogLikeFunc) (*Edge, error) {
	e := &Edge{Name: name, Parents: parents, Children: children, LogLike: ll, targetIdx: -1}
	return e, e.Check()
}

// NewEdgePer creates a likelihood edge whose function scores each object
// separately.
func NewEdgePer(name string, parents []string, children []string, ll LogLikePerFunc) (*Edge, error) {
	e := &Edge{Name: name, Parents: parents, Children: children, LogLikePer: ll, targetIdx: -1}
	return e, e.Check()
}

// NewTransformation creates an edge that computes the target transformed node
// from the parent values. Transformations are assumed volume preserving: no
// Jacobian term enters the posterior, so a transform that is not
// unit-Jacobian changes the distribution being sampled. One edge produces one
// target; write several edges for multi-output transformations.
func NewTransformation(name string, parents []string, target string, fn TransformFunc) (*Edge, error) {
	e := &Edge{Name: name, Parents: parents, Target: target, Transform: fn, targetIdx: -1}
	return e, e.Check()
}

// IsTransformation returns true for edges that produce a transformed node.
func (e *Edge) IsTransformation() bool {
	return e.Transform != nil
}

// Check returns an error if any problem is found
func (e *Edge) Check() error {
	if e.Name == "" {
		return errors.Errorf("Edge requires a name")
	}

	if e.Transform != nil {
		if e.Target == "" {
			return errors.Errorf("Transformation edge %s requires a target node", e.Name)
		}
		if len(e.Parents) < 1 {
			return errors.Errorf("Transformation edge %s requires at least one parent", e.Name)
		}
		if e.LogLike != nil || e.LogLikePer != nil || len(e.Children) > 0 {
			return errors.Errorf("Transformation edge %s can not also be a likelihood edge", e.Name)
		}
		return nil
	}

	if e.Target != "" {
		return errors.Errorf("Edge %s has a target but no transform", e.Name)
	}
	if (e.LogLike == nil) == (e.LogLikePer == nil) {
		return errors.Errorf("Likelihood edge %s requires exactly one of LogLike and LogLikePer", e.Name)
	}
	if len(e.Parents)+len(e.Children) < 1 {
		return errors.Errorf("Edge %s references no nodes", e.Name)
	}

	return nil
}
