package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// Model is a directed graph of nodes joined by likelihood and transformation
// edges. Build one with AddNode/AddEdge, then Finalise to validate the graph,
// compile name references to dense indexes, and lay out the flat parameter
// vector. A finalised model is frozen and safe for concurrent posterior
// evaluation.
type Model struct {
	Name string

	nodes   []*Node
	nodeIdx map[string]int
	edges   []*Edge

	finalised bool

	// Built by Finalise
	layout  *Layout
	offsets []int   // per-node first slot, -1 when not sampled
	trans   []*Edge // transformation edges in dependency order
	likes   []*Edge // likelihood edges in declaration order
}

// Slot describes one position in the flat parameter vector.
type Slot struct {
	Node  string `yaml:"node"`  // owning node name
	Index int    `yaml:"index"` // position within the node
	Label string `yaml:"label"` // display label ("x1[3]" style for multi-slot nodes)
}

// Layout maps the flat parameter vector back to nodes. It is small and plain
// so run metadata can carry it.
type Layout struct {
	Slots []Slot `yaml:"slots"`
}

// Free returns the flat parameter count.
func (l *Layout) Free() int {
	return len(l.Slots)
}

// Labels returns the per-slot display labels.
func (l *Layout) Labels() []string {
	out := make([]string, len(l.Slots))
	for i, s := range l.Slots {
		out[i] = s.Label
	}
	return out
}

// Range returns the slot range [off, off+size) owned by the named node.
func (l *Layout) Range(node string) (off int, size int, ok bool) {
	off = -1
	for i, s := range l.Slots {
		if s.Node != node {
			continue
		}
		if off < 0 {
			off = i
		}
		size++
	}
	return off, size, off >= 0
}

// New creates an empty model.
func New(name string) *Model {
	return &Model{
		Name:    name,
		nodeIdx: make(map[string]int),
	}
}

// AddNode registers a node. Names must be unique; a duplicate is an error.
func (m *Model) AddNode(n *Node) error {
	if m.finalised {
		return errors.Errorf("Model %s is finalised - can not add nodes", m.Name)
	}
	if n == nil {
		return errors.Errorf("Model %s given a nil node", m.Name)
	}
	if _, ok := m.nodeIdx[n.Name]; ok {
		return errors.Errorf("Duplicate node name %s in model %s", n.Name, m.Name)
	}

	m.nodeIdx[n.Name] = len(m.nodes)
	m.nodes = append(m.nodes, n)
	return nil
}

// AddEdge registers an edge. Node references resolve at Finalise.
func (m *Model) AddEdge(e *Edge) error {
	if m.finalised {
		return errors.Errorf("Model %s is finalised - can not add edges", m.Name)
	}
	if e == nil {
		return errors.Errorf("Model %s given a nil edge", m.Name)
	}

	m.edges = append(m.edges, e)
	return nil
}

// Finalise validates the graph, orders transformation edges so values are
// produced before they are read, compiles every edge's name references to
// node indexes, and lays out the flat parameter vector. The model is frozen
// afterward; calling Finalise twice is an error.
func (m *Model) Finalise() error {
	if m.finalised {
		return errors.Errorf("Model %s is already finalised", m.Name)
	}
	if len(m.nodes) < 1 {
		return errors.Errorf("Model %s has no nodes", m.Name)
	}

	for _, n := range m.nodes {
		if err := n.Check(); err != nil {
			return errors.Wrapf(err, "Model %s has an invalid node", m.Name)
		}
	}

	producers := make(map[int]*Edge) // transformed node index -> producing edge
	var trans []*Edge
	var likes []*Edge

	for _, e := range m.edges {
		if err := e.Check(); err != nil {
			return errors.Wrapf(err, "Model %s has an invalid edge", m.Name)
		}

		e.idx = make([]int, 0, len(e.Parents)+len(e.Children))
		for _, name := range e.Parents {
			i, ok := m.nodeIdx[name]
			if !ok {
				return errors.Errorf("Edge %s references unknown node %s", e.Name, name)
			}
			e.idx = append(e.idx, i)
		}
		for _, name := range e.Children {
			i, ok := m.nodeIdx[name]
			if !ok {
				return errors.Errorf("Edge %s references unknown node %s", e.Name, name)
			}
			e.idx = append(e.idx, i)
		}

		if !e.IsTransformation() {
			likes = append(likes, e)
			continue
		}

		ti, ok := m.nodeIdx[e.Target]
		if !ok {
			return errors.Errorf("Transformation edge %s targets unknown node %s", e.Name, e.Target)
		}
		if m.nodes[ti].Kind != Transformed {
			return errors.Errorf("Transformation edge %s targets %s node %s", e.Name, m.nodes[ti].Kind, e.Target)
		}
		if prev, dup := producers[ti]; dup {
			return errors.Errorf("Transformed node %s is produced by both %s and %s", e.Target, prev.Name, e.Name)
		}
		e.targetIdx = ti
		producers[ti] = e
		trans = append(trans, e)
	}

	for i, n := range m.nodes {
		if n.Kind == Transformed {
			if _, ok := producers[i]; !ok {
				return errors.Errorf("Transformed node %s is never produced by a transformation edge", n.Name)
			}
		}
	}

	ordered, err := m.orderTransforms(trans, producers)
	if err != nil {
		return err
	}

	// Flat layout: sampled nodes own consecutive slots in insertion order.
	m.offsets = make([]int, len(m.nodes))
	layout := &Layout{}
	for i, n := range m.nodes {
		m.offsets[i] = -1
		if !n.Sampled() {
			continue
		}
		m.offsets[i] = len(layout.Slots)
		for j := 0; j < n.Size; j++ {
			label := n.Label
			if n.Size > 1 {
				label = fmt.Sprintf("%s[%d]", n.Label, j)
			}
			layout.Slots = append(layout.Slots, Slot{Node: n.Name, Index: j, Label: label})
		}
	}
	if len(layout.Slots) < 1 {
		return errors.Errorf("Model %s has no sampled nodes", m.Name)
	}

	m.trans = ordered
	m.likes = likes
	m.layout = layout
	m.finalised = true
	return nil
}

// orderTransforms runs Kahn's algorithm over the transformation edges so that
// an edge reading a transformed node always runs after the edge producing it.
func (m *Model) orderTransforms(trans []*Edge, producers map[int]*Edge) ([]*Edge, error) {
	indeg := make(map[*Edge]int, len(trans))
	dependents := make(map[*Edge][]*Edge, len(trans))

	for _, e := range trans {
		for _, pi := range e.idx {
			if m.nodes[pi].Kind != Transformed {
				continue
			}
			p := producers[pi]
			if p == e {
				return nil, errors.Errorf("Transformation edge %s reads its own target", e.Name)
			}
			indeg[e]++
			dependents[p] = append(dependents[p], e)
		}
	}

	// Declaration order keeps the result stable for independent edges
	queue := make([]*Edge, 0, len(trans))
	for _, e := range trans {
		if indeg[e] == 0 {
			queue = append(queue, e)
		}
	}

	ordered := make([]*Edge, 0, len(trans))
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		ordered = append(ordered, e)
		for _, d := range dependents[e] {
			indeg[d]--
			if indeg[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(ordered) != len(trans) {
		return nil, errors.Errorf("Model %s has a cycle in its transformation edges", m.Name)
	}

	return ordered, nil
}

// Finalised returns true once Finalise has succeeded.
func (m *Model) Finalised() bool {
	return m.finalised
}

// Free returns the flat parameter count. Zero before Finalise.
func (m *Model) Free() int {
	if m.layout == nil {
		return 0
	}
	return len(m.layout.Slots)
}

// Layout returns the flat vector layout. nil before Finalise.
func (m *Model) Layout() *Layout {
	return m.layout
}

// Node returns the named node, or nil when absent.
func (m *Model) Node(name string) *Node {
	i, ok := m.nodeIdx[name]
	if !ok {
		return nil
	}
	return m.nodes[i]
}

// Nodes returns the nodes in insertion order. Treat the result as read-only.
func (m *Model) Nodes() []*Node {
	return m.nodes
}

// Edges returns the edges in declaration order. Treat the result as read-only.
func (m *Model) Edges() []*Edge {
	return m.edges
}
