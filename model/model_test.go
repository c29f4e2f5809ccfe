package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLatent(name string, size int, sug float64, sig float64) *Node {
	n, _ := NewLatent(name, name, size)
	n.Suggest = ConstSuggest(sug)
	n.SuggestSigma = ConstSuggest(sig)
	return n
}

func testUnderlying(name string, sug float64, sig float64) *Node {
	n, _ := NewUnderlying(name, name, 1)
	n.Suggest = ConstSuggest(sug)
	n.SuggestSigma = ConstSuggest(sig)
	return n
}

func zeroLike(v *Vals) float64 {
	return 0.0
}

func TestNodeConstructors(t *testing.T) {
	assert := assert.New(t)

	n, err := NewObserved("", "o", []float64{1.0})
	assert.Nil(n)
	assert.Error(err)

	n, err = NewObserved("o", "o", nil)
	assert.Nil(n)
	assert.Error(err)

	n, err = NewLatent("l", "l", 0)
	assert.Nil(n)
	assert.Error(err)

	n, err = NewUnderlying("u", "u", -1)
	assert.Nil(n)
	assert.Error(err)

	n, err = NewTransformed("t", "t")
	assert.NoError(err)
	assert.Equal(Transformed, n.Kind)
	assert.Equal("transformed", n.Kind.String())
	assert.False(n.Sampled())
}

func TestNodeCheck(t *testing.T) {
	assert := assert.New(t)

	// Sampled nodes need suggestions before Finalise
	n, err := NewLatent("l", "l", 2)
	assert.NoError(err)
	assert.Error(n.Check())

	n.Suggest = ConstSuggest(0.0)
	n.SuggestSigma = ConstSuggest(1.0)
	assert.NoError(n.Check())

	// Latent priors belong on edges
	n.LogPrior = UniformPrior(0.0, 1.0)
	assert.Error(n.Check())
}

func TestEdgeCheck(t *testing.T) {
	assert := assert.New(t)

	e, err := NewEdge("", []string{"a"}, nil, zeroLike)
	assert.Nil(e)
	assert.Error(err)

	e, err = NewEdge("e", []string{"a"}, nil, nil)
	assert.Nil(e)
	assert.Error(err)

	e, err = NewEdge("e", nil, nil, zeroLike)
	assert.Nil(e)
	assert.Error(err)

	e, err = NewTransformation("t", nil, "out", func(v *Vals) []float64 { return nil })
	assert.Nil(e)
	assert.Error(err)

	e, err = NewTransformation("t", []string{"a"}, "", func(v *Vals) []float64 { return nil })
	assert.Nil(e)
	assert.Error(err)

	// Both scalar and per-object handlers is invalid
	e = &Edge{Name: "both", Parents: []string{"a"}, LogLike: zeroLike, LogLikePer: func(v *Vals) []float64 { return nil }}
	assert.Error(e.Check())

	e, err = NewEdge("ok", []string{"a"}, []string{"b"}, zeroLike)
	assert.NoError(err)
	assert.False(e.IsTransformation())
}

func TestDuplicateNodeName(t *testing.T) {
	assert := assert.New(t)

	m := New("dup")
	assert.NoError(m.AddNode(testUnderlying("mean", 0.0, 2.0)))

	other, err := NewObserved("mean", "mean again", []float64{1.0})
	assert.NoError(err)
	assert.Error(m.AddNode(other))

	assert.Error(m.AddNode(nil))
	assert.Error(m.AddEdge(nil))
}

func TestFinaliseUnknownReference(t *testing.T) {
	assert := assert.New(t)

	m := New("bad-ref")
	assert.NoError(m.AddNode(testUnderlying("mean", 0.0, 2.0)))

	e, err := NewEdge("dangling", []string{"mean"}, []string{"missing"}, zeroLike)
	assert.NoError(err)
	assert.NoError(m.AddEdge(e))

	assert.Error(m.Finalise())
}

func TestFinaliseTransformRules(t *testing.T) {
	assert := assert.New(t)

	ident := func(v *Vals) []float64 { return v.Vec(0) }

	// Target must be a transformed node
	m := New("bad-target")
	assert.NoError(m.AddNode(testUnderlying("u", 0.0, 1.0)))
	e, _ := NewTransformation("t", []string{"u"}, "u", ident)
	assert.NoError(m.AddEdge(e))
	assert.Error(m.Finalise())

	// A transformed node with no producer is an error
	m = New("unfed")
	assert.NoError(m.AddNode(testUnderlying("u", 0.0, 1.0)))
	tn, _ := NewTransformed("out", "out")
	assert.NoError(m.AddNode(tn))
	assert.Error(m.Finalise())

	// Two producers for one target is an error
	m = New("double-fed")
	assert.NoError(m.AddNode(testUnderlying("u", 0.0, 1.0)))
	tn, _ = NewTransformed("out", "out")
	assert.NoError(m.AddNode(tn))
	e1, _ := NewTransformation("t1", []string{"u"}, "out", ident)
	e2, _ := NewTransformation("t2", []string{"u"}, "out", ident)
	assert.NoError(m.AddEdge(e1))
	assert.NoError(m.AddEdge(e2))
	assert.Error(m.Finalise())

	// Cycles between transformation edges are an error
	m = New("cycle")
	assert.NoError(m.AddNode(testUnderlying("u", 0.0, 1.0)))
	ta, _ := NewTransformed("a", "a")
	tb, _ := NewTransformed("b", "b")
	assert.NoError(m.AddNode(ta))
	assert.NoError(m.AddNode(tb))
	e1, _ = NewTransformation("t1", []string{"b"}, "a", ident)
	e2, _ = NewTransformation("t2", []string{"a"}, "b", ident)
	assert.NoError(m.AddEdge(e1))
	assert.NoError(m.AddEdge(e2))
	assert.Error(m.Finalise())
}

func TestFinaliseFreeze(t *testing.T) {
	assert := assert.New(t)

	m := New("freeze")
	assert.NoError(m.AddNode(testUnderlying("mean", 0.0, 2.0)))
	assert.NoError(m.Finalise())
	assert.True(m.Finalised())

	assert.Error(m.AddNode(testUnderlying("late", 0.0, 1.0)))
	e, _ := NewEdge("late-edge", []string{"mean"}, nil, zeroLike)
	assert.Error(m.AddEdge(e))
	assert.Error(m.Finalise())
}

func TestFinaliseNeedsSampledNodes(t *testing.T) {
	assert := assert.New(t)

	m := New("empty")
	assert.Error(m.Finalise())

	obs, _ := NewObserved("obs", "obs", []float64{1.0})
	assert.NoError(m.AddNode(obs))
	assert.Error(m.Finalise())
}

func TestLayout(t *testing.T) {
	assert := assert.New(t)

	m := New("layout")
	assert.NoError(m.AddNode(testUnderlying("mu", 0.0, 1.0)))
	assert.NoError(m.AddNode(testLatent("x1", 3, 0.0, 1.0)))
	assert.NoError(m.Finalise())

	assert.Equal(4, m.Free())

	l := m.Layout()
	assert.Equal(4, l.Free())
	assert.Equal([]string{"mu", "x1[0]", "x1[1]", "x1[2]"}, l.Labels())

	off, size, ok := l.Range("x1")
	assert.True(ok)
	assert.Equal(1, off)
	assert.Equal(3, size)

	off, size, ok = l.Range("mu")
	assert.True(ok)
	assert.Equal(0, off)
	assert.Equal(1, size)

	_, _, ok = l.Range("nope")
	assert.False(ok)

	assert.NotNil(m.Node("mu"))
	assert.Nil(m.Node("nope"))
	assert.Len(m.Nodes(), 2)
	assert.Len(m.Edges(), 0)
}
