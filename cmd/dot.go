package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/snfit/snfit/cosmology"
	"github.com/snfit/snfit/model"
	"github.com/snfit/snfit/rand"
)

var dotCmd = &cobra.Command{
	Use:   "dot",
	Short: "Write the configured model graph in graphviz format",
	RunE: func(cmd *cobra.Command, args []string) error {
		return DotOutput(params, os.Stdout)
	},
}

// DotOutput builds the configured model on a small synthetic survey and
// writes its graph as graphviz dot. The structure only depends on the
// configuration, not the data, so the survey is shrunk for speed.
func DotOutput(sp *startupParams, out io.Writer) error {
	cfg, err := sp.loadConfig()
	if err != nil {
		return err
	}

	// Two objects keep every node and edge while the pool stays tiny. The
	// pool cache stays untouched, a real fit should not inherit this one.
	cfg.Simulation.NSNe = 2
	cfg.Simulation.NPool = 600
	cfg.PoolFile = ""

	pool, err := fitPool(cfg, sp)
	if err != nil {
		return err
	}
	mc := cfg.Model
	if cfg.Correction == CorrApprox {
		corr, err := fitCorrector(cfg, pool)
		if err != nil {
			return err
		}
		mc.Corrector = corr
	}

	gen, err := rand.NewGenerator(cfg.Seed)
	if err != nil {
		return err
	}
	survey, _, err := cosmology.Simulate(cfg.Simulation, gen)
	if err != nil {
		return err
	}
	m, err := cosmology.Build(mc, survey)
	if err != nil {
		return err
	}

	_, err = out.Write(modelDot(m))
	return err
}

// nodeShape maps a node kind to its graphviz shape: data is boxed, sampled
// quantities are round, derived ones are diamonds.
func nodeShape(k model.Kind) string {
	switch k {
	case model.Observed:
		return "box"
	case model.Transformed:
		return "diamond"
	}
	return "ellipse"
}

// modelDot renders the graph: nodes clustered by group, transformations as
// arrows into their target, likelihood edges as note boxes between their
// parents and children.
func modelDot(m *model.Model) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "strict digraph G {\n")
	fmt.Fprintf(&b, "    rankdir=LR;\n")

	// Group the nodes into clusters, keeping model order
	var groups []string
	byGroup := make(map[string][]*model.Node)
	for _, n := range m.Nodes() {
		if _, ok := byGroup[n.Group]; !ok {
			groups = append(groups, n.Group)
		}
		byGroup[n.Group] = append(byGroup[n.Group], n)
	}

	for _, g := range groups {
		indent := "    "
		if g != "" {
			fmt.Fprintf(&b, "    subgraph \"cluster_%s\" {\n", g)
			fmt.Fprintf(&b, "        label=\"%s\";\n", g)
			fmt.Fprintf(&b, "        style=dotted;\n")
			indent = "        "
		}
		for _, n := range byGroup[g] {
			label := n.Label
			if label == "" {
				label = n.Name
			}
			fmt.Fprintf(&b, "%s\"%s\" [label=\"%s\", shape=%s];\n", indent, n.Name, label, nodeShape(n.Kind))
		}
		if g != "" {
			fmt.Fprintf(&b, "    }\n")
		}
	}

	for _, e := range m.Edges() {
		if e.Transform != nil {
			for _, p := range e.Parents {
				fmt.Fprintf(&b, "    \"%s\" -> \"%s\";\n", p, e.Target)
			}
			continue
		}

		fmt.Fprintf(&b, "    \"%s\" [shape=note];\n", e.Name)
		for _, p := range e.Parents {
			fmt.Fprintf(&b, "    \"%s\" -> \"%s\";\n", p, e.Name)
		}
		for _, c := range e.Children {
			fmt.Fprintf(&b, "    \"%s\" -> \"%s\";\n", e.Name, c)
		}
	}

	fmt.Fprintf(&b, "}\n")
	return b.Bytes()
}
