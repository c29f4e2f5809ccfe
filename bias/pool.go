// Package bias corrects fitted chains for survey selection effects. Both
// correctors work off a pool of simulated survey realizations: the exact one
// reweights a finished chain by Monte Carlo importance sampling over the
// pool, the approximate one fits an analytic detection efficiency to the
// pool and contributes a normalization term inside the posterior.
package bias

import (
	"bytes"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Pool column names required in a dump header, in any order.
const (
	colRedshift = "z"
	colApparent = "mb"
	colStretch  = "x1"
	colColour   = "c"
	colMass     = "mass"
	colPassed   = "passed"
	colLogGen   = "logp"
)

// Pool is a read-only table of simulated survey realizations. LogGen holds
// the log-density each realization was generated from, which the exact
// corrector divides out. Safe for concurrent readers once built.
type Pool struct {
	Redshifts []float64
	Apparents []float64
	Stretches []float64
	Colours   []float64
	Masses    []float64
	Passed    []bool
	LogGen    []float64
}

// Len returns the number of realizations in the pool.
func (p *Pool) Len() int {
	return len(p.Redshifts)
}

// PassCount returns how many realizations passed the selection cuts.
func (p *Pool) PassCount() int {
	n := 0
	for _, ok := range p.Passed {
		if ok {
			n++
		}
	}
	return n
}

// Check returns an error if any problem is found
func (p *Pool) Check() error {
	n := p.Len()
	if n < 1 {
		return errors.Errorf("Pool is empty")
	}
	if len(p.Apparents) != n || len(p.Stretches) != n || len(p.Colours) != n ||
		len(p.Masses) != n || len(p.Passed) != n || len(p.LogGen) != n {
		return errors.Errorf("Pool columns have mismatched lengths")
	}
	for i, z := range p.Redshifts {
		if z <= 0 || math.IsNaN(z) || math.IsInf(z, 0) {
			return errors.Errorf("Pool row %d has invalid redshift %f", i, z)
		}
	}
	return nil
}

// PassedOnly returns a pool holding only the realizations that passed the
// cuts and carry a finite generation density. The returned pool shares no
// storage with the original.
func (p *Pool) PassedOnly() *Pool {
	out := &Pool{}
	for i := range p.Redshifts {
		if !p.Passed[i] {
			continue
		}
		if math.IsNaN(p.LogGen[i]) || math.IsInf(p.LogGen[i], 0) {
			continue
		}
		out.Redshifts = append(out.Redshifts, p.Redshifts[i])
		out.Apparents = append(out.Apparents, p.Apparents[i])
		out.Stretches = append(out.Stretches, p.Stretches[i])
		out.Colours = append(out.Colours, p.Colours[i])
		out.Masses = append(out.Masses, p.Masses[i])
		out.Passed = append(out.Passed, true)
		out.LogGen = append(out.LogGen, p.LogGen[i])
	}
	return out
}

// Cap returns a pool truncated to at most n rows. Reweighting cost scales
// with pool size, and a few tens of thousands of realizations are enough.
func (p *Pool) Cap(n int) *Pool {
	if n >= p.Len() {
		return p
	}
	return &Pool{
		Redshifts: p.Redshifts[:n],
		Apparents: p.Apparents[:n],
		Stretches: p.Stretches[:n],
		Colours:   p.Colours[:n],
		Masses:    p.Masses[:n],
		Passed:    p.Passed[:n],
		LogGen:    p.LogGen[:n],
	}
}

// WritePool renders the pool in the dump format ReadPool parses. Floats use
// the shortest representation that round trips exactly.
func WritePool(p *Pool) ([]byte, error) {
	if err := p.Check(); err != nil {
		return nil, errors.Wrap(err, "Invalid pool")
	}

	var b bytes.Buffer
	fmt.Fprintln(&b, colRedshift, colApparent, colStretch, colColour, colMass, colPassed, colLogGen)
	for i := range p.Redshifts {
		passed := 0
		if p.Passed[i] {
			passed = 1
		}
		fmt.Fprintf(&b, "%g %g %g %g %g %d %g\n",
			p.Redshifts[i], p.Apparents[i], p.Stretches[i], p.Colours[i],
			p.Masses[i], passed, p.LogGen[i])
	}
	return b.Bytes(), nil
}

// ReadPool parses a whitespace-delimited pool dump. The first real line is a
// header naming the columns; # comments and blank lines are skipped. Columns
// may appear in any order and extra columns are ignored.
func ReadPool(data []byte) (*Pool, error) {
	header, body, err := tablePreprocess(data)
	if err != nil {
		return nil, errors.Wrap(err, "Error reading pool dump")
	}

	names := NewFieldReader(header).Fields
	cols := make(map[string]int, len(names))
	for i, n := range names {
		cols[n] = i
	}
	for _, req := range []string{colRedshift, colApparent, colStretch, colColour, colMass, colPassed, colLogGen} {
		if _, ok := cols[req]; !ok {
			return nil, errors.Errorf("Pool dump is missing column %s", req)
		}
	}

	fr := NewFieldReader(body)
	width := len(names)
	if fr.Remaining()%width != 0 {
		return nil, errors.Errorf("Pool dump has %d fields, not a multiple of %d columns", fr.Remaining(), width)
	}

	p := &Pool{}
	row := make([]float64, width)
	for fr.Remaining() > 0 {
		for j := 0; j < width; j++ {
			row[j], err = fr.ReadFloat()
			if err != nil {
				return nil, errors.Wrapf(err, "Error reading pool row %d column %s", p.Len(), names[j])
			}
		}
		p.Redshifts = append(p.Redshifts, row[cols[colRedshift]])
		p.Apparents = append(p.Apparents, row[cols[colApparent]])
		p.Stretches = append(p.Stretches, row[cols[colStretch]])
		p.Colours = append(p.Colours, row[cols[colColour]])
		p.Masses = append(p.Masses, row[cols[colMass]])
		p.Passed = append(p.Passed, row[cols[colPassed]] > 0)
		p.LogGen = append(p.LogGen, row[cols[colLogGen]])
	}

	return p, p.Check()
}
