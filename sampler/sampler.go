package sampler

import (
	"github.com/snfit/snfit/model"
)

// A Sampler draws from a finalised model's posterior.
type Sampler interface {
	Init(*model.Model) error
	Run() (*Chain, error)
}

// State tracks a sampler through its lifecycle. The zero value is
// Uninitialized; Done is terminal.
type State int

// Sampler lifecycle states.
const (
	Uninitialized State = iota
	Initialized
	Burning
	Sampling
	Done
)

// String gives the lowercase name used in errors and monitoring output.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Burning:
		return "burning"
	case Sampling:
		return "sampling"
	case Done:
		return "done"
	}
	return "unknown"
}

// WalkerState is everything an ensemble needs to continue an interrupted run:
// the walker positions, their log posteriors, and how many sampling steps are
// already recorded.
type WalkerState struct {
	RunID     string
	Positions [][]float64
	LogPosts  []float64
	StepsDone int
}

// A Checkpointer persists sampler progress so an externally interrupted run
// can resume. Chain segments are append-only; walker state is overwritten in
// place.
type Checkpointer interface {
	AppendSegment(runID string, seg *Chain) error
	SaveState(runID string, st *WalkerState) error
	LoadState(runID string) (*WalkerState, error)
}
