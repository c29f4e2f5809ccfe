package cmd

import (
	"expvar"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/snfit/snfit/sampler"
)

// monitor publishes fit progress over HTTP through the expvar handler.
// expvar names are process-global, so one monitor per process.
type monitor struct {
	server  *http.Server
	stopped chan struct{}
	quit    chan struct{}

	Walkers     *expvar.Int
	StepsTarget *expvar.Int
	BurnIn      *expvar.Int
	Runs        *expvar.Int
	RunsStarted *expvar.Int
	RunTime     *expvar.Float

	StepsDone   *expvar.Int
	Acceptance  *expvar.Float
	AcceptOlder *expvar.Float
	AcceptNewer *expvar.Float
}

// Start begins serving at addr and starts the run clock.
func (m *monitor) Start(addr string) error {
	if m.server != nil {
		return errors.Errorf("BUG: You may only start the process monitor once")
	}

	m.server = &http.Server{Addr: addr}
	m.stopped = make(chan struct{})
	m.quit = make(chan struct{})

	// Help the user and redirect to the only thing currently available:
	// the handler from the expvar package
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/debug/vars", http.StatusTemporaryRedirect)
	})

	m.Walkers = expvar.NewInt("Walkers")
	m.StepsTarget = expvar.NewInt("Steps-Target")
	m.BurnIn = expvar.NewInt("Burn-In")
	m.Runs = expvar.NewInt("Run-Count")
	m.RunsStarted = expvar.NewInt("Runs-Started")
	m.RunTime = expvar.NewFloat("Run-Time")

	m.StepsDone = expvar.NewInt("Steps-Done")
	m.Acceptance = expvar.NewFloat("Accept-Rate")
	m.AcceptOlder = expvar.NewFloat("Accept-Window-Older")
	m.AcceptNewer = expvar.NewFloat("Accept-Window-Newer")

	start := time.Now()
	go func() {
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case <-m.quit:
				return
			case <-tick.C:
				m.RunTime.Set(time.Since(start).Seconds())
			}
		}
	}()

	started := make(chan struct{})
	go func() {
		defer close(m.stopped)
		fmt.Fprintf(os.Stderr, "HTTP now available at %v (see debug/vars/)\n", m.server.Addr)
		close(started)
		m.server.ListenAndServe()
	}()

	<-started
	return nil
}

// progress returns a sampler hook that publishes per-step diagnostics.
// Concurrent runs overwrite each other's values.
func (m *monitor) progress() func(e *sampler.Ensemble) {
	return func(e *sampler.Ensemble) {
		m.StepsDone.Set(int64(e.StepsDone()))
		m.Acceptance.Set(e.AcceptanceRate())
		if older, newer, ok := e.AcceptanceDrift(); ok {
			m.AcceptOlder.Set(older)
			m.AcceptNewer.Set(newer)
		}
	}
}

// Stop shuts the server down, waiting briefly for it to let go.
func (m *monitor) Stop() {
	if m.server == nil {
		return
	}

	close(m.quit)
	m.server.Close()

	select {
	case <-m.stopped:
		fmt.Fprintf(os.Stderr, "HTTP Info Stopped\n")
	case <-time.After(2 * time.Second):
		fmt.Fprintf(os.Stderr, "HTTP would NOT stop: just continuing on\n")
	}
}
