package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/torosent/rampfire/internal/httpclient"
	"github.com/torosent/rampfire/internal/metrics"
)

var (
	// ErrInvalidBatch is returned for a batch size below one or an empty
	// min..max range.
	ErrInvalidBatch = errors.New("batch size must be >= 1 and max must be >= min")

	errMissingDispatcher = errors.New("runner: dispatcher is required")
	errMissingPaths      = errors.New("runner: path picker is required")
)

// PhaseRunner fires the concurrent requests of one phase.
type PhaseRunner struct {
	target     string
	dispatcher Dispatcher
	paths      PathPicker
}

// NewPhaseRunner returns a PhaseRunner that sends every request to target
// plus a path drawn from paths.
func NewPhaseRunner(target string, dispatcher Dispatcher, paths PathPicker) *PhaseRunner {
	return &PhaseRunner{target: target, dispatcher: dispatcher, paths: paths}
}

// Run dispatches n requests at once and waits for every one of them to
// settle. Outcomes are returned in launch order. A failed request never cuts
// the phase short, and once launched a request is not cancelled by ctx; it
// runs to completion or to the dispatcher's timeout.
func (p *PhaseRunner) Run(ctx context.Context, n int) ([]metrics.Outcome, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatch, n)
	}

	urls := make([]string, n)
	for i := range urls {
		urls[i] = httpclient.JoinURL(p.target, p.paths.Pick())
	}

	reqCtx := context.WithoutCancel(ctx)
	outcomes := make([]metrics.Outcome, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i, url := range urls {
		go func() {
			defer wg.Done()
			outcomes[i] = p.dispatcher.Dispatch(reqCtx, url)
		}()
	}
	wg.Wait()

	return outcomes, nil
}
