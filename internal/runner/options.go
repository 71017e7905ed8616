package runner

import (
	"context"
	"time"

	"github.com/torosent/rampfire/internal/metrics"
)

// Dispatcher abstracts issuing a single request. Failures are reported in the
// returned Outcome, never as a separate error.
type Dispatcher interface {
	Dispatch(ctx context.Context, url string) metrics.Outcome
}

// PathPicker chooses the request path for each dispatch.
type PathPicker interface {
	Pick() string
}

// Options configure a Ramp.
type Options struct {
	Target           string           // base URL every path is appended to
	MinBatch         int              // requests in the first phase
	MaxBatch         int              // requests in the last phase
	Cooldown         time.Duration    // pause between phases (0 disables)
	FailureThreshold float64          // stop once a phase's failure rate exceeds this (0 disables)
	Dispatcher       Dispatcher       // request executor (required)
	Paths            PathPicker       // path source (required)
	Clock            func() time.Time // optional injection for tests
}

func (o *Options) normalize() {
	if o.Cooldown < 0 {
		o.Cooldown = 0
	}
	if o.FailureThreshold < 0 {
		o.FailureThreshold = 0
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

func (o Options) validate() error {
	if o.MinBatch < 1 || o.MaxBatch < o.MinBatch {
		return ErrInvalidBatch
	}
	if o.Dispatcher == nil {
		return errMissingDispatcher
	}
	if o.Paths == nil {
		return errMissingPaths
	}
	return nil
}
