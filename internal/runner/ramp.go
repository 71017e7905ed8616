package runner

import (
	"context"
	"time"

	"github.com/torosent/rampfire/internal/metrics"
)

// StopReason explains why a ramp ended.
type StopReason string

const (
	StopCompleted        StopReason = "completed"
	StopFailureThreshold StopReason = "failure_threshold"
	StopCanceled         StopReason = "canceled"
)

// RampResult captures a finished ramp.
type RampResult struct {
	Phases       int           // phases fully run and emitted
	LastPhase    int           // index of the last phase run, 0 if none
	Reason       StopReason    // why the ramp ended
	EmitFailures int           // stats the emit callback rejected
	Duration     time.Duration // wall time of the whole ramp
}

// Ramp drives a PhaseRunner through the batch sizes MinBatch..MaxBatch, one
// phase at a time.
type Ramp struct {
	opt    Options
	phases *PhaseRunner
}

// New returns a Ramp, or ErrInvalidBatch when the batch range is empty.
func New(opt Options) (*Ramp, error) {
	opt.normalize()
	if err := opt.validate(); err != nil {
		return nil, err
	}
	return &Ramp{
		opt:    opt,
		phases: NewPhaseRunner(opt.Target, opt.Dispatcher, opt.Paths),
	}, nil
}

// Run executes the ramp. Phase i+1 starts only after phase i has settled and
// its statistic has been handed to emit. An emit error is counted and the
// ramp carries on. ctx is only checked between phases; a phase in flight
// always completes.
func (r *Ramp) Run(ctx context.Context, emit func(metrics.PhaseStat) error) (RampResult, error) {
	res := RampResult{Reason: StopCompleted}
	start := r.opt.Clock()

	for i := r.opt.MinBatch; i <= r.opt.MaxBatch; i++ {
		if ctx.Err() != nil {
			res.Reason = StopCanceled
			res.Duration = r.opt.Clock().Sub(start)
			return res, nil
		}

		phaseStart := r.opt.Clock()
		outcomes, err := r.phases.Run(ctx, i)
		if err != nil {
			return res, err
		}
		stat := metrics.ToStat(i, outcomes, r.opt.Clock().Sub(phaseStart))

		res.Phases++
		res.LastPhase = i
		if emit != nil {
			if err := emit(stat); err != nil {
				res.EmitFailures++
			}
		}

		if r.opt.FailureThreshold > 0 && stat.FailureRate() > r.opt.FailureThreshold {
			res.Reason = StopFailureThreshold
			res.Duration = r.opt.Clock().Sub(start)
			return res, nil
		}

		if i < r.opt.MaxBatch && r.opt.Cooldown > 0 {
			if !sleep(ctx, r.opt.Cooldown) {
				res.Reason = StopCanceled
				res.Duration = r.opt.Clock().Sub(start)
				return res, nil
			}
		}
	}

	res.Duration = r.opt.Clock().Sub(start)
	return res, nil
}

// sleep waits for d or until ctx is done, reporting whether the full pause
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
