// Package runner holds the per-worker load ramp.
//
// A [PhaseRunner] fires n requests concurrently and waits for all of them. A
// [Ramp] calls it for every batch size from MinBatch to MaxBatch in order,
// reduces each phase to a [metrics.PhaseStat], and hands the stat to an emit
// callback before the next phase starts:
//
//	ramp, err := runner.New(runner.Options{
//		Target:     cfg.TargetURL,
//		MinBatch:   cfg.MinBatch,
//		MaxBatch:   cfg.MaxBatch,
//		Dispatcher: dispatcher,
//		Paths:      pool,
//	})
//	if err != nil {
//		return err
//	}
//	res, err := ramp.Run(ctx, func(stat metrics.PhaseStat) error {
//		return enc.Encode(ipc.StatsMessage{WorkerID: id, Stat: stat})
//	})
//
// Two policies are available and both are off unless configured: Cooldown
// pauses between phases, and FailureThreshold ends the ramp after a phase
// whose failure rate exceeds it.
package runner
