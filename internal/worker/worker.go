// Package worker runs one ramp and streams its statistics to the coordinator.
package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/rampfire/internal/config"
	"github.com/torosent/rampfire/internal/httpclient"
	"github.com/torosent/rampfire/internal/ipc"
	"github.com/torosent/rampfire/internal/metrics"
	"github.com/torosent/rampfire/internal/paths"
	"github.com/torosent/rampfire/internal/runner"
	"github.com/torosent/rampfire/internal/tracing"
)

// Run executes the ramp described by cfg and writes one StatsMessage per
// phase to out, followed by exactly one DoneMessage. Failures to write to out
// are logged and otherwise ignored. A non-nil error means the ramp could not
// start; a DoneMessage carrying the error is still attempted.
func Run(ctx context.Context, id int, cfg config.Config, out io.Writer, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	enc := ipc.NewEncoder(out)
	logger.Printf("Starting worker %d", id)

	ramp, shutdown, err := build(ctx, id, cfg, logger)
	if err != nil {
		logger.Printf("worker %d failed to start: %v", id, err)
		if sendErr := enc.Encode(ipc.DoneMessage{WorkerID: id, Err: err.Error()}); sendErr != nil {
			logger.Printf("send done: %v", sendErr)
		}
		return err
	}
	defer shutdown()

	sendFailures := rate.Sometimes{First: 1, Interval: 10 * time.Second}
	emit := func(stat metrics.PhaseStat) error {
		err := enc.Encode(ipc.StatsMessage{WorkerID: id, Stat: stat})
		if err != nil {
			sendFailures.Do(func() {
				logger.Printf("send phase %d stats: %v", stat.PhaseIndex, err)
			})
		}
		return err
	}

	res, err := ramp.Run(ctx, emit)
	done := ipc.DoneMessage{WorkerID: id, Phases: res.Phases, Reason: string(res.Reason)}
	if err != nil {
		done.Err = err.Error()
	}
	if res.EmitFailures > 0 {
		logger.Printf("worker %d lost %d of %d phase stats", id, res.EmitFailures, res.Phases)
	}
	if sendErr := enc.Encode(done); sendErr != nil {
		logger.Printf("send done: %v", sendErr)
	}

	logger.Printf("Finishing worker %d (%s after %d phases in %s)", id, res.Reason, res.Phases, res.Duration.Round(time.Millisecond))
	return nil
}

// build wires the path pool, pooled client, optional tracing and ramp for one
// worker.
func build(ctx context.Context, id int, cfg config.Config, logger *log.Logger) (*runner.Ramp, func(), error) {
	list, err := paths.Load(cfg.PathsFile)
	if err != nil {
		return nil, nil, err
	}
	seed := cfg.Seed
	if seed != 0 {
		// distinct but reproducible sequences per worker
		seed += int64(id)
	}
	pool, err := paths.NewPool(list, seed)
	if err != nil {
		return nil, nil, err
	}

	provider, err := tracing.Init(ctx, cfg.Tracing, tracing.AttrWorkerID.Int(id))
	if err != nil {
		logger.Printf("tracing disabled: %v", err)
		provider = nil
	}

	opts := []httpclient.Option{}
	if provider.Enabled() {
		opts = append(opts, httpclient.WithTracer(provider.Tracer(), provider.ShouldPropagate(), tracing.AttrWorkerID.Int(id)))
	}
	dispatcher := httpclient.NewDispatcher(httpclient.NewClient(cfg), cfg.Timeout, opts...)

	ramp, err := runner.New(runner.Options{
		Target:           cfg.TargetURL,
		MinBatch:         cfg.MinBatch,
		MaxBatch:         cfg.MaxBatch,
		Cooldown:         cfg.Cooldown,
		FailureThreshold: cfg.FailureThreshold,
		Dispatcher:       dispatcher,
		Paths:            pool,
	})
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, fmt.Errorf("ramp: %w", err)
	}

	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(sctx); err != nil {
			logger.Printf("tracing shutdown: %v", err)
		}
	}
	return ramp, shutdown, nil
}
