// Package coordinator spawns the workers of a run, relays their phase
// statistics, rolls them up on a fixed period, and produces the run summary.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/rampfire/internal/config"
	"github.com/torosent/rampfire/internal/ipc"
	"github.com/torosent/rampfire/internal/metrics"
)

// Reporter receives progress while a run is in flight. Calls come from the
// coordinator goroutine only.
type Reporter interface {
	Phase(workerID int, stat metrics.PhaseStat)
	Window(window metrics.WindowSummary, totals *metrics.Counter)
}

// Options configure a Coordinator.
type Options struct {
	Config   config.Config
	Spawner  Spawner          // required
	Workers  int              // 0 derives the count from the CPU count
	Reporter Reporter         // optional
	Logger   *log.Logger      // optional
	Clock    func() time.Time // optional injection for tests
}

// Coordinator owns the worker pool of one run.
type Coordinator struct {
	opt Options
}

// New returns a Coordinator.
func New(opt Options) (*Coordinator, error) {
	if opt.Spawner == nil {
		return nil, errors.New("coordinator: spawner is required")
	}
	if opt.Workers <= 0 {
		opt.Workers = opt.Config.WorkerCount(runtime.NumCPU())
	}
	if opt.Logger == nil {
		opt.Logger = log.New(io.Discard, "", 0)
	}
	if opt.Clock == nil {
		opt.Clock = time.Now
	}
	if opt.Config.RollupPeriod <= 0 {
		opt.Config.RollupPeriod = config.DefaultRollupPeriod
	}
	return &Coordinator{opt: opt}, nil
}

// Workers is the number of workers Run will spawn.
func (c *Coordinator) Workers() int {
	return c.opt.Workers
}

type event struct {
	id     int
	msg    ipc.Message
	closed bool
}

// run is the mutable state of one Run call. It is only touched by the
// goroutine executing Run.
type run struct {
	opt     Options
	handles map[int]Handle
	states  map[int]*WorkerState
	active  int

	window     metrics.Window
	counter    *metrics.Counter
	phases     int
	lastRollup time.Time

	disconnects errgroup.Group
}

// Run spawns the workers and blocks until every one of them is disconnected.
// A worker is disconnected after it sends done, when its stream ends, when it
// stays silent past the liveness timeout, or when ctx is cancelled. Only a
// spawn failure is returned as an error; all other trouble is recorded on the
// summary.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	start := c.opt.Clock()
	runID := ulid.Make().String()

	r := &run{
		opt:        c.opt,
		handles:    make(map[int]Handle, c.opt.Workers),
		states:     make(map[int]*WorkerState, c.opt.Workers),
		counter:    metrics.NewCounter(),
		lastRollup: start,
	}

	if err := r.spawnAll(ctx); err != nil {
		r.disconnectAll("spawn aborted")
		_ = r.disconnects.Wait()
		return Summary{}, err
	}
	c.opt.Logger.Printf("run %s: %d workers started", runID, len(r.handles))

	events := make(chan event)
	stop := make(chan struct{})
	var fanIn errgroup.Group
	for id, h := range r.handles {
		fanIn.Go(func() error {
			forward(id, h, events, stop)
			return nil
		})
	}

	rollup := time.NewTicker(c.opt.Config.RollupPeriod)
	defer rollup.Stop()
	livenessTimeout := c.opt.Config.LivenessTimeout()
	liveness := time.NewTicker(checkInterval(livenessTimeout))
	defer liveness.Stop()

	canceled := false
	for r.active > 0 {
		select {
		case ev := <-events:
			r.handle(ev)
		case <-rollup.C:
			r.rollup()
		case <-liveness.C:
			r.checkLiveness(livenessTimeout)
		case <-ctx.Done():
			canceled = true
			r.disconnectAll("run canceled")
		}
	}

	rollup.Stop()
	close(stop)
	_ = fanIn.Wait()
	if err := r.disconnects.Wait(); err != nil {
		c.opt.Logger.Printf("disconnect: %v", err)
	}
	r.rollup()

	summary := buildSummary(runID, c.opt.Config.TargetURL, start, c.opt.Clock(), r.counter, r.phases, r.states)
	summary.Canceled = canceled
	return summary, nil
}

// spawnAll starts every worker concurrently. On failure the workers already
// started are left in r.handles for the caller to disconnect.
func (r *run) spawnAll(ctx context.Context) error {
	handles := make([]Handle, r.opt.Workers)
	var g errgroup.Group
	for i := range handles {
		id := i + 1
		g.Go(func() error {
			h, err := r.opt.Spawner.Spawn(ctx, id, r.opt.Config)
			if err != nil {
				return fmt.Errorf("spawn worker %d: %w", id, err)
			}
			handles[i] = h
			return nil
		})
	}
	err := g.Wait()

	now := r.opt.Clock()
	for i, h := range handles {
		if h == nil {
			continue
		}
		r.handles[i+1] = h
		r.states[i+1] = &WorkerState{ID: i + 1, Status: StatusSpawned, LastSeen: now}
		r.active++
	}
	return err
}

// forward relays one worker's messages until its stream ends or stop closes.
// Whatever is left unread after stop is discarded so the reader can finish.
func forward(id int, h Handle, events chan<- event, stop <-chan struct{}) {
	msgs := h.Messages()
	defer func() {
		go func() {
			for range msgs {
			}
		}()
	}()
	for {
		select {
		case msg, ok := <-msgs:
			ev := event{id: id, msg: msg, closed: !ok}
			select {
			case events <- ev:
			case <-stop:
				return
			}
			if !ok {
				return
			}
		case <-stop:
			return
		}
	}
}

func (r *run) handle(ev event) {
	st := r.states[ev.id]
	if st == nil || st.Status == StatusDisconnected {
		// late traffic from a worker already given up on
		return
	}
	st.LastSeen = r.opt.Clock()

	if ev.closed {
		r.disconnect(ev.id, "worker exited without sending done")
		return
	}

	if got := ev.msg.Worker(); got != ev.id {
		r.opt.Logger.Printf("worker %d sent a message labelled worker %d", ev.id, got)
	}

	switch msg := ev.msg.(type) {
	case ipc.StatsMessage:
		st.Status = StatusRunning
		st.Phases++
		r.phases++
		r.window.Add(msg.Stat)
		if r.opt.Reporter != nil {
			r.opt.Reporter.Phase(ev.id, msg.Stat)
		}
	case ipc.DoneMessage:
		st.Status = StatusSentDone
		st.SentDone = true
		st.Reason = msg.Reason
		st.Err = msg.Err
		if msg.Phases != st.Phases {
			r.opt.Logger.Printf("worker %d reported %d phases, %d received", ev.id, msg.Phases, st.Phases)
		}
		r.disconnect(ev.id, "")
	}
}

// disconnect releases a worker. A non-empty reason marks it done with error.
func (r *run) disconnect(id int, reason string) {
	st := r.states[id]
	if st == nil || st.Status == StatusDisconnected {
		return
	}
	if reason != "" && st.Err == "" {
		st.Err = reason
		r.opt.Logger.Printf("worker %d: %s", id, reason)
	}
	st.Status = StatusDisconnected
	r.active--

	h := r.handles[id]
	r.disconnects.Go(func() error {
		if err := h.Disconnect(); err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		return nil
	})
}

func (r *run) disconnectAll(reason string) {
	for id := range r.handles {
		r.disconnect(id, reason)
	}
}

func (r *run) checkLiveness(timeout time.Duration) {
	now := r.opt.Clock()
	for id, st := range r.states {
		if st.Status == StatusDisconnected {
			continue
		}
		if silent := now.Sub(st.LastSeen); silent > timeout {
			r.disconnect(id, fmt.Sprintf("no message for %s", silent.Round(time.Millisecond)))
		}
	}
}

// rollup drains the window into the run totals and reports it, even when
// nothing arrived since the last one.
func (r *run) rollup() {
	now := r.opt.Clock()
	summary := r.window.Drain(now.Sub(r.lastRollup))
	r.lastRollup = now
	r.counter.Add(summary)
	if r.opt.Reporter != nil {
		r.opt.Reporter.Window(summary, r.counter)
	}
}

// checkInterval is how often silence is checked for a given timeout.
func checkInterval(timeout time.Duration) time.Duration {
	interval := timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > 5*time.Second {
		interval = 5 * time.Second
	}
	return interval
}
