package coordinator_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/torosent/rampfire/internal/config"
	"github.com/torosent/rampfire/internal/coordinator"
	"github.com/torosent/rampfire/internal/ipc"
	"github.com/torosent/rampfire/internal/metrics"
)

type phaseRecord struct {
	worker int
	stat   metrics.PhaseStat
}

// recorder is a Reporter that keeps everything it is told.
type recorder struct {
	mu      sync.Mutex
	phases  []phaseRecord
	windows []metrics.WindowSummary
}

func (r *recorder) Phase(workerID int, stat metrics.PhaseStat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, phaseRecord{worker: workerID, stat: stat})
}

func (r *recorder) Window(w metrics.WindowSummary, _ *metrics.Counter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, w)
}

func mockTarget(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func baseConfig(t *testing.T, target string) config.Config {
	t.Helper()
	pathsFile := filepath.Join(t.TempDir(), "paths.json")
	if err := os.WriteFile(pathsFile, []byte(`["/", "/health", "/items"]`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return config.Config{
		TargetURL:      target,
		MaxCPUCount:    1,
		MaxSockets:     16,
		MaxFreeSockets: 16,
		MinBatch:       1,
		MaxBatch:       3,
		Timeout:        5 * time.Second,
		PathsFile:      pathsFile,
		RollupPeriod:   time.Minute,
	}
}

func quietSpawner() coordinator.LocalSpawner {
	return coordinator.LocalSpawner{Stderr: io.Discard}
}

func runWithin(t *testing.T, c *coordinator.Coordinator, ctx context.Context, limit time.Duration) coordinator.Summary {
	t.Helper()
	type result struct {
		summary coordinator.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := c.Run(ctx)
		done <- result{s, err}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Run() error = %v", res.err)
		}
		return res.summary
	case <-time.After(limit):
		t.Fatalf("Run() did not return within %v", limit)
		return coordinator.Summary{}
	}
}

func TestEndToEndSingleWorker(t *testing.T) {
	server := mockTarget(t, 10*time.Millisecond)
	rec := &recorder{}

	c, err := coordinator.New(coordinator.Options{
		Config:   baseConfig(t, server.URL),
		Spawner:  quietSpawner(),
		Workers:  1,
		Reporter: rec,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary := runWithin(t, c, context.Background(), 10*time.Second)

	if len(rec.phases) != 3 {
		t.Fatalf("got %d phase stats, want 3", len(rec.phases))
	}
	for i, p := range rec.phases {
		want := int64(i + 1)
		if p.stat.PhaseIndex != i+1 || p.stat.Total != want || p.stat.Failed != 0 {
			t.Errorf("phase %d = {index:%d total:%d failed:%d}, want {index:%d total:%d failed:0}",
				i+1, p.stat.PhaseIndex, p.stat.Total, p.stat.Failed, i+1, want)
		}
		if p.worker != 1 {
			t.Errorf("phase %d came from worker %d, want 1", i+1, p.worker)
		}
	}

	if summary.TotalRequests != 6 || summary.TotalFailed != 0 {
		t.Errorf("summary totals = %d/%d, want 6/0", summary.TotalRequests, summary.TotalFailed)
	}
	if summary.Phases != 3 {
		t.Errorf("summary phases = %d, want 3", summary.Phases)
	}
	if summary.RunID == "" {
		t.Error("summary has no run id")
	}
	if summary.LongestDelayMs < 10 || summary.Latency.P50 < 10 {
		t.Errorf("latency not aggregated: longest=%d p50=%d", summary.LongestDelayMs, summary.Latency.P50)
	}
	if len(summary.Workers) != 1 {
		t.Fatalf("got %d worker states, want 1", len(summary.Workers))
	}
	w := summary.Workers[0]
	if w.Status != coordinator.StatusDisconnected || !w.SentDone || w.Incomplete() || w.Phases != 3 || w.Reason != "completed" {
		t.Errorf("worker state = %+v", w)
	}
	if len(summary.Incomplete()) != 0 {
		t.Errorf("Incomplete() = %v, want none", summary.Incomplete())
	}
	// The run is far shorter than one rollup period, so only the final flush
	// produced a window.
	if summary.Windows != 1 || len(rec.windows) != 1 || rec.windows[0].Total != 6 {
		t.Errorf("windows = %d (%+v), want one final window of 6", summary.Windows, rec.windows)
	}
}

func TestRollupConservationAcrossWindows(t *testing.T) {
	server := mockTarget(t, 5*time.Millisecond)
	cfg := baseConfig(t, server.URL)
	cfg.MinBatch = 1
	cfg.MaxBatch = 6
	cfg.Cooldown = 10 * time.Millisecond
	cfg.RollupPeriod = 15 * time.Millisecond
	rec := &recorder{}

	c, err := coordinator.New(coordinator.Options{
		Config:   cfg,
		Spawner:  quietSpawner(),
		Workers:  3,
		Reporter: rec,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	summary := runWithin(t, c, context.Background(), 20*time.Second)

	var phaseTotal, phaseFailed, windowTotal, windowFailed int64
	perWorker := map[int][]int{}
	for _, p := range rec.phases {
		phaseTotal += p.stat.Total
		phaseFailed += p.stat.Failed
		perWorker[p.worker] = append(perWorker[p.worker], p.stat.PhaseIndex)
	}
	for _, w := range rec.windows {
		windowTotal += w.Total
		windowFailed += w.Failed
	}

	const want = 3 * (1 + 2 + 3 + 4 + 5 + 6)
	if phaseTotal != want {
		t.Errorf("sum of phase totals = %d, want %d", phaseTotal, want)
	}
	if summary.TotalRequests != phaseTotal || windowTotal != phaseTotal {
		t.Errorf("summary=%d windows=%d phases=%d; totals must agree", summary.TotalRequests, windowTotal, phaseTotal)
	}
	if summary.TotalFailed != phaseFailed || windowFailed != phaseFailed {
		t.Errorf("failed: summary=%d windows=%d phases=%d", summary.TotalFailed, windowFailed, phaseFailed)
	}
	if len(rec.windows) < 2 {
		t.Errorf("got %d windows, expected the run to span several rollups", len(rec.windows))
	}
	if summary.Windows != len(rec.windows) {
		t.Errorf("summary windows = %d, reported %d", summary.Windows, len(rec.windows))
	}

	if len(perWorker) != 3 {
		t.Fatalf("stats from %d workers, want 3", len(perWorker))
	}
	for id, indices := range perWorker {
		if !sort.IntsAreSorted(indices) || len(indices) != 6 || indices[0] != 1 || indices[5] != 6 {
			t.Errorf("worker %d phase indices = %v, want 1..6 in order", id, indices)
		}
	}
}

// crashingRun sends one phase and returns without a done message.
func crashingRun(ctx context.Context, id int, cfg config.Config, out io.Writer, logger *log.Logger) error {
	stat := metrics.ToStat(1, []metrics.Outcome{{OK: true, Delay: 5 * time.Millisecond}}, 5*time.Millisecond)
	if err := ipc.NewEncoder(out).Encode(ipc.StatsMessage{WorkerID: id, Stat: stat}); err != nil {
		return err
	}
	return errors.New("segfault")
}

func TestCrashedWorkerIsMarkedIncomplete(t *testing.T) {
	c, err := coordinator.New(coordinator.Options{
		Config:  baseConfig(t, "http://127.0.0.1:1"),
		Spawner: coordinator.LocalSpawner{Run: crashingRun, Stderr: io.Discard},
		Workers: 2,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	summary := runWithin(t, c, context.Background(), 5*time.Second)

	if summary.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, stats sent before the crash must count", summary.TotalRequests)
	}
	if got := summary.Incomplete(); len(got) != 2 {
		t.Errorf("Incomplete() = %v, want both workers", got)
	}
	for _, w := range summary.Workers {
		if w.SentDone || w.Err == "" || w.Status != coordinator.StatusDisconnected {
			t.Errorf("worker state = %+v, want disconnected with error", w)
		}
	}
}

// hangingRun sends one phase and then goes silent until cancelled.
func hangingRun(ctx context.Context, id int, cfg config.Config, out io.Writer, logger *log.Logger) error {
	stat := metrics.ToStat(1, []metrics.Outcome{{OK: false, Delay: time.Millisecond}}, time.Millisecond)
	_ = ipc.NewEncoder(out).Encode(ipc.StatsMessage{WorkerID: id, Stat: stat})
	<-ctx.Done()
	return ctx.Err()
}

func TestSilentWorkerTimesOut(t *testing.T) {
	cfg := baseConfig(t, "http://127.0.0.1:1")
	cfg.WorkerTimeout = 100 * time.Millisecond

	c, err := coordinator.New(coordinator.Options{
		Config:  cfg,
		Spawner: coordinator.LocalSpawner{Run: hangingRun, Stderr: io.Discard},
		Workers: 1,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	summary := runWithin(t, c, context.Background(), 5*time.Second)
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("gave up after %v, before the liveness timeout", elapsed)
	}
	if summary.TotalRequests != 1 || summary.TotalFailed != 1 {
		t.Errorf("totals = %d/%d, want 1/1", summary.TotalRequests, summary.TotalFailed)
	}
	if got := summary.Incomplete(); len(got) != 1 || got[0] != 1 {
		t.Errorf("Incomplete() = %v, want [1]", got)
	}
	if summary.Canceled {
		t.Error("liveness timeout must not mark the run canceled")
	}
}

func TestCancelDisconnectsRemainingWorkers(t *testing.T) {
	c, err := coordinator.New(coordinator.Options{
		Config:  baseConfig(t, "http://127.0.0.1:1"),
		Spawner: coordinator.LocalSpawner{Run: hangingRun, Stderr: io.Discard},
		Workers: 3,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	summary := runWithin(t, c, ctx, 5*time.Second)

	if !summary.Canceled {
		t.Error("summary not marked canceled")
	}
	if got := summary.Incomplete(); len(got) != 3 {
		t.Errorf("Incomplete() = %v, want all three workers", got)
	}
	if summary.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, stats received before cancel must count", summary.TotalRequests)
	}
}

type failingSpawner struct {
	failID int
	inner  coordinator.Spawner
}

func (f failingSpawner) Spawn(ctx context.Context, id int, cfg config.Config) (coordinator.Handle, error) {
	if id == f.failID {
		return nil, errors.New("fork: resource temporarily unavailable")
	}
	return f.inner.Spawn(ctx, id, cfg)
}

func TestSpawnFailureIsFatal(t *testing.T) {
	c, err := coordinator.New(coordinator.Options{
		Config:  baseConfig(t, "http://127.0.0.1:1"),
		Spawner: failingSpawner{failID: 2, inner: coordinator.LocalSpawner{Run: hangingRun, Stderr: io.Discard}},
		Workers: 3,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail when a worker cannot be spawned")
	}
}

func TestNewDerivesWorkerCount(t *testing.T) {
	cfg := baseConfig(t, "http://127.0.0.1:1")
	cfg.MaxCPUCount = 1
	c, err := coordinator.New(coordinator.Options{Config: cfg, Spawner: quietSpawner()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Workers() != 1 {
		t.Errorf("Workers() = %d, want 1", c.Workers())
	}

	if _, err := coordinator.New(coordinator.Options{Config: cfg}); err == nil {
		t.Error("New() without spawner should fail")
	}
}

func TestSummaryRates(t *testing.T) {
	s := coordinator.Summary{TotalRequests: 300, TotalFailed: 30, Elapsed: 2 * time.Minute}
	if got := s.AvgPerMinute(); got != 150 {
		t.Errorf("AvgPerMinute() = %v, want 150", got)
	}
	if got := s.FailureRate(); got != 0.1 {
		t.Errorf("FailureRate() = %v, want 0.1", got)
	}
	if got := (coordinator.Summary{}).AvgPerMinute(); got != 0 {
		t.Errorf("empty AvgPerMinute() = %v, want 0", got)
	}
}
