package coordinator

import (
	"sort"
	"time"

	"github.com/torosent/rampfire/internal/metrics"
)

// WorkerStatus is a worker's position in its lifecycle.
type WorkerStatus string

const (
	StatusSpawned      WorkerStatus = "spawned"
	StatusRunning      WorkerStatus = "running"
	StatusSentDone     WorkerStatus = "sent-done"
	StatusDisconnected WorkerStatus = "disconnected"
)

// WorkerState is the coordinator's bookkeeping for one worker.
type WorkerState struct {
	ID       int          `json:"id"`
	Status   WorkerStatus `json:"status"`
	Phases   int          `json:"phases"`
	Reason   string       `json:"reason,omitempty"`
	Err      string       `json:"error,omitempty"`
	SentDone bool         `json:"sent_done"`
	LastSeen time.Time    `json:"-"`
}

// Incomplete reports whether the worker was disconnected without a clean
// done message.
func (w WorkerState) Incomplete() bool {
	return !w.SentDone || w.Err != ""
}

// Summary is the result of a whole run.
type Summary struct {
	RunID          string              `json:"run_id"`
	Target         string              `json:"target"`
	Start          time.Time           `json:"start"`
	End            time.Time           `json:"end"`
	Elapsed        time.Duration       `json:"-"`
	TotalRequests  int64               `json:"total_requests"`
	TotalFailed    int64               `json:"total_failed"`
	AvgDelayMs     float64             `json:"avg_delay_ms"`
	LongestDelayMs int64               `json:"longest_delay_ms"`
	Latency        metrics.Percentiles `json:"latency"`
	Failures       map[string]int      `json:"failures,omitempty"`
	Phases         int                 `json:"phases"`
	Windows        int                 `json:"windows"`
	Workers        []WorkerState       `json:"workers"`
	Canceled       bool                `json:"canceled,omitempty"`
}

// ElapsedMinutes is the wall time of the run in minutes.
func (s Summary) ElapsedMinutes() float64 {
	return s.Elapsed.Minutes()
}

// AvgPerMinute is the average request rate over the whole run.
func (s Summary) AvgPerMinute() float64 {
	minutes := s.ElapsedMinutes()
	if minutes <= 0 {
		return 0
	}
	return float64(s.TotalRequests) / minutes
}

// FailureRate is failed/total, or 0 when nothing was sent.
func (s Summary) FailureRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalFailed) / float64(s.TotalRequests)
}

// Incomplete lists the ids of workers that did not finish cleanly.
func (s Summary) Incomplete() []int {
	var ids []int
	for _, w := range s.Workers {
		if w.Incomplete() {
			ids = append(ids, w.ID)
		}
	}
	return ids
}

func buildSummary(runID, target string, start, end time.Time, counter *metrics.Counter, phases int, states map[int]*WorkerState) Summary {
	s := Summary{
		RunID:          runID,
		Target:         target,
		Start:          start,
		End:            end,
		Elapsed:        end.Sub(start),
		TotalRequests:  counter.TotalRequests,
		TotalFailed:    counter.TotalFailed,
		AvgDelayMs:     counter.AvgDelayMs(),
		LongestDelayMs: counter.LongestDelayMs,
		Latency:        counter.Latency(),
		Failures:       counter.Failures,
		Phases:         phases,
		Windows:        counter.Windows,
	}
	for _, st := range states {
		s.Workers = append(s.Workers, *st)
	}
	sort.Slice(s.Workers, func(i, j int) bool { return s.Workers[i].ID < s.Workers[j].ID })
	return s
}
