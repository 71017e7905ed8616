package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// ErrTimeout marks an outcome whose request hit the per-request timeout.
var ErrTimeout = errors.New("request timed out")

// Outcome is the result of a single dispatched request. Failed outcomes still
// carry the time spent on them.
type Outcome struct {
	OK     bool
	Delay  time.Duration
	Status int
	Err    error
}

// Reason returns a short label for a failed outcome, or "" when it succeeded.
func (o Outcome) Reason() string {
	if o.OK {
		return ""
	}
	switch {
	case errors.Is(o.Err, ErrTimeout), errors.Is(o.Err, context.DeadlineExceeded):
		return "Timeout"
	case o.Status != 0:
		return fmt.Sprintf("HTTP %d", o.Status)
	case o.Err != nil:
		return classifyError(o.Err)
	default:
		return "Unknown error"
	}
}

// PhaseStat summarizes one completed phase of a ramp. It is the payload
// workers send to the coordinator.
type PhaseStat struct {
	PhaseIndex     int                    `json:"phaseIndex"`
	Total          int64                  `json:"total"`
	Successful     int64                  `json:"successful"`
	Failed         int64                  `json:"failed"`
	ReqPerSec      float64                `json:"reqPerSec"`
	LongestDelayMs int64                  `json:"longestDelayMs"`
	TotalDelayMs   int64                  `json:"totalDelayMs"`
	ElapsedMs      int64                  `json:"elapsedMs"`
	Failures       map[string]int         `json:"failures,omitempty"`
	Latency        *hdrhistogram.Snapshot `json:"latency,omitempty"`
}

// FailureRate returns failed/total, or 0 for an empty phase.
func (s PhaseStat) FailureRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Total)
}

// ToStat reduces the outcomes of a phase into a PhaseStat. Elapsed time is
// floored at one millisecond so the throughput is always finite.
func ToStat(index int, outcomes []Outcome, elapsed time.Duration) PhaseStat {
	if elapsed < time.Millisecond {
		elapsed = time.Millisecond
	}

	stat := PhaseStat{
		PhaseIndex: index,
		Total:      int64(len(outcomes)),
		ElapsedMs:  elapsed.Milliseconds(),
	}

	hist := NewLatencyHistogram()
	for _, o := range outcomes {
		ms := o.Delay.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		if o.OK {
			stat.Successful++
		} else {
			if stat.Failures == nil {
				stat.Failures = make(map[string]int)
			}
			stat.Failures[o.Reason()]++
		}
		stat.TotalDelayMs += ms
		if ms > stat.LongestDelayMs {
			stat.LongestDelayMs = ms
		}
		RecordLatency(hist, ms)
	}

	stat.Failed = stat.Total - stat.Successful
	stat.ReqPerSec = float64(stat.Total) / elapsed.Seconds()
	stat.Latency = hist.Export()
	return stat
}
