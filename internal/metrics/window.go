package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// WindowSummary is the rollup of every phase statistic received during one
// reporting window.
type WindowSummary struct {
	Phases         int            `json:"phases"`
	Total          int64          `json:"total"`
	Failed         int64          `json:"failed"`
	TotalDelayMs   int64          `json:"total_delay_ms"`
	LongestDelayMs int64          `json:"longest_delay_ms"`
	AvgDelayMs     float64        `json:"avg_delay_ms"`
	ReqPerSec      float64        `json:"req_per_sec"`
	Latency        Percentiles    `json:"latency"`
	Failures       map[string]int `json:"failures,omitempty"`
	Period         time.Duration  `json:"-"`

	hist *hdrhistogram.Histogram
}

// Window buffers phase statistics between rollups. It is owned by a single
// goroutine and is not safe for concurrent use.
type Window struct {
	buffer []PhaseStat
}

// Add appends a statistic to the buffer.
func (w *Window) Add(stat PhaseStat) {
	w.buffer = append(w.buffer, stat)
}

// Len reports how many statistics are buffered.
func (w *Window) Len() int {
	return len(w.buffer)
}

// Drain summarizes and clears the buffer. period is the nominal window length
// used for the throughput figure. An empty window drains to zero values.
func (w *Window) Drain(period time.Duration) WindowSummary {
	summary := WindowSummary{
		Phases: len(w.buffer),
		Period: period,
		hist:   NewLatencyHistogram(),
	}
	for _, stat := range w.buffer {
		summary.Total += stat.Total
		summary.Failed += stat.Failed
		summary.TotalDelayMs += stat.TotalDelayMs
		if stat.LongestDelayMs > summary.LongestDelayMs {
			summary.LongestDelayMs = stat.LongestDelayMs
		}
		summary.Failures = MergeFailures(summary.Failures, stat.Failures)
		MergeSnapshot(summary.hist, stat.Latency)
	}
	w.buffer = w.buffer[:0]

	if summary.Total > 0 {
		summary.AvgDelayMs = float64(summary.TotalDelayMs) / float64(summary.Total)
	}
	if period > 0 {
		summary.ReqPerSec = float64(summary.Total) / period.Seconds()
	}
	summary.Latency = PercentilesOf(summary.hist)
	return summary
}

// Counter accumulates window summaries into run totals. Only the goroutine
// that drains the window updates it.
type Counter struct {
	TotalRequests  int64
	TotalFailed    int64
	TotalDelayMs   int64
	LongestDelayMs int64
	Windows        int
	Failures       map[string]int

	hist *hdrhistogram.Histogram
}

// NewCounter returns an empty counter.
func NewCounter() *Counter {
	return &Counter{hist: NewLatencyHistogram()}
}

// Add folds a drained window into the totals.
func (c *Counter) Add(summary WindowSummary) {
	c.TotalRequests += summary.Total
	c.TotalFailed += summary.Failed
	c.TotalDelayMs += summary.TotalDelayMs
	if summary.LongestDelayMs > c.LongestDelayMs {
		c.LongestDelayMs = summary.LongestDelayMs
	}
	c.Windows++
	c.Failures = MergeFailures(c.Failures, summary.Failures)
	if summary.hist != nil {
		if c.hist == nil {
			c.hist = NewLatencyHistogram()
		}
		c.hist.Merge(summary.hist)
	}
}

// AvgDelayMs returns the mean delay over every request counted so far.
func (c *Counter) AvgDelayMs() float64 {
	if c.TotalRequests == 0 {
		return 0
	}
	return float64(c.TotalDelayMs) / float64(c.TotalRequests)
}

// Latency returns run-wide latency percentiles.
func (c *Counter) Latency() Percentiles {
	return PercentilesOf(c.hist)
}
