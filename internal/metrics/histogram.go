package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latencies are tracked in milliseconds from 1ms up to one hour. Two
// significant figures keep the snapshot small enough to ship with every
// phase statistic.
const (
	lowestLatencyMs  = 1
	highestLatencyMs = int64(time.Hour / time.Millisecond)
	latencySigFigs   = 2
)

// NewLatencyHistogram returns an empty histogram with the shared bounds.
func NewLatencyHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(lowestLatencyMs, highestLatencyMs, latencySigFigs)
}

// RecordLatency clamps ms into the trackable range and records it.
func RecordLatency(h *hdrhistogram.Histogram, ms int64) {
	if ms < h.LowestTrackableValue() {
		ms = h.LowestTrackableValue()
	}
	if ms > h.HighestTrackableValue() {
		ms = h.HighestTrackableValue()
	}
	_ = h.RecordValue(ms)
}

// MergeSnapshot folds an exported snapshot into h. Nil snapshots are ignored.
func MergeSnapshot(h *hdrhistogram.Histogram, s *hdrhistogram.Snapshot) {
	if h == nil || s == nil {
		return
	}
	h.Merge(hdrhistogram.Import(s))
}

// Percentiles holds latency quantiles in milliseconds.
type Percentiles struct {
	P50 int64 `json:"p50_ms"`
	P90 int64 `json:"p90_ms"`
	P99 int64 `json:"p99_ms"`
}

// PercentilesOf reads the standard quantiles from h. An empty histogram
// yields zeros.
func PercentilesOf(h *hdrhistogram.Histogram) Percentiles {
	if h == nil || h.TotalCount() == 0 {
		return Percentiles{}
	}
	return Percentiles{
		P50: h.ValueAtQuantile(50),
		P90: h.ValueAtQuantile(90),
		P99: h.ValueAtQuantile(99),
	}
}
