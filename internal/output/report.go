package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/torosent/rampfire/internal/coordinator"
	"github.com/torosent/rampfire/internal/metrics"
	"github.com/torosent/rampfire/internal/threshold"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// PrintSummary outputs the human-readable summary of a finished run.
func PrintSummary(w io.Writer, s coordinator.Summary, results []threshold.Result) {
	fmt.Fprintln(w, "\n--- Load Test Summary ---")
	if s.RunID != "" {
		fmt.Fprintf(w, "Run ID:            %s\n", s.RunID)
	}
	if s.Target != "" {
		fmt.Fprintf(w, "Target:            %s\n", s.Target)
	}
	fmt.Fprintf(w, "Started:           %s\n", s.Start.UTC().Format(timestampLayout))
	fmt.Fprintf(w, "Finished:          %s\n", s.End.UTC().Format(timestampLayout))
	fmt.Fprintf(w, "Elapsed:           %.2f minutes\n", s.ElapsedMinutes())
	fmt.Fprintf(w, "Total Requests:    %d\n", s.TotalRequests)
	fmt.Fprintf(w, "Failed:            %d (%.2f%%)\n", s.TotalFailed, s.FailureRate()*100)
	fmt.Fprintf(w, "Requests/min:      %.2f\n", s.AvgPerMinute())
	fmt.Fprintf(w, "Phases:            %d\n", s.Phases)
	fmt.Fprintln(w, "\nDelay:")
	fmt.Fprintf(w, "  Avg:             %s\n", millis(s.AvgDelayMs))
	fmt.Fprintf(w, "  Longest:         %s\n", millis(float64(s.LongestDelayMs)))
	fmt.Fprintf(w, "  P50:             %s\n", millis(float64(s.Latency.P50)))
	fmt.Fprintf(w, "  P90:             %s\n", millis(float64(s.Latency.P90)))
	fmt.Fprintf(w, "  P99:             %s\n", millis(float64(s.Latency.P99)))

	if len(s.Failures) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, row := range metrics.FlattenFailures(s.Failures) {
			fmt.Fprintf(w, "  %s: %d\n", row.Reason, row.Count)
		}
	}

	fmt.Fprintln(w)
	if s.Canceled {
		fmt.Fprintln(w, "Run canceled before completion")
	}
	incomplete := s.Incomplete()
	if len(incomplete) == 0 {
		fmt.Fprintln(w, "All workers completed")
	} else {
		ids := make([]string, len(incomplete))
		for i, id := range incomplete {
			ids[i] = fmt.Sprintf("%d", id)
		}
		fmt.Fprintf(w, "Incomplete workers: %s\n", strings.Join(ids, ", "))
		for _, ws := range s.Workers {
			if ws.Incomplete() && ws.Err != "" {
				fmt.Fprintf(w, "  worker %d: %s\n", ws.ID, ws.Err)
			}
		}
	}

	if len(results) > 0 {
		PrintThresholds(w, results)
	}
}

// PrintThresholds outputs one line per threshold result.
func PrintThresholds(w io.Writer, results []threshold.Result) {
	passed := 0
	for _, r := range results {
		if r.Pass {
			passed++
		}
	}
	fmt.Fprintf(w, "\nThresholds (%d/%d passed):\n", passed, len(results))
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
}

// JSONSummary is the machine-readable form of a run summary.
type JSONSummary struct {
	coordinator.Summary
	ElapsedMinutes float64            `json:"elapsed_minutes"`
	AvgPerMinute   float64            `json:"avg_requests_per_minute"`
	FailureRate    float64            `json:"failure_rate"`
	Incomplete     []int              `json:"incomplete_workers,omitempty"`
	Thresholds     []threshold.Result `json:"thresholds,omitempty"`
}

// PrintJSONSummary outputs a JSON-formatted summary.
func PrintJSONSummary(w io.Writer, s coordinator.Summary, results []threshold.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(JSONSummary{
		Summary:        s,
		ElapsedMinutes: s.ElapsedMinutes(),
		AvgPerMinute:   s.AvgPerMinute(),
		FailureRate:    s.FailureRate(),
		Incomplete:     s.Incomplete(),
		Thresholds:     results,
	})
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond)
}
