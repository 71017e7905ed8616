package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/torosent/rampfire/internal/metrics"
)

// Console prints per-phase progress and per-window rollups as a run goes.
// It implements coordinator.Reporter and, like every reporter, is only
// called from the coordinator goroutine.
type Console struct {
	writer   io.Writer
	maxBatch int
	rollup   lipgloss.Style
	warn     lipgloss.Style
}

// NewConsole creates a console reporter. maxBatch is the size of the last
// phase of every worker and is shown as the denominator of each phase line.
func NewConsole(w io.Writer, maxBatch int) *Console {
	if w == nil {
		w = io.Discard
	}
	r := lipgloss.NewRenderer(w)
	return &Console{
		writer:   w,
		maxBatch: maxBatch,
		rollup:   r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:     r.NewStyle().Foreground(lipgloss.Color("3")),
	}
}

// Phase prints one worker's phase result.
func (c *Console) Phase(workerID int, stat metrics.PhaseStat) {
	line := fmt.Sprintf("W%d (%d/%d) Total requests: %d, failed: %d, speed: %.2f req/sec",
		workerID, stat.PhaseIndex, c.maxBatch, stat.Total, stat.Failed, stat.ReqPerSec)
	if stat.Failed > 0 {
		line = c.warn.Render(line + " [" + failureList(stat.Failures) + "]")
	}
	fmt.Fprintln(c.writer, line)
}

// Window prints a rollup line along with the run totals so far.
func (c *Console) Window(w metrics.WindowSummary, totals *metrics.Counter) {
	line := fmt.Sprintf("Last %s: %d requests, %d failed, avg delay: %.0f ms, longest delay: %d ms, avg speed: %.2f req/sec | run total: %d requests, %d failed",
		w.Period.Round(time.Millisecond), w.Total, w.Failed, w.AvgDelayMs, w.LongestDelayMs, w.ReqPerSec,
		totals.TotalRequests, totals.TotalFailed)
	fmt.Fprintln(c.writer, c.rollup.Render(line))
}

func failureList(failures map[string]int) string {
	rows := metrics.FlattenFailures(failures)
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		parts = append(parts, fmt.Sprintf("%s: %d", row.Reason, row.Count))
	}
	return strings.Join(parts, ", ")
}
