// Package metrics holds the statistics rampfire computes while ramping load.
//
// A worker turns the outcomes of each phase into a [PhaseStat] with [ToStat].
// The coordinator buffers incoming statistics in a [Window], drains it on
// every rollup tick into a [WindowSummary], and folds each summary into a
// [Counter] holding the run totals.
//
// Latency distributions travel with each PhaseStat as an HDR histogram
// snapshot so the coordinator can report merged percentiles per window and
// for the whole run.
package metrics
