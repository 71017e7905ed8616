// Package ipc defines the messages a worker sends to the coordinator and
// their newline-delimited JSON wire form.
package ipc

import (
	"github.com/torosent/rampfire/internal/metrics"
)

// Message is one worker-to-coordinator event. The only implementations are
// StatsMessage and DoneMessage.
type Message interface {
	Worker() int
	isMessage()
}

// StatsMessage carries the statistic of one completed phase.
type StatsMessage struct {
	WorkerID int
	Stat     metrics.PhaseStat
}

// DoneMessage is the last message a worker sends. Reason is the ramp's stop
// reason; Err is set when the worker could not run its ramp.
type DoneMessage struct {
	WorkerID int
	Phases   int
	Reason   string
	Err      string
}

func (m StatsMessage) Worker() int { return m.WorkerID }
func (m DoneMessage) Worker() int  { return m.WorkerID }

func (StatsMessage) isMessage() {}
func (DoneMessage) isMessage()  {}

const (
	typeStats = "stats"
	typeDone  = "done"
)

// envelope is the wire form. Stat fields sit at the top level next to type
// and workerId.
type envelope struct {
	Type     string `json:"type"`
	WorkerID int    `json:"workerId"`
	*metrics.PhaseStat
	Phases int    `json:"phases,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}
