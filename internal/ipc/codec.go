package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrUnknownMessage is returned for a well-formed line with an unrecognized
// type. The stream stays usable.
var ErrUnknownMessage = errors.New("ipc: unknown message type")

var errMissingStat = errors.New("stats message has no statistic")

// DecodeError reports a line that is not a valid message. The stream stays
// usable.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ipc: malformed message %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encoder writes messages as one JSON object per line. It is safe for
// concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes m followed by a newline in a single Write call.
func (e *Encoder) Encode(m Message) error {
	env := envelope{WorkerID: m.Worker()}
	switch msg := m.(type) {
	case StatsMessage:
		stat := msg.Stat
		env.Type = typeStats
		env.PhaseStat = &stat
	case DoneMessage:
		env.Type = typeDone
		env.Phases = msg.Phases
		env.Reason = msg.Reason
		env.Error = msg.Err
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, m)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ipc: encode %s: %w", env.Type, err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("ipc: write %s: %w", env.Type, err)
	}
	return nil
}

// Decoder reads messages written by an Encoder.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode returns the next message. It returns io.EOF at a clean end of
// stream and io.ErrUnexpectedEOF when the stream ends mid-line. A malformed
// or unknown line yields an error but the next call reads the following line.
func (d *Decoder) Decode() (Message, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// final line lost its newline: the writer died mid-message
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		return parse(line)
	}
}

func parse(line []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &DecodeError{Line: truncate(line), Err: err}
	}
	switch env.Type {
	case typeStats:
		if env.PhaseStat == nil {
			return nil, &DecodeError{Line: truncate(line), Err: errMissingStat}
		}
		return StatsMessage{WorkerID: env.WorkerID, Stat: *env.PhaseStat}, nil
	case typeDone:
		return DoneMessage{
			WorkerID: env.WorkerID,
			Phases:   env.Phases,
			Reason:   env.Reason,
			Err:      env.Error,
		}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMessage, env.Type)
	}
}

func truncate(line []byte) string {
	const max = 120
	if len(line) > max {
		return string(line[:max]) + "..."
	}
	return string(line)
}
