package coordinator

import (
	"context"
	"errors"
	"io"
	"log"
	"os"

	"github.com/torosent/rampfire/internal/config"
	"github.com/torosent/rampfire/internal/ipc"
)

// Handle is the coordinator's end of one running worker.
type Handle interface {
	ID() int
	// Messages yields every message the worker sends and is closed when the
	// worker's stream ends, whether or not it sent done.
	Messages() <-chan ipc.Message
	// Disconnect releases the worker. It is safe to call more than once.
	Disconnect() error
}

// Spawner starts workers. Each worker receives its own copy of cfg.
type Spawner interface {
	Spawn(ctx context.Context, id int, cfg config.Config) (Handle, error)
}

// pump decodes r until the stream ends and forwards every message. Lines
// that fail to decode are logged and skipped.
func pump(id int, r io.Reader, logger *log.Logger) <-chan ipc.Message {
	out := make(chan ipc.Message, 16)
	go func() {
		defer close(out)
		dec := ipc.NewDecoder(r)
		for {
			msg, err := dec.Decode()
			switch {
			case err == nil:
				out <- msg
			case errors.Is(err, io.EOF):
				return
			case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, os.ErrClosed):
				return
			case isDecodeError(err):
				logger.Printf("worker %d: skipping message: %v", id, err)
			default:
				logger.Printf("worker %d: stream closed: %v", id, err)
				return
			}
		}
	}()
	return out
}

// isDecodeError reports whether err came from a bad line rather than from the
// underlying stream.
func isDecodeError(err error) bool {
	var decodeErr *ipc.DecodeError
	return errors.As(err, &decodeErr) || errors.Is(err, ipc.ErrUnknownMessage)
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
