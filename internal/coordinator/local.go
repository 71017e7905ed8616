package coordinator

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/torosent/rampfire/internal/config"
	"github.com/torosent/rampfire/internal/ipc"
	"github.com/torosent/rampfire/internal/worker"
)

// RunFunc runs one worker, writing its messages to out.
type RunFunc func(ctx context.Context, id int, cfg config.Config, out io.Writer, logger *log.Logger) error

// LocalSpawner runs every worker as a goroutine in the current process. The
// worker talks to the coordinator over an in-memory pipe using the same wire
// format as a worker process.
type LocalSpawner struct {
	Run    RunFunc   // defaults to worker.Run
	Stderr io.Writer // worker logs; defaults to os.Stderr
	Logger *log.Logger
}

// Spawn starts one worker goroutine.
func (s LocalSpawner) Spawn(ctx context.Context, id int, cfg config.Config) (Handle, error) {
	run := s.Run
	if run == nil {
		run = worker.Run
	}
	stderr := s.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := s.Logger
	if logger == nil {
		logger = discardLogger()
	}

	pr, pw := io.Pipe()
	wctx, cancel := context.WithCancel(ctx)
	workerLog := log.New(stderr, fmt.Sprintf("[worker %d] ", id), log.LstdFlags)

	go func() {
		err := run(wctx, id, cfg, pw, workerLog)
		// A worker that returns has nothing more to say; ending the stream
		// lets the coordinator tell a crash from a clean finish.
		_ = pw.CloseWithError(err)
	}()

	return &localHandle{
		id:     id,
		msgs:   pump(id, pr, logger),
		reader: pr,
		cancel: cancel,
	}, nil
}

type localHandle struct {
	id     int
	msgs   <-chan ipc.Message
	reader *io.PipeReader
	cancel context.CancelFunc
	once   sync.Once
}

func (h *localHandle) ID() int                      { return h.id }
func (h *localHandle) Messages() <-chan ipc.Message { return h.msgs }

// Disconnect cancels the worker and closes its stream. Later writes by the
// worker fail with io.ErrClosedPipe.
func (h *localHandle) Disconnect() error {
	h.once.Do(func() {
		h.cancel()
		_ = h.reader.Close()
	})
	return nil
}
