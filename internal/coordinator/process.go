package coordinator

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/torosent/rampfire/internal/config"
	"github.com/torosent/rampfire/internal/ipc"
)

// exitGrace is how long an interrupted worker process gets to exit before it
// is killed.
const exitGrace = 5 * time.Second

// ProcessSpawner runs every worker as a child process. By default it
// re-executes the current binary as "worker --id N". The child reads its
// config from config.EnvConfig, writes messages to stdout, and logs to
// stderr.
type ProcessSpawner struct {
	Path   string                // executable; defaults to os.Executable()
	Args   func(id int) []string // arguments; defaults to worker --id N
	Env    []string              // extra environment entries
	Stderr io.Writer             // worker logs; defaults to os.Stderr
	Logger *log.Logger
}

// Spawn starts one worker process. Cancelling ctx interrupts the worker and
// kills it if it has not exited within exitGrace.
func (s ProcessSpawner) Spawn(ctx context.Context, id int, cfg config.Config) (Handle, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}
	args := []string{"worker", "--id", strconv.Itoa(id)}
	if s.Args != nil {
		args = s.Args(id)
	}
	encoded, err := cfg.Encode()
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(append(os.Environ(), s.Env...), config.EnvConfig+"="+encoded)
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = exitGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d stdout: %w", id, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %d: %w", id, err)
	}

	logger := s.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &processHandle{id: id, cmd: cmd, msgs: pump(id, stdout, logger)}, nil
}

type processHandle struct {
	id   int
	cmd  *exec.Cmd
	msgs <-chan ipc.Message

	once    sync.Once
	waitErr error
}

func (h *processHandle) ID() int                      { return h.id }
func (h *processHandle) Messages() <-chan ipc.Message { return h.msgs }

// Disconnect gives the process a moment to exit on its own, then interrupts
// it, kills it if it is still running after exitGrace, and reaps it. Reaping
// closes stdout, so anything the worker writes after this point is lost.
func (h *processHandle) Disconnect() error {
	h.once.Do(func() {
		done := make(chan error, 1)
		go func() { done <- h.cmd.Wait() }()
		select {
		case h.waitErr = <-done:
			return
		case <-time.After(time.Second):
		}
		_ = h.cmd.Process.Signal(os.Interrupt)
		select {
		case h.waitErr = <-done:
		case <-time.After(exitGrace):
			_ = h.cmd.Process.Kill()
			h.waitErr = <-done
		}
	})
	return h.waitErr
}
