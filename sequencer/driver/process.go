package driver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/matgreaves/run"
)

// Process runs services as local host processes. The first element of
// the service command is the executable path. Image references are
// ignored. Intended for stacks of locally built binaries and for
// exercising the sequencer without a container runtime.
type Process struct{}

type processHandle struct {
	name   string
	cancel context.CancelFunc
	done   chan error // closed after the process exits; carries the run error
	exit   error      // valid after done is closed
}

func (h *processHandle) ID() string { return h.name }

// Start launches the command and returns without waiting for it.
func (Process) Start(ctx context.Context, ss StartSpec) (Handle, error) {
	if len(ss.Command) == 0 {
		return nil, fmt.Errorf("process: service %q has no command", ss.Name)
	}

	if _, err := exec.LookPath(ss.Command[0]); err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}

	// The process outlives Start's ctx: it is tied to the handle's own
	// context, released by Stop.
	procCtx, cancel := context.WithCancel(context.Background())

	h := &processHandle{
		name:   ss.Name,
		cancel: cancel,
		done:   make(chan error, 1),
	}

	proc := run.Process{
		Name:   ss.Name,
		Path:   ss.Command[0],
		Args:   ss.Command[1:],
		Env:    ss.Env,
		Stdout: ss.Stdout,
		Stderr: ss.Stderr,
	}

	go func() {
		err := proc.Run(procCtx)
		h.exit = err
		close(h.done)
	}()

	return h, nil
}

// Wait blocks until the process exits and returns its exit code.
func (Process) Wait(ctx context.Context, handle Handle) (int, error) {
	h, ok := handle.(*processHandle)
	if !ok {
		return 0, fmt.Errorf("process: foreign handle %T", handle)
	}

	select {
	case <-h.done:
		return exitCode(h.exit), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop cancels the process and waits briefly for it to exit.
func (Process) Stop(_ context.Context, handle Handle) error {
	h, ok := handle.(*processHandle)
	if !ok {
		return fmt.Errorf("process: foreign handle %T", handle)
	}

	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("process %q: did not exit after stop", h.name)
	}
}

// Exec runs a health check command on the host, bounded by timeout.
func (Process) Exec(ctx context.Context, _ Handle, argv []string, timeout time.Duration) error {
	if len(argv) == 0 {
		return errors.New("process: empty health check command")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("exec %v: %w", argv, err)
	}
	return nil
}

// exitCode extracts the process exit code from a run error. A nil error
// or plain context cancellation counts as a clean exit.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}
