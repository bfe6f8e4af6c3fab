package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/averill/convoy/sequencer"
	"github.com/averill/convoy/sequencer/driver"
	"github.com/averill/convoy/spec"
)

func runUp(args []string) int {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	file := fs.String("f", "convoy.yaml", "stack file")
	driverName := fs.String("driver", "docker", "service driver (docker or process)")
	timeout := fs.Duration("timeout", 0, "abort if the stack is not up within this duration (0 = no limit)")
	stall := fs.Duration("stall", sequencer.DefaultStallTimeout, "report a diagnostic if no progress is made for this long")
	fs.Parse(args)

	stack, err := spec.LoadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "convoy up: %v\n", err)
		return exitConfig
	}

	drv, err := driverFor(*driverName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "convoy up: %v\n", err)
		return exitConfig
	}

	seq := &sequencer.Sequencer{
		Driver:       drv,
		Log:          sequencer.NewEventLog(),
		StallTimeout: *stall,
	}

	runner, err := seq.Sequence(&stack)
	if err != nil {
		fmt.Fprintf(os.Stderr, "convoy up: %v\n", err)
		var cfg *sequencer.ConfigError
		if errors.As(err, &cfg) {
			return exitConfig
		}
		return exitFailed
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Render the event stream while the stack runs.
	renderCtx, stopRender := context.WithCancel(context.Background())
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		renderEvents(renderCtx, seq.Log, &stack, os.Stderr)
	}()

	if *timeout > 0 {
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(*timeout):
				// Only abort if the stack never came up.
				if !stackUp(seq.Log) {
					fmt.Fprintf(os.Stderr, "convoy up: stack not up after %s\n", *timeout)
					cancel()
				}
			}
		}()
	}

	runErr := runner.Run(ctx)

	// Give the renderer a moment to drain the teardown events.
	time.Sleep(50 * time.Millisecond)
	stopRender()
	<-renderDone

	if runErr == nil || errors.Is(runErr, context.Canceled) {
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "convoy up: %v\n", runErr)
	return exitFailed
}

func driverFor(name string) (driver.Driver, error) {
	switch name {
	case "docker":
		return driver.Docker{}, nil
	case "process":
		return driver.Process{}, nil
	}
	return nil, fmt.Errorf("unknown driver %q (must be docker or process)", name)
}

// stackUp reports whether stack.up has been published.
func stackUp(log *sequencer.EventLog) bool {
	for _, e := range log.Events() {
		if e.Type == sequencer.EventStackUp {
			return true
		}
	}
	return false
}
