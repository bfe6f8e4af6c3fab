// Package stacktest brings a convoy stack up inside a Go test and tears
// it down when the test finishes.
package stacktest

import (
	"context"
	"testing"
	"time"

	"github.com/averill/convoy/sequencer"
	"github.com/averill/convoy/sequencer/driver"
	"github.com/averill/convoy/spec"
)

// Env is a running stack owned by a test.
type Env struct {
	Log *sequencer.EventLog
	Seq *sequencer.Sequencer

	stack  *spec.Stack
	cancel context.CancelFunc
	done   chan error
}

// Option configures the behavior of Up.
type Option func(*options)

type options struct {
	driver         driver.Driver
	startupTimeout time.Duration
}

func defaultOptions() options {
	return options{
		driver:         driver.Process{},
		startupTimeout: 2 * time.Minute,
	}
}

// WithDriver sets the service driver. Default is the process driver,
// which keeps tests independent of a container runtime.
func WithDriver(d driver.Driver) Option {
	return func(o *options) { o.driver = d }
}

// WithTimeout sets the maximum time to wait for the stack to become
// ready. Default is 2 minutes.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.startupTimeout = d }
}

// Up starts the stack, blocks until every service is up, and registers
// cleanup with t.Cleanup to tear the stack down when the test finishes.
//
// If any step fails (validation, service startup, readiness timeout),
// Up calls t.Fatal with a descriptive error message.
func Up(t testing.TB, stack *spec.Stack, opts ...Option) *Env {
	t.Helper()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	seq := &sequencer.Sequencer{
		Driver: o.driver,
		Log:    sequencer.NewEventLog(),
	}

	runner, err := seq.Sequence(stack)
	if err != nil {
		t.Fatalf("stacktest: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	env := &Env{
		Log:    seq.Log,
		Seq:    seq,
		stack:  stack,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { env.done <- runner.Run(ctx) }()

	t.Cleanup(env.teardown)

	waitCtx, waitCancel := context.WithTimeout(ctx, o.startupTimeout)
	defer waitCancel()

	up, err := seq.Log.WaitFor(waitCtx, func(e sequencer.Event) bool {
		return e.Type == sequencer.EventStackUp || e.Type == sequencer.EventStackFailing
	})
	if err != nil {
		t.Fatalf("stacktest: stack not up after %s", o.startupTimeout)
	}
	if up.Type == sequencer.EventStackFailing {
		t.Fatalf("stacktest: %s", up.Error)
	}

	return env
}

// teardown cancels the stack and blocks until every lifecycle has
// finished. Errors are swallowed — cleanup must not abort other tests.
func (e *Env) teardown() {
	e.cancel()
	select {
	case <-e.done:
	case <-time.After(time.Minute):
	}
}

// Stop requests a graceful stop of a single service and waits for it to
// reach a terminal state.
func (e *Env) Stop(t testing.TB, service string) {
	t.Helper()

	e.Seq.RequestStop(service)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := e.Log.WaitFor(ctx, func(ev sequencer.Event) bool {
		if ev.Service != service {
			return false
		}
		return ev.Type == sequencer.EventServiceStopped || ev.Type == sequencer.EventServiceFailed
	}); err != nil {
		t.Fatalf("stacktest: stop %s: %v", service, err)
	}
}

// Status returns the current status of every service.
func (e *Env) Status() map[string]spec.Status {
	return e.Seq.Snapshot(e.stack)
}
