package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matgreaves/run"

	"github.com/averill/convoy/spec"
	"github.com/averill/convoy/sequencer/driver"
)

// serviceContext holds the resolved state for a single service during its
// lifecycle. All mutation of the service's externally visible state goes
// through the event log; the lifecycle goroutine is the only writer for
// its service, which serializes operations (no double start).
type serviceContext struct {
	name       string
	spec       spec.Service
	driver     driver.Driver
	log        *EventLog
	dependents []string // services that depend on this one, for teardown ordering

	restartDelay time.Duration
	stopTimeout  time.Duration
}

type exitResult struct {
	code int
	err  error
}

// errStopRequested signals that runOnce ended because of an external
// stop request and has already published the stopping/stopped events.
var errStopRequested = errors.New("stop requested")

// serviceLifecycle builds the full lifecycle for a single service: wait
// for dependencies, start, monitor health, and evaluate the restart
// policy when an attempt ends. The runner exits when the service reaches
// a terminal state or the context is cancelled.
func serviceLifecycle(sc *serviceContext) run.Runner {
	return run.Func(func(ctx context.Context) error {
		for attempt := 1; ; attempt++ {
			if sc.stopRequested() {
				sc.publish(Event{Type: EventServiceStopped})
				return nil
			}

			err := sc.runOnce(ctx)

			var blocked *BlockedError
			if errors.As(err, &blocked) {
				// Never started; blocked event already published.
				return err
			}

			// Teardown: runOnce has already emitted the stopping/stopped
			// events for this path.
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if errors.Is(err, errStopRequested) {
				// Stop path published stopping/stopped already.
				return nil
			}

			if err == nil {
				// Clean exit (code 0).
				if sc.restartsAfterCleanExit() && !sc.stopRequested() {
					sc.publish(Event{Type: EventServiceRestarting, Attempt: attempt})
					if derr := sc.delay(ctx); derr != nil {
						sc.publish(Event{Type: EventServiceStopped})
						return derr
					}
					continue
				}
				sc.publish(Event{Type: EventServiceStopped})
				return nil
			}

			if sc.restartsAfterError(err) && !sc.stopRequested() {
				sc.publish(Event{
					Type:    EventServiceRestarting,
					Attempt: attempt,
					Error:   err.Error(),
				})
				if derr := sc.delay(ctx); derr != nil {
					sc.publish(Event{Type: EventServiceStopped})
					return derr
				}
				continue
			}

			// Terminal failure. No stopped event: failed is itself
			// terminal, and status reporting keeps the failure visible.
			sc.publish(Event{Type: EventServiceFailed, Error: err.Error()})
			return err
		}
	})
}

// runOnce performs one full attempt: dependency wait, start, then run
// with health monitoring until the service exits, fails its health
// check, or the context is cancelled. It owns all event emission for
// the attempt except the terminal failed/restarting events.
func (sc *serviceContext) runOnce(ctx context.Context) error {
	if err := sc.waitForDependencies(ctx); err != nil {
		// Blocked is terminal in its own right: even when the run is
		// already being torn down, the service ends blocked, not stopped.
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			return err
		}
		if ctx.Err() != nil {
			// Teardown while still pending — never started.
			sc.publish(Event{Type: EventServiceStopped})
			return ctx.Err()
		}
		return err
	}

	sc.publish(Event{Type: EventServiceStarting})

	h, err := sc.driver.Start(ctx, sc.startSpec())
	if err != nil {
		if ctx.Err() != nil {
			sc.publish(Event{Type: EventServiceStopped})
			return ctx.Err()
		}
		return &StartError{Service: sc.name, Err: err}
	}

	sc.publish(Event{Type: EventServiceStarted})
	if sc.spec.HealthCheck == nil {
		// No health check: the service is healthy-equivalent at started,
		// so dependents gating on healthy may proceed.
		sc.publish(Event{Type: EventServiceHealthy})
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	healthCh := make(chan error, 1)
	go func() { healthCh <- sc.monitorHealth(runCtx, h) }()

	exitCh := make(chan exitResult, 1)
	go func() {
		code, werr := sc.driver.Wait(runCtx, h)
		exitCh <- exitResult{code: code, err: werr}
	}()

	stopCh := make(chan struct{})
	go func() {
		if _, werr := sc.log.WaitFor(runCtx, func(e Event) bool {
			return e.Type == EventServiceStopRequested && e.Service == sc.name
		}); werr == nil {
			close(stopCh)
		}
	}()

	select {
	case res := <-exitCh:
		if ctx.Err() != nil {
			sc.teardown(h)
			return ctx.Err()
		}
		cancel()
		sc.stopQuiet(h)
		if res.err != nil {
			return fmt.Errorf("service %q: wait: %w", sc.name, res.err)
		}
		if res.code != 0 {
			return &ExitError{Service: sc.name, Code: res.code}
		}
		return nil

	case herr := <-healthCh:
		if ctx.Err() != nil {
			sc.teardown(h)
			return ctx.Err()
		}
		cancel()
		sc.stopQuiet(h)
		return herr

	case <-stopCh:
		// External per-service stop request.
		sc.publish(Event{Type: EventServiceStopping})
		cancel()
		if serr := sc.driver.Stop(context.Background(), h); serr != nil {
			sc.publish(Event{Type: EventServiceStopped, Error: serr.Error()})
		} else {
			sc.publish(Event{Type: EventServiceStopped})
		}
		return errStopRequested

	case <-ctx.Done():
		sc.teardown(h)
		return ctx.Err()
	}
}

// waitForDependencies blocks until every declared dependency satisfies
// its condition. If a dependency reaches a terminal state first, the
// service is marked blocked and never started.
func (sc *serviceContext) waitForDependencies(ctx context.Context) error {
	if len(sc.spec.DependsOn) == 0 {
		return nil
	}

	// Sort for determinism; all conditions must hold, so waiting order
	// does not affect semantics.
	targets := make([]string, 0, len(sc.spec.DependsOn))
	for target := range sc.spec.DependsOn {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		want := EventServiceStarted
		if sc.spec.DependsOn[target].Condition == spec.ConditionHealthy {
			want = EventServiceHealthy
		}

		ev, err := sc.log.WaitFor(ctx, func(e Event) bool {
			if e.Service != target {
				return false
			}
			return e.Type == want || e.Type == EventServiceFailed || e.Type == EventServiceBlocked
		})
		if err != nil {
			return err
		}
		if ev.Type != want {
			sc.publish(Event{
				Type:       EventServiceBlocked,
				Dependency: target,
				Error:      fmt.Sprintf("dependency %q %s", target, strings.TrimPrefix(string(ev.Type), "service.")),
			})
			return &BlockedError{Service: sc.name, Dependency: target}
		}
	}

	return nil
}

// teardown stops the service in reverse dependency order: it first waits
// (bounded) for all dependents to reach a terminal state so that nothing
// still depends on this service when it goes away.
func (sc *serviceContext) teardown(h driver.Handle) {
	waitCtx, cancel := context.WithTimeout(context.Background(), sc.stopTimeout)
	defer cancel()

	for _, dependent := range sc.dependents {
		dep := dependent
		sc.log.WaitFor(waitCtx, func(e Event) bool {
			if e.Service != dep {
				return false
			}
			return e.Type == EventServiceStopped || e.Type == EventServiceFailed || e.Type == EventServiceBlocked
		})
	}

	sc.publish(Event{Type: EventServiceStopping})
	if err := sc.driver.Stop(context.Background(), h); err != nil {
		sc.publish(Event{Type: EventServiceStopped, Error: err.Error()})
		return
	}
	sc.publish(Event{Type: EventServiceStopped})
}

// stopQuiet releases driver resources after the service has already
// terminated on its own. No stopping/stopped events: the attempt's
// outcome is reported by the caller.
func (sc *serviceContext) stopQuiet(h driver.Handle) {
	sc.driver.Stop(context.Background(), h)
}

func (sc *serviceContext) startSpec() driver.StartSpec {
	return driver.StartSpec{
		Name:    sc.name,
		Image:   sc.spec.Image,
		Command: sc.spec.Command,
		Ports:   sc.spec.Ports,
		Env:     sc.spec.Env,
		Stdout:  &logWriter{log: sc.log, service: sc.name, stream: "stdout"},
		Stderr:  &logWriter{log: sc.log, service: sc.name, stream: "stderr"},
	}
}

// restartsAfterCleanExit reports whether the restart policy relaunches
// the service after a zero exit code.
func (sc *serviceContext) restartsAfterCleanExit() bool {
	return sc.spec.Restart == spec.RestartAlways || sc.spec.Restart == spec.RestartUnlessStopped
}

// restartsAfterError reports whether the restart policy relaunches the
// service after the given failure. on-failure follows its name
// literally: it retries only actual non-zero exits, not start or health
// check failures.
func (sc *serviceContext) restartsAfterError(err error) bool {
	switch sc.spec.Restart {
	case spec.RestartAlways, spec.RestartUnlessStopped:
		return true
	case spec.RestartOnFailure:
		var exit *ExitError
		return errors.As(err, &exit)
	}
	return false
}

// stopRequested reports whether an external stop request has been
// published for this service.
func (sc *serviceContext) stopRequested() bool {
	for _, e := range sc.log.Events() {
		if e.Type == EventServiceStopRequested && e.Service == sc.name {
			return true
		}
	}
	return false
}

func (sc *serviceContext) delay(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sc.restartDelay):
		return nil
	}
}

func (sc *serviceContext) publish(e Event) {
	e.Service = sc.name
	sc.log.Publish(e)
}

// logWriter ships service output into the event log.
type logWriter struct {
	log     *EventLog
	service string
	stream  string // "stdout" or "stderr"
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.log.Publish(Event{
		Type:    EventServiceLog,
		Service: w.service,
		Log: &LogEntry{
			Stream: w.stream,
			Data:   string(p),
		},
	})
	return len(p), nil
}
