// Package sequencer implements the dependency-ordered service startup
// sequencer: it validates a stack's dependency graph, starts each
// service through a driver, gates dependents on started/healthy
// conditions, evaluates restart policies, and tears the stack down in
// reverse dependency order.
package sequencer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matgreaves/run"

	"github.com/averill/convoy/spec"
	"github.com/averill/convoy/sequencer/driver"
)

const (
	// DefaultStallTimeout is how long the watchdog waits without any
	// lifecycle progress before publishing a diagnostic snapshot.
	DefaultStallTimeout = 30 * time.Second

	// DefaultStopTimeout bounds the reverse-order wait during teardown:
	// a service waits at most this long for its dependents to stop
	// before stopping itself.
	DefaultStopTimeout = 30 * time.Second

	// DefaultRestartDelay is the fixed pause between relaunch attempts.
	DefaultRestartDelay = time.Second
)

// Sequencer coordinates the lifecycle of all services in a stack.
type Sequencer struct {
	Driver driver.Driver
	Log    *EventLog

	StallTimeout time.Duration // 0 means DefaultStallTimeout
	StopTimeout  time.Duration // 0 means DefaultStopTimeout
	RestartDelay time.Duration // 0 means DefaultRestartDelay
}

// Sequence validates the stack and builds a run.Runner that manages the
// full lifecycle of every service. Validation failures (cycles, dangling
// dependency references) return a ConfigError before any driver call.
//
// All services run concurrently; dependency ordering emerges from each
// service's lifecycle blocking on the event log until its dependencies'
// declared conditions are met. On the first terminal failure the runner
// cancels all remaining services and emits stack.failing with the root
// cause. Cancelling the runner's context requests graceful teardown in
// reverse dependency order.
func (s *Sequencer) Sequence(stack *spec.Stack) (run.Runner, error) {
	if err := Validate(stack); err != nil {
		return nil, err
	}

	names := sortedServiceNames(stack.Services)
	revDeps := reverseDependencies(stack.Services)

	return run.Func(func(parent context.Context) error {
		ctx, cancel := context.WithCancel(parent)
		defer cancel()

		go progressWatchdog(ctx, s.Log, stack.Services, s.stallTimeout())
		go s.emitStackUp(ctx, stack)

		type serviceErr struct {
			name string
			err  error
		}

		var wg sync.WaitGroup
		errs := make(chan serviceErr, len(names))

		for _, name := range names {
			sc := &serviceContext{
				name:         name,
				spec:         stack.Services[name],
				driver:       s.Driver,
				log:          s.Log,
				dependents:   revDeps[name],
				restartDelay: s.restartDelay(),
				stopTimeout:  s.stopTimeout(),
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := serviceLifecycle(sc).Run(ctx); err != nil {
					errs <- serviceErr{name: sc.name, err: err}
				}
			}()
		}

		// Close errs channel when all goroutines finish.
		go func() {
			wg.Wait()
			close(errs)
		}()

		var cause error
		var causeService string
		for e := range errs {
			if cause == nil {
				cancel() // tear down all other services
			}
			// Keep the most causal error: a real failure beats a blocked
			// dependent, which beats a teardown cancellation.
			if cause == nil || errorRank(e.err) > errorRank(cause) {
				causeService = e.name
				cause = e.err
			}
		}

		if parent.Err() != nil {
			// External shutdown, not a stack failure.
			return parent.Err()
		}
		if cause != nil {
			s.Log.Publish(Event{
				Type:    EventStackFailing,
				Service: causeService,
				Error:   cause.Error(),
			})
			return cause
		}
		return nil
	}), nil
}

// errorRank orders lifecycle errors by how causal they are. Services
// torn down after the first failure report cancellations and blocked
// dependencies; the failure that triggered the teardown outranks them.
func errorRank(err error) int {
	var blocked *BlockedError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return 0
	case errors.As(err, &blocked):
		return 1
	default:
		return 2
	}
}

// Run builds and runs the stack, blocking until every service reaches a
// terminal state or ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context, stack *spec.Stack) error {
	runner, err := s.Sequence(stack)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

// RequestStop asks the sequencer to stop a single service and exempt it
// from automatic restarts. Takes effect asynchronously.
func (s *Sequencer) RequestStop(service string) {
	s.Log.Publish(Event{
		Type:    EventServiceStopRequested,
		Service: service,
	})
}

// emitStackUp publishes stack.up once every service has reached its
// required condition: healthy for services with a health check, started
// otherwise.
func (s *Sequencer) emitStackUp(ctx context.Context, stack *spec.Stack) {
	for _, name := range sortedServiceNames(stack.Services) {
		svc := stack.Services[name]
		want := EventServiceStarted
		if svc.HealthCheck != nil {
			want = EventServiceHealthy
		}
		target := name
		if _, err := s.Log.WaitFor(ctx, func(e Event) bool {
			return e.Type == want && e.Service == target
		}); err != nil {
			return
		}
	}
	s.Log.Publish(Event{Type: EventStackUp})
}

func (s *Sequencer) stallTimeout() time.Duration {
	if s.StallTimeout > 0 {
		return s.StallTimeout
	}
	return DefaultStallTimeout
}

func (s *Sequencer) stopTimeout() time.Duration {
	if s.StopTimeout > 0 {
		return s.StopTimeout
	}
	return DefaultStopTimeout
}

func (s *Sequencer) restartDelay() time.Duration {
	if s.RestartDelay > 0 {
		return s.RestartDelay
	}
	return DefaultRestartDelay
}
