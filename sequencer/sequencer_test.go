package sequencer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/averill/convoy/sequencer"
	"github.com/averill/convoy/sequencer/driver"
	"github.com/averill/convoy/spec"
)

// fakeDriver is an in-memory driver for sequencer tests. Each service's
// behavior is scripted: start failures, a sequence of exit codes (one per
// launch; drained means the service runs until stopped), and health exec
// results (one per probe; drained means success).
type fakeDriver struct {
	mu     sync.Mutex
	script map[string]*fakeScript
	starts []string
	stops  []string
}

type fakeScript struct {
	startErr error
	exits    []int
	execErrs []error
}

type fakeHandle struct {
	name    string
	exit    chan int
	stopped chan struct{}
	once    sync.Once
}

func (h *fakeHandle) ID() string { return h.name }

func newFakeDriver() *fakeDriver {
	return &fakeDriver{script: map[string]*fakeScript{}}
}

func (d *fakeDriver) Start(ctx context.Context, ss driver.StartSpec) (driver.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.starts = append(d.starts, ss.Name)

	s := d.script[ss.Name]
	if s != nil && s.startErr != nil {
		return nil, s.startErr
	}

	h := &fakeHandle{
		name:    ss.Name,
		exit:    make(chan int, 1),
		stopped: make(chan struct{}),
	}
	if s != nil && len(s.exits) > 0 {
		code := s.exits[0]
		s.exits = s.exits[1:]
		h.exit <- code
	}
	return h, nil
}

func (d *fakeDriver) Wait(ctx context.Context, handle driver.Handle) (int, error) {
	h := handle.(*fakeHandle)
	select {
	case code := <-h.exit:
		return code, nil
	case <-h.stopped:
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (d *fakeDriver) Stop(ctx context.Context, handle driver.Handle) error {
	h := handle.(*fakeHandle)
	d.mu.Lock()
	d.stops = append(d.stops, h.name)
	d.mu.Unlock()
	h.once.Do(func() { close(h.stopped) })
	return nil
}

func (d *fakeDriver) Exec(ctx context.Context, handle driver.Handle, argv []string, timeout time.Duration) error {
	h := handle.(*fakeHandle)
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.script[h.name]
	if s == nil || len(s.execErrs) == 0 {
		return nil
	}
	err := s.execErrs[0]
	s.execErrs = s.execErrs[1:]
	return err
}

func (d *fakeDriver) startOrder() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.starts))
	copy(out, d.starts)
	return out
}

func (d *fakeDriver) stopOrder() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.stops))
	copy(out, d.stops)
	return out
}

func newTestSequencer(drv driver.Driver) *sequencer.Sequencer {
	return &sequencer.Sequencer{
		Driver:       drv,
		Log:          sequencer.NewEventLog(),
		StallTimeout: 5 * time.Second,
		StopTimeout:  2 * time.Second,
		RestartDelay: 5 * time.Millisecond,
	}
}

// fastCheck is a cmd health check that probes every few milliseconds.
func fastCheck(retries int) *spec.HealthCheck {
	return &spec.HealthCheck{
		Type:     spec.HealthCmd,
		Test:     []string{"check"},
		Interval: spec.Duration{Duration: 5 * time.Millisecond},
		Timeout:  spec.Duration{Duration: 100 * time.Millisecond},
		Retries:  retries,
	}
}

func waitFor(t *testing.T, log *sequencer.EventLog, desc string, match func(sequencer.Event) bool) sequencer.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := log.WaitFor(ctx, match)
	if err != nil {
		t.Fatalf("timed out waiting for %s", desc)
	}
	return ev
}

func eventOf(typ sequencer.EventType, service string) func(sequencer.Event) bool {
	return func(e sequencer.Event) bool {
		return e.Type == typ && e.Service == service
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Three services: b waits for a to start, c waits for b to become
// healthy. Starts must happen in dependency order, and c must not start
// before b's first successful health probe.
func TestSequence_GatesStartedAndHealthy(t *testing.T) {
	drv := newFakeDriver()
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "gating",
		Services: map[string]spec.Service{
			"a": {Command: []string{"a"}},
			"b": {
				Command:     []string{"b"},
				HealthCheck: fastCheck(3),
				DependsOn:   map[string]spec.DependsOn{"a": {Condition: spec.ConditionStarted}},
			},
			"c": {
				Command:   []string{"c"},
				DependsOn: map[string]spec.DependsOn{"b": {Condition: spec.ConditionHealthy}},
			},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- seq.Run(ctx, &stack) }()

	waitFor(t, seq.Log, "stack.up", func(e sequencer.Event) bool {
		return e.Type == sequencer.EventStackUp
	})

	if got := drv.startOrder(); !equalStrings(got, []string{"a", "b", "c"}) {
		t.Errorf("start order: got %v, want [a b c]", got)
	}

	bHealthy := waitFor(t, seq.Log, "b healthy", eventOf(sequencer.EventServiceHealthy, "b"))
	cStarting := waitFor(t, seq.Log, "c starting", eventOf(sequencer.EventServiceStarting, "c"))
	if cStarting.Seq < bHealthy.Seq {
		t.Errorf("c started (seq %d) before b was healthy (seq %d)", cStarting.Seq, bHealthy.Seq)
	}

	aStarted := waitFor(t, seq.Log, "a started", eventOf(sequencer.EventServiceStarted, "a"))
	bStarting := waitFor(t, seq.Log, "b starting", eventOf(sequencer.EventServiceStarting, "b"))
	if bStarting.Seq < aStarted.Seq {
		t.Errorf("b started (seq %d) before a was started (seq %d)", bStarting.Seq, aStarted.Seq)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("run after cancel: got %v, want context.Canceled", err)
	}
}

// Cancelling the run tears services down in reverse dependency order.
func TestSequence_StopsInReverseDependencyOrder(t *testing.T) {
	drv := newFakeDriver()
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "teardown",
		Services: map[string]spec.Service{
			"a": {Command: []string{"a"}},
			"b": {Command: []string{"b"}, DependsOn: map[string]spec.DependsOn{"a": {}}},
			"c": {Command: []string{"c"}, DependsOn: map[string]spec.DependsOn{"b": {}}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- seq.Run(ctx, &stack) }()

	waitFor(t, seq.Log, "stack.up", func(e sequencer.Event) bool {
		return e.Type == sequencer.EventStackUp
	})

	cancel()
	<-done

	if got := drv.stopOrder(); !equalStrings(got, []string{"c", "b", "a"}) {
		t.Errorf("stop order: got %v, want [c b a]", got)
	}
}

// A dependency cycle is a configuration error reported before any
// service is started.
func TestSequence_CycleStartsNothing(t *testing.T) {
	drv := newFakeDriver()
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "cyclic",
		Services: map[string]spec.Service{
			"a": {Command: []string{"a"}, DependsOn: map[string]spec.DependsOn{"b": {}}},
			"b": {Command: []string{"b"}, DependsOn: map[string]spec.DependsOn{"c": {}}},
			"c": {Command: []string{"c"}, DependsOn: map[string]spec.DependsOn{"a": {}}},
		},
	}

	_, err := seq.Sequence(&stack)
	var cfg *sequencer.ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("got %T, want *ConfigError", err)
	}
	if len(drv.startOrder()) != 0 {
		t.Errorf("driver was called despite cycle: starts %v", drv.startOrder())
	}
}

func TestSequence_OnFailureRestartsNonZeroExit(t *testing.T) {
	drv := newFakeDriver()
	drv.script["job"] = &fakeScript{exits: []int{1}} // then runs until stopped
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "restarting",
		Services: map[string]spec.Service{
			"job": {Command: []string{"job"}, Restart: spec.RestartOnFailure},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- seq.Run(ctx, &stack) }()

	restarting := waitFor(t, seq.Log, "job restarting", eventOf(sequencer.EventServiceRestarting, "job"))
	waitFor(t, seq.Log, "job started again", func(e sequencer.Event) bool {
		return e.Type == sequencer.EventServiceStarted && e.Service == "job" && e.Seq > restarting.Seq
	})

	cancel()
	<-done

	if got := len(drv.startOrder()); got != 2 {
		t.Errorf("start count: got %d, want 2", got)
	}
}

func TestSequence_NeverPolicyFailsOnNonZeroExit(t *testing.T) {
	drv := newFakeDriver()
	drv.script["job"] = &fakeScript{exits: []int{3}}
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "oneshot",
		Services: map[string]spec.Service{
			"job": {Command: []string{"job"}},
		},
	}

	err := seq.Run(context.Background(), &stack)
	var exit *sequencer.ExitError
	if !errors.As(err, &exit) {
		t.Fatalf("got %v, want *ExitError", err)
	}
	if exit.Code != 3 {
		t.Errorf("exit code: got %d, want 3", exit.Code)
	}

	waitFor(t, seq.Log, "stack.failing", func(e sequencer.Event) bool {
		return e.Type == sequencer.EventStackFailing
	})
	if got := seq.Snapshot(&stack)["job"]; got != spec.StatusFailed {
		t.Errorf("job status: got %q, want failed", got)
	}
}

func TestSequence_NeverPolicyAcceptsCleanExit(t *testing.T) {
	drv := newFakeDriver()
	drv.script["job"] = &fakeScript{exits: []int{0}}
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "oneshot",
		Services: map[string]spec.Service{
			"job": {Command: []string{"job"}},
		},
	}

	if err := seq.Run(context.Background(), &stack); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := seq.Snapshot(&stack)["job"]; got != spec.StatusStopped {
		t.Errorf("job status: got %q, want stopped", got)
	}
}

func TestSequence_UnlessStoppedRestartsCleanExit(t *testing.T) {
	drv := newFakeDriver()
	drv.script["svc"] = &fakeScript{exits: []int{0}} // then runs until stopped
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "persistent",
		Services: map[string]spec.Service{
			"svc": {Command: []string{"svc"}, Restart: spec.RestartUnlessStopped},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- seq.Run(ctx, &stack) }()

	restarting := waitFor(t, seq.Log, "svc restarting", eventOf(sequencer.EventServiceRestarting, "svc"))
	waitFor(t, seq.Log, "svc started again", func(e sequencer.Event) bool {
		return e.Type == sequencer.EventServiceStarted && e.Service == "svc" && e.Seq > restarting.Seq
	})

	cancel()
	<-done

	if got := len(drv.startOrder()); got != 2 {
		t.Errorf("start count: got %d, want 2", got)
	}
}

func TestSequence_UnlessStoppedRestartsAfterFailure(t *testing.T) {
	drv := newFakeDriver()
	drv.script["svc"] = &fakeScript{exits: []int{2}} // then runs until stopped
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "persistent",
		Services: map[string]spec.Service{
			"svc": {Command: []string{"svc"}, Restart: spec.RestartUnlessStopped},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- seq.Run(ctx, &stack) }()

	restarting := waitFor(t, seq.Log, "svc restarting", eventOf(sequencer.EventServiceRestarting, "svc"))
	if restarting.Error == "" {
		t.Error("restart after failure should carry the exit error")
	}
	waitFor(t, seq.Log, "svc started again", func(e sequencer.Event) bool {
		return e.Type == sequencer.EventServiceStarted && e.Service == "svc" && e.Seq > restarting.Seq
	})

	cancel()
	<-done

	if got := len(drv.startOrder()); got != 2 {
		t.Errorf("start count: got %d, want 2", got)
	}
}

// An explicit stop request exempts the service from unless-stopped
// restarts.
func TestSequence_StopRequestOverridesUnlessStopped(t *testing.T) {
	drv := newFakeDriver()
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "persistent",
		Services: map[string]spec.Service{
			"svc": {Command: []string{"svc"}, Restart: spec.RestartUnlessStopped},
		},
	}

	done := make(chan error, 1)
	go func() { done <- seq.Run(context.Background(), &stack) }()

	waitFor(t, seq.Log, "svc started", eventOf(sequencer.EventServiceStarted, "svc"))
	seq.RequestStop("svc")

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(drv.startOrder()); got != 1 {
		t.Errorf("start count: got %d, want 1 (no restart after requested stop)", got)
	}
	if got := seq.Snapshot(&stack)["svc"]; got != spec.StatusStopped {
		t.Errorf("svc status: got %q, want stopped", got)
	}

	stopped := 0
	for _, e := range seq.Log.Events() {
		if e.Type == sequencer.EventServiceStopped && e.Service == "svc" {
			stopped++
		}
	}
	if stopped != 1 {
		t.Errorf("stopped events: got %d, want exactly 1", stopped)
	}
}

// A start failure marks the service failed and blocks its dependents
// without ever starting them.
func TestSequence_StartFailureBlocksDependents(t *testing.T) {
	drv := newFakeDriver()
	drv.script["a"] = &fakeScript{startErr: errors.New("image not found")}
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "broken",
		Services: map[string]spec.Service{
			"a": {Command: []string{"a"}},
			"b": {Command: []string{"b"}, DependsOn: map[string]spec.DependsOn{"a": {}}},
		},
	}

	err := seq.Run(context.Background(), &stack)
	if err == nil {
		t.Fatal("expected run error, got nil")
	}

	blocked := waitFor(t, seq.Log, "b blocked", eventOf(sequencer.EventServiceBlocked, "b"))
	if blocked.Dependency != "a" {
		t.Errorf("blocked dependency: got %q, want a", blocked.Dependency)
	}

	if got := drv.startOrder(); !equalStrings(got, []string{"a"}) {
		t.Errorf("start order: got %v, want [a] only", got)
	}

	statuses := seq.Snapshot(&stack)
	if statuses["a"] != spec.StatusFailed {
		t.Errorf("a status: got %q, want failed", statuses["a"])
	}
	if statuses["b"] != spec.StatusBlocked {
		t.Errorf("b status: got %q, want blocked", statuses["b"])
	}

	// Blocked is terminal: the teardown sweep must not demote b to
	// stopped after the blocked event.
	for _, e := range seq.Log.Events() {
		if e.Service == "b" && e.Seq > blocked.Seq && e.Type == sequencer.EventServiceStopped {
			t.Errorf("b published %s after blocked", e.Type)
		}
	}
}

// A terminal failure blocks not just direct dependents but the whole
// chain behind them.
func TestSequence_BlockedPropagatesTransitively(t *testing.T) {
	drv := newFakeDriver()
	drv.script["a"] = &fakeScript{startErr: errors.New("image not found")}
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "chain",
		Services: map[string]spec.Service{
			"a": {Command: []string{"a"}},
			"b": {Command: []string{"b"}, DependsOn: map[string]spec.DependsOn{"a": {}}},
			"c": {Command: []string{"c"}, DependsOn: map[string]spec.DependsOn{"b": {}}},
		},
	}

	if err := seq.Run(context.Background(), &stack); err == nil {
		t.Fatal("expected run error, got nil")
	}

	if got := drv.startOrder(); !equalStrings(got, []string{"a"}) {
		t.Errorf("start order: got %v, want [a] only", got)
	}

	statuses := seq.Snapshot(&stack)
	for _, name := range []string{"b", "c"} {
		if statuses[name] != spec.StatusBlocked {
			t.Errorf("%s status: got %q, want blocked", name, statuses[name])
		}
	}

	cBlocked := waitFor(t, seq.Log, "c blocked", eventOf(sequencer.EventServiceBlocked, "c"))
	if cBlocked.Dependency != "b" {
		t.Errorf("c blocked on: got %q, want b", cBlocked.Dependency)
	}
}

// Exhausting health check retries is a terminal failure, and services
// gated on healthy are blocked.
func TestSequence_HealthCheckFailureBlocksDependents(t *testing.T) {
	probeErr := errors.New("connection refused")
	drv := newFakeDriver()
	drv.script["b"] = &fakeScript{execErrs: []error{probeErr, probeErr}}
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "unhealthy",
		Services: map[string]spec.Service{
			"b": {Command: []string{"b"}, HealthCheck: fastCheck(2)},
			"c": {
				Command:   []string{"c"},
				DependsOn: map[string]spec.DependsOn{"b": {Condition: spec.ConditionHealthy}},
			},
		},
	}

	err := seq.Run(context.Background(), &stack)
	var hcErr *sequencer.HealthCheckError
	if !errors.As(err, &hcErr) {
		t.Fatalf("got %v, want *HealthCheckError", err)
	}
	if hcErr.Failures != 2 {
		t.Errorf("failures: got %d, want 2", hcErr.Failures)
	}

	// Each probe failure is visible with its consecutive failure count.
	waitFor(t, seq.Log, "second unhealthy probe", func(e sequencer.Event) bool {
		return e.Type == sequencer.EventServiceUnhealthy && e.Service == "b" && e.Attempt == 2
	})

	for _, name := range drv.startOrder() {
		if name == "c" {
			t.Error("c was started despite its dependency never becoming healthy")
		}
	}

	statuses := seq.Snapshot(&stack)
	if statuses["b"] != spec.StatusFailed {
		t.Errorf("b status: got %q, want failed", statuses["b"])
	}
	if statuses["c"] != spec.StatusBlocked {
		t.Errorf("c status: got %q, want blocked", statuses["c"])
	}
}

// A transient health failure under the retry threshold does not fail
// the service: a later success resets the counter.
func TestSequence_HealthRecoversBelowThreshold(t *testing.T) {
	probeErr := errors.New("not ready yet")
	drv := newFakeDriver()
	drv.script["b"] = &fakeScript{execErrs: []error{probeErr, probeErr}} // then succeeds
	seq := newTestSequencer(drv)

	stack := spec.Stack{
		Name: "flaky",
		Services: map[string]spec.Service{
			"b": {Command: []string{"b"}, HealthCheck: fastCheck(3)},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- seq.Run(ctx, &stack) }()

	waitFor(t, seq.Log, "b healthy after transient failures", eventOf(sequencer.EventServiceHealthy, "b"))

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("run after cancel: got %v, want context.Canceled", err)
	}
}
