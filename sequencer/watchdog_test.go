package sequencer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/averill/convoy/spec"
)

func TestProgressWatchdog_EmitsStallEvent(t *testing.T) {
	log := NewEventLog()
	services := map[string]spec.Service{
		"db": {Image: "postgres:16"},
		"api": {Image: "api:latest", DependsOn: map[string]spec.DependsOn{
			"db": {Condition: spec.ConditionHealthy},
		}},
	}

	// db is starting but never gets anywhere; api stays pending.
	log.Publish(Event{Type: EventServiceStarting, Service: "db"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go progressWatchdog(ctx, log, services, 50*time.Millisecond)

	ev, err := log.WaitFor(ctx, func(e Event) bool {
		return e.Type == EventProgressStall
	})
	if err != nil {
		t.Fatalf("waiting for progress.stall: %v", err)
	}

	if ev.Diagnostic == nil {
		t.Fatal("expected diagnostic snapshot, got nil")
	}

	found := false
	for _, s := range ev.Diagnostic.Services {
		switch s.Name {
		case "api":
			found = true
			if s.Status != "pending" {
				t.Errorf("api status: got %q, want pending", s.Status)
			}
			if len(s.WaitingOn) != 1 || s.WaitingOn[0] != "db" {
				t.Errorf("api waiting on: got %v, want [db]", s.WaitingOn)
			}
		case "db":
			if s.Status != "starting" {
				t.Errorf("db status: got %q, want starting", s.Status)
			}
		}
	}
	if !found {
		t.Error("api not found in diagnostic snapshot")
	}

	if !strings.Contains(ev.Message, "no progress for") {
		t.Errorf("stall message: %q", ev.Message)
	}
}

func TestProgressWatchdog_NoStallOnSteadyProgress(t *testing.T) {
	log := NewEventLog()
	services := map[string]spec.Service{
		"svc": {Image: "svc:latest"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stallTimeout := 50 * time.Millisecond
	go progressWatchdog(ctx, log, services, stallTimeout)

	// Keep publishing events faster than the stall timeout.
	for i := 0; i < 5; i++ {
		time.Sleep(stallTimeout / 3)
		log.Publish(Event{Type: EventServiceStarting, Service: "svc"})
	}
	time.Sleep(stallTimeout / 2)

	for _, e := range log.Events() {
		if e.Type == EventProgressStall {
			t.Error("unexpected progress.stall event during steady progress")
		}
	}
}

func TestProgressWatchdog_IgnoresServiceOutput(t *testing.T) {
	log := NewEventLog()
	services := map[string]spec.Service{
		"chatty": {Image: "chatty:latest"},
		"api": {Image: "api:latest", DependsOn: map[string]spec.DependsOn{
			"chatty": {Condition: spec.ConditionHealthy},
		}},
	}

	log.Publish(Event{Type: EventServiceStarting, Service: "chatty"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go progressWatchdog(ctx, log, services, 50*time.Millisecond)

	// A stream of log output must not count as lifecycle progress.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				log.Publish(Event{
					Type:    EventServiceLog,
					Service: "chatty",
					Log:     &LogEntry{Stream: "stdout", Data: "tick\n"},
				})
			}
		}
	}()

	if _, err := log.WaitFor(ctx, func(e Event) bool {
		return e.Type == EventProgressStall
	}); err != nil {
		t.Fatalf("waiting for progress.stall: %v", err)
	}
}

func TestStatusFromEvents(t *testing.T) {
	events := []Event{
		{Seq: 1, Type: EventServiceStarting, Service: "a"},
		{Seq: 2, Type: EventServiceStarted, Service: "a"},
		{Seq: 3, Type: EventServiceHealthy, Service: "a"},
		{Seq: 4, Type: EventServiceStarting, Service: "b"},
	}

	if got := statusFromEvents("a", events); got != spec.StatusHealthy {
		t.Errorf("a: got %q, want healthy", got)
	}
	if got := statusFromEvents("b", events); got != spec.StatusStarting {
		t.Errorf("b: got %q, want starting", got)
	}
	if got := statusFromEvents("c", events); got != spec.StatusPending {
		t.Errorf("c: got %q, want pending", got)
	}
}

func TestStatusFromEvents_RestartingIsStarting(t *testing.T) {
	events := []Event{
		{Seq: 1, Type: EventServiceStarted, Service: "a"},
		{Seq: 2, Type: EventServiceRestarting, Service: "a"},
	}
	if got := statusFromEvents("a", events); got != spec.StatusStarting {
		t.Errorf("got %q, want starting", got)
	}
}
