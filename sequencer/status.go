package sequencer

import (
	"github.com/averill/convoy/spec"
)

// statusFromEvents returns the current status for a service based on the
// most recent lifecycle event for that service.
func statusFromEvents(serviceName string, events []Event) spec.Status {
	status := spec.StatusPending
	for _, e := range events {
		if e.Service != serviceName {
			continue
		}
		switch e.Type {
		case EventServiceStarting, EventServiceRestarting:
			status = spec.StatusStarting
		case EventServiceStarted:
			status = spec.StatusStarted
		case EventServiceHealthy:
			status = spec.StatusHealthy
		case EventServiceBlocked:
			status = spec.StatusBlocked
		case EventServiceFailed:
			status = spec.StatusFailed
		case EventServiceStopping:
			status = spec.StatusStopping
		case EventServiceStopped:
			status = spec.StatusStopped
		}
	}
	return status
}

// Snapshot returns an eventually-consistent view of every service's
// status, derived from the event log. Only service lifecycles mutate
// state; readers see whatever has been published so far.
func (s *Sequencer) Snapshot(stack *spec.Stack) map[string]spec.Status {
	events := s.Log.Events()
	out := make(map[string]spec.Status, len(stack.Services))
	for name := range stack.Services {
		out[name] = statusFromEvents(name, events)
	}
	return out
}
