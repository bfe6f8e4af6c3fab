package sequencer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/averill/convoy/spec"
)

// ServiceSnapshot describes one non-terminal service in a stall
// diagnostic.
type ServiceSnapshot struct {
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	WaitingOn []string `json:"waiting_on,omitempty"`
}

// DiagnosticSnapshot is attached to progress.stall events.
type DiagnosticSnapshot struct {
	StalledFor string            `json:"stalled_for"`
	Services   []ServiceSnapshot `json:"services"`
}

// progressWatchdog monitors the event log for progress stalls. If no new
// lifecycle events appear within stallTimeout, it publishes a
// progress.stall event with a diagnostic snapshot showing which services
// are stuck and what they are waiting on.
//
// The goroutine exits when ctx is cancelled or when all services have
// reached a terminal phase.
func progressWatchdog(ctx context.Context, log *EventLog, services map[string]spec.Service, stallTimeout time.Duration) {
	ticker := time.NewTicker(stallTimeout)
	defer ticker.Stop()

	// Track the max lifecycle seq seen on the previous tick.
	var lastMaxSeq uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		events := lifecycleEvents(log)
		var maxSeq uint64
		for _, e := range events {
			if e.Seq > maxSeq {
				maxSeq = e.Seq
			}
		}

		if maxSeq == lastMaxSeq && len(events) > 0 {
			// No progress since last tick — build snapshot.
			snapshot := buildDiagnosticSnapshot(events, services, stallTimeout)
			if len(snapshot.Services) == 0 {
				// All services are in terminal phases — nothing is stuck.
				return
			}
			log.Publish(Event{
				Type:       EventProgressStall,
				Diagnostic: &snapshot,
				Message:    formatStallMessage(&snapshot),
			})
		}

		lastMaxSeq = maxSeq
	}
}

// lifecycleEvents filters out noise (service output, diagnostics) so
// that chatty services don't mask a stalled startup.
func lifecycleEvents(log *EventLog) []Event {
	var out []Event
	for _, e := range log.Events() {
		if e.Type == EventServiceLog || e.Type == EventProgressStall {
			continue
		}
		out = append(out, e)
	}
	return out
}

// buildDiagnosticSnapshot scans lifecycle events to determine each
// service's current status. For services still waiting to start, it
// checks their dependencies to populate WaitingOn.
func buildDiagnosticSnapshot(events []Event, services map[string]spec.Service, stalledFor time.Duration) DiagnosticSnapshot {
	statuses := make(map[string]spec.Status, len(services))
	for name := range services {
		statuses[name] = statusFromEvents(name, events)
	}

	// Skip services that are already running fine or finished.
	var snapshots []ServiceSnapshot
	for _, name := range sortedServiceNames(services) {
		status := statuses[name]
		if status.Terminal() || status == spec.StatusStopping ||
			status == spec.StatusHealthy || status == spec.StatusStarted {
			continue
		}

		ss := ServiceSnapshot{
			Name:   name,
			Status: string(status),
		}

		if status == spec.StatusPending {
			svc := services[name]
			for target, dep := range svc.DependsOn {
				satisfied := statuses[target] == spec.StatusHealthy ||
					(dep.Condition == spec.ConditionStarted && statuses[target] == spec.StatusStarted)
				if !satisfied {
					ss.WaitingOn = append(ss.WaitingOn, target)
				}
			}
			sort.Strings(ss.WaitingOn)
		}

		snapshots = append(snapshots, ss)
	}

	return DiagnosticSnapshot{
		StalledFor: stalledFor.String(),
		Services:   snapshots,
	}
}

// formatStallMessage renders a DiagnosticSnapshot as a human-readable
// string, included in the event's Message field so consumers don't
// reimplement the formatting.
func formatStallMessage(d *DiagnosticSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "no progress for %s:", d.StalledFor)
	for _, svc := range d.Services {
		fmt.Fprintf(&b, "\n  %s: %s", svc.Name, svc.Status)
		if len(svc.WaitingOn) > 0 {
			b.WriteString(" (waiting on ")
			b.WriteString(strings.Join(svc.WaitingOn, ", "))
			b.WriteString(")")
		}
	}
	return b.String()
}
