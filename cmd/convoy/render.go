package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/averill/convoy/sequencer"
	"github.com/averill/convoy/spec"
)

// renderEvents streams the event log to w until ctx is cancelled.
// Service output is prefixed with a per-service color; lifecycle events
// are rendered as one-line status changes.
func renderEvents(ctx context.Context, log *sequencer.EventLog, stack *spec.Stack, w io.Writer) {
	names := make([]string, 0, len(stack.Services))
	for name := range stack.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	index := make(map[string]int, len(names))
	maxName := 0
	for i, name := range names {
		index[name] = i
		if len(name) > maxName {
			maxName = len(name)
		}
	}

	var t0 time.Time

	for ev := range log.Subscribe(ctx, 0, nil) {
		if t0.IsZero() {
			t0 = ev.Timestamp
		}
		ts := dim(fmt.Sprintf("%.3fs", ev.Timestamp.Sub(t0).Seconds()))
		name := fmt.Sprintf("%-*s", maxName, ev.Service)
		colored := colorService(name, index[ev.Service], len(names))

		switch ev.Type {
		case sequencer.EventServiceLog:
			for _, line := range splitLines(ev.Log.Data) {
				fmt.Fprintf(w, "%s  %s  %s\n", ts, colored, line)
			}
		case sequencer.EventServiceStarting:
			fmt.Fprintf(w, "%s  %s  %s\n", ts, colored, dim("starting"))
		case sequencer.EventServiceStarted:
			fmt.Fprintf(w, "%s  %s  %s\n", ts, colored, "started")
		case sequencer.EventServiceHealthy:
			fmt.Fprintf(w, "%s  %s  %s\n", ts, colored, green("healthy"))
		case sequencer.EventServiceUnhealthy:
			fmt.Fprintf(w, "%s  %s  %s\n", ts, colored, yellow(fmt.Sprintf("unhealthy (%d): %s", ev.Attempt, ev.Error)))
		case sequencer.EventServiceRestarting:
			msg := fmt.Sprintf("restarting (attempt %d)", ev.Attempt)
			if ev.Error != "" {
				msg += ": " + ev.Error
			}
			fmt.Fprintf(w, "%s  %s  %s\n", ts, colored, yellow(msg))
		case sequencer.EventServiceBlocked:
			fmt.Fprintf(w, "%s  %s  %s\n", ts, colored, red("blocked: "+ev.Error))
		case sequencer.EventServiceFailed:
			fmt.Fprintf(w, "%s  %s  %s\n", ts, colored, red("failed: "+ev.Error))
		case sequencer.EventServiceStopping:
			fmt.Fprintf(w, "%s  %s  %s\n", ts, colored, dim("stopping"))
		case sequencer.EventServiceStopped:
			fmt.Fprintf(w, "%s  %s  %s\n", ts, colored, dim("stopped"))
		case sequencer.EventStackUp:
			fmt.Fprintf(w, "%s  %s\n", ts, bold(green("stack up")))
		case sequencer.EventStackFailing:
			fmt.Fprintf(w, "%s  %s\n", ts, bold(red("stack failing: "+ev.Error)))
		case sequencer.EventProgressStall:
			fmt.Fprintf(w, "%s  %s\n", ts, yellow(ev.Message))
		}
	}
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
