package sequencer

import (
	"context"
	"time"

	"github.com/averill/convoy/spec"
	"github.com/averill/convoy/sequencer/driver"
	"github.com/averill/convoy/sequencer/ready"
)

// probeHost is where host-published ports are probed. The sequencer only
// binds container ports to the loopback interface.
const probeHost = "127.0.0.1"

// monitorHealth runs the service's health probe loop until ctx is
// cancelled or the failure threshold is reached.
//
// The loop waits out StartPeriod, then probes at Interval cadence with
// each attempt bounded by Timeout. The first success publishes
// service.healthy; every failure publishes service.unhealthy with the
// consecutive failure count; Retries consecutive failures return a
// HealthCheckError. A success after transient failures resets the
// counter — the check keeps running for the service's whole life, so a
// service can degrade to failed long after first becoming healthy.
func (sc *serviceContext) monitorHealth(ctx context.Context, h driver.Handle) error {
	hc := sc.spec.HealthCheck
	if hc == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	probe, err := sc.buildProbe(h)
	if err != nil {
		return &HealthCheckError{Service: sc.name, Err: err}
	}

	if hc.StartPeriod.Duration > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(hc.StartPeriod.Duration):
		}
	}

	failures := 0
	healthy := false

	for {
		attemptCtx, cancel := context.WithTimeout(ctx, hc.Timeout.Duration)
		perr := probe(attemptCtx)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if perr == nil {
			if !healthy {
				healthy = true
				sc.publish(Event{Type: EventServiceHealthy})
			}
			failures = 0
		} else {
			failures++
			sc.publish(Event{
				Type:    EventServiceUnhealthy,
				Attempt: failures,
				Error:   perr.Error(),
			})
			if failures >= hc.Retries {
				return &HealthCheckError{Service: sc.name, Failures: failures, Err: perr}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(hc.Interval.Duration):
		}
	}
}

// buildProbe returns the probe function for the service's health check.
// cmd checks run through the driver inside the service; tcp/http/grpc
// checks probe the published host port from outside.
func (sc *serviceContext) buildProbe(h driver.Handle) (func(context.Context) error, error) {
	hc := sc.spec.HealthCheck

	if hc.Type == spec.HealthCmd {
		return func(ctx context.Context) error {
			return sc.driver.Exec(ctx, h, hc.Test, hc.Timeout.Duration)
		}, nil
	}

	checker, err := ready.For(hc)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return checker.Check(ctx, probeHost, hc.Port)
	}, nil
}
