// Package ready implements the network-level health probes: tcp, http,
// and grpc. Command probes are executed by the service driver and are
// not represented here.
package ready

import (
	"context"
	"fmt"

	"github.com/averill/convoy/spec"
)

// Checker performs a single health probe against an endpoint.
type Checker interface {
	Check(ctx context.Context, host string, port int) error
}

// For returns the Checker for a probe-style health check.
func For(hc *spec.HealthCheck) (Checker, error) {
	switch hc.Type {
	case spec.HealthTCP:
		return &TCP{}, nil
	case spec.HealthHTTP:
		path := hc.Path
		if path == "" {
			path = "/"
		}
		return &HTTP{Path: path}, nil
	case spec.HealthGRPC:
		return &GRPC{}, nil
	default:
		return nil, fmt.Errorf("no network checker for health check type %q", hc.Type)
	}
}
