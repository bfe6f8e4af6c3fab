// Package driver abstracts the runtime that actually launches services.
// The sequencer issues start/stop/exec operations through the Driver
// interface and never talks to a container runtime directly.
package driver

import (
	"context"
	"io"
	"time"

	"github.com/averill/convoy/spec"
)

// StartSpec is the resolved, self-contained description of one service
// launch. Env is already merged (env_file plus explicit entries) — the
// driver performs no configuration lookups of its own.
type StartSpec struct {
	Name    string
	Image   string
	Command []string
	Ports   []spec.PortMapping
	Env     map[string]string

	// Stdout and Stderr receive the service's output streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Handle identifies a started service instance to the driver.
type Handle interface {
	ID() string
}

// Driver launches and manages service instances.
//
// Start returns as soon as the service process is launched. Wait blocks
// until the instance terminates and returns its exit code. Stop requests
// graceful termination and releases the instance's resources; it is safe
// to call Stop after Wait has returned. Exec runs a health check command
// inside the instance, bounded by timeout, returning nil on success.
type Driver interface {
	Start(ctx context.Context, ss StartSpec) (Handle, error)
	Wait(ctx context.Context, h Handle) (int, error)
	Stop(ctx context.Context, h Handle) error
	Exec(ctx context.Context, h Handle, argv []string, timeout time.Duration) error
}
