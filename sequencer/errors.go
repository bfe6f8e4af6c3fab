package sequencer

import (
	"fmt"
	"strings"
)

// ConfigError reports structural problems in a stack definition: cycles,
// dangling dependency references, invalid policies. A ConfigError aborts
// the run before any driver call.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid stack: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid stack: %d problems:\n  %s",
		len(e.Problems), strings.Join(e.Problems, "\n  "))
}

// StartError reports that the driver failed to launch a service.
type StartError struct {
	Service string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("service %q: start: %v", e.Service, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// HealthCheckError reports that a service's health check failed the
// configured number of consecutive times.
type HealthCheckError struct {
	Service  string
	Failures int
	Err      error
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("service %q: health check failed %d times: %v", e.Service, e.Failures, e.Err)
}

func (e *HealthCheckError) Unwrap() error { return e.Err }

// ExitError reports that a service terminated with a non-zero exit code.
type ExitError struct {
	Service string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("service %q: exited with code %d", e.Service, e.Code)
}

// BlockedError reports that a service was never started because one of
// its dependencies (possibly transitively) reached a terminal failure.
type BlockedError struct {
	Service    string
	Dependency string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("service %q: blocked: dependency %q will never be satisfied", e.Service, e.Dependency)
}
