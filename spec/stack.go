package spec

import (
	"fmt"
	"strconv"
	"strings"
)

// Stack is the top-level document that describes a collection of services
// with defined startup relationships.
type Stack struct {
	// Name identifies the stack definition.
	Name string `json:"name" yaml:"name"`

	// Services maps service names to their specs.
	Services map[string]Service `json:"services" yaml:"services"`
}

// Service defines a single deployable unit within a stack.
type Service struct {
	// Image is the container image reference (e.g. "postgres:16").
	// Required for the docker driver.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	// Command overrides the image's default command. For the process
	// driver the first element is the executable path.
	Command []string `json:"command,omitempty" yaml:"command,omitempty"`

	// Ports lists host:container port pairs, in declaration order.
	Ports []PortMapping `json:"ports,omitempty" yaml:"ports,omitempty"`

	// Env sets environment variables on the service.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// EnvFile names a KEY=VALUE file whose entries are merged into Env
	// at load time. Explicit Env entries win.
	EnvFile string `json:"env_file,omitempty" yaml:"env_file,omitempty"`

	// Restart is the relaunch policy after the service terminates.
	// Defaults to "never".
	Restart RestartPolicy `json:"restart,omitempty" yaml:"restart,omitempty"`

	// HealthCheck configures the health probe. A service without one is
	// considered healthy-equivalent as soon as it has started.
	HealthCheck *HealthCheck `json:"healthcheck,omitempty" yaml:"healthcheck,omitempty"`

	// DependsOn declares startup dependencies, keyed by target service.
	DependsOn map[string]DependsOn `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// DependsOn declares the condition a dependency must meet before the
// dependent service may start.
type DependsOn struct {
	Condition Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Condition gates a dependent service on its dependency's progress.
type Condition string

const (
	// ConditionStarted is satisfied once the dependency's start call has
	// returned. The zero value resolves to this.
	ConditionStarted Condition = "started"

	// ConditionHealthy is satisfied once the dependency's health check
	// first reports success.
	ConditionHealthy Condition = "healthy"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	return c == ConditionStarted || c == ConditionHealthy
}

// RestartPolicy governs automatic relaunch after termination.
type RestartPolicy string

const (
	// RestartNever never relaunches. The zero value resolves to this.
	RestartNever RestartPolicy = "never"

	// RestartOnFailure relaunches only after a non-zero exit.
	RestartOnFailure RestartPolicy = "on-failure"

	// RestartAlways relaunches after any termination.
	RestartAlways RestartPolicy = "always"

	// RestartUnlessStopped relaunches after any termination unless an
	// external stop was requested.
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// Valid reports whether p is a known restart policy.
func (p RestartPolicy) Valid() bool {
	switch p {
	case RestartNever, RestartOnFailure, RestartAlways, RestartUnlessStopped:
		return true
	}
	return false
}

// PortMapping is a host-port to container-port pair, parsed from the
// "HOST:CONTAINER" shorthand.
type PortMapping struct {
	Host      int
	Container int
}

// ParsePortMapping parses "HOST:CONTAINER" (or a bare "PORT", which maps
// the same port on both sides).
func ParsePortMapping(s string) (PortMapping, error) {
	host, container, found := strings.Cut(s, ":")
	if !found {
		container = host
	}
	h, err := strconv.Atoi(host)
	if err != nil {
		return PortMapping{}, fmt.Errorf("invalid port mapping %q: %w", s, err)
	}
	c, err := strconv.Atoi(container)
	if err != nil {
		return PortMapping{}, fmt.Errorf("invalid port mapping %q: %w", s, err)
	}
	if h <= 0 || h > 65535 || c <= 0 || c > 65535 {
		return PortMapping{}, fmt.Errorf("invalid port mapping %q: ports must be 1-65535", s)
	}
	return PortMapping{Host: h, Container: c}, nil
}

// String renders the mapping in "HOST:CONTAINER" shorthand.
func (p PortMapping) String() string {
	return fmt.Sprintf("%d:%d", p.Host, p.Container)
}

// MarshalJSON renders the shorthand string form.
func (p PortMapping) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(p.String())), nil
}

// UnmarshalJSON accepts the shorthand string form.
func (p *PortMapping) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	parsed, err := ParsePortMapping(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalYAML renders the shorthand string form.
func (p PortMapping) MarshalYAML() (any, error) {
	return p.String(), nil
}

// UnmarshalYAML accepts the shorthand string form.
func (p *PortMapping) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParsePortMapping(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
