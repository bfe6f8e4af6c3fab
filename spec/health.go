package spec

import "time"

// Default health check parameters, applied by ResolveDefaults when the
// corresponding field is omitted.
const (
	DefaultHealthInterval = 10 * time.Second
	DefaultHealthTimeout  = 5 * time.Second
	DefaultHealthRetries  = 3
)

// HealthType selects how a health probe is performed.
type HealthType string

const (
	// HealthCmd runs a command inside the service via the driver. This is
	// the default when Test is set.
	HealthCmd HealthType = "cmd"

	// HealthTCP dials a TCP connection to the probe port.
	HealthTCP HealthType = "tcp"

	// HealthHTTP issues an HTTP GET against Path on the probe port.
	// Any response below 500 counts as success.
	HealthHTTP HealthType = "http"

	// HealthGRPC uses the standard gRPC health checking protocol.
	HealthGRPC HealthType = "grpc"
)

// Valid reports whether t is a known health check type.
func (t HealthType) Valid() bool {
	switch t {
	case HealthCmd, HealthTCP, HealthHTTP, HealthGRPC:
		return true
	}
	return false
}

// HealthCheck configures the periodic health probe for a service.
//
// The probe starts after StartPeriod has elapsed and runs at Interval
// cadence, each attempt bounded by Timeout. The first success marks the
// service healthy; Retries consecutive failures mark it failed.
type HealthCheck struct {
	// Type selects the probe mechanism. Defaults to "cmd" when Test is
	// set, otherwise "tcp".
	Type HealthType `json:"type,omitempty" yaml:"type,omitempty"`

	// Test is the probe command for cmd checks, as an argv vector.
	Test []string `json:"test,omitempty" yaml:"test,omitempty"`

	// Port is the host port probed by tcp/http/grpc checks. Defaults to
	// the service's first published host port.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Path is the HTTP GET path for http checks. Default "/".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Interval is the probe cadence. Default 10s.
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`

	// Timeout bounds a single probe attempt. Default 5s.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Retries is the number of consecutive failures after which the
	// service transitions to failed. Default 3.
	Retries int `json:"retries,omitempty" yaml:"retries,omitempty"`

	// StartPeriod is the grace period before the first probe. No probe is
	// attempted until it elapses, so nothing counts against Retries
	// during that window. Default 0.
	StartPeriod Duration `json:"start_period,omitempty" yaml:"start_period,omitempty"`
}
